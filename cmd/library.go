package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"QFMIngest/core/utils"
	"QFMIngest/library"

	"github.com/spf13/cobra"
)

var artClear bool

var tagCmd = &cobra.Command{
	Use:   "tag <trackId> <field> [value]",
	Short: "修改标签并排队写回文件",
	Long:  "Sets a tag value and queues it for write-back. Omitting the value removes the tag.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx, needs{leaser: true})
		if err != nil {
			return err
		}
		defer a.close()

		value := ""
		if len(args) == 3 {
			value = args[2]
		}
		svc := library.NewService(a.database, nil, a.leaser, a.containers)
		if err := svc.SetTag(ctx, args[0], args[1], value); err != nil {
			return err
		}
		fmt.Printf("%s: %s queued for write-back\n", args[0], args[1])
		return nil
	},
}

var artCmd = &cobra.Command{
	Use:   "art <trackId> [image|url]",
	Short: "替换或清除封面并排队写回文件",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 && !artClear {
			return fmt.Errorf("pass an image or --clear")
		}
		path := ""
		if len(args) == 2 {
			path = args[1]
		}
		ctx := cmd.Context()
		a, err := setup(ctx, needs{blobs: true, leaser: true})
		if err != nil {
			return err
		}
		defer a.close()

		if utils.IsURL(path) {
			tmp, err := os.MkdirTemp("", "qfm-art-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)
			local := filepath.Join(tmp, "cover")
			if err := utils.DownloadFile(ctx, path, local, library.MaxArtSize); err != nil {
				return err
			}
			path = local
		}

		svc := library.NewService(a.database, a.blobs, a.leaser, a.containers)
		art, err := svc.SetArt(ctx, args[0], path)
		if err != nil {
			return err
		}
		if art == nil {
			fmt.Printf("%s: art cleared\n", args[0])
		} else {
			fmt.Printf("%s: art %s (%s)\n", args[0], art.ID, art.MimeType)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tagCmd, artCmd)
	artCmd.Flags().BoolVar(&artClear, "clear", false, "remove the cover")
}
