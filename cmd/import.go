package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"QFMIngest/importer"

	"github.com/spf13/cobra"
)

var (
	importOwner int64
	watchDir    string
)

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "导入本地音频文件并排队上线",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx, needs{blobs: true, leaser: true})
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.blobs.EnsureContainer(ctx, a.containers.Uploads); err != nil {
			return err
		}
		imp := importer.New(a.database, a.blobs, a.leaser, a.containers)
		failed := 0
		for _, path := range args {
			track, err := imp.ImportFile(ctx, ownerFlag(cmd), path)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				continue
			}
			fmt.Printf("%s\t%s\n", track.ID, path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监听导入目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := watchDir
		if dir == "" {
			dir = cfg.ImportDir
		}
		if dir == "" {
			return fmt.Errorf("no import directory: pass --dir or set IMPORT_DIR")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := setup(ctx, needs{blobs: true, leaser: true})
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.blobs.EnsureContainer(ctx, a.containers.Uploads); err != nil {
			return err
		}
		w := importer.NewWatcher(dir, ownerFlag(cmd), importer.New(a.database, a.blobs, a.leaser, a.containers))
		return w.Watch(ctx)
	},
}

// ownerFlag prefers --owner over IMPORT_OWNER.
func ownerFlag(cmd *cobra.Command) int64 {
	if cmd.Flags().Changed("owner") {
		return importOwner
	}
	return cfg.ImportOwner
}

func init() {
	rootCmd.AddCommand(importCmd, watchCmd)
	for _, c := range []*cobra.Command{importCmd, watchCmd} {
		c.Flags().Int64VarP(&importOwner, "owner", "o", 0, "owner of the imported tracks (default IMPORT_OWNER)")
	}
	watchCmd.Flags().StringVarP(&watchDir, "dir", "d", "", "directory to watch (default IMPORT_DIR)")
}
