package cmd

import (
	"fmt"
	"strconv"
	"time"

	"QFMIngest/storage"

	"github.com/spf13/cobra"
)

var (
	blobPrefix string
	blobStats  bool
	blobEnsure bool
)

var blobCmd = &cobra.Command{
	Use:   "blob [container]",
	Short: "对象存储管理",
	Long:  `列出容器中的对象、查看统计信息，或创建流水线需要的容器。默认作用于全部三个容器。`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fmt.Printf("对象存储: %s\n", cfg.BlobBackend)
		store, err := storage.New(ctx, cfg)
		if err != nil {
			return err
		}
		if c, ok := store.(interface{ Close() error }); ok {
			defer c.Close()
		}

		containers := storage.ContainersFrom(cfg).All()
		if len(args) == 1 {
			containers = []string{args[0]}
		}

		if blobEnsure {
			for _, c := range containers {
				if err := store.EnsureContainer(ctx, c); err != nil {
					return fmt.Errorf("ensure %s: %w", c, err)
				}
				fmt.Printf("容器已就绪: %s\n", c)
			}
			return nil
		}

		lister, ok := store.(storage.Lister)
		if !ok {
			return fmt.Errorf("backend %s cannot list objects", cfg.BlobBackend)
		}
		var statRows [][]string
		for _, c := range containers {
			objects, err := lister.List(ctx, c, blobPrefix)
			if err != nil {
				return fmt.Errorf("list %s: %w", c, err)
			}
			if blobStats {
				s := storage.Summarize(objects)
				last := "-"
				if !s.LastModified.IsZero() {
					last = s.LastModified.Format(time.RFC3339)
				}
				statRows = append(statRows, []string{c, strconv.FormatInt(s.TotalObjects, 10), formatSize(s.TotalSize), last})
				continue
			}
			rows := make([][]string, 0, len(objects))
			for _, o := range objects {
				rows = append(rows, []string{o.Key, formatSize(o.Size), o.ContentType, o.LastModified.Format(time.RFC3339)})
			}
			fmt.Printf("\n%s (%d)\n", c, len(objects))
			fmt.Println(renderTable([]string{"Key", "Size", "Type", "Modified"}, rows, 1))
		}
		if blobStats {
			fmt.Println(renderTable([]string{"Container", "Objects", "Size", "Last modified"}, statRows, 1, 2))
		}
		return nil
	},
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(blobCmd)
	blobCmd.Flags().StringVarP(&blobPrefix, "prefix", "p", "", "按前缀过滤对象")
	blobCmd.Flags().BoolVarP(&blobStats, "stats", "s", false, "显示容器统计信息")
	blobCmd.Flags().BoolVar(&blobEnsure, "ensure", false, "创建缺失的容器")

	blobCmd.Example = `  # 列出全部容器的对象
  qfm_ingest blob

  # 按前缀过滤 tracks 容器
  qfm_ingest blob tracks -p "mp3_320/"

  # 显示统计信息
  qfm_ingest blob -s

  # 创建容器
  qfm_ingest blob --ensure`
}
