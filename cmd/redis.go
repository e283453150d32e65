package cmd

import (
	"fmt"
	"strconv"

	"QFMIngest/db"
	"QFMIngest/lease"
	"QFMIngest/model"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试并显示租约队列",
	Long:  `测试Redis连接是否成功，并显示 redis 租约后端中各类任务的排队和处理数量。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		rdb, err := db.ConnectRedis(ctx, cfg)
		if err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer rdb.Close()
		fmt.Println("Redis连接成功！")

		stats, err := lease.NewRedisLeaser(rdb, nil, cfg.LeaseTTL).Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Println(queueTable(stats))
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "显示当前租约后端的队列",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), needs{leaser: true})
		if err != nil {
			return err
		}
		defer a.close()
		stats, err := a.leaser.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("租约后端: %s\n", cfg.LeaserBackend)
		fmt.Println(queueTable(stats))
		return nil
	},
}

func queueTable(stats map[model.WorkKind]lease.Stats) string {
	rows := make([][]string, 0, len(model.WorkKinds))
	for _, k := range model.WorkKinds {
		s := stats[k]
		rows = append(rows, []string{string(k), strconv.FormatInt(s.Pending, 10), strconv.FormatInt(s.Leased, 10)})
	}
	return renderTable([]string{"Kind", "Pending", "Leased"}, rows, 1, 2)
}

func init() {
	rootCmd.AddCommand(redisCmd, queueCmd)
}
