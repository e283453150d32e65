package cmd

import (
	"context"
	"fmt"

	"QFMIngest/db"
	"QFMIngest/lease"
	"QFMIngest/logger"
	"QFMIngest/repository"
	"QFMIngest/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// app holds the connections a command needs.
type app struct {
	gdb        *gorm.DB
	rdb        *redis.Client
	database   repository.Database
	blobs      storage.BlobStore
	leaser     lease.Leaser
	containers storage.Containers
}

type needs struct {
	blobs  bool
	leaser bool
}

func setup(ctx context.Context, n needs) (*app, error) {
	a := &app{containers: storage.ContainersFrom(cfg)}

	gdb, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	a.gdb = gdb
	a.database = repository.NewGormDatabase(gdb)

	if n.blobs {
		if a.blobs, err = storage.New(ctx, cfg); err != nil {
			a.close()
			return nil, fmt.Errorf("blob store: %w", err)
		}
	}
	if n.leaser {
		if cfg.LeaserBackend == "redis" {
			if a.rdb, err = db.ConnectRedis(ctx, cfg); err != nil {
				a.close()
				return nil, err
			}
		}
		if a.leaser, err = lease.New(cfg, a.gdb, a.rdb, a.database); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) ping(ctx context.Context) error {
	sqlDB, err := a.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.Warn("关闭Redis连接时发生错误", logger.ErrorField(err))
		}
	}
	if c, ok := a.blobs.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close blob store", logger.ErrorField(err))
		}
	}
	if err := db.Close(a.gdb); err != nil {
		logger.Warn("failed to close database", logger.ErrorField(err))
	}
}
