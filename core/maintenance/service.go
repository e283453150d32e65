// Package maintenance runs the periodic cleanup jobs: empty metadata rows,
// unreferenced art and stale stage files.
package maintenance

import (
	"context"
	"sync"
	"time"

	"QFMIngest/core/stage"
	"QFMIngest/logger"
	"QFMIngest/repository"
	"QFMIngest/storage"

	"go.uber.org/zap"
)

// Config 维护任务配置
type Config struct {
	Interval    time.Duration
	StageMaxAge time.Duration
	// ArtGrace keeps freshly created art that has not been linked yet.
	ArtGrace time.Duration
}

// DefaultConfig 默认维护配置
var DefaultConfig = Config{
	Interval:    time.Hour,
	StageMaxAge: 24 * time.Hour,
	ArtGrace:    time.Hour,
}

// Report summarises one maintenance pass.
type Report struct {
	EmptyMetadata int64
	ArtPurged     int
	ArtBlobErrors int
	StageRemoved  int
}

// Service 维护服务
type Service struct {
	cfg        Config
	database   repository.Database
	blobs      storage.BlobStore
	stage      *stage.Stage
	containers storage.Containers
	now        func() time.Time
	log        *zap.Logger

	// 控制
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewService 创建维护服务
func NewService(cfg Config, database repository.Database, blobs storage.BlobStore, st *stage.Stage, containers storage.Containers) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.StageMaxAge <= 0 {
		cfg.StageMaxAge = DefaultConfig.StageMaxAge
	}
	if cfg.ArtGrace < 0 {
		cfg.ArtGrace = 0
	}
	return &Service{
		cfg:        cfg,
		database:   database,
		blobs:      blobs,
		stage:      st,
		containers: containers,
		now:        time.Now,
		log:        logger.Named("maintenance"),
		stopChan:   make(chan struct{}),
	}
}

// Start 启动维护服务，立即执行一次后按间隔执行
func (s *Service) Start() {
	s.log.Info("maintenance started", logger.Duration("interval", s.cfg.Interval))
	s.wg.Add(1)
	go s.loop()
}

// Stop 停止维护服务并等待当前一轮结束
func (s *Service) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.log.Info("maintenance stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs every cleanup job once. Failures are logged and do not
// stop the remaining jobs.
func (s *Service) RunOnce(ctx context.Context) Report {
	var rep Report

	n, err := s.database.PurgeEmptyMetadata(ctx, "")
	if err != nil {
		s.log.Warn("failed to purge empty metadata", logger.ErrorField(err))
	}
	rep.EmptyMetadata = n

	purged, err := s.database.PurgeUnreferencedArt(ctx, s.now().Add(-s.cfg.ArtGrace))
	if err != nil {
		s.log.Warn("failed to purge unreferenced art", logger.ErrorField(err))
	}
	rep.ArtPurged = len(purged)
	for _, id := range purged {
		// 行已删除，blob 删除失败只会留下孤儿对象
		if err := s.blobs.Delete(ctx, s.containers.Art, storage.ArtPath(id)); err != nil {
			rep.ArtBlobErrors++
			s.log.Warn("failed to delete art blob", logger.String("artId", id), logger.ErrorField(err))
		}
	}

	if s.stage != nil {
		removed, err := s.stage.CleanStale(s.cfg.StageMaxAge)
		if err != nil {
			s.log.Warn("failed to clean stage", logger.ErrorField(err))
		}
		rep.StageRemoved = removed
	}

	if rep.EmptyMetadata > 0 || rep.ArtPurged > 0 || rep.StageRemoved > 0 {
		s.log.Info("maintenance pass done",
			logger.Int64("emptyMetadata", rep.EmptyMetadata),
			logger.Int("artPurged", rep.ArtPurged),
			logger.Int("stageRemoved", rep.StageRemoved))
	}
	return rep
}
