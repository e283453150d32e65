// Package worker runs the fixed-size onboarding and write-back worker pools.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"QFMIngest/core/pipeline"
	"QFMIngest/lease"
	"QFMIngest/logger"
	"QFMIngest/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes one leased work item. It owns the lease and is expected
// to release it; the pool only releases on panic.
type Handler interface {
	Process(ctx context.Context, held *lease.Lease) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, held *lease.Lease) error

func (f HandlerFunc) Process(ctx context.Context, held *lease.Lease) error {
	return f(ctx, held)
}

// Config 工作池配置
type Config struct {
	Onboarding   int
	WriteBack    int
	PollInterval time.Duration
	LeaseTTL     time.Duration // heartbeat renews every LeaseTTL/3; 0 disables it
}

// KindStats 每种任务的计数
type KindStats struct {
	Leased    int64 `json:"leased"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Deferred  int64 `json:"deferred"`
	Panics    int64 `json:"panics"`
	Renewals  int64 `json:"renewals"`
}

type counters struct {
	leased    atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	deferred  atomic.Int64
	panics    atomic.Int64
	renewals  atomic.Int64
}

func (c *counters) snapshot() KindStats {
	return KindStats{
		Leased:    c.leased.Load(),
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Deferred:  c.deferred.Load(),
		Panics:    c.panics.Load(),
		Renewals:  c.renewals.Load(),
	}
}

// Pool 工作池
type Pool struct {
	cfg        Config
	leaser     lease.Leaser
	onboarding Handler
	writeback  Handler
	counters   map[model.WorkKind]*counters
	running    atomic.Int32
	log        *zap.Logger
}

// New 创建工作池。writeback handles both metadata and art kinds.
func New(cfg Config, leaser lease.Leaser, onboarding, writeback Handler) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	p := &Pool{
		cfg:        cfg,
		leaser:     leaser,
		onboarding: onboarding,
		writeback:  writeback,
		counters:   make(map[model.WorkKind]*counters, len(model.WorkKinds)),
		log:        logger.Named("worker"),
	}
	for _, k := range model.WorkKinds {
		p.counters[k] = &counters{}
	}
	return p
}

// Run starts every worker and blocks until ctx is cancelled and each worker
// has finished the item it was processing.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if p.onboarding != nil {
		for i := 0; i < p.cfg.Onboarding; i++ {
			name := fmt.Sprintf("onboarding-%d", i+1)
			g.Go(func() error {
				return p.loop(ctx, name, []model.WorkKind{model.KindOnboarding}, p.onboarding)
			})
		}
	}
	if p.writeback != nil {
		for i := 0; i < p.cfg.WriteBack; i++ {
			name := fmt.Sprintf("writeback-%d", i+1)
			// 交替领取元数据和封面任务，起点错开
			kinds := []model.WorkKind{model.KindMetadataWrite, model.KindArtWrite}
			if i%2 == 1 {
				kinds[0], kinds[1] = kinds[1], kinds[0]
			}
			g.Go(func() error {
				return p.loop(ctx, name, kinds, p.writeback)
			})
		}
	}
	p.log.Info("worker pool started",
		logger.Int("onboarding", p.cfg.Onboarding),
		logger.Int("writeback", p.cfg.WriteBack),
		logger.Duration("pollInterval", p.cfg.PollInterval))
	err := g.Wait()
	p.log.Info("worker pool stopped")
	return err
}

// Stats returns a snapshot of the per-kind counters.
func (p *Pool) Stats() map[model.WorkKind]KindStats {
	out := make(map[model.WorkKind]KindStats, len(p.counters))
	for k, c := range p.counters {
		out[k] = c.snapshot()
	}
	return out
}

// Busy returns the number of workers currently processing an item.
func (p *Pool) Busy() int {
	return int(p.running.Load())
}

func (p *Pool) loop(ctx context.Context, name string, kinds []model.WorkKind, h Handler) error {
	log := p.log.With(logger.String("worker", name))
	next, idle := 0, 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		kind := kinds[next%len(kinds)]
		next++

		held, err := p.leaser.Lease(ctx, kind)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("failed to lease work", logger.String("kind", string(kind)), logger.ErrorField(err))
			p.sleep(ctx)
			continue
		}
		// 正在处理的任务不响应取消，包括回滚
		if held != nil && !p.handle(context.WithoutCancel(ctx), log, h, held) {
			idle = 0
			continue
		}
		// sleep only once every kind of this worker came back empty or deferred
		idle++
		if idle >= len(kinds) {
			idle = 0
			p.sleep(ctx)
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// handle processes one item and reports whether it was deferred.
func (p *Pool) handle(ctx context.Context, log *zap.Logger, h Handler, held *lease.Lease) (deferred bool) {
	c := p.counters[held.Kind]
	if c == nil {
		c = &counters{}
	}
	c.leased.Add(1)
	p.running.Add(1)
	defer p.running.Add(-1)

	log = log.With(logger.String("lease", held.String()))
	start := time.Now()

	hbCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if interval := p.cfg.LeaseTTL / 3; interval > 0 {
		wg.Add(1)
		go p.heartbeat(hbCtx, &wg, log, c, held, interval)
	}

	panicked, err := p.safeProcess(ctx, log, h, held)
	stop()
	wg.Wait()

	switch {
	case panicked:
		c.panics.Add(1)
		c.failed.Add(1)
	case errors.Is(err, pipeline.ErrDeferred):
		c.deferred.Add(1)
		log.Debug("work item deferred", logger.ErrorField(err))
		return true
	case err != nil:
		c.failed.Add(1)
		log.Warn("work item failed", logger.ErrorField(err), logger.Duration("elapsed", time.Since(start)))
	default:
		c.processed.Add(1)
		log.Debug("work item done", logger.Duration("elapsed", time.Since(start)))
	}
	return false
}

// safeProcess runs the handler and turns a panic into an error. The lease is
// released on panic; an onboarding track is left in the error status.
func (p *Pool) safeProcess(ctx context.Context, log *zap.Logger, h Handler, held *lease.Lease) (panicked bool, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicked = true
		err = fmt.Errorf("handler panic: %v", r)
		log.Error("handler panicked",
			logger.Any("panic", r),
			logger.String("stack", string(debug.Stack())))

		var status *model.TrackStatus
		if held.Kind == model.KindOnboarding {
			status = lease.Status(model.StatusError)
		}
		if rerr := p.leaser.Release(ctx, held, status); rerr != nil && !errors.Is(rerr, lease.ErrLeaseConflict) {
			log.Error("failed to release lease after panic", logger.ErrorField(rerr))
		}
	}()
	return false, h.Process(ctx, held)
}

// heartbeat keeps the lease alive while the handler runs.
func (p *Pool) heartbeat(ctx context.Context, wg *sync.WaitGroup, log *zap.Logger, c *counters, held *lease.Lease, interval time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.leaser.Renew(ctx, held)
			switch {
			case err == nil:
				c.renewals.Add(1)
			case errors.Is(err, lease.ErrLeaseConflict):
				// released by the handler already
				log.Debug("lease no longer held, heartbeat stopped")
				return
			case errors.Is(err, context.Canceled):
				return
			default:
				log.Warn("lease renewal failed", logger.ErrorField(err))
			}
		}
	}
}
