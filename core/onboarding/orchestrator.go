// Package onboarding turns a freshly uploaded track into a ready one: staging,
// hashing and dedup, tag extraction, art, the quality ladder and finalisation.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QFMIngest/core/audio"
	"QFMIngest/core/pipeline"
	"QFMIngest/core/stage"
	"QFMIngest/core/tags"
	"QFMIngest/lease"
	"QFMIngest/logger"
	"QFMIngest/model"
	"QFMIngest/repository"
	"QFMIngest/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Stage names used in logs, spans and wrapped errors.
const (
	stageFetch     = "stage"
	stageHash      = "hash"
	stageMetadata  = "metadata"
	stageArt       = "art"
	stageQualities = "qualities"
	stageFinalize  = "finalize"
)

// transferAttempts bounds retries of forward-path blob transfers. Rollback
// deletions use the configured limit instead.
const transferAttempts = 3

// errDuplicate signals that the newcomer must be discarded, not cancelled.
var errDuplicate = errors.New("duplicate upload")

// Deps 编排器依赖
type Deps struct {
	Database   repository.Database
	Blobs      storage.BlobStore
	Leaser     lease.Leaser
	Stage      *stage.Stage
	Transcoder audio.Transcoder
	Prober     audio.Prober
	Containers storage.Containers

	RetryInterval time.Duration
	RetryAttempts int // 0 = until the context ends
}

// Orchestrator runs onboarding for one leased track at a time.
type Orchestrator struct {
	Deps
	log    *zap.Logger
	tracer trace.Tracer
}

// New 创建上传编排器
func New(d Deps) *Orchestrator {
	if d.RetryInterval <= 0 {
		d.RetryInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		Deps:   d,
		log:    logger.Named("onboarding"),
		tracer: otel.Tracer("QFMIngest/onboarding"),
	}
}

// run carries the state of one onboarding attempt.
type run struct {
	held     *lease.Lease
	track    *model.Track
	presets  []model.QualityPreset
	original model.QualityPreset
	source   string
	meta     *tags.Metadata
	log      *zap.Logger
}

// Process onboards the leased track. A nil return means the track is ready or
// was discarded as a duplicate; any cancellation is reported as an error after
// the rollback has run.
func (o *Orchestrator) Process(ctx context.Context, held *lease.Lease) error {
	ctx, span := o.tracer.Start(ctx, "onboarding.process",
		trace.WithAttributes(attribute.String("track.id", held.TrackID)))
	defer span.End()

	log := o.log.With(logger.TrackID(held.TrackID), logger.String("kind", string(held.Kind)))

	track, err := o.Database.GetTrack(ctx, held.TrackID)
	if err != nil {
		// lease stays held and expires, so the item is retried
		return fmt.Errorf("load track %s: %w", held.TrackID, err)
	}
	if track == nil {
		log.Info("track no longer exists, dropping work item")
		return o.release(ctx, held, nil)
	}
	if track.Status == model.StatusReady {
		log.Info("track already ready")
		return o.release(ctx, held, nil)
	}

	// CheckCatalog runs at startup; a failure here leaves the lease to expire
	presets, original, err := o.catalog(ctx)
	if err != nil {
		return err
	}

	r := &run{
		held:     held,
		track:    track,
		presets:  presets,
		original: original,
		source:   o.Stage.Path(stage.KindOnboarding, track.ID),
		log:      log,
	}

	done, err := o.Database.HasAvailableQuality(ctx, track.ID, original.ID)
	if err != nil {
		return fmt.Errorf("check original quality: %w", err)
	}
	if done {
		log.Info("original already stored, resuming at finalize")
		return o.finishTail(ctx, r)
	}
	if track.Status != model.StatusInitial {
		log.Warn("resuming interrupted onboarding", logger.String("status", string(track.Status)))
		if err := o.resetPartial(ctx, r); err != nil {
			return err
		}
	}

	err = o.onboard(ctx, r)
	switch {
	case err == nil:
		return o.finishTail(ctx, r)
	case errors.Is(err, errDuplicate):
		return o.discard(ctx, r)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.cancel(ctx, r, err)
	}
}

// CheckCatalog verifies the quality catalog is loaded and has an original
// preset. Workers must not start without one.
func (o *Orchestrator) CheckCatalog(ctx context.Context) error {
	_, _, err := o.catalog(ctx)
	return err
}

func (o *Orchestrator) catalog(ctx context.Context) ([]model.QualityPreset, model.QualityPreset, error) {
	presets, err := o.Database.ListPresets(ctx)
	if err != nil {
		return nil, model.QualityPreset{}, fmt.Errorf("list presets: %w", err)
	}
	original, ok := audio.OriginalPreset(presets)
	if !ok {
		return nil, model.QualityPreset{}, audio.ErrNoOriginalPreset
	}
	return presets, original, nil
}

func (o *Orchestrator) onboard(ctx context.Context, r *run) error {
	steps := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{stageFetch, o.fetch},
		{stageHash, o.hash},
		{stageMetadata, o.extract},
		{stageArt, o.resolveArt},
		{stageQualities, o.generateQualities},
		{stageFinalize, o.finalize},
	}
	for _, s := range steps {
		if err := o.step(ctx, r, s.name, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// step runs one stage inside its own span and logs its outcome.
func (o *Orchestrator) step(ctx context.Context, r *run, name string, fn func(context.Context, *run) error) error {
	ctx, span := o.tracer.Start(ctx, "onboarding."+name)
	defer span.End()

	start := time.Now()
	log := r.log.With(logger.String("stage", name))
	log.Debug("stage started")
	if err := fn(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, errDuplicate) {
			log.Info("duplicate content for owner")
		} else {
			log.Warn("stage failed",
				logger.String("errorKind", string(pipeline.Classify(err))),
				logger.ErrorField(err))
		}
		return err
	}
	log.Info("stage finished", logger.Duration("elapsed", time.Since(start)))
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, r *run, status model.TrackStatus) error {
	if err := o.Database.SetTrackStatus(ctx, r.track.ID, status); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	r.track.Status = status
	return nil
}

func (o *Orchestrator) release(ctx context.Context, held *lease.Lease, status *model.TrackStatus) error {
	if err := lease.ReleaseOnboarding(ctx, o.Leaser, held, status); err != nil {
		o.log.Error("failed to release onboarding lease",
			logger.TrackID(held.TrackID), logger.ErrorField(err))
		return err
	}
	return nil
}

// retryDelete retries a rollback or cleanup delete until it succeeds, the
// configured attempts run out, or ctx ends.
func (o *Orchestrator) retryDelete(ctx context.Context, op func(context.Context) error) error {
	return pipeline.Retry(ctx, o.RetryInterval, o.RetryAttempts, op)
}

func (o *Orchestrator) retryTransfer(ctx context.Context, op func(context.Context) error) error {
	return pipeline.RetryTransient(ctx, o.RetryInterval, transferAttempts, op)
}

func (o *Orchestrator) deleteBlob(ctx context.Context, log *zap.Logger, container, path string) error {
	attempt := 0
	err := o.retryDelete(ctx, func(ctx context.Context) error {
		attempt++
		err := o.Blobs.Delete(ctx, container, path)
		if err != nil {
			log.Warn("blob delete failed, retrying",
				logger.String("container", container),
				logger.String("path", path),
				logger.Int("attempt", attempt),
				logger.ErrorField(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", container, path, err)
	}
	return nil
}

// qualityOutput is the staged encoder output for preset p.
func (o *Orchestrator) qualityOutput(r *run, p model.QualityPreset) string {
	return o.Stage.Path(stage.KindOnboarding, r.track.ID, p.Directory, p.Extension)
}
