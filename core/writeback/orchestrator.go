// Package writeback syncs library edits (tag values and art) back into the
// stored original of a track.
package writeback

import (
	"context"
	"errors"
	"fmt"
	"io"
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

const transferAttempts = 3

// Deps 写回编排器依赖
type Deps struct {
	Database   repository.Database
	Blobs      storage.BlobStore
	Leaser     lease.Leaser
	Stage      *stage.Stage
	Containers storage.Containers

	RetryInterval time.Duration
}

// Orchestrator applies pending metadata and art changes to original files.
type Orchestrator struct {
	Deps
	log    *zap.Logger
	tracer trace.Tracer
}

// New 创建写回编排器
func New(d Deps) *Orchestrator {
	if d.RetryInterval <= 0 {
		d.RetryInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		Deps:   d,
		log:    logger.Named("writeback"),
		tracer: otel.Tracer("QFMIngest/writeback"),
	}
}

// ProcessMetadata writes pending tag values, and the art too when an art
// item for the same track is waiting.
func (o *Orchestrator) ProcessMetadata(ctx context.Context, held *lease.Lease) error {
	return o.process(ctx, held)
}

// ProcessArt writes the track's current art, and pending tag values too when
// a metadata item for the same track is waiting.
func (o *Orchestrator) ProcessArt(ctx context.Context, held *lease.Lease) error {
	return o.process(ctx, held)
}

// Process dispatches on the lease kind.
func (o *Orchestrator) Process(ctx context.Context, held *lease.Lease) error {
	switch held.Kind {
	case model.KindMetadataWrite:
		return o.ProcessMetadata(ctx, held)
	case model.KindArtWrite:
		return o.ProcessArt(ctx, held)
	default:
		return fmt.Errorf("writeback cannot handle %s work", held.Kind)
	}
}

func companion(kind model.WorkKind) model.WorkKind {
	if kind == model.KindMetadataWrite {
		return model.KindArtWrite
	}
	return model.KindMetadataWrite
}

// job is one write-back pass over a staged original. It may cover both kinds.
type job struct {
	track    *model.Track
	leases   []*lease.Lease
	metadata bool
	art      bool
	staged   string
	log      *zap.Logger
}

func (o *Orchestrator) process(ctx context.Context, held *lease.Lease) error {
	ctx, span := o.tracer.Start(ctx, "writeback.process", trace.WithAttributes(
		attribute.String("track.id", held.TrackID),
		attribute.String("work.kind", string(held.Kind))))
	defer span.End()

	log := o.log.With(logger.TrackID(held.TrackID), logger.String("kind", string(held.Kind)))

	track, err := o.Database.GetTrack(ctx, held.TrackID)
	if err != nil {
		return fmt.Errorf("load track %s: %w", held.TrackID, err)
	}
	if track == nil {
		log.Info("track no longer exists, dropping work item")
		return o.releaseAll(ctx, log, []*lease.Lease{held})
	}
	switch track.Status {
	case model.StatusReady:
	case model.StatusError:
		// 上线失败的曲目不会再就绪
		log.Warn("track failed onboarding, dropping write-back")
		return o.releaseAll(ctx, log, []*lease.Lease{held})
	default:
		return o.deferItem(ctx, log, held, track.Status)
	}

	unlock, err := o.Stage.Lock(ctx, stage.KindWriteBack, track.ID)
	if err != nil {
		return fmt.Errorf("lock track %s: %w", track.ID, err)
	}
	defer func() {
		if uerr := unlock.Unlock(); uerr != nil {
			log.Warn("failed to release stage lock", logger.ErrorField(uerr))
		}
	}()

	j := &job{
		track:  track,
		leases: []*lease.Lease{held},
		staged: o.Stage.Path(stage.KindWriteBack, track.ID, track.Extension),
		log:    log,
	}
	j.setKind(held.Kind)
	if other := o.leaseCompanion(ctx, j, companion(held.Kind)); other != nil {
		j.leases = append(j.leases, other)
		j.setKind(other.Kind)
	}
	defer func() {
		_ = o.releaseAll(ctx, log, j.leases)
	}()

	err = o.run(ctx, j)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if pipeline.Permanent(err) {
		log.Warn("write-back abandoned", logger.String("errorKind", string(pipeline.Classify(err))), logger.ErrorField(err))
		o.clearPending(ctx, j)
		return err
	}
	log.Error("write-back failed, requeueing", logger.ErrorField(err))
	for _, l := range j.leases {
		// enqueueing a held item marks it for requeue on release
		if qerr := o.Leaser.Enqueue(ctx, l.Kind, l.TrackID); qerr != nil {
			log.Error("failed to requeue write-back", logger.ErrorField(qerr))
		}
	}
	return err
}

// deferItem requeues an item whose track is still onboarding. Enqueueing while
// the lease is held marks the item, so the release puts it back in the queue.
func (o *Orchestrator) deferItem(ctx context.Context, log *zap.Logger, held *lease.Lease, status model.TrackStatus) error {
	log.Info("track not ready, deferring write-back", logger.String("status", string(status)))
	if err := o.Leaser.Enqueue(ctx, held.Kind, held.TrackID); err != nil {
		// the lease still runs out and the item comes back
		return fmt.Errorf("requeue %s: %w", held, err)
	}
	if err := o.releaseAll(ctx, log, []*lease.Lease{held}); err != nil {
		return err
	}
	return fmt.Errorf("track %s is %s: %w", held.TrackID, status, pipeline.ErrDeferred)
}

// renewCompanions extends the leases the pool's heartbeat does not cover. A
// companion lost to another worker is dropped from the job; its change is
// still applied and the other worker finds nothing left to do.
func (o *Orchestrator) renewCompanions(ctx context.Context, j *job) {
	if len(j.leases) < 2 {
		return
	}
	kept := j.leases[:1]
	for _, l := range j.leases[1:] {
		err := o.Leaser.Renew(ctx, l)
		switch {
		case err == nil:
			kept = append(kept, l)
		case errors.Is(err, lease.ErrLeaseConflict):
			j.log.Warn("companion lease lost", logger.String("lease", l.String()))
		default:
			j.log.Warn("failed to renew companion lease", logger.String("lease", l.String()), logger.ErrorField(err))
			kept = append(kept, l)
		}
	}
	j.leases = kept
}

func (j *job) setKind(kind model.WorkKind) {
	switch kind {
	case model.KindMetadataWrite:
		j.metadata = true
	case model.KindArtWrite:
		j.art = true
	}
}

// leaseCompanion claims the other kind's pending item for the same track so
// both edits land in one rewrite of the file.
func (o *Orchestrator) leaseCompanion(ctx context.Context, j *job, kind model.WorkKind) *lease.Lease {
	pending, err := o.Leaser.Pending(ctx, kind, j.track.ID)
	if err != nil || !pending {
		return nil
	}
	other, err := o.Leaser.LeaseTrack(ctx, kind, j.track.ID)
	if err != nil {
		j.log.Warn("failed to lease companion item", logger.String("companion", string(kind)), logger.ErrorField(err))
		return nil
	}
	if other != nil {
		j.log.Info("combining write-back passes", logger.String("companion", string(kind)))
	}
	return other
}

func (o *Orchestrator) run(ctx context.Context, j *job) error {
	presets, err := o.Database.ListPresets(ctx)
	if err != nil {
		return fmt.Errorf("list presets: %w", err)
	}
	original, ok := audio.OriginalPreset(presets)
	if !ok {
		return audio.ErrNoOriginalPreset
	}
	blobPath := storage.TrackPath(original.Directory, j.track.ID)

	changes := tags.Changes{}
	var applied map[string]string
	if j.metadata {
		if applied, err = o.pendingFields(ctx, j, &changes); err != nil {
			return err
		}
	}
	if j.art {
		if err := o.artChange(ctx, j, &changes); err != nil {
			return err
		}
	}

	if !changes.Empty() {
		o.renewCompanions(ctx, j)
		if err := o.stageOriginal(ctx, j, blobPath); err != nil {
			return err
		}
		if err := tags.Write(j.staged, tags.Format(j.track.Format), changes); err != nil {
			o.dropStaged(ctx, j)
			return pipeline.Wrap(nil, "write", "apply tags", err)
		}
		o.renewCompanions(ctx, j)
		err := pipeline.RetryTransient(ctx, o.RetryInterval, transferAttempts, func(ctx context.Context) error {
			return storage.Upload(ctx, o.Blobs, o.Containers.Tracks, blobPath, j.staged, tags.Format(j.track.Format).ContentType())
		})
		if err != nil {
			return pipeline.Wrap(nil, "upload", "store original", err)
		}
		o.dropStaged(ctx, j)
		j.log.Info("original rewritten",
			logger.Int("fields", len(changes.Fields)),
			logger.Bool("picture", changes.Picture != nil),
			logger.Bool("clearPicture", changes.ClearPicture))
	}

	if j.metadata {
		if err := o.Database.ClearWriteOut(ctx, j.track.ID, applied); err != nil {
			return fmt.Errorf("clear write-out flags: %w", err)
		}
		if n, err := o.Database.PurgeEmptyMetadata(ctx, j.track.ID); err != nil {
			j.log.Warn("failed to purge empty metadata", logger.ErrorField(err))
		} else if n > 0 {
			j.log.Debug("purged empty metadata", logger.Int64("rows", n))
		}
	}
	return nil
}

func (o *Orchestrator) pendingFields(ctx context.Context, j *job, changes *tags.Changes) (map[string]string, error) {
	pending, err := o.Database.PendingWriteOut(ctx, j.track.ID)
	if err != nil {
		return nil, fmt.Errorf("load pending metadata: %w", err)
	}
	changes.Fields = make(map[tags.Field]string, len(pending))
	for name, value := range pending {
		f, ok := tags.FieldByName(name)
		if !ok {
			j.log.Debug("field has no tag mapping", logger.String("field", name))
			continue
		}
		changes.Fields[f] = value
	}
	return pending, nil
}

func (o *Orchestrator) artChange(ctx context.Context, j *job, changes *tags.Changes) error {
	if j.track.ArtID == nil {
		changes.ClearPicture = true
		return nil
	}
	art, err := o.Database.GetArt(ctx, *j.track.ArtID)
	if err != nil {
		return fmt.Errorf("load art: %w", err)
	}
	if art == nil {
		changes.ClearPicture = true
		return nil
	}
	rc, err := o.Blobs.Get(ctx, o.Containers.Art, storage.ArtPath(art.ID))
	if err != nil {
		return pipeline.Wrap(nil, "art", "fetch", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrTransientIO, "art", "read", err)
	}
	changes.Picture = &tags.Picture{
		Type:     tags.PictureFrontCover,
		MimeType: art.MimeType,
		Data:     data,
	}
	return nil
}

// stageOriginal downloads the stored original unless a copy is already staged.
func (o *Orchestrator) stageOriginal(ctx context.Context, j *job, blobPath string) error {
	if size, err := o.Stage.Size(j.staged); err == nil && size > 0 {
		j.log.Debug("reusing staged original")
		return nil
	}
	err := pipeline.RetryTransient(ctx, o.RetryInterval, transferAttempts, func(ctx context.Context) error {
		_, err := storage.Download(ctx, o.Blobs, o.Containers.Tracks, blobPath, j.staged)
		return err
	})
	if err != nil {
		return pipeline.Wrap(nil, "stage", "download original", err)
	}
	return nil
}

func (o *Orchestrator) dropStaged(ctx context.Context, j *job) {
	if err := o.Stage.Delete(ctx, j.staged); err != nil {
		j.log.Warn("failed to delete staged original", logger.ErrorField(err))
	}
}

// clearPending gives up on values that can never be written to this file.
func (o *Orchestrator) clearPending(ctx context.Context, j *job) {
	if !j.metadata {
		return
	}
	pending, err := o.Database.PendingWriteOut(ctx, j.track.ID)
	if err == nil {
		err = o.Database.ClearWriteOut(ctx, j.track.ID, pending)
	}
	if err != nil {
		j.log.Warn("failed to clear write-out flags", logger.ErrorField(err))
		return
	}
	if _, err := o.Database.PurgeEmptyMetadata(ctx, j.track.ID); err != nil {
		j.log.Warn("failed to purge empty metadata", logger.ErrorField(err))
	}
}

func (o *Orchestrator) releaseAll(ctx context.Context, log *zap.Logger, leases []*lease.Lease) error {
	var errs []error
	for _, l := range leases {
		var err error
		if l.Kind == model.KindArtWrite {
			err = lease.ReleaseArtWrite(ctx, o.Leaser, l)
		} else {
			err = lease.ReleaseMetadataWrite(ctx, o.Leaser, l)
		}
		if err != nil {
			log.Error("failed to release write-back lease", logger.String("lease", l.String()), logger.ErrorField(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
