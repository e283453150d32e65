package onboarding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"QFMIngest/core/audio"
	"QFMIngest/core/pipeline"
	"QFMIngest/core/tags"
	"QFMIngest/lease"
	"QFMIngest/logger"
	"QFMIngest/model"
	"QFMIngest/repository"
	"QFMIngest/storage"

	"github.com/google/uuid"
)

// fetch copies the transient upload into the onboarding stage.
func (o *Orchestrator) fetch(ctx context.Context, r *run) error {
	var size int64
	err := o.retryTransfer(ctx, func(ctx context.Context) error {
		n, err := storage.Download(ctx, o.Blobs, o.Containers.Uploads, storage.UploadPath(r.track.ID), r.source)
		size = n
		return err
	})
	if err != nil {
		return pipeline.Wrap(nil, stageFetch, "download upload", err)
	}
	r.log.Debug("upload staged", logger.Int64("bytes", size))
	return nil
}

// hash digests the staged file, rejects duplicates of the owner's tracks, and
// records format, bitrate and duration.
func (o *Orchestrator) hash(ctx context.Context, r *run) error {
	f, err := o.Stage.Open(r.source)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrTransientIO, stageHash, "open staged file", err)
	}
	defer f.Close()

	digest, err := audio.Hash(f)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrTransientIO, stageHash, "digest", err)
	}
	dup, err := o.Database.FindTrackByOwnerHash(ctx, r.track.OwnerID, digest, r.track.ID)
	if err != nil {
		return pipeline.Wrap(nil, stageHash, "dedup lookup", err)
	}
	if dup != nil {
		return fmt.Errorf("%w: same content as track %s", errDuplicate, dup.ID)
	}

	format, err := tags.Identify(f)
	if err != nil {
		return pipeline.Wrap(nil, stageHash, "identify", err)
	}
	probe, err := o.Prober.Probe(ctx, r.source)
	if err != nil {
		return pipeline.Wrap(nil, stageHash, "probe", err)
	}

	status := model.StatusHashed
	formatName := string(format)
	ext := format.Extension()
	err = o.Database.UpdateTrack(ctx, r.track.ID, repository.TrackUpdate{
		Status:      &status,
		ContentHash: &digest,
		Format:      &formatName,
		Extension:   &ext,
		Bitrate:     &probe.BitrateKbps,
		Duration:    &probe.Duration,
	})
	if errors.Is(err, pipeline.ErrDuplicateContent) {
		// another track of the owner won the race for this hash
		return fmt.Errorf("%w: %v", errDuplicate, err)
	}
	if err != nil {
		return pipeline.Wrap(nil, stageHash, "update track", err)
	}

	r.track.Status = status
	r.track.ContentHash = &digest
	r.track.Format = formatName
	r.track.Extension = ext
	r.track.Bitrate = probe.BitrateKbps
	r.track.Duration = probe.Duration
	r.log.Info("track identified",
		logger.String("format", formatName),
		logger.Int("bitrateKbps", probe.BitrateKbps),
		logger.Float64("duration", float64(probe.Duration)))
	return nil
}

// extract reads the embedded tags and stores them as metadata values.
func (o *Orchestrator) extract(ctx context.Context, r *run) error {
	meta, _, err := tags.Extract(r.source)
	if err != nil {
		return pipeline.Wrap(nil, stageMetadata, "read tags", err)
	}
	r.meta = meta

	skipped, err := o.Database.SaveMetadata(ctx, r.track.ID, meta.Records())
	if err != nil {
		return pipeline.Wrap(nil, stageMetadata, "save metadata", err)
	}
	if len(skipped) > 0 {
		r.log.Info("skipped fields missing from catalog", logger.String("fields", strings.Join(skipped, ",")))
	}
	return o.setStatus(ctx, r, model.StatusMetadataExtracted)
}

// resolveArt links the embedded picture, reusing an existing Art row with the
// same content hash.
func (o *Orchestrator) resolveArt(ctx context.Context, r *run) error {
	if r.meta == nil || r.meta.Picture == nil || len(r.meta.Picture.Data) == 0 {
		return nil
	}
	pic := r.meta.Picture
	digest := audio.HashBytes(pic.Data)

	art, err := o.Database.FindArtByHash(ctx, digest)
	if err != nil {
		return pipeline.Wrap(nil, stageArt, "lookup", err)
	}
	if art == nil {
		art, err = o.storeArt(ctx, r, pic, digest)
		if err != nil {
			return err
		}
	} else {
		r.log.Debug("reusing art", logger.String("artId", art.ID))
	}

	if err := o.Database.SetTrackArt(ctx, r.track.ID, &art.ID); err != nil {
		return pipeline.Wrap(nil, stageArt, "link", err)
	}
	r.track.ArtID = &art.ID
	return nil
}

func (o *Orchestrator) storeArt(ctx context.Context, r *run, pic *tags.Picture, digest string) (*model.Art, error) {
	mime := pic.MimeType
	if mime == "" || !strings.Contains(mime, "/") {
		mime = http.DetectContentType(pic.Data)
	}
	id := uuid.NewString()
	err := o.retryTransfer(ctx, func(ctx context.Context) error {
		return o.Blobs.Put(ctx, o.Containers.Art, storage.ArtPath(id), bytes.NewReader(pic.Data), int64(len(pic.Data)), mime)
	})
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrTransientIO, stageArt, "upload", err)
	}

	art, created, err := o.Database.CreateArt(ctx, &model.Art{ID: id, Hash: digest, MimeType: mime})
	if err != nil || !created {
		// lost the insert race or failed: our blob is not referenced by any row
		if derr := o.deleteBlob(ctx, r.log, o.Containers.Art, storage.ArtPath(id)); derr != nil {
			r.log.Warn("failed to remove orphaned art blob", logger.String("artId", id), logger.ErrorField(derr))
		}
	}
	if err != nil {
		return nil, pipeline.Wrap(nil, stageArt, "insert", err)
	}
	r.log.Info("art stored", logger.String("artId", art.ID), logger.Bool("created", created))
	return art, nil
}

// generateQualities encodes, uploads and records every selected preset.
func (o *Orchestrator) generateQualities(ctx context.Context, r *run) error {
	selected := audio.SelectQualities(r.track.Bitrate, r.presets)
	r.log.Info("qualities selected",
		logger.Int("count", len(selected)),
		logger.Int("sourceKbps", r.track.Bitrate))

	for _, p := range selected {
		out := o.qualityOutput(r, p)
		if err := o.Transcoder.Encode(ctx, r.source, p, out); err != nil {
			return pipeline.Wrap(nil, stageQualities, "encode "+p.Name, err)
		}
		path := storage.TrackPath(p.Directory, r.track.ID)
		err := o.retryTransfer(ctx, func(ctx context.Context) error {
			return storage.Upload(ctx, o.Blobs, o.Containers.Tracks, path, out, tags.ContentTypeForExtension(p.Extension))
		})
		if err != nil {
			return pipeline.Wrap(nil, stageQualities, "upload "+p.Name, err)
		}
		if err := o.Database.AddAvailableQuality(ctx, r.track.ID, p.ID); err != nil {
			return pipeline.Wrap(nil, stageQualities, "record "+p.Name, err)
		}
		if err := o.Stage.Delete(ctx, out); err != nil {
			r.log.Warn("failed to delete encoder output", logger.String("path", out), logger.ErrorField(err))
		}
		r.log.Debug("quality stored", logger.String("preset", p.Name))
	}
	return o.setStatus(ctx, r, model.StatusQualitiesGenerated)
}

// finalize stores the untouched original and records it.
func (o *Orchestrator) finalize(ctx context.Context, r *run) error {
	path := storage.TrackPath(r.original.Directory, r.track.ID)
	contentType := tags.Format(r.track.Format).ContentType()
	err := o.retryTransfer(ctx, func(ctx context.Context) error {
		return storage.Upload(ctx, o.Blobs, o.Containers.Tracks, path, r.source, contentType)
	})
	if err != nil {
		return pipeline.Wrap(nil, stageFinalize, "upload original", err)
	}
	if err := o.Database.AddAvailableQuality(ctx, r.track.ID, r.original.ID); err != nil {
		return pipeline.Wrap(nil, stageFinalize, "record original", err)
	}
	return nil
}

// finishTail runs once the original is stored: it drops the staged copy and
// the transient upload, then releases the lease as ready. Failures here never
// roll the track back.
func (o *Orchestrator) finishTail(ctx context.Context, r *run) error {
	if err := o.Stage.Delete(ctx, r.source); err != nil {
		r.log.Warn("failed to delete staged original", logger.ErrorField(err))
	}
	if err := o.deleteBlob(ctx, r.log, o.Containers.Uploads, storage.UploadPath(r.track.ID)); err != nil {
		r.log.Warn("failed to delete transient upload", logger.ErrorField(err))
	}
	if err := o.release(ctx, r.held, lease.Status(model.StatusReady)); err != nil {
		return err
	}
	r.log.Info("track ready")
	return nil
}
