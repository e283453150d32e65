package onboarding

import (
	"context"
	"errors"
	"fmt"

	"QFMIngest/lease"
	"QFMIngest/logger"
	"QFMIngest/model"
	"QFMIngest/storage"
)

// cancel undoes a failed onboarding: every quality blob (attempted or stored,
// original included), the transient upload, the staged files and the track row.
// If the row survives it is marked error. The lease is released either way.
func (o *Orchestrator) cancel(ctx context.Context, r *run, cause error) error {
	log := r.log.With(logger.String("stage", "rollback"))
	log.Warn("cancelling onboarding", logger.ErrorField(cause))

	var errs []error
	for _, p := range r.presets {
		if err := o.deleteBlob(ctx, log, o.Containers.Tracks, storage.TrackPath(p.Directory, r.track.ID)); err != nil {
			errs = append(errs, err)
		}
		if !p.IsOriginal() {
			if err := o.Stage.Delete(ctx, o.qualityOutput(r, p)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := o.deleteBlob(ctx, log, o.Containers.Uploads, storage.UploadPath(r.track.ID)); err != nil {
		errs = append(errs, err)
	}
	if err := o.Stage.Delete(ctx, r.source); err != nil {
		errs = append(errs, err)
	}

	var status *model.TrackStatus
	if err := o.deleteTrack(ctx, r); err != nil {
		errs = append(errs, err)
		log.Error("failed to delete track row, marking it as error", logger.ErrorField(err))
		status = lease.Status(model.StatusError)
	}
	if len(errs) > 0 {
		log.Error("rollback incomplete", logger.ErrorField(errors.Join(errs...)))
	}

	if err := o.release(ctx, r.held, status); err != nil && status != nil {
		// the leaser could not record the error status; try directly
		if serr := o.Database.SetTrackStatus(ctx, r.track.ID, model.StatusError); serr != nil {
			log.Error("failed to mark track as error", logger.ErrorField(serr))
		}
	}
	log.Info("onboarding cancelled")
	return fmt.Errorf("onboarding of %s cancelled: %w", r.track.ID, cause)
}

// discard removes a newcomer whose content the owner already has. It is not a
// failure.
func (o *Orchestrator) discard(ctx context.Context, r *run) error {
	log := r.log.With(logger.String("stage", "discard"))
	if err := o.deleteBlob(ctx, log, o.Containers.Uploads, storage.UploadPath(r.track.ID)); err != nil {
		log.Warn("failed to delete transient upload", logger.ErrorField(err))
	}
	if err := o.Stage.Delete(ctx, r.source); err != nil {
		log.Warn("failed to delete staged upload", logger.ErrorField(err))
	}
	var status *model.TrackStatus
	if err := o.deleteTrack(ctx, r); err != nil {
		log.Error("failed to delete duplicate track row", logger.ErrorField(err))
		status = lease.Status(model.StatusError)
	}
	if err := o.release(ctx, r.held, status); err != nil {
		return err
	}
	log.Info("duplicate upload discarded")
	return nil
}

// resetPartial clears what an interrupted attempt left behind so the
// pipeline can start over from staging.
func (o *Orchestrator) resetPartial(ctx context.Context, r *run) error {
	for _, p := range r.presets {
		if p.IsOriginal() {
			continue
		}
		if err := o.deleteBlob(ctx, r.log, o.Containers.Tracks, storage.TrackPath(p.Directory, r.track.ID)); err != nil {
			return fmt.Errorf("reset partial qualities: %w", err)
		}
		if err := o.Stage.Delete(ctx, o.qualityOutput(r, p)); err != nil {
			return fmt.Errorf("reset partial qualities: %w", err)
		}
	}
	if err := o.Database.DeleteAvailableQualities(ctx, r.track.ID); err != nil {
		return fmt.Errorf("reset partial qualities: %w", err)
	}
	return nil
}

func (o *Orchestrator) deleteTrack(ctx context.Context, r *run) error {
	attempt := 0
	return o.retryDelete(ctx, func(ctx context.Context) error {
		attempt++
		err := o.Database.DeleteTrack(ctx, r.track.ID)
		if err != nil {
			r.log.Warn("track delete failed, retrying",
				logger.Int("attempt", attempt), logger.ErrorField(err))
		}
		return err
	})
}
