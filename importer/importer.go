// Package importer turns local audio files into upload requests: a track row,
// the transient upload blob and an onboarding work item.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"QFMIngest/lease"
	"QFMIngest/logger"
	"QFMIngest/model"
	"QFMIngest/repository"
	"QFMIngest/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxFileSize 单个文件上限 (与上传接口一致)
const MaxFileSize = 100 << 20

var ErrTooLarge = errors.New("file too large")

// allowedExtensions lists the files the watcher picks up. Content is checked
// again by onboarding, which rejects anything it cannot identify.
var allowedExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
}

// Accepts reports whether a file name looks like importable audio.
func Accepts(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(base))]
	return ok
}

func contentType(name string) string {
	if ct, ok := allowedExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Importer 导入器
type Importer struct {
	database   repository.Database
	blobs      storage.BlobStore
	leaser     lease.Leaser
	containers storage.Containers
	log        *zap.Logger
}

// New 创建导入器
func New(database repository.Database, blobs storage.BlobStore, leaser lease.Leaser, containers storage.Containers) *Importer {
	return &Importer{
		database:   database,
		blobs:      blobs,
		leaser:     leaser,
		containers: containers,
		log:        logger.Named("importer"),
	}
}

// ImportFile registers path as an upload by owner and queues it for
// onboarding. It returns the new track.
func (i *Importer) ImportFile(ctx context.Context, owner int64, path string) (*model.Track, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}

	track := &model.Track{
		ID:      uuid.NewString(),
		OwnerID: owner,
		Status:  model.StatusInitial,
	}
	if err := i.database.CreateTrack(ctx, track); err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}
	log := i.log.With(logger.TrackID(track.ID), logger.String("file", path))

	if err := storage.Upload(ctx, i.blobs, i.containers.Uploads, storage.UploadPath(track.ID), path, contentType(path)); err != nil {
		i.abandon(ctx, log, track.ID)
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	if err := i.leaser.Enqueue(ctx, model.KindOnboarding, track.ID); err != nil {
		if derr := i.blobs.Delete(ctx, i.containers.Uploads, storage.UploadPath(track.ID)); derr != nil {
			log.Warn("failed to delete upload", logger.ErrorField(derr))
		}
		i.abandon(ctx, log, track.ID)
		return nil, fmt.Errorf("enqueue onboarding: %w", err)
	}

	log.Info("file imported", logger.Int64("bytes", info.Size()), logger.Int64("owner", owner))
	return track, nil
}

func (i *Importer) abandon(ctx context.Context, log *zap.Logger, trackID string) {
	if err := i.database.DeleteTrack(ctx, trackID); err != nil {
		log.Error("failed to delete abandoned track", logger.ErrorField(err))
	}
}
