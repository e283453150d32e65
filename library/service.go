// Package library holds the edit entry points of the music library: tag
// values and cover art. Edits are recorded in the database and queued for
// write-back into the stored original.
package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"QFMIngest/core/audio"
	"QFMIngest/lease"
	"QFMIngest/logger"
	"QFMIngest/model"
	"QFMIngest/repository"
	"QFMIngest/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxArtSize 封面图片上限
const MaxArtSize = 10 << 20

var (
	ErrTrackNotFound = errors.New("track not found")
	ErrNotImage      = errors.New("not an image")
)

// Service 曲库编辑服务
type Service struct {
	database   repository.Database
	blobs      storage.BlobStore
	leaser     lease.Leaser
	containers storage.Containers
	log        *zap.Logger
}

// NewService 创建曲库编辑服务
func NewService(database repository.Database, blobs storage.BlobStore, leaser lease.Leaser, containers storage.Containers) *Service {
	return &Service{
		database:   database,
		blobs:      blobs,
		leaser:     leaser,
		containers: containers,
		log:        logger.Named("library"),
	}
}

func (s *Service) track(ctx context.Context, trackID string) (*model.Track, error) {
	track, err := s.database.GetTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if track == nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	return track, nil
}

// SetTag stores a tag value and, for writable fields, queues it for the file.
// An empty value removes the tag.
func (s *Service) SetTag(ctx context.Context, trackID, field, value string) error {
	if _, err := s.track(ctx, trackID); err != nil {
		return err
	}
	fields, err := s.database.ListFields(ctx)
	if err != nil {
		return fmt.Errorf("list fields: %w", err)
	}
	var def *model.MetadataField
	for i := range fields {
		if fields[i].Name == field {
			def = &fields[i]
			break
		}
	}
	if def == nil {
		return fmt.Errorf("%w: %s", repository.ErrUnknownField, field)
	}

	if err := s.database.SetMetadataValue(ctx, trackID, field, value); err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	if !def.Writable {
		s.log.Debug("field is not written to files", logger.String("field", field))
		return nil
	}
	if err := s.leaser.Enqueue(ctx, model.KindMetadataWrite, trackID); err != nil {
		return fmt.Errorf("enqueue metadata write: %w", err)
	}
	s.log.Info("tag updated", logger.TrackID(trackID), logger.String("field", field))
	return nil
}

// SetArt replaces the track's cover with the image at path, reusing stored
// art with identical content. An empty path clears the cover.
func (s *Service) SetArt(ctx context.Context, trackID, path string) (*model.Art, error) {
	if _, err := s.track(ctx, trackID); err != nil {
		return nil, err
	}

	var art *model.Art
	if path != "" {
		data, err := readImage(path)
		if err != nil {
			return nil, err
		}
		if art, err = s.resolveArt(ctx, data); err != nil {
			return nil, err
		}
	}

	var artID *string
	if art != nil {
		artID = &art.ID
	}
	if err := s.database.SetTrackArt(ctx, trackID, artID); err != nil {
		return nil, fmt.Errorf("link art: %w", err)
	}
	if err := s.leaser.Enqueue(ctx, model.KindArtWrite, trackID); err != nil {
		return nil, fmt.Errorf("enqueue art write: %w", err)
	}
	s.log.Info("art updated", logger.TrackID(trackID), logger.Bool("cleared", art == nil))
	return art, nil
}

func readImage(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxArtSize {
		return nil, fmt.Errorf("image %s is %d bytes, limit is %d", path, info.Size(), MaxArtSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, path)
	}
	return data, nil
}

func (s *Service) resolveArt(ctx context.Context, data []byte) (*model.Art, error) {
	digest := audio.HashBytes(data)
	existing, err := s.database.FindArtByHash(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("lookup art: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	mime := http.DetectContentType(data)
	id := uuid.NewString()
	if err := s.blobs.Put(ctx, s.containers.Art, storage.ArtPath(id), bytes.NewReader(data), int64(len(data)), mime); err != nil {
		return nil, fmt.Errorf("upload art: %w", err)
	}
	art, created, err := s.database.CreateArt(ctx, &model.Art{ID: id, Hash: digest, MimeType: mime})
	if err != nil || !created {
		if derr := s.blobs.Delete(ctx, s.containers.Art, storage.ArtPath(id)); derr != nil {
			s.log.Warn("failed to remove orphaned art blob", logger.String("artId", id), logger.ErrorField(derr))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("insert art: %w", err)
	}
	return art, nil
}
