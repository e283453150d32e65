package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QFMIngest/config"
	"QFMIngest/core/pipeline"
	"QFMIngest/model"

	"gorm.io/gorm"
)

// ErrUnknownField is returned when a metadata field name is not in the catalog.
var ErrUnknownField = errors.New("unknown metadata field")

// TrackUpdate lists the track columns to change. Nil members are left alone.
type TrackUpdate struct {
	Status      *model.TrackStatus
	ContentHash *string
	Format      *string
	Extension   *string
	Bitrate     *int
	Duration    *float32
}

// Database 是 pipeline 使用的数据访问门面
type Database interface {
	// 曲目
	CreateTrack(ctx context.Context, track *model.Track) error
	GetTrack(ctx context.Context, id string) (*model.Track, error)
	FindTrackByOwnerHash(ctx context.Context, ownerID int64, hash, excludeID string) (*model.Track, error)
	UpdateTrack(ctx context.Context, id string, update TrackUpdate) error
	SetTrackStatus(ctx context.Context, id string, status model.TrackStatus) error
	DeleteTrack(ctx context.Context, id string) error
	ListTracks(ctx context.Context, ownerID int64, limit int) ([]*model.Track, error)

	// 音质
	ListPresets(ctx context.Context) ([]model.QualityPreset, error)
	AddAvailableQuality(ctx context.Context, trackID string, presetID uint) error
	ListAvailableQualities(ctx context.Context, trackID string) ([]model.AvailableQuality, error)
	HasAvailableQuality(ctx context.Context, trackID string, presetID uint) (bool, error)
	DeleteAvailableQualities(ctx context.Context, trackID string) error

	// 封面
	FindArtByHash(ctx context.Context, hash string) (*model.Art, error)
	CreateArt(ctx context.Context, art *model.Art) (*model.Art, bool, error)
	GetArt(ctx context.Context, id string) (*model.Art, error)
	SetTrackArt(ctx context.Context, trackID string, artID *string) error
	CountArtReferences(ctx context.Context, artID string) (int64, error)
	PurgeUnreferencedArt(ctx context.Context, createdBefore time.Time) ([]string, error)

	// 元数据
	ListFields(ctx context.Context) ([]model.MetadataField, error)
	SaveMetadata(ctx context.Context, trackID string, records map[string]string) ([]string, error)
	GetMetadata(ctx context.Context, trackID string) (map[string]string, error)
	SetMetadataValue(ctx context.Context, trackID, field, value string) error
	PendingWriteOut(ctx context.Context, trackID string) (map[string]string, error)
	ClearWriteOut(ctx context.Context, trackID string, applied map[string]string) error
	PurgeEmptyMetadata(ctx context.Context, trackID string) (int64, error)

	// 参考数据
	AutoMigrate(ctx context.Context) error
	Seed(ctx context.Context, catalog *config.Catalog) error
}

// gormDatabase GORM 实现
type gormDatabase struct {
	db *gorm.DB
}

// NewGormDatabase 创建 GORM 数据访问门面
func NewGormDatabase(db *gorm.DB) Database {
	return &gormDatabase{db: db}
}

// translate maps driver errors onto the pipeline taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", pipeline.ErrDuplicateContent, err)
	default:
		return err
	}
}

// AutoMigrate 自动迁移全部模型
func (r *gormDatabase) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	return nil
}
