// Package lease hands out exclusive, expiring claims on queued work items.
// A track has at most one outstanding lease per work kind.
package lease

import (
	"context"
	"fmt"
	"time"

	"QFMIngest/config"
	"QFMIngest/core/pipeline"
	"QFMIngest/model"
	"QFMIngest/repository"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ErrLeaseConflict is returned when a renew or release does not match the held lease.
var ErrLeaseConflict = pipeline.ErrLeaseConflict

// Lease is a held claim on one work item.
type Lease struct {
	Kind     model.WorkKind
	TrackID  string
	Token    string
	LeasedAt time.Time
}

func (l *Lease) String() string {
	if l == nil {
		return "<nil lease>"
	}
	return fmt.Sprintf("%s/%s", l.Kind, l.TrackID)
}

// Stats counts queued and leased items per kind.
type Stats struct {
	Pending int64 `json:"pending"`
	Leased  int64 `json:"leased"`
}

// Leaser 工作租约接口
type Leaser interface {
	// Enqueue adds an item for (kind, trackID). Enqueueing an item that is already
	// pending is a no-op; enqueueing one that is leased requeues it on release.
	Enqueue(ctx context.Context, kind model.WorkKind, trackID string) error
	// Lease claims the oldest available item of kind, or returns nil when none is.
	Lease(ctx context.Context, kind model.WorkKind) (*Lease, error)
	// LeaseTrack claims the item of kind for trackID if it is pending.
	LeaseTrack(ctx context.Context, kind model.WorkKind, trackID string) (*Lease, error)
	// Pending reports whether an unleased item of kind exists for trackID.
	Pending(ctx context.Context, kind model.WorkKind, trackID string) (bool, error)
	Renew(ctx context.Context, l *Lease) error
	// Release drops the item and, when status is non-nil, moves the track to it.
	Release(ctx context.Context, l *Lease, status *model.TrackStatus) error
	Stats(ctx context.Context) (map[model.WorkKind]Stats, error)
}

func LeaseOnboarding(ctx context.Context, l Leaser) (*Lease, error) {
	return l.Lease(ctx, model.KindOnboarding)
}

func LeaseMetadataWrite(ctx context.Context, l Leaser) (*Lease, error) {
	return l.Lease(ctx, model.KindMetadataWrite)
}

func LeaseArtWrite(ctx context.Context, l Leaser) (*Lease, error) {
	return l.Lease(ctx, model.KindArtWrite)
}

// ReleaseOnboarding ends an onboarding lease; status is nil when the track row is gone.
func ReleaseOnboarding(ctx context.Context, l Leaser, held *Lease, status *model.TrackStatus) error {
	return l.Release(ctx, held, status)
}

// ReleaseMetadataWrite ends a metadata write-back lease. Write-back never changes status.
func ReleaseMetadataWrite(ctx context.Context, l Leaser, held *Lease) error {
	return l.Release(ctx, held, nil)
}

// ReleaseArtWrite ends an art write-back lease.
func ReleaseArtWrite(ctx context.Context, l Leaser, held *Lease) error {
	return l.Release(ctx, held, nil)
}

// Status returns a pointer to s, for Release.
func Status(s model.TrackStatus) *model.TrackStatus {
	return &s
}

// New 根据配置创建租约后端。redis 后端需要 rdb，数据库后端需要 gdb
func New(cfg *config.Config, gdb *gorm.DB, rdb *redis.Client, database repository.Database) (Leaser, error) {
	switch cfg.LeaserBackend {
	case "", "db":
		if gdb == nil {
			return nil, fmt.Errorf("db leaser requires a database connection")
		}
		return NewDBLeaser(gdb, cfg.LeaseTTL), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis leaser requires a redis client")
		}
		return NewRedisLeaser(rdb, database, cfg.LeaseTTL), nil
	default:
		return nil, fmt.Errorf("unknown leaser backend %q", cfg.LeaserBackend)
	}
}
