package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QFMIngest/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimAttempts bounds how often a claim retries after losing a race for the same row.
const claimAttempts = 3

var errClaimRaced = errors.New("work item claimed concurrently")

// DBLeaser keeps work items in the work_items table and claims them in transactions.
type DBLeaser struct {
	db         *gorm.DB
	ttl        time.Duration
	skipLocked bool
	now        func() time.Time
}

// NewDBLeaser 创建基于数据库的租约器
func NewDBLeaser(db *gorm.DB, ttl time.Duration) *DBLeaser {
	name := db.Dialector.Name()
	return &DBLeaser{
		db:         db,
		ttl:        ttl,
		skipLocked: name == "mysql" || name == "postgres",
		now:        time.Now,
	}
}

// Enqueue 添加工作项
func (l *DBLeaser) Enqueue(ctx context.Context, kind model.WorkKind, trackID string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var items []model.WorkItem
		if err := tx.Where("kind = ? AND track_id = ?", kind, trackID).Limit(1).Find(&items).Error; err != nil {
			return fmt.Errorf("failed to look up work item: %w", err)
		}
		if len(items) == 1 {
			if items[0].Token == nil {
				return nil
			}
			res := tx.Model(&model.WorkItem{}).Where("id = ?", items[0].ID).Update("dirty", true)
			if res.Error != nil {
				return fmt.Errorf("failed to mark work item dirty: %w", res.Error)
			}
			if res.RowsAffected > 0 {
				return nil
			}
			// released in between, fall through and insert a fresh item
		}
		item := &model.WorkItem{Kind: kind, TrackID: trackID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(item).Error; err != nil {
			return fmt.Errorf("failed to enqueue work item: %w", err)
		}
		return nil
	})
}

// Lease 领取最早的可用工作项
func (l *DBLeaser) Lease(ctx context.Context, kind model.WorkKind) (*Lease, error) {
	return l.claim(ctx, kind, "")
}

// LeaseTrack 领取指定曲目的工作项
func (l *DBLeaser) LeaseTrack(ctx context.Context, kind model.WorkKind, trackID string) (*Lease, error) {
	return l.claim(ctx, kind, trackID)
}

func (l *DBLeaser) claim(ctx context.Context, kind model.WorkKind, trackID string) (*Lease, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		now := l.now()
		var held *Lease
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx.Where("kind = ?", kind).
				Where("(token IS NULL OR leased_at < ?)", now.Add(-l.ttl))
			if trackID != "" {
				q = q.Where("track_id = ?", trackID)
			}
			if l.skipLocked {
				q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			}
			var items []model.WorkItem
			if err := q.Order("created_at ASC").Order("id ASC").Limit(1).Find(&items).Error; err != nil {
				return err
			}
			if len(items) == 0 {
				return nil
			}
			item := items[0]

			token := uuid.NewString()
			upd := tx.Model(&model.WorkItem{}).Where("id = ?", item.ID)
			if item.Token == nil {
				upd = upd.Where("token IS NULL")
			} else {
				upd = upd.Where("token = ?", *item.Token)
			}
			res := upd.Updates(map[string]interface{}{"token": token, "leased_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errClaimRaced
			}
			held = &Lease{Kind: kind, TrackID: item.TrackID, Token: token, LeasedAt: now}
			return nil
		})
		if errors.Is(err, errClaimRaced) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lease %s work: %w", kind, err)
		}
		return held, nil
	}
	return nil, nil
}

// Pending 检查是否存在未被领取的工作项
func (l *DBLeaser) Pending(ctx context.Context, kind model.WorkKind, trackID string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&model.WorkItem{}).
		Where("kind = ? AND track_id = ?", kind, trackID).
		Where("(token IS NULL OR leased_at < ?)", l.now().Add(-l.ttl)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check pending work: %w", err)
	}
	return count > 0, nil
}

// Renew 续期租约
func (l *DBLeaser) Renew(ctx context.Context, held *Lease) error {
	now := l.now()
	res := l.db.WithContext(ctx).Model(&model.WorkItem{}).
		Where("kind = ? AND track_id = ? AND token = ?", held.Kind, held.TrackID, held.Token).
		Update("leased_at", now)
	if res.Error != nil {
		return fmt.Errorf("failed to renew lease %s: %w", held, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: renew %s", ErrLeaseConflict, held)
	}
	held.LeasedAt = now
	return nil
}

// Release 释放租约，删除工作项并可选地更新曲目状态
func (l *DBLeaser) Release(ctx context.Context, held *Lease, status *model.TrackStatus) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.WorkItem
		err := tx.Where("kind = ? AND track_id = ? AND token = ?", held.Kind, held.TrackID, held.Token).
			Take(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: release %s", ErrLeaseConflict, held)
		}
		if err != nil {
			return fmt.Errorf("failed to load work item: %w", err)
		}

		if item.Dirty {
			err = tx.Model(&model.WorkItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
				"token":     nil,
				"leased_at": nil,
				"dirty":     false,
			}).Error
		} else {
			err = tx.Delete(&model.WorkItem{}, item.ID).Error
		}
		if err != nil {
			return fmt.Errorf("failed to release work item: %w", err)
		}

		if status != nil {
			if err := tx.Model(&model.Track{}).Where("id = ?", held.TrackID).Update("status", *status).Error; err != nil {
				return fmt.Errorf("failed to set track status: %w", err)
			}
		}
		return nil
	})
}

// Stats 统计各类工作项
func (l *DBLeaser) Stats(ctx context.Context) (map[model.WorkKind]Stats, error) {
	type row struct {
		Kind model.WorkKind
		N    int64
	}
	var total, leased []row
	db := l.db.WithContext(ctx).Model(&model.WorkItem{})
	if err := db.Select("kind, COUNT(*) AS n").Group("kind").Scan(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count work items: %w", err)
	}
	err := l.db.WithContext(ctx).Model(&model.WorkItem{}).
		Select("kind, COUNT(*) AS n").
		Where("token IS NOT NULL AND leased_at >= ?", l.now().Add(-l.ttl)).
		Group("kind").
		Scan(&leased).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count leases: %w", err)
	}

	out := make(map[model.WorkKind]Stats, len(model.WorkKinds))
	for _, k := range model.WorkKinds {
		out[k] = Stats{}
	}
	for _, r := range leased {
		s := out[r.Kind]
		s.Leased = r.N
		out[r.Kind] = s
	}
	for _, r := range total {
		s := out[r.Kind]
		s.Pending = r.N - s.Leased
		out[r.Kind] = s
	}
	return out, nil
}
