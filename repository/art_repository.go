package repository

import (
	"context"
	"errors"
	"time"

	"QFMIngest/model"

	"gorm.io/gorm"
)

// FindArtByHash 按内容哈希查找封面，不存在时返回 nil
func (r *gormDatabase) FindArtByHash(ctx context.Context, hash string) (*model.Art, error) {
	var art model.Art
	err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&art).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &art, nil
}

// CreateArt inserts art unless a row with the same hash exists. It returns the
// row that ends up owning the hash and whether it was created by this call. A
// concurrent insert of the same hash is resolved by re-reading the winner.
func (r *gormDatabase) CreateArt(ctx context.Context, art *model.Art) (*model.Art, bool, error) {
	if existing, err := r.FindArtByHash(ctx, art.Hash); err != nil || existing != nil {
		return existing, false, err
	}
	err := r.db.WithContext(ctx).Create(art).Error
	if err == nil {
		return art, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}
	existing, findErr := r.FindArtByHash(ctx, art.Hash)
	if findErr != nil {
		return nil, false, findErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetArt 根据ID获取封面
func (r *gormDatabase) GetArt(ctx context.Context, id string) (*model.Art, error) {
	var art model.Art
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&art).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &art, nil
}

// SetTrackArt 关联曲目封面，artID 为 nil 时解除关联
func (r *gormDatabase) SetTrackArt(ctx context.Context, trackID string, artID *string) error {
	return r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", trackID).
		Update("art_id", artID).Error
}

// CountArtReferences 统计引用该封面的曲目数
func (r *gormDatabase) CountArtReferences(ctx context.Context, artID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("art_id = ?", artID).
		Count(&count).Error
	return count, err
}

// PurgeUnreferencedArt deletes art rows created before createdBefore that no
// track points at, and returns their ids so the blobs can be removed.
func (r *gormDatabase) PurgeUnreferencedArt(ctx context.Context, createdBefore time.Time) ([]string, error) {
	unreferenced := "NOT EXISTS (SELECT 1 FROM tracks WHERE tracks.art_id = arts.id)"

	var candidates []string
	err := r.db.WithContext(ctx).Model(&model.Art{}).
		Where("created_at < ?", createdBefore).
		Where(unreferenced).
		Pluck("id", &candidates).Error
	if err != nil {
		return nil, err
	}

	purged := make([]string, 0, len(candidates))
	for _, id := range candidates {
		// re-check per row so art linked since the scan survives
		res := r.db.WithContext(ctx).
			Where("id = ?", id).
			Where(unreferenced).
			Delete(&model.Art{})
		if res.Error != nil {
			return purged, res.Error
		}
		if res.RowsAffected == 1 {
			purged = append(purged, id)
		}
	}
	return purged, nil
}
