package repository

import (
	"context"
	"errors"

	"QFMIngest/model"

	"gorm.io/gorm"
)

// CreateTrack 创建曲目
func (r *gormDatabase) CreateTrack(ctx context.Context, track *model.Track) error {
	if track.Status == "" {
		track.Status = model.StatusInitial
	}
	return translate(r.db.WithContext(ctx).Create(track).Error)
}

// GetTrack 根据ID获取曲目，不存在时返回 nil
func (r *gormDatabase) GetTrack(ctx context.Context, id string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

// FindTrackByOwnerHash 查找同一用户下内容相同的其他曲目
func (r *gormDatabase) FindTrackByOwnerHash(ctx context.Context, ownerID int64, hash, excludeID string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND content_hash = ? AND id <> ?", ownerID, hash, excludeID).
		Order("created_at ASC").
		First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

// UpdateTrack 更新曲目的非空字段。哈希冲突返回 ErrDuplicateContent
func (r *gormDatabase) UpdateTrack(ctx context.Context, id string, u TrackUpdate) error {
	updates := map[string]interface{}{}
	if u.Status != nil {
		updates["status"] = *u.Status
	}
	if u.ContentHash != nil {
		updates["content_hash"] = *u.ContentHash
	}
	if u.Format != nil {
		updates["format"] = *u.Format
	}
	if u.Extension != nil {
		updates["extension"] = *u.Extension
	}
	if u.Bitrate != nil {
		updates["bitrate"] = *u.Bitrate
	}
	if u.Duration != nil {
		updates["duration"] = *u.Duration
	}
	if len(updates) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", id).
		Updates(updates).Error)
}

// SetTrackStatus 更新曲目状态
func (r *gormDatabase) SetTrackStatus(ctx context.Context, id string, status model.TrackStatus) error {
	return r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// DeleteTrack 删除曲目及其元数据、音质记录。曲目不存在时不报错
func (r *gormDatabase) DeleteTrack(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteTrackTx(tx, id)
	})
}

func deleteTrackTx(tx *gorm.DB, id string) error {
	if err := tx.Where("track_id = ?", id).Delete(&model.MetadataValue{}).Error; err != nil {
		return err
	}
	if err := tx.Where("track_id = ?", id).Delete(&model.AvailableQuality{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&model.Track{}).Error
}

// ListTracks 列出用户的曲目，ownerID 为 0 时列出全部
func (r *gormDatabase) ListTracks(ctx context.Context, ownerID int64, limit int) ([]*model.Track, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if ownerID != 0 {
		q = q.Where("owner_id = ?", ownerID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var tracks []*model.Track
	return tracks, q.Find(&tracks).Error
}
