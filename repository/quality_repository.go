package repository

import (
	"context"

	"QFMIngest/model"

	"gorm.io/gorm/clause"
)

// ListPresets 按 ID 顺序列出全部音质预设
func (r *gormDatabase) ListPresets(ctx context.Context) ([]model.QualityPreset, error) {
	var presets []model.QualityPreset
	err := r.db.WithContext(ctx).Order("id ASC").Find(&presets).Error
	return presets, err
}

// AddAvailableQuality 记录已生成的音质，重复插入被忽略
func (r *gormDatabase) AddAvailableQuality(ctx context.Context, trackID string, presetID uint) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.AvailableQuality{TrackID: trackID, QualityPresetID: presetID}).Error
}

// ListAvailableQualities 列出曲目已生成的音质
func (r *gormDatabase) ListAvailableQualities(ctx context.Context, trackID string) ([]model.AvailableQuality, error) {
	var rows []model.AvailableQuality
	err := r.db.WithContext(ctx).
		Where("track_id = ?", trackID).
		Order("quality_preset_id ASC").
		Find(&rows).Error
	return rows, err
}

// HasAvailableQuality 检查某个音质是否已记录
func (r *gormDatabase) HasAvailableQuality(ctx context.Context, trackID string, presetID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.AvailableQuality{}).
		Where("track_id = ? AND quality_preset_id = ?", trackID, presetID).
		Count(&count).Error
	return count > 0, err
}

// DeleteAvailableQualities 删除曲目的全部音质记录
func (r *gormDatabase) DeleteAvailableQualities(ctx context.Context, trackID string) error {
	return r.db.WithContext(ctx).
		Where("track_id = ?", trackID).
		Delete(&model.AvailableQuality{}).Error
}
