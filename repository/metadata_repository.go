package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"QFMIngest/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListFields 列出元数据字段目录
func (r *gormDatabase) ListFields(ctx context.Context) ([]model.MetadataField, error) {
	var fields []model.MetadataField
	err := r.db.WithContext(ctx).Order("id ASC").Find(&fields).Error
	return fields, err
}

func (r *gormDatabase) fieldsByName(tx *gorm.DB) (map[string]model.MetadataField, error) {
	var fields []model.MetadataField
	if err := tx.Find(&fields).Error; err != nil {
		return nil, err
	}
	out := make(map[string]model.MetadataField, len(fields))
	for _, f := range fields {
		out[f.Name] = f
	}
	return out, nil
}

// SaveMetadata stores extracted values as already materialised in the file.
// Names missing from the catalog are skipped and returned in sorted order.
func (r *gormDatabase) SaveMetadata(ctx context.Context, trackID string, records map[string]string) ([]string, error) {
	var skipped []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields, err := r.fieldsByName(tx)
		if err != nil {
			return err
		}
		now := time.Now()
		rows := make([]model.MetadataValue, 0, len(records))
		for name, value := range records {
			f, ok := fields[name]
			if !ok {
				skipped = append(skipped, name)
				continue
			}
			if strings.TrimSpace(value) == "" {
				continue
			}
			rows = append(rows, model.MetadataValue{TrackID: trackID, FieldID: f.ID, Value: value, UpdatedAt: now})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "track_id"}, {Name: "field_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "write_out", "updated_at"}),
		}).Create(&rows).Error
	})
	sort.Strings(skipped)
	return skipped, err
}

// GetMetadata 返回曲目的全部元数据 name -> value
func (r *gormDatabase) GetMetadata(ctx context.Context, trackID string) (map[string]string, error) {
	return r.metadataQuery(ctx, trackID, false)
}

// SetMetadataValue 设置单个字段的值并标记为待写回文件
func (r *gormDatabase) SetMetadataValue(ctx context.Context, trackID, field, value string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f model.MetadataField
		if err := tx.Where("name = ?", field).First(&f).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: %s", ErrUnknownField, field)
			}
			return err
		}
		row := model.MetadataValue{TrackID: trackID, FieldID: f.ID, Value: value, WriteOut: true, UpdatedAt: time.Now()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "track_id"}, {Name: "field_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "write_out", "updated_at"}),
		}).Create(&row).Error
	})
}

// PendingWriteOut 返回待写回文件、且字段可写的值
func (r *gormDatabase) PendingWriteOut(ctx context.Context, trackID string) (map[string]string, error) {
	return r.metadataQuery(ctx, trackID, true)
}

func (r *gormDatabase) metadataQuery(ctx context.Context, trackID string, pendingOnly bool) (map[string]string, error) {
	type row struct {
		Name  string
		Value string
	}
	q := r.db.WithContext(ctx).
		Table("metadata_values").
		Select("metadata_fields.name AS name, metadata_values.value AS value").
		Joins("JOIN metadata_fields ON metadata_fields.id = metadata_values.field_id").
		Where("metadata_values.track_id = ?", trackID)
	if pendingOnly {
		q = q.Where("metadata_values.write_out = ? AND metadata_fields.writable = ?", true, true)
	}
	var rows []row
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, rw := range rows {
		out[rw.Name] = rw.Value
	}
	return out, nil
}

// ClearWriteOut clears the pending flag of values that still equal what was
// written, so an edit made during the write stays pending.
func (r *gormDatabase) ClearWriteOut(ctx context.Context, trackID string, applied map[string]string) error {
	if len(applied) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields, err := r.fieldsByName(tx)
		if err != nil {
			return err
		}
		for name, value := range applied {
			f, ok := fields[name]
			if !ok {
				continue
			}
			if err := tx.Model(&model.MetadataValue{}).
				Where("track_id = ? AND field_id = ? AND value = ?", trackID, f.ID, value).
				Update("write_out", false).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeEmptyMetadata removes values that are empty or whitespace and no
// longer pending. An empty trackID purges across all tracks.
func (r *gormDatabase) PurgeEmptyMetadata(ctx context.Context, trackID string) (int64, error) {
	q := r.db.WithContext(ctx).
		Where("TRIM(value) = '' AND write_out = ?", false)
	if trackID != "" {
		q = q.Where("track_id = ?", trackID)
	}
	res := q.Delete(&model.MetadataValue{})
	return res.RowsAffected, res.Error
}
