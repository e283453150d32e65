package repository

import (
	"context"

	"QFMIngest/config"
	"QFMIngest/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Seed upserts the quality presets and metadata field catalog by name.
func (r *gormDatabase) Seed(ctx context.Context, catalog *config.Catalog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range catalog.Presets {
			preset := model.QualityPreset{
				Name:      p.Name,
				Bitrate:   p.Bitrate,
				Args:      p.Args,
				Directory: p.Directory,
				Extension: p.Extension,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"bitrate", "args", "directory", "extension"}),
			}).Create(&preset).Error; err != nil {
				return err
			}
		}
		for _, f := range catalog.Fields {
			field := model.MetadataField{Name: f.Name, Writable: f.Writable, Searchable: f.Searchable}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"writable", "searchable"}),
			}).Create(&field).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
