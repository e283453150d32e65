package model

import (
	"strings"
	"time"
)

// QualityPreset is one rung of the transcoding ladder. A nil Bitrate marks the
// untouched original upload.
type QualityPreset struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Bitrate   *int   `json:"bitrate,omitempty"`
	Args      string `gorm:"size:512" json:"args"`
	Directory string `gorm:"size:64;uniqueIndex;not null" json:"directory"`
	Extension string `gorm:"size:16" json:"extension"`
}

// IsOriginal reports whether the preset stands for the source file itself.
func (p QualityPreset) IsOriginal() bool {
	return p.Bitrate == nil
}

// ArgList splits the encoder argument template into process arguments.
func (p QualityPreset) ArgList() []string {
	return strings.Fields(p.Args)
}

// AvailableQuality records that a track variant was encoded and uploaded.
type AvailableQuality struct {
	TrackID         string    `gorm:"primaryKey;size:36" json:"trackId"`
	QualityPresetID uint      `gorm:"primaryKey" json:"qualityPresetId"`
	CreatedAt       time.Time `json:"createdAt"`
}
