package model

import "time"

// TrackStatus is the onboarding lifecycle of a track.
type TrackStatus string

const (
	StatusInitial            TrackStatus = "initial"
	StatusHashed             TrackStatus = "hashed"
	StatusMetadataExtracted  TrackStatus = "metadata_extracted"
	StatusQualitiesGenerated TrackStatus = "qualities_generated"
	StatusReady              TrackStatus = "ready"
	StatusError              TrackStatus = "error"
)

// Track represents an uploaded audio file in the library.
type Track struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     int64       `gorm:"not null;uniqueIndex:uq_owner_hash,priority:1" json:"ownerId"`
	ContentHash *string     `gorm:"size:64;uniqueIndex:uq_owner_hash,priority:2" json:"contentHash,omitempty"`
	Status      TrackStatus `gorm:"size:32;not null;index" json:"status"`
	Format      string      `gorm:"size:32" json:"format"`    // container/tag format, e.g. mp3, flac
	Extension   string      `gorm:"size:16" json:"extension"` // extension of the original upload
	Bitrate     int         `json:"bitrate"`                  // source bitrate in kbps
	Duration    float32     `json:"duration"`                 // seconds
	ArtID       *string     `gorm:"size:36;index" json:"artId,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
