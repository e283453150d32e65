package model

import "time"

// Art is an embedded picture shared by every track whose ArtID points at it.
type Art struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Hash      string    `gorm:"size:64;uniqueIndex;not null" json:"hash"`
	MimeType  string    `gorm:"size:64" json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
}
