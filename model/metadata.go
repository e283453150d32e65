package model

import "time"

// MetadataField is a catalog entry describing a tag name.
type MetadataField struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Writable   bool   `json:"writable"`   // synced back into the audio file
	Searchable bool   `json:"searchable"` // indexed by library search
}

// MetadataValue holds a track's value for one field. WriteOut marks values that
// still have to be materialised in the file.
type MetadataValue struct {
	TrackID   string    `gorm:"primaryKey;size:36" json:"trackId"`
	FieldID   uint      `gorm:"primaryKey" json:"fieldId"`
	Value     string    `gorm:"type:text" json:"value"`
	WriteOut  bool      `gorm:"index" json:"writeOut"`
	UpdatedAt time.Time `json:"updatedAt"`
}
