package model

import "time"

// WorkKind identifies one of the leased job kinds.
type WorkKind string

const (
	KindOnboarding    WorkKind = "onboarding"
	KindMetadataWrite WorkKind = "metadata_write"
	KindArtWrite      WorkKind = "art_write"
)

// WorkKinds lists every kind in a stable order.
var WorkKinds = []WorkKind{KindOnboarding, KindMetadataWrite, KindArtWrite}

// WorkItem is a pending or leased unit of work. (Kind, TrackID) is unique, so a
// track has at most one outstanding item, and therefore lease, per kind.
type WorkItem struct {
	ID       uint       `gorm:"primaryKey"`
	Kind     WorkKind   `gorm:"size:32;not null;uniqueIndex:uq_kind_track,priority:1"`
	TrackID  string     `gorm:"size:36;not null;uniqueIndex:uq_kind_track,priority:2"`
	Token    *string    `gorm:"size:36"`
	LeasedAt *time.Time `gorm:"index"`
	// Dirty marks an item enqueued again while leased; release requeues it.
	Dirty     bool
	CreatedAt time.Time `gorm:"index"`
}
