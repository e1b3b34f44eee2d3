package model

import (
	"time"

	"gorm.io/gorm"
)

// Person is a local person record. UID is the cross-system entity id and is
// stable across both paired applications; the numeric gorm id never leaves
// this process.
type Person struct {
	gorm.Model
	UID               string `gorm:"uuid;not null;uniqueIndex:idx_people_user_uid"`
	UserID            uint   `gorm:"not null;uniqueIndex:idx_people_user_uid"`
	Name              string `gorm:"not null"`
	RelationshipLabel string
	// EditedAt is the owning application's logical modification time. Sync
	// compares and carries this, never the gorm bookkeeping timestamps.
	EditedAt time.Time `gorm:"not null"`
	// MergedIntoID is set when the person was consolidated into another
	// person. Merged people are soft deleted, not erased.
	MergedIntoID *uint `gorm:"index"`
}

func (p *Person) TableName() string {
	return "people"
}
