package model

import (
	"time"

	"gorm.io/gorm"
)

// Moment is a life-moment record owned by exactly one person. Like people,
// moments carry a UID shared with the counterpart application.
type Moment struct {
	gorm.Model
	UID        string `gorm:"uuid;not null;uniqueIndex:idx_moments_user_uid"`
	UserID     uint   `gorm:"not null;uniqueIndex:idx_moments_user_uid"`
	PersonID   uint   `gorm:"not null;index"`
	Title      string `gorm:"not null"`
	Body       string
	HappenedAt *time.Time
	// EditedAt is the owning application's logical modification time, the
	// timestamp the conflict rule compares.
	EditedAt time.Time `gorm:"not null"`
}

// MomentParticipant attaches an additional person to a moment beyond its
// owner. A person appears at most once per moment.
type MomentParticipant struct {
	ID       uint `gorm:"primaryKey"`
	MomentID uint `gorm:"not null;uniqueIndex:idx_moment_participants"`
	PersonID uint `gorm:"not null;uniqueIndex:idx_moment_participants"`
}
