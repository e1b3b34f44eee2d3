package model

import (
	"time"

	"gorm.io/gorm"
)

// PairingCode is a short-lived, single-use code a user hands to the
// counterpart to establish a connection. Consumption happens through a
// single conditional update so two concurrent consumers cannot both win.
type PairingCode struct {
	gorm.Model
	Code       string `gorm:"size:6;not null;uniqueIndex"`
	UserID     uint   `gorm:"not null;index"`
	ExpiresAt  time.Time `gorm:"not null"`
	ConsumedAt *time.Time
}

func (p *PairingCode) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
