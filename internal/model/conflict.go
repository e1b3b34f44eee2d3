package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	ResolutionKeepLocal    = "keep_local"
	ResolutionAcceptRemote = "accept_remote"
)

// Conflict records a concurrent edit detected during push apply: the local
// copy was modified strictly after the incoming snapshot, so the write was
// skipped and both snapshots were kept for a manual decision. A conflict is
// data, not an error; it never fails the enclosing push.
type Conflict struct {
	gorm.Model
	ConnectionID  string `gorm:"uuid;not null;index"`
	EntityType    string `gorm:"not null"`
	EntityUID     string `gorm:"uuid;not null"`
	LocalPayload  []byte `gorm:"not null"`
	RemotePayload []byte `gorm:"not null"`
	// Resolution stays empty while the conflict is open.
	Resolution string
	ResolvedAt *time.Time
}

func (c *Conflict) Open() bool {
	return c.Resolution == ""
}
