package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	IntentCreateRemotePerson = "create_remote_person"

	IntentStatusPending = "pending"
	IntentStatusDone    = "done"
	IntentStatusFailed  = "failed"
)

// SyncIntent is the persisted step record for multi-step cross-system
// flows. The intent is written before the first remote call, so a partial
// failure leaves a pending row a background job can re-drive instead of a
// silently inconsistent pair of systems.
type SyncIntent struct {
	gorm.Model
	ConnectionID string `gorm:"uuid;not null;index"`
	Kind         string `gorm:"not null"`
	Payload      []byte `gorm:"not null"`
	Status       string `gorm:"not null;default:pending;index"`
	Attempts     int    `gorm:"not null;default:0"`
	LastError    string
	CompletedAt  *time.Time
}
