package model

import "gorm.io/gorm"

const (
	// CursorDirectionPull tracks the highest counterpart outbox id this
	// side has pulled and applied.
	CursorDirectionPull = "pull"
	// CursorDirectionServe tracks the highest local outbox id already
	// served to the counterpart, bookkeeping only.
	CursorDirectionServe = "serve"
)

// SyncCursor is the per-connection, per-direction watermark enabling
// incremental sync. A racing update is last-writer-wins; the worst case is
// a redundant re-pull, never loss.
type SyncCursor struct {
	gorm.Model
	ConnectionID string `gorm:"uuid;not null;uniqueIndex:idx_cursors_connection_direction"`
	UserID       uint   `gorm:"not null"`
	Direction    string `gorm:"not null;uniqueIndex:idx_cursors_connection_direction"`
	LastOutboxID uint64 `gorm:"not null;default:0"`
}
