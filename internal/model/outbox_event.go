package model

import "time"

const (
	EntityTypePerson = "person"
	EntityTypeMoment = "moment"

	OpUpsert = "upsert"
	OpDelete = "delete"
)

// OutboxEvent is one entry of the append-only per-connection mutation log.
// Rows are immutable once written; delivery to the counterpart is
// at-least-once, applying is idempotent by entity UID.
type OutboxEvent struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	ConnectionID string `gorm:"uuid;not null;index:idx_outbox_connection"`
	EntityType   string `gorm:"not null"`
	EntityUID    string `gorm:"uuid;not null;index"`
	Op           string `gorm:"not null"`
	// Payload is the full entity snapshot at mutation time, encoded with
	// the configured payload codec.
	Payload    []byte `gorm:"not null"`
	RecordedAt time.Time
}
