package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	ConnectionStatusActive  = "active"
	ConnectionStatusRevoked = "revoked"
)

// Connection is the durable record of a paired counterpart application.
// Secret is the raw shared secret exchanged at pairing time and is used
// directly as the HMAC signing key for every call across this connection.
// PeerConnectionID is the counterpart's own id for the same pairing, used
// to address signed calls to it.
type Connection struct {
	gorm.Model
	ID               string `gorm:"primaryKey;uuid;not null;"`
	UserID           uint   `gorm:"not null;index"`
	PeerApp          string `gorm:"not null"`
	PeerBaseURL      string `gorm:"not null"`
	PeerConnectionID string `gorm:"uuid;not null"`
	Secret           string `gorm:"not null"`
	Status           string `gorm:"not null;default:active;index"`
	RevokedAt        *time.Time
}

func (c *Connection) Active() bool {
	return c.Status == ConnectionStatusActive
}
