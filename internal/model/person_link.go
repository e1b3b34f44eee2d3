package model

import "gorm.io/gorm"

const (
	LinkStatusLinked   = "linked"
	LinkStatusExcluded = "excluded"

	LinkSourceManual    = "manual"
	LinkSourceSuggested = "suggested"
	LinkSourceImport    = "import"
)

// ExcludedRemoteUID builds the sentinel counterpart value stored on
// do-not-sync links so the per-remote-uid uniqueness still holds.
func ExcludedRemoteUID(personUID string) string {
	return "excluded:" + personUID
}

// PersonLink maps a local person to a counterpart person UID for one
// connection. At most one active link per local person per connection, and
// at most one per remote UID per connection (strict 1:1).
type PersonLink struct {
	gorm.Model
	ConnectionID string `gorm:"uuid;not null;uniqueIndex:idx_links_connection_person;uniqueIndex:idx_links_connection_remote"`
	PersonID     uint   `gorm:"not null;uniqueIndex:idx_links_connection_person"`
	RemoteUID    string `gorm:"not null;uniqueIndex:idx_links_connection_remote"`
	Status       string `gorm:"not null;default:linked"`
	Source       string `gorm:"not null;default:manual"`
	Enabled      bool   `gorm:"not null;default:true"`
}

func (l *PersonLink) Syncing() bool {
	return l.Enabled && l.Status == LinkStatusLinked
}
