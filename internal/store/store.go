package store

import (
	"context"
	"time"

	"github.com/kinfolk/kinsync/internal/model"
)

type Store interface {
	PersonStore
	MomentStore
	ConnectionStore
	PairingCodeStore
	OutboxStore
	CursorStore
	LinkStore
	ConflictStore
	MergeStore
	IntentStore
	Transaction(ctx context.Context, f func(tx Store) error) error
	Migrate() error
}

type PersonStore interface {
	// CreatePerson creates a new person.
	CreatePerson(ctx context.Context, person *model.Person) error
	// GetPerson retrieves an active person by local id, scoped to a user.
	GetPerson(ctx context.Context, userID, id uint) (*model.Person, error)
	// GetPersonByUID retrieves an active person by cross-system UID.
	GetPersonByUID(ctx context.Context, userID uint, uid string) (*model.Person, error)
	// ListPeople lists active (not merged away) people for a user.
	ListPeople(ctx context.Context, userID uint, limit int) ([]*model.Person, error)
	// UpdatePerson saves the person.
	UpdatePerson(ctx context.Context, person *model.Person) error
	// MarkMerged soft deletes the person, recording the surviving person.
	MarkMerged(ctx context.Context, id, intoID uint) error
	// UnmarkMerged clears the merge markers and revives the person.
	UnmarkMerged(ctx context.Context, id uint) error
}

type MomentStore interface {
	CreateMoment(ctx context.Context, moment *model.Moment) error
	GetMomentByUID(ctx context.Context, userID uint, uid string) (*model.Moment, error)
	UpdateMoment(ctx context.Context, moment *model.Moment) error
	DeleteMoment(ctx context.Context, id uint) error
	// ListMomentsByOwner lists moments owned by a person.
	ListMomentsByOwner(ctx context.Context, personID uint) ([]*model.Moment, error)
	// RepointMoments moves ownership of every moment from one person to
	// another, returning the number moved.
	RepointMoments(ctx context.Context, fromPersonID, toPersonID uint) (int64, error)

	CreateParticipant(ctx context.Context, participant *model.MomentParticipant) error
	// ListParticipants lists the participant rows of a moment.
	ListParticipants(ctx context.Context, momentID uint) ([]*model.MomentParticipant, error)
	// ListParticipantsByPerson lists the participant rows of a person.
	ListParticipantsByPerson(ctx context.Context, personID uint) ([]*model.MomentParticipant, error)
	// ParticipantExists reports whether the person is already attached to
	// the moment.
	ParticipantExists(ctx context.Context, momentID, personID uint) (bool, error)
	RepointParticipant(ctx context.Context, id, toPersonID uint) error
	DeleteParticipant(ctx context.Context, id uint) error
	ReplaceParticipants(ctx context.Context, momentID uint, personIDs []uint) error
}

type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *model.Connection) error
	GetConnection(ctx context.Context, id string) (*model.Connection, error)
	// ListConnections lists a user's connections, newest first.
	ListConnections(ctx context.Context, userID uint) ([]*model.Connection, error)
	// ListActiveConnections lists every active connection, any owner. Used
	// by the periodic sync runner.
	ListActiveConnections(ctx context.Context) ([]*model.Connection, error)
	// RevokeConnection flips the connection to revoked. Idempotent; the
	// second return reports whether it was already revoked.
	RevokeConnection(ctx context.Context, id string, now time.Time) (bool, error)
}

type PairingCodeStore interface {
	CreatePairingCode(ctx context.Context, code *model.PairingCode) error
	// ConsumePairingCode marks an unconsumed, unexpired code consumed with
	// a single conditional update and returns it. Two concurrent callers
	// cannot both succeed.
	ConsumePairingCode(ctx context.Context, code string, now time.Time) (*model.PairingCode, error)
	// DeleteExpiredCodes removes expired unconsumed codes.
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

type OutboxStore interface {
	// AppendEvent appends one immutable event to a connection's log.
	AppendEvent(ctx context.Context, event *model.OutboxEvent) error
	// ListEventsAfter returns events with id > sinceID in ascending order,
	// capped at limit.
	ListEventsAfter(ctx context.Context, connectionID string, sinceID uint64, limit int) ([]*model.OutboxEvent, error)
	// HasEvent reports whether the connection's log already carries any
	// event for the entity.
	HasEvent(ctx context.Context, connectionID, entityType, entityUID string) (bool, error)
}

type CursorStore interface {
	// GetCursor returns the watermark for a direction, zero when absent.
	GetCursor(ctx context.Context, connectionID, direction string) (uint64, error)
	// SetCursor upserts the watermark. Racing writers are last-writer-wins.
	SetCursor(ctx context.Context, connectionID string, userID uint, direction string, lastOutboxID uint64) error
}

type LinkStore interface {
	// UpsertPersonLink creates or updates the link keyed by
	// (connection, person).
	UpsertPersonLink(ctx context.Context, link *model.PersonLink) error
	GetLinkByPerson(ctx context.Context, connectionID string, personID uint) (*model.PersonLink, error)
	GetLinkByRemoteUID(ctx context.Context, connectionID, remoteUID string) (*model.PersonLink, error)
	ListLinks(ctx context.Context, connectionID string) ([]*model.PersonLink, error)
	// ListLinksByPerson lists the person's links across all connections.
	ListLinksByPerson(ctx context.Context, personID uint) ([]*model.PersonLink, error)
	UpdatePersonLink(ctx context.Context, link *model.PersonLink) error
	DeleteLink(ctx context.Context, id uint) error
}

type ConflictStore interface {
	CreateConflict(ctx context.Context, conflict *model.Conflict) error
	GetConflict(ctx context.Context, id uint) (*model.Conflict, error)
	// ListOpenConflicts lists unresolved conflicts across a user's
	// connections.
	ListOpenConflicts(ctx context.Context, userID uint) ([]*model.Conflict, error)
	UpdateConflict(ctx context.Context, conflict *model.Conflict) error
}

type MergeStore interface {
	CreateMergeLog(ctx context.Context, log *model.MergeLog) error
	GetMergeLog(ctx context.Context, userID, id uint) (*model.MergeLog, error)
	UpdateMergeLog(ctx context.Context, log *model.MergeLog) error
}

type IntentStore interface {
	CreateIntent(ctx context.Context, intent *model.SyncIntent) error
	UpdateIntent(ctx context.Context, intent *model.SyncIntent) error
	// ListPendingIntents lists pending intents last touched before the
	// cutoff, oldest first.
	ListPendingIntents(ctx context.Context, before time.Time, limit int) ([]*model.SyncIntent, error)
}
