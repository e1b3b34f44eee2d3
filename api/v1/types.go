// Package v1 defines the wire types exchanged between two paired
// applications. Signed requests carry a hex HMAC-SHA256 signature over the
// exact raw body bytes plus the receiver-side connection id, both as
// headers, so these structs must round-trip through encoding/json without
// surprises.
package v1

import (
	"encoding/json"
	"time"
)

const (
	// HeaderSignature carries the hex HMAC-SHA256 of the raw request body.
	HeaderSignature = "X-Sync-Signature"
	// HeaderConnection carries the receiver's connection id. Both sides
	// exchange their connection ids at pairing time, so inbound auth is a
	// direct lookup, never a scan over all active secrets.
	HeaderConnection = "X-Sync-Connection"
)

// Event is one outbox entry on the wire. Payload is the full entity
// snapshot at mutation time.
type Event struct {
	ID         uint64          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityUID  string          `json:"entity_uid"`
	Op         string          `json:"op"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// PersonSnapshot is the person payload carried by person events and by the
// people listing/creation endpoints.
type PersonSnapshot struct {
	UID               string    `json:"uid"`
	Name              string    `json:"name"`
	RelationshipLabel string    `json:"relationship_label,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// MomentSnapshot is the moment payload carried by moment events.
// OwnerPersonUID and ParticipantUIDs are in the sender's person UID space
// and are translated through the person link table on apply.
type MomentSnapshot struct {
	UID             string     `json:"uid"`
	OwnerPersonUID  string     `json:"owner_person_uid"`
	Title           string     `json:"title"`
	Body            string     `json:"body,omitempty"`
	HappenedAt      *time.Time `json:"happened_at,omitempty"`
	ParticipantUIDs []string   `json:"participant_uids,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ConsumeCodeRequest is posted to the counterpart's pairing consume
// endpoint. It is authenticated by the one-time code itself, not a
// signature. InitiatorConnectionID is the id the caller generated for its
// side of the pairing so the receiver can address signed calls back.
type ConsumeCodeRequest struct {
	Code                  string `json:"code"`
	InitiatorApp          string `json:"initiator_app"`
	InitiatorBaseURL      string `json:"initiator_base_url"`
	InitiatorConnectionID string `json:"initiator_connection_id"`
	SharedSecret          string `json:"shared_secret"`
}

type ConsumeCodeResponse struct {
	Success      bool   `json:"success"`
	RemoteUserID uint   `json:"remote_user_id"`
	ConnectionID string `json:"connection_id"`
}

type PullRequest struct {
	SinceOutboxID uint64 `json:"since_outbox_id"`
	Limit         int    `json:"limit"`
}

type PullResponse struct {
	Events       []Event `json:"events"`
	LastOutboxID uint64  `json:"last_outbox_id"`
}

type PushRequest struct {
	Events []Event `json:"events"`
}

// ConflictSummary reports one conflict recorded while applying a batch.
type ConflictSummary struct {
	EntityType string `json:"entity_type"`
	EntityUID  string `json:"entity_uid"`
	ConflictID uint   `json:"conflict_id"`
}

type PushResponse struct {
	Applied   int               `json:"applied"`
	Skipped   int               `json:"skipped"`
	Conflicts []ConflictSummary `json:"conflicts"`
}

type RevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RevokeResponse struct {
	OK             bool `json:"ok"`
	AlreadyRevoked bool `json:"already_revoked,omitempty"`
}

type ListPeopleRequest struct {
	Limit int `json:"limit"`
}

type ListPeopleResponse struct {
	People []PersonSnapshot `json:"people"`
}

type CreatePersonRequest struct {
	UID               string `json:"uid"`
	Name              string `json:"name"`
	RelationshipLabel string `json:"relationship_label,omitempty"`
}

type CreatePersonResponse struct {
	UID string `json:"uid"`
}

// ErrorResponse is the JSON error body for every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
