package service

import "errors"

var (
	// ErrCodeInvalid is returned when a pairing code is unknown, expired,
	// or already consumed.
	ErrCodeInvalid = errors.New("pairing code is invalid or expired")
	// ErrRemoteRejected is returned when the counterpart answered the
	// pairing request with a non-success response.
	ErrRemoteRejected = errors.New("counterpart rejected the pairing request")
	// ErrConnectionNotFound is returned when a connection is absent or not
	// owned by the caller.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrConnectionRevoked is returned when an operation needs an active
	// connection.
	ErrConnectionRevoked = errors.New("connection is revoked")
	// ErrPersonNotFound is returned when a person is absent or not owned
	// by the caller.
	ErrPersonNotFound = errors.New("person not found")
	// ErrSelfMerge is returned when primary and merged are the same person.
	ErrSelfMerge = errors.New("cannot merge a person into itself")
	// ErrConflictNotFound is returned when a conflict is absent or not
	// owned by the caller.
	ErrConflictNotFound = errors.New("conflict not found")
	// ErrConflictResolved is returned when resolving an already resolved
	// conflict.
	ErrConflictResolved = errors.New("conflict is already resolved")
	// ErrInvalidResolution is returned for a resolution other than
	// keep_local or accept_remote.
	ErrInvalidResolution = errors.New("resolution must be keep_local or accept_remote")
	// ErrMergeLogNotFound is returned when a merge log is absent or not
	// owned by the caller.
	ErrMergeLogNotFound = errors.New("merge log not found")
	// ErrMergeUndone is returned when undoing a merge twice.
	ErrMergeUndone = errors.New("merge is already undone")
	// ErrMissingField is returned when a required request field is empty.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidMappingAction is returned for a mapping entry action other
	// than link, create, or do_not_sync.
	ErrInvalidMappingAction = errors.New("mapping action must be link, create, or do_not_sync")
)
