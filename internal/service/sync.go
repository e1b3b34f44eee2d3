package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/client"
	"github.com/kinfolk/kinsync/internal/codec"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPullLimit = 100
	maxPullLimit     = 500
)

// NewSyncService creates a new SyncService.
func NewSyncService(store store.Store, peer client.Peer, payloadCodec codec.Codec) *SyncService {
	return &SyncService{
		store: store,
		peer:  peer,
		codec: payloadCodec,
	}
}

// SyncService owns the outbox log, the pull/push/run transport semantics,
// remote revocation, and the backfill reconciliation pass.
type SyncService struct {
	store store.Store
	peer  client.Peer
	codec codec.Codec
}

// RecordPersonChange appends an outbox event for every active connection
// on which the person is linked and enabled. The owning application calls
// this from its change hook whenever a person is saved or removed.
func (s *SyncService) RecordPersonChange(ctx context.Context, person *model.Person, op string) error {
	conns, err := s.store.ListConnections(ctx, person.UserID)
	if err != nil {
		return err
	}

	for _, conn := range conns {
		if !conn.Active() {
			continue
		}

		link, err := s.store.GetLinkByPerson(ctx, conn.ID, person.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !link.Syncing() {
			continue
		}

		if err := s.appendEvent(ctx, conn.ID, model.EntityTypePerson, person.UID, op, personSnapshot(person)); err != nil {
			return err
		}
	}

	return nil
}

// RecordMomentChange appends outbox events for a moment mutation on every
// connection where the moment's owner is linked and enabled.
func (s *SyncService) RecordMomentChange(ctx context.Context, moment *model.Moment, op string) error {
	conns, err := s.store.ListConnections(ctx, moment.UserID)
	if err != nil {
		return err
	}

	var snap *v1.MomentSnapshot
	for _, conn := range conns {
		if !conn.Active() {
			continue
		}

		link, err := s.store.GetLinkByPerson(ctx, conn.ID, moment.PersonID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !link.Syncing() {
			continue
		}

		if snap == nil {
			snap, err = s.momentSnapshot(ctx, moment)
			if err != nil {
				return err
			}
		}

		if err := s.appendEvent(ctx, conn.ID, model.EntityTypeMoment, moment.UID, op, snap); err != nil {
			return err
		}
	}

	return nil
}

func (s *SyncService) appendEvent(ctx context.Context, connectionID, entityType, entityUID, op string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	encoded, err := s.codec.Encode(raw)
	if err != nil {
		return err
	}

	return s.store.AppendEvent(ctx, &model.OutboxEvent{
		ConnectionID: connectionID,
		EntityType:   entityType,
		EntityUID:    entityUID,
		Op:           op,
		Payload:      encoded,
		RecordedAt:   time.Now(),
	})
}

// Pull serves outbox events newer than sinceID to the counterpart and
// advances the serve watermark. The watermark is bookkeeping only; events
// are immutable, so a racing pull merely re-reads.
func (s *SyncService) Pull(ctx context.Context, conn *model.Connection, sinceID uint64, limit int) (*v1.PullResponse, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}
	if limit > maxPullLimit {
		limit = maxPullLimit
	}

	rows, err := s.store.ListEventsAfter(ctx, conn.ID, sinceID, limit)
	if err != nil {
		return nil, err
	}

	events, last, err := s.decodeEvents(rows, sinceID)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetCursor(ctx, conn.ID, conn.UserID, model.CursorDirectionServe, last); err != nil {
		logrus.Errorf("error advancing serve watermark for connection %s: %v", conn.ID, err)
	}

	return &v1.PullResponse{Events: events, LastOutboxID: last}, nil
}

// decodeEvents turns stored outbox rows into wire events, expanding the
// at-rest payload encoding. The returned watermark is the highest row id
// seen, starting from sinceID.
func (s *SyncService) decodeEvents(rows []*model.OutboxEvent, sinceID uint64) ([]v1.Event, uint64, error) {
	events := make([]v1.Event, 0, len(rows))
	last := sinceID
	for _, row := range rows {
		payload, err := s.codec.Decode(row.Payload)
		if err != nil {
			return nil, last, err
		}

		events = append(events, v1.Event{
			ID:         row.ID,
			EntityType: row.EntityType,
			EntityUID:  row.EntityUID,
			Op:         row.Op,
			Payload:    payload,
			RecordedAt: row.RecordedAt,
		})
		if row.ID > last {
			last = row.ID
		}
	}
	return events, last, nil
}

// ApplyEvents applies a pushed batch. Application is idempotent by entity
// UID; conflicts are recorded data, never errors, and never block the rest
// of the batch.
func (s *SyncService) ApplyEvents(ctx context.Context, conn *model.Connection, events []v1.Event) (*v1.PushResponse, error) {
	res := &v1.PushResponse{Conflicts: make([]v1.ConflictSummary, 0)}

	for _, event := range events {
		switch event.EntityType {
		case model.EntityTypePerson:
			applied, err := s.applyPerson(ctx, conn, event)
			if err != nil {
				return nil, err
			}
			if applied {
				res.Applied++
			} else {
				res.Skipped++
			}

		case model.EntityTypeMoment:
			applied, conflict, err := s.applyMoment(ctx, conn, event)
			if err != nil {
				return nil, err
			}
			if conflict != nil {
				res.Conflicts = append(res.Conflicts, v1.ConflictSummary{
					EntityType: event.EntityType,
					EntityUID:  event.EntityUID,
					ConflictID: conflict.ID,
				})
				continue
			}
			if applied {
				res.Applied++
			} else {
				res.Skipped++
			}

		default:
			logrus.Warnf("skipping event %d with unknown entity type %q", event.ID, event.EntityType)
			res.Skipped++
		}
	}

	return res, nil
}

// applyPerson applies a person event. The incoming UID is translated
// through the link table first; an unmapped person is adopted by UID or
// created, and the link is recorded with source import so it shows up in
// the mapping views.
func (s *SyncService) applyPerson(ctx context.Context, conn *model.Connection, event v1.Event) (bool, error) {
	var snap v1.PersonSnapshot
	if err := json.Unmarshal(event.Payload, &snap); err != nil {
		logrus.Errorf("skipping person event %d with bad payload: %v", event.ID, err)
		return false, nil
	}

	link, err := s.store.GetLinkByRemoteUID(ctx, conn.ID, event.EntityUID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if link != nil && !link.Syncing() {
		return false, nil
	}

	var person *model.Person
	if link != nil {
		person, err = s.store.GetPerson(ctx, conn.UserID, link.PersonID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	}
	if person == nil {
		person, err = s.store.GetPersonByUID(ctx, conn.UserID, event.EntityUID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	}

	if event.Op == model.OpDelete {
		// people are never deleted by sync, ownership stays local
		return false, nil
	}

	if person == nil {
		person = &model.Person{
			UID:               event.EntityUID,
			UserID:            conn.UserID,
			Name:              snap.Name,
			RelationshipLabel: snap.RelationshipLabel,
			EditedAt:          snap.UpdatedAt,
		}
		if err := s.store.CreatePerson(ctx, person); err != nil {
			return false, err
		}
	} else {
		if !snap.UpdatedAt.After(person.EditedAt) {
			// local copy is as new or newer, idempotent no-op
			return true, nil
		}
		person.Name = snap.Name
		person.RelationshipLabel = snap.RelationshipLabel
		person.EditedAt = snap.UpdatedAt
		if err := s.store.UpdatePerson(ctx, person); err != nil {
			return false, err
		}
	}

	if link == nil {
		link = &model.PersonLink{
			ConnectionID: conn.ID,
			PersonID:     person.ID,
			RemoteUID:    event.EntityUID,
			Status:       model.LinkStatusLinked,
			Source:       model.LinkSourceImport,
			Enabled:      true,
		}
		if err := s.store.UpsertPersonLink(ctx, link); err != nil {
			return false, err
		}
	}

	return true, nil
}

// applyMoment applies a moment event under the remote-favored last-write-
// wins rule: a local copy modified strictly after the incoming snapshot is
// a conflict and the write is skipped; otherwise remote wins, ties
// included.
func (s *SyncService) applyMoment(ctx context.Context, conn *model.Connection, event v1.Event) (bool, *model.Conflict, error) {
	var snap v1.MomentSnapshot
	if err := json.Unmarshal(event.Payload, &snap); err != nil {
		logrus.Errorf("skipping moment event %d with bad payload: %v", event.ID, err)
		return false, nil, nil
	}

	local, err := s.store.GetMomentByUID(ctx, conn.UserID, event.EntityUID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, err
	}

	if local != nil && local.EditedAt.After(snap.UpdatedAt) {
		conflict, err := s.recordConflict(ctx, conn, event, local)
		if err != nil {
			return false, nil, err
		}
		return false, conflict, nil
	}

	if event.Op == model.OpDelete {
		if local == nil {
			// already gone, idempotent
			return true, nil, nil
		}
		if err := s.store.DeleteMoment(ctx, local.ID); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	// the owner arrives in the sender's person UID space and resolves
	// through the link table
	ownerLink, err := s.store.GetLinkByRemoteUID(ctx, conn.ID, snap.OwnerPersonUID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logrus.Infof("skipping moment %s: owner %s is not linked on connection %s", event.EntityUID, snap.OwnerPersonUID, conn.ID)
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if !ownerLink.Syncing() {
		return false, nil, nil
	}

	if local == nil {
		local = &model.Moment{
			UID:        event.EntityUID,
			UserID:     conn.UserID,
			PersonID:   ownerLink.PersonID,
			Title:      snap.Title,
			Body:       snap.Body,
			HappenedAt: snap.HappenedAt,
			EditedAt:   snap.UpdatedAt,
		}
		if err := s.store.CreateMoment(ctx, local); err != nil {
			return false, nil, err
		}
	} else {
		local.PersonID = ownerLink.PersonID
		local.Title = snap.Title
		local.Body = snap.Body
		local.HappenedAt = snap.HappenedAt
		local.EditedAt = snap.UpdatedAt
		if err := s.store.UpdateMoment(ctx, local); err != nil {
			return false, nil, err
		}
	}

	if err := s.applyParticipants(ctx, conn, local, snap.ParticipantUIDs); err != nil {
		return false, nil, err
	}

	return true, nil, nil
}

// applyParticipants replaces a moment's participant rows with the linked
// local people matching the incoming UIDs. Unlinked participants are
// dropped silently; they may link up later and arrive with the next edit.
func (s *SyncService) applyParticipants(ctx context.Context, conn *model.Connection, moment *model.Moment, uids []string) error {
	personIDs := make([]uint, 0, len(uids))
	for _, uid := range uids {
		link, err := s.store.GetLinkByRemoteUID(ctx, conn.ID, uid)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if link.Syncing() && link.PersonID != moment.PersonID {
			personIDs = append(personIDs, link.PersonID)
		}
	}

	return s.store.ReplaceParticipants(ctx, moment.ID, personIDs)
}

func (s *SyncService) recordConflict(ctx context.Context, conn *model.Connection, event v1.Event, local *model.Moment) (*model.Conflict, error) {
	localSnap, err := s.momentSnapshot(ctx, local)
	if err != nil {
		return nil, err
	}
	localPayload, err := json.Marshal(localSnap)
	if err != nil {
		return nil, err
	}

	conflict := &model.Conflict{
		ConnectionID:  conn.ID,
		EntityType:    event.EntityType,
		EntityUID:     event.EntityUID,
		LocalPayload:  localPayload,
		RemotePayload: event.Payload,
	}
	if err := s.store.CreateConflict(ctx, conflict); err != nil {
		return nil, err
	}

	logrus.Infof("recorded conflict for %s %s on connection %s", event.EntityType, event.EntityUID, conn.ID)
	return conflict, nil
}

// RunResult reports one user-triggered bidirectional sync pass.
type RunResult struct {
	Pulled    int                  `json:"pulled"`
	Applied   int                  `json:"applied"`
	Skipped   int                  `json:"skipped"`
	Pushed    int                  `json:"pushed"`
	Conflicts []v1.ConflictSummary `json:"conflicts"`
}

// Run pulls everything newer than the local watermark from the
// counterpart, feeds it through the same apply path as an inbound push,
// then advances the watermark to the highest id seen. It then pushes the
// local outbox events the counterpart has not pulled yet, so one call
// converges both directions. A failed push is logged and left for the
// counterpart's next pull; the pulled half of the pass still stands.
func (s *SyncService) Run(ctx context.Context, conn *model.Connection) (*RunResult, error) {
	if !conn.Active() {
		return nil, ErrConnectionRevoked
	}

	result := &RunResult{Conflicts: make([]v1.ConflictSummary, 0)}

	since, err := s.store.GetCursor(ctx, conn.ID, model.CursorDirectionPull)
	if err != nil {
		return nil, err
	}

	for {
		res, err := s.peer.Pull(ctx, conn, since, defaultPullLimit)
		if err != nil {
			return nil, err
		}
		if len(res.Events) == 0 {
			break
		}

		applied, err := s.ApplyEvents(ctx, conn, res.Events)
		if err != nil {
			return nil, err
		}

		result.Pulled += len(res.Events)
		result.Applied += applied.Applied
		result.Skipped += applied.Skipped
		result.Conflicts = append(result.Conflicts, applied.Conflicts...)

		for _, event := range res.Events {
			if event.ID > since {
				since = event.ID
			}
		}
		if res.LastOutboxID > since {
			since = res.LastOutboxID
		}

		if err := s.store.SetCursor(ctx, conn.ID, conn.UserID, model.CursorDirectionPull, since); err != nil {
			return nil, err
		}

		if len(res.Events) < defaultPullLimit {
			break
		}
	}

	pushed, err := s.pushPending(ctx, conn)
	if err != nil {
		logrus.Errorf("push to counterpart on connection %s failed: %v", conn.ID, err)
	}
	result.Pushed = pushed

	logrus.Infof("sync run on connection %s: pulled=%d applied=%d skipped=%d pushed=%d conflicts=%d",
		conn.ID, result.Pulled, result.Applied, result.Skipped, result.Pushed, len(result.Conflicts))
	return result, nil
}

// pushPending delivers outbox events past the serve watermark to the
// counterpart and advances the watermark over what was accepted. Events
// stay in the log either way, so nothing is lost when the call fails.
func (s *SyncService) pushPending(ctx context.Context, conn *model.Connection) (int, error) {
	since, err := s.store.GetCursor(ctx, conn.ID, model.CursorDirectionServe)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for {
		rows, err := s.store.ListEventsAfter(ctx, conn.ID, since, defaultPullLimit)
		if err != nil {
			return pushed, err
		}
		if len(rows) == 0 {
			return pushed, nil
		}

		events, last, err := s.decodeEvents(rows, since)
		if err != nil {
			return pushed, err
		}

		if _, err := s.peer.Push(ctx, conn, events); err != nil {
			return pushed, err
		}
		pushed += len(events)
		since = last

		if err := s.store.SetCursor(ctx, conn.ID, conn.UserID, model.CursorDirectionServe, since); err != nil {
			logrus.Errorf("error advancing serve watermark for connection %s: %v", conn.ID, err)
		}

		if len(rows) < defaultPullLimit {
			return pushed, nil
		}
	}
}

// Revoke revokes the connection locally and best-effort notifies the
// counterpart. Local revocation succeeds regardless of the notification
// outcome.
func (s *SyncService) Revoke(ctx context.Context, userID uint, connectionID, reason string) (bool, error) {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrConnectionNotFound
	}
	if err != nil {
		return false, err
	}
	if userID != 0 && conn.UserID != userID {
		return false, ErrConnectionNotFound
	}

	already, err := s.store.RevokeConnection(ctx, connectionID, time.Now())
	if err != nil {
		return false, err
	}

	if !already {
		if _, err := s.peer.Revoke(ctx, conn, reason); err != nil {
			logrus.Errorf("counterpart revoke notification for connection %s failed: %v", conn.ID, err)
		}
	}

	return already, nil
}

// RevokeLocal flips the connection to revoked without notifying anyone,
// the handler for an inbound revoke call.
func (s *SyncService) RevokeLocal(ctx context.Context, connectionID string) (bool, error) {
	return s.store.RevokeConnection(ctx, connectionID, time.Now())
}

// BackfillResult reports one reconciliation pass.
type BackfillResult struct {
	People  int `json:"people"`
	Moments int `json:"moments"`
}

// Backfill seeds the outbox with full history for every enabled linked
// person, deduped against events already logged. This is the
// reconciliation pass run after new identities are linked, distinct from
// steady-state incremental sync.
func (s *SyncService) Backfill(ctx context.Context, conn *model.Connection) (*BackfillResult, error) {
	if !conn.Active() {
		return nil, ErrConnectionRevoked
	}

	links, err := s.store.ListLinks(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	result := &BackfillResult{}
	seen := mapset.NewSet[string]()

	for _, link := range links {
		if !link.Syncing() {
			continue
		}

		person, err := s.store.GetPerson(ctx, conn.UserID, link.PersonID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		ok, err := s.needsBackfill(ctx, conn.ID, model.EntityTypePerson, person.UID, seen)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := s.appendEvent(ctx, conn.ID, model.EntityTypePerson, person.UID, model.OpUpsert, personSnapshot(person)); err != nil {
				return nil, err
			}
			result.People++
		}

		moments, err := s.store.ListMomentsByOwner(ctx, person.ID)
		if err != nil {
			return nil, err
		}
		for _, moment := range moments {
			ok, err := s.needsBackfill(ctx, conn.ID, model.EntityTypeMoment, moment.UID, seen)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}

			snap, err := s.momentSnapshot(ctx, moment)
			if err != nil {
				return nil, err
			}
			if err := s.appendEvent(ctx, conn.ID, model.EntityTypeMoment, moment.UID, model.OpUpsert, snap); err != nil {
				return nil, err
			}
			result.Moments++
		}
	}

	logrus.Infof("backfill on connection %s: people=%d moments=%d", conn.ID, result.People, result.Moments)
	return result, nil
}

func (s *SyncService) needsBackfill(ctx context.Context, connectionID, entityType, entityUID string, seen mapset.Set[string]) (bool, error) {
	key := entityType + ":" + entityUID
	if seen.Contains(key) {
		return false, nil
	}
	seen.Add(key)

	has, err := s.store.HasEvent(ctx, connectionID, entityType, entityUID)
	if err != nil {
		return false, err
	}
	return !has, nil
}

// GetConnection loads a connection scoped to its owner. A userID of zero
// skips the ownership check and is reserved for internal callers.
func (s *SyncService) GetConnection(ctx context.Context, userID uint, connectionID string) (*model.Connection, error) {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	if userID != 0 && conn.UserID != userID {
		return nil, ErrConnectionNotFound
	}
	return conn, nil
}

// ConnectionSummary is a connection with its cursor positions, for the
// operator listing.
type ConnectionSummary struct {
	ID          string `json:"id"`
	PeerApp     string `json:"peer_app"`
	PeerBaseURL string `json:"peer_base_url"`
	Status      string `json:"status"`
	PulledTo    uint64 `json:"pulled_to"`
	ServedTo    uint64 `json:"served_to"`
}

func (s *SyncService) ListConnections(ctx context.Context, userID uint) ([]*ConnectionSummary, error) {
	conns, err := s.store.ListConnections(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]*ConnectionSummary, 0, len(conns))
	for _, conn := range conns {
		pulled, err := s.store.GetCursor(ctx, conn.ID, model.CursorDirectionPull)
		if err != nil {
			return nil, err
		}
		served, err := s.store.GetCursor(ctx, conn.ID, model.CursorDirectionServe)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &ConnectionSummary{
			ID:          conn.ID,
			PeerApp:     conn.PeerApp,
			PeerBaseURL: conn.PeerBaseURL,
			Status:      conn.Status,
			PulledTo:    pulled,
			ServedTo:    served,
		})
	}

	return summaries, nil
}

// ListActiveConnections is the periodic runner's view over every active
// connection.
func (s *SyncService) ListActiveConnections(ctx context.Context) ([]*model.Connection, error) {
	return s.store.ListActiveConnections(ctx)
}

func personSnapshot(person *model.Person) *v1.PersonSnapshot {
	return &v1.PersonSnapshot{
		UID:               person.UID,
		Name:              person.Name,
		RelationshipLabel: person.RelationshipLabel,
		UpdatedAt:         person.EditedAt,
	}
}

func (s *SyncService) momentSnapshot(ctx context.Context, moment *model.Moment) (*v1.MomentSnapshot, error) {
	owner, err := s.store.GetPerson(ctx, moment.UserID, moment.PersonID)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ListParticipants(ctx, moment.ID)
	if err != nil {
		return nil, err
	}

	participantUIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		person, err := s.store.GetPerson(ctx, moment.UserID, row.PersonID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		participantUIDs = append(participantUIDs, person.UID)
	}

	return &v1.MomentSnapshot{
		UID:             moment.UID,
		OwnerPersonUID:  owner.UID,
		Title:           moment.Title,
		Body:            moment.Body,
		HappenedAt:      moment.HappenedAt,
		ParticipantUIDs: participantUIDs,
		UpdatedAt:       moment.EditedAt,
	}, nil
}
