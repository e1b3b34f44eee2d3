package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/codec"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/stretchr/testify/assert"
)

func personEvent(t *testing.T, id uint64, snap *v1.PersonSnapshot, op string) v1.Event {
	payload, err := json.Marshal(snap)
	assert.NoError(t, err)
	return v1.Event{
		ID:         id,
		EntityType: model.EntityTypePerson,
		EntityUID:  snap.UID,
		Op:         op,
		Payload:    payload,
		RecordedAt: time.Now(),
	}
}

func momentEvent(t *testing.T, id uint64, snap *v1.MomentSnapshot, op string) v1.Event {
	payload, err := json.Marshal(snap)
	assert.NoError(t, err)
	return v1.Event{
		ID:         id,
		EntityType: model.EntityTypeMoment,
		EntityUID:  snap.UID,
		Op:         op,
		Payload:    payload,
		RecordedAt: time.Now(),
	}
}

func TestSyncService_OutboxAndPull(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewGZip())

	person := makePerson(t, st, conn.UserID, "Maria Garcia")
	makeLink(t, st, conn.ID, person.ID, "remote-maria")
	moment := makeMoment(t, st, conn.UserID, person, "Picnic at the lake")

	err := svc.RecordPersonChange(context.TODO(), person, model.OpUpsert)
	assert.NoError(t, err)
	err = svc.RecordMomentChange(context.TODO(), moment, model.OpUpsert)
	assert.NoError(t, err)

	res, err := svc.Pull(context.TODO(), conn, 0, 0)
	assert.NoError(t, err)
	assert.Len(t, res.Events, 2)
	assert.Equal(t, model.EntityTypePerson, res.Events[0].EntityType)
	assert.Equal(t, model.EntityTypeMoment, res.Events[1].EntityType)

	var snap v1.PersonSnapshot
	err = json.Unmarshal(res.Events[0].Payload, &snap)
	assert.NoError(t, err)
	assert.Equal(t, "Maria Garcia", snap.Name)

	var momentSnap v1.MomentSnapshot
	err = json.Unmarshal(res.Events[1].Payload, &momentSnap)
	assert.NoError(t, err)
	assert.Equal(t, person.UID, momentSnap.OwnerPersonUID)

	served, err := st.GetCursor(context.TODO(), conn.ID, model.CursorDirectionServe)
	assert.NoError(t, err)
	assert.Equal(t, res.LastOutboxID, served)

	// nothing new past the watermark
	res, err = svc.Pull(context.TODO(), conn, res.LastOutboxID, 0)
	assert.NoError(t, err)
	assert.Len(t, res.Events, 0)
}

func TestSyncService_UnlinkedPersonNotRecorded(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	person := makePerson(t, st, conn.UserID, "Private Friend")

	err := svc.RecordPersonChange(context.TODO(), person, model.OpUpsert)
	assert.NoError(t, err)

	res, err := svc.Pull(context.TODO(), conn, 0, 0)
	assert.NoError(t, err)
	assert.Len(t, res.Events, 0)
}

func TestSyncService_ApplyPersonIdempotent(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	snap := &v1.PersonSnapshot{
		UID:       uuid.New().String(),
		Name:      "Ana Lima",
		UpdatedAt: time.Now().Truncate(time.Second),
	}
	batch := []v1.Event{personEvent(t, 1, snap, model.OpUpsert)}

	res, err := svc.ApplyEvents(context.TODO(), conn, batch)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	// the same batch again is a no-op, not a duplicate
	res, err = svc.ApplyEvents(context.TODO(), conn, batch)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 0, res.Skipped)

	people, err := st.ListPeople(context.TODO(), conn.UserID, 0)
	assert.NoError(t, err)
	assert.Len(t, people, 1)
	assert.Equal(t, "Ana Lima", people[0].Name)

	// an import link now exists for the adopted person
	link, err := st.GetLinkByRemoteUID(context.TODO(), conn.ID, snap.UID)
	assert.NoError(t, err)
	assert.Equal(t, model.LinkSourceImport, link.Source)
	assert.Equal(t, people[0].ID, link.PersonID)
}

func TestSyncService_ApplyMomentConflict(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	person := makePerson(t, st, conn.UserID, "Maria Garcia")
	makeLink(t, st, conn.ID, person.ID, "remote-maria")

	moment := makeMoment(t, st, conn.UserID, person, "Original title")
	moment.EditedAt = time.Now().Truncate(time.Second)
	err := st.UpdateMoment(context.TODO(), moment)
	assert.NoError(t, err)

	// the incoming snapshot is older than the local edit
	stale := &v1.MomentSnapshot{
		UID:            moment.UID,
		OwnerPersonUID: "remote-maria",
		Title:          "Stale title",
		UpdatedAt:      moment.EditedAt.Add(-time.Minute),
	}
	res, err := svc.ApplyEvents(context.TODO(), conn, []v1.Event{momentEvent(t, 1, stale, model.OpUpsert)})
	assert.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Len(t, res.Conflicts, 1)

	kept, err := st.GetMomentByUID(context.TODO(), conn.UserID, moment.UID)
	assert.NoError(t, err)
	assert.Equal(t, "Original title", kept.Title)

	conflicts, err := st.ListOpenConflicts(context.TODO(), conn.UserID)
	assert.NoError(t, err)
	assert.Len(t, conflicts, 1)
	assert.Equal(t, moment.UID, conflicts[0].EntityUID)

	// a strictly newer snapshot wins without a conflict
	fresh := &v1.MomentSnapshot{
		UID:            moment.UID,
		OwnerPersonUID: "remote-maria",
		Title:          "Fresh title",
		UpdatedAt:      moment.EditedAt.Add(time.Minute),
	}
	res, err = svc.ApplyEvents(context.TODO(), conn, []v1.Event{momentEvent(t, 2, fresh, model.OpUpsert)})
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Len(t, res.Conflicts, 0)

	kept, err = st.GetMomentByUID(context.TODO(), conn.UserID, moment.UID)
	assert.NoError(t, err)
	assert.Equal(t, "Fresh title", kept.Title)
}

func TestSyncService_ApplyMomentTieRemoteWins(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	person := makePerson(t, st, conn.UserID, "Maria Garcia")
	makeLink(t, st, conn.ID, person.ID, "remote-maria")

	moment := makeMoment(t, st, conn.UserID, person, "Local title")
	tie := &v1.MomentSnapshot{
		UID:            moment.UID,
		OwnerPersonUID: "remote-maria",
		Title:          "Remote title",
		UpdatedAt:      moment.EditedAt,
	}

	res, err := svc.ApplyEvents(context.TODO(), conn, []v1.Event{momentEvent(t, 1, tie, model.OpUpsert)})
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Len(t, res.Conflicts, 0)

	kept, err := st.GetMomentByUID(context.TODO(), conn.UserID, moment.UID)
	assert.NoError(t, err)
	assert.Equal(t, "Remote title", kept.Title)
}

func TestSyncService_ApplyMomentUnlinkedOwnerSkipped(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	snap := &v1.MomentSnapshot{
		UID:            uuid.New().String(),
		OwnerPersonUID: "nobody-we-know",
		Title:          "Orphan moment",
		UpdatedAt:      time.Now(),
	}
	res, err := svc.ApplyEvents(context.TODO(), conn, []v1.Event{momentEvent(t, 1, snap, model.OpUpsert)})
	assert.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 1, res.Skipped)
}

func TestSyncService_ApplyDeleteIdempotent(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	snap := &v1.MomentSnapshot{
		UID:            uuid.New().String(),
		OwnerPersonUID: "remote-maria",
		UpdatedAt:      time.Now(),
	}

	// deleting something never seen is applied, not an error
	res, err := svc.ApplyEvents(context.TODO(), conn, []v1.Event{momentEvent(t, 1, snap, model.OpDelete)})
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
}

func TestSyncService_ApplyMomentParticipants(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	owner := makePerson(t, st, conn.UserID, "Maria Garcia")
	makeLink(t, st, conn.ID, owner.ID, "remote-maria")
	friend := makePerson(t, st, conn.UserID, "Joao Souza")
	makeLink(t, st, conn.ID, friend.ID, "remote-joao")

	snap := &v1.MomentSnapshot{
		UID:             uuid.New().String(),
		OwnerPersonUID:  "remote-maria",
		Title:           "Dinner",
		ParticipantUIDs: []string{"remote-joao", "remote-stranger"},
		UpdatedAt:       time.Now(),
	}
	res, err := svc.ApplyEvents(context.TODO(), conn, []v1.Event{momentEvent(t, 1, snap, model.OpUpsert)})
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	moment, err := st.GetMomentByUID(context.TODO(), conn.UserID, snap.UID)
	assert.NoError(t, err)
	assert.Equal(t, owner.ID, moment.PersonID)

	// the linked participant is attached, the unknown one is dropped
	rows, err := st.ListParticipants(context.TODO(), moment.ID)
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, friend.ID, rows[0].PersonID)
}

func TestSyncService_RunAdvancesCursor(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	peer.events = []v1.Event{
		personEvent(t, 1, &v1.PersonSnapshot{UID: uuid.New().String(), Name: "Ana Lima", UpdatedAt: time.Now()}, model.OpUpsert),
		personEvent(t, 2, &v1.PersonSnapshot{UID: uuid.New().String(), Name: "Joao Souza", UpdatedAt: time.Now()}, model.OpUpsert),
	}

	res, err := svc.Run(context.TODO(), conn)
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Pulled)
	assert.Equal(t, 2, res.Applied)

	cursor, err := st.GetCursor(context.TODO(), conn.ID, model.CursorDirectionPull)
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), cursor)

	// a second run pulls nothing new
	res, err = svc.Run(context.TODO(), conn)
	assert.NoError(t, err)
	assert.Equal(t, 0, res.Pulled)
}

func TestSyncService_RunPushesPending(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	person := makePerson(t, st, conn.UserID, "Ana Lima")
	makeLink(t, st, conn.ID, person.ID, uuid.New().String())

	err := svc.RecordPersonChange(context.TODO(), person, model.OpUpsert)
	assert.NoError(t, err)

	res, err := svc.Run(context.TODO(), conn)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Len(t, peer.pushed, 1)
	assert.Len(t, peer.pushed[0], 1)
	assert.Equal(t, person.UID, peer.pushed[0][0].EntityUID)

	served, err := st.GetCursor(context.TODO(), conn.ID, model.CursorDirectionServe)
	assert.NoError(t, err)
	assert.Equal(t, peer.pushed[0][0].ID, served)

	// the watermark advanced, so a second run pushes nothing
	res, err = svc.Run(context.TODO(), conn)
	assert.NoError(t, err)
	assert.Equal(t, 0, res.Pushed)
	assert.Len(t, peer.pushed, 1)
}

func TestSyncService_RunRevokedConnection(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	_, err := st.RevokeConnection(context.TODO(), conn.ID, time.Now())
	assert.NoError(t, err)

	conn.Status = model.ConnectionStatusRevoked
	_, err = svc.Run(context.TODO(), conn)
	assert.ErrorIs(t, err, ErrConnectionRevoked)
}

func TestSyncService_RevokeIdempotent(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	already, err := svc.Revoke(context.TODO(), conn.UserID, conn.ID, "unlinking apps")
	assert.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, 1, peer.revokeCalls)

	already, err = svc.Revoke(context.TODO(), conn.UserID, conn.ID, "unlinking apps")
	assert.NoError(t, err)
	assert.True(t, already)
	// the counterpart is only notified the first time
	assert.Equal(t, 1, peer.revokeCalls)
}

func TestSyncService_RevokeWrongUser(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	_, err := svc.Revoke(context.TODO(), conn.UserID+1, conn.ID, "")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestSyncService_BackfillIdempotent(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewSyncService(st, peer, codec.NewNop())

	person := makePerson(t, st, conn.UserID, "Maria Garcia")
	makeLink(t, st, conn.ID, person.ID, "remote-maria")
	makeMoment(t, st, conn.UserID, person, "Picnic")
	makeMoment(t, st, conn.UserID, person, "Dinner")

	unlinked := makePerson(t, st, conn.UserID, "Private Friend")
	makeMoment(t, st, conn.UserID, unlinked, "Secret meeting")

	res, err := svc.Backfill(context.TODO(), conn)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.People)
	assert.Equal(t, 2, res.Moments)

	// a second pass finds everything already queued
	res, err = svc.Backfill(context.TODO(), conn)
	assert.NoError(t, err)
	assert.Equal(t, 0, res.People)
	assert.Equal(t, 0, res.Moments)
}
