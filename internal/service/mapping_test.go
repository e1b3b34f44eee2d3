package service

import (
	"context"
	"testing"
	"time"

	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestMappingService_BuildPlanSuggests(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewMappingService(st, peer, nil)

	makePerson(t, st, conn.UserID, "Maria Garcia")
	peer.people = []v1.PersonSnapshot{
		{UID: "remote-1", Name: "Garcia, Maria", UpdatedAt: time.Now()},
	}

	plan, err := svc.BuildPlan(context.TODO(), conn.UserID, conn.ID)
	assert.NoError(t, err)
	assert.Len(t, plan.Suggestions, 1)
	assert.Equal(t, "Name reordered", plan.Suggestions[0].Reason)
	assert.Equal(t, "remote-1", plan.Suggestions[0].RemoteKey)

	// the suggestion is staged into both views
	staged := false
	for _, item := range plan.Local {
		if item.PartnerKey == "remote-1" && item.Disposition == "linked" {
			staged = true
		}
	}
	assert.True(t, staged)
}

func TestMappingService_BuildPlanShowsDurableLinks(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewMappingService(st, peer, nil)

	person := makePerson(t, st, conn.UserID, "Joao Souza")
	makeLink(t, st, conn.ID, person.ID, "remote-joao")
	peer.people = []v1.PersonSnapshot{
		{UID: "remote-joao", Name: "Joao", UpdatedAt: time.Now()},
	}

	plan, err := svc.BuildPlan(context.TODO(), conn.UserID, conn.ID)
	assert.NoError(t, err)
	assert.Len(t, plan.Suggestions, 0)
	assert.Len(t, plan.Local, 1)
	assert.Equal(t, "linked", plan.Local[0].Disposition)
	assert.Equal(t, "remote-joao", plan.Local[0].PartnerKey)
}

func TestMappingService_ActivateLinksAndExcludes(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewMappingService(st, peer, nil)

	maria := makePerson(t, st, conn.UserID, "Maria Garcia")
	private := makePerson(t, st, conn.UserID, "Private Friend")
	peer.people = []v1.PersonSnapshot{
		{UID: "remote-maria", Name: "Maria", UpdatedAt: time.Now()},
	}

	res, err := svc.Activate(context.TODO(), conn.UserID, conn.ID, []ActivationEntry{
		{Side: "local", Key: maria.UID, Action: ActionLink, PartnerKey: "remote-maria"},
		{Side: "local", Key: private.UID, Action: ActionDoNotSync},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Linked)
	assert.Equal(t, 1, res.Excluded)

	link, err := st.GetLinkByPerson(context.TODO(), conn.ID, maria.ID)
	assert.NoError(t, err)
	assert.True(t, link.Syncing())
	assert.Equal(t, "remote-maria", link.RemoteUID)

	excluded, err := st.GetLinkByPerson(context.TODO(), conn.ID, private.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.LinkStatusExcluded, excluded.Status)
	assert.False(t, excluded.Syncing())
}

func TestMappingService_ActivateCreatesBothSides(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewMappingService(st, peer, nil)

	local := makePerson(t, st, conn.UserID, "Ana Lima")
	peer.people = []v1.PersonSnapshot{
		{UID: "remote-carlos", Name: "Carlos Mota", UpdatedAt: time.Now()},
	}

	res, err := svc.Activate(context.TODO(), conn.UserID, conn.ID, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.CreatedRemote)
	assert.Equal(t, 1, res.CreatedLocal)

	// the local person was mirrored out under its own uid
	assert.Len(t, peer.created, 1)
	assert.Equal(t, local.UID, peer.created[0].UID)

	// the counterpart person was mirrored in under the shared uid
	mirrored, err := st.GetPersonByUID(context.TODO(), conn.UserID, "remote-carlos")
	assert.NoError(t, err)
	assert.Equal(t, "Carlos Mota", mirrored.Name)

	link, err := st.GetLinkByRemoteUID(context.TODO(), conn.ID, "remote-carlos")
	assert.NoError(t, err)
	assert.Equal(t, model.LinkSourceImport, link.Source)
	assert.Equal(t, mirrored.ID, link.PersonID)
}

func TestMappingService_ActivateReassignDisplaces(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewMappingService(st, peer, nil)

	maria := makePerson(t, st, conn.UserID, "Maria Garcia")
	ana := makePerson(t, st, conn.UserID, "Ana Lima")
	makeLink(t, st, conn.ID, maria.ID, "remote-1")
	peer.people = []v1.PersonSnapshot{
		{UID: "remote-1", Name: "Shared Friend", UpdatedAt: time.Now()},
	}

	res, err := svc.Activate(context.TODO(), conn.UserID, conn.ID, []ActivationEntry{
		{Side: "local", Key: ana.UID, Action: ActionLink, PartnerKey: "remote-1"},
		{Side: "local", Key: maria.UID, Action: ActionDoNotSync},
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, res.Notices)

	// remote-1 now belongs to ana, never to both
	link, err := st.GetLinkByRemoteUID(context.TODO(), conn.ID, "remote-1")
	assert.NoError(t, err)
	assert.Equal(t, ana.ID, link.PersonID)
}

func TestMappingService_ReactivateMovesRemoteUID(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewMappingService(st, peer, nil)

	maria := makePerson(t, st, conn.UserID, "Maria Garcia")
	ana := makePerson(t, st, conn.UserID, "Ana Lima")
	peer.people = []v1.PersonSnapshot{
		{UID: "remote-1", Name: "Shared Friend", UpdatedAt: time.Now()},
	}

	_, err := svc.Activate(context.TODO(), conn.UserID, conn.ID, []ActivationEntry{
		{Side: "local", Key: maria.UID, Action: ActionLink, PartnerKey: "remote-1"},
		{Side: "local", Key: ana.UID, Action: ActionDoNotSync},
	})
	assert.NoError(t, err)

	// second pass hands remote-1 to ana and sends maria private; the
	// durable rows from the first pass must give way cleanly
	res, err := svc.Activate(context.TODO(), conn.UserID, conn.ID, []ActivationEntry{
		{Side: "local", Key: ana.UID, Action: ActionLink, PartnerKey: "remote-1"},
		{Side: "local", Key: maria.UID, Action: ActionDoNotSync},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Linked)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, 2, res.Detached)

	link, err := st.GetLinkByRemoteUID(context.TODO(), conn.ID, "remote-1")
	assert.NoError(t, err)
	assert.Equal(t, ana.ID, link.PersonID)

	moved, err := st.GetLinkByPerson(context.TODO(), conn.ID, maria.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.LinkStatusExcluded, moved.Status)
}

func TestMappingService_ActivateIntentPendingOnPeerFailure(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewMappingService(st, peer, nil)

	person := makePerson(t, st, conn.UserID, "Ana Lima")
	peer.people = []v1.PersonSnapshot{}
	peer.failCreate = true

	res, err := svc.Activate(context.TODO(), conn.UserID, conn.ID, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, res.CreatedRemote)
	assert.Equal(t, 1, res.PendingIntents)

	// the person stays unlinked until the intent is re-driven
	_, err = st.GetLinkByPerson(context.TODO(), conn.ID, person.ID)
	assert.Error(t, err)

	intents, err := st.ListPendingIntents(context.TODO(), time.Now().Add(time.Minute), 10)
	assert.NoError(t, err)
	assert.Len(t, intents, 1)
	assert.Equal(t, 1, intents[0].Attempts)

	// the counterpart comes back and the retry completes the flow
	peer.failCreate = false
	err = svc.DriveCreateIntent(context.TODO(), conn, intents[0])
	assert.NoError(t, err)
	assert.Equal(t, model.IntentStatusDone, intents[0].Status)

	link, err := st.GetLinkByPerson(context.TODO(), conn.ID, person.ID)
	assert.NoError(t, err)
	assert.True(t, link.Syncing())
	assert.Equal(t, person.UID, link.RemoteUID)
}

func TestMappingService_RemotePeopleUsesPeer(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewMappingService(st, peer, nil)

	peer.people = []v1.PersonSnapshot{{UID: "r1", Name: "One"}, {UID: "r2", Name: "Two"}}

	people, err := svc.RemotePeople(context.TODO(), conn)
	assert.NoError(t, err)
	assert.Len(t, people, 2)
}

func TestMappingService_CreateLocalPersonIdempotent(t *testing.T) {
	st, peer, conn := newFixture(t)
	svc := NewMappingService(st, peer, nil)

	req := &v1.CreatePersonRequest{UID: "shared-uid-1", Name: "Maria Garcia"}

	res, err := svc.CreateLocalPerson(context.TODO(), conn.UserID, req)
	assert.NoError(t, err)
	assert.Equal(t, "shared-uid-1", res.UID)

	// retrying the same creation returns the existing person
	res, err = svc.CreateLocalPerson(context.TODO(), conn.UserID, req)
	assert.NoError(t, err)
	assert.Equal(t, "shared-uid-1", res.UID)

	people, err := st.ListPeople(context.TODO(), conn.UserID, 0)
	assert.NoError(t, err)
	assert.Len(t, people, 1)
}
