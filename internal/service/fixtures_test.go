package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/kinfolk/kinsync/internal/tester"
	"github.com/stretchr/testify/assert"
)

func newFixture(t *testing.T) (store.Store, *fakePeer, *model.Connection) {
	st := store.NewGormStore(tester.TestDB())
	peer := &fakePeer{}

	conn := &model.Connection{
		ID:               uuid.New().String(),
		UserID:           nextUserID(),
		PeerApp:          "other-journal",
		PeerBaseURL:      "http://localhost:4031",
		PeerConnectionID: uuid.New().String(),
		Secret:           "0badc0de0badc0de0badc0de0badc0de",
		Status:           model.ConnectionStatusActive,
	}
	err := st.CreateConnection(context.TODO(), conn)
	assert.NoError(t, err)

	return st, peer, conn
}

func makePerson(t *testing.T, st store.Store, userID uint, name string) *model.Person {
	person := &model.Person{
		UID:      uuid.New().String(),
		UserID:   userID,
		Name:     name,
		EditedAt: time.Now().Add(-time.Hour).Truncate(time.Second),
	}
	err := st.CreatePerson(context.TODO(), person)
	assert.NoError(t, err)
	return person
}

func makeMoment(t *testing.T, st store.Store, userID uint, owner *model.Person, title string) *model.Moment {
	moment := &model.Moment{
		UID:      uuid.New().String(),
		UserID:   userID,
		PersonID: owner.ID,
		Title:    title,
		EditedAt: time.Now().Add(-time.Hour).Truncate(time.Second),
	}
	err := st.CreateMoment(context.TODO(), moment)
	assert.NoError(t, err)
	return moment
}

func makeLink(t *testing.T, st store.Store, connID string, personID uint, remoteUID string) *model.PersonLink {
	link := &model.PersonLink{
		ConnectionID: connID,
		PersonID:     personID,
		RemoteUID:    remoteUID,
		Status:       model.LinkStatusLinked,
		Source:       model.LinkSourceManual,
		Enabled:      true,
	}
	err := st.UpsertPersonLink(context.TODO(), link)
	assert.NoError(t, err)
	return link
}
