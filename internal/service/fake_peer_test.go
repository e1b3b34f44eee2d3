package service

import (
	"context"
	"errors"
	"sync/atomic"

	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/model"
)

// fakePeer is an in-memory counterpart for service tests. Its event log
// plays the role of the other side's outbox.
type fakePeer struct {
	consumeRes *v1.ConsumeCodeResponse
	consumeErr error

	events []v1.Event

	people     []v1.PersonSnapshot
	created    []*v1.CreatePersonRequest
	failCreate bool

	revokeCalls int
	pushed      [][]v1.Event
}

func (f *fakePeer) ConsumeCode(ctx context.Context, baseURL string, req *v1.ConsumeCodeRequest) (*v1.ConsumeCodeResponse, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	if f.consumeRes != nil {
		return f.consumeRes, nil
	}
	return &v1.ConsumeCodeResponse{Success: true, RemoteUserID: 99, ConnectionID: "remote-conn-1"}, nil
}

func (f *fakePeer) Pull(ctx context.Context, conn *model.Connection, sinceID uint64, limit int) (*v1.PullResponse, error) {
	res := &v1.PullResponse{Events: make([]v1.Event, 0), LastOutboxID: sinceID}
	for _, event := range f.events {
		if event.ID <= sinceID {
			continue
		}
		if len(res.Events) >= limit {
			break
		}
		res.Events = append(res.Events, event)
		if event.ID > res.LastOutboxID {
			res.LastOutboxID = event.ID
		}
	}
	return res, nil
}

func (f *fakePeer) Push(ctx context.Context, conn *model.Connection, events []v1.Event) (*v1.PushResponse, error) {
	f.pushed = append(f.pushed, events)
	return &v1.PushResponse{Applied: len(events)}, nil
}

func (f *fakePeer) Revoke(ctx context.Context, conn *model.Connection, reason string) (*v1.RevokeResponse, error) {
	f.revokeCalls++
	return &v1.RevokeResponse{OK: true}, nil
}

func (f *fakePeer) ListPeople(ctx context.Context, conn *model.Connection, limit int) (*v1.ListPeopleResponse, error) {
	return &v1.ListPeopleResponse{People: f.people}, nil
}

func (f *fakePeer) CreatePerson(ctx context.Context, conn *model.Connection, req *v1.CreatePersonRequest) (*v1.CreatePersonResponse, error) {
	if f.failCreate {
		return nil, errors.New("counterpart unavailable")
	}
	f.created = append(f.created, req)
	return &v1.CreatePersonResponse{UID: req.UID}, nil
}

var userSeq atomic.Uint32

// nextUserID hands out a fresh user per test so state in the shared test
// database cannot leak across tests.
func nextUserID() uint {
	return uint(userSeq.Add(1)) + 1000
}
