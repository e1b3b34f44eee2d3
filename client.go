// Package kinsync links two independently-owned journal applications so
// that people and shared moments flow between them. The embedding
// application opens a Client over its database and calls the change hooks
// from its own save paths; everything else (pairing, pull/push, mapping,
// conflicts, merges) hangs off the services the Client exposes.
package kinsync

import (
	"context"

	"github.com/kinfolk/kinsync/internal/cache"
	"github.com/kinfolk/kinsync/internal/client"
	"github.com/kinfolk/kinsync/internal/codec"
	"github.com/kinfolk/kinsync/internal/config"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/service"
	"github.com/kinfolk/kinsync/internal/store"
)

type Client struct {
	Pairing  *service.PairingService
	Sync     *service.SyncService
	Mapping  *service.MappingService
	Conflict *service.ConflictService
	Merge    *service.MergeService
}

// NewClient wires the sync services over the embedding application's
// database. An empty RedisAddr runs without the people cache.
func NewClient(cnf *config.Config) (*Client, error) {
	db := config.GetDb(cnf)

	syncStore := store.NewGormStore(db)
	if err := syncStore.Migrate(); err != nil {
		return nil, err
	}

	peer := client.NewHTTPPeer()

	var peopleCache service.PeopleCache
	if cnf.RedisAddr != "" {
		peopleCache = cache.NewPeopleCache(cnf.RedisAddr)
	}

	return &Client{
		Pairing:  service.NewPairingService(cnf, syncStore, peer),
		Sync:     service.NewSyncService(syncStore, peer, codec.NewGZip()),
		Mapping:  service.NewMappingService(syncStore, peer, peopleCache),
		Conflict: service.NewConflictService(syncStore),
		Merge:    service.NewMergeService(syncStore),
	}, nil
}

// PersonChanged is the hook the embedding application calls after saving a
// person.
func (c *Client) PersonChanged(ctx context.Context, person *model.Person) error {
	return c.Sync.RecordPersonChange(ctx, person, model.OpUpsert)
}

// PersonRemoved is the hook for person removal.
func (c *Client) PersonRemoved(ctx context.Context, person *model.Person) error {
	return c.Sync.RecordPersonChange(ctx, person, model.OpDelete)
}

// MomentChanged is the hook the embedding application calls after saving a
// moment.
func (c *Client) MomentChanged(ctx context.Context, moment *model.Moment) error {
	return c.Sync.RecordMomentChange(ctx, moment, model.OpUpsert)
}

// MomentRemoved is the hook for moment removal.
func (c *Client) MomentRemoved(ctx context.Context, moment *model.Moment) error {
	return c.Sync.RecordMomentChange(ctx, moment, model.OpDelete)
}
