package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewConflictService creates a new ConflictService.
func NewConflictService(store store.Store) *ConflictService {
	return &ConflictService{store: store}
}

// ConflictService lists open conflicts and applies manual resolutions.
// Conflicts are recorded by the sync apply path; nothing here resolves
// automatically.
type ConflictService struct {
	store store.Store
}

func (c *ConflictService) ListOpen(ctx context.Context, userID uint) ([]*model.Conflict, error) {
	return c.store.ListOpenConflicts(ctx, userID)
}

// Resolve closes a conflict. keep_local marks it resolved and leaves the
// local entity untouched; accept_remote writes the recorded remote
// snapshot onto the local entity, then marks it. Resolving an already
// resolved conflict is an error, not a silent no-op.
func (c *ConflictService) Resolve(ctx context.Context, userID uint, conflictID uint, resolution string) error {
	if resolution != model.ResolutionKeepLocal && resolution != model.ResolutionAcceptRemote {
		return ErrInvalidResolution
	}

	conflict, err := c.store.GetConflict(ctx, conflictID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrConflictNotFound
	}
	if err != nil {
		return err
	}

	conn, err := c.store.GetConnection(ctx, conflict.ConnectionID)
	if err != nil {
		return err
	}
	if conn.UserID != userID {
		return ErrConflictNotFound
	}

	if !conflict.Open() {
		return ErrConflictResolved
	}

	return c.store.Transaction(ctx, func(tx store.Store) error {
		if resolution == model.ResolutionAcceptRemote {
			if err := c.acceptRemote(ctx, tx, conn, conflict); err != nil {
				return err
			}
		}

		conflict.Resolution = resolution
		now := time.Now()
		conflict.ResolvedAt = &now
		if err := tx.UpdateConflict(ctx, conflict); err != nil {
			logrus.Errorf("error resolving conflict %d: %v", conflict.ID, err)
			return err
		}
		return nil
	})
}

// acceptRemote overwrites the local moment with the snapshot captured when
// the conflict was recorded. The snapshot may be stale relative to the
// counterpart's current state; the next sync pass reconciles that.
func (c *ConflictService) acceptRemote(ctx context.Context, tx store.Store, conn *model.Connection, conflict *model.Conflict) error {
	var snap v1.MomentSnapshot
	if err := json.Unmarshal(conflict.RemotePayload, &snap); err != nil {
		return err
	}

	moment, err := tx.GetMomentByUID(ctx, conn.UserID, conflict.EntityUID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// the local copy was deleted since the conflict was recorded
		return nil
	}
	if err != nil {
		return err
	}

	moment.Title = snap.Title
	moment.Body = snap.Body
	moment.HappenedAt = snap.HappenedAt
	moment.EditedAt = snap.UpdatedAt
	return tx.UpdateMoment(ctx, moment)
}
