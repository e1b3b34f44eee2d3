package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewMergeService creates a new MergeService.
func NewMergeService(store store.Store) *MergeService {
	return &MergeService{store: store}
}

// MergeService folds a duplicate person into a surviving one and supports
// a best-effort undo from the recorded merge log.
type MergeService struct {
	store store.Store
}

// MergeResult reports what one merge moved.
type MergeResult struct {
	LogID             uint `json:"log_id"`
	MomentsMoved      int  `json:"moments_moved"`
	ParticipantsMoved int  `json:"participants_moved"`
	DuplicatesDropped int  `json:"duplicates_dropped"`
	LinksRepointed    int  `json:"links_repointed"`
}

// Merge folds mergedID into primaryID: owned moments are repointed,
// participant rows are repointed unless the primary already participates
// in that moment, links move to the primary unless the primary already
// holds one on that connection, and the merged person is retired. The
// whole merge runs in one transaction with a log row for undo.
func (s *MergeService) Merge(ctx context.Context, userID, primaryID, mergedID uint) (*MergeResult, error) {
	if primaryID == mergedID {
		return nil, ErrSelfMerge
	}

	primary, err := s.store.GetPerson(ctx, userID, primaryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPersonNotFound
	}
	if err != nil {
		return nil, err
	}

	merged, err := s.store.GetPerson(ctx, userID, mergedID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPersonNotFound
	}
	if err != nil {
		return nil, err
	}

	detail := &model.MergeDetail{
		PrimaryName: primary.Name,
		MergedName:  merged.Name,
		PrimaryUID:  primary.UID,
		MergedUID:   merged.UID,
	}

	var logID uint
	err = s.store.Transaction(ctx, func(tx store.Store) error {
		moved, err := tx.RepointMoments(ctx, merged.ID, primary.ID)
		if err != nil {
			return err
		}
		detail.MomentsMoved = int(moved)

		participants, err := tx.ListParticipantsByPerson(ctx, merged.ID)
		if err != nil {
			return err
		}
		for _, participant := range participants {
			exists, err := tx.ParticipantExists(ctx, participant.MomentID, primary.ID)
			if err != nil {
				return err
			}
			if exists {
				if err := tx.DeleteParticipant(ctx, participant.ID); err != nil {
					return err
				}
				detail.DuplicatesDropped++
				detail.DroppedParticipantMomentIDs = append(detail.DroppedParticipantMomentIDs, participant.MomentID)
				continue
			}
			if err := tx.RepointParticipant(ctx, participant.ID, primary.ID); err != nil {
				return err
			}
			detail.ParticipantsMoved++
		}

		links, err := tx.ListLinksByPerson(ctx, merged.ID)
		if err != nil {
			return err
		}
		for _, link := range links {
			_, err := tx.GetLinkByPerson(ctx, link.ConnectionID, primary.ID)
			if err == nil {
				// primary already holds a link on this connection, the
				// merged person's link is dropped
				if err := tx.DeleteLink(ctx, link.ID); err != nil {
					return err
				}
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			link.PersonID = primary.ID
			if err := tx.UpdatePersonLink(ctx, link); err != nil {
				return err
			}
			detail.LinksRepointed++
		}

		if err := tx.MarkMerged(ctx, merged.ID, primary.ID); err != nil {
			return err
		}

		payload, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		log := &model.MergeLog{
			UserID:    userID,
			PrimaryID: primary.ID,
			MergedID:  merged.ID,
			Detail:    payload,
		}
		if err := tx.CreateMergeLog(ctx, log); err != nil {
			return err
		}
		logID = log.ID
		return nil
	})
	if err != nil {
		logrus.Errorf("error merging person %d into %d: %v", mergedID, primaryID, err)
		return nil, err
	}

	logrus.Infof("merged person %q into %q: moments=%d participants=%d dropped=%d links=%d",
		merged.Name, primary.Name, detail.MomentsMoved, detail.ParticipantsMoved, detail.DuplicatesDropped, detail.LinksRepointed)

	return &MergeResult{
		LogID:             logID,
		MomentsMoved:      detail.MomentsMoved,
		ParticipantsMoved: detail.ParticipantsMoved,
		DuplicatesDropped: detail.DuplicatesDropped,
		LinksRepointed:    detail.LinksRepointed,
	}, nil
}

// Undo reverses a recorded merge best-effort: the merged person is
// revived and the exact duplicate participant rows dropped during the
// merge are restored. Moments and links repointed during the merge stay
// with the primary, since edits made after the merge cannot be
// disentangled from the original ownership.
func (s *MergeService) Undo(ctx context.Context, userID, logID uint) error {
	log, err := s.store.GetMergeLog(ctx, userID, logID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMergeLogNotFound
	}
	if err != nil {
		return err
	}
	if log.UndoneAt != nil {
		return ErrMergeUndone
	}

	detail, err := log.DecodeDetail()
	if err != nil {
		return err
	}

	return s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.UnmarkMerged(ctx, log.MergedID); err != nil {
			return err
		}

		for _, momentID := range detail.DroppedParticipantMomentIDs {
			exists, err := tx.ParticipantExists(ctx, momentID, log.MergedID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := tx.CreateParticipant(ctx, &model.MomentParticipant{
				MomentID: momentID,
				PersonID: log.MergedID,
			}); err != nil {
				return err
			}
		}

		now := time.Now()
		log.UndoneAt = &now
		return tx.UpdateMergeLog(ctx, log)
	})
}
