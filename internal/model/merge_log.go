package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// MergeLog records one person merge so it can be reversed. Detail keeps the
// exact dropped duplicate participant rows, which makes undo restore them
// precisely instead of guessing from counts.
type MergeLog struct {
	gorm.Model
	UserID    uint `gorm:"not null;index"`
	PrimaryID uint `gorm:"not null"`
	MergedID  uint `gorm:"not null"`
	Detail    []byte
	UndoneAt  *time.Time
}

// MergeDetail is the JSON stored in MergeLog.Detail.
type MergeDetail struct {
	PrimaryName        string `json:"primary_name"`
	MergedName         string `json:"merged_name"`
	PrimaryUID         string `json:"primary_uid"`
	MergedUID          string `json:"merged_uid"`
	MomentsMoved       int    `json:"moments_moved"`
	ParticipantsMoved  int    `json:"participants_moved"`
	DuplicatesDropped  int    `json:"duplicates_dropped"`
	LinksRepointed     int    `json:"links_repointed"`
	// DroppedParticipantMomentIDs lists the moments whose duplicate
	// participant row for the merged person was removed in step 2.
	DroppedParticipantMomentIDs []uint `json:"dropped_participant_moment_ids,omitempty"`
}

func (m *MergeLog) DecodeDetail() (*MergeDetail, error) {
	detail := &MergeDetail{}
	if err := json.Unmarshal(m.Detail, detail); err != nil {
		return nil, err
	}
	return detail, nil
}
