package store

import (
	"context"
	"time"

	"github.com/kinfolk/kinsync/internal/model"
	"gorm.io/gorm"
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db: db,
	}
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	db *gorm.DB
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

func (g *GormStore) Transaction(ctx context.Context, f func(tx Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f(&GormStore{db: tx})
	})
}

func (g *GormStore) CreatePerson(ctx context.Context, person *model.Person) error {
	return g.db.WithContext(ctx).Create(person).Error
}

func (g *GormStore) GetPerson(ctx context.Context, userID, id uint) (*model.Person, error) {
	var person model.Person
	err := g.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&person).Error
	if err != nil {
		return nil, err
	}
	return &person, nil
}

func (g *GormStore) GetPersonByUID(ctx context.Context, userID uint, uid string) (*model.Person, error) {
	var person model.Person
	err := g.db.WithContext(ctx).Where("user_id = ? AND uid = ?", userID, uid).First(&person).Error
	if err != nil {
		return nil, err
	}
	return &person, nil
}

func (g *GormStore) ListPeople(ctx context.Context, userID uint, limit int) ([]*model.Person, error) {
	people := make([]*model.Person, 0)
	q := g.db.WithContext(ctx).Where("user_id = ?", userID).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&people).Error
	return people, err
}

func (g *GormStore) UpdatePerson(ctx context.Context, person *model.Person) error {
	return g.db.WithContext(ctx).Save(person).Error
}

func (g *GormStore) MarkMerged(ctx context.Context, id, intoID uint) error {
	err := g.db.WithContext(ctx).Model(&model.Person{}).Where("id = ?", id).Update("merged_into_id", intoID).Error
	if err != nil {
		return err
	}

	return g.db.WithContext(ctx).Delete(&model.Person{}, id).Error
}

func (g *GormStore) UnmarkMerged(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Unscoped().Model(&model.Person{}).Where("id = ?", id).
		Updates(map[string]interface{}{"merged_into_id": nil, "deleted_at": nil}).Error
}

func (g *GormStore) CreateMoment(ctx context.Context, moment *model.Moment) error {
	return g.db.WithContext(ctx).Create(moment).Error
}

func (g *GormStore) GetMomentByUID(ctx context.Context, userID uint, uid string) (*model.Moment, error) {
	var moment model.Moment
	err := g.db.WithContext(ctx).Where("user_id = ? AND uid = ?", userID, uid).First(&moment).Error
	if err != nil {
		return nil, err
	}
	return &moment, nil
}

func (g *GormStore) UpdateMoment(ctx context.Context, moment *model.Moment) error {
	return g.db.WithContext(ctx).Save(moment).Error
}

func (g *GormStore) DeleteMoment(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Delete(&model.Moment{}, id).Error
}

func (g *GormStore) ListMomentsByOwner(ctx context.Context, personID uint) ([]*model.Moment, error) {
	moments := make([]*model.Moment, 0)
	err := g.db.WithContext(ctx).Where("person_id = ?", personID).Order("id asc").Find(&moments).Error
	return moments, err
}

func (g *GormStore) RepointMoments(ctx context.Context, fromPersonID, toPersonID uint) (int64, error) {
	res := g.db.WithContext(ctx).Model(&model.Moment{}).Where("person_id = ?", fromPersonID).
		Update("person_id", toPersonID)
	return res.RowsAffected, res.Error
}

func (g *GormStore) CreateParticipant(ctx context.Context, participant *model.MomentParticipant) error {
	return g.db.WithContext(ctx).Create(participant).Error
}

func (g *GormStore) ListParticipants(ctx context.Context, momentID uint) ([]*model.MomentParticipant, error) {
	rows := make([]*model.MomentParticipant, 0)
	err := g.db.WithContext(ctx).Where("moment_id = ?", momentID).Order("id asc").Find(&rows).Error
	return rows, err
}

func (g *GormStore) ListParticipantsByPerson(ctx context.Context, personID uint) ([]*model.MomentParticipant, error) {
	rows := make([]*model.MomentParticipant, 0)
	err := g.db.WithContext(ctx).Where("person_id = ?", personID).Order("id asc").Find(&rows).Error
	return rows, err
}

func (g *GormStore) ParticipantExists(ctx context.Context, momentID, personID uint) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.MomentParticipant{}).
		Where("moment_id = ? AND person_id = ?", momentID, personID).Count(&count).Error
	return count > 0, err
}

func (g *GormStore) RepointParticipant(ctx context.Context, id, toPersonID uint) error {
	return g.db.WithContext(ctx).Model(&model.MomentParticipant{}).Where("id = ?", id).
		Update("person_id", toPersonID).Error
}

func (g *GormStore) DeleteParticipant(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Delete(&model.MomentParticipant{}, id).Error
}

func (g *GormStore) ReplaceParticipants(ctx context.Context, momentID uint, personIDs []uint) error {
	err := g.db.WithContext(ctx).Where("moment_id = ?", momentID).Delete(&model.MomentParticipant{}).Error
	if err != nil {
		return err
	}

	for _, personID := range personIDs {
		row := &model.MomentParticipant{MomentID: momentID, PersonID: personID}
		if err := g.db.WithContext(ctx).Create(row).Error; err != nil {
			return err
		}
	}

	return nil
}

func (g *GormStore) CreateConnection(ctx context.Context, conn *model.Connection) error {
	return g.db.WithContext(ctx).Create(conn).Error
}

func (g *GormStore) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	var conn model.Connection
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (g *GormStore) ListConnections(ctx context.Context, userID uint) ([]*model.Connection, error) {
	conns := make([]*model.Connection, 0)
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&conns).Error
	return conns, err
}

func (g *GormStore) ListActiveConnections(ctx context.Context) ([]*model.Connection, error) {
	conns := make([]*model.Connection, 0)
	err := g.db.WithContext(ctx).Where("status = ?", model.ConnectionStatusActive).Find(&conns).Error
	return conns, err
}

func (g *GormStore) RevokeConnection(ctx context.Context, id string, now time.Time) (bool, error) {
	res := g.db.WithContext(ctx).Model(&model.Connection{}).
		Where("id = ? AND status = ?", id, model.ConnectionStatusActive).
		Updates(map[string]interface{}{"status": model.ConnectionStatusRevoked, "revoked_at": now})
	if res.Error != nil {
		return false, res.Error
	}

	if res.RowsAffected > 0 {
		return false, nil
	}

	// nothing flipped: either unknown or already revoked
	if _, err := g.GetConnection(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (g *GormStore) CreatePairingCode(ctx context.Context, code *model.PairingCode) error {
	return g.db.WithContext(ctx).Create(code).Error
}

func (g *GormStore) ConsumePairingCode(ctx context.Context, code string, now time.Time) (*model.PairingCode, error) {
	// single conditional update, the guard against double consumption
	res := g.db.WithContext(ctx).Model(&model.PairingCode{}).
		Where("code = ? AND consumed_at IS NULL AND expires_at > ?", code, now).
		Update("consumed_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	var pc model.PairingCode
	if err := g.db.WithContext(ctx).Where("code = ?", code).First(&pc).Error; err != nil {
		return nil, err
	}
	return &pc, nil
}

func (g *GormStore) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	res := g.db.WithContext(ctx).Unscoped().
		Where("expires_at <= ? AND consumed_at IS NULL", now).
		Delete(&model.PairingCode{})
	return res.RowsAffected, res.Error
}

func (g *GormStore) AppendEvent(ctx context.Context, event *model.OutboxEvent) error {
	return g.db.WithContext(ctx).Create(event).Error
}

func (g *GormStore) ListEventsAfter(ctx context.Context, connectionID string, sinceID uint64, limit int) ([]*model.OutboxEvent, error) {
	events := make([]*model.OutboxEvent, 0)
	q := g.db.WithContext(ctx).Where("connection_id = ? AND id > ?", connectionID, sinceID).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

func (g *GormStore) HasEvent(ctx context.Context, connectionID, entityType, entityUID string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("connection_id = ? AND entity_type = ? AND entity_uid = ?", connectionID, entityType, entityUID).
		Count(&count).Error
	return count > 0, err
}

func (g *GormStore) GetCursor(ctx context.Context, connectionID, direction string) (uint64, error) {
	var cursor model.SyncCursor
	err := g.db.WithContext(ctx).Where("connection_id = ? AND direction = ?", connectionID, direction).
		First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.LastOutboxID, nil
}

func (g *GormStore) SetCursor(ctx context.Context, connectionID string, userID uint, direction string, lastOutboxID uint64) error {
	var cursor model.SyncCursor
	err := g.db.WithContext(ctx).Where("connection_id = ? AND direction = ?", connectionID, direction).
		First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		cursor = model.SyncCursor{
			ConnectionID: connectionID,
			UserID:       userID,
			Direction:    direction,
			LastOutboxID: lastOutboxID,
		}
		return g.db.WithContext(ctx).Create(&cursor).Error
	}
	if err != nil {
		return err
	}

	cursor.LastOutboxID = lastOutboxID
	return g.db.WithContext(ctx).Save(&cursor).Error
}

func (g *GormStore) UpsertPersonLink(ctx context.Context, link *model.PersonLink) error {
	existing, err := g.GetLinkByPerson(ctx, link.ConnectionID, link.PersonID)
	if err == gorm.ErrRecordNotFound {
		return g.db.WithContext(ctx).Create(link).Error
	}
	if err != nil {
		return err
	}

	existing.RemoteUID = link.RemoteUID
	existing.Status = link.Status
	existing.Source = link.Source
	existing.Enabled = link.Enabled
	link.ID = existing.ID
	return g.db.WithContext(ctx).Save(existing).Error
}

func (g *GormStore) GetLinkByPerson(ctx context.Context, connectionID string, personID uint) (*model.PersonLink, error) {
	var link model.PersonLink
	err := g.db.WithContext(ctx).Where("connection_id = ? AND person_id = ?", connectionID, personID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (g *GormStore) GetLinkByRemoteUID(ctx context.Context, connectionID, remoteUID string) (*model.PersonLink, error) {
	var link model.PersonLink
	err := g.db.WithContext(ctx).Where("connection_id = ? AND remote_uid = ?", connectionID, remoteUID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (g *GormStore) ListLinks(ctx context.Context, connectionID string) ([]*model.PersonLink, error) {
	links := make([]*model.PersonLink, 0)
	err := g.db.WithContext(ctx).Where("connection_id = ?", connectionID).Order("id asc").Find(&links).Error
	return links, err
}

func (g *GormStore) ListLinksByPerson(ctx context.Context, personID uint) ([]*model.PersonLink, error) {
	links := make([]*model.PersonLink, 0)
	err := g.db.WithContext(ctx).Where("person_id = ?", personID).Find(&links).Error
	return links, err
}

func (g *GormStore) UpdatePersonLink(ctx context.Context, link *model.PersonLink) error {
	return g.db.WithContext(ctx).Save(link).Error
}

func (g *GormStore) DeleteLink(ctx context.Context, id uint) error {
	// hard delete, a detached link must not shadow future re-links through
	// the unique indexes
	return g.db.WithContext(ctx).Unscoped().Delete(&model.PersonLink{}, id).Error
}

func (g *GormStore) CreateConflict(ctx context.Context, conflict *model.Conflict) error {
	return g.db.WithContext(ctx).Create(conflict).Error
}

func (g *GormStore) GetConflict(ctx context.Context, id uint) (*model.Conflict, error) {
	var conflict model.Conflict
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&conflict).Error
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}

func (g *GormStore) ListOpenConflicts(ctx context.Context, userID uint) ([]*model.Conflict, error) {
	conflicts := make([]*model.Conflict, 0)
	sub := g.db.Model(&model.Connection{}).Select("id").Where("user_id = ?", userID)
	err := g.db.WithContext(ctx).
		Where("resolution = ? AND connection_id IN (?)", "", sub).
		Order("created_at asc").Find(&conflicts).Error
	return conflicts, err
}

func (g *GormStore) UpdateConflict(ctx context.Context, conflict *model.Conflict) error {
	return g.db.WithContext(ctx).Save(conflict).Error
}

func (g *GormStore) CreateMergeLog(ctx context.Context, log *model.MergeLog) error {
	return g.db.WithContext(ctx).Create(log).Error
}

func (g *GormStore) GetMergeLog(ctx context.Context, userID, id uint) (*model.MergeLog, error) {
	var log model.MergeLog
	err := g.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (g *GormStore) UpdateMergeLog(ctx context.Context, log *model.MergeLog) error {
	return g.db.WithContext(ctx).Save(log).Error
}

func (g *GormStore) CreateIntent(ctx context.Context, intent *model.SyncIntent) error {
	return g.db.WithContext(ctx).Create(intent).Error
}

func (g *GormStore) UpdateIntent(ctx context.Context, intent *model.SyncIntent) error {
	return g.db.WithContext(ctx).Save(intent).Error
}

func (g *GormStore) ListPendingIntents(ctx context.Context, before time.Time, limit int) ([]*model.SyncIntent, error) {
	intents := make([]*model.SyncIntent, 0)
	q := g.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.IntentStatusPending, before).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&intents).Error
	return intents, err
}
