package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	v1 "github.com/kinfolk/kinsync/api/v1"
	"github.com/kinfolk/kinsync/internal/client"
	"github.com/kinfolk/kinsync/internal/mapping"
	"github.com/kinfolk/kinsync/internal/model"
	"github.com/kinfolk/kinsync/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const remotePeopleLimit = 500

// PeopleCache caches the counterpart people listing per connection. A nil
// cache disables caching, every call hits the peer.
type PeopleCache interface {
	GetPeople(ctx context.Context, connectionID string) ([]v1.PersonSnapshot, error)
	SetPeople(ctx context.Context, connectionID string, people []v1.PersonSnapshot) error
	Invalidate(ctx context.Context, connectionID string) error
}

// NewMappingService creates a new MappingService.
func NewMappingService(store store.Store, peer client.Peer, cache PeopleCache) *MappingService {
	return &MappingService{
		store: store,
		peer:  peer,
		cache: cache,
	}
}

// MappingService builds the two anchored views of the person identity map,
// runs the suggestion engine over the unmapped remainder, and activates a
// staged mapping into durable links.
type MappingService struct {
	store store.Store
	peer  client.Peer
	cache PeopleCache
}

// RemotePeople fetches the counterpart's people listing, served from cache
// when fresh.
func (m *MappingService) RemotePeople(ctx context.Context, conn *model.Connection) ([]v1.PersonSnapshot, error) {
	if m.cache != nil {
		people, err := m.cache.GetPeople(ctx, conn.ID)
		if err != nil {
			logrus.Errorf("error reading people cache for connection %s: %v", conn.ID, err)
		} else if people != nil {
			return people, nil
		}
	}

	res, err := m.peer.ListPeople(ctx, conn, remotePeopleLimit)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		if err := m.cache.SetPeople(ctx, conn.ID, res.People); err != nil {
			logrus.Errorf("error caching people for connection %s: %v", conn.ID, err)
		}
	}

	return res.People, nil
}

// LocalPeople serves this side's people listing to the counterpart's
// mapping screen.
func (m *MappingService) LocalPeople(ctx context.Context, userID uint, limit int) ([]v1.PersonSnapshot, error) {
	if limit <= 0 || limit > remotePeopleLimit {
		limit = remotePeopleLimit
	}

	people, err := m.store.ListPeople(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	snapshots := make([]v1.PersonSnapshot, 0, len(people))
	for _, p := range people {
		snapshots = append(snapshots, *personSnapshot(p))
	}
	return snapshots, nil
}

// CreateLocalPerson handles the counterpart's mirror-person call,
// idempotent on UID so a retried intent cannot duplicate anyone.
func (m *MappingService) CreateLocalPerson(ctx context.Context, userID uint, req *v1.CreatePersonRequest) (*v1.CreatePersonResponse, error) {
	if req.UID == "" || req.Name == "" {
		return nil, ErrMissingField
	}

	existing, err := m.store.GetPersonByUID(ctx, userID, req.UID)
	if err == nil {
		return &v1.CreatePersonResponse{UID: existing.UID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	person := &model.Person{
		UID:               req.UID,
		UserID:            userID,
		Name:              req.Name,
		RelationshipLabel: req.RelationshipLabel,
		EditedAt:          time.Now(),
	}
	if err := m.store.CreatePerson(ctx, person); err != nil {
		return nil, err
	}
	return &v1.CreatePersonResponse{UID: person.UID}, nil
}

// PlanItem is one row of an anchored mapping view. Key is the person UID
// on its own side.
type PlanItem struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Disposition string `json:"disposition"`
	PartnerKey  string `json:"partner_key,omitempty"`
	Source      string `json:"source,omitempty"`
}

// PlanSuggestion is one fuzzy-match proposal over the unmapped remainder.
type PlanSuggestion struct {
	LocalKey   string  `json:"local_key"`
	LocalName  string  `json:"local_name"`
	RemoteKey  string  `json:"remote_key"`
	RemoteName string  `json:"remote_name"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
}

// Plan is the staged mapping presented for review: both anchored views
// over the same underlying map, plus the suggestions already applied to
// it.
type Plan struct {
	ConnectionID string           `json:"connection_id"`
	Local        []PlanItem       `json:"local"`
	Remote       []PlanItem       `json:"remote"`
	Suggestions  []PlanSuggestion `json:"suggestions"`
}

// BuildPlan seeds a staged map with the durable links, runs the suggestion
// engine over what remains unmapped, and returns both views. Suggestions
// are staged, not durable; nothing changes until Activate.
func (m *MappingService) BuildPlan(ctx context.Context, userID uint, connectionID string) (*Plan, error) {
	conn, people, remotes, links, err := m.load(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}

	staged, _, err := m.seed(people, remotes, links)
	if err != nil {
		return nil, err
	}

	unmappedLocal := unmapped(staged, mapping.SideLocal)
	unmappedRemote := unmapped(staged, mapping.SideRemote)
	names := map[string]string{}
	for _, e := range unmappedLocal {
		names["l:"+e.Key] = e.Name
	}
	for _, e := range unmappedRemote {
		names["r:"+e.Key] = e.Name
	}

	suggestions := make([]PlanSuggestion, 0)
	for _, s := range mapping.Suggest(unmappedLocal, unmappedRemote) {
		if _, err := staged.Link(s.LocalKey, s.RemoteKey, model.LinkSourceSuggested); err != nil {
			return nil, err
		}
		suggestions = append(suggestions, PlanSuggestion{
			LocalKey:   s.LocalKey,
			LocalName:  names["l:"+s.LocalKey],
			RemoteKey:  s.RemoteKey,
			RemoteName: names["r:"+s.RemoteKey],
			Score:      s.Score,
			Reason:     s.Reason,
		})
	}

	return &Plan{
		ConnectionID: conn.ID,
		Local:        planView(staged, mapping.SideLocal),
		Remote:       planView(staged, mapping.SideRemote),
		Suggestions:  suggestions,
	}, nil
}

// ActivationEntry is one user decision applied on top of the durable
// state before activation.
type ActivationEntry struct {
	Side       string `json:"side"`
	Key        string `json:"key"`
	Action     string `json:"action"` // link, create, do_not_sync
	PartnerKey string `json:"partner_key,omitempty"`
}

const (
	ActionLink      = "link"
	ActionCreate    = "create"
	ActionDoNotSync = "do_not_sync"
)

// ActivationResult reports what Activate persisted.
type ActivationResult struct {
	Linked         int      `json:"linked"`
	Excluded       int      `json:"excluded"`
	CreatedRemote  int      `json:"created_remote"`
	CreatedLocal   int      `json:"created_local"`
	Detached       int      `json:"detached"`
	PendingIntents int      `json:"pending_intents"`
	Notices        []string `json:"notices,omitempty"`
}

// Activate replays the durable links into a staged map, applies the
// user's entries on top, then persists the result: pairings become linked
// rows, excludes become disabled rows, and creates are mirrored to the
// other side. Remote creation goes through a persisted intent first, so a
// mid-flight failure leaves a pending row instead of an unlinked orphan.
func (m *MappingService) Activate(ctx context.Context, userID uint, connectionID string, entries []ActivationEntry) (*ActivationResult, error) {
	conn, people, remotes, links, err := m.load(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}

	staged, byUID, err := m.seed(people, remotes, links)
	if err != nil {
		return nil, err
	}

	result := &ActivationResult{Notices: make([]string, 0)}
	for _, entry := range entries {
		notices, err := m.applyEntry(staged, entry)
		if err != nil {
			return nil, err
		}
		result.Notices = append(result.Notices, notices...)
	}

	remoteByUID := map[string]v1.PersonSnapshot{}
	for _, r := range remotes {
		remoteByUID[r.UID] = r
	}

	// desired holds the link row every local person ends up with. Rows
	// that disagree with it are detached before any upsert runs, inside
	// one transaction, so a remote UID moving between persons never
	// collides with the row it is leaving behind.
	desired := desiredLinks(staged, byUID)

	err = m.store.Transaction(ctx, func(tx store.Store) error {
		if err := m.detachDisplaced(ctx, tx, conn, desired, result); err != nil {
			return err
		}
		if err := m.persistPairings(ctx, tx, conn, staged, byUID, result); err != nil {
			return err
		}
		return m.persistExcludes(ctx, tx, conn, staged, byUID, result)
	})
	if err != nil {
		return nil, err
	}

	// peer calls stay outside the transaction, a mid-flight failure
	// leaves a pending intent rather than holding the write lock open
	if err := m.createRemote(ctx, conn, staged, byUID, result); err != nil {
		return nil, err
	}
	if err := m.createLocal(ctx, conn, staged, remoteByUID, result); err != nil {
		return nil, err
	}

	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, conn.ID); err != nil {
			logrus.Errorf("error invalidating people cache for connection %s: %v", conn.ID, err)
		}
	}

	logrus.Infof("mapping activated on connection %s: linked=%d excluded=%d created_remote=%d created_local=%d detached=%d",
		conn.ID, result.Linked, result.Excluded, result.CreatedRemote, result.CreatedLocal, result.Detached)
	return result, nil
}

func (m *MappingService) load(ctx context.Context, userID uint, connectionID string) (*model.Connection, []*model.Person, []v1.PersonSnapshot, []*model.PersonLink, error) {
	conn, err := m.store.GetConnection(ctx, connectionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil, nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if conn.UserID != userID {
		return nil, nil, nil, nil, ErrConnectionNotFound
	}
	if !conn.Active() {
		return nil, nil, nil, nil, ErrConnectionRevoked
	}

	people, err := m.store.ListPeople(ctx, userID, 0)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	remotes, err := m.RemotePeople(ctx, conn)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	links, err := m.store.ListLinks(ctx, conn.ID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return conn, people, remotes, links, nil
}

// seed builds a staged map from the local and remote people, replaying the
// durable links and excludes onto it. Returns the map plus the person
// lookup by UID.
func (m *MappingService) seed(people []*model.Person, remotes []v1.PersonSnapshot, links []*model.PersonLink) (*mapping.StagedMap, map[string]*model.Person, error) {
	locals := make([]mapping.Entry, 0, len(people))
	byUID := map[string]*model.Person{}
	byID := map[uint]*model.Person{}
	for _, p := range people {
		locals = append(locals, mapping.Entry{Key: p.UID, Name: p.Name})
		byUID[p.UID] = p
		byID[p.ID] = p
	}

	remoteEntries := make([]mapping.Entry, 0, len(remotes))
	remoteUIDs := map[string]bool{}
	for _, r := range remotes {
		remoteEntries = append(remoteEntries, mapping.Entry{Key: r.UID, Name: r.Name})
		remoteUIDs[r.UID] = true
	}

	staged := mapping.NewStagedMap(locals, remoteEntries)

	for _, link := range links {
		person := byID[link.PersonID]
		if person == nil {
			continue
		}

		switch link.Status {
		case model.LinkStatusLinked:
			if !remoteUIDs[link.RemoteUID] {
				// the counterpart person is gone from the listing, the
				// stale link is cleaned up at activation
				continue
			}
			if _, err := staged.Link(person.UID, link.RemoteUID, link.Source); err != nil {
				return nil, nil, err
			}
		case model.LinkStatusExcluded:
			if _, err := staged.Exclude(mapping.SideLocal, person.UID); err != nil {
				return nil, nil, err
			}
		}
	}

	return staged, byUID, nil
}

func (m *MappingService) applyEntry(staged *mapping.StagedMap, entry ActivationEntry) ([]string, error) {
	side := mapping.SideLocal
	if entry.Side == string(mapping.SideRemote) {
		side = mapping.SideRemote
	}

	switch entry.Action {
	case ActionLink:
		localKey, remoteKey := entry.Key, entry.PartnerKey
		if side == mapping.SideRemote {
			localKey, remoteKey = entry.PartnerKey, entry.Key
		}
		return staged.Link(localKey, remoteKey, model.LinkSourceManual)
	case ActionCreate:
		return staged.SetCreate(side, entry.Key)
	case ActionDoNotSync:
		return staged.Exclude(side, entry.Key)
	default:
		return nil, ErrInvalidMappingAction
	}
}

// desiredLinks flattens the activated map into the link row each local
// person should hold afterwards: the paired remote UID, the exclude
// sentinel, or the person's own UID for a pending mirror.
func desiredLinks(staged *mapping.StagedMap, byUID map[string]*model.Person) map[uint]string {
	desired := map[uint]string{}
	for _, view := range staged.View(mapping.SideLocal) {
		person := byUID[view.Key]
		if person == nil {
			continue
		}
		switch view.Disposition {
		case mapping.DispositionLinked:
			desired[person.ID] = view.PartnerKey
		case mapping.DispositionExclude:
			desired[person.ID] = model.ExcludedRemoteUID(person.UID)
		case mapping.DispositionCreate:
			desired[person.ID] = person.UID
		}
	}
	return desired
}

// detachDisplaced removes every durable link the activated map disagrees
// with, including links to counterpart people that vanished from the
// listing. Running before the upserts keeps a reassigned remote UID from
// colliding with the row it used to occupy.
func (m *MappingService) detachDisplaced(ctx context.Context, tx store.Store, conn *model.Connection, desired map[uint]string, result *ActivationResult) error {
	links, err := tx.ListLinks(ctx, conn.ID)
	if err != nil {
		return err
	}

	for _, link := range links {
		if desired[link.PersonID] == link.RemoteUID {
			continue
		}
		if err := tx.DeleteLink(ctx, link.ID); err != nil {
			return err
		}
		result.Detached++
	}
	return nil
}

func (m *MappingService) persistPairings(ctx context.Context, tx store.Store, conn *model.Connection, staged *mapping.StagedMap, byUID map[string]*model.Person, result *ActivationResult) error {
	for _, pair := range staged.Pairings() {
		person := byUID[pair.LocalKey]
		if person == nil {
			continue
		}

		link := &model.PersonLink{
			ConnectionID: conn.ID,
			PersonID:     person.ID,
			RemoteUID:    pair.RemoteKey,
			Status:       model.LinkStatusLinked,
			Source:       pair.Source,
			Enabled:      true,
		}
		if link.Source == "" {
			link.Source = model.LinkSourceManual
		}
		if err := tx.UpsertPersonLink(ctx, link); err != nil {
			return err
		}
		result.Linked++
	}
	return nil
}

func (m *MappingService) persistExcludes(ctx context.Context, tx store.Store, conn *model.Connection, staged *mapping.StagedMap, byUID map[string]*model.Person, result *ActivationResult) error {
	for _, view := range staged.View(mapping.SideLocal) {
		if view.Disposition != mapping.DispositionExclude {
			continue
		}
		person := byUID[view.Key]
		if person == nil {
			continue
		}

		link := &model.PersonLink{
			ConnectionID: conn.ID,
			PersonID:     person.ID,
			RemoteUID:    model.ExcludedRemoteUID(person.UID),
			Status:       model.LinkStatusExcluded,
			Source:       model.LinkSourceManual,
			Enabled:      false,
		}
		if err := tx.UpsertPersonLink(ctx, link); err != nil {
			return err
		}
		result.Excluded++
	}
	return nil
}

// createRemote mirrors unmapped local people onto the counterpart. The
// intent row is written first; a peer failure leaves it pending for the
// retry job and does not abort the rest of the activation.
func (m *MappingService) createRemote(ctx context.Context, conn *model.Connection, staged *mapping.StagedMap, byUID map[string]*model.Person, result *ActivationResult) error {
	for _, view := range staged.View(mapping.SideLocal) {
		if view.Disposition != mapping.DispositionCreate {
			continue
		}
		person := byUID[view.Key]
		if person == nil {
			continue
		}

		intent, err := m.recordCreateIntent(ctx, conn, person)
		if err != nil {
			return err
		}

		if err := m.DriveCreateIntent(ctx, conn, intent); err != nil {
			logrus.Errorf("error creating %q on counterpart of connection %s: %v", person.Name, conn.ID, err)
			result.PendingIntents++
			continue
		}
		result.CreatedRemote++
	}
	return nil
}

func (m *MappingService) recordCreateIntent(ctx context.Context, conn *model.Connection, person *model.Person) (*model.SyncIntent, error) {
	payload, err := json.Marshal(&v1.CreatePersonRequest{
		UID:               person.UID,
		Name:              person.Name,
		RelationshipLabel: person.RelationshipLabel,
	})
	if err != nil {
		return nil, err
	}

	intent := &model.SyncIntent{
		ConnectionID: conn.ID,
		Kind:         model.IntentCreateRemotePerson,
		Payload:      payload,
		Status:       model.IntentStatusPending,
	}
	if err := m.store.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// DriveCreateIntent performs one attempt of a create-remote-person intent:
// peer call, then link, then done. Any failure updates the attempt
// counters and leaves the intent pending.
func (m *MappingService) DriveCreateIntent(ctx context.Context, conn *model.Connection, intent *model.SyncIntent) error {
	var req v1.CreatePersonRequest
	if err := json.Unmarshal(intent.Payload, &req); err != nil {
		intent.Status = model.IntentStatusFailed
		intent.LastError = err.Error()
		if uerr := m.store.UpdateIntent(ctx, intent); uerr != nil {
			return uerr
		}
		return err
	}

	intent.Attempts++

	res, err := m.peer.CreatePerson(ctx, conn, &req)
	if err != nil {
		intent.LastError = err.Error()
		if uerr := m.store.UpdateIntent(ctx, intent); uerr != nil {
			return uerr
		}
		return err
	}

	person, err := m.store.GetPersonByUID(ctx, conn.UserID, req.UID)
	if err != nil {
		intent.LastError = err.Error()
		if uerr := m.store.UpdateIntent(ctx, intent); uerr != nil {
			return uerr
		}
		return err
	}

	link := &model.PersonLink{
		ConnectionID: conn.ID,
		PersonID:     person.ID,
		RemoteUID:    res.UID,
		Status:       model.LinkStatusLinked,
		Source:       model.LinkSourceManual,
		Enabled:      true,
	}
	if err := m.store.UpsertPersonLink(ctx, link); err != nil {
		intent.LastError = err.Error()
		if uerr := m.store.UpdateIntent(ctx, intent); uerr != nil {
			return uerr
		}
		return err
	}

	now := time.Now()
	intent.Status = model.IntentStatusDone
	intent.LastError = ""
	intent.CompletedAt = &now
	return m.store.UpdateIntent(ctx, intent)
}

// ListPendingIntents exposes the pending intent backlog to the retry job.
func (m *MappingService) ListPendingIntents(ctx context.Context, before time.Time, limit int) ([]*model.SyncIntent, error) {
	return m.store.ListPendingIntents(ctx, before, limit)
}

// FailIntent permanently abandons an intent.
func (m *MappingService) FailIntent(ctx context.Context, intent *model.SyncIntent, reason string) error {
	intent.Status = model.IntentStatusFailed
	intent.LastError = reason
	return m.store.UpdateIntent(ctx, intent)
}

// createLocal mirrors unmapped counterpart people locally, adopting the
// counterpart's UID so history backfills under a shared identity.
func (m *MappingService) createLocal(ctx context.Context, conn *model.Connection, staged *mapping.StagedMap, remoteByUID map[string]v1.PersonSnapshot, result *ActivationResult) error {
	for _, view := range staged.View(mapping.SideRemote) {
		if view.Disposition != mapping.DispositionCreate {
			continue
		}
		snap, ok := remoteByUID[view.Key]
		if !ok {
			continue
		}

		person := &model.Person{
			UID:               snap.UID,
			UserID:            conn.UserID,
			Name:              snap.Name,
			RelationshipLabel: snap.RelationshipLabel,
			EditedAt:          snap.UpdatedAt,
		}
		if err := m.store.CreatePerson(ctx, person); err != nil {
			return err
		}

		link := &model.PersonLink{
			ConnectionID: conn.ID,
			PersonID:     person.ID,
			RemoteUID:    snap.UID,
			Status:       model.LinkStatusLinked,
			Source:       model.LinkSourceImport,
			Enabled:      true,
		}
		if err := m.store.UpsertPersonLink(ctx, link); err != nil {
			return err
		}
		result.CreatedLocal++
	}
	return nil
}

func unmapped(staged *mapping.StagedMap, side mapping.Side) []mapping.Entry {
	entries := make([]mapping.Entry, 0)
	for _, view := range staged.View(side) {
		if view.Disposition == mapping.DispositionCreate {
			entries = append(entries, mapping.Entry{Key: view.Key, Name: view.Name})
		}
	}
	return entries
}

func planView(staged *mapping.StagedMap, side mapping.Side) []PlanItem {
	items := make([]PlanItem, 0)
	for _, view := range staged.View(side) {
		items = append(items, PlanItem{
			Key:         view.Key,
			Name:        view.Name,
			Disposition: string(view.Disposition),
			PartnerKey:  view.PartnerKey,
			Source:      view.Source,
		})
	}
	return items
}
