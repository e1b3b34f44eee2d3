package mapping

import (
	"errors"
	"fmt"
)

type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Disposition is the state of one item in the staged map. Every item is in
// exactly one of these states.
type Disposition string

const (
	// DispositionLinked pairs the item with a specific counterpart.
	DispositionLinked Disposition = "linked"
	// DispositionCreate mirrors the item on the other side at activation.
	DispositionCreate Disposition = "create"
	// DispositionExclude keeps the item out of sync entirely.
	DispositionExclude Disposition = "do_not_sync"
)

var ErrUnknownItem = errors.New("unknown item")

type item struct {
	key         string
	name        string
	disposition Disposition
	partner     string
	source      string
}

// StagedMap is the single bidirectional staging structure behind both the
// local-anchored and remote-anchored mapping views. All edits go through
// one atomic Link/Exclude/SetCreate call so the two views can never
// diverge, and the 1:1 invariant holds by construction.
type StagedMap struct {
	locals  map[string]*item
	remotes map[string]*item
	// order of insertion, for stable views
	localOrder  []string
	remoteOrder []string
}

func NewStagedMap(locals, remotes []Entry) *StagedMap {
	m := &StagedMap{
		locals:  map[string]*item{},
		remotes: map[string]*item{},
	}
	for _, e := range locals {
		m.locals[e.Key] = &item{key: e.Key, name: e.Name, disposition: DispositionCreate}
		m.localOrder = append(m.localOrder, e.Key)
	}
	for _, e := range remotes {
		m.remotes[e.Key] = &item{key: e.Key, name: e.Name, disposition: DispositionCreate}
		m.remoteOrder = append(m.remoteOrder, e.Key)
	}
	return m
}

func (m *StagedMap) side(s Side) (map[string]*item, map[string]*item) {
	if s == SideLocal {
		return m.locals, m.remotes
	}
	return m.remotes, m.locals
}

// Link pairs a local item with a remote item, atomically releasing whatever
// either was linked to before. Returned notices describe displacements and
// are surfaced to the user.
func (m *StagedMap) Link(localKey, remoteKey, source string) ([]string, error) {
	local, ok := m.locals[localKey]
	if !ok {
		return nil, fmt.Errorf("%w: local %s", ErrUnknownItem, localKey)
	}
	remote, ok := m.remotes[remoteKey]
	if !ok {
		return nil, fmt.Errorf("%w: remote %s", ErrUnknownItem, remoteKey)
	}

	if local.disposition == DispositionLinked && local.partner == remoteKey {
		local.source = source
		remote.source = source
		return nil, nil
	}

	notices := make([]string, 0)
	if n := m.release(local, m.remotes); n != "" {
		notices = append(notices, n)
	}
	if n := m.release(remote, m.locals); n != "" {
		notices = append(notices, n)
	}

	local.disposition = DispositionLinked
	local.partner = remoteKey
	local.source = source
	remote.disposition = DispositionLinked
	remote.partner = localKey
	remote.source = source

	return notices, nil
}

// release detaches the item's current partner, returning a displacement
// notice when one was displaced.
func (m *StagedMap) release(it *item, partners map[string]*item) string {
	if it.disposition != DispositionLinked || it.partner == "" {
		it.disposition = DispositionCreate
		it.partner = ""
		return ""
	}

	partner := partners[it.partner]
	it.partner = ""
	it.disposition = DispositionCreate
	if partner == nil {
		return ""
	}

	partner.disposition = DispositionCreate
	partner.partner = ""
	partner.source = ""
	return fmt.Sprintf("%q is no longer matched with %q", partner.name, it.name)
}

// Exclude marks the item do-not-sync, releasing its partner if any.
func (m *StagedMap) Exclude(s Side, key string) ([]string, error) {
	items, partners := m.side(s)
	it, ok := items[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownItem, s, key)
	}

	notices := make([]string, 0)
	if n := m.release(it, partners); n != "" {
		notices = append(notices, n)
	}
	it.disposition = DispositionExclude
	return notices, nil
}

// SetCreate resets the item to be mirrored on the other side.
func (m *StagedMap) SetCreate(s Side, key string) ([]string, error) {
	items, partners := m.side(s)
	it, ok := items[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownItem, s, key)
	}

	notices := make([]string, 0)
	if n := m.release(it, partners); n != "" {
		notices = append(notices, n)
	}
	it.disposition = DispositionCreate
	return notices, nil
}

// ItemView is one row of an anchored view.
type ItemView struct {
	Key         string
	Name        string
	Disposition Disposition
	PartnerKey  string
	Source      string
}

func (m *StagedMap) View(s Side) []ItemView {
	items, _ := m.side(s)
	order := m.localOrder
	if s == SideRemote {
		order = m.remoteOrder
	}

	view := make([]ItemView, 0, len(order))
	for _, key := range order {
		it := items[key]
		view = append(view, ItemView{
			Key:         it.key,
			Name:        it.name,
			Disposition: it.disposition,
			PartnerKey:  it.partner,
			Source:      it.source,
		})
	}
	return view
}

// Pairing is one linked pair in the staged map.
type Pairing struct {
	LocalKey  string
	RemoteKey string
	Source    string
}

func (m *StagedMap) Pairings() []Pairing {
	pairs := make([]Pairing, 0)
	for _, key := range m.localOrder {
		it := m.locals[key]
		if it.disposition == DispositionLinked && it.partner != "" {
			pairs = append(pairs, Pairing{LocalKey: it.key, RemoteKey: it.partner, Source: it.source})
		}
	}
	return pairs
}

// Consistent verifies the 1:1 invariant: every linked item's partner is
// linked back to it and no partner is claimed twice.
func (m *StagedMap) Consistent() bool {
	seen := map[string]bool{}
	for _, it := range m.locals {
		if it.disposition != DispositionLinked {
			continue
		}
		partner, ok := m.remotes[it.partner]
		if !ok || partner.disposition != DispositionLinked || partner.partner != it.key {
			return false
		}
		if seen[it.partner] {
			return false
		}
		seen[it.partner] = true
	}
	for key, it := range m.remotes {
		if it.disposition == DispositionLinked && !seen[key] {
			return false
		}
	}
	return true
}
