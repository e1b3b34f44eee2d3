package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMap() *StagedMap {
	return NewStagedMap(
		[]Entry{{Key: "l1", Name: "Maria Garcia"}, {Key: "l2", Name: "Ana Silva"}},
		[]Entry{{Key: "r1", Name: "Garcia, Maria"}, {Key: "r2", Name: "Ana Silva"}},
	)
}

func TestStagedMapLink(t *testing.T) {
	m := newTestMap()

	notices, err := m.Link("l1", "r1", "manual")
	assert.NoError(t, err)
	assert.Empty(t, notices)
	assert.True(t, m.Consistent())

	pairs := m.Pairings()
	assert.Len(t, pairs, 1)
	assert.Equal(t, "r1", pairs[0].RemoteKey)

	local := m.View(SideLocal)
	assert.Equal(t, DispositionLinked, local[0].Disposition)
	assert.Equal(t, DispositionCreate, local[1].Disposition)
}

func TestStagedMapReassignReleasesBothSides(t *testing.T) {
	m := newTestMap()

	_, err := m.Link("l1", "r1", "suggested")
	assert.NoError(t, err)
	_, err = m.Link("l2", "r2", "suggested")
	assert.NoError(t, err)

	// moving l1 onto r2 must release r1 (l1's old partner) and l2 (r2's
	// old partner), with user-visible notices for both displacements
	notices, err := m.Link("l1", "r2", "manual")
	assert.NoError(t, err)
	assert.Len(t, notices, 2)
	assert.True(t, m.Consistent())

	pairs := m.Pairings()
	assert.Len(t, pairs, 1)
	assert.Equal(t, "l1", pairs[0].LocalKey)
	assert.Equal(t, "r2", pairs[0].RemoteKey)

	remote := m.View(SideRemote)
	assert.Equal(t, DispositionCreate, remote[0].Disposition)
	local := m.View(SideLocal)
	assert.Equal(t, DispositionCreate, local[1].Disposition)
}

func TestStagedMapOneToOneUnderManyReassignments(t *testing.T) {
	m := NewStagedMap(
		[]Entry{{Key: "l1"}, {Key: "l2"}, {Key: "l3"}},
		[]Entry{{Key: "r1"}, {Key: "r2"}, {Key: "r3"}},
	)

	moves := [][2]string{
		{"l1", "r1"}, {"l2", "r1"}, {"l1", "r2"}, {"l3", "r2"},
		{"l2", "r3"}, {"l1", "r1"}, {"l1", "r3"},
	}
	for _, mv := range moves {
		_, err := m.Link(mv[0], mv[1], "manual")
		assert.NoError(t, err)
		assert.True(t, m.Consistent())
	}

	// no remote claimed twice
	claimed := map[string]bool{}
	for _, p := range m.Pairings() {
		assert.False(t, claimed[p.RemoteKey])
		claimed[p.RemoteKey] = true
	}
}

func TestStagedMapExclude(t *testing.T) {
	m := newTestMap()

	_, err := m.Link("l1", "r1", "manual")
	assert.NoError(t, err)

	notices, err := m.Exclude(SideLocal, "l1")
	assert.NoError(t, err)
	assert.Len(t, notices, 1)

	local := m.View(SideLocal)
	assert.Equal(t, DispositionExclude, local[0].Disposition)
	remote := m.View(SideRemote)
	assert.Equal(t, DispositionCreate, remote[0].Disposition)
	assert.Empty(t, m.Pairings())
}

func TestStagedMapUnknownItem(t *testing.T) {
	m := newTestMap()

	_, err := m.Link("l1", "missing", "manual")
	assert.ErrorIs(t, err, ErrUnknownItem)

	_, err = m.Exclude(SideRemote, "nope")
	assert.ErrorIs(t, err, ErrUnknownItem)
}
