package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		a      string
		b      string
		score  float64
		reason string
	}{
		{name: "exact", a: "Maria Garcia", b: "maria garcia", score: 0.95, reason: "Exact match"},
		{name: "exact with extra whitespace", a: "Maria  Garcia ", b: "Maria Garcia", score: 0.95, reason: "Exact match"},
		{name: "reordered", a: "Maria Garcia", b: "Garcia, Maria", score: 0.90, reason: "Name reordered"},
		{name: "prefix", a: "Maria", b: "Maria Garcia", score: 0.80, reason: "Prefix match"},
		{name: "unrelated", a: "Bob", b: "Xenia Quill", score: 0},
		{name: "empty", a: "", b: "Maria", score: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, reason := Score(tt.a, tt.b)
			assert.InDelta(t, tt.score, score, 0.0001)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, reason)
			}
		})
	}
}

func TestScoreJaccardCapped(t *testing.T) {
	// same character set in a different arrangement that is neither a
	// reorder of whole tokens nor a prefix
	score, reason := Score("marta garcia", "magra tarcia")
	assert.True(t, score > 0)
	assert.True(t, score <= 0.75, "jaccard candidates are capped at 0.75, got %v", score)
	assert.Contains(t, reason, "% similar")
}

func TestSuggestReorderedName(t *testing.T) {
	locals := []Entry{{Key: "p1", Name: "Maria Garcia"}}
	remotes := []Entry{{Key: "r9", Name: "Garcia, Maria"}}

	got := Suggest(locals, remotes)
	assert.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].LocalKey)
	assert.Equal(t, "r9", got[0].RemoteKey)
	assert.InDelta(t, 0.90, got[0].Score, 0.0001)
	assert.Equal(t, "Name reordered", got[0].Reason)
}

func TestSuggestClaimsEachRemoteOnce(t *testing.T) {
	locals := []Entry{
		{Key: "p1", Name: "Ana Silva"},
		{Key: "p2", Name: "Ana Silva"},
	}
	remotes := []Entry{{Key: "r1", Name: "Ana Silva"}}

	got := Suggest(locals, remotes)
	// first encountered wins, the second local is left for Create
	assert.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].LocalKey)
}

func TestSuggestBelowThreshold(t *testing.T) {
	locals := []Entry{{Key: "p1", Name: "Bob"}}
	remotes := []Entry{{Key: "r1", Name: "Xenia Quill"}}

	assert.Empty(t, Suggest(locals, remotes))
}

func TestSuggestPicksHighestScore(t *testing.T) {
	locals := []Entry{{Key: "p1", Name: "Maria Garcia"}}
	remotes := []Entry{
		{Key: "r1", Name: "Maria"},         // prefix, 0.80
		{Key: "r2", Name: "Maria Garcia"},  // exact, 0.95
		{Key: "r3", Name: "Garcia, Maria"}, // reorder, 0.90
	}

	got := Suggest(locals, remotes)
	assert.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].RemoteKey)
}
