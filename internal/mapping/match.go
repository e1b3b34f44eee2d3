// Package mapping holds the pure identity-mapping logic: name match
// scoring, suggestion pairing, and the staged bidirectional map edited
// before activation.
package mapping

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const (
	scoreExact   = 0.95
	scoreReorder = 0.90
	scorePrefix  = 0.80
	scoreCap     = 0.75

	// jaccardFloor is the minimum character-set similarity considered a
	// candidate at all.
	jaccardFloor = 0.65

	// SuggestThreshold is the minimum score for an automatic suggestion.
	SuggestThreshold = 0.6
)

// tokenize lowercases and splits a name on anything that is not a letter
// or digit, so "Garcia, Maria" and "maria garcia" produce the same tokens.
func tokenize(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(name string) string {
	return strings.Join(tokenize(name), " ")
}

// Score rates how likely two person names refer to the same person.
// The reason is the user-visible explanation shown next to a suggestion.
func Score(a, b string) (float64, string) {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return 0, ""
	}

	if na == nb {
		return scoreExact, "Exact match"
	}

	ta, tb := tokenize(a), tokenize(b)
	if sameTokens(ta, tb) {
		return scoreReorder, "Name reordered"
	}

	if strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na) {
		return scorePrefix, "Prefix match"
	}

	j := jaccard(na, nb)
	if j > jaccardFloor {
		score := j
		if score > scoreCap {
			score = scoreCap
		}
		return score, fmt.Sprintf("%d%% similar", int(j*100+0.5))
	}

	return 0, ""
}

func sameTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string{}, a...)
	sb := append([]string{}, b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// jaccard is the similarity of the character sets of both names.
func jaccard(a, b string) float64 {
	sa := map[rune]bool{}
	for _, r := range a {
		if r != ' ' {
			sa[r] = true
		}
	}
	sb := map[rune]bool{}
	for _, r := range b {
		if r != ' ' {
			sb[r] = true
		}
	}

	inter := 0
	for r := range sa {
		if sb[r] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Entry is one unmapped item offered to the suggestion engine.
type Entry struct {
	Key  string
	Name string
}

// Suggestion pairs an unmapped local entry with its best remote candidate.
type Suggestion struct {
	LocalKey  string
	RemoteKey string
	Score     float64
	Reason    string
}

// Suggest matches each unmapped local entry to the highest-scoring remote
// entry still unclaimed, first encountered wins ties. Locals without a
// candidate scoring at least SuggestThreshold get no suggestion.
func Suggest(locals, remotes []Entry) []Suggestion {
	suggestions := make([]Suggestion, 0)
	claimed := map[string]bool{}

	for _, local := range locals {
		best := Suggestion{}
		for _, remote := range remotes {
			if claimed[remote.Key] {
				continue
			}

			score, reason := Score(local.Name, remote.Name)
			if score > best.Score {
				best = Suggestion{
					LocalKey:  local.Key,
					RemoteKey: remote.Key,
					Score:     score,
					Reason:    reason,
				}
			}
		}

		if best.Score >= SuggestThreshold {
			claimed[best.RemoteKey] = true
			suggestions = append(suggestions, best)
		}
	}

	return suggestions
}
