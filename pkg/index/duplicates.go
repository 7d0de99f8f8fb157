package index

import (
	"math"
	"sort"
	"strings"
	"time"

	"igarchive/pkg/archive"
)

// MatchType classifies a duplicate pair
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchSimilar MatchType = "similar"
)

const (
	exactWindow      = time.Hour
	similarWindow    = 24 * time.Hour
	similarThreshold = 0.8
	exactReason      = "Exact: same owner, caption, and time (within 1 hour)"
	similarReason    = "Similar: same owner, similar caption, within 24h"
)

// DuplicateMatch is a pair of entries that likely show the same post
type DuplicateMatch struct {
	PostIDs    [2]string `json:"postIds"`
	MatchScore int       `json:"matchScore"`
	Reason     string    `json:"reason"`
	MatchType  MatchType `json:"matchType"`
}

// FindDuplicates compares every pair of entries with the same owner. Two
// entries match exactly when their captions are equal and they were
// captured less than an hour apart, and are similar when captured less
// than a day apart with caption word overlap above 0.8. Matches are
// ordered by descending score; ties keep index order.
func FindDuplicates(idx Index) []DuplicateMatch {
	byOwner := map[string][]int{}
	var owners []string
	for i, e := range idx {
		if _, ok := byOwner[e.Owner]; !ok {
			owners = append(owners, e.Owner)
		}
		byOwner[e.Owner] = append(byOwner[e.Owner], i)
	}

	matches := []DuplicateMatch{}
	for _, owner := range owners {
		group := byOwner[owner]
		for a := 0; a < len(group); a++ {
			for b := a + 1; b < len(group); b++ {
				if m, ok := compare(idx[group[a]], idx[group[b]]); ok {
					matches = append(matches, m)
				}
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches
}

func compare(a, b Entry) (DuplicateMatch, bool) {
	gap := entryTime(a).Sub(entryTime(b)).Abs()
	pair := [2]string{a.ID, b.ID}

	if a.Caption == b.Caption && gap < exactWindow {
		return DuplicateMatch{PostIDs: pair, MatchScore: 100, Reason: exactReason, MatchType: MatchExact}, true
	}
	if gap < similarWindow {
		sim := CaptionSimilarity(a.Caption, b.Caption)
		if sim > similarThreshold {
			return DuplicateMatch{
				PostIDs:    pair,
				MatchScore: int(math.Round(sim * 100)),
				Reason:     similarReason,
				MatchType:  MatchSimilar,
			}, true
		}
	}
	return DuplicateMatch{}, false
}

// entryTime reads the capture time from the timestamp, then the id.
// Unparseable entries all sort at the zero time.
func entryTime(e Entry) time.Time {
	if t, ok := archive.ParseStem(e.Timestamp); ok {
		return t
	}
	if t, ok := archive.ParseStem(e.ID); ok {
		return t
	}
	return time.Time{}
}

// CaptionSimilarity is the Jaccard index of the lower-cased word sets of
// two captions. An empty caption is similar to nothing.
func CaptionSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	wa, wb := words(a), words(b)
	union := len(wa)
	inter := 0
	for w := range wb {
		if _, ok := wa[w]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func words(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}
