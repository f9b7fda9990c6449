// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rank implements C6, the Filter & Ranker: overlap dedup
// across a query's surviving alignments, best-per-subject aggregation,
// dense subject ranking, and the final composite-key sort, per spec.md
// §4.6.
package rank

import (
	"sort"

	"github.com/biogo/store/interval"

	"github.com/kortschak/bwtsw/internal/extend"
)

// Hit bundles one surviving alignment with the subject and strand
// context it belongs to, the unit rank/dedup/sort operate over.
type Hit struct {
	extend.Alignment
	Subject int
	Context uint32 // 0 = forward, 1 = reverse-complement, per spec.md §6
	Rank    uint32
	Key     uint32 // composite sort key, packed by PackKey
}

// CullContained removes every hit whose (subject, context, query
// interval, text interval) is completely contained within a
// higher-scoring hit's — spec.md §4.6 item 1's default, full
// containment with a position tie-break, following the source and
// grounded directly on cmd/cull/main.go's cullContained.
func CullContained(hits []Hit) []Hit {
	var tree interval.IntTree
	for i := range hits {
		if err := tree.Insert(containmentNode{uid: uintptr(i), hit: &hits[i]}, true); err != nil {
			// A malformed range (End < Start) cannot occur for a
			// completed Alignment; skip defensively rather than
			// abort the whole query's output.
			continue
		}
	}
	tree.AdjustRanges()

	var culled []Hit
outer:
	for i := range hits {
		h := &hits[i]
		for _, o := range tree.Get(containmentNode{hit: h}) {
			other := o.(containmentNode).hit
			if other == h {
				continue
			}
			if other.Subject != h.Subject || other.Context != h.Context {
				continue
			}
			// Overlap/Range only index the text dimension; query
			// containment is checked here against the full stored hit.
			if !(other.QueryStart <= h.QueryStart && h.QueryEnd <= other.QueryEnd) {
				continue
			}
			if other.Score > h.Score || (other.Score == h.Score && other.SubjectStart < h.SubjectStart) {
				continue outer
			}
		}
		culled = append(culled, *h)
	}
	return culled
}

type containmentNode struct {
	uid uintptr
	hit *Hit
}

func (n containmentNode) ID() uintptr { return n.uid }

func (n containmentNode) Range() interval.IntRange {
	return interval.IntRange{Start: int(n.hit.SubjectStart), End: int(n.hit.SubjectEnd)}
}

// Overlap reports whether b's interval completely contains n's text
// interval. It checks the text dimension only; CullContained checks
// the subject, the strand context and query-interval containment on
// each hit that tree.Get returns.
func (n containmentNode) Overlap(b interval.IntRange) bool {
	return b.Start <= int(n.hit.SubjectStart) && int(n.hit.SubjectEnd) <= b.End
}

// BestPerSubject records, for each subject index, the maximum score
// across hits, per spec.md §4.6 item 2.
func BestPerSubject(hits []Hit) map[int]int {
	best := make(map[int]int)
	for _, h := range hits {
		if s, ok := best[h.Subject]; !ok || h.Score > s {
			best[h.Subject] = h.Score
		}
	}
	return best
}

// AssignRanks sorts subjects by descending best score and tags every
// hit's Rank with its subject's dense rank (0 = best subject), per
// spec.md §4.6 item 3.
func AssignRanks(hits []Hit) []Hit {
	best := BestPerSubject(hits)
	subjects := make([]int, 0, len(best))
	for s := range best {
		subjects = append(subjects, s)
	}
	sort.Slice(subjects, func(i, j int) bool {
		if best[subjects[i]] != best[subjects[j]] {
			return best[subjects[i]] > best[subjects[j]]
		}
		return subjects[i] < subjects[j]
	})
	rankOf := make(map[int]uint32, len(subjects))
	for i, s := range subjects {
		rankOf[s] = uint32(i)
	}
	for i := range hits {
		hits[i].Rank = rankOf[hits[i].Subject]
		hits[i].Key = PackKey(hits[i].Rank, hits[i].Context)
	}
	return hits
}

// contextBitWidth is CONTEXT_BIT_WIDTH from spec.md §6: one bit,
// distinguishing forward (0) from reverse-complement (1) context.
const contextBitWidth = 1

// PackKey packs a dense subject rank and a strand-context tag into one
// sort word: the high (32-CONTEXT_BIT_WIDTH) bits are the subject rank,
// the low CONTEXT_BIT_WIDTH bits are the context tag, so keys order by
// rank first and by context within a rank.
func PackKey(rank, context uint32) uint32 {
	return rank<<contextBitWidth | context
}

// Sort orders hits by the final composite key of spec.md §4.6:
// ascending (rank, context) key, then descending score, then ascending
// text position. The ordering is a pure function of Hit fields, so it
// is stable across runs on the same inputs (spec.md §5).
func Sort(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Key != hits[j].Key {
			return hits[i].Key < hits[j].Key
		}
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SubjectStart < hits[j].SubjectStart
	})
}
