// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package extend implements C5, the Gapped Extender: given a seed
// found by the hit decoder (C4), it grows the alignment in both
// directions with a banded affine-gap DP, reconstructs the edit
// string, and converts the resulting raw score to a bit score and
// E-value via the statistics package, per spec.md §4.5.
package extend

import (
	"errors"

	"github.com/kortschak/bwtsw/internal/fmindex"
	"github.com/kortschak/bwtsw/internal/hitdecode"
	"github.com/kortschak/bwtsw/internal/stats"
)

// Config carries the scoring scheme and E-value cutoff used to bound
// extension. It is a per-query value (never a package global), per
// spec.md §9's redesign note.
type Config struct {
	Match, Mismatch, GapOpen, GapExtend int
	Cutoff                              int
	MaxEValue                           float64
}

// Edit operations, forming the packed edit string of an Alignment.
const (
	EditMatch    byte = 'M'
	EditMismatch byte = 'X'
	EditInsert   byte = 'I' // extra query base, gap in subject
	EditDelete   byte = 'D' // extra subject base, gap in query
)

// Alignment is one finished, scored local alignment, ready for C6
// filtering/ranking. Edits runs 5'->3' along the query.
type Alignment struct {
	SubjectStart, SubjectEnd uint64 // half-open, 0-based text coordinates
	QueryStart, QueryEnd     int    // half-open, 0-based query coordinates
	Score                    int
	BitScore                 float64
	EValue                   float64
	Edits                    []byte
}

// ErrBoundaryCrossed is returned when an extension would cross a
// subject boundary or a declared-non-alignable ambiguity run; the seed
// is rejected outright rather than truncated (spec.md §4.5).
var ErrBoundaryCrossed = errors.New("extend: alignment crosses a subject or ambiguity boundary")

// maxFlankFactor bounds how many cells beyond the computed band width
// an extension window may examine in either direction; this keeps the
// banded search's cost proportional to the actual permitted deviation
// rather than to the full remaining sequence length.
const maxFlankFactor = 4

// Extend grows seed into a full local alignment against query, scores
// it, and reports whether it survives cfg.MaxEValue. A nil Alignment
// with a nil error means the seed was evaluated but did not survive
// filtering (not an error); a non-nil error means the seed was
// rejected for a structural reason (ErrBoundaryCrossed).
func Extend(idx *fmindex.Index, query []byte, seed hitdecode.MatchPoint, cfg Config, st stats.Block) (*Alignment, error) {
	band := (seed.Score - cfg.Cutoff) / max1(cfg.GapExtend)
	if band < 1 {
		band = 1
	}
	window := band * maxFlankFactor

	matchLen := int(seed.TextEnd - seed.TextStart)
	queryStart := seed.QueryPos
	queryEnd := seed.QueryPos + matchLen
	if queryEnd > len(query) {
		queryEnd = len(query)
	}

	leftDB := flankLeft(idx, seed.TextStart, window)
	leftQuery := reverseBytes(query[max0(queryStart-window):queryStart])
	reverseInPlace(leftDB)
	leftScore, leftDBUsed, leftQUsed, leftEdits := affineExtend(leftDB, leftQuery, cfg)
	reverseBytes2(leftEdits)

	rightDB := flankRight(idx, seed.TextEnd, window)
	rightQuery := query[queryEnd:min(len(query), queryEnd+window)]
	rightScore, rightDBUsed, rightQUsed, rightEdits := affineExtend(rightDB, rightQuery, cfg)

	finalStart := seed.TextStart - uint64(leftDBUsed)
	finalEnd := seed.TextEnd + uint64(rightDBUsed)
	finalQueryStart := queryStart - leftQUsed
	finalQueryEnd := queryEnd + rightQUsed

	subStart, _, ok1 := idx.SubjectFor(finalStart)
	subEnd, _, ok2 := idx.SubjectFor(finalEnd - 1)
	if !ok1 || !ok2 || subStart.Offset != subEnd.Offset {
		return nil, ErrBoundaryCrossed
	}
	for _, run := range idx.Ambiguity {
		if run.Offset < finalEnd && run.Offset+run.Length > finalStart {
			return nil, ErrBoundaryCrossed
		}
	}

	edits := make([]byte, 0, len(leftEdits)+matchLen+len(rightEdits))
	edits = append(edits, leftEdits...)
	edits = append(edits, seedEdits(idx, seed, query, cfg)...)
	edits = append(edits, rightEdits...)

	score := leftScore + seed.Score + rightScore
	bitScore := st.BitScore(score)
	evalue := st.EValue(score)
	if evalue > cfg.MaxEValue {
		return nil, nil
	}

	return &Alignment{
		SubjectStart: finalStart,
		SubjectEnd:   finalEnd,
		QueryStart:   finalQueryStart,
		QueryEnd:     finalQueryEnd,
		Score:        score,
		BitScore:     bitScore,
		EValue:       evalue,
		Edits:        edits,
	}, nil
}

// seedEdits recomputes the edit operations across the seed's own span
// by realigning it with an unbanded affineExtend call restricted to
// exactly the seed's window; the BWT-DP engine (C3) does not itself
// retain a traceback, only the score and endpoint, so the edit string
// must be reconstructed here.
func seedEdits(idx *fmindex.Index, seed hitdecode.MatchPoint, query []byte, cfg Config) []byte {
	matchLen := int(seed.TextEnd - seed.TextStart)
	db := make([]byte, matchLen)
	for i := 0; i < matchLen; i++ {
		db[i] = idx.PackedBaseAt(seed.TextStart + uint64(i))
	}
	qEnd := seed.QueryPos + matchLen
	if qEnd > len(query) {
		qEnd = len(query)
	}
	q := query[seed.QueryPos:qEnd]
	_, _, _, edits := affineExtend(db, q, cfg)
	return edits
}

func max1(x int) int {
	if x < 1 {
		return 1
	}
	return x
}

func max0(x int) int {
	if x < 0 {
		return 0
	}
	return x
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func flankLeft(idx *fmindex.Index, pos uint64, window int) []byte {
	lo := uint64(0)
	if pos > uint64(window) {
		lo = pos - uint64(window)
	}
	out := make([]byte, pos-lo)
	for i := range out {
		out[i] = idx.PackedBaseAt(lo + uint64(i))
	}
	return out
}

func flankRight(idx *fmindex.Index, pos uint64, window int) []byte {
	hi := pos + uint64(window)
	if hi > idx.TextLength {
		hi = idx.TextLength
	}
	if hi < pos {
		return nil
	}
	out := make([]byte, hi-pos)
	for i := range out {
		out[i] = idx.PackedBaseAt(pos + uint64(i))
	}
	return out
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

func reverseInPlace(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func reverseBytes2(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
