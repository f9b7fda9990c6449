// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hitdecode implements C4, the Hit Decoder: it turns the SA
// ranges emitted by the BWT-DP engine (C3) into concrete text
// positions via the FM-index primitive (C2), per spec.md §4.4.
package hitdecode

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kortschak/bwtsw/internal/bwtdp"
	"github.com/kortschak/bwtsw/internal/fmindex"
)

// MatchPoint is one decoded seed: a text interval known to align with
// the query around QueryPos, carrying the DP score that earned it and
// the group (context) it was found under.
type MatchPoint struct {
	TextStart uint64
	TextEnd   uint64 // TextStart + substring depth
	QueryPos  int
	Score     int
	Group     int
}

// ErrInsufficientBuffer is returned when out is too small to hold every
// decoded match point; the caller grows the buffer and retries, mirroring
// fmindex.ErrInsufficientBuffer's contract (spec.md §7 item 4).
var ErrInsufficientBuffer = errors.New("hitdecode: insufficient output buffer")

// Decode expands every hit's SA range into text positions via idx, and
// pairs each position with every query-coordinate DP point the hit
// carries. maxDepth must match the Params.MaxDepth the hits were
// produced under, so info words decode correctly. Results are sorted in
// descending text-position order (spec.md §4.4); duplicate text
// positions arising from distinct query coordinates on the same hit are
// all retained, since they carry different query coordinates and will
// score differently under gapped extension.
func Decode(idx *fmindex.Index, hits []bwtdp.Hit, maxDepth int, out []MatchPoint) (int, error) {
	var need int
	for _, h := range hits {
		need += int(h.NumMatches) * len(h.Points)
	}
	if need > len(out) {
		return 0, ErrInsufficientBuffer
	}

	var scratch []uint64
	n := 0
	for _, h := range hits {
		depth, group := bwtdp.UnpackInfo(maxDepth, h.Info)
		r := fmindex.SARange{Lo: h.StartSAIndex, Hi: h.StartSAIndex + h.NumMatches - 1}
		if cap(scratch) < int(h.NumMatches) {
			scratch = make([]uint64, h.NumMatches)
		}
		positions := scratch[:h.NumMatches]
		got, err := idx.DecodeRange(r, positions)
		if err != nil {
			return n, fmt.Errorf("hitdecode: decoding SA range [%d,%d]: %w", r.Lo, r.Hi, err)
		}
		for _, pos := range positions[:got] {
			for _, qpos := range h.Points {
				out[n] = MatchPoint{
					TextStart: pos,
					TextEnd:   pos + uint64(depth),
					QueryPos:  qpos,
					Score:     h.Score,
					Group:     group,
				}
				n++
			}
		}
	}

	result := out[:n]
	sort.Slice(result, func(i, j int) bool { return result[i].TextStart > result[j].TextStart })
	return n, nil
}
