// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bwtdp implements C3, the BWT-DP Engine: a depth-first
// traversal of the implicit suffix trie of the database, carrying an
// affine-gap dynamic-programming column at every node, per spec.md
// §4.3. It is the heart of the system — every other alignment
// component consumes its output.
//
// The traversal is driven by an explicit work stack rather than
// recursion (spec.md §9's design note), and its scratch memory is a
// per-depth arena: because the traversal is depth-first, at most one
// DP column is live per depth at any instant, so a single
// MaxDepth+1-entry array of reusable column buffers suffices — no
// per-node allocation.
package bwtdp

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/kortschak/bwtsw/internal/fmindex"
)

const negInf = -(1 << 30)

// Params configures one BWT-DP traversal. A Params value is derived
// fresh per query (and per context within a query), never shared as
// mutable global state, per spec.md §9's redesign note.
type Params struct {
	Match, Mismatch, GapOpen, GapExtend int

	// Cutoff is the minimum raw score a node's alive cells must be able
	// to reach to survive pruning; it is derived from the query's
	// target E-value by the statistics module before the traversal
	// begins (spec.md §4.3.2).
	Cutoff int

	// MaxDepth bounds the substring length the traversal will consider,
	// BWTDP_MAX_SUBSTRING_LENGTH in spec.md §4.3.3.
	MaxDepth int
}

// Validate reports whether p's fields satisfy spec.md §6's scoring
// constraints (match positive, mismatch/gap costs non-positive cost
// magnitudes stored as positive integers here).
func (p Params) Validate() error {
	if p.Match <= 0 {
		return fmt.Errorf("bwtdp: match reward must be positive, got %d", p.Match)
	}
	if p.Mismatch < 0 {
		return fmt.Errorf("bwtdp: mismatch penalty must be non-negative (stored as magnitude), got %d", p.Mismatch)
	}
	if p.GapOpen < 0 || p.GapExtend < 0 {
		return fmt.Errorf("bwtdp: gap costs must be non-negative magnitudes, got open=%d extend=%d", p.GapOpen, p.GapExtend)
	}
	if p.MaxDepth <= 0 {
		return fmt.Errorf("bwtdp: MaxDepth must be positive, got %d", p.MaxDepth)
	}
	return nil
}

// depthBits returns ceil(log2(maxDepth+1)), the width of the depth
// field packed into a hit's info word (spec.md §6's bit layout).
func depthBits(maxDepth int) uint {
	return uint(bits.Len(uint(maxDepth)))
}

// PackInfo packs a substring depth and an opaque group index (the
// query-context identifier a caller wants recoverable from a hit, e.g.
// strand/frame) into the 32-bit info word of spec.md §6.
func PackInfo(maxDepth, depth, group int) uint32 {
	db := depthBits(maxDepth)
	mask := uint32(1)<<db - 1
	return uint32(depth)&mask | uint32(group)<<db
}

// UnpackInfo recovers the depth and group index packed by PackInfo.
func UnpackInfo(maxDepth int, info uint32) (depth, group int) {
	db := depthBits(maxDepth)
	mask := uint32(1)<<db - 1
	return int(info & mask), int(info >> db)
}

// cell holds the three affine-gap DP values at one (depth, query
// position) point of the column: M (match/mismatch ending here), Ix
// (gap in the query — extra database characters), Iy (gap in the
// database — extra query characters), per spec.md §4.3.1.
type cell struct {
	M, Ix, Iy int32
}

func max3(a, b, c int32) int32 {
	if b > a {
		a = b
	}
	if c > a {
		a = c
	}
	return a
}

// Hit is one surviving SA range emitted by a traversal: its node's best
// score reached cutoff. Points lists every query coordinate (original,
// forward orientation) whose DP cell attained that score, seeds for the
// gapped extender (C5). Info packs the substring depth and caller group
// index for later recovery by the hit decoder (C4).
type Hit struct {
	StartSAIndex uint64
	NumMatches   uint64
	Score        int
	Info         uint32
	Points       []int
}

// Stats carries optional, always-populated counters from a traversal;
// they never affect correctness (spec.md §4.3.5).
type Stats struct {
	NodesVisited []uint64 // indexed by depth, 0..MaxDepth
	Prunes       uint64
	Elapsed      time.Duration
}

// ErrWorkingMemoryExhausted is returned when the caller-supplied hit
// buffer fills before the traversal completes; the caller grows the
// buffer and retries the whole query (spec.md §4.3.4, §7 item 4).
var ErrWorkingMemoryExhausted = errors.New("bwtdp: working memory exhausted")

// Engine owns the reusable per-depth arena of DP columns, amortizing
// allocation across many traversals against the same index (one per
// query context, spec.md §5's concurrency model: a fresh Engine, or an
// Engine reused only sequentially by one goroutine, per context).
type Engine struct {
	arena     [][]cell // arena[d] is the reusable column for depth d
	points    [][]int  // scratch per-depth list of j achieving the column max
	maxDepth  int
	queryLen  int
}

// NewEngine allocates an Engine whose arena is sized for queries up to
// maxQueryLen bases and traversal depths up to maxDepth.
func NewEngine(maxDepth, maxQueryLen int) *Engine {
	e := &Engine{maxDepth: maxDepth, queryLen: maxQueryLen}
	e.arena = make([][]cell, maxDepth+1)
	e.points = make([][]int, maxDepth+1)
	for d := range e.arena {
		e.arena[d] = make([]cell, maxQueryLen+1)
	}
	return e
}

type stackItem struct {
	r     fmindex.SARange
	depth int
	code  byte // the backward-extension base that produced r from its parent
}

// lexOrder is the child visitation order of spec.md §4.3.3: A, C, G, T.
var lexOrder = [4]byte{0, 1, 2, 3}

// Run traverses the implicit suffix trie of idx under p, aligning
// against query (given in forward, 5'->3' orientation; the engine
// consumes it back-to-front internally to match backward search).
// Surviving hits are appended into out; groupIndex is packed into every
// emitted hit's info word for later recovery by the caller. It returns
// the number of hits written, or ErrWorkingMemoryExhausted if out fills
// before the traversal completes.
func (e *Engine) Run(idx *fmindex.Index, query []byte, p Params, groupIndex int, out []Hit) (n int, stats Stats, err error) {
	start := time.Now()
	stats.NodesVisited = make([]uint64, p.MaxDepth+1)

	if len(query) > e.queryLen || p.MaxDepth > e.maxDepth {
		return 0, stats, fmt.Errorf("bwtdp: engine sized for maxDepth=%d maxQueryLen=%d, got depth=%d queryLen=%d", e.maxDepth, e.queryLen, p.MaxDepth, len(query))
	}
	q := len(query)
	rev := make([]byte, q)
	for i, c := range query {
		rev[i] = c
	}
	// rev[j-1] is the base consumed at column position j; reversing the
	// query means column position j corresponds to the last j bases of
	// the original (forward) query.
	for i, j := 0, q-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}

	root := e.arena[0]
	root[0] = cell{M: 0, Ix: negInf, Iy: negInf}
	for j := 1; j <= q; j++ {
		iy := max(root[j-1].M-int32(p.GapOpen)-int32(p.GapExtend), root[j-1].Iy-int32(p.GapExtend))
		root[j] = cell{M: negInf, Ix: negInf, Iy: iy}
	}

	stack := make([]stackItem, 0, 64)
	whole := idx.Whole()
	for i := len(lexOrder) - 1; i >= 0; i-- {
		c := lexOrder[i]
		r := idx.Extend(whole, c)
		if !r.Empty() {
			stack = append(stack, stackItem{r: r, depth: 1, code: c})
		}
	}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		stats.NodesVisited[it.depth]++

		parent := e.arena[it.depth-1]
		col := e.arena[it.depth]
		sstar := int32(negInf)
		pts := e.points[it.depth][:0]
		col[0] = cell{M: negInf, Ix: max(parent[0].M-int32(p.GapOpen)-int32(p.GapExtend), parent[0].Ix-int32(p.GapExtend)), Iy: negInf}
		for j := 1; j <= q; j++ {
			s := score(it.code, rev[j-1], p)
			diag := max3(parent[j-1].M, parent[j-1].Ix, parent[j-1].Iy)
			if diag < 0 {
				diag = 0
			}
			m := diag + int32(s)
			ix := max(parent[j].M-int32(p.GapOpen)-int32(p.GapExtend), parent[j].Ix-int32(p.GapExtend))
			iy := max(col[j-1].M-int32(p.GapOpen)-int32(p.GapExtend), col[j-1].Iy-int32(p.GapExtend))
			col[j] = cell{M: m, Ix: ix, Iy: iy}
			if m > sstar {
				sstar = m
				pts = pts[:0]
				pts = append(pts, q-j)
			} else if m == sstar && m > 0 {
				pts = append(pts, q-j)
			}
		}
		e.points[it.depth] = pts

		if sstar >= int32(p.Cutoff) && len(pts) > 0 {
			points := make([]int, len(pts))
			copy(points, pts)
			if n >= len(out) {
				return n, stats, ErrWorkingMemoryExhausted
			}
			out[n] = Hit{
				StartSAIndex: it.r.Lo,
				NumMatches:   it.r.Len(),
				Score:        int(sstar),
				Info:         PackInfo(p.MaxDepth, it.depth, groupIndex),
				Points:       points,
			}
			n++
		}

		remaining := p.MaxDepth - it.depth
		if remaining > q {
			remaining = q
		}
		bound := int32(p.Match) * int32(remaining)
		if sstar+bound <= int32(p.Cutoff) {
			stats.Prunes++
			continue
		}
		if it.depth >= p.MaxDepth {
			continue
		}
		for i := len(lexOrder) - 1; i >= 0; i-- {
			c := lexOrder[i]
			r := idx.Extend(it.r, c)
			if !r.Empty() {
				stack = append(stack, stackItem{r: r, depth: it.depth + 1, code: c})
			}
		}
	}

	stats.Elapsed = time.Since(start)
	return n, stats, nil
}

func score(a, b byte, p Params) int {
	if a == b {
		return p.Match
	}
	return -p.Mismatch
}

func max(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
