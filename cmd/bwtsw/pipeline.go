// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/kortschak/bwtsw/internal/bwtdp"
	"github.com/kortschak/bwtsw/internal/extend"
	"github.com/kortschak/bwtsw/internal/fmindex"
	"github.com/kortschak/bwtsw/internal/hitdecode"
	"github.com/kortschak/bwtsw/internal/params"
	"github.com/kortschak/bwtsw/internal/rank"
	"github.com/kortschak/bwtsw/internal/spill"
	"github.com/kortschak/bwtsw/internal/stats"
)

// contextForward and contextReverse are the group indices packed into
// every bwtdp.Hit's info word (spec.md §6's CONTEXT_BIT_WIDTH=1), and
// double as rank.Hit.Context values.
const (
	contextForward = 0
	contextReverse = 1
)

// pipeline owns the per-process reusable state a query needs: the
// BWT-DP engine's arena (amortized across every query against idx,
// spec.md §5) and the scratch buffers growable on
// bwtdp.ErrWorkingMemoryExhausted / hitdecode.ErrInsufficientBuffer
// (spec.md §4.3.4, §7 item 4).
type pipeline struct {
	idx *fmindex.Index
	eng *bwtdp.Engine

	maxQueryLen int
	maxDepth    int

	hitBuf []bwtdp.Hit
	mpBuf  []hitdecode.MatchPoint

	// spillDir, when non-empty, enables the on-disk overflow path: a
	// query whose decoded match points would not fit in mpBuf is
	// chunk-decoded into a temporary internal/spill.Store instead of
	// failing with hitdecode.ErrInsufficientBuffer (spec.md §7 item 4).
	spillDir string
	spillSeq int
}

func newPipeline(idx *fmindex.Index, maxQueryLen, maxDepth, hitBufCap, mpBufCap int) *pipeline {
	return &pipeline{
		idx:         idx,
		eng:         bwtdp.NewEngine(maxDepth, maxQueryLen),
		maxQueryLen: maxQueryLen,
		maxDepth:    maxDepth,
		hitBuf:      make([]bwtdp.Hit, hitBufCap),
		mpBuf:       make([]hitdecode.MatchPoint, mpBufCap),
	}
}

// align runs one query (already 2-bit coded, forward orientation) in
// every context p.Strand selects, decodes and extends every surviving
// seed, and returns the culled, ranked, sorted hit list ready for
// internal/output.
func (pl *pipeline) align(queryName string, codes []byte, p params.Parameters, block stats.Block, verbose bool) ([]rank.Hit, error) {
	if len(codes) > pl.maxQueryLen {
		return nil, fmt.Errorf("bwtsw: query %s is %d bases, longer than the configured maximum of %d; rejected (spec.md §9)", queryName, len(codes), pl.maxQueryLen)
	}

	extendCfg := extend.Config{
		Match:     p.Score.Match,
		Mismatch:  -p.Score.Mismatch,
		GapOpen:   p.Score.GapOpen,
		GapExtend: p.Score.GapExtend,
		Cutoff:    block.CutoffScore(p.Expectation),
		MaxEValue: p.Expectation,
	}
	bp := bwtdp.Params{
		Match:     p.Score.Match,
		Mismatch:  -p.Score.Mismatch,
		GapOpen:   p.Score.GapOpen,
		GapExtend: p.Score.GapExtend,
		Cutoff:    extendCfg.Cutoff,
		MaxDepth:  min(len(codes), pl.maxDepth),
	}

	var all []rank.Hit
	if p.Strand&params.StrandPositive != 0 {
		hits, dpStats, err := pl.alignContext(codes, codes, contextForward, bp, extendCfg, block)
		if err != nil {
			return nil, fmt.Errorf("bwtsw: query %s forward strand: %w", queryName, err)
		}
		if verbose {
			log.Printf("%s: forward strand: %d nodes visited, %d prunes, %s", queryName, sumUint64(dpStats.NodesVisited), dpStats.Prunes, dpStats.Elapsed)
		}
		all = append(all, hits...)
	}
	if p.Strand&params.StrandNegative != 0 {
		rc := revcomp(codes)
		hits, dpStats, err := pl.alignContext(rc, codes, contextReverse, bp, extendCfg, block)
		if err != nil {
			return nil, fmt.Errorf("bwtsw: query %s reverse strand: %w", queryName, err)
		}
		if verbose {
			log.Printf("%s: reverse strand: %d nodes visited, %d prunes, %s", queryName, sumUint64(dpStats.NodesVisited), dpStats.Prunes, dpStats.Elapsed)
		}
		all = append(all, hits...)
	}

	all = rank.CullContained(all)
	all = rank.AssignRanks(all)
	rank.Sort(all)
	return all, nil
}

// alignContext runs the BWT-DP/decode/extend chain for one search
// context. searched is the (possibly reverse-complemented) base string
// that was actually indexed against; original is the original
// forward-orientation query, used to translate a reverse-context
// alignment's query coordinates back to the caller's frame.
func (pl *pipeline) alignContext(searched, original []byte, context int, bp bwtdp.Params, extendCfg extend.Config, block stats.Block) ([]rank.Hit, bwtdp.Stats, error) {
	n, dpStats, err := pl.eng.Run(pl.idx, searched, bp, context, pl.hitBuf)
	if err != nil {
		if errors.Is(err, bwtdp.ErrWorkingMemoryExhausted) {
			return nil, dpStats, fmt.Errorf("working memory exhausted with %d hits buffered; increase -workmem: %w", n, err)
		}
		return nil, dpStats, err
	}

	var matchPoints []hitdecode.MatchPoint
	decoded, err := hitdecode.Decode(pl.idx, pl.hitBuf[:n], bp.MaxDepth, pl.mpBuf)
	switch {
	case err == nil:
		matchPoints = pl.mpBuf[:decoded]
	case errors.Is(err, hitdecode.ErrInsufficientBuffer) && pl.spillDir != "":
		matchPoints, err = pl.decodeViaSpill(pl.hitBuf[:n], bp.MaxDepth)
		if err != nil {
			return nil, dpStats, err
		}
	case errors.Is(err, hitdecode.ErrInsufficientBuffer):
		return nil, dpStats, fmt.Errorf("alignment memory exhausted decoding %d hits; increase -alignmem or set -spilldb: %w", n, err)
	default:
		return nil, dpStats, err
	}

	var hits []rank.Hit
	for _, mp := range matchPoints {
		aln, err := extend.Extend(pl.idx, searched, mp, extendCfg, block)
		if err != nil {
			if errors.Is(err, extend.ErrBoundaryCrossed) {
				continue
			}
			return nil, dpStats, err
		}
		if aln == nil {
			continue // evaluated, did not survive the E-value cutoff
		}
		if context == contextReverse {
			qlen := len(original)
			aln.QueryStart, aln.QueryEnd = qlen-aln.QueryEnd, qlen-aln.QueryStart
		}
		_, subIdx, ok := pl.idx.SubjectFor(aln.SubjectStart)
		if !ok {
			continue
		}
		hits = append(hits, rank.Hit{Alignment: *aln, Subject: subIdx, Context: uint32(context)})
	}
	return hits, dpStats, nil
}

// decodeViaSpill decodes hits in batches small enough to fit pl.mpBuf,
// persisting each batch to a temporary internal/spill.Store rather
// than requiring one buffer large enough for every hit at once. It
// returns every spilled match point, read back in the same
// descending-text-position order hitdecode.Decode itself guarantees.
func (pl *pipeline) decodeViaSpill(hits []bwtdp.Hit, maxDepth int) ([]hitdecode.MatchPoint, error) {
	pl.spillSeq++
	path := filepath.Join(pl.spillDir, fmt.Sprintf("bwtsw-spill-%d", pl.spillSeq))
	store, err := spill.Create(path)
	if err != nil {
		return nil, fmt.Errorf("bwtsw: opening spill store: %w", err)
	}
	defer store.Remove()

	start := 0
	for start < len(hits) {
		end := start + 1
		need := pointsFor(hits[start])
		for end < len(hits) {
			next := pointsFor(hits[end])
			if need+next > len(pl.mpBuf) {
				break
			}
			need += next
			end++
		}
		if need > len(pl.mpBuf) {
			return nil, fmt.Errorf("bwtsw: a single hit needs %d match-point slots, more than -alignmem provides (%d); increase -alignmem", need, len(pl.mpBuf))
		}
		decoded, err := hitdecode.Decode(pl.idx, hits[start:end], maxDepth, pl.mpBuf)
		if err != nil {
			return nil, fmt.Errorf("bwtsw: decoding spilled batch: %w", err)
		}
		for _, mp := range pl.mpBuf[:decoded] {
			if err := store.Put(mp); err != nil {
				return nil, err
			}
		}
		start = end
	}

	return store.All()
}

func pointsFor(h bwtdp.Hit) int {
	return int(h.NumMatches) * len(h.Points)
}

func sumUint64(s []uint64) uint64 {
	var n uint64
	for _, v := range s {
		n += v
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
