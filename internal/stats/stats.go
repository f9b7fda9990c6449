// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stats is the statistics black box named in spec.md §1: it
// converts raw alignment scores to bit scores and E-values under a
// Karlin-Altschul-style extreme value model, and derives the raw-score
// cutoff that corresponds to a target E-value before a BWT-DP traversal
// begins (spec.md §4.3.2). The core treats this package as an opaque
// collaborator; its internals are a best-effort statistical
// approximation, not a restatement of NCBI's published polynomial fits
// (see DESIGN.md).
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Block holds the derived Karlin-Altschul parameters for one
// query/database/score combination. A Block is computed once per query
// and must not be shared mutably across concurrent queries (spec.md §5);
// callers should construct a fresh Block (or a copy) per query.
type Block struct {
	Match, Mismatch, GapOpen, GapExtend int

	// Lambda and K are the Karlin-Altschul parameters governing the
	// extreme-value tail of the score distribution.
	Lambda, K float64

	// DBLength and QueryLength are the effective search-space lengths
	// used to scale raw scores into E-values.
	DBLength, QueryLength int64
	NumSeq                int
}

// New derives a Block from the scoring scheme and the search space
// dimensions. The approximation follows the standard ungapped
// Karlin-Altschul closed form for Lambda (the root of
// sum(p_i p_j exp(Lambda*s_ij)) = 1 for a symmetric two-letter-class DNA
// scoring scheme); K is fixed at 0.1 and is not derived from the
// scoring scheme. Gapped parameters are adjusted by a Lambda correction
// dependent on the gap costs, consistent with the one-hit extreme-value
// model BLAST uses for nucleotide search.
func New(match, mismatch, gapOpen, gapExtend int, dbLength int64, numSeq int, queryLength int) Block {
	lambda := ungappedLambda(match, mismatch)
	// Gapped alignments have strictly positive probability of extending
	// past a single substitution; empirically this lowers Lambda by a
	// small fraction relative to the ungapped value for typical BLASTN
	// gap costs. A conservative correction factor keeps E-values from
	// being over-optimistic without requiring the full gapped parameter
	// table.
	correction := 1.0 / (1.0 + 1.0/float64(gapOpen+gapExtend))
	lambda *= correction

	k := 0.1 // standard nucleotide K for BLASTN-like match/mismatch ratios

	return Block{
		Match: match, Mismatch: mismatch, GapOpen: gapOpen, GapExtend: gapExtend,
		Lambda:      lambda,
		K:           k,
		DBLength:    dbLength,
		NumSeq:      numSeq,
		QueryLength: int64(queryLength),
	}
}

// ungappedLambda solves sum_{i in {match,mismatch}} p_i exp(lambda*s_i) = 1
// for a DNA alphabet with uniform base composition, where three of four
// pairs mismatch and one matches.
func ungappedLambda(match, mismatch int) float64 {
	// f(lambda) = 0.25*exp(lambda*match) + 0.75*exp(lambda*mismatch) - 1
	f := func(lambda float64) float64 {
		return 0.25*math.Exp(lambda*float64(match)) + 0.75*math.Exp(lambda*float64(mismatch)) - 1
	}
	lo, hi := 1e-6, 5.0
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if f(mid) > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return (lo + hi) / 2
}

// searchSpace is the effective search space size used to scale a raw
// score into an E-value (database length times effective query length,
// following the BLAST convention of a single multiplicative space).
func (b Block) searchSpace() float64 {
	return float64(b.DBLength) * float64(b.QueryLength)
}

// BitScore converts a raw score to a normalized bit score.
func (b Block) BitScore(raw int) float64 {
	return (b.Lambda*float64(raw) - math.Log(b.K)) / math.Ln2
}

// EValue returns the expected number of equal-or-better chance hits for
// a raw alignment score, under the extreme value (Gumbel) tail implied
// by Lambda and K.
func (b Block) EValue(raw int) float64 {
	return b.K * b.searchSpace() * math.Exp(-b.Lambda*float64(raw))
}

// CutoffScore returns the minimum raw score whose E-value is at most
// expect, used to derive cutoff_C in spec.md §4.3.2 before a BWT-DP
// traversal begins. The search is monotone in the extreme-value model,
// so a direct inversion of EValue is exact up to integer rounding.
func (b Block) CutoffScore(expect float64) int {
	raw := math.Log(b.K*b.searchSpace()/expect) / b.Lambda
	return int(math.Ceil(raw))
}

// Gumbel returns the extreme value distribution implied by this Block,
// for callers that want the full tail shape rather than a single
// E-value point — internal/rank.PrintHistogram uses it to report a
// per-bucket model tail probability alongside the observed count.
func (b Block) Gumbel() distuv.Gumbel {
	// Convert Lambda/K into the location/scale parameterization of the
	// standard Gumbel distribution for the *bit*-score axis. Bit scores
	// already fold in Lambda and K, so the tail K*space*exp(-Lambda*raw)
	// is space*2^-bits: scale 1/ln 2, location log2(space).
	beta := 1 / math.Ln2
	mu := math.Log2(b.searchSpace())
	return distuv.Gumbel{Mu: mu, Beta: beta}
}
