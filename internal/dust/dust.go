// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dust implements the SDUST low-complexity masker as a pure
// function over a byte buffer. The masker is an external collaborator
// per spec.md §1 — specified here only at the interface BWT-SW consumes
// it through (hard/soft masking of a query byte buffer before it enters
// the index-driven pipeline), not as a subject of algorithmic redesign.
package dust

// Mask scans seq for low-complexity runs using the DUST triplet-counting
// score and lower-cases every base in a run whose score meets level
// within a sliding window of the given size, following the sliding
// window/triplet perfect-score algorithm BWTSW.c's blast_dust calls out
// to. Upper-case bases are left untouched outside masked runs. Mask is
// idempotent: masking an already-masked buffer (lower-case runs) yields
// the same buffer, since the triplet score ignores case: a second pass
// finds the same runs and lower-cases bases that already are.
func Mask(seq []byte, level, window int) {
	if window <= 2 || len(seq) < 3 {
		return
	}
	if level <= 0 {
		level = 20
	}

	for start := 0; start < len(seq); start += window / 2 {
		end := start + window
		if end > len(seq) {
			end = len(seq)
		}
		maskLowComplexityWindow(seq[start:end], level)
		if end == len(seq) {
			break
		}
	}
}

// maskLowComplexityWindow applies the perfect-interval search within a
// single window: for every sub-interval [i,j) it computes the triplet
// score 10*sum(c*(c-1)/2)/(L-2) and lower-cases the highest scoring
// interval whenever that score is at least level, repeating from the
// interval's end.
func maskLowComplexityWindow(w []byte, level int) {
	i := 0
	for i+3 <= len(w) {
		bestScore := -1
		bestJ := i
		counts := make(map[uint8]int)
		var code uint32
		for j := i; j < len(w); j++ {
			b, ok := baseCode(w[j])
			if !ok {
				break
			}
			code = (code<<2 | uint32(b)) & 0x3f
			if j-i >= 2 {
				counts[uint8(code)]++
				L := j - i + 1
				sum := 0
				for _, c := range counts {
					sum += c * (c - 1) / 2
				}
				score := 10 * sum / (L - 2)
				if score > bestScore {
					bestScore = score
					bestJ = j
				}
			}
		}
		if bestScore >= level && bestJ > i {
			for k := i; k <= bestJ; k++ {
				w[k] = toLower(w[k])
			}
			i = bestJ + 1
		} else {
			i++
		}
	}
}

func baseCode(c byte) (byte, bool) {
	switch c {
	case 'A', 'a':
		return 0, true
	case 'C', 'c':
		return 1, true
	case 'G', 'g':
		return 2, true
	case 'T', 't':
		return 3, true
	}
	return 0, false
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
