// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fmindex

import "errors"

// SARange is a closed suffix-array interval [Lo, Hi], per spec.md §3.
// An empty range is represented by Hi < Lo.
type SARange struct {
	Lo, Hi uint64
}

// Empty reports whether r contains no suffix-array position.
func (r SARange) Empty() bool { return r.Hi < r.Lo }

// Len returns the number of suffix-array positions in r.
func (r SARange) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return r.Hi - r.Lo + 1
}

// Whole returns the SA range spanning the entire text, the starting
// point for a backward search (the empty-string match).
func (idx *Index) Whole() SARange {
	if idx.TextLength == 0 {
		return SARange{Lo: 1, Hi: 0}
	}
	return SARange{Lo: 0, Hi: idx.TextLength - 1}
}

// pack2 reads the 2-bit code at text-relative index i from a 4-per-byte
// packed buffer, the layout spec.md §3 describes for both the BWT
// string and the packed database text.
func pack2(buf []byte, i uint64) byte {
	b := buf[i>>2]
	shift := uint(i&3) * 2
	return (b >> shift) & 3
}

// bwtAt returns the BWT code at text position i.
func (idx *Index) bwtAt(i uint64) byte {
	return pack2(idx.bwt, i)
}

// PackedBaseAt returns the 2-bit code of the database base at text
// position pos, ignoring ambiguity masking; callers needing masked
// scoring must additionally consult Ambiguity.
func (idx *Index) PackedBaseAt(pos uint64) byte {
	return pack2(idx.packedDNA, pos)
}

// occAt returns Occ[c, i]: the number of occurrences of base c in
// BWT[0:i), the FM-index rank query of spec.md §3 invariant (i). It
// walks forward from the nearest checkpoint at or before i, which is
// spaced every OccSampling positions in occSamples (four uint64
// counters per checkpoint, one per base).
func (idx *Index) occAt(c byte, i uint64) uint64 {
	sampleIdx := i / uint64(idx.OccSampling)
	base := sampleIdx * uint64(idx.OccSampling)
	off := sampleIdx * 4 * 8
	count := leUint64(idx.occSamples[off+uint64(c)*8:])
	for p := base; p < i; p++ {
		if idx.bwtAt(p) == c {
			count++
		}
	}
	return count
}

func leUint64(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// Extend performs the backward-search step of spec.md §4.2: given the
// SA interval for substring w, it returns the SA interval for cw. The
// result is empty (Hi < Lo) when the extended interval is empty.
func (idx *Index) Extend(r SARange, c byte) SARange {
	if r.Empty() {
		return SARange{Lo: 1, Hi: 0}
	}
	lo := idx.C[c] + idx.occAt(c, r.Lo)
	hi := idx.C[c] + idx.occAt(c, r.Hi+1) - 1
	return SARange{Lo: lo, Hi: hi}
}

// SAOf follows the LF-mapping from suffix-array index i until a sampled
// SA entry is reached, then adds the number of LF-steps taken, per
// spec.md §4.2 and the SA invariant (ii) in spec.md §3. The sum wraps
// modulo the text length, since an LF-step from the rotation starting
// at position 0 of the circular text lands on position TextLength-1.
func (idx *Index) SAOf(i uint64) uint64 {
	steps := uint64(0)
	for i%uint64(idx.SASampling) != 0 {
		c := idx.bwtAt(i)
		i = idx.C[c] + idx.occAt(c, i)
		steps++
	}
	sampled := leUint64(idx.saSamples[(i/uint64(idx.SASampling))*8:])
	return (sampled + steps) % idx.TextLength
}

// ErrInsufficientBuffer is returned by DecodeRange when out is too
// small to hold every text position in the range; the caller retries
// with a larger buffer, per spec.md §4.2 and §7 item 4.
var ErrInsufficientBuffer = errors.New("fmindex: insufficient output buffer")

// DecodeRange enumerates every text position covered by r into out,
// returning the count written. It returns ErrInsufficientBuffer without
// partial mutation semantics guarantees beyond count if r.Len() exceeds
// len(out).
func (idx *Index) DecodeRange(r SARange, out []uint64) (int, error) {
	n := r.Len()
	if uint64(len(out)) < n {
		return 0, ErrInsufficientBuffer
	}
	for i := uint64(0); i < n; i++ {
		out[i] = idx.SAOf(r.Lo + i)
	}
	return int(n), nil
}
