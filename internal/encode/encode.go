// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package encode bridges biogo's ASCII sequence representation to the
// 2-bit base codes (0=A, 1=C, 2=G, 3=T) that internal/fmindex,
// internal/bwtdp, internal/hitdecode and internal/extend operate over,
// the same packing BWTSW.c's .pac/.bwt artifacts use (spec.md §3).
package encode

import (
	"fmt"

	"github.com/biogo/biogo/alphabet"
)

// ErrAmbiguous is returned by Bases when seq contains a base outside
// {A,C,G,T} (in either case); callers that need to tolerate ambiguity
// codes must consult an index's Ambiguity table instead of calling
// Bases directly on raw database text (spec.md §3).
type ErrAmbiguous struct {
	Pos    int
	Letter alphabet.Letter
}

func (e ErrAmbiguous) Error() string {
	return fmt.Sprintf("encode: non-ACGT base %q at position %d", byte(e.Letter), e.Pos)
}

// code maps an upper- or lower-case ACGT letter to its 2-bit code, and
// reports whether the letter is one of the four canonical bases (a
// soft-masked lower-case letter still decodes to its base code; the
// caller that needs masking information reads it from seq's case
// directly, since 2-bit codes cannot represent it).
func code(l alphabet.Letter) (byte, bool) {
	switch l {
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

// Bases converts a biogo letter sequence (as produced by
// seqio.Scanner/fasta.Reader) into the 2-bit code representation used
// throughout the search pipeline. It fails closed on the first
// ambiguous base rather than silently substituting a code, since a
// silently-substituted base would corrupt backward search rather than
// merely fail to match.
func Bases(seq []alphabet.Letter) ([]byte, error) {
	out := make([]byte, len(seq))
	for i, l := range seq {
		c, ok := code(l)
		if !ok {
			return nil, ErrAmbiguous{Pos: i, Letter: l}
		}
		out[i] = c
	}
	return out, nil
}

// SoftMasked reports, for each position of seq, whether the base is
// lower-case (soft-masked by internal/dust.Mask or the input FASTA
// itself); it is consulted by callers that need to apply BWTSW.c's
// -U (soft) vs -H (hard) masking behaviour (spec.md §6) after encoding.
func SoftMasked(seq []alphabet.Letter) []bool {
	out := make([]bool, len(seq))
	for i, l := range seq {
		b := byte(l)
		out[i] = b >= 'a' && b <= 'z'
	}
	return out
}

// HardMask zeroes out (substitutes code 0, 'A') every position where
// masked reports true, the -H hard-masking behaviour of spec.md §6.
// The substituted code is an ordinary 'A': nothing else records which
// positions were masked, so a masked position still matches A bases
// in the database.
func HardMask(codes []byte, masked []bool) {
	for i, m := range masked {
		if m {
			codes[i] = 0
		}
	}
}
