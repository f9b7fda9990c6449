// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rank

import (
	"fmt"
	"io"
	"math"

	"github.com/biogo/store/step"

	"github.com/kortschak/bwtsw/internal/stats"
)

// bucketCount is the step.Equaler stored at every position of a
// Histogram's step.Vector: the number of hits whose E-value falls in
// that log-decade bucket.
type bucketCount struct{ n int }

func (b bucketCount) Equal(e step.Equaler) bool { return b == e.(bucketCount) }

// Histogram buckets hits by the decade of their E-value (bucket i holds
// hits with 10^-(i+1) < evalue <= 10^-i, the E-value histogram of
// spec.md's supplemented feature list), built over biogo/store/step the
// way cmd/cmpint/main.go accumulates per-position counts: step.New with
// Relaxed set so the vector grows to whatever decade range the hits
// actually span, then one ApplyRange per hit.
func Histogram(hits []Hit) (*step.Vector, error) {
	v, err := step.New(0, 1, bucketCount{})
	if err != nil {
		return nil, fmt.Errorf("rank: creating histogram: %w", err)
	}
	v.Relaxed = true
	for _, h := range hits {
		i := evalueBucket(h.EValue)
		err = v.ApplyRange(i, i+1, func(e step.Equaler) step.Equaler {
			c := e.(bucketCount)
			c.n++
			return c
		})
		if err != nil {
			return nil, fmt.Errorf("rank: updating histogram bucket %d: %w", i, err)
		}
	}
	return v, nil
}

// evalueBucket maps an E-value to its log-decade bucket index,
// floor(-log10(evalue)): bucket 0 is (0.1,1], bucket 1 is (0.01,0.1],
// and so on. An E-value exactly on a power of ten may land on either
// side, as -log10 is computed in floating point. E-values above 1 also
// go to bucket 0, and an E-value of zero or below goes to bucket 300,
// which keeps ApplyRange's range finite.
func evalueBucket(evalue float64) int {
	if evalue <= 0 {
		return 300
	}
	i := int(math.Floor(-math.Log10(evalue)))
	if i < 0 {
		i = 0
	}
	return i
}

// PrintHistogram writes one line per populated bucket, in ascending
// decade order, mirroring BWTSW.c's HSPPrintHistogram's plain tabular
// report: the decade's bounds, the observed hit count, and block's
// Karlin-Altschul model's tail probability at the decade's lower bit
// score bound (1 - block.Gumbel's CDF there), so a user can
// sanity-check the observed counts against the fitted extreme-value
// model.
func PrintHistogram(w io.Writer, v *step.Vector, block stats.Block) {
	g := block.Gumbel()
	v.Do(func(start, end int, e step.Equaler) {
		c := e.(bucketCount)
		if c.n == 0 {
			return
		}
		// Adjacent buckets with equal counts share one step of v.
		for i := start; i < end; i++ {
			raw := block.CutoffScore(math.Pow(10, -float64(i)))
			tail := 1 - g.CDF(block.BitScore(raw))
			fmt.Fprintf(w, "1e-%d\t1e-%d\t%d\t%.3g\n", i+1, i, c.n, tail)
		}
	})
}
