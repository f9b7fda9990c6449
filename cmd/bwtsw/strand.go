// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

// revcomp returns the reverse complement of a 2-bit-coded base slice:
// A(0)<->T(3), C(1)<->G(2), following the standard complement pairing
// under the A=0,C=1,G=2,T=3 packing spec.md §3 defines.
func revcomp(codes []byte) []byte {
	out := make([]byte, len(codes))
	for i, c := range codes {
		out[len(codes)-1-i] = 3 - c
	}
	return out
}
