// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fmindex

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/kortschak/bwtsw/internal/params"
)

// buildTestIndex constructs a tiny self-consistent FM-index over text
// using a circular (cyclic-rotation) Burrows-Wheeler Transform: BWT[i]
// is the last character of the i-th lexicographically sorted rotation
// of text. This sidesteps the sentinel-handling the real offline index
// builder (out of scope per spec.md §1) would use, while preserving
// every invariant spec.md §3 requires of the six on-disk artifacts.
func buildTestIndex(t *testing.T, dir, dbName string, text string, occSampling, saSampling uint32, subjects []Subject) {
	t.Helper()

	n := len(text)
	code := func(c byte) byte {
		switch c {
		case 'A':
			return 0
		case 'C':
			return 1
		case 'G':
			return 2
		case 'T':
			return 3
		}
		t.Fatalf("buildTestIndex: non-ACGT base %q", c)
		return 0
	}

	rot := make([]int, n)
	for i := range rot {
		rot[i] = i
	}
	rotLess := func(a, b int) bool {
		for k := 0; k < n; k++ {
			ca := text[(a+k)%n]
			cb := text[(b+k)%n]
			if ca != cb {
				return ca < cb
			}
		}
		return false
	}
	sort.Slice(rot, func(i, j int) bool { return rotLess(rot[i], rot[j]) })

	bwt := make([]byte, n)
	var c [4]uint64
	for i, start := range rot {
		prev := (start - 1 + n) % n
		bwt[i] = text[prev]
	}
	for _, b := range text {
		c[code(byte(b))]++
	}
	// cumulative counts: C[c] = number of bases strictly smaller than c
	var cum [4]uint64
	var running uint64
	for i := 0; i < 4; i++ {
		cum[i] = running
		running += c[i]
	}

	packBytes := func(codes []byte) []byte {
		out := make([]byte, (len(codes)+3)/4)
		for i, cd := range codes {
			out[i>>2] |= cd << (uint(i&3) * 2)
		}
		return out
	}

	bwtCodes := make([]byte, n)
	for i, ch := range bwt {
		bwtCodes[i] = code(ch)
	}
	packedBWT := packBytes(bwtCodes)

	textCodes := make([]byte, n)
	for i := 0; i < n; i++ {
		textCodes[i] = code(text[i])
	}
	packedText := packBytes(textCodes)

	// Occurrence checkpoints every occSampling positions.
	var occBuf []byte
	var running4 [4]uint64
	for i := 0; i <= n; i++ {
		if uint32(i)%occSampling == 0 {
			var rec [32]byte
			for k := 0; k < 4; k++ {
				binary.LittleEndian.PutUint64(rec[k*8:k*8+8], running4[k])
			}
			occBuf = append(occBuf, rec[:]...)
		}
		if i < n {
			running4[bwtCodes[i]]++
		}
	}

	// Suffix array values (position of each rotation's start), sampled.
	sa := make([]int, n)
	for i, start := range rot {
		sa[i] = start
	}
	var saBuf []byte
	for i := 0; i < n; i += int(saSampling) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(sa[i]))
		saBuf = append(saBuf, b[:]...)
	}

	writeFile := func(name string, magic uint32, textLength uint64, body []byte) {
		buf := make([]byte, headerSize+len(body))
		putHeader(buf, magic, textLength)
		copy(buf[headerSize:], body)
		if err := os.WriteFile(filepath.Join(dir, name), buf, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	var bwtBody []byte
	for i := 0; i < 4; i++ {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], cum[i])
		bwtBody = append(bwtBody, b[:]...)
	}
	bwtBody = append(bwtBody, packedBWT...)
	writeFile(dbName+".bwt", magicBWT, uint64(n), bwtBody)

	var occBody []byte
	var occSampField [4]byte
	binary.LittleEndian.PutUint32(occSampField[:], occSampling)
	occBody = append(occBody, occSampField[:]...)
	occBody = append(occBody, occBuf...)
	writeFile(dbName+".fmv", magicOcc, uint64(n), occBody)

	var saBody []byte
	var saSampField [4]byte
	binary.LittleEndian.PutUint32(saSampField[:], saSampling)
	saBody = append(saBody, saSampField[:]...)
	saBody = append(saBody, saBuf...)
	writeFile(dbName+".sa", magicSA, uint64(n), saBody)

	writeFile(dbName+".pac", magicPackedDNA, uint64(n), packedText)

	var ambBody []byte
	var ambCount [4]byte
	binary.LittleEndian.PutUint32(ambCount[:], 0)
	ambBody = append(ambBody, ambCount[:]...)
	writeFile(dbName+".amb", magicAmb, uint64(n), ambBody)

	var annBody []byte
	var annCount [4]byte
	binary.LittleEndian.PutUint32(annCount[:], uint32(len(subjects)))
	annBody = append(annBody, annCount[:]...)
	for _, s := range subjects {
		var nameLen [2]byte
		binary.LittleEndian.PutUint16(nameLen[:], uint16(len(s.Name)))
		annBody = append(annBody, nameLen[:]...)
		annBody = append(annBody, s.Name...)
		var off, length [8]byte
		binary.LittleEndian.PutUint64(off[:], s.Offset)
		binary.LittleEndian.PutUint64(length[:], s.Length)
		annBody = append(annBody, off[:]...)
		annBody = append(annBody, length[:]...)
	}
	writeFile(dbName+".ann", magicAnn, uint64(n), annBody)

	_ = params.DefaultFileNames
}
