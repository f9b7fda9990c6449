// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/kortschak/bwtsw/internal/fmindex"
	"github.com/kortschak/bwtsw/internal/params"
)

// buildCircularIndex reproduces internal/fmindex's own test fixture
// builder black-box (see DESIGN.md): the offline index builder's bit
// layout is out of scope, so each package needing a fixture builds its
// own self-consistent one against the documented self-describing
// header format.
func buildCircularIndex(t *testing.T, text string, occSampling, saSampling uint32) *fmindex.Index {
	t.Helper()
	dir := t.TempDir()
	subjects := []fmindex.Subject{{Name: "seq1", Offset: 0, Length: uint64(len(text))}}

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
		t.Fatalf("non-ACGT base %q", c)
		return 0
	}

	n := len(text)
	rot := make([]int, n)
	for i := range rot {
		rot[i] = i
	}
	less := func(a, b int) bool {
		for k := 0; k < n; k++ {
			ca, cb := text[(a+k)%n], text[(b+k)%n]
			if ca != cb {
				return ca < cb
			}
		}
		return false
	}
	sort.Slice(rot, func(i, j int) bool { return less(rot[i], rot[j]) })

	bwtCodes := make([]byte, n)
	for i, start := range rot {
		bwtCodes[i] = code(text[(start-1+n)%n])
	}
	var cum, counts [4]uint64
	for _, b := range text {
		counts[code(byte(b))]++
	}
	var running uint64
	for i := 0; i < 4; i++ {
		cum[i] = running
		running += counts[i]
	}

	pack := func(codes []byte) []byte {
		out := make([]byte, (len(codes)+3)/4)
		for i, c := range codes {
			out[i>>2] |= c << (uint(i&3) * 2)
		}
		return out
	}
	textCodes := make([]byte, n)
	for i := 0; i < n; i++ {
		textCodes[i] = code(text[i])
	}

	var occBuf []byte
	var run [4]uint64
	for i := 0; i <= n; i++ {
		if uint32(i)%occSampling == 0 {
			var rec [32]byte
			for k := 0; k < 4; k++ {
				binary.LittleEndian.PutUint64(rec[k*8:k*8+8], run[k])
			}
			occBuf = append(occBuf, rec[:]...)
		}
		if i < n {
			run[bwtCodes[i]]++
		}
	}

	var saBuf []byte
	for i := 0; i < n; i += int(saSampling) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(rot[i]))
		saBuf = append(saBuf, b[:]...)
	}

	putHeader := func(buf []byte, magic uint32, textLength uint64) {
		binary.LittleEndian.PutUint32(buf[0:4], magic)
		binary.LittleEndian.PutUint32(buf[4:8], 1)
		binary.LittleEndian.PutUint64(buf[8:16], textLength)
	}
	write := func(name string, magic uint32, textLength uint64, body []byte) {
		buf := make([]byte, 16+len(body))
		putHeader(buf, magic, textLength)
		copy(buf[16:], body)
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
	bwtBody = append(bwtBody, pack(bwtCodes)...)
	write("testdb.bwt", 0x42575431, uint64(n), bwtBody)

	var occField [4]byte
	binary.LittleEndian.PutUint32(occField[:], occSampling)
	write("testdb.fmv", 0x464d5631, uint64(n), append(occField[:], occBuf...))

	var saField [4]byte
	binary.LittleEndian.PutUint32(saField[:], saSampling)
	write("testdb.sa", 0x53414931, uint64(n), append(saField[:], saBuf...))

	write("testdb.pac", 0x50414331, uint64(n), pack(textCodes))

	var ambCount [4]byte
	write("testdb.amb", 0x414d4231, uint64(n), ambCount[:])

	var ann []byte
	var annCount [4]byte
	binary.LittleEndian.PutUint32(annCount[:], uint32(len(subjects)))
	ann = append(ann, annCount[:]...)
	for _, s := range subjects {
		var nameLen [2]byte
		binary.LittleEndian.PutUint16(nameLen[:], uint16(len(s.Name)))
		ann = append(ann, nameLen[:]...)
		ann = append(ann, s.Name...)
		var off, length [8]byte
		binary.LittleEndian.PutUint64(off[:], s.Offset)
		binary.LittleEndian.PutUint64(length[:], s.Length)
		ann = append(ann, off[:]...)
		ann = append(ann, length[:]...)
	}
	write("testdb.ann", 0x414e4e31, uint64(n), ann)

	idx, err := fmindex.Open("testdb", dir+string(filepath.Separator), params.DefaultFileNames())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func asCodes(t *testing.T, s string) []byte {
	t.Helper()
	out := make([]byte, len(s))
	for i, c := range []byte(s) {
		switch c {
		case 'A':
			out[i] = 0
		case 'C':
			out[i] = 1
		case 'G':
			out[i] = 2
		case 'T':
			out[i] = 3
		default:
			t.Fatalf("non-ACGT base %q", c)
		}
	}
	return out
}
