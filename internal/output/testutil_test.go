// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package output

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/kortschak/bwtsw/internal/fmindex"
	"github.com/kortschak/bwtsw/internal/params"
)

// buildIndex builds a minimal, single-subject FM-index fixture; output
// formatting only needs Subjects/SubjectFor, so the BWT/SA content is
// irrelevant filler satisfying fmindex.Open's self-describing header
// contract (see DESIGN.md).
func buildIndex(t *testing.T, textLen int, subjectName string) *fmindex.Index {
	t.Helper()
	dir := t.TempDir()
	n := textLen

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

	var bwtBody [32]byte
	bwtBody32 := append(bwtBody[:], make([]byte, (n+3)/4)...)
	write("testdb.bwt", 0x42575431, uint64(n), bwtBody32)

	var occField [4]byte
	binary.LittleEndian.PutUint32(occField[:], 4)
	var occSamples [8 * 4]byte
	write("testdb.fmv", 0x464d5631, uint64(n), append(occField[:], occSamples[:]...))

	var saField [4]byte
	binary.LittleEndian.PutUint32(saField[:], 4)
	var saSamples [8]byte
	write("testdb.sa", 0x53414931, uint64(n), append(saField[:], saSamples[:]...))

	write("testdb.pac", 0x50414331, uint64(n), make([]byte, (n+3)/4))

	var ambCount [4]byte
	write("testdb.amb", 0x414d4231, uint64(n), ambCount[:])

	var ann []byte
	var annCount [4]byte
	binary.LittleEndian.PutUint32(annCount[:], 1)
	ann = append(ann, annCount[:]...)
	var nameLen [2]byte
	binary.LittleEndian.PutUint16(nameLen[:], uint16(len(subjectName)))
	ann = append(ann, nameLen[:]...)
	ann = append(ann, subjectName...)
	var off, length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(n))
	ann = append(ann, off[:]...)
	ann = append(ann, length[:]...)
	write("testdb.ann", 0x414e4e31, uint64(n), ann)

	idx, err := fmindex.Open("testdb", dir+"/", params.DefaultFileNames())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}
