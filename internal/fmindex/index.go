// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fmindex implements C1 (Index Loader) and C2 (FM-Index
// Primitive) from spec.md §4.1-4.2: memory-mapping and validating the
// six BWT/FM-index/packed-DNA artifacts produced by the offline index
// builder, and the backward-search, rank and SA-decoding primitives
// built over them.
package fmindex

import (
	"encoding/binary"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/kortschak/bwtsw/internal/params"
)

// AmbiguityRun records a run of non-ACGT bases in the packed database
// text, per spec.md §3. Positions inside a run are packed (usually as
// A) but must be masked during scoring.
type AmbiguityRun struct {
	Offset uint64
	Length uint64
	Code   byte
}

// Subject is one entry of the subject sequence table (spec.md §3):
// name, and the half-open range [Offset, Offset+Length) of text
// positions (bases, not bytes) it owns in the packed text.
type Subject struct {
	Name   string
	Offset uint64
	Length uint64
}

// Index is the loaded, read-only FM-index and packed-DNA database.
// Index objects are created once per process and are safe to share
// across concurrent queries (spec.md §5); no method mutates shared
// state.
type Index struct {
	TextLength  uint64
	OccSampling uint32
	SASampling  uint32

	// C holds the cumulative count of bases lexically smaller than each
	// of A,C,G,T in the text (FM-index invariant (i), spec.md §3).
	C [4]uint64

	bwt        mmap.MMap // 2-bit packed BWT string, 4 bases/byte
	occSamples mmap.MMap // checkpoint counts, 4 uint64 per sample
	saSamples  mmap.MMap // sampled SA values, uint64 each

	packedDNA mmap.MMap // 2-bit packed database text, 4 bases/byte
	Ambiguity []AmbiguityRun
	Subjects  []Subject

	files []*os.File
	maps  []mmap.MMap
}

// Open memory-maps and validates the six artifacts named by substituting
// dbName into fn's patterns, exposing the `load` operation of spec.md
// §4.1. It is fatal (a non-nil error) on any self-describing header
// mismatch or on a BWT/annotation text-length inconsistency.
func Open(dbName, location string, fn params.FileNames) (idx *Index, err error) {
	idx = &Index{}
	defer func() {
		if err != nil {
			idx.Close()
			idx = nil
		}
	}()

	bwtBuf, err := idx.mapFile(location, fn.BWTCode, dbName)
	if err != nil {
		return nil, err
	}
	bwtHdr, bwtBody, err := readHeader(bwtBuf, magicBWT)
	if err != nil {
		return nil, fmt.Errorf("fmindex: bwt: %w", err)
	}
	if len(bwtBody) < 4*8 {
		return nil, fmt.Errorf("fmindex: bwt: truncated cumulative count table")
	}
	for i := range idx.C {
		idx.C[i] = binary.LittleEndian.Uint64(bwtBody[i*8 : i*8+8])
	}
	idx.bwt = mmap.MMap(bwtBody[32:])
	idx.TextLength = bwtHdr.TextLength

	occBuf, err := idx.mapFile(location, fn.OccValue, dbName)
	if err != nil {
		return nil, err
	}
	occHdr, occBody, err := readHeader(occBuf, magicOcc)
	if err != nil {
		return nil, fmt.Errorf("fmindex: occ: %w", err)
	}
	if len(occBody) < 4 {
		return nil, fmt.Errorf("fmindex: occ: truncated sampling interval")
	}
	idx.OccSampling = binary.LittleEndian.Uint32(occBody[0:4])
	idx.occSamples = mmap.MMap(occBody[4:])
	if occHdr.TextLength != idx.TextLength {
		return nil, fmt.Errorf("fmindex: occ table text length %d != bwt text length %d", occHdr.TextLength, idx.TextLength)
	}

	saBuf, err := idx.mapFile(location, fn.SAValue, dbName)
	if err != nil {
		return nil, err
	}
	saHdr, saBody, err := readHeader(saBuf, magicSA)
	if err != nil {
		return nil, fmt.Errorf("fmindex: sa: %w", err)
	}
	if len(saBody) < 4 {
		return nil, fmt.Errorf("fmindex: sa: truncated sampling interval")
	}
	idx.SASampling = binary.LittleEndian.Uint32(saBody[0:4])
	idx.saSamples = mmap.MMap(saBody[4:])
	if saHdr.TextLength != idx.TextLength {
		return nil, fmt.Errorf("fmindex: sa table text length %d != bwt text length %d", saHdr.TextLength, idx.TextLength)
	}

	pacBuf, err := idx.mapFile(location, fn.PackedDNA, dbName)
	if err != nil {
		return nil, err
	}
	pacHdr, pacBody, err := readHeader(pacBuf, magicPackedDNA)
	if err != nil {
		return nil, fmt.Errorf("fmindex: pac: %w", err)
	}
	idx.packedDNA = mmap.MMap(pacBody)

	ambBuf, err := idx.mapFile(location, fn.Ambiguity, dbName)
	if err != nil {
		return nil, err
	}
	_, ambBody, err := readHeader(ambBuf, magicAmb)
	if err != nil {
		return nil, fmt.Errorf("fmindex: amb: %w", err)
	}
	idx.Ambiguity, err = decodeAmbiguity(ambBody)
	if err != nil {
		return nil, fmt.Errorf("fmindex: amb: %w", err)
	}

	annBuf, err := idx.mapFile(location, fn.Annotation, dbName)
	if err != nil {
		return nil, err
	}
	annHdr, annBody, err := readHeader(annBuf, magicAnn)
	if err != nil {
		return nil, fmt.Errorf("fmindex: ann: %w", err)
	}
	idx.Subjects, err = decodeSubjects(annBody)
	if err != nil {
		return nil, fmt.Errorf("fmindex: ann: %w", err)
	}

	// Invariant (i) from spec.md §4.1: text length recorded in the BWT
	// header must equal the DNA length recorded in the annotation.
	if annHdr.TextLength != pacHdr.TextLength || annHdr.TextLength != idx.TextLength {
		return nil, fmt.Errorf("bwtsw: database length inconsistent: bwt=%d ann=%d pac=%d", idx.TextLength, annHdr.TextLength, pacHdr.TextLength)
	}

	return idx, nil
}

func (idx *Index) mapFile(location, pattern, dbName string) ([]byte, error) {
	name, err := resolvePattern(pattern, dbName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(location + name)
	if err != nil {
		return nil, fmt.Errorf("fmindex: cannot open index file %s: %w", location+name, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fmindex: cannot map index file %s: %w", location+name, err)
	}
	idx.files = append(idx.files, f)
	idx.maps = append(idx.maps, m)
	return []byte(m), nil
}

func decodeAmbiguity(buf []byte) ([]AmbiguityRun, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("truncated count")
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	buf = buf[4:]
	const recSize = 8 + 8 + 1
	if len(buf) < int(n)*recSize {
		return nil, fmt.Errorf("truncated ambiguity table")
	}
	runs := make([]AmbiguityRun, n)
	for i := range runs {
		r := buf[i*recSize : (i+1)*recSize]
		runs[i] = AmbiguityRun{
			Offset: binary.LittleEndian.Uint64(r[0:8]),
			Length: binary.LittleEndian.Uint64(r[8:16]),
			Code:   r[16],
		}
	}
	return runs, nil
}

func decodeSubjects(buf []byte) ([]Subject, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("truncated count")
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	buf = buf[4:]
	subs := make([]Subject, n)
	for i := range subs {
		if len(buf) < 2+8+8 {
			return nil, fmt.Errorf("truncated subject table")
		}
		nameLen := binary.LittleEndian.Uint16(buf[0:2])
		buf = buf[2:]
		if len(buf) < int(nameLen)+16 {
			return nil, fmt.Errorf("truncated subject name")
		}
		name := string(buf[:nameLen])
		buf = buf[nameLen:]
		off := binary.LittleEndian.Uint64(buf[0:8])
		length := binary.LittleEndian.Uint64(buf[8:16])
		buf = buf[16:]
		subs[i] = Subject{Name: name, Offset: off, Length: length}
	}
	return subs, nil
}

// Close unmaps and closes every artifact backing idx. It is safe to
// call on a partially-initialized Index (Open calls it on its own
// failure paths).
func (idx *Index) Close() error {
	var firstErr error
	for _, m := range idx.maps {
		if err := m.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range idx.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	idx.maps = nil
	idx.files = nil
	return firstErr
}

// SubjectFor resolves a text position to the subject sequence that owns
// it by binary search over Subjects' offsets, per spec.md §3. It
// reports ok=false if pos lies outside every subject's range (should
// not happen for a well-formed index).
func (idx *Index) SubjectFor(pos uint64) (sub Subject, index int, ok bool) {
	lo, hi := 0, len(idx.Subjects)
	for lo < hi {
		mid := (lo + hi) / 2
		if idx.Subjects[mid].Offset <= pos {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	i := lo - 1
	if i < 0 || i >= len(idx.Subjects) {
		return Subject{}, -1, false
	}
	s := idx.Subjects[i]
	if pos < s.Offset || pos >= s.Offset+s.Length {
		return Subject{}, -1, false
	}
	return s, i, true
}
