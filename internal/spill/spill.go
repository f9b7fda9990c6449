// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spill implements the optional on-disk staging store between
// C4 (Hit Decoder) and C5 (Gapped Extender): an ordered key-value file
// that a query can spill decoded hitdecode.MatchPoint values into when
// the in-memory alignment-memory arena would otherwise be exceeded
// (spec.md §7 item 4, mirroring BWTSW.c's AlignmentMemorySize bound).
package spill

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"modernc.org/kv"

	"github.com/kortschak/bwtsw/internal/hitdecode"
)

// Store is a single query's on-disk overflow for decoded match points.
// It is not safe for concurrent use.
type Store struct {
	db   *kv.DB
	path string
}

// Create makes a fresh, empty spill file at path, ordered by
// compareMatchPointKey so a later All() returns match points in the
// same descending-text-position order hitdecode.Decode itself produces
// (spec.md §4.4).
func Create(path string) (*Store, error) {
	opts := &kv.Options{Compare: compareMatchPointKey}
	db, err := kv.Create(path, opts)
	if err != nil {
		return nil, fmt.Errorf("spill: creating %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Put persists one decoded match point.
func (s *Store) Put(mp hitdecode.MatchPoint) error {
	key := marshalMatchPointKey(mp)
	if err := s.db.Set(key, nil); err != nil {
		return fmt.Errorf("spill: writing %s: %w", s.path, err)
	}
	return nil
}

// All reads every spilled match point back, in descending
// TextStart order.
func (s *Store) All() ([]hitdecode.MatchPoint, error) {
	it, err := s.db.SeekFirst()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("spill: seeking %s: %w", s.path, err)
	}
	var out []hitdecode.MatchPoint
	for {
		k, _, err := it.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("spill: reading %s: %w", s.path, err)
		}
		out = append(out, unmarshalMatchPointKey(k))
	}
	// compareMatchPointKey orders ascending by TextStart; reverse to
	// match hitdecode.Decode's descending convention.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the underlying file. Remove deletes it afterward.
func (s *Store) Close() error {
	return s.db.Close()
}

// Remove closes and deletes the spill file; callers should defer this
// once a query's extension pass has consumed every spilled record.
func (s *Store) Remove() error {
	s.db.Close()
	return os.Remove(s.path)
}

var order = binary.BigEndian

// marshalMatchPointKey encodes mp as a fixed-width, order-preserving
// big-endian key, following internal/store's MarshalBlastRecordKey
// convention (there applied to variable-length BLAST records; every
// MatchPoint field here is already fixed width, so no length prefixes
// are needed).
func marshalMatchPointKey(mp hitdecode.MatchPoint) []byte {
	var buf bytes.Buffer
	var b [8]byte
	order.PutUint64(b[:], mp.TextStart)
	buf.Write(b[:])
	order.PutUint64(b[:], mp.TextEnd)
	buf.Write(b[:])
	order.PutUint64(b[:], uint64(int64(mp.QueryPos)))
	buf.Write(b[:])
	order.PutUint64(b[:], uint64(int64(mp.Score)))
	buf.Write(b[:])
	order.PutUint64(b[:], uint64(int64(mp.Group)))
	buf.Write(b[:])
	return buf.Bytes()
}

func unmarshalMatchPointKey(data []byte) hitdecode.MatchPoint {
	const n64 = 8
	textStart := order.Uint64(data[:n64])
	data = data[n64:]
	textEnd := order.Uint64(data[:n64])
	data = data[n64:]
	queryPos := int(int64(order.Uint64(data[:n64])))
	data = data[n64:]
	score := int(int64(order.Uint64(data[:n64])))
	data = data[n64:]
	group := int(int64(order.Uint64(data[:n64])))
	return hitdecode.MatchPoint{
		TextStart: textStart,
		TextEnd:   textEnd,
		QueryPos:  queryPos,
		Score:     score,
		Group:     group,
	}
}

// compareMatchPointKey orders keys by TextStart, then TextEnd,
// QueryPos, Score and Group to guarantee uniqueness, following
// internal/store's GroupByQueryOrderSubjectLeft tie-break chain.
func compareMatchPointKey(x, y []byte) int {
	if bytes.Equal(x, y) {
		return 0
	}
	mx := unmarshalMatchPointKey(x)
	my := unmarshalMatchPointKey(y)
	switch {
	case mx.TextStart < my.TextStart:
		return -1
	case mx.TextStart > my.TextStart:
		return 1
	}
	switch {
	case mx.TextEnd < my.TextEnd:
		return -1
	case mx.TextEnd > my.TextEnd:
		return 1
	}
	switch {
	case mx.QueryPos < my.QueryPos:
		return -1
	case mx.QueryPos > my.QueryPos:
		return 1
	}
	switch {
	case mx.Score < my.Score:
		return -1
	case mx.Score > my.Score:
		return 1
	}
	switch {
	case mx.Group < my.Group:
		return -1
	case mx.Group > my.Group:
		return 1
	}
	return 0
}
