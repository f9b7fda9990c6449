// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bwtsw-cull is a post-processing filter over BWT-SW's own tabular
// (-m 8/9) output. It discards any hit that is completely contained,
// in subject coordinates, within a higher-scoring hit against the same
// query and subject. This is the same containment cull
// internal/rank.CullContained applies inside a single query's result
// set (spec.md §4.6), offered here as a standalone tool for culling
// hits that have already been written out, across separate runs or
// after merging several output files.
//
// usage: bwtsw-cull < hits.tab > culled.tab
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/biogo/store/interval"
)

func main() {
	flag.Usage = func() {
		fmt.Println(`usage: bwtsw-cull < hits.tab > culled.tab`)
		os.Exit(0)
	}
	flag.Parse()

	records, err := readRecords(os.Stdin)
	if err != nil {
		log.Fatal(err)
	}

	w := bufio.NewWriter(os.Stdout)
	for _, r := range cullContained(records) {
		fmt.Fprintln(w, r.line)
	}
	if err := w.Flush(); err != nil {
		log.Fatal(err)
	}
}

// record is one parsed tabular hit line (spec.md §4.7's -m 8 fields).
// isComment records mark a "#"-prefixed or blank line from -m 9's
// comment header (spec.md §4.7); they are never culled and are not
// grouped with any query/subject pair.
type record struct {
	line      string
	isComment bool

	query, subject           string
	subjectStart, subjectEnd int
	bitScore                 float64
}

// readRecords parses every tabular hit line from r, in order.
func readRecords(r io.Reader) ([]record, error) {
	var records []record
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			records = append(records, record{line: line, isComment: true})
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("bwtsw-cull: %w", err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("bwtsw-cull: reading input: %w", err)
	}
	return records, nil
}

// parseRecord parses one tabular line per the field order
// internal/output.WriteHeader documents: query id, subject id,
// % identity, alignment length, mismatches, gap opens, q. start,
// q. end, s. start, s. end, evalue, bit score.
func parseRecord(line string) (record, error) {
	f := strings.Split(line, "\t")
	if len(f) != 12 {
		return record{}, fmt.Errorf("malformed tabular line (want 12 fields, got %d): %q", len(f), line)
	}
	sStart, err := strconv.Atoi(f[8])
	if err != nil {
		return record{}, fmt.Errorf("subject start: %w", err)
	}
	sEnd, err := strconv.Atoi(f[9])
	if err != nil {
		return record{}, fmt.Errorf("subject end: %w", err)
	}
	bitScore, err := strconv.ParseFloat(f[11], 64)
	if err != nil {
		return record{}, fmt.Errorf("bit score: %w", err)
	}
	return record{
		line:         line,
		query:        f[0],
		subject:      f[1],
		subjectStart: sStart,
		subjectEnd:   sEnd,
		bitScore:     bitScore,
	}, nil
}

// cullContained returns records in their original order, with every
// hit that is completely contained, in subject coordinates and within
// the same query/subject pair, by a strictly higher bit-scoring hit
// removed. Comment lines are always kept. Unlike
// internal/rank.CullContained, which also breaks an exact-score tie by
// subject start, a tabular line carries no further tie-break field, so
// an exact-score containment here is always kept on both sides.
func cullContained(records []record) []record {
	groups := make(map[string][]indexedRecord)
	var order []string
	for i, r := range records {
		if r.isComment {
			continue
		}
		key := r.query + "\x00" + r.subject
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], indexedRecord{r, i})
	}

	keep := make([]bool, len(records))
	for i, r := range records {
		keep[i] = r.isComment
	}
	for _, key := range order {
		for _, r := range cullGroup(groups[key]) {
			keep[r.idx] = true
		}
	}

	culled := make([]record, 0, len(records))
	for i, r := range records {
		if keep[i] {
			culled = append(culled, r)
		}
	}
	return culled
}

// indexedRecord tags a record with its position in the original input
// so cullContained can reconstruct the surviving subset in order.
type indexedRecord struct {
	record
	idx int
}

func cullGroup(recs []indexedRecord) []indexedRecord {
	var tree interval.IntTree
	for i, r := range recs {
		err := tree.Insert(subjectInterval{uid: uintptr(i), record: r.record}, true)
		if err != nil {
			continue // a malformed [start,end) cannot occur for a parsed tabular hit; skip defensively
		}
	}
	tree.AdjustRanges()

	var culled []indexedRecord
outer:
	for _, r := range recs {
		o := tree.Get(subjectInterval{record: r.record})
		for _, h := range o {
			other := h.(subjectInterval).record
			if other.bitScore > r.bitScore && contains(other, r.record) {
				continue outer
			}
		}
		culled = append(culled, r)
	}
	return culled
}

func contains(outer, inner record) bool {
	return outer.subjectStart <= inner.subjectStart && inner.subjectEnd <= outer.subjectEnd
}

type subjectInterval struct {
	uid uintptr
	record
}

// Overlap reports whether b overlaps i's subject span at all; the
// tighter full-containment test happens afterward in cullGroup, since
// interval.IntRange has no notion of the query/subject identity a
// candidate containing record must also match.
func (i subjectInterval) Overlap(b interval.IntRange) bool {
	return b.Start < i.subjectEnd && i.subjectStart < b.End
}
func (i subjectInterval) ID() uintptr { return i.uid }
func (i subjectInterval) Range() interval.IntRange {
	return interval.IntRange{Start: i.subjectStart, End: i.subjectEnd}
}
