// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The audit-bwtsw-index command inspects the six on-disk artifacts
// produced by a BWT-SW offline index build (spec.md §3, §6): the BWT
// string and cumulative base counts (.bwt), the occurrence checkpoint
// table (.fmv), the sampled suffix array (.sa), the packed database
// text (.pac), the subject sequence table (.ann) and the ambiguous-base
// run table (.amb). It loads the index the same way the query engine
// does, via internal/fmindex.Open, so a successful audit run is also a
// validation that the database is well formed: self-describing headers
// agree and every text-length cross-check (spec.md §4.1 invariant (i))
// passes.
//
// Output is a JSON stream on stdout: one summary object, followed by
// one object per subject-table entry and one object per ambiguous-base
// run.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kortschak/bwtsw/internal/fmindex"
	"github.com/kortschak/bwtsw/internal/params"
)

func main() {
	path := flag.String("db", "", "specify db base path to audit (e.g. /data/mydb)")
	flag.Parse()
	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}

	idx, err := open(*path)
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	enc := json.NewEncoder(os.Stdout)

	err = enc.Encode(summary{
		TextLength:     idx.TextLength,
		OccSampling:    idx.OccSampling,
		SASampling:     idx.SASampling,
		BaseCounts:     idx.C,
		SubjectCount:   len(idx.Subjects),
		AmbiguityCount: len(idx.Ambiguity),
	})
	if err != nil {
		log.Fatal(err)
	}

	for _, s := range idx.Subjects {
		err = enc.Encode(subjectRecord{
			Kind:   "subject",
			Name:   s.Name,
			Offset: s.Offset,
			Length: s.Length,
		})
		if err != nil {
			log.Fatal(err)
		}
	}

	for _, a := range idx.Ambiguity {
		err = enc.Encode(ambiguityRecord{
			Kind:   "ambiguity",
			Offset: a.Offset,
			Length: a.Length,
			Code:   a.Code,
		})
		if err != nil {
			log.Fatal(err)
		}
	}
}

// open splits a "base path" like the query CLI does: the directory
// component is the index location and the file name component is the
// database name substituted into each artifact's name pattern.
func open(path string) (*fmindex.Index, error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "." + string(filepath.Separator)
	}
	idx, err := fmindex.Open(name, dir, params.DefaultFileNames())
	if err != nil {
		return nil, fmt.Errorf("audit-bwtsw-index: %w", err)
	}
	return idx, nil
}

type summary struct {
	TextLength     uint64
	OccSampling    uint32
	SASampling     uint32
	BaseCounts     [4]uint64
	SubjectCount   int
	AmbiguityCount int
}

type subjectRecord struct {
	Kind   string
	Name   string
	Offset uint64
	Length uint64
}

type ambiguityRecord struct {
	Kind   string
	Offset uint64
	Length uint64
	Code   byte
}
