// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package params bundles the score block, file names and search flags
// that BWTSW.c kept in process globals into a single value that is
// built once per invocation and passed explicitly, as required to make
// concurrent queries safe.
package params

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Strand selects which orientation(s) of a query are searched.
type Strand int

const (
	StrandPositive Strand = 1
	StrandNegative Strand = 2
	StrandBoth     Strand = 3
)

// OutputFormat selects the report renderer used by the output formatter.
type OutputFormat int

const (
	OutputPairwise        OutputFormat = 0
	OutputTabular         OutputFormat = 8
	OutputTabularComment  OutputFormat = 9
)

// ScoreBlock holds the affine-gap scoring parameters. GapOpen and
// GapExtend are stored as positive costs, as BWTSW.c does, and are
// negated by callers that need a penalty.
type ScoreBlock struct {
	Match     int
	Mismatch  int
	GapOpen   int
	GapExtend int
}

// Validate checks the score parameter constraints from spec.md §6.
func (s ScoreBlock) Validate() error {
	if s.Match <= 0 {
		return fmt.Errorf("params: match reward must be positive, got %d", s.Match)
	}
	if s.Mismatch >= 0 {
		return fmt.Errorf("params: mismatch penalty must be negative, got %d", s.Mismatch)
	}
	if -s.Mismatch < 3*s.Match {
		return fmt.Errorf("params: mismatch penalty must be at least 3x match reward: -q=%d r=%d", -s.Mismatch, s.Match)
	}
	if s.GapOpen <= 0 {
		return fmt.Errorf("params: gap open cost must be positive, got %d", s.GapOpen)
	}
	if s.GapExtend <= 0 {
		return fmt.Errorf("params: gap extend cost must be positive, got %d", s.GapExtend)
	}
	if 2*s.GapExtend < -s.Mismatch {
		return fmt.Errorf("params: mismatch penalty must be at most 2x gap extend cost: -q=%d 2E=%d", -s.Mismatch, 2*s.GapExtend)
	}
	return nil
}

// FileNames holds the six index artifact name patterns from spec.md §6.
type FileNames struct {
	Annotation string
	Ambiguity  string
	PackedDNA  string
	BWTCode    string
	OccValue   string
	SAValue    string
}

// DefaultFileNames matches the default suffixes named in spec.md §6.
func DefaultFileNames() FileNames {
	return FileNames{
		Annotation: "*.ann",
		Ambiguity:  "*.amb",
		PackedDNA:  "*.pac",
		BWTCode:    "*.bwt",
		OccValue:   "*.fmv",
		SAValue:    "*.sa",
	}
}

// Dust holds the low-complexity masking flags.
type Dust struct {
	Enabled bool
	Level   int
	Window  int
}

// DefaultDust matches BWTSW.c's defaults.
func DefaultDust() Dust {
	return Dust{Enabled: true, Level: 20, Window: 64}
}

// Parameters is the per-query configuration value that replaces BWTSW.c's
// process globals (spec.md §9 design note). A Parameters is built once at
// the start of a query (or server request) and is safe to copy; no field
// is shared mutable state across concurrent queries.
type Parameters struct {
	DatabaseName string
	Files        FileNames

	QueryFileName  string
	OutputFileName string
	AlignFileName  string
	TimingFileName string

	Strand       Strand
	MaskLowerCase bool
	Dust         Dust
	OutputFormat OutputFormat

	Score        ScoreBlock
	Expectation  float64

	// WorkingMemoryUnits bounds the BWT-DP working arena in SA-index
	// groups before it must grow (spec.md §4.3.4, §7 item 4).
	WorkingMemoryUnits int
	// AlignmentMemoryUnits bounds the per-query alignment arena.
	AlignmentMemoryUnits int
}

// Validate checks the combination of fields per spec.md §7 item 1 and §6.
func (p Parameters) Validate() error {
	if err := p.Score.Validate(); err != nil {
		return err
	}
	if p.Expectation <= 0 {
		return fmt.Errorf("params: expectation value must be positive, got %v", p.Expectation)
	}
	switch p.Strand {
	case StrandPositive, StrandNegative, StrandBoth:
	default:
		return fmt.Errorf("params: query strand must be 1, 2 or 3, got %d", p.Strand)
	}
	switch p.OutputFormat {
	case OutputPairwise, OutputTabular, OutputTabularComment:
	default:
		return fmt.Errorf("params: only -m 0, 8 and 9 output formats are supported, got %d", p.OutputFormat)
	}
	return nil
}

// LoadParmFile merges HitScoring, Dust and ExpectationValue sections from
// the ini-format query parameter file at path into p; each key present
// in the file overwrites the corresponding field of p. Only that one
// file is read: no <program>.parm or <database>.parm is searched for.
// A missing file is not an error; it is treated as an empty override set.
func LoadParmFile(p *Parameters, path string) error {
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return fmt.Errorf("params: loading %s: %w", path, err)
	}
	if sec, err := cfg.GetSection("HitScoring"); err == nil {
		if k, err := sec.GetKey("Match"); err == nil {
			if v, err := k.Int(); err == nil {
				p.Score.Match = v
			}
		}
		if k, err := sec.GetKey("Mismatch"); err == nil {
			if v, err := k.Int(); err == nil {
				p.Score.Mismatch = v
			}
		}
		if k, err := sec.GetKey("GapOpen"); err == nil {
			if v, err := k.Int(); err == nil {
				p.Score.GapOpen = v
			}
		}
		if k, err := sec.GetKey("GapExtension"); err == nil {
			if v, err := k.Int(); err == nil {
				p.Score.GapExtend = v
			}
		}
	}
	if sec, err := cfg.GetSection("Dust"); err == nil {
		if k, err := sec.GetKey("DustLevel"); err == nil {
			if v, err := k.Int(); err == nil {
				p.Dust.Level = v
			}
		}
		if k, err := sec.GetKey("DustWindow"); err == nil {
			if v, err := k.Int(); err == nil {
				p.Dust.Window = v
			}
		}
	}
	if sec, err := cfg.GetSection("ExpectationValue"); err == nil {
		if k, err := sec.GetKey("ExpectationValue"); err == nil {
			if v, err := k.Float64(); err == nil {
				p.Expectation = v
			}
		}
	}
	return nil
}
