// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fmindex

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// fileVersion is bumped whenever the on-disk layout of an artifact
// changes. The loader rejects a mismatched version as a fatal index
// inconsistency (spec.md §7 item 3).
const fileVersion = 1

// magic values identify each of the six index artifacts so a loader
// given the wrong file name pattern fails fast instead of misreading
// unrelated bytes as index structure.
const (
	magicBWT       uint32 = 0x42575431 // "BWT1"
	magicOcc       uint32 = 0x464d5631 // "FMV1"
	magicSA        uint32 = 0x53414931 // "SAI1"
	magicPackedDNA uint32 = 0x50414331 // "PAC1"
	magicAnn       uint32 = 0x414e4e31 // "ANN1"
	magicAmb       uint32 = 0x414d4231 // "AMB1"
)

// header is the fixed-size self-describing prologue shared by every
// artifact: magic, version and the text length the artifact was built
// against. Bodies differ per artifact and are documented alongside
// their readers.
type header struct {
	Magic      uint32
	Version    uint32
	TextLength uint64
}

const headerSize = 4 + 4 + 8

func readHeader(buf []byte, want uint32) (header, []byte, error) {
	if len(buf) < headerSize {
		return header{}, nil, fmt.Errorf("fmindex: truncated header (%d bytes)", len(buf))
	}
	h := header{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		TextLength: binary.LittleEndian.Uint64(buf[8:16]),
	}
	if h.Magic != want {
		return header{}, nil, fmt.Errorf("fmindex: bad magic %#x, want %#x", h.Magic, want)
	}
	if h.Version != fileVersion {
		return header{}, nil, fmt.Errorf("fmindex: unsupported version %d, want %d", h.Version, fileVersion)
	}
	return h, buf[headerSize:], nil
}

func putHeader(buf []byte, magic uint32, textLength uint64) {
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], fileVersion)
	binary.LittleEndian.PutUint64(buf[8:16], textLength)
}

// resolvePattern substitutes dbName into the single '*' of pattern, the
// same substitution BWTSW.c's ProcessFileName performs for the six
// index artifact name patterns in spec.md §6.
func resolvePattern(pattern, dbName string) (string, error) {
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return pattern, nil
	}
	if strings.IndexByte(pattern[i+1:], '*') >= 0 {
		return "", fmt.Errorf("fmindex: pattern %q has more than one '*'", pattern)
	}
	return pattern[:i] + dbName + pattern[i+1:], nil
}
