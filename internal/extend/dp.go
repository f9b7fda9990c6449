// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package extend

const negInf = -(1 << 30)

// affineExtend runs an anchored (no-restart) affine-gap DP of db
// against query: the alignment must begin at (0,0), but may end at
// whichever (i,j) attains the best M-matrix score, modelling an X-drop
// style extension that stops as soon as continuing no longer helps.
// Only M-matrix cells are considered as endpoints, since a biologically
// meaningful alignment does not end on an open gap. It returns the
// score contributed by the chosen endpoint, the number of db and query
// bases consumed to reach it, and the edit string (db-then-query
// order, i.e. 5'->3' along db) for that span.
func affineExtend(db, query []byte, cfg Config) (score, dbUsed, queryUsed int, edits []byte) {
	n, m := len(db), len(query)
	if n == 0 || m == 0 {
		return 0, 0, 0, nil
	}
	stride := m + 1

	mMat := make([]int32, (n+1)*stride)
	ixMat := make([]int32, (n+1)*stride)
	iyMat := make([]int32, (n+1)*stride)
	// backtrack codes: 0 = from M, 1 = from Ix, 2 = from Iy (diag for M;
	// vertical for Ix; horizontal for Iy)
	mBT := make([]byte, (n+1)*stride)
	ixBT := make([]byte, (n+1)*stride)
	iyBT := make([]byte, (n+1)*stride)

	for i := range mMat {
		mMat[i] = negInf
		ixMat[i] = negInf
		iyMat[i] = negInf
	}
	mMat[0] = 0

	go_, ge := int32(cfg.GapOpen), int32(cfg.GapExtend)
	for i := 1; i <= n; i++ {
		idx := i * stride
		ixMat[idx] = -go_ - ge*int32(i)
	}
	for j := 1; j <= m; j++ {
		iyMat[j] = -go_ - ge*int32(j)
	}

	bestScore := int32(0)
	bestI, bestJ := 0, 0

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			idx := i*stride + j
			diagIdx := (i-1)*stride + (j - 1)

			s := int32(cfg.Mismatch)
			if db[i-1] == query[j-1] {
				s = int32(cfg.Match)
			} else {
				s = -s
			}

			mDiag, mFromM := mMat[diagIdx], byte(0)
			if ixMat[diagIdx] > mDiag {
				mDiag, mFromM = ixMat[diagIdx], 1
			}
			if iyMat[diagIdx] > mDiag {
				mDiag, mFromM = iyMat[diagIdx], 2
			}
			mMat[idx] = mDiag + s
			mBT[idx] = mFromM

			upIdx := (i-1)*stride + j
			ixFromM := mMat[upIdx] - go_ - ge
			ixFromIx := ixMat[upIdx] - ge
			if ixFromIx > ixFromM {
				ixMat[idx] = ixFromIx
				ixBT[idx] = 1
			} else {
				ixMat[idx] = ixFromM
				ixBT[idx] = 0
			}

			leftIdx := i*stride + (j - 1)
			iyFromM := mMat[leftIdx] - go_ - ge
			iyFromIy := iyMat[leftIdx] - ge
			if iyFromIy > iyFromM {
				iyMat[idx] = iyFromIy
				iyBT[idx] = 2
			} else {
				iyMat[idx] = iyFromM
				iyBT[idx] = 0
			}

			if mMat[idx] > bestScore {
				bestScore = mMat[idx]
				bestI, bestJ = i, j
			}
		}
	}

	if bestI == 0 && bestJ == 0 {
		return 0, 0, 0, nil
	}

	i, j, mat := bestI, bestJ, 0 // mat: 0=M, 1=Ix, 2=Iy
	for i > 0 || j > 0 {
		switch mat {
		case 0:
			idx := i*stride + j
			edits = append(edits, editFor(db[i-1], query[j-1]))
			from := mBT[idx]
			i, j = i-1, j-1
			mat = int(from)
		case 1:
			idx := i*stride + j
			edits = append(edits, EditDelete)
			from := ixBT[idx]
			i--
			mat = int(from)
		case 2:
			idx := i*stride + j
			edits = append(edits, EditInsert)
			from := iyBT[idx]
			j--
			mat = int(from)
		}
	}
	reverseInPlace(edits)

	return int(bestScore), bestI, bestJ, edits
}

func editFor(a, b byte) byte {
	if a == b {
		return EditMatch
	}
	return EditMismatch
}
