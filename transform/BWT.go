/*
Copyright 2011-2024 Frederic Langlet
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
you may obtain a copy of the License at

                http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transform

import (
	"errors"
	"fmt"

	"github.com/flanglet/kbzip2/util"
)

// BWT_MAX_BLOCK_SIZE is the largest block accepted by the transform. bzip2
// blocks hold at most 900000 bytes (after first stage run length coding).
const BWT_MAX_BLOCK_SIZE = 900000

// The Burrows-Wheeler Transform is a reversible transform based on
// permutation of the data in the original message to reduce the entropy.

// The initial text can be found here:
// Burrows M and Wheeler D, [A block sorting lossless data compression algorithm]
// Technical Report 124, Digital Equipment Corporation, 1994

// bzip2 sorts the cyclic rotations of a block (no end of string marker).
// This implementation replaces the rotation sort with the construction of a
// suffix array: once the block is rotated to start with its lexicographically
// least rotation, the order of its suffixes is also an order of its
// rotations (equal rotations of a periodic block being interchangeable).
//
// E.G.    012345
// Source: banana, least rotation at 5 => T' = abanan
//
// suffixes of T'   rotations of T'   L
//   0  abanan        abanan          n
//   4  an            anaban          n
//   2  anan          ananab          b
//   1  banan         banana          a   <- primary index 3
//   5  n             nabana          a
//   3  nan           nanaba          a
//
// Suffixes that are a prefix of another suffix sort first. In a least
// rotation, the rotation continuing such a suffix restarts with T' itself,
// which is never larger than any other continuation, so both orders agree.
//
// L[r] = T'[SA[r]-1], and the primary index is the rank of the rotation
// starting at offset 0 of the original block.

// BWT computes the bzip2 forward and inverse transforms. An instance owns all
// its scratch buffers and may be reused for any number of blocks, but not
// concurrently.
type BWT struct {
	buffer []byte  // rotated block
	sa     []int32 // suffix array
	saAlgo *DivSufSort
}

// NewBWT creates a new instance of BWT
func NewBWT() (*BWT, error) {
	this := &BWT{}
	this.buffer = make([]byte, 0)
	this.sa = make([]int32, 0)
	return this, nil
}

// Forward applies the transform to 'src' and writes the last column of the
// sorted rotation matrix to 'dst'. Returns the primary index.
func (this *BWT) Forward(src, dst []byte) (uint, error) {
	count := len(src)

	if count == 0 {
		return 0, errors.New("BWT forward: empty block")
	}

	if count > BWT_MAX_BLOCK_SIZE {
		return 0, fmt.Errorf("BWT forward: the max block size is %d, got %d", BWT_MAX_BLOCK_SIZE, count)
	}

	if count > len(dst) {
		return 0, fmt.Errorf("BWT forward: block size is %d, output buffer length is %d", count, len(dst))
	}

	if &src[0] == &dst[0] {
		return 0, errors.New("BWT forward: input and output buffers cannot be equal")
	}

	if count == 1 {
		dst[0] = src[0]
		return 0, nil
	}

	if isConstant(src) == true {
		// All rotations are equal
		copy(dst, src)
		return 0, nil
	}

	if this.saAlgo == nil {
		var err error

		if this.saAlgo, err = NewDivSufSort(); err != nil {
			return 0, err
		}
	}

	// Lazy dynamic memory allocation
	if len(this.buffer) < count {
		this.buffer = make([]byte, count)
	}

	if len(this.sa) < count {
		this.sa = make([]int32, count)
	}

	shift := util.LeastRotation(src)
	rotated := this.buffer[0:count]
	copy(rotated, src[shift:])
	copy(rotated[count-shift:], src[0:shift])
	sa := this.sa[0:count]
	this.saAlgo.ComputeSuffixArray(rotated, sa)

	// Offset 0 of the original block is at offset count-shift of T'
	origin := int32(count-shift) % int32(count)
	primaryIndex := uint(0)

	for r, s := range sa {
		if s == origin {
			primaryIndex = uint(r)
		}

		if s == 0 {
			dst[r] = rotated[count-1]
		} else {
			dst[r] = rotated[s-1]
		}
	}

	return primaryIndex, nil
}

// Inverse rebuilds a block of 'count' bytes from its last column.
// The low 8 bits of tt[0:count] hold the last column, 'counts' the number of
// occurrences of each byte value. The high 24 bits of tt are overwritten with
// the successor links. The block is written to 'dst' which is grown when too
// small, and returned.
func (this *BWT) Inverse(counts *[256]int32, tt []uint32, primaryIndex uint, count int, dst []byte) ([]byte, error) {
	if count <= 0 || count > len(tt) {
		return dst[:0], fmt.Errorf("BWT inverse: invalid block size %d", count)
	}

	if count > BWT_MAX_BLOCK_SIZE {
		return dst[:0], fmt.Errorf("BWT inverse: the max block size is %d, got %d", BWT_MAX_BLOCK_SIZE, count)
	}

	if primaryIndex >= uint(count) {
		return dst[:0], fmt.Errorf("BWT inverse: primary index %d out of range [0..%d]", primaryIndex, count-1)
	}

	if cap(dst) < count {
		dst = make([]byte, count)
	}

	dst = dst[0:count]
	var cftab [256]uint32
	sum := uint32(0)

	for i := range cftab {
		cftab[i] = sum
		sum += uint32(counts[i])
	}

	if sum != uint32(count) {
		return dst[:0], fmt.Errorf("BWT inverse: byte counts add up to %d, expected %d", sum, count)
	}

	for i := 0; i < count; i++ {
		b := tt[i] & 0xFF
		tt[cftab[b]] |= uint32(i) << 8
		cftab[b]++
	}

	start := tt[primaryIndex] >> 8
	pos := start

	for i := 0; i < count; i++ {
		v := tt[pos]
		dst[i] = byte(v)
		pos = v >> 8

		if pos != start || i+1 == count {
			continue
		}

		// The walk closed a cycle early. A periodic block yields repetitions
		// of one cycle, anything else is a corrupted permutation.
		period := i + 1

		if count%period != 0 {
			return dst[:0], fmt.Errorf("BWT inverse: the permutation cycle of length %d does not span the block of %d bytes", period, count)
		}

		for j := period; j < count; j++ {
			dst[j] = dst[j-period]
		}

		break
	}

	return dst, nil
}

func isConstant(buf []byte) bool {
	b := buf[0]

	for _, c := range buf[1:] {
		if c != b {
			return false
		}
	}

	return true
}
