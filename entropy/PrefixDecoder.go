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

package entropy

import (
	"errors"
	"fmt"
)

const (
	PREFIX_FAST_BITS = 10 // bits resolved by the direct lookup table
	PREFIX_FAST_MASK = (1 << PREFIX_FAST_BITS) - 1
	PREFIX_PEEK_BITS = HUF_MAX_CODE_LENGTH
)

var (
	// ErrIncompleteCode reports code lengths with a Kraft sum below 1
	ErrIncompleteCode = errors.New("incomplete prefix code")

	// ErrOversubscribedCode reports code lengths with a Kraft sum above 1
	ErrOversubscribedCode = errors.New("oversubscribed prefix code")

	// ErrInvalidCodeLength reports a code length outside of [1..20]
	ErrInvalidCodeLength = errors.New("invalid prefix code length")
)

// PrefixDecoder maps 20 bit left justified peeks of the bitstream to symbols
// of a canonical prefix code.
type PrefixDecoder struct {
	alphaSize int
	lengths   [HUF_MAX_ALPHABET]uint8
	counts    [HUF_MAX_CODE_LENGTH + 1]int32
	limits    [HUF_MAX_CODE_LENGTH + 1]uint32 // left justified first code of next length
	bases     [HUF_MAX_CODE_LENGTH + 1]uint32 // left justified first code per length
	offsets   [HUF_MAX_CODE_LENGTH + 1]int32  // index in perm of first symbol per length
	perm      [HUF_MAX_ALPHABET]uint16        // symbols sorted by length then value
	fdTable   [1 << PREFIX_FAST_BITS]uint16   // length<<9 | symbol, 0 if longer than 10 bits
}

// NewPrefixDecoder validates the code lengths and builds the decoding tables.
// Fails with ErrIncompleteCode or ErrOversubscribedCode (wrapped) when the
// lengths do not describe a complete prefix code.
func NewPrefixDecoder(lengths []uint8, alphaSize int) (*PrefixDecoder, error) {
	this := &PrefixDecoder{}

	if err := this.Reset(lengths, alphaSize); err != nil {
		return nil, err
	}

	return this, nil
}

// Reset rebuilds the tables for a new set of code lengths
func (this *PrefixDecoder) Reset(lengths []uint8, alphaSize int) error {
	if alphaSize < HUF_MIN_ALPHABET || alphaSize > HUF_MAX_ALPHABET || alphaSize > len(lengths) {
		return fmt.Errorf("Invalid alphabet size: %d (must be in [%d..%d])", alphaSize, HUF_MIN_ALPHABET, HUF_MAX_ALPHABET)
	}

	this.alphaSize = alphaSize
	this.counts = [HUF_MAX_CODE_LENGTH + 1]int32{}

	for s, l := range lengths[0:alphaSize] {
		if l == 0 || l > HUF_MAX_CODE_LENGTH {
			return fmt.Errorf("%w: symbol %d has length %d", ErrInvalidCodeLength, s, l)
		}

		this.lengths[s] = l
		this.counts[l]++
	}

	sum := KraftSum(lengths[0:alphaSize], HUF_MAX_CODE_LENGTH)

	if sum < 1<<HUF_MAX_CODE_LENGTH {
		return fmt.Errorf("%w: Kraft sum is %d/%d", ErrIncompleteCode, sum, uint64(1)<<HUF_MAX_CODE_LENGTH)
	}

	if sum > 1<<HUF_MAX_CODE_LENGTH {
		return fmt.Errorf("%w: Kraft sum is %d/%d", ErrOversubscribedCode, sum, uint64(1)<<HUF_MAX_CODE_LENGTH)
	}

	code := uint32(0)
	offset := int32(0)

	for l := 1; l <= HUF_MAX_CODE_LENGTH; l++ {
		shift := uint(HUF_MAX_CODE_LENGTH - l)
		this.bases[l] = code << shift
		this.offsets[l] = offset
		code += uint32(this.counts[l])
		offset += this.counts[l]
		this.limits[l] = code << shift
		code <<= 1
	}

	// Stable counting sort of the symbols by length
	var next [HUF_MAX_CODE_LENGTH + 1]int32
	copy(next[:], this.offsets[:])

	for s, l := range this.lengths[0:alphaSize] {
		this.perm[next[l]] = uint16(s)
		next[l]++
	}

	this.fdTable = [1 << PREFIX_FAST_BITS]uint16{}

	for i, s := range this.perm[0:alphaSize] {
		l := this.lengths[s]

		if l > PREFIX_FAST_BITS {
			break
		}

		// Canonical code of the i-th symbol in perm order
		c := (this.bases[l] >> (HUF_MAX_CODE_LENGTH - PREFIX_FAST_BITS)) +
			uint32(int32(i)-this.offsets[l])<<(PREFIX_FAST_BITS-l)
		end := c + 1<<(PREFIX_FAST_BITS-l)
		val := uint16(l)<<9 | s

		for ; c < end; c++ {
			this.fdTable[c] = val
		}
	}

	return nil
}

// Decode returns the symbol starting the 20 bit left justified value 'bits'
// and the length of its code. Every value decodes since the code is complete.
func (this *PrefixDecoder) Decode(bits uint32) (int, uint) {
	if val := this.fdTable[bits>>(PREFIX_PEEK_BITS-PREFIX_FAST_BITS)]; val != 0 {
		return int(val & 0x1FF), uint(val >> 9)
	}

	l := PREFIX_FAST_BITS + 1

	for bits >= this.limits[l] {
		l++
	}

	idx := this.offsets[l] + int32((bits-this.bases[l])>>uint(HUF_MAX_CODE_LENGTH-l))
	return int(this.perm[idx]), uint(l)
}

// symbols returns the symbols sorted by code length then value
func (this *PrefixDecoder) symbols() []uint16 {
	return this.perm[0:this.alphaSize]
}
