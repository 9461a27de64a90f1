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
)

// Symbols of the second stage alphabet. Runs of the front symbol are written
// in bijective base 2 with digits RUNA (1) and RUNB (2), least significant
// digit first. An MTF rank j > 0 becomes symbol j+1 and the last symbol of
// the alphabet marks the end of the block.
const (
	RUNA             = 0
	RUNB             = 1
	MTF_MAX_ALPHABET = 258
	MTF_MIN_ALPHABET = 3
)

// MTFT is the bzip2 Move-To-Front plus zero run length transform (RLE2).
// Ranks are computed over the dense space of the byte values present in the
// block, which keeps the alphabet small.
type MTFT struct {
	ranks [256]byte
}

// NewMTFT creates a new instance of MTFT
func NewMTFT() (*MTFT, error) {
	return &MTFT{}, nil
}

// Forward transforms the BWT output 'src' into the symbols 'mtfv' and
// accumulates symbol frequencies in 'freqs' (which must be cleared by the
// caller). 'mtfv' must hold at least len(src)+1 symbols and 'freqs'
// MTF_MAX_ALPHABET entries. Returns the number of symbols (end of block
// included) and the alphabet size.
func (this *MTFT) Forward(src []byte, inUse *[256]bool, mtfv []uint16, freqs []int32) (int, int) {
	if len(mtfv) < len(src)+1 {
		panic(fmt.Errorf("MTFT forward: symbol buffer too small (%d for %d bytes)", len(mtfv), len(src)))
	}

	var unseqToSeq [256]byte
	nInUse := 0

	for i := range inUse {
		if inUse[i] == true {
			unseqToSeq[i] = byte(nInUse)
			nInUse++
		}
	}

	if nInUse == 0 {
		panic(errors.New("MTFT forward: no symbol in use"))
	}

	ranks := this.ranks[0:nInUse]

	for i := range ranks {
		ranks[i] = byte(i)
	}

	eob := uint16(nInUse + 1)
	zPend := 0
	n := 0

	for _, b := range src {
		s := unseqToSeq[b]

		if ranks[0] == s {
			zPend++
			continue
		}

		if zPend > 0 {
			n = emitRun(zPend, mtfv, n, freqs)
			zPend = 0
		}

		j := 1

		for ranks[j] != s {
			j++
		}

		copy(ranks[1:j+1], ranks[0:j])
		ranks[0] = s
		mtfv[n] = uint16(j + 1)
		freqs[j+1]++
		n++
	}

	if zPend > 0 {
		n = emitRun(zPend, mtfv, n, freqs)
	}

	mtfv[n] = eob
	freqs[eob]++
	n++
	return n, nInUse + 2
}

// emitRun writes a run of 'zPend' front symbols as RUNA/RUNB digits
func emitRun(zPend int, mtfv []uint16, n int, freqs []int32) int {
	zPend--

	for {
		sym := uint16(RUNA)

		if zPend&1 != 0 {
			sym = RUNB
		}

		mtfv[n] = sym
		freqs[sym]++
		n++

		if zPend < 2 {
			break
		}

		zPend = (zPend - 2) >> 1
	}

	return n
}

// MTFDecoder reverses MTFT one symbol at a time. Decoded bytes are stored in
// the low 8 bits of the inverse BWT link array, and counted per byte value.
// The decoder keeps all its state in fields so that decoding can stop after
// any symbol and resume later.
type MTFDecoder struct {
	list      [256]byte
	nInUse    int
	runLength int
	runWeight int
	tt        []uint32
	count     int
	capacity  int
	counts    [256]int32
}

// NewMTFDecoder creates a new instance of MTFDecoder
func NewMTFDecoder() *MTFDecoder {
	return &MTFDecoder{}
}

// Reset prepares the decoder for a new block. 'seqToUnseq' maps dense ranks
// to byte values, 'tt' receives at most 'capacity' decoded bytes.
func (this *MTFDecoder) Reset(seqToUnseq []byte, tt []uint32, capacity int) {
	if capacity > len(tt) {
		panic(fmt.Errorf("MTF decoder: capacity %d exceeds buffer length %d", capacity, len(tt)))
	}

	this.nInUse = copy(this.list[:], seqToUnseq)
	this.runLength = 0
	this.runWeight = 1
	this.tt = tt
	this.count = 0
	this.capacity = capacity
	this.counts = [256]int32{}
}

// Symbol processes one symbol (end of block excluded)
func (this *MTFDecoder) Symbol(sym int) error {
	if sym == RUNA || sym == RUNB {
		// Digits beyond the block capacity cannot form a valid run
		if this.runWeight > this.capacity {
			return fmt.Errorf("Run of the front symbol exceeds the block capacity of %d bytes", this.capacity)
		}

		this.runLength += this.runWeight << uint(sym)
		this.runWeight <<= 1
		return nil
	}

	if err := this.Flush(); err != nil {
		return err
	}

	idx := sym - 1

	if idx < 1 || idx >= this.nInUse {
		return fmt.Errorf("Invalid MTF symbol %d (must be in [2..%d])", sym, this.nInUse)
	}

	if this.count >= this.capacity {
		return fmt.Errorf("Decoded data exceeds the block capacity of %d bytes", this.capacity)
	}

	b := this.list[idx]
	copy(this.list[1:idx+1], this.list[0:idx])
	this.list[0] = b
	this.tt[this.count] = uint32(b)
	this.counts[b]++
	this.count++
	return nil
}

// Flush writes the pending run of front symbols, if any
func (this *MTFDecoder) Flush() error {
	if this.runLength == 0 {
		return nil
	}

	if this.runLength > this.capacity-this.count {
		return fmt.Errorf("Run of %d bytes exceeds the block capacity of %d bytes", this.runLength, this.capacity)
	}

	b := this.list[0]
	v := uint32(b)

	for i := this.count; i < this.count+this.runLength; i++ {
		this.tt[i] = v
	}

	this.counts[b] += int32(this.runLength)
	this.count += this.runLength
	this.runLength = 0
	this.runWeight = 1
	return nil
}

// Count returns the number of bytes decoded so far
func (this *MTFDecoder) Count() int {
	return this.count
}

// Counts returns the number of occurrences of each decoded byte value
func (this *MTFDecoder) Counts() *[256]int32 {
	return &this.counts
}
