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

package bitstream

import (
	"errors"
	"fmt"
)

// Outcomes of ResumableInputBitStream.Need
const (
	READY           = 0 // the requested bits can be peeked or taken
	NEED_MORE_INPUT = 1 // all supplied bytes are buffered, call back after Supply
	END_OF_INPUT    = 2 // the source is exhausted and too few bits remain
)

// MAX_NEED is the largest bit count that can be requested at once
const MAX_NEED = 57

// ResumableInputBitStream is a bit reader fed by byte chunks of any size.
// Instead of blocking when it runs dry it reports NEED_MORE_INPUT, keeping
// every consumed bit accounted for, so that the caller can supply the next
// chunk and resume exactly where it stopped.
type ResumableInputBitStream struct {
	chunk      []byte
	position   int    // index of next byte to absorb in chunk
	availBits  uint   // valid bits in current (right justified)
	current    uint64 // cached bits
	read       uint64 // bits consumed so far
	endOfInput bool
}

// NewResumableInputBitStream creates an empty bitstream. Data is provided
// with Supply.
func NewResumableInputBitStream() *ResumableInputBitStream {
	return new(ResumableInputBitStream)
}

// Supply hands the next chunk of input to the bitstream. The slice is
// referenced, not copied, until Need reports NEED_MORE_INPUT or END_OF_INPUT.
func (this *ResumableInputBitStream) Supply(chunk []byte) error {
	if this.position < len(this.chunk) {
		return errors.New("Previous chunk not fully consumed")
	}

	if this.endOfInput == true {
		return errors.New("Input already marked as complete")
	}

	this.chunk = chunk
	this.position = 0
	return nil
}

// SetEndOfInput signals that no more chunks will be supplied.
func (this *ResumableInputBitStream) SetEndOfInput() {
	this.endOfInput = true
}

// EndOfInput says whether SetEndOfInput has been called
func (this *ResumableInputBitStream) EndOfInput() bool {
	return this.endOfInput
}

// Need tops up the accumulator and reports whether 'count' bits are
// available. When it returns NEED_MORE_INPUT the current chunk has been
// fully absorbed and may be reused by the caller.
func (this *ResumableInputBitStream) Need(count uint) int {
	if count > MAX_NEED {
		panic(fmt.Errorf("Invalid bit count: %d (must be in [0..%d])", count, MAX_NEED))
	}

	for this.availBits < count && this.position < len(this.chunk) {
		this.current = (this.current << 8) | uint64(this.chunk[this.position])
		this.position++
		this.availBits += 8
	}

	if this.availBits >= count {
		return READY
	}

	this.chunk = nil
	this.position = 0

	if this.endOfInput == true {
		return END_OF_INPUT
	}

	return NEED_MORE_INPUT
}

// Peek returns the next 'count' bits without consuming them. Need(count)
// must have returned READY.
func (this *ResumableInputBitStream) Peek(count uint) uint64 {
	if count == 0 {
		return 0
	}

	return (this.current >> (this.availBits - count)) & (0xFFFFFFFFFFFFFFFF >> (64 - count))
}

// PeekPadded returns the next 'count' bits, completing with zero bits when
// fewer are buffered. Used to decode the last codes of a truncated source.
func (this *ResumableInputBitStream) PeekPadded(count uint) uint64 {
	if this.availBits >= count {
		return this.Peek(count)
	}

	if this.availBits == 0 {
		return 0
	}

	return (this.current << (count - this.availBits)) & (0xFFFFFFFFFFFFFFFF >> (64 - count))
}

// Take consumes and returns the next 'count' bits. Need(count) must have
// returned READY.
func (this *ResumableInputBitStream) Take(count uint) uint64 {
	if count > this.availBits {
		panic(fmt.Errorf("Cannot take %d bits, only %d available", count, this.availBits))
	}

	res := this.Peek(count)
	this.availBits -= count
	this.read += uint64(count)
	return res
}

// Skip consumes 'count' buffered bits.
func (this *ResumableInputBitStream) Skip(count uint) {
	this.Take(count)
}

// AlignToByte drops the bits left in a partially consumed byte
func (this *ResumableInputBitStream) AlignToByte() {
	this.Skip(this.availBits & 7)
}

// Available returns the number of bits buffered in the accumulator
func (this *ResumableInputBitStream) Available() uint {
	return this.availBits
}

// Read returns the number of bits consumed so far
func (this *ResumableInputBitStream) Read() uint64 {
	return this.read
}

// Reset discards all buffered data and state
func (this *ResumableInputBitStream) Reset() {
	this.chunk = nil
	this.position = 0
	this.availBits = 0
	this.current = 0
	this.read = 0
	this.endOfInput = false
}
