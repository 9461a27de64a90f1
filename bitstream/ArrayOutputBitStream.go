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
	"encoding/binary"
	"errors"
	"fmt"
)

// ArrayOutputBitStream writes bits into a byte slice whose final size is known
// before the first bit is written. Complete 32 bit words are flushed as soon
// as they are available in the accumulator.
type ArrayOutputBitStream struct {
	closed    bool
	position  int    // index of next byte to write in buffer
	availBits uint   // free bits in current
	current   uint64 // left justified cached bits
	buffer    []byte
}

// NewArrayOutputBitStream creates a bitstream writing to 'buffer'. The buffer
// must be exactly as long as the data about to be written.
func NewArrayOutputBitStream(buffer []byte) (*ArrayOutputBitStream, error) {
	if buffer == nil {
		return nil, errors.New("Invalid null buffer parameter")
	}

	this := new(ArrayOutputBitStream)
	this.buffer = buffer
	this.availBits = 64
	return this, nil
}

// WriteBit writes the least significant bit of the input integer.
func (this *ArrayOutputBitStream) WriteBit(bit int) {
	this.WriteBits(uint64(bit), 1)
}

// WriteBits writes the 'count' least significant bits of 'value'.
// Panics if the stream is closed, if 'count' is outside of [0..32] or if
// the buffer is too small.
func (this *ArrayOutputBitStream) WriteBits(value uint64, count uint) uint {
	if this.closed == true {
		panic(errors.New("Stream closed"))
	}

	if count > 32 {
		panic(fmt.Errorf("Invalid bit count: %d (must be in [0..32])", count))
	}

	if count == 0 {
		return 0
	}

	// Fewer than 32 bits are pending on entry, so the value always fits
	this.availBits -= count
	this.current |= (value & (0xFFFFFFFFFFFFFFFF >> (64 - count))) << this.availBits

	if this.availBits <= 32 {
		this.pushWord()
	}

	return count
}

// WriteArray writes 'count' bits out of 'bits', most significant bit first.
func (this *ArrayOutputBitStream) WriteArray(bits []byte, count uint) uint {
	if count > uint(len(bits)<<3) {
		panic(fmt.Errorf("Invalid length: %d (must be in [0..%d])", count, len(bits)<<3))
	}

	remaining := count
	idx := 0

	for remaining >= 8 {
		this.WriteBits(uint64(bits[idx]), 8)
		idx++
		remaining -= 8
	}

	if remaining > 0 {
		this.WriteBits(uint64(bits[idx])>>(8-remaining), remaining)
	}

	return count
}

func (this *ArrayOutputBitStream) pushWord() {
	if this.position+4 > len(this.buffer) {
		panic(fmt.Errorf("Bit stream overflow: buffer size is %d bytes", len(this.buffer)))
	}

	binary.BigEndian.PutUint32(this.buffer[this.position:], uint32(this.current>>32))
	this.position += 4
	this.current <<= 32
	this.availBits += 32
}

// Close flushes the pending bits, padding the last byte with zeros.
// Returns an error if the number of bytes produced differs from the size of
// the buffer provided at construction.
func (this *ArrayOutputBitStream) Close() (bool, error) {
	if this.closed == true {
		return true, nil
	}

	for pending := int(64 - this.availBits); pending > 0; pending -= 8 {
		if this.position >= len(this.buffer) {
			return false, fmt.Errorf("Bit stream overflow: buffer size is %d bytes", len(this.buffer))
		}

		this.buffer[this.position] = byte(this.current >> 56)
		this.current <<= 8
		this.position++
	}

	this.availBits = 64
	this.closed = true

	if this.position != len(this.buffer) {
		return false, fmt.Errorf("Bit stream size mismatch: wrote %d bytes, expected %d",
			this.position, len(this.buffer))
	}

	return true, nil
}

// Written returns the number of bits written so far
func (this *ArrayOutputBitStream) Written() uint64 {
	if this.closed == true {
		return uint64(this.position) << 3
	}

	return uint64(this.position)<<3 + uint64(64-this.availBits)
}

// Closed says whether this stream can be written to
func (this *ArrayOutputBitStream) Closed() bool {
	return this.closed
}
