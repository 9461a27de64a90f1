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
	"io"
)

// DefaultOutputBitStream is a buffered big endian bit writer on top of an
// io.WriteCloser. The stream writer uses it to append the bits of compressed
// blocks one after the other, blocks not being byte aligned in a bzip2 stream.
// Whole bytes go to the buffer, the bits of the last incomplete byte are kept
// left aligned in 'partial'.
type DefaultOutputBitStream struct {
	closed   bool
	written  uint64 // bits flushed to the underlying stream
	position int    // bytes pending in buffer
	partial  byte
	nbits    uint // number of bits in partial, in [0..7]
	os       io.WriteCloser
	buffer   []byte
}

// NewDefaultOutputBitStream creates a bitstream for writing, using the provided stream as
// the underlying I/O object.
func NewDefaultOutputBitStream(stream io.WriteCloser, bufferSize uint) (*DefaultOutputBitStream, error) {
	if stream == nil {
		return nil, errors.New("Invalid null output stream parameter")
	}

	if bufferSize < 1024 {
		return nil, errors.New("Invalid buffer size parameter (must be at least 1024 bytes)")
	}

	if bufferSize > 1<<29 {
		return nil, errors.New("Invalid buffer size parameter (must be at most 536870912 bytes)")
	}

	if bufferSize&7 != 0 {
		return nil, errors.New("Invalid buffer size (must be a multiple of 8)")
	}

	this := new(DefaultOutputBitStream)
	this.buffer = make([]byte, bufferSize)
	this.os = stream
	return this, nil
}

// WriteBit writes the least significant bit of the input integer. Panics if the bitstream is closed
func (this *DefaultOutputBitStream) WriteBit(bit int) {
	this.WriteBits(uint64(bit&1), 1)
}

// WriteBits writes 'count' from 'value' to the bitstream.
// Panics if the bitstream is closed or 'count' is outside of [1..64].
// Returns the number of written bits.
func (this *DefaultOutputBitStream) WriteBits(value uint64, count uint) uint {
	if this.closed == true {
		panic(errors.New("Stream closed"))
	}

	if count > 64 {
		panic(fmt.Errorf("Invalid bit count: %d (must be in [1..64])", count))
	}

	for remaining := count; remaining > 0; {
		n := 8 - this.nbits

		if n > remaining {
			n = remaining
		}

		remaining -= n
		chunk := byte(value>>remaining) & byte(0xFF>>(8-n))
		this.partial |= chunk << (8 - this.nbits - n)
		this.nbits += n

		if this.nbits == 8 {
			this.putByte(this.partial)
			this.partial = 0
			this.nbits = 0
		}
	}

	return count
}

// WriteArray appends the first 'count' bits of 'bits' to the bitstream.
// Panics if the bitstream is closed or 'count' bigger than the number of bits
// in the 'bits' slice. Returns the number of written bits.
func (this *DefaultOutputBitStream) WriteArray(bits []byte, count uint) uint {
	if this.closed == true {
		panic(errors.New("Stream closed"))
	}

	if count > uint(len(bits)<<3) {
		panic(fmt.Errorf("Invalid length: %d (must be in [1..%d])", count, len(bits)<<3))
	}

	whole := int(count >> 3)

	if this.nbits == 0 {
		this.putBytes(bits[0:whole])
	} else {
		// Each output byte takes the pending bits then the head of the next
		// input byte. Eight bytes at a time, then byte by byte.
		shift := this.nbits
		var word [8]byte
		i := 0

		for ; i+8 <= whole; i += 8 {
			v := binary.BigEndian.Uint64(bits[i : i+8])
			binary.BigEndian.PutUint64(word[:], uint64(this.partial)<<56|v>>shift)
			this.putBytes(word[:])
			this.partial = byte(v) << (8 - shift)
		}

		for ; i < whole; i++ {
			this.putByte(this.partial | bits[i]>>shift)
			this.partial = bits[i] << (8 - shift)
		}
	}

	if rem := count & 7; rem > 0 {
		this.WriteBits(uint64(bits[whole]>>(8-rem)), rem)
	}

	return count
}

func (this *DefaultOutputBitStream) putByte(b byte) {
	this.buffer[this.position] = b
	this.position++

	if this.position == len(this.buffer) {
		if err := this.flush(); err != nil {
			panic(err)
		}
	}
}

func (this *DefaultOutputBitStream) putBytes(b []byte) {
	for len(b) > 0 {
		n := copy(this.buffer[this.position:], b)
		b = b[n:]
		this.position += n

		if this.position == len(this.buffer) {
			if err := this.flush(); err != nil {
				panic(err)
			}
		}
	}
}

// Write buffer into underlying stream
func (this *DefaultOutputBitStream) flush() error {
	if this.position > 0 {
		if _, err := this.os.Write(this.buffer[0:this.position]); err != nil {
			return err
		}

		this.written += uint64(this.position) << 3
		this.position = 0
	}

	return nil
}

// Close writes the pending bits (the last byte is padded with zeros) and
// prevents further writes. The underlying stream is not closed.
func (this *DefaultOutputBitStream) Close() (bool, error) {
	if this.closed == true {
		return true, nil
	}

	if this.nbits > 0 {
		// The buffer is never left full, there is room for the last byte
		this.buffer[this.position] = this.partial
		this.position++
		this.partial = 0
		this.nbits = 0
	}

	if err := this.flush(); err != nil {
		return false, err
	}

	this.closed = true
	return true, nil
}

// Written returns the number of bits written so far
func (this *DefaultOutputBitStream) Written() uint64 {
	return this.written + uint64(this.position)<<3 + uint64(this.nbits)
}
