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

package kbzip2

const (
	ERR_MISSING_PARAM       = 1
	ERR_BLOCK_SIZE          = 2
	ERR_CREATE_COMPRESSOR   = 4
	ERR_CREATE_DECOMPRESSOR = 5
	ERR_OUTPUT_IS_DIR       = 6
	ERR_OVERWRITE_FILE      = 7
	ERR_CREATE_FILE         = 8
	ERR_CREATE_BITSTREAM    = 9
	ERR_OPEN_FILE           = 10
	ERR_READ_FILE           = 11
	ERR_WRITE_FILE          = 12
	ERR_PROCESS_BLOCK       = 13
	ERR_INVALID_FILE        = 15
	ERR_CREATE_STREAM       = 17
	ERR_INVALID_PARAM       = 18
	ERR_CRC_CHECK           = 19
	ERR_VERIFY              = 20
	ERR_UNKNOWN             = 127
)

const (
	MIN_LEVEL       = 1
	MAX_LEVEL       = 9
	BLOCK_SIZE_UNIT = 100000 // max block size is level * BLOCK_SIZE_UNIT
)

// OutputBitStream  A bitstream writer
type OutputBitStream interface {
	// WriteBit  Write the least significant bit of the input integer
	// Panic if closed or an IO error is received.
	WriteBit(bit int)

	// WriteBits  Write the least significant bits of 'bits' in the bitstream.
	// Length is the number of bits in [0..32] to write.
	// Return the number of bits written.
	// Panic if closed or an IO error is received.
	WriteBits(bits uint64, length uint) uint

	// WriteArray  Write bits out of the byte array. Length is the number of bits.
	// Return the number of bits written.
	// Panic if closed or an IO error is received.
	WriteArray(bits []byte, length uint) uint

	// Close  Make the bitstream unavailable for further writes.
	Close() (bool, error)

	// Written  Number of bits written
	Written() uint64
}
