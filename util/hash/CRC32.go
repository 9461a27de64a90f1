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

package hash

// CRC32 is the checksum used by bzip2: polynomial 0x04C11DB7, bits processed
// most significant first, register preset to all ones and complemented at
// the end. hash/crc32 in the standard library only implements the reflected
// variant.

const _CRC32_POLY = uint32(0x04C11DB7)

var _CRC32_TABLE [256]uint32

func init() {
	for i := range _CRC32_TABLE {
		c := uint32(i) << 24

		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = (c << 1) ^ _CRC32_POLY
			} else {
				c <<= 1
			}
		}

		_CRC32_TABLE[i] = c
	}
}

// CRC32 running checksum
type CRC32 struct {
	value uint32
}

// NewCRC32 creates a new instance of CRC32
func NewCRC32() *CRC32 {
	return &CRC32{value: 0xFFFFFFFF}
}

// Reset restarts the checksum computation
func (this *CRC32) Reset() {
	this.value = 0xFFFFFFFF
}

// UpdateByte adds one byte to the checksum
func (this *CRC32) UpdateByte(b byte) {
	this.value = (this.value << 8) ^ _CRC32_TABLE[byte(this.value>>24)^b]
}

// UpdateRun adds 'count' copies of byte 'b' to the checksum
func (this *CRC32) UpdateRun(b byte, count int) {
	c := this.value

	for i := 0; i < count; i++ {
		c = (c << 8) ^ _CRC32_TABLE[byte(c>>24)^b]
	}

	this.value = c
}

// Write adds the provided data to the checksum. Never fails.
func (this *CRC32) Write(data []byte) (int, error) {
	c := this.value

	for _, b := range data {
		c = (c << 8) ^ _CRC32_TABLE[byte(c>>24)^b]
	}

	this.value = c
	return len(data), nil
}

// Sum returns the checksum of the data seen since the last reset
func (this *CRC32) Sum() uint32 {
	return ^this.value
}

// Checksum returns the CRC of 'data'
func Checksum(data []byte) uint32 {
	crc := NewCRC32()
	crc.Write(data)
	return crc.Sum()
}

// CombineCRC folds a block CRC into the stream CRC
func CombineCRC(combined, blockCRC uint32) uint32 {
	return ((combined << 1) | (combined >> 31)) ^ blockCRC
}
