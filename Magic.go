/*
Copyright 2011-2021 Frederic Langlet
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

import (
	"encoding/binary"
)

const (
	NO_MAGIC     = 0
	JPG_MAGIC    = 0xFFD8FFE0
	GIF_MAGIC    = 0x47494638
	PDF_MAGIC    = 0x25504446
	ZIP_MAGIC    = 0x504B0304 // Works for jar & office docs
	LZMA_MAGIC   = 0x377ABCAF
	PNG_MAGIC    = 0x89504E47
	ZSTD_MAGIC   = 0x28B52FFD
	XZ_MAGIC     = 0xFD377A58
	LZ4_MAGIC    = 0x04224D18
	BZIP2_MAGIC  = 0x425A68 // "BZh"
	GZIP_MAGIC   = 0x1F8B
	ELF_MAGIC    = 0x7F454C46
	BROTLI_MAGIC = 0x81CFB2CE
	CAB_MAGIC    = 0x4D534346
)

var (
	_KEYS32 = [11]uint{
		GIF_MAGIC, PDF_MAGIC, ZIP_MAGIC, LZMA_MAGIC, PNG_MAGIC, ZSTD_MAGIC,
		XZ_MAGIC, LZ4_MAGIC, ELF_MAGIC, BROTLI_MAGIC, CAB_MAGIC,
	}

	_KEYS16 = [1]uint{
		GZIP_MAGIC,
	}
)

// GetMagicType checks the first bytes of the slice against a list of common
// magic values. A bzip2 stream is recognized by "BZh" followed by a block
// size digit.
func GetMagicType(src []byte) uint {
	if len(src) < 4 {
		return NO_MAGIC
	}

	key := uint(binary.BigEndian.Uint32(src))

	if key>>8 == BZIP2_MAGIC && src[3] >= '1' && src[3] <= '9' {
		return BZIP2_MAGIC
	}

	if (key & ^uint(0x0F)) == JPG_MAGIC {
		return key
	}

	for _, k := range _KEYS32 {
		if key == k {
			return key
		}
	}

	for _, k := range _KEYS16 {
		if (key >> 16) == k {
			return key >> 16
		}
	}

	return NO_MAGIC
}

// IsCompressed says whether the magic value denotes an already compressed
// format
func IsCompressed(magic uint) bool {
	switch magic {
	case JPG_MAGIC, GIF_MAGIC, PNG_MAGIC, ZIP_MAGIC, LZMA_MAGIC, ZSTD_MAGIC,
		XZ_MAGIC, LZ4_MAGIC, BZIP2_MAGIC, GZIP_MAGIC, BROTLI_MAGIC, CAB_MAGIC:
		return true
	}

	// JPG variants
	return magic&^uint(0x0F) == JPG_MAGIC
}
