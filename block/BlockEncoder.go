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

package block

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/flanglet/kbzip2"
	"github.com/flanglet/kbzip2/bitstream"
	"github.com/flanglet/kbzip2/entropy"
	"github.com/flanglet/kbzip2/transform"
)

const (
	STREAM_MAGIC  = 0x425A68 // "BZh"
	BLOCK_MAGIC   = 0x314159265359
	TRAILER_MAGIC = 0x177245385090

	STREAM_HEADER_BITS  = 32
	STREAM_TRAILER_BITS = 48 + 32
	_BLOCK_HEADER_BITS  = 48 + 32 + 1 + 24
)

// BlockEncoder compresses one block at a time. The transmission cost of the
// block is computed before any bit is written and the output buffer is sized
// accordingly. An instance owns all its scratch buffers and can be reused
// for any number of blocks (not concurrently).
type BlockEncoder struct {
	bwt    *transform.BWT
	mtft   *transform.MTFT
	gen    *entropy.TreeGenerator
	buffer []byte   // BWT output
	mtfv   []uint16 // MTF/RLE2 output
	freqs  [entropy.HUF_MAX_ALPHABET]int32
	trees  entropy.Trees
	stats  BlockStats
}

// BlockStats describes the last block encoded
type BlockStats struct {
	Size         int // bytes after first stage run length coding
	PrimaryIndex uint
	Symbols      int // MTF/RLE2 symbols, end of block included
	AlphaSize    int
	Trees        int
	Selectors    int
	Bits         uint64
}

// NewBlockEncoder creates a new instance of BlockEncoder with the default
// number of clustering iterations
func NewBlockEncoder() (*BlockEncoder, error) {
	ctx := make(map[string]interface{})
	return NewBlockEncoderWithCtx(&ctx)
}

// NewBlockEncoderWithCtx creates a new instance of BlockEncoder. The number
// of clustering iterations is read from the 'clusterIterations' key.
func NewBlockEncoderWithCtx(ctx *map[string]interface{}) (*BlockEncoder, error) {
	var err error
	this := &BlockEncoder{}

	if this.bwt, err = transform.NewBWT(); err != nil {
		return nil, err
	}

	if this.mtft, err = transform.NewMTFT(); err != nil {
		return nil, err
	}

	if this.gen, err = entropy.NewTreeGeneratorWithCtx(ctx); err != nil {
		return nil, err
	}

	this.buffer = make([]byte, 0)
	this.mtfv = make([]uint16, 0)
	return this, nil
}

// Encode compresses 'blk' and returns its bits, padded with zeros to a whole
// byte, and the exact number of bits. 'dst' is reused when large enough.
func (this *BlockEncoder) Encode(blk *Block, dst []byte) ([]byte, uint, error) {
	count := len(blk.Data)

	if count == 0 {
		return dst[:0], 0, errors.New("Cannot encode an empty block")
	}

	if count > transform.BWT_MAX_BLOCK_SIZE {
		return dst[:0], 0, fmt.Errorf("Block too large: %d bytes (max is %d)", count, transform.BWT_MAX_BLOCK_SIZE)
	}

	if len(this.buffer) < count {
		this.buffer = make([]byte, count)
	}

	if len(this.mtfv) < count+1 {
		this.mtfv = make([]uint16, count+1)
	}

	primaryIndex, err := this.bwt.Forward(blk.Data, this.buffer[0:count])

	if err != nil {
		return dst[:0], 0, err
	}

	this.freqs = [entropy.HUF_MAX_ALPHABET]int32{}
	nmtf, alphaSize := this.mtft.Forward(this.buffer[0:count], &blk.InUse, this.mtfv, this.freqs[:])

	if err = this.gen.Generate(this.mtfv, nmtf, this.freqs[0:alphaSize], alphaSize, &this.trees); err != nil {
		return dst[:0], 0, err
	}

	var bigMask uint16

	for i := 0; i < 16; i++ {
		for _, used := range blk.InUse[i<<4 : (i+1)<<4] {
			if used == true {
				bigMask |= 1 << uint(15-i)
				break
			}
		}
	}

	cost := uint64(_BLOCK_HEADER_BITS) + 16 + 16*uint64(bits.OnesCount16(bigMask)) + this.trees.Cost
	size := int((cost + 7) >> 3)

	if cap(dst) < size {
		dst = make([]byte, size)
	}

	dst = dst[0:size]
	obs, err := bitstream.NewArrayOutputBitStream(dst)

	if err != nil {
		return dst[:0], 0, err
	}

	this.writeHeader(obs, blk, primaryIndex, bigMask)
	this.writeTables(obs)
	this.writeSymbols(obs, nmtf)

	if obs.Written() != cost {
		panic(fmt.Errorf("Block encoder: wrote %d bits, expected %d", obs.Written(), cost))
	}

	if _, err = obs.Close(); err != nil {
		panic(err)
	}

	this.stats = BlockStats{
		Size:         count,
		PrimaryIndex: primaryIndex,
		Symbols:      nmtf,
		AlphaSize:    alphaSize,
		Trees:        this.trees.Count,
		Selectors:    len(this.trees.Selectors),
		Bits:         cost,
	}

	return dst, uint(cost), nil
}

func (this *BlockEncoder) writeHeader(obs kbzip2.OutputBitStream, blk *Block, primaryIndex uint, bigMask uint16) {
	obs.WriteBits(BLOCK_MAGIC>>24, 24)
	obs.WriteBits(BLOCK_MAGIC&0xFFFFFF, 24)
	obs.WriteBits(uint64(blk.CRC), 32)
	obs.WriteBit(0) // not randomized
	obs.WriteBits(uint64(primaryIndex), 24)
	obs.WriteBits(uint64(bigMask), 16)

	for i := 0; i < 16; i++ {
		if bigMask&(1<<uint(15-i)) == 0 {
			continue
		}

		smallMask := uint64(0)

		for j, used := range blk.InUse[i<<4 : (i+1)<<4] {
			if used == true {
				smallMask |= 1 << uint(15-j)
			}
		}

		obs.WriteBits(smallMask, 16)
	}
}

func (this *BlockEncoder) writeTables(obs kbzip2.OutputBitStream) {
	trees := &this.trees
	obs.WriteBits(uint64(trees.Count), 3)
	obs.WriteBits(uint64(len(trees.Selectors)), 15)

	// Unary coded selector MTF values
	for _, v := range trees.MTFValues {
		obs.WriteBits(((uint64(1)<<v)-1)<<1, uint(v)+1)
	}

	// Delta coded code lengths
	for t := 0; t < trees.Count; t++ {
		lengths := trees.Lengths[t][0:trees.AlphaSize]
		curr := lengths[0]
		obs.WriteBits(uint64(curr), 5)

		for _, l := range lengths {
			for curr < l {
				obs.WriteBits(2, 2)
				curr++
			}

			for curr > l {
				obs.WriteBits(3, 2)
				curr--
			}

			obs.WriteBit(0)
		}
	}
}

func (this *BlockEncoder) writeSymbols(obs kbzip2.OutputBitStream, nmtf int) {
	trees := &this.trees

	for g, s := range trees.Selectors {
		start := g * entropy.GROUP_SIZE
		end := start + entropy.GROUP_SIZE

		if end > nmtf {
			end = nmtf
		}

		lengths := &trees.Lengths[s]
		codes := &trees.Codes[s]

		for _, sym := range this.mtfv[start:end] {
			obs.WriteBits(uint64(codes[sym]), uint(lengths[sym]))
		}
	}
}

// Stats returns information about the last block encoded
func (this *BlockEncoder) Stats() BlockStats {
	return this.stats
}

// Reset clears the state left by the previous block
func (this *BlockEncoder) Reset() {
	this.freqs = [entropy.HUF_MAX_ALPHABET]int32{}
	this.stats = BlockStats{}
}

// WriteStreamHeader writes "BZh" followed by the block size digit
func WriteStreamHeader(obs kbzip2.OutputBitStream, level uint) {
	obs.WriteBits(STREAM_MAGIC, 24)
	obs.WriteBits(uint64('0'+level), 8)
}

// WriteStreamTrailer writes the end of stream magic and the combined CRC
func WriteStreamTrailer(obs kbzip2.OutputBitStream, combinedCRC uint32) {
	obs.WriteBits(TRAILER_MAGIC>>24, 24)
	obs.WriteBits(TRAILER_MAGIC&0xFFFFFF, 24)
	obs.WriteBits(uint64(combinedCRC), 32)
}
