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
	"fmt"

	"github.com/flanglet/kbzip2"
	"github.com/flanglet/kbzip2/util/hash"
)

// Room kept at the end of a block for the run pending when it is finished
const _BLOCK_OVERHEAD = 19

// Block is the unit of compression: up to level*100000 bytes produced by the
// first stage run length coding, with the table of byte values present and
// the CRC of the raw data it stands for.
type Block struct {
	Data    []byte
	InUse   [256]bool
	CRC     uint32
	RawSize int // number of input bytes represented by Data
	Id      int
}

// Collector accumulates raw bytes into a Block. Runs of 4 to 255 identical
// bytes are written as 4 copies followed by a count byte (run length - 4).
type Collector struct {
	block      *Block
	limit      int // a block is full once it holds 'limit' bytes
	crc        *hash.CRC32
	runByte    int // -1 when no run is pending
	runLength  int
	blockCount int
}

// NewCollector creates a Collector filling blocks for the compression level
// provided (block size = level*100000)
func NewCollector(level uint) (*Collector, error) {
	blockSize, err := kbzip2.BlockSizeForLevel(level)

	if err != nil {
		return nil, err
	}

	this := &Collector{}
	this.limit = int(blockSize) - _BLOCK_OVERHEAD
	this.crc = hash.NewCRC32()
	this.block = &Block{Data: make([]byte, 0, blockSize)}
	this.runByte = -1
	return this, nil
}

// Collect adds bytes from 'src' to the current block. Returns the number of
// bytes consumed and whether the block is full. Once full, the block must be
// retrieved with Finish before more data can be collected.
// The CRC covers the raw bytes and is updated as runs are flushed.
func (this *Collector) Collect(src []byte) (int, bool) {
	blk := this.block

	for i, b := range src {
		if len(blk.Data) >= this.limit {
			return i, true
		}

		if int(b) == this.runByte && this.runLength < 255 {
			this.runLength++
		} else {
			this.flushRun()
			this.runByte = int(b)
			this.runLength = 1
		}

		blk.RawSize++
	}

	return len(src), len(blk.Data) >= this.limit
}

func (this *Collector) flushRun() {
	if this.runByte < 0 {
		return
	}

	blk := this.block
	b := byte(this.runByte)
	this.crc.UpdateRun(b, this.runLength)
	blk.InUse[b] = true

	if this.runLength < 4 {
		for i := 0; i < this.runLength; i++ {
			blk.Data = append(blk.Data, b)
		}
	} else {
		blk.Data = append(blk.Data, b, b, b, b, byte(this.runLength-4))
		blk.InUse[this.runLength-4] = true
	}

	this.runByte = -1
	this.runLength = 0
}

// Empty says whether no byte has been collected since the last reset
func (this *Collector) Empty() bool {
	return this.block.RawSize == 0
}

// Finish flushes the pending run and returns the block with its CRC. The
// block belongs to the caller and the collector starts a new one.
func (this *Collector) Finish() *Block {
	this.flushRun()
	blk := this.block
	blk.CRC = this.crc.Sum()
	blk.Id = this.blockCount
	this.blockCount++

	if len(blk.Data) > this.MaxBlockSize() {
		panic(fmt.Errorf("Block overflow: %d bytes for a capacity of %d", len(blk.Data), this.MaxBlockSize()))
	}

	this.Reset(nil)
	return blk
}

// Reset starts a new block, clearing the in-use table, CRC and run state.
// 'reuse' is an optional finished block whose buffer can be recycled.
func (this *Collector) Reset(reuse *Block) {
	blockSize := this.limit + _BLOCK_OVERHEAD

	if reuse != nil && cap(reuse.Data) >= blockSize {
		*reuse = Block{Data: reuse.Data[:0]}
		this.block = reuse
	} else {
		this.block = &Block{Data: make([]byte, 0, blockSize)}
	}

	this.crc.Reset()
	this.runByte = -1
	this.runLength = 0
}

// BlockCount returns the number of blocks finished so far
func (this *Collector) BlockCount() int {
	return this.blockCount
}

// MaxBlockSize returns the capacity of the blocks produced
func (this *Collector) MaxBlockSize() int {
	return this.limit + _BLOCK_OVERHEAD
}
