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

	"github.com/flanglet/kbzip2"
	"github.com/flanglet/kbzip2/bitstream"
	"github.com/flanglet/kbzip2/entropy"
	"github.com/flanglet/kbzip2/transform"
	"github.com/flanglet/kbzip2/util/hash"
)

// Decoder states
const (
	STATE_INIT         = 0 // stream header, block or trailer magic, stream CRC
	STATE_BWT_INDEX    = 1 // block CRC, randomized flag, primary index
	STATE_BITMAP       = 2 // in-use bitmap, tree and selector counts
	STATE_SELECTOR_MTF = 3 // unary coded selectors
	STATE_DELTA_TAG    = 4 // delta coded code lengths
	STATE_PREFIX       = 5 // prefix coded symbols
	STATE_DONE         = 6
)

// Decode outcomes
const (
	NEED_MORE_INPUT = bitstream.NEED_MORE_INPUT // supply more data and call again
	BLOCK_READY     = 3                         // a verified block is available from Output
	STREAM_END      = 4                         // the trailer matched the stream CRC
	DECODE_FAILED   = 5                         // see the error returned
)

// BlockInfo describes the last block decoded
type BlockInfo struct {
	Id           int
	CRC          uint32
	PrimaryIndex uint
	Randomized   bool
	InUse        int // distinct byte values
	AlphaSize    int
	Trees        int
	Selectors    int
	Size         int    // bytes after first stage run length coding
	RawSize      int    // bytes produced
	Bits         uint64 // compressed size, from block magic to end of block symbol
}

// BlockDecoder parses a bzip2 stream fed in chunks of any size. It is a
// state machine: every state first checks that enough bits are available to
// make progress and, if not, returns NEED_MORE_INPUT with all its progress
// saved in fields. Resuming after more data is supplied produces exactly the
// same result as decoding the stream in a single call.
// A block is entirely rebuilt and its CRC verified before its bytes are
// exposed: no data from a corrupted block is ever returned.
type BlockDecoder struct {
	state       int
	err         error
	headerRead  bool
	inTrailer   bool
	level       uint
	capacity    int
	combinedCRC uint32
	blockStart  uint64

	// block header
	blockCRC   uint32
	randomized bool
	origPtr    uint

	// bitmap
	bigMask    uint16
	bitmapIdx  int // -1 before the big mask is read
	inUse      [256]bool
	seqToUnseq [256]byte
	nInUse     int
	alphaSize  int
	nTrees     int
	nSelectors int

	// selectors
	selIdx       int
	selValue     int
	selectorsMTF []uint8
	selectors    []uint8

	// code lengths
	treeIdx  int
	symIdx   int
	curr     int
	currRead bool
	lengths  [entropy.MAX_TREES][entropy.HUF_MAX_ALPHABET]uint8
	decoders [entropy.MAX_TREES]*entropy.PrefixDecoder

	// symbols
	groupIdx int
	groupPos int
	decoder  *entropy.PrefixDecoder
	mtfDec   *transform.MTFDecoder
	tt       []uint32

	bwt    *transform.BWT
	bwtOut []byte
	output []byte
	crc    *hash.CRC32
	derand derandomizer
	blocks int
	info   BlockInfo
}

// NewBlockDecoder creates a new instance of BlockDecoder, ready to read a
// stream header
func NewBlockDecoder() (*BlockDecoder, error) {
	var err error
	this := &BlockDecoder{}

	if this.bwt, err = transform.NewBWT(); err != nil {
		return nil, err
	}

	for i := range this.decoders {
		this.decoders[i] = &entropy.PrefixDecoder{}
	}

	this.mtfDec = transform.NewMTFDecoder()
	this.crc = hash.NewCRC32()
	this.selectorsMTF = make([]uint8, entropy.MAX_SELECTORS)
	this.selectors = make([]uint8, entropy.MAX_SELECTORS)
	this.tt = make([]uint32, 0)
	this.Restart()
	return this, nil
}

// Restart prepares the decoder for a new stream (concatenated streams).
// Buffers are kept.
func (this *BlockDecoder) Restart() {
	this.state = STATE_INIT
	this.err = nil
	this.headerRead = false
	this.inTrailer = false
	this.combinedCRC = 0
	this.blocks = 0
	this.output = this.output[:0]
	this.info = BlockInfo{}
}

// Decode consumes bits from 'ibs' until a block is ready, the stream ends or
// more input is required.
func (this *BlockDecoder) Decode(ibs *bitstream.ResumableInputBitStream) (int, error) {
	if this.err != nil {
		return DECODE_FAILED, this.err
	}

	for {
		switch this.state {
		case STATE_INIT:
			if status, err := this.decodeInit(ibs); status != READY_TO_CONTINUE {
				return status, err
			}

		case STATE_BWT_INDEX:
			if st := ibs.Need(57); st != bitstream.READY {
				return this.stall(st, "block header")
			}

			this.blockCRC = uint32(ibs.Take(32))
			this.randomized = ibs.Take(1) == 1
			this.origPtr = uint(ibs.Take(24))

			if this.origPtr >= uint(this.capacity) {
				return this.fail(nil, "BWT primary index %d out of range", this.origPtr)
			}

			this.bitmapIdx = -1
			this.state = STATE_BITMAP

		case STATE_BITMAP:
			if status, err := this.decodeBitmap(ibs); status != READY_TO_CONTINUE {
				return status, err
			}

		case STATE_SELECTOR_MTF:
			if status, err := this.decodeSelectors(ibs); status != READY_TO_CONTINUE {
				return status, err
			}

		case STATE_DELTA_TAG:
			if status, err := this.decodeLengths(ibs); status != READY_TO_CONTINUE {
				return status, err
			}

		case STATE_PREFIX:
			return this.decodeSymbols(ibs)

		case STATE_DONE:
			return STREAM_END, nil
		}
	}
}

// Internal outcome of a state: move on to the next one
const READY_TO_CONTINUE = 0

func (this *BlockDecoder) decodeInit(ibs *bitstream.ResumableInputBitStream) (int, error) {
	if this.headerRead == false {
		if st := ibs.Need(STREAM_HEADER_BITS); st != bitstream.READY {
			return this.stall(st, "stream header")
		}

		header := ibs.Take(STREAM_HEADER_BITS)
		digit := header & 0xFF

		if header>>8 != STREAM_MAGIC || digit < '1' || digit > '9' {
			return this.fail(ErrBadMagic, "invalid stream header 0x%08x", header)
		}

		this.level = uint(digit - '0')
		this.capacity = int(this.level) * kbzip2.BLOCK_SIZE_UNIT

		if cap(this.tt) < this.capacity {
			this.tt = make([]uint32, this.capacity)
		}

		this.tt = this.tt[0:this.capacity]
		this.headerRead = true
	}

	if this.inTrailer == false {
		if st := ibs.Need(48); st != bitstream.READY {
			return this.stall(st, "block magic")
		}

		magic := ibs.Take(48)

		switch magic {
		case BLOCK_MAGIC:
			this.blockStart = ibs.Read() - 48
			this.state = STATE_BWT_INDEX
			return READY_TO_CONTINUE, nil

		case TRAILER_MAGIC:
			this.inTrailer = true

		default:
			return this.fail(ErrBadMagic, "invalid block magic 0x%012x", magic)
		}
	}

	if st := ibs.Need(32); st != bitstream.READY {
		return this.stall(st, "stream CRC")
	}

	if crc := uint32(ibs.Take(32)); crc != this.combinedCRC {
		return this.fail(ErrCRCMismatch, "stream CRC is 0x%08x, expected 0x%08x", this.combinedCRC, crc)
	}

	this.state = STATE_DONE
	return STREAM_END, nil
}

func (this *BlockDecoder) decodeBitmap(ibs *bitstream.ResumableInputBitStream) (int, error) {
	if this.bitmapIdx < 0 {
		if st := ibs.Need(16); st != bitstream.READY {
			return this.stall(st, "bitmap")
		}

		this.bigMask = uint16(ibs.Take(16))
		this.inUse = [256]bool{}
		this.bitmapIdx = 0
	}

	for ; this.bitmapIdx < 16; this.bitmapIdx++ {
		if this.bigMask&(1<<uint(15-this.bitmapIdx)) == 0 {
			continue
		}

		if st := ibs.Need(16); st != bitstream.READY {
			return this.stall(st, "bitmap")
		}

		smallMask := ibs.Take(16)

		for j := 0; j < 16; j++ {
			if smallMask&(1<<uint(15-j)) != 0 {
				this.inUse[this.bitmapIdx<<4+j] = true
			}
		}
	}

	this.nInUse = 0

	for i, used := range this.inUse {
		if used == true {
			this.seqToUnseq[this.nInUse] = byte(i)
			this.nInUse++
		}
	}

	if this.nInUse == 0 {
		return this.fail(nil, "empty bitmap")
	}

	this.alphaSize = this.nInUse + 2

	if st := ibs.Need(3 + 15); st != bitstream.READY {
		return this.stall(st, "tree and selector counts")
	}

	this.nTrees = int(ibs.Take(3))
	this.nSelectors = int(ibs.Take(15))

	if this.nTrees < entropy.MIN_TREES || this.nTrees > entropy.MAX_TREES {
		return this.fail(nil, "invalid number of trees: %d (must be in [%d..%d])", this.nTrees, entropy.MIN_TREES, entropy.MAX_TREES)
	}

	if this.nSelectors == 0 {
		return this.fail(nil, "no selector")
	}

	this.selIdx = 0
	this.selValue = 0
	this.state = STATE_SELECTOR_MTF
	return READY_TO_CONTINUE, nil
}

func (this *BlockDecoder) decodeSelectors(ibs *bitstream.ResumableInputBitStream) (int, error) {
	for this.selIdx < this.nSelectors {
		if st := ibs.Need(1); st != bitstream.READY {
			return this.stall(st, "selectors")
		}

		if ibs.Take(1) == 1 {
			this.selValue++

			if this.selValue >= this.nTrees {
				return this.fail(nil, "selector %d out of range", this.selIdx)
			}

			continue
		}

		// Selectors beyond the max are read and ignored
		if this.selIdx < entropy.MAX_SELECTORS {
			this.selectorsMTF[this.selIdx] = uint8(this.selValue)
		}

		this.selIdx++
		this.selValue = 0
	}

	if this.nSelectors > entropy.MAX_SELECTORS {
		this.nSelectors = entropy.MAX_SELECTORS
	}

	var mtf [entropy.MAX_TREES]uint8

	for i := range mtf {
		mtf[i] = uint8(i)
	}

	for i, v := range this.selectorsMTF[0:this.nSelectors] {
		s := mtf[v]
		copy(mtf[1:v+1], mtf[0:v])
		mtf[0] = s
		this.selectors[i] = s
	}

	this.treeIdx = 0
	this.currRead = false
	this.state = STATE_DELTA_TAG
	return READY_TO_CONTINUE, nil
}

func (this *BlockDecoder) decodeLengths(ibs *bitstream.ResumableInputBitStream) (int, error) {
	for this.treeIdx < this.nTrees {
		if this.currRead == false {
			if st := ibs.Need(5); st != bitstream.READY {
				return this.stall(st, "code lengths")
			}

			this.curr = int(ibs.Take(5))
			this.currRead = true
			this.symIdx = 0
		}

		lengths := &this.lengths[this.treeIdx]

		for this.symIdx < this.alphaSize {
			if this.curr < 1 || this.curr > entropy.HUF_MAX_CODE_LENGTH {
				return this.fail(entropy.ErrInvalidCodeLength, "tree %d, symbol %d has length %d",
					this.treeIdx, this.symIdx, this.curr)
			}

			if st := ibs.Need(1); st != bitstream.READY {
				return this.stall(st, "code lengths")
			}

			if ibs.Peek(1) == 0 {
				ibs.Skip(1)
				lengths[this.symIdx] = uint8(this.curr)
				this.symIdx++
				continue
			}

			if st := ibs.Need(2); st != bitstream.READY {
				return this.stall(st, "code lengths")
			}

			if ibs.Take(2) == 2 {
				this.curr++
			} else {
				this.curr--
			}
		}

		this.treeIdx++
		this.currRead = false
	}

	for t := 0; t < this.nTrees; t++ {
		if err := this.decoders[t].Reset(this.lengths[t][0:this.alphaSize], this.alphaSize); err != nil {
			return this.fail(err, "tree %d", t)
		}
	}

	this.groupIdx = -1
	this.groupPos = 0
	this.mtfDec.Reset(this.seqToUnseq[0:this.nInUse], this.tt, this.capacity)
	this.state = STATE_PREFIX
	return READY_TO_CONTINUE, nil
}

func (this *BlockDecoder) decodeSymbols(ibs *bitstream.ResumableInputBitStream) (int, error) {
	eob := this.alphaSize - 1

	for {
		if this.groupPos == 0 {
			this.groupIdx++

			if this.groupIdx >= this.nSelectors {
				return this.fail(nil, "missing end of block (%d groups decoded)", this.groupIdx)
			}

			this.decoder = this.decoders[this.selectors[this.groupIdx]]
			this.groupPos = entropy.GROUP_SIZE
		}

		var sym int
		var length uint

		switch ibs.Need(entropy.PREFIX_PEEK_BITS) {
		case bitstream.READY:
			sym, length = this.decoder.Decode(uint32(ibs.Peek(entropy.PREFIX_PEEK_BITS)))

		case bitstream.END_OF_INPUT:
			// The last codes of a stream may be followed by fewer than 20 bits
			sym, length = this.decoder.Decode(uint32(ibs.PeekPadded(entropy.PREFIX_PEEK_BITS)))

			if length > ibs.Available() {
				return this.fail(ErrTruncated, "end of input while reading symbols")
			}

		default:
			return NEED_MORE_INPUT, nil
		}

		ibs.Skip(length)
		this.groupPos--

		if sym == eob {
			break
		}

		if err := this.mtfDec.Symbol(sym); err != nil {
			return this.fail(err, "block %d", this.blocks)
		}
	}

	return this.finishBlock(ibs)
}

// finishBlock runs the inverse transforms and checks the block CRC
func (this *BlockDecoder) finishBlock(ibs *bitstream.ResumableInputBitStream) (int, error) {
	if err := this.mtfDec.Flush(); err != nil {
		return this.fail(err, "block %d", this.blocks)
	}

	count := this.mtfDec.Count()

	if this.origPtr >= uint(count) {
		return this.fail(nil, "BWT primary index %d out of range [0..%d]", this.origPtr, count-1)
	}

	out, err := this.bwt.Inverse(this.mtfDec.Counts(), this.tt, this.origPtr, count, this.bwtOut)

	if err != nil {
		return this.fail(err, "block %d", this.blocks)
	}

	this.bwtOut = out

	if this.randomized == true {
		this.derand.reset()
		this.derand.apply(out)
	}

	this.crc.Reset()
	this.output = inverseRLE1(out, this.output, this.crc)

	if crc := this.crc.Sum(); crc != this.blockCRC {
		this.output = this.output[:0]
		return this.fail(ErrCRCMismatch, "block %d CRC is 0x%08x, expected 0x%08x", this.blocks, crc, this.blockCRC)
	}

	this.combinedCRC = hash.CombineCRC(this.combinedCRC, this.blockCRC)
	this.info = BlockInfo{
		Id:           this.blocks,
		CRC:          this.blockCRC,
		PrimaryIndex: this.origPtr,
		Randomized:   this.randomized,
		InUse:        this.nInUse,
		AlphaSize:    this.alphaSize,
		Trees:        this.nTrees,
		Selectors:    this.nSelectors,
		Size:         count,
		RawSize:      len(this.output),
		Bits:         ibs.Read() - this.blockStart,
	}

	this.blocks++
	this.state = STATE_INIT
	return BLOCK_READY, nil
}

func (this *BlockDecoder) stall(status int, what string) (int, error) {
	if status == bitstream.END_OF_INPUT {
		return this.fail(ErrTruncated, "end of input while reading the %s", what)
	}

	return NEED_MORE_INPUT, nil
}

func (this *BlockDecoder) fail(err error, format string, args ...interface{}) (int, error) {
	this.err = newFormatError(err, format, args...)
	return DECODE_FAILED, this.err
}

// Output returns the bytes of the last block decoded. The slice is valid
// until the next call to Decode.
func (this *BlockDecoder) Output() []byte {
	if this.err != nil {
		return nil
	}

	return this.output
}

// BlockInfo returns the description of the last block decoded
func (this *BlockDecoder) BlockInfo() BlockInfo {
	return this.info
}

// Level returns the block size digit of the stream header (0 if not read yet)
func (this *BlockDecoder) Level() uint {
	if this.headerRead == false {
		return 0
	}

	return this.level
}

// IsFormatError says whether 'err' reports malformed data
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
