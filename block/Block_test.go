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
	"bytes"
	"compress/bzip2"
	"encoding/hex"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/flanglet/kbzip2"
	"github.com/flanglet/kbzip2/bitstream"
	"github.com/flanglet/kbzip2/entropy"
	"github.com/flanglet/kbzip2/util"
	"github.com/flanglet/kbzip2/util/hash"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Streams written by the reference bzip2 library (level 9)
var referenceStreams = []struct {
	raw     string
	encoded string
}{
	{"", "425a683917724538509000000000"},
	{"hello, world\n", "425a683931415926535954a49784000002d180001040040644908020003100302068620049d4b21f3f17724538509054a49784"},
	{"AAAA", "425a6839314159265359e16e657100000244004000200020002100820b177245385090e16e6571"},
}

// encodeBlocks writes a stream where each piece is compressed in its own
// block. Pieces must fit in a block.
func encodeBlocks(t testing.TB, level uint, pieces ...[]byte) []byte {
	bs := util.NewBufferStream(make([]byte, 0, 1024))
	obs, err := bitstream.NewDefaultOutputBitStream(bs, 16384)
	require.NoError(t, err)
	coll, err := NewCollector(level)
	require.NoError(t, err)
	enc, err := NewBlockEncoder()
	require.NoError(t, err)
	WriteStreamHeader(obs, level)
	combined := uint32(0)
	var buf []byte

	for _, p := range pieces {
		n, _ := coll.Collect(p)
		require.Equal(t, len(p), n)

		if coll.Empty() {
			continue
		}

		blk := coll.Finish()
		var bits uint
		buf, bits, err = enc.Encode(blk, buf)
		require.NoError(t, err)
		obs.WriteArray(buf, bits)
		combined = hash.CombineCRC(combined, blk.CRC)
	}

	WriteStreamTrailer(obs, combined)
	_, err = obs.Close()
	require.NoError(t, err)
	return bs.Bytes()
}

// encodeStream compresses 'data', starting a new block each time one is full
func encodeStream(t testing.TB, level uint, data []byte) []byte {
	coll, err := NewCollector(level)
	require.NoError(t, err)
	pieces := make([][]byte, 0)

	for len(data) > 0 {
		n, _ := coll.Collect(data)
		pieces = append(pieces, data[0:n])
		data = data[n:]
		coll.Finish()
	}

	return encodeBlocks(t, level, pieces...)
}

// decodeChunks decodes 'data' supplied in chunks whose sizes are returned by
// 'next'. Returns the output and the info of every block.
func decodeChunks(data []byte, next func() int) ([]byte, []BlockInfo, error) {
	dec, err := NewBlockDecoder()

	if err != nil {
		return nil, nil, err
	}

	ibs := bitstream.NewResumableInputBitStream()
	out := make([]byte, 0)
	infos := make([]BlockInfo, 0)
	pos := 0

	for {
		status, err := dec.Decode(ibs)

		if err != nil {
			return out, infos, err
		}

		switch status {
		case BLOCK_READY:
			out = append(out, dec.Output()...)
			infos = append(infos, dec.BlockInfo())

		case STREAM_END:
			return out, infos, nil

		case NEED_MORE_INPUT:
			if pos >= len(data) {
				ibs.SetEndOfInput()
				continue
			}

			n := next()

			if pos+n > len(data) {
				n = len(data) - pos
			}

			if err := ibs.Supply(data[pos : pos+n]); err != nil {
				return out, infos, err
			}

			pos += n
		}
	}
}

func decodeAll(data []byte) ([]byte, error) {
	out, _, err := decodeChunks(data, func() int { return len(data) })
	return out, err
}

func TestCollectorRLE1(t *testing.T) {
	raw := []byte("AAAAAAB")
	raw = append(raw, bytes.Repeat([]byte{'x'}, 300)...)
	raw = append(raw, 'y', 'y', 'y', 'y')
	coll, err := NewCollector(1)
	require.NoError(t, err)
	n, full := coll.Collect(raw)
	require.Equal(t, len(raw), n)
	require.False(t, full)
	blk := coll.Finish()

	expected := []byte{'A', 'A', 'A', 'A', 2, 'B', 'x', 'x', 'x', 'x', 251, 'x', 'x', 'x', 'x', 41, 'y', 'y', 'y', 'y', 0}
	assert.Equal(t, expected, blk.Data)
	assert.Equal(t, len(raw), blk.RawSize)
	assert.Equal(t, hash.Checksum(raw), blk.CRC)

	for _, b := range []byte{'A', 'B', 'x', 'y', 0, 2, 41, 251} {
		assert.True(t, blk.InUse[b], "byte %d", b)
	}

	assert.False(t, blk.InUse['z'])
	crc := hash.NewCRC32()
	assert.Equal(t, raw, inverseRLE1(blk.Data, nil, crc))
	assert.Equal(t, blk.CRC, crc.Sum())

	// The collector starts afresh after Finish
	assert.True(t, coll.Empty())
	assert.Equal(t, 1, coll.BlockCount())
}

func TestCollectorBlockFull(t *testing.T) {
	raw := make([]byte, 250000)

	for i := range raw {
		raw[i] = byte(i % 251)
	}

	coll, err := NewCollector(1)
	require.NoError(t, err)
	total := 0

	for len(raw) > 0 {
		n, full := coll.Collect(raw)
		raw = raw[n:]

		if len(raw) > 0 {
			require.True(t, full)
		}

		blk := coll.Finish()
		require.LessOrEqual(t, len(blk.Data), coll.MaxBlockSize())
		require.Equal(t, n, blk.RawSize)
		total += n
	}

	assert.Equal(t, 250000, total)
	assert.Equal(t, 3, coll.BlockCount())

	_, err = NewCollector(10)
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(12345))
	inputs := [][]byte{
		{},
		{'a'},
		[]byte("AAAA"),
		[]byte("banana"),
		bytes.Repeat([]byte("abcd"), 5000),
		bytes.Repeat([]byte{0}, 70000),
		[]byte("Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor."),
	}

	for i := 0; i < 10; i++ {
		buf := make([]byte, rnd.Intn(40000))

		for j := range buf {
			buf[j] = byte('a' + rnd.Intn(1+i*3))
		}

		inputs = append(inputs, buf)
	}

	f := fuzz.NewWithSeed(54321).NilChance(0).NumElements(0, 20000)

	for i := 0; i < 10; i++ {
		var buf []byte
		f.Fuzz(&buf)
		inputs = append(inputs, buf)
	}

	for i, input := range inputs {
		for _, level := range []uint{1, 9} {
			stream := encodeStream(t, level, input)
			output, err := decodeAll(stream)
			require.NoError(t, err, "input %d", i)
			require.Equal(t, input, output, "input %d", i)

			// Standard library reader
			output, err = io.ReadAll(bzip2.NewReader(bytes.NewReader(stream)))
			require.NoError(t, err, "input %d", i)
			require.True(t, bytes.Equal(input, output), "input %d", i)
		}
	}
}

func TestMultiBlockRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(777))
	pieces := make([][]byte, 0)
	expected := make([]byte, 0)

	for i := 0; i < 6; i++ {
		p := make([]byte, 1+rnd.Intn(3000))

		for j := range p {
			p[j] = byte(rnd.Intn(4 + i*40))
		}

		pieces = append(pieces, p)
		expected = append(expected, p...)
	}

	stream := encodeBlocks(t, 2, pieces...)
	output, infos, err := decodeChunks(stream, func() int { return 1 + rnd.Intn(64) })
	require.NoError(t, err)
	assert.Equal(t, expected, output)
	require.Equal(t, len(pieces), len(infos))

	for i, info := range infos {
		assert.Equal(t, i, info.Id)
		assert.Equal(t, len(pieces[i]), info.RawSize)
		assert.Equal(t, hash.Checksum(pieces[i]), info.CRC)
		assert.False(t, info.Randomized)
	}
}

func TestReferenceStreams(t *testing.T) {
	for _, ref := range referenceStreams {
		stream, err := hex.DecodeString(ref.encoded)
		require.NoError(t, err)
		output, err := decodeAll(stream)
		require.NoError(t, err, ref.raw)
		assert.Equal(t, ref.raw, string(output))
	}
}

func TestEmptyStream(t *testing.T) {
	stream := encodeStream(t, 9, nil)
	assert.Equal(t, "425a683917724538509000000000", hex.EncodeToString(stream))
	assert.Equal(t, 14, len(stream))
}

func TestChunkInvariance(t *testing.T) {
	rnd := rand.New(rand.NewSource(999))
	text := []byte("It was the best of times, it was the worst of times, it was the age of wisdom, " +
		"it was the age of foolishness, it was the epoch of belief, it was the epoch of incredulity.")
	noise := make([]byte, 700)

	for i := range noise {
		noise[i] = byte(rnd.Intn(256))
	}

	stream := encodeBlocks(t, 1, bytes.Repeat(text, 8), noise, []byte("zzzzzzzzzzzzzzzzzz"))
	reference, refInfos, err := decodeWithInfo(stream)
	require.NoError(t, err)

	// Two chunks, split at every byte boundary
	for k := 0; k <= len(stream); k++ {
		sizes := []int{k, len(stream) - k}
		idx := 0
		output, infos, err := decodeChunks(stream, func() int {
			n := sizes[idx]
			idx++
			return n
		})

		require.NoError(t, err, "split at %d", k)
		require.Equal(t, reference, output, "split at %d", k)
		require.Equal(t, refInfos, infos, "split at %d", k)
	}

	// One byte at a time
	output, _, err := decodeChunks(stream, func() int { return 1 })
	require.NoError(t, err)
	require.Equal(t, reference, output)

	// Random chunk sizes, including empty chunks
	for i := 0; i < 50; i++ {
		output, _, err := decodeChunks(stream, func() int { return rnd.Intn(40) })
		require.NoError(t, err)
		require.Equal(t, reference, output)
	}
}

func decodeWithInfo(data []byte) ([]byte, []BlockInfo, error) {
	return decodeChunks(data, func() int { return len(data) })
}

func TestEncoderReset(t *testing.T) {
	rnd := rand.New(rand.NewSource(31))
	blocks := make([]*Block, 3)

	for i := range blocks {
		raw := make([]byte, 5000+rnd.Intn(5000))

		for j := range raw {
			raw[j] = byte(rnd.Intn(3 + i*100))
		}

		coll, _ := NewCollector(1)
		coll.Collect(raw)
		blocks[i] = coll.Finish()
	}

	shared, err := NewBlockEncoder()
	require.NoError(t, err)

	for i, blk := range blocks {
		fresh, err := NewBlockEncoder()
		require.NoError(t, err)
		expected, expectedBits, err := fresh.Encode(blk, nil)
		require.NoError(t, err)
		actual, bits, err := shared.Encode(blk, nil)
		require.NoError(t, err)
		assert.Equal(t, expectedBits, bits, "block %d", i)
		assert.Equal(t, expected, actual, "block %d", i)
		assert.Equal(t, fresh.Stats(), shared.Stats())
		shared.Reset()
	}

	// Decoder reuse across streams
	dec, err := NewBlockDecoder()
	require.NoError(t, err)
	stream := encodeBlocks(t, 1, []byte("first stream"))

	for i := 0; i < 2; i++ {
		ibs := bitstream.NewResumableInputBitStream()
		require.NoError(t, ibs.Supply(stream))
		ibs.SetEndOfInput()
		status, err := dec.Decode(ibs)
		require.NoError(t, err)
		require.Equal(t, BLOCK_READY, status)
		assert.Equal(t, "first stream", string(dec.Output()))
		status, err = dec.Decode(ibs)
		require.NoError(t, err)
		require.Equal(t, STREAM_END, status)
		dec.Restart()
	}
}

func TestFourIdenticalBytes(t *testing.T) {
	raw := []byte("AAAA")
	blk := &Block{Data: raw, CRC: hash.Checksum(raw), RawSize: 4}
	blk.InUse['A'] = true
	enc, err := NewBlockEncoder()
	require.NoError(t, err)
	buf, bits, err := enc.Encode(blk, nil)
	require.NoError(t, err)

	stats := enc.Stats()
	assert.Equal(t, uint(0), stats.PrimaryIndex)
	assert.Equal(t, 3, stats.Symbols) // RUNB RUNA EOB
	assert.Equal(t, 3, stats.AlphaSize)
	assert.Equal(t, uint64(bits), stats.Bits)
	assert.Equal(t, int(bits+7)>>3, len(buf))

	bs := util.NewBufferStream(nil)
	obs, _ := bitstream.NewDefaultOutputBitStream(bs, 1024)
	WriteStreamHeader(obs, 1)
	obs.WriteArray(buf, bits)
	WriteStreamTrailer(obs, hash.CombineCRC(0, blk.CRC))
	obs.Close()

	output, err := decodeAll(bs.Bytes())
	require.NoError(t, err)
	assert.Equal(t, raw, output)

	// Through the collector
	stream := encodeStream(t, 9, raw)
	output, err = decodeAll(stream)
	require.NoError(t, err)
	assert.Equal(t, raw, output)
}

func TestLargeRandomBlock(t *testing.T) {
	if testing.Short() {
		t.Skip("large block")
	}

	rnd := rand.New(rand.NewSource(900000))
	raw := make([]byte, 900000)
	blk := &Block{Data: raw}

	for i := range raw {
		raw[i] = byte(rnd.Intn(256))

		// No run of 4 so that the block is its own first stage output
		for i >= 3 && raw[i] == raw[i-1] && raw[i] == raw[i-2] && raw[i] == raw[i-3] {
			raw[i] = byte(rnd.Intn(256))
		}

		blk.InUse[raw[i]] = true
	}

	blk.CRC = hash.Checksum(raw)
	blk.RawSize = len(raw)
	enc, err := NewBlockEncoder()
	require.NoError(t, err)
	buf, bits, err := enc.Encode(blk, nil)
	require.NoError(t, err)

	stats := enc.Stats()
	assert.Equal(t, uint64(bits), stats.Bits)
	assert.Equal(t, int((stats.Bits+7)/8), len(buf))
	assert.GreaterOrEqual(t, stats.Trees, entropy.MIN_TREES)
	assert.Equal(t, 258, stats.AlphaSize)

	bs := util.NewBufferStream(nil)
	obs, _ := bitstream.NewDefaultOutputBitStream(bs, 1<<20)
	WriteStreamHeader(obs, 9)
	obs.WriteArray(buf, bits)
	WriteStreamTrailer(obs, hash.CombineCRC(0, blk.CRC))
	obs.Close()

	output, infos, err := decodeWithInfo(bs.Bytes())
	require.NoError(t, err)
	require.True(t, bytes.Equal(raw, output))
	assert.Equal(t, stats.Bits, infos[0].Bits)
	assert.Equal(t, stats.PrimaryIndex, infos[0].PrimaryIndex)
}

func TestRandomizedBlock(t *testing.T) {
	rnd := rand.New(rand.NewSource(4242))
	raw := make([]byte, 20000)

	for i := range raw {
		raw[i] = byte('a' + rnd.Intn(20))

		for i >= 3 && raw[i] == raw[i-1] && raw[i] == raw[i-2] && raw[i] == raw[i-3] {
			raw[i] = byte('a' + rnd.Intn(20))
		}
	}

	// A randomized block holds the first stage output with bits flipped
	perturbed := append([]byte(nil), raw...)
	var r derandomizer
	r.apply(perturbed)
	assert.NotEqual(t, raw, perturbed)

	blk := &Block{Data: perturbed, CRC: hash.Checksum(raw), RawSize: len(raw)}

	for _, b := range perturbed {
		blk.InUse[b] = true
	}

	enc, err := NewBlockEncoder()
	require.NoError(t, err)
	buf, bits, err := enc.Encode(blk, nil)
	require.NoError(t, err)

	// Set the randomized flag after the magic and block CRC
	buf[10] |= 0x80

	bs := util.NewBufferStream(nil)
	obs, _ := bitstream.NewDefaultOutputBitStream(bs, 1024)
	WriteStreamHeader(obs, 1)
	obs.WriteArray(buf, bits)
	WriteStreamTrailer(obs, hash.CombineCRC(0, blk.CRC))
	obs.Close()

	output, infos, err := decodeWithInfo(bs.Bytes())
	require.NoError(t, err)
	assert.Equal(t, raw, output)
	assert.True(t, infos[0].Randomized)
}

func TestBadMagic(t *testing.T) {
	stream := encodeBlocks(t, 1, []byte("some data to compress"))

	corrupted := append([]byte(nil), stream...)
	corrupted[4] ^= 0x01 // block magic
	output, err := decodeAll(corrupted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadMagic))
	assert.True(t, IsFormatError(err))
	assert.Empty(t, output)

	corrupted = append([]byte(nil), stream...)
	corrupted[2] = 'X' // stream header
	_, err = decodeAll(corrupted)
	assert.True(t, errors.Is(err, ErrBadMagic))

	corrupted = append([]byte(nil), stream...)
	corrupted[3] = '0' // block size digit
	_, err = decodeAll(corrupted)
	assert.True(t, errors.Is(err, ErrBadMagic))
}

func TestCRCMismatch(t *testing.T) {
	stream := encodeBlocks(t, 1, []byte("checksummed"))
	corrupted := append([]byte(nil), stream...)
	corrupted[10] ^= 0x20 // block CRC
	output, err := decodeAll(corrupted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCRCMismatch))
	assert.Empty(t, output)

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, kbzip2.ERR_CRC_CHECK, fe.Code)

	// Errors are sticky
	dec, _ := NewBlockDecoder()
	ibs := bitstream.NewResumableInputBitStream()
	ibs.Supply(corrupted)
	ibs.SetEndOfInput()
	_, err1 := dec.Decode(ibs)
	status, err2 := dec.Decode(ibs)
	assert.Equal(t, err1, err2)
	assert.Equal(t, DECODE_FAILED, status)
	assert.Nil(t, dec.Output())
}

func TestTruncatedStream(t *testing.T) {
	stream := encodeBlocks(t, 1, []byte("a short stream"), []byte("with two blocks"))

	for k := 0; k < len(stream); k++ {
		_, err := decodeAll(stream[0:k])
		require.Error(t, err, "length %d", k)
		require.True(t, errors.Is(err, ErrTruncated), "length %d: %v", k, err)
	}
}

// writeTables writes a block header with a single byte value in use
// (alphabet size 3) followed by the trees provided
func writeTables(obs kbzip2.OutputBitStream, trees ...[]uint8) {
	WriteStreamHeader(obs, 1)
	obs.WriteBits(BLOCK_MAGIC>>24, 24)
	obs.WriteBits(BLOCK_MAGIC&0xFFFFFF, 24)
	obs.WriteBits(0, 32) // CRC
	obs.WriteBit(0)
	obs.WriteBits(0, 24)
	obs.WriteBits(0x8000, 16)
	obs.WriteBits(0x8000, 16) // byte 0
	obs.WriteBits(uint64(len(trees)), 3)
	obs.WriteBits(1, 15)
	obs.WriteBit(0) // selector

	for _, lengths := range trees {
		curr := lengths[0]
		obs.WriteBits(uint64(curr), 5)

		for _, l := range lengths {
			for ; curr < l; curr++ {
				obs.WriteBits(2, 2)
			}

			for ; curr > l; curr-- {
				obs.WriteBits(3, 2)
			}

			obs.WriteBit(0)
		}
	}
}

func TestDecoderKraft(t *testing.T) {
	tests := []struct {
		lengths  []uint8
		expected error
	}{
		{[]uint8{1, 2, 3}, entropy.ErrIncompleteCode},     // 0.875
		{[]uint8{1, 1, 2}, entropy.ErrOversubscribedCode}, // 1.25
	}

	for _, test := range tests {
		bs := util.NewBufferStream(nil)
		obs, _ := bitstream.NewDefaultOutputBitStream(bs, 1024)
		writeTables(obs, []uint8{1, 2, 2}, test.lengths)
		obs.WriteBits(0, 32)
		obs.Close()

		output, err := decodeAll(bs.Bytes())
		require.Error(t, err)
		assert.True(t, errors.Is(err, test.expected), "%v", err)
		assert.True(t, IsFormatError(err))
		assert.Empty(t, output)
	}
}

func TestDecoderInvalidTables(t *testing.T) {
	// One tree
	bs := util.NewBufferStream(nil)
	obs, _ := bitstream.NewDefaultOutputBitStream(bs, 1024)
	writeTables(obs, []uint8{1, 2, 2})
	obs.WriteBits(0, 32)
	obs.Close()
	_, err := decodeAll(bs.Bytes())
	require.Error(t, err)
	assert.True(t, IsFormatError(err))

	// Code length reaching 0
	bs = util.NewBufferStream(nil)
	obs, _ = bitstream.NewDefaultOutputBitStream(bs, 1024)
	writeTables(obs, []uint8{1, 2, 2}, []uint8{1, 0, 2})
	obs.WriteBits(0, 32)
	obs.Close()
	_, err = decodeAll(bs.Bytes())
	require.Error(t, err)
	assert.True(t, errors.Is(err, entropy.ErrInvalidCodeLength))

	// No end of block before the selectors run out: RUNA forever
	bs = util.NewBufferStream(nil)
	obs, _ = bitstream.NewDefaultOutputBitStream(bs, 1024)
	writeTables(obs, []uint8{1, 2, 2}, []uint8{1, 2, 2})

	for i := 0; i < 60; i++ {
		obs.WriteBit(0)
	}

	obs.WriteBits(0, 32)
	obs.Close()
	_, err = decodeAll(bs.Bytes())
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
}
