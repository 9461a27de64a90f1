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
	"math/rand"
	"testing"

	"github.com/flanglet/kbzip2/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bitField struct {
	value uint64
	count uint
}

func randomFields(rnd *rand.Rand, n int) ([]bitField, uint64) {
	fields := make([]bitField, n)
	total := uint64(0)

	for i := range fields {
		count := uint(rnd.Intn(33))
		value := rnd.Uint64()

		if count < 64 {
			value &= (uint64(1) << count) - 1
		}

		fields[i] = bitField{value: value, count: count}
		total += uint64(count)
	}

	return fields, total
}

func TestArrayOutputBitStream(t *testing.T) {
	rnd := rand.New(rand.NewSource(12345))

	for test := 0; test < 20; test++ {
		fields, total := randomFields(rnd, 1+rnd.Intn(500))
		buf := make([]byte, (total+7)>>3)
		obs, err := NewArrayOutputBitStream(buf)
		require.NoError(t, err)

		for _, f := range fields {
			obs.WriteBits(f.value, f.count)
		}

		require.Equal(t, total, obs.Written())
		_, err = obs.Close()
		require.NoError(t, err)

		ibs := NewResumableInputBitStream()
		require.NoError(t, ibs.Supply(buf))
		ibs.SetEndOfInput()

		for i, f := range fields {
			require.Equal(t, READY, ibs.Need(f.count), "field %d", i)
			require.Equal(t, f.value, ibs.Take(f.count), "field %d", i)
		}

		require.Equal(t, total, ibs.Read())
	}
}

func TestArrayOutputBitStreamSizeMismatch(t *testing.T) {
	obs, err := NewArrayOutputBitStream(make([]byte, 3))
	require.NoError(t, err)
	obs.WriteBits(0x1FF, 9)
	_, err = obs.Close()
	assert.Error(t, err)

	obs, _ = NewArrayOutputBitStream(make([]byte, 1))

	assert.Panics(t, func() {
		obs.WriteBits(0xFFFFFFFF, 32)
		obs.WriteBits(0xFFFFFFFF, 32)
	})
}

func TestResumableChunks(t *testing.T) {
	if err := testCorrectnessChunked(); err != nil {
		t.Errorf(err.Error())
	}
}

func testCorrectnessChunked() error {
	rnd := rand.New(rand.NewSource(6789))

	for test := 1; test <= 10; test++ {
		fields, total := randomFields(rnd, 200*test)
		buf := make([]byte, (total+7)>>3)
		obs, _ := NewArrayOutputBitStream(buf)

		for _, f := range fields {
			obs.WriteBits(f.value, f.count)
		}

		if _, err := obs.Close(); err != nil {
			return err
		}

		// Deliver the data in small random chunks and resume after each stall
		ibs := NewResumableInputBitStream()
		offset := 0

		for i, f := range fields {
			for {
				status := ibs.Need(f.count)

				if status == READY {
					break
				}

				if status == END_OF_INPUT {
					return fmt.Errorf("Unexpected end of input at field %d", i)
				}

				if offset == len(buf) {
					ibs.SetEndOfInput()
					continue
				}

				step := 1 + rnd.Intn(7)

				if offset+step > len(buf) {
					step = len(buf) - offset
				}

				if err := ibs.Supply(buf[offset : offset+step]); err != nil {
					return err
				}

				offset += step
			}

			if v := ibs.Take(f.count); v != f.value {
				return fmt.Errorf("Field %d: expected %x, got %x", i, f.value, v)
			}
		}

		if ibs.Read() != total {
			return errors.New("Invalid number of bits read")
		}
	}

	return nil
}

func TestResumableEndOfInput(t *testing.T) {
	ibs := NewResumableInputBitStream()
	assert.Equal(t, NEED_MORE_INPUT, ibs.Need(1))
	require.NoError(t, ibs.Supply([]byte{0xA5}))
	assert.Equal(t, READY, ibs.Need(8))
	assert.Equal(t, NEED_MORE_INPUT, ibs.Need(12))
	ibs.SetEndOfInput()
	assert.Equal(t, END_OF_INPUT, ibs.Need(12))
	assert.Equal(t, uint64(0xA50), ibs.PeekPadded(12))
	assert.Equal(t, uint64(0xA), ibs.Take(4))
	ibs.AlignToByte()
	assert.Equal(t, uint(0), ibs.Available())
	assert.Equal(t, uint64(8), ibs.Read())
	assert.Error(t, ibs.Supply([]byte{0}))
}

func TestDefaultOutputBitStreamArray(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for shift := uint(0); shift < 8; shift++ {
		data := make([]byte, 300+rnd.Intn(3000))
		rnd.Read(data)
		count := uint(len(data)<<3) - uint(rnd.Intn(8))
		bs := util.NewBufferStream(make([]byte, 0, len(data)+16))
		obs, err := NewDefaultOutputBitStream(bs, 1024)
		require.NoError(t, err)
		obs.WriteBits(0x5A, shift)
		obs.WriteArray(data, count)
		obs.WriteBits(3, 2)
		require.Equal(t, uint64(shift)+uint64(count)+2, obs.Written())
		_, err = obs.Close()
		require.NoError(t, err)
		require.Equal(t, (uint64(shift)+uint64(count)+2+7)>>3, uint64(bs.Len()))

		ibs := NewResumableInputBitStream()
		require.NoError(t, ibs.Supply(bs.Bytes()))
		ibs.SetEndOfInput()
		require.Equal(t, READY, ibs.Need(shift))
		require.Equal(t, uint64(0x5A)&((1<<shift)-1), ibs.Take(shift))
		remaining := count

		for i := 0; remaining > 0; i++ {
			n := uint(8)

			if remaining < 8 {
				n = remaining
			}

			require.Equal(t, READY, ibs.Need(n))
			require.Equal(t, uint64(data[i]>>(8-n)), ibs.Take(n), "byte %d", i)
			remaining -= n
		}

		require.Equal(t, READY, ibs.Need(2))
		require.Equal(t, uint64(3), ibs.Take(2))
	}
}

func TestDefaultOutputBitStreamStitching(t *testing.T) {
	rnd := rand.New(rand.NewSource(4321))
	stitched := util.NewBufferStream(make([]byte, 0, 1<<16))
	reference := util.NewBufferStream(make([]byte, 0, 1<<16))
	obs, err := NewDefaultOutputBitStream(stitched, 1024)
	require.NoError(t, err)
	ref, err := NewDefaultOutputBitStream(reference, 2048)
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		block := make([]byte, 1+rnd.Intn(700))
		rnd.Read(block)
		count := uint(len(block)<<3) - uint(rnd.Intn(8))
		obs.WriteArray(block, count)

		for j := uint(0); j < count; j++ {
			ref.WriteBit(int(block[j>>3] >> (7 - j&7)))
		}

		require.Equal(t, ref.Written(), obs.Written(), "block %d", i)
	}

	_, err = obs.Close()
	require.NoError(t, err)
	_, err = ref.Close()
	require.NoError(t, err)
	require.Equal(t, reference.Bytes(), stitched.Bytes())
	assert.Panics(t, func() { obs.WriteBits(1, 1) })
}
