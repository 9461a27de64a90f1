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

package transform

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forwardMTFT(t *testing.T, input []byte) ([]uint16, []int32, int, []byte) {
	var inUse [256]bool
	seqToUnseq := make([]byte, 0, 256)

	for _, b := range input {
		inUse[b] = true
	}

	for i := range inUse {
		if inUse[i] == true {
			seqToUnseq = append(seqToUnseq, byte(i))
		}
	}

	mtft, err := NewMTFT()
	require.NoError(t, err)
	mtfv := make([]uint16, len(input)+1)
	freqs := make([]int32, MTF_MAX_ALPHABET)
	nmtf, alphaSize := mtft.Forward(input, &inUse, mtfv, freqs)
	require.Equal(t, len(seqToUnseq)+2, alphaSize)
	return mtfv[0:nmtf], freqs, alphaSize, seqToUnseq
}

func TestMTFTRun(t *testing.T) {
	mtfv, freqs, alphaSize, _ := forwardMTFT(t, []byte("AAAA"))
	assert.Equal(t, 3, alphaSize)
	// 4 = RUNB (2) + RUNA (2*1)
	assert.Equal(t, []uint16{RUNB, RUNA, 2}, mtfv)
	assert.Equal(t, int32(1), freqs[RUNA])
	assert.Equal(t, int32(1), freqs[RUNB])
	assert.Equal(t, int32(1), freqs[2])
}

func TestMTFTRanks(t *testing.T) {
	// in use: a b c => ranks start as a b c
	mtfv, _, alphaSize, _ := forwardMTFT(t, []byte("cabba"))
	assert.Equal(t, 5, alphaSize)
	// c: rank 2 -> 3, a: rank 1 -> 2, b: rank 2 -> 3, b: run of 1 -> RUNA, a: rank 1 -> 2
	assert.Equal(t, []uint16{3, 2, 3, RUNA, 2, 4}, mtfv)
}

func TestMTFTRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(98765))

	for ii := 0; ii < 50; ii++ {
		input := make([]byte, 1+rnd.Intn(20000))
		alphabet := 1 + rnd.Intn(256)
		maxRun := 1 + rnd.Intn(600)

		for i := 0; i < len(input); {
			b := byte(rnd.Intn(alphabet))
			run := 1 + rnd.Intn(maxRun)

			for j := 0; j < run && i < len(input); j++ {
				input[i] = b
				i++
			}
		}

		mtfv, freqs, alphaSize, seqToUnseq := forwardMTFT(t, input)
		total := int32(0)

		for _, f := range freqs {
			total += f
		}

		require.Equal(t, int32(len(mtfv)), total)
		require.Equal(t, uint16(alphaSize-1), mtfv[len(mtfv)-1])

		tt := make([]uint32, len(input))
		dec := NewMTFDecoder()
		dec.Reset(seqToUnseq, tt, len(input))

		for _, sym := range mtfv[0 : len(mtfv)-1] {
			require.NoError(t, dec.Symbol(int(sym)))
		}

		require.NoError(t, dec.Flush())
		require.Equal(t, len(input), dec.Count())
		var counts [256]int32

		for i, b := range input {
			require.Equal(t, uint32(b), tt[i], "byte %d", i)
			counts[b]++
		}

		require.Equal(t, counts, *dec.Counts())
	}
}

func TestMTFDecoderOverflow(t *testing.T) {
	tt := make([]uint32, 10)
	dec := NewMTFDecoder()
	dec.Reset([]byte{'x', 'y'}, tt, len(tt))

	// RUNB RUNB RUNB = 2+4+8 = 14 > 10
	for i := 0; i < 3; i++ {
		require.NoError(t, dec.Symbol(RUNB))
	}

	assert.Error(t, dec.Flush())

	dec.Reset([]byte{'x', 'y'}, tt, len(tt))

	for i := 0; i < 10; i++ {
		require.NoError(t, dec.Symbol(2))
	}

	assert.Error(t, dec.Symbol(2))

	dec.Reset([]byte{'x', 'y'}, tt, len(tt))
	assert.Error(t, dec.Symbol(3))
}
