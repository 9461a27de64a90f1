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
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func naiveSuffixArray(src []byte) []int32 {
	sa := make([]int32, len(src))

	for i := range sa {
		sa[i] = int32(i)
	}

	sort.Slice(sa, func(i, j int) bool {
		return bytes.Compare(src[sa[i]:], src[sa[j]:]) < 0
	})

	return sa
}

func fibonacciWord(size int) []byte {
	a, b := []byte("a"), []byte("ab")

	for len(b) < size {
		a, b = b, append(append([]byte{}, b...), a...)
	}

	return b[0:size]
}

func thueMorse(size int) []byte {
	buf := make([]byte, size)

	for i := range buf {
		buf[i] = 'a' + byte(bitCount(i)&1)
	}

	return buf
}

func bitCount(v int) int {
	n := 0

	for ; v != 0; v &= v - 1 {
		n++
	}

	return n
}

func tandemRepeat(rnd *rand.Rand, period, size, alphabet int) []byte {
	buf := make([]byte, size)

	for i := range buf {
		if i < period {
			buf[i] = byte('a' + rnd.Intn(alphabet))
		} else {
			buf[i] = buf[i-period]
		}
	}

	return buf
}

func TestSuffixArrayOrder(t *testing.T) {
	rnd := rand.New(rand.NewSource(98765))
	ds, err := NewDivSufSort()
	require.NoError(t, err)

	inputs := [][]byte{
		[]byte("ab"),
		[]byte("ba"),
		[]byte("aab"),
		[]byte("banana"),
		[]byte("abanan"),
		[]byte("mississippi"),
		[]byte("zyxwvutsrqponmlkjihgfedcba"),
		[]byte("abcdefghijklmnopqrstuvwxyz"),
		bytes.Repeat([]byte("ab"), 3000),
		bytes.Repeat([]byte("abc"), 1500),
		bytes.Repeat([]byte("aab"), 1500),
		bytes.Repeat([]byte("abaababa"), 700),
		append(bytes.Repeat([]byte{'a'}, 2000), 'b'),
		append([]byte{'b'}, bytes.Repeat([]byte{'a'}, 2000)...),
		fibonacciWord(4181),
		fibonacciWord(10000),
		thueMorse(8192),
	}

	for period := 1; period <= 9; period++ {
		inputs = append(inputs, tandemRepeat(rnd, period, 2000+rnd.Intn(2000), 3))
	}

	for ii := 0; ii < 10; ii++ {
		buf := make([]byte, 1+rnd.Intn(20000))

		if ii&1 == 0 {
			rnd.Read(buf)
		} else {
			// Large buckets: sorted by blocks then merged
			for i := range buf {
				buf[i] = byte('a' + rnd.Intn(2))
			}
		}

		inputs = append(inputs, buf)
	}

	for n, input := range inputs {
		sa := make([]int32, len(input))
		ds.ComputeSuffixArray(input, sa)
		require.Equal(t, naiveSuffixArray(input), sa, "input %d (%d bytes)", n, len(input))
	}
}

func TestSuffixArraySingleByte(t *testing.T) {
	ds, _ := NewDivSufSort()
	sa := []int32{7}
	ds.ComputeSuffixArray([]byte{'x'}, sa)
	assert.Equal(t, []int32{0}, sa)

	assert.Panics(t, func() { ds.ComputeSuffixArray([]byte{}, sa) })
	assert.Panics(t, func() { ds.ComputeSuffixArray([]byte("abc"), make([]int32, 2)) })
}

func TestRankSortFallbacks(t *testing.T) {
	rnd := rand.New(rand.NewSource(24680))

	for _, remain := range []int32{0, 1 << 30} {
		keys := make([]int32, 5000)
		idx := make([]int32, len(keys))

		for i := range keys {
			keys[i] = int32(rnd.Intn(300))
			idx[i] = int32(i)
		}

		orig := append([]int32{}, keys...)
		ds, _ := NewDivSufSort()
		ds.trIntroSort(idx, keys, &trBudget{remain: remain})

		for i := range keys {
			require.Equal(t, orig[idx[i]], keys[i])

			if i > 0 {
				require.LessOrEqual(t, keys[i-1], keys[i])
			}
		}
	}
}

func TestBitSetNextClear(t *testing.T) {
	var bs bitSet
	bs.reset(200)

	for i := int32(0); i < 130; i++ {
		bs.set(i)
	}

	bs.set(131)
	assert.True(t, bs.has(64))
	assert.False(t, bs.has(130))
	assert.Equal(t, int32(130), bs.nextClear(0, 200))
	assert.Equal(t, int32(132), bs.nextClear(131, 200))
	assert.Equal(t, int32(150), bs.nextClear(150, 200))
	assert.Equal(t, int32(120), bs.nextClear(0, 120))
}
