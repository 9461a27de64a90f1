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

package entropy

import (
	"errors"
	"fmt"
	"sort"
)

const (
	HUF_MAX_CODE_LENGTH = 20  // in bits
	HUF_MIN_ALPHABET    = 3   // RUNA, RUNB and end of block
	HUF_MAX_ALPHABET    = 258 // 256 ranks + RUNA/RUNB - 1 rank + end of block
)

// Utilities

type frequencyComparator struct {
	ranks       []int
	frequencies []int32
}

func byIncreasingFrequency(ranks []int, frequencies []int32) frequencyComparator {
	return frequencyComparator{ranks: ranks, frequencies: frequencies}
}

func (this frequencyComparator) Less(i, j int) bool {
	// Check frequency (natural order) as first key
	ri := this.ranks[i]
	rj := this.ranks[j]

	if this.frequencies[ri] != this.frequencies[rj] {
		return this.frequencies[ri] < this.frequencies[rj]
	}

	// Check index (natural order) as second key
	return ri < rj
}

func (this frequencyComparator) Len() int {
	return len(this.ranks)
}

func (this frequencyComparator) Swap(i, j int) {
	this.ranks[i], this.ranks[j] = this.ranks[j], this.ranks[i]
}

// HuffmanLengths computes unconstrained minimum redundancy code lengths for
// all the symbols of 'frequencies' (symbols with a null frequency are given
// a weight of 1 so that every symbol gets a code), then clamps them to
// 'maxLength'. The clamped lengths may violate Kraft's inequality: they are
// only meant to estimate coding costs.
// See [In-Place Calculation of Minimum-Redundancy Codes]
// by Alistair Moffat & Jyrki Katajainen
func HuffmanLengths(frequencies []int32, lengths []uint8, maxLength uint8) {
	count := len(frequencies)

	if count < 2 {
		panic(fmt.Errorf("Invalid alphabet size: %d", count))
	}

	var rbuf [HUF_MAX_ALPHABET]int
	var wbuf [HUF_MAX_ALPHABET]int32
	var buffer [HUF_MAX_ALPHABET]int
	sranks := rbuf[0:count]
	weights := wbuf[0:count]

	for i, f := range frequencies {
		sranks[i] = i

		if f == 0 {
			weights[i] = 1
		} else {
			weights[i] = f
		}
	}

	// Sort by increasing frequencies (first key) and increasing value (second key)
	sort.Sort(byIncreasingFrequency(sranks, weights))
	buf := buffer[0:count]

	for i := range buf {
		buf[i] = int(weights[sranks[i]])
	}

	computeInPlaceSizesPhase1(buf)
	computeInPlaceSizesPhase2(buf)

	for i := range buf {
		codeLen := uint8(buf[i])

		if codeLen > maxLength {
			codeLen = maxLength
		}

		lengths[sranks[i]] = codeLen
	}
}

// Phase 1: build the tree in place, leaves sorted by increasing weight.
// On exit, data[t] holds the parent index of internal node t.
func computeInPlaceSizesPhase1(data []int) {
	n := len(data)

	for s, r, t := 0, 0, 0; t < n-1; t++ {
		sum := 0

		for i := 0; i < 2; i++ {
			if s >= n || (r < t && data[r] < data[s]) {
				sum += data[r]
				data[r] = t
				r++
			} else {
				sum += data[s]

				if s > t {
					data[s] = 0
				}

				s++
			}
		}

		data[t] = sum
	}
}

// Phase 2: translate parent indexes into leaf depths
func computeInPlaceSizesPhase2(data []int) {
	n := len(data)
	levelTop := n - 2 //root
	depth := 1
	i := n
	totalNodesAtLevel := 2

	for i > 0 {
		k := levelTop

		for k > 0 && data[k-1] >= levelTop {
			k--
		}

		internalNodesAtLevel := levelTop - k
		leavesAtLevel := totalNodesAtLevel - internalNodesAtLevel

		for j := 0; j < leavesAtLevel; j++ {
			i--
			data[i] = depth
		}

		totalNodesAtLevel = internalNodesAtLevel << 1
		levelTop = k
		depth++
	}
}

// GenerateCanonicalCodes assigns canonical codes: codes of equal length are
// consecutive and ordered by symbol, shorter codes come first.
func GenerateCanonicalCodes(lengths []uint8, codes []uint32) error {
	var counts [HUF_MAX_CODE_LENGTH + 1]uint32
	var next [HUF_MAX_CODE_LENGTH + 2]uint32

	for _, l := range lengths {
		if l == 0 || l > HUF_MAX_CODE_LENGTH {
			return fmt.Errorf("Invalid code length: %d (must be in [1..%d])", l, HUF_MAX_CODE_LENGTH)
		}

		counts[l]++
	}

	code := uint32(0)

	for l := 1; l <= HUF_MAX_CODE_LENGTH; l++ {
		next[l] = code
		code = (code + counts[l]) << 1
	}

	if next[HUF_MAX_CODE_LENGTH]+counts[HUF_MAX_CODE_LENGTH] > 1<<HUF_MAX_CODE_LENGTH {
		return errors.New("Could not generate codes: oversubscribed code lengths")
	}

	for s, l := range lengths {
		codes[s] = next[l]
		next[l]++
	}

	return nil
}

// KraftSum returns the sum of 2^(maxLength-len) over all lengths. It equals
// 2^maxLength for a complete code.
func KraftSum(lengths []uint8, maxLength uint) uint64 {
	sum := uint64(0)

	for _, l := range lengths {
		if uint(l) <= maxLength {
			sum += uint64(1) << (maxLength - uint(l))
		}
	}

	return sum
}
