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
)

const (
	GROUP_SIZE                 = 50 // symbols coded with the same tree
	MAX_TREES                  = 6
	MIN_TREES                  = 2 // the format does not allow single tree blocks
	MAX_SELECTORS              = 18002
	DEFAULT_CLUSTER_ITERATIONS = 4
	_ESTIMATE_MAX_LENGTH       = 20
	_LANE_BITS                 = 10
	_LANE_MASK                 = (1 << _LANE_BITS) - 1
)

// Trees is the outcome of the entropy stage for one block: the transmitted
// code tables, the tree selected for each group of symbols and the number of
// bits needed to transmit all of it.
type Trees struct {
	Count     int // transmitted trees (2..6)
	AlphaSize int
	Lengths   [MAX_TREES][HUF_MAX_ALPHABET]uint8
	Codes     [MAX_TREES][HUF_MAX_ALPHABET]uint32
	Selectors []uint8 // tree index per group
	MTFValues []uint8 // move-to-front coded selectors
	Cost      uint64  // bits for tree count, selectors, code lengths and symbols
}

// NumTrees returns the number of trees used for a block of 'nmtf' symbols
func NumTrees(nmtf int) int {
	switch {
	case nmtf <= 150:
		return 1
	case nmtf <= 300:
		return 2
	case nmtf <= 600:
		return 3
	case nmtf <= 1200:
		return 4
	case nmtf <= 2400:
		return 5
	default:
		return 6
	}
}

// TreeGenerator clusters the groups of a block into up to 6 prefix codes.
// Initial trees split the alphabet into ranges of roughly equal weight, then
// rounds of expectation (each group picks its cheapest tree) and
// maximization (each tree is rebuilt from the groups that picked it) refine
// them. Transmitted lengths are length limited with package-merge.
type TreeGenerator struct {
	iterations int
	lengths    [MAX_TREES][HUF_MAX_ALPHABET]uint8 // estimated lengths
	freqs      [MAX_TREES][HUF_MAX_ALPHABET]int32
	packed     [HUF_MAX_ALPHABET]uint64
	selectors  []uint8
	pm         *PackageMerge
}

// NewTreeGenerator creates a new instance of TreeGenerator running
// 'iterations' refinement rounds
func NewTreeGenerator(iterations int) (*TreeGenerator, error) {
	if iterations < 1 || iterations > 16 {
		return nil, fmt.Errorf("Invalid number of clustering iterations: %d (must be in [1..16])", iterations)
	}

	this := &TreeGenerator{}
	this.iterations = iterations
	this.selectors = make([]uint8, 0)
	this.pm = NewPackageMerge()
	return this, nil
}

// NewTreeGeneratorWithCtx creates a new instance of TreeGenerator reading the
// number of rounds from the 'clusterIterations' key of the context
func NewTreeGeneratorWithCtx(ctx *map[string]interface{}) (*TreeGenerator, error) {
	iterations := DEFAULT_CLUSTER_ITERATIONS

	if val, containsKey := (*ctx)["clusterIterations"]; containsKey {
		iterations = int(val.(uint))
	}

	return NewTreeGenerator(iterations)
}

// Generate builds the trees and selectors for the 'mtfv' symbols of a block
// ('nmtf' of them, end of block included) over an alphabet of 'alphaSize'
// symbols with frequencies 'freqs'. The result is written to 'trees'.
func (this *TreeGenerator) Generate(mtfv []uint16, nmtf int, freqs []int32, alphaSize int, trees *Trees) error {
	if alphaSize < HUF_MIN_ALPHABET || alphaSize > HUF_MAX_ALPHABET {
		panic(fmt.Errorf("Invalid alphabet size: %d (must be in [%d..%d])", alphaSize, HUF_MIN_ALPHABET, HUF_MAX_ALPHABET))
	}

	if nmtf <= 0 || nmtf > len(mtfv) {
		panic(fmt.Errorf("Invalid number of symbols: %d", nmtf))
	}

	nGroups := NumTrees(nmtf)
	nSelectors := (nmtf + GROUP_SIZE - 1) / GROUP_SIZE

	if nSelectors > MAX_SELECTORS {
		return fmt.Errorf("Too many selectors: %d (max is %d)", nSelectors, MAX_SELECTORS)
	}

	if cap(this.selectors) < nSelectors {
		this.selectors = make([]uint8, nSelectors)
	}

	this.selectors = this.selectors[0:nSelectors]
	this.initialPartition(nGroups, nmtf, freqs, alphaSize)

	for iter := 0; iter < this.iterations; iter++ {
		this.assignGroups(mtfv, nmtf, nGroups, alphaSize)

		for t := 0; t < nGroups; t++ {
			HuffmanLengths(this.freqs[t][0:alphaSize], this.lengths[t][0:alphaSize], _ESTIMATE_MAX_LENGTH)
		}
	}

	// Final assignment with the last estimates
	this.assignGroups(mtfv, nmtf, nGroups, alphaSize)
	return this.buildTrees(nGroups, alphaSize, trees)
}

// initialPartition splits the alphabet into contiguous ranges of roughly
// equal cumulative frequency, one per tree. Tree lengths are 0 inside the
// range and 1 outside.
func (this *TreeGenerator) initialPartition(nGroups, nmtf int, freqs []int32, alphaSize int) {
	nPart := nGroups
	remF := nmtf
	gs := 0

	for nPart > 0 {
		tFreq := remF / nPart
		ge := gs - 1
		aFreq := 0

		for aFreq < tFreq && ge < alphaSize-1 {
			ge++
			aFreq += int(freqs[ge])
		}

		if ge > gs && nPart != nGroups && nPart != 1 && (nGroups-nPart)%2 == 1 {
			aFreq -= int(freqs[ge])
			ge--
		}

		lengths := this.lengths[nPart-1][0:alphaSize]

		for v := range lengths {
			if v >= gs && v <= ge {
				lengths[v] = 0
			} else {
				lengths[v] = 1
			}
		}

		nPart--
		gs = ge + 1
		remF -= aFreq
	}
}

// assignGroups selects the cheapest tree for each group and accumulates the
// symbol frequencies of each tree
func (this *TreeGenerator) assignGroups(mtfv []uint16, nmtf, nGroups, alphaSize int) {
	for t := 0; t < nGroups; t++ {
		freqs := this.freqs[t][0:alphaSize]

		for i := range freqs {
			freqs[i] = 0
		}
	}

	packCosts(&this.lengths, nGroups, alphaSize, this.packed[:])

	for g, gs := 0, 0; gs < nmtf; g, gs = g+1, gs+GROUP_SIZE {
		ge := gs + GROUP_SIZE

		if ge > nmtf {
			ge = nmtf
		}

		cost := uint64(0)

		for _, sym := range mtfv[gs:ge] {
			cost += this.packed[sym]
		}

		bt := cheapestLane(cost, nGroups)
		this.selectors[g] = uint8(bt)
		freqs := &this.freqs[bt]

		for _, sym := range mtfv[gs:ge] {
			freqs[sym]++
		}
	}
}

// packCosts stores, for each symbol, the code lengths of all trees in
// 10 bit lanes (tree t in bits [10t, 10t+10)). Summing the packed values of
// the symbols of a group yields the cost of the group for every tree at once.
// Lengths are at most 20 and groups hold 50 symbols, so a lane never exceeds
// 1000 and cannot carry into the next one.
func packCosts(lengths *[MAX_TREES][HUF_MAX_ALPHABET]uint8, nGroups, alphaSize int, packed []uint64) {
	for v := 0; v < alphaSize; v++ {
		p := uint64(0)

		for t := nGroups - 1; t >= 0; t-- {
			l := lengths[t][v]

			if l > _ESTIMATE_MAX_LENGTH {
				panic(fmt.Errorf("Code length %d exceeds the packed cost bound", l))
			}

			p = (p << _LANE_BITS) | uint64(l)
		}

		packed[v] = p
	}
}

// cheapestLane returns the index of the lane holding the lowest cost, the
// lowest index winning ties
func cheapestLane(cost uint64, nGroups int) int {
	best := 0
	bestCost := cost & _LANE_MASK

	for t := 1; t < nGroups; t++ {
		cost >>= _LANE_BITS

		if c := cost & _LANE_MASK; c < bestCost {
			bestCost = c
			best = t
		}
	}

	return best
}

// buildTrees renumbers the trees by order of first use, drops the unused ones
// and computes the transmitted code lengths, codes and cost
func (this *TreeGenerator) buildTrees(nGroups, alphaSize int, trees *Trees) error {
	var order [MAX_TREES]int
	var used [MAX_TREES]bool
	nTrees := 0

	for i := range order {
		order[i] = -1
	}

	for _, s := range this.selectors {
		if order[s] < 0 {
			order[s] = nTrees
			used[s] = true
			nTrees++
		}
	}

	trees.AlphaSize = alphaSize
	trees.Cost = 0

	if cap(trees.Selectors) < len(this.selectors) {
		trees.Selectors = make([]uint8, len(this.selectors))
		trees.MTFValues = make([]uint8, len(this.selectors))
	}

	trees.Selectors = trees.Selectors[0:len(this.selectors)]
	trees.MTFValues = trees.MTFValues[0:len(this.selectors)]

	for i, s := range this.selectors {
		trees.Selectors[i] = uint8(order[s])
	}

	for t := 0; t < nGroups; t++ {
		if used[t] == false {
			continue
		}

		n := order[t]
		cost, err := this.pm.OptimalLengths(this.freqs[t][0:alphaSize], trees.Lengths[n][0:alphaSize])

		if err != nil {
			return err
		}

		trees.Cost += cost
	}

	if nTrees < MIN_TREES {
		FlatLengths(trees.Lengths[nTrees][0:alphaSize])
		nTrees++
	}

	trees.Count = nTrees

	for t := 0; t < nTrees; t++ {
		if err := GenerateCanonicalCodes(trees.Lengths[t][0:alphaSize], trees.Codes[t][0:alphaSize]); err != nil {
			return err
		}

		trees.Cost += DeltaLengthsCost(trees.Lengths[t][0:alphaSize])
	}

	// Selectors, move-to-front coded then written in unary
	var mtf [MAX_TREES]uint8

	for i := range mtf {
		mtf[i] = uint8(i)
	}

	trees.Cost += 3 + 15

	for i, s := range trees.Selectors {
		j := 0

		for mtf[j] != s {
			j++
		}

		copy(mtf[1:j+1], mtf[0:j])
		mtf[0] = s
		trees.MTFValues[i] = uint8(j)
		trees.Cost += uint64(j) + 1
	}

	return nil
}

// FlatLengths fills 'lengths' with the flattest complete code: lengths k and
// k+1 where 2^k <= n < 2^(k+1), shorter codes first
func FlatLengths(lengths []uint8) {
	n := len(lengths)

	if n < 2 {
		panic(errors.New("Cannot build a code for fewer than 2 symbols"))
	}

	k := uint(0)

	for (2 << k) <= n {
		k++
	}

	// 2^(k+1)-n codes of length k, 2(n-2^k) codes of length k+1
	short := (2 << k) - n

	for i := range lengths {
		if i < short {
			lengths[i] = uint8(k)
		} else {
			lengths[i] = uint8(k + 1)
		}
	}
}

// DeltaLengthsCost returns the number of bits needed to transmit the code
// lengths: a 5 bit start value, then for each symbol 2 bits per unit step
// and a stop bit
func DeltaLengthsCost(lengths []uint8) uint64 {
	cost := uint64(5)
	curr := int(lengths[0])

	for _, l := range lengths {
		d := int(l) - curr

		if d < 0 {
			d = -d
		}

		cost += 2*uint64(d) + 1
		curr = int(l)
	}

	return cost
}
