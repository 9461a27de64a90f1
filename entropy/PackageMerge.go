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
	"fmt"
	"sort"
)

// Package-merge computes optimal prefix code lengths under a maximum length
// constraint.
// See [A Fast Algorithm for Optimal Length-Limited Huffman Codes]
// by Lawrence L. Larmore and Daniel S. Hirschberg
//
// Each symbol is a coin of denomination 2^-maxLength and numismatic value
// its frequency. Coins are paired into packages level after level, from the
// deepest one up, and merged back with the original coins. The 2n-2 cheapest
// items of the top level list form the solution: the length of a symbol is
// the number of selected items it contributes to.

type pmNode struct {
	weight int64
	left   int32 // child nodes, or -1-symbol for a leaf
	right  int32
}

// PackageMerge owns the scratch buffers of the algorithm and can be reused
type PackageMerge struct {
	nodes   []pmNode
	leaves  []int32
	current []int32
	merged  []int32
	ranks   []int
}

// NewPackageMerge creates a new instance of PackageMerge
func NewPackageMerge() *PackageMerge {
	this := &PackageMerge{}
	this.nodes = make([]pmNode, 0, 2*HUF_MAX_ALPHABET*HUF_MAX_CODE_LENGTH)
	this.leaves = make([]int32, 0, HUF_MAX_ALPHABET)
	this.current = make([]int32, 0, 2*HUF_MAX_ALPHABET)
	this.merged = make([]int32, 0, 2*HUF_MAX_ALPHABET)
	this.ranks = make([]int, 0, HUF_MAX_ALPHABET)
	return this
}

// Compute fills 'lengths' with the code lengths of a complete prefix code of
// minimum cost for 'frequencies' such that no length exceeds 'maxLength'.
// Returns the cost in bits of the symbols.
func (this *PackageMerge) Compute(frequencies []int32, maxLength uint, lengths []uint8) (uint64, error) {
	n := len(frequencies)

	if n < 2 {
		return 0, fmt.Errorf("Invalid alphabet size: %d (must be at least 2)", n)
	}

	if maxLength > HUF_MAX_CODE_LENGTH || uint64(1)<<maxLength < uint64(n) {
		return 0, fmt.Errorf("Cannot build a code for %d symbols with a max length of %d", n, maxLength)
	}

	this.ranks = this.ranks[:0]

	for i := 0; i < n; i++ {
		this.ranks = append(this.ranks, i)
	}

	sort.Sort(byIncreasingFrequency(this.ranks, frequencies))
	this.nodes = this.nodes[:0]
	this.leaves = this.leaves[:0]

	for _, s := range this.ranks {
		this.leaves = append(this.leaves, int32(len(this.nodes)))
		this.nodes = append(this.nodes, pmNode{weight: int64(frequencies[s]), left: int32(-1 - s)})
	}

	// Only the 2n-2 cheapest items of any list can end up in the solution
	limit := 2*n - 2
	this.current = append(this.current[:0], this.leaves...)

	for level := uint(1); level < maxLength; level++ {
		this.merged = this.merged[:0]
		i := 0
		p := 0

		// Merge leaves with packages of the current list, leaves first on ties
		for len(this.merged) < limit {
			hasPackage := p+1 < len(this.current)

			if i >= n && hasPackage == false {
				break
			}

			if hasPackage == true {
				w := this.nodes[this.current[p]].weight + this.nodes[this.current[p+1]].weight

				if i >= n || w < this.nodes[this.leaves[i]].weight {
					this.merged = append(this.merged, int32(len(this.nodes)))
					this.nodes = append(this.nodes, pmNode{weight: w, left: this.current[p], right: this.current[p+1]})
					p += 2
					continue
				}
			}

			this.merged = append(this.merged, this.leaves[i])
			i++
		}

		this.current, this.merged = this.merged, this.current
	}

	for i := range lengths[0:n] {
		lengths[i] = 0
	}

	for _, idx := range this.current[0:limit] {
		this.count(idx, lengths)
	}

	cost := uint64(0)

	for i, f := range frequencies {
		cost += uint64(f) * uint64(lengths[i])
	}

	return cost, nil
}

func (this *PackageMerge) count(idx int32, lengths []uint8) {
	node := &this.nodes[idx]

	if node.left < 0 {
		lengths[-1-node.left]++
		return
	}

	this.count(node.left, lengths)
	this.count(node.right, lengths)
}

// MinCodeLength returns the smallest max length allowing a prefix code for
// an alphabet of 'n' symbols: ceil(log2(n))
func MinCodeLength(n int) uint {
	res := uint(0)

	for (1 << res) < n {
		res++
	}

	return res
}

// OptimalLengths searches the max lengths from MinCodeLength(n) to
// HUF_MAX_CODE_LENGTH and keeps the cheapest code, the lowest max length
// winning ties. Returns the cost in bits of the symbols.
func (this *PackageMerge) OptimalLengths(frequencies []int32, lengths []uint8) (uint64, error) {
	var buf [HUF_MAX_ALPHABET]uint8
	n := len(frequencies)
	candidate := buf[0:n]
	minLength := MinCodeLength(n)

	if minLength == 0 {
		minLength = 1
	}

	best := ^uint64(0)

	for h := minLength; h <= HUF_MAX_CODE_LENGTH; h++ {
		cost, err := this.Compute(frequencies, h, candidate)

		if err != nil {
			return 0, err
		}

		if cost < best {
			best = cost
			copy(lengths, candidate)
		}
	}

	return best, nil
}
