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
	"fmt"
	"math/bits"
)

const (
	_SS_INSERTIONSORT_THRESHOLD = int32(8)
	_SS_BLOCKSIZE               = int32(1024)
	_SS_PIVOT_NINTHER           = int32(64)
	_TR_INSERTIONSORT_THRESHOLD = int32(8)
	_SA_EMPTY                   = int32(-1)
)

// DivSufSort computes suffix arrays following the scheme designed by Yuta Mori
// for libdivsufsort. Suffixes are classified as A (greater than the next
// suffix), B (smaller) and B* (a B suffix followed by an A suffix). Only the
// B* suffixes (at most half of them) are sorted explicitly, first by their
// substring up to the next B* suffix (multikey introsort on bounded blocks
// merged pairwise), then by rank doubling over the string of substring ranks
// when some substrings are equal (tandem repeats). The order of the other
// suffixes is induced from the B* order by two bucket scans.
//
// Suffix types and settled ranks are kept in bit sets next to the suffix
// array, so that slots only ever hold plain suffix indexes. All work buffers
// belong to the instance so that one sorter can be reused for successive
// blocks.
type DivSufSort struct {
	text     []byte
	sa       []int32
	typeB    bitSet      // suffixes of type B
	settled  bitSet      // rank sort: slots whose rank is final
	bstar    []int32     // positions of the B* suffixes in text order
	ranks    []int32     // rank of each B* suffix: last slot of its group
	keys     []int32     // sort keys of the group being refined
	mergeBuf []int32     // left run of a block merge
	frames   []sortFrame // pending partitions of the introsorts
	bucketA  [256]int32
	bucketB  [65536]int32
	bucketS  [65536]int32
	bucketP  [65536]int32
}

type sortFrame struct {
	first, last, depth, limit int32
}

// NewDivSufSort creates a new instance of DivSufSort
func NewDivSufSort() (*DivSufSort, error) {
	this := new(DivSufSort)
	this.bstar = make([]int32, 0)
	this.ranks = make([]int32, 0)
	this.keys = make([]int32, 0)
	this.mergeBuf = make([]int32, 0)
	this.frames = make([]sortFrame, 0, 64)
	return this, nil
}

// ComputeSuffixArray generates the suffix array for the given data and returns it
// in the 'sa' slice which must be at least as long as the input. A suffix that
// is a prefix of another one sorts first.
func (this *DivSufSort) ComputeSuffixArray(src []byte, sa []int32) {
	if len(src) == 0 || len(sa) < len(src) {
		panic(fmt.Errorf("Invalid suffix array input: %d bytes, %d slots", len(src), len(sa)))
	}

	n := int32(len(src))

	if n == 1 {
		sa[0] = 0
		return
	}

	this.text = src
	this.sa = sa[0:n]
	m := this.classify(n)

	if m > 0 {
		this.ssSort(m)

		if this.nameSubstrings(m) < m {
			this.trSort(m)
		}
	}

	this.induce(n, m)
	this.text = nil
	this.sa = nil
}

// classify computes the suffix types with one backward scan, counts the
// suffixes of each bucket and collects the B* positions. Returns the number
// of B* suffixes.
func (this *DivSufSort) classify(n int32) int32 {
	src := this.text
	this.typeB.reset(n)

	for i := range this.bucketA {
		this.bucketA[i] = 0
	}

	for i := range this.bucketB {
		this.bucketB[i] = 0
		this.bucketS[i] = 0
	}

	this.bstar = this.bstar[:0]

	// The last suffix is of type A, so every run of B suffixes ends with a B*
	this.bucketA[src[n-1]]++
	nextB := false

	for i := n - 2; i >= 0; i-- {
		c0, c1 := src[i], src[i+1]

		if c0 > c1 || (c0 == c1 && nextB == false) {
			this.bucketA[c0]++
			nextB = false
			continue
		}

		this.typeB.set(i)
		idx := int(c0)<<8 | int(c1)

		if nextB == false {
			this.bucketS[idx]++
			this.bstar = append(this.bstar, i)
		} else {
			this.bucketB[idx]++
		}

		nextB = true
	}

	m := int32(len(this.bstar))

	for i, j := 0, len(this.bstar)-1; i < j; i, j = i+1, j-1 {
		this.bstar[i], this.bstar[j] = this.bstar[j], this.bstar[i]
	}

	if int32(cap(this.ranks)) < m {
		this.ranks = make([]int32, m)
		this.keys = make([]int32, m)
	}

	this.ranks = this.ranks[0:m]
	this.keys = this.keys[0:m]
	return m
}

// limit returns the end of the substring of the B* suffix of ordinal 'k':
// two bytes past the start of the next B* suffix, the end of the text for the
// last one.
func (this *DivSufSort) limit(k int32) int32 {
	if k+1 < int32(len(this.bstar)) {
		return this.bstar[k+1] + 2
	}

	return int32(len(this.text))
}

// symbol returns the byte at 'depth' in the substring of the B* suffix of
// ordinal 'k' or -1 past the end of the substring.
func (this *DivSufSort) symbol(k, depth int32) int32 {
	if pos := this.bstar[k] + depth; pos < this.limit(k) {
		return int32(this.text[pos])
	}

	return -1
}

// ssCompare compares the substrings of two B* suffixes from 'depth' on. A
// substring that is a prefix of the other one is smaller.
func (this *DivSufSort) ssCompare(k1, k2, depth int32) int {
	src := this.text
	p1, end1 := this.bstar[k1]+depth, this.limit(k1)
	p2, end2 := this.bstar[k2]+depth, this.limit(k2)

	for p1 < end1 && p2 < end2 {
		if src[p1] != src[p2] {
			return int(src[p1]) - int(src[p2])
		}

		p1++
		p2++
	}

	if p1 < end1 {
		return 1
	}

	if p2 < end2 {
		return -1
	}

	return 0
}

// ssSort sorts the B* ordinals by substring into sa[0:m]. The ordinals are
// first distributed by their two leading bytes, then each bucket is sorted
// from depth 2.
func (this *DivSufSort) ssSort(m int32) {
	src, sa := this.text, this.sa
	sum := int32(0)

	for i := range this.bucketP {
		this.bucketP[i] = sum
		sum += this.bucketS[i]
	}

	for k := int32(0); k < m; k++ {
		p := this.bstar[k]
		idx := int(src[p])<<8 | int(src[p+1])
		sa[this.bucketP[idx]] = k
		this.bucketP[idx]++
	}

	// bucketP now holds the end of each bucket
	for i := range this.bucketP {
		last := this.bucketP[i]

		if first := last - this.bucketS[i]; last-first > 1 {
			this.ssSortBucket(first, last)
		}
	}
}

// ssSortBucket sorts sa[first:last] by blocks of _SS_BLOCKSIZE ordinals then
// merges the sorted blocks pairwise.
func (this *DivSufSort) ssSortBucket(first, last int32) {
	if last-first <= _SS_BLOCKSIZE {
		this.ssMultiKeyIntroSort(first, last, 2)
		return
	}

	for a := first; a < last; a += _SS_BLOCKSIZE {
		this.ssMultiKeyIntroSort(a, min32(a+_SS_BLOCKSIZE, last), 2)
	}

	for width := _SS_BLOCKSIZE; width < last-first; width <<= 1 {
		for a := first; a+width < last; a += width << 1 {
			this.ssMerge(a, a+width, min32(a+width<<1, last), 2)
		}
	}
}

// ssMerge merges the sorted runs sa[first:middle] and sa[middle:last]. The
// left run is moved to the merge buffer first.
func (this *DivSufSort) ssMerge(first, middle, last, depth int32) {
	sa := this.sa

	if this.ssCompare(sa[middle-1], sa[middle], depth) <= 0 {
		return
	}

	if int32(cap(this.mergeBuf)) < middle-first {
		this.mergeBuf = make([]int32, middle-first)
	}

	buf := this.mergeBuf[0 : middle-first]
	copy(buf, sa[first:middle])
	i, j, k := 0, middle, first

	for i < len(buf) && j < last {
		if this.ssCompare(sa[j], buf[i], depth) < 0 {
			sa[k] = sa[j]
			j++
		} else {
			sa[k] = buf[i]
			i++
		}

		k++
	}

	// Whatever is left of the right run is already in place
	copy(sa[k:last], buf[i:])
}

// ssMultiKeyIntroSort sorts sa[first:last] by substring from 'depth' on with a
// three way radix quicksort. Small partitions are insertion sorted, and a
// partition running out of its depth budget falls back to heap sort.
func (this *DivSufSort) ssMultiKeyIntroSort(first, last, depth int32) {
	sa := this.sa
	this.frames = append(this.frames[:0], sortFrame{first, last, depth, introLimit(last - first)})

	for len(this.frames) > 0 {
		f := this.frames[len(this.frames)-1]
		this.frames = this.frames[:len(this.frames)-1]
		first, last, depth, limit := f.first, f.last, f.depth, f.limit

		for {
			if last-first <= _SS_INSERTIONSORT_THRESHOLD {
				this.ssInsertionSort(first, last, depth)
				break
			}

			if limit == 0 {
				this.ssHeapSort(first, last, depth)
				break
			}

			limit--
			v := this.ssPivot(first, last, depth)
			lt, i, gt := first, first, last

			for i < gt {
				if c := this.symbol(sa[i], depth); c < v {
					sa[lt], sa[i] = sa[i], sa[lt]
					lt++
					i++
				} else if c > v {
					gt--
					sa[gt], sa[i] = sa[i], sa[gt]
				} else {
					i++
				}
			}

			if lt-first > 1 {
				this.frames = append(this.frames, sortFrame{first, lt, depth, limit})
			}

			if last-gt > 1 {
				this.frames = append(this.frames, sortFrame{gt, last, depth, limit})
			}

			// Substrings ending at this depth are all equal
			if v < 0 || gt-lt < 2 {
				break
			}

			first, last, depth, limit = lt, gt, depth+1, introLimit(gt-lt)
		}
	}
}

func (this *DivSufSort) ssPivot(first, last, depth int32) int32 {
	sa := this.sa
	middle := first + (last-first)>>1

	if last-first < _SS_PIVOT_NINTHER {
		return median3(this.symbol(sa[first], depth), this.symbol(sa[middle], depth),
			this.symbol(sa[last-1], depth))
	}

	step := (last - first) >> 3
	v1 := median3(this.symbol(sa[first], depth), this.symbol(sa[first+step], depth),
		this.symbol(sa[first+2*step], depth))
	v2 := median3(this.symbol(sa[middle-step], depth), this.symbol(sa[middle], depth),
		this.symbol(sa[middle+step], depth))
	v3 := median3(this.symbol(sa[last-1-2*step], depth), this.symbol(sa[last-1-step], depth),
		this.symbol(sa[last-1], depth))
	return median3(v1, v2, v3)
}

func (this *DivSufSort) ssInsertionSort(first, last, depth int32) {
	sa := this.sa

	for i := first + 1; i < last; i++ {
		v := sa[i]
		j := i

		for j > first && this.ssCompare(sa[j-1], v, depth) > 0 {
			sa[j] = sa[j-1]
			j--
		}

		sa[j] = v
	}
}

func (this *DivSufSort) ssHeapSort(first, last, depth int32) {
	a := this.sa[first:last]
	size := int32(len(a))

	for i := size>>1 - 1; i >= 0; i-- {
		this.ssFixDown(a, i, size, depth)
	}

	for i := size - 1; i > 0; i-- {
		a[0], a[i] = a[i], a[0]
		this.ssFixDown(a, 0, i, depth)
	}
}

func (this *DivSufSort) ssFixDown(a []int32, i, size, depth int32) {
	v := a[i]

	for {
		j := 2*i + 1

		if j >= size {
			break
		}

		if j+1 < size && this.ssCompare(a[j], a[j+1], depth) < 0 {
			j++
		}

		if this.ssCompare(v, a[j], depth) >= 0 {
			break
		}

		a[i] = a[j]
		i = j
	}

	a[i] = v
}

// nameSubstrings groups the sorted B* ordinals of sa[0:m] with equal
// substrings. The rank of an ordinal is the last slot of its group and a
// group of one is settled. Returns the number of groups.
func (this *DivSufSort) nameSubstrings(m int32) int32 {
	sa, ranks := this.sa, this.ranks
	this.settled.reset(m)
	groups := int32(0)

	for first := int32(0); first < m; {
		last := first + 1

		for last < m && this.ssCompare(sa[first], sa[last], 0) == 0 {
			last++
		}

		for i := first; i < last; i++ {
			ranks[sa[i]] = last - 1
		}

		if last-first == 1 {
			this.settled.set(first)
		}

		groups++
		first = last
	}

	return groups
}

// trSort completes the order of the B* suffixes when some substrings are
// equal. The ranks form a string whose suffixes are sorted by prefix doubling
// (Larsson and Sadakane): at each round, every unsettled group is sorted by
// the rank found 'h' ordinals further, then split. Updated ranks are used
// right away by the groups that follow.
func (this *DivSufSort) trSort(m int32) {
	sa, ranks := this.sa, this.ranks
	budget := &trBudget{}

	for h := int32(1); ; h <<= 1 {
		if h >= m<<1 {
			panic(fmt.Errorf("Suffix rank sort did not converge: %d suffixes", m))
		}

		unsorted := int32(0)
		budget.reset(m)

		for first := this.settled.nextClear(0, m); first < m; first = this.settled.nextClear(first, m) {
			last := ranks[sa[first]] + 1
			unsorted += this.trRefine(first, last, h, budget)
			first = last
		}

		if unsorted == 0 {
			break
		}
	}
}

// trRefine sorts the group sa[first:last] by the ranks at distance 'h' and
// splits it. Returns the number of slots left in unsettled groups.
func (this *DivSufSort) trRefine(first, last, h int32, budget *trBudget) int32 {
	sa, ranks := this.sa, this.ranks
	m := int32(len(ranks))
	idx := sa[first:last]
	keys := this.keys[0 : last-first]
	same := true

	for i, k := range idx {
		keys[i] = -1

		if k+h < m {
			keys[i] = ranks[k+h]
		}

		same = same && keys[i] == keys[0]
	}

	// Nothing to split before a deeper round
	if same == true {
		return last - first
	}

	this.trIntroSort(idx, keys, budget)
	unsorted := int32(0)

	for a := 0; a < len(keys); {
		b := a + 1

		for b < len(keys) && keys[b] == keys[a] {
			b++
		}

		for _, k := range idx[a:b] {
			ranks[k] = first + int32(b) - 1
		}

		if b-a == 1 {
			this.settled.set(first + int32(a))
		} else {
			unsorted += int32(b - a)
		}

		a = b
	}

	return unsorted
}

// trIntroSort sorts 'idx' by 'keys' (moved together) with a three way
// quicksort. Partitions are heap sorted once the depth limit or the round
// budget is exhausted.
func (this *DivSufSort) trIntroSort(idx, keys []int32, budget *trBudget) {
	this.frames = append(this.frames[:0], sortFrame{0, int32(len(keys)), 0, introLimit(int32(len(keys)))})

	for len(this.frames) > 0 {
		f := this.frames[len(this.frames)-1]
		this.frames = this.frames[:len(this.frames)-1]
		first, last, limit := f.first, f.last, f.limit

		for last-first > 1 {
			if last-first <= _TR_INSERTIONSORT_THRESHOLD {
				trInsertionSort(idx[first:last], keys[first:last])
				break
			}

			if limit == 0 || budget.check(last-first) == false {
				trHeapSort(idx[first:last], keys[first:last])
				break
			}

			limit--
			lt, gt := trPartition(idx[first:last], keys[first:last], trPivot(keys[first:last]))
			lt += first
			gt += first

			// Keep the smaller side, the middle one is sorted
			if lt-first > last-gt {
				this.frames = append(this.frames, sortFrame{first, lt, 0, limit})
				first = gt
			} else {
				this.frames = append(this.frames, sortFrame{gt, last, 0, limit})
				last = lt
			}
		}
	}
}

func trPivot(keys []int32) int32 {
	n := int32(len(keys))
	middle := n >> 1

	if n < _SS_PIVOT_NINTHER {
		return median3(keys[0], keys[middle], keys[n-1])
	}

	step := n >> 3
	v1 := median3(keys[0], keys[step], keys[2*step])
	v2 := median3(keys[middle-step], keys[middle], keys[middle+step])
	v3 := median3(keys[n-1-2*step], keys[n-1-step], keys[n-1])
	return median3(v1, v2, v3)
}

// trPartition splits the keys around 'v' and returns the bounds of the
// keys equal to 'v'.
func trPartition(idx, keys []int32, v int32) (int32, int32) {
	lt, i, gt := 0, 0, len(keys)

	for i < gt {
		if keys[i] < v {
			keys[lt], keys[i] = keys[i], keys[lt]
			idx[lt], idx[i] = idx[i], idx[lt]
			lt++
			i++
		} else if keys[i] > v {
			gt--
			keys[gt], keys[i] = keys[i], keys[gt]
			idx[gt], idx[i] = idx[i], idx[gt]
		} else {
			i++
		}
	}

	return int32(lt), int32(gt)
}

func trInsertionSort(idx, keys []int32) {
	for i := 1; i < len(keys); i++ {
		k, v := keys[i], idx[i]
		j := i

		for j > 0 && keys[j-1] > k {
			keys[j] = keys[j-1]
			idx[j] = idx[j-1]
			j--
		}

		keys[j] = k
		idx[j] = v
	}
}

func trHeapSort(idx, keys []int32) {
	size := len(keys)

	for i := size>>1 - 1; i >= 0; i-- {
		trFixDown(idx, keys, i, size)
	}

	for i := size - 1; i > 0; i-- {
		keys[0], keys[i] = keys[i], keys[0]
		idx[0], idx[i] = idx[i], idx[0]
		trFixDown(idx, keys, 0, i)
	}
}

func trFixDown(idx, keys []int32, i, size int) {
	k, v := keys[i], idx[i]

	for {
		j := 2*i + 1

		if j >= size {
			break
		}

		if j+1 < size && keys[j] < keys[j+1] {
			j++
		}

		if k >= keys[j] {
			break
		}

		keys[i] = keys[j]
		idx[i] = idx[j]
		i = j
	}

	keys[i] = k
	idx[i] = v
}

// induce places the sorted B* suffixes at the head of their two byte buckets
// then derives the other B suffixes with a backward scan and the A suffixes
// with a forward scan.
func (this *DivSufSort) induce(n, m int32) {
	src, sa := this.text, this.sa

	// Sorted B* positions, before the slots are reused
	sorted := this.ranks[0:m]

	for r := int32(0); r < m; r++ {
		sorted[r] = this.bstar[sa[r]]
	}

	// Bucket c0 holds its A suffixes, then for each c1 >= c0 the B* suffixes
	// starting with c0c1 followed by the other B suffixes starting with c0c1.
	sum := int32(0)

	for c0 := 0; c0 < 256; c0++ {
		count := this.bucketA[c0]
		this.bucketA[c0] = sum
		sum += count

		for c1 := c0; c1 < 256; c1++ {
			idx := c0<<8 | c1
			count = this.bucketS[idx] + this.bucketB[idx]
			this.bucketS[idx] = sum
			sum += count
			this.bucketB[idx] = sum
		}
	}

	for i := range sa {
		sa[i] = _SA_EMPTY
	}

	for _, p := range sorted {
		idx := int(src[p])<<8 | int(src[p+1])
		sa[this.bucketS[idx]] = p
		this.bucketS[idx]++
	}

	// B suffixes, from the tail of their buckets
	for i := n - 1; i >= 0; i-- {
		j := sa[i]

		if j == _SA_EMPTY || j == 0 || this.typeB.has(j-1) == false {
			continue
		}

		idx := int(src[j-1])<<8 | int(src[j])
		this.bucketB[idx]--
		sa[this.bucketB[idx]] = j - 1
	}

	// A suffixes, from the head of their buckets. The last suffix is the
	// smallest one of its bucket.
	sa[this.bucketA[src[n-1]]] = n - 1
	this.bucketA[src[n-1]]++

	for i := int32(0); i < n; i++ {
		j := sa[i]

		if j == _SA_EMPTY || j == 0 || this.typeB.has(j-1) == true {
			continue
		}

		c := src[j-1]
		sa[this.bucketA[c]] = j - 1
		this.bucketA[c]++
	}
}

// trBudget bounds the partitioning work of one rank sort round. Groups met
// once it is spent are heap sorted.
type trBudget struct {
	remain int32
}

func (this *trBudget) reset(m int32) {
	this.remain = m * (ilg(m) + 1)
}

func (this *trBudget) check(size int32) bool {
	if size > this.remain {
		return false
	}

	this.remain -= size
	return true
}

// bitSet is a set of slot indexes
type bitSet []uint64

func (this *bitSet) reset(n int32) {
	words := int((n + 63) >> 6)

	if cap(*this) < words {
		*this = make([]uint64, words)
	}

	*this = (*this)[0:words]

	for i := range *this {
		(*this)[i] = 0
	}
}

func (this bitSet) set(i int32) {
	this[i>>6] |= 1 << uint(i&63)
}

func (this bitSet) has(i int32) bool {
	return this[i>>6]&(1<<uint(i&63)) != 0
}

// nextClear returns the first index in [i, n) not in the set, n if none
func (this bitSet) nextClear(i, n int32) int32 {
	for i < n {
		if w := ^this[i>>6] >> uint(i&63); w != 0 {
			if i += int32(bits.TrailingZeros64(w)); i < n {
				return i
			}

			return n
		}

		i = (i | 63) + 1
	}

	return n
}

func median3(a, b, c int32) int32 {
	if a > b {
		a, b = b, a
	}

	if b > c {
		b = c
	}

	if a > b {
		return a
	}

	return b
}

func ilg(n int32) int32 {
	return int32(bits.Len32(uint32(n))) - 1
}

func introLimit(size int32) int32 {
	return 2 * (ilg(size) + 1)
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}

	return b
}
