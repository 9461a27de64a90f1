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

package util

// A Lyndon word is strictly smaller than all its proper rotations, so the
// suffixes of a block rotated to start with its least rotation sort in the
// same order as the rotations themselves.

// LeastRotation returns the start of the lexicographically smallest rotation
// of 'buf'. For periodic inputs the first occurrence is returned.
func LeastRotation(buf []byte) int {
	n := len(buf)

	if n < 2 {
		return 0
	}

	res := 0
	k := 0

	// Factorize buf.buf virtually: the last factor starting before n is
	// the least rotation.
	for k < n {
		res = k
		i := k
		j := k + 1

		for j < 2*n {
			a := buf[i%n]
			b := buf[j%n]

			if a > b {
				break
			}

			if a < b {
				i = k
			} else {
				i++
			}

			j++
		}

		for k <= i {
			k += j - i
		}
	}

	return res
}
