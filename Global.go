/*
Copyright 2011-2017 Frederic Langlet
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

package kbzip2

import (
	"fmt"
)

// BlockSizeForLevel returns the max block size (after first stage run
// length coding) for a compression level in [1..9]
func BlockSizeForLevel(level uint) (uint, error) {
	if level < MIN_LEVEL || level > MAX_LEVEL {
		return 0, fmt.Errorf("Invalid compression level: %d (must be in [%d..%d])", level, MIN_LEVEL, MAX_LEVEL)
	}

	return level * BLOCK_SIZE_UNIT, nil
}

// ComputeJobsPerTask computes the number of jobs associated with each task
// given a number of jobs available and a number of tasks to perform.
// The provided 'jobsPerTask' slice is returned as result.
func ComputeJobsPerTask(jobsPerTask []uint, jobs, tasks uint) []uint {
	if tasks == 0 {
		panic("Invalid number of tasks provided: 0")
	}

	if jobs == 0 {
		panic("Invalid number of jobs provided: 0")
	}

	var q, r uint

	if jobs <= tasks {
		q = 1
		r = 0
	} else {
		q = jobs / tasks
		r = jobs - q*tasks
	}

	for i := range jobsPerTask {
		jobsPerTask[i] = q
	}

	n := uint(0)

	for r != 0 {
		jobsPerTask[n]++
		r--
		n++

		if n == tasks {
			n = 0
		}
	}

	return jobsPerTask
}
