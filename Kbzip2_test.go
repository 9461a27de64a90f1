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

package kbzip2

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockSizeForLevel(t *testing.T) {
	for level := uint(MIN_LEVEL); level <= MAX_LEVEL; level++ {
		size, err := BlockSizeForLevel(level)
		require.NoError(t, err)
		assert.Equal(t, level*100000, size)
	}

	_, err := BlockSizeForLevel(0)
	assert.Error(t, err)
	_, err = BlockSizeForLevel(10)
	assert.Error(t, err)
}

func TestComputeJobsPerTask(t *testing.T) {
	assert.Equal(t, []uint{1, 1, 1, 1}, ComputeJobsPerTask(make([]uint, 4), 2, 4))
	assert.Equal(t, []uint{3, 3, 2}, ComputeJobsPerTask(make([]uint, 3), 8, 3))
	assert.Equal(t, []uint{5}, ComputeJobsPerTask(make([]uint, 1), 5, 1))
	assert.Panics(t, func() { ComputeJobsPerTask(make([]uint, 1), 0, 1) })
	assert.Panics(t, func() { ComputeJobsPerTask(make([]uint, 1), 1, 0) })
}

func TestGetMagicType(t *testing.T) {
	assert.Equal(t, uint(BZIP2_MAGIC), GetMagicType([]byte("BZh91AY&SY")))
	assert.Equal(t, uint(BZIP2_MAGIC), GetMagicType([]byte("BZh1")))
	assert.Equal(t, uint(NO_MAGIC), GetMagicType([]byte("BZh0")))
	assert.Equal(t, uint(NO_MAGIC), GetMagicType([]byte("BZh")))
	assert.Equal(t, uint(GZIP_MAGIC), GetMagicType([]byte{0x1F, 0x8B, 0x08, 0x00}))
	assert.Equal(t, uint(PNG_MAGIC), GetMagicType([]byte{0x89, 'P', 'N', 'G', 0x0D}))
	assert.Equal(t, uint(NO_MAGIC), GetMagicType([]byte("hello world")))
	assert.Equal(t, uint(NO_MAGIC), GetMagicType(nil))
}

func TestIsCompressed(t *testing.T) {
	assert.True(t, IsCompressed(BZIP2_MAGIC))
	assert.True(t, IsCompressed(ZSTD_MAGIC))
	assert.True(t, IsCompressed(JPG_MAGIC|0x01))
	assert.False(t, IsCompressed(NO_MAGIC))
	assert.False(t, IsCompressed(ELF_MAGIC))
}

func TestEvent(t *testing.T) {
	now := time.Now()
	evt := NewEvent(EVT_AFTER_ENTROPY, 3, 1234, 0xDEADBEEF, true, now)
	assert.Equal(t, EVT_AFTER_ENTROPY, evt.Type())
	assert.Equal(t, 3, evt.Id())
	assert.Equal(t, int64(1234), evt.Size())
	assert.Equal(t, uint32(0xDEADBEEF), evt.CRC())
	assert.True(t, evt.HasCRC())
	assert.Equal(t, now, evt.Time())
	str := evt.String()
	assert.True(t, strings.Contains(str, "AFTER_ENTROPY"), str)
	assert.True(t, strings.Contains(str, "deadbeef"), str)
	assert.True(t, strings.Contains(str, "\"size\":1234"), str)

	evt = NewEventFromString(EVT_BLOCK_INFO, 1, "Block 1: crc=0", time.Time{})
	assert.Equal(t, "Block 1: crc=0", evt.String())
	assert.False(t, evt.Time().IsZero())
	assert.False(t, evt.HasCRC())
}
