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

package main

import (
	"bytes"
	"compress/bzip2"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flanglet/kbzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) {
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
	require.NoError(t, os.WriteFile(name, data, 0644))
}

func sampleData(seed int64, size int) []byte {
	rnd := rand.New(rand.NewSource(seed))
	buf := make([]byte, size)

	for i := range buf {
		if i > 0 && rnd.Intn(3) == 0 {
			buf[i] = buf[i-1]
		} else {
			buf[i] = byte('a' + rnd.Intn(20))
		}
	}

	return buf
}

func compressArgs(input, output string) map[string]interface{} {
	return map[string]interface{}{
		"inputName":         input,
		"outputName":        output,
		"level":             uint(1),
		"jobs":              uint(2),
		"verbosity":         uint(0),
		"overwrite":         false,
		"verify":            false,
		"clusterIterations": uint(4),
	}
}

func decompressArgs(input, output string) map[string]interface{} {
	return map[string]interface{}{
		"inputName":  input,
		"outputName": output,
		"jobs":       uint(1),
		"verbosity":  uint(0),
		"overwrite":  false,
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	name := filepath.Join(dir, "kbzip2.toml")
	writeFile(t, name, []byte("level = 3\njobs = 8\nverify = true\ncluster_iterations = 2\n"))
	cfg, err = loadConfig(name)
	require.NoError(t, err)
	assert.Equal(t, uint(3), cfg.Level)
	assert.Equal(t, uint(8), cfg.Jobs)
	assert.Equal(t, uint(1), cfg.Verbosity)
	assert.True(t, cfg.Verify)
	assert.False(t, cfg.Force)
	assert.Equal(t, uint(2), cfg.ClusterIterations)

	writeFile(t, name, []byte("level = 3\nblock_size = 12\n"))
	_, err = loadConfig(name)
	assert.Error(t, err)

	writeFile(t, name, []byte("level = 12\n"))
	_, err = loadConfig(name)
	assert.Error(t, err)

	writeFile(t, name, []byte("cluster_iterations = 0\n"))
	_, err = loadConfig(name)
	assert.Error(t, err)

	writeFile(t, name, []byte("level = \"fast\"\n"))
	_, err = loadConfig(name)
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestDecompressedName(t *testing.T) {
	assert.Equal(t, "file.txt", decompressedName("file.txt.bz2"))
	assert.Equal(t, "dir/FILE", decompressedName("dir/FILE.BZ2"))
	assert.Equal(t, "file.dat.out", decompressedName("file.dat"))
	assert.Equal(t, ".bz2.out", decompressedName(".bz2"))
}

func TestCreateFileList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), []byte("b"))
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("aa"))
	writeFile(t, filepath.Join(dir, ".hidden"), []byte("h"))
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), []byte("ccc"))

	files, err := createFileList(dir, nil)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "a.txt"), files[0].Path)
	assert.Equal(t, int64(2), files[0].Size)

	// No recursion
	files, err = createFileList(dir+string(os.PathSeparator)+".", nil)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = createFileList(filepath.Join(dir, "b.txt"), nil)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = createFileList(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}

func TestCompressDecompressFile(t *testing.T) {
	dir := t.TempDir()
	data := sampleData(1, 250000)
	input := filepath.Join(dir, "data.txt")
	writeFile(t, input, data)

	require.Equal(t, 0, compress(compressArgs(input, "")))
	compressed, err := os.ReadFile(input + ".bz2")
	require.NoError(t, err)
	assert.Equal(t, "BZh1", string(compressed[0:4]))

	// Readable by the standard library
	output, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(compressed)))
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, output))

	// Existing output is not overwritten without --force
	assert.Equal(t, kbzip2.ERR_OVERWRITE_FILE, compress(compressArgs(input, "")))
	args := compressArgs(input, "")
	args["overwrite"] = true
	args["verify"] = true
	assert.Equal(t, 0, compress(args))

	require.NoError(t, os.Remove(input))
	require.Equal(t, 0, decompress(decompressArgs(input+".bz2", "")))
	output, err = os.ReadFile(input)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, output))

	// Integrity test
	args = decompressArgs(input+".bz2", _NAME_NONE)
	assert.Equal(t, 0, decompress(args))
}

func TestCompressDirectory(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	restored := t.TempDir()
	contents := map[string][]byte{
		"one.txt":                       sampleData(2, 1000),
		"two.txt":                       sampleData(3, 120000),
		filepath.Join("x", "three.txt"): sampleData(4, 5),
		"empty.txt":                     {},
	}

	for name, data := range contents {
		writeFile(t, filepath.Join(src, name), data)
	}

	// Overwrite allows the creation of missing sub directories
	args := compressArgs(src, dst)
	args["jobs"] = uint(3)
	args["overwrite"] = true
	require.Equal(t, 0, compress(args))
	args = decompressArgs(dst, restored)
	args["overwrite"] = true
	require.Equal(t, 0, decompress(args))

	for name, data := range contents {
		output, err := os.ReadFile(filepath.Join(restored, name))
		require.NoError(t, err, name)
		assert.True(t, bytes.Equal(data, output), name)
	}
}

func TestDecompressErrors(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.txt")
	writeFile(t, plain, []byte("this is not a bzip2 file"))
	assert.Equal(t, kbzip2.ERR_INVALID_FILE, decompress(decompressArgs(plain, "")))

	data := sampleData(5, 20000)
	input := filepath.Join(dir, "data")
	writeFile(t, input, data)
	require.Equal(t, 0, compress(compressArgs(input, "")))
	compressed, err := os.ReadFile(input + ".bz2")
	require.NoError(t, err)

	// Corrupted block: error code from the stream, no partial output left
	compressed[len(compressed)/2] ^= 0x20
	corrupted := filepath.Join(dir, "corrupted.bz2")
	writeFile(t, corrupted, compressed)
	code := decompress(decompressArgs(corrupted, ""))
	assert.NotEqual(t, 0, code)
	_, err = os.Stat(filepath.Join(dir, "corrupted"))
	assert.True(t, os.IsNotExist(err))

	// Truncated
	truncated := filepath.Join(dir, "truncated.bz2")
	writeFile(t, truncated, compressed[0:40])
	assert.Equal(t, kbzip2.ERR_INVALID_FILE, decompress(decompressArgs(truncated, _NAME_NONE)))

	assert.Equal(t, kbzip2.ERR_OPEN_FILE, decompress(decompressArgs(filepath.Join(dir, "missing.bz2"), "")))
}

func TestInvalidCompressorArgs(t *testing.T) {
	args := compressArgs("in", "out")
	args["level"] = uint(0)
	_, err := NewBlockCompressor(args)
	assert.Error(t, err)

	args = compressArgs("in", "out")
	args["clusterIterations"] = uint(17)
	_, err = NewBlockCompressor(args)
	assert.Error(t, err)

	args = compressArgs("in", "out")
	args["jobs"] = uint(1000)
	bc, err := NewBlockCompressor(args)
	require.NoError(t, err)
	assert.Equal(t, uint(_MAX_JOBS), bc.jobs)
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "data")
	writeFile(t, input, sampleData(6, 230000))
	require.Equal(t, 0, compress(compressArgs(input, "")))

	var out bytes.Buffer
	require.Equal(t, 0, inspect(input+".bz2", &out))
	report := out.String()
	assert.Contains(t, report, "1 stream(s), 3 block(s)")
	assert.Contains(t, report, "SELECTORS")

	out.Reset()
	assert.Equal(t, kbzip2.ERR_INVALID_FILE, inspect(input, &out))
}

func TestInfoPrinter(t *testing.T) {
	var out bytes.Buffer
	ip, err := NewInfoPrinter(4, ENCODING, &out)
	require.NoError(t, err)
	now := time.Now()
	ip.ProcessEvent(kbzip2.NewEvent(kbzip2.EVT_COMPRESSION_START, -1, 0, 0, false, now))
	ip.ProcessEvent(kbzip2.NewEvent(kbzip2.EVT_BEFORE_TRANSFORM, 1, 1000, 0xCAFE, true, now))
	ip.ProcessEvent(kbzip2.NewEvent(kbzip2.EVT_AFTER_TRANSFORM, 1, 900, 0xCAFE, true, now))
	ip.ProcessEvent(kbzip2.NewEvent(kbzip2.EVT_AFTER_ENTROPY, 1, 250, 0xCAFE, true, now))
	ip.ProcessEvent(kbzip2.NewEvent(kbzip2.EVT_COMPRESSION_END, -1, 264, 0, false, now))
	report := out.String()
	assert.Contains(t, report, "Block 1: 1000 => 900 => 250")
	assert.Contains(t, report, "(25%)")
	assert.Contains(t, report, "0000cafe")
	assert.Contains(t, report, "AFTER RLE1")

	_, err = NewInfoPrinter(1, DECODING, nil)
	assert.Error(t, err)
}

func TestCommandLine(t *testing.T) {
	dir := t.TempDir()
	data := sampleData(7, 50000)
	input := filepath.Join(dir, "cli.txt")
	writeFile(t, input, data)
	config := filepath.Join(dir, "kbzip2.toml")
	writeFile(t, config, []byte("level = 2\nverbosity = 0\nverify = true\n"))

	require.NoError(t, newApp().Run([]string{APP_NAME, "compress", "-i", input, "--config", config}))
	compressed, err := os.ReadFile(input + ".bz2")
	require.NoError(t, err)
	assert.Equal(t, "BZh2", string(compressed[0:4]))

	require.NoError(t, newApp().Run([]string{APP_NAME, "compress", "--fast", "-f", "-v", "0", "-i", input}))
	compressed, err = os.ReadFile(input + ".bz2")
	require.NoError(t, err)
	assert.Equal(t, "BZh1", string(compressed[0:4]))

	require.NoError(t, newApp().Run([]string{APP_NAME, "test", "-v", "0", "-i", input + ".bz2"}))
	output := filepath.Join(dir, "restored.txt")
	require.NoError(t, newApp().Run([]string{APP_NAME, "decompress", "-v", "0", "-i", input + ".bz2", "-o", output}))
	restored, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}
