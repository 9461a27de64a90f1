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
	"fmt"
	"io"
	"strings"

	"github.com/flanglet/kbzip2"
	"github.com/flanglet/kbzip2/block"
	kio "github.com/flanglet/kbzip2/io"
	"github.com/olekukonko/tablewriter"
)

type streamBlock struct {
	stream int
	level  uint
	info   block.BlockInfo
}

// blockCollector records the structured description of each block decoded
// by a stream.
type blockCollector struct {
	cis    *kio.CompressedInputStream
	blocks []streamBlock
}

func (this *blockCollector) ProcessEvent(evt *kbzip2.Event) {
	if evt.Type() != kbzip2.EVT_BLOCK_INFO {
		return
	}

	this.blocks = append(this.blocks, streamBlock{
		stream: this.cis.Streams() + 1,
		level:  this.cis.Level(),
		info:   this.cis.BlockInfo(),
	})
}

// inspect decodes every file found at 'inputName' and writes a table
// describing their blocks to 'writer'.
func inspect(inputName string, writer io.Writer) int {
	names := []string{_NAME_STDIN}

	if strings.ToUpper(inputName) != _NAME_STDIN {
		files, err := createFileList(inputName, make([]FileData, 0, 16))

		if err != nil {
			printError("Cannot access input '%v': %v", inputName, err)
			return kbzip2.ERR_OPEN_FILE
		}

		if len(files) == 0 {
			printError("Cannot open input file '%v'", inputName)
			return kbzip2.ERR_OPEN_FILE
		}

		names = names[:0]

		for _, f := range files {
			names = append(names, f.Path)
		}
	}

	for _, name := range names {
		if code := inspectFile(name, writer); code != 0 {
			return code
		}
	}

	return 0
}

func inspectFile(inputName string, writer io.Writer) int {
	input, closeInput, code, err := openCompressedInput(inputName)

	if err != nil {
		printError("%v", err)
		return code
	}

	defer closeInput()
	cis, err := kio.NewCompressedInputStream(input)

	if err != nil {
		printError("Cannot create decompressed stream: %v", err)
		return ioErrorCode(err, kbzip2.ERR_CREATE_DECOMPRESSOR)
	}

	defer cis.Close()
	collector := &blockCollector{cis: cis, blocks: make([]streamBlock, 0)}
	cis.AddListener(collector)
	decoded, err := io.Copy(io.Discard, cis)
	fmt.Fprintf(writer, "%s: %d stream(s), %d block(s), %d => %d bytes\n", inputName, cis.Streams(),
		len(collector.blocks), cis.GetRead(), decoded)

	if len(collector.blocks) > 0 {
		renderBlocks(collector.blocks, writer)
	}

	if err != nil {
		printError("Failed to decompress '%v': %v", inputName, err)
		return ioErrorCode(err, kbzip2.ERR_PROCESS_BLOCK)
	}

	return 0
}

func renderBlocks(blocks []streamBlock, writer io.Writer) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader([]string{"Stream", "Level", "Block", "CRC", "Orig Ptr", "Rand", "Bytes Used",
		"Alphabet", "Trees", "Selectors", "Size", "Compressed", "Bits/Byte"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, b := range blocks {
		bpb := "-"

		if b.info.RawSize > 0 {
			bpb = fmt.Sprintf("%.3f", float64(b.info.Bits)/float64(b.info.RawSize))
		}

		table.Append([]string{
			fmt.Sprintf("%d", b.stream),
			fmt.Sprintf("%d", b.level),
			fmt.Sprintf("%d", b.info.Id+1),
			fmt.Sprintf("%08x", b.info.CRC),
			fmt.Sprintf("%d", b.info.PrimaryIndex),
			fmt.Sprintf("%t", b.info.Randomized),
			fmt.Sprintf("%d", b.info.InUse),
			fmt.Sprintf("%d", b.info.AlphaSize),
			fmt.Sprintf("%d", b.info.Trees),
			fmt.Sprintf("%d", b.info.Selectors),
			fmt.Sprintf("%d", b.info.RawSize),
			fmt.Sprintf("%d", (b.info.Bits+7)>>3),
			bpb,
		})
	}

	table.Render()
}
