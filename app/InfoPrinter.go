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
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/flanglet/kbzip2"
	"github.com/olekukonko/tablewriter"
)

// An implementation of Listener to display block information (verbose option
// of the BlockCompressor/BlockDecompressor)

const (
	ENCODING = 0
	DECODING = 1
)

type BlockInfo struct {
	time0      time.Time
	time1      time.Time
	stage0Size int64
	stage1Size int64
}

type blockRow struct {
	id       int
	rawSize  int64
	rle1Size int64
	outSize  int64
	duration int64
	crc      uint32
}

type InfoPrinter struct {
	writer     io.Writer
	type_      uint
	map_       map[int]BlockInfo
	rows       []blockRow
	thresholds []int
	lock       sync.RWMutex
	level      uint
}

func NewInfoPrinter(infoLevel, type_ uint, writer io.Writer) (*InfoPrinter, error) {
	if writer == nil {
		return nil, errors.New("Invalid null writer parameter")
	}

	this := new(InfoPrinter)
	this.type_ = type_ & 1
	this.level = infoLevel
	this.writer = writer
	this.map_ = make(map[int]BlockInfo)
	this.rows = make([]blockRow, 0)

	if this.type_ == ENCODING {
		this.thresholds = []int{
			kbzip2.EVT_COMPRESSION_START,
			kbzip2.EVT_BEFORE_TRANSFORM,
			kbzip2.EVT_AFTER_TRANSFORM,
			kbzip2.EVT_AFTER_ENTROPY,
			kbzip2.EVT_COMPRESSION_END,
		}
	} else {
		this.thresholds = []int{
			kbzip2.EVT_DECOMPRESSION_START,
			kbzip2.EVT_BLOCK_INFO,
			kbzip2.EVT_AFTER_TRANSFORM,
			kbzip2.EVT_AFTER_TRANSFORM,
			kbzip2.EVT_DECOMPRESSION_END,
		}
	}

	return this, nil
}

func (this *InfoPrinter) ProcessEvent(evt *kbzip2.Event) {
	if this.type_ == ENCODING {
		this.processEncodingEvent(evt)
	} else {
		this.processDecodingEvent(evt)
	}
}

func (this *InfoPrinter) processEncodingEvent(evt *kbzip2.Event) {
	currentBlockId := evt.Id()

	switch evt.Type() {
	case this.thresholds[1]:
		// Register initial block size
		this.lock.Lock()
		this.map_[currentBlockId] = BlockInfo{time0: evt.Time(), stage0Size: evt.Size()}
		this.lock.Unlock()

		if this.level >= 5 {
			fmt.Fprintln(this.writer, evt)
		}

	case this.thresholds[2]:
		this.lock.Lock()
		bi, exists := this.map_[currentBlockId]

		if exists == true {
			bi.time1 = evt.Time()
			bi.stage1Size = evt.Size()
			this.map_[currentBlockId] = bi
		}

		this.lock.Unlock()

		if exists == true && this.level >= 5 {
			durationMS := bi.time1.Sub(bi.time0).Nanoseconds() / int64(time.Millisecond)
			fmt.Fprintln(this.writer, fmt.Sprintf("%s [%d ms]", evt, durationMS))
		}

	case this.thresholds[3]:
		this.lock.Lock()
		bi, exists := this.map_[currentBlockId]

		if exists == true {
			delete(this.map_, currentBlockId)
		}

		this.lock.Unlock()

		if exists == false || this.level < 4 {
			return
		}

		row := blockRow{
			id:       currentBlockId,
			rawSize:  bi.stage0Size,
			rle1Size: bi.stage1Size,
			outSize:  evt.Size(),
			duration: bi.time1.Sub(bi.time0).Nanoseconds() / int64(time.Millisecond),
			crc:      evt.CRC(),
		}

		this.lock.Lock()
		this.rows = append(this.rows, row)
		this.lock.Unlock()

		if this.level >= 5 {
			fmt.Fprintln(this.writer, evt)
		}

		msg := fmt.Sprintf("Block %d: %d => %d => %d [%d ms]", row.id, row.rawSize, row.rle1Size,
			row.outSize, row.duration)

		if row.rawSize != 0 {
			msg += fmt.Sprintf(" (%d%%)", uint64(row.outSize)*100/uint64(row.rawSize))
		}

		if evt.HasCRC() == true {
			msg += fmt.Sprintf("  [%08x]", evt.CRC())
		}

		fmt.Fprintln(this.writer, msg)

	case this.thresholds[4]:
		if this.level >= 4 {
			this.renderSummary()
		}

	default:
		if this.level >= 5 {
			fmt.Fprintln(this.writer, evt)
		}
	}
}

func (this *InfoPrinter) processDecodingEvent(evt *kbzip2.Event) {
	switch evt.Type() {
	case kbzip2.EVT_AFTER_HEADER_DECODING:
		if this.level >= 3 {
			fmt.Fprintln(this.writer, evt)
		}

	case this.thresholds[1]:
		if this.level >= 4 {
			fmt.Fprintln(this.writer, evt)
		}

	case this.thresholds[2]:
		if this.level >= 5 {
			fmt.Fprintln(this.writer, evt)
		}

	default:
		if this.level >= 5 {
			fmt.Fprintln(this.writer, evt)
		}
	}
}

// renderSummary prints one row per block compressed since the last summary
func (this *InfoPrinter) renderSummary() {
	this.lock.Lock()
	rows := this.rows
	this.rows = make([]blockRow, 0)
	this.lock.Unlock()

	if len(rows) == 0 {
		return
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })
	table := tablewriter.NewWriter(this.writer)
	table.SetHeader([]string{"Block", "Input", "After RLE1", "Output", "Ratio", "Time (ms)", "CRC"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	var totalIn, totalOut int64

	for _, r := range rows {
		ratio := "-"

		if r.rawSize > 0 {
			ratio = fmt.Sprintf("%.3f", float64(r.outSize)/float64(r.rawSize))
		}

		table.Append([]string{
			fmt.Sprintf("%d", r.id),
			fmt.Sprintf("%d", r.rawSize),
			fmt.Sprintf("%d", r.rle1Size),
			fmt.Sprintf("%d", r.outSize),
			ratio,
			fmt.Sprintf("%d", r.duration),
			fmt.Sprintf("%08x", r.crc),
		})

		totalIn += r.rawSize
		totalOut += r.outSize
	}

	table.SetFooter([]string{"", fmt.Sprintf("%d", totalIn), "", fmt.Sprintf("%d", totalOut), "", "", ""})
	table.Render()
}
