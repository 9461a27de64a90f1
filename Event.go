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
	"time"
)

const (
	EVT_COMPRESSION_START     = 0
	EVT_DECOMPRESSION_START   = 1
	EVT_BEFORE_TRANSFORM      = 2 // BWT and MTF/RLE2
	EVT_AFTER_TRANSFORM       = 3
	EVT_BEFORE_ENTROPY        = 4 // tree clustering and prefix coding
	EVT_AFTER_ENTROPY         = 5
	EVT_COMPRESSION_END       = 6
	EVT_DECOMPRESSION_END     = 7
	EVT_AFTER_HEADER_DECODING = 8
	EVT_BLOCK_INFO            = 9
)

// Event carries the progress of a compression or decompression. Block events
// report the block id, a size in bytes and the block CRC.
type Event struct {
	eventType int
	id        int
	size      int64
	crc       uint32
	hasCRC    bool
	eventTime time.Time
	msg       string
}

// NewEventFromString creates an event carrying a message
func NewEventFromString(evtType, id int, msg string, evtTime time.Time) *Event {
	if evtTime.IsZero() {
		evtTime = time.Now()
	}

	return &Event{eventType: evtType, id: id, size: 0, msg: msg, eventTime: evtTime}
}

// NewEvent creates an event. The CRC is only reported if 'hasCRC' is true.
func NewEvent(evtType, id int, size int64, crc uint32, hasCRC bool, evtTime time.Time) *Event {
	if evtTime.IsZero() {
		evtTime = time.Now()
	}

	return &Event{eventType: evtType, id: id, size: size, crc: crc,
		hasCRC: hasCRC, eventTime: evtTime}
}

func (this *Event) Type() int {
	return this.eventType
}

func (this *Event) Id() int {
	return this.id
}

func (this *Event) Time() time.Time {
	return this.eventTime
}

func (this *Event) Size() int64 {
	return this.size
}

func (this *Event) CRC() uint32 {
	return this.crc
}

func (this *Event) HasCRC() bool {
	return this.hasCRC
}

func (this *Event) String() string {
	if len(this.msg) > 0 {
		return this.msg
	}

	crc := ""
	t := ""
	id := ""

	if this.hasCRC == true {
		crc = fmt.Sprintf(", \"crc\": %08x", this.crc)
	}

	if this.id >= 0 {
		id = fmt.Sprintf(", \"id\": %d", this.id)
	}

	switch this.eventType {
	case EVT_BEFORE_TRANSFORM:
		t = "BEFORE_TRANSFORM"

	case EVT_AFTER_TRANSFORM:
		t = "AFTER_TRANSFORM"

	case EVT_BEFORE_ENTROPY:
		t = "BEFORE_ENTROPY"

	case EVT_AFTER_ENTROPY:
		t = "AFTER_ENTROPY"

	case EVT_COMPRESSION_START:
		t = "COMPRESSION_START"

	case EVT_DECOMPRESSION_START:
		t = "DECOMPRESSION_START"

	case EVT_COMPRESSION_END:
		t = "COMPRESSION_END"

	case EVT_DECOMPRESSION_END:
		t = "DECOMPRESSION_END"

	case EVT_AFTER_HEADER_DECODING:
		t = "AFTER_HEADER_DECODING"

	case EVT_BLOCK_INFO:
		t = "BLOCK_INFO"
	}

	return fmt.Sprintf("{ \"type\":\"%s\"%s, \"size\":%d, \"time\":%d%s }", t, id, this.size,
		this.eventTime.UnixNano()/1000000, crc)
}

// Listener receives the events of a compressed stream
type Listener interface {
	ProcessEvent(evt *Event)
}
