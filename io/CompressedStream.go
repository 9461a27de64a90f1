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

package io

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/flanglet/kbzip2"
	"github.com/flanglet/kbzip2/bitstream"
	"github.com/flanglet/kbzip2/block"
	"github.com/flanglet/kbzip2/util/hash"
	"golang.org/x/sync/errgroup"
)

// Write to/read from bzip2 streams.
// Encoding: raw bytes are collected into blocks (first stage run length
// coding) which are compressed concurrently, up to 'jobs' at a time, then
// appended to the stream in order. Block outputs are not byte aligned.
// Decoding: compressed bytes are fed to a resumable block decoder, one chunk
// at a time. Concatenated streams are decoded as one.

const (
	_STREAM_DEFAULT_BUFFER_SIZE = 256 * 1024
	_MIN_READ_BUFFER_SIZE       = 1
	_DEFAULT_LEVEL              = 9
	_MAX_CONCURRENCY            = 64
)

// IOError an extended error containing a message and a code value
type IOError struct {
	msg  string
	code int
	err  error
}

// Error returns the underlying error
func (this IOError) Error() string {
	return fmt.Sprintf("%v (code %v)", this.msg, this.code)
}

// Message returns the message string associated with the error
func (this IOError) Message() string {
	return this.msg
}

// ErrorCode returns the code value associated with the error
func (this IOError) ErrorCode() int {
	return this.code
}

// Unwrap returns the error that caused this one, if any
func (this IOError) Unwrap() error {
	return this.err
}

// encodedBlock holds the compressed bits of one block
type encodedBlock struct {
	buf  []byte
	bits uint
}

// CompressedOutputStream a Writer that writes a bzip2 stream
// to an OutputBitStream.
type CompressedOutputStream struct {
	level       uint
	obs         kbzip2.OutputBitStream
	collector   *block.Collector
	pending     []*block.Block
	encoders    []*block.BlockEncoder
	outputs     []encodedBlock
	combinedCRC uint32
	initialized int32
	closed      int32
	jobs        int
	listeners   []kbzip2.Listener
	ctx         map[string]interface{}
	err         error
}

type encodingTask struct {
	encoder   *block.BlockEncoder
	block     *block.Block
	output    *encodedBlock
	listeners []kbzip2.Listener
}

// NewCompressedOutputStream creates a new instance of CompressedOutputStream
func NewCompressedOutputStream(os io.WriteCloser, level, jobs uint) (*CompressedOutputStream, error) {
	ctx := make(map[string]interface{})
	ctx["level"] = level
	ctx["jobs"] = jobs
	return NewCompressedOutputStreamWithCtx(os, ctx)
}

// NewCompressedOutputStreamWithCtx creates a new instance of CompressedOutputStream using a
// map of parameters. Keys: 'level' (uint, default 9), 'jobs' (uint, default 1)
// and 'clusterIterations' (uint).
func NewCompressedOutputStreamWithCtx(os io.WriteCloser, ctx map[string]interface{}) (*CompressedOutputStream, error) {
	if os == nil {
		return nil, &IOError{msg: "Invalid null writer parameter", code: kbzip2.ERR_CREATE_STREAM}
	}

	if ctx == nil {
		return nil, &IOError{msg: "Invalid null context parameter", code: kbzip2.ERR_CREATE_STREAM}
	}

	level := uint(_DEFAULT_LEVEL)

	if val, containsKey := ctx["level"]; containsKey {
		level = val.(uint)
	}

	tasks := uint(1)

	if val, containsKey := ctx["jobs"]; containsKey {
		tasks = val.(uint)
	}

	if tasks == 0 || tasks > _MAX_CONCURRENCY {
		errMsg := fmt.Sprintf("The number of jobs must be in [1..%v]", _MAX_CONCURRENCY)
		return nil, &IOError{msg: errMsg, code: kbzip2.ERR_CREATE_STREAM}
	}

	this := new(CompressedOutputStream)
	var err error

	if this.collector, err = block.NewCollector(level); err != nil {
		return nil, &IOError{msg: err.Error(), code: kbzip2.ERR_CREATE_STREAM, err: err}
	}

	if this.obs, err = bitstream.NewDefaultOutputBitStream(os, _STREAM_DEFAULT_BUFFER_SIZE); err != nil {
		return nil, &IOError{msg: err.Error(), code: kbzip2.ERR_CREATE_BITSTREAM, err: err}
	}

	this.level = level
	this.jobs = int(tasks)
	this.encoders = make([]*block.BlockEncoder, this.jobs)
	this.outputs = make([]encodedBlock, this.jobs)
	this.pending = make([]*block.Block, 0, this.jobs)

	for i := range this.encoders {
		if this.encoders[i], err = block.NewBlockEncoderWithCtx(&ctx); err != nil {
			return nil, &IOError{msg: err.Error(), code: kbzip2.ERR_CREATE_COMPRESSOR, err: err}
		}
	}

	this.listeners = make([]kbzip2.Listener, 0)
	this.ctx = ctx
	return this, nil
}

// AddListener adds an event listener to this output stream.
// Returns true if the listener has been added.
func (this *CompressedOutputStream) AddListener(bl kbzip2.Listener) bool {
	if bl == nil {
		return false
	}

	this.listeners = append(this.listeners, bl)
	return true
}

// RemoveListener removes an event listener from this output stream.
// Returns true if the listener has been removed.
func (this *CompressedOutputStream) RemoveListener(bl kbzip2.Listener) bool {
	return removeListener(&this.listeners, bl)
}

func removeListener(listeners *[]kbzip2.Listener, bl kbzip2.Listener) bool {
	if bl == nil {
		return false
	}

	for i, e := range *listeners {
		if e == bl {
			*listeners = append((*listeners)[:i], (*listeners)[i+1:]...)
			return true
		}
	}

	return false
}

func (this *CompressedOutputStream) writeHeader() {
	if atomic.SwapInt32(&this.initialized, 1) == 0 {
		block.WriteStreamHeader(this.obs, this.level)
	}
}

// Write writes len(block) bytes from block to the underlying data stream.
// It returns the number of bytes written from block (0 <= n <= len(block)) and
// any error encountered that caused the write to stop early.
func (this *CompressedOutputStream) Write(buf []byte) (n int, err error) {
	if atomic.LoadInt32(&this.closed) == 1 {
		return 0, &IOError{msg: "Stream closed", code: kbzip2.ERR_WRITE_FILE}
	}

	if this.err != nil {
		return 0, this.err
	}

	defer func() {
		if r := recover(); r != nil {
			err = this.fail(r)
		}
	}()

	this.writeHeader()
	remaining := buf

	for len(remaining) > 0 {
		n, full := this.collector.Collect(remaining)
		remaining = remaining[n:]

		if full == false {
			continue
		}

		this.pending = append(this.pending, this.collector.Finish())

		if len(this.pending) < this.jobs {
			continue
		}

		if err := this.processBlocks(); err != nil {
			return len(buf) - len(remaining), err
		}
	}

	return len(buf), nil
}

// Close writes the buffered data and the stream trailer to the output stream
// then releases resources. The underlying writer is not closed.
// Close makes the bitstream unavailable for further writes. Idempotent.
// After a failed write, no trailer is written and Close returns the error.
func (this *CompressedOutputStream) Close() (err error) {
	if atomic.SwapInt32(&this.closed, 1) == 1 {
		return this.err
	}

	if this.err != nil {
		return this.err
	}

	defer func() {
		if r := recover(); r != nil {
			err = this.fail(r)
		}
	}()

	this.writeHeader()

	if this.collector.Empty() == false {
		this.pending = append(this.pending, this.collector.Finish())
	}

	if err := this.processBlocks(); err != nil {
		return err
	}

	block.WriteStreamTrailer(this.obs, this.combinedCRC)

	if _, err := this.obs.Close(); err != nil {
		return this.fail(err)
	}

	// Release resources
	this.pending = nil
	this.outputs = nil
	this.encoders = nil
	return nil
}

// processBlocks compresses the pending blocks concurrently then appends
// them to the bitstream in block order.
func (this *CompressedOutputStream) processBlocks() error {
	if len(this.pending) == 0 {
		return nil
	}

	// Protect against future concurrent modification of the list of block listeners
	listeners := make([]kbzip2.Listener, len(this.listeners))
	copy(listeners, this.listeners)
	var group errgroup.Group

	for i, blk := range this.pending {
		task := encodingTask{
			encoder:   this.encoders[i],
			block:     blk,
			output:    &this.outputs[i],
			listeners: listeners,
		}

		group.Go(task.encode)
	}

	err := group.Wait()

	if err != nil {
		this.pending = this.pending[:0]
		return this.fail(err)
	}

	for i, blk := range this.pending {
		out := &this.outputs[i]
		this.obs.WriteArray(out.buf, out.bits)
		this.combinedCRC = hash.CombineCRC(this.combinedCRC, blk.CRC)

		if len(listeners) > 0 {
			evt := kbzip2.NewEvent(kbzip2.EVT_AFTER_ENTROPY, blk.Id+1,
				int64(len(out.buf)), blk.CRC, true, time.Now())
			notifyListeners(listeners, evt)
		}
	}

	this.pending = this.pending[:0]
	return nil
}

// fail records the first error of the stream. A stream that failed
// rejects further writes.
func (this *CompressedOutputStream) fail(r interface{}) error {
	if this.err != nil {
		return this.err
	}

	switch e := r.(type) {
	case *IOError:
		this.err = e
	case error:
		this.err = &IOError{msg: e.Error(), code: kbzip2.ERR_WRITE_FILE, err: e}
	default:
		this.err = &IOError{msg: fmt.Sprintf("%v", r), code: kbzip2.ERR_WRITE_FILE}
	}

	return this.err
}

// GetWritten returns the number of bytes written so far
func (this *CompressedOutputStream) GetWritten() uint64 {
	return (this.obs.Written() + 7) >> 3
}

func (this *encodingTask) encode() (res error) {
	defer func() {
		if r := recover(); r != nil {
			res = &IOError{msg: fmt.Sprintf("%v", r), code: kbzip2.ERR_PROCESS_BLOCK}
		}
	}()

	blk := this.block

	if len(this.listeners) > 0 {
		evt := kbzip2.NewEvent(kbzip2.EVT_BEFORE_TRANSFORM, blk.Id+1,
			int64(blk.RawSize), blk.CRC, true, time.Now())
		notifyListeners(this.listeners, evt)
	}

	this.encoder.Reset()
	buf, bits, err := this.encoder.Encode(blk, this.output.buf)

	if err != nil {
		return &IOError{msg: err.Error(), code: kbzip2.ERR_PROCESS_BLOCK, err: err}
	}

	this.output.buf = buf
	this.output.bits = bits

	if len(this.listeners) > 0 {
		stats := this.encoder.Stats()
		evt := kbzip2.NewEvent(kbzip2.EVT_AFTER_TRANSFORM, blk.Id+1,
			int64(stats.Size), blk.CRC, true, time.Now())
		notifyListeners(this.listeners, evt)
	}

	return nil
}

func notifyListeners(listeners []kbzip2.Listener, evt *kbzip2.Event) {
	defer func() {
		//lint:ignore SA9003 ignore panics in listeners
		if r := recover(); r != nil {
			// Ignore panics in block listeners
		}
	}()

	for _, bl := range listeners {
		bl.ProcessEvent(evt)
	}
}

// CompressedInputStream a Reader that reads bzip2 data (one or several
// concatenated streams) from an io.Reader.
type CompressedInputStream struct {
	is          io.ReadCloser
	ibs         *bitstream.ResumableInputBitStream
	decoder     *block.BlockDecoder
	chunk       []byte // input buffer
	data        []byte // decoded bytes of the current block
	curIdx      int
	streams     int
	notified    bool // header event sent for the current stream
	eos         bool
	err         error
	closed      int32
	listeners   []kbzip2.Listener
	ctx         map[string]interface{}
}

// NewCompressedInputStream creates a new instance of CompressedInputStream
func NewCompressedInputStream(is io.ReadCloser) (*CompressedInputStream, error) {
	ctx := make(map[string]interface{})
	return NewCompressedInputStreamWithCtx(is, ctx)
}

// NewCompressedInputStreamWithCtx creates a new instance of CompressedInputStream
// using a map of parameters. Key: 'bufferSize' (uint), the size of the reads
// from the underlying reader.
func NewCompressedInputStreamWithCtx(is io.ReadCloser, ctx map[string]interface{}) (*CompressedInputStream, error) {
	if is == nil {
		return nil, &IOError{msg: "Invalid null reader parameter", code: kbzip2.ERR_CREATE_STREAM}
	}

	if ctx == nil {
		return nil, &IOError{msg: "Invalid null context parameter", code: kbzip2.ERR_CREATE_STREAM}
	}

	bufferSize := uint(_STREAM_DEFAULT_BUFFER_SIZE)

	if val, containsKey := ctx["bufferSize"]; containsKey {
		bufferSize = val.(uint)
	}

	if bufferSize < _MIN_READ_BUFFER_SIZE || bufferSize > 1<<30 {
		errMsg := fmt.Sprintf("Invalid buffer size: %d", bufferSize)
		return nil, &IOError{msg: errMsg, code: kbzip2.ERR_CREATE_STREAM}
	}

	this := new(CompressedInputStream)
	var err error

	if this.decoder, err = block.NewBlockDecoder(); err != nil {
		return nil, &IOError{msg: err.Error(), code: kbzip2.ERR_CREATE_DECOMPRESSOR, err: err}
	}

	this.is = is
	this.ibs = bitstream.NewResumableInputBitStream()
	this.chunk = make([]byte, bufferSize)
	this.data = make([]byte, 0)
	this.listeners = make([]kbzip2.Listener, 0)
	this.ctx = ctx
	return this, nil
}

// AddListener adds an event listener to this input stream.
// Returns true if the listener has been added.
func (this *CompressedInputStream) AddListener(bl kbzip2.Listener) bool {
	if bl == nil {
		return false
	}

	this.listeners = append(this.listeners, bl)
	return true
}

// RemoveListener removes an event listener from this input stream.
// Returns true if the listener has been removed.
func (this *CompressedInputStream) RemoveListener(bl kbzip2.Listener) bool {
	return removeListener(&this.listeners, bl)
}

// Close releases resources. The underlying reader is not closed.
// Close makes the stream unavailable for further reads. Idempotent
func (this *CompressedInputStream) Close() error {
	if atomic.SwapInt32(&this.closed, 1) == 1 {
		return nil
	}

	// Release resources
	this.data = make([]byte, 0)
	this.chunk = make([]byte, 0)
	this.curIdx = 0
	return nil
}

// Read reads up to len(block) bytes into block.
// It returns the number of bytes read (0 <= n <= len(block)) and any error encountered.
// Only bytes of blocks whose CRC has been verified are returned.
func (this *CompressedInputStream) Read(buf []byte) (int, error) {
	if atomic.LoadInt32(&this.closed) == 1 {
		return 0, &IOError{msg: "Stream closed", code: kbzip2.ERR_READ_FILE}
	}

	off := 0

	for off < len(buf) {
		if this.curIdx < len(this.data) {
			n := copy(buf[off:], this.data[this.curIdx:])
			this.curIdx += n
			off += n
			continue
		}

		if this.eos == true {
			if off == 0 {
				return 0, io.EOF
			}

			break
		}

		if this.err != nil {
			return off, this.err
		}

		if err := this.processBlock(); err != nil {
			this.err = err

			if off == 0 {
				return 0, err
			}

			// Report the error on the next call
			break
		}
	}

	return off, nil
}

// processBlock decodes until a block is available or all streams are read
func (this *CompressedInputStream) processBlock() error {
	for {
		status, err := this.decoder.Decode(this.ibs)

		if err != nil {
			// Data after a complete stream that is not another stream
			if this.streams > 0 && this.decoder.Level() == 0 {
				this.eos = true
				return nil
			}

			code := kbzip2.ERR_INVALID_FILE
			var fe *block.FormatError

			if errors.As(err, &fe) {
				code = fe.Code
			}

			return &IOError{msg: err.Error(), code: code, err: err}
		}

		switch status {
		case block.BLOCK_READY:
			this.data = this.decoder.Output()
			this.curIdx = 0
			this.notifyBlock()
			return nil

		case block.STREAM_END:
			this.streams++
			more, err := this.nextStream()

			if err != nil {
				return err
			}

			if more == false {
				this.eos = true
				return nil
			}

		case block.NEED_MORE_INPUT:
			if err := this.fill(); err != nil {
				return err
			}
		}
	}
}

// nextStream says whether bytes follow the stream just decoded, in which
// case the decoder is ready for the next stream.
func (this *CompressedInputStream) nextStream() (bool, error) {
	this.ibs.AlignToByte()

	for {
		switch this.ibs.Need(8) {
		case bitstream.READY:
			this.decoder.Restart()
			this.notified = false
			return true, nil

		case bitstream.END_OF_INPUT:
			return false, nil

		default:
			if err := this.fill(); err != nil {
				return false, err
			}
		}
	}
}

// fill reads the next chunk of compressed data
func (this *CompressedInputStream) fill() error {
	n, err := this.is.Read(this.chunk)

	if n > 0 {
		if err2 := this.ibs.Supply(this.chunk[0:n]); err2 != nil {
			return &IOError{msg: err2.Error(), code: kbzip2.ERR_READ_FILE, err: err2}
		}
	}

	if err == io.EOF {
		this.ibs.SetEndOfInput()
		return nil
	}

	if err != nil {
		return &IOError{msg: err.Error(), code: kbzip2.ERR_READ_FILE, err: err}
	}

	return nil
}

func (this *CompressedInputStream) notifyBlock() {
	if len(this.listeners) == 0 {
		return
	}

	info := this.decoder.BlockInfo()

	if this.notified == false {
		this.notified = true
		msg := fmt.Sprintf("Stream %d: block size set to %d bytes", this.streams+1,
			this.decoder.Level()*kbzip2.BLOCK_SIZE_UNIT)
		evt := kbzip2.NewEventFromString(kbzip2.EVT_AFTER_HEADER_DECODING, 0, msg, time.Now())
		notifyListeners(this.listeners, evt)
	}

	msg := fmt.Sprintf("Block %d: crc=%08x origPtr=%d randomized=%v trees=%d selectors=%d alphabet=%d size=%d bits=%d",
		info.Id+1, info.CRC, info.PrimaryIndex, info.Randomized, info.Trees, info.Selectors,
		info.AlphaSize, info.Size, info.Bits)
	notifyListeners(this.listeners, kbzip2.NewEventFromString(kbzip2.EVT_BLOCK_INFO, info.Id+1, msg, time.Now()))
	evt := kbzip2.NewEvent(kbzip2.EVT_AFTER_TRANSFORM, info.Id+1, int64(info.RawSize), info.CRC, true, time.Now())
	notifyListeners(this.listeners, evt)
}

// GetRead returns the number of compressed bytes consumed so far
func (this *CompressedInputStream) GetRead() uint64 {
	return (this.ibs.Read() + 7) >> 3
}

// Streams returns the number of complete streams decoded so far
func (this *CompressedInputStream) Streams() int {
	return this.streams
}

// BlockInfo describes the last block decoded. Listeners receiving
// EVT_BLOCK_INFO can call it to get the structured version of the event.
func (this *CompressedInputStream) BlockInfo() block.BlockInfo {
	return this.decoder.BlockInfo()
}

// Level returns the block size digit of the stream being decoded (0 before
// its header has been read)
func (this *CompressedInputStream) Level() uint {
	return this.decoder.Level()
}
