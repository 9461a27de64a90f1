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
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/flanglet/kbzip2"
	kio "github.com/flanglet/kbzip2/io"
)

const (
	_COMP_DEFAULT_BUFFER_SIZE = 65536
	_COMP_DEFAULT_CONCURRENCY = 1
)

// BlockCompressor main block compressor struct
type BlockCompressor struct {
	verbosity  uint
	overwrite  bool
	verify     bool
	inputName  string
	outputName string
	level      uint
	iterations uint
	jobs       uint
	listeners  []kbzip2.Listener
	cpuProf    string
}

type fileCompressResult struct {
	code    int
	read    uint64
	written uint64
}

// NewBlockCompressor creates a new instance of BlockCompressor given
// a map of argument name/value pairs.
func NewBlockCompressor(argsMap map[string]interface{}) (*BlockCompressor, error) {
	this := new(BlockCompressor)
	this.listeners = make([]kbzip2.Listener, 0)
	this.level = kbzip2.MAX_LEVEL

	if level, prst := argsMap["level"]; prst == true {
		this.level = level.(uint)
		delete(argsMap, "level")
	}

	if this.level < kbzip2.MIN_LEVEL || this.level > kbzip2.MAX_LEVEL {
		return nil, fmt.Errorf("Invalid level: %d (must be in [%d..%d])", this.level, kbzip2.MIN_LEVEL, kbzip2.MAX_LEVEL)
	}

	if force, prst := argsMap["overwrite"]; prst == true {
		this.overwrite = force.(bool)
		delete(argsMap, "overwrite")
	}

	if verify, prst := argsMap["verify"]; prst == true {
		this.verify = verify.(bool)
		delete(argsMap, "verify")
	}

	this.iterations = _DEFAULT_CLUSTER_ROUNDS

	if iter, prst := argsMap["clusterIterations"]; prst == true {
		this.iterations = iter.(uint)
		delete(argsMap, "clusterIterations")
	}

	if this.iterations < _MIN_CLUSTER_ROUNDS || this.iterations > _MAX_CLUSTER_ROUNDS {
		return nil, fmt.Errorf("Invalid number of clustering iterations: %d (must be in [%d..%d])",
			this.iterations, _MIN_CLUSTER_ROUNDS, _MAX_CLUSTER_ROUNDS)
	}

	this.inputName = argsMap["inputName"].(string)
	delete(argsMap, "inputName")
	this.outputName = argsMap["outputName"].(string)
	delete(argsMap, "outputName")
	this.verbosity = argsMap["verbosity"].(uint)
	delete(argsMap, "verbosity")
	concurrency := argsMap["jobs"].(uint)
	delete(argsMap, "jobs")

	if concurrency == 0 {
		this.jobs = _COMP_DEFAULT_CONCURRENCY
	} else {
		if concurrency > _MAX_JOBS {
			if this.verbosity > 0 {
				printWarning("Warning: the number of jobs is too high, defaulting to %v", _MAX_JOBS)
			}

			concurrency = _MAX_JOBS
		}

		this.jobs = concurrency
	}

	if prof, prst := argsMap["cpuProf"]; prst == true {
		this.cpuProf = prof.(string)
		delete(argsMap, "cpuProf")
	}

	if this.verbosity > 0 && len(argsMap) > 0 {
		for k := range argsMap {
			log.Println("Ignoring invalid option ["+k+"]", this.verbosity > 0)
		}
	}

	return this, nil
}

// AddListener adds an event listener to this compressor.
// Returns true if the listener has been added.
func (this *BlockCompressor) AddListener(bl kbzip2.Listener) bool {
	if bl == nil {
		return false
	}

	this.listeners = append(this.listeners, bl)
	return true
}

// RemoveListener removes an event listener from this compressor.
// Returns true if the listener has been removed.
func (this *BlockCompressor) RemoveListener(bl kbzip2.Listener) bool {
	for i, e := range this.listeners {
		if e == bl {
			this.listeners = append(this.listeners[:i], this.listeners[i+1:]...)
			return true
		}
	}

	return false
}

// CPUProf returns the name of the CPU profile data file (maybe be empty)
func (this *BlockCompressor) CPUProf() string {
	return this.cpuProf
}

func fileCompressWorker(tasks <-chan fileCompressTask, cancel <-chan bool, results chan<- fileCompressResult) {
	// Pull tasks from channel and run them
	more := true

	for more {
		select {
		case t, m := <-tasks:
			more = m

			if more {
				res, read, written := t.call()
				results <- fileCompressResult{code: res, read: read, written: written}
				more = res == 0
			}

		case c := <-cancel:
			more = !c
		}
	}
}

// Compress is the main function to compress the files or files based on the
// input name provided at construction. Files may be processed concurrently
// depending on the number of jobs provided at construction.
// Returns exit code, number of bytes written.
func (this *BlockCompressor) Compress() (int, uint64) {
	var err error
	before := time.Now()
	files := make([]FileData, 0, 256)
	nbFiles := 1
	printFlag := this.verbosity > 2
	var msg string
	log.Println(APP_HEADER, this.verbosity > 1)

	if strings.ToUpper(this.inputName) != _NAME_STDIN {
		files, err = createFileList(this.inputName, files)

		if err != nil {
			printError("Cannot access input '%v': %v", this.inputName, err)
			return kbzip2.ERR_OPEN_FILE, 0
		}

		if len(files) == 0 {
			printError("Cannot open input file '%v'", this.inputName)
			return kbzip2.ERR_OPEN_FILE, 0
		}

		nbFiles = len(files)

		if nbFiles > 1 {
			msg = fmt.Sprintf("%d files to compress\n", nbFiles)
		} else {
			msg = fmt.Sprintf("%d file to compress\n", nbFiles)
		}

		log.Println(msg, this.verbosity > 0)
	}

	blockSize, _ := kbzip2.BlockSizeForLevel(this.level)
	msg = fmt.Sprintf("Block size set to %d bytes (level %d)", blockSize, this.level)
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Verbosity set to %v", this.verbosity)
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Overwrite set to %t", this.overwrite)
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Verify set to %t", this.verify)
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Using %d clustering iterations", this.iterations)
	log.Println(msg, printFlag)

	if this.jobs > 1 {
		msg = fmt.Sprintf("Using %d jobs", this.jobs)
		log.Println(msg, printFlag)
	} else {
		log.Println("Using 1 job", printFlag)
	}

	// Limit verbosity level when files are processed concurrently
	if this.jobs > 1 && nbFiles > 1 && this.verbosity > 1 {
		printWarning("Warning: limiting verbosity to 1 due to concurrent processing of input files.")
		this.verbosity = 1
	}

	if this.verbosity > 2 {
		if listener, err2 := NewInfoPrinter(this.verbosity, ENCODING, os.Stdout); err2 == nil {
			this.AddListener(listener)
		}
	}

	read := uint64(0)
	written := uint64(0)
	inputIsDir := false
	formattedOutName := this.outputName
	formattedInName := this.inputName
	specialOutput := strings.ToUpper(formattedOutName) == _NAME_NONE || strings.ToUpper(formattedOutName) == _NAME_STDOUT

	if strings.ToUpper(this.inputName) != _NAME_STDIN {
		fi, err := os.Stat(this.inputName)

		if err != nil {
			printError("Cannot access %v", formattedInName)
			return kbzip2.ERR_OPEN_FILE, 0
		}

		if fi.IsDir() {
			inputIsDir = true

			if formattedInName[len(formattedInName)-1] == '.' {
				formattedInName = formattedInName[0 : len(formattedInName)-1]
			}

			if formattedInName[len(formattedInName)-1] != os.PathSeparator {
				formattedInName = formattedInName + string([]byte{os.PathSeparator})
			}

			if len(formattedOutName) > 0 && specialOutput == false {
				fi, err = os.Stat(formattedOutName)

				if err != nil {
					printError("Output must be an existing directory (or 'NONE')")
					return kbzip2.ERR_OPEN_FILE, 0
				}

				if !fi.IsDir() {
					printError("Output must be a directory (or 'NONE')")
					return kbzip2.ERR_OUTPUT_IS_DIR, 0
				}

				if formattedOutName[len(formattedOutName)-1] != os.PathSeparator {
					formattedOutName = formattedOutName + string([]byte{os.PathSeparator})
				}
			}
		} else {
			if len(formattedOutName) > 0 && specialOutput == false {
				fi, err = os.Stat(formattedOutName)

				if err == nil && fi.IsDir() {
					printError("Output must be a file (or 'NONE')")
					return kbzip2.ERR_OUTPUT_IS_DIR, 0
				}
			}
		}
	}

	ctx := make(map[string]interface{})
	ctx["verbosity"] = this.verbosity
	ctx["overwrite"] = this.overwrite
	ctx["verify"] = this.verify
	ctx["level"] = this.level
	ctx["clusterIterations"] = this.iterations
	var res int

	if nbFiles == 1 {
		oName := formattedOutName
		iName := _NAME_STDIN

		if strings.ToUpper(this.inputName) != _NAME_STDIN {
			iName = files[0].Path

			if len(oName) == 0 {
				oName = iName + _BZ2_SUFFIX
			} else if inputIsDir == true && specialOutput == false {
				oName = formattedOutName + iName[len(formattedInName):] + _BZ2_SUFFIX
			}
		} else if len(oName) == 0 {
			oName = _NAME_STDOUT
		}

		ctx["inputName"] = iName
		ctx["outputName"] = oName
		ctx["jobs"] = this.jobs
		task := fileCompressTask{ctx: ctx, listeners: this.listeners}
		res, read, written = task.call()
	} else {
		// Create channels for task synchronization
		tasks := make(chan fileCompressTask, nbFiles)
		results := make(chan fileCompressResult, nbFiles)
		cancel := make(chan bool, 1)

		jobsPerTask := kbzip2.ComputeJobsPerTask(make([]uint, nbFiles), this.jobs, uint(nbFiles))
		sort.Sort(FileCompare{data: files, sortBySize: true})

		// Create one task per file
		for i, f := range files {
			iName := f.Path
			oName := formattedOutName

			if len(oName) == 0 {
				oName = iName + _BZ2_SUFFIX
			} else if inputIsDir == true && specialOutput == false {
				oName = formattedOutName + iName[len(formattedInName):] + _BZ2_SUFFIX
			}

			taskCtx := make(map[string]interface{})

			for k, v := range ctx {
				taskCtx[k] = v
			}

			taskCtx["inputName"] = iName
			taskCtx["outputName"] = oName
			taskCtx["jobs"] = jobsPerTask[i]
			task := fileCompressTask{ctx: taskCtx, listeners: this.listeners}

			// Push task to channel. The workers are the consumers.
			tasks <- task
		}

		close(tasks)

		// Create one worker per job. A worker calls several tasks sequentially.
		for j := uint(0); j < this.jobs; j++ {
			go fileCompressWorker(tasks, cancel, results)
		}

		res = 0

		// Wait for all task results
		for i := 0; i < nbFiles; i++ {
			result := <-results
			read += result.read
			written += result.written

			if result.code != 0 {
				// Exit early
				res = result.code
				break
			}
		}

		cancel <- true
		close(cancel)
	}

	after := time.Now()

	if nbFiles > 1 {
		delta := after.Sub(before).Nanoseconds() / 1000000 // convert to ms
		log.Println("", this.verbosity > 0)
		msg = fmt.Sprintf("Total encoding time: %v", formatDuration(delta))
		log.Println(msg, this.verbosity > 0)

		if written > 1 {
			msg = fmt.Sprintf("Total output size: %d bytes", written)
		} else {
			msg = fmt.Sprintf("Total output size: %d byte", written)
		}

		log.Println(msg, this.verbosity > 0)

		if read > 0 {
			msg = fmt.Sprintf("Compression ratio: %f", float64(written)/float64(read))
			log.Println(msg, this.verbosity > 0)
		}
	}

	return res, written
}

func notifyBCListeners(listeners []kbzip2.Listener, evt *kbzip2.Event) {
	defer func() {
		if r := recover(); r != nil {
			// Ignore exceptions in listeners
		}
	}()

	for _, bl := range listeners {
		bl.ProcessEvent(evt)
	}
}

func formatDuration(ms int64) string {
	if ms >= 100000 {
		return fmt.Sprintf("%.1f s", float64(ms)/1000)
	}

	return fmt.Sprintf("%.0f ms", float64(ms))
}

type nullOutputStream struct{}

func (nullOutputStream) Write(b []byte) (int, error) {
	return len(b), nil
}

func (nullOutputStream) Close() error {
	return nil
}

// openOutput creates the output file, checking that an existing file can be
// overwritten and is not the input.
func openOutput(inputName, outputName string, overwrite bool) (io.WriteCloser, int, error) {
	if strings.ToUpper(outputName) == _NAME_NONE {
		return nullOutputStream{}, 0, nil
	}

	if strings.ToUpper(outputName) == _NAME_STDOUT {
		return os.Stdout, 0, nil
	}

	if fi, err := os.Stat(outputName); err == nil {
		if fi.IsDir() {
			return nil, kbzip2.ERR_OUTPUT_IS_DIR, fmt.Errorf("Output file '%v' is a directory", outputName)
		}

		if overwrite == false {
			return nil, kbzip2.ERR_OVERWRITE_FILE,
				fmt.Errorf("File '%v' exists and the 'force' command line option has not been provided", outputName)
		}

		path1, _ := filepath.Abs(inputName)
		path2, _ := filepath.Abs(outputName)

		if path1 == path2 {
			return nil, kbzip2.ERR_CREATE_FILE, errors.New("The input and output files must be different")
		}
	}

	output, err := os.Create(outputName)

	if err != nil {
		if overwrite {
			// Attempt to create the full folder hierarchy to file
			if err = os.MkdirAll(path.Dir(strings.Replace(outputName, "\\", "/", -1)), os.ModePerm); err == nil {
				output, err = os.Create(outputName)
			}
		}

		if err != nil {
			return nil, kbzip2.ERR_CREATE_FILE, fmt.Errorf("Cannot open output file '%v' for writing: %v", outputName, err)
		}
	}

	return output, 0, nil
}

// ioErrorCode extracts the exit code carried by stream errors
func ioErrorCode(err error, defaultCode int) int {
	var ioErr *kio.IOError

	if errors.As(err, &ioErr) {
		return ioErr.ErrorCode()
	}

	return defaultCode
}

type fileCompressTask struct {
	ctx       map[string]interface{}
	listeners []kbzip2.Listener
}

func (this *fileCompressTask) call() (int, uint64, uint64) {
	var msg string
	verbosity := this.ctx["verbosity"].(uint)
	inputName := this.ctx["inputName"].(string)
	outputName := this.ctx["outputName"].(string)
	verify := this.ctx["verify"].(bool)
	printFlag := verbosity > 2
	log.Println("Input file name set to '"+inputName+"'", printFlag)
	log.Println("Output file name set to '"+outputName+"'", printFlag)

	output, code, err := openOutput(inputName, outputName, this.ctx["overwrite"].(bool))

	if err != nil {
		printError("%v", err)
		return code, 0, 0
	}

	defer func() {
		if output != os.Stdout {
			output.Close()
		}
	}()

	cos, err := kio.NewCompressedOutputStreamWithCtx(output, this.ctx)

	if err != nil {
		printError("Cannot create compressed stream: %v", err)
		return ioErrorCode(err, kbzip2.ERR_CREATE_COMPRESSOR), 0, 0
	}

	defer func() {
		cos.Close()
	}()

	var input io.ReadCloser

	if strings.ToUpper(inputName) == _NAME_STDIN {
		input = os.Stdin
	} else {
		if input, err = os.Open(inputName); err != nil {
			printError("Cannot open input file '%v': %v", inputName, err)
			return kbzip2.ERR_OPEN_FILE, 0, 0
		}

		defer func() {
			input.Close()
		}()
	}

	for _, bl := range this.listeners {
		cos.AddListener(bl)
	}

	// Encode
	printFlag = verbosity > 1
	log.Println("\nEncoding "+inputName+" ...", printFlag)
	log.Println("", verbosity > 3)
	read := uint64(0)
	hasher := xxhash.New()
	buffer := make([]byte, _COMP_DEFAULT_BUFFER_SIZE)

	if len(this.listeners) > 0 {
		evt := kbzip2.NewEvent(kbzip2.EVT_COMPRESSION_START, -1, 0, 0, false, time.Now())
		notifyBCListeners(this.listeners, evt)
	}

	before := time.Now()

	for {
		length, err := input.Read(buffer)

		if length > 0 {
			if read == 0 {
				checkMagic(inputName, buffer[0:length], verbosity)
			}

			read += uint64(length)

			if verify == true {
				hasher.Write(buffer[0:length])
			}

			if _, err2 := cos.Write(buffer[0:length]); err2 != nil {
				printError("%v", err2)
				return ioErrorCode(err2, kbzip2.ERR_PROCESS_BLOCK), read, cos.GetWritten()
			}
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			printError("Failed to read block from file '%v': %v", inputName, err)
			return kbzip2.ERR_READ_FILE, read, cos.GetWritten()
		}
	}

	if read == 0 {
		msg = fmt.Sprintf("Input file %v is empty ... writing an empty stream", inputName)
		log.Println(msg, verbosity > 1)
	}

	// Close streams to ensure all data are flushed
	// Deferred close is fallback for error paths
	if err := cos.Close(); err != nil {
		printError("%v", err)
		return ioErrorCode(err, kbzip2.ERR_PROCESS_BLOCK), read, cos.GetWritten()
	}

	after := time.Now()
	delta := after.Sub(before).Nanoseconds() / 1000000 // convert to ms
	log.Println("", verbosity > 1)
	msg = fmt.Sprintf("Encoding:          %v", formatDuration(delta))
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Input size:        %d", read)
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Output size:       %d", cos.GetWritten())
	log.Println(msg, printFlag)

	if read > 0 {
		msg = fmt.Sprintf("Compression ratio: %f", float64(cos.GetWritten())/float64(read))
		log.Println(msg, printFlag)
	}

	msg = fmt.Sprintf("Encoding %v: %v => %v bytes in %v", inputName, read, cos.GetWritten(), formatDuration(delta))
	log.Println(msg, verbosity == 1)

	if delta > 0 {
		msg = fmt.Sprintf("Throughput (KB/s): %d", ((int64(read*1000))>>10)/delta)
		log.Println(msg, printFlag)
	}

	log.Println("", verbosity > 1)

	if len(this.listeners) > 0 {
		evt := kbzip2.NewEvent(kbzip2.EVT_COMPRESSION_END, -1, int64(cos.GetWritten()), 0, false, time.Now())
		notifyBCListeners(this.listeners, evt)
	}

	if verify == true {
		if code := verifyOutput(outputName, hasher.Sum64(), verbosity); code != 0 {
			return code, read, cos.GetWritten()
		}
	}

	return 0, read, cos.GetWritten()
}

// checkMagic warns when the input looks already compressed
func checkMagic(inputName string, data []byte, verbosity uint) {
	magic := kbzip2.GetMagicType(data)

	if magic == kbzip2.BZIP2_MAGIC {
		if verbosity > 0 {
			printWarning("Warning: input '%v' is already a bzip2 stream", inputName)
		}
	} else if kbzip2.IsCompressed(magic) {
		log.Println(fmt.Sprintf("Input '%v' is already compressed (magic %x)", inputName, magic), verbosity > 1)
	}
}

// verifyOutput decompresses the file just written and compares the hash of
// the result with 'expected'.
func verifyOutput(outputName string, expected uint64, verbosity uint) int {
	if name := strings.ToUpper(outputName); name == _NAME_NONE || name == _NAME_STDOUT {
		if verbosity > 0 {
			printWarning("Warning: cannot verify output '%v'", outputName)
		}

		return 0
	}

	input, err := os.Open(outputName)

	if err != nil {
		printError("Cannot open '%v' for verification: %v", outputName, err)
		return kbzip2.ERR_OPEN_FILE
	}

	defer input.Close()
	cis, err := kio.NewCompressedInputStream(input)

	if err != nil {
		printError("Cannot create decompressed stream: %v", err)
		return ioErrorCode(err, kbzip2.ERR_CREATE_DECOMPRESSOR)
	}

	hasher := xxhash.New()

	if _, err = io.Copy(hasher, cis); err != nil {
		printError("Verification of '%v' failed: %v", outputName, err)
		return kbzip2.ERR_VERIFY
	}

	if actual := hasher.Sum64(); actual != expected {
		printError("Verification of '%v' failed: hash %016x, expected %016x", outputName, actual, expected)
		return kbzip2.ERR_VERIFY
	}

	log.Println(fmt.Sprintf("Verified %v: hash %016x", outputName, expected), verbosity > 1)
	return 0
}
