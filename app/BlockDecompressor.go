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
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/flanglet/kbzip2"
	kio "github.com/flanglet/kbzip2/io"
)

const (
	_DECOMP_DEFAULT_BUFFER_SIZE = 65536
	_DECOMP_DEFAULT_CONCURRENCY = 1
)

// BlockDecompressor main block decompressor struct
type BlockDecompressor struct {
	verbosity  uint
	overwrite  bool
	inputName  string
	outputName string
	jobs       uint
	listeners  []kbzip2.Listener
	cpuProf    string
}

type fileDecompressResult struct {
	code int
	read uint64
}

// NewBlockDecompressor creates a new instance of BlockDecompressor given
// a map of argument name/value pairs.
func NewBlockDecompressor(argsMap map[string]interface{}) (*BlockDecompressor, error) {
	this := new(BlockDecompressor)
	this.listeners = make([]kbzip2.Listener, 0)

	if force, prst := argsMap["overwrite"]; prst == true {
		this.overwrite = force.(bool)
		delete(argsMap, "overwrite")
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
		this.jobs = _DECOMP_DEFAULT_CONCURRENCY
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

	// Compression only options
	delete(argsMap, "level")
	delete(argsMap, "verify")
	delete(argsMap, "clusterIterations")

	if this.verbosity > 0 && len(argsMap) > 0 {
		for k := range argsMap {
			log.Println("Ignoring invalid option ["+k+"]", this.verbosity > 0)
		}
	}

	return this, nil
}

// AddListener adds an event listener to this decompressor.
// Returns true if the listener has been added.
func (this *BlockDecompressor) AddListener(bl kbzip2.Listener) bool {
	if bl == nil {
		return false
	}

	this.listeners = append(this.listeners, bl)
	return true
}

// RemoveListener removes an event listener from this decompressor.
// Returns true if the listener has been removed.
func (this *BlockDecompressor) RemoveListener(bl kbzip2.Listener) bool {
	for i, e := range this.listeners {
		if e == bl {
			this.listeners = append(this.listeners[:i], this.listeners[i+1:]...)
			return true
		}
	}

	return false
}

// CPUProf returns the name of the CPU profile data file (maybe be empty)
func (this *BlockDecompressor) CPUProf() string {
	return this.cpuProf
}

func fileDecompressWorker(tasks <-chan fileDecompressTask, cancel <-chan bool, results chan<- fileDecompressResult) {
	// Pull tasks from channel and run them
	more := true

	for more {
		select {
		case t, m := <-tasks:
			more = m

			if more {
				res, read := t.call()
				results <- fileDecompressResult{code: res, read: read}
				more = res == 0
			}

		case c := <-cancel:
			more = !c
		}
	}
}

// decompressedName returns the output name for 'inputName': the '.bz2'
// suffix is removed, or '.out' appended when missing.
func decompressedName(inputName string) string {
	if len(inputName) > len(_BZ2_SUFFIX) && strings.HasSuffix(strings.ToLower(inputName), _BZ2_SUFFIX) {
		return inputName[0 : len(inputName)-len(_BZ2_SUFFIX)]
	}

	return inputName + _OUT_SUFFIX
}

// Decompress is the main function to decompress the files or files based on
// the input name provided at construction. Files may be processed concurrently
// depending on the number of jobs provided at construction.
// Returns exit code, number of bytes read.
func (this *BlockDecompressor) Decompress() (int, uint64) {
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
			msg = fmt.Sprintf("%d files to decompress\n", nbFiles)
		} else {
			msg = fmt.Sprintf("%d file to decompress\n", nbFiles)
		}

		log.Println(msg, this.verbosity > 0)
	}

	msg = fmt.Sprintf("Verbosity set to %v", this.verbosity)
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Overwrite set to %t", this.overwrite)
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
		if listener, err2 := NewInfoPrinter(this.verbosity, DECODING, os.Stdout); err2 == nil {
			this.AddListener(listener)
		}
	}

	read := uint64(0)
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
	res := 0

	if nbFiles == 1 {
		oName := formattedOutName
		iName := _NAME_STDIN

		if strings.ToUpper(this.inputName) != _NAME_STDIN {
			iName = files[0].Path

			if len(oName) == 0 {
				oName = decompressedName(iName)
			} else if inputIsDir == true && specialOutput == false {
				oName = formattedOutName + decompressedName(iName[len(formattedInName):])
			}
		} else if len(oName) == 0 {
			oName = _NAME_STDOUT
		}

		ctx["inputName"] = iName
		ctx["outputName"] = oName
		task := fileDecompressTask{ctx: ctx, listeners: this.listeners}
		res, read = task.call()
	} else {
		// Create channels for task synchronization
		tasks := make(chan fileDecompressTask, nbFiles)
		results := make(chan fileDecompressResult, nbFiles)
		cancel := make(chan bool, 1)
		sort.Sort(FileCompare{data: files, sortBySize: true})

		// Create one task per file
		for _, f := range files {
			iName := f.Path
			oName := formattedOutName

			if len(oName) == 0 {
				oName = decompressedName(iName)
			} else if inputIsDir == true && specialOutput == false {
				oName = formattedOutName + decompressedName(iName[len(formattedInName):])
			}

			taskCtx := make(map[string]interface{})

			for k, v := range ctx {
				taskCtx[k] = v
			}

			taskCtx["inputName"] = iName
			taskCtx["outputName"] = oName
			task := fileDecompressTask{ctx: taskCtx, listeners: this.listeners}

			// Push task to channel. The workers are the consumers.
			tasks <- task
		}

		close(tasks)

		// Create one worker per job. A worker calls several tasks sequentially.
		for j := uint(0); j < this.jobs; j++ {
			go fileDecompressWorker(tasks, cancel, results)
		}

		// Wait for all task results
		for i := 0; i < nbFiles; i++ {
			result := <-results
			read += result.read

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
		msg = fmt.Sprintf("Total decoding time: %v", formatDuration(delta))
		log.Println(msg, this.verbosity > 0)

		if read > 1 {
			msg = fmt.Sprintf("Total output size: %d bytes", read)
		} else {
			msg = fmt.Sprintf("Total output size: %d byte", read)
		}

		log.Println(msg, this.verbosity > 0)
	}

	return res, read
}

func notifyBDListeners(listeners []kbzip2.Listener, evt *kbzip2.Event) {
	defer func() {
		if r := recover(); r != nil {
			// Ignore exceptions in listeners
		}
	}()

	for _, bl := range listeners {
		bl.ProcessEvent(evt)
	}
}

// openCompressedInput opens 'inputName' and checks that it starts with a
// bzip2 stream header.
func openCompressedInput(inputName string) (io.ReadCloser, func(), int, error) {
	var input io.Reader
	closer := func() {}

	if strings.ToUpper(inputName) == _NAME_STDIN {
		input = os.Stdin
	} else {
		f, err := os.Open(inputName)

		if err != nil {
			return nil, closer, kbzip2.ERR_OPEN_FILE, fmt.Errorf("Cannot open input file '%v': %v", inputName, err)
		}

		input = f
		closer = func() { f.Close() }
	}

	var header [4]byte
	n, _ := io.ReadFull(input, header[:])

	if kbzip2.GetMagicType(header[0:n]) != kbzip2.BZIP2_MAGIC {
		closer()
		return nil, func() {}, kbzip2.ERR_INVALID_FILE, fmt.Errorf("Input '%v' is not a bzip2 file", inputName)
	}

	return io.NopCloser(io.MultiReader(bytes.NewReader(header[:]), input)), closer, 0, nil
}

type fileDecompressTask struct {
	ctx       map[string]interface{}
	listeners []kbzip2.Listener
}

func (this *fileDecompressTask) call() (int, uint64) {
	var msg string
	verbosity := this.ctx["verbosity"].(uint)
	inputName := this.ctx["inputName"].(string)
	outputName := this.ctx["outputName"].(string)
	printFlag := verbosity > 2
	log.Println("Input file name set to '"+inputName+"'", printFlag)
	log.Println("Output file name set to '"+outputName+"'", printFlag)

	input, closeInput, code, err := openCompressedInput(inputName)

	if err != nil {
		printError("%v", err)
		return code, 0
	}

	defer closeInput()
	output, code, err := openOutput(inputName, outputName, this.ctx["overwrite"].(bool))

	if err != nil {
		printError("%v", err)
		return code, 0
	}

	success := false
	regularFile := output != os.Stdout && strings.ToUpper(outputName) != _NAME_NONE

	defer func() {
		if output != os.Stdout {
			output.Close()
		}

		// No partial output after a failure
		if success == false && regularFile == true {
			os.Remove(outputName)
		}
	}()

	// Decode
	read := uint64(0)
	printFlag = verbosity > 1
	log.Println("\nDecoding "+inputName+" ...", printFlag)
	log.Println("", verbosity > 3)

	if len(this.listeners) > 0 {
		evt := kbzip2.NewEvent(kbzip2.EVT_DECOMPRESSION_START, -1, 0, 0, false, time.Now())
		notifyBDListeners(this.listeners, evt)
	}

	cis, err := kio.NewCompressedInputStreamWithCtx(input, this.ctx)

	if err != nil {
		printError("Cannot create decompressed stream: %v", err)
		return ioErrorCode(err, kbzip2.ERR_CREATE_DECOMPRESSOR), read
	}

	defer cis.Close()

	for _, bl := range this.listeners {
		cis.AddListener(bl)
	}

	buffer := make([]byte, _DECOMP_DEFAULT_BUFFER_SIZE)
	before := time.Now()

	for {
		decoded, err := cis.Read(buffer)

		if decoded > 0 {
			if _, err2 := output.Write(buffer[0:decoded]); err2 != nil {
				printError("Failed to write decompressed block to file '%v': %v", outputName, err2)
				return kbzip2.ERR_WRITE_FILE, read
			}

			read += uint64(decoded)
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			printError("Failed to decompress '%v': %v", inputName, err)
			return ioErrorCode(err, kbzip2.ERR_PROCESS_BLOCK), read
		}
	}

	after := time.Now()
	delta := after.Sub(before).Nanoseconds() / 1000000 // convert to ms
	log.Println("", verbosity > 1)
	msg = fmt.Sprintf("Decoding:          %v", formatDuration(delta))
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Input size:        %d", cis.GetRead())
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Output size:       %d", read)
	log.Println(msg, printFlag)
	msg = fmt.Sprintf("Streams:           %d", cis.Streams())
	log.Println(msg, printFlag)

	if strings.ToUpper(outputName) == _NAME_NONE {
		msg = fmt.Sprintf("%v: ok (%v => %v bytes in %v)", inputName, cis.GetRead(), read, formatDuration(delta))
	} else {
		msg = fmt.Sprintf("Decoding %v: %v => %v bytes in %v", inputName, cis.GetRead(), read, formatDuration(delta))
	}

	log.Println(msg, verbosity == 1)

	if delta > 0 {
		msg = fmt.Sprintf("Throughput (KB/s): %d", ((int64(read)*1000)>>10)/delta)
		log.Println(msg, printFlag)
	}

	log.Println("", verbosity > 1)

	if len(this.listeners) > 0 {
		evt := kbzip2.NewEvent(kbzip2.EVT_DECOMPRESSION_END, -1, int64(cis.GetRead()), 0, false, time.Now())
		notifyBDListeners(this.listeners, evt)
	}

	success = true
	return 0, read
}
