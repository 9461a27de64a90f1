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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/flanglet/kbzip2"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
)

const (
	APP_NAME   = "kbzip2"
	APP_HEADER = "kbzip2 1.0 (C) 2024,  Frederic Langlet"

	_NAME_NONE   = "NONE"
	_NAME_STDIN  = "STDIN"
	_NAME_STDOUT = "STDOUT"
	_BZ2_SUFFIX  = ".bz2"
	_OUT_SUFFIX  = ".out"
)

var (
	mutex sync.Mutex
	log   = Printer{os: bufio.NewWriter(os.Stdout)}

	errorColor   = color.New(color.FgHiRed).SprintfFunc()
	warningColor = color.New(color.FgYellow).SprintfFunc()
)

var (
	inputFlag = &cli.StringFlag{
		Name:    "input",
		Aliases: []string{"i"},
		Usage:   "name of the input file or directory, or 'stdin' (a trailing '/.' disables recursion)",
		Value:   _NAME_STDIN,
	}
	outputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "name of the output file or directory, 'stdout' or 'none'",
	}
	levelFlag = &cli.UintFlag{
		Name:    "level",
		Aliases: []string{"l"},
		Usage:   "block size in units of 100000 bytes [1..9]",
		Value:   9,
	}
	fastFlag = &cli.BoolFlag{
		Name:  "fast",
		Usage: "same as --level 1",
	}
	bestFlag = &cli.BoolFlag{
		Name:  "best",
		Usage: "same as --level 9",
	}
	jobsFlag = &cli.UintFlag{
		Name:    "jobs",
		Aliases: []string{"j"},
		Usage:   "maximum number of concurrent jobs",
		Value:   1,
	}
	forceFlag = &cli.BoolFlag{
		Name:    "force",
		Aliases: []string{"f"},
		Usage:   "overwrite the output file if it already exists",
	}
	verboseFlag = &cli.UintFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "verbosity level [0..5]",
		Value:   1,
	}
	verifyFlag = &cli.BoolFlag{
		Name:  "verify",
		Usage: "decompress the output after compression and compare hashes",
	}
	iterationsFlag = &cli.UintFlag{
		Name:  "iterations",
		Usage: "number of prefix code clustering rounds [1..16]",
		Value: 4,
	}
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "TOML file providing default values for the options",
	}
	cpuProfFlag = &cli.StringFlag{
		Name:  "cpu-prof",
		Usage: "write a CPU profile to this file",
	}
)

func main() {
	color.NoColor = !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())

	if err := newApp().Run(os.Args); err != nil {
		printError("%v", err)
		os.Exit(kbzip2.ERR_INVALID_PARAM)
	}
}

func newApp() *cli.App {
	common := []cli.Flag{inputFlag, outputFlag, jobsFlag, forceFlag, verboseFlag, configFlag, cpuProfFlag}
	compressFlags := append([]cli.Flag{levelFlag, fastFlag, bestFlag, verifyFlag, iterationsFlag}, common...)

	return &cli.App{
		Name:                 APP_NAME,
		Usage:                "bzip2 compatible block compressor",
		Version:              "1.0",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:    "compress",
				Aliases: []string{"c"},
				Usage:   "compress files to the bzip2 format",
				Flags:   compressFlags,
				Action:  compressAction,
			},
			{
				Name:    "decompress",
				Aliases: []string{"d"},
				Usage:   "decompress bzip2 files",
				Flags:   common,
				Action:  decompressAction,
			},
			{
				Name:    "test",
				Aliases: []string{"t"},
				Usage:   "check the integrity of bzip2 files",
				Flags:   []cli.Flag{inputFlag, jobsFlag, verboseFlag, configFlag},
				Action:  testAction,
			},
			{
				Name:   "info",
				Usage:  "describe the streams and blocks of bzip2 files",
				Flags:  []cli.Flag{inputFlag, verboseFlag, configFlag},
				Action: infoAction,
			},
		},
	}
}

// buildArgs merges the configuration file and the command line flags into
// the map handed to the block compressor and decompressor.
func buildArgs(c *cli.Context) (map[string]interface{}, error) {
	cfg, err := loadConfig(c.String(configFlag.Name))

	if err != nil {
		return nil, err
	}

	argsMap := make(map[string]interface{})
	argsMap["inputName"] = c.String(inputFlag.Name)
	argsMap["outputName"] = c.String(outputFlag.Name)
	argsMap["level"] = pickUint(c, levelFlag.Name, cfg.Level)
	argsMap["jobs"] = pickUint(c, jobsFlag.Name, cfg.Jobs)
	argsMap["verbosity"] = pickUint(c, verboseFlag.Name, cfg.Verbosity)
	argsMap["clusterIterations"] = pickUint(c, iterationsFlag.Name, cfg.ClusterIterations)
	argsMap["overwrite"] = c.Bool(forceFlag.Name) || cfg.Force
	argsMap["verify"] = c.Bool(verifyFlag.Name) || cfg.Verify

	if c.Bool(fastFlag.Name) {
		argsMap["level"] = uint(kbzip2.MIN_LEVEL)
	} else if c.Bool(bestFlag.Name) {
		argsMap["level"] = uint(kbzip2.MAX_LEVEL)
	}

	if name := c.String(cpuProfFlag.Name); len(name) > 0 {
		argsMap["cpuProf"] = name
	}

	if len(argsMap["outputName"].(string)) == 0 && strings.ToUpper(argsMap["inputName"].(string)) == _NAME_STDIN {
		argsMap["outputName"] = _NAME_STDOUT
	}

	if strings.ToUpper(argsMap["outputName"].(string)) == _NAME_STDOUT {
		// Keep the output clean
		argsMap["verbosity"] = uint(0)
	}

	return argsMap, nil
}

func pickUint(c *cli.Context, name string, fromConfig uint) uint {
	if c.IsSet(name) {
		return c.Uint(name)
	}

	return fromConfig
}

func compressAction(c *cli.Context) error {
	argsMap, err := buildArgs(c)

	if err != nil {
		return cli.Exit(errorColor("%v", err), kbzip2.ERR_INVALID_PARAM)
	}

	if strings.ToUpper(argsMap["outputName"].(string)) == _NAME_STDOUT && isatty.IsTerminal(os.Stdout.Fd()) {
		return cli.Exit(errorColor("Compressed data cannot be written to a terminal"), kbzip2.ERR_CREATE_FILE)
	}

	return exitStatus(compress(argsMap))
}

func decompressAction(c *cli.Context) error {
	argsMap, err := buildArgs(c)

	if err != nil {
		return cli.Exit(errorColor("%v", err), kbzip2.ERR_INVALID_PARAM)
	}

	return exitStatus(decompress(argsMap))
}

func testAction(c *cli.Context) error {
	argsMap, err := buildArgs(c)

	if err != nil {
		return cli.Exit(errorColor("%v", err), kbzip2.ERR_INVALID_PARAM)
	}

	argsMap["outputName"] = _NAME_NONE
	return exitStatus(decompress(argsMap))
}

func infoAction(c *cli.Context) error {
	argsMap, err := buildArgs(c)

	if err != nil {
		return cli.Exit(errorColor("%v", err), kbzip2.ERR_INVALID_PARAM)
	}

	return exitStatus(inspect(argsMap["inputName"].(string), os.Stdout))
}

func exitStatus(code int) error {
	if code == 0 {
		return nil
	}

	return cli.Exit("", code)
}

func compress(argsMap map[string]interface{}) (code int) {
	runtime.GOMAXPROCS(runtime.NumCPU())

	defer func() {
		if r := recover(); r != nil {
			printError("An unexpected error occurred during compression: %v", r)
			code = kbzip2.ERR_UNKNOWN
		}
	}()

	bc, err := NewBlockCompressor(argsMap)

	if err != nil {
		printError("Failed to create block compressor: %v", err)
		return kbzip2.ERR_CREATE_COMPRESSOR
	}

	if len(bc.CPUProf()) != 0 {
		if f, err := os.Create(bc.CPUProf()); err != nil {
			printWarning("Warning: cpu profile unavailable: %v", err)
		} else {
			if err := pprof.StartCPUProfile(f); err != nil {
				printWarning("Warning: cpu profile unavailable: %v", err)
			}

			defer func() {
				pprof.StopCPUProfile()
				f.Close()
			}()
		}
	}

	code, _ = bc.Compress()
	return code
}

func decompress(argsMap map[string]interface{}) (code int) {
	runtime.GOMAXPROCS(runtime.NumCPU())

	defer func() {
		if r := recover(); r != nil {
			printError("An unexpected error occurred during decompression: %v", r)
			code = kbzip2.ERR_UNKNOWN
		}
	}()

	bd, err := NewBlockDecompressor(argsMap)

	if err != nil {
		printError("Failed to create block decompressor: %v", err)
		return kbzip2.ERR_CREATE_DECOMPRESSOR
	}

	if len(bd.CPUProf()) != 0 {
		if f, err := os.Create(bd.CPUProf()); err != nil {
			printWarning("Warning: cpu profile unavailable: %v", err)
		} else {
			if err := pprof.StartCPUProfile(f); err != nil {
				printWarning("Warning: cpu profile unavailable: %v", err)
			}

			defer func() {
				pprof.StopCPUProfile()
				f.Close()
			}()
		}
	}

	code, _ = bd.Decompress()
	return code
}

func printError(format string, args ...interface{}) {
	mutex.Lock()
	fmt.Fprintln(os.Stderr, errorColor(format, args...))
	mutex.Unlock()
}

func printWarning(format string, args ...interface{}) {
	mutex.Lock()
	fmt.Fprintln(os.Stderr, warningColor(format, args...))
	mutex.Unlock()
}

type FileData struct {
	Path string
	Size int64
}

type FileCompare struct {
	data       []FileData
	sortBySize bool
}

func (this FileCompare) Len() int {
	return len(this.data)
}

func (this FileCompare) Swap(i, j int) {
	this.data[i], this.data[j] = this.data[j], this.data[i]
}

func (this FileCompare) Less(i, j int) bool {
	if this.sortBySize == false {
		return strings.Compare(this.data[i].Path, this.data[j].Path) < 0
	}

	// Largest files first to balance the workers
	if this.data[i].Size != this.data[j].Size {
		return this.data[i].Size > this.data[j].Size
	}

	return strings.Compare(this.data[i].Path, this.data[j].Path) < 0
}

// createFileList appends the regular files found at 'target' to 'fileList'.
// Directories are walked recursively unless 'target' ends with '/.'. Hidden
// files are skipped.
func createFileList(target string, fileList []FileData) ([]FileData, error) {
	fi, err := os.Stat(target)

	if err != nil {
		return fileList, err
	}

	if fi.Mode().IsRegular() {
		if fi.Name()[0] != '.' {
			fileList = append(fileList, FileData{Path: target, Size: fi.Size()})
		}

		return fileList, nil
	}

	suffix := string([]byte{os.PathSeparator, '.'})
	isRecursive := len(target) <= 2 || strings.HasSuffix(target, suffix) == false

	if isRecursive {
		if target[len(target)-1] != os.PathSeparator {
			target = target + string([]byte{os.PathSeparator})
		}

		err = filepath.Walk(target, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if fi.Mode().IsRegular() && fi.Name()[0] != '.' {
				fileList = append(fileList, FileData{Path: path, Size: fi.Size()})
			}

			return err
		})
	} else {
		// Remove suffix
		target = target[0 : len(target)-1]
		var entries []os.DirEntry

		if entries, err = os.ReadDir(target); err == nil {
			for _, e := range entries {
				info, err2 := e.Info()

				if err2 != nil {
					return fileList, err2
				}

				if info.Mode().IsRegular() && e.Name()[0] != '.' {
					fileList = append(fileList, FileData{Path: target + e.Name(), Size: info.Size()})
				}
			}
		}
	}

	if err == nil {
		sort.Sort(FileCompare{data: fileList})
	}

	return fileList, err
}

// Buffered printer is required in concurrent code
type Printer struct {
	os *bufio.Writer
}

func (this *Printer) Println(msg string, print bool) {
	if print == true {
		mutex.Lock()

		// Best effort, ignore error
		if w, _ := this.os.Write([]byte(msg + "\n")); w > 0 {
			_ = this.os.Flush()
		}

		mutex.Unlock()
	}
}
