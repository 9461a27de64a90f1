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

package block

import (
	"errors"
	"fmt"

	"github.com/flanglet/kbzip2"
)

var (
	// ErrBadMagic reports a stream header, block or trailer magic mismatch
	ErrBadMagic = errors.New("bad magic")

	// ErrTruncated reports an input ending in the middle of a stream
	ErrTruncated = errors.New("unexpected end of input")

	// ErrCRCMismatch reports a block or stream checksum mismatch
	ErrCRCMismatch = errors.New("CRC mismatch")
)

// FormatError is returned when decoding malformed data. The error code is
// one of the kbzip2.ERR_* values. Errors wrapped by a FormatError (such as
// ErrBadMagic or entropy.ErrIncompleteCode) can be matched with errors.Is.
type FormatError struct {
	Reason string
	Code   int
	Err    error
}

func (this *FormatError) Error() string {
	if this.Err != nil {
		return fmt.Sprintf("Invalid bzip2 data: %s: %v", this.Reason, this.Err)
	}

	return "Invalid bzip2 data: " + this.Reason
}

func (this *FormatError) Unwrap() error {
	return this.Err
}

func newFormatError(err error, format string, args ...interface{}) *FormatError {
	code := kbzip2.ERR_INVALID_FILE

	if errors.Is(err, ErrCRCMismatch) {
		code = kbzip2.ERR_CRC_CHECK
	}

	return &FormatError{Reason: fmt.Sprintf(format, args...), Code: code, Err: err}
}
