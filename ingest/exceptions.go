/*******************************************************************************
 * Copyright (c) 2025 Genome Research Ltd.
 *
 * Permission is hereby granted, free of charge, to any person obtaining
 * a copy of this software and associated documentation files (the
 * "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish,
 * distribute, sublicense, and/or sell copies of the Software, and to
 * permit persons to whom the Software is furnished to do so, subject to
 * the following conditions:
 *
 * The above copyright notice and this permission notice shall be included
 * in all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
 * EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
 * MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY
 * CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT,
 * TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 ******************************************************************************/

package ingest

import (
	"path/filepath"

	"github.com/inconshreveable/log15"
)

// ExceptionLogFile is the basename of the file that directory failures are
// appended to.
const ExceptionLogFile = "exceptions-last-poll.log"

// ExceptionLog records directories that failed to import, for operators to
// look at.
type ExceptionLog struct {
	logger log15.Logger
}

// NewExceptionLog appends to ExceptionLogFile in dir. An empty dir gives an
// ExceptionLog that discards everything.
func NewExceptionLog(dir string) (*ExceptionLog, error) {
	logger := log15.New()

	if dir == "" {
		logger.SetHandler(log15.DiscardHandler())

		return &ExceptionLog{logger: logger}, nil
	}

	h, err := log15.FileHandler(filepath.Join(dir, ExceptionLogFile), log15.LogfmtFormat())
	if err != nil {
		return nil, err
	}

	logger.SetHandler(h)

	return &ExceptionLog{logger: logger}, nil
}

// Record notes that importing dir failed with err.
func (e *ExceptionLog) Record(dir string, err error) {
	e.logger.Error("exception importing directory", "img_dir", dir, "err", err)
}
