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
	"context"
	"errors"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/wtsi-hgi/imgdb-monitor/catalog"
)

// sleep waits for d, returning early with the context's error if it is
// cancelled first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// permanent errors are answers from the catalog, not failures to reach it.
func permanent(err error) bool {
	return errors.Is(err, catalog.ErrAlreadyExists) ||
		errors.Is(err, catalog.ErrIntegrity) ||
		errors.Is(err, catalog.ErrNotFound)
}

// retry calls fn up to attempts times, waiting delay between tries, until it
// returns nil or a permanent error, or ctx is done.
func retry(ctx context.Context, logger log15.Logger, attempts int, delay time.Duration, op string,
	fn func() error) error {
	var err error

	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || permanent(err) || attempt >= attempts || ctx.Err() != nil {
			return err
		}

		logger.Warn("catalog operation failed, retrying", "op", op, "attempt", attempt, "delay", delay, "err", err)

		if errs := sleep(ctx, delay); errs != nil {
			return err
		}
	}
}
