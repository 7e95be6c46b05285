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

// Package poll repeatedly discovers acquisition directories below a set of
// roots, imports their new images, and marks acquisitions finished once no new
// files have turned up in them for a while.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/inconshreveable/log15"
	"github.com/wtsi-hgi/imgdb-monitor/discover"
	"github.com/wtsi-hgi/imgdb-monitor/ingest"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval               = 5 * time.Minute
	DefaultLatestFileChangeMargin = 2 * time.Hour
	DefaultPollDirsMarginDays     = 10

	day = 24 * time.Hour
)

var ErrNoRoots = errors.New("no root directories to poll")

// Config says what to poll and how often.
type Config struct {
	Roots []string

	// Interval is the sleep between the end of one cycle and the start of the
	// next.
	Interval time.Duration

	// LatestFileChangeMargin is how long an acquisition must go without a new
	// file before it is marked finished.
	LatestFileChangeMargin time.Duration

	// PollDirsMarginDays excludes directories not modified for this many
	// days, except on an ExhaustiveInitialPoll.
	PollDirsMarginDays    int
	ExhaustiveInitialPoll bool

	// Continuous keeps polling; otherwise Run returns after one cycle.
	Continuous bool

	// Workers is how many directories are imported at once.
	Workers int

	// LogDir receives the blacklist and exception log; empty disables both.
	LogDir string

	Ingest ingest.Config
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}

	if c.LatestFileChangeMargin <= 0 {
		c.LatestFileChangeMargin = DefaultLatestFileChangeMargin
	}

	if c.PollDirsMarginDays <= 0 {
		c.PollDirsMarginDays = DefaultPollDirsMarginDays
	}

	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// Catalog is everything the Loop needs from catalog.Store.
type Catalog interface {
	ingest.Catalog
	ListFinishedFolders(ctx context.Context) ([]string, error)
	ListUnfinishedFolders(ctx context.Context) ([]string, error)
	MarkFinished(ctx context.Context, folder string, ts time.Time) error
	Close() error
}

// CycleReport summarises one pass over the roots.
type CycleReport struct {
	ID       string
	Started  time.Time
	Duration time.Duration

	Dirs          int
	Old           int
	Failed        int
	Inserted      int
	ParseFailures int
	Finished      int
	Compacted     bool
}

// Loop holds everything that lives for as long as the monitor runs: the
// catalog connection, the ProcessedCache and the Blacklist.
type Loop struct {
	cfg          Config
	catalog      Catalog
	engine       *discover.Engine
	orchestrator *ingest.Orchestrator
	cache        *ingest.ProcessedCache
	blacklist    *ingest.Blacklist
	fs           discover.FS
	logger       log15.Logger

	now    func() time.Time
	cycles int
}

// New returns a Loop that imports into cat, using parser on every new image
// path and thumbs (which may be nil) to make thumbnails.
func New(cfg Config, cat Catalog, parser ingest.Parser, thumbs ingest.Thumbnailer,
	logger log15.Logger) (*Loop, error) {
	if len(cfg.Roots) == 0 {
		return nil, ErrNoRoots
	}

	cfg.setDefaults()

	exceptions, err := ingest.NewExceptionLog(cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open exception log: %w", err)
	}

	fsys := discover.OSFS{}
	cache := ingest.NewProcessedCache()
	blacklist := ingest.NewBlacklist(ingest.DefaultBlacklist...)

	return &Loop{
		cfg:          cfg,
		catalog:      cat,
		engine:       discover.New(fsys, logger),
		orchestrator: ingest.New(cfg.Ingest, cat, parser, thumbs, fsys, cache, blacklist, exceptions, logger),
		cache:        cache,
		blacklist:    blacklist,
		fs:           fsys,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Blacklist returns the directories that have failed to import.
func (l *Loop) Blacklist() []string {
	return l.blacklist.Entries()
}

// Close closes the catalog.
func (l *Loop) Close() error {
	return l.catalog.Close()
}

// Run does a Cycle, and if the Loop is Continuous sleeps and repeats until
// ctx is cancelled. A failed cycle is logged and, if continuous, retried after
// the usual interval.
func (l *Loop) Run(ctx context.Context) error {
	for {
		_, err := l.Cycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			l.logger.Error("poll cycle failed", "err", err)
		}

		if !l.cfg.Continuous {
			return err
		}

		l.logger.Info("sleeping", "for", l.cfg.Interval)

		if err := sleep(ctx, l.cfg.Interval); err != nil {
			return err
		}
	}
}

// Cycle does one pass over the roots: it imports new images in every
// discovered directory that isn't finished, blacklisted or too old, then marks
// finished every acquisition that has had no new file within the margin.
//
// If ctx is cancelled, directories already being imported are completed but no
// more are started, and ctx's error is returned.
func (l *Loop) Cycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{ID: uuid.NewString(), Started: l.now()}
	logger := l.logger.New("cycle", report.ID)
	cutoff := report.Started.Add(-l.cfg.LatestFileChangeMargin)

	logger.Info("starting poll", "roots", l.cfg.Roots)

	l.cycles++

	finished, err := l.catalog.ListFinishedFolders(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list finished acquisitions: %w", err)
	}

	l.importDirs(ctx, logger, discover.Union(discover.NewPathSet(finished...), l.blacklist), &report)

	if err := ctx.Err(); err != nil {
		l.saveBlacklist(logger)

		return report, err
	}

	errm := l.finishAcquisitions(ctx, logger, cutoff, &report)

	if report.Compacted = l.cache.Compact(cutoff); report.Compacted {
		logger.Info("cleared processed file cache")
	}

	l.saveBlacklist(logger)

	report.Duration = time.Since(report.Started)

	logger.Info("poll done", "dirs", report.Dirs, "old", report.Old, "failed", report.Failed,
		"inserted", report.Inserted, "finished", report.Finished, "elapsed", report.Duration)

	return report, errm
}

func (l *Loop) importDirs(ctx context.Context, logger log15.Logger, skip discover.PathSet, report *CycleReport) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	g.SetLimit(l.cfg.Workers)

	ageCutoff := l.ageCutoff(report.Started)

	for dir := range l.engine.Discover(l.cfg.Roots, skip) {
		if ctx.Err() != nil {
			break
		}

		if l.tooOld(dir, ageCutoff) {
			logger.Debug("skipping old directory", "dir", dir)

			report.Old++

			continue
		}

		g.Go(func() error {
			dirReport, err := l.orchestrator.ProcessDir(ctx, dir)

			mu.Lock()
			defer mu.Unlock()

			report.Dirs++
			report.Inserted += dirReport.Inserted
			report.ParseFailures += dirReport.ParseFailures

			if err != nil && dirReport.State == ingest.StateFailed {
				report.Failed++
			}

			return nil
		})
	}

	g.Wait() //nolint:errcheck
}

func (l *Loop) ageCutoff(start time.Time) time.Time {
	if l.cycles == 1 && l.cfg.ExhaustiveInitialPoll {
		return time.Time{}
	}

	return start.Add(-time.Duration(l.cfg.PollDirsMarginDays) * day)
}

func (l *Loop) tooOld(dir string, cutoff time.Time) bool {
	if cutoff.IsZero() {
		return false
	}

	fi, err := l.fs.Stat(dir)
	if err != nil {
		return false
	}

	return fi.ModTime().Before(cutoff)
}

// finishAcquisitions marks finished each unfinished acquisition whose most
// recently processed file was seen before cutoff. Acquisitions we have seen
// no files of in this process are left alone.
func (l *Loop) finishAcquisitions(ctx context.Context, logger log15.Logger, cutoff time.Time,
	report *CycleReport) error {
	unfinished, err := l.catalog.ListUnfinishedFolders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unfinished acquisitions: %w", err)
	}

	var errm *multierror.Error

	for _, folder := range unfinished {
		last, ok := l.cache.LastSeen(folder)
		if !ok || !last.Before(cutoff) {
			continue
		}

		if err := l.catalog.MarkFinished(ctx, folder, cutoff); err != nil {
			errm = multierror.Append(errm, fmt.Errorf("%s: %w", folder, err))

			continue
		}

		logger.Info("acquisition finished", "folder", folder, "last_file", last)

		report.Finished++
	}

	return errm.ErrorOrNil()
}

func (l *Loop) saveBlacklist(logger log15.Logger) {
	if l.cfg.LogDir == "" {
		return
	}

	if err := l.blacklist.Save(l.cfg.LogDir); err != nil {
		logger.Warn("failed to save blacklist", "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
