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

// Package ingest imports the images of one acquisition directory into the
// catalog.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/facette/natsort"
	"github.com/inconshreveable/log15"
	"github.com/wtsi-hgi/imgdb-monitor/catalog"
	"github.com/wtsi-hgi/imgdb-monitor/discover"
	"github.com/wtsi-hgi/imgdb-monitor/filenames"
	"github.com/wtsi-hgi/imgdb-monitor/thumbnail"
)

const (
	DefaultThumbAttempts   = 3
	DefaultThumbDelay      = 10 * time.Second
	DefaultCatalogAttempts = 3
	DefaultCatalogDelay    = 5 * time.Second
	DefaultProgressEvery   = 100
)

var (
	ErrAllUnparsable        = errors.New("no file in directory could be parsed")
	ErrTooManyParseFailures = errors.New("too many unparsable files in directory")
)

// Catalog is the part of catalog.Store the Orchestrator writes to.
type Catalog interface {
	ImageExists(ctx context.Context, path string) (bool, error)
	ResolveOrCreateAcquisition(ctx context.Context, meta *filenames.ImageMetadata) (int64, error)
	InsertImage(ctx context.Context, meta *filenames.ImageMetadata, acqID int64) (int64, error)
	QueueUpload(ctx context.Context, meta *filenames.ImageMetadata, acqID, imageID int64) error
}

// Parser turns a path into metadata; see filenames.Registry.
type Parser interface {
	Parse(path string) (*filenames.ImageMetadata, error)
}

// Thumbnailer makes a thumbnail of src at dest; see thumbnail.Service.
type Thumbnailer interface {
	MakeThumbnail(ctx context.Context, src, dest string) error
}

// Config tunes an Orchestrator. Zero values get the defaults; negative delays
// mean no delay.
type Config struct {
	// ThumbDir is where thumbnails are written; empty disables them.
	ThumbDir      string
	ThumbAttempts int
	ThumbDelay    time.Duration

	CatalogAttempts int
	CatalogDelay    time.Duration

	// MaxParseFailures, when positive, fails a directory with more
	// unparsable new files than this. A directory where every new file is
	// unparsable always fails.
	MaxParseFailures int

	ProgressEvery int
}

func (c *Config) setDefaults() {
	if c.ThumbAttempts <= 0 {
		c.ThumbAttempts = DefaultThumbAttempts
	}

	if c.ThumbDelay < 0 {
		c.ThumbDelay = 0
	} else if c.ThumbDelay == 0 {
		c.ThumbDelay = DefaultThumbDelay
	}

	if c.CatalogAttempts <= 0 {
		c.CatalogAttempts = DefaultCatalogAttempts
	}

	if c.CatalogDelay < 0 {
		c.CatalogDelay = 0
	} else if c.CatalogDelay == 0 {
		c.CatalogDelay = DefaultCatalogDelay
	}

	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
}

// DirState is how far processing of a directory got.
type DirState int

const (
	StateDiscovered DirState = iota
	StateListed
	StateProcessing
	StateDone
	StateFailed
)

func (s DirState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateListed:
		return "listed"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("DirState(%d)", int(s))
	}
}

// DirReport summarises what ProcessDir did with one directory.
type DirReport struct {
	Dir   string
	State DirState

	// Listed is how many image files the directory holds, New how many of
	// those were not yet in the ProcessedCache.
	Listed        int
	New           int
	Inserted      int
	Existing      int
	Thumbnails    int
	ParseFailures int

	Err error
}

// Orchestrator imports directories of images. It is safe to call ProcessDir
// from multiple goroutines at once.
type Orchestrator struct {
	cfg        Config
	catalog    Catalog
	parser     Parser
	thumbs     Thumbnailer
	fs         discover.FS
	cache      *ProcessedCache
	blacklist  *Blacklist
	exceptions *ExceptionLog
	logger     log15.Logger

	now func() time.Time
}

// New returns an Orchestrator. thumbs may be nil, in which case no
// thumbnails are made; a nil fsys means the real filesystem.
func New(cfg Config, cat Catalog, parser Parser, thumbs Thumbnailer, fsys discover.FS,
	cache *ProcessedCache, blacklist *Blacklist, exceptions *ExceptionLog, logger log15.Logger) *Orchestrator {
	cfg.setDefaults()

	if fsys == nil {
		fsys = discover.OSFS{}
	}

	return &Orchestrator{
		cfg:        cfg,
		catalog:    cat,
		parser:     parser,
		thumbs:     thumbs,
		fs:         fsys,
		cache:      cache,
		blacklist:  blacklist,
		exceptions: exceptions,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessDir imports every image file in dir that is not already in the
// ProcessedCache.
//
// Files that cannot be parsed are logged and skipped. If anything else goes
// wrong, or no file in the directory could be parsed, the directory is
// blacklisted, and the error is recorded in the exception log and returned.
// If ctx is cancelled the file being worked on is finished, including its
// upload row and thumbnail, and then ctx's error is returned, without
// blacklisting.
func (o *Orchestrator) ProcessDir(ctx context.Context, dir string) (DirReport, error) {
	report := DirReport{Dir: dir, State: StateDiscovered}
	logger := o.logger.New("dir", dir)

	files, err := discover.ListImageFiles(o.fs, dir)
	if err != nil {
		return o.fail(logger, report, fmt.Errorf("listing %s: %w", dir, err))
	}

	report.Listed = len(files)
	files = o.newFiles(files)
	report.State = StateListed
	report.New = len(files)

	if len(files) == 0 {
		report.State = StateDone

		return report, nil
	}

	logger.Info("importing images", "new", len(files))

	report.State = StateProcessing

	// cancellation is only honoured between files
	fileCtx := context.WithoutCancel(ctx)

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			report.Err = err

			return report, err
		}

		if err := o.processFile(fileCtx, logger, path, &report); err != nil {
			if ctx.Err() != nil {
				report.Err = ctx.Err()

				return report, report.Err
			}

			return o.fail(logger, report, err)
		}

		if (i+1)%o.cfg.ProgressEvery == 0 {
			logger.Info("import progress", "processed", i+1, "total", len(files))
		}
	}

	if err := o.checkParseFailures(report); err != nil {
		return o.fail(logger, report, err)
	}

	report.State = StateDone

	logger.Info("imported images", "inserted", report.Inserted, "existing", report.Existing,
		"thumbnails", report.Thumbnails, "unparsable", report.ParseFailures)

	return report, nil
}

func (o *Orchestrator) newFiles(files []string) []string {
	unseen := files[:0]

	for _, f := range files {
		if !o.cache.Contains(f) {
			unseen = append(unseen, f)
		}
	}

	natsort.Sort(unseen)

	return unseen
}

func (o *Orchestrator) checkParseFailures(report DirReport) error {
	switch {
	case report.ParseFailures == 0:
		return nil
	case report.ParseFailures == report.New:
		return fmt.Errorf("%w: %d files", ErrAllUnparsable, report.ParseFailures)
	case o.cfg.MaxParseFailures > 0 && report.ParseFailures > o.cfg.MaxParseFailures:
		return fmt.Errorf("%w: %d of %d", ErrTooManyParseFailures, report.ParseFailures, report.New)
	default:
		return nil
	}
}

func (o *Orchestrator) fail(logger log15.Logger, report DirReport, err error) (DirReport, error) {
	report.State = StateFailed
	report.Err = err

	logger.Error("directory import failed, blacklisting", "err", err)
	o.blacklist.Add(report.Dir)
	o.exceptions.Record(report.Dir, err)

	return report, err
}

func (o *Orchestrator) processFile(ctx context.Context, logger log15.Logger, path string, report *DirReport) error {
	meta, err := o.parser.Parse(path)
	if err != nil {
		logger.Warn("could not parse image path", "path", path, "err", err)

		report.ParseFailures++
		o.cache.Add(path, "", o.now())

		return nil
	}

	if meta.IsThumbnail {
		report.Thumbnails++
		o.cache.Add(path, meta.AcquisitionFolder(), o.now())

		return nil
	}

	inserted, err := o.importImage(ctx, logger, meta)
	if err != nil {
		return err
	}

	if inserted {
		report.Inserted++
	} else {
		report.Existing++
	}

	o.cache.Add(path, meta.AcquisitionFolder(), o.now())

	return nil
}

// importImage adds meta to the catalog, returning false if it was already
// there.
func (o *Orchestrator) importImage(ctx context.Context, logger log15.Logger, meta *filenames.ImageMetadata) (bool, error) {
	var exists bool

	if err := o.retry(ctx, logger, "image exists", func() (err error) {
		exists, err = o.catalog.ImageExists(ctx, meta.Path)

		return err
	}); err != nil || exists {
		return false, err
	}

	var acqID, imageID int64

	if err := o.retry(ctx, logger, "resolve acquisition", func() (err error) {
		acqID, err = o.catalog.ResolveOrCreateAcquisition(ctx, meta)

		return err
	}); err != nil {
		return false, err
	}

	err := o.retry(ctx, logger, "insert image", func() (err error) {
		imageID, err = o.catalog.InsertImage(ctx, meta, acqID)

		return err
	})
	if errors.Is(err, catalog.ErrAlreadyExists) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if meta.UploadToS3() {
		if err := o.retry(ctx, logger, "queue upload", func() error {
			return o.catalog.QueueUpload(ctx, meta, acqID, imageID)
		}); err != nil {
			return true, err
		}
	}

	o.makeThumbnail(ctx, logger, meta)

	return true, nil
}

func (o *Orchestrator) retry(ctx context.Context, logger log15.Logger, op string, fn func() error) error {
	return retry(ctx, logger, o.cfg.CatalogAttempts, o.cfg.CatalogDelay, op, fn)
}

// makeThumbnail tries a few times to make meta's thumbnail, if it wants one
// and does not have one. Failure is only logged.
func (o *Orchestrator) makeThumbnail(ctx context.Context, logger log15.Logger, meta *filenames.ImageMetadata) {
	if o.thumbs == nil || o.cfg.ThumbDir == "" || !meta.MakeThumb {
		return
	}

	dest := thumbnail.PathFor(o.cfg.ThumbDir, meta.Path)

	if _, err := os.Stat(dest); err == nil {
		return
	}

	for attempt := 1; attempt <= o.cfg.ThumbAttempts; attempt++ {
		err := o.thumbs.MakeThumbnail(ctx, meta.Path, dest)
		if err == nil {
			return
		}

		logger.Error("failed to make thumbnail", "path", meta.Path, "thumb", dest,
			"attempt", attempt, "of", o.cfg.ThumbAttempts, "err", err)

		if attempt == o.cfg.ThumbAttempts || sleep(ctx, o.cfg.ThumbDelay) != nil {
			return
		}
	}
}
