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
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/wtsi-hgi/imgdb-monitor/catalog"
	"github.com/wtsi-hgi/imgdb-monitor/discover"
	"github.com/wtsi-hgi/imgdb-monitor/filenames"
	"github.com/wtsi-hgi/imgdb-monitor/thumbnail"
)

var errTransient = errors.New("connection refused")

type fakeCatalog struct {
	mu sync.Mutex

	images  map[string]int64
	acqs    map[string]int64
	inserts []string
	exists  int
	uploads int

	transientFailures int
	insertErr         error
	afterInsert       func()
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{images: make(map[string]int64), acqs: make(map[string]int64)}
}

func (f *fakeCatalog) ImageExists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exists++

	_, ok := f.images[path]

	return ok, nil
}

func (f *fakeCatalog) ResolveOrCreateAcquisition(_ context.Context, meta *filenames.ImageMetadata) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	folder := meta.AcquisitionFolder()

	id, ok := f.acqs[folder]
	if !ok {
		id = int64(len(f.acqs) + 1)
		f.acqs[folder] = id
	}

	return id, nil
}

func (f *fakeCatalog) InsertImage(_ context.Context, meta *filenames.ImageMetadata, _ int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.transientFailures > 0 {
		f.transientFailures--

		return 0, errTransient
	}

	if f.insertErr != nil {
		return 0, f.insertErr
	}

	f.inserts = append(f.inserts, meta.Path)

	if _, ok := f.images[meta.Path]; ok {
		return 0, catalog.ErrAlreadyExists
	}

	id := int64(len(f.images) + 1)
	f.images[meta.Path] = id

	if f.afterInsert != nil {
		f.afterInsert()
	}

	return id, nil
}

func (f *fakeCatalog) QueueUpload(ctx context.Context, _ *filenames.ImageMetadata, _, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploads++

	return nil
}

type fakeParser struct{}

func (fakeParser) Parse(path string) (*filenames.ImageMetadata, error) {
	base := filepath.Base(path)

	if strings.HasPrefix(base, "bad") {
		return nil, fmt.Errorf("%w: %s", filenames.ErrUnparsableFilename, path)
	}

	return &filenames.ImageMetadata{
		Path:        path,
		Filename:    base,
		Project:     "proj",
		Plate:       "P012345",
		Well:        "A01",
		Site:        1,
		Channel:     1,
		Timepoint:   1,
		Year:        2024,
		Month:       1,
		Day:         2,
		IsThumbnail: strings.Contains(base, "_thumb"),
		MakeThumb:   true,
	}, nil
}

type fakeThumbnailer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeThumbnailer) MakeThumbnail(ctx context.Context, src, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, src)

	return f.err
}

func writeFiles(dir string, names ...string) {
	So(os.MkdirAll(dir, 0o755), ShouldBeNil)

	for _, name := range names {
		So(os.WriteFile(filepath.Join(dir, name), nil, 0o600), ShouldBeNil)
	}
}

func discardLogger() log15.Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())

	return l
}

func TestProcessDir(t *testing.T) {
	Convey("Given an Orchestrator", t, func() {
		root := t.TempDir()
		logDir := t.TempDir()
		thumbDir := filepath.Join(t.TempDir(), "thumbs")

		cat := newFakeCatalog()
		thumbs := &fakeThumbnailer{}
		cache := NewProcessedCache()
		blacklist := NewBlacklist()

		exceptions, err := NewExceptionLog(logDir)
		So(err, ShouldBeNil)

		o := New(Config{ThumbDir: thumbDir, ThumbDelay: -1, CatalogDelay: -1},
			cat, fakeParser{}, thumbs, nil, cache, blacklist, exceptions, discardLogger())

		ctx := context.Background()
		dir := filepath.Join(root, "plate")

		Convey("new images are imported in natural order, with thumbnails", func() {
			writeFiles(dir, "img10.tif", "img2.tif", "img1.tif", "notes.txt")

			report, err := o.ProcessDir(ctx, dir)
			So(err, ShouldBeNil)
			So(report.State, ShouldEqual, StateDone)
			So(report.Listed, ShouldEqual, 3)
			So(report.New, ShouldEqual, 3)
			So(report.Inserted, ShouldEqual, 3)
			So(cat.inserts, ShouldResemble, []string{
				filepath.Join(dir, "img1.tif"),
				filepath.Join(dir, "img2.tif"),
				filepath.Join(dir, "img10.tif"),
			})
			So(cat.uploads, ShouldEqual, 3)
			So(thumbs.calls, ShouldHaveLength, 3)
			So(cache.Len(), ShouldEqual, 3)

			_, ok := cache.LastSeen(dir)
			So(ok, ShouldBeTrue)

			Convey("and running again with no new files inserts nothing", func() {
				report, err := o.ProcessDir(ctx, dir)
				So(err, ShouldBeNil)
				So(report.State, ShouldEqual, StateDone)
				So(report.New, ShouldEqual, 0)
				So(cat.inserts, ShouldHaveLength, 3)
				So(cat.exists, ShouldEqual, 3)
				So(cache.Len(), ShouldEqual, 3)
			})

			Convey("and a fresh cache finds them already cataloged", func() {
				o2 := New(Config{ThumbDir: thumbDir, ThumbDelay: -1, CatalogDelay: -1},
					cat, fakeParser{}, thumbs, nil, NewProcessedCache(), blacklist, exceptions, discardLogger())

				report, err := o2.ProcessDir(ctx, dir)
				So(err, ShouldBeNil)
				So(report.Existing, ShouldEqual, 3)
				So(report.Inserted, ShouldEqual, 0)
				So(cat.inserts, ShouldHaveLength, 3)
				So(thumbs.calls, ShouldHaveLength, 3)
			})
		})

		Convey("a directory whose only file cannot be parsed is blacklisted", func() {
			writeFiles(dir, "bad.tif")

			report, err := o.ProcessDir(ctx, dir)
			So(errors.Is(err, ErrAllUnparsable), ShouldBeTrue)
			So(report.State, ShouldEqual, StateFailed)
			So(blacklist.Contains(dir), ShouldBeTrue)

			logged, err := os.ReadFile(filepath.Join(logDir, ExceptionLogFile))
			So(err, ShouldBeNil)
			So(string(logged), ShouldContainSubstring, dir)

			Convey("and is not discovered again", func() {
				dirs := slices.Collect(discover.New(nil, nil).Discover([]string{root}, blacklist))
				So(dirs, ShouldBeEmpty)
			})
		})

		Convey("an unparsable file among good ones is skipped", func() {
			writeFiles(dir, "a.tif", "bad.tif", "b.tif")

			report, err := o.ProcessDir(ctx, dir)
			So(err, ShouldBeNil)
			So(report.State, ShouldEqual, StateDone)
			So(report.ParseFailures, ShouldEqual, 1)
			So(report.Inserted, ShouldEqual, 2)
			So(blacklist.Contains(dir), ShouldBeFalse)
			So(cache.Contains(filepath.Join(dir, "bad.tif")), ShouldBeTrue)
		})

		Convey("a new batch of only unparsable files fails a directory with earlier good images", func() {
			writeFiles(dir, "a.tif")

			_, err := o.ProcessDir(ctx, dir)
			So(err, ShouldBeNil)

			writeFiles(dir, "bad1.tif", "bad2.tif")

			report, err := o.ProcessDir(ctx, dir)
			So(errors.Is(err, ErrAllUnparsable), ShouldBeTrue)
			So(report.Listed, ShouldEqual, 3)
			So(report.New, ShouldEqual, 2)
			So(blacklist.Contains(dir), ShouldBeTrue)
		})

		Convey("too many unparsable files fail the directory", func() {
			o.cfg.MaxParseFailures = 1

			writeFiles(dir, "a.tif", "bad1.tif", "bad2.tif")

			_, err := o.ProcessDir(ctx, dir)
			So(errors.Is(err, ErrTooManyParseFailures), ShouldBeTrue)
			So(blacklist.Contains(dir), ShouldBeTrue)
		})

		Convey("vendor thumbnails are remembered but not cataloged", func() {
			writeFiles(dir, "a.tif", "a_thumb.tif")

			report, err := o.ProcessDir(ctx, dir)
			So(err, ShouldBeNil)
			So(report.Thumbnails, ShouldEqual, 1)
			So(report.Inserted, ShouldEqual, 1)
			So(cat.inserts, ShouldResemble, []string{filepath.Join(dir, "a.tif")})
			So(cache.Len(), ShouldEqual, 2)
		})

		Convey("transient catalog errors are retried", func() {
			cat.transientFailures = 2

			writeFiles(dir, "a.tif")

			report, err := o.ProcessDir(ctx, dir)
			So(err, ShouldBeNil)
			So(report.Inserted, ShouldEqual, 1)
		})

		Convey("catalog errors that persist fail the directory", func() {
			cat.insertErr = errTransient

			writeFiles(dir, "a.tif", "b.tif")

			report, err := o.ProcessDir(ctx, dir)
			So(errors.Is(err, errTransient), ShouldBeTrue)
			So(report.State, ShouldEqual, StateFailed)
			So(blacklist.Contains(dir), ShouldBeTrue)
			So(cache.Len(), ShouldEqual, 0)
		})

		Convey("an image inserted by someone else is not thumbnailed again", func() {
			writeFiles(dir, "a.tif")

			cat.insertErr = catalog.ErrAlreadyExists

			report, err := o.ProcessDir(ctx, dir)
			So(err, ShouldBeNil)
			So(report.Existing, ShouldEqual, 1)
			So(thumbs.calls, ShouldBeEmpty)
		})

		Convey("thumbnail failures are tried 3 times and ignored", func() {
			thumbs.err = errors.New("truncated tiff")

			writeFiles(dir, "a.tif")

			report, err := o.ProcessDir(ctx, dir)
			So(err, ShouldBeNil)
			So(report.Inserted, ShouldEqual, 1)
			So(thumbs.calls, ShouldHaveLength, DefaultThumbAttempts)
		})

		Convey("existing thumbnails are not remade", func() {
			writeFiles(dir, "a.tif")

			dest := thumbnail.PathFor(thumbDir, filepath.Join(dir, "a.tif"))
			writeFiles(filepath.Dir(dest), filepath.Base(dest))

			_, err := o.ProcessDir(ctx, dir)
			So(err, ShouldBeNil)
			So(thumbs.calls, ShouldBeEmpty)
		})

		Convey("a cancelled context stops without blacklisting", func() {
			writeFiles(dir, "a.tif", "b.tif")

			cctx, cancel := context.WithCancel(ctx)
			cancel()

			report, err := o.ProcessDir(cctx, dir)
			So(err, ShouldEqual, context.Canceled)
			So(report.Inserted, ShouldEqual, 0)
			So(blacklist.Contains(dir), ShouldBeFalse)
		})

		Convey("cancelling while an image is inserted still finishes that image", func() {
			writeFiles(dir, "a.tif", "b.tif")

			cctx, cancel := context.WithCancel(ctx)
			defer cancel()

			cat.afterInsert = cancel

			report, err := o.ProcessDir(cctx, dir)
			So(err, ShouldEqual, context.Canceled)
			So(report.Inserted, ShouldEqual, 1)
			So(cat.inserts, ShouldResemble, []string{filepath.Join(dir, "a.tif")})
			So(cat.uploads, ShouldEqual, 1)
			So(thumbs.calls, ShouldResemble, []string{filepath.Join(dir, "a.tif")})
			So(cache.Contains(filepath.Join(dir, "a.tif")), ShouldBeTrue)
			So(cache.Contains(filepath.Join(dir, "b.tif")), ShouldBeFalse)
			So(blacklist.Contains(dir), ShouldBeFalse)

			Convey("and the next run picks up where it stopped", func() {
				cat.afterInsert = nil

				report, err := o.ProcessDir(ctx, dir)
				So(err, ShouldBeNil)
				So(report.New, ShouldEqual, 1)
				So(report.Inserted, ShouldEqual, 1)
				So(cat.uploads, ShouldEqual, 2)
			})
		})

		Convey("an unlistable directory is blacklisted", func() {
			missing := filepath.Join(root, "missing")

			report, err := o.ProcessDir(ctx, missing)
			So(err, ShouldNotBeNil)
			So(report.State, ShouldEqual, StateFailed)
			So(blacklist.Contains(missing), ShouldBeTrue)
		})
	})
}

func TestProcessedCache(t *testing.T) {
	Convey("A ProcessedCache", t, func() {
		c := NewProcessedCache()
		now := time.Now()

		So(c.Compact(now), ShouldBeFalse)

		c.Add("/a/1.tif", "/a", now.Add(-3*time.Hour))
		c.Add("/a/2.tif", "/a", now.Add(-2*time.Hour))
		c.Add("/b/bad.tif", "", now.Add(-time.Hour))

		So(c.Contains("/a/1.tif"), ShouldBeTrue)
		So(c.Contains("/a/3.tif"), ShouldBeFalse)
		So(c.Len(), ShouldEqual, 3)

		last, ok := c.LastSeen("/a")
		So(ok, ShouldBeTrue)
		So(last.Equal(now.Add(-2*time.Hour)), ShouldBeTrue)

		_, ok = c.LastSeen("")
		So(ok, ShouldBeFalse)

		Convey("is only compacted once everything in it is older than the cutoff", func() {
			So(c.Compact(now.Add(-90*time.Minute)), ShouldBeFalse)
			So(c.Len(), ShouldEqual, 3)

			So(c.Compact(now.Add(-30*time.Minute)), ShouldBeTrue)
			So(c.Len(), ShouldEqual, 0)

			_, ok := c.LastSeen("/a")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestBlacklist(t *testing.T) {
	Convey("A Blacklist", t, func() {
		b := NewBlacklist(DefaultBlacklist...)
		b.Add("/share/broken/plate/")
		b.Add("/share/broken/plate")

		So(b.Contains("/share/mikro2/nikon/trash"), ShouldBeTrue)
		So(b.Contains("/share/mikro2/nikon/trash/old/plate"), ShouldBeTrue)
		So(b.Contains("/share/mikro2/nikon/trashcan"), ShouldBeFalse)
		So(b.Contains("/share/broken/plate"), ShouldBeTrue)
		So(b.Contains("/share/broken"), ShouldBeFalse)
		So(b.Entries(), ShouldHaveLength, len(DefaultBlacklist)+1)

		Convey("can be saved as JSON and loaded again", func() {
			dir := t.TempDir()

			So(b.Save(dir), ShouldBeNil)

			data, err := os.ReadFile(filepath.Join(dir, BlacklistFile))
			So(err, ShouldBeNil)
			So(string(data), ShouldStartWith, `["/share/mikro/IMX/MDC_pharmbio/trash",`)

			loaded, err := LoadBlacklist(filepath.Join(dir, BlacklistFile))
			So(err, ShouldBeNil)
			So(loaded.Entries(), ShouldResemble, b.Entries())
		})
	})
}
