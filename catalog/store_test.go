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

package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/wtsi-hgi/imgdb-monitor/filenames"
)

const postgresDSNEnvKey = "IMGDB_TEST_POSTGRES_DSN"

func TestStore(t *testing.T) {
	Convey("With a SQLite catalog", t, func() {
		s := newSQLiteStore(t)

		testStore(s)
	})

	dsn := os.Getenv(postgresDSNEnvKey)
	if dsn == "" || !(strings.Contains(dsn, "localhost") || strings.Contains(dsn, "127.0.0.1")) {
		return
	}

	Convey("With a Postgres catalog", t, func() {
		s := newPostgresStore(t, dsn)

		testStore(s)
	})
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "catalog.sqlite") +
		"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=1"

	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open sqlite catalog: %s", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func newPostgresStore(t *testing.T, dsn string) *Store {
	t.Helper()

	s, err := Open(context.Background(), Config{Driver: DriverPostgres, DSN: dsn, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open postgres catalog: %s", err)
	}

	t.Cleanup(func() { s.Close() })

	for _, table := range []string{uploadTable, imagesTable, channelMapTable, acquisitionTable} {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS " + table + " CASCADE"); err != nil {
			t.Fatalf("drop %s: %s", table, err)
		}
	}

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("recreate schema: %s", err)
	}

	return s
}

func testMeta(folder, file string) *filenames.ImageMetadata {
	return &filenames.ImageMetadata{
		Path:         filepath.Join(folder, file),
		Project:      "projX",
		Plate:        "P012345-plate",
		Well:         "B04",
		Site:         5,
		Channel:      2,
		Timepoint:    1,
		Year:         2024,
		Month:        1,
		Day:          2,
		Microscope:   "squid",
		ChannelMapID: 22,
	}
}

func countRows(s *Store, table string, where sq.Eq) int {
	var n int

	query, args, err := s.sb.Select("COUNT(*)").From(table).Where(where).ToSql()
	So(err, ShouldBeNil)
	So(s.db.QueryRow(query, args...).Scan(&n), ShouldBeNil)

	return n
}

func testStore(s *Store) {
	ctx := context.Background()

	Convey("EnsureSchema can be run again", func() {
		So(s.EnsureSchema(ctx), ShouldBeNil)
	})

	Convey("ResolveOrCreateAcquisition creates an acquisition once", func() {
		meta := testMeta("/share/squid/projX/plateA", "a.tiff")

		id, err := s.ResolveOrCreateAcquisition(ctx, meta)
		So(err, ShouldBeNil)
		So(id, ShouldBeGreaterThan, 0)

		again, err := s.ResolveOrCreateAcquisition(ctx, testMeta("/share/squid/projX/plateA", "b.tiff"))
		So(err, ShouldBeNil)
		So(again, ShouldEqual, id)
		So(countRows(s, acquisitionTable, sq.Eq{"folder": "/share/squid/projX/plateA"}), ShouldEqual, 1)

		acqs, err := s.ListAcquisitions(ctx, false)
		So(err, ShouldBeNil)
		So(len(acqs), ShouldEqual, 1)
		So(acqs[0].PlateBarcode, ShouldEqual, "P012345")
		So(acqs[0].Name, ShouldEqual, "P012345-plate")
		So(acqs[0].ChannelMapID, ShouldEqual, 22)
		So(acqs[0].Imaged.Valid, ShouldBeTrue)
		So(acqs[0].Imaged.Time.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
		So(acqs[0].Finished.Valid, ShouldBeFalse)

		Convey("and an acquisition without a date gets a NULL imaged", func() {
			undated := testMeta("/share/squid/projX/plateB", "a.tiff")
			undated.Year = 0

			_, err := s.ResolveOrCreateAcquisition(ctx, undated)
			So(err, ShouldBeNil)

			acqs, err := s.ListAcquisitions(ctx, false)
			So(err, ShouldBeNil)
			So(len(acqs), ShouldEqual, 2)

			for _, a := range acqs {
				if a.Folder == "/share/squid/projX/plateB" {
					So(a.Imaged.Valid, ShouldBeFalse)
				}
			}
		})
	})

	Convey("Concurrent ResolveOrCreateAcquisition calls for one folder agree on one row", func() {
		const n = 8

		folder := "/share/nikon/projX/racing"
		ids := make([]int64, n)
		errs := make([]error, n)

		var wg sync.WaitGroup

		for i := range n {
			wg.Add(1)

			go func() {
				defer wg.Done()

				ids[i], errs[i] = s.ResolveOrCreateAcquisition(ctx, testMeta(folder, fmt.Sprintf("%d.tif", i)))
			}()
		}

		wg.Wait()

		for i := range n {
			So(errs[i], ShouldBeNil)
			So(ids[i], ShouldEqual, ids[0])
		}

		So(countRows(s, acquisitionTable, sq.Eq{"folder": folder}), ShouldEqual, 1)
	})

	Convey("Channel map overrides apply exact plate first, then the project wildcard", func() {
		So(s.SetChannelMapping(ctx, "projX", AnyPlate, 30), ShouldBeNil)

		wild := testMeta("/share/a/wild", "x.tif")
		wild.Plate = "other-plate"

		_, err := s.ResolveOrCreateAcquisition(ctx, wild)
		So(err, ShouldBeNil)

		So(s.SetChannelMapping(ctx, "projX", "exact-plate", 40), ShouldBeNil)
		So(s.SetChannelMapping(ctx, "projX", "exact-plate", 41), ShouldBeNil)

		exact := testMeta("/share/a/exact", "x.tif")
		exact.Plate = "exact-plate"

		_, err = s.ResolveOrCreateAcquisition(ctx, exact)
		So(err, ShouldBeNil)

		plain := testMeta("/share/a/plain", "x.tif")
		plain.Project = "projY"

		_, err = s.ResolveOrCreateAcquisition(ctx, plain)
		So(err, ShouldBeNil)

		acqs, err := s.ListAcquisitions(ctx, false)
		So(err, ShouldBeNil)

		maps := make(map[string]int)
		for _, a := range acqs {
			maps[a.Folder] = a.ChannelMapID
		}

		So(maps, ShouldResemble, map[string]int{
			"/share/a/wild":  30,
			"/share/a/exact": 41,
			"/share/a/plain": 22,
		})
	})

	Convey("Inserting the same image twice leaves one row", func() {
		meta := testMeta("/share/squid/projX/plateA", "a.tiff")
		meta.ChannelName = "BF_LED_matrix_full"

		acqID, err := s.ResolveOrCreateAcquisition(ctx, meta)
		So(err, ShouldBeNil)

		exists, err := s.ImageExists(ctx, meta.Path)
		So(err, ShouldBeNil)
		So(exists, ShouldBeFalse)

		imgID, err := s.InsertImage(ctx, meta, acqID)
		So(err, ShouldBeNil)
		So(imgID, ShouldBeGreaterThan, 0)

		_, err = s.InsertImage(ctx, meta, acqID)
		So(errors.Is(err, ErrAlreadyExists), ShouldBeTrue)
		So(countRows(s, imagesTable, sq.Eq{"path": meta.Path}), ShouldEqual, 1)

		exists, err = s.ImageExists(ctx, meta.Path)
		So(err, ShouldBeNil)
		So(exists, ShouldBeTrue)

		acqs, err := s.ListAcquisitions(ctx, true)
		So(err, ShouldBeNil)
		So(len(acqs), ShouldEqual, 1)
		So(acqs[0].Images, ShouldEqual, 1)

		Convey("and queuing its upload twice leaves one row", func() {
			So(s.QueueUpload(ctx, meta, acqID, imgID), ShouldBeNil)
			So(s.QueueUpload(ctx, meta, acqID, imgID), ShouldBeNil)
			So(countRows(s, uploadTable, sq.Eq{"path": meta.Path, "status": uploadWaiting}), ShouldEqual, 1)
		})

		Convey("and it can be deleted once", func() {
			So(s.DeleteImage(ctx, meta.Path), ShouldBeNil)
			So(errors.Is(s.DeleteImage(ctx, meta.Path), ErrNotFound), ShouldBeTrue)

			exists, err := s.ImageExists(ctx, meta.Path)
			So(err, ShouldBeNil)
			So(exists, ShouldBeFalse)
		})
	})

	Convey("Finishing and unfinishing acquisitions", func() {
		id, err := s.ResolveOrCreateAcquisition(ctx, testMeta("/share/f/one", "a.tif"))
		So(err, ShouldBeNil)

		_, err = s.ResolveOrCreateAcquisition(ctx, testMeta("/share/f/two", "a.tif"))
		So(err, ShouldBeNil)

		unfinished, err := s.ListUnfinishedFolders(ctx)
		So(err, ShouldBeNil)
		So(unfinished, ShouldHaveLength, 2)

		finished, err := s.ListFinishedFolders(ctx)
		So(err, ShouldBeNil)
		So(finished, ShouldBeEmpty)

		So(errors.Is(s.MarkFinished(ctx, "/share/f/missing", time.Now()), ErrIntegrity), ShouldBeTrue)

		So(s.MarkFinished(ctx, "/share/f/one", time.Now()), ShouldBeNil)

		finished, err = s.ListFinishedFolders(ctx)
		So(err, ShouldBeNil)
		So(finished, ShouldResemble, []string{"/share/f/one"})

		unfinished, err = s.ListUnfinishedFolders(ctx)
		So(err, ShouldBeNil)
		So(unfinished, ShouldResemble, []string{"/share/f/two"})

		So(s.MarkUnfinished(ctx, id), ShouldBeNil)
		So(errors.Is(s.MarkUnfinished(ctx, id+1000), ErrIntegrity), ShouldBeTrue)

		finished, err = s.ListFinishedFolders(ctx)
		So(err, ShouldBeNil)
		So(finished, ShouldBeEmpty)
	})
}

func TestOpen(t *testing.T) {
	Convey("Open rejects bad configs", t, func() {
		_, err := Open(context.Background(), Config{Driver: DriverSQLite})
		So(err, ShouldEqual, ErrDSNRequired)

		_, err = Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
		So(errors.Is(err, ErrUnsupportedDriver), ShouldBeTrue)
	})
}
