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

package discover

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type countingFS struct {
	OSFS

	mu    sync.Mutex
	calls []string
}

func (c *countingFS) ReadDir(name string) ([]fs.DirEntry, error) {
	c.record(name)

	return c.OSFS.ReadDir(name)
}

func (c *countingFS) Stat(name string) (fs.FileInfo, error) {
	c.record(name)

	return c.OSFS.Stat(name)
}

func (c *countingFS) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, name)
}

func (c *countingFS) touched(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.ContainsFunc(c.calls, func(call string) bool {
		return strings.HasPrefix(call, prefix)
	})
}

func mkfile(path string) {
	So(os.MkdirAll(filepath.Dir(path), 0o755), ShouldBeNil)
	So(os.WriteFile(path, nil, 0o600), ShouldBeNil)
}

func mkdir(path string) {
	So(os.MkdirAll(path, 0o755), ShouldBeNil)
}

func TestIsImageFile(t *testing.T) {
	Convey("IsImageFile recognises image extensions case-insensitively", t, func() {
		for _, name := range []string{"a.tif", "a.TIFF", "b.png", "c.jpg", "d.JPEG", "e.bmp"} {
			So(IsImageFile(name), ShouldBeTrue)
		}

		for _, name := range []string{
			"a.txt", "coordinates.csv", "x.ome.tiff.not.used.anymore",
			"otf_a.tif", "OTF_b.png", "tif",
		} {
			So(IsImageFile(name), ShouldBeFalse)
		}
	})
}

func TestDiscover(t *testing.T) {
	Convey("Given a tree of acquisition directories", t, func() {
		root := t.TempDir()

		mkfile(filepath.Join(root, "proj", "plateA", "img_A01.tif"))
		mkfile(filepath.Join(root, "proj", "plateA", "deeper", "more", "img.tif"))
		mkdir(filepath.Join(root, "proj", "plateA", "single_images"))
		mkfile(filepath.Join(root, "proj", "plateB", "coordinates.csv"))
		mkfile(filepath.Join(root, "proj", "plateB", "sub", "img.tif"))
		mkfile(filepath.Join(root, "proj", "plateC", "notes.txt"))
		mkfile(filepath.Join(root, "proj", "plateC", "run1", "x.png"))
		mkfile(filepath.Join(root, "proj", ".hidden", "x.png"))
		mkfile(filepath.Join(root, "proj", "plateD", "otf_preview.tif"))
		mkfile(filepath.Join(root, "proj", "plateE", "done.js"))

		cfs := &countingFS{}
		e := New(cfs, nil)

		Convey("Discover yields the lowest directories with images or markers", func() {
			dirs := slices.Collect(e.Discover([]string{root}, nil))
			slices.Sort(dirs)

			So(dirs, ShouldResemble, []string{
				filepath.Join(root, "proj", "plateA"),
				filepath.Join(root, "proj", "plateA", "single_images"),
				filepath.Join(root, "proj", "plateB"),
				filepath.Join(root, "proj", "plateC", "run1"),
				filepath.Join(root, "proj", "plateE"),
			})

			Convey("without touching anything below a yielded directory", func() {
				So(cfs.touched(filepath.Join(root, "proj", "plateA", "deeper")), ShouldBeFalse)
				So(cfs.touched(filepath.Join(root, "proj", "plateB", "sub")), ShouldBeFalse)
				So(cfs.touched(filepath.Join(root, "proj", ".hidden")), ShouldBeFalse)
			})
		})

		Convey("Directories in the skip set are not entered", func() {
			skip := Union(nil, NewPathSet(filepath.Join(root, "proj", "plateA")+"/"),
				NewPathSet(filepath.Join(root, "proj", "plateC")))

			dirs := slices.Collect(e.Discover([]string{root}, skip))
			slices.Sort(dirs)

			So(dirs, ShouldResemble, []string{
				filepath.Join(root, "proj", "plateB"),
				filepath.Join(root, "proj", "plateE"),
			})
			So(cfs.touched(filepath.Join(root, "proj", "plateC", "run1")), ShouldBeFalse)
		})

		Convey("A skipped single_images directory is not yielded with its parent", func() {
			dirs := slices.Collect(e.Discover([]string{root},
				NewPathSet(filepath.Join(root, "proj", "plateA", SingleImagesDir))))

			So(dirs, ShouldContain, filepath.Join(root, "proj", "plateA"))
			So(dirs, ShouldNotContain, filepath.Join(root, "proj", "plateA", SingleImagesDir))
			So(dirs, ShouldHaveLength, 4)
		})

		Convey("Missing roots are skipped", func() {
			dirs := slices.Collect(e.Discover([]string{filepath.Join(root, "missing"), filepath.Join(root, "proj", "plateE")}, nil))
			So(dirs, ShouldResemble, []string{filepath.Join(root, "proj", "plateE")})
		})

		Convey("Iteration can be stopped early", func() {
			var n int

			for range e.Discover([]string{root}, nil) {
				n++

				break
			}

			So(n, ShouldEqual, 1)
		})

		Convey("Children of a root are visited most recently modified first", func() {
			old := time.Now().Add(-48 * time.Hour)
			So(os.Chtimes(filepath.Join(root, "proj", "plateA"), old, old), ShouldBeNil)

			dirs := slices.Collect(e.Discover([]string{filepath.Join(root, "proj")}, nil))
			So(len(dirs), ShouldEqual, 5)
			So(dirs[3], ShouldEqual, filepath.Join(root, "proj", "plateA"))
			So(dirs[4], ShouldEqual, filepath.Join(root, "proj", "plateA", "single_images"))
		})
	})

	Convey("Discovery does not go past depth 2 when depth 2 has an image", t, func() {
		root := t.TempDir()

		mkfile(filepath.Join(root, "d1", "d2", "img.tif"))
		mkfile(filepath.Join(root, "d1", "d2", "d3", "d4", "img.tif"))

		cfs := &countingFS{}
		dirs := slices.Collect(New(cfs, nil).Discover([]string{root}, nil))

		So(dirs, ShouldResemble, []string{filepath.Join(root, "d1", "d2")})
		So(cfs.touched(filepath.Join(root, "d1", "d2", "d3")), ShouldBeFalse)
	})

	Convey("Unreadable directories are treated as empty", t, func() {
		if os.Geteuid() == 0 {
			SkipConvey("running as root", func() {})

			return
		}

		root := t.TempDir()
		locked := filepath.Join(root, "locked")

		mkfile(filepath.Join(locked, "img.tif"))
		mkfile(filepath.Join(root, "open", "img.tif"))
		So(os.Chmod(locked, 0o000), ShouldBeNil)

		defer os.Chmod(locked, 0o755) //nolint:errcheck

		dirs := slices.Collect(New(nil, nil).Discover([]string{root}, nil))
		So(dirs, ShouldResemble, []string{filepath.Join(root, "open")})
	})
}

func TestListImageFiles(t *testing.T) {
	Convey("ListImageFiles returns only image files", t, func() {
		dir := t.TempDir()

		mkfile(filepath.Join(dir, "a.tif"))
		mkfile(filepath.Join(dir, "b.txt"))
		mkfile(filepath.Join(dir, "otf_c.tif"))
		mkdir(filepath.Join(dir, "d.tif"))

		files, err := ListImageFiles(OSFS{}, dir)
		So(err, ShouldBeNil)
		So(files, ShouldResemble, []string{filepath.Join(dir, "a.tif")})

		_, err = ListImageFiles(OSFS{}, filepath.Join(dir, "missing"))
		So(err, ShouldNotBeNil)
	})
}
