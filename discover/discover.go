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

// Package discover finds the directories that hold microscope images below a
// set of root directories, listing each directory at most once.
package discover

import (
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/inconshreveable/log15"
)

// SingleImagesDir is a subdirectory some instruments write next to their
// main image output. It is yielded alongside its parent.
const SingleImagesDir = "single_images"

var (
	markerFiles        = []string{"coordinates.csv", "finished.txt", "done.js"}     //nolint:gochecknoglobals
	imageExtensions    = []string{".tif", ".tiff", ".png", ".jpg", ".jpeg", ".bmp"} //nolint:gochecknoglobals
	excludedExtensions = []string{".ome.tiff.not.used.anymore"}                      //nolint:gochecknoglobals
	excludedPrefixes   = []string{"otf_"}                                            //nolint:gochecknoglobals
)

// FS is the part of a filesystem the Engine needs.
type FS interface {
	ReadDir(name string) ([]fs.DirEntry, error)
	Stat(name string) (fs.FileInfo, error)
}

// OSFS is the real filesystem.
type OSFS struct{}

func (OSFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }

func (OSFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// IsImageFile reports whether the basename name looks like an image we
// import.
func IsImageFile(name string) bool {
	lower := strings.ToLower(name)

	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}

	for _, ext := range excludedExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}

	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}

// ListImageFiles returns the full paths of the image files directly inside
// dir, in directory order.
func ListImageFiles(fsys FS, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string

	for _, entry := range entries {
		if !entry.IsDir() && IsImageFile(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	return files, nil
}

// Engine walks root directories looking for acquisition directories.
type Engine struct {
	fs     FS
	logger log15.Logger

	// SortRoots makes the immediate children of each root be visited most
	// recently modified first.
	SortRoots bool
}

// New returns an Engine over the given filesystem; nil means OSFS. A nil
// logger discards.
func New(fsys FS, logger log15.Logger) *Engine {
	if fsys == nil {
		fsys = OSFS{}
	}

	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}

	return &Engine{fs: fsys, logger: logger, SortRoots: true}
}

// Discover lazily yields every directory below roots that contains a marker
// file or an image file, plus any single_images subdirectory of such a
// directory. It does not look inside the subdirectories of a directory it
// yields, nor anywhere below a directory in skip.
//
// Missing roots and unreadable directories are logged and otherwise ignored.
func (e *Engine) Discover(roots []string, skip PathSet) iter.Seq[string] {
	if skip == nil {
		skip = NewPathSet()
	}

	return func(yield func(string) bool) {
		for _, root := range roots {
			root = filepath.Clean(root)

			if _, err := e.fs.Stat(root); err != nil {
				e.logger.Error("root directory not available", "root", root, "err", err)

				continue
			}

			if !e.walk(root, skip, e.SortRoots, yield) {
				return
			}
		}
	}
}

// walk returns false when the consumer has stopped iterating.
func (e *Engine) walk(dir string, skip PathSet, sortByMTime bool, yield func(string) bool) bool {
	if skip.Contains(dir) {
		e.logger.Debug("skipping directory", "dir", dir)

		return true
	}

	entries, err := e.fs.ReadDir(dir)
	if err != nil {
		e.logger.Warn("failed to list directory", "dir", dir, "err", err)

		return true
	}

	if isLeaf(entries) {
		return yieldLeaf(dir, entries, skip, yield)
	}

	if sortByMTime {
		sortByModTime(entries)
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		if !e.walk(filepath.Join(dir, entry.Name()), skip, false, yield) {
			return false
		}
	}

	return true
}

func isLeaf(entries []fs.DirEntry) bool {
	for _, marker := range markerFiles {
		if slices.ContainsFunc(entries, func(entry fs.DirEntry) bool {
			return !entry.IsDir() && entry.Name() == marker
		}) {
			return true
		}
	}

	for _, entry := range entries {
		if !entry.IsDir() && IsImageFile(entry.Name()) {
			return true
		}
	}

	return false
}

func yieldLeaf(dir string, entries []fs.DirEntry, skip PathSet, yield func(string) bool) bool {
	if !yield(dir) {
		return false
	}

	single := filepath.Join(dir, SingleImagesDir)
	if skip.Contains(single) {
		return true
	}

	for _, entry := range entries {
		if entry.IsDir() && entry.Name() == SingleImagesDir {
			return yield(single)
		}
	}

	return true
}

func sortByModTime(entries []fs.DirEntry) {
	mtimes := make(map[string]time.Time, len(entries))

	for _, entry := range entries {
		if info, err := entry.Info(); err == nil {
			mtimes[entry.Name()] = info.ModTime()
		}
	}

	slices.SortStableFunc(entries, func(a, b fs.DirEntry) int {
		return mtimes[b.Name()].Compare(mtimes[a.Name()])
	})
}
