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

// Package mountpath works out which mount a path lives on, so that polled
// roots on unexpected (eg. local rather than network) filesystems are obvious
// in the logs.
package mountpath

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/sys/mountinfo"
)

var (
	ErrEmptyPath = errors.New("empty path")
	ErrNoMount   = errors.New("no mount found for path")
)

// Mount is one mounted filesystem. Point always ends with /.
type Mount struct {
	Point  string
	FSType string
	Source string
}

// Mounts is a set of mounts, longest mount point first.
type Mounts []Mount

// Get returns the mounts of the current process's mount namespace.
func Get() (Mounts, error) {
	infos, err := mountinfo.GetMounts(nil)
	if err != nil {
		return nil, err
	}

	return FromInfo(infos), nil
}

// FromInfo converts mountinfo entries into Mounts.
func FromInfo(infos []*mountinfo.Info) Mounts {
	mounts := make(Mounts, 0, len(infos))

	for _, info := range infos {
		point := info.Mountpoint
		if !strings.HasSuffix(point, "/") {
			point += "/"
		}

		mounts = append(mounts, Mount{Point: point, FSType: info.FSType, Source: info.Source})
	}

	sort.SliceStable(mounts, func(i, j int) bool {
		return len(mounts[i].Point) > len(mounts[j].Point)
	})

	return mounts
}

// For returns the mount that path is on. Mounts stacked on the same point
// resolve to the one listed first.
func (m Mounts) For(path string) (Mount, error) {
	if strings.TrimSpace(path) == "" {
		return Mount{}, ErrEmptyPath
	}

	path = filepath.Clean(path)
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	for _, mount := range m {
		if strings.HasPrefix(path, mount.Point) {
			return mount, nil
		}
	}

	return Mount{}, ErrNoMount
}
