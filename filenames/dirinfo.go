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

package filenames

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ugorji/go/codec"
)

const (
	squidConfigFile = "config.json"
	maxCachedDirs   = 2048
)

// DirInfo answers the few questions rules need to ask of the filesystem. All
// answers are memoized per directory, so a plate with thousands of images only
// causes one read of its config.json and one stat for its creation date.
type DirInfo struct {
	mu       sync.Mutex
	channels map[string][]string
	created  map[string]time.Time

	readFile func(string) ([]byte, error)
	stat     func(string) (fs.FileInfo, error)
}

// NewDirInfo returns a DirInfo that reads the real filesystem.
func NewDirInfo() *DirInfo {
	return &DirInfo{
		channels: make(map[string][]string),
		created:  make(map[string]time.Time),
		readFile: os.ReadFile,
		stat:     os.Stat,
	}
}

type squidConfig struct {
	Channels []struct {
		Name    string `codec:"name"`
		Enabled bool   `codec:"enabled"`
	} `codec:"channels"`
}

// SquidChannels returns the names of the enabled channels listed in the
// config.json in dir, with spaces replaced by underscores. It returns false if
// there is no readable config.json there.
func (d *DirInfo) SquidChannels(dir string) ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if names, ok := d.channels[dir]; ok {
		return names, names != nil
	}

	names := d.readSquidChannels(dir)

	if len(d.channels) >= maxCachedDirs {
		clear(d.channels)
	}

	d.channels[dir] = names

	return names, names != nil
}

func (d *DirInfo) readSquidChannels(dir string) []string {
	b, err := d.readFile(filepath.Join(dir, squidConfigFile))
	if err != nil {
		return nil
	}

	var cfg squidConfig

	if err := codec.NewDecoderBytes(b, new(codec.JsonHandle)).Decode(&cfg); err != nil {
		return nil
	}

	names := make([]string, 0, len(cfg.Channels))

	for _, ch := range cfg.Channels {
		if ch.Enabled {
			names = append(names, strings.ReplaceAll(ch.Name, " ", "_"))
		}
	}

	return names
}

// CreatedDate returns the creation time of the first file we were asked about
// in path's directory, for layouts that carry no date in the path.
func (d *DirInfo) CreatedDate(path string) (time.Time, bool) {
	dir := filepath.Dir(path)

	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.created[dir]; ok {
		return t, true
	}

	fi, err := d.stat(path)
	if err != nil {
		return time.Time{}, false
	}

	t := changeTime(fi)

	if len(d.created) >= maxCachedDirs {
		clear(d.created)
	}

	d.created[dir] = t

	return t, true
}
