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
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ugorji/go/codec"
)

// BlacklistFile is the basename the blacklist is saved to.
const BlacklistFile = "blacklist.json"

// DefaultBlacklist holds the trash areas of the instrument shares, which are
// never imported.
var DefaultBlacklist = []string{ //nolint:gochecknoglobals
	"/share/mikro/IMX/MDC_pharmbio/trash/",
	"/share/mikro2/nikon/trash/",
	"/share/mikro2/squid/trash/",
}

// Blacklist is a growing set of directories that failed to import. A path is
// blacklisted if it is, or is below, one of the entries.
type Blacklist struct {
	mu      sync.RWMutex
	entries []string
}

// NewBlacklist returns a Blacklist holding the given directories.
func NewBlacklist(dirs ...string) *Blacklist {
	b := &Blacklist{}

	for _, dir := range dirs {
		b.Add(dir)
	}

	return b
}

// Add blacklists dir. Adding it again has no effect.
func (b *Blacklist) Add(dir string) {
	dir = filepath.Clean(dir)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !slices.Contains(b.entries, dir) {
		b.entries = append(b.entries, dir)
	}
}

// Contains implements discover.PathSet.
func (b *Blacklist) Contains(path string) bool {
	path = filepath.Clean(path)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, entry := range b.entries {
		if path == entry || strings.HasPrefix(path, entry+string(filepath.Separator)) {
			return true
		}
	}

	return false
}

// Entries returns the blacklisted directories in the order they were added.
func (b *Blacklist) Entries() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]string{}, b.entries...)
}

// Save writes the blacklist as a JSON array to BlacklistFile in dir,
// replacing any previous file.
func (b *Blacklist) Save(dir string) error {
	tmp, err := os.CreateTemp(dir, "."+BlacklistFile+".*")
	if err != nil {
		return err
	}

	enc := codec.NewEncoder(tmp, new(codec.JsonHandle))

	if err = enc.Encode(b.Entries()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(dir, BlacklistFile))
}

// LoadBlacklist reads a file written by Save.
func LoadBlacklist(path string) (*Blacklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string

	if err := codec.NewDecoder(f, new(codec.JsonHandle)).Decode(&entries); err != nil {
		return nil, err
	}

	return NewBlacklist(entries...), nil
}
