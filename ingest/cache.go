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
	"sync"
	"time"
)

type seen struct {
	at     time.Time
	folder string
}

// ProcessedCache remembers which image files have already been handled in
// this process, and when, so that they need not be parsed or looked up again.
// It is only an optimisation: the catalog's uniqueness on path is what
// prevents duplicates.
type ProcessedCache struct {
	mu      sync.RWMutex
	paths   map[string]seen
	folders map[string]time.Time
	newest  time.Time
}

// NewProcessedCache returns an empty cache.
func NewProcessedCache() *ProcessedCache {
	return &ProcessedCache{
		paths:   make(map[string]seen),
		folders: make(map[string]time.Time),
	}
}

// Add records that path, belonging to the acquisition in folder, was handled
// at time at. folder may be empty for files that did not parse.
func (c *ProcessedCache) Add(path, folder string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.paths[path] = seen{at: at, folder: folder}

	if folder != "" && at.After(c.folders[folder]) {
		c.folders[folder] = at
	}

	if at.After(c.newest) {
		c.newest = at
	}
}

// Contains reports whether path has been handled.
func (c *ProcessedCache) Contains(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.paths[path]

	return ok
}

// Len returns the number of paths in the cache.
func (c *ProcessedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.paths)
}

// LastSeen returns when a file in the given acquisition folder was most
// recently handled.
func (c *ProcessedCache) LastSeen(folder string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.folders[folder]

	return t, ok
}

// Compact empties the cache if even its most recent entry is older than
// cutoff, and reports whether it did.
func (c *ProcessedCache) Compact(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.paths) == 0 || !c.newest.Before(cutoff) {
		return false
	}

	clear(c.paths)
	clear(c.folders)
	c.newest = time.Time{}

	return true
}
