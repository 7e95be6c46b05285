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

import "path/filepath"

// PathSet is a set of directories to leave alone.
type PathSet interface {
	Contains(path string) bool
}

type pathSet map[string]struct{}

// NewPathSet returns a PathSet containing exactly the given paths, after
// cleaning.
func NewPathSet(paths ...string) PathSet {
	ps := make(pathSet, len(paths))

	for _, p := range paths {
		ps[filepath.Clean(p)] = struct{}{}
	}

	return ps
}

func (p pathSet) Contains(path string) bool {
	_, ok := p[filepath.Clean(path)]

	return ok
}

type union []PathSet

// Union returns a PathSet containing the paths of all the given sets. nil
// sets are ignored.
func Union(sets ...PathSet) PathSet {
	u := make(union, 0, len(sets))

	for _, s := range sets {
		if s != nil {
			u = append(u, s)
		}
	}

	return u
}

func (u union) Contains(path string) bool {
	for _, s := range u {
		if s.Contains(path) {
			return true
		}
	}

	return false
}
