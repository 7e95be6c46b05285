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
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	defaultSite      = 1
	defaultTimepoint = 1
	validExtensions  = "tif tiff png jpg jpeg"
	isoSeconds       = "2006-01-02T15:04:05"
)

// rule adapts a parsing function to the Rule interface.
type rule struct {
	name  string
	parse func(path string) *ImageMetadata
}

func (r rule) Name() string { return r.name }

func (r rule) TryParse(path string) *ImageMetadata { return r.parse(path) }

// groups is the result of matching a regexp with named groups.
type groups map[string]string

func match(re *regexp.Regexp, s string) groups {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}

	g := make(groups, len(m))

	for n, name := range re.SubexpNames() {
		if name != "" {
			g[name] = m[n]
		}
	}

	return g
}

func (g groups) int(name string) int {
	return atoi(g[name])
}

func (g groups) has(name string) bool {
	return g[name] != ""
}

func atoi(s string) int {
	i, err := strconv.Atoi(strings.TrimLeft(s, "0"))
	if err != nil {
		return 0
	}

	return i
}

// padWell formats a row letter and column number as e.g. "B04".
func padWell(row, col string) string {
	return strings.ToUpper(row[:1]) + row[1:] + leftPad2(atoi(col))
}

func leftPad2(i int) string {
	if i < 10 { //nolint:mnd
		return "0" + strconv.Itoa(i)
	}

	return strconv.Itoa(i)
}

// rowLetter converts a 1-based row number to A-Z then a-z, returning "" when
// out of range.
func rowLetter(row int) string {
	switch {
	case row >= 1 && row <= 26:
		return string(rune('A' + row - 1))
	case row >= 27 && row <= 52:
		return string(rune('a' + row - 27))
	default:
		return ""
	}
}

// position returns the 1-based position of name in names, or 0.
func position(names []string, name string) int {
	return slices.Index(names, name) + 1
}

func hasValidExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	for _, valid := range strings.Fields(validExtensions) {
		if strings.HasSuffix(ext, valid) {
			return true
		}
	}

	return false
}

func newMeta(path, parser string) *ImageMetadata {
	return &ImageMetadata{
		Path:      path,
		Filename:  filepath.Base(path),
		Site:      defaultSite,
		Timepoint: defaultTimepoint,
		MakeThumb: true,
		Parser:    parser,
	}
}
