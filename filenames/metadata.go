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

// Package filenames turns microscope image paths into structured acquisition
// metadata.
//
// Every instrument (and every lab that sends us external data) lays out its
// files differently, so parsing is done by an ordered list of Rules. The first
// rule that recognises a path wins; see Registry.
package filenames

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ImageMetadata is everything we can learn about an image from its path (and,
// for a few rules, from files that sit next to it).
type ImageMetadata struct {
	Path     string
	Folder   string
	Filename string

	Project       string
	Plate         string
	PlateAcqName  string
	Magnification string

	Well        string
	Site        int
	X, Y        int
	Z           int
	Channel     int
	ChannelName string
	Timepoint   int

	// DateISO takes precedence over Year/Month/Day when set.
	DateISO string
	Year    int
	Month   int
	Day     int

	IsThumbnail  bool
	GUID         string
	Extension    string
	Microscope   string
	ChannelMapID int
	MakeThumb    bool
	Parser       string
}

const externalDatasetsPrefix = "/share/data/external-datasets/"

var plateBarcodeRegex = regexp.MustCompile(`^(PB?\d+)`)

// AcquisitionFolder returns the folder that identifies the plate acquisition
// this image belongs to: the rule supplied Folder, or else the directory
// containing the image.
func (m *ImageMetadata) AcquisitionFolder() string {
	if m.Folder != "" {
		return m.Folder
	}

	return filepath.Dir(m.Path)
}

// Imaged returns the acquisition time.
func (m *ImageMetadata) Imaged() (time.Time, error) {
	if m.DateISO != "" {
		return parseISO(m.DateISO)
	}

	if m.Year == 0 || m.Month == 0 || m.Day == 0 {
		return time.Time{}, fmt.Errorf("%w: no date for %s", ErrInvalidDate, m.Path)
	}

	return time.Date(m.Year, time.Month(m.Month), m.Day, 0, 0, 0, 0, time.UTC), nil
}

var isoLayouts = []string{ //nolint:gochecknoglobals
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseISO(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// PlateBarcode extracts a barcode like "P012345" or "PB012345" from the start
// of the plate name, falling back to the whole plate name.
func (m *ImageMetadata) PlateBarcode() string {
	if match := plateBarcodeRegex.FindStringSubmatch(m.Plate); match != nil {
		return match[1]
	}

	return m.Plate
}

// UploadToS3 reports whether this image should be queued for off-site upload.
// External datasets already live elsewhere, so they are never queued.
func (m *ImageMetadata) UploadToS3() bool {
	return m.Path != "" && !strings.Contains(m.Path, externalDatasetsPrefix)
}

func (m *ImageMetadata) String() string {
	return fmt.Sprintf("Image(path=%s, plate=%s, project=%s)", m.Path, m.Plate, m.Project)
}
