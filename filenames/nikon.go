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
)

const (
	nikonMicroscope   = "nikon"
	nikonMultiMapID   = 19
	nikonV7MapID      = 24
	nikonSingleMapID  = 25
	nikonV9MapID      = 26
	nikonSingle4xMap  = 44
	nikonUnknownMag   = "x"
	nikonSingle4xMag  = "4x"
	nikonMultiMag     = "20x"
	nikonPathPrefix   = `(?i)^.*/nikon/(?P<project>.*?)/(?P<plate>.*?)/`
	nikonOptionalDir  = `(?P<subdir>.*?/)?`
	nikonFolderDateRe = `(?P<year>[0-9]{4})(?P<month>[0-9]{2})(?P<day>[0-9]{2})`
)

var (
	nikonSpheroidChannels = []string{"MITO", "PHAandWGA", "SYTO", "HOECHST"}         //nolint:gochecknoglobals
	nikonSingleChannels   = []string{"MITO", "PHAandWGA", "HOECHST", "SYTO", "CONC"} //nolint:gochecknoglobals
	nikonV9Channels       = []string{"405", "446", "477", "545", "637"}              //nolint:gochecknoglobals

	nikonV11Regex = regexp.MustCompile(nikonPathPrefix +
		`(?:(?P<year>[0-9]{4})(?P<month>[0-9]{2})(?P<day>[0-9]{2})_[0-9]{6}_[0-9]{3}/)?` +
		`(?:(?P<mag>[0-9]+x)[^/]*/)?` +
		`Well-(?P<row>[A-Z])(?P<col>[0-9]+)` +
		`(?:-z(?P<z>[0-9]+)-(?P<channel>.*)\.ome(?P<ext>.*\..*)|_.*\.ome(?P<ext2>.*\..*))`)

	nikonV10Regex = regexp.MustCompile(nikonPathPrefix + nikonOptionalDir + nikonFolderDateRe +
		`_[0-9]{6}_[0-9]{3}__Well(?P<row>[A-Z])(?P<col>[0-9]{2})\.ome(?P<ext>.*\..*)`)

	nikonV8Regex = regexp.MustCompile(nikonPathPrefix + nikonOptionalDir +
		`Well-(?P<row>[A-Z])(?P<col>[0-9]+)-z(?P<z>[0-9]+)-(?P<channel>.*)\.ome(?P<ext>.*\..*)`)

	nikonV7Regex = regexp.MustCompile(nikonPathPrefix + nikonOptionalDir + nikonFolderDateRe +
		`_.*Point(?P<row>[A-Z])(?P<col>[0-9]+)_.*ZStack(?P<z>[0-9]+)_Channel(?P<channel>.*)_Spheroid.ome` +
		`.*(?P<ext>\..*)`)

	nikonV9Regex = regexp.MustCompile(nikonPathPrefix + nikonOptionalDir +
		`(?P<row>[A-Z])(?P<col>[0-9]+)_S(?P<site>[0-9]+).*Channel_(?P<channel>[0-9]+).*.ome.*(?P<ext>\..*)`)

	nikonV5Regex = regexp.MustCompile(nikonPathPrefix + nikonOptionalDir +
		`.*?_Points(?P<site>[0-9]+)_Wells(?P<row>[A-Z])(?P<col>[0-9]+)c(?P<channel>[0-9]+).*(?P<ext>\..*)`)

	nikonV4Regex = regexp.MustCompile(nikonPathPrefix + nikonOptionalDir +
		`.*?_Wells(?P<row>[A-Z])(?P<col>[0-9]+)_Points(?P<site>[0-9]+)c(?P<channel>[0-9]+).*(?P<ext>\..*)`)

	nikonV3Regex = regexp.MustCompile(nikonPathPrefix + nikonOptionalDir + nikonFolderDateRe +
		`.*Well(?P<row>[A-Z])(?P<col>[0-9]+)_Point.*_(?P<site>[0-9]+)_.*_Seq([0-9]+)c(?P<channel>[0-9]+)` +
		`.*(?P<ext>\..*)`)
)

func nikonRules(di *DirInfo) []Rule {
	withDir := func(f func(*DirInfo, string) *ImageMetadata) func(string) *ImageMetadata {
		return func(path string) *ImageMetadata { return f(di, path) }
	}

	return []Rule{
		rule{"nikon_v11_single_default", withDir(parseNikonV11)},
		rule{"nikon_v10_single4x", parseNikonV10},
		rule{"nikon_v8_single", withDir(parseNikonV8)},
		rule{"nikon_v7_single", parseNikonV7},
		rule{"nikon_v9_single", withDir(parseNikonV9)},
		rule{"nikon_v5_multi", withDir(parseNikonV5)},
		rule{"nikon_v4_multi", withDir(parseNikonV4)},
		rule{"nikon_v3_multi", parseNikonV3},
	}
}

func newNikonMeta(path, parser string, g groups) *ImageMetadata {
	meta := newMeta(path, parser)
	meta.Project = g["project"]
	meta.Plate = g["plate"]
	meta.PlateAcqName = path
	meta.Magnification = nikonUnknownMag
	meta.Well = padWell(g["row"], g["col"])
	meta.Site = 0
	meta.Z = g.int("z")
	meta.Channel = 1
	meta.Extension = g["ext"]
	meta.Microscope = nikonMicroscope

	return meta
}

// dateFromGroups sets the date from year/month/day groups when present,
// falling back to the creation date of the file's directory.
func dateFromGroups(di *DirInfo, meta *ImageMetadata, g groups) bool {
	if g.has("year") && g.has("month") && g.has("day") {
		meta.Year, meta.Month, meta.Day = g.int("year"), g.int("month"), g.int("day")

		return true
	}

	return createdDate(di, meta)
}

func createdDate(di *DirInfo, meta *ImageMetadata) bool {
	t, ok := di.CreatedDate(meta.Path)
	if !ok {
		return false
	}

	meta.Year, meta.Month, meta.Day = t.Year(), int(t.Month()), t.Day()

	return true
}

func parseNikonV11(di *DirInfo, path string) *ImageMetadata {
	g := match(nikonV11Regex, path)
	if g == nil {
		return nil
	}

	meta := newNikonMeta(path, "nikon_v11_single_default", g)
	meta.ChannelMapID = nikonSingle4xMap

	if !g.has("ext") {
		meta.Extension = g["ext2"]
	}

	if g.has("mag") {
		meta.Magnification = g["mag"]
	}

	if g.has("channel") {
		meta.Channel = position(nikonSingleChannels, g["channel"])
		if meta.Channel == 0 {
			return nil
		}

		meta.ChannelName = g["channel"]
		meta.ChannelMapID = nikonSingleMapID
	}

	if !dateFromGroups(di, meta, g) {
		return nil
	}

	if g.has("year") {
		meta.PlateAcqName = nikonAcqName(path, meta.Plate, g.has("mag"))
	}

	return meta
}

// nikonAcqName names an acquisition after its plate, its timestamped folder
// and, if there is one, its magnification folder.
func nikonAcqName(path, plate string, hasMagDir bool) string {
	dir := filepath.Dir(path)

	if !hasMagDir {
		return plate + "_" + filepath.Base(dir)
	}

	return plate + "_" + filepath.Base(filepath.Dir(dir)) + "_" + filepath.Base(dir)
}

func parseNikonV10(path string) *ImageMetadata {
	g := match(nikonV10Regex, path)
	if g == nil {
		return nil
	}

	meta := newNikonMeta(path, "nikon_v10_single4x", g)
	meta.Magnification = nikonSingle4xMag
	meta.Year, meta.Month, meta.Day = g.int("year"), g.int("month"), g.int("day")
	meta.ChannelMapID = nikonSingle4xMap

	return meta
}

func parseNikonV8(di *DirInfo, path string) *ImageMetadata {
	g := match(nikonV8Regex, path)
	if g == nil {
		return nil
	}

	meta := newNikonMeta(path, "nikon_v8_single", g)

	meta.Channel = position(nikonSingleChannels, g["channel"])
	if meta.Channel == 0 {
		return nil
	}

	meta.ChannelName = g["channel"]
	meta.ChannelMapID = nikonSingleMapID

	if !createdDate(di, meta) {
		return nil
	}

	return meta
}

func parseNikonV7(path string) *ImageMetadata {
	g := match(nikonV7Regex, path)
	if g == nil {
		return nil
	}

	meta := newNikonMeta(path, "nikon_v7_single", g)

	meta.Channel = position(nikonSpheroidChannels, g["channel"])
	if meta.Channel == 0 {
		return nil
	}

	meta.ChannelName = g["channel"]
	meta.Site = meta.Z
	meta.Year, meta.Month, meta.Day = g.int("year"), g.int("month"), g.int("day")
	meta.ChannelMapID = nikonV7MapID

	return meta
}

func parseNikonV9(di *DirInfo, path string) *ImageMetadata {
	g := match(nikonV9Regex, path)
	if g == nil {
		return nil
	}

	meta := newNikonMeta(path, "nikon_v9_single", g)

	meta.Channel = position(nikonV9Channels, g["channel"])
	if meta.Channel == 0 {
		return nil
	}

	meta.Site = g.int("site")
	meta.ChannelMapID = nikonV9MapID

	if !createdDate(di, meta) {
		return nil
	}

	return meta
}

func parseNikonV5(di *DirInfo, path string) *ImageMetadata {
	g := match(nikonV5Regex, path)
	if g == nil {
		return nil
	}

	meta := newNikonMeta(path, "nikon_v5_multi", g)
	meta.Site = g.int("site")
	meta.Channel = g.int("channel")
	meta.ChannelMapID = nikonMultiMapID

	if !createdDate(di, meta) {
		return nil
	}

	return meta
}

// parseNikonV4 handles an early multi-well layout with no date in the path,
// so the date comes from the filesystem.
func parseNikonV4(di *DirInfo, path string) *ImageMetadata {
	g := match(nikonV4Regex, path)
	if g == nil {
		return nil
	}

	meta := newNikonMeta(path, "nikon_v4_multi", g)
	meta.Magnification = nikonMultiMag
	meta.Well = g["row"] + g["col"]
	meta.Site = g.int("site")
	meta.Channel = g.int("channel")
	meta.ChannelMapID = nikonMultiMapID

	if !createdDate(di, meta) {
		return nil
	}

	return meta
}

func parseNikonV3(path string) *ImageMetadata {
	g := match(nikonV3Regex, path)
	if g == nil {
		return nil
	}

	meta := newNikonMeta(path, "nikon_v3_multi", g)
	meta.Magnification = nikonMultiMag
	meta.Well = g["row"] + g["col"]
	meta.Site = g.int("site")
	meta.Channel = g.int("channel")
	meta.Year, meta.Month, meta.Day = g.int("year"), g.int("month"), g.int("day")
	meta.ChannelMapID = nikonMultiMapID

	return meta
}
