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
	"strings"
)

const (
	squidMicroscope    = "squid"
	squidMagnification = "20x"
	defaultSquidMapID  = 10
	squidV2MapID       = 28
	squidBFMapID       = 22
	squidBFPosition    = 6
	squidBFOtherMapID  = 30
	squidV1OtherMapID  = 21
	squidTestMapID     = 2
	squidBFProject     = "pelago300-bf"
	slideWellLetters   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef"
	unknownChannelName = "Unknown"
)

var (
	squidWavelengthsV1 = []string{"405", "488", "561", "638", "730"} //nolint:gochecknoglobals
	squidWavelengthsV2 = []string{"385", "470", "510", "560", "640"} //nolint:gochecknoglobals

	squidStandardNewRegex = regexp.MustCompile(`(?i)^.*/squid/(?P<project>.*?)/(?P<plate>.+)_` +
		`(?P<year>[0-9]{4})-(?P<month>[0-9]{2})-(?P<day>[0-9]{2})_(?P<time>.*?)/` +
		`(?P<tp>t[0-9]+/)?(?P<row>[A-Z])(?P<col>[0-9]+)_s(?P<site>[0-9]+)_x(?P<x>[0-9]+)_y(?P<y>[0-9]+)_` +
		`(?P<z>z[0-9]+_)?(?P<channel>.*?)(?P<ext>\..*)`)

	// shared by the BF-and-other and v2 layouts, which split the channel
	// into imaging type and wavelength.
	squidTypedRegex = regexp.MustCompile(`(?i)^.*/squid/(?P<project>.*?)/(?P<plate>.*?)_` +
		`(?P<year>[0-9]{4})-(?P<month>[0-9]{2})-(?P<day>[0-9]{2})_(?P<time>.*?)/` +
		`(?P<tp>t[0-9]+/)?(?P<row>[A-Z])(?P<col>[0-9]+)_s(?P<site>[0-9]+)_x(?P<x>[0-9]+)_y(?P<y>[0-9]+)_` +
		`(?P<z>z[0-9]+_)?(?P<type>.*?)_(?P<wavelength>.*?)(?P<ext>\..*)`)

	squidTestRegex = regexp.MustCompile(`(?i)^.*/squid/(?P<project>.*?)/(?P<plate>.*?)_` +
		`(?P<year>[0-9]{4})-(?P<month>[0-9]{2})-(?P<day>[0-9]{2})_(?P<time>.*?)/(?P<tp>[0-9]+)/` +
		`(?P<row>[A-Z])(?P<col>[0-9]+)_(?P<x>[0-9]+)_(?P<y>[0-9]+)_(?P<type>.*?)_` +
		`(?P<wavelength>[0-9]+)_nm_Ex(?P<ext>\..*)`)

	squidV1Regex = regexp.MustCompile(`(?i)^.*/squid/(?P<project>.*?)/(?P<plate>.*?)[/_]` +
		`(?P<year>[0-9]{4})-(?P<month>[0-9]{2})-(?P<day>[0-9]{2})_(?P<time>.*?)/(?P<tp>[0-9]+)/` +
		`(?P<row>[A-Z])(?P<col>[0-9]+)_(?P<site>[0-9]+)_(?P<x>[0-9]+)_(?P<y>[0-9]+)_` +
		`(?P<type>.*?)_(?P<wavelength>.*?)(?P<ext>\..*)`)

	squidSlideRegex = regexp.MustCompile(`(?i)^.*/squid/(?P<project>.*?)/(?P<plate>.*?)/` +
		`(?P<tp>t[0-9]+/)?(?P<row>[A-Z])(?P<col>[0-9]+)_s(?P<site>[0-9]+)_x(?P<x>[0-9]+)_y(?P<y>[0-9]+)_` +
		`(?P<z>z[0-9]+_)?(?P<type>.*?)(?P<ext>\..*)`)
)

type channelSet struct {
	names []string
	mapID int
}

var squidChannelMaps = []channelSet{ //nolint:gochecknoglobals
	{[]string{
		"Fluorescence_405_nm_Ex", "Fluorescence_488_nm_Ex", "Fluorescence_561_nm_Ex",
		"Fluorescence_638_nm_Ex", "Fluorescence_730_nm_Ex",
	}, 10},
	{[]string{
		"Fluorescence_405_nm_Ex", "Fluorescence_488_nm_Ex", "Fluorescence_561_nm_Ex",
		"Fluorescence_638_nm_Ex", "Fluorescence_730_nm_Ex", "BF_LED_matrix_full",
	}, 22},
	{[]string{
		"Fluorescence_405_nm_Ex", "Fluorescence_445_nm_Ex", "Fluorescence_514_nm_Ex",
		"Fluorescence_561_nm_Ex", "Fluorescence_640_nm_Ex",
	}, 38},
	{[]string{
		"Fluorescence_405_nm_Ex", "Fluorescence_445_nm_Ex", "Fluorescence_514_nm_Ex",
		"Fluorescence_561_nm_Ex", "Fluorescence_640_nm_Ex",
		"BF_LED_matrix_full", "BF_LED_matrix_left_half", "BF_LED_matrix_right_half",
	}, 39},
	{[]string{
		"Fluorescence_405_nm_Ex", "Fluorescence_488_nm_Ex", "Fluorescence_561_nm_Ex",
		"Fluorescence_638_nm_Ex", "Fluorescence_730_nm_Ex",
		"BF_LED_matrix_full", "BF_LED_matrix_left_half", "BF_LED_matrix_right_half",
	}, 40},
	{[]string{
		"Fluorescence_405_nm_Ex", "Fluorescence_445x609", "Fluorescence_445x700",
		"Fluorescence_561_nm_Ex", "BF_LED_matrix_full",
	}, 43},
}

// SquidChannelMapID returns the channel layout id for a set of enabled squid
// channel names, regardless of their order.
func SquidChannelMapID(enabled []string) int {
	got := slices.Clone(enabled)
	slices.Sort(got)
	got = slices.Compact(got)

	for _, cs := range squidChannelMaps {
		want := slices.Clone(cs.names)
		slices.Sort(want)

		if slices.Equal(got, want) {
			return cs.mapID
		}
	}

	return defaultSquidMapID
}

func squidRules(di *DirInfo) []Rule {
	return []Rule{
		rule{"squid_standard_new", func(path string) *ImageMetadata { return parseSquidStandardNew(di, path) }},
		rule{"squid_bf_other_z", parseSquidBFOther},
		rule{"squid_v2_standard", parseSquidV2},
		rule{"squid_test", parseSquidTest},
		rule{"squid_v1", parseSquidV1},
		rule{"squid_slide", func(path string) *ImageMetadata { return parseSquidSlide(di, path) }},
	}
}

// squidTimepoint returns the timepoint from an optional "tN/" directory, or 0
// when images sit directly in the acquisition folder.
func squidTimepoint(g groups) int {
	tp := g["tp"]
	if tp == "" {
		return 0
	}

	return atoi(strings.TrimSuffix(tp[1:], "/"))
}

func squidZ(g groups) int {
	z := g["z"]
	if z == "" {
		return 0
	}

	return atoi(strings.TrimSuffix(z[1:], "_"))
}

// squidDateISO combines the folder date with its time of day, which squid
// writes with "." or "-" separators and sometimes fractional seconds.
func squidDateISO(g groups) string {
	tod := strings.NewReplacer(".", ":", "-", ":").Replace(g["time"])

	parts := strings.Split(tod, ":")
	if len(parts) > 3 { //nolint:mnd
		parts = parts[:3]
	}

	return g["year"] + "-" + g["month"] + "-" + g["day"] + "T" + strings.Join(parts, ":")
}

func newSquidMeta(path, parser string, g groups) *ImageMetadata {
	meta := newMeta(path, parser)
	meta.Project = g["project"]
	meta.Plate = g["plate"]
	meta.PlateAcqName = path
	meta.Magnification = squidMagnification
	meta.Well = g["row"] + g["col"]
	meta.Site = g.int("site")
	meta.X = g.int("x")
	meta.Y = g.int("y")
	meta.Z = squidZ(g)
	meta.Timepoint = squidTimepoint(g)
	meta.Extension = g["ext"]
	meta.Microscope = squidMicroscope

	return meta
}

func parseSquidStandardNew(di *DirInfo, path string) *ImageMetadata {
	g := match(squidStandardNewRegex, path)
	if g == nil {
		return nil
	}

	configDir := filepath.Dir(path)
	if g.has("tp") {
		configDir = filepath.Dir(configDir)
	}

	names, ok := di.SquidChannels(configDir)
	if !ok {
		return nil
	}

	pos := position(names, g["channel"])
	if pos == 0 {
		return nil
	}

	meta := newSquidMeta(path, "squid_standard_new", g)
	meta.DateISO = squidDateISO(g)
	meta.Channel = pos
	meta.ChannelName = g["channel"]
	meta.ChannelMapID = SquidChannelMapID(names)

	return meta
}

// squidWavelength finds a fluorescence wavelength like "561_nm_Ex" in either
// of the known laser sets, returning the 0-based index and whether it came
// from the second set.
func squidWavelength(s string) (int, bool, bool) {
	wl, _, _ := strings.Cut(s, "_nm")

	if i := slices.Index(squidWavelengthsV1, wl); i >= 0 {
		return i, false, true
	}

	if i := slices.Index(squidWavelengthsV2, wl); i >= 0 {
		return i, true, true
	}

	return 0, false, false
}

func parseSquidBFOther(path string) *ImageMetadata {
	g := match(squidTypedRegex, path)
	if g == nil || g["project"] != squidBFProject {
		return nil
	}

	meta := newSquidMeta(path, "squid_bf_other_z", g)
	meta.Year, meta.Month, meta.Day = g.int("year"), g.int("month"), g.int("day")
	meta.ChannelMapID = squidBFOtherMapID

	switch g["type"] {
	case "Fluorescence":
		i, _, ok := squidWavelength(g["wavelength"])
		if !ok {
			return nil
		}

		meta.Channel = (i+1)*3 + 1 //nolint:mnd
	case "BF":
		meta.Channel = 1
	default:
		return nil
	}

	return meta
}

func parseSquidV2(path string) *ImageMetadata {
	g := match(squidTypedRegex, path)
	if g == nil {
		return nil
	}

	meta := newSquidMeta(path, "squid_v2_standard", g)
	meta.DateISO = squidDateISO(g)

	switch g["type"] {
	case "Fluorescence":
		i, v2, ok := squidWavelength(g["wavelength"])
		if !ok {
			return nil
		}

		meta.Channel = i + 1
		meta.ChannelMapID = defaultSquidMapID

		if v2 {
			meta.ChannelMapID = squidV2MapID
		}
	case "BF":
		meta.Channel = squidBFPosition
		meta.ChannelMapID = squidBFMapID
	default:
		meta.Channel = 1
		meta.ChannelMapID = defaultSquidMapID
	}

	if g.has("z") {
		meta.Channel = meta.Z + 1
	}

	return meta
}

func parseSquidTest(path string) *ImageMetadata {
	g := match(squidTestRegex, path)
	if g == nil {
		return nil
	}

	pos := position(squidWavelengthsV1, g["wavelength"])
	if pos == 0 {
		return nil
	}

	meta := newSquidMeta(path, "squid_test", g)
	meta.Well = padWell(g["row"], g["col"])
	meta.Site = (meta.X + 1) * (meta.Y + 1)
	meta.Channel = pos
	meta.Timepoint = g.int("tp")
	meta.Year, meta.Month, meta.Day = g.int("year"), g.int("month"), g.int("day")
	meta.ChannelMapID = squidTestMapID

	return meta
}

func parseSquidV1(path string) *ImageMetadata {
	g := match(squidV1Regex, path)
	if g == nil {
		return nil
	}

	meta := newSquidMeta(path, "squid_v1", g)
	meta.Timepoint = g.int("tp")
	meta.Year, meta.Month, meta.Day = g.int("year"), g.int("month"), g.int("day")
	meta.Channel = 1
	meta.ChannelMapID = squidV1OtherMapID

	if g["type"] == "Fluorescence" {
		wl, _, _ := strings.Cut(g["wavelength"], "_nm")

		pos := position(squidWavelengthsV1, wl)
		if pos == 0 {
			return nil
		}

		meta.Channel = pos
		meta.ChannelMapID = defaultSquidMapID
	}

	return meta
}

// parseSquidSlide handles slides scanned without a dated acquisition folder.
// The well is synthesised from the tile x/y position and the date comes from
// the filesystem.
func parseSquidSlide(di *DirInfo, path string) *ImageMetadata {
	g := match(squidSlideRegex, path)
	if g == nil {
		return nil
	}

	meta := newSquidMeta(path, "squid_slide", g)
	meta.Magnification = "?x"

	if meta.X < 0 || meta.X >= len(slideWellLetters) {
		return nil
	}

	meta.Well = slideWellLetters[meta.X:meta.X+1] + leftPad2(meta.Y)

	switch typ := g["type"]; {
	case strings.HasPrefix(typ, "fluo"):
		wl := typ[len("fluo"):]

		i, v2, ok := squidWavelength(wl)
		if !ok {
			return nil
		}

		meta.ChannelName = wl
		meta.Channel = i + 1
		meta.ChannelMapID = defaultSquidMapID

		if v2 {
			meta.ChannelMapID = squidV2MapID
		}
	case typ == "BF":
		meta.ChannelName = "BF"
		meta.Channel = squidBFPosition
		meta.ChannelMapID = squidBFMapID
	default:
		meta.ChannelName = unknownChannelName
		meta.Channel = 1
		meta.ChannelMapID = defaultSquidMapID
	}

	created, ok := di.CreatedDate(path)
	if !ok {
		return nil
	}

	meta.DateISO = created.Format(isoSeconds)

	return meta
}
