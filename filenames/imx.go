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
	"regexp"
	"strings"
)

const (
	imxMicroscope  = "ImageXpress"
	imxMapID       = 1
	noGUID         = "no-guid"
	guidPattern    = `(?P<guid>[A-Z0-9]{8}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{12})`
	imxDatedPrefix = `(?i)^.*MDC_pharmbio/(?P<project>.*?)/(?P<plate>.*?)/` +
		`(?P<year>[0-9]{4})-(?P<month>[0-9]{2})-(?P<day>[0-9]{2})`
)

var (
	imxStandardRegex = regexp.MustCompile(imxDatedPrefix + `.*/([0-9]{6}-)?` +
		`(?P<name>[^-]+)-(?P<mag>[^-]+)-(?P<short>[^_]+)_(?P<well>[^_]+)_s(?P<site>[^_]+)_w(?P<channel>[0-9]+)` +
		`(?P<thumb>_thumb)?` + guidPattern + `(?P<ext>\.tiff?)?$`)

	imxOlderRegex = regexp.MustCompile(imxDatedPrefix + `.*TimePoint_(?P<tp>[^/]+)/` +
		`(?P<name>[^-]+)-(?P<mag>[^-]+)-(?P<short>[^_]+)_(?P<well>[^_]+)_s(?P<site>[0-9])(?P<channel>_w[0-9])?` +
		`(?P<thumb>_thumb)?` + guidPattern + `(?P<ext>\.tiff?)?$`)

	imxRelaxedGateRegex = regexp.MustCompile(`/MDC_pharmbio/(?P<project>.+?)/(?P<plate>.+?)/` +
		`(?P<year>[0-9]{4})-(?P<month>[0-9]{2})-(?P<day>[0-9]{2})`)
	imxRelaxedFileRegex = regexp.MustCompile(`.*/.+?_(?P<well>[^_]+)(?P<site>_s[^_]+)?(?P<channel>_w[0-9]+)?` +
		`(?P<thumb>_thumb)?` + guidPattern + `(?P<ext>\.tiff?)?`)

	pharmbioV1Regex = regexp.MustCompile(`(?i)^.*(?P<year>[0-9]{4})-(?P<month>[0-9]{2})-(?P<day>[0-9]{2})` +
		`.*TimePoint_(?P<tp>[^/]+)/(?P<project>[^-]+)-(?P<mag>[^-]+)-(?P<plate>[^_]+)_(?P<well>[^_]+)` +
		`_s(?P<site>[0-9])(?P<channel>_w[0-9])?(?P<thumb>_thumb)?` + guidPattern + `(?P<ext>\.tiff?)?$`)

	pharmbioV2Regex = regexp.MustCompile(`(?i)^.*(?P<year>[0-9]{4})-(?P<month>[0-9]{2})-(?P<day>[0-9]{2})` +
		`.*TimePoint_(?P<tp>[^/]+)/(?P<project>[^-]+)-(?P<mag>[^-]+)-(?P<plate>[^_]+)_(?P<well>[^_]+)` +
		`_s(?P<site>[0-9])(?P<thumb>_thumb)?` + guidPattern + `(?P<ext>\.tiff?)?$`)

	mikroProjectRegex = regexp.MustCompile(`/share/mikro/(.+?)/`)
	mikroPlateRegex   = regexp.MustCompile(`/share/mikro/.+?/(.*)/`)
	mikroWellRegex    = regexp.MustCompile(`.*/(.+?) - ([0-9][0-9])`)
	mikroSiteRegex    = regexp.MustCompile(`.*\(fld ([0-9]) `)
	mikroChannelRegex = regexp.MustCompile(`.*wv (.+) - `)

	mikroChannels = []string{"FITC", "Cy3", "Cy5", "DAPI", "TL-Brightfield"} //nolint:gochecknoglobals
)

func imxRules(di *DirInfo) []Rule {
	return []Rule{
		rule{"imx_standard", parseIMXStandard},
		rule{"imx_older", parseIMXOlder},
		rule{"imx_relaxed", parseIMXRelaxed},
		rule{"pharmbio_v1", func(path string) *ImageMetadata { return parsePharmbio(pharmbioV1Regex, "pharmbio_v1", path) }},
		rule{"pharmbio_v2", func(path string) *ImageMetadata { return parsePharmbio(pharmbioV2Regex, "pharmbio_v2", path) }},
		rule{"pharmbio_v3", func(path string) *ImageMetadata { return parsePharmbioV3(di, path) }},
	}
}

// channelSuffix returns N from an optional "_wN" group, or 1.
func channelSuffix(s string) int {
	if s == "" {
		return 1
	}

	return atoi(strings.TrimPrefix(s, "_w"))
}

func newIMXMeta(path, parser string, g groups) *ImageMetadata {
	meta := newMeta(path, parser)
	meta.Project = g["project"]
	meta.Plate = g["plate"]
	meta.PlateAcqName = path
	meta.Magnification = g["mag"]
	meta.Well = g["well"]
	meta.Site = atoi(strings.TrimPrefix(g["site"], "_s"))
	meta.Channel = channelSuffix(g["channel"])
	meta.IsThumbnail = g.has("thumb")
	meta.GUID = g["guid"]
	meta.Extension = g["ext"]
	meta.Year, meta.Month, meta.Day = g.int("year"), g.int("month"), g.int("day")
	meta.ChannelMapID = imxMapID
	meta.Microscope = imxMicroscope

	return meta
}

func parseIMXStandard(path string) *ImageMetadata {
	g := match(imxStandardRegex, path)
	if g == nil {
		return nil
	}

	meta := newIMXMeta(path, "imx_standard", g)
	meta.Channel = g.int("channel")

	return meta
}

func parseIMXOlder(path string) *ImageMetadata {
	g := match(imxOlderRegex, path)
	if g == nil {
		return nil
	}

	meta := newIMXMeta(path, "imx_older", g)
	meta.Timepoint = g.int("tp")

	return meta
}

// parseIMXRelaxed accepts any MDC_pharmbio file with a well and a GUID, with
// site and channel optional.
func parseIMXRelaxed(path string) *ImageMetadata {
	dated := match(imxRelaxedGateRegex, path)
	if dated == nil {
		return nil
	}

	g := match(imxRelaxedFileRegex, path)
	if g == nil {
		return nil
	}

	for k, v := range dated {
		g[k] = v
	}

	meta := newIMXMeta(path, "imx_relaxed", g)
	meta.Magnification = "?x"
	meta.GUID = noGUID
	meta.Extension = ".tif"

	if !g.has("site") {
		meta.Site = defaultSite
	}

	return meta
}

func parsePharmbio(re *regexp.Regexp, parser, path string) *ImageMetadata {
	g := match(re, path)
	if g == nil {
		return nil
	}

	meta := newIMXMeta(path, parser, g)
	meta.Timepoint = g.int("tp")

	return meta
}

// parsePharmbioV3 reads the oldest layout under /share/mikro, where wells
// and channels are spelled out in the filename, e.g.
// "plate_B - 03(fld 2 wv DAPI - DAPI).tif".
func parsePharmbioV3(di *DirInfo, path string) *ImageMetadata {
	project := mikroProjectRegex.FindStringSubmatch(path)
	plate := mikroPlateRegex.FindStringSubmatch(path)
	well := mikroWellRegex.FindStringSubmatch(path)
	channel := mikroChannelRegex.FindStringSubmatch(path)

	if project == nil || plate == nil || well == nil || channel == nil {
		return nil
	}

	pos := position(mikroChannels, channel[1])
	if pos == 0 {
		return nil
	}

	meta := newMeta(path, "pharmbio_v3")
	meta.Project = project[1]
	meta.Plate = plate[1]
	meta.Magnification = "?x"
	meta.Well = well[1] + well[2]
	meta.Channel = pos
	meta.ChannelName = channel[1]
	meta.GUID = noGUID
	meta.Extension = ".tif"
	meta.ChannelMapID = imxMapID

	if _, after, found := strings.Cut(meta.Well, "_"); found {
		meta.Well, _, _ = strings.Cut(after, "_")
	}

	if site := mikroSiteRegex.FindStringSubmatch(path); site != nil {
		meta.Site = atoi(site[1])
	}

	if !createdDate(di, meta) {
		return nil
	}

	return meta
}
