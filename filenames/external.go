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
	"strconv"
	"strings"
	"unicode"
)

const (
	unknownMicroscope   = "Unknown"
	unknownMagnify      = "?x"
	christaZPlaneProj   = "christa-patient-painting"
	yukogawaProject     = "spher-colo52-az"
	morphomacProject    = "Morphomac"
	spheroidProject     = "KI-NIKON"
	spheroidPlate       = "KI_NIKON_PLATE_A"
	timePointDirPrefix  = "TimePoint"
	externalDefaultYear = 1970
)

var (
	christaZPlaneRegex = regexp.MustCompile(`.*/external-datasets/christa-patient-painting/(?P<acq>[^/]+)/` +
		`(?P<date>\d{4}-\d{2}-\d{2})/(?P<plate>\d+)/TimePoint_(?P<tp>\d+)(?:/ZStep_(?P<z>\d+))?/.*`)
	christaZPlaneFileRegex = regexp.MustCompile(`(?i)^.*/(?:.*?_)?(?P<well>[A-Z]{1,2}\d+)_s(?P<site>\d+)` +
		`_w(?P<channel>\d+)(?P<thumb>_thumb)?(?P<guid>[A-F0-9-]{36})?\.(?P<ext>[^.]+)$`)

	recursionRegex = regexp.MustCompile(`.*/external-datasets/recursion/(?P<project>[^/]+)/` +
		`(?P<experiment>[^/]+)/Plate(?P<tp>\d+)/.*`)
	recursionFileRegex   = regexp.MustCompile(`.*/(?P<well>[A-Z]{1,2}\d+)_s(?P<site>\d+)_(?P<channel>\d+)\.(?P<ext>.*)$`)
	recursionFolderRegex = regexp.MustCompile(`/Plate\d+/.*`)

	nanoscaleRegex = regexp.MustCompile(`(?i).*/external-datasets/(?P<project>[^/]+)/(?P<plate>[^/]+)/` +
		`hs/(?P<guid>[^/]+)/images/r(?P<row>\d+)c(?P<col>\d+)/` +
		`r(?P<frow>\d+)c(?P<fcol>\d+)f(?P<site>\d+)p(?P<z>\d+)-ch(?P<channel>\d+)(?:t(?P<tp>\d+))?` +
		`\.(?P<ext>tif|tiff|png|jpg|jpeg)$`)

	yukogawaRegex = regexp.MustCompile(`^.*/external-datasets/(?P<project>[^/]+)/(?P<experiment>[^/]+)/` +
		`(?P<plate>AssayPlate_Corning_[0-9]+)/`)
	yukogawaFileRegex = regexp.MustCompile(`.*/(AssayPlate_Corning_[0-9]+)_(?P<well>[A-Z]\d{2})_` +
		`T(?P<tp>[0-9]+)F(?P<site>[0-9]+)L([0-9]+)A([0-9]+)Z(?P<z>[0-9]+)C(?P<channel>[0-9]+)\.(?P<ext>.*)$`)

	comp1Regex     = regexp.MustCompile(`.*/external-datasets/(?P<project>GEN153-C1)/.*/.*/(?P<plate>.*)/.*`)
	comp1FileRegex = regexp.MustCompile(`.*/([0-9]*)_(?P<well>[A-Z0-9]*)_T(?P<tp>[0-9]*)F(?P<site>[0-9]*)` +
		`L([0-9]*)A([0-9]*)Z(?P<z>[0-9]*)C(?P<channel>[0-9]*)\.(?P<ext>.*)`)

	spheroidRegex     = regexp.MustCompile(`.*/external-datasets/christa/(.*?)/.*`)
	spheroidFileRegex = regexp.MustCompile(`.*/[Ss]pheroid-(?P<col>\d+)_z(?P<z>\d+)_(?P<channel>[A-Z_]+)\.(?P<ext>.*)`)
	spheroidChannels  = []string{"HOECHST", "SYTO", "PHA_WGA", "MITO", "CONC"} //nolint:gochecknoglobals

	morphomacRegex     = regexp.MustCompile(`.*/external-datasets/Morphomac/(?P<plate>[^/]+)/`)
	morphomacFileRegex = regexp.MustCompile(`(?i)^_C(?P<well>[A-Z0-9]+)_s(?P<site>\d+)_w(?P<channel>\d+)` +
		`(?P<thumb>_thumb)?` + guidPattern + `\.(?P<ext>tiff?|png|jpe?g)$`)

	morphomacWideRegex = regexp.MustCompile(`.*/external-datasets/Morphomac/widefield/(?P<plate>.*)/TimePoint_(?P<tp>.*?)/.*`)
	gbmRegex           = regexp.MustCompile(`.*/external-datasets/gbm/(?P<project>.*?)/(?P<plate>.*)/TimePoint_(?P<tp>.*?)/.*`)
	imxLikeFileRegex   = regexp.MustCompile(`.*/(.*_)?(?P<well>[A-Z0-9]*)_s(?P<site>[0-9]*)_w(?P<channel>[0-9]*)` +
		`(?P<thumb>_thumb)?(?P<guid>[A-Z0-9]{8}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{12})?\.(?P<ext>.*)`)

	cpjumpRegex = regexp.MustCompile(`/external-datasets/(?P<project>.+?)/images/(?P<plate>.+?)__` +
		`(?P<year>[0-9]{4})-(?P<month>[0-9]{2})-(?P<day>[0-9]{2})`)
	cpjumpFileRegex = regexp.MustCompile(`.*/r(?P<row>.+?)c(?P<col>.+?)f(?P<site>.+?)p(.+?)-ch(?P<channel>[0-9]+).+?(\.tiff?)?`)

	davidRegex     = regexp.MustCompile(`.*/external-datasets/david/(?P<plate>exp.*)/Images/tp.*/.*`)
	davidFileRegex = regexp.MustCompile(`.*/r(?P<row>[0-9]*)c(?P<col>[0-9]*)f(?P<site>[0-9]*)p([0-9]*)` +
		`-ch(?P<channel>[0-9]*)sk(?P<tp>[0-9]*)fk([0-9]*)fl([0-9]*)\.(?P<ext>.*)`)

	operaRegex     = regexp.MustCompile(`.*/external-datasets/(.+?)/(?P<project>.+?)/(?P<plate>.+?)/Images/`)
	operaFileRegex = regexp.MustCompile(`.*/r(?P<row>.+?)c(?P<col>.+?)f(?P<site>.+?)p(?P<z>.+?)-ch(?P<channel>[0-9]+)` +
		`sk([0-9]+)fk([0-9]+)fl([0-9]+)(?P<ext>\.tiff?)?`)

	christaRegex     = regexp.MustCompile(`.*/external-datasets/(?P<project>.*?)/(?P<plate>.*?)/.*`)
	christaFileRegex = regexp.MustCompile(`.*/(.*_)?(?P<well>[A-Z0-9]*)_z(?P<z>[0-9]*)_w(?P<channel>[0-9]*)\.(?P<ext>.*)`)

	externalIMXRegex     = regexp.MustCompile(`.*/external-datasets/(.*?)/(?P<project>.*?)/(?P<plate>.*?)/.*`)
	externalIMXFileRegex = regexp.MustCompile(`.*/(.*_)?(?P<well>[A-Z0-9]*)_s(?P<site>[0-9]*)_w(?P<channel>[0-9]*)` +
		`(?P<guid>[A-Z0-9]{8}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{12})?\.(?P<ext>.*)`)

	externalV3Regex     = regexp.MustCompile(`.*/external-datasets/.*/(?P<project>.*)/(?P<plate>.*)/.*`)
	externalV3FileRegex = regexp.MustCompile(`.*/(.*_)?(?P<well>[A-Z0-9]*)_s(?P<site>[0-9]*)_w(?P<channel>[0-9]*)\.(?P<ext>.*)`)
)

func externalRules(di *DirInfo) []Rule {
	return []Rule{
		rule{"external_christa_zplane", parseChristaZPlane},
		rule{"external_recursion", parseRecursion},
		rule{"external_nanoscale", func(path string) *ImageMetadata { return parseNanoscale(di, path) }},
		rule{"external_yukogawa", parseYukogawa},
		rule{"external_comp1", parseComp1},
		rule{"external_spheroid_v1", parseSpheroid},
		rule{"external_morphomac_v2", parseMorphomac},
		rule{"external_morphomac_widefield", parseMorphomacWidefield},
		rule{"external_gbm", parseGBM},
		rule{"external_cpjump", parseCPJump},
		rule{"external_david", parseDavid},
		rule{"external_opera", parseOpera},
		rule{"external_christa", parseChrista},
		rule{"external_imx", parseExternalIMX},
		rule{"external_v3", parseExternalV3},
	}
}

// externalMeta matches a gate regexp against the path and a file regexp
// against it too, returning the merged groups and a metadata record with the
// defaults shared by all external datasets.
func externalMeta(path, parser string, gate, file *regexp.Regexp) (*ImageMetadata, groups) {
	g := match(gate, path)
	if g == nil {
		return nil, nil
	}

	f := match(file, path)
	if f == nil {
		return nil, nil
	}

	for k, v := range g {
		if _, ok := f[k]; !ok || f[k] == "" {
			f[k] = v
		}
	}

	if f.has("ext") && !hasValidExtension(f["ext"]) {
		return nil, nil
	}

	meta := newMeta(path, parser)
	meta.Project = f["project"]
	meta.Plate = f["plate"]
	meta.PlateAcqName = path
	meta.Magnification = unknownMagnify
	meta.Well = f["well"]
	meta.Site = f.int("site")
	meta.Z = f.int("z")
	meta.Channel = f.int("channel")
	meta.IsThumbnail = f.has("thumb")
	meta.GUID = f["guid"]
	meta.Extension = f["ext"]
	meta.Year, meta.Month, meta.Day = externalDefaultYear, 1, 1
	meta.ChannelMapID = imxMapID
	meta.Microscope = unknownMicroscope

	if f.has("tp") {
		meta.Timepoint = f.int("tp")
	}

	return meta, f
}

func setDate(meta *ImageMetadata, y, m, d int) {
	meta.Year, meta.Month, meta.Day = y, m, d
}

// timePointFolder returns the nearest ancestor directory of path named
// TimePoint*, or the directory containing path.
func timePointFolder(path string) string {
	for dir := filepath.Dir(path); dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		if strings.HasPrefix(filepath.Base(dir), timePointDirPrefix) {
			return dir
		}
	}

	return filepath.Dir(path)
}

func parseChristaZPlane(path string) *ImageMetadata {
	meta, g := externalMeta(path, "external_christa_zplane", christaZPlaneRegex, christaZPlaneFileRegex)
	if meta == nil {
		return nil
	}

	imaged, err := parseISO(g["date"])
	if err != nil {
		return nil
	}

	meta.Folder = timePointFolder(path)
	meta.Project = christaZPlaneProj
	meta.PlateAcqName = g["acq"]
	meta.ChannelName = strconv.Itoa(meta.Channel)
	meta.ChannelMapID = 37
	meta.MakeThumb = false

	if meta.GUID == "" {
		meta.GUID = noGUID
	}

	setDate(meta, imaged.Year(), int(imaged.Month()), imaged.Day())

	return meta
}

// parseRecursion handles Recursion datasets, where each PlateN directory is
// a timepoint of one experiment and the experiment directory is the
// acquisition.
func parseRecursion(path string) *ImageMetadata {
	meta, g := externalMeta(path, "external_recursion", recursionRegex, recursionFileRegex)
	if meta == nil {
		return nil
	}

	meta.Folder = recursionFolderRegex.ReplaceAllString(path, "")
	meta.Plate = g["experiment"]
	meta.PlateAcqName = g["experiment"]
	meta.Well = normaliseDoubleLetterWell(meta.Well)
	meta.ChannelName = strconv.Itoa(meta.Channel)
	meta.ChannelMapID = 35
	meta.MakeThumb = false

	setDate(meta, 2024, 11, 1) //nolint:mnd

	return meta
}

// normaliseDoubleLetterWell turns wells past row Z ("AB12") into the
// lower-case row letter convention ("b12").
func normaliseDoubleLetterWell(well string) string {
	if len(well) > 2 && unicode.IsLetter(rune(well[0])) && unicode.IsLetter(rune(well[1])) {
		return strings.ToLower(well[1:2]) + well[2:]
	}

	return well
}

func parseNanoscale(di *DirInfo, path string) *ImageMetadata {
	g := match(nanoscaleRegex, path)
	if g == nil || g["row"] != g["frow"] || g["col"] != g["fcol"] {
		return nil
	}

	folder, _, found := strings.Cut(path, "/hs/")
	if !found {
		return nil
	}

	letter := rowLetter(g.int("row"))
	if letter == "" {
		return nil
	}

	meta := newMeta(path, "external_nanoscale")
	meta.Folder = folder
	meta.Project = g["project"]
	meta.Plate = g["plate"]
	meta.PlateAcqName = path
	meta.Magnification = unknownMagnify
	meta.Well = letter + leftPad2(g.int("col"))
	meta.Site = g.int("site")
	meta.Z = g.int("z")
	meta.Channel = g.int("channel")
	meta.GUID = g["guid"]
	meta.Extension = strings.ToLower(g["ext"])
	meta.ChannelMapID = 41
	meta.Microscope = "Opera"

	if g.has("tp") {
		meta.Timepoint = g.int("tp")
	}

	if !createdDate(di, meta) {
		setDate(meta, 2025, 1, 1) //nolint:mnd
	}

	return meta
}

func parseYukogawa(path string) *ImageMetadata {
	meta, g := externalMeta(path, "external_yukogawa", yukogawaRegex, yukogawaFileRegex)
	if meta == nil || g["project"] != yukogawaProject {
		return nil
	}

	meta.Extension = strings.ToLower(meta.Extension)
	meta.ChannelMapID = 36
	meta.Microscope = "Yukogawa"

	setDate(meta, 2024, 10, 1) //nolint:mnd

	return meta
}

func parseComp1(path string) *ImageMetadata {
	meta, _ := externalMeta(path, "external_comp1", comp1Regex, comp1FileRegex)
	if meta == nil {
		return nil
	}

	meta.ChannelMapID = 29

	setDate(meta, 2023, 7, 8) //nolint:mnd

	return meta
}

func parseSpheroid(path string) *ImageMetadata {
	meta, g := externalMeta(path, "external_spheroid_v1", spheroidRegex, spheroidFileRegex)
	if meta == nil {
		return nil
	}

	meta.Channel = position(spheroidChannels, g["channel"])
	if meta.Channel == 0 {
		return nil
	}

	meta.Project = spheroidProject
	meta.Plate = spheroidPlate
	meta.Well = "A0" + g["col"]
	meta.Site = meta.Z
	meta.Z = 0
	meta.GUID = noGUID
	meta.ChannelMapID = defaultSquidMapID
	meta.Microscope = "Nikon-KI"

	setDate(meta, 2024, 1, 1) //nolint:mnd

	return meta
}

// parseMorphomac handles Morphomac uploads whose filenames repeat the plate
// directory name, e.g. "<plate>_CB03_s4_w1<GUID>.tif".
func parseMorphomac(path string) *ImageMetadata {
	g := match(morphomacRegex, path)
	if g == nil {
		return nil
	}

	plate := g["plate"]
	name := filepath.Base(path)

	if len(name) < len(plate) || !strings.EqualFold(name[:len(plate)], plate) {
		return nil
	}

	f := match(morphomacFileRegex, name[len(plate):])
	if f == nil {
		return nil
	}

	meta := newMeta(path, "external_morphomac_v2")
	meta.Project = morphomacProject
	meta.Plate = plate
	meta.PlateAcqName = path
	meta.Magnification = unknownMagnify
	meta.Well = f["well"]
	meta.Site = f.int("site")
	meta.Channel = f.int("channel")
	meta.IsThumbnail = f.has("thumb")
	meta.GUID = f["guid"]
	meta.Extension = f["ext"]
	meta.ChannelMapID = imxMapID
	meta.Microscope = unknownMicroscope

	setDate(meta, 2024, 1, 1) //nolint:mnd

	return meta
}

func parseMorphomacWidefield(path string) *ImageMetadata {
	meta, _ := externalMeta(path, "external_morphomac_widefield", morphomacWideRegex, imxLikeFileRegex)
	if meta == nil {
		return nil
	}

	meta.Project = morphomacProject
	meta.Plate = strings.ReplaceAll(meta.Plate, "/", "-")
	meta.ChannelMapID = 27

	return meta
}

func parseGBM(path string) *ImageMetadata {
	meta, _ := externalMeta(path, "external_gbm", gbmRegex, imxLikeFileRegex)
	if meta == nil {
		return nil
	}

	meta.Plate = strings.ReplaceAll(meta.Plate, "/", "-")

	return meta
}

// opera-style wells number rows from 1.
func numberedRowWell(row, col string) string {
	r := atoi(row)
	if r < 1 {
		return ""
	}

	return string(rune('@'+r)) + col
}

func parseCPJump(path string) *ImageMetadata {
	meta, g := externalMeta(path, "external_cpjump", cpjumpRegex, cpjumpFileRegex)
	if meta == nil {
		return nil
	}

	meta.Well = numberedRowWell(g["row"], g["col"])
	if meta.Well == "" {
		return nil
	}

	meta.GUID = noGUID
	meta.Extension = ".tif"
	meta.ChannelMapID = 6

	setDate(meta, g.int("year"), g.int("month"), g.int("day"))

	return meta
}

func parseDavid(path string) *ImageMetadata {
	meta, g := externalMeta(path, "external_david", davidRegex, davidFileRegex)
	if meta == nil {
		return nil
	}

	meta.Well = numberedRowWell(g["row"], g["col"])
	if meta.Well == "" {
		return nil
	}

	meta.Project = "david"

	return meta
}

func parseOpera(path string) *ImageMetadata {
	meta, g := externalMeta(path, "external_opera", operaRegex, operaFileRegex)
	if meta == nil || !g.has("ext") {
		return nil
	}

	meta.Well = numberedRowWell(g["row"], g["col"])
	if meta.Well == "" {
		return nil
	}

	meta.GUID = noGUID
	meta.ChannelMapID = 6
	meta.Microscope = "Opera"

	return meta
}

func parseChrista(path string) *ImageMetadata {
	meta, _ := externalMeta(path, "external_christa", christaRegex, christaFileRegex)
	if meta == nil {
		return nil
	}

	meta.Site = defaultSite
	meta.Timepoint = meta.Z
	meta.Z = 0
	meta.GUID = noGUID

	setDate(meta, 2022, 1, 1) //nolint:mnd

	return meta
}

func parseExternalIMX(path string) *ImageMetadata {
	meta, _ := externalMeta(path, "external_imx", externalIMXRegex, externalIMXFileRegex)

	return meta
}

func parseExternalV3(path string) *ImageMetadata {
	meta, _ := externalMeta(path, "external_v3", externalV3Regex, externalV3FileRegex)

	return meta
}
