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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"
)

const testGUID = "E7E3B2C3-9420-452B-ACB6-89128BDC69BB"

func TestParse(t *testing.T) {
	Convey("Given the default registry", t, func() {
		logger := log15.New()
		logger.SetHandler(log15.DiscardHandler())

		reg := DefaultRegistry(logger, NewDirInfo())

		Convey("Rules are tried specific first and catch-all last", func() {
			rules := reg.Rules()
			So(rules[0], ShouldEqual, "squid_standard_new")
			So(rules[len(rules)-1], ShouldEqual, "external_v3")
		})

		Convey("A squid image next to a config.json gets its channel from that config", func() {
			root := t.TempDir()
			plateDir := filepath.Join(root, "squid", "ProjX", "PlateA_2024-01-02_10.00.00")
			So(os.MkdirAll(filepath.Join(plateDir, "t1"), 0755), ShouldBeNil)
			So(writeSquidConfig(plateDir), ShouldBeNil)

			path := filepath.Join(plateDir, "t1", "B04_s5_x1_y1_z0_BF_LED_matrix_full.tiff")

			meta, err := reg.Parse(path)
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "squid_standard_new")
			So(meta.Project, ShouldEqual, "ProjX")
			So(meta.Plate, ShouldEqual, "PlateA")
			So(meta.Well, ShouldEqual, "B04")
			So(meta.Site, ShouldEqual, 5)
			So(meta.Z, ShouldEqual, 0)
			So(meta.Channel, ShouldEqual, 6)
			So(meta.ChannelName, ShouldEqual, "BF_LED_matrix_full")
			So(meta.ChannelMapID, ShouldEqual, 22)
			So(meta.Timepoint, ShouldEqual, 1)
			So(meta.Extension, ShouldEqual, ".tiff")
			So(meta.IsThumbnail, ShouldBeFalse)
			So(meta.AcquisitionFolder(), ShouldEqual, filepath.Join(plateDir, "t1"))

			imaged, err := meta.Imaged()
			So(err, ShouldBeNil)
			So(imaged, ShouldEqual, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))

			Convey("and parsing it again gives identical metadata", func() {
				again, err := reg.Parse(path)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, meta)
			})
		})

		Convey("A squid image without a config.json falls back to the v2 layout", func() {
			meta, err := reg.Parse("/share/mikro2/squid/ProjX/PlateA_2024-01-02_10.00.00/t1/" +
				"B04_s5_x1_y1_z0_BF_LED_matrix_full.tiff")
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "squid_v2_standard")
			So(meta.Well, ShouldEqual, "B04")
			So(meta.ChannelMapID, ShouldEqual, 22)
			So(meta.Channel, ShouldEqual, 1)
			So(meta.DateISO, ShouldEqual, "2024-01-02T10:00:00")
		})

		Convey("A squid v2 fluorescence image gets its position from the laser set", func() {
			meta, err := reg.Parse("/share/mikro2/squid/ProjY/PlateB_2023-05-06_15-41-14.542994/" +
				"C10_s2_x0_y1_Fluorescence_470_nm_Ex.tiff")
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "squid_v2_standard")
			So(meta.Channel, ShouldEqual, 2)
			So(meta.ChannelMapID, ShouldEqual, 28)
			So(meta.Timepoint, ShouldEqual, 0)

			imaged, err := meta.Imaged()
			So(err, ShouldBeNil)
			So(imaged, ShouldEqual, time.Date(2023, 5, 6, 15, 41, 14, 0, time.UTC))
		})

		Convey("The pelago300-bf project uses interleaved channel positions", func() {
			meta, err := reg.Parse("/share/mikro2/squid/pelago300-bf/PlateC_2023-05-06_12.00.00/" +
				"D01_s1_x0_y0_Fluorescence_561_nm_Ex.tiff")
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "squid_bf_other_z")
			So(meta.Channel, ShouldEqual, 10)
			So(meta.ChannelMapID, ShouldEqual, 30)
		})

		Convey("An MDC_pharmbio file without the standard name still parses", func() {
			meta, err := reg.Parse("/share/mikro/IMX/MDC_pharmbio/proj/plate/2020-08-21/233/plate_D06_s1_w1" +
				testGUID + ".tif")
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "imx_relaxed")
			So(meta.Well, ShouldEqual, "D06")
			So(meta.Site, ShouldEqual, 1)
			So(meta.Channel, ShouldEqual, 1)
			So(meta.IsThumbnail, ShouldBeFalse)
			So(meta.Year, ShouldEqual, 2020)
			So(meta.Month, ShouldEqual, 8)
			So(meta.Day, ShouldEqual, 21)
			So(meta.UploadToS3(), ShouldBeTrue)
		})

		Convey("A standard ImageXpress thumbnail is recognised as such", func() {
			meta, err := reg.Parse("/share/mikro/IMX/MDC_pharmbio/kinase378-v1/kinase378-v1-FA-P015240-HOG-48h-P2-L5-r1/" +
				"2022-03-11/965/kinase378-v1-FA-P015240-HOG-48h-P2-L5-r1_B02_s8_w3_thumb" +
				"3DF2C4AE-602A-46F6-84B2-9B31D1981B60.tif")
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "imx_standard")
			So(meta.IsThumbnail, ShouldBeTrue)
			So(meta.Well, ShouldEqual, "B02")
			So(meta.Site, ShouldEqual, 8)
			So(meta.Channel, ShouldEqual, 3)
			So(meta.PlateBarcode(), ShouldEqual, "kinase378-v1-FA-P015240-HOG-48h-P2-L5-r1")
		})

		Convey("A nikon image in a dated magnification folder gets a combined acquisition name", func() {
			meta, err := reg.Parse("/share/mikro2/nikon/proj/plateX/20240105_120847_437/20x_a/Well-B3-z2-MITO.ome.tiff")
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "nikon_v11_single_default")
			So(meta.Well, ShouldEqual, "B03")
			So(meta.Z, ShouldEqual, 2)
			So(meta.Channel, ShouldEqual, 1)
			So(meta.Magnification, ShouldEqual, "20x")
			So(meta.PlateAcqName, ShouldEqual, "plateX_20240105_120847_437_20x_a")
			So(meta.ChannelMapID, ShouldEqual, 25)
			So(meta.Year, ShouldEqual, 2024)
			So(meta.Day, ShouldEqual, 5)
		})

		Convey("A nanoscale image has its row number converted to a letter", func() {
			path := "/share/data/external-datasets/nanoscale/Plate_5/hs/55195c81-c4c6-4327-b7fc-b0b50de675b2/" +
				"images/r03c07/r03c07f01p01-ch01t01.tiff"

			meta, err := reg.Parse(path)
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "external_nanoscale")
			So(meta.Well, ShouldEqual, "C07")
			So(meta.Folder, ShouldEqual, "/share/data/external-datasets/nanoscale/Plate_5")
			So(meta.AcquisitionFolder(), ShouldEqual, meta.Folder)
			So(meta.ChannelMapID, ShouldEqual, 41)
			So(meta.UploadToS3(), ShouldBeFalse)

			Convey("but not when the file's well disagrees with its directory", func() {
				_, err := reg.Parse("/share/data/external-datasets/nanoscale/Plate_5/hs/abc/" +
					"images/r03c07/r04c07f01p01-ch01t01.tiff")
				So(errors.Is(err, ErrUnparsableFilename), ShouldBeTrue)
			})
		})

		Convey("A recursion image belongs to its experiment, one timepoint per plate directory", func() {
			meta, err := reg.Parse("/share/data/external-datasets/recursion/rxrx/exp1/Plate3/AB12_s2_5.png")
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "external_recursion")
			So(meta.Folder, ShouldEqual, "/share/data/external-datasets/recursion/rxrx/exp1")
			So(meta.Plate, ShouldEqual, "exp1")
			So(meta.Timepoint, ShouldEqual, 3)
			So(meta.Well, ShouldEqual, "b12")
			So(meta.Channel, ShouldEqual, 5)
			So(meta.MakeThumb, ShouldBeFalse)
		})

		Convey("A z-stepped christa image belongs to its TimePoint folder", func() {
			meta, err := reg.Parse("/share/data/external-datasets/christa-patient-painting/CRC-104-Growdex-10X-stained/" +
				"2025-03-14/25468/TimePoint_1/ZStep_20/CRC-104-Growdex-10X-stained_O18_s3_w1" +
				"BDD61EF7-D950-46CE-8A55-EBC514171E41.tif")
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "external_christa_zplane")
			So(meta.Folder, ShouldEqual, "/share/data/external-datasets/christa-patient-painting/"+
				"CRC-104-Growdex-10X-stained/2025-03-14/25468/TimePoint_1")
			So(meta.Plate, ShouldEqual, "25468")
			So(meta.Well, ShouldEqual, "O18")
			So(meta.Site, ShouldEqual, 3)
			So(meta.Z, ShouldEqual, 20)
			So(meta.Channel, ShouldEqual, 1)
			So(meta.MakeThumb, ShouldBeFalse)
		})

		Convey("Unknown paths are reported as unparsable", func() {
			_, err := reg.Parse("/tmp/random/notes.txt")
			So(errors.Is(err, ErrUnparsableFilename), ShouldBeTrue)
		})
	})

	Convey("Given a registry with a rule that panics", t, func() {
		reg := NewRegistry(nil,
			rule{"broken", func(string) *ImageMetadata { panic("boom") }},
			rule{"fixed", func(path string) *ImageMetadata { return newMeta(path, "") }},
		)

		Convey("the panic is treated as no match and the next rule wins", func() {
			meta, err := reg.Parse("/a/b.tif")
			So(err, ShouldBeNil)
			So(meta.Parser, ShouldEqual, "fixed")
		})
	})
}

func TestSquidChannelMapID(t *testing.T) {
	Convey("Channel sets map to layouts regardless of order", t, func() {
		So(SquidChannelMapID([]string{
			"BF_LED_matrix_full", "Fluorescence_730_nm_Ex", "Fluorescence_405_nm_Ex",
			"Fluorescence_488_nm_Ex", "Fluorescence_561_nm_Ex", "Fluorescence_638_nm_Ex",
		}), ShouldEqual, 22)
		So(SquidChannelMapID([]string{"Fluorescence_405_nm_Ex"}), ShouldEqual, 10)
	})
}

func TestMetadata(t *testing.T) {
	Convey("Plate barcodes are taken from the start of the plate name", t, func() {
		So((&ImageMetadata{Plate: "P013726-x"}).PlateBarcode(), ShouldEqual, "P013726")
		So((&ImageMetadata{Plate: "PB12345_y"}).PlateBarcode(), ShouldEqual, "PB12345")
		So((&ImageMetadata{Plate: "abc"}).PlateBarcode(), ShouldEqual, "abc")
	})

	Convey("A record without a usable date cannot be dated", t, func() {
		_, err := (&ImageMetadata{DateISO: "yesterday"}).Imaged()
		So(errors.Is(err, ErrInvalidDate), ShouldBeTrue)

		_, err = (&ImageMetadata{}).Imaged()
		So(errors.Is(err, ErrInvalidDate), ShouldBeTrue)
	})
}

func TestDirInfo(t *testing.T) {
	Convey("Squid config lookups are read once per directory", t, func() {
		di := NewDirInfo()
		reads := 0
		di.readFile = func(string) ([]byte, error) {
			reads++

			return []byte(`{"channels":[{"name":"Fluorescence 405 nm Ex","enabled":true},` +
				`{"name":"BF LED matrix full","enabled":false}]}`), nil
		}

		for range 3 {
			names, ok := di.SquidChannels("/some/dir")
			So(ok, ShouldBeTrue)
			So(names, ShouldResemble, []string{"Fluorescence_405_nm_Ex"})
		}

		So(reads, ShouldEqual, 1)

		Convey("and a missing config is remembered as missing", func() {
			di.readFile = func(string) ([]byte, error) {
				reads++

				return nil, os.ErrNotExist
			}

			_, ok := di.SquidChannels("/other")
			So(ok, ShouldBeFalse)
			_, ok = di.SquidChannels("/other")
			So(ok, ShouldBeFalse)
			So(reads, ShouldEqual, 2)
		})
	})
}

func writeSquidConfig(dir string) error {
	return os.WriteFile(filepath.Join(dir, squidConfigFile), []byte(`{"channels": [
		{"name": "Fluorescence 405 nm Ex", "enabled": true},
		{"name": "Fluorescence 488 nm Ex", "enabled": true},
		{"name": "Fluorescence 561 nm Ex", "enabled": true},
		{"name": "Fluorescence 638 nm Ex", "enabled": true},
		{"name": "Fluorescence 730 nm Ex", "enabled": true},
		{"name": "BF LED matrix full", "enabled": true},
		{"name": "BF LED matrix left half", "enabled": false}
	]}`), 0600)
}
