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

package cmd

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/ugorji/go/codec"
	"github.com/wtsi-hgi/imgdb-monitor/filenames"
)

var parseTable bool

// parsedImage is what we output for each parsed path.
type parsedImage struct {
	*filenames.ImageMetadata

	AcquisitionFolder string
	Barcode           string
	Imaged            string
}

// parseCmd represents the parse command.
var parseCmd = &cobra.Command{
	Use:   "parse <path>...",
	Short: "Show the metadata of image paths",
	Long: `Show the metadata of image paths.

Each path is parsed the way 'poll' would parse it, and the metadata that
would be recorded in the catalog is printed as a line of JSON (or as a table
row with --table). The paths don't need to exist, but some microscope
formats read their directory's settings files if they do.

Exits non-zero if any path could not be parsed.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		registry := filenames.DefaultRegistry(appLogger, filenames.NewDirInfo())

		var (
			parsed []parsedImage
			failed int
		)

		for _, path := range args {
			meta, err := registry.Parse(path)
			if err != nil {
				warn("%s", err)

				failed++

				continue
			}

			parsed = append(parsed, newParsedImage(meta))
		}

		if parseTable {
			printParsedTable(parsed)
		} else {
			printParsedJSON(parsed)
		}

		if failed > 0 {
			die("%d of %d paths could not be parsed", failed, len(args))
		}
	},
}

func init() {
	RootCmd.AddCommand(parseCmd)

	parseCmd.Flags().BoolVar(&parseTable, "table", false, "output a table instead of JSON")
}

func newParsedImage(meta *filenames.ImageMetadata) parsedImage {
	p := parsedImage{
		ImageMetadata:     meta,
		AcquisitionFolder: meta.AcquisitionFolder(),
		Barcode:           meta.PlateBarcode(),
	}

	if t, err := meta.Imaged(); err == nil {
		p.Imaged = t.Format("2006-01-02")
	}

	return p
}

func printParsedJSON(parsed []parsedImage) {
	enc := codec.NewEncoder(os.Stdout, new(codec.JsonHandle))

	for _, p := range parsed {
		if err := enc.Encode(p); err != nil {
			die("failed to encode metadata: %s", err)
		}

		cliPrint("\n")
	}
}

func printParsedTable(parsed []parsedImage) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Path", "Parser", "Project", "Plate", "Well", "Site", "Channel", "Imaged"})

	for _, p := range parsed {
		table.Append([]string{
			p.Path, p.Parser, p.Project, p.Plate, p.Well,
			strconv.Itoa(p.Site), strconv.Itoa(p.Channel), p.Imaged,
		})
	}

	table.Render()
}
