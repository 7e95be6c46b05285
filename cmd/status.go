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
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/imgdb-monitor/catalog"
)

// options for this cmd.
var (
	statusCatalog    catalogFlags
	statusUnfinished bool
)

// statusCmd represents the status command.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the plate acquisitions in the catalog",
	Long: `List the plate acquisitions in the catalog.

Acquisitions are shown most recently imaged first, with their number of
images and when (if ever) they were marked finished. Use --unfinished to only
show the acquisitions that 'poll' is still watching.`,
	Run: func(_ *cobra.Command, _ []string) {
		store := openCatalog(&statusCatalog)
		defer store.Close()

		acqs, err := store.ListAcquisitions(context.Background(), statusUnfinished)
		if err != nil {
			die("failed to list acquisitions: %s", err)
		}

		if len(acqs) == 0 {
			warn("no acquisitions found")

			return
		}

		printAcquisitions(acqs)
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)

	statusCatalog.register(statusCmd.Flags())
	statusCmd.Flags().BoolVarP(&statusUnfinished, "unfinished", "u", false,
		"only show acquisitions not yet finished")
}

// openCatalog opens the catalog described by f, or dies.
func openCatalog(f *catalogFlags) *catalog.Store {
	cfg, err := f.catalogConfig(0)
	if err != nil {
		die("%s", err)
	}

	store, err := catalog.Open(context.Background(), cfg)
	if err != nil {
		die("failed to open catalog: %s", err)
	}

	return store
}

func printAcquisitions(acqs []*catalog.Acquisition) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Project", "Plate", "Microscope", "Images", "Imaged", "Finished", "Folder"})

	for _, acq := range acqs {
		table.Append(acquisitionColumns(acq))
	}

	table.Render()
}

// acquisitionColumns returns the column data to display in the table for a
// given acquisition.
func acquisitionColumns(acq *catalog.Acquisition) []string {
	imaged, finished := "-", "-"

	if acq.Imaged.Valid {
		imaged = acq.Imaged.Time.Format("2006-01-02")
	}

	if acq.Finished.Valid {
		finished = humanize.Time(acq.Finished.Time)
	}

	return []string{
		strconv.FormatInt(acq.ID, 10),
		acq.Project,
		acq.PlateBarcode,
		acq.Microscope,
		fmt.Sprintf("%d", acq.Images),
		imaged,
		finished,
		acq.Folder,
	}
}
