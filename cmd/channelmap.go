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
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/imgdb-monitor/catalog"
)

var channelMapCatalog catalogFlags

// channelMapCmd represents the channelmap command.
var channelMapCmd = &cobra.Command{
	Use:   "channelmap <project> <plate> <map id>",
	Short: "Override the channel map of new acquisitions",
	Long: `Override the channel map of new acquisitions.

Acquisitions created from now on in the given project for the given plate
(or for any plate, if plate is '*') get the given channel map id instead of
the one their microscope's filename format implies. An override for a
specific plate beats one for '*'.

Existing acquisitions are not changed.`,
	Args: cobra.ExactArgs(3), //nolint:mnd
	Run: func(_ *cobra.Command, args []string) {
		mapID, err := strconv.Atoi(args[2])
		if err != nil {
			die("invalid channel map id: %s", err)
		}

		store := openCatalog(&channelMapCatalog)
		defer store.Close()

		if err := store.SetChannelMapping(context.Background(), args[0], args[1], mapID); err != nil {
			die("failed to set channel map: %s", err)
		}

		plate := args[1]
		if plate == catalog.AnyPlate {
			plate = "all plates"
		}

		info("channel map for %s in %s set to %d", plate, args[0], mapID)
	},
}

func init() {
	RootCmd.AddCommand(channelMapCmd)

	channelMapCatalog.register(channelMapCmd.Flags())
}
