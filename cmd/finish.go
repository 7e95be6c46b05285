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
	"errors"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/imgdb-monitor/catalog"
)

var finishCatalog catalogFlags

// finishCmd represents the finish command.
var finishCmd = &cobra.Command{
	Use:   "finish <folder>",
	Short: "Mark an acquisition finished",
	Long: `Mark an acquisition finished.

The acquisition is identified by its folder, as shown by 'status'. 'poll'
will no longer look for new images in a finished acquisition's folder.`,
	Args: cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		store := openCatalog(&finishCatalog)
		defer store.Close()

		folder := filepath.Clean(args[0])

		err := store.MarkFinished(context.Background(), folder, time.Now())
		if errors.Is(err, catalog.ErrIntegrity) {
			die("no single acquisition with folder %s", folder)
		} else if err != nil {
			die("failed to finish acquisition: %s", err)
		}

		info("marked %s finished", folder)
	},
}

// unfinishCmd represents the unfinish command.
var unfinishCmd = &cobra.Command{
	Use:   "unfinish <id>",
	Short: "Mark an acquisition unfinished",
	Long: `Mark an acquisition unfinished.

The acquisition is identified by its id, as shown by 'status'. 'poll' will
start looking for new images in its folder again.`,
	Args: cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			die("invalid acquisition id: %s", err)
		}

		store := openCatalog(&finishCatalog)
		defer store.Close()

		err = store.MarkUnfinished(context.Background(), id)
		if errors.Is(err, catalog.ErrIntegrity) {
			die("no acquisition with id %d", id)
		} else if err != nil {
			die("failed to unfinish acquisition: %s", err)
		}

		info("marked acquisition %d unfinished", id)
	},
}

func init() {
	RootCmd.AddCommand(finishCmd)
	RootCmd.AddCommand(unfinishCmd)

	finishCatalog.register(finishCmd.Flags())
	finishCatalog.register(unfinishCmd.Flags())
}
