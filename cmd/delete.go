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

	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/imgdb-monitor/catalog"
)

var deleteCatalog catalogFlags

// deleteCmd represents the delete command.
var deleteCmd = &cobra.Command{
	Use:   "delete <image path> [image path...]",
	Short: "Remove images from the catalog",
	Long: `Remove images from the catalog.

Use this after deleting or moving image files on disk, so the catalog no
longer refers to them. The files themselves, and their thumbnails, are left
alone.

Exits non-zero if any of the given paths was not in the catalog.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		store := openCatalog(&deleteCatalog)
		defer store.Close()

		var missing int

		for _, path := range args {
			path = filepath.Clean(path)

			err := store.DeleteImage(context.Background(), path)
			if errors.Is(err, catalog.ErrNotFound) {
				warn("no image %s in the catalog", path)

				missing++

				continue
			} else if err != nil {
				die("failed to delete image: %s", err)
			}

			info("deleted %s", path)
		}

		if missing > 0 {
			die("%d of %d images were not in the catalog", missing, len(args))
		}
	},
}

func init() {
	RootCmd.AddCommand(deleteCmd)

	deleteCatalog.register(deleteCmd.Flags())
}
