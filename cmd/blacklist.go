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
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/imgdb-monitor/ingest"
)

var blacklistLogDir string

// blacklistCmd represents the blacklist command.
var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "List the directories 'poll' will no longer import",
	Long: `List the directories 'poll' will no longer import.

These are the directories that failed to import, as saved to blacklist.json
in --logdir (or $ERROR_LOG_DIR) by 'poll'. The reason each failed is in
exceptions-last-poll.log in the same directory, for the most recent poll.`,
	Run: func(_ *cobra.Command, _ []string) {
		dir := flagOrEnv(blacklistLogDir, envErrorLogDir, "")
		if dir == "" {
			die("log directory required (--logdir or $%s)", envErrorLogDir)
		}

		blacklist, err := ingest.LoadBlacklist(filepath.Join(dir, ingest.BlacklistFile))
		if errors.Is(err, fs.ErrNotExist) {
			warn("no directories blacklisted")

			return
		} else if err != nil {
			die("failed to read blacklist: %s", err)
		}

		for _, entry := range blacklist.Entries() {
			cliPrint("%s\n", entry)
		}
	},
}

func init() {
	RootCmd.AddCommand(blacklistCmd)

	blacklistCmd.Flags().StringVarP(&blacklistLogDir, "logdir", "l", "",
		"directory 'poll' saved its blacklist to [$"+envErrorLogDir+"]")
}
