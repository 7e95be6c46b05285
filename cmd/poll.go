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
	"os"
	"os/signal"
	"syscall"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/imgdb-monitor/catalog"
	"github.com/wtsi-hgi/imgdb-monitor/filenames"
	"github.com/wtsi-hgi/imgdb-monitor/ingest"
	"github.com/wtsi-hgi/imgdb-monitor/internal/mountpath"
	"github.com/wtsi-hgi/imgdb-monitor/poll"
	"github.com/wtsi-hgi/imgdb-monitor/thumbnail"
)

// options for this cmd.
var (
	pollCatalog        catalogFlags
	pollOpts           pollFlags
	pollOnce           bool
	pollNoThumbs       bool
	pollThumbMaxSource string
	pollMaxParseFails  int
)

// pollCmd represents the poll command.
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Catalogue new images below the project root directories",
	Long: `Catalogue new images below the project root directories.

Each poll walks the roots (--root, or $PROJ_ROOT_DIRS separated by colons or
commas) looking for image directories: directories containing images or an
acquisition marker file (eg. coordinates.csv or done.js). Directories of
finished acquisitions, directories that previously failed to import, and
directories not modified within the last --margin-days days are skipped.

Every new image in a directory has its path parsed to work out its plate
acquisition, which is created in the catalog if necessary, and the image is
recorded against it. Thumbnails are made under --thumbs for microscopes that
want them.

An acquisition that has had no new image for --margin is marked finished and
won't be polled again.

A directory with images none of which can be parsed is added to the
blacklist, saved to blacklist.json in --logdir (or $ERROR_LOG_DIR) along with
a log of the failures of the most recent poll, exceptions-last-poll.log.

Polls repeat every --interval until interrupted, unless --once is given or
$CONTINUOUS_POLLING is false.`,
	Run: func(_ *cobra.Command, _ []string) {
		if err := runPoll(); err != nil && !errors.Is(err, context.Canceled) {
			die("%s", err)
		}
	},
}

func init() {
	RootCmd.AddCommand(pollCmd)

	flags := pollCmd.Flags()

	pollCatalog.register(flags)
	flags.StringSliceVarP(&pollOpts.roots, "root", "r", nil, "root directory to poll [$"+envRootDirs+"]")
	flags.StringVarP(&pollOpts.thumbDir, "thumbs", "t", "",
		"directory to write thumbnails to [$"+envThumbFolder+", default "+defaultThumbFolder+"]")
	flags.StringVarP(&pollOpts.logDir, "logdir", "l", "",
		"directory for the blacklist and exception log [$"+envErrorLogDir+"]")
	flags.StringVarP(&pollOpts.interval, "interval", "i", "",
		"time to sleep between polls [$"+envPollInterval+", default 5m]")
	flags.StringVarP(&pollOpts.latestFileChangeMargin, "margin", "m", "",
		"time without a new image after which an acquisition is finished [$"+envLatestFileChangeMargin+
			", default 2h]")
	flags.StringVar(&pollOpts.pollDirsMarginDays, "margin-days", "",
		"skip directories not modified for this many days [$"+envPollDirsMarginDays+", default 10]")
	flags.StringVar(&pollOpts.exhaustiveInitialPoll, "exhaustive", "",
		"true to ignore --margin-days on the first poll [$"+envExhaustiveInitialPoll+", default false]")
	flags.StringVar(&pollOpts.continuous, "continuous", "",
		"false to stop after one poll [$"+envContinuousPolling+", default true]")
	flags.StringVarP(&pollOpts.workers, "workers", "w", "",
		"number of directories to import at once [$"+envWorkers+", default 1]")
	flags.BoolVar(&pollOnce, "once", false, "poll once and exit")
	flags.BoolVar(&pollNoThumbs, "no-thumbs", false, "don't make thumbnails")
	flags.StringVar(&pollThumbMaxSource, "thumb-max-source", "",
		"don't make thumbnails of images bigger than this (eg. 2G)")
	flags.IntVar(&pollMaxParseFails, "max-parse-failures", 0,
		"fail a directory with more unparsable new images than this (0 for no limit)")
}

func runPoll() error {
	cfg, err := pollOpts.pollConfig()
	if err != nil {
		return err
	}

	if pollOnce {
		cfg.Continuous = false
	}

	cfg.Ingest.MaxParseFailures = pollMaxParseFails

	thumbs, err := thumbnailer(&cfg)
	if err != nil {
		return err
	}

	catCfg, err := pollCatalog.catalogConfig(cfg.Workers)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := catalog.Open(ctx, catCfg)
	if err != nil {
		return err
	}

	logRootMounts(cfg.Roots)

	loop, err := poll.New(cfg, store, filenames.DefaultRegistry(appLogger, filenames.NewDirInfo()),
		thumbs, appLogger)
	if err != nil {
		store.Close()

		return err
	}

	defer loop.Close()

	return loop.Run(ctx)
}

// thumbnailer returns the thumbnail service to use, or nil (clearing the
// thumbnail directory) if thumbnails are disabled.
func thumbnailer(cfg *poll.Config) (ingest.Thumbnailer, error) { //nolint:ireturn
	if pollNoThumbs {
		cfg.Ingest.ThumbDir = ""

		return nil, nil
	}

	var maxSource uint64

	if pollThumbMaxSource != "" {
		var err error

		maxSource, err = bytefmt.ToBytes(pollThumbMaxSource)
		if err != nil {
			return nil, err
		}
	}

	return thumbnail.New(maxSource), nil
}

// logRootMounts logs the filesystem each root is on.
func logRootMounts(roots []string) {
	mounts, err := mountpath.Get()
	if err != nil {
		warn("could not read mount table: %s", err)

		return
	}

	for _, root := range roots {
		m, err := mounts.For(root)
		if err != nil {
			warn("no mount found for root %s: %s", root, err)

			continue
		}

		appLogger.Info("polling root", "root", root, "mount", m.Point, "fstype", m.FSType, "source", m.Source)
	}
}
