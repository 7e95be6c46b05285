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
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wtsi-hgi/imgdb-monitor/catalog"
	"github.com/wtsi-hgi/imgdb-monitor/poll"
)

const (
	envDriver                 = "IMGDB_DRIVER"
	envDSN                    = "IMGDB_DSN"
	envDBUser                 = "DB_USER"
	envDBPass                 = "DB_PASS"
	envDBHost                 = "DB_HOSTNAME"
	envDBPort                 = "DB_PORT"
	envDBName                 = "DB_NAME"
	envRootDirs               = "PROJ_ROOT_DIRS"
	envThumbFolder            = "IMAGES_THUMB_FOLDER"
	envErrorLogDir            = "ERROR_LOG_DIR"
	envPollInterval           = "POLL_INTERVAL"
	envLatestFileChangeMargin = "LATEST_FILE_CHANGE_MARGIN"
	envPollDirsMarginDays     = "POLL_DIRS_MARGIN_DAYS"
	envExhaustiveInitialPoll  = "EXHAUSTIVE_INITIAL_POLL"
	envContinuousPolling      = "CONTINUOUS_POLLING"
	envQueryTimeout           = "IMGDB_QUERY_TIMEOUT"
	envWorkers                = "IMGDB_WORKERS"

	defaultThumbFolder = "/share/imagedb/thumbs/"
	defaultDBPort      = "5432"
)

var (
	errDSNRequired   = errors.New("database DSN required (or DB_HOSTNAME, DB_USER and DB_NAME)")
	errRootsRequired = errors.New("root directories to poll required")
)

var dotEnvKeys = []string{ //nolint:gochecknoglobals
	envDriver,
	envDSN,
	envDBUser,
	envDBPass,
	envDBHost,
	envDBPort,
	envDBName,
	envRootDirs,
	envThumbFolder,
	envErrorLogDir,
	envPollInterval,
	envLatestFileChangeMargin,
	envPollDirsMarginDays,
	envExhaustiveInitialPoll,
	envContinuousPolling,
	envQueryTimeout,
	envWorkers,
}

// loadDotEnv sets our environment variables from .env and then .env.local,
// never overriding one that was set before we started.
func loadDotEnv() {
	orig := originalEnvKeys(dotEnvKeys)

	loadDotEnvFile(".env", orig)
	loadDotEnvFile(".env.local", orig)
}

func originalEnvKeys(keys []string) map[string]struct{} {
	orig := map[string]struct{}{}

	for _, key := range keys {
		if _, ok := os.LookupEnv(key); ok {
			orig[key] = struct{}{}
		}
	}

	return orig
}

func loadDotEnvFile(path string, orig map[string]struct{}) {
	env, err := godotenv.Read(path)
	if err != nil {
		return
	}

	for _, key := range dotEnvKeys {
		val, ok := env[key]
		if !ok {
			continue
		}

		if _, ok := orig[key]; ok {
			continue
		}

		_ = os.Setenv(key, val)
	}
}

// catalogFlags are the flags every catalog-using subcommand takes.
type catalogFlags struct {
	driver       string
	dsn          string
	queryTimeout string
}

func (f *catalogFlags) register(flags interface {
	StringVar(p *string, name string, value string, usage string)
}) {
	flags.StringVar(&f.driver, "driver", "", "database driver, pgx or sqlite3 [$"+envDriver+", default pgx]")
	flags.StringVar(&f.dsn, "dsn", "", "database DSN [$"+envDSN+"]")
	flags.StringVar(&f.queryTimeout, "query-timeout", "",
		"timeout for each catalog operation [$"+envQueryTimeout+", default 30s]")
}

// catalogConfig resolves f against the environment.
func (f *catalogFlags) catalogConfig(workers int) (catalog.Config, error) {
	driver := flagOrEnv(f.driver, envDriver, catalog.DriverPostgres)

	dsn, err := requiredFlagOrEnv(f.dsn, envDSN, errDSNRequired)
	if err != nil && driver == catalog.DriverPostgres {
		if dsn = postgresDSNFromEnv(); dsn != "" {
			err = nil
		}
	}

	if err != nil {
		return catalog.Config{}, err
	}

	timeout, err := parseDurationFlagOrEnv(f.queryTimeout, envQueryTimeout, catalog.DefaultQueryTimeout)
	if err != nil {
		return catalog.Config{}, err
	}

	return catalog.Config{
		Driver:       driver,
		DSN:          dsn,
		MaxOpenConns: workers + 1,
		MaxIdleConns: workers + 1,
		QueryTimeout: timeout,
	}, nil
}

// postgresDSNFromEnv builds a postgres URL from the DB_* variables, returning
// empty if the host, user or database name is missing.
func postgresDSNFromEnv() string {
	host := strings.TrimSpace(os.Getenv(envDBHost))
	user := strings.TrimSpace(os.Getenv(envDBUser))
	name := strings.TrimSpace(os.Getenv(envDBName))

	if host == "" || user == "" || name == "" {
		return ""
	}

	port := flagOrEnv("", envDBPort, defaultDBPort)

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, os.Getenv(envDBPass)),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + name,
	}

	return u.String()
}

// pollFlags are the flags of the poll subcommand, as given.
type pollFlags struct {
	roots                  []string
	thumbDir               string
	logDir                 string
	interval               string
	latestFileChangeMargin string
	pollDirsMarginDays     string
	exhaustiveInitialPoll  string
	continuous             string
	workers                string
}

// pollConfig resolves f against the environment.
func (f *pollFlags) pollConfig() (poll.Config, error) {
	cfg := poll.Config{
		Roots:  listFlagOrEnv(f.roots, envRootDirs),
		LogDir: flagOrEnv(f.logDir, envErrorLogDir, ""),
	}

	if len(cfg.Roots) == 0 {
		return cfg, errRootsRequired
	}

	cfg.Ingest.ThumbDir = flagOrEnv(f.thumbDir, envThumbFolder, defaultThumbFolder)

	var err error

	if cfg.Interval, err = parseDurationFlagOrEnv(f.interval, envPollInterval, poll.DefaultInterval); err != nil {
		return cfg, err
	}

	if cfg.LatestFileChangeMargin, err = parseDurationFlagOrEnv(f.latestFileChangeMargin,
		envLatestFileChangeMargin, poll.DefaultLatestFileChangeMargin); err != nil {
		return cfg, err
	}

	if cfg.PollDirsMarginDays, err = parseIntFlagOrEnv(f.pollDirsMarginDays,
		envPollDirsMarginDays, poll.DefaultPollDirsMarginDays); err != nil {
		return cfg, err
	}

	if cfg.ExhaustiveInitialPoll, err = parseBoolFlagOrEnv(f.exhaustiveInitialPoll,
		envExhaustiveInitialPoll, false); err != nil {
		return cfg, err
	}

	if cfg.Continuous, err = parseBoolFlagOrEnv(f.continuous, envContinuousPolling, true); err != nil {
		return cfg, err
	}

	cfg.Workers, err = parseIntFlagOrEnv(f.workers, envWorkers, 1)

	return cfg, err
}

func flagOrEnv(flagValue string, envKey string, defaultValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}

	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}

	return defaultValue
}

func requiredFlagOrEnv(flagValue string, envKey string, missing error) (string, error) {
	v := strings.TrimSpace(flagValue)
	if v != "" {
		return v, nil
	}

	v = strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return "", missing
	}

	return v, nil
}

// listFlagOrEnv returns the flag values if any were given, otherwise the
// environment variable split on colons or commas.
func listFlagOrEnv(flagValues []string, envKey string) []string {
	var list []string

	for _, v := range flagValues {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}

	if len(list) > 0 {
		return list
	}

	for _, v := range strings.FieldsFunc(os.Getenv(envKey), func(r rune) bool { return r == ':' || r == ',' }) {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}

	return list
}

func parseDurationFlagOrEnv(flagValue string, envKey string, defaultValue time.Duration) (time.Duration, error) {
	if strings.TrimSpace(flagValue) != "" {
		d, err := time.ParseDuration(flagValue)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %q: %w", envKey, err)
		}

		return d, nil
	}

	v := strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", envKey, err)
	}

	return d, nil
}

func parseIntFlagOrEnv(flagValue string, envKey string, defaultValue int) (int, error) {
	v := flagOrEnv(flagValue, envKey, "")
	if v == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", envKey, err)
	}

	return n, nil
}

func parseBoolFlagOrEnv(flagValue string, envKey string, defaultValue bool) (bool, error) {
	v := flagOrEnv(flagValue, envKey, "")
	if v == "" {
		return defaultValue, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s: %w", envKey, err)
	}

	return b, nil
}
