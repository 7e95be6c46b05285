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

package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

var errNoEmbeddedSchemaFiles = errors.New("catalog: no embedded schema files found")

//go:embed schema/sqlite/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// EnsureSchema creates any missing tables and indexes. It is safe to call on
// a database that is already set up.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts, err := schemaSQL(s.dialect)
	if err != nil {
		return err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	return applySchemaDDL(ctx, s.db, stmts)
}

func schemaSQL(d dialect) ([]string, error) {
	pattern := "schema/" + d.schemaDir + "/*.sql"

	entries, err := fs.Glob(schemaFS, pattern)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list embedded schema files: %w", err)
	}

	sort.Strings(entries)

	stmts := make([]string, 0, len(entries))

	for _, name := range entries {
		stmt, err := readSchemaStatement(name)
		if err != nil {
			return nil, err
		}

		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}

	if len(stmts) == 0 {
		return nil, fmt.Errorf("%w: %s", errNoEmbeddedSchemaFiles, pattern)
	}

	return stmts, nil
}

func readSchemaStatement(name string) (string, error) {
	b, err := schemaFS.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("catalog: failed to read embedded schema file %q: %w", name, err)
	}

	s := strings.TrimSpace(string(b))
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}

	return s, nil
}

func applySchemaDDL(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: failed to execute schema DDL: %w", err)
		}
	}

	return nil
}
