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
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/wtsi-hgi/imgdb-monitor/filenames"
)

const (
	acquisitionTable = "plate_acquisition"
	channelMapTable  = "channel_map_mapping"

	// AnyPlate in a channel map override applies to every plate of a project
	// that has no plate specific override.
	AnyPlate = "*"
)

// Acquisition is one row of plate_acquisition.
type Acquisition struct {
	ID           int64
	PlateBarcode string
	Name         string
	Project      string
	Microscope   string
	ChannelMapID int
	Timepoint    int
	Imaged       sql.NullTime
	Folder       string
	Finished     sql.NullTime

	// Images is only filled in by ListAcquisitions.
	Images int64
}

// ResolveOrCreateAcquisition returns the id of the acquisition whose folder
// is meta's acquisition folder, creating it if necessary.
//
// Creation relies on the unique constraint on folder: if another writer
// creates the same acquisition first, our insert fails and we return the
// winner's id instead.
func (s *Store) ResolveOrCreateAcquisition(ctx context.Context, meta *filenames.ImageMetadata) (int64, error) {
	folder := meta.AcquisitionFolder()

	id, err := s.acquisitionID(ctx, folder)
	if err == nil {
		return id, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	id, err = s.createAcquisition(ctx, meta, folder)
	if err == nil {
		return id, nil
	}

	if !isUniqueViolation(err) {
		return 0, err
	}

	return s.acquisitionID(ctx, folder)
}

func (s *Store) acquisitionID(ctx context.Context, folder string) (int64, error) {
	var id int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return queryRow(ctx, tx, s.sb.Select("id").From(acquisitionTable).
			Where(sq.Eq{"folder": folder}).Limit(1), &id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: acquisition %s", ErrNotFound, folder)
	}

	if err != nil {
		return 0, fmt.Errorf("catalog: select acquisition %s: %w", folder, err)
	}

	return id, nil
}

func (s *Store) createAcquisition(ctx context.Context, meta *filenames.ImageMetadata, folder string) (int64, error) {
	var imaged sql.NullTime

	if t, err := meta.Imaged(); err == nil {
		imaged = sql.NullTime{Time: t.UTC(), Valid: true}
	}

	var id int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		mapID, err := s.channelMapFor(ctx, tx, meta)
		if err != nil {
			return err
		}

		return queryRow(ctx, tx, s.sb.Insert(acquisitionTable).
			Columns("plate_barcode", "name", "project", "imaged", "microscope",
				"channel_map_id", "timepoint", "folder").
			Values(meta.PlateBarcode(), meta.Plate, meta.Project, imaged, meta.Microscope,
				mapID, meta.Timepoint, folder).
			Suffix("RETURNING id"), &id)
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: insert acquisition %s: %w", folder, err)
	}

	return id, nil
}

// channelMapFor looks for an override of meta's channel map, first for its
// exact plate and then for the AnyPlate wildcard, falling back to the map id
// the filename rule chose.
func (s *Store) channelMapFor(ctx context.Context, tx *sql.Tx, meta *filenames.ImageMetadata) (int, error) {
	var mapID int

	err := queryRow(ctx, tx, s.sb.Select("channel_map").From(channelMapTable).
		Where(sq.Eq{"project": meta.Project}).
		Where(sq.Or{
			sq.Eq{"plate_acquisition_name": meta.Plate},
			sq.Eq{"plate_acquisition_name": AnyPlate},
		}).
		OrderBy("CASE WHEN plate_acquisition_name = '" + AnyPlate + "' THEN 1 ELSE 0 END").
		Limit(1), &mapID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return meta.ChannelMapID, nil
	case err != nil:
		return 0, fmt.Errorf("channel map lookup: %w", err)
	default:
		return mapID, nil
	}
}

// SetChannelMapping creates or replaces the channel map override for a
// project's plate. Use AnyPlate as the name to cover the whole project.
func (s *Store) SetChannelMapping(ctx context.Context, project, name string, mapID int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := exec(ctx, tx, s.sb.Insert(channelMapTable).
			Columns("project", "plate_acquisition_name", "channel_map").
			Values(project, name, mapID).
			Suffix("ON CONFLICT (project, plate_acquisition_name) DO UPDATE SET channel_map = EXCLUDED.channel_map"))
		if err != nil {
			return fmt.Errorf("catalog: set channel map for %s/%s: %w", project, name, err)
		}

		return nil
	})
}

// MarkFinished sets the finished time of the acquisition with the given
// folder. Anything other than exactly one matching row is an ErrIntegrity.
func (s *Store) MarkFinished(ctx context.Context, folder string, ts time.Time) error {
	return s.updateFinished(ctx, sql.NullTime{Time: ts.UTC(), Valid: true}, sq.Eq{"folder": folder}, folder)
}

// MarkUnfinished clears the finished time of the acquisition with the given
// id, so that it will be polled again.
func (s *Store) MarkUnfinished(ctx context.Context, id int64) error {
	return s.updateFinished(ctx, sql.NullTime{}, sq.Eq{"id": id}, fmt.Sprintf("id %d", id))
}

func (s *Store) updateFinished(ctx context.Context, finished sql.NullTime, where sq.Eq, desc string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := exec(ctx, tx, s.sb.Update(acquisitionTable).Set("finished", finished).Where(where))
		if err != nil {
			return fmt.Errorf("catalog: update finished for %s: %w", desc, err)
		}

		if n != 1 {
			return fmt.Errorf("%w: update finished for %s affected %d rows", ErrIntegrity, desc, n)
		}

		return nil
	})
}

// ListFinishedFolders returns the folders of every finished acquisition.
func (s *Store) ListFinishedFolders(ctx context.Context) ([]string, error) {
	return s.listFolders(ctx, sq.NotEq{"finished": nil})
}

// ListUnfinishedFolders returns the folders of every acquisition that is still
// being written.
func (s *Store) ListUnfinishedFolders(ctx context.Context) ([]string, error) {
	return s.listFolders(ctx, sq.Eq{"finished": nil})
}

func (s *Store) listFolders(ctx context.Context, where sq.Sqlizer) ([]string, error) {
	var folders []string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := s.sb.Select("folder").From(acquisitionTable).Where(where).ToSql()
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var folder string
			if err := rows.Scan(&folder); err != nil {
				return err
			}

			folders = append(folders, folder)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list folders: %w", err)
	}

	return folders, nil
}

// ListAcquisitions returns every acquisition (or only the unfinished ones)
// along with how many images each has, most recently imaged first.
func (s *Store) ListAcquisitions(ctx context.Context, unfinishedOnly bool) ([]*Acquisition, error) {
	b := s.sb.Select("a.id", "a.plate_barcode", "a.name", "a.project", "a.microscope",
		"a.channel_map_id", "a.timepoint", "a.imaged", "a.folder", "a.finished", "COUNT(i.id)").
		From(acquisitionTable + " a").
		LeftJoin(imagesTable + " i ON i.plate_acquisition_id = a.id").
		GroupBy("a.id", "a.plate_barcode", "a.name", "a.project", "a.microscope",
			"a.channel_map_id", "a.timepoint", "a.imaged", "a.folder", "a.finished").
		OrderBy("a.imaged DESC", "a.id")

	if unfinishedOnly {
		b = b.Where(sq.Eq{"a.finished": nil})
	}

	var acqs []*Acquisition

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := b.ToSql()
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			a := new(Acquisition)

			if err := rows.Scan(&a.ID, &a.PlateBarcode, &a.Name, &a.Project, &a.Microscope,
				&a.ChannelMapID, &a.Timepoint, &a.Imaged, &a.Folder, &a.Finished, &a.Images); err != nil {
				return err
			}

			acqs = append(acqs, a)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list acquisitions: %w", err)
	}

	return acqs, nil
}
