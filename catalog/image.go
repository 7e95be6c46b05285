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

	sq "github.com/Masterminds/squirrel"
	"github.com/wtsi-hgi/imgdb-monitor/filenames"
)

const (
	imagesTable = "images"
	uploadTable = "upload_to_s3"

	uploadWaiting = "waiting"
)

// ImageExists reports whether an image with the given path is already in the
// catalog.
func (s *Store) ImageExists(ctx context.Context, path string) (bool, error) {
	var id int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return queryRow(ctx, tx, s.sb.Select("id").From(imagesTable).
			Where(sq.Eq{"path": path}).Limit(1), &id)
	})

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("catalog: select image %s: %w", path, err)
	default:
		return true, nil
	}
}

// InsertImage adds meta to the images table under the given acquisition and
// returns the new row's id. If an image with the same path is already there,
// it returns ErrAlreadyExists and changes nothing.
func (s *Store) InsertImage(ctx context.Context, meta *filenames.ImageMetadata, acqID int64) (int64, error) {
	var channelName sql.NullString
	if meta.ChannelName != "" {
		channelName = sql.NullString{String: meta.ChannelName, Valid: true}
	}

	var id int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return queryRow(ctx, tx, s.sb.Insert(imagesTable).
			Columns("plate_acquisition_id", "plate_barcode", "timepoint", "well", "site",
				"channel", "channel_name", "z", "path").
			Values(acqID, meta.PlateBarcode(), meta.Timepoint, meta.Well, meta.Site,
				meta.Channel, channelName, meta.Z, meta.Path).
			Suffix("RETURNING id"), &id)
	})

	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: image %s", ErrAlreadyExists, meta.Path)
	}

	if err != nil {
		return 0, fmt.Errorf("catalog: insert image %s: %w", meta.Path, err)
	}

	return id, nil
}

// QueueUpload records that the image should be copied off-site. Queuing the
// same path twice is not an error.
func (s *Store) QueueUpload(ctx context.Context, meta *filenames.ImageMetadata, acqID, imageID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := exec(ctx, tx, s.sb.Insert(uploadTable).
			Columns("image_id", "path", "acq_id", "project", "status").
			Values(imageID, meta.Path, acqID, meta.Project, uploadWaiting).
			Suffix("ON CONFLICT (path) DO NOTHING"))
		if err != nil {
			return fmt.Errorf("catalog: queue upload %s: %w", meta.Path, err)
		}

		return nil
	})
}

// DeleteImage removes the image with the given path, returning ErrNotFound if
// there was none.
func (s *Store) DeleteImage(ctx context.Context, path string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := exec(ctx, tx, s.sb.Delete(imagesTable).Where(sq.Eq{"path": path}))
		if err != nil {
			return fmt.Errorf("catalog: delete image %s: %w", path, err)
		}

		if n == 0 {
			return fmt.Errorf("%w: image %s", ErrNotFound, path)
		}

		return nil
	})
}
