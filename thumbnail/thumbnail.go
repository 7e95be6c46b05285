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

// Package thumbnail makes the small PNG previews shown when browsing the image
// database.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/disintegration/imaging"
)

const (
	// DefaultSize is the bounding box, in pixels, thumbnails are fitted into.
	DefaultSize = 120

	thumbExt = ".png"
	dirPerms = 0o755
)

var ErrSourceTooLarge = errors.New("source image too large for a thumbnail")

// Service makes thumbnails.
type Service struct {
	size           int
	maxSourceBytes uint64
}

// New returns a Service making DefaultSize thumbnails. Source images bigger
// than maxSourceBytes are refused; 0 means no limit.
func New(maxSourceBytes uint64) *Service {
	return &Service{size: DefaultSize, maxSourceBytes: maxSourceBytes}
}

// PathFor returns where the thumbnail of src lives below thumbDir: the whole
// of src's path, with a .png extension.
func PathFor(thumbDir, src string) string {
	p := filepath.Join(thumbDir, strings.TrimLeft(src, "/"))

	return strings.TrimSuffix(p, filepath.Ext(p)) + thumbExt
}

// MakeThumbnail reads the image at src, scales it to fit within the
// Service's size keeping its aspect ratio, and writes it as a PNG to dest,
// creating parent directories as needed. dest is never left half written.
func (s *Service) MakeThumbnail(ctx context.Context, src, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.checkSize(src); err != nil {
		return err
	}

	img, err := imaging.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open image %s: %w", src, err)
	}

	thumb := imaging.Fit(img, s.size, s.size, imaging.Lanczos)

	if err = os.MkdirAll(filepath.Dir(dest), dirPerms); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".thumb-*"+thumbExt)
	if err != nil {
		return err
	}

	if err = imaging.Encode(tmp, thumb, imaging.PNG); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to encode thumbnail of %s: %w", src, err)
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return os.Rename(tmp.Name(), dest)
}

func (s *Service) checkSize(src string) error {
	if s.maxSourceBytes == 0 {
		return nil
	}

	fi, err := os.Stat(src)
	if err != nil {
		return err
	}

	if uint64(fi.Size()) > s.maxSourceBytes { //nolint:gosec
		return fmt.Errorf("%w: %s is %s, limit %s", ErrSourceTooLarge, src,
			bytefmt.ByteSize(uint64(fi.Size())), bytefmt.ByteSize(s.maxSourceBytes)) //nolint:gosec
	}

	return nil
}
