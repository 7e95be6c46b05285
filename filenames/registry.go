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

package filenames

import (
	"errors"
	"fmt"

	"github.com/inconshreveable/log15"
)

var (
	ErrUnparsableFilename = errors.New("could not parse filename")
	ErrInvalidDate        = errors.New("invalid acquisition date")
)

// Rule recognises one vendor's path layout. TryParse returns nil when the path
// is not in its layout; it must not have side effects beyond cached reads of
// the filesystem.
type Rule interface {
	Name() string
	TryParse(path string) *ImageMetadata
}

// Registry tries its rules in order and returns the first match.
type Registry struct {
	rules  []Rule
	logger log15.Logger
}

// NewRegistry returns a Registry that will try the given rules in the given
// order. More specific rules must come before permissive ones.
func NewRegistry(logger log15.Logger, rules ...Rule) *Registry {
	return &Registry{rules: rules, logger: logger}
}

// DefaultRegistry returns a Registry with every known layout, in priority
// order. The DirInfo is used by rules that need to look at the filesystem.
func DefaultRegistry(logger log15.Logger, di *DirInfo) *Registry {
	rules := make([]Rule, 0, 40) //nolint:mnd

	rules = append(rules, squidRules(di)...)
	rules = append(rules, nikonRules(di)...)
	rules = append(rules, imxRules(di)...)
	rules = append(rules, externalRules(di)...)

	return NewRegistry(logger, rules...)
}

// Rules returns the names of the rules in priority order.
func (r *Registry) Rules() []string {
	names := make([]string, len(r.rules))

	for n, rule := range r.rules {
		names[n] = rule.Name()
	}

	return names
}

// Parse returns the metadata from the first rule that recognises path, or an
// error wrapping ErrUnparsableFilename.
func (r *Registry) Parse(path string) (*ImageMetadata, error) {
	for _, rule := range r.rules {
		if meta := r.try(rule, path); meta != nil {
			return meta, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnparsableFilename, path)
}

func (r *Registry) try(rule Rule, path string) (meta *ImageMetadata) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.logger != nil {
				r.logger.Debug("parser rule failed", "rule", rule.Name(), "path", path, "err", rec)
			}

			meta = nil
		}
	}()

	meta = rule.TryParse(path)
	if meta != nil && meta.Parser == "" {
		meta.Parser = rule.Name()
	}

	return meta
}
