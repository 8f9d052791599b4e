// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package dswp

import (
	"github.com/nikandfor/errors"
)

// Reasons a loop is left alone.  Everything except
// ErrInvariantViolation is an ordinary outcome.

var (
	ErrNotApplicable    = errors.New("loop shape not supported")
	ErrNotProfitable    = errors.New("not worth parallelizing")
	ErrUnsupportedWidth = errors.New("no queue width for value")
	// A memory dependence between stages.  Also matches ErrNotApplicable.
	ErrCrossStageMemory   = errors.Wrap(ErrNotApplicable, "memory dependence between stages")
	ErrInvariantViolation = errors.New("loop exit not in canonical form")
)

// True for failures that only mean the loop was not transformed.

func IsDeclined(err error) bool {
	return errors.Is(err, ErrNotApplicable) ||
		errors.Is(err, ErrNotProfitable) ||
		errors.Is(err, ErrUnsupportedWidth)
}
