package projection

import (
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainProjector/pkg/event"
)

var (
	// ErrInvariantViolation marks a broken store invariant. Retrying cannot fix it.
	ErrInvariantViolation = errors.New("projection invariant violation")

	// ErrDuplicateRows is returned when a filter expected to match at most one row matches several.
	ErrDuplicateRows = fmt.Errorf("%w: filter matched more than one row", ErrInvariantViolation)

	// ErrNoRowsUpdated is returned when an update's filter matched no row.
	ErrNoRowsUpdated = fmt.Errorf("%w: update matched no row", ErrInvariantViolation)
)

// IsFatal reports whether err must stop the chain's worker instead of being retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariantViolation) || errors.Is(err, event.ErrDecodingViolation)
}
