package mapanalysis

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput marks submission validation failures.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound indicates no staged result exists for the given analysis id.
var ErrNotFound = errors.New("analysis result not found")

// DuplicateLocationError is returned by Confirm when the staged result's
// bounds overlap a previously committed analysis of the same map type.
type DuplicateLocationError struct {
	ExistingID string
	ExistingAt time.Time
	ZoneCount  int
}

func (e DuplicateLocationError) Error() string {
	return fmt.Sprintf(
		"this location was already analyzed (id %s, %s, %d zones); delete the old map before saving a new one",
		e.ExistingID, e.ExistingAt.Format("2006-01-02"), e.ZoneCount)
}
