// Package schedule contains the pure time-window arithmetic used by the
// session registry. It has no I/O and no dependency on the persistence layer.
package schedule

import (
	"errors"
	"time"
)

// Window is a half-open interval [Start, End). Two windows whose endpoints
// merely touch do not overlap.
type Window struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Validation failures for candidate windows.
var (
	ErrInvalidRange = errors.New("window start must be before end")
	ErrPastStart    = errors.New("window start must not be in the past")
)

// Overlaps reports whether the candidate intersects any of the existing
// windows. A window whose ID equals excludeID is skipped so that a no-op
// re-save of an existing window does not collide with itself.
func Overlaps(existing []Window, candidate Window, excludeID string) bool {
	for _, e := range existing {
		if excludeID != "" && e.ID == excludeID {
			continue
		}
		if candidate.Start.Before(e.End) && candidate.End.After(e.Start) {
			return true
		}
	}
	return false
}

// Validate checks date sanity for a candidate window. The past-start check
// only applies on creation; updates may keep an already-started window but
// must not move the start earlier than now.
func Validate(candidate Window, now time.Time, requireFutureStart bool) error {
	if !candidate.Start.Before(candidate.End) {
		return ErrInvalidRange
	}
	if requireFutureStart && candidate.Start.Before(now) {
		return ErrPastStart
	}
	return nil
}
