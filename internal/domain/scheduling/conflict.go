package scheduling

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval builds an interval from a start and a duration.
func NewInterval(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Overlaps reports whether proposed collides with existing. Intervals that
// only touch at an endpoint do not collide.
func Overlaps(proposed, existing Interval) bool {
	// proposed starts inside existing
	if !proposed.Start.Before(existing.Start) && proposed.Start.Before(existing.End) {
		return true
	}
	// proposed ends inside existing
	if proposed.End.After(existing.Start) && !proposed.End.After(existing.End) {
		return true
	}
	// proposed contains existing
	if !proposed.Start.After(existing.Start) && !proposed.End.Before(existing.End) {
		return true
	}
	return false
}

// FirstConflict returns the first existing interval that collides with
// proposed.
func FirstConflict(proposed Interval, existing []Interval) (Interval, bool) {
	for _, e := range existing {
		if Overlaps(proposed, e) {
			return e, true
		}
	}
	return Interval{}, false
}
