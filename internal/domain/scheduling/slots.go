package scheduling

import (
	"sort"
	"time"
)

// SlotLength is the fixed size of a bookable slot.
const SlotLength = 30 * time.Minute

// Slot is a generated, never stored, bookable interval.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s Slot) Interval() Interval { return Interval{Start: s.Start, End: s.End} }

// GenerateSlots walks each window of date in SlotLength steps. A slot that
// would run past its window end is dropped.
func GenerateSlots(date time.Time, windows []Window) []Slot {
	var out []Slot
	for _, w := range windows {
		end := w.End.On(date)
		for cursor := w.Start.On(date); !cursor.Add(SlotLength).After(end); cursor = cursor.Add(SlotLength) {
			out = append(out, Slot{Start: cursor, End: cursor.Add(SlotLength)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// FreeSlots removes candidates that overlap any occupied interval.
func FreeSlots(candidates []Slot, occupied []Interval) []Slot {
	out := make([]Slot, 0, len(candidates))
	for _, s := range candidates {
		free := true
		for _, o := range occupied {
			if s.Start.Before(o.End) && s.End.After(o.Start) {
				free = false
				break
			}
		}
		if free {
			out = append(out, s)
		}
	}
	return out
}

// DayView is the availability answer for one advisor and date.
type DayView struct {
	Date         string   `json:"date"`
	Available    bool     `json:"isAvailable"`
	WorkingHours []Window `json:"workingHours"`
	Slots        []Slot   `json:"availableSlots"`
}

// BuildDayView resolves date against the advisor's availability and returns
// the slots not taken by occupied intervals.
func BuildDayView(a Availability, date time.Time, occupied []Interval) DayView {
	ds := a.Resolve(date)
	view := DayView{
		Date:         ds.Date.Format("2006-01-02"),
		Available:    ds.Available,
		WorkingHours: ds.Windows,
		Slots:        []Slot{},
	}
	if !ds.Available {
		return view
	}
	view.Slots = FreeSlots(GenerateSlots(ds.Date, ds.Windows), occupied)
	return view
}
