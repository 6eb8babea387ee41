package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Weekday indexes a day record. Monday is 0 and Sunday is 6. This is the only
// convention accepted anywhere in the engine; time.Weekday values must be
// converted with WeekdayOf.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// WeekdayOf maps a calendar date to its day index.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

func (d Weekday) Valid() bool { return d >= Monday && d <= Sunday }

func (d Weekday) String() string {
	if !d.Valid() {
		return "weekday(" + strconv.Itoa(int(d)) + ")"
	}
	return weekdayNames[d]
}

var (
	ErrInvalidClockTime = errors.New("time must be HH:MM")
	ErrInvalidWindow    = errors.New("window end must be after start")
	ErrInvalidWeekday   = errors.New("dayOfWeek must be 0 (Monday) to 6 (Sunday)")
)

// ClockTime is a wall-clock time expressed as minutes since midnight.
type ClockTime int

// ParseClockTime parses a 24h "HH:MM" string.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	return ClockTime(h*60 + m), nil
}

// MustClock parses s and panics on error. Intended for fixtures.
func MustClock(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On anchors the clock time to the UTC calendar day of date.
func (c ClockTime) On(date time.Time) time.Time {
	return startOfDay(date).Add(time.Duration(c) * time.Minute)
}

// ClockOf returns the minutes-of-day of t in UTC.
func ClockOf(t time.Time) ClockTime {
	t = t.UTC()
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Window is a working-hours range within a single day.
type Window struct {
	Start ClockTime `json:"startTime"`
	End   ClockTime `json:"endTime"`
}

func (w Window) Validate() error {
	if w.End <= w.Start {
		return fmt.Errorf("%w: %s-%s", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

// Contains reports whether [start,end) of the same day fits in the window.
func (w Window) Contains(start, end ClockTime) bool {
	return start >= w.Start && end <= w.End
}

// Hours is the working-hours shape of a day record. It is either a
// LegacyWindow or a WindowList.
type Hours interface {
	Windows() []Window
	isHours()
}

// LegacyWindow is the single start/end pair stored by older profiles.
type LegacyWindow struct {
	Window
}

func (l LegacyWindow) Windows() []Window { return []Window{l.Window} }
func (LegacyWindow) isHours()            {}

// WindowList is the ordered multi-window form.
type WindowList []Window

func (l WindowList) Windows() []Window {
	out := make([]Window, len(l))
	copy(out, l)
	return out
}
func (WindowList) isHours() {}

// DayAvailability is the working-hours record for one weekday.
type DayAvailability struct {
	Day       Weekday
	Available bool
	Hours     Hours
}

// dayRecord is the stored JSON shape. Either TimeSlots or the legacy
// StartTime/EndTime pair is populated.
type dayRecord struct {
	DayOfWeek   *int       `json:"dayOfWeek"`
	IsAvailable bool       `json:"isAvailable"`
	TimeSlots   []Window   `json:"timeSlots,omitempty"`
	StartTime   *ClockTime `json:"startTime,omitempty"`
	EndTime     *ClockTime `json:"endTime,omitempty"`
}

func (d *DayAvailability) UnmarshalJSON(b []byte) error {
	var rec dayRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	if rec.DayOfWeek == nil {
		return fmt.Errorf("%w: missing", ErrInvalidWeekday)
	}
	day := Weekday(*rec.DayOfWeek)
	if !day.Valid() {
		return fmt.Errorf("%w: got %d", ErrInvalidWeekday, *rec.DayOfWeek)
	}

	var hours Hours
	switch {
	case len(rec.TimeSlots) > 0:
		for _, w := range rec.TimeSlots {
			if err := w.Validate(); err != nil {
				return err
			}
		}
		hours = WindowList(rec.TimeSlots)
	case rec.StartTime != nil && rec.EndTime != nil:
		w := Window{Start: *rec.StartTime, End: *rec.EndTime}
		if err := w.Validate(); err != nil {
			return err
		}
		hours = LegacyWindow{Window: w}
	}

	*d = DayAvailability{Day: day, Available: rec.IsAvailable, Hours: hours}
	return nil
}

func (d DayAvailability) MarshalJSON() ([]byte, error) {
	day := int(d.Day)
	rec := dayRecord{DayOfWeek: &day, IsAvailable: d.Available}
	switch h := d.Hours.(type) {
	case LegacyWindow:
		rec.StartTime, rec.EndTime = &h.Start, &h.End
	case WindowList:
		rec.TimeSlots = h
	}
	return json.Marshal(rec)
}

// Windows returns the day's windows sorted by start, or nil when unavailable.
func (d DayAvailability) Windows() []Window {
	if !d.Available || d.Hours == nil {
		return nil
	}
	ws := d.Hours.Windows()
	sort.Slice(ws, func(i, j int) bool { return ws[i].Start < ws[j].Start })
	return ws
}

// Availability is an advisor's weekly schedule.
type Availability []DayAvailability

// DaySchedule is the resolved working hours for one calendar date.
type DaySchedule struct {
	Date      time.Time `json:"date"`
	Day       Weekday   `json:"dayOfWeek"`
	Available bool      `json:"isAvailable"`
	Windows   []Window  `json:"timeSlots"`
}

// Day returns the record for the given weekday.
func (a Availability) Day(d Weekday) (DayAvailability, bool) {
	for _, rec := range a {
		if rec.Day == d {
			return rec, true
		}
	}
	return DayAvailability{}, false
}

// Resolve returns the working hours that apply on date.
func (a Availability) Resolve(date time.Time) DaySchedule {
	day := WeekdayOf(date.UTC())
	out := DaySchedule{Date: startOfDay(date), Day: day}
	rec, ok := a.Day(day)
	if !ok {
		return out
	}
	ws := rec.Windows()
	if len(ws) == 0 {
		return out
	}
	out.Available = true
	out.Windows = ws
	return out
}

// WorkingDayStart returns the start of the first window on date's weekday.
func (a Availability) WorkingDayStart(date time.Time) (ClockTime, bool) {
	ds := a.Resolve(date)
	if !ds.Available {
		return 0, false
	}
	return ds.Windows[0].Start, true
}

// CoverageResult explains why an interval is or is not bookable.
type CoverageResult int

const (
	Covered CoverageResult = iota
	NotAvailableDay
	OutsideWorkingHours
)

// Covers reports whether [start,end) fits entirely inside one window on
// start's weekday. Intervals crossing midnight are never covered.
func (a Availability) Covers(start, end time.Time) CoverageResult {
	ds := a.Resolve(start)
	if !ds.Available {
		return NotAvailableDay
	}
	if !sameDay(start, end) && !end.Equal(startOfDay(start).Add(24*time.Hour)) {
		return OutsideWorkingHours
	}
	from := ClockOf(start)
	to := ClockTime(end.Sub(startOfDay(start)) / time.Minute)
	for _, w := range ds.Windows {
		if w.Contains(from, to) {
			return Covered
		}
	}
	return OutsideWorkingHours
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return startOfDay(a).Equal(startOfDay(b))
}
