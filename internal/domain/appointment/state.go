package appointment

import (
	"fmt"
	"time"

	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/pkg/apperror"
)

const (
	MinDuration = 15
	MaxDuration = 120
	// DurationStep is the granularity of a booking length in minutes.
	DurationStep = 15

	urgentWindow        = 24 * time.Hour
	confirmationGrace   = time.Hour
	autoCompleteAfter   = 10 * time.Minute
	joinEarly           = 5 * time.Minute
	joinLate            = 30 * time.Minute
	SweepCancelReason   = "Advisor did not confirm in time"
	AutoCompleteSummary = "This consultation was automatically marked as completed when both participants left the session."
)

var transitions = map[Status][]Status{
	StatusPendingAdvisorConfirmation: {StatusScheduled, StatusCanceled},
	StatusPendingPayment:             {StatusScheduled, StatusCanceled},
	StatusScheduled:                  {StatusCompleted, StatusCanceled, StatusNoShow},
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPendingPayment, StatusPendingAdvisorConfirmation, StatusScheduled,
		StatusCompleted, StatusCanceled, StatusNoShow:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return ValidStatus(s) && len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidDuration reports whether minutes is a multiple of 15 in [15,120].
func ValidDuration(minutes int) bool {
	return minutes >= MinDuration && minutes <= MaxDuration && minutes%DurationStep == 0
}

func validateDuration(minutes int) error {
	if !ValidDuration(minutes) {
		return apperror.Validation(apperror.CodeInvalidDuration,
			fmt.Sprintf("duration must be a multiple of %d between %d and %d minutes", DurationStep, MinDuration, MaxDuration)).
			WithDetail("duration", minutes)
	}
	return nil
}

// Change carries the optional fields applied with a transition.
type Change struct {
	Reason     string
	CanceledBy string
	Summary    string
}

// Transition returns a copy of a moved to status to. a is left untouched.
func Transition(a *Appointment, to Status, now time.Time, ch Change) (*Appointment, error) {
	if !CanTransition(a.Status, to) {
		return nil, apperror.InvalidTransition(string(a.Status), string(to))
	}
	next := a.Clone()
	next.Status = to
	next.UpdatedAt = now.UTC()

	switch to {
	case StatusCanceled:
		if ch.Reason != "" {
			next.CancellationReason = ch.Reason
		}
		next.CanceledBy = ch.CanceledBy
	case StatusCompleted:
		if ch.Summary != "" {
			next.ConsultationSummary = ch.Summary
		}
	case StatusScheduled:
		next.AdvisorConfirmationExpires = nil
	}
	return next, nil
}

// ConfirmationDeadline is the time by which the advisor must accept a
// booking made at now for start. Bookings less than a day out get one hour
// from now; others get one hour past the advisor's first window on the
// booked day, or one hour from now when that day has no hours.
func ConfirmationDeadline(now, start time.Time, avail scheduling.Availability) time.Time {
	if start.Sub(now) < urgentWindow {
		return now.Add(confirmationGrace)
	}
	dayStart, ok := avail.WorkingDayStart(start)
	if !ok {
		return now.Add(confirmationGrace)
	}
	return dayStart.On(start).Add(confirmationGrace)
}

// ShouldAutoComplete reports whether a scheduled appointment is finished
// because both parties have left the room at least ten minutes after start.
func ShouldAutoComplete(a *Appointment, now time.Time) bool {
	if a.Status != StatusScheduled {
		return false
	}
	if now.Before(a.DateTime.Add(autoCompleteAfter)) {
		return false
	}
	return a.ParticipantStatus[a.AdvisorID.String()].Status == ParticipantLeft &&
		a.ParticipantStatus[a.ClientID.String()].Status == ParticipantLeft
}

// JoinCheck rejects a room join outside the session window.
func JoinCheck(a *Appointment, now time.Time) error {
	if a.Status != StatusScheduled {
		return apperror.InvalidTransition(string(a.Status), "in-session").
			WithDetail("reason", "only scheduled consultations can be joined")
	}
	until := a.DateTime.Sub(now)
	if until > joinEarly {
		return apperror.Validation(apperror.CodeConsultationNotReady,
			"consultation is not ready to join yet").
			WithDetail("startsInMinutes", int(until/time.Minute))
	}
	if until < -joinLate {
		return apperror.Expired(apperror.CodeConsultationExpired, "consultation join window has passed")
	}
	if now.After(a.EndTime) {
		return apperror.Expired(apperror.CodeConsultationEnded, "consultation has ended")
	}
	return nil
}
