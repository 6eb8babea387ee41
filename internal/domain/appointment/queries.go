package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/advisa/consult/internal/domain/identity"
	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/pkg/apperror"
)

// GetAdvisorAvailability returns the advisor's working hours on date and
// the 30-minute slots not taken by scheduled or pending bookings.
func (s *Service) GetAdvisorAvailability(ctx context.Context, advisorID uuid.UUID, date time.Time) (view *scheduling.DayView, err error) {
	defer s.observe(&err)

	advisor, err := s.user(ctx, advisorID, identity.RoleAdvisor, apperror.CodeAdvisorNotFound)
	if err != nil {
		return nil, err
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	occupied, err := s.repo.ListOccupying(ctx, advisorID, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list occupied intervals: %w", err)
	}
	v := scheduling.BuildDayView(advisor.Availability, day, occupied)
	return &v, nil
}

// TimeRemaining is the time left to confirm, floored to whole minutes.
type TimeRemaining struct {
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	TotalMinutes int `json:"totalMinutes"`
}

func remaining(deadline, now time.Time) TimeRemaining {
	total := int(deadline.Sub(now) / time.Minute)
	if total < 0 {
		total = 0
	}
	return TimeRemaining{Hours: total / 60, Minutes: total % 60, TotalMinutes: total}
}

// PendingConfirmation is a booking awaiting the advisor.
type PendingConfirmation struct {
	Appointment   *Appointment  `json:"appointment"`
	ClientName    string        `json:"clientName"`
	TimeRemaining TimeRemaining `json:"timeRemaining"`
}

// GetPendingConfirmations lists the calling advisor's unexpired pending
// bookings, most urgent first.
func (s *Service) GetPendingConfirmations(ctx context.Context, caller auth.Caller) (out []PendingConfirmation, err error) {
	defer s.observe(&err)

	if caller.Role != identity.RoleAdvisor {
		return nil, apperror.Authorization(apperror.CodeNotAssigned, "only advisors confirm appointments")
	}
	now := s.clock()
	items, err := s.repo.ListPendingConfirmation(ctx, caller.ID, now)
	if err != nil {
		return nil, fmt.Errorf("list pending confirmations: %w", err)
	}
	names := s.nameCache(ctx)
	out = make([]PendingConfirmation, 0, len(items))
	for _, a := range items {
		out = append(out, PendingConfirmation{
			Appointment:   a,
			ClientName:    names(a.ClientID, false),
			TimeRemaining: remaining(*a.AdvisorConfirmationExpires, now),
		})
	}
	return out, nil
}

// nameCache resolves display names once per user. Lookup failures yield an
// empty name.
func (s *Service) nameCache(ctx context.Context) func(id uuid.UUID, display bool) string {
	cache := make(map[uuid.UUID]*identity.User)
	return func(id uuid.UUID, display bool) string {
		u, ok := cache[id]
		if !ok {
			var err error
			u, err = s.users.Lookup(ctx, id)
			if err != nil {
				s.logger.Debug().Err(err).Str("user_id", id.String()).Msg("name lookup failed")
				u = nil
			}
			cache[id] = u
		}
		if u == nil {
			return ""
		}
		if display {
			return u.DisplayName()
		}
		return u.FullName()
	}
}

// scopeFilter restricts f to the caller's own appointments.
func scopeFilter(caller auth.Caller, f ListFilter) ListFilter {
	switch caller.Role {
	case auth.RoleClient:
		f.ClientID, f.AdvisorID = &caller.ID, nil
	case auth.RoleAdvisor:
		f.AdvisorID, f.ClientID = &caller.ID, nil
	}
	return f
}

// GetCalendarAppointments returns the caller's appointments between from
// and to as calendar events.
func (s *Service) GetCalendarAppointments(ctx context.Context, caller auth.Caller, from, to time.Time) (events []CalendarEvent, err error) {
	defer s.observe(&err)

	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, apperror.Validation(apperror.CodeInvalidDate, "end date must not be before start date")
	}
	f := ListFilter{}
	if !from.IsZero() {
		f.From = &from
	}
	if !to.IsZero() {
		f.To = &to
	}
	items, _, err := s.repo.List(ctx, scopeFilter(caller, f))
	if err != nil {
		return nil, fmt.Errorf("list calendar appointments: %w", err)
	}

	names := s.nameCache(ctx)
	events = make([]CalendarEvent, 0, len(items))
	for _, a := range items {
		var title string
		if caller.ID == a.AdvisorID {
			title = names(a.ClientID, false)
		} else {
			title = names(a.AdvisorID, true)
		}
		events = append(events, toCalendarEvent(a, title))
	}
	return events, nil
}

// ListAppointments pages through the caller's appointments.
func (s *Service) ListAppointments(ctx context.Context, caller auth.Caller, f ListFilter) ([]*Appointment, int, error) {
	for _, st := range f.Statuses {
		if !ValidStatus(st) {
			return nil, 0, apperror.Validation(apperror.CodeInvalidStatus, "unknown status").
				WithDetail("status", string(st))
		}
	}
	items, total, err := s.repo.List(ctx, scopeFilter(caller, f))
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	return items, total, nil
}

// GetAppointment returns one appointment visible to the caller.
func (s *Service) GetAppointment(ctx context.Context, caller auth.Caller, id uuid.UUID) (a *Appointment, err error) {
	defer s.observe(&err)

	a, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(caller, a, true); err != nil {
		return nil, err
	}
	return a, nil
}
