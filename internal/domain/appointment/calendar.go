package appointment

import (
	"context"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/advisa/consult/internal/platform/auth"
)

var statusColors = map[Status]string{
	StatusScheduled:                  "#4a90e2",
	StatusCompleted:                  "#2ecc71",
	StatusCanceled:                   "#e74c3c",
	StatusPendingPayment:             "#f39c12",
	StatusPendingAdvisorConfirmation: "#9b59b6",
	StatusNoShow:                     "#95a5a6",
}

const defaultColor = "#3498db"

// StatusColor is the calendar color of a status.
func StatusColor(s Status) string {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return defaultColor
}

// CalendarEvent is one appointment on a calendar.
type CalendarEvent struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Status          Status    `json:"status"`
	Type            Type      `json:"type"`
	Description     string    `json:"description"`
	BackgroundColor string    `json:"backgroundColor"`
	BorderColor     string    `json:"borderColor"`
}

func toCalendarEvent(a *Appointment, title string) CalendarEvent {
	color := StatusColor(a.Status)
	return CalendarEvent{
		ID:              a.ID,
		Title:           title,
		Start:           a.DateTime,
		End:             a.EndTime,
		Status:          a.Status,
		Type:            a.Type,
		Description:     a.ShortDescription,
		BackgroundColor: color,
		BorderColor:     color,
	}
}

func icsStatus(s Status) ics.ObjectStatus {
	switch s {
	case StatusScheduled, StatusCompleted:
		return ics.ObjectStatusConfirmed
	case StatusCanceled, StatusNoShow:
		return ics.ObjectStatusCancelled
	}
	return ics.ObjectStatusTentative
}

// ExportICS renders events as an iCalendar document.
func ExportICS(events []CalendarEvent, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//advisa//consult//EN")

	for _, e := range events {
		ev := cal.AddEvent(e.ID.String() + "@consult")
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(e.Start)
		ev.SetEndAt(e.End)
		ev.SetSummary(e.Title)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		ev.SetStatus(icsStatus(e.Status))
		ev.AddProperty(ics.ComponentProperty("COLOR"), e.BackgroundColor)
		ev.AddProperty(ics.ComponentProperty("CATEGORIES"), string(e.Type))
	}
	return cal.Serialize()
}

// ExportCalendar renders the caller's calendar between from and to.
func (s *Service) ExportCalendar(ctx context.Context, caller auth.Caller, from, to time.Time) (string, error) {
	events, err := s.GetCalendarAppointments(ctx, caller, from, to)
	if err != nil {
		return "", err
	}
	return ExportICS(events, s.clock()), nil
}
