package appointment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/advisa/consult/internal/domain/identity"
	"github.com/advisa/consult/internal/domain/payment"
	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/internal/platform/notification"
	"github.com/advisa/consult/pkg/apperror"
)

// FollowUpInput proposes a follow-up session.
type FollowUpInput struct {
	Date     time.Time `json:"date"`
	Duration int       `json:"duration,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// FollowUpResult holds the updated source appointment and the spawned
// follow-up.
type FollowUpResult struct {
	Appointment *Appointment `json:"appointment"`
	FollowUp    *Appointment `json:"followUpAppointment,omitempty"`
}

func onlyCompleted(a *Appointment) error {
	if a.Status != StatusCompleted {
		return apperror.Validation(apperror.CodeOnlyCompleted, "only completed consultations can be updated this way").
			WithDetail("status", string(a.Status))
	}
	return nil
}

// ScheduleFollowUp creates a pending-payment follow-up of a completed
// consultation, priced at the advisor's current fee.
func (s *Service) ScheduleFollowUp(ctx context.Context, caller auth.Caller, id uuid.UUID, in FollowUpInput) (res *FollowUpResult, err error) {
	defer s.observe(&err)

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := onlyCompleted(a); err != nil {
		return nil, err
	}
	if err := requireAdvisor(caller, a); err != nil {
		return nil, err
	}
	if err := s.validateFollowUp(&in); err != nil {
		return nil, err
	}

	p, err := s.parties(ctx, a)
	if err != nil {
		return nil, err
	}
	next := a.Clone()
	next.UpdatedAt = s.clock()
	child, events := s.spawnFollowUp(next, p, in)
	if err := s.commitWithChild(ctx, a, next, child, events); err != nil {
		return nil, err
	}
	return &FollowUpResult{Appointment: next, FollowUp: child}, nil
}

func (s *Service) validateFollowUp(in *FollowUpInput) error {
	if in.Duration == 0 {
		in.Duration = 30
	}
	if err := validateDuration(in.Duration); err != nil {
		return err
	}
	if in.Date.IsZero() {
		return apperror.Validation(apperror.CodeMissingField, "follow-up date is required")
	}
	if !in.Date.After(s.clock()) {
		return apperror.Validation(apperror.CodeInvalidDate, "follow-up date must be in the future")
	}
	return nil
}

// spawnFollowUp builds the follow-up appointment of src and links it from
// src's follow-up record. src is modified in place and must be a clone.
func (s *Service) spawnFollowUp(src *Appointment, p parties, in FollowUpInput) (*Appointment, []notification.Event) {
	now := s.clock()
	notes := in.Notes
	if notes == "" {
		notes = "No notes provided"
	}
	start := in.Date.UTC()
	srcID := src.ID
	child := &Appointment{
		ID:               uuid.New(),
		ClientID:         src.ClientID,
		AdvisorID:        src.AdvisorID,
		DateTime:         start,
		EndTime:          start.Add(time.Duration(in.Duration) * time.Minute),
		Duration:         in.Duration,
		Status:           StatusPendingPayment,
		Type:             src.Type,
		ShortDescription: fmt.Sprintf("Follow-up to appointment on %s - %s", src.DateTime.UTC().Format("2006-01-02"), notes),
		Notes:            in.Notes,
		FollowUpOf:       &srcID,
		Payment:          PaymentInfo{Amount: p.advisor.ConsultationFee, Status: payment.StatusPending},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	childID := child.ID
	src.FollowUp = &FollowUp{Recommended: true, Date: &start, Notes: in.Notes, AppointmentID: &childID}
	return child, []notification.Event{p.toClient(notification.KindFollowUpCreated, child, nil)}
}

func (s *Service) commitWithChild(ctx context.Context, prev, next, child *Appointment, events []notification.Event) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if child != nil {
			if err := s.repo.Create(ctx, child); err != nil {
				return err
			}
		}
		return s.commit(ctx, prev, next, events...)
	})
	if err != nil {
		return writeErr(err)
	}
	if child != nil {
		s.metrics.AppointmentsCreated.WithLabelValues(string(child.Type)).Inc()
		s.logger.Info().
			Str("appointment_id", child.ID.String()).
			Str("follow_up_of", prev.ID.String()).
			Msg("follow-up appointment created")
	}
	return nil
}

// FollowUpRequest is the follow-up part of consultation results.
type FollowUpRequest struct {
	Recommended       bool       `json:"recommended"`
	Date              *time.Time `json:"date,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	Duration          int        `json:"duration,omitempty"`
	CreateAppointment bool       `json:"createAppointment,omitempty"`
}

// ResultsInput records the outcome of a completed consultation.
type ResultsInput struct {
	Summary  *string          `json:"consultationSummary,omitempty"`
	Advices  []Advice         `json:"advices,omitempty"`
	FollowUp *FollowUpRequest `json:"followUp,omitempty"`
}

// UpdateConsultationResults replaces the summary, appends complete advice
// items and optionally books a follow-up.
func (s *Service) UpdateConsultationResults(ctx context.Context, caller auth.Caller, id uuid.UUID, in ResultsInput) (res *FollowUpResult, err error) {
	defer s.observe(&err)

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := onlyCompleted(a); err != nil {
		return nil, err
	}
	if err := requireAdvisor(caller, a); err != nil {
		return nil, err
	}

	var spawn *FollowUpInput
	if fu := in.FollowUp; fu != nil && fu.CreateAppointment {
		if fu.Date == nil {
			return nil, apperror.Validation(apperror.CodeMissingField, "follow-up date is required to create an appointment")
		}
		spawn = &FollowUpInput{Date: *fu.Date, Duration: fu.Duration, Notes: fu.Notes}
		if err := s.validateFollowUp(spawn); err != nil {
			return nil, err
		}
	}

	p, err := s.parties(ctx, a)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	next := a.Clone()
	next.UpdatedAt = now
	if in.Summary != nil {
		next.ConsultationSummary = *in.Summary
	}
	added := appendAdvices(next, in.Advices, now)

	var events []notification.Event
	if added > 0 {
		events = append(events, adviceEvent(p, next, added))
	}
	var child *Appointment
	switch {
	case spawn != nil:
		var childEvents []notification.Event
		child, childEvents = s.spawnFollowUp(next, p, *spawn)
		events = append(events, childEvents...)
	case in.FollowUp != nil:
		next.FollowUp = &FollowUp{
			Recommended: in.FollowUp.Recommended,
			Date:        in.FollowUp.Date,
			Notes:       in.FollowUp.Notes,
		}
	}

	if err := s.commitWithChild(ctx, a, next, child, events); err != nil {
		return nil, err
	}
	return &FollowUpResult{Appointment: next, FollowUp: child}, nil
}

// AddAdvices appends advice items to a completed consultation. Every item
// must carry action, dosage, frequency and duration.
func (s *Service) AddAdvices(ctx context.Context, caller auth.Caller, id uuid.UUID, advices []Advice) (res *Result, err error) {
	defer s.observe(&err)

	if len(advices) == 0 {
		return nil, apperror.Validation(apperror.CodeMissingField, "at least one advice is required")
	}
	for i, adv := range advices {
		if !adv.Complete() {
			return nil, apperror.Validation(apperror.CodeMissingField,
				"advice requires action, dosage, frequency and duration").WithDetail("index", i)
		}
	}

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireAdvisor(caller, a); err != nil {
		return nil, err
	}

	next, err := s.mutate(ctx, id, func(cur *Appointment) (*Appointment, []notification.Event, error) {
		if err := onlyCompleted(cur); err != nil {
			return nil, nil, err
		}
		p, err := s.parties(ctx, cur)
		if err != nil {
			return nil, nil, err
		}
		now := s.clock()
		next := cur.Clone()
		next.UpdatedAt = now
		added := appendAdvices(next, advices, now)
		return next, []notification.Event{adviceEvent(p, next, added)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Appointment: next}, nil
}

func appendAdvices(a *Appointment, advices []Advice, now time.Time) int {
	added := 0
	for _, adv := range advices {
		if !adv.Complete() {
			continue
		}
		adv.CreatedAt = now
		a.Advices = append(a.Advices, adv)
		added++
	}
	return added
}

func adviceEvent(p parties, a *Appointment, count int) notification.Event {
	return p.toClient(notification.KindAdviceAdded, a, map[string]string{"count": strconv.Itoa(count)})
}

// GetPendingFollowUps lists the caller's follow-ups awaiting payment.
func (s *Service) GetPendingFollowUps(ctx context.Context, caller auth.Caller) ([]*Appointment, error) {
	if caller.Role != identity.RoleClient {
		return nil, apperror.Authorization(apperror.CodeNotAssigned, "only clients have pending follow-ups")
	}
	items, _, err := s.repo.List(ctx, ListFilter{ClientID: &caller.ID, Statuses: []Status{StatusPendingPayment}})
	if err != nil {
		return nil, fmt.Errorf("list pending follow-ups: %w", err)
	}
	out := items[:0]
	for _, a := range items {
		if a.FollowUpOf != nil {
			out = append(out, a)
		}
	}
	return out, nil
}
