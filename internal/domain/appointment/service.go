package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/advisa/consult/internal/domain/identity"
	"github.com/advisa/consult/internal/domain/payment"
	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/internal/platform/db"
	"github.com/advisa/consult/internal/platform/lock"
	"github.com/advisa/consult/internal/platform/metrics"
	"github.com/advisa/consult/internal/platform/notification"
	"github.com/advisa/consult/internal/platform/room"
	"github.com/advisa/consult/internal/platform/websocket"
	"github.com/advisa/consult/pkg/apperror"
)

// PaymentGateway records charges and refunds them.
type PaymentGateway interface {
	Record(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, ref string) (*payment.Payment, error)
	// MarkRefunded is idempotent; refundedNow is false when the payment
	// was already refunded.
	MarkRefunded(ctx context.Context, id uuid.UUID) (p *payment.Payment, refundedNow bool, err error)
}

// Notifier enqueues notification events. It joins the transaction in ctx.
type Notifier interface {
	Notify(ctx context.Context, ev notification.Event) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Repo     Repository
	Users    identity.Directory
	Payments PaymentGateway
	Notifier Notifier
	Tx       db.Transactor
	Locker   lock.Locker
	Rooms    room.TokenIssuer
	// Events receives live room updates. Optional.
	Events   websocket.EventPublisher
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
	// SweepBatchSize caps how many expired bookings one sweep handles.
	SweepBatchSize int
}

// Service runs the appointment lifecycle.
type Service struct {
	repo      Repository
	users     identity.Directory
	payments  PaymentGateway
	notifier  Notifier
	tx        db.Transactor
	locker    lock.Locker
	rooms     room.TokenIssuer
	events    websocket.EventPublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	sweepSize int
}

const maxWriteRetries = 3

func NewService(d Deps) *Service {
	s := &Service{
		repo:      d.Repo,
		users:     d.Users,
		payments:  d.Payments,
		notifier:  d.Notifier,
		tx:        d.Tx,
		locker:    d.Locker,
		rooms:     d.Rooms,
		events:    d.Events,
		metrics:   d.Metrics,
		logger:    d.Logger.With().Str("component", "appointment").Logger(),
		now:       d.Now,
		sweepSize: d.SweepBatchSize,
	}
	if s.tx == nil {
		s.tx = db.NoTx{}
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sweepSize <= 0 {
		s.sweepSize = 500
	}
	return s
}

// Result is a committed change plus any side effects that failed after
// the commit.
type Result struct {
	Appointment *Appointment       `json:"appointment"`
	Warnings    []apperror.Warning `json:"warnings,omitempty"`
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// observe counts typed rejections.
func (s *Service) observe(err *error) {
	if e, ok := apperror.As(*err); ok && e.Kind != apperror.KindInternal {
		s.metrics.Rejections.WithLabelValues(e.Code).Inc()
	}
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperror.NotFound(apperror.CodeAppointmentNotFound, "appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment %s: %w", id, err)
	}
	return a, nil
}

func (s *Service) user(ctx context.Context, id uuid.UUID, role, code string) (*identity.User, error) {
	u, err := s.users.Lookup(ctx, id)
	if errors.Is(err, identity.ErrNotFound) || (err == nil && u.Role != role) {
		return nil, apperror.NotFound(code, role+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", role, id, err)
	}
	return u, nil
}

// parties are the two users of an appointment. A missing profile is
// replaced by a bare user so realtime delivery still reaches the id.
type parties struct {
	client, advisor *identity.User
}

func (s *Service) parties(ctx context.Context, a *Appointment) (parties, error) {
	get := func(id uuid.UUID, role string) (*identity.User, error) {
		u, err := s.users.Lookup(ctx, id)
		if errors.Is(err, identity.ErrNotFound) {
			return &identity.User{ID: id, Role: role}, nil
		}
		return u, err
	}
	client, err := get(a.ClientID, identity.RoleClient)
	if err != nil {
		return parties{}, fmt.Errorf("lookup client %s: %w", a.ClientID, err)
	}
	advisor, err := get(a.AdvisorID, identity.RoleAdvisor)
	if err != nil {
		return parties{}, fmt.Errorf("lookup advisor %s: %w", a.AdvisorID, err)
	}
	return parties{client: client, advisor: advisor}, nil
}

func eventFor(kind notification.Kind, a *Appointment, to, counterpart *identity.User, extra map[string]string) notification.Event {
	data := map[string]string{
		"date": a.DateTime.UTC().Format("2006-01-02"),
		"time": a.DateTime.UTC().Format("15:04"),
		"type": string(a.Type),
	}
	if counterpart != nil {
		data["counterpart"] = counterpart.DisplayName()
	}
	for k, v := range extra {
		data[k] = v
	}
	return notification.Event{
		Kind:          kind,
		AppointmentID: a.ID,
		Recipients:    []notification.Recipient{to.Recipient()},
		Data:          data,
	}
}

func (p parties) toClient(kind notification.Kind, a *Appointment, extra map[string]string) notification.Event {
	return eventFor(kind, a, p.client, p.advisor, extra)
}

func (p parties) toAdvisor(kind notification.Kind, a *Appointment, extra map[string]string) notification.Event {
	return eventFor(kind, a, p.advisor, p.client, extra)
}

func (p parties) toBoth(kind notification.Kind, a *Appointment, extra map[string]string) []notification.Event {
	return []notification.Event{p.toClient(kind, a, extra), p.toAdvisor(kind, a, extra)}
}

// commit writes next with a version check and enqueues events in the same
// transaction.
func (s *Service) commit(ctx context.Context, prev, next *Appointment, events ...notification.Event) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		return s.enqueue(ctx, events)
	})
	if err != nil {
		return err
	}
	if prev.Status != next.Status {
		s.metrics.Transitions.WithLabelValues(string(prev.Status), string(next.Status)).Inc()
		s.logger.Info().
			Str("appointment_id", next.ID.String()).
			Str("from", string(prev.Status)).
			Str("to", string(next.Status)).
			Msg("appointment status changed")
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, events []notification.Event) error {
	for _, ev := range events {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			return fmt.Errorf("enqueue %s notification: %w", ev.Kind, err)
		}
	}
	return nil
}

// writeErr maps repository write failures to rejections.
func writeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVersionConflict):
		return apperror.Conflict(apperror.CodeConcurrentModification,
			"appointment was changed by another request, reload and retry")
	case errors.Is(err, ErrSlotTaken):
		return apperror.Conflict(apperror.CodeAdvisorNotAvailable, "advisor is already booked for this time")
	case errors.Is(err, ErrNotFound):
		return apperror.NotFound(apperror.CodeAppointmentNotFound, "appointment not found")
	}
	return err
}

// mutate applies fn to the stored appointment and commits the result,
// reloading and retrying when another writer got in first. fn returning a
// nil appointment means there is nothing to write.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(cur *Appointment) (*Appointment, []notification.Event, error)) (*Appointment, error) {
	for attempt := 1; ; attempt++ {
		cur, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		next, events, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur, nil
		}
		err = s.commit(ctx, cur, next, events...)
		if errors.Is(err, ErrVersionConflict) && attempt < maxWriteRetries {
			continue
		}
		if err != nil {
			return nil, writeErr(err)
		}
		return next, nil
	}
}

func (s *Service) lockAdvisor(ctx context.Context, advisorID uuid.UUID) (func(), error) {
	unlock, err := s.locker.Lock(ctx, lock.AdvisorKey(advisorID.String()))
	if err != nil {
		return nil, fmt.Errorf("lock advisor %s: %w", advisorID, err)
	}
	return unlock, nil
}

func requireParticipant(caller auth.Caller, a *Appointment, allowAdmin bool) error {
	if a.IsParticipant(caller.ID) || (allowAdmin && caller.IsAdmin()) {
		return nil
	}
	return apperror.Authorization(apperror.CodeNotAssigned, "you are not a participant of this appointment")
}

func requireAdvisor(caller auth.Caller, a *Appointment) error {
	if caller.ID == a.AdvisorID {
		return nil
	}
	return apperror.Authorization(apperror.CodeNotAssigned, "only the assigned advisor can do this")
}

// actorOf names who performed a cancellation.
func actorOf(caller auth.Caller, a *Appointment) string {
	switch caller.ID {
	case a.ClientID:
		return ActorClient
	case a.AdvisorID:
		return ActorAdvisor
	}
	return ActorSystem
}

// ---------------------------------------------------------------------------
// Booking
// ---------------------------------------------------------------------------

// CreateInput is a booking request.
type CreateInput struct {
	// ClientID lets an admin book for a client. Ignored otherwise.
	ClientID         *uuid.UUID `json:"clientId,omitempty"`
	AdvisorID        uuid.UUID  `json:"advisorId"`
	DateTime         time.Time  `json:"dateTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Type             Type       `json:"type"`
	Duration         int        `json:"duration"`
	ShortDescription string     `json:"shortDescription"`
	Notes            string     `json:"notes,omitempty"`
	// TransactionRef records the charge paid at booking time.
	TransactionRef string `json:"transactionId,omitempty"`
}

// CreateAppointment books a consultation. The advisor has until the
// confirmation deadline to accept it.
func (s *Service) CreateAppointment(ctx context.Context, caller auth.Caller, in CreateInput) (res *Result, err error) {
	defer s.observe(&err)

	if in.Duration == 0 {
		in.Duration = 30
	}
	if err := validateDuration(in.Duration); err != nil {
		return nil, err
	}
	advisor, err := s.user(ctx, in.AdvisorID, identity.RoleAdvisor, apperror.CodeAdvisorNotFound)
	if err != nil {
		return nil, err
	}
	clientID := caller.ID
	if caller.IsAdmin() && in.ClientID != nil {
		clientID = *in.ClientID
	}
	client, err := s.user(ctx, clientID, identity.RoleClient, apperror.CodeClientNotFound)
	if err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, apperror.Validation(apperror.CodeInvalidType, "type must be video, audio or chat").
			WithDetail("type", string(in.Type))
	}
	if in.DateTime.IsZero() {
		return nil, apperror.Validation(apperror.CodeMissingField, "dateTime is required")
	}
	if in.ShortDescription == "" {
		return nil, apperror.Validation(apperror.CodeMissingField, "shortDescription is required")
	}

	now := s.clock()
	start := in.DateTime.UTC()
	end := start.Add(time.Duration(in.Duration) * time.Minute)
	if in.EndTime != nil {
		if !in.EndTime.After(start) {
			return nil, apperror.Validation(apperror.CodeInvalidDate, "endTime must be after dateTime")
		}
		end = in.EndTime.UTC()
	}
	if !start.After(now) {
		return nil, apperror.Validation(apperror.CodeInvalidDate, "dateTime must be in the future")
	}

	unlock, err := s.lockAdvisor(ctx, advisor.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a := &Appointment{
		ID:               uuid.New(),
		ClientID:         client.ID,
		AdvisorID:        advisor.ID,
		DateTime:         start,
		EndTime:          end,
		Duration:         in.Duration,
		Status:           StatusPendingAdvisorConfirmation,
		Type:             in.Type,
		ShortDescription: in.ShortDescription,
		Notes:            in.Notes,
		Payment:          PaymentInfo{Amount: advisor.ConsultationFee, Status: payment.StatusPending},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	p := parties{client: client, advisor: advisor}

	conflicts, err := s.repo.ListScheduledOverlapping(ctx, advisor.ID, a.Interval(), uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("check advisor conflicts: %w", err)
	}
	if len(conflicts) > 0 {
		reason := "the advisor is not available at this time"
		if nerr := s.enqueue(ctx, []notification.Event{p.toClient(notification.KindBookingFailed, a,
			map[string]string{"reason": reason})}); nerr != nil {
			s.logger.Warn().Err(nerr).Str("client_id", client.ID.String()).Msg("booking failed notification not enqueued")
		}
		return nil, apperror.Conflict(apperror.CodeAdvisorNotAvailable, reason).
			WithDetail("conflictStart", conflicts[0].DateTime).
			WithDetail("conflictEnd", conflicts[0].EndTime)
	}

	switch advisor.Availability.Covers(start, end) {
	case scheduling.NotAvailableDay:
		return nil, apperror.Conflict(apperror.CodeAdvisorNotAvailableDay, "the advisor does not work on this day").
			WithDetail("dayOfWeek", int(scheduling.WeekdayOf(start)))
	case scheduling.OutsideWorkingHours:
		return nil, apperror.Conflict(apperror.CodeOutsideWorkingHours, "the requested time is outside the advisor's working hours")
	}

	deadline := ConfirmationDeadline(now, start, advisor.Availability)
	a.AdvisorConfirmationExpires = &deadline

	extra := map[string]string{"deadline": deadline.Format("2006-01-02 15:04 MST")}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if in.TransactionRef != "" {
			pay, err := s.payments.Record(ctx, a.ID, a.Payment.Amount, in.TransactionRef)
			if err != nil {
				return err
			}
			a.Payment.Status = payment.StatusCompleted
			a.Payment.PaymentID = &pay.ID
		}
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		return s.enqueue(ctx, p.toBoth(notification.KindBookingConfirmed, a, extra))
	})
	if err != nil {
		return nil, writeErr(err)
	}

	s.metrics.AppointmentsCreated.WithLabelValues(string(a.Type)).Inc()
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("advisor_id", advisor.ID.String()).
		Time("deadline", deadline).
		Msg("appointment booked")
	return &Result{Appointment: a}, nil
}

// ConfirmAppointment lets the assigned advisor accept a pending booking. A
// booking past its deadline is cancelled and refunded instead.
func (s *Service) ConfirmAppointment(ctx context.Context, caller auth.Caller, id uuid.UUID) (res *Result, err error) {
	defer s.observe(&err)

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireAdvisor(caller, a); err != nil {
		return nil, err
	}
	return s.confirm(ctx, a)
}

func (s *Service) confirm(ctx context.Context, a *Appointment) (*Result, error) {
	if a.Status != StatusPendingAdvisorConfirmation {
		return nil, apperror.Expired(apperror.CodeConfirmationExpired, "appointment is no longer awaiting confirmation").
			WithDetail("status", string(a.Status))
	}
	now := s.clock()
	if a.ConfirmationExpired(now) {
		res, err := s.expire(ctx, a)
		if err != nil {
			return nil, err
		}
		rej := apperror.Expired(apperror.CodeConfirmationExpired, "the confirmation deadline has passed and the appointment was cancelled")
		if len(res.Warnings) > 0 {
			rej = rej.WithDetail("warnings", res.Warnings)
		}
		return nil, rej
	}

	unlock, err := s.lockAdvisor(ctx, a.AdvisorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.checkScheduledConflicts(ctx, a); err != nil {
		return nil, err
	}
	next, err := Transition(a, StatusScheduled, now, Change{})
	if err != nil {
		return nil, err
	}
	p, err := s.parties(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, a, next, p.toClient(notification.KindConfirmationGranted, next, nil)); err != nil {
		return nil, writeErr(err)
	}
	return &Result{Appointment: next}, nil
}

func (s *Service) checkScheduledConflicts(ctx context.Context, a *Appointment) error {
	conflicts, err := s.repo.ListScheduledOverlapping(ctx, a.AdvisorID, a.Interval(), a.ID)
	if err != nil {
		return fmt.Errorf("check advisor conflicts: %w", err)
	}
	if len(conflicts) > 0 {
		return apperror.Conflict(apperror.CodeAdvisorNotAvailable, "advisor is already booked for this time").
			WithDetail("conflictingAppointmentId", conflicts[0].ID.String())
	}
	return nil
}

// expire cancels a booking whose confirmation deadline has passed.
func (s *Service) expire(ctx context.Context, a *Appointment) (*Result, error) {
	next, err := Transition(a, StatusCanceled, s.clock(), Change{Reason: SweepCancelReason, CanceledBy: ActorSystem})
	if err != nil {
		return nil, err
	}
	p, err := s.parties(ctx, a)
	if err != nil {
		return nil, err
	}
	extra := map[string]string{"reason": SweepCancelReason, "cancelled_by": ActorSystem}
	if err := s.commit(ctx, a, next, p.toBoth(notification.KindCancellation, next, extra)...); err != nil {
		return nil, writeErr(err)
	}
	s.metrics.SweepExpired.Inc()
	return &Result{Appointment: next, Warnings: s.refund(ctx, next, p)}, nil
}

// refund returns the charge of a cancelled appointment. It runs after the
// cancellation is committed; a failure is reported as a warning.
func (s *Service) refund(ctx context.Context, a *Appointment, p parties) []apperror.Warning {
	if a.Payment.PaymentID == nil || a.Payment.Status == payment.StatusRefunded {
		return nil
	}
	refunded := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pay, refundedNow, err := s.payments.MarkRefunded(ctx, *a.Payment.PaymentID)
		if err != nil {
			return err
		}
		if !refundedNow {
			return nil
		}
		refunded = true
		cur, err := s.repo.GetByID(ctx, a.ID)
		if err != nil {
			return err
		}
		next := cur.Clone()
		next.Payment.Status = payment.StatusRefunded
		next.UpdatedAt = s.clock()
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		return s.enqueue(ctx, []notification.Event{p.toClient(notification.KindRefundIssued, next,
			map[string]string{"amount": pay.Amount.StringFixed(2)})})
	})
	if err != nil {
		s.metrics.RefundFailures.Inc()
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("refund failed")
		return []apperror.Warning{apperror.Dependency(apperror.CodeRefundFailed, err)}
	}
	if refunded {
		a.Payment.Status = payment.StatusRefunded
	}
	return nil
}

// StatusInput is an explicit status change.
type StatusInput struct {
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Summary string `json:"consultationSummary,omitempty"`
}

// UpdateAppointmentStatus applies a status change requested by a
// participant or an admin.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, caller auth.Caller, id uuid.UUID, in StatusInput) (res *Result, err error) {
	defer s.observe(&err)

	if !ValidStatus(in.Status) {
		return nil, apperror.Validation(apperror.CodeInvalidStatus, "unknown status").
			WithDetail("status", string(in.Status))
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(caller, a, true); err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, in.Status) {
		return nil, apperror.InvalidTransition(string(a.Status), string(in.Status))
	}

	switch in.Status {
	case StatusScheduled:
		if a.Status == StatusPendingAdvisorConfirmation {
			if err := requireAdvisor(caller, a); err != nil && !caller.IsAdmin() {
				return nil, err
			}
			return s.confirm(ctx, a)
		}
		if !caller.IsAdmin() {
			return nil, apperror.Authorization(apperror.CodeNotAssigned, "payment must be completed to schedule this appointment")
		}
		return s.schedulePaid(ctx, a, nil)
	case StatusCanceled:
		return s.cancel(ctx, caller, a, in.Reason)
	}

	now := s.clock()
	next, err := Transition(a, in.Status, now, Change{Summary: in.Summary})
	if err != nil {
		return nil, err
	}
	var events []notification.Event
	if in.Status == StatusCompleted {
		p, err := s.parties(ctx, a)
		if err != nil {
			return nil, err
		}
		events = p.toBoth(notification.KindCompletion, next, nil)
	}
	if err := s.commit(ctx, a, next, events...); err != nil {
		return nil, writeErr(err)
	}
	return &Result{Appointment: next}, nil
}

func (s *Service) cancel(ctx context.Context, caller auth.Caller, a *Appointment, reason string) (*Result, error) {
	actor := actorOf(caller, a)
	next, err := Transition(a, StatusCanceled, s.clock(), Change{Reason: reason, CanceledBy: actor})
	if err != nil {
		return nil, err
	}
	p, err := s.parties(ctx, a)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "No reason provided"
	}
	extra := map[string]string{"reason": reason, "cancelled_by": actor}
	if err := s.commit(ctx, a, next, p.toBoth(notification.KindCancellation, next, extra)...); err != nil {
		return nil, writeErr(err)
	}
	return &Result{Appointment: next, Warnings: s.refund(ctx, next, p)}, nil
}

// CompletePayment settles a pending-payment appointment and schedules it.
func (s *Service) CompletePayment(ctx context.Context, caller auth.Caller, id uuid.UUID, transactionRef string) (res *Result, err error) {
	defer s.observe(&err)

	if transactionRef == "" {
		return nil, apperror.Validation(apperror.CodeMissingField, "transactionId is required")
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ClientID != caller.ID && !caller.IsAdmin() {
		return nil, apperror.Authorization(apperror.CodeNotAssigned, "only the client can pay for this appointment")
	}
	if a.Status != StatusPendingPayment {
		return nil, apperror.InvalidTransition(string(a.Status), string(StatusScheduled))
	}
	return s.schedulePaid(ctx, a, &transactionRef)
}

func (s *Service) schedulePaid(ctx context.Context, a *Appointment, ref *string) (*Result, error) {
	unlock, err := s.lockAdvisor(ctx, a.AdvisorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.checkScheduledConflicts(ctx, a); err != nil {
		return nil, err
	}
	next, err := Transition(a, StatusScheduled, s.clock(), Change{})
	if err != nil {
		return nil, err
	}
	p, err := s.parties(ctx, a)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if ref != nil {
			pay, err := s.payments.Record(ctx, a.ID, a.Payment.Amount, *ref)
			if err != nil {
				return err
			}
			next.Payment.PaymentID = &pay.ID
			next.Payment.Status = payment.StatusCompleted
		}
		return s.commit(ctx, a, next, p.toBoth(notification.KindConfirmationGranted, next, nil)...)
	})
	if err != nil {
		return nil, writeErr(err)
	}
	return &Result{Appointment: next}, nil
}

// ---------------------------------------------------------------------------
// Sweep
// ---------------------------------------------------------------------------

// SweepReport summarises one cleanup run.
type SweepReport struct {
	Processed int                `json:"processed"`
	Canceled  int                `json:"canceled"`
	Failed    int                `json:"failed"`
	Warnings  []apperror.Warning `json:"warnings,omitempty"`
}

// CleanupExpiredAppointments cancels every booking whose confirmation
// deadline has passed. One failing appointment does not stop the rest.
func (s *Service) CleanupExpiredAppointments(ctx context.Context) (*SweepReport, error) {
	started := time.Now()
	defer func() { s.metrics.SweepDuration.Observe(time.Since(started).Seconds()) }()

	items, err := s.repo.ListExpiredPending(ctx, s.clock(), s.sweepSize)
	if err != nil {
		return nil, fmt.Errorf("list expired appointments: %w", err)
	}

	report := &SweepReport{}
	for _, a := range items {
		if ctx.Err() != nil {
			break
		}
		report.Processed++
		res, err := s.expire(ctx, a)
		if err != nil {
			report.Failed++
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("expire appointment")
			continue
		}
		report.Canceled++
		report.Warnings = append(report.Warnings, res.Warnings...)
	}
	if report.Processed > 0 {
		s.logger.Info().
			Int("processed", report.Processed).
			Int("canceled", report.Canceled).
			Int("failed", report.Failed).
			Msg("confirmation sweep finished")
	}
	return report, ctx.Err()
}
