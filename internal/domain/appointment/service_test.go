package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/advisa/consult/internal/domain/payment"
	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/internal/platform/notification"
	"github.com/advisa/consult/pkg/apperror"
)

func TestCreateAppointment_RejectsInvalidDuration(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateAppointment(context.Background(), f.clientCaller(), f.input(monday("09:00"), 20))
	expectCode(t, err, apperror.KindValidation, apperror.CodeInvalidDuration)
}

func TestCreateAppointment_DerivesEndTime(t *testing.T) {
	f := newFixture(t)
	for _, minutes := range []int{15, 45, 120} {
		a := f.book(t, f.input(monday("09:00").Add(time.Duration(minutes)*time.Minute), minutes))
		if want := a.DateTime.Add(time.Duration(minutes) * time.Minute); !a.EndTime.Equal(want) {
			t.Errorf("duration %d: expected end %s, got %s", minutes, want, a.EndTime)
		}
	}
}

func TestCreateAppointment_DefaultsDuration(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.input(monday("11:00"), 0))
	if a.Duration != 30 || !a.EndTime.Equal(monday("11:30")) {
		t.Errorf("expected 30 minute default, got %d ending %s", a.Duration, a.EndTime)
	}
}

func TestCreateAppointment_ExplicitEndTime(t *testing.T) {
	f := newFixture(t)
	in := f.input(monday("09:00"), 30)
	end := monday("09:40")
	in.EndTime = &end
	a := f.book(t, in)
	if !a.EndTime.Equal(end) {
		t.Errorf("expected explicit end %s, got %s", end, a.EndTime)
	}

	bad := monday("08:00")
	in.EndTime = &bad
	_, err := f.svc.CreateAppointment(context.Background(), f.clientCaller(), in)
	expectCode(t, err, apperror.KindValidation, apperror.CodeInvalidDate)
}

func TestCreateAppointment_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		mutate func(*CreateInput)
		kind   apperror.Kind
		code   string
	}{
		{"unknown advisor", func(in *CreateInput) { in.AdvisorID = uuid.New() }, apperror.KindNotFound, apperror.CodeAdvisorNotFound},
		{"client booked as advisor", func(in *CreateInput) { in.AdvisorID = f.client.ID }, apperror.KindNotFound, apperror.CodeAdvisorNotFound},
		{"bad type", func(in *CreateInput) { in.Type = "fax" }, apperror.KindValidation, apperror.CodeInvalidType},
		{"missing description", func(in *CreateInput) { in.ShortDescription = "" }, apperror.KindValidation, apperror.CodeMissingField},
		{"missing date", func(in *CreateInput) { in.DateTime = time.Time{} }, apperror.KindValidation, apperror.CodeMissingField},
		{"in the past", func(in *CreateInput) { in.DateTime = friday.Add(-time.Hour) }, apperror.KindValidation, apperror.CodeInvalidDate},
		{"advisor off on tuesday", func(in *CreateInput) { in.DateTime = time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC) }, apperror.KindConflict, apperror.CodeAdvisorNotAvailableDay},
		{"outside hours", func(in *CreateInput) { in.DateTime = monday("16:45") }, apperror.KindConflict, apperror.CodeOutsideWorkingHours},
		{"friday lunch gap", func(in *CreateInput) { in.DateTime = friday.Add(7*24*time.Hour + 30*time.Minute) }, apperror.KindConflict, apperror.CodeOutsideWorkingHours},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input(monday("09:00"), 30)
			tt.mutate(&in)
			_, err := f.svc.CreateAppointment(context.Background(), f.clientCaller(), in)
			expectCode(t, err, tt.kind, tt.code)
		})
	}
	if n := len(f.outbox.Messages()); n != 0 {
		t.Errorf("rejected bookings must not notify, got %d messages", n)
	}
}

func TestCreateAppointment_NotifiesBothParties(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.input(monday("09:00"), 30))

	if a.Status != StatusPendingAdvisorConfirmation {
		t.Errorf("expected pending confirmation, got %s", a.Status)
	}
	if !a.Payment.Amount.Equal(f.advisor.ConsultationFee) {
		t.Errorf("expected fee %s, got %s", f.advisor.ConsultationFee, a.Payment.Amount)
	}
	seen := map[uuid.UUID]bool{}
	for _, m := range f.outbox.ByKind(notification.KindBookingConfirmed) {
		seen[m.Recipient.UserID] = true
		if m.AppointmentID == nil || *m.AppointmentID != a.ID {
			t.Errorf("message not linked to appointment: %+v", m)
		}
	}
	if !seen[f.client.ID] || !seen[f.advisor.ID] {
		t.Errorf("expected both parties notified, got %v", seen)
	}
}

func TestCreateAppointment_ConflictsOnlyWithScheduled(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, monday("10:00"), 30)

	// Pending bookings do not block the slot.
	f.book(t, f.input(monday("11:00"), 30))
	f.book(t, f.input(monday("11:00"), 30))

	// Adjacent intervals are not conflicts.
	f.book(t, f.input(monday("10:30"), 30))
	f.book(t, f.input(monday("09:30"), 30))

	_, err := f.svc.CreateAppointment(context.Background(), f.clientCaller(), f.input(monday("10:15"), 30))
	expectCode(t, err, apperror.KindConflict, apperror.CodeAdvisorNotAvailable)

	failed := f.outbox.ByKind(notification.KindBookingFailed)
	if len(failed) == 0 {
		t.Fatal("expected a booking failed notification")
	}
	for _, m := range failed {
		if m.Recipient.UserID != f.client.ID {
			t.Errorf("booking failure must go to the client only, got %s", m.Recipient.UserID)
		}
	}
}

func TestCreateAppointment_UrgentDeadline(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.input(friday.Add(2*time.Hour), 30))
	want := friday.Add(time.Hour)
	if a.AdvisorConfirmationExpires == nil || !a.AdvisorConfirmationExpires.Equal(want) {
		t.Errorf("expected deadline %s, got %v", want, a.AdvisorConfirmationExpires)
	}
}

func TestCreateAppointment_AdminBooksForClient(t *testing.T) {
	f := newFixture(t)
	in := f.input(monday("09:00"), 30)
	in.ClientID = &f.client.ID
	res, err := f.svc.CreateAppointment(context.Background(), f.admin, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Appointment.ClientID != f.client.ID {
		t.Errorf("expected client %s, got %s", f.client.ID, res.Appointment.ClientID)
	}
}

func TestCreateAppointment_RecordsPayment(t *testing.T) {
	f := newFixture(t)
	in := f.input(monday("09:00"), 30)
	in.TransactionRef = "ch_123"
	a := f.book(t, in)
	if a.Payment.PaymentID == nil || a.Payment.Status != payment.StatusCompleted {
		t.Fatalf("expected completed payment, got %+v", a.Payment)
	}
	p, err := f.payments.GetByID(context.Background(), *a.Payment.PaymentID)
	if err != nil {
		t.Fatalf("payment not stored: %v", err)
	}
	if p.AppointmentID != a.ID || *p.TransactionRef != "ch_123" {
		t.Errorf("unexpected payment %+v", p)
	}
}

func TestConfirmAppointment(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.input(monday("09:00"), 30))

	_, err := f.svc.ConfirmAppointment(context.Background(), auth.Caller{ID: uuid.New(), Role: auth.RoleAdvisor}, a.ID)
	expectCode(t, err, apperror.KindAuthorization, apperror.CodeNotAssigned)

	res, err := f.svc.ConfirmAppointment(context.Background(), f.advisorCaller(), a.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Appointment.Status != StatusScheduled || res.Appointment.AdvisorConfirmationExpires != nil {
		t.Errorf("expected scheduled without deadline, got %+v", res.Appointment)
	}
	granted := f.outbox.ByKind(notification.KindConfirmationGranted)
	if len(granted) == 0 || granted[0].Recipient.UserID != f.client.ID {
		t.Errorf("expected client confirmation notice, got %+v", granted)
	}

	_, err = f.svc.ConfirmAppointment(context.Background(), f.advisorCaller(), a.ID)
	expectCode(t, err, apperror.KindExpired, apperror.CodeConfirmationExpired)
}

func TestConfirmAppointment_RejectsOverlapWithScheduled(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, f.input(monday("09:00"), 60))
	second := f.book(t, f.input(monday("09:30"), 30))

	if _, err := f.svc.ConfirmAppointment(context.Background(), f.advisorCaller(), first.ID); err != nil {
		t.Fatalf("confirm first: %v", err)
	}
	_, err := f.svc.ConfirmAppointment(context.Background(), f.advisorCaller(), second.ID)
	expectCode(t, err, apperror.KindConflict, apperror.CodeAdvisorNotAvailable)
	if got := f.repo.Snapshot(second.ID); got.Status != StatusPendingAdvisorConfirmation {
		t.Errorf("rejected confirm must not change status, got %s", got.Status)
	}
}

func TestConfirmAppointment_PastDeadlineCancelsAndRefunds(t *testing.T) {
	f := newFixture(t)
	in := f.input(monday("09:00"), 30)
	in.TransactionRef = "ch_late"
	a := f.book(t, in)

	f.clock.Set(monday("10:01"))
	_, err := f.svc.ConfirmAppointment(context.Background(), f.advisorCaller(), a.ID)
	expectCode(t, err, apperror.KindExpired, apperror.CodeConfirmationExpired)

	got := f.repo.Snapshot(a.ID)
	if got.Status != StatusCanceled || got.CanceledBy != ActorSystem || got.CancellationReason != SweepCancelReason {
		t.Errorf("expected system cancellation, got %+v", got)
	}
	if got.Payment.Status != payment.StatusRefunded {
		t.Errorf("expected refunded payment, got %s", got.Payment.Status)
	}
	if len(f.outbox.ByKind(notification.KindRefundIssued)) == 0 {
		t.Error("expected refund notification")
	}
}

func TestConfirmAppointment_AtDeadlineStillAllowed(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.input(monday("09:00"), 30))
	f.clock.Set(*a.AdvisorConfirmationExpires)
	if _, err := f.svc.ConfirmAppointment(context.Background(), f.advisorCaller(), a.ID); err != nil {
		t.Fatalf("confirm at deadline: %v", err)
	}
}

func TestUpdateAppointmentStatus_InvalidTransitionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	a := f.schedule(t, monday("09:00"), 30)
	f.clock.Set(monday("09:30"))
	done, err := f.svc.UpdateAppointmentStatus(context.Background(), f.advisorCaller(), a.ID,
		StatusInput{Status: StatusCompleted, Summary: "Discussed deductions"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Appointment.ConsultationSummary != "Discussed deductions" {
		t.Errorf("summary not stored: %+v", done.Appointment)
	}
	before := f.repo.Snapshot(a.ID)

	for _, to := range allStatuses {
		_, err := f.svc.UpdateAppointmentStatus(context.Background(), f.advisorCaller(), a.ID, StatusInput{Status: to})
		expectCode(t, err, apperror.KindInvalidTransition, apperror.CodeInvalidTransition)
	}
	after := f.repo.Snapshot(a.ID)
	if after.Status != before.Status || after.VersionID != before.VersionID {
		t.Errorf("rejected transitions changed the record: before %+v after %+v", before, after)
	}
}

func TestUpdateAppointmentStatus_UnknownStatus(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.input(monday("09:00"), 30))
	_, err := f.svc.UpdateAppointmentStatus(context.Background(), f.clientCaller(), a.ID, StatusInput{Status: "paused"})
	expectCode(t, err, apperror.KindValidation, apperror.CodeInvalidStatus)
}

func TestUpdateAppointmentStatus_StrangerRejected(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.input(monday("09:00"), 30))
	_, err := f.svc.UpdateAppointmentStatus(context.Background(),
		auth.Caller{ID: uuid.New(), Role: auth.RoleClient}, a.ID, StatusInput{Status: StatusCanceled})
	expectCode(t, err, apperror.KindAuthorization, apperror.CodeNotAssigned)
}

func TestUpdateAppointmentStatus_ClientCancelRefunds(t *testing.T) {
	f := newFixture(t)
	in := f.input(monday("09:00"), 30)
	in.TransactionRef = "ch_cancel"
	a := f.book(t, in)

	res, err := f.svc.UpdateAppointmentStatus(context.Background(), f.clientCaller(), a.ID,
		StatusInput{Status: StatusCanceled, Reason: "Schedule clash"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %+v", res.Warnings)
	}
	got := res.Appointment
	if got.Status != StatusCanceled || got.CanceledBy != ActorClient || got.CancellationReason != "Schedule clash" {
		t.Errorf("unexpected cancellation %+v", got)
	}
	if got.Payment.Status != payment.StatusRefunded {
		t.Errorf("expected refunded payment, got %s", got.Payment.Status)
	}
}

func TestUpdateAppointmentStatus_ScheduledFromPendingPaymentNeedsAdmin(t *testing.T) {
	f := newFixture(t)
	src := f.schedule(t, monday("09:00"), 30)
	f.clock.Set(monday("09:30"))
	if _, err := f.svc.UpdateAppointmentStatus(context.Background(), f.advisorCaller(), src.ID, StatusInput{Status: StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	fu, err := f.svc.ScheduleFollowUp(context.Background(), f.advisorCaller(), src.ID,
		FollowUpInput{Date: monday("14:00")})
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	child := fu.FollowUp

	_, err = f.svc.UpdateAppointmentStatus(context.Background(), f.clientCaller(), child.ID, StatusInput{Status: StatusScheduled})
	expectCode(t, err, apperror.KindAuthorization, apperror.CodeNotAssigned)

	res, err := f.svc.UpdateAppointmentStatus(context.Background(), f.admin, child.ID, StatusInput{Status: StatusScheduled})
	if err != nil {
		t.Fatalf("admin schedule: %v", err)
	}
	if res.Appointment.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", res.Appointment.Status)
	}
}

func TestCompletePayment(t *testing.T) {
	f := newFixture(t)
	src := f.schedule(t, monday("09:00"), 30)
	f.clock.Set(monday("09:30"))
	if _, err := f.svc.UpdateAppointmentStatus(context.Background(), f.advisorCaller(), src.ID, StatusInput{Status: StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	fu, err := f.svc.ScheduleFollowUp(context.Background(), f.advisorCaller(), src.ID, FollowUpInput{Date: monday("15:00"), Duration: 45})
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}

	_, err = f.svc.CompletePayment(context.Background(), f.clientCaller(), fu.FollowUp.ID, "")
	expectCode(t, err, apperror.KindValidation, apperror.CodeMissingField)

	res, err := f.svc.CompletePayment(context.Background(), f.clientCaller(), fu.FollowUp.ID, "ch_follow")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	got := res.Appointment
	if got.Status != StatusScheduled || got.Payment.Status != payment.StatusCompleted || got.Payment.PaymentID == nil {
		t.Errorf("expected paid and scheduled, got %+v", got)
	}

	_, err = f.svc.CompletePayment(context.Background(), f.clientCaller(), fu.FollowUp.ID, "ch_again")
	expectCode(t, err, apperror.KindInvalidTransition, apperror.CodeInvalidTransition)
}

func TestRefund_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	in := f.input(monday("09:00"), 30)
	in.TransactionRef = "ch_once"
	a := f.book(t, in)

	res, err := f.svc.UpdateAppointmentStatus(context.Background(), f.clientCaller(), a.ID, StatusInput{Status: StatusCanceled})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	issued := len(f.outbox.ByKind(notification.KindRefundIssued))
	version := f.repo.Snapshot(a.ID).VersionID

	// Run the refund path again with a copy that still thinks the payment
	// is settled.
	stale := res.Appointment.Clone()
	stale.Payment.Status = payment.StatusCompleted
	p, err := f.svc.parties(context.Background(), stale)
	if err != nil {
		t.Fatalf("parties: %v", err)
	}
	for i := 0; i < 2; i++ {
		if w := f.svc.refund(context.Background(), stale, p); len(w) != 0 {
			t.Fatalf("second refund warned: %+v", w)
		}
	}

	if got := len(f.outbox.ByKind(notification.KindRefundIssued)); got != issued {
		t.Errorf("refund notified again: %d -> %d", issued, got)
	}
	if got := f.repo.Snapshot(a.ID).VersionID; got != version {
		t.Errorf("no-op refund wrote the appointment: version %d -> %d", version, got)
	}
	pay, _ := f.payments.GetByID(context.Background(), *a.Payment.PaymentID)
	if pay.Status != payment.StatusRefunded {
		t.Errorf("expected refunded, got %s", pay.Status)
	}
}

func TestCleanupExpiredAppointments_ContinuesPastRefundFailure(t *testing.T) {
	f := newFixture(t)
	var booked []*Appointment
	for i, start := range []string{"09:00", "10:00", "11:00"} {
		in := f.input(monday(start), 30)
		in.TransactionRef = "ch_" + start
		f.clock.Set(friday.Add(time.Duration(i) * time.Minute))
		booked = append(booked, f.book(t, in))
	}
	f.payments.FailUpdate[*booked[1].Payment.PaymentID] = errors.New("payment gateway unavailable")

	f.clock.Set(monday("10:30"))
	report, err := f.svc.CleanupExpiredAppointments(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 3 || report.Canceled != 3 || report.Failed != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(report.Warnings) != 1 || report.Warnings[0].Code != apperror.CodeRefundFailed {
		t.Errorf("expected one refund warning, got %+v", report.Warnings)
	}

	for i, a := range booked {
		got := f.repo.Snapshot(a.ID)
		if got.Status != StatusCanceled {
			t.Errorf("#%d: expected canceled, got %s", i+1, got.Status)
		}
		wantPay := payment.StatusRefunded
		if i == 1 {
			wantPay = payment.StatusCompleted
		}
		if got.Payment.Status != wantPay {
			t.Errorf("#%d: expected payment %s, got %s", i+1, wantPay, got.Payment.Status)
		}
	}

	again, err := f.svc.CleanupExpiredAppointments(context.Background())
	if err != nil || again.Processed != 0 {
		t.Errorf("second sweep should find nothing, got %+v, %v", again, err)
	}
}

func TestCleanupExpiredAppointments_ContinuesPastWriteFailure(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.input(monday("09:00"), 30))
	b := f.book(t, f.input(monday("09:30"), 30))
	f.repo.FailUpdate[a.ID] = errors.New("disk full")

	f.clock.Set(monday("10:30"))
	report, err := f.svc.CleanupExpiredAppointments(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Processed != 2 || report.Canceled != 1 || report.Failed != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if f.repo.Snapshot(b.ID).Status != StatusCanceled {
		t.Error("expected second booking canceled")
	}
	if f.repo.Snapshot(a.ID).Status != StatusPendingAdvisorConfirmation {
		t.Error("failed write must leave the first booking untouched")
	}
}

func TestHandleRoomExit_AutoCompletionThreshold(t *testing.T) {
	f := newFixture(t)
	a := f.schedule(t, monday("09:00"), 30)
	ctx := context.Background()

	f.clock.Set(monday("09:05"))
	for _, c := range []auth.Caller{f.clientCaller(), f.advisorCaller()} {
		res, err := f.svc.HandleRoomExit(ctx, c, a.ID, ParticipantLeft)
		if err != nil {
			t.Fatalf("exit at T+5: %v", err)
		}
		if res.AutoCompleted || res.Status != StatusScheduled {
			t.Fatalf("T+5 must not complete, got %+v", res)
		}
	}

	f.clock.Set(monday("09:11"))
	res, err := f.svc.HandleRoomExit(ctx, f.clientCaller(), a.ID, "")
	if err != nil {
		t.Fatalf("exit at T+11: %v", err)
	}
	if !res.AutoCompleted || !res.BothLeft || res.Status != StatusCompleted {
		t.Fatalf("T+11 must complete, got %+v", res)
	}
	completions := len(f.outbox.ByKind(notification.KindCompletion))

	res, err = f.svc.HandleRoomExit(ctx, f.advisorCaller(), a.ID, ParticipantLeft)
	if err != nil {
		t.Fatalf("late exit: %v", err)
	}
	if res.AutoCompleted {
		t.Error("appointment completed twice")
	}
	if got := len(f.outbox.ByKind(notification.KindCompletion)); got != completions {
		t.Errorf("completion notified again: %d -> %d", completions, got)
	}
	if got := f.repo.Snapshot(a.ID); got.ConsultationSummary != AutoCompleteSummary {
		t.Errorf("expected generated summary, got %q", got.ConsultationSummary)
	}
}

func TestHandleRoomExit_RejectsBadStatus(t *testing.T) {
	f := newFixture(t)
	a := f.schedule(t, monday("09:00"), 30)
	_, err := f.svc.HandleRoomExit(context.Background(), f.clientCaller(), a.ID, "dancing")
	expectCode(t, err, apperror.KindValidation, apperror.CodeInvalidStatus)
}

func TestEndToEnd_BookConfirmMeetComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booked := f.book(t, CreateInput{
		AdvisorID:        f.advisor.ID,
		DateTime:         monday("09:00"),
		Type:             TypeVideo,
		Duration:         30,
		ShortDescription: "Retirement planning",
	})
	if !booked.AdvisorConfirmationExpires.Equal(monday("10:00")) {
		t.Fatalf("expected deadline 10:00 on the day, got %s", booked.AdvisorConfirmationExpires)
	}

	f.clock.Set(time.Date(2024, 6, 8, 18, 0, 0, 0, time.UTC))
	conf, err := f.svc.ConfirmAppointment(ctx, f.advisorCaller(), booked.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if conf.Appointment.Status != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", conf.Appointment.Status)
	}

	f.clock.Set(monday("08:57"))
	join, err := f.svc.JoinConsultation(ctx, f.clientCaller(), booked.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if join.Token == "" || join.Room != "consult-"+booked.ID.String() {
		t.Errorf("unexpected join result %+v", join)
	}
	if join.ExpiresAt.After(booked.EndTime) {
		t.Errorf("room access outlives the session: %s", join.ExpiresAt)
	}

	f.clock.Set(monday("09:31"))
	if _, err := f.svc.HandleRoomExit(ctx, f.advisorCaller(), booked.ID, ParticipantLeft); err != nil {
		t.Fatalf("advisor exit: %v", err)
	}
	res, err := f.svc.HandleRoomExit(ctx, f.clientCaller(), booked.ID, ParticipantLeft)
	if err != nil {
		t.Fatalf("client exit: %v", err)
	}
	if res.Status != StatusCompleted || !res.AutoCompleted {
		t.Fatalf("expected auto completion, got %+v", res)
	}
	got := f.repo.Snapshot(booked.ID)
	if got.ConsultationSummary != AutoCompleteSummary {
		t.Errorf("expected generated summary, got %q", got.ConsultationSummary)
	}
}

func TestJoinConsultation_OnlyParticipants(t *testing.T) {
	f := newFixture(t)
	a := f.schedule(t, monday("09:00"), 30)
	f.clock.Set(monday("09:00"))
	_, err := f.svc.JoinConsultation(context.Background(), f.admin, a.ID)
	expectCode(t, err, apperror.KindAuthorization, apperror.CodeNotAssigned)
}

func TestScheduleFollowUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.schedule(t, monday("09:00"), 30)

	_, err := f.svc.ScheduleFollowUp(ctx, f.advisorCaller(), src.ID, FollowUpInput{Date: monday("14:00")})
	expectCode(t, err, apperror.KindValidation, apperror.CodeOnlyCompleted)

	f.clock.Set(monday("09:30"))
	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.advisorCaller(), src.ID, StatusInput{Status: StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	res, err := f.svc.ScheduleFollowUp(ctx, f.advisorCaller(), src.ID, FollowUpInput{Date: monday("14:00")})
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	child := res.FollowUp
	if child.Status != StatusPendingPayment || child.FollowUpOf == nil || *child.FollowUpOf != src.ID {
		t.Errorf("unexpected child %+v", child)
	}
	if want := "Follow-up to appointment on 2024-06-10 - No notes provided"; child.ShortDescription != want {
		t.Errorf("expected %q, got %q", want, child.ShortDescription)
	}
	if res.Appointment.FollowUp == nil || *res.Appointment.FollowUp.AppointmentID != child.ID {
		t.Errorf("source not linked to child: %+v", res.Appointment.FollowUp)
	}

	pending, err := f.svc.GetPendingFollowUps(ctx, f.clientCaller())
	if err != nil {
		t.Fatalf("pending follow-ups: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != child.ID {
		t.Errorf("expected the child pending, got %+v", pending)
	}
}

func TestUpdateConsultationResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.schedule(t, monday("09:00"), 30)
	f.clock.Set(monday("09:30"))
	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.advisorCaller(), src.ID, StatusInput{Status: StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	summary := "Reviewed budget"
	date := monday("16:00")
	res, err := f.svc.UpdateConsultationResults(ctx, f.advisorCaller(), src.ID, ResultsInput{
		Summary: &summary,
		Advices: []Advice{
			{Action: "Track spending", Dosage: "daily", Frequency: "every evening", Duration: "4 weeks"},
			{Action: "incomplete"},
		},
		FollowUp: &FollowUpRequest{Recommended: true, Date: &date, Notes: "Check progress", CreateAppointment: true},
	})
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if res.Appointment.ConsultationSummary != summary {
		t.Errorf("summary not replaced: %q", res.Appointment.ConsultationSummary)
	}
	if len(res.Appointment.Advices) != 1 {
		t.Errorf("expected incomplete advice dropped, got %+v", res.Appointment.Advices)
	}
	if res.FollowUp == nil || res.FollowUp.Status != StatusPendingPayment {
		t.Errorf("expected follow-up booking, got %+v", res.FollowUp)
	}
}

func TestAddAdvices_RequiresCompleteItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.schedule(t, monday("09:00"), 30)
	f.clock.Set(monday("09:30"))
	if _, err := f.svc.UpdateAppointmentStatus(ctx, f.advisorCaller(), src.ID, StatusInput{Status: StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := f.svc.AddAdvices(ctx, f.advisorCaller(), src.ID, []Advice{{Action: "Walk"}})
	expectCode(t, err, apperror.KindValidation, apperror.CodeMissingField)

	res, err := f.svc.AddAdvices(ctx, f.advisorCaller(), src.ID, []Advice{
		{Action: "Walk", Dosage: "30 min", Frequency: "daily", Duration: "2 weeks"},
	})
	if err != nil {
		t.Fatalf("add advices: %v", err)
	}
	if len(res.Appointment.Advices) != 1 || res.Appointment.Advices[0].CreatedAt.IsZero() {
		t.Errorf("advice not stamped: %+v", res.Appointment.Advices)
	}
	if len(f.outbox.ByKind(notification.KindAdviceAdded)) == 0 {
		t.Error("expected advice notification")
	}
}

func TestUploadDocument_NotifiesOtherParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.input(monday("09:00"), 30))

	_, err := f.svc.UploadDocument(ctx, f.clientCaller(), a.ID, DocumentInput{Name: "payslip.pdf", FileURL: "https://files.example.com/payslip.pdf"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	docs, err := f.svc.GetDocuments(ctx, f.advisorCaller(), a.ID)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 1 || docs[0].UploadedBy != ActorClient {
		t.Errorf("unexpected documents %+v", docs)
	}
	for _, m := range f.outbox.ByKind(notification.KindDocumentUploaded) {
		if m.Recipient.UserID != f.advisor.ID {
			t.Errorf("uploader must not be notified, got %s", m.Recipient.UserID)
		}
	}
}

func TestGetAdvisorAvailability_ExcludesBookedSlots(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.input(monday("09:00"), 30))
	f.schedule(t, monday("10:00"), 60)

	view, err := f.svc.GetAdvisorAvailability(context.Background(), f.advisor.ID, monday("00:00"))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !view.Available || view.Date != "2024-06-10" {
		t.Fatalf("unexpected view %+v", view)
	}
	// 09:00-17:00 is 16 slots; the pending booking takes one and the
	// scheduled hour takes two.
	if len(view.Slots) != 13 {
		t.Errorf("expected 13 free slots, got %d", len(view.Slots))
	}
	for _, s := range view.Slots {
		if s.Start.Equal(monday("09:00")) || s.Start.Equal(monday("10:30")) {
			t.Errorf("occupied slot %s offered", s.Start)
		}
	}
}

func TestGetPendingConfirmations(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.input(monday("09:00"), 30))
	f.clock.Advance(30 * time.Minute)
	f.book(t, f.input(friday.Add(3*time.Hour), 30))

	items, err := f.svc.GetPendingConfirmations(context.Background(), f.advisorCaller())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(items))
	}
	if !items[0].Appointment.AdvisorConfirmationExpires.Before(*items[1].Appointment.AdvisorConfirmationExpires) {
		t.Error("expected soonest deadline first")
	}
	if items[0].ClientName != "Ana Lopez" {
		t.Errorf("expected client name, got %q", items[0].ClientName)
	}

	_, err = f.svc.GetPendingConfirmations(context.Background(), f.clientCaller())
	expectCode(t, err, apperror.KindAuthorization, apperror.CodeNotAssigned)
}

func TestGetAppointment_ScopedToParticipants(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.input(monday("09:00"), 30))
	ctx := context.Background()

	if _, err := f.svc.GetAppointment(ctx, f.clientCaller(), a.ID); err != nil {
		t.Errorf("client: %v", err)
	}
	if _, err := f.svc.GetAppointment(ctx, f.admin, a.ID); err != nil {
		t.Errorf("admin: %v", err)
	}
	_, err := f.svc.GetAppointment(ctx, auth.Caller{ID: uuid.New(), Role: auth.RoleClient}, a.ID)
	expectCode(t, err, apperror.KindAuthorization, apperror.CodeNotAssigned)

	_, err = f.svc.GetAppointment(ctx, f.admin, uuid.New())
	expectCode(t, err, apperror.KindNotFound, apperror.CodeAppointmentNotFound)
}
