package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/advisa/consult/internal/domain/identity"
	"github.com/advisa/consult/internal/domain/payment"
	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/internal/platform/lock"
	"github.com/advisa/consult/internal/platform/notification"
	"github.com/advisa/consult/internal/platform/room"
	"github.com/advisa/consult/pkg/apperror"
)

// Friday 2024-06-07 12:00 UTC. The next Monday is 2024-06-10.
var friday = time.Date(2024, 6, 7, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }

type fixture struct {
	svc      *Service
	repo     *MemoryRepo
	users    *identity.MemoryRepo
	payments *payment.MemoryRepo
	outbox   *notification.MemoryStore
	clock    *testClock

	client  *identity.User
	advisor *identity.User
	admin   auth.Caller
}

type fixtureOption func(*fixture, *Deps)

func withLocker(l lock.Locker) fixtureOption {
	return func(_ *fixture, d *Deps) { d.Locker = l }
}

// withRepo wraps the fixture's memory repository.
func withRepo(wrap func(*MemoryRepo) Repository) fixtureOption {
	return func(f *fixture, d *Deps) { d.Repo = wrap(f.repo) }
}

// weekAvailability works Monday 09:00-17:00 in the legacy single window
// shape and Friday 09:00-12:00, 13:00-18:00 in the multi-window shape.
func weekAvailability() scheduling.Availability {
	return scheduling.Availability{
		{
			Day:       scheduling.Monday,
			Available: true,
			Hours: scheduling.LegacyWindow{Window: scheduling.Window{
				Start: scheduling.MustClock("09:00"), End: scheduling.MustClock("17:00"),
			}},
		},
		{Day: scheduling.Tuesday, Available: false},
		{
			Day:       scheduling.Friday,
			Available: true,
			Hours: scheduling.WindowList{
				{Start: scheduling.MustClock("09:00"), End: scheduling.MustClock("12:00")},
				{Start: scheduling.MustClock("13:00"), End: scheduling.MustClock("18:00")},
			},
		},
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clock := &testClock{now: friday}
	client := &identity.User{
		ID: uuid.New(), Role: identity.RoleClient,
		FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com",
	}
	advisor := &identity.User{
		ID: uuid.New(), Role: identity.RoleAdvisor,
		FirstName: "Sam", LastName: "Reyes", Email: "sam@example.com",
		ConsultationFee: decimal.NewFromInt(80),
		Availability:    weekAvailability(),
	}
	f := &fixture{
		repo:     NewMemoryRepo(),
		users:    identity.NewMemoryRepo(client, advisor),
		payments: payment.NewMemoryRepo(),
		outbox:   notification.NewMemoryStore(),
		clock:    clock,
		client:   client,
		advisor:  advisor,
		admin:    auth.Caller{ID: uuid.New(), Role: auth.RoleAdmin},
	}
	deps := Deps{
		Repo:     f.repo,
		Users:    f.users,
		Payments: payment.NewService(f.payments, clock.Now),
		Notifier: notification.NewNotifier(f.outbox, clock.Now),
		Locker:   lock.NewLocalLocker(),
		Rooms:    room.NewIssuer(room.Config{AppID: "consult", Secret: "room-secret", Domain: "meet.example.com"}, clock.Now),
		Logger:   zerolog.Nop(),
		Now:      clock.Now,
	}
	for _, o := range opts {
		o(f, &deps)
	}
	f.svc = NewService(deps)
	return f
}

func (f *fixture) clientCaller() auth.Caller {
	return auth.Caller{ID: f.client.ID, Role: auth.RoleClient}
}

func (f *fixture) advisorCaller() auth.Caller {
	return auth.Caller{ID: f.advisor.ID, Role: auth.RoleAdvisor}
}

func (f *fixture) input(start time.Time, minutes int) CreateInput {
	return CreateInput{
		AdvisorID:        f.advisor.ID,
		DateTime:         start,
		Type:             TypeVideo,
		Duration:         minutes,
		ShortDescription: "Quarterly tax questions",
	}
}

// book creates a pending booking and fails the test on error.
func (f *fixture) book(t *testing.T, in CreateInput) *Appointment {
	t.Helper()
	res, err := f.svc.CreateAppointment(context.Background(), f.clientCaller(), in)
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return res.Appointment
}

// schedule books and confirms an appointment.
func (f *fixture) schedule(t *testing.T, start time.Time, minutes int) *Appointment {
	t.Helper()
	a := f.book(t, f.input(start, minutes))
	res, err := f.svc.ConfirmAppointment(context.Background(), f.advisorCaller(), a.ID)
	if err != nil {
		t.Fatalf("confirm appointment: %v", err)
	}
	return res.Appointment
}

func expectCode(t *testing.T, err error, kind apperror.Kind, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error %q, got nil", kind, code)
	}
	ae, ok := apperror.As(err)
	if !ok {
		t.Fatalf("expected apperror, got %T: %v", err, err)
	}
	if ae.Kind != kind || ae.Code != code {
		t.Fatalf("expected %s/%s, got %s/%s (%s)", kind, code, ae.Kind, ae.Code, ae.Message)
	}
}

func monday(hhmm string) time.Time {
	c := scheduling.MustClock(hhmm)
	return c.On(time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
}
