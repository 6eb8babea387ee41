package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advisa/consult/internal/domain/scheduling"
)

// MemoryRepo is a map-backed Repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment

	// Exclusion mirrors the database exclusion constraint on scheduled
	// appointments. On by default.
	Exclusion bool
	// FailUpdate makes Update fail for the given ids.
	FailUpdate map[uuid.UUID]error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		items:      make(map[uuid.UUID]*Appointment),
		Exclusion:  true,
		FailUpdate: make(map[uuid.UUID]error),
	}
}

func (m *MemoryRepo) violatesExclusionLocked(a *Appointment) bool {
	if !m.Exclusion || a.Status != StatusScheduled {
		return false
	}
	for _, o := range m.items {
		if o.ID != a.ID && o.AdvisorID == a.AdvisorID && o.Status == StatusScheduled &&
			scheduling.Overlaps(a.Interval(), o.Interval()) {
			return true
		}
	}
	return false
}

func (m *MemoryRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if m.violatesExclusionLocked(a) {
		return fmt.Errorf("create appointment: %w", ErrSlotTaken)
	}
	a.VersionID = 1
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	m.items[a.ID] = a.Clone()
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailUpdate[a.ID]; err != nil {
		return err
	}
	cur, ok := m.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.VersionID != a.VersionID {
		return fmt.Errorf("appointment %s: %w", a.ID, ErrVersionConflict)
	}
	if m.violatesExclusionLocked(a) {
		return fmt.Errorf("appointment %s: %w", a.ID, ErrSlotTaken)
	}
	a.VersionID++
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	m.items[a.ID] = a.Clone()
	return nil
}

func (m *MemoryRepo) ListScheduledOverlapping(_ context.Context, advisorID uuid.UUID, iv scheduling.Interval, exclude uuid.UUID) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.ID != exclude && a.AdvisorID == advisorID && a.Status == StatusScheduled &&
			scheduling.Overlaps(iv, a.Interval()) {
			out = append(out, a.Clone())
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryRepo) ListOccupying(_ context.Context, advisorID uuid.UUID, from, to time.Time) ([]scheduling.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.Interval
	for _, a := range m.items {
		if a.AdvisorID != advisorID || !hasStatus(a.Status, OccupyingStatuses) {
			continue
		}
		if !a.DateTime.Before(from) && a.DateTime.Before(to) {
			out = append(out, a.Interval())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *MemoryRepo) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.Status == StatusPendingAdvisorConfirmation && a.ConfirmationExpired(now) {
			out = append(out, a.Clone())
		}
	}
	sortByDeadline(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepo) ListPendingConfirmation(_ context.Context, advisorID uuid.UUID, now time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.AdvisorID == advisorID && a.Status == StatusPendingAdvisorConfirmation &&
			a.AdvisorConfirmationExpires != nil && a.AdvisorConfirmationExpires.After(now) {
			out = append(out, a.Clone())
		}
	}
	sortByDeadline(out)
	return out, nil
}

func (m *MemoryRepo) List(_ context.Context, f ListFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Appointment
	for _, a := range m.items {
		if f.ClientID != nil && a.ClientID != *f.ClientID {
			continue
		}
		if f.AdvisorID != nil && a.AdvisorID != *f.AdvisorID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(a.Status, f.Statuses) {
			continue
		}
		if f.From != nil && a.DateTime.Before(*f.From) {
			continue
		}
		if f.To != nil && a.DateTime.After(*f.To) {
			continue
		}
		all = append(all, a.Clone())
	}
	sortByStart(all)
	total := len(all)
	if f.Offset > 0 {
		if f.Offset > total {
			f.Offset = total
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

// Snapshot returns the stored value of id, for assertions.
func (m *MemoryRepo) Snapshot(id uuid.UUID) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.items[id]; ok {
		return a.Clone()
	}
	return nil
}

func hasStatus(s Status, set []Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func sortByStart(items []*Appointment) {
	sort.Slice(items, func(i, j int) bool { return items[i].DateTime.Before(items[j].DateTime) })
}

func sortByDeadline(items []*Appointment) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].AdvisorConfirmationExpires.Before(*items[j].AdvisorConfirmationExpires)
	})
}
