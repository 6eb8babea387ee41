package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advisa/consult/internal/domain/scheduling"
)

// MemoryRepo is a map-backed Repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func NewMemoryRepo(users ...*User) *MemoryRepo {
	m := &MemoryRepo{users: make(map[uuid.UUID]User)}
	for _, u := range users {
		_ = m.Create(context.Background(), u)
	}
	return m
}

func (m *MemoryRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryRepo) Lookup(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryRepo) UpdateAvailability(_ context.Context, id uuid.UUID, a scheduling.Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Role != RoleAdvisor {
		return ErrNotFound
	}
	u.Availability = a
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

func (m *MemoryRepo) ListAdvisors(_ context.Context, limit, offset int) ([]*User, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*User
	for _, u := range m.users {
		if u.Role == RoleAdvisor {
			cp := u
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].FullName() < all[j].FullName() })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}
