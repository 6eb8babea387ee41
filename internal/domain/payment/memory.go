package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a map-backed Repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]Payment
	// FailUpdate makes Update fail for the given ids.
	FailUpdate map[uuid.UUID]error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[uuid.UUID]Payment), FailUpdate: make(map[uuid.UUID]error)}
}

func (m *MemoryRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.VersionID = 1
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	m.items[p.ID] = *p
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryRepo) Update(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailUpdate[p.ID]; err != nil {
		return err
	}
	cur, ok := m.items[p.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.VersionID != p.VersionID {
		return fmt.Errorf("payment %s: %w", p.ID, ErrVersionConflict)
	}
	p.VersionID++
	p.UpdatedAt = time.Now().UTC()
	m.items[p.ID] = *p
	return nil
}
