package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process outbox. It loses messages on restart and
// is meant for tests and local runs without a database.
type MemoryStore struct {
	mu     sync.Mutex
	msgs   map[uuid.UUID]*Message
	leases map[uuid.UUID]time.Time
	// FailEnqueue makes Enqueue return an error.
	FailEnqueue bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		msgs:   make(map[uuid.UUID]*Message),
		leases: make(map[uuid.UUID]time.Time),
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailEnqueue {
		return fmt.Errorf("enqueue: outbox unavailable")
	}
	for i := range msgs {
		m := msgs[i]
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.Status == "" {
			m.Status = StatusPending
		}
		s.msgs[m.ID] = &m
	}
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, now time.Time, lease time.Duration, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Message
	for id, m := range s.msgs {
		if m.Status != StatusPending || m.NextAttemptAt.After(now) {
			continue
		}
		if until, ok := s.leases[id]; ok && until.After(now) {
			continue
		}
		due = append(due, m)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]Message, 0, len(due))
	for _, m := range due {
		s.leases[m.ID] = now.Add(lease)
		out = append(out, *m)
	}
	return out, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return fmt.Errorf("outbox message %s not found", id)
	}
	m.Status = StatusDelivered
	m.Attempts++
	m.DeliveredAt = &at
	delete(s.leases, id)
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, attempts int, lastErr string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return fmt.Errorf("outbox message %s not found", id)
	}
	m.Attempts = attempts
	m.LastError = lastErr
	if next.IsZero() {
		m.Status = StatusDead
	} else {
		m.NextAttemptAt = next
	}
	delete(s.leases, id)
	return nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Status]int)
	for _, m := range s.msgs {
		out[m.Status]++
	}
	return out, nil
}

// Messages returns a snapshot of every stored message, oldest first.
func (s *MemoryStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ByKind returns stored messages of kind.
func (s *MemoryStore) ByKind(kind Kind) []Message {
	var out []Message
	for _, m := range s.Messages() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
