// Package memory is a process-local implementation of domain.Store. State is
// discarded on restart.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	policies   map[uuid.UUID][]*domain.Policy // every version, oldest first
	deleted    map[uuid.UUID]bool
	keys       map[uuid.UUID]*domain.PolicyBoundKey
	agents     map[uuid.UUID]*domain.Agent
	spend      []*domain.SpendRecord
	executions []*domain.ExecutionLog
	execByID   map[uuid.UUID]*domain.ExecutionLog
}

func New() *Store {
	return &Store{
		policies: make(map[uuid.UUID][]*domain.Policy),
		deleted:  make(map[uuid.UUID]bool),
		keys:     make(map[uuid.UUID]*domain.PolicyBoundKey),
		agents:   make(map[uuid.UUID]*domain.Agent),
		execByID: make(map[uuid.UUID]*domain.ExecutionLog),
	}
}

// tx scopes repository calls. Outside Atomic every call takes the store lock
// itself; inside Atomic the lock is already held and writes register an undo
// step.
type tx struct {
	s    *Store
	held bool
	undo []func()
}

func (t *tx) read(fn func()) {
	if !t.held {
		t.s.mu.RLock()
		defer t.s.mu.RUnlock()
	}
	fn()
}

func (t *tx) write(fn func() error) error {
	if !t.held {
		t.s.mu.Lock()
		defer t.s.mu.Unlock()
	}
	return fn()
}

func (t *tx) onRollback(f func()) {
	if t.held {
		t.undo = append(t.undo, f)
	}
}

func (s *Store) repos(t *tx) domain.Repositories {
	return domain.Repositories{
		Policies:   &PolicyRepo{t: t},
		Keys:       &KeyRepo{t: t},
		Agents:     &AgentRepo{t: t},
		Spend:      &SpendRepo{t: t},
		Executions: &ExecutionRepo{t: t},
	}
}

func (s *Store) Repos() domain.Repositories {
	return s.repos(&tx{s: s})
}

// Atomic serializes fn against every other write and rolls back all of fn's
// writes when it returns an error or panics. The lock is store-wide, so
// transactions on different policies do not overlap.
func (s *Store) Atomic(ctx context.Context, _ uuid.UUID, fn func(domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s, held: true}
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			panic(r)
		}
	}()
	if err := fn(s.repos(t)); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (s *Store) Close() {}
