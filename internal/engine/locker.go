package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gosuda/tether/internal/domain"
)

// Locker grants exclusive access to a key. The returned func releases it and
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker serializes holders of the same key within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			l.release(key, s)
		}, nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// LockConfig bounds how long a caller waits for a policy lock.
type LockConfig struct {
	Timeout time.Duration // per attempt
	Retries int
	Backoff time.Duration // doubled after every failed attempt
}

func (c LockConfig) withDefaults() LockConfig {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = 25 * time.Millisecond
	}
	return c
}

// acquire takes key, retrying with backoff. Once the budget is spent it
// returns domain.ErrConcurrencyConflict.
func acquire(ctx context.Context, locker Locker, key string, cfg LockConfig) (func(), error) {
	backoff := cfg.Backoff
	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		unlock, err := locker.Lock(actx, key)
		cancel()
		if err == nil {
			return unlock, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= cfg.Retries {
			return nil, fmt.Errorf("lock %s after %d attempts: %w", key, attempt+1, domain.ErrConcurrencyConflict)
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		backoff *= 2
	}
}
