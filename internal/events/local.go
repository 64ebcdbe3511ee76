package events

import (
	"context"
	"sync"
)

// LocalBroker is an in-process Broker used when no Redis is configured.
// Slow subscribers drop messages rather than block publishers.
type LocalBroker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *LocalBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], ch)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return ch, cleanup, nil
}
