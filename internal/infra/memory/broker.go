package memory

import (
	"context"
	"sync"
	"time"

	"multiplayer-quiz-service/internal/domain"
)

const (
	defaultSubscriberBuffer = 16
	tombstoneTTL            = 10 * time.Minute
)

// Broker is an in-process pub/sub for session patches, keyed by session id.
// Slow subscribers lose their oldest pending patch rather than block publishers; clients
// recover through snapshot polling.
type Broker struct {
	mu     sync.Mutex
	buffer int
	now    func() time.Time
	subs   map[string]map[chan domain.Patch]struct{}
	// closed remembers terminated sessions so late publishes are dropped.
	closed map[string]time.Time
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broker{
		buffer: buffer,
		now:    time.Now,
		subs:   make(map[string]map[chan domain.Patch]struct{}),
		closed: make(map[string]time.Time),
	}
}

// Subscribe returns a channel that receives patches for the session.
// The caller must invoke the returned cancel function to avoid leaks.
func (b *Broker) Subscribe(sessionID string) (<-chan domain.Patch, func()) {
	ch := make(chan domain.Patch, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, gone := b.closed[sessionID]; gone {
		ch <- domain.Terminated(sessionID, b.now())
		close(ch)
		return ch, func() {}
	}
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan domain.Patch]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set := b.subs[sessionID]
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
			if len(set) == 0 {
				delete(b.subs, sessionID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers a patch to every subscriber of its session. A termination patch closes
// all subscriptions for the session.
func (b *Broker) Publish(_ context.Context, patch domain.Patch) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, gone := b.closed[patch.SessionID]; gone {
		return
	}
	for ch := range b.subs[patch.SessionID] {
		select {
		case ch <- patch:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- patch
		}
	}

	if patch.Kind == domain.PatchTerminated {
		for ch := range b.subs[patch.SessionID] {
			close(ch)
		}
		delete(b.subs, patch.SessionID)
		b.closed[patch.SessionID] = b.now()
		b.pruneLocked()
	}
}

// SubscriberCount reports live subscriptions for a session.
func (b *Broker) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

func (b *Broker) pruneLocked() {
	cutoff := b.now().Add(-tombstoneTTL)
	for id, at := range b.closed {
		if at.Before(cutoff) {
			delete(b.closed, id)
		}
	}
}
