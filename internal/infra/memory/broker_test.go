package memory

import (
	"context"
	"testing"
	"time"

	"multiplayer-quiz-service/internal/domain"
)

func TestBrokerFansOutPerSession(t *testing.T) {
	b := NewBroker(4)
	a, cancelA := b.Subscribe("s1")
	defer cancelA()
	other, cancelOther := b.Subscribe("s2")
	defer cancelOther()

	b.Publish(context.Background(), domain.SessionChanged(domain.Session{ID: "s1", Version: 2}, time.Now()))

	select {
	case p := <-a:
		if p.Version != 2 {
			t.Fatalf("expected version 2, got %d", p.Version)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected patch for s1")
	}
	select {
	case p := <-other:
		t.Fatalf("unexpected patch for s2: %+v", p)
	default:
	}
}

func TestBrokerDropsOldestWhenFull(t *testing.T) {
	b := NewBroker(2)
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	for v := int64(1); v <= 3; v++ {
		b.Publish(context.Background(), domain.SessionChanged(domain.Session{ID: "s1", Version: v}, time.Now()))
	}
	first := <-ch
	second := <-ch
	if first.Version != 2 || second.Version != 3 {
		t.Fatalf("expected versions 2,3 got %d,%d", first.Version, second.Version)
	}
}

func TestBrokerTerminationClosesSubscribers(t *testing.T) {
	b := NewBroker(4)
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	b.Publish(context.Background(), domain.Terminated("s1", time.Now()))

	p, ok := <-ch
	if !ok || p.Kind != domain.PatchTerminated {
		t.Fatalf("expected terminated patch, got %+v ok=%v", p, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after termination")
	}
	if b.SubscriberCount("s1") != 0 {
		t.Fatalf("expected no subscribers left")
	}

	// late publish is dropped, late subscribe sees the termination
	b.Publish(context.Background(), domain.SessionChanged(domain.Session{ID: "s1", Version: 9}, time.Now()))
	late, lateCancel := b.Subscribe("s1")
	defer lateCancel()
	p, ok = <-late
	if !ok || p.Kind != domain.PatchTerminated {
		t.Fatalf("expected terminated patch for late subscriber, got %+v", p)
	}
}

func TestBrokerCancelUnsubscribes(t *testing.T) {
	b := NewBroker(4)
	_, cancel := b.Subscribe("s1")
	if b.SubscriberCount("s1") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	cancel()
	if b.SubscriberCount("s1") != 0 {
		t.Fatalf("expected subscriber removed")
	}
}
