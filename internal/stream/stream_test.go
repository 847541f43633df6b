package stream

import (
	"context"
	"testing"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/audit"
)

func TestSubscribePublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	s.Publish(audit.Record{Seq: 7, Action: audit.ActionView})

	select {
	case r := <-ch:
		if r.Seq != 7 {
			t.Fatalf("got seq %d, want 7", r.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("no record delivered")
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel never closed after cancel")
		}
	}
}

func TestTeePublishesAppends(t *testing.T) {
	s := New()
	ledger := NewTee(audit.NewInMemory(), s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	r, err := ledger.Append(context.Background(), audit.Entry{
		Actor:   "admin1",
		Action:  audit.ActionAdmin,
		Outcome: audit.OutcomeAllow,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case got := <-ch:
		if got.Hash != r.Hash {
			t.Fatalf("published record differs from appended one")
		}
	case <-time.After(time.Second):
		t.Fatal("append not published")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Subscribe(ctx) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(audit.Record{Seq: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
