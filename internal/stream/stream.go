package stream

import (
	"context"
	"sync"

	"github.com/FURTHER237/FrameTruth/internal/audit"
)

// Stream fan-outs freshly appended audit records to all active subscribers
// (SSE clients watching the ledger live).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan audit.Record
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan audit.Record)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// records. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan audit.Record {
	ch := make(chan audit.Record, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the record to all subscribers.
func (s *Stream) Publish(r audit.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- r:
		default:
			// Drop when subscriber is slow to avoid blocking appends.
		}
	}
}

// Tee wraps a ledger so every successful append is also published. Reads
// pass through untouched.
type Tee struct {
	audit.Ledger
	stream *Stream
}

// NewTee wires a publishing wrapper around a ledger.
func NewTee(l audit.Ledger, s *Stream) *Tee {
	return &Tee{Ledger: l, stream: s}
}

func (t *Tee) Append(ctx context.Context, e audit.Entry) (audit.Record, error) {
	r, err := t.Ledger.Append(ctx, e)
	if err != nil {
		return r, err
	}
	t.stream.Publish(r)
	return r, nil
}
