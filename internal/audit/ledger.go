package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrLedgerWrite means an append could not be persisted. The sequence
	// counter is not advanced; the caller must retry or escalate.
	ErrLedgerWrite = errors.New("audit: ledger write failed")

	ErrInvalidRange = errors.New("audit: invalid range")
)

// Entry carries the caller-supplied fields of a record. Sequence, timestamp
// and hashes are assigned by the ledger under its own lock.
type Entry struct {
	Actor    string
	FileID   string
	Action   Action
	Outcome  Outcome
	Metadata map[string]string
}

// Ledger is the append-only custody log. Append is the only mutation; there
// is no update or delete entry point, by construction rather than
// convention.
type Ledger interface {
	// Append assigns the next sequence number, chains the hash and
	// persists the record. Concurrent appends serialize into one unbroken
	// sequence.
	Append(ctx context.Context, e Entry) (Record, error)
	// ReadRange returns records with from <= seq < to, in order.
	ReadRange(ctx context.Context, from, to uint64) ([]Record, error)
	// Latest returns the newest record, if any.
	Latest(ctx context.Context) (Record, bool, error)
	// Walk streams every record from genesis in sequence order. Returning
	// an error from fn stops the walk and propagates the error.
	Walk(ctx context.Context, fn func(Record) error) error
}

// Option configures a ledger instance.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source (useful for deterministic tests).
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ClockFromOptions resolves the time source from a set of options, for
// ledger implementations living outside this package.
func ClockFromOptions(opts []Option) func() time.Time {
	return buildOptions(opts).now
}

// InMemory implements Ledger backed by a growing slice. Useful for tests and
// single-process deployments; durable variants live in FileLedger and the
// Postgres store.
type InMemory struct {
	mu      sync.RWMutex
	now     func() time.Time
	records []Record
}

var _ Ledger = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory(opts ...Option) *InMemory {
	o := buildOptions(opts)
	return &InMemory{now: o.now}
}

func (l *InMemory) Append(ctx context.Context, e Entry) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := GenesisHash
	if n := len(l.records); n > 0 {
		prev = l.records[n-1].Hash
	}
	r := Record{
		Seq:       uint64(len(l.records)),
		Timestamp: l.now().UTC(),
		Actor:     e.Actor,
		FileID:    e.FileID,
		Action:    e.Action,
		Outcome:   e.Outcome,
		Metadata:  cloneMetadata(e.Metadata),
		PrevHash:  prev,
	}
	r.Hash = ComputeHash(r)
	l.records = append(l.records, r)
	return cloneRecord(r), nil
}

func (l *InMemory) ReadRange(ctx context.Context, from, to uint64) ([]Record, error) {
	if to < from {
		return nil, fmt.Errorf("%w: from=%d to=%d", ErrInvalidRange, from, to)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := uint64(len(l.records))
	if from >= n {
		return nil, nil
	}
	if to > n {
		to = n
	}
	out := make([]Record, 0, to-from)
	for _, r := range l.records[from:to] {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (l *InMemory) Latest(ctx context.Context) (Record, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return Record{}, false, nil
	}
	return cloneRecord(l.records[len(l.records)-1]), true, nil
}

func (l *InMemory) Walk(ctx context.Context, fn func(Record) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(cloneRecord(r)); err != nil {
			return err
		}
	}
	return nil
}
