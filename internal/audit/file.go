package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FileLedger is a Ledger persisted as one JSON record per line in an
// append-only file. On open it replays the existing tail to recover the next
// sequence number and running hash, so a reopened ledger continues the same
// chain.
//
// Failure semantics: if a write fails mid-append the file is truncated back
// to its pre-append offset and the sequence reservation is rolled back. If
// the truncate itself fails the instance enters a failed state and every
// later append returns ErrLedgerWrite; a damaged tail must be inspected by
// an operator, never papered over.
type FileLedger struct {
	mu     sync.RWMutex
	f      *os.File
	path   string
	now    func() time.Time
	next   uint64
	prev   string
	size   int64
	failed bool
}

var _ Ledger = (*FileLedger)(nil)

// OpenFile opens or creates a file-backed ledger at path.
func OpenFile(path string, opts ...Option) (*FileLedger, error) {
	o := buildOptions(opts)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	l := &FileLedger{f: f, path: path, now: o.now, prev: GenesisHash}
	if err := l.recover(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// recover replays the stored records to restore next/prev/size.
func (l *FileLedger) recover() error {
	r, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("recover ledger %s: %w", l.path, err)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("recover ledger %s: corrupt line after seq %d: %w", l.path, l.next, err)
		}
		if rec.Seq != l.next {
			return fmt.Errorf("recover ledger %s: sequence discontinuity at %d (expected %d)", l.path, rec.Seq, l.next)
		}
		l.next = rec.Seq + 1
		l.prev = rec.Hash
		l.size += int64(len(line)) + 1
	}
	return scanner.Err()
}

// Close releases the underlying file handle.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func (l *FileLedger) Append(ctx context.Context, e Entry) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failed {
		return Record{}, fmt.Errorf("%w: ledger %s is in failed state", ErrLedgerWrite, l.path)
	}

	r := Record{
		Seq:       l.next,
		Timestamp: l.now().UTC(),
		Actor:     e.Actor,
		FileID:    e.FileID,
		Action:    e.Action,
		Outcome:   e.Outcome,
		Metadata:  cloneMetadata(e.Metadata),
		PrevHash:  l.prev,
	}
	r.Hash = ComputeHash(r)

	line, err := json.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	line = append(line, '\n')

	if _, err := l.f.Write(line); err != nil {
		l.rollback()
		return Record{}, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if err := l.f.Sync(); err != nil {
		l.rollback()
		return Record{}, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	l.size += int64(len(line))
	l.next = r.Seq + 1
	l.prev = r.Hash
	return cloneRecord(r), nil
}

// rollback restores the pre-append file length so the reserved sequence
// number is released instead of leaving a silent gap. Called with mu held.
func (l *FileLedger) rollback() {
	if err := l.f.Truncate(l.size); err != nil {
		l.failed = true
	}
}

func (l *FileLedger) ReadRange(ctx context.Context, from, to uint64) ([]Record, error) {
	if to < from {
		return nil, fmt.Errorf("%w: from=%d to=%d", ErrInvalidRange, from, to)
	}
	var out []Record
	err := l.Walk(ctx, func(r Record) error {
		if r.Seq >= to {
			return io.EOF
		}
		if r.Seq >= from {
			out = append(out, r)
		}
		return nil
	})
	if err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}

func (l *FileLedger) Latest(ctx context.Context) (Record, bool, error) {
	l.mu.RLock()
	if l.next == 0 {
		l.mu.RUnlock()
		return Record{}, false, nil
	}
	last := l.next - 1
	l.mu.RUnlock()

	recs, err := l.ReadRange(ctx, last, last+1)
	if err != nil {
		return Record{}, false, err
	}
	if len(recs) == 0 {
		return Record{}, false, nil
	}
	return recs[0], true, nil
}

// Walk streams records from a separate read handle, holding the read lock so
// a concurrent append cannot expose a partially written tail line.
func (l *FileLedger) Walk(ctx context.Context, fn func(Record) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("walk ledger %s: %w", l.path, err)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("walk ledger %s: corrupt record: %w", l.path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}
