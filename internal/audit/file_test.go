package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLedgerAppendAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.jsonl")
	l, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer l.Close()

	appendN(t, l, 20)

	report, err := Verify(context.Background(), l)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Valid || report.Records != 20 {
		t.Fatalf("expected 20 valid records: %+v", report)
	}
}

func TestFileLedgerReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.jsonl")

	l, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	appendN(t, l, 5)
	last, ok, _ := l.Latest(context.Background())
	if !ok {
		t.Fatal("expected latest record")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	r, err := reopened.Append(context.Background(), Entry{Action: ActionAdmin, Outcome: OutcomeAllow})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if r.Seq != 5 {
		t.Fatalf("sequence did not continue: got %d", r.Seq)
	}
	if r.PrevHash != last.Hash {
		t.Fatalf("chain did not continue across reopen")
	}

	report, err := Verify(context.Background(), reopened)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Valid || report.Records != 6 {
		t.Fatalf("expected 6 valid records across reopen: %+v", report)
	}
}

func TestFileLedgerDetectsOnDiskTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.jsonl")
	l, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	appendN(t, l, 10)
	l.Close()

	// Flip a stored outcome directly in the file, the way an attacker with
	// filesystem access would.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	lines[4] = strings.Replace(lines[4], `"outcome":"ALLOW"`, `"outcome":"DENY"`, 1)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write tampered file: %v", err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen tampered: %v", err)
	}
	defer reopened.Close()

	report, err := Verify(context.Background(), reopened)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Valid {
		t.Fatal("tampered file passed verification")
	}
	if report.BrokenAt == nil || *report.BrokenAt != 4 {
		t.Fatalf("wrong break point: %+v", report)
	}
	if !errors.Is(report.Err(), ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", report.Err())
	}

	// The chain up to the break point stays exportable.
	head, err := reopened.ReadRange(context.Background(), 0, 4)
	if err != nil {
		t.Fatalf("ReadRange before break: %v", err)
	}
	if len(head) != 4 {
		t.Fatalf("expected 4 exportable records, got %d", len(head))
	}
}

func TestFileLedgerFailedWriteRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.jsonl")
	l, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	appendN(t, l, 3)

	// Closing the handle makes the next write fail; the rollback then also
	// fails, which must latch the failed state rather than leave a gap.
	l.f.Close()
	if _, err := l.Append(context.Background(), Entry{Action: ActionView, Outcome: OutcomeAllow}); !errors.Is(err, ErrLedgerWrite) {
		t.Fatalf("expected ErrLedgerWrite, got %v", err)
	}
	if _, err := l.Append(context.Background(), Entry{Action: ActionView, Outcome: OutcomeAllow}); !errors.Is(err, ErrLedgerWrite) {
		t.Fatalf("failed ledger must keep rejecting appends, got %v", err)
	}

	// The persisted records survive intact and gapless.
	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	report, err := Verify(context.Background(), reopened)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Valid || report.Records != 3 {
		t.Fatalf("expected 3 intact records after failure: %+v", report)
	}
}

func TestFileLedgerRejectsCorruptRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.jsonl")
	if err := os.WriteFile(path, []byte("not json\n"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Fatal("expected recovery to fail on corrupt file")
	}
}
