package audit

import (
	"context"
	"errors"
	"fmt"
)

// ErrIntegrity indicates the verifier found a hash or sequence mismatch.
// It is never auto-repaired; the chain up to the break point remains
// readable and exportable.
var ErrIntegrity = errors.New("audit: integrity violation")

// Source is the read-only surface the verifier needs. Every Ledger satisfies
// it.
type Source interface {
	Walk(ctx context.Context, fn func(Record) error) error
}

// Report is the verifier's verdict. BrokenAt is the sequence number of the
// first record that fails verification.
type Report struct {
	Valid    bool    `json:"valid"`
	Records  uint64  `json:"records"`
	BrokenAt *uint64 `json:"broken_at,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Err returns nil for a valid report and a wrapped ErrIntegrity otherwise.
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	if r.BrokenAt != nil {
		return fmt.Errorf("%w: at seq %d: %s", ErrIntegrity, *r.BrokenAt, r.Reason)
	}
	return fmt.Errorf("%w: %s", ErrIntegrity, r.Reason)
}

// errChainBroken stops the walk early once a break is found.
var errChainBroken = errors.New("chain broken")

// Verify replays the source from genesis, recomputing each record's hash
// from its stored fields and the previous record's stored hash. Only the
// running previous hash is kept, so memory use is O(1) in ledger length and
// arbitrarily long histories can be verified in a stream. An empty ledger is
// trivially valid.
func Verify(ctx context.Context, src Source) (Report, error) {
	report := Report{Valid: true}

	prevHash := GenesisHash
	var next uint64

	err := src.Walk(ctx, func(r Record) error {
		seq := r.Seq
		fail := func(reason string) error {
			report.Valid = false
			report.BrokenAt = &seq
			report.Reason = reason
			return errChainBroken
		}

		if r.Seq != next {
			return fail(fmt.Sprintf("sequence discontinuity: got %d, expected %d", r.Seq, next))
		}
		if r.PrevHash != prevHash {
			return fail(fmt.Sprintf("prev_hash mismatch: got %s, expected %s", r.PrevHash, prevHash))
		}
		if computed := ComputeHash(r); computed != r.Hash {
			return fail(fmt.Sprintf("record hash mismatch: stored %s, computed %s", r.Hash, computed))
		}

		prevHash = r.Hash
		next = r.Seq + 1
		report.Records = next
		return nil
	})
	if err != nil && !errors.Is(err, errChainBroken) {
		return Report{}, err
	}
	return report, nil
}
