package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/audit"
)

// AuditLedger implements audit.Ledger over Postgres. Appends serialize on a
// table lock so sequence numbers form one unbroken chain even across
// processes; a database trigger additionally rejects UPDATE and DELETE on
// the table, so append stays the only mutation by construction.
type AuditLedger struct {
	store *Store
	now   func() time.Time
}

var _ audit.Ledger = (*AuditLedger)(nil)

func (s *Store) Audit(opts ...audit.Option) *AuditLedger {
	return &AuditLedger{store: s, now: audit.ClockFromOptions(opts)}
}

const auditColumns = `seq, ts, actor, file_id, action, outcome, metadata, prev_hash, record_hash`

func (l *AuditLedger) Append(ctx context.Context, e audit.Entry) (audit.Record, error) {
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.Record{}, fmt.Errorf("%w: %v", audit.ErrLedgerWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	// Exclusive append lock; readers are unaffected.
	if _, err := tx.ExecContext(ctx, `lock table audit_records in share row exclusive mode`); err != nil {
		return audit.Record{}, fmt.Errorf("%w: %v", audit.ErrLedgerWrite, err)
	}

	var (
		seq  uint64
		prev = audit.GenesisHash
	)
	var lastSeq sql.NullInt64
	var lastHash sql.NullString
	err = tx.QueryRowContext(ctx, `
		select seq, record_hash from audit_records order by seq desc limit 1
	`).Scan(&lastSeq, &lastHash)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return audit.Record{}, fmt.Errorf("%w: %v", audit.ErrLedgerWrite, err)
	default:
		seq = uint64(lastSeq.Int64) + 1
		prev = lastHash.String
	}

	// Postgres keeps microsecond precision; truncate before hashing so the
	// stored timestamp recomputes to the same digest.
	r := audit.Record{
		Seq:       seq,
		Timestamp: l.now().UTC().Truncate(time.Microsecond),
		Actor:     e.Actor,
		FileID:    e.FileID,
		Action:    e.Action,
		Outcome:   e.Outcome,
		Metadata:  e.Metadata,
		PrevHash:  prev,
	}
	r.Hash = audit.ComputeHash(r)

	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return audit.Record{}, fmt.Errorf("%w: %v", audit.ErrLedgerWrite, err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into audit_records (`+auditColumns+`)
		values ($1, $2, nullif($3, ''), nullif($4, ''), $5, $6, $7, $8, $9)
	`, r.Seq, r.Timestamp, r.Actor, r.FileID, string(r.Action), string(r.Outcome), meta, r.PrevHash, r.Hash); err != nil {
		return audit.Record{}, fmt.Errorf("%w: %v", audit.ErrLedgerWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return audit.Record{}, fmt.Errorf("%w: %v", audit.ErrLedgerWrite, err)
	}
	return r, nil
}

func (l *AuditLedger) ReadRange(ctx context.Context, from, to uint64) ([]audit.Record, error) {
	if to < from {
		return nil, fmt.Errorf("%w: from=%d to=%d", audit.ErrInvalidRange, from, to)
	}
	rows, err := l.store.db.QueryContext(ctx, `
		select `+auditColumns+` from audit_records
		where seq >= $1 and seq < $2
		order by seq asc
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Record
	for rows.Next() {
		r, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (l *AuditLedger) Latest(ctx context.Context) (audit.Record, bool, error) {
	rows, err := l.store.db.QueryContext(ctx, `
		select `+auditColumns+` from audit_records order by seq desc limit 1
	`)
	if err != nil {
		return audit.Record{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return audit.Record{}, false, rows.Err()
	}
	r, err := scanAuditRecord(rows)
	if err != nil {
		return audit.Record{}, false, err
	}
	return r, true, nil
}

// Walk streams in fixed-size batches so verification of a long history does
// not hold the whole table in memory.
func (l *AuditLedger) Walk(ctx context.Context, fn func(audit.Record) error) error {
	const batch = 1000
	var after uint64
	first := true
	for {
		rows, err := l.store.db.QueryContext(ctx, `
			select `+auditColumns+` from audit_records
			where $1::boolean or seq > $2
			order by seq asc
			limit $3
		`, first, after, batch)
		if err != nil {
			return err
		}

		n := 0
		for rows.Next() {
			r, err := scanAuditRecord(rows)
			if err != nil {
				rows.Close()
				return err
			}
			if err := fn(r); err != nil {
				rows.Close()
				return err
			}
			after = r.Seq
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if n < batch {
			return nil
		}
		first = false
	}
}

func scanAuditRecord(row rowScanner) (audit.Record, error) {
	var (
		r       audit.Record
		actor   sql.NullString
		fileID  sql.NullString
		action  string
		outcome string
		meta    []byte
	)
	if err := row.Scan(&r.Seq, &r.Timestamp, &actor, &fileID, &action, &outcome, &meta, &r.PrevHash, &r.Hash); err != nil {
		return audit.Record{}, err
	}
	r.Timestamp = r.Timestamp.UTC()
	r.Actor = actor.String
	r.FileID = fileID.String
	r.Action = audit.Action(action)
	r.Outcome = audit.Outcome(outcome)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return audit.Record{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return r, nil
}
