package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/acl"
)

// GrantTable implements acl.Table over Postgres. Upsert refresh and row
// uniqueness per (file, grantee, level) are enforced by the primary key and
// an on-conflict clause, so concurrent grants on the same tuple cannot
// duplicate.
type GrantTable struct {
	store *Store
}

var _ acl.Table = (*GrantTable)(nil)

func (s *Store) Grants() *GrantTable { return &GrantTable{store: s} }

const grantColumns = `file_id, grantee_id, level, granted_by, granted_at, expires_at`

func (t *GrantTable) Upsert(ctx context.Context, g acl.Grant) (acl.Grant, error) {
	if g.FileID == "" || g.GranteeID == "" {
		return acl.Grant{}, acl.ErrInvalidInput
	}
	if _, err := acl.ParseLevel(string(g.Level)); err != nil {
		return acl.Grant{}, err
	}

	row := t.store.db.QueryRowContext(ctx, `
		insert into acl_grants (`+grantColumns+`)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (file_id, grantee_id, level) do update
		set granted_by = excluded.granted_by,
		    expires_at = excluded.expires_at
		returning `+grantColumns+`
	`, g.FileID, g.GranteeID, string(g.Level), g.GrantedBy, g.GrantedAt, g.ExpiresAt)

	out, err := scanGrant(row)
	if err != nil {
		return acl.Grant{}, err
	}
	return out, nil
}

func (t *GrantTable) Delete(ctx context.Context, fileID, granteeID string, level acl.Level) (bool, error) {
	res, err := t.store.db.ExecContext(ctx, `
		delete from acl_grants
		where file_id = $1 and grantee_id = $2 and level = $3
	`, fileID, granteeID, string(level))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *GrantTable) ActiveGrants(ctx context.Context, fileID, granteeID string, now time.Time) ([]acl.Grant, error) {
	return t.query(ctx, `
		select `+grantColumns+` from acl_grants
		where file_id = $1 and grantee_id = $2
		  and (expires_at is null or expires_at > $3)
		order by level
	`, fileID, granteeID, now)
}

func (t *GrantTable) GrantsForFile(ctx context.Context, fileID string) ([]acl.Grant, error) {
	return t.query(ctx, `
		select `+grantColumns+` from acl_grants where file_id = $1
		union all
		select `+grantColumns+` from acl_grants_archive where file_id = $1
		order by grantee_id, level
	`, fileID)
}

func (t *GrantTable) GrantsForGrantee(ctx context.Context, granteeID string) ([]acl.Grant, error) {
	return t.query(ctx, `
		select `+grantColumns+` from acl_grants where grantee_id = $1
		union all
		select `+grantColumns+` from acl_grants_archive where grantee_id = $1
		order by file_id, level
	`, granteeID)
}

// Sweep moves expired rows to the archive table in one statement so history
// queries keep seeing what was granted.
func (t *GrantTable) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := t.store.db.ExecContext(ctx, `
		with moved as (
			delete from acl_grants
			where expires_at is not null and expires_at <= $1
			returning `+grantColumns+`
		)
		insert into acl_grants_archive (`+grantColumns+`)
		select `+grantColumns+` from moved
	`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (t *GrantTable) query(ctx context.Context, q string, args ...any) ([]acl.Grant, error) {
	rows, err := t.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []acl.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (acl.Grant, error) {
	var g acl.Grant
	var level string
	var expires sql.NullTime
	if err := row.Scan(&g.FileID, &g.GranteeID, &level, &g.GrantedBy, &g.GrantedAt, &expires); err != nil {
		return acl.Grant{}, err
	}
	g.Level = acl.Level(level)
	if expires.Valid {
		t := expires.Time
		g.ExpiresAt = &t
	}
	return g, nil
}
