package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/identity"
)

// IdentityStore implements identity.Store over Postgres.
type IdentityStore struct {
	store *Store
}

var _ identity.Store = (*IdentityStore)(nil)

func (s *Store) Identity() *IdentityStore { return &IdentityStore{store: s} }

func (s *IdentityStore) Create(ctx context.Context, p identity.Principal) error {
	if p.ID == "" || p.Username == "" {
		return identity.ErrInvalidInput
	}
	_, err := s.store.db.ExecContext(ctx, `
		insert into users (id, username, role, status, password_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Username, string(p.Role), p.Status, p.PasswordHash, p.CreatedAt, p.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return identity.ErrAlreadyExists
	}
	return err
}

func (s *IdentityStore) Resolve(ctx context.Context, id string) (identity.Principal, error) {
	return s.scanOne(s.store.db.QueryRowContext(ctx, `
		select id, username, role, status, password_hash, created_at, updated_at
		from users where id = $1
	`, id))
}

func (s *IdentityStore) FindByUsername(ctx context.Context, username string) (identity.Principal, error) {
	return s.scanOne(s.store.db.QueryRowContext(ctx, `
		select id, username, role, status, password_hash, created_at, updated_at
		from users where username = $1
	`, username))
}

func (s *IdentityStore) scanOne(row *sql.Row) (identity.Principal, error) {
	var p identity.Principal
	var role string
	err := row.Scan(&p.ID, &p.Username, &role, &p.Status, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Principal{}, identity.ErrUnknownPrincipal
	}
	if err != nil {
		return identity.Principal{}, err
	}
	p.Role = identity.Role(role)
	return p, nil
}

func (s *IdentityStore) List(ctx context.Context) ([]identity.Principal, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		select id, username, role, status, password_hash, created_at, updated_at
		from users order by username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Principal
	for rows.Next() {
		var p identity.Principal
		var role string
		if err := rows.Scan(&p.ID, &p.Username, &role, &p.Status, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Role = identity.Role(role)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *IdentityStore) SetRole(ctx context.Context, id string, role identity.Role) error {
	return s.update(ctx, `update users set role = $2, updated_at = $3 where id = $1`, id, string(role))
}

func (s *IdentityStore) Deactivate(ctx context.Context, id string) error {
	return s.update(ctx, `update users set status = $2, updated_at = $3 where id = $1`, id, identity.StatusDisabled)
}

func (s *IdentityStore) update(ctx context.Context, query, id string, value any) error {
	res, err := s.store.db.ExecContext(ctx, query, id, value, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrUnknownPrincipal
	}
	return nil
}
