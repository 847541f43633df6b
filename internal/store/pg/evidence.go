package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/FURTHER237/FrameTruth/internal/evidence"
)

// RegistryStore implements evidence.Store over Postgres.
type RegistryStore struct {
	store *Store
}

var _ evidence.Store = (*RegistryStore)(nil)

func (s *Store) Registry() *RegistryStore { return &RegistryStore{store: s} }

func (s *RegistryStore) Create(ctx context.Context, f evidence.File) error {
	if f.ID == "" || f.OwnerID == "" {
		return evidence.ErrInvalidInput
	}
	_, err := s.store.db.ExecContext(ctx, `
		insert into evidence_files (id, owner_id, filename, content_ref, sha256, size, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, f.ID, f.OwnerID, f.Filename, f.ContentRef, f.SHA256, f.Size, f.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return evidence.ErrAlreadyExists
		case pgErrForeignKeyViolation:
			return evidence.ErrInvalidInput
		}
	}
	return err
}

func (s *RegistryStore) Find(ctx context.Context, id string) (evidence.File, error) {
	var f evidence.File
	err := s.store.db.QueryRowContext(ctx, `
		select id, owner_id, filename, content_ref, sha256, size, created_at
		from evidence_files where id = $1
	`, id).Scan(&f.ID, &f.OwnerID, &f.Filename, &f.ContentRef, &f.SHA256, &f.Size, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return evidence.File{}, evidence.ErrUnknownFile
	}
	if err != nil {
		return evidence.File{}, err
	}
	return f, nil
}

func (s *RegistryStore) ListByOwner(ctx context.Context, ownerID string) ([]evidence.File, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		select id, owner_id, filename, content_ref, sha256, size, created_at
		from evidence_files where owner_id = $1 order by id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []evidence.File
	for rows.Next() {
		var f evidence.File
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Filename, &f.ContentRef, &f.SHA256, &f.Size, &f.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *RegistryStore) Remove(ctx context.Context, id string) error {
	res, err := s.store.db.ExecContext(ctx, `delete from evidence_files where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return evidence.ErrUnknownFile
	}
	return nil
}
