package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/acl"
	"github.com/FURTHER237/FrameTruth/internal/audit"
	"github.com/FURTHER237/FrameTruth/internal/authz"
	"github.com/FURTHER237/FrameTruth/internal/ids"
	"github.com/FURTHER237/FrameTruth/internal/obs"
)

// Resolver adapts a registry Store to the authorization engine's view of
// files.
type Resolver struct {
	store Store
}

var _ authz.FileResolver = (*Resolver)(nil)

// NewResolver wraps a registry store.
func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

func (r *Resolver) ResolveFile(ctx context.Context, id string) (authz.FileInfo, error) {
	f, err := r.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUnknownFile) {
			return authz.FileInfo{}, fmt.Errorf("%w: %s", authz.ErrUnknownFile, id)
		}
		return authz.FileInfo{}, err
	}
	return authz.FileInfo{ID: f.ID, OwnerID: f.OwnerID}, nil
}

// Manager orchestrates evidence operations: it asks the authorization engine
// for a decision, performs the blob and registry work, then records the real
// outcome in the audit ledger. Every path through a Manager method ends in an
// audit append; mutations that cannot be audited fail.
type Manager struct {
	registry Store
	blobs    BlobStore
	engine   *authz.Engine
	table    acl.Table
	ledger   audit.Ledger
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides the time source.
func WithManagerClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager wires a manager over its collaborators.
func NewManager(registry Store, blobs BlobStore, engine *authz.Engine, table acl.Table, ledger audit.Ledger, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: registry,
		blobs:    blobs,
		engine:   engine,
		table:    table,
		ledger:   ledger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) record(ctx context.Context, actor, fileID string, action audit.Action, outcome audit.Outcome, md map[string]string) error {
	_, err := m.ledger.Append(ctx, audit.Entry{
		Actor:    actor,
		FileID:   fileID,
		Action:   action,
		Outcome:  outcome,
		Metadata: md,
	})
	if err == nil {
		obs.ObserveAppend(string(action), string(outcome))
	}
	return err
}

// authorize runs a check and audits a deny. The generic ErrNotAuthorized is
// returned on deny so callers cannot tell a missing grant from a missing
// file.
func (m *Manager) authorize(ctx context.Context, actor, fileID string, required acl.Level, action audit.Action) (authz.Decision, error) {
	d, err := m.engine.Check(ctx, actor, fileID, required)
	if err != nil {
		return d, err
	}
	if !d.Allowed() {
		if aerr := m.record(ctx, actor, fileID, action, audit.OutcomeDeny, d.Metadata()); aerr != nil {
			return d, aerr
		}
		return d, ErrNotAuthorized
	}
	return d, nil
}

// Upload stores new evidence owned by ownerID. The owner must resolve to an
// active principal; content is hashed while it is written so the registry row
// carries the digest of exactly the stored bytes.
func (m *Manager) Upload(ctx context.Context, ownerID, filename string, r io.Reader) (File, error) {
	id := ids.New()
	ref := ownerID + "/" + id + "_" + SanitizeFilename(filename)

	sha, size, err := m.blobs.Put(ctx, ref, r)
	if err != nil {
		if aerr := m.record(ctx, ownerID, id, audit.ActionUpload, audit.OutcomeError, map[string]string{"error": err.Error()}); aerr != nil {
			return File{}, aerr
		}
		return File{}, err
	}

	f := File{
		ID:         id,
		OwnerID:    ownerID,
		Filename:   SanitizeFilename(filename),
		ContentRef: ref,
		SHA256:     sha,
		Size:       size,
		CreatedAt:  m.now(),
	}
	if err := m.registry.Create(ctx, f); err != nil {
		_ = m.blobs.Delete(ctx, ref)
		if aerr := m.record(ctx, ownerID, id, audit.ActionUpload, audit.OutcomeError, map[string]string{"error": err.Error()}); aerr != nil {
			return File{}, aerr
		}
		return File{}, err
	}

	md := map[string]string{
		"filename": f.Filename,
		"sha256":   f.SHA256,
		"size":     strconv.FormatInt(f.Size, 10),
	}
	if err := m.record(ctx, ownerID, id, audit.ActionUpload, audit.OutcomeAllow, md); err != nil {
		return File{}, err
	}
	return f, nil
}

// View returns file metadata after a read-level check.
func (m *Manager) View(ctx context.Context, actorID, fileID string) (File, error) {
	d, err := m.authorize(ctx, actorID, fileID, acl.LevelRead, audit.ActionView)
	if err != nil {
		return File{}, err
	}
	f, err := m.registry.Find(ctx, fileID)
	if err != nil {
		if aerr := m.record(ctx, actorID, fileID, audit.ActionView, audit.OutcomeError, map[string]string{"error": err.Error()}); aerr != nil {
			return File{}, aerr
		}
		return File{}, err
	}
	if err := m.record(ctx, actorID, fileID, audit.ActionView, audit.OutcomeAllow, d.Metadata()); err != nil {
		return File{}, err
	}
	return f, nil
}

// Download opens the file content after a read-level check. The access is
// audited before the reader is handed out; the caller owns closing it.
func (m *Manager) Download(ctx context.Context, actorID, fileID string) (File, io.ReadCloser, error) {
	d, err := m.authorize(ctx, actorID, fileID, acl.LevelRead, audit.ActionDownload)
	if err != nil {
		return File{}, nil, err
	}
	f, err := m.registry.Find(ctx, fileID)
	if err != nil {
		if aerr := m.record(ctx, actorID, fileID, audit.ActionDownload, audit.OutcomeError, map[string]string{"error": err.Error()}); aerr != nil {
			return File{}, nil, aerr
		}
		return File{}, nil, err
	}
	rc, err := m.blobs.Open(ctx, f.ContentRef)
	if err != nil {
		if aerr := m.record(ctx, actorID, fileID, audit.ActionDownload, audit.OutcomeError, map[string]string{"error": err.Error()}); aerr != nil {
			return File{}, nil, aerr
		}
		return File{}, nil, err
	}
	if err := m.record(ctx, actorID, fileID, audit.ActionDownload, audit.OutcomeAllow, d.Metadata()); err != nil {
		rc.Close()
		return File{}, nil, err
	}
	return f, rc, nil
}

// Delete removes a file's registry row and bytes. Requires admin-level
// access on the file; the audit record is the only trace that remains.
func (m *Manager) Delete(ctx context.Context, actorID, fileID string) error {
	d, err := m.authorize(ctx, actorID, fileID, acl.LevelAdmin, audit.ActionDelete)
	if err != nil {
		return err
	}
	f, err := m.registry.Find(ctx, fileID)
	if err != nil {
		if aerr := m.record(ctx, actorID, fileID, audit.ActionDelete, audit.OutcomeError, map[string]string{"error": err.Error()}); aerr != nil {
			return aerr
		}
		return err
	}
	if err := m.registry.Remove(ctx, fileID); err != nil {
		if aerr := m.record(ctx, actorID, fileID, audit.ActionDelete, audit.OutcomeError, map[string]string{"error": err.Error()}); aerr != nil {
			return aerr
		}
		return err
	}
	if err := m.blobs.Delete(ctx, f.ContentRef); err != nil {
		if aerr := m.record(ctx, actorID, fileID, audit.ActionDelete, audit.OutcomeError, map[string]string{"error": err.Error()}); aerr != nil {
			return aerr
		}
		return err
	}
	md := d.Metadata()
	md["filename"] = f.Filename
	return m.record(ctx, actorID, fileID, audit.ActionDelete, audit.OutcomeAllow, md)
}

// Share grants a level on a file to another principal. The grant goes
// through the engine's admin check; both the deny and the allow are audited.
func (m *Manager) Share(ctx context.Context, actorID, fileID, granteeID string, level acl.Level, expiresAt *time.Time) (acl.Grant, error) {
	g, d, err := m.engine.Grant(ctx, actorID, fileID, granteeID, level, expiresAt)
	if err != nil {
		if errors.Is(err, authz.ErrNotAuthorized) {
			md := d.Metadata()
			md["grantee"] = granteeID
			md["level"] = string(level)
			if aerr := m.record(ctx, actorID, fileID, audit.ActionGrant, audit.OutcomeDeny, md); aerr != nil {
				return acl.Grant{}, aerr
			}
			return acl.Grant{}, ErrNotAuthorized
		}
		return acl.Grant{}, err
	}

	md := d.Metadata()
	md["grantee"] = granteeID
	md["level"] = string(level)
	if expiresAt != nil {
		md["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	if err := m.record(ctx, actorID, fileID, audit.ActionGrant, audit.OutcomeAllow, md); err != nil {
		return acl.Grant{}, err
	}
	return g, nil
}

// Revoke removes a grant. Revoking a grant that never existed still succeeds
// and is still audited as a REVOKE with outcome ALLOW.
func (m *Manager) Revoke(ctx context.Context, actorID, fileID, granteeID string, level acl.Level) error {
	removed, d, err := m.engine.Revoke(ctx, actorID, fileID, granteeID, level)
	if err != nil {
		if errors.Is(err, authz.ErrNotAuthorized) {
			md := d.Metadata()
			md["grantee"] = granteeID
			md["level"] = string(level)
			if aerr := m.record(ctx, actorID, fileID, audit.ActionRevoke, audit.OutcomeDeny, md); aerr != nil {
				return aerr
			}
			return ErrNotAuthorized
		}
		return err
	}

	md := d.Metadata()
	md["grantee"] = granteeID
	md["level"] = string(level)
	md["removed"] = strconv.FormatBool(removed)
	return m.record(ctx, actorID, fileID, audit.ActionRevoke, audit.OutcomeAllow, md)
}

// ListOwned returns the actor's own files. No audit record: listing one's
// own registry rows reveals nothing another principal controls.
func (m *Manager) ListOwned(ctx context.Context, actorID string) ([]File, error) {
	return m.registry.ListByOwner(ctx, actorID)
}

// ListSharedWith returns files the actor holds an active grant on. Expired
// grants do not surface here; content access through View/Download is audited
// per file.
func (m *Manager) ListSharedWith(ctx context.Context, actorID string) ([]File, error) {
	grants, err := m.table.GrantsForGrantee(ctx, actorID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	seen := make(map[string]bool)
	var out []File
	for _, g := range grants {
		if !g.ActiveAt(now) || seen[g.FileID] {
			continue
		}
		seen[g.FileID] = true
		f, err := m.registry.Find(ctx, g.FileID)
		if err != nil {
			// The file may have been deleted since the grant was made.
			if errors.Is(err, ErrUnknownFile) {
				continue
			}
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Grants lists every stored grant on a file, expired ones included. Requires
// admin-level access on the file.
func (m *Manager) Grants(ctx context.Context, actorID, fileID string) ([]acl.Grant, error) {
	d, err := m.engine.Check(ctx, actorID, fileID, acl.LevelAdmin)
	if err != nil {
		return nil, err
	}
	if !d.Allowed() {
		return nil, ErrNotAuthorized
	}
	return m.table.GrantsForFile(ctx, fileID)
}
