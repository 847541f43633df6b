package evidence

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FURTHER237/FrameTruth/internal/acl"
	"github.com/FURTHER237/FrameTruth/internal/audit"
	"github.com/FURTHER237/FrameTruth/internal/authz"
	"github.com/FURTHER237/FrameTruth/internal/identity"
)

type world struct {
	manager *Manager
	ids     *identity.InMemory
	table   *acl.InMemory
	ledger  *audit.InMemory
	now     time.Time
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		ids:   identity.NewInMemory(),
		table: acl.NewInMemory(),
		now:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return w.now }
	w.ledger = audit.NewInMemory(audit.WithClock(clock))

	registry := NewInMemory()
	blobs, err := NewFSBlobStore(t.TempDir())
	require.NoError(t, err)

	engine := authz.NewEngine(w.ids, NewResolver(registry), w.table, authz.WithClock(clock))
	w.manager = NewManager(registry, blobs, engine, w.table, w.ledger, WithManagerClock(clock))
	return w
}

func (w *world) addPrincipal(t *testing.T, id string, role identity.Role) {
	t.Helper()
	err := w.ids.Create(context.Background(), identity.Principal{
		ID: id, Username: id, Role: role, Status: identity.StatusActive,
	})
	require.NoError(t, err)
}

func (w *world) auditTrail(t *testing.T) []audit.Record {
	t.Helper()
	var out []audit.Record
	err := w.ledger.Walk(context.Background(), func(r audit.Record) error {
		out = append(out, r)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)

	f, err := w.manager.Upload(context.Background(), "owner1", "scene.jpg", strings.NewReader("pixels"))
	require.NoError(t, err)
	assert.Equal(t, "owner1", f.OwnerID)
	assert.Equal(t, "scene.jpg", f.Filename)
	assert.Equal(t, int64(6), f.Size)
	assert.NotEmpty(t, f.SHA256)

	got, rc, err := w.manager.Download(context.Background(), "owner1", f.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(body))
	assert.Equal(t, f.SHA256, got.SHA256)

	trail := w.auditTrail(t)
	require.Len(t, trail, 2)
	assert.Equal(t, audit.ActionUpload, trail[0].Action)
	assert.Equal(t, audit.ActionDownload, trail[1].Action)
	assert.Equal(t, audit.OutcomeAllow, trail[1].Outcome)
	assert.Equal(t, "owner", trail[1].Metadata["basis"])
}

func TestShareExpiryScenario(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)
	w.addPrincipal(t, "reader1", identity.RoleUser)

	f, err := w.manager.Upload(context.Background(), "owner1", "f1.mp4", strings.NewReader("frames"))
	require.NoError(t, err)

	exp := w.now.Add(time.Hour)
	_, err = w.manager.Share(context.Background(), "owner1", f.ID, "reader1", acl.LevelRead, &exp)
	require.NoError(t, err)

	_, err = w.manager.View(context.Background(), "reader1", f.ID)
	require.NoError(t, err)

	err = w.manager.Delete(context.Background(), "reader1", f.ID)
	require.ErrorIs(t, err, ErrNotAuthorized)

	w.now = w.now.Add(2 * time.Hour)
	_, err = w.manager.View(context.Background(), "reader1", f.ID)
	require.ErrorIs(t, err, ErrNotAuthorized)

	trail := w.auditTrail(t)
	// upload, grant, view allow, delete deny, view deny
	require.Len(t, trail, 5)
	assert.Equal(t, audit.OutcomeAllow, trail[2].Outcome)
	assert.Equal(t, "grant", trail[2].Metadata["basis"])
	assert.Equal(t, audit.OutcomeDeny, trail[3].Outcome)
	assert.Equal(t, audit.OutcomeDeny, trail[4].Outcome)
}

func TestAdminOverrideFlaggedInAudit(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner2", identity.RoleUser)
	w.addPrincipal(t, "admin1", identity.RoleAdmin)

	f, err := w.manager.Upload(context.Background(), "owner2", "f2.png", strings.NewReader("data"))
	require.NoError(t, err)

	_, err = w.manager.View(context.Background(), "admin1", f.ID)
	require.NoError(t, err)

	trail := w.auditTrail(t)
	last := trail[len(trail)-1]
	assert.Equal(t, audit.ActionView, last.Action)
	assert.Equal(t, audit.OutcomeAllow, last.Outcome)
	assert.Equal(t, "override", last.Metadata["basis"])
}

func TestRevokeAuditedEvenWhenNoop(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)
	w.addPrincipal(t, "reader1", identity.RoleUser)

	f, err := w.manager.Upload(context.Background(), "owner1", "f1.bin", strings.NewReader("x"))
	require.NoError(t, err)

	err = w.manager.Revoke(context.Background(), "owner1", f.ID, "reader1", acl.LevelRead)
	require.NoError(t, err)

	trail := w.auditTrail(t)
	last := trail[len(trail)-1]
	assert.Equal(t, audit.ActionRevoke, last.Action)
	assert.Equal(t, audit.OutcomeAllow, last.Outcome)
	assert.Equal(t, "false", last.Metadata["removed"])
}

func TestDeleteRemovesBytesAndRow(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)

	f, err := w.manager.Upload(context.Background(), "owner1", "gone.txt", strings.NewReader("bye"))
	require.NoError(t, err)

	require.NoError(t, w.manager.Delete(context.Background(), "owner1", f.ID))

	_, err = w.manager.View(context.Background(), "owner1", f.ID)
	require.ErrorIs(t, err, authz.ErrUnknownFile)

	owned, err := w.manager.ListOwned(context.Background(), "owner1")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestUnknownActorIsError(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)

	f, err := w.manager.Upload(context.Background(), "owner1", "f.txt", strings.NewReader("y"))
	require.NoError(t, err)

	_, err = w.manager.View(context.Background(), "ghost", f.ID)
	require.ErrorIs(t, err, identity.ErrUnknownPrincipal)
}

func TestUnloggedAccessObservable(t *testing.T) {
	// A collaborator that bypasses the manager leaves no trace. The
	// discrepancy shows up as an action count mismatch against the ledger,
	// which is exactly what reviewers reconcile.
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)

	f, err := w.manager.Upload(context.Background(), "owner1", "f.txt", strings.NewReader("z"))
	require.NoError(t, err)

	// Two audited views plus one direct registry read behind the
	// manager's back.
	for i := 0; i < 2; i++ {
		_, err = w.manager.View(context.Background(), "owner1", f.ID)
		require.NoError(t, err)
	}
	_, err = w.manager.registry.Find(context.Background(), f.ID)
	require.NoError(t, err)

	views := 0
	for _, r := range w.auditTrail(t) {
		if r.Action == audit.ActionView {
			views++
		}
	}
	assert.Equal(t, 2, views, "ledger only sees accesses routed through the manager")
}

func TestShareDeniedForStranger(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)
	w.addPrincipal(t, "stranger", identity.RoleUser)
	w.addPrincipal(t, "reader1", identity.RoleUser)

	f, err := w.manager.Upload(context.Background(), "owner1", "f.txt", strings.NewReader("w"))
	require.NoError(t, err)

	_, err = w.manager.Share(context.Background(), "stranger", f.ID, "reader1", acl.LevelRead, nil)
	require.ErrorIs(t, err, ErrNotAuthorized)

	trail := w.auditTrail(t)
	last := trail[len(trail)-1]
	assert.Equal(t, audit.ActionGrant, last.Action)
	assert.Equal(t, audit.OutcomeDeny, last.Outcome)
	assert.Equal(t, "reader1", last.Metadata["grantee"])
}

func TestGrantsRequiresAdminLevel(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)
	w.addPrincipal(t, "reader1", identity.RoleUser)

	f, err := w.manager.Upload(context.Background(), "owner1", "f.txt", strings.NewReader("v"))
	require.NoError(t, err)
	_, err = w.manager.Share(context.Background(), "owner1", f.ID, "reader1", acl.LevelRead, nil)
	require.NoError(t, err)

	_, err = w.manager.Grants(context.Background(), "reader1", f.ID)
	require.ErrorIs(t, err, ErrNotAuthorized)

	grants, err := w.manager.Grants(context.Background(), "owner1", f.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, acl.LevelRead, grants[0].Level)
}

func TestListSharedWithActiveGrantsOnly(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)
	w.addPrincipal(t, "reader1", identity.RoleUser)

	f1, err := w.manager.Upload(context.Background(), "owner1", "a.bin", strings.NewReader("a"))
	require.NoError(t, err)
	f2, err := w.manager.Upload(context.Background(), "owner1", "b.bin", strings.NewReader("b"))
	require.NoError(t, err)

	exp := w.now.Add(time.Hour)
	_, err = w.manager.Share(context.Background(), "owner1", f1.ID, "reader1", acl.LevelRead, &exp)
	require.NoError(t, err)
	_, err = w.manager.Share(context.Background(), "owner1", f2.ID, "reader1", acl.LevelRead, nil)
	require.NoError(t, err)

	shared, err := w.manager.ListSharedWith(context.Background(), "reader1")
	require.NoError(t, err)
	require.Len(t, shared, 2)

	// The bounded grant lapses; only the open one keeps the file visible.
	w.now = w.now.Add(2 * time.Hour)
	shared, err = w.manager.ListSharedWith(context.Background(), "reader1")
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, f2.ID, shared[0].ID)

	// A deleted file drops out even though its grant row remains.
	require.NoError(t, w.manager.Delete(context.Background(), "owner1", f2.ID))
	shared, err = w.manager.ListSharedWith(context.Background(), "reader1")
	require.NoError(t, err)
	assert.Empty(t, shared)
}

type faultyRegistry struct {
	Store
	createErr error
	findErr   error
}

func (f *faultyRegistry) Create(ctx context.Context, file File) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.Store.Create(ctx, file)
}

func (f *faultyRegistry) Find(ctx context.Context, id string) (File, error) {
	if f.findErr != nil {
		return File{}, f.findErr
	}
	return f.Store.Find(ctx, id)
}

func TestRegistryFailuresAuditedAsErrors(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)
	clock := func() time.Time { return w.now }

	inner := NewInMemory()
	faulty := &faultyRegistry{Store: inner}
	blobs, err := NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	// The engine resolves against the healthy store so decisions still come
	// back ALLOW while the manager's registry calls fail.
	engine := authz.NewEngine(w.ids, NewResolver(inner), w.table, authz.WithClock(clock))
	mgr := NewManager(faulty, blobs, engine, w.table, w.ledger, WithManagerClock(clock))

	f, err := mgr.Upload(context.Background(), "owner1", "ok.bin", strings.NewReader("x"))
	require.NoError(t, err)

	faulty.findErr = io.ErrUnexpectedEOF
	_, err = mgr.View(context.Background(), "owner1", f.ID)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	faulty.findErr = nil
	faulty.createErr = io.ErrClosedPipe
	_, err = mgr.Upload(context.Background(), "owner1", "bad.bin", strings.NewReader("y"))
	require.ErrorIs(t, err, io.ErrClosedPipe)

	trail := w.auditTrail(t)
	// upload allow, view error, upload error
	require.Len(t, trail, 3)
	assert.Equal(t, audit.ActionView, trail[1].Action)
	assert.Equal(t, audit.OutcomeError, trail[1].Outcome)
	assert.NotEmpty(t, trail[1].Metadata["error"])
	assert.Equal(t, audit.ActionUpload, trail[2].Action)
	assert.Equal(t, audit.OutcomeError, trail[2].Outcome)
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"scene.jpg":          "scene.jpg",
		"../../etc/passwd":   "passwd",
		"a/b\\c:d.txt":       "c_d.txt",
		"  spaced name.mp4 ": "spaced name.mp4",
		"":                   "unnamed",
		"..":                 "unnamed",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestChainStaysValidAcrossOperations(t *testing.T) {
	w := newWorld(t)
	w.addPrincipal(t, "owner1", identity.RoleUser)
	w.addPrincipal(t, "reader1", identity.RoleUser)

	f, err := w.manager.Upload(context.Background(), "owner1", "f.txt", strings.NewReader("u"))
	require.NoError(t, err)
	_, err = w.manager.Share(context.Background(), "owner1", f.ID, "reader1", acl.LevelWrite, nil)
	require.NoError(t, err)
	_, err = w.manager.View(context.Background(), "reader1", f.ID)
	require.NoError(t, err)
	require.NoError(t, w.manager.Revoke(context.Background(), "owner1", f.ID, "reader1", acl.LevelWrite))

	report, err := audit.Verify(context.Background(), w.ledger)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, uint64(4), report.Records)
}
