package acl

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLevelOrdering(t *testing.T) {
	if !LevelAdmin.Covers(LevelRead) || !LevelAdmin.Covers(LevelWrite) || !LevelAdmin.Covers(LevelAdmin) {
		t.Fatal("admin must cover all levels")
	}
	if !LevelWrite.Covers(LevelRead) || LevelWrite.Covers(LevelAdmin) {
		t.Fatal("write must cover read only")
	}
	if LevelRead.Covers(LevelWrite) {
		t.Fatal("read must not cover write")
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel(" Read "); err != nil || lvl != LevelRead {
		t.Fatalf("ParseLevel read: %v %v", lvl, err)
	}
	if _, err := ParseLevel("root"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestUpsertRefreshesExpiry(t *testing.T) {
	tbl := NewInMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := base.Add(time.Hour)
	g1, err := tbl.Upsert(ctx, Grant{
		FileID: "f1", GranteeID: "u1", Level: LevelRead,
		GrantedBy: "owner", GrantedAt: base, ExpiresAt: &first,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	later := base.Add(24 * time.Hour)
	g2, err := tbl.Upsert(ctx, Grant{
		FileID: "f1", GranteeID: "u1", Level: LevelRead,
		GrantedBy: "admin2", GrantedAt: base.Add(time.Minute), ExpiresAt: &later,
	})
	if err != nil {
		t.Fatalf("refresh Upsert: %v", err)
	}
	if !g2.GrantedAt.Equal(g1.GrantedAt) {
		t.Fatalf("granted_at must survive a refresh: %v != %v", g2.GrantedAt, g1.GrantedAt)
	}
	if !g2.ExpiresAt.Equal(later) {
		t.Fatalf("expiry not refreshed: %v", g2.ExpiresAt)
	}

	all, _ := tbl.GrantsForFile(ctx, "f1")
	if len(all) != 1 {
		t.Fatalf("expected a single grant row, got %d", len(all))
	}
}

func TestActiveGrantsLazyExpiry(t *testing.T) {
	tbl := NewInMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := base.Add(time.Hour)

	if _, err := tbl.Upsert(ctx, Grant{
		FileID: "f1", GranteeID: "u1", Level: LevelRead,
		GrantedBy: "owner", GrantedAt: base, ExpiresAt: &exp,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	active, _ := tbl.ActiveGrants(ctx, "f1", "u1", base.Add(30*time.Minute))
	if len(active) != 1 {
		t.Fatalf("expected grant active before expiry, got %d", len(active))
	}

	active, _ = tbl.ActiveGrants(ctx, "f1", "u1", base.Add(2*time.Hour))
	if len(active) != 0 {
		t.Fatalf("expected no active grants past expiry, got %d", len(active))
	}

	// Expired grants remain visible to history queries.
	all, _ := tbl.GrantsForFile(ctx, "f1")
	if len(all) != 1 {
		t.Fatalf("expired grant vanished from history: %d", len(all))
	}
}

func TestDeleteIdempotent(t *testing.T) {
	tbl := NewInMemory()
	ctx := context.Background()

	removed, err := tbl.Delete(ctx, "f1", "u1", LevelRead)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed {
		t.Fatal("nothing should have been removed")
	}

	if _, err := tbl.Upsert(ctx, Grant{FileID: "f1", GranteeID: "u1", Level: LevelRead, GrantedBy: "o", GrantedAt: time.Now()}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	removed, _ = tbl.Delete(ctx, "f1", "u1", LevelRead)
	if !removed {
		t.Fatal("expected removal")
	}
	removed, _ = tbl.Delete(ctx, "f1", "u1", LevelRead)
	if removed {
		t.Fatal("second delete must be a no-op")
	}
}

func TestSweepArchivesExpired(t *testing.T) {
	tbl := NewInMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := base.Add(time.Hour)

	tbl.Upsert(ctx, Grant{FileID: "f1", GranteeID: "u1", Level: LevelRead, GrantedBy: "o", GrantedAt: base, ExpiresAt: &exp})
	tbl.Upsert(ctx, Grant{FileID: "f1", GranteeID: "u2", Level: LevelWrite, GrantedBy: "o", GrantedAt: base})

	moved, err := tbl.Sweep(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 archived grant, got %d", moved)
	}

	// Archived grant stays visible to history, unexpired grant untouched.
	all, _ := tbl.GrantsForFile(ctx, "f1")
	if len(all) != 2 {
		t.Fatalf("expected 2 grants in history, got %d", len(all))
	}
	active, _ := tbl.ActiveGrants(ctx, "f1", "u2", base.Add(2*time.Hour))
	if len(active) != 1 {
		t.Fatalf("unexpired grant lost: %d", len(active))
	}
}

func TestConcurrentUpsertsDistinctFiles(t *testing.T) {
	tbl := NewInMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fileID := fmt.Sprintf("f%d", i)
			_, _ = tbl.Upsert(ctx, Grant{
				FileID: fileID, GranteeID: "u1", Level: LevelRead,
				GrantedBy: "o", GrantedAt: time.Now(),
			})
			_, _ = tbl.ActiveGrants(ctx, fileID, "u1", time.Now())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		all, _ := tbl.GrantsForFile(ctx, fmt.Sprintf("f%d", i))
		if len(all) != 1 {
			t.Fatalf("file f%d: expected 1 grant, got %d", i, len(all))
		}
	}
}
