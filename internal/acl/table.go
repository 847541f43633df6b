package acl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Table is the keyed store behind the authorization engine. All mutation goes
// through Upsert and Delete; lookups never observe a half-written grant.
type Table interface {
	// Upsert stores the grant. If an entry for the same (file, grantee,
	// level) already exists its expiry and grantor are refreshed instead of
	// duplicating the row; the original granted_at is preserved.
	Upsert(ctx context.Context, g Grant) (Grant, error)
	// Delete removes a grant. Removing a non-existent grant is not an
	// error; the bool reports whether anything was removed.
	Delete(ctx context.Context, fileID, granteeID string, level Level) (bool, error)
	// ActiveGrants returns the grants for (file, grantee) still in force at
	// the given instant.
	ActiveGrants(ctx context.Context, fileID, granteeID string, now time.Time) ([]Grant, error)
	// GrantsForFile returns every stored grant on the file, expired ones
	// included, for history and reporting queries.
	GrantsForFile(ctx context.Context, fileID string) ([]Grant, error)
	// GrantsForGrantee returns every stored grant held by the grantee.
	GrantsForGrantee(ctx context.Context, granteeID string) ([]Grant, error)
	// Sweep archives grants already expired at the given instant and
	// returns how many were moved. Never invoked implicitly; expiry is
	// otherwise evaluated at read time.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// InMemory implements Table with in-process concurrency safety. Reads copy
// grant values out under the read lock so callers always see a consistent
// snapshot.
type InMemory struct {
	mu       sync.RWMutex
	grants   map[string]map[string]map[Level]Grant // file -> grantee -> level
	archived []Grant
}

var _ Table = (*InMemory)(nil)

// NewInMemory creates an empty permission table.
func NewInMemory() *InMemory {
	return &InMemory{grants: make(map[string]map[string]map[Level]Grant)}
}

func (t *InMemory) Upsert(ctx context.Context, g Grant) (Grant, error) {
	if g.FileID == "" || g.GranteeID == "" {
		return Grant{}, ErrInvalidInput
	}
	if _, ok := levelRank[g.Level]; !ok {
		return Grant{}, ErrInvalidLevel
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byGrantee, ok := t.grants[g.FileID]
	if !ok {
		byGrantee = make(map[string]map[Level]Grant)
		t.grants[g.FileID] = byGrantee
	}
	byLevel, ok := byGrantee[g.GranteeID]
	if !ok {
		byLevel = make(map[Level]Grant)
		byGrantee[g.GranteeID] = byLevel
	}
	if existing, ok := byLevel[g.Level]; ok {
		g.GrantedAt = existing.GrantedAt
	}
	byLevel[g.Level] = g
	return g, nil
}

func (t *InMemory) Delete(ctx context.Context, fileID, granteeID string, level Level) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byLevel, ok := t.grants[fileID][granteeID]
	if !ok {
		return false, nil
	}
	if _, ok := byLevel[level]; !ok {
		return false, nil
	}
	delete(byLevel, level)
	if len(byLevel) == 0 {
		delete(t.grants[fileID], granteeID)
	}
	return true, nil
}

func (t *InMemory) ActiveGrants(ctx context.Context, fileID, granteeID string, now time.Time) ([]Grant, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Grant
	for _, g := range t.grants[fileID][granteeID] {
		if g.ActiveAt(now) {
			out = append(out, g)
		}
	}
	sortGrants(out)
	return out, nil
}

func (t *InMemory) GrantsForFile(ctx context.Context, fileID string) ([]Grant, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Grant
	for _, byLevel := range t.grants[fileID] {
		for _, g := range byLevel {
			out = append(out, g)
		}
	}
	for _, g := range t.archived {
		if g.FileID == fileID {
			out = append(out, g)
		}
	}
	sortGrants(out)
	return out, nil
}

func (t *InMemory) GrantsForGrantee(ctx context.Context, granteeID string) ([]Grant, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Grant
	for _, byGrantee := range t.grants {
		for _, g := range byGrantee[granteeID] {
			out = append(out, g)
		}
	}
	for _, g := range t.archived {
		if g.GranteeID == granteeID {
			out = append(out, g)
		}
	}
	sortGrants(out)
	return out, nil
}

func (t *InMemory) Sweep(ctx context.Context, now time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	moved := 0
	for fileID, byGrantee := range t.grants {
		for granteeID, byLevel := range byGrantee {
			for level, g := range byLevel {
				if !g.ActiveAt(now) {
					t.archived = append(t.archived, g)
					delete(byLevel, level)
					moved++
				}
			}
			if len(byLevel) == 0 {
				delete(byGrantee, granteeID)
			}
		}
		if len(byGrantee) == 0 {
			delete(t.grants, fileID)
		}
	}
	return moved, nil
}

func sortGrants(grants []Grant) {
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].FileID != grants[j].FileID {
			return grants[i].FileID < grants[j].FileID
		}
		if grants[i].GranteeID != grants[j].GranteeID {
			return grants[i].GranteeID < grants[j].GranteeID
		}
		return levelRank[grants[i].Level] < levelRank[grants[j].Level]
	})
}
