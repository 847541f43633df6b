// Package authz decides whether a principal may act on an evidence file.
// Check is a pure decision function: it reads the identity store and the
// permission table and returns a Decision without writing anywhere. Recording
// the outcome in the audit ledger is the caller's job, which keeps the
// decision logic testable without I/O.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/acl"
	"github.com/FURTHER237/FrameTruth/internal/identity"
	"github.com/FURTHER237/FrameTruth/internal/obs"
)

var (
	// ErrUnknownFile means the file id did not resolve. Deny-equivalent to
	// callers but reported as an error because it indicates a caller bug or
	// stale reference, not a security decision.
	ErrUnknownFile = errors.New("authz: unknown file")

	// ErrNotAuthorized is returned by Grant and Revoke when the actor lacks
	// admin-level access on the file.
	ErrNotAuthorized = errors.New("authz: not authorized")
)

// Effect is the outcome of an authorization check.
type Effect string

const (
	Allow Effect = "ALLOW"
	Deny  Effect = "DENY"
)

// Basis records which rule produced an Allow so reviewers can distinguish
// owner and grant access from role-based override.
type Basis string

const (
	BasisOwner    Basis = "owner"
	BasisGrant    Basis = "grant"
	BasisOverride Basis = "override"
	BasisNone     Basis = ""
)

// Decision is the result of Check. Deny is a regular value, not an error.
type Decision struct {
	Effect   Effect
	Basis    Basis
	Required acl.Level
}

// Allowed reports whether the decision permits the action.
func (d Decision) Allowed() bool { return d.Effect == Allow }

// Metadata returns the audit annotations for this decision. Override access
// is always flagged; owner and grant access carry their basis too.
func (d Decision) Metadata() map[string]string {
	m := map[string]string{"required": string(d.Required)}
	if d.Basis != BasisNone {
		m["basis"] = string(d.Basis)
	}
	return m
}

// PrincipalResolver is the slice of the identity store the engine needs.
type PrincipalResolver interface {
	Resolve(ctx context.Context, id string) (identity.Principal, error)
}

// FileInfo is the file metadata the engine consults. The engine never touches
// file bytes.
type FileInfo struct {
	ID      string
	OwnerID string
}

// FileResolver resolves a file id to its metadata. Implementations return an
// error wrapping ErrUnknownFile when the id does not resolve.
type FileResolver interface {
	ResolveFile(ctx context.Context, id string) (FileInfo, error)
}

// Engine combines ownership, stored grants, and the role-based override into
// a single decision function.
type Engine struct {
	principals PrincipalResolver
	files      FileResolver
	table      acl.Table

	now             func() time.Time
	overrideOn      bool
	overrideCeiling acl.Level
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOverrideCeiling caps the level the admin-role override can satisfy.
// The default ceiling is admin, matching owner access.
func WithOverrideCeiling(ceiling acl.Level) Option {
	return func(e *Engine) { e.overrideCeiling = ceiling }
}

// DisableOverride turns the admin-role override off entirely; admins then
// need ownership or an explicit grant like everyone else.
func DisableOverride() Option {
	return func(e *Engine) { e.overrideOn = false }
}

// NewEngine wires an engine over the given stores.
func NewEngine(principals PrincipalResolver, files FileResolver, table acl.Table, opts ...Option) *Engine {
	e := &Engine{
		principals:      principals,
		files:           files,
		table:           table,
		now:             func() time.Time { return time.Now().UTC() },
		overrideOn:      true,
		overrideCeiling: acl.LevelAdmin,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check answers whether principalID may perform an action requiring the given
// level on fileID. Unknown principals and files are errors; a plain deny is
// returned as a Decision with Effect Deny.
func (e *Engine) Check(ctx context.Context, principalID, fileID string, required acl.Level) (Decision, error) {
	d, err := e.check(ctx, principalID, fileID, required)
	if err == nil {
		obs.ObserveDecision(string(d.Effect), string(d.Basis))
	}
	return d, err
}

func (e *Engine) check(ctx context.Context, principalID, fileID string, required acl.Level) (Decision, error) {
	d := Decision{Effect: Deny, Required: required}

	p, err := e.principals.Resolve(ctx, principalID)
	if err != nil {
		return d, fmt.Errorf("resolve principal %q: %w", principalID, err)
	}
	f, err := e.files.ResolveFile(ctx, fileID)
	if err != nil {
		return d, fmt.Errorf("resolve file %q: %w", fileID, err)
	}
	if !p.Active() {
		return d, nil
	}

	if p.ID == f.OwnerID {
		d.Effect, d.Basis = Allow, BasisOwner
		return d, nil
	}

	grants, err := e.table.ActiveGrants(ctx, fileID, principalID, e.now())
	if err != nil {
		return d, fmt.Errorf("lookup grants: %w", err)
	}
	for _, g := range grants {
		if g.Level.Covers(required) {
			d.Effect, d.Basis = Allow, BasisGrant
			return d, nil
		}
	}

	if e.overrideOn && p.Role == identity.RoleAdmin && e.overrideCeiling.Covers(required) {
		d.Effect, d.Basis = Allow, BasisOverride
		return d, nil
	}
	return d, nil
}

// Grant upserts a permission grant. The granter must hold admin-level access
// on the file; granting the same level again refreshes expiry instead of
// duplicating. The decision that authorized the grant is returned alongside
// so the caller can audit it.
func (e *Engine) Grant(ctx context.Context, granterID, fileID, granteeID string, level acl.Level, expiresAt *time.Time) (acl.Grant, Decision, error) {
	d, err := e.Check(ctx, granterID, fileID, acl.LevelAdmin)
	if err != nil {
		return acl.Grant{}, d, err
	}
	if !d.Allowed() {
		return acl.Grant{}, d, ErrNotAuthorized
	}
	if _, err := e.principals.Resolve(ctx, granteeID); err != nil {
		return acl.Grant{}, d, fmt.Errorf("resolve grantee %q: %w", granteeID, err)
	}

	g, err := e.table.Upsert(ctx, acl.Grant{
		FileID:    fileID,
		GranteeID: granteeID,
		Level:     level,
		GrantedBy: granterID,
		GrantedAt: e.now(),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return acl.Grant{}, d, fmt.Errorf("store grant: %w", err)
	}
	return g, d, nil
}

// Revoke deletes a grant. Revoking a grant that does not exist is a no-op
// that still succeeds; the bool reports whether anything was removed.
func (e *Engine) Revoke(ctx context.Context, revokerID, fileID, granteeID string, level acl.Level) (bool, Decision, error) {
	d, err := e.Check(ctx, revokerID, fileID, acl.LevelAdmin)
	if err != nil {
		return false, d, err
	}
	if !d.Allowed() {
		return false, d, ErrNotAuthorized
	}
	removed, err := e.table.Delete(ctx, fileID, granteeID, level)
	if err != nil {
		return false, d, fmt.Errorf("delete grant: %w", err)
	}
	return removed, d, nil
}
