package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/ids"
)

// Service provides account lifecycle operations on top of a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for collaborators that only resolve.
func (s *Service) Store() Store { return s.store }

// Register creates an account with the given role.
func (s *Service) Register(ctx context.Context, username, password string, role Role) (Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Principal{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return Principal{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Principal{}, err
	}
	now := s.now().UTC()
	p := Principal{
		ID:           ids.New(),
		Username:     username,
		Role:         role,
		Status:       StatusActive,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return Principal{}, err
	}
	return p, nil
}

// Bootstrap ensures an admin account with the given username exists. Every
// other privileged-role path requires an existing admin, so a fresh
// deployment calls this once at startup to mint the first one. If the
// username is already taken the existing principal is returned untouched,
// whatever its role; created reports whether an account was minted.
func (s *Service) Bootstrap(ctx context.Context, username, password string) (Principal, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Principal{}, false, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	p, err := s.store.FindByUsername(ctx, username)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ErrUnknownPrincipal) {
		return Principal{}, false, err
	}
	p, err = s.Register(ctx, username, password, RoleAdmin)
	if err != nil {
		return Principal{}, false, err
	}
	return p, true, nil
}

// Authenticate verifies credentials. Disabled accounts fail the same way bad
// passwords do.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Principal, error) {
	p, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	if !p.Active() {
		return Principal{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(p.PasswordHash, password); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return p, nil
}

// ChangeRole updates a principal's role. Only admins may do this; callers
// record the change as an ADMIN_ACTION in the audit ledger.
func (s *Service) ChangeRole(ctx context.Context, actorID, targetID string, role Role) error {
	actor, err := s.store.Resolve(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Active() || actor.Role != RoleAdmin {
		return ErrAdminRequired
	}
	return s.store.SetRole(ctx, targetID, role)
}

// Deactivate disables an account. Admin-only, audited by the caller.
func (s *Service) Deactivate(ctx context.Context, actorID, targetID string) error {
	actor, err := s.store.Resolve(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Active() || actor.Role != RoleAdmin {
		return ErrAdminRequired
	}
	return s.store.Deactivate(ctx, targetID)
}
