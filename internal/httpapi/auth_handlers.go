package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/audit"
	"github.com/FURTHER237/FrameTruth/internal/identity"
)

const tokenTTL = 15 * time.Minute

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	role := identity.RoleUser
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := identity.ParseRole(req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unknown role")
			return
		}
		// Privileged roles cannot be self-assigned at registration.
		if parsed != identity.RoleUser {
			writeError(w, r, http.StatusForbidden, "role not allowed at registration")
			return
		}
		role = parsed
	}

	p, err := a.identity.Register(r.Context(), req.Username, req.Password, role)
	switch {
	case errors.Is(err, identity.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "username already taken")
		return
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.appendAudit(r, p.ID, "", audit.ActionAdmin, audit.OutcomeAllow, map[string]string{
		"event":    "account.register",
		"username": p.Username,
	}); err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit write failed")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.identity.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		// Failed attempts are audited with the claimed username, not a
		// principal id; there may not be one.
		_ = a.appendAudit(r, "", "", audit.ActionLoginFailure, audit.OutcomeDeny, map[string]string{
			"username": strings.TrimSpace(req.Username),
		})
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := identity.GenerateToken(p.ID, p.Role, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	if err := a.appendAudit(r, p.ID, "", audit.ActionLogin, audit.OutcomeAllow, map[string]string{
		"username": p.Username,
	}); err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit write failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(tokenTTL),
	})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.caller(w, r)
	if !ok {
		return
	}
	if p.Role != identity.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "not authorized")
		return
	}
	users, err := a.identity.Store().List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	p, ok := a.caller(w, r)
	if !ok {
		return
	}

	switch {
	case strings.HasSuffix(path, "/role") && r.Method == http.MethodPut:
		a.changeRole(w, r, p, strings.TrimSuffix(path, "/role"))
	case strings.HasSuffix(path, "/deactivate") && r.Method == http.MethodPost:
		a.deactivateUser(w, r, p, strings.TrimSuffix(path, "/deactivate"))
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request, actor identity.Principal, targetID string) {
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}

	err = a.identity.ChangeRole(r.Context(), actor.ID, targetID, role)
	switch {
	case errors.Is(err, identity.ErrAdminRequired):
		writeError(w, r, http.StatusForbidden, "not authorized")
		return
	case errors.Is(err, identity.ErrUnknownPrincipal):
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.appendAudit(r, actor.ID, "", audit.ActionAdmin, audit.OutcomeAllow, map[string]string{
		"event":  "account.change_role",
		"target": targetID,
		"role":   string(role),
	}); err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": targetID, "role": role})
}

func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request, actor identity.Principal, targetID string) {
	err := a.identity.Deactivate(r.Context(), actor.ID, targetID)
	switch {
	case errors.Is(err, identity.ErrAdminRequired):
		writeError(w, r, http.StatusForbidden, "not authorized")
		return
	case errors.Is(err, identity.ErrUnknownPrincipal):
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.appendAudit(r, actor.ID, "", audit.ActionAdmin, audit.OutcomeAllow, map[string]string{
		"event":  "account.deactivate",
		"target": targetID,
	}); err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": targetID, "status": identity.StatusDisabled})
}

func (a *API) appendAudit(r *http.Request, actor, fileID string, action audit.Action, outcome audit.Outcome, md map[string]string) error {
	_, err := a.ledger.Append(r.Context(), audit.Entry{
		Actor:    actor,
		FileID:   fileID,
		Action:   action,
		Outcome:  outcome,
		Metadata: md,
	})
	return err
}
