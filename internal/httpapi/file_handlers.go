package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/acl"
	"github.com/FURTHER237/FrameTruth/internal/audit"
	"github.com/FURTHER237/FrameTruth/internal/authz"
	"github.com/FURTHER237/FrameTruth/internal/evidence"
	"github.com/FURTHER237/FrameTruth/internal/identity"
)

func (a *API) handleFilesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.uploadFile(w, r)
	case http.MethodGet:
		a.listFiles(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleFileResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/files/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/content") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/content"), "/")
		if id == "" || r.Method != http.MethodGet {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.downloadFile(w, r, id)
		return
	}

	if strings.HasSuffix(path, "/grants") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/grants"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleGrants(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.viewFile(w, r, path)
	case http.MethodDelete:
		a.deleteFile(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) uploadFile(w http.ResponseWriter, r *http.Request) {
	p, ok := a.caller(w, r)
	if !ok {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	f, err := a.manager.Upload(r.Context(), p.ID, header.Filename, file)
	if err != nil {
		a.handleEvidenceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/files/"+f.ID)
	writeJSON(w, http.StatusCreated, f)
}

func (a *API) listFiles(w http.ResponseWriter, r *http.Request) {
	p, ok := a.caller(w, r)
	if !ok {
		return
	}
	var (
		files []evidence.File
		err   error
	)
	switch view := r.URL.Query().Get("view"); view {
	case "", "owned":
		files, err = a.manager.ListOwned(r.Context(), p.ID)
	case "shared":
		files, err = a.manager.ListSharedWith(r.Context(), p.ID)
	default:
		writeError(w, r, http.StatusBadRequest, "view must be owned or shared")
		return
	}
	if err != nil {
		a.handleEvidenceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": files})
}

func (a *API) viewFile(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.caller(w, r)
	if !ok {
		return
	}
	f, err := a.manager.View(r.Context(), p.ID, id)
	if err != nil {
		a.handleEvidenceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (a *API) downloadFile(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.caller(w, r)
	if !ok {
		return
	}
	f, rc, err := a.manager.Download(r.Context(), p.ID, id)
	if err != nil {
		a.handleEvidenceError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Filename+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("X-Content-Sha256", f.SHA256)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func (a *API) deleteFile(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.manager.Delete(r.Context(), p.ID, id); err != nil {
		a.handleEvidenceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type shareRequest struct {
	Grantee   string     `json:"grantee"`
	Level     string     `json:"level"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type revokeRequest struct {
	Grantee string `json:"grantee"`
	Level   string `json:"level"`
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request, fileID string) {
	p, ok := a.caller(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		grants, err := a.manager.Grants(r.Context(), p.ID, fileID)
		if err != nil {
			a.handleEvidenceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": grants})

	case http.MethodPost:
		var req shareRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		level, err := acl.ParseLevel(req.Level)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "level must be read, write or admin")
			return
		}
		g, err := a.manager.Share(r.Context(), p.ID, fileID, strings.TrimSpace(req.Grantee), level, req.ExpiresAt)
		if err != nil {
			a.handleEvidenceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, g)

	case http.MethodDelete:
		var req revokeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		level, err := acl.ParseLevel(req.Level)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "level must be read, write or admin")
			return
		}
		if err := a.manager.Revoke(r.Context(), p.ID, fileID, strings.TrimSpace(req.Grantee), level); err != nil {
			a.handleEvidenceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// handleGrantSweep archives grants that have already expired. Admin-only
// housekeeping; read paths ignore expired grants either way, so the sweep
// only moves rows into the archive.
func (a *API) handleGrantSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
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

	archived, err := a.table.Sweep(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.appendAudit(r, p.ID, "", audit.ActionAdmin, audit.OutcomeAllow, map[string]string{
		"event":    "grants.sweep",
		"archived": strconv.Itoa(archived),
	}); err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": archived})
}

// handleEvidenceError folds denials and unknown files into one generic 403
// so callers cannot probe for file existence or ownership.
func (a *API) handleEvidenceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, evidence.ErrNotAuthorized),
		errors.Is(err, authz.ErrNotAuthorized),
		errors.Is(err, authz.ErrUnknownFile),
		errors.Is(err, evidence.ErrUnknownFile):
		writeError(w, r, http.StatusForbidden, "not authorized")
	case errors.Is(err, identity.ErrUnknownPrincipal):
		writeError(w, r, http.StatusForbidden, "not authorized")
	case errors.Is(err, evidence.ErrInvalidInput), errors.Is(err, acl.ErrInvalidLevel), errors.Is(err, acl.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, audit.ErrLedgerWrite):
		writeError(w, r, http.StatusServiceUnavailable, "audit ledger unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
