package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/audit"
	"github.com/FURTHER237/FrameTruth/internal/identity"
	"github.com/FURTHER237/FrameTruth/internal/obs"
)

type auditRecordsResponse struct {
	Items []audit.Record `json:"items"`
	From  uint64         `json:"from"`
	To    uint64         `json:"to"`
	AsOf  time.Time      `json:"as_of"`
}

// reviewer gates the ledger surface: admins and analysts review history,
// plain users do not.
func (a *API) reviewer(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, ok := a.caller(w, r)
	if !ok {
		return identity.Principal{}, false
	}
	if p.Role != identity.RoleAdmin && p.Role != identity.RoleAnalyst {
		writeError(w, r, http.StatusForbidden, "not authorized")
		return identity.Principal{}, false
	}
	return p, true
}

func (a *API) handleAuditRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.reviewer(w, r); !ok {
		return
	}

	from, err := parseSeq(r.URL.Query().Get("from"), 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseSeq(r.URL.Query().Get("to"), from+1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.ledger.ReadRange(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidRange) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, auditRecordsResponse{
		Items: items,
		From:  from,
		To:    to,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	if _, ok := a.reviewer(w, r); !ok {
		return
	}

	report, err := audit.Verify(r.Context(), a.ledger)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "verification failed")
		return
	}
	obs.ObserveVerification(report.Valid)
	writeJSON(w, http.StatusOK, report)
}

// Stream handles Server-Sent Events for live ledger appends.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	if _, ok := a.reviewer(w, r); !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for record := range ch {
		payload, err := json.Marshal(record)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
