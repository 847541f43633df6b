// Package httpapi is the administrative HTTP surface over the custody core:
// accounts and sessions, evidence upload/download, grant management, and
// ledger export/verification.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/FURTHER237/FrameTruth/internal/acl"
	"github.com/FURTHER237/FrameTruth/internal/audit"
	"github.com/FURTHER237/FrameTruth/internal/authz"
	"github.com/FURTHER237/FrameTruth/internal/evidence"
	"github.com/FURTHER237/FrameTruth/internal/identity"
	"github.com/FURTHER237/FrameTruth/internal/obs"
	"github.com/FURTHER237/FrameTruth/internal/stream"
)

// ReadyProbe is a readiness check, typically a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	identity *identity.Service
	manager  *evidence.Manager
	engine   *authz.Engine
	table    acl.Table
	ledger   audit.Ledger
	stream   *stream.Stream

	rateBurst  int
	ratePerSec int
}

// Config carries the collaborators the API serves.
type Config struct {
	Ready    ReadyProbe
	Version  string
	Identity *identity.Service
	Manager  *evidence.Manager
	Engine   *authz.Engine
	Table    acl.Table
	Ledger   audit.Ledger
	Stream   *stream.Stream
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.Ready,
		version:    cfg.Version,
		identity:   cfg.Identity,
		manager:    cfg.Manager,
		engine:     cfg.Engine,
		table:      cfg.Table,
		ledger:     cfg.Ledger,
		stream:     cfg.Stream,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// accounts and sessions
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	// evidence files and grants
	a.mux.HandleFunc("/v1/files", a.handleFilesCollection)
	a.mux.HandleFunc("/v1/files/", a.handleFileResource)
	a.mux.HandleFunc("/v1/grants/sweep", a.handleGrantSweep)

	// audit ledger
	a.mux.HandleFunc("/v1/audit/records", a.handleAuditRecords)
	a.mux.HandleFunc("/v1/audit/verify", a.handleAuditVerify)
	a.mux.HandleFunc("/v1/audit/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the handler chain served by the process.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 64<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	return obs.Instrument(h)
}
