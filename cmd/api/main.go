package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FURTHER237/FrameTruth/internal/acl"
	"github.com/FURTHER237/FrameTruth/internal/audit"
	"github.com/FURTHER237/FrameTruth/internal/authz"
	"github.com/FURTHER237/FrameTruth/internal/evidence"
	"github.com/FURTHER237/FrameTruth/internal/httpapi"
	"github.com/FURTHER237/FrameTruth/internal/identity"
	"github.com/FURTHER237/FrameTruth/internal/obs"
	"github.com/FURTHER237/FrameTruth/internal/store/pg"
	"github.com/FURTHER237/FrameTruth/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("FRAMETRUTH_COMMIT"))

	addr := envOr("FRAMETRUTH_ADDR", ":8080")
	dataDir := envOr("FRAMETRUTH_DATA_DIR", "data/blobs")
	ledgerPath := envOr("FRAMETRUTH_LEDGER_PATH", "data/audit.log")

	blobs, err := evidence.NewFSBlobStore(dataDir)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	var (
		idStore  identity.Store
		registry evidence.Store
		table    acl.Table
		ledger   audit.Ledger
		pgStore  *pg.Store
	)

	if dsn := os.Getenv("FRAMETRUTH_PG_DSN"); dsn != "" {
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		idStore = pgStore.Identity()
		registry = pgStore.Registry()
		table = pgStore.Grants()
		ledger = pgStore.Audit()
	} else {
		idStore = identity.NewInMemory()
		registry = evidence.NewInMemory()
		table = acl.NewInMemory()
		fileLedger, err := audit.OpenFile(ledgerPath)
		if err != nil {
			log.Fatalf("open ledger: %v", err)
		}
		defer fileLedger.Close()
		ledger = fileLedger
	}

	s := stream.New()
	ledger = stream.NewTee(ledger, s)

	engine := authz.NewEngine(idStore, evidence.NewResolver(registry), table)
	manager := evidence.NewManager(registry, blobs, engine, table, ledger)
	accounts := identity.NewService(idStore)

	// First admin. Everything privileged requires an existing admin, so a
	// fresh deployment names one through the environment.
	if user := os.Getenv("FRAMETRUTH_BOOTSTRAP_ADMIN_USER"); user != "" {
		p, created, err := accounts.Bootstrap(context.Background(), user, os.Getenv("FRAMETRUTH_BOOTSTRAP_ADMIN_PASSWORD"))
		if err != nil {
			log.Fatalf("bootstrap admin: %v", err)
		}
		if created {
			if _, err := ledger.Append(context.Background(), audit.Entry{
				Actor:   p.ID,
				Action:  audit.ActionAdmin,
				Outcome: audit.OutcomeAllow,
				Metadata: map[string]string{
					"event":    "account.bootstrap",
					"username": p.Username,
				},
			}); err != nil {
				log.Fatalf("bootstrap audit: %v", err)
			}
		}
	}

	cfg := httpapi.Config{
		Version:  version,
		Identity: accounts,
		Manager:  manager,
		Engine:   engine,
		Table:    table,
		Ledger:   ledger,
		Stream:   s,
	}
	if pgStore != nil {
		cfg.Ready = httpapi.ReadyProbe{DB: pgStore.DB()}
	}
	api := httpapi.New(cfg)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays off: the audit SSE stream is long-lived.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting frametruth-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
