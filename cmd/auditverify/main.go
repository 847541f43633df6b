// auditverify checks a file-backed audit ledger and optionally exports a
// range of records as JSON. A broken chain exits non-zero but still allows
// exporting the intact head.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/FURTHER237/FrameTruth/internal/audit"
)

func main() {
	log.SetFlags(0)
	var (
		path   = flag.String("ledger", os.Getenv("FRAMETRUTH_LEDGER_PATH"), "Path to the JSONL audit ledger")
		export = flag.Bool("export", false, "Print records of the verified range as JSON")
		from   = flag.Uint64("from", 0, "First sequence number to export")
		to     = flag.Uint64("to", 0, "One past the last sequence number to export (0 = everything)")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("missing ledger path: provide via -ledger or FRAMETRUTH_LEDGER_PATH")
	}

	ledger, err := audit.OpenFile(*path)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	ctx := context.Background()
	report, err := audit.Verify(ctx, ledger)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *export {
		end := *to
		if end == 0 {
			end = report.Records
			if report.BrokenAt != nil {
				// Export only the intact head of a broken chain.
				end = *report.BrokenAt
			}
		}
		records, err := ledger.ReadRange(ctx, *from, end)
		if err != nil {
			log.Fatalf("read range: %v", err)
		}
		if err := enc.Encode(records); err != nil {
			log.Fatalf("encode: %v", err)
		}
	}

	if err := enc.Encode(report); err != nil {
		log.Fatalf("encode report: %v", err)
	}
	if !report.Valid {
		os.Exit(1)
	}
}
