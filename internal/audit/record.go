// Package audit implements the tamper-evident custody ledger: an append-only,
// hash-chained sequence of access and administrative events.
//
// Each record's hash covers the previous record's hash, so editing or
// removing any stored record breaks the chain from that point forward. The
// package exposes no update or delete entry point, by construction.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Action identifies what was attempted or done.
type Action string

const (
	ActionView         Action = "VIEW"
	ActionDownload     Action = "DOWNLOAD"
	ActionUpload       Action = "UPLOAD"
	ActionDelete       Action = "DELETE"
	ActionGrant        Action = "GRANT"
	ActionRevoke       Action = "REVOKE"
	ActionLogin        Action = "LOGIN"
	ActionLoginFailure Action = "LOGIN_FAILURE"
	ActionAdmin        Action = "ADMIN_ACTION"

	// ActionGap marks a sequence position an operator had to fill after a
	// persist failure that could not be rolled back. It exists so that a
	// recovered ledger never carries a silent hole.
	ActionGap Action = "GAP"
)

// Outcome is the result the caller observed, not a prediction.
type Outcome string

const (
	OutcomeAllow Outcome = "ALLOW"
	OutcomeDeny  Outcome = "DENY"
	OutcomeError Outcome = "ERROR"
)

// GenesisHash is the prev_hash of record 0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// hashVersion tags the canonical encoding below. Bump it only together with
// a documented encoding change; historical chains stay verifiable because the
// version is part of every hashed preimage.
const hashVersion = "v1"

// Record is one immutable entry in the ledger. Actor and FileID are empty
// for system events. Records are never edited; corrections are appended.
type Record struct {
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"ts"`
	Actor     string            `json:"actor,omitempty"`
	FileID    string            `json:"file_id,omitempty"`
	Action    Action            `json:"action"`
	Outcome   Outcome           `json:"outcome"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
}

// canonical builds the fixed, versioned preimage for hashing:
//
//	v1|seq|ts(RFC3339Nano UTC)|actor|file_id|action|outcome|metadata|prev_hash
//
// where metadata is the query-escaped key=value pairs sorted by key and
// joined with '&'. Field order and encoding must never change within a
// version: any ambiguity breaks verifiability of historical chains.
func canonical(r Record) string {
	var b strings.Builder
	b.WriteString(hashVersion)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(r.Seq, 10))
	b.WriteByte('|')
	b.WriteString(r.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteByte('|')
	b.WriteString(r.Actor)
	b.WriteByte('|')
	b.WriteString(r.FileID)
	b.WriteByte('|')
	b.WriteString(string(r.Action))
	b.WriteByte('|')
	b.WriteString(string(r.Outcome))
	b.WriteByte('|')
	b.WriteString(canonicalMetadata(r.Metadata))
	b.WriteByte('|')
	b.WriteString(r.PrevHash)
	return b.String()
}

func canonicalMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(md[k]))
	}
	return strings.Join(pairs, "&")
}

// ComputeHash returns the SHA-256 hex digest of the record's canonical
// preimage. The stored Hash field is ignored; PrevHash is covered.
func ComputeHash(r Record) string {
	sum := sha256.Sum256([]byte(canonical(r)))
	return hex.EncodeToString(sum[:])
}

func cloneMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// cloneRecord returns a deep copy so callers can never mutate stored state.
func cloneRecord(r Record) Record {
	r.Metadata = cloneMetadata(r.Metadata)
	return r
}
