package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuditEntry is one record of the hash-chained audit log. Entries are written
// once and never updated; Hash covers the entry fields plus PrevHash, so any
// retroactive change breaks every hash after it.
type AuditEntry struct {
	Seq         int64          `json:"seq"`
	Timestamp   time.Time      `json:"timestamp"`
	ActorID     *uuid.UUID     `json:"actor_id,omitempty"` // nil = system-initiated
	ActorRole   string         `json:"actor_role,omitempty"`
	ActorAddr   string         `json:"actor_addr,omitempty"`
	EventType   string         `json:"event_type"`
	Module      string         `json:"module"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	CaseRef     *string        `json:"case_ref,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Hash        string         `json:"hash"`
	PrevHash    *string        `json:"prev_hash,omitempty"` // nil only for the first entry

	// PayloadRaw is the serialized payload exactly as persisted. The hash
	// covers these bytes verbatim; re-verification must never re-serialize
	// Payload, since a JSON round trip through map[string]any loses integer
	// precision above 2^53.
	PayloadRaw []byte `json:"-"`
}

// AuditEvent is what callers hand to the audit service; seq, hash and
// prev_hash are assigned at append time.
type AuditEvent struct {
	ActorID     *uuid.UUID
	ActorRole   string
	ActorAddr   string
	EventType   string
	Module      string
	Description string
	Severity    string
	CaseRef     *string
	Payload     map[string]any
}

// ChainReport is the outcome of walking a range of the chain.
type ChainReport struct {
	Total          int    `json:"total"`
	Valid          int    `json:"valid"`
	Broken         int    `json:"broken"`
	FirstBrokenSeq *int64 `json:"first_broken_seq,omitempty"`
	OK             bool   `json:"ok"`
}
