package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/court-registry/backend/internal/events"
	"github.com/court-registry/backend/internal/hashchain"
	"github.com/court-registry/backend/internal/models"
	"github.com/court-registry/backend/internal/repositories"
	"go.uber.org/zap"
)

// AuditStore is the persistence surface of the hash-chained log, implemented
// by repositories.AuditRepo and by in-memory fakes in tests.
type AuditStore interface {
	Append(ctx context.Context, event models.AuditEvent, ts time.Time) (*models.AuditEntry, error)
	Query(ctx context.Context, f repositories.AuditFilter, page, pageSize int) ([]models.AuditEntry, int, error)
	Export(ctx context.Context, f repositories.AuditFilter, limit int) ([]models.AuditEntry, error)
	ListRange(ctx context.Context, fromSeq, toSeq int64) ([]models.AuditEntry, error)
	HashBefore(ctx context.Context, seq int64) (*string, error)
}

// AuditService is the only legal way to record and read audit events.
type AuditService struct {
	store     AuditStore
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time

	exportMaxRows int
}

func NewAuditService(store AuditStore, publisher events.Publisher, exportMaxRows int, log *zap.Logger) *AuditService {
	if exportMaxRows <= 0 {
		exportMaxRows = 10000
	}
	return &AuditService{
		store:         store,
		publisher:     publisher,
		log:           log,
		now:           time.Now,
		exportMaxRows: exportMaxRows,
	}
}

// WithClock substitutes the time source, for tests.
func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	s.now = now
	return s
}

// Append records one event at the tail of the chain. A storage failure
// propagates to the caller; the event is not considered recorded unless the
// write committed.
func (s *AuditService) Append(ctx context.Context, event models.AuditEvent) (*models.AuditEntry, error) {
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}

	entry, err := s.store.Append(ctx, event, s.now())
	if err != nil {
		return nil, fmt.Errorf("audit append: %w", err)
	}

	if entry.Severity != models.SeverityInfo && s.publisher != nil {
		// Best-effort alerting, never on the critical path.
		_ = s.publisher.Publish(ctx, events.StreamRegistry, events.Event{
			Type: events.EventSecurityAlert,
			Payload: map[string]any{
				"seq":        entry.Seq,
				"event_type": entry.EventType,
				"module":     entry.Module,
				"severity":   entry.Severity,
			},
		})
	}
	return entry, nil
}

func (s *AuditService) Query(ctx context.Context, f repositories.AuditFilter, page, pageSize int) ([]models.AuditEntry, int, error) {
	return s.store.Query(ctx, f, page, pageSize)
}

// csvHeader is the fixed export column order.
var csvHeader = []string{"id", "timestamp", "actor", "role", "event_type", "module", "description", "case_ref", "address"}

// ExportCSV renders filtered entries as CSV, capped at the configured row
// limit to bound memory. encoding/csv handles quote and newline escaping.
func (s *AuditService) ExportCSV(ctx context.Context, f repositories.AuditFilter) ([]byte, error) {
	entries, err := s.store.Export(ctx, f, s.exportMaxRows)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}

	for _, e := range entries {
		actor := ""
		if e.ActorID != nil {
			actor = e.ActorID.String()
		}
		caseRef := ""
		if e.CaseRef != nil {
			caseRef = *e.CaseRef
		}
		record := []string{
			strconv.FormatInt(e.Seq, 10),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			actor,
			e.ActorRole,
			e.EventType,
			e.Module,
			e.Description,
			caseRef,
			e.ActorAddr,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VerifyIntegrity replays the chain over [fromSeq, toSeq] and reports the
// first break, if any. fromSeq <= 1 starts at the genesis entry; toSeq <= 0
// means up to the current head. Read-only: hashes are never touched.
func (s *AuditService) VerifyIntegrity(ctx context.Context, fromSeq, toSeq int64) (models.ChainReport, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}

	entries, err := s.store.ListRange(ctx, fromSeq, toSeq)
	if err != nil {
		return models.ChainReport{}, fmt.Errorf("load chain range: %w", err)
	}

	var expectedHead *string
	if fromSeq > 1 {
		expectedHead, err = s.store.HashBefore(ctx, fromSeq)
		if err != nil {
			return models.ChainReport{}, fmt.Errorf("load expected head: %w", err)
		}
	}

	report := hashchain.VerifyChain(entries, expectedHead)
	if !report.OK {
		s.log.Warn("audit chain verification failed",
			zap.Int("total", report.Total),
			zap.Int("valid", report.Valid),
			zap.Int64p("first_broken_seq", report.FirstBrokenSeq),
		)
	}
	return report, nil
}
