package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/court-registry/backend/internal/models"
	"github.com/court-registry/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newAuditEnv() (*AuditService, *fakeAuditStore) {
	store := &fakeAuditStore{}
	return NewAuditService(store, nil, 100, zap.NewNop()), store
}

func appendN(t *testing.T, svc *AuditService, n int) {
	t.Helper()
	actorID := uuid.New()
	for i := 0; i < n; i++ {
		_, err := svc.Append(context.Background(), models.AuditEvent{
			ActorID:     &actorID,
			ActorRole:   "judge",
			EventType:   fmt.Sprintf("event_%d", i),
			Module:      "decisions",
			Description: "test event",
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
}

func TestAppendBuildsUnbrokenChain(t *testing.T) {
	svc, store := newAuditEnv()
	appendN(t, svc, 20)

	report, err := svc.VerifyIntegrity(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.OK || report.Total != 20 || report.Valid != 20 {
		t.Errorf("report = %+v, want 20/20 ok", report)
	}

	// Back-pointers: each entry references its predecessor's hash.
	for i := 1; i < len(store.entries); i++ {
		if store.entries[i].PrevHash == nil || *store.entries[i].PrevHash != store.entries[i-1].Hash {
			t.Fatalf("entry %d does not point at its predecessor", i)
		}
	}
	if store.entries[0].PrevHash != nil {
		t.Error("first entry must have no predecessor")
	}
}

func TestConcurrentAppendsNeverFork(t *testing.T) {
	svc, store := newAuditEnv()

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Append(context.Background(), models.AuditEvent{
				EventType:   "concurrent_event",
				Module:      "test",
				Description: fmt.Sprintf("writer %d", i),
			})
			if err != nil {
				t.Errorf("Append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(store.entries) != writers {
		t.Fatalf("entries = %d, want %d", len(store.entries), writers)
	}
	report, err := svc.VerifyIntegrity(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK || report.Valid != writers {
		t.Errorf("chain forked under concurrency: %+v", report)
	}
}

func TestVerifySurvivesLargeIntegerPayload(t *testing.T) {
	svc, _ := newAuditEnv()
	actorID := uuid.New()

	// A unix-nano value does not fit a float64 exactly. The chain hashes the
	// stored payload bytes, so verification must not care.
	_, err := svc.Append(context.Background(), models.AuditEvent{
		ActorID:     &actorID,
		ActorRole:   "judge",
		EventType:   "decision_signed",
		Module:      "decisions",
		Description: "signed with nanosecond timestamp",
		Payload:     map[string]any{"signed_at_ns": int64(1700000000123456789)},
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := svc.VerifyIntegrity(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK || report.Valid != 1 {
		t.Errorf("untampered entry with large integer payload flagged broken: %+v", report)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	svc, store := newAuditEnv()
	appendN(t, svc, 10)

	// Rewriting entry 5 in place breaks the chain from there on.
	store.mu.Lock()
	store.entries[4].Description = "rewritten after the fact"
	store.mu.Unlock()

	report, err := svc.VerifyIntegrity(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("tampered chain reported as intact")
	}
	if report.Valid != 4 {
		t.Errorf("valid = %d, want 4", report.Valid)
	}
	if report.FirstBrokenSeq == nil || *report.FirstBrokenSeq != 5 {
		t.Errorf("first broken seq = %v, want 5", report.FirstBrokenSeq)
	}
}

func TestVerifyRangeUsesExpectedHead(t *testing.T) {
	svc, _ := newAuditEnv()
	appendN(t, svc, 30)

	// A middle slice verifies against the hash that precedes it.
	report, err := svc.VerifyIntegrity(context.Background(), 11, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK || report.Total != 10 || report.Valid != 10 {
		t.Errorf("range report = %+v, want 10/10 ok", report)
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	svc, _ := newAuditEnv()
	report, err := svc.VerifyIntegrity(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK || report.Total != 0 {
		t.Errorf("empty chain report = %+v", report)
	}
}

func TestExportCSV(t *testing.T) {
	svc, _ := newAuditEnv()
	actorID := uuid.New()
	caseRef := "CASE-2025-042"

	// Description with comma, quote and newline exercises CSV escaping.
	_, err := svc.Append(context.Background(), models.AuditEvent{
		ActorID:     &actorID,
		ActorRole:   "auditor",
		ActorAddr:   "192.0.2.1",
		EventType:   "export_test",
		Module:      "audit",
		Description: "said \"no\", then\nleft",
		CaseRef:     &caseRef,
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := svc.ExportCSV(context.Background(), repositories.AuditFilter{})
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	if err != nil {
		t.Fatalf("exported CSV does not parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want header + 1 row", len(records))
	}
	if got := strings.Join(records[0], ","); got != strings.Join(csvHeader, ",") {
		t.Errorf("header = %q", got)
	}
	row := records[1]
	if row[2] != actorID.String() {
		t.Errorf("actor column = %q", row[2])
	}
	if row[6] != "said \"no\", then\nleft" {
		t.Errorf("description column = %q", row[6])
	}
	if row[7] != caseRef {
		t.Errorf("case_ref column = %q", row[7])
	}
}

func TestExportCSVRespectsRowCap(t *testing.T) {
	store := &fakeAuditStore{}
	svc := NewAuditService(store, nil, 5, zap.NewNop())
	appendN(t, svc, 12)

	out, err := svc.ExportCSV(context.Background(), repositories.AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 6 {
		t.Errorf("records = %d, want header + 5 capped rows", len(records))
	}
}

func TestQueryFilters(t *testing.T) {
	svc, _ := newAuditEnv()
	judgeID := uuid.New()
	caseRef := "CASE-2025-007"

	for i := 0; i < 3; i++ {
		if _, err := svc.Append(context.Background(), models.AuditEvent{
			ActorID: &judgeID, ActorRole: "judge",
			EventType: "decision_updated", Module: "decisions",
			Description: "edit", CaseRef: &caseRef,
		}); err != nil {
			t.Fatal(err)
		}
	}
	otherID := uuid.New()
	if _, err := svc.Append(context.Background(), models.AuditEvent{
		ActorID: &otherID, ActorRole: "clerk",
		EventType: "login", Module: "auth", Description: "login",
	}); err != nil {
		t.Fatal(err)
	}

	actor := judgeID.String()
	entries, total, err := svc.Query(context.Background(), repositories.AuditFilter{ActorID: &actor}, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(entries) != 3 {
		t.Errorf("actor filter: total=%d len=%d, want 3/3", total, len(entries))
	}

	module := "auth"
	_, total, err = svc.Query(context.Background(), repositories.AuditFilter{Module: &module}, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("module filter: total=%d, want 1", total)
	}
}
