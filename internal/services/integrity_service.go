package services

import (
	"context"
	"fmt"

	"github.com/court-registry/backend/internal/events"
	"github.com/court-registry/backend/internal/models"
	"github.com/court-registry/backend/internal/signature"
	"github.com/court-registry/backend/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IntegrityResult reports whether a signed artifact still matches the hash
// recorded at signing time.
type IntegrityResult struct {
	DecisionID uuid.UUID `json:"decision_id"`
	Intact     bool      `json:"intact"`
	Reason     string    `json:"reason,omitempty"`
	Expected   string    `json:"expected_hash,omitempty"`
	Actual     string    `json:"actual_hash,omitempty"`
}

// SignedLister feeds the background artifact sweep.
type SignedLister interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Decision, error)
	ListSigned(ctx context.Context, limit, offset int) ([]models.Decision, error)
}

// IntegrityService re-derives hashes to detect tampering after the fact.
// It reports, never repairs.
type IntegrityService struct {
	decisions SignedLister
	artifacts storage.ArtifactStore
	audit     AuditTrail
	publisher events.Publisher
	log       *zap.Logger
}

func NewIntegrityService(decisions SignedLister, artifacts storage.ArtifactStore, audit AuditTrail, publisher events.Publisher, log *zap.Logger) *IntegrityService {
	return &IntegrityService{
		decisions: decisions,
		artifacts: artifacts,
		audit:     audit,
		publisher: publisher,
		log:       log,
	}
}

// VerifyDecision recomputes the stored artifact's hash and compares it with
// the hash frozen at signing time. Read failures count as not intact with a
// reason; a missing artifact is never a silent pass.
func (s *IntegrityService) VerifyDecision(ctx context.Context, id uuid.UUID) (IntegrityResult, error) {
	d, err := s.decisions.GetByID(ctx, id)
	if err != nil {
		return IntegrityResult{}, err
	}

	result := IntegrityResult{DecisionID: id}
	if d.State != models.DecisionStateSigned || d.ArtifactHash == nil || d.ArtifactPath == nil {
		return result, fmt.Errorf("%w: decision is not signed", models.ErrInvalidState)
	}
	result.Expected = *d.ArtifactHash

	data, err := s.artifacts.Read(ctx, *d.ArtifactPath)
	if err != nil {
		result.Reason = fmt.Sprintf("artifact unreadable: %v", err)
		return result, nil
	}

	result.Actual = signature.CalculateHash(data)
	if result.Actual != result.Expected {
		result.Reason = "stored artifact hash does not match the hash recorded at signing"
		return result, nil
	}

	result.Intact = true
	return result, nil
}

// SweepArtifacts verifies every signed decision in batches. Mismatches are
// logged, recorded on the audit chain as system events and published as
// warning notifications. Returns checked and failed counts.
func (s *IntegrityService) SweepArtifacts(ctx context.Context, batchSize int) (checked, failed int, err error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	for offset := 0; ; offset += batchSize {
		decisions, err := s.decisions.ListSigned(ctx, batchSize, offset)
		if err != nil {
			return checked, failed, err
		}
		if len(decisions) == 0 {
			return checked, failed, nil
		}

		for _, d := range decisions {
			if ctx.Err() != nil {
				return checked, failed, ctx.Err()
			}

			result, err := s.VerifyDecision(ctx, d.ID)
			if err != nil {
				s.log.Error("artifact verification errored",
					zap.String("decision_id", d.ID.String()), zap.Error(err))
				continue
			}
			checked++
			if result.Intact {
				continue
			}

			failed++
			s.log.Error("artifact integrity mismatch",
				zap.String("decision_id", d.ID.String()),
				zap.String("case_ref", d.CaseRef),
				zap.String("reason", result.Reason),
			)

			caseRef := d.CaseRef
			if _, err := s.audit.Append(ctx, models.AuditEvent{
				EventType:   "artifact_integrity_mismatch",
				Module:      "integrity",
				Description: result.Reason,
				Severity:    models.SeverityCritical,
				CaseRef:     &caseRef,
				Payload: map[string]any{
					"decision_id":   d.ID.String(),
					"expected_hash": result.Expected,
					"actual_hash":   result.Actual,
				},
			}); err != nil {
				s.log.Error("failed to record integrity mismatch", zap.Error(err))
			}

			if s.publisher != nil {
				_ = s.publisher.Publish(ctx, events.StreamRegistry, events.Event{
					Type: events.EventIntegrityMismatch,
					Payload: map[string]any{
						"decision_id": d.ID.String(),
						"case_ref":    d.CaseRef,
					},
				})
			}
		}
	}
}
