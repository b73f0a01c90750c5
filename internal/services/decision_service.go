package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/court-registry/backend/internal/events"
	"github.com/court-registry/backend/internal/models"
	"github.com/court-registry/backend/internal/rbac"
	"github.com/court-registry/backend/internal/repositories"
	"github.com/court-registry/backend/internal/signature"
	"github.com/court-registry/backend/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actor identifies who is performing an operation, for authorization and
// for the audit trail.
type Actor struct {
	ID   uuid.UUID
	Role string
	Addr string
}

// DecisionStore persists decisions. Mutate must serialize concurrent calls
// per decision and must persist nothing when the callback errors.
type DecisionStore interface {
	Create(ctx context.Context, d *models.Decision) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Decision, error)
	List(ctx context.Context, f repositories.DecisionFilter) ([]models.Decision, error)
	Mutate(ctx context.Context, id uuid.UUID, actorID uuid.UUID, fn func(d *models.Decision) error) (*models.Decision, error)
	History(ctx context.Context, decisionID uuid.UUID) ([]models.DecisionHistory, error)
}

// CaseDirectory answers who the assigned judge of a case is. Backed by the
// external case-management system; locally by repositories.CaseRepo.
type CaseDirectory interface {
	GetByRef(ctx context.Context, caseRef string) (*models.Case, error)
}

// Signer is the certificate-bound signing collaborator.
type Signer interface {
	HasValidCertificate(signerID uuid.UUID) bool
	Sign(signerID uuid.UUID, payload []byte) (*models.SignatureMetadata, error)
}

// AuditTrail records lifecycle events on the global hash chain.
type AuditTrail interface {
	Append(ctx context.Context, event models.AuditEvent) (*models.AuditEntry, error)
}

const auditModule = "decisions"

// DecisionService drives the draft -> ready_to_sign -> signed lifecycle.
// Once signed, a decision and its signature metadata are frozen forever.
type DecisionService struct {
	store     DecisionStore
	cases     CaseDirectory
	signer    Signer
	artifacts storage.ArtifactStore
	audit     AuditTrail
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time

	minContentLength int
}

func NewDecisionService(
	store DecisionStore,
	cases CaseDirectory,
	signer Signer,
	artifacts storage.ArtifactStore,
	audit AuditTrail,
	publisher events.Publisher,
	minContentLength int,
	log *zap.Logger,
) *DecisionService {
	if minContentLength <= 0 {
		minContentLength = 50
	}
	return &DecisionService{
		store:            store,
		cases:            cases,
		signer:           signer,
		artifacts:        artifacts,
		audit:            audit,
		publisher:        publisher,
		log:              log,
		now:              time.Now,
		minContentLength: minContentLength,
	}
}

// WithClock substitutes the time source, for tests.
func (s *DecisionService) WithClock(now func() time.Time) *DecisionService {
	s.now = now
	return s
}

func (s *DecisionService) Create(ctx context.Context, actor Actor, caseRef, kind, title, content string) (*models.Decision, error) {
	if !models.IsValidDecisionKind(kind) {
		return nil, fmt.Errorf("invalid decision kind %q, must be one of: ruling, order, sentence", kind)
	}

	c, err := s.cases.GetByRef(ctx, caseRef)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", caseRef, err)
	}
	if c.AssignedJudgeID != actor.ID {
		s.recordDenial(ctx, actor, "decision_create_denied", &caseRef, "actor is not the assigned judge")
		return nil, fmt.Errorf("%w: only the assigned judge may create decisions for case %s", models.ErrNotAuthorized, caseRef)
	}

	d := &models.Decision{
		CaseRef:         caseRef,
		AuthorID:        actor.ID,
		AuthorPseudonym: c.JudgePseudonym, // never the raw identity
		Kind:            kind,
		Title:           title,
		Content:         content,
		State:           models.DecisionStateDraft,
		Version:         1,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	s.recordEvent(ctx, actor, "decision_created", models.SeverityInfo, &caseRef, map[string]any{
		"decision_id": d.ID.String(),
		"kind":        kind,
	})
	return d, nil
}

// Get returns a decision with draft content redacted for anyone who is not
// the author or an administrator. After signing the rendered artifact is
// the authoritative content.
func (s *DecisionService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.Decision, error) {
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayViewContent(actor, d) {
		d.Content = ""
	}
	return d, nil
}

func (s *DecisionService) List(ctx context.Context, f repositories.DecisionFilter) ([]models.Decision, error) {
	decisions, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	// List is a metadata view; drafts stay private.
	for i := range decisions {
		decisions[i].Content = ""
	}
	return decisions, nil
}

func (s *DecisionService) History(ctx context.Context, actor Actor, id uuid.UUID) ([]models.DecisionHistory, error) {
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.AuthorID != actor.ID && !rbac.HasPermission(actor.Role, rbac.PermViewDraft) {
		return nil, fmt.Errorf("%w: history is restricted to the author", models.ErrNotAuthorized)
	}
	return s.store.History(ctx, id)
}

// Update edits a draft in place. A history snapshot of the pre-update state
// is written before the change applies; the version counter increments.
func (s *DecisionService) Update(ctx context.Context, actor Actor, id uuid.UUID, title, content *string) (*models.Decision, error) {
	d, err := s.store.Mutate(ctx, id, actor.ID, func(d *models.Decision) error {
		if d.AuthorID != actor.ID {
			return fmt.Errorf("%w: only the author may edit", models.ErrNotAuthorized)
		}
		if !models.IsEditable(d.State) {
			return fmt.Errorf("%w: state is %s", models.ErrNotEditable, d.State)
		}
		if title != nil {
			d.Title = *title
		}
		if content != nil {
			d.Content = *content
		}
		d.Version++
		return nil
	})
	if err != nil {
		s.maybeRecordDenial(ctx, actor, "decision_update_denied", id, err)
		return nil, err
	}

	s.recordEvent(ctx, actor, "decision_updated", models.SeverityInfo, &d.CaseRef, map[string]any{
		"decision_id": id.String(),
		"version":     d.Version,
	})
	return d, nil
}

// Prepare moves a draft to ready_to_sign after checking that the content is
// substantial and the author holds a currently valid certificate.
func (s *DecisionService) Prepare(ctx context.Context, actor Actor, id uuid.UUID) (*models.Decision, error) {
	d, err := s.store.Mutate(ctx, id, actor.ID, func(d *models.Decision) error {
		if d.AuthorID != actor.ID {
			return fmt.Errorf("%w: only the author may prepare for signature", models.ErrNotAuthorized)
		}
		if !models.IsValidTransition(d.State, models.DecisionStateReadyToSign) {
			return fmt.Errorf("%w: cannot prepare from %s", models.ErrInvalidState, d.State)
		}
		if len(d.Content) < s.minContentLength {
			return fmt.Errorf("%w: %d chars, minimum %d", models.ErrContentTooShort, len(d.Content), s.minContentLength)
		}
		if !s.signer.HasValidCertificate(actor.ID) {
			return fmt.Errorf("%w: signer %s", models.ErrNoCertificate, actor.ID)
		}
		d.State = models.DecisionStateReadyToSign
		return nil
	})
	if err != nil {
		s.maybeRecordDenial(ctx, actor, "decision_prepare_denied", id, err)
		return nil, err
	}

	s.recordEvent(ctx, actor, "decision_ready_to_sign", models.SeverityInfo, &d.CaseRef, map[string]any{
		"decision_id": id.String(),
	})
	s.publishStateChange(ctx, d)
	return d, nil
}

// Revert moves a ready_to_sign decision back to draft.
func (s *DecisionService) Revert(ctx context.Context, actor Actor, id uuid.UUID) (*models.Decision, error) {
	d, err := s.store.Mutate(ctx, id, actor.ID, func(d *models.Decision) error {
		if d.AuthorID != actor.ID {
			return fmt.Errorf("%w: only the author may revert", models.ErrNotAuthorized)
		}
		if !models.IsValidTransition(d.State, models.DecisionStateDraft) {
			return fmt.Errorf("%w: cannot revert from %s", models.ErrInvalidState, d.State)
		}
		d.State = models.DecisionStateDraft
		return nil
	})
	if err != nil {
		s.maybeRecordDenial(ctx, actor, "decision_revert_denied", id, err)
		return nil, err
	}

	s.recordEvent(ctx, actor, "decision_reverted_to_draft", models.SeverityInfo, &d.CaseRef, map[string]any{
		"decision_id": id.String(),
	})
	s.publishStateChange(ctx, d)
	return d, nil
}

// Sign performs the terminal transition. Under the decision's exclusive lock
// it re-checks authorization and state, renders the final artifact with the
// author's pseudonym, signs it, persists the artifact content-addressed, and
// freezes the record. If any step fails the decision is left untouched. The
// critical audit entry is written only after the transition has committed,
// and never contains the decision content.
func (s *DecisionService) Sign(ctx context.Context, actor Actor, id uuid.UUID) (*models.Decision, error) {
	d, err := s.store.Mutate(ctx, id, actor.ID, func(d *models.Decision) error {
		if d.AuthorID != actor.ID {
			return fmt.Errorf("%w: only the author may sign", models.ErrNotAuthorized)
		}
		if d.State == models.DecisionStateSigned {
			return models.ErrAlreadySigned
		}
		if !models.IsValidTransition(d.State, models.DecisionStateSigned) {
			return fmt.Errorf("%w: cannot sign from %s", models.ErrInvalidState, d.State)
		}
		if len(d.Content) < s.minContentLength {
			return fmt.Errorf("%w: %d chars, minimum %d", models.ErrContentTooShort, len(d.Content), s.minContentLength)
		}

		payload := renderFinalContent(d, s.now().UTC())
		meta, err := s.signer.Sign(actor.ID, payload)
		if err != nil {
			return err
		}

		artifact := composeArtifact(payload, meta)
		artifactHash := signature.CalculateHash(artifact)
		path := storage.ArtifactPath(d.CaseRef, d.ID, artifactHash)
		if err := s.artifacts.Write(ctx, path, artifact); err != nil {
			return fmt.Errorf("store artifact: %w", err)
		}

		d.Signature = meta
		d.ArtifactHash = &artifactHash
		d.ArtifactPath = &path
		d.State = models.DecisionStateSigned
		return nil
	})
	if err != nil {
		s.maybeRecordDenial(ctx, actor, "decision_sign_denied", id, err)
		return nil, err
	}

	s.recordEvent(ctx, actor, "decision_signed", models.SeverityCritical, &d.CaseRef, map[string]any{
		"decision_id":      id.String(),
		"kind":             d.Kind,
		"title":            d.Title,
		"artifact_hash":    derefStr(d.ArtifactHash),
		"cert_fingerprint": d.Signature.CertFingerprint,
	})

	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, events.StreamRegistry, events.Event{
			Type: events.EventDecisionSigned,
			Payload: map[string]any{
				"decision_id": id.String(),
				"case_ref":    d.CaseRef,
				"kind":        d.Kind,
			},
		})
	}
	return d, nil
}

// Annul retires a draft. Signed decisions are permanent; there is no path
// that removes one.
func (s *DecisionService) Annul(ctx context.Context, actor Actor, id uuid.UUID) (*models.Decision, error) {
	d, err := s.store.Mutate(ctx, id, actor.ID, func(d *models.Decision) error {
		if d.AuthorID != actor.ID {
			return fmt.Errorf("%w: only the author may annul", models.ErrNotAuthorized)
		}
		if !models.IsValidTransition(d.State, models.DecisionStateAnnulled) {
			return fmt.Errorf("%w: only drafts may be annulled, state is %s", models.ErrInvalidState, d.State)
		}
		d.State = models.DecisionStateAnnulled
		return nil
	})
	if err != nil {
		s.maybeRecordDenial(ctx, actor, "decision_annul_denied", id, err)
		return nil, err
	}

	s.recordEvent(ctx, actor, "decision_annulled", models.SeverityWarning, &d.CaseRef, map[string]any{
		"decision_id": id.String(),
	})
	s.publishStateChange(ctx, d)
	return d, nil
}

// GetArtifact returns the stored signed artifact bytes.
func (s *DecisionService) GetArtifact(ctx context.Context, id uuid.UUID) ([]byte, error) {
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.State != models.DecisionStateSigned || d.ArtifactPath == nil {
		return nil, fmt.Errorf("%w: decision is not signed", models.ErrInvalidState)
	}
	return s.artifacts.Read(ctx, *d.ArtifactPath)
}

func (s *DecisionService) mayViewContent(actor Actor, d *models.Decision) bool {
	if d.AuthorID == actor.ID {
		return true
	}
	if rbac.HasPermission(actor.Role, rbac.PermViewDraft) {
		return true
	}
	// Once signed, case-level access rules apply; the artifact endpoint is
	// the authoritative read path, metadata content stays hidden here.
	return false
}

func (s *DecisionService) publishStateChange(ctx context.Context, d *models.Decision) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, events.StreamRegistry, events.Event{
		Type: events.EventDecisionStateChanged,
		Payload: map[string]any{
			"decision_id": d.ID.String(),
			"case_ref":    d.CaseRef,
			"state":       d.State,
		},
	})
}

// recordEvent writes the business audit entry. Append failures after a
// committed transition cannot undo the transition; they are logged loudly
// instead of masking a durable success.
func (s *DecisionService) recordEvent(ctx context.Context, actor Actor, eventType, severity string, caseRef *string, payload map[string]any) {
	_, err := s.audit.Append(ctx, models.AuditEvent{
		ActorID:     &actor.ID,
		ActorRole:   actor.Role,
		ActorAddr:   actor.Addr,
		EventType:   eventType,
		Module:      auditModule,
		Description: eventType,
		Severity:    severity,
		CaseRef:     caseRef,
		Payload:     payload,
	})
	if err != nil {
		s.log.Error("audit append failed after committed transition",
			zap.String("event_type", eventType), zap.Error(err))
	}
}

// maybeRecordDenial logs denied attempts (authorization and state errors) as
// distinct lower-severity events so denial patterns stay discoverable.
func (s *DecisionService) maybeRecordDenial(ctx context.Context, actor Actor, eventType string, id uuid.UUID, cause error) {
	if !errors.Is(cause, models.ErrNotAuthorized) &&
		!errors.Is(cause, models.ErrInvalidState) &&
		!errors.Is(cause, models.ErrNotEditable) &&
		!errors.Is(cause, models.ErrAlreadySigned) {
		return
	}
	s.recordDenialPayload(ctx, actor, eventType, nil, cause.Error(), map[string]any{
		"decision_id": id.String(),
	})
}

func (s *DecisionService) recordDenial(ctx context.Context, actor Actor, eventType string, caseRef *string, reason string) {
	s.recordDenialPayload(ctx, actor, eventType, caseRef, reason, nil)
}

func (s *DecisionService) recordDenialPayload(ctx context.Context, actor Actor, eventType string, caseRef *string, reason string, payload map[string]any) {
	_, err := s.audit.Append(ctx, models.AuditEvent{
		ActorID:     &actor.ID,
		ActorRole:   actor.Role,
		ActorAddr:   actor.Addr,
		EventType:   eventType,
		Module:      auditModule,
		Description: reason,
		Severity:    models.SeverityWarning,
		CaseRef:     caseRef,
		Payload:     payload,
	})
	if err != nil {
		s.log.Warn("failed to record denial event", zap.String("event_type", eventType), zap.Error(err))
	}
}

// renderFinalContent builds the byte payload that gets signed. It carries
// the public pseudonym, never the author's raw identity.
func renderFinalContent(d *models.Decision, issuedAt time.Time) []byte {
	return []byte(fmt.Sprintf(
		"COURT DECISION\nCase: %s\nKind: %s\nTitle: %s\nIssued by: %s\nIssued at: %s\nVersion: %d\n\n%s\n",
		d.CaseRef, d.Kind, d.Title, d.AuthorPseudonym,
		issuedAt.Format(time.RFC3339), d.Version, d.Content,
	))
}

// composeArtifact appends the signature block to the signed payload. The
// stored bytes therefore hash differently from the payload itself; both
// hashes are recorded on the decision.
func composeArtifact(payload []byte, meta *models.SignatureMetadata) []byte {
	block := fmt.Sprintf(
		"\n-----BEGIN SIGNATURE-----\nAlgorithm: %s\nCertificate-Fingerprint: %s\nCertificate-Serial: %s\nContent-Hash: %s\nSigned-At: %s\nSignature: %s\n-----END SIGNATURE-----\n",
		meta.Algorithm, meta.CertFingerprint, meta.CertSerial, meta.ContentHash,
		meta.SignedAt.Format(time.RFC3339), base64.StdEncoding.EncodeToString(meta.Signature),
	)
	return append(append([]byte{}, payload...), []byte(block)...)
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
