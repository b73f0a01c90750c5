package models

import (
	"time"

	"github.com/google/uuid"
)

// Decision states
const (
	DecisionStateDraft       = "draft"
	DecisionStateReadyToSign = "ready_to_sign"
	DecisionStateSigned      = "signed"
	DecisionStateAnnulled    = "annulled"
)

// Decision kinds
const (
	DecisionKindRuling   = "ruling"
	DecisionKindOrder    = "order"
	DecisionKindSentence = "sentence"
)

// Valid state transitions: from -> []to. signed and annulled are terminal.
var ValidDecisionTransitions = map[string][]string{
	DecisionStateDraft:       {DecisionStateReadyToSign, DecisionStateSigned, DecisionStateAnnulled},
	DecisionStateReadyToSign: {DecisionStateSigned, DecisionStateDraft},
	DecisionStateSigned:      {},
	DecisionStateAnnulled:    {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDecisionTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsValidDecisionKind(kind string) bool {
	return kind == DecisionKindRuling || kind == DecisionKindOrder || kind == DecisionKindSentence
}

// IsEditable reports whether draft fields may still change.
func IsEditable(state string) bool {
	return state == DecisionStateDraft || state == DecisionStateReadyToSign
}

type Decision struct {
	ID              uuid.UUID          `json:"id"`
	CaseRef         string             `json:"case_ref"`
	AuthorID        uuid.UUID          `json:"-"`
	AuthorPseudonym string             `json:"author_pseudonym"`
	Kind            string             `json:"kind"` // ruling / order / sentence
	Title           string             `json:"title"`
	Content         string             `json:"content,omitempty"`
	State           string             `json:"state"`
	Version         int                `json:"version"`
	Signature       *SignatureMetadata `json:"signature,omitempty"`
	ArtifactHash    *string            `json:"artifact_hash,omitempty"`
	ArtifactPath    *string            `json:"-"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// SignatureMetadata is immutable once the decision is signed.
type SignatureMetadata struct {
	CertFingerprint string    `json:"cert_fingerprint"`
	CertSerial      string    `json:"cert_serial"`
	Algorithm       string    `json:"algorithm"`
	Signature       []byte    `json:"signature"`
	ContentHash     string    `json:"content_hash"`
	SignedAt        time.Time `json:"signed_at"`
}

// DecisionHistory is an append-only snapshot taken before each mutation.
type DecisionHistory struct {
	ID         uuid.UUID `json:"id"`
	DecisionID uuid.UUID `json:"decision_id"`
	Seq        int       `json:"seq"`
	Version    int       `json:"version"`
	State      string    `json:"state"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	ActorID    uuid.UUID `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Case is the minimal view this service needs of a court case: who is the
// assigned judge and which pseudonym represents them publicly.
type Case struct {
	CaseRef         string    `json:"case_ref"`
	AssignedJudgeID uuid.UUID `json:"-"`
	JudgePseudonym  string    `json:"judge_pseudonym"`
	CreatedAt       time.Time `json:"created_at"`
}
