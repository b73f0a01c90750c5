package events

import "context"

// Event types
const (
	EventDecisionStateChanged = "decision_state_changed"
	EventDecisionSigned       = "decision_signed"
	EventSecurityAlert        = "security_alert"
	EventIntegrityMismatch    = "integrity_mismatch"
)

// StreamRegistry is the pub/sub channel all registry events go to.
const StreamRegistry = "events:registry"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Publisher delivers best-effort notifications. Failures are logged and
// dropped; publishing never sits on the transactional path of an append or
// a signature.
type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
