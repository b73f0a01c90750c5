package models

import "errors"

// Failure taxonomy shared by services and handlers. Services wrap these with
// context via fmt.Errorf("...: %w", err); handlers match with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrInvalidState       = errors.New("invalid state for this transition")
	ErrNotEditable        = errors.New("decision is no longer editable")
	ErrContentTooShort    = errors.New("decision content is too short")
	ErrNoCertificate      = errors.New("no certificate for signer")
	ErrCertificateExpired = errors.New("certificate expired")
	ErrSigningUnavailable = errors.New("signing backend unavailable")
	ErrAlreadySigned      = errors.New("decision already signed")
)
