package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/court-registry/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlgorithmEd25519 is the only signing algorithm the registry issues
// certificates for today.
const AlgorithmEd25519 = "Ed25519"

// CertStore resolves a signer to their certificate and private key.
// Issuance and revocation live outside this service; we only consume.
type CertStore interface {
	Load(signerID uuid.UUID) (*x509.Certificate, ed25519.PrivateKey, error)
}

// Provider produces digital signatures bound to a signer's certificate.
type Provider struct {
	store CertStore
	log   *zap.Logger
	now   func() time.Time
}

func NewProvider(store CertStore, log *zap.Logger) *Provider {
	return &Provider{store: store, log: log, now: time.Now}
}

// WithClock substitutes the time source, for tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// HasValidCertificate reports whether a certificate exists for the signer
// and the current time falls inside its validity window.
func (p *Provider) HasValidCertificate(signerID uuid.UUID) bool {
	cert, _, err := p.store.Load(signerID)
	if err != nil {
		return false
	}
	now := p.now()
	return !now.Before(cert.NotBefore) && !now.After(cert.NotAfter)
}

// Sign signs payload with the signer's certificate key and returns the
// signature metadata. The payload itself never leaves this process.
func (p *Provider) Sign(signerID uuid.UUID, payload []byte) (*models.SignatureMetadata, error) {
	cert, key, err := p.store.Load(signerID)
	if err != nil {
		return nil, fmt.Errorf("%w: signer %s", models.ErrNoCertificate, signerID)
	}

	now := p.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("%w: valid %s to %s",
			models.ErrCertificateExpired,
			cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))
	}

	if len(key) != ed25519.PrivateKeySize {
		p.log.Error("signing key unusable", zap.String("signer_id", signerID.String()))
		return nil, fmt.Errorf("%w: malformed private key", models.ErrSigningUnavailable)
	}

	certPub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok || !certPub.Equal(key.Public()) {
		return nil, fmt.Errorf("%w: key does not match certificate", models.ErrSigningUnavailable)
	}

	sig := ed25519.Sign(key, payload)

	fp := sha256.Sum256(cert.Raw)
	return &models.SignatureMetadata{
		CertFingerprint: hex.EncodeToString(fp[:]),
		CertSerial:      cert.SerialNumber.String(),
		Algorithm:       AlgorithmEd25519,
		Signature:       sig,
		ContentHash:     CalculateHash(payload),
		SignedAt:        now.UTC(),
	}, nil
}

// Verify checks a signature produced by Sign against the signer's
// certificate public key.
func (p *Provider) Verify(signerID uuid.UUID, payload, sig []byte) bool {
	cert, _, err := p.store.Load(signerID)
	if err != nil {
		return false
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// CalculateHash returns the hex sha256 digest of b.
func CalculateHash(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
