package signature

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileCertStore loads per-signer certificate/key PEM pairs from a directory:
// <dir>/<signer-id>.crt and <dir>/<signer-id>.key. Files are provisioned by
// the external certificate authority tooling; we only read them.
type FileCertStore struct {
	dir string

	mu    sync.RWMutex
	cache map[uuid.UUID]certPair
}

type certPair struct {
	cert *x509.Certificate
	key  ed25519.PrivateKey
}

func NewFileCertStore(dir string) *FileCertStore {
	return &FileCertStore{dir: dir, cache: make(map[uuid.UUID]certPair)}
}

func (s *FileCertStore) Load(signerID uuid.UUID) (*x509.Certificate, ed25519.PrivateKey, error) {
	s.mu.RLock()
	if p, ok := s.cache[signerID]; ok {
		s.mu.RUnlock()
		return p.cert, p.key, nil
	}
	s.mu.RUnlock()

	cert, err := s.readCert(signerID)
	if err != nil {
		return nil, nil, err
	}
	key, err := s.readKey(signerID)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.cache[signerID] = certPair{cert: cert, key: key}
	s.mu.Unlock()

	return cert, key, nil
}

// Invalidate drops a cached pair, e.g. after the CA rotates a certificate.
func (s *FileCertStore) Invalidate(signerID uuid.UUID) {
	s.mu.Lock()
	delete(s.cache, signerID)
	s.mu.Unlock()
}

func (s *FileCertStore) readCert(signerID uuid.UUID) (*x509.Certificate, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, signerID.String()+".crt"))
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no CERTIFICATE block in %s.crt", signerID)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

func (s *FileCertStore) readKey(signerID uuid.UUID) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, signerID.String()+".key"))
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("no PRIVATE KEY block in %s.key", signerID)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key for %s is not Ed25519", signerID)
	}
	return key, nil
}
