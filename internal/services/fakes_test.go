package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/court-registry/backend/internal/hashchain"
	"github.com/court-registry/backend/internal/models"
	"github.com/court-registry/backend/internal/repositories"
	"github.com/court-registry/backend/internal/signature"
	"github.com/google/uuid"
)

// fakeAuditStore mirrors the repository's locking discipline: one mutex
// plays the role of the advisory lock, so concurrent appends serialize and
// the chain never forks.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditEntry

	failAppend bool
}

func (f *fakeAuditStore) Append(ctx context.Context, event models.AuditEvent, ts time.Time) (*models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAppend {
		return nil, fmt.Errorf("simulated storage failure")
	}

	var prev *string
	var seq int64 = 1
	if n := len(f.entries); n > 0 {
		prev = &f.entries[n-1].Hash
		seq = f.entries[n-1].Seq + 1
	}

	entry := models.AuditEntry{
		Seq:         seq,
		Timestamp:   ts.UTC().Truncate(time.Microsecond),
		ActorID:     event.ActorID,
		ActorRole:   event.ActorRole,
		ActorAddr:   event.ActorAddr,
		EventType:   event.EventType,
		Module:      event.Module,
		Description: event.Description,
		Severity:    event.Severity,
		CaseRef:     event.CaseRef,
		PrevHash:    prev,
	}

	// Mirror the repository's persistence round trip: hash the serialized
	// payload bytes, keep them on the entry, and rebuild the map the way a
	// later load would.
	if len(event.Payload) > 0 {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return nil, err
		}
		entry.PayloadRaw = raw
		_ = json.Unmarshal(raw, &entry.Payload)
	}

	hash, err := hashchain.ComputeHash(entry, prev)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash
	f.entries = append(f.entries, entry)
	return &entry, nil
}

func (f *fakeAuditStore) matches(e models.AuditEntry, filter repositories.AuditFilter) bool {
	if filter.ActorID != nil {
		if e.ActorID == nil || e.ActorID.String() != *filter.ActorID {
			return false
		}
	}
	if filter.EventType != nil && e.EventType != *filter.EventType {
		return false
	}
	if filter.Module != nil && e.Module != *filter.Module {
		return false
	}
	if filter.CaseRef != nil && (e.CaseRef == nil || *e.CaseRef != *filter.CaseRef) {
		return false
	}
	if filter.From != nil && e.Timestamp.Before(*filter.From) {
		return false
	}
	if filter.To != nil && e.Timestamp.After(*filter.To) {
		return false
	}
	return true
}

func (f *fakeAuditStore) Query(ctx context.Context, filter repositories.AuditFilter, page, pageSize int) ([]models.AuditEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	var all []models.AuditEntry
	for _, e := range f.entries {
		if f.matches(e, filter) {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })

	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (f *fakeAuditStore) Export(ctx context.Context, filter repositories.AuditFilter, limit int) ([]models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []models.AuditEntry
	for _, e := range f.entries {
		if f.matches(e, filter) {
			all = append(all, e)
			if len(all) >= limit {
				break
			}
		}
	}
	return all, nil
}

func (f *fakeAuditStore) ListRange(ctx context.Context, fromSeq, toSeq int64) ([]models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.AuditEntry
	for _, e := range f.entries {
		if e.Seq >= fromSeq && (toSeq <= 0 || e.Seq <= toSeq) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAuditStore) HashBefore(ctx context.Context, seq int64) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var hash *string
	for i := range f.entries {
		if f.entries[i].Seq < seq {
			hash = &f.entries[i].Hash
		}
	}
	return hash, nil
}

func (f *fakeAuditStore) byEventType(eventType string) []models.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.AuditEntry
	for _, e := range f.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeDecisionStore keeps decisions in memory with the same per-decision
// exclusive locking Mutate guarantees in Postgres.
type fakeDecisionStore struct {
	mu        sync.Mutex
	rowLocks  map[uuid.UUID]*sync.Mutex
	decisions map[uuid.UUID]models.Decision
	history   map[uuid.UUID][]models.DecisionHistory
}

func newFakeDecisionStore() *fakeDecisionStore {
	return &fakeDecisionStore{
		rowLocks:  make(map[uuid.UUID]*sync.Mutex),
		decisions: make(map[uuid.UUID]models.Decision),
		history:   make(map[uuid.UUID][]models.DecisionHistory),
	}
}

func (f *fakeDecisionStore) rowLock(id uuid.UUID) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rowLocks[id]; !ok {
		f.rowLocks[id] = &sync.Mutex{}
	}
	return f.rowLocks[id]
}

func (f *fakeDecisionStore) Create(ctx context.Context, d *models.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	f.decisions[d.ID] = cloneDecision(*d)
	return nil
}

func (f *fakeDecisionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.decisions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := cloneDecision(d)
	return &out, nil
}

func (f *fakeDecisionStore) List(ctx context.Context, filter repositories.DecisionFilter) ([]models.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Decision
	for _, d := range f.decisions {
		if filter.CaseRef != nil && d.CaseRef != *filter.CaseRef {
			continue
		}
		if filter.AuthorID != nil && d.AuthorID != *filter.AuthorID {
			continue
		}
		if filter.State != nil && d.State != *filter.State {
			continue
		}
		out = append(out, cloneDecision(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeDecisionStore) ListSigned(ctx context.Context, limit, offset int) ([]models.Decision, error) {
	state := models.DecisionStateSigned
	return f.List(ctx, repositories.DecisionFilter{State: &state, Limit: limit, Offset: offset})
}

func (f *fakeDecisionStore) Mutate(ctx context.Context, id uuid.UUID, actorID uuid.UUID, fn func(d *models.Decision) error) (*models.Decision, error) {
	lock := f.rowLock(id)
	lock.Lock()
	defer lock.Unlock()

	f.mu.Lock()
	stored, ok := f.decisions[id]
	f.mu.Unlock()
	if !ok {
		return nil, models.ErrNotFound
	}

	snapshot := cloneDecision(stored)
	working := cloneDecision(stored)
	if err := fn(&working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()

	f.mu.Lock()
	f.history[id] = append(f.history[id], models.DecisionHistory{
		ID:         uuid.New(),
		DecisionID: id,
		Seq:        len(f.history[id]) + 1,
		Version:    snapshot.Version,
		State:      snapshot.State,
		Title:      snapshot.Title,
		Content:    snapshot.Content,
		ActorID:    actorID,
		CreatedAt:  time.Now().UTC(),
	})
	f.decisions[id] = cloneDecision(working)
	f.mu.Unlock()

	out := cloneDecision(working)
	return &out, nil
}

func (f *fakeDecisionStore) History(ctx context.Context, decisionID uuid.UUID) ([]models.DecisionHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DecisionHistory{}, f.history[decisionID]...), nil
}

func cloneDecision(d models.Decision) models.Decision {
	out := d
	if d.Signature != nil {
		sig := *d.Signature
		sig.Signature = append([]byte{}, d.Signature.Signature...)
		out.Signature = &sig
	}
	if d.ArtifactHash != nil {
		h := *d.ArtifactHash
		out.ArtifactHash = &h
	}
	if d.ArtifactPath != nil {
		p := *d.ArtifactPath
		out.ArtifactPath = &p
	}
	return out
}

type fakeCaseDirectory struct {
	cases map[string]models.Case
}

func (f *fakeCaseDirectory) GetByRef(ctx context.Context, caseRef string) (*models.Case, error) {
	c, ok := f.cases[caseRef]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

// fakeSigner signs with a real in-memory ed25519 key so signatures are
// genuine, without touching the certificate store.
type fakeSigner struct {
	mu    sync.Mutex
	keys  map[uuid.UUID]ed25519.PrivateKey
	valid map[uuid.UUID]bool

	failWith error
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{
		keys:  make(map[uuid.UUID]ed25519.PrivateKey),
		valid: make(map[uuid.UUID]bool),
	}
}

func (f *fakeSigner) addSigner(id uuid.UUID) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	f.mu.Lock()
	f.keys[id] = priv
	f.valid[id] = true
	f.mu.Unlock()
}

func (f *fakeSigner) HasValidCertificate(signerID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid[signerID]
}

func (f *fakeSigner) Sign(signerID uuid.UUID, payload []byte) (*models.SignatureMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}
	key, ok := f.keys[signerID]
	if !ok {
		return nil, models.ErrNoCertificate
	}
	if !f.valid[signerID] {
		return nil, models.ErrCertificateExpired
	}
	return &models.SignatureMetadata{
		CertFingerprint: signature.CalculateHash([]byte(signerID.String())),
		CertSerial:      "1",
		Algorithm:       signature.AlgorithmEd25519,
		Signature:       ed25519.Sign(key, payload),
		ContentHash:     signature.CalculateHash(payload),
		SignedAt:        time.Now().UTC(),
	}, nil
}

// memArtifacts is an in-memory artifact store with corruptible contents.
type memArtifacts struct {
	mu    sync.Mutex
	blobs map[string][]byte

	failWrite bool
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{blobs: make(map[string][]byte)}
}

func (m *memArtifacts) Write(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return fmt.Errorf("simulated write failure")
	}
	m.blobs[path] = append([]byte{}, data...)
	return nil
}

func (m *memArtifacts) Read(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, fmt.Errorf("artifact not found: %s", path)
	}
	return append([]byte{}, data...), nil
}

func (m *memArtifacts) corrupt(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[path]
	if !ok || len(data) == 0 {
		return false
	}
	data[0] ^= 0xff
	return true
}
