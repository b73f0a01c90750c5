package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/court-registry/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DecisionRepo struct {
	pool *pgxpool.Pool
}

func NewDecisionRepo(pool *pgxpool.Pool) *DecisionRepo {
	return &DecisionRepo{pool: pool}
}

const decisionColumns = `id, case_ref, author_id, author_pseudonym, kind, title, content, state, version,
	signed_at, cert_fingerprint, cert_serial, sig_algorithm, signature, content_hash,
	artifact_hash, artifact_path, created_at, updated_at`

func (r *DecisionRepo) Create(ctx context.Context, d *models.Decision) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO decisions (case_ref, author_id, author_pseudonym, kind, title, content, state, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, d.CaseRef, d.AuthorID, d.AuthorPseudonym, d.Kind, d.Title, d.Content, d.State, d.Version,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DecisionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Decision, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+decisionColumns+" FROM decisions WHERE id = $1", id)
	d, err := scanDecision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return d, err
}

type DecisionFilter struct {
	CaseRef  *string
	AuthorID *uuid.UUID
	State    *string
	Limit    int
	Offset   int
}

func (r *DecisionRepo) List(ctx context.Context, f DecisionFilter) ([]models.Decision, error) {
	query := "SELECT " + decisionColumns + " FROM decisions"
	args := []any{}
	where := []string{}

	if f.CaseRef != nil {
		args = append(args, *f.CaseRef)
		where = append(where, fmt.Sprintf("case_ref = $%d", len(args)))
	}
	if f.AuthorID != nil {
		args = append(args, *f.AuthorID)
		where = append(where, fmt.Sprintf("author_id = $%d", len(args)))
	}
	if f.State != nil {
		args = append(args, *f.State)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}

	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

// ListSigned returns signed decisions in creation order, for integrity sweeps.
func (r *DecisionRepo) ListSigned(ctx context.Context, limit, offset int) ([]models.Decision, error) {
	state := models.DecisionStateSigned
	return r.List(ctx, DecisionFilter{State: &state, Limit: limit, Offset: offset})
}

// Mutate runs fn against the decision row while holding its row lock. The
// pre-mutation snapshot goes to decision_history and the mutated row is
// written back, all in one transaction. If fn returns an error nothing is
// persisted. Concurrent Mutate calls on the same decision serialize on the
// FOR UPDATE lock; the later one observes the committed state of the first.
func (r *DecisionRepo) Mutate(ctx context.Context, id uuid.UUID, actorID uuid.UUID, fn func(d *models.Decision) error) (*models.Decision, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mutate: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, "SELECT "+decisionColumns+" FROM decisions WHERE id = $1 FOR UPDATE", id)
	d, err := scanDecision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	snapshot := *d
	if err := fn(d); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO decision_history (decision_id, seq, version, state, title, content, actor_id)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM decision_history WHERE decision_id = $1), $2, $3, $4, $5, $6)
	`, id, snapshot.Version, snapshot.State, snapshot.Title, snapshot.Content, actorID)
	if err != nil {
		return nil, fmt.Errorf("insert history snapshot: %w", err)
	}

	var sigMeta struct {
		signedAt    any
		fingerprint *string
		serial      *string
		algorithm   *string
		signature   []byte
		contentHash *string
	}
	if d.Signature != nil {
		sigMeta.signedAt = d.Signature.SignedAt
		sigMeta.fingerprint = &d.Signature.CertFingerprint
		sigMeta.serial = &d.Signature.CertSerial
		sigMeta.algorithm = &d.Signature.Algorithm
		sigMeta.signature = d.Signature.Signature
		sigMeta.contentHash = &d.Signature.ContentHash
	}

	_, err = tx.Exec(ctx, `
		UPDATE decisions SET
			title = $1, content = $2, state = $3, version = $4,
			signed_at = $5, cert_fingerprint = $6, cert_serial = $7, sig_algorithm = $8,
			signature = $9, content_hash = $10, artifact_hash = $11, artifact_path = $12,
			updated_at = now()
		WHERE id = $13
	`, d.Title, d.Content, d.State, d.Version,
		sigMeta.signedAt, sigMeta.fingerprint, sigMeta.serial, sigMeta.algorithm,
		sigMeta.signature, sigMeta.contentHash, d.ArtifactHash, d.ArtifactPath, id)
	if err != nil {
		return nil, fmt.Errorf("update decision: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mutate: %w", err)
	}
	return d, nil
}

func (r *DecisionRepo) History(ctx context.Context, decisionID uuid.UUID) ([]models.DecisionHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, decision_id, seq, version, state, title, content, actor_id, created_at
		FROM decision_history WHERE decision_id = $1 ORDER BY seq ASC
	`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.DecisionHistory
	for rows.Next() {
		var h models.DecisionHistory
		if err := rows.Scan(&h.ID, &h.DecisionID, &h.Seq, &h.Version, &h.State,
			&h.Title, &h.Content, &h.ActorID, &h.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func scanDecision(row pgx.Row) (*models.Decision, error) {
	var d models.Decision
	var signedAt *time.Time
	var fingerprint, serial, algorithm, contentHash *string
	var sig []byte

	err := row.Scan(&d.ID, &d.CaseRef, &d.AuthorID, &d.AuthorPseudonym, &d.Kind, &d.Title,
		&d.Content, &d.State, &d.Version,
		&signedAt, &fingerprint, &serial, &algorithm, &sig, &contentHash,
		&d.ArtifactHash, &d.ArtifactPath, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if fingerprint != nil && signedAt != nil {
		d.Signature = &models.SignatureMetadata{
			CertFingerprint: *fingerprint,
			CertSerial:      deref(serial),
			Algorithm:       deref(algorithm),
			Signature:       sig,
			ContentHash:     deref(contentHash),
			SignedAt:        signedAt.UTC(),
		}
	}
	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
