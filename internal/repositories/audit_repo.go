package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/court-registry/backend/internal/hashchain"
	"github.com/court-registry/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// chainLockKey scopes the advisory lock that linearizes appends. Every
// append takes it for the duration of its transaction, so two writers can
// never read the same head.
const chainLockKey = 7421002

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

const auditColumns = `seq, ts, actor_id, actor_role, actor_addr, event_type, module, description, severity, case_ref, payload, hash, prev_hash`

// Append writes one chained entry. Inside a single transaction it takes the
// chain advisory lock, reads the current head, computes the new entry's hash
// over its fields plus the head hash, and inserts. Either the entry commits
// durably or the caller gets an error; there is no in-between.
func (r *AuditRepo) Append(ctx context.Context, event models.AuditEvent, ts time.Time) (*models.AuditEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", chainLockKey); err != nil {
		return nil, fmt.Errorf("acquire chain lock: %w", err)
	}

	var headSeq int64
	var headHash *string
	err = tx.QueryRow(ctx, "SELECT seq, hash FROM audit_log ORDER BY seq DESC LIMIT 1").Scan(&headSeq, &headHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read chain head: %w", err)
	}

	entry := models.AuditEntry{
		Seq:         headSeq + 1,
		Timestamp:   ts.UTC().Truncate(time.Microsecond),
		ActorID:     event.ActorID,
		ActorRole:   event.ActorRole,
		ActorAddr:   event.ActorAddr,
		EventType:   event.EventType,
		Module:      event.Module,
		Description: event.Description,
		Severity:    event.Severity,
		CaseRef:     event.CaseRef,
		Payload:     event.Payload,
		PrevHash:    headHash,
	}

	// Serialize the payload exactly once. These bytes go into the hash and
	// into the payload column unchanged, so verification can hash the stored
	// text verbatim instead of a lossy map round trip.
	var payloadText *string
	if len(event.Payload) > 0 {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		entry.PayloadRaw = b
		s := string(b)
		payloadText = &s
	}

	entry.Hash, err = hashchain.ComputeHash(entry, headHash)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, entry.Seq, entry.Timestamp, entry.ActorID, entry.ActorRole, entry.ActorAddr,
		entry.EventType, entry.Module, entry.Description, entry.Severity,
		entry.CaseRef, payloadText, entry.Hash, entry.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit entry: %w", err)
	}
	return &entry, nil
}

type AuditFilter struct {
	ActorID   *string
	EventType *string
	Module    *string
	CaseRef   *string
	From      *time.Time
	To        *time.Time
}

func (f AuditFilter) whereClause() (string, []any) {
	args := []any{}
	where := ""
	add := func(cond string, v any) {
		args = append(args, v)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, len(args))
	}

	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.EventType != nil {
		add("event_type = $%d", *f.EventType)
	}
	if f.Module != nil {
		add("module = $%d", *f.Module)
	}
	if f.CaseRef != nil {
		add("case_ref = $%d", *f.CaseRef)
	}
	if f.From != nil {
		add("ts >= $%d", *f.From)
	}
	if f.To != nil {
		add("ts <= $%d", *f.To)
	}
	return where, args
}

// Query returns one page ordered by timestamp descending plus the total
// match count for the filter.
func (r *AuditRepo) Query(ctx context.Context, f AuditFilter, page, pageSize int) ([]models.AuditEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	where, args := f.whereClause()

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		"SELECT "+auditColumns+" FROM audit_log"+where+" ORDER BY ts DESC, seq DESC LIMIT $%d OFFSET $%d",
		len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Export streams filtered rows in ascending order up to limit rows.
func (r *AuditRepo) Export(ctx context.Context, f AuditFilter, limit int) ([]models.AuditEntry, error) {
	where, args := f.whereClause()
	query := fmt.Sprintf("SELECT "+auditColumns+" FROM audit_log"+where+" ORDER BY seq ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListRange loads entries with fromSeq <= seq <= toSeq in ascending order.
// toSeq <= 0 means no upper bound.
func (r *AuditRepo) ListRange(ctx context.Context, fromSeq, toSeq int64) ([]models.AuditEntry, error) {
	query := "SELECT " + auditColumns + " FROM audit_log WHERE seq >= $1"
	args := []any{fromSeq}
	if toSeq > 0 {
		query += " AND seq <= $2"
		args = append(args, toSeq)
	}
	query += " ORDER BY seq ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// HashBefore returns the stored hash of the entry immediately preceding seq,
// used as the expected head when verifying a sub-range of the chain.
func (r *AuditRepo) HashBefore(ctx context.Context, seq int64) (*string, error) {
	var hash string
	err := r.pool.QueryRow(ctx, "SELECT hash FROM audit_log WHERE seq < $1 ORDER BY seq DESC LIMIT 1", seq).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hash, nil
}

func scanEntries(rows pgx.Rows) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var payloadJSON []byte
		if err := rows.Scan(&e.Seq, &e.Timestamp, &e.ActorID, &e.ActorRole, &e.ActorAddr,
			&e.EventType, &e.Module, &e.Description, &e.Severity,
			&e.CaseRef, &payloadJSON, &e.Hash, &e.PrevHash); err != nil {
			return nil, err
		}
		if len(payloadJSON) > 0 {
			e.PayloadRaw = payloadJSON
			_ = json.Unmarshal(payloadJSON, &e.Payload)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
