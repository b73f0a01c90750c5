package repositories

import (
	"context"
	"errors"

	"github.com/court-registry/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CaseRepo is the local stand-in for the case-management collaborator. The
// registry only needs to answer "who is the assigned judge" and to read the
// judge's public pseudonym.
type CaseRepo struct {
	pool *pgxpool.Pool
}

func NewCaseRepo(pool *pgxpool.Pool) *CaseRepo {
	return &CaseRepo{pool: pool}
}

func (r *CaseRepo) GetByRef(ctx context.Context, caseRef string) (*models.Case, error) {
	var c models.Case
	err := r.pool.QueryRow(ctx, `
		SELECT case_ref, assigned_judge_id, judge_pseudonym, created_at
		FROM cases WHERE case_ref = $1
	`, caseRef).Scan(&c.CaseRef, &c.AssignedJudgeID, &c.JudgePseudonym, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CaseRepo) Create(ctx context.Context, c *models.Case) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO cases (case_ref, assigned_judge_id, judge_pseudonym)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, c.CaseRef, c.AssignedJudgeID, c.JudgePseudonym).Scan(&c.CreatedAt)
}

func (r *CaseRepo) Reassign(ctx context.Context, caseRef string, judgeID uuid.UUID, pseudonym string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE cases SET assigned_judge_id = $1, judge_pseudonym = $2 WHERE case_ref = $3
	`, judgeID, pseudonym, caseRef)
	return err
}
