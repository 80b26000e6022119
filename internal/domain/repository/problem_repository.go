package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
)

type ProblemRepository interface {
	CreateProblem(ctx context.Context, tx *sql.Tx, problem *model.Problem) error
	UpdateProblemStatus(ctx context.Context, tx *sql.Tx, id string, status model.ProblemStatus) error
	FindProblemByID(ctx context.Context, tx *sql.Tx, id string) (*model.Problem, error)
	FindProblemBySlug(ctx context.Context, slug string) (*model.Problem, error)
	ListProblems(ctx context.Context, limit, offset int, division model.Division, status model.ProblemStatus, searchTerm string) ([]model.Problem, int, error)

	AddTestCasesToProblem(ctx context.Context, tx *sql.Tx, problemID string, testCases []model.TestCase) error
	// GetTestCasesByProblemID returns every case in stored order; the grader
	// relies on the slice index matching the stored index.
	GetTestCasesByProblemID(ctx context.Context, problemID string) ([]model.TestCase, error)

	// ListPublishedProblemIDs returns the published pool for a division, or
	// every published problem when division is empty.
	ListPublishedProblemIDs(ctx context.Context, tx *sql.Tx, division model.Division) ([]string, error)
}

type pgProblemRepository struct {
	db *sql.DB
}

func NewPgProblemRepository(db *sql.DB) ProblemRepository {
	return &pgProblemRepository{db: db}
}

const problemColumns = `id, title, slug, statement, division, status, time_limit_ms, memory_limit_kb,
	checker, float_tolerance, created_by, created_at, updated_at`

func scanProblem(row rowScanner) (*model.Problem, error) {
	p := &model.Problem{}
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Statement, &p.Division, &p.Status,
		&p.TimeLimitMs, &p.MemoryLimitKb, &p.Checker, &p.FloatTolerance, &p.CreatedByID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *pgProblemRepository) CreateProblem(ctx context.Context, tx *sql.Tx, p *model.Problem) error {
	query := `INSERT INTO problems (id, title, slug, statement, division, status, time_limit_ms, memory_limit_kb, checker, float_tolerance, created_by)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := conn(r.db, tx).ExecContext(ctx, query, p.ID, p.Title, p.Slug, p.Statement, p.Division, p.Status,
		p.TimeLimitMs, p.MemoryLimitKb, p.Checker, p.FloatTolerance, p.CreatedByID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("problem with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgProblemRepository.CreateProblem: %w", err)
	}
	return nil
}

func (r *pgProblemRepository) UpdateProblemStatus(ctx context.Context, tx *sql.Tx, id string, status model.ProblemStatus) error {
	res, err := conn(r.db, tx).ExecContext(ctx,
		`UPDATE problems SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("pgProblemRepository.UpdateProblemStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *pgProblemRepository) FindProblemByID(ctx context.Context, tx *sql.Tx, id string) (*model.Problem, error) {
	query := `SELECT ` + problemColumns + ` FROM problems WHERE id = $1`
	p, err := scanProblem(conn(r.db, tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProblemRepository.FindProblemByID: %w", err)
	}
	return p, nil
}

func (r *pgProblemRepository) FindProblemBySlug(ctx context.Context, slug string) (*model.Problem, error) {
	query := `SELECT ` + problemColumns + ` FROM problems WHERE slug = $1`
	p, err := scanProblem(r.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProblemRepository.FindProblemBySlug: %w", err)
	}
	return p, nil
}

func (r *pgProblemRepository) ListProblems(ctx context.Context, limit, offset int, division model.Division, status model.ProblemStatus, searchTerm string) ([]model.Problem, int, error) {
	var conditions []string
	var args []any
	argID := 1

	if division != "" {
		conditions = append(conditions, fmt.Sprintf("division = $%d", argID))
		args = append(args, division)
		argID++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argID))
		args = append(args, status)
		argID++
	}
	if searchTerm != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR statement ILIKE $%d)", argID, argID))
		args = append(args, "%"+searchTerm+"%")
		argID++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problems`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgProblemRepository.ListProblems count: %w", err)
	}

	query := `SELECT ` + problemColumns + ` FROM problems` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argID, argID+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgProblemRepository.ListProblems query: %w", err)
	}
	defer rows.Close()

	problems := []model.Problem{}
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("pgProblemRepository.ListProblems scan: %w", err)
		}
		problems = append(problems, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgProblemRepository.ListProblems rows.Err: %w", err)
	}
	return problems, total, nil
}

func (r *pgProblemRepository) AddTestCasesToProblem(ctx context.Context, tx *sql.Tx, problemID string, testCases []model.TestCase) error {
	if len(testCases) == 0 {
		return nil
	}
	if tx == nil {
		return fmt.Errorf("pgProblemRepository.AddTestCasesToProblem: transaction required")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO test_cases (id, problem_id, input, expected_output, is_hidden, score_weight, group_name, sort_order)
	                                      VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("pgProblemRepository.AddTestCasesToProblem prepare: %w", err)
	}
	defer stmt.Close()

	for i, tc := range testCases {
		_, err := stmt.ExecContext(ctx, tc.ID, problemID, tc.Input, tc.ExpectedOutput, tc.IsHidden, tc.ScoreWeight, tc.GroupName, i)
		if err != nil {
			return fmt.Errorf("pgProblemRepository.AddTestCasesToProblem exec for test case %s: %w", tc.ID, err)
		}
	}
	return nil
}

func (r *pgProblemRepository) GetTestCasesByProblemID(ctx context.Context, problemID string) ([]model.TestCase, error) {
	query := `SELECT id, problem_id, input, expected_output, is_hidden, score_weight, group_name, sort_order, created_at
	          FROM test_cases WHERE problem_id = $1 ORDER BY sort_order ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, problemID)
	if err != nil {
		return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID query: %w", err)
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.ProblemID, &tc.Input, &tc.ExpectedOutput, &tc.IsHidden,
			&tc.ScoreWeight, &tc.GroupName, &tc.SortOrder, &tc.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID scan: %w", err)
		}
		cases = append(cases, tc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID rows.Err: %w", err)
	}
	return cases, nil
}

func (r *pgProblemRepository) ListPublishedProblemIDs(ctx context.Context, tx *sql.Tx, division model.Division) ([]string, error) {
	query := `SELECT id FROM problems WHERE status = $1`
	args := []any{model.StatusPublished}
	if division != "" {
		query += ` AND division = $2`
		args = append(args, division)
	}
	query += ` ORDER BY id`

	rows, err := conn(r.db, tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgProblemRepository.ListPublishedProblemIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgProblemRepository.ListPublishedProblemIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
