package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
)

type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error
	GetSubmissionByID(ctx context.Context, tx *sql.Tx, id string) (*model.Submission, error)

	// ClaimPending moves a PENDING submission to RUNNING and returns the new
	// judge attempt. claimed is false when the row was not PENDING.
	ClaimPending(ctx context.Context, id string) (attempt int, claimed bool, err error)
	// CompleteJudging stores a verdict for the attempt that claimed the row.
	CompleteJudging(ctx context.Context, id string, attempt int, v model.Verdict, judgedAt time.Time) (bool, error)
	// ResetForRejudge returns a terminal submission, or one stuck RUNNING since
	// before staleBefore, to PENDING with all diagnostics cleared. detail
	// replaces the stored detail and carries the creation-time flags.
	ResetForRejudge(ctx context.Context, id string, staleBefore time.Time, detail model.SubmissionDetail) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]string, error)

	ListSubmissionsByUser(ctx context.Context, userID string, limit, offset int) ([]model.Submission, error)
	ListBattleSubmissions(ctx context.Context, tx *sql.Tx, battleID string) ([]model.Submission, error)
	// LatestContestSubmissions returns the newest contest-tagged submission per problem.
	LatestContestSubmissions(ctx context.Context, contestID, userID string) (map[string]*model.Submission, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

const submissionColumns = `id, user_id, problem_id, language, code, visibility, origin, battle_id, contest_id,
	status, total_score, max_score, failed_case_index, expected_output, actual_output, detail,
	judge_attempt, created_at, updated_at, judged_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	s := &model.Submission{}
	var detail string
	err := row.Scan(
		&s.ID, &s.UserID, &s.ProblemID, &s.Language, &s.Code, &s.Visibility,
		&s.Origin.Kind, &s.Origin.BattleID, &s.Origin.ContestID,
		&s.Status, &s.TotalScore, &s.MaxScore, &s.FailedCaseIndex, &s.ExpectedOutput, &s.ActualOutput, &detail,
		&s.JudgeAttempt, &s.CreatedAt, &s.UpdatedAt, &s.JudgedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Detail = decodeDetail(detail)
	return s, nil
}

func (r *pgSubmissionRepository) CreateSubmission(ctx context.Context, tx *sql.Tx, s *model.Submission) error {
	detail, err := encodeDetail(s.Detail)
	if err != nil {
		return err
	}
	query := `INSERT INTO submissions (id, user_id, problem_id, language, code, visibility, origin, battle_id, contest_id, status, detail, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`
	_, err = conn(r.db, tx).ExecContext(ctx, query,
		s.ID, s.UserID, s.ProblemID, s.Language, s.Code, s.Visibility,
		s.Origin.Kind, s.Origin.BattleID, s.Origin.ContestID, s.Status, detail, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.CreateSubmission: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) GetSubmissionByID(ctx context.Context, tx *sql.Tx, id string) (*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	s, err := scanSubmission(conn(r.db, tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubmissionRepository.GetSubmissionByID: %w", err)
	}
	return s, nil
}

func (r *pgSubmissionRepository) ClaimPending(ctx context.Context, id string) (int, bool, error) {
	query := `UPDATE submissions
	          SET status = 'RUNNING', judge_attempt = judge_attempt + 1, updated_at = now()
	          WHERE id = $1 AND status = 'PENDING'
	          RETURNING judge_attempt`
	var attempt int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&attempt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("pgSubmissionRepository.ClaimPending: %w", err)
	}
	return attempt, true, nil
}

func (r *pgSubmissionRepository) CompleteJudging(ctx context.Context, id string, attempt int, v model.Verdict, judgedAt time.Time) (bool, error) {
	detail, err := encodeDetail(v.Detail)
	if err != nil {
		return false, err
	}
	query := `UPDATE submissions
	          SET status = $1, total_score = $2, max_score = $3, failed_case_index = $4,
	              expected_output = $5, actual_output = $6, detail = $7,
	              judged_at = $8, updated_at = $8
	          WHERE id = $9 AND status = 'RUNNING' AND judge_attempt = $10`
	res, err := r.db.ExecContext(ctx, query,
		v.Status, v.TotalScore, v.MaxScore, v.FailedCaseIndex, v.ExpectedOutput, v.ActualOutput, detail,
		judgedAt, id, attempt)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.CompleteJudging: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.CompleteJudging rows: %w", err)
	}
	return n == 1, nil
}

func (r *pgSubmissionRepository) ResetForRejudge(ctx context.Context, id string, staleBefore time.Time, detail model.SubmissionDetail) (bool, error) {
	encoded, err := encodeDetail(detail)
	if err != nil {
		return false, err
	}
	query := `UPDATE submissions
	          SET status = 'PENDING', total_score = NULL, max_score = NULL, failed_case_index = NULL,
	              expected_output = NULL, actual_output = NULL, detail = $3, judged_at = NULL,
	              judge_attempt = judge_attempt + 1, updated_at = now()
	          WHERE id = $1
	            AND (status NOT IN ('PENDING', 'RUNNING') OR (status = 'RUNNING' AND updated_at < $2))`
	res, err := r.db.ExecContext(ctx, query, id, staleBefore, encoded)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.ResetForRejudge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.ResetForRejudge rows: %w", err)
	}
	return n == 1, nil
}

func (r *pgSubmissionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM submissions WHERE status = 'PENDING' AND updated_at < $1 ORDER BY updated_at LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.ListStalePending: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.ListStalePending scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgSubmissionRepository) querySubmissions(ctx context.Context, q querier, label, query string, args ...any) ([]model.Submission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.%s: %w", label, err)
	}
	defer rows.Close()

	subs := []model.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.%s scan: %w", label, err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.%s rows: %w", label, err)
	}
	return subs, nil
}

func (r *pgSubmissionRepository) ListSubmissionsByUser(ctx context.Context, userID string, limit, offset int) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.querySubmissions(ctx, r.db, "ListSubmissionsByUser", query, userID, limit, offset)
}

func (r *pgSubmissionRepository) ListBattleSubmissions(ctx context.Context, tx *sql.Tx, battleID string) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE battle_id = $1 ORDER BY created_at, id`
	return r.querySubmissions(ctx, conn(r.db, tx), "ListBattleSubmissions", query, battleID)
}

func (r *pgSubmissionRepository) LatestContestSubmissions(ctx context.Context, contestID, userID string) (map[string]*model.Submission, error) {
	query := `SELECT DISTINCT ON (problem_id) ` + submissionColumns + ` FROM submissions
	          WHERE contest_id = $1 AND user_id = $2
	          ORDER BY problem_id, created_at DESC, id DESC`
	subs, err := r.querySubmissions(ctx, r.db, "LatestContestSubmissions", query, contestID, userID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*model.Submission, len(subs))
	for i := range subs {
		latest[subs[i].ProblemID] = &subs[i]
	}
	return latest, nil
}
