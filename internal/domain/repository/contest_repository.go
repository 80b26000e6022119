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

type ContestRepository interface {
	CreateContest(ctx context.Context, tx *sql.Tx, c *model.Contest) error
	FindContestByID(ctx context.Context, id string) (*model.Contest, error)
	// FindActiveContest returns the published contest of the division with the
	// latest start that has already started at now.
	FindActiveContest(ctx context.Context, division model.Division, now time.Time) (*model.Contest, error)
	AddParticipant(ctx context.Context, contestID, userID string, joinedAt time.Time) (bool, error)
	IsParticipant(ctx context.Context, contestID, userID string) (bool, error)
}

type pgContestRepository struct {
	db *sql.DB
}

func NewPgContestRepository(db *sql.DB) ContestRepository {
	return &pgContestRepository{db: db}
}

func (r *pgContestRepository) CreateContest(ctx context.Context, tx *sql.Tx, c *model.Contest) error {
	q := conn(r.db, tx)
	_, err := q.ExecContext(ctx,
		`INSERT INTO contests (id, title, slug, division, starts_at, ends_at, is_published)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Title, c.Slug, c.Division, c.StartsAt, c.EndsAt, c.IsPublished)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("contest with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgContestRepository.CreateContest: %w", err)
	}
	for i, problemID := range c.ProblemIDs {
		_, err := q.ExecContext(ctx,
			`INSERT INTO contest_problems (contest_id, problem_id, position) VALUES ($1, $2, $3)`,
			c.ID, problemID, i)
		if err != nil {
			return fmt.Errorf("pgContestRepository.CreateContest problem %s: %w", problemID, err)
		}
	}
	return nil
}

func (r *pgContestRepository) loadProblemIDs(ctx context.Context, c *model.Contest) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT problem_id FROM contest_problems WHERE contest_id = $1 ORDER BY position`, c.ID)
	if err != nil {
		return fmt.Errorf("pgContestRepository.loadProblemIDs: %w", err)
	}
	defer rows.Close()

	c.ProblemIDs = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("pgContestRepository.loadProblemIDs scan: %w", err)
		}
		c.ProblemIDs = append(c.ProblemIDs, id)
	}
	return rows.Err()
}

func (r *pgContestRepository) findOne(ctx context.Context, label, where string, args ...any) (*model.Contest, error) {
	query := `SELECT id, title, slug, division, starts_at, ends_at, is_published, created_at FROM contests WHERE ` + where
	c := &model.Contest{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&c.ID, &c.Title, &c.Slug, &c.Division, &c.StartsAt, &c.EndsAt, &c.IsPublished, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.%s: %w", label, err)
	}
	if err := r.loadProblemIDs(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *pgContestRepository) FindContestByID(ctx context.Context, id string) (*model.Contest, error) {
	return r.findOne(ctx, "FindContestByID", "id = $1", id)
}

func (r *pgContestRepository) FindActiveContest(ctx context.Context, division model.Division, now time.Time) (*model.Contest, error) {
	return r.findOne(ctx, "FindActiveContest",
		"division = $1 AND is_published AND starts_at <= $2 ORDER BY starts_at DESC, id DESC LIMIT 1",
		division, now)
}

func (r *pgContestRepository) AddParticipant(ctx context.Context, contestID, userID string, joinedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO contest_participants (contest_id, user_id, joined_at) VALUES ($1, $2, $3)
		 ON CONFLICT (contest_id, user_id) DO NOTHING`, contestID, userID, joinedAt)
	if err != nil {
		return false, fmt.Errorf("pgContestRepository.AddParticipant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgContestRepository.AddParticipant rows: %w", err)
	}
	return n == 1, nil
}

func (r *pgContestRepository) IsParticipant(ctx context.Context, contestID, userID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM contest_participants WHERE contest_id = $1 AND user_id = $2)`,
		contestID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("pgContestRepository.IsParticipant: %w", err)
	}
	return ok, nil
}
