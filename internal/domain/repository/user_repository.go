package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByID(ctx context.Context, tx *sql.Tx, id string) (*model.User, error)

	// LockUsers reads and row-locks the given users in id order.
	LockUsers(ctx context.Context, tx *sql.Tx, ids ...string) ([]model.User, error)
	ApplyRatingChange(ctx context.Context, tx *sql.Tx, userID string, newRating int, result model.MatchResult) error
	// AdvanceDivision moves a user from one division to the next. It reports
	// false when the user was no longer in from.
	AdvanceDivision(ctx context.Context, tx *sql.Tx, userID string, from, to model.Division) (bool, error)
	Leaderboard(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error)
}

type pgUserRepository struct {
	db *sql.DB
}

func NewPgUserRepository(db *sql.DB) UserRepository {
	return &pgUserRepository{db: db}
}

const userColumns = `id, username, email, hashed_password, role, rating, wins, losses, draws, division, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.HashedPassword, &u.Role,
		&u.Rating, &u.Wins, &u.Losses, &u.Draws, &u.Division, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *pgUserRepository) Create(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (id, username, email, hashed_password, role, rating, division)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.Email, user.HashedPassword, user.Role, user.Rating, user.Division)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user with given username or email already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgUserRepository.Create: %w", err)
	}
	return nil
}

func (r *pgUserRepository) findOne(ctx context.Context, q querier, label, where string, arg any) (*model.User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgUserRepository.%s: %w", label, err)
	}
	return user, nil
}

func (r *pgUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, r.db, "FindByEmail", "email = $1", email)
}

func (r *pgUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, r.db, "FindByUsername", "username = $1", username)
}

func (r *pgUserRepository) FindByID(ctx context.Context, tx *sql.Tx, id string) (*model.User, error) {
	return r.findOne(ctx, conn(r.db, tx), "FindByID", "id = $1", id)
}

func (r *pgUserRepository) LockUsers(ctx context.Context, tx *sql.Tx, ids ...string) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := conn(r.db, tx).QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("pgUserRepository.LockUsers: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("pgUserRepository.LockUsers scan: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgUserRepository.LockUsers rows: %w", err)
	}
	return users, nil
}

func (r *pgUserRepository) ApplyRatingChange(ctx context.Context, tx *sql.Tx, userID string, newRating int, result model.MatchResult) error {
	var counter string
	switch result {
	case model.ResultWin:
		counter = "wins"
	case model.ResultLoss:
		counter = "losses"
	case model.ResultDraw:
		counter = "draws"
	default:
		return fmt.Errorf("pgUserRepository.ApplyRatingChange: unknown result %q", result)
	}
	query := `UPDATE users SET rating = $1, ` + counter + ` = ` + counter + ` + 1, updated_at = now() WHERE id = $2`
	res, err := conn(r.db, tx).ExecContext(ctx, query, newRating, userID)
	if err != nil {
		return fmt.Errorf("pgUserRepository.ApplyRatingChange: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *pgUserRepository) AdvanceDivision(ctx context.Context, tx *sql.Tx, userID string, from, to model.Division) (bool, error) {
	res, err := conn(r.db, tx).ExecContext(ctx,
		`UPDATE users SET division = $1, updated_at = now() WHERE id = $2 AND division = $3`, to, userID, from)
	if err != nil {
		return false, fmt.Errorf("pgUserRepository.AdvanceDivision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgUserRepository.AdvanceDivision rows: %w", err)
	}
	return n == 1, nil
}

func (r *pgUserRepository) Leaderboard(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error) {
	query := `SELECT RANK() OVER (ORDER BY rating DESC) AS rank, id, username, rating, wins, losses, draws, division
	          FROM users ORDER BY rating DESC, username ASC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgUserRepository.Leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []model.LeaderboardEntry{}
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.Rank, &e.UserID, &e.Username, &e.Rating, &e.Wins, &e.Losses, &e.Draws, &e.Division); err != nil {
			return nil, fmt.Errorf("pgUserRepository.Leaderboard scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgUserRepository.Leaderboard rows: %w", err)
	}
	return entries, nil
}
