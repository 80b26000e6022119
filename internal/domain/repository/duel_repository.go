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

type DuelRepository interface {
	// InsertQueueEntry adds the user to the waiting set. It reports false when
	// the user was already waiting.
	InsertQueueEntry(ctx context.Context, tx *sql.Tx, userID string, joinedAt time.Time) (bool, error)
	DeleteQueueEntries(ctx context.Context, tx *sql.Tx, userIDs ...string) (int, error)
	// QueuePosition returns the 1-based FIFO position of userID and the queue size.
	QueuePosition(ctx context.Context, userID string) (position, size int, err error)
	// LockOldestQueueEntries locks up to limit waiting entries in FIFO order,
	// skipping entries another transaction already holds.
	LockOldestQueueEntries(ctx context.Context, tx *sql.Tx, limit int) ([]model.DuelQueueEntry, error)

	CreateBattle(ctx context.Context, tx *sql.Tx, b *model.DuelBattle) error
	GetBattle(ctx context.Context, tx *sql.Tx, id string, forUpdate bool) (*model.DuelBattle, error)
	FindRunningBattleForUser(ctx context.Context, tx *sql.Tx, userID string) (*model.DuelBattle, error)
	// RecentProblemIDs returns problems used in the newest battles of any of the users.
	RecentProblemIDs(ctx context.Context, tx *sql.Tx, userIDs []string, perUser int) ([]string, error)
	// FinishBattle moves a RUNNING battle to FINISHED. It reports false when the
	// battle was already finished.
	FinishBattle(ctx context.Context, tx *sql.Tx, id string, winnerID *string, endedAt time.Time) (bool, error)
	ListExpiredBattleIDs(ctx context.Context, now time.Time, limit int) ([]string, error)

	InsertRatingRecords(ctx context.Context, tx *sql.Tx, records ...model.RatingRecord) error
	GetRatingRecords(ctx context.Context, tx *sql.Tx, battleID string) ([]model.RatingRecord, error)

	UpsertDraft(ctx context.Context, d *model.DuelDraft) error
	GetDraft(ctx context.Context, battleID, userID string) (*model.DuelDraft, error)
}

type pgDuelRepository struct {
	db *sql.DB
}

func NewPgDuelRepository(db *sql.DB) DuelRepository {
	return &pgDuelRepository{db: db}
}

func (r *pgDuelRepository) InsertQueueEntry(ctx context.Context, tx *sql.Tx, userID string, joinedAt time.Time) (bool, error) {
	res, err := conn(r.db, tx).ExecContext(ctx,
		`INSERT INTO duel_queue_entries (user_id, joined_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, joinedAt)
	if err != nil {
		return false, fmt.Errorf("pgDuelRepository.InsertQueueEntry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgDuelRepository.InsertQueueEntry rows: %w", err)
	}
	return n == 1, nil
}

func (r *pgDuelRepository) DeleteQueueEntries(ctx context.Context, tx *sql.Tx, userIDs ...string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	res, err := conn(r.db, tx).ExecContext(ctx, `DELETE FROM duel_queue_entries WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return 0, fmt.Errorf("pgDuelRepository.DeleteQueueEntries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgDuelRepository.DeleteQueueEntries rows: %w", err)
	}
	return int(n), nil
}

func (r *pgDuelRepository) QueuePosition(ctx context.Context, userID string) (int, int, error) {
	query := `SELECT
	            (SELECT COUNT(*) FROM duel_queue_entries q
	              WHERE (q.joined_at, q.user_id) <= (me.joined_at, me.user_id)),
	            (SELECT COUNT(*) FROM duel_queue_entries)
	          FROM duel_queue_entries me WHERE me.user_id = $1`
	var pos, size int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&pos, &size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, common.ErrNotFound
		}
		return 0, 0, fmt.Errorf("pgDuelRepository.QueuePosition: %w", err)
	}
	return pos, size, nil
}

func (r *pgDuelRepository) LockOldestQueueEntries(ctx context.Context, tx *sql.Tx, limit int) ([]model.DuelQueueEntry, error) {
	query := `SELECT user_id, joined_at FROM duel_queue_entries
	          ORDER BY joined_at, user_id
	          LIMIT $1 FOR UPDATE SKIP LOCKED`
	rows, err := conn(r.db, tx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("pgDuelRepository.LockOldestQueueEntries: %w", err)
	}
	defer rows.Close()

	var entries []model.DuelQueueEntry
	for rows.Next() {
		var e model.DuelQueueEntry
		if err := rows.Scan(&e.UserID, &e.JoinedAt); err != nil {
			return nil, fmt.Errorf("pgDuelRepository.LockOldestQueueEntries scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const battleColumns = `id, player1_id, player2_id, problem_id, status, started_at, duration_sec, ended_at, winner_id`

func scanBattle(row rowScanner) (*model.DuelBattle, error) {
	b := &model.DuelBattle{}
	err := row.Scan(&b.ID, &b.Player1ID, &b.Player2ID, &b.ProblemID, &b.Status,
		&b.StartedAt, &b.DurationSec, &b.EndedAt, &b.WinnerID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *pgDuelRepository) CreateBattle(ctx context.Context, tx *sql.Tx, b *model.DuelBattle) error {
	query := `INSERT INTO duel_battles (id, player1_id, player2_id, problem_id, status, started_at, duration_sec)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := conn(r.db, tx).ExecContext(ctx, query, b.ID, b.Player1ID, b.Player2ID, b.ProblemID, b.Status, b.StartedAt, b.DurationSec)
	if err != nil {
		return fmt.Errorf("pgDuelRepository.CreateBattle: %w", err)
	}
	return nil
}

func (r *pgDuelRepository) GetBattle(ctx context.Context, tx *sql.Tx, id string, forUpdate bool) (*model.DuelBattle, error) {
	query := `SELECT ` + battleColumns + ` FROM duel_battles WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBattle(conn(r.db, tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgDuelRepository.GetBattle: %w", err)
	}
	return b, nil
}

func (r *pgDuelRepository) FindRunningBattleForUser(ctx context.Context, tx *sql.Tx, userID string) (*model.DuelBattle, error) {
	query := `SELECT ` + battleColumns + ` FROM duel_battles
	          WHERE status = 'RUNNING' AND (player1_id = $1 OR player2_id = $1)
	          ORDER BY started_at DESC LIMIT 1`
	b, err := scanBattle(conn(r.db, tx).QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgDuelRepository.FindRunningBattleForUser: %w", err)
	}
	return b, nil
}

func (r *pgDuelRepository) RecentProblemIDs(ctx context.Context, tx *sql.Tx, userIDs []string, perUser int) ([]string, error) {
	query := `SELECT DISTINCT problem_id FROM (
	              SELECT b.problem_id,
	                     ROW_NUMBER() OVER (PARTITION BY u.id ORDER BY b.started_at DESC) AS rn
	              FROM unnest($1::text[]) AS u(id)
	              JOIN duel_battles b ON b.player1_id = u.id OR b.player2_id = u.id
	          ) recent WHERE rn <= $2`
	rows, err := conn(r.db, tx).QueryContext(ctx, query, userIDs, perUser)
	if err != nil {
		return nil, fmt.Errorf("pgDuelRepository.RecentProblemIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgDuelRepository.RecentProblemIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgDuelRepository) FinishBattle(ctx context.Context, tx *sql.Tx, id string, winnerID *string, endedAt time.Time) (bool, error) {
	res, err := conn(r.db, tx).ExecContext(ctx,
		`UPDATE duel_battles SET status = 'FINISHED', winner_id = $1, ended_at = $2 WHERE id = $3 AND status = 'RUNNING'`,
		winnerID, endedAt, id)
	if err != nil {
		return false, fmt.Errorf("pgDuelRepository.FinishBattle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgDuelRepository.FinishBattle rows: %w", err)
	}
	return n == 1, nil
}

func (r *pgDuelRepository) ListExpiredBattleIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM duel_battles
	          WHERE status = 'RUNNING' AND started_at + make_interval(secs => duration_sec) <= $1
	          ORDER BY started_at LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("pgDuelRepository.ListExpiredBattleIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgDuelRepository.ListExpiredBattleIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgDuelRepository) InsertRatingRecords(ctx context.Context, tx *sql.Tx, records ...model.RatingRecord) error {
	for _, rec := range records {
		_, err := conn(r.db, tx).ExecContext(ctx,
			`INSERT INTO rating_records (battle_id, user_id, rating_before, rating_after, rating_change, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.BattleID, rec.UserID, rec.RatingBefore, rec.RatingAfter, rec.RatingChange, rec.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return common.StateConflict("rating_record", "written", "rating already applied for this battle")
			}
			return fmt.Errorf("pgDuelRepository.InsertRatingRecords: %w", err)
		}
	}
	return nil
}

func (r *pgDuelRepository) GetRatingRecords(ctx context.Context, tx *sql.Tx, battleID string) ([]model.RatingRecord, error) {
	rows, err := conn(r.db, tx).QueryContext(ctx,
		`SELECT battle_id, user_id, rating_before, rating_after, rating_change, created_at
		 FROM rating_records WHERE battle_id = $1 ORDER BY user_id`, battleID)
	if err != nil {
		return nil, fmt.Errorf("pgDuelRepository.GetRatingRecords: %w", err)
	}
	defer rows.Close()

	records := []model.RatingRecord{}
	for rows.Next() {
		var rec model.RatingRecord
		if err := rows.Scan(&rec.BattleID, &rec.UserID, &rec.RatingBefore, &rec.RatingAfter, &rec.RatingChange, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgDuelRepository.GetRatingRecords scan: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *pgDuelRepository) UpsertDraft(ctx context.Context, d *model.DuelDraft) error {
	query := `INSERT INTO duel_drafts (battle_id, user_id, language, code, updated_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (battle_id, user_id)
	          DO UPDATE SET language = EXCLUDED.language, code = EXCLUDED.code, updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, query, d.BattleID, d.UserID, d.Language, d.Code, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgDuelRepository.UpsertDraft: %w", err)
	}
	return nil
}

func (r *pgDuelRepository) GetDraft(ctx context.Context, battleID, userID string) (*model.DuelDraft, error) {
	d := &model.DuelDraft{}
	err := r.db.QueryRowContext(ctx,
		`SELECT battle_id, user_id, language, code, updated_at FROM duel_drafts WHERE battle_id = $1 AND user_id = $2`,
		battleID, userID).Scan(&d.BattleID, &d.UserID, &d.Language, &d.Code, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgDuelRepository.GetDraft: %w", err)
	}
	return d, nil
}
