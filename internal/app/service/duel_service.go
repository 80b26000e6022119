package service

import (
	"context"
	"database/sql"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
	"tle_judge/internal/domain/repository"
	"tle_judge/internal/platform/metrics"
)

type DuelOptions struct {
	DurationSec         int
	RecentProblemWindow int
	WaitPerPositionSec  int
}

// DuelService runs the matchmaking queue.
type DuelService struct {
	tx       repository.Transactor
	duels    repository.DuelRepository
	users    repository.UserRepository
	problems repository.ProblemRepository
	battles  *BattleService
	opts     DuelOptions
	log      *zap.Logger
	now      func() time.Time
	pick     func(n int) int
}

func NewDuelService(
	tx repository.Transactor,
	duels repository.DuelRepository,
	users repository.UserRepository,
	problems repository.ProblemRepository,
	battles *BattleService,
	opts DuelOptions,
	log *zap.Logger,
) *DuelService {
	if opts.DurationSec <= 0 {
		opts.DurationSec = 900
	}
	return &DuelService{
		tx:       tx,
		duels:    duels,
		users:    users,
		problems: problems,
		battles:  battles,
		opts:     opts,
		log:      log.Named("duels"),
		now:      time.Now,
		pick:     rand.IntN,
	}
}

type QueueStatus struct {
	InQueue      bool    `json:"in_queue"`
	Position     int     `json:"position"`
	EstimatedSec int     `json:"estimated_sec"`
	BattleID     *string `json:"battle_id"`
}

// activeBattle returns the caller's RUNNING battle after giving it a chance
// to finalize, or nil.
func (s *DuelService) activeBattle(ctx context.Context, userID string) (*model.DuelBattle, error) {
	b, err := s.duels.FindRunningBattleForUser(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	b, err = s.battles.FinalizeIfNeeded(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BattleRunning {
		return nil, nil
	}
	return b, nil
}

// JoinQueue puts the user in the waiting set and tries to pair the queue.
// A user already in a battle gets that battle back instead.
func (s *DuelService) JoinQueue(ctx context.Context, userID string) (*QueueStatus, error) {
	b, err := s.activeBattle(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return &QueueStatus{BattleID: &b.ID}, nil
	}

	added, err := s.duels.InsertQueueEntry(ctx, nil, userID, s.now())
	if err != nil {
		return nil, err
	}
	if added {
		s.log.Info("user joined duel queue", zap.String("user_id", userID))
	}

	if _, err := s.MatchAll(ctx); err != nil {
		s.log.Warn("matchmaking pass failed", zap.Error(err))
	}
	return s.GetQueueStatus(ctx, userID)
}

func (s *DuelService) LeaveQueue(ctx context.Context, userID string) error {
	n, err := s.duels.DeleteQueueEntries(ctx, nil, userID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("user left duel queue", zap.String("user_id", userID))
	}
	return nil
}

// GetQueueStatus reports queue membership. Position and wait are advisory.
func (s *DuelService) GetQueueStatus(ctx context.Context, userID string) (*QueueStatus, error) {
	b, err := s.activeBattle(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return &QueueStatus{BattleID: &b.ID}, nil
	}
	pos, _, err := s.duels.QueuePosition(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return &QueueStatus{}, nil
		}
		return nil, err
	}
	return &QueueStatus{InQueue: true, Position: pos, EstimatedSec: pos * s.opts.WaitPerPositionSec}, nil
}

// TryMatch pairs the two longest-waiting users into a RUNNING battle. It
// returns nil when fewer than two users are available to pair.
func (s *DuelService) TryMatch(ctx context.Context) (*model.DuelBattle, error) {
	for {
		b, dropped, err := s.matchOnce(ctx)
		if err != nil || b != nil || dropped == 0 {
			return b, err
		}
	}
}

// MatchAll pairs the queue until fewer than two users remain.
func (s *DuelService) MatchAll(ctx context.Context) ([]*model.DuelBattle, error) {
	var created []*model.DuelBattle
	for {
		b, err := s.TryMatch(ctx)
		if err != nil {
			return created, err
		}
		if b == nil {
			return created, nil
		}
		created = append(created, b)
	}
}

// matchOnce runs one pairing transaction. dropped counts queue entries that
// were removed because their user already had a battle.
func (s *DuelService) matchOnce(ctx context.Context) (*model.DuelBattle, int, error) {
	var (
		battle  *model.DuelBattle
		dropped int
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		battle, dropped = nil, 0

		entries, err := s.duels.LockOldestQueueEntries(ctx, tx, 2)
		if err != nil {
			return err
		}
		if len(entries) < 2 {
			return nil
		}
		ids := []string{entries[0].UserID, entries[1].UserID}

		users, err := s.users.LockUsers(ctx, tx, ids...)
		if err != nil {
			return err
		}
		var busy []string
		for _, id := range ids {
			if _, err := s.duels.FindRunningBattleForUser(ctx, tx, id); err == nil {
				busy = append(busy, id)
			} else if !errors.Is(err, common.ErrNotFound) {
				return err
			}
		}
		if len(busy) > 0 {
			dropped, err = s.duels.DeleteQueueEntries(ctx, tx, busy...)
			return err
		}

		division := model.DivisionBronze
		if len(users) == 2 {
			division = model.Lower(users[0].Division, users[1].Division)
		}
		problemID, err := s.pickProblem(ctx, tx, ids, division)
		if err != nil {
			return err
		}

		if _, err := s.duels.DeleteQueueEntries(ctx, tx, ids...); err != nil {
			return err
		}
		b := &model.DuelBattle{
			ID:          uuid.NewString(),
			Player1ID:   ids[0],
			Player2ID:   ids[1],
			ProblemID:   problemID,
			Status:      model.BattleRunning,
			StartedAt:   s.now(),
			DurationSec: s.opts.DurationSec,
		}
		if err := s.duels.CreateBattle(ctx, tx, b); err != nil {
			return err
		}
		battle = b
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if battle != nil {
		metrics.BattlesCreated.Inc()
		s.log.Info("battle created",
			zap.String("battle_id", battle.ID),
			zap.String("player1_id", battle.Player1ID),
			zap.String("player2_id", battle.Player2ID),
			zap.String("problem_id", battle.ProblemID))
	}
	return battle, dropped, nil
}

// pickProblem chooses at random from the division pool, preferring problems
// neither player met in their recent battles.
func (s *DuelService) pickProblem(ctx context.Context, tx *sql.Tx, userIDs []string, division model.Division) (string, error) {
	pool, err := s.problems.ListPublishedProblemIDs(ctx, tx, division)
	if err != nil {
		return "", err
	}
	if len(pool) == 0 {
		if pool, err = s.problems.ListPublishedProblemIDs(ctx, tx, ""); err != nil {
			return "", err
		}
	}
	if len(pool) == 0 {
		return "", common.StateConflict("problem_pool", "empty", "no published problems available for duels")
	}

	recent := map[string]bool{}
	if s.opts.RecentProblemWindow > 0 {
		ids, err := s.duels.RecentProblemIDs(ctx, tx, userIDs, s.opts.RecentProblemWindow)
		if err != nil {
			return "", err
		}
		for _, id := range ids {
			recent[id] = true
		}
	}
	fresh := make([]string, 0, len(pool))
	for _, id := range pool {
		if !recent[id] {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		fresh = pool
	}
	return fresh[s.pick(len(fresh))], nil
}

func (s *DuelService) Leaderboard(ctx context.Context, page, pageSize int) ([]model.LeaderboardEntry, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	return s.users.Leaderboard(ctx, pageSize, offset)
}
