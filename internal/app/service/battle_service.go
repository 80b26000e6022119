package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
	"tle_judge/internal/domain/rating"
	"tle_judge/internal/domain/repository"
	"tle_judge/internal/platform/metrics"
)

type BattleOptions struct {
	// PendingGrace is how long after the deadline a battle waits for
	// submissions that are still being graded.
	PendingGrace time.Duration
	KFactor      float64
	DrainOnRead  bool
	DrainBatch   int
	SweepBatch   int
}

type BattleService struct {
	tx          repository.Transactor
	duels       repository.DuelRepository
	users       repository.UserRepository
	subs        repository.SubmissionRepository
	submissions *SubmissionService
	grading     *GradingService
	engine      rating.Engine
	opts        BattleOptions
	log         *zap.Logger
	now         func() time.Time
}

func NewBattleService(
	tx repository.Transactor,
	duels repository.DuelRepository,
	users repository.UserRepository,
	subs repository.SubmissionRepository,
	submissions *SubmissionService,
	grading *GradingService,
	opts BattleOptions,
	log *zap.Logger,
) *BattleService {
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	return &BattleService{
		tx:          tx,
		duels:       duels,
		users:       users,
		subs:        subs,
		submissions: submissions,
		grading:     grading,
		engine:      rating.NewEngine(opts.KFactor),
		opts:        opts,
		log:         log.Named("battles"),
		now:         time.Now,
	}
}

// FinalizeIfNeeded finishes a RUNNING battle once it is decidable and applies
// the rating change in the same transaction. It is a no-op for finished or
// undecided battles and may be called any number of times.
func (s *BattleService) FinalizeIfNeeded(ctx context.Context, battleID string) (*model.DuelBattle, error) {
	var (
		battle    *model.DuelBattle
		finalized bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		finalized = false
		b, err := s.duels.GetBattle(ctx, tx, battleID, true)
		if err != nil {
			return err
		}
		battle = b
		if b.Status == model.BattleFinished {
			return nil
		}

		subs, err := s.subs.ListBattleSubmissions(ctx, tx, battleID)
		if err != nil {
			return err
		}
		now := s.now()
		outcome := decideBattle(b, subs, now, s.opts.PendingGrace)
		if !outcome.Decided {
			return nil
		}

		ok, err := s.duels.FinishBattle(ctx, tx, battleID, outcome.WinnerID, now)
		if err != nil {
			return err
		}
		if !ok {
			battle, err = s.duels.GetBattle(ctx, tx, battleID, false)
			return err
		}
		if err := s.applyRatings(ctx, tx, b, outcome.WinnerID, now); err != nil {
			return err
		}

		b.Status = model.BattleFinished
		b.WinnerID = outcome.WinnerID
		b.EndedAt = &now
		finalized = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if finalized {
		result := "draw"
		if battle.WinnerID != nil {
			result = "win"
		}
		metrics.BattlesFinalized.WithLabelValues(result).Inc()
		fields := []zap.Field{zap.String("battle_id", battle.ID), zap.String("result", result)}
		if battle.WinnerID != nil {
			fields = append(fields, zap.String("winner_id", *battle.WinnerID))
		}
		s.log.Info("battle finished", fields...)
	}
	return battle, nil
}

func (s *BattleService) applyRatings(ctx context.Context, tx *sql.Tx, b *model.DuelBattle, winnerID *string, now time.Time) error {
	users, err := s.users.LockUsers(ctx, tx, b.Player1ID, b.Player2ID)
	if err != nil {
		return err
	}
	byID := make(map[string]*model.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	p1, p2 := byID[b.Player1ID], byID[b.Player2ID]
	if p1 == nil || p2 == nil {
		return common.Errorf("battle %s references a missing player: %w", b.ID, common.ErrNotFound)
	}

	c1, c2 := s.engine.Compute(p1, p2, winnerID)
	records := make([]model.RatingRecord, 0, 2)
	for _, c := range []rating.Change{c1, c2} {
		records = append(records, model.RatingRecord{
			BattleID:     b.ID,
			UserID:       c.UserID,
			RatingBefore: c.Before,
			RatingAfter:  c.After,
			RatingChange: c.Delta,
			CreatedAt:    now,
		})
	}
	if err := s.duels.InsertRatingRecords(ctx, tx, records...); err != nil {
		return err
	}
	for _, c := range []rating.Change{c1, c2} {
		if err := s.users.ApplyRatingChange(ctx, tx, c.UserID, c.After, c.Result); err != nil {
			return err
		}
	}
	return nil
}

type battleOutcome struct {
	Decided  bool
	WinnerID *string
}

type playerProgress struct {
	acceptedAt *time.Time
	bestScore  int
	scored     bool
}

// decideBattle applies the winner order: the earliest acceptance wins, else
// the higher best score, else a draw. A battle is decidable once the
// deadline passed or someone was accepted, but stays open while a submission
// created before the deciding moment is ungraded, until the grace period
// after the deadline runs out.
func decideBattle(b *model.DuelBattle, subs []model.Submission, now time.Time, grace time.Duration) battleOutcome {
	deadline := b.Deadline()
	progress := map[string]*playerProgress{b.Player1ID: {}, b.Player2ID: {}}
	var pending []time.Time

	for i := range subs {
		sub := &subs[i]
		p, ok := progress[sub.UserID]
		if !ok || sub.ProblemID != b.ProblemID || sub.CreatedAt.After(deadline) {
			continue
		}
		if !sub.Status.IsTerminal() {
			pending = append(pending, sub.CreatedAt)
			continue
		}
		if sub.Status == model.StatusAccepted && (p.acceptedAt == nil || sub.CreatedAt.Before(*p.acceptedAt)) {
			at := sub.CreatedAt
			p.acceptedAt = &at
		}
		if sub.TotalScore != nil && (!p.scored || *sub.TotalScore > p.bestScore) {
			p.bestScore = *sub.TotalScore
			p.scored = true
		}
	}

	p1, p2 := progress[b.Player1ID], progress[b.Player2ID]
	expired := !now.Before(deadline)

	var firstAccept *time.Time
	for _, p := range []*playerProgress{p1, p2} {
		if p.acceptedAt != nil && (firstAccept == nil || p.acceptedAt.Before(*firstAccept)) {
			firstAccept = p.acceptedAt
		}
	}
	if firstAccept == nil && !expired {
		return battleOutcome{}
	}

	cutoff := deadline
	if firstAccept != nil {
		cutoff = *firstAccept
	}
	if now.Before(deadline.Add(grace)) {
		for _, created := range pending {
			if !created.After(cutoff) {
				return battleOutcome{}
			}
		}
	}

	winner := func(id string) battleOutcome { return battleOutcome{Decided: true, WinnerID: &id} }
	switch {
	case p1.acceptedAt != nil && p2.acceptedAt != nil:
		if p1.acceptedAt.Before(*p2.acceptedAt) {
			return winner(b.Player1ID)
		}
		if p2.acceptedAt.Before(*p1.acceptedAt) {
			return winner(b.Player2ID)
		}
	case p1.acceptedAt != nil:
		return winner(b.Player1ID)
	case p2.acceptedAt != nil:
		return winner(b.Player2ID)
	}
	if p1.bestScore > p2.bestScore {
		return winner(b.Player1ID)
	}
	if p2.bestScore > p1.bestScore {
		return winner(b.Player2ID)
	}
	return battleOutcome{Decided: true}
}

type PlayerSummary struct {
	UserID      string     `json:"user_id"`
	Submissions int        `json:"submissions"`
	Pending     int        `json:"pending"`
	BestScore   int        `json:"best_score"`
	MaxScore    int        `json:"max_score"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
}

type BattleState struct {
	Battle       *model.DuelBattle    `json:"battle"`
	OpponentID   string               `json:"opponent_id"`
	Players      []PlayerSummary      `json:"players"`
	RemainingSec int                  `json:"remaining_sec"`
	Ratings      []model.RatingRecord `json:"ratings,omitempty"`
}

// GetBattleState finalizes the battle if due and returns it from a player's
// point of view.
func (s *BattleService) GetBattleState(ctx context.Context, battleID, callerID string) (*BattleState, error) {
	if s.opts.DrainOnRead && s.grading != nil {
		if _, err := s.grading.Drain(ctx, s.opts.DrainBatch); err != nil {
			s.log.Warn("drain on battle read failed", zap.Error(err))
		}
	}

	b, err := s.FinalizeIfNeeded(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if !b.HasPlayer(callerID) {
		return nil, common.ErrForbidden
	}

	subs, err := s.subs.ListBattleSubmissions(ctx, nil, battleID)
	if err != nil {
		return nil, err
	}
	state := &BattleState{Battle: b, OpponentID: b.Opponent(callerID), Players: summarise(b, subs)}
	if b.Status == model.BattleRunning {
		if left := b.Deadline().Sub(s.now()); left > 0 {
			state.RemainingSec = int(left.Round(time.Second) / time.Second)
		}
	} else {
		if state.Ratings, err = s.duels.GetRatingRecords(ctx, nil, battleID); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func summarise(b *model.DuelBattle, subs []model.Submission) []PlayerSummary {
	players := []PlayerSummary{{UserID: b.Player1ID}, {UserID: b.Player2ID}}
	for i := range subs {
		sub := &subs[i]
		var ps *PlayerSummary
		for j := range players {
			if players[j].UserID == sub.UserID {
				ps = &players[j]
			}
		}
		if ps == nil {
			continue
		}
		ps.Submissions++
		if !sub.Status.IsTerminal() {
			ps.Pending++
			continue
		}
		if sub.TotalScore != nil && *sub.TotalScore > ps.BestScore {
			ps.BestScore = *sub.TotalScore
		}
		if sub.MaxScore != nil && *sub.MaxScore > ps.MaxScore {
			ps.MaxScore = *sub.MaxScore
		}
		if sub.Status == model.StatusAccepted && (ps.AcceptedAt == nil || sub.CreatedAt.Before(*ps.AcceptedAt)) {
			at := sub.CreatedAt
			ps.AcceptedAt = &at
		}
	}
	return players
}

// openBattleFor loads a battle the caller may still act on.
func (s *BattleService) openBattleFor(ctx context.Context, battleID, userID string) (*model.DuelBattle, error) {
	b, err := s.duels.GetBattle(ctx, nil, battleID, false)
	if err != nil {
		return nil, err
	}
	if !b.HasPlayer(userID) {
		return nil, common.ErrForbidden
	}
	if b.Status != model.BattleRunning {
		return nil, common.StateConflict("battle", string(b.Status), "battle is not running")
	}
	if !s.now().Before(b.Deadline()) {
		return nil, common.StateConflict("battle", string(b.Status), "battle deadline has passed")
	}
	return b, nil
}

type BattleSubmitRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// SubmitInBattle creates a private duel submission for the battle's problem.
func (s *BattleService) SubmitInBattle(ctx context.Context, battleID, userID string, req BattleSubmitRequest) (*model.Submission, error) {
	if err := s.submissions.ValidateSource(req.Language, req.Code); err != nil {
		return nil, err
	}
	b, err := s.openBattleFor(ctx, battleID, userID)
	if err != nil {
		return nil, err
	}
	sub := s.submissions.newSubmission(userID, b.ProblemID, req.Language, req.Code,
		model.DuelOrigin(b.ID), model.VisibilityPrivate, true)
	if err := s.submissions.Admit(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

type SaveDraftRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

func (s *BattleService) SaveDraft(ctx context.Context, battleID, userID string, req SaveDraftRequest) (*model.DuelDraft, error) {
	if _, ok := s.submissions.opts.Languages.Lookup(req.Language); !ok {
		return nil, common.Errorf("language %q is disabled: %w", req.Language, common.ErrValidation)
	}
	if len(req.Code) > s.submissions.opts.MaxCodeBytes {
		return nil, common.Errorf("code exceeds %d bytes: %w", s.submissions.opts.MaxCodeBytes, common.ErrValidation)
	}
	if _, err := s.openBattleFor(ctx, battleID, userID); err != nil {
		return nil, err
	}
	draft := &model.DuelDraft{
		BattleID:  battleID,
		UserID:    userID,
		Language:  req.Language,
		Code:      req.Code,
		UpdatedAt: s.now(),
	}
	if err := s.duels.UpsertDraft(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

func (s *BattleService) GetDraft(ctx context.Context, battleID, userID string) (*model.DuelDraft, error) {
	b, err := s.duels.GetBattle(ctx, nil, battleID, false)
	if err != nil {
		return nil, err
	}
	if !b.HasPlayer(userID) {
		return nil, common.ErrForbidden
	}
	return s.duels.GetDraft(ctx, battleID, userID)
}

// SweepDueBattles finalizes every RUNNING battle whose deadline has passed.
func (s *BattleService) SweepDueBattles(ctx context.Context) (int, error) {
	ids, err := s.duels.ListExpiredBattleIDs(ctx, s.now(), s.opts.SweepBatch)
	if err != nil {
		return 0, err
	}
	finished := 0
	for _, id := range ids {
		b, err := s.FinalizeIfNeeded(ctx, id)
		if err != nil {
			s.log.Error("sweep finalize failed", zap.String("battle_id", id), zap.Error(err))
			continue
		}
		if b.Status == model.BattleFinished {
			finished++
		}
	}
	return finished, nil
}
