// Package app assembles the judge from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tle_judge/internal/app/service"
	"tle_judge/internal/domain/repository"
	"tle_judge/internal/platform/config"
	"tle_judge/internal/platform/database"
	"tle_judge/internal/platform/queue"
	"tle_judge/internal/platform/sandbox"
)

// App holds the connected infrastructure and every service built on it.
type App struct {
	DB    *sql.DB
	Redis *redis.Client

	Auth        *service.AuthService
	Problems    *service.ProblemService
	Grading     *service.GradingService
	Submissions *service.SubmissionService
	Battles     *service.BattleService
	Duels       *service.DuelService
	Contests    *service.ContestService
	Promotion   *service.PromotionService

	log *zap.Logger
}

// New connects to Postgres and Redis and builds the services. The schema is
// applied when migrate is set.
func New(ctx context.Context, cfg *config.Config, migrate bool, log *zap.Logger) (*App, error) {
	db, err := database.Connect(ctx, cfg.DBConnStr, log)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("schema applied")
	}

	rdb, err := queue.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	tx := repository.NewSQLTransactor(db, 3)
	userRepo := repository.NewPgUserRepository(db)
	problemRepo := repository.NewPgProblemRepository(db)
	subRepo := repository.NewPgSubmissionRepository(db)
	contestRepo := repository.NewPgContestRepository(db)
	duelRepo := repository.NewPgDuelRepository(db)

	sb := sandbox.WithRetry(
		sandbox.NewPistonClient(cfg.SandboxURL, cfg.SandboxTimeout),
		cfg.SandboxMaxRetries,
		cfg.SandboxRetryBase,
	)
	gradingQueue := queue.NewSubmissionQueue(rdb, cfg.GradingQueueKey)

	a := &App{DB: db, Redis: rdb, log: log}
	a.Auth = service.NewAuthService(userRepo, log)
	a.Problems = service.NewProblemService(tx, problemRepo, log)
	a.Grading = service.NewGradingService(subRepo, problemRepo, gradingQueue, sb, service.GradingOptions{
		Languages:    cfg.Languages,
		DefaultBatch: cfg.DrainBatchSize,
		GradeTimeout: cfg.GradeTimeout,
	}, log)
	a.Submissions = service.NewSubmissionService(subRepo, problemRepo, contestRepo, a.Grading, service.SubmissionOptions{
		Languages:         cfg.Languages,
		MaxCodeBytes:      cfg.MaxCodeBytes,
		RejudgeStaleAfter: cfg.RejudgeStaleAfter,
		DrainOnRead:       cfg.DrainOnRead,
		DrainBatch:        cfg.DrainBatchSize,
	}, log)
	a.Battles = service.NewBattleService(tx, duelRepo, userRepo, subRepo, a.Submissions, a.Grading, service.BattleOptions{
		PendingGrace: cfg.DuelPendingGrace,
		KFactor:      cfg.RatingKFactor,
		DrainOnRead:  cfg.DrainOnRead,
		DrainBatch:   cfg.DrainBatchSize,
	}, log)
	a.Duels = service.NewDuelService(tx, duelRepo, userRepo, problemRepo, a.Battles, service.DuelOptions{
		DurationSec:         cfg.DuelDurationSec,
		RecentProblemWindow: cfg.DuelRecentProblemWindow,
		WaitPerPositionSec:  cfg.QueueWaitPerPositionSec,
	}, log)
	a.Contests = service.NewContestService(tx, contestRepo, problemRepo, userRepo, log)
	a.Promotion = service.NewPromotionService(userRepo, contestRepo, subRepo, cfg.PromotionDeadline, log)
	return a, nil
}

func (a *App) Close() {
	queue.CloseRedis(a.Redis, a.log)
	database.Close(a.log)
}
