package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tle_judge/internal/api"
	"tle_judge/internal/api/middleware"
	"tle_judge/internal/app"
	"tle_judge/internal/app/worker"
	"tle_judge/internal/common/security"
	"tle_judge/internal/platform/config"
	"tle_judge/internal/platform/logger"
)

func main() {
	// 1. Configuration and logging
	config.Load()
	cfg := config.AppConfig
	log := logger.Init(cfg.Env, cfg.LogLevel)
	defer log.Sync()

	// 2. JWT
	security.InitJWT(cfg.JWTKey, cfg.JWTExp)

	// 3. Infrastructure and services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	judge, err := app.New(ctx, cfg, true, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer judge.Close()

	submitLimiter := middleware.NewKeyedRateLimiter(cfg.SubmitRatePerMin, cfg.SubmitBurst)

	// 4. Background workers, both optional. Reads drain and finalize lazily.
	if cfg.GradingWorkerEnabled {
		gw := worker.NewGradingWorker(judge.Grading, cfg.GradingWorkerInterval, cfg.DrainBatchSize, cfg.ReclaimPendingAfter, log)
		go gw.Start(ctx)
	}
	var sweeper *worker.Sweeper
	if cfg.SweepEnabled {
		sweeper = worker.NewSweeper(judge.Battles, cfg.SweepSchedule, log, submitLimiter)
		if err := sweeper.Start(); err != nil {
			log.Fatal("sweeper failed to start", zap.Error(err))
		}
	}

	// 5. Router & HTTP server
	router := api.NewRouter(api.Services{
		Auth:        judge.Auth,
		Problems:    judge.Problems,
		Submissions: judge.Submissions,
		Duels:       judge.Duels,
		Battles:     judge.Battles,
		Contests:    judge.Contests,
		Promotion:   judge.Promotion,
	}, submitLimiter, log)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second, // drain-on-read may run the sandbox inline
		IdleTimeout:  120 * time.Second,
	}

	// 6. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("server starting", zap.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("could not listen", zap.String("port", cfg.APIPort), zap.Error(err))
		}
	}()

	<-stop

	log.Info("shutting down server")
	cancel()
	if sweeper != nil {
		sweeper.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
		return
	}
	log.Info("server and workers stopped gracefully")
}
