package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// BattleSweeper finalizes battles whose deadline passed.
type BattleSweeper interface {
	SweepDueBattles(ctx context.Context) (int, error)
}

// Pruner drops idle rate limiter state and reports how many entries went.
type Pruner interface {
	Prune() int
}

// Sweeper runs periodic housekeeping on a cron schedule. Reads finalize
// battles lazily, so the sweep only catches battles nobody looks at.
type Sweeper struct {
	battles  BattleSweeper
	pruners  []Pruner
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	log      *zap.Logger
}

func NewSweeper(battles BattleSweeper, schedule string, log *zap.Logger, pruners ...Pruner) *Sweeper {
	return &Sweeper{
		battles:  battles,
		pruners:  pruners,
		schedule: schedule,
		timeout:  time.Minute,
		cron:     cron.New(),
		log:      log.Named("sweeper"),
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.Info("sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("sweeper stopped")
}

// RunOnce performs a single sweep and returns the number of battles finished.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.battles.SweepDueBattles(ctx)
	if err != nil {
		s.log.Error("battle sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("finalized expired battles", zap.Int("count", n))
	}
	for _, p := range s.pruners {
		if dropped := p.Prune(); dropped > 0 {
			s.log.Debug("pruned idle limiter entries", zap.Int("count", dropped))
		}
	}
	return n
}
