package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"tle_judge/internal/app"
	"tle_judge/internal/platform/config"
	"tle_judge/internal/platform/database"
	"tle_judge/internal/platform/logger"
)

func main() {
	config.Load()
	cfg := config.AppConfig
	zl := logger.Init(cfg.Env, cfg.LogLevel)
	defer zl.Sync()

	cliApp := &cli.App{
		Name:  "judgectl",
		Usage: "operate the judge from the command line",
		Commands: []*cli.Command{
			migrateCommand(cfg, zl),
			drainCommand(cfg, zl),
			reclaimCommand(cfg, zl),
			sweepCommand(cfg, zl),
			matchCommand(cfg, zl),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withApp connects everything for one command and tears it down afterwards.
func withApp(cfg *config.Config, zl *zap.Logger, fn func(c *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := app.New(c.Context, cfg, false, zl)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(c, a)
	}
}

func migrateCommand(cfg *config.Config, zl *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the database schema",
		Action: func(c *cli.Context) error {
			db, err := database.Connect(c.Context, cfg.DBConnStr, zl)
			if err != nil {
				return err
			}
			defer database.Close(zl)
			if err := database.Migrate(c.Context, db); err != nil {
				return err
			}
			fmt.Println("Schema applied")
			return nil
		},
	}
}

func drainCommand(cfg *config.Config, zl *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "drain",
		Usage: "grade up to --max pending submissions",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max", Value: 0, Usage: "submissions to grade, 0 uses the configured batch"},
		},
		Action: withApp(cfg, zl, func(c *cli.Context, a *app.App) error {
			report, err := a.Submissions.DrainQueue(c.Context, c.Int("max"))
			if err != nil {
				return err
			}
			fmt.Printf("Dequeued %d, graded %d, skipped %d\n", report.Dequeued, report.Graded, report.Skipped)
			return nil
		}),
	}
}

func reclaimCommand(cfg *config.Config, zl *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "reclaim",
		Usage: "re-enqueue PENDING submissions missing from the queue",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "older-than", Value: cfg.ReclaimPendingAfter, Usage: "minimum age of a PENDING row"},
		},
		Action: withApp(cfg, zl, func(c *cli.Context, a *app.App) error {
			n, err := a.Grading.ReclaimPending(c.Context, c.Duration("older-than"))
			if err != nil {
				return err
			}
			fmt.Printf("Re-enqueued %d submissions\n", n)
			return nil
		}),
	}
}

func sweepCommand(cfg *config.Config, zl *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "finalize battles past their deadline",
		Action: withApp(cfg, zl, func(c *cli.Context, a *app.App) error {
			n, err := a.Battles.SweepDueBattles(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Finalized %d battles\n", n)
			return nil
		}),
	}
}

func matchCommand(cfg *config.Config, zl *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "match",
		Usage: "pair waiting duel players",
		Action: withApp(cfg, zl, func(c *cli.Context, a *app.App) error {
			battles, err := a.Duels.MatchAll(c.Context)
			if err != nil {
				return err
			}
			for _, b := range battles {
				fmt.Printf("Battle %s: %s vs %s\n", b.ID, b.Player1ID, b.Player2ID)
			}
			fmt.Printf("Created %d battles\n", len(battles))
			return nil
		}),
	}
}
