package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"go.uber.org/zap"

	"tle_judge/internal/api/handler"
	"tle_judge/internal/api/middleware"
	"tle_judge/internal/common/security"
	"tle_judge/internal/platform/metrics"
)

// Services bundles everything the HTTP layer calls into.
type Services struct {
	Auth        handler.AuthService
	Problems    handler.ProblemService
	Submissions handler.SubmissionService
	Duels       handler.DuelService
	Battles     handler.BattleService
	Contests    handler.ContestService
	Promotion   handler.PromotionService
}

// NewRouter builds the API. submitLimiter throttles both practice and duel
// submissions; nil disables throttling.
func NewRouter(svc Services, submitLimiter *middleware.KeyedRateLimiter, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Verifies a bearer token if present and stores it in the context.
	r.Use(jwtauth.Verifier(security.TokenAuth))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	var submitLimit func(http.Handler) http.Handler
	if submitLimiter != nil {
		submitLimit = middleware.RateLimit(submitLimiter, log)
	}

	r.Route("/api/v1", func(v1 chi.Router) {
		authHandler := handler.NewAuthHandler(svc.Auth, log)
		v1.Route("/auth", authHandler.RegisterRoutes)

		problemHandler := handler.NewProblemHandler(svc.Problems, log)
		v1.Route("/problems", problemHandler.RegisterRoutes)

		submissionHandler := handler.NewSubmissionHandler(svc.Submissions, submitLimit, log)
		v1.Route("/submissions", submissionHandler.RegisterRoutes)

		duelHandler := handler.NewDuelHandler(svc.Duels, svc.Battles, submitLimit, log)
		v1.Route("/duels", duelHandler.RegisterRoutes)
		v1.Route("/leaderboard", duelHandler.RegisterLeaderboard)

		contestHandler := handler.NewContestHandler(svc.Contests, svc.Promotion, log)
		v1.Route("/contests", contestHandler.RegisterRoutes)
		v1.Route("/promotion", contestHandler.RegisterPromotionRoutes)
	})

	return r
}
