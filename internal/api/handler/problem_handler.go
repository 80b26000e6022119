package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tle_judge/internal/api/middleware"
	"tle_judge/internal/app/service"
	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
)

type ProblemService interface {
	CreateProblem(ctx context.Context, userID string, req service.CreateProblemRequest) (*model.Problem, error)
	PublishProblem(ctx context.Context, problemID string) error
	GetProblem(ctx context.Context, idOrSlug, userRole string) (*model.Problem, error)
	ListProblems(ctx context.Context, page, pageSize int, division model.Division, search, userRole string) ([]model.Problem, int, error)
}

type ProblemHandler struct {
	problemService ProblemService
	log            *zap.Logger
}

func NewProblemHandler(ps ProblemService, log *zap.Logger) *ProblemHandler {
	return &ProblemHandler{problemService: ps, log: log}
}

func (h *ProblemHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(public chi.Router) {
		public.Use(middleware.Identify)
		public.Get("/", h.listProblems)        // GET /api/v1/problems
		public.Get("/{problem}", h.getProblem) // GET /api/v1/problems/a-plus-b
	})

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.Authenticator)
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/", h.createProblem)
		adminRouter.Post("/{problem}/publish", h.publishProblem)
	})
}

func (h *ProblemHandler) createProblem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	var req service.CreateProblemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	problem, err := h.problemService.CreateProblem(r.Context(), userID, req)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, problem)
}

func (h *ProblemHandler) publishProblem(w http.ResponseWriter, r *http.Request) {
	if err := h.problemService.PublishProblem(r.Context(), chi.URLParam(r, "problem")); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProblemHandler) listProblems(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r, 20)

	var division model.Division
	if raw := r.URL.Query().Get("division"); raw != "" {
		d, err := model.ParseDivision(raw)
		if err != nil {
			common.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		division = d
	}

	// Role is empty on this public route unless a valid token was sent.
	userRole, _ := middleware.GetUserRoleFromContext(r.Context())

	problems, total, err := h.problemService.ListProblems(r.Context(), page, pageSize, division, r.URL.Query().Get("q"), userRole)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	type PaginatedProblemsResponse struct {
		Problems []model.Problem `json:"problems"`
		Total    int             `json:"total"`
		Page     int             `json:"page"`
		PageSize int             `json:"page_size"`
	}
	common.RespondWithJSON(w, http.StatusOK, PaginatedProblemsResponse{
		Problems: problems,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func (h *ProblemHandler) getProblem(w http.ResponseWriter, r *http.Request) {
	problemSlug := chi.URLParam(r, "problem")
	userRole, _ := middleware.GetUserRoleFromContext(r.Context())

	problem, err := h.problemService.GetProblem(r.Context(), problemSlug, userRole)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, problem)
}
