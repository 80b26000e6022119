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

type ContestService interface {
	CreateContest(ctx context.Context, req service.CreateContestRequest) (*model.Contest, error)
	GetActiveContest(ctx context.Context, userID string) (*model.Contest, error)
	RegisterParticipant(ctx context.Context, contestID, userID string) error
}

type PromotionService interface {
	CheckEligibility(ctx context.Context, userID string) (*service.Eligibility, error)
	Promote(ctx context.Context, userID string) (*service.PromotionResult, error)
}

// ContestHandler serves the division ladder: contests and promotion.
type ContestHandler struct {
	contests  ContestService
	promotion PromotionService
	log       *zap.Logger
}

func NewContestHandler(contests ContestService, promotion PromotionService, log *zap.Logger) *ContestHandler {
	return &ContestHandler{contests: contests, promotion: promotion, log: log}
}

func (h *ContestHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.With(middleware.AdminOnly).Post("/", h.createContest)
	r.Get("/active", h.activeContest)
	r.Post("/{contestID}/register", h.register)
}

func (h *ContestHandler) RegisterPromotionRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/eligibility", h.eligibility)
	r.Post("/", h.promote)
}

func (h *ContestHandler) createContest(w http.ResponseWriter, r *http.Request) {
	var req service.CreateContestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	contest, err := h.contests.CreateContest(r.Context(), req)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, contest)
}

func (h *ContestHandler) activeContest(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	contest, err := h.contests.GetActiveContest(r.Context(), userID)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, contest)
}

func (h *ContestHandler) register(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	if err := h.contests.RegisterParticipant(r.Context(), chi.URLParam(r, "contestID"), userID); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContestHandler) eligibility(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	el, err := h.promotion.CheckEligibility(r.Context(), userID)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, el)
}

func (h *ContestHandler) promote(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	res, err := h.promotion.Promote(r.Context(), userID)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, res)
}
