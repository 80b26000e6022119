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

type DuelService interface {
	JoinQueue(ctx context.Context, userID string) (*service.QueueStatus, error)
	LeaveQueue(ctx context.Context, userID string) error
	GetQueueStatus(ctx context.Context, userID string) (*service.QueueStatus, error)
	Leaderboard(ctx context.Context, page, pageSize int) ([]model.LeaderboardEntry, error)
}

type BattleService interface {
	GetBattleState(ctx context.Context, battleID, callerID string) (*service.BattleState, error)
	SubmitInBattle(ctx context.Context, battleID, userID string, req service.BattleSubmitRequest) (*model.Submission, error)
	SaveDraft(ctx context.Context, battleID, userID string, req service.SaveDraftRequest) (*model.DuelDraft, error)
	GetDraft(ctx context.Context, battleID, userID string) (*model.DuelDraft, error)
}

type DuelHandler struct {
	duels       DuelService
	battles     BattleService
	submitLimit func(http.Handler) http.Handler
	log         *zap.Logger
}

func NewDuelHandler(duels DuelService, battles BattleService, submitLimit func(http.Handler) http.Handler, log *zap.Logger) *DuelHandler {
	if submitLimit == nil {
		submitLimit = passthrough
	}
	return &DuelHandler{duels: duels, battles: battles, submitLimit: submitLimit, log: log}
}

// RegisterRoutes mounts the duel routes under /duels.
func (h *DuelHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Post("/queue", h.joinQueue)
	r.Delete("/queue", h.leaveQueue)
	r.Get("/queue", h.queueStatus)

	r.Route("/battles/{battleID}", func(br chi.Router) {
		br.Get("/", h.battleState)
		br.With(h.submitLimit).Post("/submissions", h.submit)
		br.Get("/draft", h.getDraft)
		br.Put("/draft", h.saveDraft)
	})
}

// RegisterLeaderboard mounts the public leaderboard.
func (h *DuelHandler) RegisterLeaderboard(r chi.Router) {
	r.Get("/", h.leaderboard)
}

func (h *DuelHandler) joinQueue(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	status, err := h.duels.JoinQueue(r.Context(), userID)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, status)
}

func (h *DuelHandler) leaveQueue(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	if err := h.duels.LeaveQueue(r.Context(), userID); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DuelHandler) queueStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	status, err := h.duels.GetQueueStatus(r.Context(), userID)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, status)
}

func (h *DuelHandler) battleState(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	state, err := h.battles.GetBattleState(r.Context(), chi.URLParam(r, "battleID"), userID)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, state)
}

func (h *DuelHandler) submit(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	var req service.BattleSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	sub, err := h.battles.SubmitInBattle(r.Context(), chi.URLParam(r, "battleID"), userID, req)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, sub)
}

func (h *DuelHandler) saveDraft(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	var req service.SaveDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	draft, err := h.battles.SaveDraft(r.Context(), chi.URLParam(r, "battleID"), userID, req)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, draft)
}

func (h *DuelHandler) getDraft(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	draft, err := h.battles.GetDraft(r.Context(), chi.URLParam(r, "battleID"), userID)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, draft)
}

func (h *DuelHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r, 50)
	rows, err := h.duels.Leaderboard(r.Context(), page, pageSize)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"entries":   rows,
		"page":      page,
		"page_size": pageSize,
	})
}
