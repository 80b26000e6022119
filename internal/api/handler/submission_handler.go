package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tle_judge/internal/api/middleware"
	"tle_judge/internal/app/service"
	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
)

type SubmissionService interface {
	CreateSubmission(ctx context.Context, userID string, req service.CreateSubmissionRequest) (*model.Submission, error)
	GetSubmission(ctx context.Context, id, callerID, callerRole string) (*model.Submission, error)
	RejudgeSubmission(ctx context.Context, id, callerID, callerRole string) (*model.Submission, error)
	ListMySubmissions(ctx context.Context, userID string, page, pageSize int) ([]model.Submission, error)
	DrainQueue(ctx context.Context, maxItems int) (service.DrainReport, error)
}

type SubmissionHandler struct {
	submissionService SubmissionService
	submitLimit       func(http.Handler) http.Handler
	log               *zap.Logger
}

// NewSubmissionHandler wires the submission routes. submitLimit throttles
// submission creation; nil disables throttling.
func NewSubmissionHandler(ss SubmissionService, submitLimit func(http.Handler) http.Handler, log *zap.Logger) *SubmissionHandler {
	if submitLimit == nil {
		submitLimit = passthrough
	}
	return &SubmissionHandler{submissionService: ss, submitLimit: submitLimit, log: log}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator) // All submission routes require auth
	r.With(h.submitLimit).Post("/", h.createSubmission)
	r.Get("/me", h.listMySubmissions)
	r.Get("/{submissionID}", h.getSubmission)
	r.Post("/{submissionID}/rejudge", h.rejudgeSubmission)
	r.With(middleware.AdminOnly).Post("/drain", h.drainQueue)
}

func (h *SubmissionHandler) createSubmission(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	var req service.CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	submission, err := h.submissionService.CreateSubmission(r.Context(), userID, req)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, submission) // 202, grading is asynchronous
}

func (h *SubmissionHandler) getSubmission(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	role, _ := middleware.GetUserRoleFromContext(r.Context())

	submission, err := h.submissionService.GetSubmission(r.Context(), chi.URLParam(r, "submissionID"), userID, role)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, submission)
}

func (h *SubmissionHandler) rejudgeSubmission(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	role, _ := middleware.GetUserRoleFromContext(r.Context())

	submission, err := h.submissionService.RejudgeSubmission(r.Context(), chi.URLParam(r, "submissionID"), userID, role)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, submission)
}

func (h *SubmissionHandler) listMySubmissions(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	page, pageSize := pageParams(r, 20)

	submissions, err := h.submissionService.ListMySubmissions(r.Context(), userID, page, pageSize)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": submissions,
		"page":        page,
		"page_size":   pageSize,
	})
}

func (h *SubmissionHandler) drainQueue(w http.ResponseWriter, r *http.Request) {
	maxItems := 0
	if raw := r.URL.Query().Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			common.RespondWithError(w, http.StatusBadRequest, "max must be a non-negative integer")
			return
		}
		maxItems = n
	}

	report, err := h.submissionService.DrainQueue(r.Context(), maxItems)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, report)
}
