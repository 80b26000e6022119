package handler

import (
	"net/http"
	"strconv"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tle_judge/internal/common"
)

// respondError writes a domain error and logs the ones that are our fault.
func respondError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	if common.HTTPStatusFromError(err) >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	common.RespondWithDomainError(w, err)
}

func pageParams(r *http.Request, defaultSize int) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultSize
	}
	return page, pageSize
}

func passthrough(next http.Handler) http.Handler { return next }
