package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"umamicore/api/models"
)

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrTypeInvariant):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrTenantMismatch):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflictRetryable),
		errors.Is(err, models.ErrTransientFailure),
		errors.Is(err, models.ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := statusOf(err)
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		c.Header("Retry-After", "1")
		log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	case status == http.StatusForbidden:
		msg = "Forbidden"
	case status >= http.StatusInternalServerError:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "Internal server error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
