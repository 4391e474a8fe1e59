package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/apperr"
	"notifyhub/internal/model"
	"notifyhub/internal/service"
)

type deadLetters interface {
	Count(ctx context.Context) (int64, error)
	ListOlderThan(ctx context.Context, days int) ([]model.DeadLetterEntry, error)
	Retry(ctx context.Context) (service.RetryReport, error)
}

type DLQHandler struct {
	dlq    deadLetters
	logger *zap.Logger
}

func NewDLQHandler(dlq deadLetters, logger *zap.Logger) *DLQHandler {
	return &DLQHandler{dlq: dlq, logger: logger}
}

// Count 未处理的死信数量
// GET /api/notifications/dlq/count
func (h *DLQHandler) Count(c *gin.Context) {
	n, err := h.dlq.Count(c.Request.Context())
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// ListOld 超过 daysOld 天仍未处理的死信
// GET /api/notifications/dlq/old?daysOld=7
func (h *DLQHandler) ListOld(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("daysOld", strconv.Itoa(service.DefaultDaysOld)))
	if err != nil {
		WriteError(c, h.logger, apperr.BadRequest("invalid daysOld parameter", err))
		return
	}
	entries, err := h.dlq.ListOlderThan(c.Request.Context(), days)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Retry 重放全部未处理的死信
// POST /api/notifications/dlq/retry
func (h *DLQHandler) Retry(c *gin.Context) {
	report, err := h.dlq.Retry(c.Request.Context())
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	h.logger.Info("DLQ retry triggered via API",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
	)
	c.JSON(http.StatusOK, report)
}
