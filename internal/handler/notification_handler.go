package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/apperr"
	"notifyhub/internal/model"
)

type notificationQueries interface {
	MarkAsRead(ctx context.Context, id int64) error
	ListForUser(ctx context.Context, userID int64) ([]model.NotificationDTO, error)
	CountUnread(ctx context.Context, userID int64) (int64, error)
}

type broadcaster interface {
	Broadcast(ctx context.Context, dto model.NotificationDTO) error
}

type NotificationHandler struct {
	queries     notificationQueries
	broadcaster broadcaster
	logger      *zap.Logger
}

func NewNotificationHandler(queries notificationQueries, broadcaster broadcaster, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		queries:     queries,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// MarkAsRead 标记单条通知为已读
// PUT /api/notifications/:id/read
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.queries.MarkAsRead(c.Request.Context(), id); err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.Status(http.StatusOK)
}

// GetUnreadCount 未读数量
// GET /api/notifications/unread/count/:userId
func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	userID, ok := h.pathID(c, "userId")
	if !ok {
		return
	}
	n, err := h.queries.CountUnread(c.Request.Context(), userID)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// GetUserNotifications 用户通知列表，最新的在前
// GET /api/notifications/user/:userId
func (h *NotificationHandler) GetUserNotifications(c *gin.Context) {
	userID, ok := h.pathID(c, "userId")
	if !ok {
		return
	}
	list, err := h.queries.ListForUser(c.Request.Context(), userID)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type broadcastRequest struct {
	EventType model.EventType   `json:"eventType"`
	Title     string            `json:"title" binding:"required,max=255"`
	Message   string            `json:"message" binding:"required"`
	Metadata  map[string]string `json:"metadata"`
}

// Broadcast 向所有在线客户端推送
// POST /api/notifications/broadcast
func (h *NotificationHandler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, h.logger, apperr.BadRequest("invalid broadcast body", err))
		return
	}
	if req.EventType != "" && !req.EventType.Valid() {
		WriteError(c, h.logger, apperr.BadRequest("unknown event type", nil))
		return
	}

	dto := model.NotificationDTO{
		EventType: req.EventType,
		Title:     req.Title,
		Message:   req.Message,
		Status:    model.StatusUnread,
		Metadata:  req.Metadata,
	}
	if err := h.broadcaster.Broadcast(c.Request.Context(), dto); err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *NotificationHandler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		WriteError(c, h.logger, apperr.BadRequest("invalid "+name+" parameter", err))
		return 0, false
	}
	return id, true
}
