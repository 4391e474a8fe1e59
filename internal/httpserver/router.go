package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notifyhub/internal/handler"
	"notifyhub/pkg/otel"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	notificationHandler *handler.NotificationHandler,
	dlqHandler *handler.DLQHandler,
	db Pinger,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(RecoveryMiddleware(logger), TraceMiddleware(), otel.GinMiddleware(), MetricsMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/notifications")
	{
		api.PUT("/:id/read", notificationHandler.MarkAsRead)
		api.GET("/unread/count/:userId", notificationHandler.GetUnreadCount)
		api.GET("/user/:userId", notificationHandler.GetUserNotifications)
		api.POST("/broadcast", notificationHandler.Broadcast)

		api.GET("/dlq/count", dlqHandler.Count)
		api.GET("/dlq/old", dlqHandler.ListOld)
		api.POST("/dlq/retry", dlqHandler.Retry)
	}

	return &Router{Engine: r}
}

// Server wraps the router in an http.Server so it can be shut down gracefully.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
