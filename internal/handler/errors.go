package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/apperr"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

const timestampLayout = "2006-01-02T15:04:05"

// NewErrorResponse builds the client view of code. Technical detail never leaves the server.
func NewErrorResponse(code apperr.Code, path string) ErrorResponse {
	return ErrorResponse{
		Timestamp: time.Now().Format(timestampLayout),
		Status:    code.HTTPStatus(),
		ErrorCode: string(code),
		Message:   code.ClientMessage(),
		Path:      path,
	}
}

// WriteError logs err and aborts the request with its ErrorResponse.
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	code := apperr.CodeOf(err)
	resp := NewErrorResponse(code, c.Request.URL.Path)

	if resp.Status >= 500 {
		logger.Error("Request failed",
			zap.String("path", resp.Path),
			zap.String("error_code", resp.ErrorCode),
			zap.Error(err),
		)
	} else {
		logger.Info("Request rejected",
			zap.String("path", resp.Path),
			zap.String("error_code", resp.ErrorCode),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(resp.Status, resp)
}
