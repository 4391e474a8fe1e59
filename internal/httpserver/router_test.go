package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/handler"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/internal/service"
	"notifyhub/pkg/circuitbreaker"
)

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testEnv struct {
	router *Router
	store  *repository.MemoryStore
	engine *service.FanoutEngine
}

func newTestEnv(t *testing.T, db Pinger) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	store := repository.NewMemoryStore()
	push := service.NewPushChannel(service.NewLogTransport(log), circuitbreaker.DefaultConfig(), log)
	engine := service.NewFanoutEngine(store, push, log)
	dlq := service.NewDeadLetterService(store, engine, log)
	queries := service.NewNotificationQuery(store, log)

	if db == nil {
		db = store
	}
	router := NewRouter(
		handler.NewNotificationHandler(queries, push, log),
		handler.NewDLQHandler(dlq, log),
		db,
		log,
	)
	return &testEnv{router: router, store: store, engine: engine}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = env.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestEnv(t, downPinger{})
	w = down.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.engine.Process(ctx, &model.Event{
		EventType: model.EventRentalRequestCreated,
		UserIDs:   []int64{9},
		Title:     "New request",
		Message:   "Someone wants to rent your flat",
		Channels:  []model.Channel{model.ChannelPush, model.ChannelEmail},
	}))

	w := env.do(http.MethodGet, "/api/notifications/unread/count/9", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Body.String())

	w = env.do(http.MethodGet, "/api/notifications/user/9", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.NotificationDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.NotNil(t, list[0].SentAt)

	path := "/api/notifications/" + strconv.FormatInt(list[0].ID, 10) + "/read"
	assert.Equal(t, http.StatusOK, env.do(http.MethodPut, path, "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPut, path, "").Code)

	w = env.do(http.MethodGet, "/api/notifications/unread/count/9", "")
	assert.Equal(t, "1", w.Body.String())

	w = env.do(http.MethodGet, "/api/notifications/user/404", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestMarkAsReadNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPut, "/api/notifications/777/read", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "NOTIFICATION_NOT_FOUND", resp.ErrorCode)
	assert.Equal(t, "Notification not found", resp.Message)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "/api/notifications/777/read", resp.Path)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestInvalidPathParameter(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/notifications/user/abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_NOTIFICATION_DATA")
}

func TestDLQEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.SaveDeadLetterEntry(ctx, &model.DeadLetterEntry{
		Topic:     "notification-events",
		Payload:   `{"eventType":"KEY_DELIVERED","userIds":[3],"title":"Keys","channels":["PUSH"]}`,
		ErrorType: "persistence_error",
	}))
	require.NoError(t, env.store.SaveDeadLetterEntry(ctx, &model.DeadLetterEntry{
		Topic:     "notification-events",
		Payload:   "not json",
		ErrorType: "json_decode_error",
	}))

	w := env.do(http.MethodGet, "/api/notifications/dlq/count", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Body.String())

	w = env.do(http.MethodGet, "/api/notifications/dlq/old", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = env.do(http.MethodGet, "/api/notifications/dlq/old?daysOld=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []model.DeadLetterEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/notifications/dlq/old?daysOld=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/notifications/dlq/old?daysOld=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/notifications/dlq/old?daysOld=200000", "").Code)

	w = env.do(http.MethodPost, "/api/notifications/dlq/retry", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report service.RetryReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, service.RetryReport{Attempted: 2, Succeeded: 1, Failed: 1}, report)

	w = env.do(http.MethodGet, "/api/notifications/dlq/count", "")
	assert.Equal(t, "1", w.Body.String())
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/notifications/broadcast", `{"title":"Maintenance","message":"Down at 2am"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(http.MethodPost, "/api/notifications/broadcast", `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/notifications/broadcast", `{"eventType":"NOPE","title":"x","message":"y"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPanicIsRecovered(t *testing.T) {
	env := newTestEnv(t, nil)
	env.router.Engine.GET("/boom", func(*gin.Context) { panic("nil pointer in handler") })

	w := env.do(http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INTERNAL_SERVER_ERROR", resp.ErrorCode)
	assert.NotContains(t, w.Body.String(), "nil pointer")
}
