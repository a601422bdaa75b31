package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/config"
	"github.com/alt-f6/znaniya-boost-bot/internal/models"
	"github.com/alt-f6/znaniya-boost-bot/internal/scheduler"
	"github.com/alt-f6/znaniya-boost-bot/internal/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopNotifier struct{}

func (nopNotifier) Notify(ctx context.Context, userID int64, text string) error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.Environment = "test"
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.URL = filepath.Join(t.TempDir(), "tasks.db")
	cfg.Redis.Enabled = false
	cfg.Scheduler.Timezone = "UTC"
	cfg.Scheduler.PollInterval = 50 * time.Millisecond
	return cfg
}

// nextYear is a whole minute a year from now, in UTC.
func nextYear() time.Time {
	return time.Now().UTC().Truncate(time.Minute).AddDate(1, 0, 0)
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestApplication_InMemoryFallback(t *testing.T) {
	app, err := initializeApplication(testConfig(t), nopNotifier{})
	require.NoError(t, err)
	defer app.cleanup()

	assert.Nil(t, app.Redis)
	assert.IsType(t, &scheduler.MemoryScheduler{}, app.Scheduler)
	assert.IsType(t, &session.MemoryStore{}, app.Sessions)

	ctx := context.Background()
	stamp := nextYear().Format(models.ScheduleLayout)
	res, err := app.TaskService.AddTask(ctx, 42, "Buy milk "+stamp)
	require.NoError(t, err)
	assert.True(t, res.Scheduled)

	app.setupRoutes()

	w := get(t, app.Router, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Buy milk — "+stamp+" (User ID: 42)")

	w = get(t, app.Router, "/api/v1/tasks?user_id=42")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)

	w = get(t, app.Router, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, app.Router, "/cache/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestApplication_RedisRestoresPendingReminders(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = mr.Port()

	app, err := initializeApplication(cfg, nopNotifier{})
	require.NoError(t, err)
	defer app.cleanup()

	require.NotNil(t, app.Redis)
	assert.IsType(t, &scheduler.RedisScheduler{}, app.Scheduler)

	ctx := context.Background()
	future := nextYear()
	past := future.AddDate(-2, 0, 0)

	upcoming, err := app.Tasks.Create(ctx, 7, "Dentist", future)
	require.NoError(t, err)
	_, err = app.Tasks.Create(ctx, 7, "Old news", past)
	require.NoError(t, err)

	require.NoError(t, app.startScheduler(ctx))

	n, err := app.Scheduler.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	at, ok, err := app.Scheduler.Pending(ctx, upcoming.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(future))

	app.setupRoutes()
	w := get(t, app.Router, "/api/v1/tasks")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mr.Exists(cfg.Scheduler.QueueKey))
}
