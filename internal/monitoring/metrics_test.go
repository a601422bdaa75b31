package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Saved tasks") })
	r.GET("/api/v1/tasks", func(c *gin.Context) {
		if c.Query("user_id") == "bad" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be an integer"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": []string{}, "total": 0})
	})
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r
}

func hit(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestMetricsMiddleware_CountsByRouteAndStatus(t *testing.T) {
	resetGlobalMetrics()
	r := newRouter()

	for i := 0; i < 3; i++ {
		hit(r, "/api/v1/tasks")
	}
	hit(r, "/api/v1/tasks?user_id=bad")
	hit(r, "/")
	hit(r, "/boom")

	m := GetMetrics()
	if m.RequestCount != 6 {
		t.Errorf("Expected 6 requests, got %d", m.RequestCount)
	}
	if m.ActiveRequests != 0 {
		t.Errorf("Expected no active requests, got %d", m.ActiveRequests)
	}
	if m.Endpoints["GET /api/v1/tasks"] != 4 {
		t.Errorf("Expected 4 calls to GET /api/v1/tasks, got %d", m.Endpoints["GET /api/v1/tasks"])
	}
	if m.StatusCodes["OK"] != 4 {
		t.Errorf("Expected 4 OK responses, got %d", m.StatusCodes["OK"])
	}
	if m.StatusCodes["Bad Request"] != 1 {
		t.Errorf("Expected 1 Bad Request, got %d", m.StatusCodes["Bad Request"])
	}
	if m.ErrorCount != 2 {
		t.Errorf("Expected 2 errors (400 and 500), got %d", m.ErrorCount)
	}
}

func TestMetricsMiddleware_ConcurrentRequests(t *testing.T) {
	resetGlobalMetrics()
	r := newRouter()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hit(r, "/")
			_ = GetMetrics()
		}()
	}
	wg.Wait()

	m := GetMetrics()
	if m.RequestCount != 20 || m.ActiveRequests != 0 {
		t.Errorf("Expected 20 finished requests, got count=%d active=%d", m.RequestCount, m.ActiveRequests)
	}
}

func TestReminderMetrics(t *testing.T) {
	resetReminderMetrics()

	RecordReminderScheduled()
	RecordReminderScheduled()
	RecordReminderCancelled()
	RecordReminderFired()
	RecordReminderDelivered()
	RecordReminderDeliveryFailure()
	RecordReminderMisfired()
	RecordReminderSkipped()

	got := GetReminderMetrics()
	want := ReminderSnapshot{Scheduled: 2, Cancelled: 1, Fired: 1, Delivered: 1, DeliveryFailures: 1, Misfired: 1, Skipped: 1}
	if got != want {
		t.Errorf("GetReminderMetrics() = %+v, want %+v", got, want)
	}
}

func TestGetSystemMetrics(t *testing.T) {
	m := GetSystemMetrics()

	if m.Uptime <= 0 {
		t.Error("Expected positive uptime")
	}
	if m.GoroutineCount <= 0 || m.CPUCount <= 0 {
		t.Errorf("Expected positive runtime counts, got goroutines=%d cpus=%d", m.GoroutineCount, m.CPUCount)
	}
	if m.GoVersion != runtime.Version() {
		t.Errorf("Expected Go version %s, got %s", runtime.Version(), m.GoVersion)
	}
}

func TestBToMb(t *testing.T) {
	for in, want := range map[uint64]uint64{0: 0, 1 << 20: 1, 5 << 20: 5, 1 << 30: 1024} {
		if got := bToMb(in); got != want {
			t.Errorf("bToMb(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRunHealthChecks(t *testing.T) {
	resetGlobalHealthChecker()

	RegisterHealthCheck("database", func(ctx context.Context) error { return nil })
	RegisterHealthCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })

	checks := RunHealthChecks()
	if len(checks) != 2 {
		t.Fatalf("Expected 2 health checks, got %d", len(checks))
	}
	if checks["database"].Status != "healthy" || checks["database"].Name != "database" {
		t.Errorf("Unexpected database check: %+v", checks["database"])
	}
	if checks["redis"].Status != "unhealthy" || checks["redis"].Message != "connection refused" {
		t.Errorf("Unexpected redis check: %+v", checks["redis"])
	}

	RegisterHealthCheck("redis", func(ctx context.Context) error { return nil })
	if got := RunHealthChecks()["redis"].Status; got != "healthy" {
		t.Errorf("Expected re-registered check to replace the old one, got %s", got)
	}
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		handler    gin.HandlerFunc
		failing    bool
		wantCode   int
		wantStatus string
	}{
		{"health ok", "/health", HealthHandler(), false, http.StatusOK, "healthy"},
		{"health failing", "/health", HealthHandler(), true, http.StatusServiceUnavailable, "unhealthy"},
		{"ready ok", "/ready", ReadinessHandler(), false, http.StatusOK, "ready"},
		{"ready failing", "/ready", ReadinessHandler(), true, http.StatusServiceUnavailable, "not ready"},
		{"live ignores checks", "/live", LivenessHandler(), true, http.StatusOK, "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobalHealthChecker()
			failing := tt.failing
			RegisterHealthCheck("database", func(ctx context.Context) error {
				if failing {
					return errors.New("database is locked")
				}
				return nil
			})

			gin.SetMode(gin.TestMode)
			r := gin.New()
			r.GET(tt.path, tt.handler)

			w := hit(r, tt.path)
			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
			if got := decode(t, w)["status"]; got != tt.wantStatus {
				t.Errorf("Expected status %q, got %v", tt.wantStatus, got)
			}
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	resetGlobalMetrics()
	resetReminderMetrics()
	RecordReminderDelivered()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", MetricsHandler())

	w := hit(r, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %d", w.Code)
	}

	body := decode(t, w)
	for _, key := range []string{"application", "reminders", "system", "timestamp"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Expected %q in metrics response", key)
		}
	}

	var typed struct {
		Reminders ReminderSnapshot `json:"reminders"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &typed); err != nil {
		t.Fatal(err)
	}
	if typed.Reminders.Delivered != 1 {
		t.Errorf("Expected 1 delivered reminder, got %d", typed.Reminders.Delivered)
	}
}

func resetGlobalMetrics() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.RequestCount = 0
	globalMetrics.RequestDuration = 0
	globalMetrics.ActiveRequests = 0
	globalMetrics.ErrorCount = 0
	globalMetrics.StatusCodes = make(map[string]int64)
	globalMetrics.Endpoints = make(map[string]int64)
	globalMetrics.StartTime = time.Now()
	globalMetrics.LastRequest = time.Time{}
	globalMetrics.totalDuration = 0
}

func resetGlobalHealthChecker() {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()
	globalHealthChecker.checks = make(map[string]HealthCheck)
}

func BenchmarkMetricsMiddleware(b *testing.B) {
	resetGlobalMetrics()
	r := newRouter()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hit(r, "/api/v1/tasks")
	}
}
