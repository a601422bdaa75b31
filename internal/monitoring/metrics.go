package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

type Metrics struct {
	mu sync.RWMutex

	RequestCount    int64
	RequestDuration time.Duration
	ActiveRequests  int64
	ErrorCount      int64
	StatusCodes     map[string]int64
	Endpoints       map[string]int64
	StartTime       time.Time
	LastRequest     time.Time

	totalDuration time.Duration
}

type MetricsSnapshot struct {
	RequestCount    int64            `json:"request_count"`
	AverageDuration string           `json:"average_duration"`
	ActiveRequests  int64            `json:"active_requests"`
	ErrorCount      int64            `json:"error_count"`
	StatusCodes     map[string]int64 `json:"status_codes"`
	Endpoints       map[string]int64 `json:"endpoints"`
	StartTime       time.Time        `json:"start_time"`
	LastRequest     time.Time        `json:"last_request"`
}

// ReminderMetrics counts scheduler and delivery outcomes.
type ReminderMetrics struct {
	scheduled        atomic.Int64
	cancelled        atomic.Int64
	fired            atomic.Int64
	delivered        atomic.Int64
	deliveryFailures atomic.Int64
	misfired         atomic.Int64
	skipped          atomic.Int64
}

type ReminderSnapshot struct {
	Scheduled        int64 `json:"scheduled"`
	Cancelled        int64 `json:"cancelled"`
	Fired            int64 `json:"fired"`
	Delivered        int64 `json:"delivered"`
	DeliveryFailures int64 `json:"delivery_failures"`
	Misfired         int64 `json:"misfired"`
	Skipped          int64 `json:"skipped"`
}

type MemoryUsage struct {
	Alloc      uint64 `json:"alloc_mb"`
	TotalAlloc uint64 `json:"total_alloc_mb"`
	Sys        uint64 `json:"sys_mb"`
	NumGC      uint32 `json:"num_gc"`
}

type SystemMetrics struct {
	Uptime         time.Duration `json:"uptime"`
	GoroutineCount int           `json:"goroutine_count"`
	CPUCount       int           `json:"cpu_count"`
	GoVersion      string        `json:"go_version"`
	MemoryUsage    MemoryUsage   `json:"memory_usage"`
}

type HealthCheck struct {
	Name      string                          `json:"name"`
	Status    string                          `json:"status"`
	Message   string                          `json:"message,omitempty"`
	Duration  string                          `json:"duration,omitempty"`
	CheckedAt time.Time                       `json:"checked_at"`
	Check     func(ctx context.Context) error `json:"-"`
}

type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

var (
	globalMetrics = &Metrics{
		StatusCodes: make(map[string]int64),
		Endpoints:   make(map[string]int64),
		StartTime:   time.Now(),
	}
	globalReminders     = &ReminderMetrics{}
	globalHealthChecker = &HealthChecker{checks: make(map[string]HealthCheck)}
	processStart        = time.Now()
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		globalMetrics.mu.Lock()
		globalMetrics.ActiveRequests++
		globalMetrics.mu.Unlock()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		globalMetrics.mu.Lock()
		defer globalMetrics.mu.Unlock()

		globalMetrics.ActiveRequests--
		globalMetrics.RequestCount++
		globalMetrics.totalDuration += duration
		globalMetrics.RequestDuration = globalMetrics.totalDuration / time.Duration(globalMetrics.RequestCount)
		globalMetrics.LastRequest = time.Now()
		globalMetrics.StatusCodes[http.StatusText(status)]++
		globalMetrics.Endpoints[c.Request.Method+" "+endpoint]++
		if status >= http.StatusBadRequest {
			globalMetrics.ErrorCount++
		}
	}
}

func GetMetrics() MetricsSnapshot {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	snapshot := MetricsSnapshot{
		RequestCount:    globalMetrics.RequestCount,
		AverageDuration: globalMetrics.RequestDuration.String(),
		ActiveRequests:  globalMetrics.ActiveRequests,
		ErrorCount:      globalMetrics.ErrorCount,
		StatusCodes:     make(map[string]int64, len(globalMetrics.StatusCodes)),
		Endpoints:       make(map[string]int64, len(globalMetrics.Endpoints)),
		StartTime:       globalMetrics.StartTime,
		LastRequest:     globalMetrics.LastRequest,
	}
	for k, v := range globalMetrics.StatusCodes {
		snapshot.StatusCodes[k] = v
	}
	for k, v := range globalMetrics.Endpoints {
		snapshot.Endpoints[k] = v
	}
	return snapshot
}

func RecordReminderScheduled()       { globalReminders.scheduled.Add(1) }
func RecordReminderCancelled()       { globalReminders.cancelled.Add(1) }
func RecordReminderFired()           { globalReminders.fired.Add(1) }
func RecordReminderDelivered()       { globalReminders.delivered.Add(1) }
func RecordReminderDeliveryFailure() { globalReminders.deliveryFailures.Add(1) }
func RecordReminderMisfired()        { globalReminders.misfired.Add(1) }
func RecordReminderSkipped()         { globalReminders.skipped.Add(1) }

func GetReminderMetrics() ReminderSnapshot {
	return ReminderSnapshot{
		Scheduled:        globalReminders.scheduled.Load(),
		Cancelled:        globalReminders.cancelled.Load(),
		Fired:            globalReminders.fired.Load(),
		Delivered:        globalReminders.delivered.Load(),
		DeliveryFailures: globalReminders.deliveryFailures.Load(),
		Misfired:         globalReminders.misfired.Load(),
		Skipped:          globalReminders.skipped.Load(),
	}
}

func resetReminderMetrics() {
	globalReminders.scheduled.Store(0)
	globalReminders.cancelled.Store(0)
	globalReminders.fired.Store(0)
	globalReminders.delivered.Store(0)
	globalReminders.deliveryFailures.Store(0)
	globalReminders.misfired.Store(0)
	globalReminders.skipped.Store(0)
}

func GetSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemMetrics{
		Uptime:         time.Since(processStart),
		GoroutineCount: runtime.NumGoroutine(),
		CPUCount:       runtime.NumCPU(),
		GoVersion:      runtime.Version(),
		MemoryUsage: MemoryUsage{
			Alloc:      bToMb(m.Alloc),
			TotalAlloc: bToMb(m.TotalAlloc),
			Sys:        bToMb(m.Sys),
			NumGC:      m.NumGC,
		},
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

func RegisterHealthCheck(name string, check func(ctx context.Context) error) {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()

	globalHealthChecker.checks[name] = HealthCheck{Name: name, Check: check}
}

func RunHealthChecks() map[string]HealthCheck {
	globalHealthChecker.mu.RLock()
	checks := make(map[string]HealthCheck, len(globalHealthChecker.checks))
	for name, check := range globalHealthChecker.checks {
		checks[name] = check
	}
	globalHealthChecker.mu.RUnlock()

	results := make(map[string]HealthCheck, len(checks))
	for name, check := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		start := time.Now()
		err := check.Check(ctx)
		cancel()

		check.Status = "healthy"
		check.Duration = time.Since(start).String()
		check.CheckedAt = time.Now()
		if err != nil {
			check.Status = "unhealthy"
			check.Message = err.Error()
		}
		results[name] = check
	}
	return results
}

func allHealthy(checks map[string]HealthCheck) bool {
	for _, check := range checks {
		if check.Status != "healthy" {
			return false
		}
	}
	return true
}

func MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"application": GetMetrics(),
			"reminders":   GetReminderMetrics(),
			"system":      GetSystemMetrics(),
			"timestamp":   time.Now().UTC(),
		})
	}
}

func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := RunHealthChecks()

		status, code := "healthy", http.StatusOK
		if !allHealthy(checks) {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":    status,
			"checks":    checks,
			"timestamp": time.Now().UTC(),
		})
	}
}

func ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := RunHealthChecks()

		if !allHealthy(checks) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": time.Since(processStart).String(),
		})
	}
}
