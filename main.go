package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/cache"
	"github.com/alt-f6/znaniya-boost-bot/internal/config"
	"github.com/alt-f6/znaniya-boost-bot/internal/database"
	"github.com/alt-f6/znaniya-boost-bot/internal/handlers"
	"github.com/alt-f6/znaniya-boost-bot/internal/middleware"
	"github.com/alt-f6/znaniya-boost-bot/internal/monitoring"
	"github.com/alt-f6/znaniya-boost-bot/internal/repositories"
	"github.com/alt-f6/znaniya-boost-bot/internal/scheduler"
	"github.com/alt-f6/znaniya-boost-bot/internal/services"
	"github.com/alt-f6/znaniya-boost-bot/internal/session"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "cache:"

// Application holds all process dependencies and state
type Application struct {
	Config   *config.Config
	Location *time.Location
	DB       *database.DatabasePool
	Redis    *redis.Client
	Cache    *cache.MultiLevelCache
	Router   *gin.Engine
	Server   *http.Server

	Tasks       repositories.TaskRepository
	Scheduler   scheduler.Scheduler
	Sessions    session.Store
	TaskService *services.TaskService
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// initializeApplication connects storage and builds the task service. The
// notifier may be nil when the process never starts the scheduler.
func initializeApplication(cfg *config.Config, notifier services.Notifier) (*Application, error) {
	app := &Application{
		Config: cfg,
	}

	log.Println("🚀 Initializing reminder bot...")
	log.Printf("📋 Environment: %s", cfg.Server.Environment)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	app.Location = loc

	if err := app.connectDatabase(); err != nil {
		return nil, err
	}

	migrationConfig := &repositories.MigrationConfig{
		Driver:     cfg.Database.Driver,
		DBName:     cfg.Database.Name,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
	if err := repositories.RunMigrations(app.DB.DB, migrationConfig); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	app.connectRedis()

	var redisCache *cache.RedisCache
	if app.Redis != nil {
		redisCache = cache.NewRedisCache(app.Redis, cacheKeyPrefix)
		log.Println("✅ Multi-level cache initialized (Memory L1 + Redis L2)")
	} else {
		log.Println("✅ Memory cache initialized (Redis unavailable)")
	}
	app.Cache = cache.NewMultiLevelCache(redisCache)

	app.Tasks = repositories.NewCachedTaskRepository(repositories.NewGormTaskRepository(app.DB.DB), app.Cache)

	opts := scheduler.Options{
		PollInterval:    cfg.Scheduler.PollInterval,
		MisfireGrace:    cfg.Scheduler.MisfireGrace,
		Workers:         cfg.Scheduler.Workers,
		DeliveryTimeout: cfg.Scheduler.DeliveryTimeout,
	}
	if app.Redis != nil {
		app.Scheduler = scheduler.NewRedisScheduler(app.Redis, cfg.Scheduler.QueueKey, opts)
		app.Sessions = session.NewRedisStore(app.Redis, "", cfg.Session.TTL)
		log.Println("✅ Redis scheduler and session store initialized")
	} else {
		app.Scheduler = scheduler.NewMemoryScheduler(opts)
		app.Sessions = session.NewMemoryStore(cfg.Session.TTL)
		log.Println("✅ In-process scheduler and session store initialized")
	}

	app.TaskService = services.NewTaskService(app.Tasks, app.Scheduler, notifier, loc)

	app.registerHealthChecks()

	log.Println("✅ All services initialized")

	return app, nil
}

func (app *Application) connectDatabase() error {
	pool, err := database.NewDatabasePool(database.PoolConfigFrom(app.Config.Database))
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	app.DB = pool

	log.Println("✅ Database connected and configured")
	return nil
}

// connectRedis leaves app.Redis nil when redis is disabled or unreachable; the
// process then keeps reminders and sessions in memory.
func (app *Application) connectRedis() {
	cfg := app.Config.Redis
	if !cfg.Enabled {
		log.Println("📋 Redis disabled, using in-process state")
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:         app.Config.GetRedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  Redis unavailable: %v (continuing with in-process state)", err)
		client.Close()
		return
	}

	app.Redis = client
	log.Println("✅ Redis connected")
}

func (app *Application) registerHealthChecks() {
	monitoring.RegisterHealthCheck("database", func(ctx context.Context) error {
		return app.DB.Health()
	})
	if app.Redis != nil {
		monitoring.RegisterHealthCheck("redis", func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		})
	}
}

// startScheduler begins delivering reminders and re-registers every stored
// task whose time is still ahead.
func (app *Application) startScheduler(ctx context.Context) error {
	if err := app.Scheduler.Start(ctx, app.TaskService.FireReminder); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if _, err := app.TaskService.RestorePending(ctx); err != nil {
		return fmt.Errorf("restore reminders: %w", err)
	}
	return nil
}

func (app *Application) setupRoutes() {
	if app.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Logger())
	r.Use(middleware.RecoveryWithLog())
	r.Use(middleware.RequestID())
	r.Use(monitoring.MetricsMiddleware())
	r.Use(middleware.SecureHeaders())

	if app.Redis != nil {
		limiter := middleware.NewDistributedRateLimiter(app.Redis)
		r.Use(limiter.CreateMiddleware("web", &middleware.RateLimit{
			Rate:   app.Config.RateLimit.RequestsPerMin,
			Window: time.Minute,
		}))
	} else {
		r.Use(middleware.RateLimiter(app.Config.RateLimit.RequestsPerMin, app.Config.RateLimit.BurstSize))
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	r.SetHTMLTemplate(handlers.Templates())

	r.GET("/health", monitoring.HealthHandler())
	r.GET("/ready", monitoring.ReadinessHandler())
	r.GET("/live", monitoring.LivenessHandler())
	r.GET("/metrics", monitoring.MetricsHandler())

	taskHandler := handlers.NewTaskHandler(app.TaskService, app.Location)
	r.GET("/", taskHandler.TasksPage)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tasks", taskHandler.GetTasks)
	}

	cacheHandler := handlers.NewCacheHandler(app.Cache)
	cacheRoutes := r.Group("/cache")
	{
		cacheRoutes.GET("/stats", cacheHandler.GetCacheStats)
		cacheRoutes.GET("/health", cacheHandler.GetCacheHealth)
	}

	app.Router = r
}

// startServer serves the read surface until ctx is cancelled.
func (app *Application) startServer(ctx context.Context) error {
	addr := app.Config.GetServerAddr()

	app.Server = &http.Server{
		Addr:         addr,
		Handler:      app.Router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 Server starting on %s", addr)
		log.Printf("📊 Metrics available at http://%s/metrics", addr)
		log.Printf("💚 Health check at http://%s/health", addr)

		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}
	return nil
}

func (app *Application) cleanup() {
	log.Println("🧹 Cleaning up resources...")

	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}

	if app.Cache != nil {
		if err := app.Cache.Close(); err != nil {
			log.Printf("⚠️  Error closing cache: %v", err)
		}
	}

	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			log.Printf("⚠️  Error closing Redis: %v", err)
		}
	}

	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			log.Printf("⚠️  Error closing database: %v", err)
		}
	}

	log.Println("✅ Cleanup complete")
}
