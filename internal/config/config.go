package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/utils"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type BotConfig struct {
	Token string `yaml:"token"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	Environment  string        `yaml:"environment"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	LogSQL          bool          `yaml:"log_sql"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SchedulerConfig struct {
	Timezone        string        `yaml:"timezone"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MisfireGrace    time.Duration `yaml:"misfire_grace"`
	Workers         int           `yaml:"workers"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	QueueKey        string        `yaml:"queue_key"`
}

type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	BurstSize      int `yaml:"burst_size"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         "8000",
			Environment:  "development",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			Name:            "znaniya_boost",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Host:         "localhost",
			Port:         "6379",
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Timezone:        "Local",
			PollInterval:    time.Second,
			MisfireGrace:    60 * time.Second,
			Workers:         4,
			DeliveryTimeout: 10 * time.Second,
			QueueKey:        "reminders:pending",
		},
		Session: SessionConfig{
			TTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: 120,
			BurstSize:      20,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE), a .env file and finally the process environment.
func LoadConfig() (*Config, error) {
	envFile := utils.GetEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("📋 No %s file found, using environment variables", envFile)
	}

	cfg := Default()

	if path := utils.GetEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Bot.Token = utils.GetEnv("BOT_TOKEN", c.Bot.Token)

	c.Server.Host = utils.GetEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = utils.GetEnv("SERVER_PORT", c.Server.Port)
	c.Server.Environment = utils.GetEnv("ENVIRONMENT", c.Server.Environment)
	c.Server.ReadTimeout = utils.GetEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = utils.GetEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = utils.GetEnvDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)

	c.Database.Driver = utils.GetEnv("DB_DRIVER", c.Database.Driver)
	c.Database.URL = utils.GetEnv("DATABASE_URL", c.Database.URL)
	c.Database.Name = utils.GetEnv("DB_NAME", c.Database.Name)
	c.Database.MaxOpenConns = utils.GetEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = utils.GetEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = utils.GetEnvDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.ConnMaxIdleTime = utils.GetEnvDuration("DB_CONN_MAX_IDLE_TIME", c.Database.ConnMaxIdleTime)
	c.Database.LogSQL = utils.GetEnvBool("DB_LOG_SQL", c.Database.LogSQL)

	c.Redis.Enabled = utils.GetEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = utils.GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = utils.GetEnv("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = utils.GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = utils.GetEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = utils.GetEnvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)

	c.Scheduler.Timezone = utils.GetEnv("TIMEZONE", c.Scheduler.Timezone)
	c.Scheduler.PollInterval = utils.GetEnvDuration("SCHEDULER_POLL_INTERVAL", c.Scheduler.PollInterval)
	c.Scheduler.MisfireGrace = utils.GetEnvDuration("MISFIRE_GRACE", c.Scheduler.MisfireGrace)
	c.Scheduler.Workers = utils.GetEnvInt("DELIVERY_WORKERS", c.Scheduler.Workers)
	c.Scheduler.DeliveryTimeout = utils.GetEnvDuration("DELIVERY_TIMEOUT", c.Scheduler.DeliveryTimeout)
	c.Scheduler.QueueKey = utils.GetEnv("SCHEDULER_QUEUE_KEY", c.Scheduler.QueueKey)

	c.Session.TTL = utils.GetEnvDuration("SESSION_TTL", c.Session.TTL)

	c.RateLimit.RequestsPerMin = utils.GetEnvInt("RATE_LIMIT_RPM", c.RateLimit.RequestsPerMin)
	c.RateLimit.BurstSize = utils.GetEnvInt("RATE_LIMIT_BURST", c.RateLimit.BurstSize)
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Scheduler.Timezone, err)
	}
	if c.Scheduler.PollInterval <= 0 {
		return errors.New("scheduler poll interval must be positive")
	}
	if c.Scheduler.MisfireGrace < 0 {
		return errors.New("misfire grace must not be negative")
	}
	return nil
}

// RequireBot reports an error when the chat transport cannot be started.
func (c *Config) RequireBot() error {
	if c.Bot.Token == "" {
		return errors.New("BOT_TOKEN environment variable is required")
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.Timezone)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
