package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

type MigrationConfig struct {
	Driver     string
	DBName     string
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultMigrationConfig() *MigrationConfig {
	return &MigrationConfig{
		Driver:     "postgres",
		DBName:     "znaniya_boost",
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
}

func newMigrator(db *gorm.DB, config *MigrationConfig) (*migrate.Migrate, *sql.DB, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := waitForDatabase(sqlDB, config.MaxRetries, config.RetryDelay); err != nil {
		return nil, nil, fmt.Errorf("database not ready: %w", err)
	}

	var driver database.Driver
	switch config.Driver {
	case "sqlite":
		driver, err = sqlite3.WithInstance(sqlDB, &sqlite3.Config{
			DatabaseName:    config.DBName,
			MigrationsTable: "schema_migrations",
		})
	default:
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{
			DatabaseName:          config.DBName,
			MigrationsTable:       "schema_migrations",
			MultiStatementEnabled: true,
			MultiStatementMaxSize: 10 * 1 << 20, // 10 MB
		})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, sourceDir(config.Driver))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, config.DBName, driver)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, sqlDB, nil
}

func sourceDir(driver string) string {
	if driver == "sqlite" {
		return "sqlite"
	}
	return "postgres"
}

func RunMigrations(db *gorm.DB, config *MigrationConfig) error {
	if config == nil {
		config = DefaultMigrationConfig()
	}

	log.Printf("🔄 Starting %s database migrations", config.Driver)

	m, sqlDB, err := newMigrator(db, config)
	if err != nil {
		return err
	}

	currentVersion, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("📋 No migrations applied yet")
	case err != nil:
		log.Printf("⚠️  Could not get current migration version: %v", err)
	default:
		log.Printf("📋 Current migration version: %d (dirty: %v)", currentVersion, dirty)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("✅ Database schema is up to date - no migrations needed")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	finalVersion, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get final migration version: %w", err)
	}

	log.Printf("✅ Database migrations completed successfully")
	log.Printf("📊 Final migration version: %d (dirty: %v)", finalVersion, dirty)

	if err := logMigrationDetails(sqlDB); err != nil {
		log.Printf("⚠️  Could not retrieve migration details: %v", err)
	}

	return nil
}

func waitForDatabase(db *sql.DB, maxRetries int, retryDelay time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	for i := 0; i < maxRetries; i++ {
		if err := db.Ping(); err == nil {
			return nil
		}
		if i < maxRetries-1 {
			log.Printf("⏳ Database not ready, retrying in %v... (attempt %d/%d)", retryDelay, i+1, maxRetries)
			time.Sleep(retryDelay)
		}
	}
	return fmt.Errorf("database not ready after %d attempts", maxRetries)
}

func logMigrationDetails(db *sql.DB) error {
	var migrationsCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&migrationsCount); err != nil {
		return err
	}

	var tasksCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&tasksCount); err != nil {
		return err
	}

	log.Printf("📈 Migration records: %d, stored tasks: %d", migrationsCount, tasksCount)
	return nil
}

func RollbackMigration(db *gorm.DB, config *MigrationConfig) error {
	if config == nil {
		config = DefaultMigrationConfig()
	}

	log.Println("⬇️  Rolling back last migration...")

	m, _, err := newMigrator(db, config)
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	log.Println("✅ Migration rolled back successfully")
	return nil
}

func GetMigrationVersion(db *gorm.DB, config *MigrationConfig) (uint, bool, error) {
	if config == nil {
		config = DefaultMigrationConfig()
	}

	m, _, err := newMigrator(db, config)
	if err != nil {
		return 0, false, err
	}

	return m.Version()
}
