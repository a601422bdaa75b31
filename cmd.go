package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/bot"
	"github.com/alt-f6/znaniya-boost-bot/internal/config"
	"github.com/alt-f6/znaniya-boost-bot/internal/database"
	"github.com/alt-f6/znaniya-boost-bot/internal/repositories"

	maxbot "github.com/max-messenger/max-bot-api-client-go"
	"github.com/spf13/cobra"
)

var Version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "znaniya-boost-bot",
		Short:         "Task reminder bot for MAX with a read-only web view",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(webCmd())
	rootCmd.AddCommand(migrateCmd())

	return rootCmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	var webEnabled bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot, the reminder scheduler and the web view",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.RequireBot(); err != nil {
				return err
			}

			api, err := maxbot.New(cfg.Bot.Token)
			if err != nil {
				return fmt.Errorf("failed to create bot client: %w", err)
			}

			app, err := initializeApplication(cfg, bot.NewMaxNotifier(api, cfg.Scheduler.DeliveryTimeout))
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.cleanup()

			ctx, stop := signalContext()
			defer stop()

			if err := app.startScheduler(ctx); err != nil {
				return err
			}

			handler := bot.NewHandler(app.TaskService, app.Sessions, app.Location)
			transport := bot.NewTransport(api, handler, cfg.Scheduler.DeliveryTimeout)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				transport.Run(ctx)
			}()

			if webEnabled {
				app.setupRoutes()
				if err := app.startServer(ctx); err != nil {
					stop()
					wg.Wait()
					return err
				}
			} else {
				<-ctx.Done()
			}

			log.Println("🛑 Shutting down bot...")
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().BoolVar(&webEnabled, "web", true, "serve the read-only web view alongside the bot")

	return cmd
}

func webCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "web",
		Short: "Serve only the read-only web view",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			app, err := initializeApplication(cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.cleanup()

			ctx, stop := signalContext()
			defer stop()

			app.setupRoutes()
			return app.startServer(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the task database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrations(func(pool *database.DatabasePool, mc *repositories.MigrationConfig) error {
			return repositories.RunMigrations(pool.DB, mc)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: withMigrations(func(pool *database.DatabasePool, mc *repositories.MigrationConfig) error {
			return repositories.RollbackMigration(pool.DB, mc)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: withMigrations(func(pool *database.DatabasePool, mc *repositories.MigrationConfig) error {
			version, dirty, err := repositories.GetMigrationVersion(pool.DB, mc)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "version %d (dirty: %v)\n", version, dirty)
			return nil
		}),
	})

	return cmd
}

type migrationFunc func(pool *database.DatabasePool, mc *repositories.MigrationConfig) error

func withMigrations(fn migrationFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		pool, err := database.NewDatabasePool(database.PoolConfigFrom(cfg.Database))
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()

		return fn(pool, &repositories.MigrationConfig{
			Driver:     cfg.Database.Driver,
			DBName:     cfg.Database.Name,
			MaxRetries: 3,
			RetryDelay: 2 * time.Second,
		})
	}
}
