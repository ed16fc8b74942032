package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/internal/config"
	"github.com/diewo77/go-brokerage/internal/db"
	"github.com/diewo77/go-brokerage/internal/gateway"
	"github.com/diewo77/go-brokerage/internal/lock"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/diewo77/go-brokerage/internal/notify"
	"github.com/diewo77/go-brokerage/internal/policy"
	"github.com/diewo77/go-brokerage/internal/services"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var configPath string

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	serve := serveCmd()
	rootCmd := &cobra.Command{
		Use:   "brokerage",
		Short: "Brokerage contract service",
		RunE:  serve.RunE,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file overlaid on the environment configuration")
	rootCmd.AddCommand(serve, migrateCmd(), tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func connectDB(cfg *config.Config) (*gorm.DB, error) {
	log.Printf("Connecting to database: host=%s port=%d dbname=%s user=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, cfg.Database.User)
	return db.Connect(cfg.Database.DSN(), 5, cfg.App.Dev)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	var adminEmail, adminName string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run DB migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbConn, err := connectDB(cfg)
			if err != nil {
				return err
			}
			if err := db.Migrate(dbConn); err != nil {
				return err
			}
			log.Println("Migrations completed successfully")
			if adminEmail != "" {
				u, err := db.SeedAdmin(dbConn, adminEmail, adminName)
				if err != nil {
					return err
				}
				log.Printf("Admin user %s has id %d", u.Email, u.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "make sure an ADMIN user exists with this email")
	cmd.Flags().StringVar(&adminName, "admin-name", "Administrator", "name of a newly created admin")
	return cmd
}

// tokenCmd issues a bearer token for an existing user, for local testing.
func tokenCmd() *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbConn, err := connectDB(cfg)
			if err != nil {
				return err
			}
			var u models.User
			if err := dbConn.First(&u, userID).Error; err != nil {
				return fmt.Errorf("load user %d: %w", userID, err)
			}
			tok, err := auth.IssueToken(auth.Actor{UserID: u.ID, Role: auth.Role(u.Role)},
				cfg.Auth.Secret, time.Duration(cfg.Auth.TokenTTL)*time.Minute)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runServer(cfg *config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	dbConn, err := connectDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations on startup if enabled
	if cfg.App.Migrations {
		if err := db.Migrate(dbConn); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Println("Migrations completed")
	}

	// Configure auth verifier to check if user exists in DB
	auth.SetActorVerifier(func(ctx context.Context, a auth.Actor) bool {
		var count int64
		dbConn.WithContext(ctx).Model(&models.User{}).Where("id = ?", a.UserID).Count(&count)
		return count > 0
	})

	ag := policy.NewAuthGate(policy.NewDBRoleResolver(dbConn), time.Duration(cfg.Auth.RoleTTL)*time.Second)

	deps := services.Deps{
		DB:       dbConn,
		Gateway:  newGateway(cfg.Gateway, logger),
		Gate:     ag,
		Logger:   logger,
		Currency: cfg.Gateway.Currency,
		DueDays:  cfg.Payments.DueDays,
	}
	if rdb := connectRedis(cfg.Redis); rdb != nil {
		defer rdb.Close()
		locker := lock.NewRedis(rdb)
		locker.Logger = logger.With("component", "lock")
		deps.Locker = locker
		deps.Notifier = notify.Fanout{notify.NewStore(dbConn), notify.NewRedisPublisher(rdb)}
	}
	svc := services.New(deps)

	// Create server with config timeouts
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      withLogging(NewApp(dbConn, svc, ag, cfg.Auth.Secret)),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s (dev=%v)", cfg.Server.Port, cfg.App.Dev)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped gracefully")
	return nil
}

func newGateway(cfg config.GatewayConfig, logger *slog.Logger) gateway.Client {
	if cfg.Sandbox {
		logger.Warn("payment gateway sandbox enabled, no money moves")
		return gateway.NewSandbox()
	}
	inner := gateway.NewHTTPClient(gateway.HTTPConfig{
		BaseURL:      cfg.BaseURL,
		ClientKey:    cfg.ClientKey,
		ClientSecret: cfg.ClientSecret,
		CallbackURL:  cfg.CallbackURL,
	}, nil)
	return gateway.NewRetrying(inner, gateway.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout(),
	}, logger)
}

// connectRedis returns nil when Redis is disabled or unreachable; the
// service then runs with an in-process lock and stored notifications only.
func connectRedis(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis unavailable, falling back to local lock", "addr", cfg.Addr, "error", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}

// withLogging adds request logging middleware.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
