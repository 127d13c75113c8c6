package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.io/infrasutra/mockinvoice/internal/auth"
	"github.io/infrasutra/mockinvoice/internal/config"
	"github.io/infrasutra/mockinvoice/internal/invoice"
	"github.io/infrasutra/mockinvoice/internal/mailer"
	"github.io/infrasutra/mockinvoice/internal/service"
	"github.io/infrasutra/mockinvoice/internal/sse"
	"github.io/infrasutra/mockinvoice/internal/store"
)

var (
	configPath string
	envFile    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mockinvoice",
		Short:        "Mock invoice email API with injected data quality issues",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $CONFIG_FILE)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newServeCmd(),
		newGenerateCmd(),
		newSeedCmd(),
		newClearCmd(),
		newStatsCmd(),
		newDeliverCmd(),
	)
	return root
}

// app holds everything the commands share.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	db     *store.SQLite
	store  store.Store
	users  *auth.Users
	hub    *sse.Hub
	svc    *service.Service
}

func loadConfig() (config.Config, *slog.Logger, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load(envFile)
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(cfg.Log), nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := store.OpenSQLite(ctx, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	users := auth.NewUsers(db)
	if err := users.EnsureDefaults(ctx, cfg.Auth.AdminPassword, cfg.Auth.CandidatePassword); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed default users: %w", err)
	}

	st, err := store.Open(ctx, cfg.Storage, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	gen, err := invoice.NewGenerator(invoice.Options{
		InconsistencyRate: cfg.Generator.InconsistencyRate,
		DuplicateRate:     cfg.Generator.DuplicateRate,
		MinPerRequest:     cfg.Generator.MinPerRequest,
		MaxPerRequest:     cfg.Generator.MaxPerRequest,
		MaxBatchSize:      cfg.Generator.MaxBatchSize,
		Seed:              cfg.Generator.Seed,
	})
	if err != nil {
		_ = st.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init generator: %w", err)
	}

	hub := sse.NewHub()
	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		store:  st,
		users:  users,
		hub:    hub,
		svc:    service.New(gen, st, mailer.New(cfg.Relay), hub, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("close storage", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("close database", "error", err)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
