package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/access"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/server"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/internal/store"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/pkg/config"
	"github.com/RushikeshBhavsar3605/Bloks-sub000/pkg/logging"
)

func main() {
	bootLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	level := logging.ParseLevel(cfg.Log.Level)
	logger := logging.New(level)
	if cfg.Log.Format == "json" {
		logger = logging.NewJSON(level)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Postgres.URL)
	if err != nil {
		logger.Error("Failed to connect to postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	documents := store.NewPostgres(db)

	sessions, err := access.NewRedisSessions(cfg.Redis.URL)
	if err != nil {
		logger.Error("Failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer sessions.Close()

	verifier := access.NewComposite(sessions, documents)

	app := server.NewApp(logger, ctx, cfg, verifier, documents)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
