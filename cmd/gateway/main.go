package main

import (
	"context"
	"log"
	"log/slog"
	"path/filepath"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/bus"
	"chatrelay/internal/config"
	"chatrelay/internal/gateway"
	"chatrelay/internal/presence"
	"chatrelay/internal/repository"
	"chatrelay/internal/server"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file, relying on process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	// Fatal on a missing secret: the process must not serve unauthenticated.
	authenticator, err := auth.NewAuthenticator(cfg.JWT.Secret)
	if err != nil {
		log.Fatal(err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to redis: ", err)
	}
	slog.Info("Redis inited")

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	slog.Info("Database inited")

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal("Failed to set migration dialect: ", err)
	}

	migrationsPath := filepath.Join("internal", "repository", "migrations")
	if err := goose.Up(db.DB, migrationsPath); err != nil {
		log.Fatal("Failed to migrate up: ", err)
	}
	slog.Info("Migrations completed")

	repo := repository.New(db)
	presenceStore := presence.NewStore(rdb, repo)
	notifyBus := bus.New(rdb)

	hub := gateway.NewHub()
	service := gateway.NewService(hub, repo, presenceStore)
	apiHandler := api.NewHandler(repo, notifyBus)

	srv := server.NewServer(
		cfg.App,
		authenticator,
		hub,
		service,
		apiHandler,
		notifyBus,
		server.WithCloser(rdb.Close),
		server.WithCloser(db.Close),
	)

	if err := srv.Run(context.Background()); err != nil {
		slog.Error("Gateway shutdown with error", "error", err)
	}
}
