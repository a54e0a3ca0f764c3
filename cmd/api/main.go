package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"coworkspace/internal/app"
	"coworkspace/internal/config"
	"coworkspace/internal/database"
	paymentmod "coworkspace/internal/modules/payment"
	"coworkspace/internal/pkg/tracing"
)

const serviceVersion = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.AppEnv == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.EnableTracing {
		if err := tracing.Configure(serviceVersion); err != nil {
			log.Fatalf("tracing: %v", err)
		}
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	if err := app.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("level=warn msg=redis unavailable, list cache and rate limit degrade to pass-through err=%v", err)
		}
		defer rdb.Close()
	}

	deps := app.Deps{
		Config:   cfg,
		DB:       db,
		Provider: paymentmod.NewHTTPProvider(cfg.Payment.APIURL, cfg.Payment.APIKey, nil),
	}
	if rdb != nil {
		deps.Redis = rdb
	}
	a := app.New(deps)
	defer a.Hub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		go a.Sweeper.Loop(ctx, cfg.Scheduler.Interval)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("level=info msg=listening addr=%s env=%s", cfg.HTTPAddr, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("level=info msg=shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error msg=shutdown failed err=%v", err)
	}
}
