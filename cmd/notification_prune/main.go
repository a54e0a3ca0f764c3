package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"coworkspace/internal/clock"
	"coworkspace/internal/config"
	"coworkspace/internal/database"
	"coworkspace/internal/domain/notification"
)

func main() {
	retention := flag.Duration("retention", 30*24*time.Hour, "delete read notifications older than this")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	svc := notification.NewService(notification.NewRepository(db), nil, clock.NewSystem())
	n, err := svc.Prune(context.Background(), *retention)
	if err != nil {
		log.Fatalf("prune notifications failed: %v", err)
	}
	log.Printf("notification prune completed: deleted=%d retention=%s", n, *retention)
}
