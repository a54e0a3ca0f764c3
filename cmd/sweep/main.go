package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"coworkspace/internal/app"
	"coworkspace/internal/config"
	"coworkspace/internal/database"
	paymentmod "coworkspace/internal/modules/payment"
	"coworkspace/internal/pkg/batch"
)

// sweep runs a single scheduler pass, for cron setups that do not keep the API's ticker running.
func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "abort the sweep after this long")
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
	if err := app.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	a := app.New(app.Deps{
		Config:   cfg,
		DB:       db,
		Provider: paymentmod.NewHTTPProvider(cfg.Payment.APIURL, cfg.Payment.APIKey, nil),
	})
	defer a.Hub.Close()

	err = batch.RunWithTimeout(context.Background(), *timeout, func(ctx context.Context) error {
		rep, err := a.Sweeper.Run(ctx)
		if err != nil {
			return err
		}
		log.Printf("level=info msg=sweep completed approval_reminders=%d payment_reminders=%d expired=%d holds_released=%d served=%d orphans_checked=%d errors=%d",
			rep.ApprovalReminders, rep.PaymentReminders, rep.Expired, rep.HoldsReleased, rep.Served, rep.Orphans.Checked, rep.Errors)
		return nil
	})
	if err != nil {
		log.Fatalf("level=error msg=sweep failed err=%v", batch.WithStack(err))
	}
}
