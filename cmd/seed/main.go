package main

import (
	"context"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"coworkspace/internal/app"
	"coworkspace/internal/database"
	"coworkspace/internal/domain/space"
)

type seedHost struct {
	name    string
	regime  string
	account string
	spaces  []space.Space
}

func main() {
	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "coworkspace.db"
	}

	db, err := database.Connect(dsn)
	if err != nil {
		log.Fatal("DB connection failed:", err)
	}

	log.Println("Running AutoMigrate...")
	if err := app.Migrate(db); err != nil {
		log.Fatal("AutoMigrate failed:", err)
	}

	// Cleanup old data (children first)
	log.Println("Cleaning old data...")
	for _, table := range []string{"notifications", "fiscal_document_requests", "payouts", "payments", "bookings", "spaces", "host_profiles"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			log.Fatalf("cleanup %s failed: %v", table, err)
		}
	}

	hosts := []seedHost{
		{
			name: "Navigli Hub", regime: "forfettario", account: "acct_seed_navigli",
			spaces: []space.Space{
				{Title: "Open desk area", MaxCapacity: 20, PricePerHour: decimal.NewFromInt(6), PricePerDay: decimal.NewFromInt(35),
					ConfirmationType: space.ConfirmationInstant, CancellationPolicy: "flexible"},
				{Title: "Meeting room Darsena", MaxCapacity: 8, PricePerHour: decimal.NewFromInt(25), PricePerDay: decimal.NewFromInt(160),
					ConfirmationType: space.ConfirmationHostApproval, CancellationPolicy: "moderate", ApprovalTimeoutHours: 12},
			},
		},
		{
			name: "Trastevere Works", regime: "ordinario", account: "acct_seed_trastevere",
			spaces: []space.Space{
				{Title: "Private office", MaxCapacity: 4, PricePerHour: decimal.NewFromInt(18), PricePerDay: decimal.NewFromInt(110),
					ConfirmationType: space.ConfirmationHostApproval, CancellationPolicy: "strict"},
			},
		},
		{
			name: "Studio Bianchi", regime: "privato",
			spaces: []space.Space{
				{Title: "Quiet room", MaxCapacity: 2, PricePerHour: decimal.NewFromInt(9),
					ConfirmationType: space.ConfirmationInstant, CancellationPolicy: "moderate"},
			},
		},
	}

	ctx := context.Background()
	repo := space.NewRepository(db)
	spaces := 0
	for _, h := range hosts {
		profile := &space.HostProfile{UserID: uuid.New(), DisplayName: h.name, FiscalRegime: h.regime, PayoutAccountID: h.account}
		if err := repo.SaveHost(ctx, profile); err != nil {
			log.Fatalf("create host %s failed: %v", h.name, err)
		}
		for i := range h.spaces {
			sp := h.spaces[i]
			sp.HostID = profile.UserID
			sp.Currency = "EUR"
			sp.Timezone = space.DefaultTimezone
			if err := repo.Create(ctx, &sp); err != nil {
				log.Fatalf("create space %s failed: %v", sp.Title, err)
			}
			spaces++
			log.Printf("  %s / %s id=%s", h.name, sp.Title, sp.ID)
		}
		log.Printf("Host %s user_id=%s regime=%s", h.name, profile.UserID, h.regime)
	}

	log.Printf("Seed completed: hosts=%d spaces=%d", len(hosts), spaces)
}
