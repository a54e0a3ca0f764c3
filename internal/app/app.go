// Package app assembles the services and the HTTP router shared by the binaries.
package app

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"coworkspace/internal/cache"
	"coworkspace/internal/clock"
	"coworkspace/internal/config"
	"coworkspace/internal/domain/booking"
	fiscaldomain "coworkspace/internal/domain/fiscal"
	"coworkspace/internal/domain/notification"
	"coworkspace/internal/domain/payment"
	"coworkspace/internal/domain/payout"
	"coworkspace/internal/domain/space"
	"coworkspace/internal/middleware"
	bookingmod "coworkspace/internal/modules/booking"
	"coworkspace/internal/modules/capacity"
	"coworkspace/internal/modules/fiscal"
	paymentmod "coworkspace/internal/modules/payment"
	"coworkspace/internal/modules/realtime"
	"coworkspace/internal/modules/scheduler"
	"coworkspace/internal/pkg/jwt"
)

// Models lists every table the engine owns.
func Models() []any {
	return []any{
		&space.Space{},
		&space.HostProfile{},
		&booking.Booking{},
		&payment.Payment{},
		&payout.Payout{},
		&fiscaldomain.DocumentRequest{},
		&notification.Notification{},
	}
}

func Migrate(db *gorm.DB) error {
	for _, m := range Models() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("migrate %T: %w", m, err)
		}
	}
	return nil
}

type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    redis.Cmdable
	Provider paymentmod.Provider
	Clock    clock.Clock
	Logf     func(format string, args ...interface{})
}

type App struct {
	Router        *gin.Engine
	Hub           *realtime.Hub
	JWT           *jwt.Service
	Bookings      *bookingmod.Service
	Payments      *paymentmod.Service
	Sweeper       *scheduler.Sweeper
	Notifications *notification.Service
}

func New(d Deps) *App {
	cfg := d.Config
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	if d.Logf == nil {
		d.Logf = log.Printf
	}

	bookingRepo := booking.NewRepository(d.DB)
	spaceRepo := space.NewRepository(d.DB)
	paymentRepo := payment.NewRepository(d.DB)
	rates := fiscal.NewRates(float64(cfg.Booking.BuyerFeePercent), float64(cfg.Booking.HostFeePercent))

	hub := realtime.NewHub()
	notifications := notification.NewService(notification.NewRepository(d.DB), hub, d.Clock)
	lists := cache.NewBookingLists(d.Redis, cfg.BookingCacheTTL)
	limiter := cache.NewRateLimiter(d.Redis, cfg.RateLimitPerMinute, time.Minute)

	bookings := bookingmod.NewService(bookingRepo, spaceRepo, paymentRepo, bookingmod.OptionsFromConfig(cfg),
		bookingmod.WithClock(d.Clock),
		bookingmod.WithNotifier(notifications),
		bookingmod.WithFiscalRouter(fiscal.NewRouter(fiscaldomain.NewRepository(d.DB), notifications, rates, d.Logf)),
		bookingmod.WithRefundIssuer(paymentmod.NewRefunder(d.Provider, d.Logf)),
		bookingmod.WithListCache(lists),
		bookingmod.WithStatusPusher(hub),
		bookingmod.WithLogger(d.Logf),
	)
	payments := paymentmod.NewService(bookings, bookingRepo, spaceRepo, paymentRepo, d.Provider, paymentmod.ConfigFrom(cfg),
		paymentmod.WithClock(d.Clock),
		paymentmod.WithListCache(lists),
		paymentmod.WithLogger(d.Logf),
	)
	sweeper := scheduler.NewSweeper(bookingRepo, bookings, scheduler.Config{
		ReminderWindow:  cfg.Booking.ReminderWindow,
		SettlementGrace: cfg.Booking.SettlementGrace,
	},
		scheduler.WithClock(d.Clock),
		scheduler.WithNotifier(notifications),
		scheduler.WithReconciler(payments),
		scheduler.WithRefundRetrier(payments),
		scheduler.WithLogger(d.Logf),
	)
	jwtService := jwt.New(cfg.JWTSecret, cfg.JWTTTL)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.ErrorLogger(), middleware.CORS(cfg.CORSOrigins))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": hub.OnlineCount()})
	})

	bookingHandler := bookingmod.NewHandler(bookings, limiter)
	paymentHandler := paymentmod.NewHandler(payments, limiter)

	v1 := r.Group("/api/v1")
	capacity.NewHandler(capacity.NewResolver(spaceRepo, bookingRepo, d.Logf)).RegisterRoutes(v1)

	protected := v1.Group("")
	protected.Use(middleware.JWTAuth(jwtService))
	{
		bookingHandler.RegisterRoutes(protected)
		paymentHandler.RegisterProtectedRoutes(protected)
		realtime.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(protected)
		notification.RegisterRoutes(protected, notification.NewHandler(notifications))

		admin := protected.Group("/admin")
		admin.Use(middleware.AdminOnly())
		bookingHandler.RegisterAdminRoutes(admin)
	}

	internal := r.Group("/internal")
	internal.Use(middleware.InternalTokenAuth(cfg.InternalToken))
	scheduler.NewHandler(sweeper).RegisterRoutes(internal)

	paymentHandler.RegisterPublicRoutes(r.Group(""))

	return &App{
		Router:        r,
		Hub:           hub,
		JWT:           jwtService,
		Bookings:      bookings,
		Payments:      payments,
		Sweeper:       sweeper,
		Notifications: notifications,
	}
}
