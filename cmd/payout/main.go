package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"coworkspace/internal/clock"
	"coworkspace/internal/config"
	"coworkspace/internal/database"
	"coworkspace/internal/domain/notification"
	payoutdomain "coworkspace/internal/domain/payout"
	"coworkspace/internal/modules/fiscal"
	paymentmod "coworkspace/internal/modules/payment"
	"coworkspace/internal/modules/payout"
	"coworkspace/internal/pkg/batch"
	"coworkspace/internal/pkg/tracing"
)

const segmentName = "coworkspace-payout"

// payout transfers host earnings for served bookings. When TASK_TOKEN is set the run reports
// its outcome back to the Step Functions execution that started it.
func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "abort the payout run after this long")
	batchSize := flag.Int("batch", 100, "bookings per run")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", batch.WithStack(err))
	}
	if cfg.EnableTracing {
		if err := tracing.Configure("1.0.0"); err != nil {
			log.Fatalf("tracing: %v", err)
		}
	}

	taskToken := os.Getenv("TASK_TOKEN")
	var sfnClient *sfn.Client
	if taskToken != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatalf("aws config: %v", batch.WithStack(err))
		}
		sfnClient = sfn.NewFromConfig(awsCfg)
	}

	driver := "sqlite"
	if database.IsPostgres(cfg.DatabaseURL) {
		driver = "postgres"
	}
	ledgerDB, err := sqlx.Connect(driver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("ledger connect failed: %v", batch.WithStack(err))
	}
	defer ledgerDB.Close()

	gdb, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", batch.WithStack(err))
	}
	clk := clock.NewSystem()

	dispatcher := payout.NewDispatcher(
		payoutdomain.NewRepository(ledgerDB),
		paymentmod.NewHTTPProvider(cfg.Payment.APIURL, cfg.Payment.APIKey, nil),
		fiscal.NewRates(float64(cfg.Booking.BuyerFeePercent), float64(cfg.Booking.HostFeePercent)),
		payout.WithClock(clk),
		payout.WithNotifier(notification.NewService(notification.NewRepository(gdb), nil, clk)),
		payout.WithBatchSize(*batchSize),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, closeSeg := tracing.BeginSegment(ctx, segmentName)
	tracing.AddMetadata(ctx, "timeout", timeout.String())

	var rep payout.Report
	err = batch.RunWithTimeout(ctx, *timeout, func(ctx context.Context) error {
		var err error
		rep, err = dispatcher.Dispatch(ctx)
		return err
	})
	closeSeg(err)

	if err != nil {
		log.Printf("level=error msg=payout run failed err=%v", batch.WithStack(err))
		reportFailure(sfnClient, taskToken, err)
		os.Exit(1)
	}

	log.Printf("level=info msg=payout run completed due=%d transferred=%d skipped=%d failed=%d",
		rep.Due, rep.Transferred, rep.Skipped, rep.Failed)
	reportSuccess(sfnClient, taskToken, rep)
}

func reportSuccess(client *sfn.Client, token string, rep payout.Report) {
	if client == nil {
		return
	}
	out, err := json.Marshal(rep)
	if err != nil {
		log.Printf("level=error msg=encode report failed err=%v", err)
		return
	}
	if _, err := client.SendTaskSuccess(context.Background(), &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(token),
		Output:    aws.String(string(out)),
	}); err != nil {
		log.Printf("level=error msg=send task success failed err=%v", err)
	}
}

func reportFailure(client *sfn.Client, token string, cause error) {
	if client == nil {
		return
	}
	if _, err := client.SendTaskFailure(context.Background(), &sfn.SendTaskFailureInput{
		TaskToken: aws.String(token),
		Error:     aws.String("PayoutRunFailed"),
		Cause:     aws.String(cause.Error()),
	}); err != nil {
		log.Printf("level=error msg=send task failure failed err=%v", err)
	}
}
