package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hivedesk/membership-backend/internal/db"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/platform/certimg"
	"github.com/hivedesk/membership-backend/internal/platform/gcp"
	"github.com/hivedesk/membership-backend/internal/platform/sendgrid"
	"github.com/hivedesk/membership-backend/internal/platform/stripegw"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/services"
	"github.com/hivedesk/membership-backend/internal/tariff"
	"github.com/hivedesk/membership-backend/internal/utils"
)

// One-shot reconciliation pass over recent gateway events, meant for cron.
func main() {
	var window time.Duration
	var asJSON bool
	flag.DurationVar(&window, "window", 72*time.Hour, "how far back to replay gateway events")
	flag.BoolVar(&asJSON, "json", false, "print the full report as JSON")
	flag.Parse()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "production"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	rates := tariff.DefaultRates()
	if path := utils.GetEnv("TARIFF_RATES_PATH", "", log); path != "" {
		rates, err = tariff.LoadRates(path)
		if err != nil {
			fmt.Printf("load tariff rates: %v\n", err)
			os.Exit(1)
		}
	}
	calc := tariff.NewCalculator(rates)

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		fmt.Printf("init postgres: %v\n", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	memberRepo := repos.NewMemberRepo(thePG, log)
	membershipRepo := repos.NewMembershipRepo(thePG, log)
	subscriptionRepo := repos.NewSubscriptionRepo(thePG, log)
	modificationRepo := repos.NewModificationRepo(thePG, log)

	gateway, err := stripegw.New(log, stripegw.ConfigFromEnv(log))
	if err != nil {
		fmt.Printf("init stripe gateway: %v\n", err)
		os.Exit(1)
	}
	bucketService, err := gcp.NewBucketService(context.Background(), log)
	if err != nil {
		fmt.Printf("init bucket service: %v\n", err)
		os.Exit(1)
	}
	mailClient, err := sendgrid.New(log, sendgrid.ConfigFromEnv(log))
	if err != nil {
		fmt.Printf("init sendgrid: %v\n", err)
		os.Exit(1)
	}
	renderer, err := certimg.NewRenderer(log)
	if err != nil {
		fmt.Printf("init renderer: %v\n", err)
		os.Exit(1)
	}

	notifier := services.NewMailNotifier(log, mailClient)
	certificateService := services.NewCertificateService(log, renderer, bucketService)
	cascadeService := services.NewCascadeService(thePG, log, membershipRepo, certificateService)
	membershipService := services.NewMembershipService(thePG, log, membershipRepo, memberRepo,
		calc, gateway, notifier, certificateService, cascadeService)
	subscriptionService := services.NewSubscriptionService(thePG, log, subscriptionRepo,
		modificationRepo, membershipRepo, calc, certificateService)
	paymentService := services.NewPaymentService(log, gateway, membershipService,
		subscriptionService, subscriptionRepo, modificationRepo, calc)
	sweepService := services.NewSweepService(log, gateway, paymentService)

	report, err := sweepService.Run(context.Background(), window)
	if err != nil {
		fmt.Printf("sweep failed: %v\n", err)
		os.Exit(1)
	}

	if asJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Printf("encode report: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}
	fmt.Printf("sweep over %s: %d events, %d processed, %d already processed, %d skipped, %d errors\n",
		window, report.Events, report.Processed, report.AlreadyProcessed, report.Skipped, report.Errors)
	if report.Errors > 0 {
		os.Exit(1)
	}
}
