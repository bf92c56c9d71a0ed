package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hivedesk/membership-backend/internal/db"
	"github.com/hivedesk/membership-backend/internal/handlers"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/platform/certimg"
	"github.com/hivedesk/membership-backend/internal/platform/gcp"
	"github.com/hivedesk/membership-backend/internal/platform/sendgrid"
	"github.com/hivedesk/membership-backend/internal/platform/stripegw"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/server"
	"github.com/hivedesk/membership-backend/internal/services"
	"github.com/hivedesk/membership-backend/internal/tariff"
	"github.com/hivedesk/membership-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tariffs
	rates := tariff.DefaultRates()
	if path := utils.GetEnv("TARIFF_RATES_PATH", "", log); path != "" {
		rates, err = tariff.LoadRates(path)
		if err != nil {
			log.Error("Could not load tariff rates", "path", path, "error", err)
			os.Exit(1)
		}
	}
	calc := tariff.NewCalculator(rates)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	memberRepo := repos.NewMemberRepo(thePG, log)
	membershipRepo := repos.NewMembershipRepo(thePG, log)
	subscriptionRepo := repos.NewSubscriptionRepo(thePG, log)
	modificationRepo := repos.NewModificationRepo(thePG, log)
	exportBatchRepo := repos.NewExportBatchRepo(thePG, log)

	// Platform clients
	log.Info("Setting up platform clients from main...")
	gateway, err := stripegw.New(log, stripegw.ConfigFromEnv(log))
	if err != nil {
		log.Error("Could not init Stripe gateway", "error", err)
		os.Exit(1)
	}
	bucketService, err := gcp.NewBucketService(context.Background(), log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	mailClient, err := sendgrid.New(log, sendgrid.ConfigFromEnv(log))
	if err != nil {
		log.Error("Could not init SendGrid client", "error", err)
		os.Exit(1)
	}
	renderer, err := certimg.NewRenderer(log)
	if err != nil {
		log.Error("Could not init certificate renderer", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	notifier := services.NewMailNotifier(log, mailClient)
	certificateService := services.NewCertificateService(log, renderer, bucketService)
	cascadeService := services.NewCascadeService(thePG, log, membershipRepo, certificateService)
	membershipService := services.NewMembershipService(thePG, log, membershipRepo, memberRepo,
		calc, gateway, notifier, certificateService, cascadeService)
	subscriptionService := services.NewSubscriptionService(thePG, log, subscriptionRepo,
		modificationRepo, membershipRepo, calc, certificateService)
	paymentService := services.NewPaymentService(log, gateway, membershipService,
		subscriptionService, subscriptionRepo, modificationRepo, calc)
	exportService := services.NewExportService(thePG, log, subscriptionRepo, modificationRepo,
		exportBatchRepo, bucketService, notifier, certificateService)
	sweepService := services.NewSweepService(log, gateway, paymentService)

	// Handlers
	log.Info("Setting up Handlers from main...")
	memberHandler := handlers.NewMemberHandler(log, memberRepo)
	membershipHandler := handlers.NewMembershipHandler(log, membershipService)
	subscriptionHandler := handlers.NewSubscriptionHandler(log, subscriptionService, paymentService)
	exportHandler := handlers.NewExportHandler(log, exportService)
	webhookHandler := handlers.NewWebhookHandler(log, paymentService)
	sweepHandler := handlers.NewSweepHandler(log, sweepService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AllowedOrigins:      server.SplitOrigins(utils.GetEnv("CORS_ALLOWED_ORIGINS", "", log)),
		MemberHandler:       memberHandler,
		MembershipHandler:   membershipHandler,
		SubscriptionHandler: subscriptionHandler,
		ExportHandler:       exportHandler,
		WebhookHandler:      webhookHandler,
		SweepHandler:        sweepHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
