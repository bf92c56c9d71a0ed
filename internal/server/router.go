package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/hivedesk/membership-backend/internal/handlers"
)

type RouterConfig struct {
	AllowedOrigins      []string
	MemberHandler       *handlers.MemberHandler
	MembershipHandler   *handlers.MembershipHandler
	SubscriptionHandler *handlers.SubscriptionHandler
	ExportHandler       *handlers.ExportHandler
	WebhookHandler      *handlers.WebhookHandler
	SweepHandler        *handlers.SweepHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("membership-backend"))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "Stripe-Signature"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	// Gateway callbacks stay outside /api.
	router.POST("/webhooks/stripe", cfg.WebhookHandler.HandleStripeWebhook)

	api := router.Group("/api")
	{
		// Members
		api.POST("/members", cfg.MemberHandler.CreateMember)
		api.GET("/members/:id", cfg.MemberHandler.GetMember)

		// Memberships
		api.POST("/memberships", cfg.MembershipHandler.CreateMembership)
		api.GET("/memberships/:id", cfg.MembershipHandler.GetMembership)
		api.POST("/memberships/:id/request-payment", cfg.MembershipHandler.RequestPayment)
		api.POST("/memberships/:id/mark-paid", cfg.MembershipHandler.MarkPaid)
		api.POST("/memberships/:id/refuse", cfg.MembershipHandler.Refuse)
		api.POST("/memberships/:id/expire", cfg.MembershipHandler.Expire)

		// Subscriptions
		api.POST("/subscriptions", cfg.SubscriptionHandler.CreateSubscription)
		api.GET("/subscriptions/:id", cfg.SubscriptionHandler.GetSubscription)
		api.POST("/subscriptions/:id/checkout", cfg.SubscriptionHandler.Checkout)
		api.POST("/subscriptions/:id/mark-paid", cfg.SubscriptionHandler.MarkPaid)
		api.POST("/subscriptions/:id/deposit", cfg.SubscriptionHandler.SetDepositStatus)
		api.POST("/subscriptions/:id/modifications", cfg.SubscriptionHandler.RequestModification)
		api.POST("/subscriptions/:id/modifications/:idx/checkout", cfg.SubscriptionHandler.CheckoutModification)
		api.POST("/subscriptions/:id/modifications/:idx/mark-paid", cfg.SubscriptionHandler.ConfirmModification)

		// Partner export and reconciliation
		admin := api.Group("/admin")
		admin.GET("/exports/pending", cfg.ExportHandler.ListPending)
		admin.POST("/exports", cfg.ExportHandler.GenerateBatch)
		admin.POST("/exports/:id/send", cfg.ExportHandler.SendBatch)
		admin.POST("/exports/:id/activate", cfg.ExportHandler.ActivateBatch)
		admin.POST("/sweep", cfg.SweepHandler.RunSweep)
	}

	return router
}

// SplitOrigins parses a comma-separated origin list from the environment.
func SplitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
