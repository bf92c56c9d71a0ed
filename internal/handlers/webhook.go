package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/services"
)

type WebhookHandler struct {
	log            *logger.Logger
	paymentService services.PaymentService
}

func NewWebhookHandler(log *logger.Logger, psvc services.PaymentService) *WebhookHandler {
	return &WebhookHandler{
		log:            log.With("handler", "WebhookHandler"),
		paymentService: psvc,
	}
}

// POST /webhooks/stripe
// Signature verification needs the raw body, so no binding here.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	if err := h.paymentService.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		// A non-2xx response is the gateway's cue to retry the delivery.
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
