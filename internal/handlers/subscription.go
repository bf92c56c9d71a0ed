package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/services"
	"github.com/hivedesk/membership-backend/internal/tariff"
	"github.com/hivedesk/membership-backend/internal/types"
)

type SubscriptionHandler struct {
	log                 *logger.Logger
	subscriptionService services.SubscriptionService
	paymentService      services.PaymentService
}

func NewSubscriptionHandler(log *logger.Logger, ssvc services.SubscriptionService, psvc services.PaymentService) *SubscriptionHandler {
	return &SubscriptionHandler{
		log:                 log.With("handler", "SubscriptionHandler"),
		subscriptionService: ssvc,
		paymentService:      psvc,
	}
}

// POST /api/subscriptions
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	var input services.CreateSubscriptionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	sub, err := h.subscriptionService.Create(c.Request.Context(), input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, sub)
}

// GET /api/subscriptions/:id
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sub, err := h.subscriptionService.GetByID(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, sub)
}

// POST /api/subscriptions/:id/checkout
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	session, err := h.paymentService.CheckoutForSubscription(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, session)
}

// POST /api/subscriptions/:id/mark-paid
func (h *SubscriptionHandler) MarkPaid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req markPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	if req.PaymentRef == "" {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, errors.New("payment_ref is required"))
		return
	}
	sub, changed, err := h.subscriptionService.MarkPaid(c.Request.Context(), id, req.PaymentRef, types.SourceManual)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"subscription": sub, "changed": changed})
}

type depositRequest struct {
	Status types.DepositStatus `json:"status"`
}

// POST /api/subscriptions/:id/deposit
func (h *SubscriptionHandler) SetDepositStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	sub, err := h.subscriptionService.SetDepositStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, sub)
}

// POST /api/subscriptions/:id/modifications
func (h *SubscriptionHandler) RequestModification(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req tariff.ModificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	entry, err := h.subscriptionService.RequestModification(c.Request.Context(), id, req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, entry)
}

// POST /api/subscriptions/:id/modifications/:idx/checkout
func (h *SubscriptionHandler) CheckoutModification(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	idx, ok := pathIdx(c)
	if !ok {
		return
	}
	session, err := h.paymentService.CheckoutForModification(c.Request.Context(), id, idx)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, session)
}

// POST /api/subscriptions/:id/modifications/:idx/mark-paid
func (h *SubscriptionHandler) ConfirmModification(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	idx, ok := pathIdx(c)
	if !ok {
		return
	}
	var req markPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	if req.PaymentRef == "" {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, errors.New("payment_ref is required"))
		return
	}
	entry, changed, err := h.subscriptionService.ConfirmModification(c.Request.Context(), id, idx, req.PaymentRef, types.SourceManual)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"modification": entry, "changed": changed})
}

func pathIdx(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, errors.New("idx must be a non-negative integer"))
		return 0, false
	}
	return idx, true
}
