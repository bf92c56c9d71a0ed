package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/services"
	"github.com/hivedesk/membership-backend/internal/types"
)

type MembershipHandler struct {
	log               *logger.Logger
	membershipService services.MembershipService
}

func NewMembershipHandler(log *logger.Logger, msvc services.MembershipService) *MembershipHandler {
	return &MembershipHandler{
		log:               log.With("handler", "MembershipHandler"),
		membershipService: msvc,
	}
}

// POST /api/memberships
func (h *MembershipHandler) CreateMembership(c *gin.Context) {
	var input services.CreateMembershipInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	membership, err := h.membershipService.Create(c.Request.Context(), input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, membership)
}

// GET /api/memberships/:id
func (h *MembershipHandler) GetMembership(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	membership, err := h.membershipService.GetByID(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, membership)
}

// POST /api/memberships/:id/request-payment
func (h *MembershipHandler) RequestPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	membership, payURL, err := h.membershipService.RequestPayment(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"membership": membership, "pay_url": payURL})
}

type markPaidRequest struct {
	PaymentRef string `json:"payment_ref"`
}

// POST /api/memberships/:id/mark-paid
// Manual confirmation for out-of-band payments (check, bank transfer).
func (h *MembershipHandler) MarkPaid(c *gin.Context) {
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
	membership, changed, err := h.membershipService.MarkPaid(c.Request.Context(), id, req.PaymentRef, types.SourceManual)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"membership": membership, "changed": changed})
}

// POST /api/memberships/:id/refuse
func (h *MembershipHandler) Refuse(c *gin.Context) {
	h.setTerminal(c, h.membershipService.MarkRefused)
}

// POST /api/memberships/:id/expire
func (h *MembershipHandler) Expire(c *gin.Context) {
	h.setTerminal(c, h.membershipService.MarkExpired)
}

func (h *MembershipHandler) setTerminal(c *gin.Context, op func(ctx context.Context, id uuid.UUID) error) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), id); err != nil {
		RespondServiceError(c, err)
		return
	}
	membership, err := h.membershipService.GetByID(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, membership)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return uuid.Nil, false
	}
	return id, true
}
