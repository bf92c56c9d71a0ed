package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/services"
)

type SweepHandler struct {
	log          *logger.Logger
	sweepService services.SweepService
}

func NewSweepHandler(log *logger.Logger, swsvc services.SweepService) *SweepHandler {
	return &SweepHandler{
		log:          log.With("handler", "SweepHandler"),
		sweepService: swsvc,
	}
}

// POST /api/admin/sweep?window=72h
func (h *SweepHandler) RunSweep(c *gin.Context) {
	window, err := time.ParseDuration(c.DefaultQuery("window", "72h"))
	if err != nil || window <= 0 {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation,
			errors.New("window must be a positive duration"))
		return
	}
	report, err := h.sweepService.Run(c.Request.Context(), window)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, report)
}
