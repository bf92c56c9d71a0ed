package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/services"
)

type ExportHandler struct {
	log           *logger.Logger
	exportService services.ExportService
}

func NewExportHandler(log *logger.Logger, esvc services.ExportService) *ExportHandler {
	return &ExportHandler{
		log:           log.With("handler", "ExportHandler"),
		exportService: esvc,
	}
}

func exportYear(c *gin.Context) (int, bool) {
	year, err := strconv.Atoi(c.DefaultQuery("year", strconv.Itoa(time.Now().Year())))
	if err != nil || year <= 0 {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return 0, false
	}
	return year, true
}

// GET /api/admin/exports/pending?year=2026
func (h *ExportHandler) ListPending(c *gin.Context) {
	year, ok := exportYear(c)
	if !ok {
		return
	}
	items, err := h.exportService.CollectPending(c.Request.Context(), year)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"year": year, "count": len(items), "items": items})
}

// POST /api/admin/exports?year=2026
// Collects and claims every pending item in one batch.
func (h *ExportHandler) GenerateBatch(c *gin.Context) {
	year, ok := exportYear(c)
	if !ok {
		return
	}
	items, err := h.exportService.CollectPending(c.Request.Context(), year)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	batch, err := h.exportService.Generate(c.Request.Context(), year, items)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, batch)
}

// POST /api/admin/exports/:id/send
func (h *ExportHandler) SendBatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	batch, err := h.exportService.Send(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, batch)
}

// POST /api/admin/exports/:id/activate
// Partner validated the batch; promote its subscriptions.
func (h *ExportHandler) ActivateBatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	report, err := h.exportService.Activate(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	errs := make([]string, 0, len(report.Errors))
	for _, e := range report.Errors {
		errs = append(errs, e.Error())
	}
	RespondOK(c, gin.H{"activated": report.Activated, "errors": errs})
}
