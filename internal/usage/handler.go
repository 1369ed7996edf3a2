package usage

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/api"
	"github.com/newtechdevloper/FitStack-sub000/internal/auth"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

type Service interface {
	Track(ctx context.Context, tenantID, metric string, quantity int64) (*Record, error)
	SyncPending(ctx context.Context) (SyncResult, error)
}

var _ Service = (*Tracker)(nil)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type TrackRequest struct {
	Metric   string `json:"metric" binding:"required"`
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
}

func (h *Handler) Track(c *gin.Context) {
	tenantID, ok := auth.GetTenantID(c)
	if !ok || tenantID == "" {
		api.Error(c, http.StatusForbidden, "tenant context required")
		return
	}

	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "metric and positive quantity are required")
		return
	}

	rec, err := h.service.Track(c.Request.Context(), tenantID, req.Metric, req.Quantity)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, rec)
	case errors.Is(err, ErrInvalidMetric), errors.Is(err, ErrInvalidQuantity):
		api.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenancy.ErrUnscopedAccess):
		api.Error(c, http.StatusForbidden, "tenant context required")
	default:
		api.Error(c, http.StatusInternalServerError, "failed to record usage")
	}
}

// Sync is the cron entry point. Partial failures still report what was
// synced.
func (h *Handler) Sync(c *gin.Context) {
	result, err := h.service.SyncPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage sync incomplete", "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}
