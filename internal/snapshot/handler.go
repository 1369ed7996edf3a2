package snapshot

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/api"
)

type Service interface {
	Regenerate(ctx context.Context, period string) ([]Snapshot, error)
	List(ctx context.Context, tenantID string) ([]Snapshot, error)
}

var _ Service = (*Generator)(nil)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Regenerate(c *gin.Context) {
	snaps, err := h.service.Regenerate(c.Request.Context(), c.Query("period"))
	switch {
	case errors.Is(err, ErrInvalidPeriod):
		api.Error(c, http.StatusBadRequest, err.Error())
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot generation incomplete", "generated": len(snaps)})
	default:
		c.JSON(http.StatusOK, gin.H{"generated": len(snaps)})
	}
}

func (h *Handler) List(c *gin.Context) {
	snaps, err := h.service.List(c.Request.Context(), c.Param("tenantID"))
	if err != nil {
		api.Error(c, http.StatusInternalServerError, "failed to load snapshots")
		return
	}
	c.JSON(http.StatusOK, snaps)
}
