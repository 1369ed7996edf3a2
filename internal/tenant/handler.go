package tenant

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/api"
	"github.com/newtechdevloper/FitStack-sub000/internal/auth"
)

type Service interface {
	Register(ctx context.Context, name, planKey string) (*Overview, error)
	Get(ctx context.Context, tenantID string) (*Overview, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	SetFeatureOverrides(ctx context.Context, tenantID string, features []string) (*Tenant, error)
	SetCustomDomain(ctx context.Context, tenantID, domain string) (*Tenant, error)
	VerifyDomain(ctx context.Context, tenantID string) (*Tenant, error)
	OverrideStatus(ctx context.Context, actorID, tenantID, status string) (*Subscription, error)
	UpsertPlan(ctx context.Context, key string, req PlanRequest) (*Plan, error)
}

var _ Service = (*Registry)(nil)

// Handler serves the super-admin tenant API.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "name and plan_key are required")
		return
	}

	out, err := h.service.Register(c.Request.Context(), req.Name, req.PlanKey)
	if err != nil {
		respondError(c, err, "failed to register tenant")
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) Get(c *gin.Context) {
	out, err := h.service.Get(c.Request.Context(), c.Param("tenantID"))
	if err != nil {
		respondError(c, err, "failed to load tenant")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetBySlug(c *gin.Context) {
	t, err := h.service.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err, "failed to load tenant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": t.ID, "slug": t.Slug, "name": t.Name})
}

func (h *Handler) OverrideStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "status must be one of trialing, active, past_due, canceled")
		return
	}

	actorID, _ := auth.GetUserID(c)
	sub, err := h.service.OverrideStatus(c.Request.Context(), actorID, c.Param("tenantID"), req.Status)
	if err != nil {
		respondError(c, err, "failed to update tenant status")
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) SetFeatureOverrides(c *gin.Context) {
	var req FeaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "invalid feature list")
		return
	}

	t, err := h.service.SetFeatureOverrides(c.Request.Context(), c.Param("tenantID"), req.Features)
	if err != nil {
		respondError(c, err, "failed to update features")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) SetCustomDomain(c *gin.Context) {
	var req DomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "invalid domain")
		return
	}

	t, err := h.service.SetCustomDomain(c.Request.Context(), c.Param("tenantID"), req.Domain)
	if err != nil {
		respondError(c, err, "failed to set domain")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant":       t,
		"txt_record":   "_fitstack." + req.Domain,
		"verification": VerificationToken(t.ID),
	})
}

func (h *Handler) VerifyDomain(c *gin.Context) {
	t, err := h.service.VerifyDomain(c.Request.Context(), c.Param("tenantID"))
	if err != nil {
		respondError(c, err, "failed to verify domain")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) UpsertPlan(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "invalid plan")
		return
	}

	plan, err := h.service.UpsertPlan(c.Request.Context(), c.Param("key"), req)
	if err != nil {
		respondError(c, err, "failed to save plan")
		return
	}
	c.JSON(http.StatusOK, plan)
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrPlanNotFound):
		api.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidPlan),
		errors.Is(err, ErrInvalidDomain),
		errors.Is(err, ErrDomainNotSet):
		api.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDomainUnverified):
		api.Error(c, http.StatusUnprocessableEntity, err.Error())
	default:
		api.Error(c, http.StatusInternalServerError, fallback)
	}
}
