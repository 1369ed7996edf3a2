package subscription

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/api"
	"github.com/newtechdevloper/FitStack-sub000/internal/auth"
	"github.com/newtechdevloper/FitStack-sub000/internal/proration"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/newtechdevloper/FitStack-sub000/internal/wallet"
)

// Service is the part of Manager the HTTP layer needs.
type Service interface {
	Get(ctx context.Context, tenantID, subscriptionID string) (*Subscription, error)
	ListForUser(ctx context.Context, tenantID, userID string) ([]Subscription, error)
	Subscribe(ctx context.Context, tenantID, userID, planID string) (*Subscription, error)
	Pause(ctx context.Context, tenantID string, actor Actor, subscriptionID string, durationDays int) (*Subscription, error)
	Resume(ctx context.Context, tenantID string, actor Actor, subscriptionID string) (*Subscription, error)
	Cancel(ctx context.Context, tenantID string, actor Actor, subscriptionID string) (*Subscription, error)
	ChangePlan(ctx context.Context, tenantID string, actor Actor, subscriptionID, newPlanID string) (*ChangePlanResult, error)
	ListPlans(ctx context.Context, tenantID string) ([]MembershipPlan, error)
	CreatePlan(ctx context.Context, tenantID string, req CreatePlanRequest) (*MembershipPlan, error)
}

var _ Service = (*Manager)(nil)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ListPlans(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	plans, err := h.service.ListPlans(c.Request.Context(), p.TenantID)
	if err != nil {
		respondError(c, err, "failed to load plans")
		return
	}
	c.JSON(http.StatusOK, plans)
}

func (h *Handler) CreatePlan(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "invalid plan")
		return
	}

	plan, err := h.service.CreatePlan(c.Request.Context(), p.TenantID, req)
	if err != nil {
		respondError(c, err, "failed to create plan")
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (h *Handler) ListMine(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	subs, err := h.service.ListForUser(c.Request.Context(), p.TenantID, p.UserID)
	if err != nil {
		respondError(c, err, "failed to load subscriptions")
		return
	}
	c.JSON(http.StatusOK, subs)
}

func (h *Handler) Subscribe(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "plan_id is required")
		return
	}

	sub, err := h.service.Subscribe(c.Request.Context(), p.TenantID, p.UserID, req.PlanID)
	if err != nil {
		respondError(c, err, "failed to subscribe")
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) Pause(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "duration_days must be between 1 and 365")
		return
	}

	sub, err := h.service.Pause(c.Request.Context(), p.TenantID, actorOf(p), c.Param("subscriptionID"), req.DurationDays)
	if err != nil {
		respondError(c, err, "failed to pause subscription")
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) Resume(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	sub, err := h.service.Resume(c.Request.Context(), p.TenantID, actorOf(p), c.Param("subscriptionID"))
	if err != nil {
		respondError(c, err, "failed to resume subscription")
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) Cancel(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	sub, err := h.service.Cancel(c.Request.Context(), p.TenantID, actorOf(p), c.Param("subscriptionID"))
	if err != nil {
		respondError(c, err, "failed to cancel subscription")
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) ChangePlan(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "plan_id is required")
		return
	}

	result, err := h.service.ChangePlan(c.Request.Context(), p.TenantID, actorOf(p), c.Param("subscriptionID"), req.PlanID)
	if err != nil {
		respondError(c, err, "failed to change plan")
		return
	}
	c.JSON(http.StatusOK, result)
}

// actorOf maps the principal to a subscription actor. Tenant owners and
// staff may act on any member's subscription.
func actorOf(p auth.Principal) Actor {
	return Actor{UserID: p.UserID, Staff: p.Role == auth.RoleOwner || p.Role == auth.RoleStaff}
}

func principal(c *gin.Context) (auth.Principal, bool) {
	p, ok := auth.GetPrincipal(c)
	if !ok || p.UserID == "" {
		api.Error(c, http.StatusUnauthorized, "user not authenticated")
		return p, false
	}
	if p.TenantID == "" {
		api.Error(c, http.StatusForbidden, "tenant context required")
		return p, false
	}
	return p, true
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, ErrPlanNotFound):
		api.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrSamePlan):
		api.Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrPauseNotAllowed):
		api.Error(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds):
		api.Error(c, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidPlan), errors.Is(err, proration.ErrInvalidPeriod):
		api.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotOwner):
		api.Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, tenancy.ErrUnscopedAccess):
		api.Error(c, http.StatusForbidden, "tenant context required")
	default:
		api.Error(c, http.StatusInternalServerError, fallback)
	}
}
