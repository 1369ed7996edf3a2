package wallet

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/api"
	"github.com/newtechdevloper/FitStack-sub000/internal/auth"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type CreditRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required,gt=0"`
	Description string `json:"description" binding:"max=255"`
	ReferenceID string `json:"reference_id" binding:"max=128"`
}

func (h *Handler) GetBalance(c *gin.Context) {
	p, ok := auth.GetPrincipal(c)
	if !ok {
		api.Error(c, http.StatusUnauthorized, "user not authenticated")
		return
	}

	balance, err := h.service.GetBalance(c.Request.Context(), p.TenantID, p.UserID)
	if err != nil {
		respondError(c, err, "failed to load wallet")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "balance_cents": balance})
}

func (h *Handler) ListTransactions(c *gin.Context) {
	p, ok := auth.GetPrincipal(c)
	if !ok {
		api.Error(c, http.StatusUnauthorized, "user not authenticated")
		return
	}

	limit, offset := api.Page(c)
	txs, err := h.service.ListTransactions(c.Request.Context(), p.TenantID, p.UserID, limit, offset)
	if err != nil {
		respondError(c, err, "failed to load transactions")
		return
	}

	c.JSON(http.StatusOK, txs)
}

// CreditMember lets staff top up a member's wallet.
func (h *Handler) CreditMember(c *gin.Context) {
	p, ok := auth.GetPrincipal(c)
	if !ok {
		api.Error(c, http.StatusUnauthorized, "user not authenticated")
		return
	}

	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BindError(c, err)
		return
	}

	memberID := c.Param("userID")
	entry, err := h.service.Credit(c.Request.Context(), p.TenantID, memberID, req.AmountCents, req.Description, req.ReferenceID)
	if err != nil {
		respondError(c, err, "failed to credit wallet")
		return
	}

	logger.Info("wallet credited", "tenant_id", p.TenantID, "member_id", memberID, "actor_id", p.UserID, "amount_cents", req.AmountCents)
	c.JSON(http.StatusCreated, entry)
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		api.Error(c, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrInvalidAmount):
		api.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenancy.ErrUnscopedAccess):
		api.Error(c, http.StatusForbidden, "tenant context required")
	default:
		logger.Error(fallback, "error", err)
		api.Error(c, http.StatusInternalServerError, fallback)
	}
}
