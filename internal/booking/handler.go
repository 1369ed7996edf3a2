package booking

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/api"
	"github.com/newtechdevloper/FitStack-sub000/internal/auth"
	"github.com/newtechdevloper/FitStack-sub000/internal/lock"
	"github.com/newtechdevloper/FitStack-sub000/internal/schedule"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Book(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	b, err := h.service.Book(c.Request.Context(), p.TenantID, c.Param("sessionID"), p.UserID)
	if err != nil {
		respondError(c, err, "failed to create booking")
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) JoinWaitlist(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	entry, err := h.service.JoinWaitlist(c.Request.Context(), p.TenantID, c.Param("sessionID"), p.UserID)
	if err != nil {
		respondError(c, err, "failed to join waitlist")
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) Cancel(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	result, err := h.service.Cancel(c.Request.Context(), p.TenantID, p.UserID, c.Param("bookingID"))
	if err != nil {
		respondError(c, err, "failed to cancel booking")
		return
	}
	if result.PromotionErr != nil {
		if errors.Is(result.PromotionErr, lock.ErrLockTimeout) {
			c.Header("Retry-After", "1")
		}
		c.JSON(http.StatusAccepted, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListMine(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	limit, offset := api.Page(c)
	bookings, err := h.service.ListForUser(c.Request.Context(), p.TenantID, p.UserID, limit, offset)
	if err != nil {
		respondError(c, err, "failed to fetch bookings")
		return
	}
	c.JSON(http.StatusOK, bookings)
}

// ListForSession is staff-only.
func (h *Handler) ListForSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	bookings, err := h.service.ListForSession(c.Request.Context(), p.TenantID, c.Param("sessionID"))
	if err != nil {
		respondError(c, err, "failed to fetch bookings")
		return
	}
	c.JSON(http.StatusOK, bookings)
}

// ProcessWaitlist lets staff re-run promotion for a session, e.g. after a
// promotion attempt timed out on the lock.
func (h *Handler) ProcessWaitlist(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	promo, err := h.service.ProcessWaitlist(c.Request.Context(), p.TenantID, c.Param("sessionID"))
	if err != nil {
		respondError(c, err, "failed to process waitlist")
		return
	}
	if promo == nil {
		c.JSON(http.StatusOK, api.MessageResponse{Message: "no promotion"})
		return
	}
	c.JSON(http.StatusOK, promo)
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
	case errors.Is(err, ErrBookingNotFound),
		errors.Is(err, schedule.ErrSessionNotFound),
		errors.Is(err, waitlist.ErrSessionNotFound):
		api.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		api.Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSessionFull),
		errors.Is(err, ErrAlreadyBooked),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, waitlist.ErrAlreadyQueued),
		errors.Is(err, waitlist.ErrSpotAvailable):
		api.Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrSessionStarted):
		api.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, lock.ErrLockTimeout):
		c.Header("Retry-After", "1")
		api.Error(c, http.StatusServiceUnavailable, "session is busy, retry shortly")
	case errors.Is(err, tenancy.ErrUnscopedAccess):
		api.Error(c, http.StatusForbidden, "tenant context required")
	default:
		api.Error(c, http.StatusInternalServerError, fallback)
	}
}
