package schedule

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/api"
	"github.com/newtechdevloper/FitStack-sub000/internal/auth"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// CreateClass is staff-only.
func (h *Handler) CreateClass(c *gin.Context) {
	tenantID, ok := auth.GetTenantID(c)
	if !ok {
		api.Error(c, http.StatusForbidden, "tenant context required")
		return
	}

	var req CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BindError(c, err)
		return
	}

	class, err := h.service.CreateClass(c.Request.Context(), tenantID, req)
	if err != nil {
		respondError(c, err, "failed to create class")
		return
	}
	c.JSON(http.StatusCreated, class)
}

func (h *Handler) ListClasses(c *gin.Context) {
	tenantID, ok := auth.GetTenantID(c)
	if !ok {
		api.Error(c, http.StatusForbidden, "tenant context required")
		return
	}

	classes, err := h.service.ListClasses(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err, "failed to fetch classes")
		return
	}
	c.JSON(http.StatusOK, classes)
}

func (h *Handler) CreateSession(c *gin.Context) {
	tenantID, ok := auth.GetTenantID(c)
	if !ok {
		api.Error(c, http.StatusForbidden, "tenant context required")
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BindError(c, err)
		return
	}

	session, err := h.service.CreateSession(c.Request.Context(), tenantID, c.Param("classID"), req)
	if err != nil {
		respondError(c, err, "failed to create session")
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions returns upcoming sessions unless ?all=true.
func (h *Handler) ListSessions(c *gin.Context) {
	tenantID, ok := auth.GetTenantID(c)
	if !ok {
		api.Error(c, http.StatusForbidden, "tenant context required")
		return
	}

	onlyFuture := !strings.EqualFold(c.Query("all"), "true")
	sessions, err := h.service.ListSessions(c.Request.Context(), tenantID, c.Param("classID"), onlyFuture)
	if err != nil {
		respondError(c, err, "failed to fetch sessions")
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrClassNotFound), errors.Is(err, ErrSessionNotFound):
		api.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrClassInvalid), errors.Is(err, ErrSessionInvalid):
		api.Error(c, http.StatusBadRequest, err.Error())
	default:
		api.Error(c, http.StatusInternalServerError, fallback)
	}
}
