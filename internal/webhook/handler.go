package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/api"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
)

const maxBodyBytes = 65536

type Processor interface {
	Handle(ctx context.Context, provider string, payload []byte, header http.Header) (Outcome, error)
}

type Handler struct {
	processor Processor
}

func NewHandler(processor Processor) *Handler {
	return &Handler{processor: processor}
}

// Receive returns the endpoint for one provider. The body is read raw so the
// signature covers exactly what the provider sent.
func (h *Handler) Receive(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.Warn("webhook body unreadable", "provider", provider, "error", err)
			api.Error(c, http.StatusBadRequest, "cannot read request body")
			return
		}

		outcome, err := h.processor.Handle(c.Request.Context(), provider, payload, c.Request.Header)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
		case errors.Is(err, ErrSignatureVerification):
			api.Error(c, http.StatusBadRequest, "signature verification failed")
		case errors.Is(err, ErrInvalidPayload):
			api.Error(c, http.StatusBadRequest, "invalid payload")
		case errors.Is(err, ErrUnknownProvider):
			api.Error(c, http.StatusNotFound, "unknown provider")
		default:
			api.Error(c, http.StatusInternalServerError, "webhook processing failed")
		}
	}
}
