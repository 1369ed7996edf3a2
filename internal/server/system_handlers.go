package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/api"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/outbox"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Resumer brings PAUSED subscriptions back once their resume date passes.
type Resumer interface {
	ResumeDueAll(ctx context.Context) (int, error)
}

type OutboxDispatcher interface {
	DispatchPending(ctx context.Context, batch int) (int, error)
}

// Health reports ok while the database answers a ping.
func Health(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				logger.Error("health check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, api.HealthResponse{Status: "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, api.HealthResponse{Status: "ok"})
	}
}

func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func ResumeDue(r Resumer) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := r.ResumeDueAll(c.Request.Context())
		if err != nil {
			logger.Error("resume due subscriptions failed", "resumed", n, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resume incomplete", "resumed": n})
			return
		}
		c.JSON(http.StatusOK, gin.H{"resumed": n})
	}
}

func DispatchOutbox(d OutboxDispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := d.DispatchPending(c.Request.Context(), outbox.DefaultBatchSize)
		if err != nil {
			logger.Error("outbox dispatch failed", "dispatched", n, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch incomplete", "dispatched": n})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dispatched": n})
	}
}
