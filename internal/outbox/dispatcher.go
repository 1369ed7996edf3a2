package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

const DefaultBatchSize = 100

// HandlerFunc consumes an event in-process before it is published. A
// returned error leaves the event PENDING for the next cycle.
type HandlerFunc func(ctx context.Context, e Event) error

type Dispatcher struct {
	gw        *tenancy.Gateway
	publisher Publisher
	handlers  map[string]HandlerFunc
}

func NewDispatcher(gw *tenancy.Gateway, publisher Publisher) *Dispatcher {
	return &Dispatcher{gw: gw, publisher: publisher, handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for eventType. Register before Run.
func (d *Dispatcher) Handle(eventType string, fn HandlerFunc) {
	d.handlers[eventType] = fn
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) error {
	if fn, ok := d.handlers[e.EventType]; ok {
		if err := fn(ctx, e); err != nil {
			return fmt.Errorf("handle %s %s: %w", e.EventType, e.ID, err)
		}
	}
	return d.publisher.Publish(ctx, e)
}

// DispatchPending publishes up to batch pending events per tenant and returns
// how many were marked dispatched. Rows are claimed with SKIP LOCKED so
// concurrent dispatchers do not double-publish.
func (d *Dispatcher) DispatchPending(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	var tenantIDs []string
	if err := d.gw.Global().Select(ctx, &tenantIDs, "tenants", nil, tenancy.Columns("id"), tenancy.OrderBy("id")); err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}

	total := 0
	for _, tenantID := range tenantIDs {
		n, err := d.dispatchTenant(ctx, tenantID, batch)
		total += n
		if err != nil {
			logger.Error("outbox dispatch failed", "tenant_id", tenantID, "error", err)
		}
	}
	return total, nil
}

func (d *Dispatcher) dispatchTenant(ctx context.Context, tenantID string, batch int) (int, error) {
	h, err := d.gw.Scoped(tenantID)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		var events []Event
		if err := tx.Select(ctx, &events, "outbox_events",
			tenancy.Where{"status": StatusPending},
			tenancy.OrderBy("created_at", "id"),
			tenancy.Limit(batch),
			tenancy.SkipLocked(),
		); err != nil {
			return fmt.Errorf("claim events: %w", err)
		}

		var ids []interface{}
		var deliverErr error
		for _, e := range events {
			if deliverErr = d.deliver(ctx, e); deliverErr != nil {
				// keep per-tenant order: later events wait for the failed one
				break
			}
			ids = append(ids, e.ID)
		}

		if len(ids) > 0 {
			n, err := tx.Update(ctx, "outbox_events",
				tenancy.Values{"status": StatusDispatched, "dispatched_at": tenancy.Now()},
				tenancy.Where{"id": tenancy.In(ids...)},
			)
			if err != nil {
				return fmt.Errorf("mark dispatched: %w", err)
			}
			dispatched = int(n)
		}
		if deliverErr != nil {
			metrics.RecordOutboxDispatch("failed", 1)
			logger.Warn("outbox delivery failed", "tenant_id", tenantID, "error", deliverErr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordOutboxDispatch("dispatched", dispatched)
	return dispatched, nil
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("outbox dispatcher started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.DispatchPending(ctx, DefaultBatchSize); err != nil {
				logger.Error("outbox dispatch cycle failed", "error", err)
			}
		}
	}
}
