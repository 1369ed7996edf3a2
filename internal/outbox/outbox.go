package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

const (
	StatusPending    = "PENDING"
	StatusDispatched = "DISPATCHED"
)

const (
	EventBookingConfirmed           = "BOOKING_CONFIRMED"
	EventBookingCancelled           = "BOOKING_CANCELLED"
	EventBookingPromoted            = "BOOKING_PROMOTED"
	EventSpotFreed                  = "SPOT_FREED"
	EventSubscriptionUpdated        = "SUBSCRIPTION_UPDATED"
	EventTenantSubscriptionUpdated  = "TENANT_SUBSCRIPTION_UPDATED"
	EventFinancialSnapshotGenerated = "FINANCIAL_SNAPSHOT_GENERATED"
)

type Event struct {
	ID           string         `db:"id" json:"id"`
	TenantID     string         `db:"tenant_id" json:"tenant_id"`
	EventType    string         `db:"event_type" json:"event_type"`
	AggregateID  string         `db:"aggregate_id" json:"aggregate_id"`
	Payload      types.JSONText `db:"payload" json:"payload"`
	Status       string         `db:"status" json:"status"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	DispatchedAt *time.Time     `db:"dispatched_at" json:"dispatched_at,omitempty"`
}

// Enqueue records an event on h. Callers pass their transaction handle so the
// event commits or rolls back with the state change it describes.
func Enqueue(ctx context.Context, h *tenancy.Handle, eventType, aggregateID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	_, err = h.Insert(ctx, "outbox_events", tenancy.Values{
		"event_type":   eventType,
		"aggregate_id": aggregateID,
		"payload":      types.JSONText(body),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
