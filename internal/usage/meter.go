package usage

import (
	"context"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/usagerecord"
)

type Report struct {
	TenantID       string
	ItemID         string
	Metric         string
	Quantity       int64
	Timestamp      time.Time
	IdempotencyKey string
}

// Meter pushes aggregated usage to the billing provider.
type Meter interface {
	Report(ctx context.Context, r Report) error
}

type StripeMeter struct {
	client *usagerecord.Client
}

func NewStripeMeter(apiKey string) *StripeMeter {
	return &StripeMeter{client: &usagerecord.Client{B: stripe.GetBackend(stripe.APIBackend), Key: apiKey}}
}

func (m *StripeMeter) Report(ctx context.Context, r Report) error {
	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(r.ItemID),
		Quantity:         stripe.Int64(r.Quantity),
		Timestamp:        stripe.Int64(r.Timestamp.Unix()),
		Action:           stripe.String("increment"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(r.IdempotencyKey)

	_, err := m.client.New(params)
	return err
}

// LogMeter only logs reports. Used when no Stripe key is configured.
type LogMeter struct{}

func (LogMeter) Report(_ context.Context, r Report) error {
	logger.Info("usage report",
		"tenant_id", r.TenantID,
		"item_id", r.ItemID,
		"metric", r.Metric,
		"quantity", r.Quantity,
		"idempotency_key", r.IdempotencyKey,
	)
	return nil
}
