package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
	"github.com/newtechdevloper/FitStack-sub000/internal/outbox"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenant"
	"github.com/newtechdevloper/FitStack-sub000/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const ledgerStatusCompleted = "completed"

type ledgerEntry struct {
	Provider    string    `db:"provider"`
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	Status      string    `db:"status"`
	ProcessedAt time.Time `db:"processed_at"`
}

type mutation func(context.Context, *tenancy.Handle, tenant.External) (*tenant.Subscription, error)

var mutations = map[Intent]mutation{
	IntentActivated:     tenant.ActivateExternal,
	IntentRenewed:       tenant.RenewExternal,
	IntentPaymentFailed: tenant.MarkPastDue,
	IntentCanceled:      tenant.CancelExternal,
}

// Reconciler applies verified provider events to tenant subscriptions
// exactly once per (provider, event id). It never retries on its own; a
// failed mutation leaves the ledger untouched so the provider's redelivery
// gets a fresh attempt.
type Reconciler struct {
	gw        *tenancy.Gateway
	providers map[string]Provider
	now       func() time.Time
}

func NewReconciler(gw *tenancy.Gateway, providers ...Provider) *Reconciler {
	r := &Reconciler{
		gw:        gw,
		providers: make(map[string]Provider, len(providers)),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Reconciler) Handle(ctx context.Context, provider string, payload []byte, header http.Header) (outcome Outcome, err error) {
	ctx, span := tracing.Start(ctx, "webhook.Reconcile")
	span.SetAttributes(attribute.String("webhook.provider", provider))
	defer func() {
		span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
		tracing.End(span, err)
	}()

	p, ok := r.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}

	if err := p.Verify(payload, header); err != nil {
		metrics.RecordWebhookEvent(provider, "rejected")
		logger.Security("webhook_signature_rejected", map[string]interface{}{
			"provider": provider,
			"error":    err.Error(),
		})
		if !errors.Is(err, ErrSignatureVerification) {
			err = fmt.Errorf("%w: %v", ErrSignatureVerification, err)
		}
		return "", err
	}

	ev, err := p.Parse(payload, header)
	if err != nil {
		metrics.RecordWebhookEvent(provider, "invalid")
		return "", err
	}
	span.SetAttributes(attribute.String("webhook.event_id", ev.ID), attribute.String("webhook.event_type", ev.Type))

	done, err := r.completed(ctx, provider, ev.ID)
	if err != nil {
		return "", err
	}
	if done {
		metrics.RecordWebhookEvent(provider, string(OutcomeDuplicate))
		logger.Info("webhook duplicate ignored", "provider", provider, "event_id", ev.ID)
		return OutcomeDuplicate, nil
	}

	outcome, err = r.apply(ctx, ev)
	if err != nil {
		metrics.RecordWebhookEvent(provider, "failed")
		logger.Error("webhook mutation failed", "provider", provider, "event_id", ev.ID, "event_type", ev.Type, "error", err)
		return "", err
	}

	metrics.RecordWebhookEvent(provider, string(outcome))
	logger.Info("webhook reconciled", "provider", provider, "event_id", ev.ID, "event_type", ev.Type, "outcome", string(outcome))
	return outcome, nil
}

func (r *Reconciler) completed(ctx context.Context, provider, eventID string) (bool, error) {
	var entry ledgerEntry
	err := r.gw.Global().Get(ctx, &entry, "webhook_events", tenancy.Where{"provider": provider, "event_id": eventID})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("webhook ledger lookup: %w", err)
	}
	return entry.Status == ledgerStatusCompleted, nil
}

// apply runs the mutation and the ledger write in one transaction. A ledger
// insert that hits an existing row means a concurrent delivery won.
func (r *Reconciler) apply(ctx context.Context, ev *Event) (Outcome, error) {
	outcome := OutcomeProcessed

	err := r.gw.Global().InTx(ctx, func(tx *tenancy.Handle) error {
		n, err := tx.Insert(ctx, "webhook_events", tenancy.Values{
			"provider":     ev.Provider,
			"event_id":     ev.ID,
			"event_type":   ev.Type,
			"status":       ledgerStatusCompleted,
			"processed_at": r.now(),
		}, tenancy.OnConflictDoNothing("provider", "event_id"))
		if err != nil {
			return fmt.Errorf("webhook ledger insert: %w", err)
		}
		if n == 0 {
			outcome = OutcomeDuplicate
			return nil
		}

		mutate, ok := mutations[ev.Intent]
		if !ok {
			outcome = OutcomeIgnored
			return nil
		}

		sub, err := mutate(ctx, tx, ev.External)
		if errors.Is(err, tenant.ErrUnknownSubscription) && (ev.Intent == IntentCanceled || ev.Intent == IntentPaymentFailed) {
			logger.Warn("webhook for unknown subscription ignored", "provider", ev.Provider, "event_id", ev.ID, "subscription_id", ev.External.SubscriptionID)
			outcome = OutcomeIgnored
			return nil
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", ev.Intent, err)
		}

		scoped, err := tx.WithTenant(sub.TenantID)
		if err != nil {
			return err
		}
		return outbox.Enqueue(ctx, scoped, outbox.EventTenantSubscriptionUpdated, sub.TenantID, map[string]interface{}{
			"tenant_id": sub.TenantID,
			"status":    sub.Status,
			"plan_key":  sub.PlanKey,
			"provider":  ev.Provider,
			"event_id":  ev.ID,
		})
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}
