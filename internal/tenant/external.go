package tenant

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

// The functions below run inside the webhook reconciler's transaction. Rows
// are located by the provider's subscription id first, then by the tenant id
// echoed in the provider metadata.

func ActivateExternal(ctx context.Context, h *tenancy.Handle, ext External) (*Subscription, error) {
	return applyExternal(ctx, h, ext, StatusActive)
}

func RenewExternal(ctx context.Context, h *tenancy.Handle, ext External) (*Subscription, error) {
	return applyExternal(ctx, h, ext, StatusActive)
}

func MarkPastDue(ctx context.Context, h *tenancy.Handle, ext External) (*Subscription, error) {
	return applyExternal(ctx, h, ext, StatusPastDue)
}

func CancelExternal(ctx context.Context, h *tenancy.Handle, ext External) (*Subscription, error) {
	return applyExternal(ctx, h, ext, StatusCanceled)
}

func applyExternal(ctx context.Context, h *tenancy.Handle, ext External, status string) (*Subscription, error) {
	subCol, customerCol, err := externalColumns(ext.Provider)
	if err != nil {
		return nil, err
	}
	if ext.SubscriptionID == "" {
		return nil, ErrUnknownSubscription
	}

	tenantID, err := resolveTenant(ctx, h, subCol, ext)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	set := tenancy.Values{
		"status":     status,
		subCol:       ext.SubscriptionID,
		"updated_at": now,
	}
	if ext.PlanKey != "" {
		set["plan_key"] = ext.PlanKey
	}
	if ext.PeriodEnd != nil {
		set["current_period_end"] = *ext.PeriodEnd
	}
	if ext.UsageItemID != "" && ext.Provider == ProviderStripe {
		set["stripe_usage_item_id"] = ext.UsageItemID
	}

	var sub Subscription
	err = h.UpdateReturning(ctx, &sub, "tenant_subscriptions", set, tenancy.Where{"tenant_id": tenantID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}

	if ext.CustomerID != "" || ext.PlanKey != "" {
		tset := tenancy.Values{"updated_at": now}
		if ext.CustomerID != "" {
			tset[customerCol] = ext.CustomerID
		}
		if ext.PlanKey != "" {
			tset["plan_key"] = ext.PlanKey
		}
		if _, err := h.Update(ctx, "tenants", tset, tenancy.Where{"id": tenantID}); err != nil {
			return nil, err
		}
	}
	return &sub, nil
}

func resolveTenant(ctx context.Context, h *tenancy.Handle, subCol string, ext External) (string, error) {
	var tenantID string
	err := h.Get(ctx, &tenantID, "tenant_subscriptions",
		tenancy.Where{subCol: ext.SubscriptionID},
		tenancy.Columns("tenant_id"),
	)
	switch {
	case err == nil:
		return tenantID, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	case ext.TenantID != "":
		return ext.TenantID, nil
	default:
		return "", ErrUnknownSubscription
	}
}

func externalColumns(provider string) (subscription, customer string, err error) {
	switch provider {
	case ProviderStripe:
		return "stripe_subscription_id", "stripe_customer_id", nil
	case ProviderRazorpay:
		return "razorpay_subscription_id", "razorpay_customer_id", nil
	default:
		return "", "", ErrUnsupportedProvider
	}
}
