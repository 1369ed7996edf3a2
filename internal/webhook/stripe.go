package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/tenant"
	"github.com/stripe/stripe-go/v78"
	stripewebhook "github.com/stripe/stripe-go/v78/webhook"
)

type StripeProvider struct {
	secret    string
	tolerance time.Duration
}

func NewStripeProvider(secret string) *StripeProvider {
	return &StripeProvider{secret: secret, tolerance: stripewebhook.DefaultTolerance}
}

func (p *StripeProvider) Name() string { return tenant.ProviderStripe }

func (p *StripeProvider) Verify(payload []byte, header http.Header) error {
	sig := header.Get("Stripe-Signature")
	if sig == "" || p.secret == "" {
		return ErrSignatureVerification
	}
	_, err := stripewebhook.ConstructEventWithOptions(payload, sig, p.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	return nil
}

// stripeObject covers the subscription and invoice fields we read.
type stripeObject struct {
	ID                  string            `json:"id"`
	Object              string            `json:"object"`
	Customer            string            `json:"customer"`
	Subscription        string            `json:"subscription"`
	Status              string            `json:"status"`
	CurrentPeriodEnd    int64             `json:"current_period_end"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Items struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				LookupKey string `json:"lookup_key"`
				Recurring *struct {
					UsageType string `json:"usage_type"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (p *StripeProvider) Parse(payload []byte, _ http.Header) (*Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.ID == "" || ev.Data == nil {
		return nil, fmt.Errorf("%w: missing id or data", ErrInvalidPayload)
	}

	var obj stripeObject
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	out := &Event{
		Provider: tenant.ProviderStripe,
		ID:       ev.ID,
		Type:     string(ev.Type),
		Intent:   IntentIgnored,
		External: tenant.External{Provider: tenant.ProviderStripe, CustomerID: obj.Customer},
	}

	switch ev.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		out.Intent = subscriptionIntent(obj.Status)
		fillFromSubscription(&out.External, obj)
	case "customer.subscription.deleted":
		out.Intent = IntentCanceled
		fillFromSubscription(&out.External, obj)
	case "invoice.paid", "invoice.payment_failed":
		out.Intent = IntentRenewed
		if ev.Type == "invoice.payment_failed" {
			out.Intent = IntentPaymentFailed
		}
		out.External.SubscriptionID = obj.Subscription
		out.External.TenantID = obj.SubscriptionDetails.Metadata["tenant_id"]
		if len(obj.Lines.Data) > 0 && obj.Lines.Data[0].Period.End > 0 {
			end := time.Unix(obj.Lines.Data[0].Period.End, 0).UTC()
			out.External.PeriodEnd = &end
		}
		if obj.Subscription == "" {
			out.Intent = IntentIgnored
		}
	}
	return out, nil
}

func subscriptionIntent(status string) Intent {
	switch status {
	case "active", "trialing":
		return IntentActivated
	case "past_due", "unpaid":
		return IntentPaymentFailed
	case "canceled", "incomplete_expired":
		return IntentCanceled
	default:
		return IntentIgnored
	}
}

func fillFromSubscription(ext *tenant.External, obj stripeObject) {
	ext.SubscriptionID = obj.ID
	ext.TenantID = obj.Metadata["tenant_id"]
	ext.PlanKey = obj.Metadata["plan_key"]
	if obj.CurrentPeriodEnd > 0 {
		end := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		ext.PeriodEnd = &end
	}
	for _, item := range obj.Items.Data {
		if item.Price.Recurring != nil && item.Price.Recurring.UsageType == "metered" {
			ext.UsageItemID = item.ID
		}
		if ext.PlanKey == "" && item.Price.LookupKey != "" {
			ext.PlanKey = item.Price.LookupKey
		}
	}
}
