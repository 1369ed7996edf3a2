package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/tenant"
)

type RazorpayProvider struct {
	secret string
}

func NewRazorpayProvider(secret string) *RazorpayProvider {
	return &RazorpayProvider{secret: secret}
}

func (p *RazorpayProvider) Name() string { return tenant.ProviderRazorpay }

// Verify checks X-Razorpay-Signature, the hex HMAC-SHA256 of the raw body.
func (p *RazorpayProvider) Verify(payload []byte, header http.Header) error {
	sig, err := hex.DecodeString(strings.TrimSpace(header.Get("X-Razorpay-Signature")))
	if err != nil || len(sig) == 0 || p.secret == "" {
		return ErrSignatureVerification
	}

	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ErrSignatureVerification
	}
	return nil
}

type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription struct {
			Entity struct {
				ID         string            `json:"id"`
				CustomerID string            `json:"customer_id"`
				PlanID     string            `json:"plan_id"`
				Status     string            `json:"status"`
				CurrentEnd int64             `json:"current_end"`
				Notes      map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

// Parse decodes a subscription.* event. Razorpay only sometimes sends an
// event id header, so the body hash stands in for it.
func (p *RazorpayProvider) Parse(payload []byte, header http.Header) (*Event, error) {
	var ev razorpayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrInvalidPayload)
	}

	id := header.Get("X-Razorpay-Event-Id")
	if id == "" {
		sum := sha256.Sum256(payload)
		id = hex.EncodeToString(sum[:])
	}

	sub := ev.Payload.Subscription.Entity
	out := &Event{
		Provider: tenant.ProviderRazorpay,
		ID:       id,
		Type:     ev.Event,
		Intent:   razorpayIntent(ev.Event),
		External: tenant.External{
			Provider:       tenant.ProviderRazorpay,
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			TenantID:       sub.Notes["tenant_id"],
			PlanKey:        sub.Notes["plan_key"],
		},
	}
	if sub.CurrentEnd > 0 {
		end := time.Unix(sub.CurrentEnd, 0).UTC()
		out.External.PeriodEnd = &end
	}
	if sub.ID == "" {
		out.Intent = IntentIgnored
	}
	return out, nil
}

func razorpayIntent(event string) Intent {
	switch event {
	case "subscription.activated":
		return IntentActivated
	case "subscription.charged":
		return IntentRenewed
	case "subscription.halted", "subscription.pending":
		return IntentPaymentFailed
	case "subscription.cancelled":
		return IntentCanceled
	default:
		return IntentIgnored
	}
}
