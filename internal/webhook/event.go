package webhook

import (
	"errors"
	"net/http"

	"github.com/newtechdevloper/FitStack-sub000/internal/tenant"
)

var (
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrInvalidPayload        = errors.New("invalid webhook payload")
	ErrUnknownProvider       = errors.New("unknown webhook provider")
)

// Intent is the provider-neutral meaning of an event.
type Intent string

const (
	IntentActivated     Intent = "activated"
	IntentRenewed       Intent = "renewed"
	IntentPaymentFailed Intent = "payment_failed"
	IntentCanceled      Intent = "canceled"
	IntentIgnored       Intent = "ignored"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Event struct {
	Provider string
	ID       string
	Type     string
	Intent   Intent
	External tenant.External
}

// Provider verifies and decodes one payment provider's webhook deliveries.
// Verify must run over the raw request body.
type Provider interface {
	Name() string
	Verify(payload []byte, header http.Header) error
	Parse(payload []byte, header http.Header) (*Event, error)
}
