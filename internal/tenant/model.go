package tenant

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

const (
	ProviderStripe   = "stripe"
	ProviderRazorpay = "razorpay"
)

// TrialDays is the length of the trial every registered tenant starts with.
const TrialDays = 14

type Tenant struct {
	ID                 string         `db:"id" json:"id"`
	Slug               string         `db:"slug" json:"slug"`
	Name               string         `db:"name" json:"name"`
	PlanKey            string         `db:"plan_key" json:"plan_key"`
	StripeCustomerID   *string        `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	RazorpayCustomerID *string        `db:"razorpay_customer_id" json:"razorpay_customer_id,omitempty"`
	CustomDomain       *string        `db:"custom_domain" json:"custom_domain,omitempty"`
	DomainVerified     bool           `db:"domain_verified" json:"domain_verified"`
	FeatureOverrides   pq.StringArray `db:"feature_overrides" json:"feature_overrides"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// Subscription is the tenant's own subscription to the platform. There is
// exactly one per tenant.
type Subscription struct {
	TenantID               string     `db:"tenant_id" json:"tenant_id"`
	Status                 string     `db:"status" json:"status"`
	PlanKey                string     `db:"plan_key" json:"plan_key"`
	CurrentPeriodEnd       *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	StripeSubscriptionID   *string    `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	RazorpaySubscriptionID *string    `db:"razorpay_subscription_id" json:"razorpay_subscription_id,omitempty"`
	StripeUsageItemID      *string    `db:"stripe_usage_item_id" json:"stripe_usage_item_id,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// Plan is an entry in the global platform catalog.
type Plan struct {
	Key            string          `db:"key" json:"key"`
	Name           string          `db:"name" json:"name"`
	MemberCapacity int             `db:"member_capacity" json:"member_capacity"`
	Features       types.JSONText  `db:"features" json:"features"`
	FeePercentage  decimal.Decimal `db:"fee_percentage" json:"fee_percentage"`
	PriceCents     int64           `db:"price_cents" json:"price_cents"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

type Overview struct {
	Tenant       *Tenant       `json:"tenant"`
	Subscription *Subscription `json:"subscription"`
}

// External describes a payment provider's view of a tenant subscription.
// TenantID is only known when the provider echoes our metadata back.
type External struct {
	Provider       string
	SubscriptionID string
	CustomerID     string
	TenantID       string
	PlanKey        string
	UsageItemID    string
	PeriodEnd      *time.Time
}

type RegisterRequest struct {
	Name    string `json:"name" binding:"required,max=120"`
	PlanKey string `json:"plan_key" binding:"required"`
}

type StatusRequest struct {
	Status string `json:"status" binding:"required,oneof=trialing active past_due canceled"`
}

type FeaturesRequest struct {
	Features []string `json:"features" binding:"dive,required,max=64"`
}

type DomainRequest struct {
	Domain string `json:"domain" binding:"required,fqdn"`
}

type PlanRequest struct {
	Name           string          `json:"name" binding:"required"`
	MemberCapacity int             `json:"member_capacity" binding:"min=0"`
	Features       []string        `json:"features"`
	FeePercentage  decimal.Decimal `json:"fee_percentage"`
	PriceCents     int64           `json:"price_cents" binding:"min=0"`
}
