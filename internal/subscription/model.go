package subscription

import (
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/proration"
	"github.com/newtechdevloper/FitStack-sub000/internal/wallet"
)

const (
	StatusActive   = "ACTIVE"
	StatusPaused   = "PAUSED"
	StatusCanceled = "CANCELED"
)

// MembershipPlan is a tenant's own plan sold to its members.
type MembershipPlan struct {
	ID         string    `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	Name       string    `db:"name" json:"name"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	PeriodDays int       `db:"period_days" json:"period_days"`
	AllowPause bool      `db:"allow_pause" json:"allow_pause"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Subscription is a member subscription. PauseDate and ResumeDate are set
// only while PAUSED.
type Subscription struct {
	ID                 string     `db:"id" json:"id"`
	TenantID           string     `db:"tenant_id" json:"tenant_id"`
	UserID             string     `db:"user_id" json:"user_id"`
	MembershipPlanID   string     `db:"membership_plan_id" json:"membership_plan_id"`
	CorporateAccountID *string    `db:"corporate_account_id" json:"corporate_account_id,omitempty"`
	Status             string     `db:"status" json:"status"`
	PauseDate          *time.Time `db:"pause_date" json:"pause_date,omitempty"`
	ResumeDate         *time.Time `db:"resume_date" json:"resume_date,omitempty"`
	CurrentPeriodEnd   time.Time  `db:"current_period_end" json:"current_period_end"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

type ChangePlanResult struct {
	Subscription *Subscription       `json:"subscription"`
	Proration    proration.Result    `json:"proration"`
	Transaction  *wallet.Transaction `json:"transaction,omitempty"`
}

type SubscribeRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

type PauseRequest struct {
	DurationDays int `json:"duration_days" binding:"required,min=1,max=365"`
}

type ChangePlanRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

type CreatePlanRequest struct {
	Name       string `json:"name" binding:"required"`
	PriceCents int64  `json:"price_cents" binding:"min=0"`
	PeriodDays int    `json:"period_days" binding:"required,min=1"`
	AllowPause bool   `json:"allow_pause"`
}

type updatedEvent struct {
	SubscriptionID   string    `json:"subscription_id"`
	UserID           string    `json:"user_id"`
	Action           string    `json:"action"`
	Status           string    `json:"status"`
	MembershipPlanID string    `json:"membership_plan_id"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
}

// Actor is the caller of a subscription transition. Members may only act on
// their own subscriptions; staff on any in their tenant.
type Actor struct {
	UserID string
	Staff  bool
}

// systemActor drives scheduled resumes.
var systemActor = Actor{UserID: "system", Staff: true}

func (a Actor) check(sub *Subscription) error {
	if a.Staff || (a.UserID != "" && a.UserID == sub.UserID) {
		return nil
	}
	return ErrNotOwner
}
