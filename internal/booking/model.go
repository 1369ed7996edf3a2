package booking

import (
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
)

const (
	StatusConfirmed  = "CONFIRMED"
	StatusWaitlisted = "WAITLISTED"
	StatusCancelled  = "CANCELLED"
)

type Booking struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	SessionID string    `db:"session_id" json:"session_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type CancelResult struct {
	Booking   *Booking            `json:"booking"`
	Promotion *waitlist.Promotion `json:"promotion,omitempty"`
	// PromotionPending is set when the inline promotion failed and the freed
	// spot waits for outbox redelivery.
	PromotionPending bool  `json:"promotion_pending,omitempty"`
	PromotionErr     error `json:"-"`
}

type candidateRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}
