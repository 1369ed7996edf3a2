package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/newtechdevloper/FitStack-sub000/internal/config"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
	"github.com/newtechdevloper/FitStack-sub000/internal/outbox"
	"github.com/newtechdevloper/FitStack-sub000/internal/proration"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/newtechdevloper/FitStack-sub000/internal/wallet"
)

var (
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrPlanNotFound           = errors.New("membership plan not found")
	ErrInvalidStateTransition = errors.New("invalid subscription state transition")
	ErrPauseNotAllowed        = errors.New("plan does not allow pausing")
	ErrInvalidDuration        = errors.New("pause duration must be positive")
	ErrSamePlan               = errors.New("subscription is already on this plan")
	ErrNotOwner               = errors.New("subscription belongs to another member")
	ErrInvalidPlan            = errors.New("invalid membership plan")
)

// Manager owns the member subscription state machine:
// ACTIVE <-> PAUSED, and CANCELED from either. Every transition writes its
// SUBSCRIPTION_UPDATED outbox event in the same transaction.
type Manager struct {
	gw        *tenancy.Gateway
	clock     Clock
	graceDays int
}

func NewManager(gw *tenancy.Gateway, clock Clock, resumeGraceDays int) *Manager {
	if clock == nil {
		clock = systemClock{}
	}
	if resumeGraceDays <= 0 {
		resumeGraceDays = config.DefaultResumeGraceDays
	}
	return &Manager{gw: gw, clock: clock, graceDays: resumeGraceDays}
}

func (m *Manager) Get(ctx context.Context, tenantID, subscriptionID string) (*Subscription, error) {
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}
	return getSubscription(ctx, h, subscriptionID)
}

func (m *Manager) ListForUser(ctx context.Context, tenantID, userID string) ([]Subscription, error) {
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	subs := []Subscription{}
	err = h.Select(ctx, &subs, "member_subscriptions",
		tenancy.Where{"user_id": userID},
		tenancy.OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// Subscribe charges the plan price to the member wallet and starts an ACTIVE
// subscription for one plan period.
func (m *Manager) Subscribe(ctx context.Context, tenantID, userID, planID string) (*Subscription, error) {
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	var sub Subscription
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		plan, err := getPlan(ctx, tx, planID)
		if err != nil {
			return err
		}

		err = tx.InsertReturning(ctx, &sub, "member_subscriptions", tenancy.Values{
			"user_id":            userID,
			"membership_plan_id": plan.ID,
			"status":             StatusActive,
			"current_period_end": now.AddDate(0, 0, plan.PeriodDays),
		})
		if err != nil {
			return err
		}

		if plan.PriceCents > 0 {
			if _, err := wallet.DebitTx(ctx, tx, userID, plan.PriceCents, "Subscription: "+plan.Name, sub.ID); err != nil {
				return err
			}
		}
		return m.emit(ctx, tx, &sub, "subscribed")
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordSubscriptionTransition("subscribe")
	return &sub, nil
}

func (m *Manager) Pause(ctx context.Context, tenantID string, actor Actor, subscriptionID string, durationDays int) (*Subscription, error) {
	if durationDays <= 0 {
		return nil, ErrInvalidDuration
	}
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	var updated Subscription
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		sub, err := lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if err := actor.check(sub); err != nil {
			return err
		}
		if sub.Status != StatusActive {
			return fmt.Errorf("%w: pause from %s", ErrInvalidStateTransition, sub.Status)
		}

		plan, err := getPlan(ctx, tx, sub.MembershipPlanID)
		if err != nil {
			return err
		}
		if !plan.AllowPause {
			return ErrPauseNotAllowed
		}

		err = tx.UpdateReturning(ctx, &updated, "member_subscriptions",
			tenancy.Values{
				"status":      StatusPaused,
				"pause_date":  now,
				"resume_date": now.AddDate(0, 0, durationDays),
				"updated_at":  now,
			},
			tenancy.Where{"id": sub.ID},
		)
		if err != nil {
			return err
		}
		return m.emit(ctx, tx, &updated, "paused")
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordSubscriptionTransition("pause")
	return &updated, nil
}

// Resume reactivates a PAUSED subscription. Any other status is returned
// unchanged.
func (m *Manager) Resume(ctx context.Context, tenantID string, actor Actor, subscriptionID string) (*Subscription, error) {
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	var (
		updated Subscription
		changed bool
	)
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		sub, err := lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if err := actor.check(sub); err != nil {
			return err
		}
		if sub.Status != StatusPaused {
			updated = *sub
			return nil
		}

		pausedAt := now
		if sub.PauseDate != nil {
			pausedAt = *sub.PauseDate
		}

		err = tx.UpdateReturning(ctx, &updated, "member_subscriptions",
			tenancy.Values{
				"status":             StatusActive,
				"pause_date":         nil,
				"resume_date":        nil,
				"current_period_end": resumedPeriodEnd(sub.CurrentPeriodEnd, pausedAt, now, m.graceDays),
				"updated_at":         now,
			},
			tenancy.Where{"id": sub.ID},
		)
		if err != nil {
			return err
		}
		changed = true
		return m.emit(ctx, tx, &updated, "resumed")
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.RecordSubscriptionTransition("resume")
	}
	return &updated, nil
}

func (m *Manager) Cancel(ctx context.Context, tenantID string, actor Actor, subscriptionID string) (*Subscription, error) {
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	var updated Subscription
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		sub, err := lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if err := actor.check(sub); err != nil {
			return err
		}
		if sub.Status == StatusCanceled {
			return fmt.Errorf("%w: already canceled", ErrInvalidStateTransition)
		}

		err = tx.UpdateReturning(ctx, &updated, "member_subscriptions",
			tenancy.Values{
				"status":      StatusCanceled,
				"pause_date":  nil,
				"resume_date": nil,
				"updated_at":  now,
			},
			tenancy.Where{"id": sub.ID},
		)
		if err != nil {
			return err
		}
		return m.emit(ctx, tx, &updated, "canceled")
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordSubscriptionTransition("cancel")
	return &updated, nil
}

// ChangePlan moves an ACTIVE subscription to newPlanID. The unused share of
// the current plan is credited and the same share of the new plan charged;
// only the net amount touches the wallet.
func (m *Manager) ChangePlan(ctx context.Context, tenantID string, actor Actor, subscriptionID, newPlanID string) (*ChangePlanResult, error) {
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	result := &ChangePlanResult{}
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		sub, err := lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if err := actor.check(sub); err != nil {
			return err
		}
		if sub.Status != StatusActive {
			return fmt.Errorf("%w: change plan from %s", ErrInvalidStateTransition, sub.Status)
		}
		if sub.MembershipPlanID == newPlanID {
			return ErrSamePlan
		}

		current, err := getPlan(ctx, tx, sub.MembershipPlanID)
		if err != nil {
			return err
		}
		next, err := getPlan(ctx, tx, newPlanID)
		if err != nil {
			return err
		}

		res, err := proration.Prorate(
			proration.FromCents(current.PriceCents),
			proration.FromCents(next.PriceCents),
			current.PeriodDays,
			daysRemaining(sub.CurrentPeriodEnd, now),
		)
		if err != nil {
			return err
		}
		result.Proration = res

		description := fmt.Sprintf("Plan change: %s to %s", current.Name, next.Name)
		switch net := res.NetCents(); {
		case net > 0:
			result.Transaction, err = wallet.DebitTx(ctx, tx, sub.UserID, net, description, sub.ID)
		case net < 0:
			result.Transaction, err = wallet.CreditTx(ctx, tx, sub.UserID, -net, description, sub.ID)
		}
		if err != nil {
			return err
		}

		var updated Subscription
		err = tx.UpdateReturning(ctx, &updated, "member_subscriptions",
			tenancy.Values{"membership_plan_id": next.ID, "updated_at": now},
			tenancy.Where{"id": sub.ID},
		)
		if err != nil {
			return err
		}
		result.Subscription = &updated
		return m.emit(ctx, tx, &updated, "plan_changed")
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordSubscriptionTransition("change_plan")
	return result, nil
}

// ResumeDue resumes the tenant's PAUSED subscriptions whose resume date has
// passed. It keeps going past individual failures and returns them joined.
func (m *Manager) ResumeDue(ctx context.Context, tenantID string) (int, error) {
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return 0, err
	}

	var ids []string
	err = h.Select(ctx, &ids, "member_subscriptions",
		tenancy.Where{"status": StatusPaused, "resume_date": tenancy.Lte(m.clock.Now())},
		tenancy.Columns("id"),
		tenancy.OrderBy("resume_date"),
	)
	if err != nil {
		return 0, err
	}

	resumed := 0
	var errs []error
	for _, id := range ids {
		if _, err := m.Resume(ctx, tenantID, systemActor, id); err != nil {
			logger.Warn("scheduled resume failed", "tenant_id", tenantID, "subscription_id", id, "error", err)
			errs = append(errs, fmt.Errorf("resume %s: %w", id, err))
			continue
		}
		resumed++
	}
	return resumed, errors.Join(errs...)
}

// ResumeDueAll runs ResumeDue for every tenant.
func (m *Manager) ResumeDueAll(ctx context.Context) (int, error) {
	var tenantIDs []string
	if err := m.gw.Global().Select(ctx, &tenantIDs, "tenants", nil, tenancy.Columns("id"), tenancy.OrderBy("id")); err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, tenantID := range tenantIDs {
		n, err := m.ResumeDue(ctx, tenantID)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (m *Manager) ListPlans(ctx context.Context, tenantID string) ([]MembershipPlan, error) {
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	plans := []MembershipPlan{}
	if err := h.Select(ctx, &plans, "membership_plans", nil, tenancy.OrderBy("price_cents", "name")); err != nil {
		return nil, err
	}
	return plans, nil
}

func (m *Manager) CreatePlan(ctx context.Context, tenantID string, req CreatePlanRequest) (*MembershipPlan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.PeriodDays <= 0 || req.PriceCents < 0 {
		return nil, ErrInvalidPlan
	}
	h, err := m.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var plan MembershipPlan
	err = h.InsertReturning(ctx, &plan, "membership_plans", tenancy.Values{
		"name":        name,
		"price_cents": req.PriceCents,
		"period_days": req.PeriodDays,
		"allow_pause": req.AllowPause,
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (m *Manager) emit(ctx context.Context, tx *tenancy.Handle, sub *Subscription, action string) error {
	return outbox.Enqueue(ctx, tx, outbox.EventSubscriptionUpdated, sub.ID, updatedEvent{
		SubscriptionID:   sub.ID,
		UserID:           sub.UserID,
		Action:           action,
		Status:           sub.Status,
		MembershipPlanID: sub.MembershipPlanID,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	})
}

func getSubscription(ctx context.Context, h *tenancy.Handle, id string, opts ...tenancy.Option) (*Subscription, error) {
	var sub Subscription
	err := h.Get(ctx, &sub, "member_subscriptions", tenancy.Where{"id": id}, opts...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func lockSubscription(ctx context.Context, tx *tenancy.Handle, id string) (*Subscription, error) {
	return getSubscription(ctx, tx, id, tenancy.ForUpdate())
}

func getPlan(ctx context.Context, h *tenancy.Handle, id string) (*MembershipPlan, error) {
	var plan MembershipPlan
	err := h.Get(ctx, &plan, "membership_plans", tenancy.Where{"id": id})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
