package booking

import (
	"context"
	"sync"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/schedule"
	"github.com/newtechdevloper/FitStack-sub000/internal/user"
	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
)

type Mailer interface {
	SendBookingConfirmation(ctx context.Context, email, name, className string, when time.Time) error
	SendWaitlistPromotion(ctx context.Context, email, name, className string, when time.Time, chargedCents int64) error
	SendCancellation(ctx context.Context, email, name, className string, when time.Time) error
}

// EmailNotifier sends booking emails in the background. Failures are logged
// and never reach the booking flow.
type EmailNotifier struct {
	users    user.Repository
	sessions schedule.Repository
	mailer   Mailer
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewEmailNotifier(users user.Repository, sessions schedule.Repository, mailer Mailer) *EmailNotifier {
	return &EmailNotifier{users: users, sessions: sessions, mailer: mailer, timeout: 10 * time.Second}
}

func (n *EmailNotifier) BookingConfirmed(ctx context.Context, b Booking) {
	n.dispatch(ctx, "booking_confirmation", b.TenantID, b.SessionID, b.UserID,
		func(ctx context.Context, u *user.User, className string, when time.Time) error {
			return n.mailer.SendBookingConfirmation(ctx, u.Email, u.Name, className, when)
		})
}

func (n *EmailNotifier) BookingCancelled(ctx context.Context, b Booking) {
	n.dispatch(ctx, "booking_cancellation", b.TenantID, b.SessionID, b.UserID,
		func(ctx context.Context, u *user.User, className string, when time.Time) error {
			return n.mailer.SendCancellation(ctx, u.Email, u.Name, className, when)
		})
}

func (n *EmailNotifier) PromotionCommitted(ctx context.Context, p waitlist.Promotion) {
	n.dispatch(ctx, "waitlist_promotion", p.TenantID, p.SessionID, p.UserID,
		func(ctx context.Context, u *user.User, className string, when time.Time) error {
			return n.mailer.SendWaitlistPromotion(ctx, u.Email, u.Name, className, when, p.ChargedCents)
		})
}

// Wait blocks until in-flight notifications finish.
func (n *EmailNotifier) Wait() {
	n.wg.Wait()
}

func (n *EmailNotifier) dispatch(ctx context.Context, kind, tenantID, sessionID, userID string,
	send func(ctx context.Context, u *user.User, className string, when time.Time) error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if err := n.deliver(ctx, tenantID, sessionID, userID, send); err != nil {
			logger.Warn("booking notification failed",
				"kind", kind,
				"tenant_id", tenantID,
				"session_id", sessionID,
				"user_id", userID,
				"error", err,
			)
		}
	}()
}

func (n *EmailNotifier) deliver(ctx context.Context, tenantID, sessionID, userID string,
	send func(ctx context.Context, u *user.User, className string, when time.Time) error) error {
	u, err := n.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	session, err := n.sessions.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	class, err := n.sessions.GetClass(ctx, tenantID, session.ClassID)
	if err != nil {
		return err
	}
	return send(ctx, u, class.Name, session.StartsAt)
}
