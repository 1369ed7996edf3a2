package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/lock"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
	"github.com/newtechdevloper/FitStack-sub000/internal/outbox"
	"github.com/newtechdevloper/FitStack-sub000/internal/schedule"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
)

var (
	ErrBookingNotFound  = errors.New("booking not found")
	ErrSessionFull      = errors.New("class session is full")
	ErrSessionStarted   = errors.New("class session already started")
	ErrAlreadyBooked    = errors.New("user already has a booking for this session")
	ErrNotOwner         = errors.New("can only cancel own bookings")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
)

type Service interface {
	Book(ctx context.Context, tenantID, sessionID, userID string) (*Booking, error)
	JoinWaitlist(ctx context.Context, tenantID, sessionID, userID string) (*waitlist.Entry, error)
	Cancel(ctx context.Context, tenantID, userID, bookingID string) (*CancelResult, error)
	ProcessWaitlist(ctx context.Context, tenantID, sessionID string) (*waitlist.Promotion, error)
	ListForUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]Booking, error)
	ListForSession(ctx context.Context, tenantID, sessionID string) ([]Booking, error)
}

// Promoter is the waitlist engine as seen from bookings.
type Promoter interface {
	JoinWaitlist(ctx context.Context, tenantID, sessionID, userID string) (*waitlist.Entry, error)
	ProcessOpenSpot(ctx context.Context, tenantID, sessionID string) (*waitlist.Promotion, error)
}

// Notifier is told about committed bookings. It must not block.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b Booking)
	BookingCancelled(ctx context.Context, b Booking)
}

type service struct {
	gw       *tenancy.Gateway
	sessions schedule.Repository
	locker   waitlist.Locker
	promoter Promoter
	notifier Notifier
	lockOpts lock.Options
	now      func() time.Time
}

func NewService(
	gw *tenancy.Gateway,
	sessions schedule.Repository,
	locker waitlist.Locker,
	promoter Promoter,
	notifier Notifier,
	lockOpts lock.Options,
) Service {
	return &service{
		gw:       gw,
		sessions: sessions,
		locker:   locker,
		promoter: promoter,
		notifier: notifier,
		lockOpts: lockOpts,
		now:      time.Now,
	}
}

// Book confirms a spot when the session has capacity. The capacity check and
// insert run under the session lock shared with waitlist promotion.
func (s *service) Book(ctx context.Context, tenantID, sessionID, userID string) (*Booking, error) {
	h, err := s.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.StartsAt.After(s.now()) {
		return nil, ErrSessionStarted
	}

	var booking Booking
	err = s.locker.WithLock(ctx, lock.SessionResource(tenantID, sessionID), s.lockOpts, func(ctx context.Context) error {
		return h.InTx(ctx, func(tx *tenancy.Handle) error {
			active, err := tx.Count(ctx, "bookings", tenancy.Where{
				"session_id": sessionID,
				"user_id":    userID,
				"status":     activeStatuses,
			})
			if err != nil {
				return err
			}
			if active > 0 {
				return ErrAlreadyBooked
			}

			confirmed, err := tx.Count(ctx, "bookings", tenancy.Where{"session_id": sessionID, "status": StatusConfirmed})
			if err != nil {
				return err
			}
			if int(confirmed) >= session.Capacity {
				return ErrSessionFull
			}

			err = tx.InsertReturning(ctx, &booking, "bookings", tenancy.Values{
				"session_id": sessionID,
				"user_id":    userID,
				"status":     StatusConfirmed,
			})
			if isUniqueViolation(err) {
				return ErrAlreadyBooked
			}
			if err != nil {
				return err
			}
			return outbox.Enqueue(ctx, tx, outbox.EventBookingConfirmed, booking.ID, booking)
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordBooking(StatusConfirmed)
	if s.notifier != nil {
		s.notifier.BookingConfirmed(ctx, booking)
	}
	return &booking, nil
}

func (s *service) JoinWaitlist(ctx context.Context, tenantID, sessionID, userID string) (*waitlist.Entry, error) {
	session, err := s.sessions.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.StartsAt.After(s.now()) {
		return nil, ErrSessionStarted
	}
	return s.promoter.JoinWaitlist(ctx, tenantID, sessionID, userID)
}

// Cancel cancels the caller's own booking. Freeing a confirmed spot runs
// waitlist promotion; a promotion failure is logged and does not undo the
// cancellation.
func (s *service) Cancel(ctx context.Context, tenantID, userID, bookingID string) (*CancelResult, error) {
	h, err := s.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var before, after Booking
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		err := tx.Get(ctx, &before, "bookings", tenancy.Where{"id": bookingID}, tenancy.ForUpdate())
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBookingNotFound
		}
		if err != nil {
			return err
		}
		if before.UserID != userID {
			return ErrNotOwner
		}
		if before.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}

		err = tx.UpdateReturning(ctx, &after, "bookings",
			tenancy.Values{"status": StatusCancelled, "updated_at": tenancy.Now()},
			tenancy.Where{"id": bookingID, "status": before.Status},
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadyCancelled
		}
		if err != nil {
			return err
		}
		err = outbox.Enqueue(ctx, tx, outbox.EventBookingCancelled, bookingID, map[string]string{
			"booking_id":      bookingID,
			"session_id":      before.SessionID,
			"user_id":         userID,
			"previous_status": before.Status,
		})
		if err != nil || before.Status != StatusConfirmed {
			return err
		}
		// Redriven by the outbox dispatcher until a promotion pass succeeds.
		return outbox.Enqueue(ctx, tx, outbox.EventSpotFreed, before.SessionID, map[string]string{
			"session_id": before.SessionID,
			"booking_id": bookingID,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordBookingCancellation()
	if s.notifier != nil {
		s.notifier.BookingCancelled(ctx, after)
	}

	result := &CancelResult{Booking: &after}
	if before.Status != StatusConfirmed {
		return result, nil
	}

	promo, err := s.promoter.ProcessOpenSpot(ctx, tenantID, before.SessionID)
	if err != nil {
		logger.Warn("waitlist promotion after cancellation failed, left to outbox redelivery",
			"tenant_id", tenantID,
			"session_id", before.SessionID,
			"booking_id", bookingID,
			"error", err,
		)
		result.PromotionPending = true
		result.PromotionErr = err
		return result, nil
	}
	result.Promotion = promo
	return result, nil
}

// SpotFreedHandler re-runs waitlist promotion for SPOT_FREED outbox events.
// Promotion is a no-op on a full session, so repeated delivery is safe.
func SpotFreedHandler(p Promoter) outbox.HandlerFunc {
	return func(ctx context.Context, e outbox.Event) error {
		_, err := p.ProcessOpenSpot(ctx, e.TenantID, e.AggregateID)
		if errors.Is(err, waitlist.ErrSessionNotFound) {
			logger.Warn("spot freed for unknown session", "tenant_id", e.TenantID, "session_id", e.AggregateID)
			return nil
		}
		return err
	}
}

func (s *service) ProcessWaitlist(ctx context.Context, tenantID, sessionID string) (*waitlist.Promotion, error) {
	return s.promoter.ProcessOpenSpot(ctx, tenantID, sessionID)
}

func (s *service) ListForUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]Booking, error) {
	h, err := s.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	bookings := []Booking{}
	err = h.Select(ctx, &bookings, "bookings",
		tenancy.Where{"user_id": userID},
		tenancy.OrderBy("created_at DESC", "id DESC"),
		tenancy.Limit(limit),
		tenancy.Offset(offset),
	)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

func (s *service) ListForSession(ctx context.Context, tenantID, sessionID string) ([]Booking, error) {
	h, err := s.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	bookings := []Booking{}
	err = h.Select(ctx, &bookings, "bookings",
		tenancy.Where{"session_id": sessionID},
		tenancy.OrderBy("created_at", "id"),
	)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}
