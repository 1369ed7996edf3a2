// Package waitlist promotes waitlisted bookings into freed class spots.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/lock"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
	"github.com/newtechdevloper/FitStack-sub000/internal/tracing"
	"github.com/newtechdevloper/FitStack-sub000/internal/wallet"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrSessionNotFound = errors.New("class session not found")
	ErrAlreadyQueued   = errors.New("user already holds a booking for this session")
	ErrSpotAvailable   = errors.New("session has free spots, book it directly")
	// ErrCandidateChanged means a candidate left WAITLISTED between the FIFO
	// read and the confirm. The transaction is rolled back.
	ErrCandidateChanged = errors.New("waitlist candidate changed during promotion")
)

// Candidate is a WAITLISTED booking, in queue order.
type Candidate struct {
	BookingID string
	UserID    string
	CreatedAt time.Time
}

type Entry struct {
	BookingID string    `json:"booking_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Promotion describes a candidate moved into a confirmed spot.
type Promotion struct {
	TenantID     string   `json:"tenant_id"`
	SessionID    string   `json:"session_id"`
	BookingID    string   `json:"booking_id"`
	UserID       string   `json:"user_id"`
	ChargedCents int64    `json:"charged_cents"`
	Skipped      []string `json:"skipped,omitempty"`
}

// Tx is the transactional view of one tenant's bookings and wallets.
type Tx interface {
	// Capacity returns the session capacity and its CONFIRMED count.
	Capacity(ctx context.Context, sessionID string) (capacity, confirmed int, err error)
	// Waitlisted returns WAITLISTED bookings ordered by (created_at, id).
	Waitlisted(ctx context.Context, sessionID string) ([]Candidate, error)
	// Debit charges the wallet. wallet.ErrInsufficientFunds leaves it untouched.
	Debit(ctx context.Context, userID string, amountCents int64, referenceID string) error
	// Confirm moves a WAITLISTED booking to CONFIRMED and reports whether it did.
	Confirm(ctx context.Context, bookingID string) (bool, error)
	Join(ctx context.Context, sessionID, userID string) (*Entry, error)
	Promoted(ctx context.Context, p Promotion) error
}

type Store interface {
	InTx(ctx context.Context, tenantID string, fn func(tx Tx) error) error
}

type Locker interface {
	WithLock(ctx context.Context, resource string, opts lock.Options, fn func(ctx context.Context) error) error
}

// Notifier is told about promotions after they commit. It must not block.
type Notifier interface {
	PromotionCommitted(ctx context.Context, p Promotion)
}

type Config struct {
	PromotionCostCents int64
	Lock               lock.Options
}

type Engine struct {
	store    Store
	locker   Locker
	notifier Notifier
	cfg      Config
}

func NewEngine(store Store, locker Locker, notifier Notifier, cfg Config) *Engine {
	return &Engine{store: store, locker: locker, notifier: notifier, cfg: cfg}
}

// JoinWaitlist queues userID for sessionID.
func (e *Engine) JoinWaitlist(ctx context.Context, tenantID, sessionID, userID string) (*Entry, error) {
	var entry *Entry
	err := e.store.InTx(ctx, tenantID, func(tx Tx) error {
		var err error
		entry, err = tx.Join(ctx, sessionID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordBooking("WAITLISTED")
	return entry, nil
}

// ProcessOpenSpot fills at most one free spot of the session from its
// waitlist. A nil Promotion with a nil error means nothing was promoted:
// the session is full, the queue is empty, or every candidate was skipped.
func (e *Engine) ProcessOpenSpot(ctx context.Context, tenantID, sessionID string) (promo *Promotion, err error) {
	ctx, span := tracing.Start(ctx, "waitlist.ProcessOpenSpot")
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.String("session.id", sessionID))
	defer func() { tracing.End(span, err) }()

	err = e.locker.WithLock(ctx, lock.SessionResource(tenantID, sessionID), e.cfg.Lock, func(ctx context.Context) error {
		var skipped []string
		txErr := e.store.InTx(ctx, tenantID, func(tx Tx) error {
			skipped = skipped[:0]
			p, err := e.promote(ctx, tx, tenantID, sessionID, &skipped)
			promo = p
			return err
		})
		if txErr != nil {
			promo = nil
			return txErr
		}
		for range skipped {
			metrics.RecordWaitlistPromotion("skipped")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			metrics.RecordWaitlistPromotion("lock_timeout")
		}
		return nil, fmt.Errorf("process open spot %s: %w", sessionID, err)
	}

	if promo == nil {
		metrics.RecordWaitlistPromotion("none")
		return nil, nil
	}

	metrics.RecordWaitlistPromotion("promoted")
	span.SetAttributes(attribute.String("booking.id", promo.BookingID))
	logger.Info("waitlist promotion committed",
		"tenant_id", tenantID,
		"session_id", sessionID,
		"booking_id", promo.BookingID,
		"skipped", len(promo.Skipped),
	)
	if e.notifier != nil {
		e.notifier.PromotionCommitted(context.WithoutCancel(ctx), *promo)
	}
	return promo, nil
}

func (e *Engine) promote(ctx context.Context, tx Tx, tenantID, sessionID string, skipped *[]string) (*Promotion, error) {
	capacity, confirmed, err := tx.Capacity(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if confirmed >= capacity {
		return nil, nil
	}

	candidates, err := tx.Waitlisted(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		if e.cfg.PromotionCostCents > 0 {
			err := tx.Debit(ctx, c.UserID, e.cfg.PromotionCostCents, c.BookingID)
			if errors.Is(err, wallet.ErrInsufficientFunds) {
				*skipped = append(*skipped, c.BookingID)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("charge %s: %w", c.BookingID, err)
			}
		}

		ok, err := tx.Confirm(ctx, c.BookingID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrCandidateChanged
		}

		p := &Promotion{
			TenantID:     tenantID,
			SessionID:    sessionID,
			BookingID:    c.BookingID,
			UserID:       c.UserID,
			ChargedCents: e.cfg.PromotionCostCents,
			Skipped:      append([]string(nil), *skipped...),
		}
		if err := tx.Promoted(ctx, *p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, nil
}
