package booking

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/newtechdevloper/FitStack-sub000/internal/outbox"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
	"github.com/newtechdevloper/FitStack-sub000/internal/wallet"
)

var activeStatuses = tenancy.In(StatusConfirmed, StatusWaitlisted)

// waitlistStore backs the promotion engine with the bookings, wallets and
// outbox tables of one tenant.
type waitlistStore struct {
	gw *tenancy.Gateway
}

func NewWaitlistStore(gw *tenancy.Gateway) waitlist.Store {
	return &waitlistStore{gw: gw}
}

func (s *waitlistStore) InTx(ctx context.Context, tenantID string, fn func(tx waitlist.Tx) error) error {
	h, err := s.gw.Scoped(tenantID)
	if err != nil {
		return err
	}
	return h.InTx(ctx, func(tx *tenancy.Handle) error {
		return fn(&waitlistTx{h: tx})
	})
}

type waitlistTx struct {
	h *tenancy.Handle
}

func (t *waitlistTx) Capacity(ctx context.Context, sessionID string) (int, int, error) {
	var capacity int
	err := t.h.Get(ctx, &capacity, "class_sessions", tenancy.Where{"id": sessionID}, tenancy.Columns("capacity"))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, waitlist.ErrSessionNotFound
	}
	if err != nil {
		return 0, 0, err
	}

	confirmed, err := t.h.Count(ctx, "bookings", tenancy.Where{"session_id": sessionID, "status": StatusConfirmed})
	if err != nil {
		return 0, 0, err
	}
	return capacity, int(confirmed), nil
}

func (t *waitlistTx) Waitlisted(ctx context.Context, sessionID string) ([]waitlist.Candidate, error) {
	var rows []candidateRow
	err := t.h.Select(ctx, &rows, "bookings",
		tenancy.Where{"session_id": sessionID, "status": StatusWaitlisted},
		tenancy.Columns("id", "user_id", "created_at"),
		tenancy.OrderBy("created_at", "id"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]waitlist.Candidate, len(rows))
	for i, r := range rows {
		out[i] = waitlist.Candidate{BookingID: r.ID, UserID: r.UserID, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (t *waitlistTx) Debit(ctx context.Context, userID string, amountCents int64, referenceID string) error {
	_, err := wallet.DebitTx(ctx, t.h, userID, amountCents, "Waitlist promotion", referenceID)
	return err
}

func (t *waitlistTx) Confirm(ctx context.Context, bookingID string) (bool, error) {
	n, err := t.h.Update(ctx, "bookings",
		tenancy.Values{"status": StatusConfirmed, "updated_at": tenancy.Now()},
		tenancy.Where{"id": bookingID, "status": StatusWaitlisted},
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Join inserts a WAITLISTED booking. Sessions with free spots are booked
// directly instead.
func (t *waitlistTx) Join(ctx context.Context, sessionID, userID string) (*waitlist.Entry, error) {
	capacity, confirmed, err := t.Capacity(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if confirmed < capacity {
		return nil, waitlist.ErrSpotAvailable
	}

	active, err := t.h.Count(ctx, "bookings", tenancy.Where{"session_id": sessionID, "user_id": userID, "status": activeStatuses})
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, waitlist.ErrAlreadyQueued
	}

	var b Booking
	err = t.h.InsertReturning(ctx, &b, "bookings", tenancy.Values{
		"session_id": sessionID,
		"user_id":    userID,
		"status":     StatusWaitlisted,
	})
	if isUniqueViolation(err) {
		return nil, waitlist.ErrAlreadyQueued
	}
	if err != nil {
		return nil, err
	}

	position, err := t.h.Count(ctx, "bookings", tenancy.Where{
		"session_id": sessionID,
		"status":     StatusWaitlisted,
		"created_at": tenancy.Lte(b.CreatedAt),
	})
	if err != nil {
		return nil, err
	}

	return &waitlist.Entry{
		BookingID: b.ID,
		SessionID: sessionID,
		UserID:    userID,
		Position:  int(position),
		CreatedAt: b.CreatedAt,
	}, nil
}

func (t *waitlistTx) Promoted(ctx context.Context, p waitlist.Promotion) error {
	return outbox.Enqueue(ctx, t.h, outbox.EventBookingPromoted, p.BookingID, p)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
