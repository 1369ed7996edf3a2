package booking

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/newtechdevloper/FitStack-sub000/internal/lock"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sqlSessionCapacity = "SELECT capacity FROM class_sessions WHERE tenant_id = $1 AND id = $2"
	sqlCountConfirmed  = "SELECT COUNT(*) FROM bookings WHERE tenant_id = $1 AND session_id = $2 AND status = $3"
	sqlCountActive     = "SELECT COUNT(*) FROM bookings WHERE tenant_id = $1 AND session_id = $2 AND status IN ($3, $4) AND user_id = $5"
	sqlWaitlisted      = "SELECT id, user_id, created_at FROM bookings WHERE tenant_id = $1 AND session_id = $2 AND status = $3 ORDER BY created_at, id"
	sqlConfirm         = "UPDATE bookings SET status = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3 AND status = $4"
	sqlInsertBooking   = "INSERT INTO bookings (session_id, status, tenant_id, user_id) VALUES ($1, $2, $3, $4) RETURNING *"
	sqlOutbox          = "INSERT INTO outbox_events (aggregate_id, event_type, payload, tenant_id) VALUES ($1, $2, $3, $4)"
	sqlDebit           = "UPDATE wallets SET balance_cents = balance_cents - $1, updated_at = NOW() WHERE tenant_id = $2 AND balance_cents >= $3 AND user_id = $4 RETURNING id, balance_cents"
	sqlLedger          = "INSERT INTO wallet_transactions (amount_cents, balance_after, description, reference_id, tenant_id, type, user_id, wallet_id) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING *"
)

var bookingCols = []string{"id", "tenant_id", "session_id", "user_id", "status", "created_at", "updated_at"}

func setupGateway(t *testing.T) (*tenancy.Gateway, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return tenancy.NewGateway(sqlx.NewDb(db, "sqlmock")), mock
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocker() *lock.Manager {
	return lock.NewManager(&memLocks{held: map[string]string{}}, lock.Options{TTL: time.Minute, Retries: 5, RetryDelay: time.Millisecond})
}

func (m *memLocks) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = value
	return true, nil
}

func (m *memLocks) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] != value {
		return false, nil
	}
	delete(m.held, key)
	return true, nil
}

func TestWaitlistStore_PromotionSkipsUnfundedCandidate(t *testing.T) {
	gw, mock := setupGateway(t)
	engine := waitlist.NewEngine(NewWaitlistStore(gw), newMemLocker(), nil, waitlist.Config{PromotionCostCents: 500})
	created := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlSessionCapacity)).
		WithArgs("t1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(10))
	mock.ExpectQuery(regexp.QuoteMeta(sqlCountConfirmed)).
		WithArgs("t1", "s1", StatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
	mock.ExpectQuery(regexp.QuoteMeta(sqlWaitlisted)).
		WithArgs("t1", "s1", StatusWaitlisted).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at"}).
			AddRow("b1", "broke", created).
			AddRow("b2", "funded", created.Add(time.Minute)))
	mock.ExpectQuery(regexp.QuoteMeta(sqlDebit)).
		WithArgs(int64(500), "t1", int64(500), "broke").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_cents"}))
	mock.ExpectQuery(regexp.QuoteMeta(sqlDebit)).
		WithArgs(int64(500), "t1", int64(500), "funded").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_cents"}).AddRow("w2", 700))
	mock.ExpectQuery(regexp.QuoteMeta(sqlLedger)).
		WithArgs(int64(500), int64(700), "Waitlist promotion", "b2", "t1", "DEBIT", "funded", "w2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "wallet_id", "user_id", "type", "amount_cents", "balance_after", "description", "reference_id", "created_at"}).
			AddRow("wt1", "t1", "w2", "funded", "DEBIT", 500, 700, "Waitlist promotion", "b2", time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(sqlConfirm)).
		WithArgs(StatusConfirmed, "t1", "b2", StatusWaitlisted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(sqlOutbox)).
		WithArgs("b2", "BOOKING_PROMOTED", sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	promo, err := engine.ProcessOpenSpot(context.Background(), "t1", "s1")

	require.NoError(t, err)
	require.NotNil(t, promo)
	assert.Equal(t, "b2", promo.BookingID)
	assert.Equal(t, []string{"b1"}, promo.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistStore_ConfirmRaceRollsBack(t *testing.T) {
	gw, mock := setupGateway(t)
	engine := waitlist.NewEngine(NewWaitlistStore(gw), newMemLocker(), nil, waitlist.Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlSessionCapacity)).
		WithArgs("t1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(sqlCountConfirmed)).
		WithArgs("t1", "s1", StatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(sqlWaitlisted)).
		WithArgs("t1", "s1", StatusWaitlisted).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at"}).AddRow("b1", "u1", time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(sqlConfirm)).
		WithArgs(StatusConfirmed, "t1", "b1", StatusWaitlisted).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := engine.ProcessOpenSpot(context.Background(), "t1", "s1")

	assert.ErrorIs(t, err, waitlist.ErrCandidateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistStore_UnknownSession(t *testing.T) {
	gw, mock := setupGateway(t)
	engine := waitlist.NewEngine(NewWaitlistStore(gw), newMemLocker(), nil, waitlist.Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlSessionCapacity)).
		WithArgs("t1", "gone").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}))
	mock.ExpectRollback()

	_, err := engine.ProcessOpenSpot(context.Background(), "t1", "gone")

	assert.ErrorIs(t, err, waitlist.ErrSessionNotFound)
}

func TestWaitlistStore_Join(t *testing.T) {
	gw, mock := setupGateway(t)
	engine := waitlist.NewEngine(NewWaitlistStore(gw), newMemLocker(), nil, waitlist.Config{})
	created := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlSessionCapacity)).
		WithArgs("t1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(sqlCountConfirmed)).
		WithArgs("t1", "s1", StatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(sqlCountActive)).
		WithArgs("t1", "s1", StatusConfirmed, StatusWaitlisted, "u3").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(sqlInsertBooking)).
		WithArgs("s1", StatusWaitlisted, "t1", "u3").
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow("b9", "t1", "s1", "u3", StatusWaitlisted, created, created))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bookings WHERE tenant_id = $1 AND created_at <= $2 AND session_id = $3 AND status = $4")).
		WithArgs("t1", created, "s1", StatusWaitlisted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectCommit()

	entry, err := engine.JoinWaitlist(context.Background(), "t1", "s1", "u3")

	require.NoError(t, err)
	assert.Equal(t, "b9", entry.BookingID)
	assert.Equal(t, 3, entry.Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistStore_JoinOpenSession(t *testing.T) {
	gw, mock := setupGateway(t)
	engine := waitlist.NewEngine(NewWaitlistStore(gw), newMemLocker(), nil, waitlist.Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlSessionCapacity)).
		WithArgs("t1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(sqlCountConfirmed)).
		WithArgs("t1", "s1", StatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := engine.JoinWaitlist(context.Background(), "t1", "s1", "u3")

	assert.ErrorIs(t, err, waitlist.ErrSpotAvailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
