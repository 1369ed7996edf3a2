package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/booking"
	"github.com/newtechdevloper/FitStack-sub000/internal/lock"
	"github.com/newtechdevloper/FitStack-sub000/internal/schedule"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenant"
	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
	"github.com/newtechdevloper/FitStack-sub000/internal/wallet"
	"github.com/newtechdevloper/FitStack-sub000/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletConcurrentDebits_Integration(t *testing.T) {
	database, gw := setupTestDB(t)
	ctx := context.Background()
	tenantID := createTenant(t, gw, "Iron Temple")
	userID := createMember(t, database, tenantID, "debits@test.com")

	svc := wallet.NewService(gw)
	_, err := svc.Credit(ctx, tenantID, userID, 1000, "top up", "")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		succeeded int32
		rejected  int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Debit(ctx, tenantID, userID, 100, "class", fmt.Sprintf("ref-%d", i))
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, wallet.ErrInsufficientFunds):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected debit error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded)
	assert.Equal(t, int32(10), rejected)

	balance, err := svc.GetBalance(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	var credits, debits int64
	require.NoError(t, database.Get(&credits, `SELECT COALESCE(SUM(amount_cents), 0) FROM wallet_transactions WHERE tenant_id = $1 AND type = 'CREDIT'`, tenantID))
	require.NoError(t, database.Get(&debits, `SELECT COALESCE(SUM(amount_cents), 0) FROM wallet_transactions WHERE tenant_id = $1 AND type = 'DEBIT'`, tenantID))
	assert.Equal(t, balance, credits-debits)
}

func TestTenantIsolation_Integration(t *testing.T) {
	database, gw := setupTestDB(t)
	ctx := context.Background()
	tenantA := createTenant(t, gw, "Studio A")
	tenantB := createTenant(t, gw, "Studio B")
	userID := createMember(t, database, tenantA, "isolated@test.com")

	_, err := wallet.NewService(gw).Credit(ctx, tenantA, userID, 500, "top up", "")
	require.NoError(t, err)

	hb, err := gw.Scoped(tenantB)
	require.NoError(t, err)

	n, err := hb.Count(ctx, "wallet_transactions", tenancy.Where{"user_id": userID})
	require.NoError(t, err)
	assert.Zero(t, n)

	// An explicit foreign tenant filter is overridden by the handle's own.
	n, err = hb.Count(ctx, "wallets", tenancy.Where{"tenant_id": tenantA})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = gw.Global().Count(ctx, "wallets", nil)
	assert.ErrorIs(t, err, tenancy.ErrUnscopedAccess)
}

type quietNotifier struct{}

func (quietNotifier) BookingConfirmed(context.Context, booking.Booking)      {}
func (quietNotifier) BookingCancelled(context.Context, booking.Booking)      {}
func (quietNotifier) PromotionCommitted(context.Context, waitlist.Promotion) {}

func TestBookingCapacity_Integration(t *testing.T) {
	database, gw := setupTestDB(t)
	ctx := context.Background()
	tenantID := createTenant(t, gw, "Spin Lab")

	sessions := schedule.NewRepository(gw)
	class, err := sessions.CreateClass(ctx, tenantID, "Spin", "", 3)
	require.NoError(t, err)
	start := time.Now().Add(24 * time.Hour)
	session, err := sessions.CreateSession(ctx, tenantID, class.ID, start, start.Add(time.Hour), 3)
	require.NoError(t, err)

	lockOpts := lock.Options{TTL: 5 * time.Second, Retries: 500, RetryDelay: 2 * time.Millisecond}
	locks := lock.NewManager(newMemLockStore(), lockOpts)
	engine := waitlist.NewEngine(booking.NewWaitlistStore(gw), locks, quietNotifier{}, waitlist.Config{Lock: lockOpts})
	svc := booking.NewService(gw, sessions, locks, engine, quietNotifier{}, lockOpts)

	var (
		wg        sync.WaitGroup
		confirmed int32
	)
	for i := 0; i < 8; i++ {
		userID := createMember(t, database, tenantID, fmt.Sprintf("rider%d@test.com", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Book(ctx, tenantID, session.ID, userID); err == nil {
				atomic.AddInt32(&confirmed, 1)
			} else {
				assert.ErrorIs(t, err, booking.ErrSessionFull)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), confirmed)
	var n int
	require.NoError(t, database.Get(&n, `SELECT COUNT(*) FROM bookings WHERE session_id = $1 AND status = 'CONFIRMED'`, session.ID))
	assert.Equal(t, 3, n)
}

func TestWebhookReplay_Integration(t *testing.T) {
	_, gw := setupTestDB(t)
	ctx := context.Background()
	tenantID := createTenant(t, gw, "Yoga Loft")

	const secret = "whsec_test"
	payload := []byte(fmt.Sprintf(`{"event":"subscription.activated","payload":{"subscription":{"entity":{"id":"sub_R1","customer_id":"cust_R1","current_end":%d,"notes":{"tenant_id":%q,"plan_key":"growth"}}}}}`,
		time.Now().Add(30*24*time.Hour).Unix(), tenantID))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	header := http.Header{}
	header.Set("X-Razorpay-Signature", hex.EncodeToString(mac.Sum(nil)))

	r := webhook.NewReconciler(gw, webhook.NewRazorpayProvider(secret))

	outcome, err := r.Handle(ctx, tenant.ProviderRazorpay, payload, header)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, outcome)

	outcome, err = r.Handle(ctx, tenant.ProviderRazorpay, payload, header)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, outcome)

	sub, err := tenant.GetSubscription(ctx, gw.Global(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusActive, sub.Status)
	assert.Equal(t, "growth", sub.PlanKey)

	h, err := gw.Scoped(tenantID)
	require.NoError(t, err)
	n, err := h.Count(ctx, "outbox_events", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
