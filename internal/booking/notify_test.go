package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/user"
	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubUsers struct {
	user.Repository
	users map[string]*user.User
}

func (s stubUsers) FindByID(ctx context.Context, id string) (*user.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, user.ErrUserNotFound
}

type sentMail struct {
	kind    string
	to      string
	class   string
	charged int64
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) record(s sentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, s)
	return nil
}

func (m *fakeMailer) SendBookingConfirmation(ctx context.Context, email, name, className string, when time.Time) error {
	return m.record(sentMail{kind: "confirm", to: email, class: className})
}

func (m *fakeMailer) SendWaitlistPromotion(ctx context.Context, email, name, className string, when time.Time, chargedCents int64) error {
	return m.record(sentMail{kind: "promotion", to: email, class: className, charged: chargedCents})
}

func (m *fakeMailer) SendCancellation(ctx context.Context, email, name, className string, when time.Time) error {
	return m.record(sentMail{kind: "cancel", to: email, class: className})
}

func newNotifier(mailer *fakeMailer) *EmailNotifier {
	users := stubUsers{users: map[string]*user.User{"u1": {ID: "u1", Name: "Ana", Email: "ana@example.com"}}}
	return NewEmailNotifier(users, sessionsFixture(), mailer)
}

func TestEmailNotifier_SendsEachKind(t *testing.T) {
	mailer := &fakeMailer{}
	n := newNotifier(mailer)
	b := Booking{ID: "b1", TenantID: "t1", SessionID: "s1", UserID: "u1"}

	n.BookingConfirmed(context.Background(), b)
	n.BookingCancelled(context.Background(), b)
	n.PromotionCommitted(context.Background(), waitlist.Promotion{TenantID: "t1", SessionID: "s1", UserID: "u1", ChargedCents: 250})
	n.Wait()

	require.Len(t, mailer.sent, 3)
	kinds := map[string]sentMail{}
	for _, s := range mailer.sent {
		kinds[s.kind] = s
		assert.Equal(t, "ana@example.com", s.to)
		assert.Equal(t, "Spin", s.class)
	}
	assert.Equal(t, int64(250), kinds["promotion"].charged)
}

func TestEmailNotifier_FailureIsLoggedOnly(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger.Set(logger.New(core))
	t.Cleanup(func() { logger.Set(nil) })

	mailer := &fakeMailer{err: errors.New("redis down")}
	n := newNotifier(mailer)

	n.BookingConfirmed(context.Background(), Booking{TenantID: "t1", SessionID: "s1", UserID: "u1"})
	n.BookingConfirmed(context.Background(), Booking{TenantID: "t1", SessionID: "s1", UserID: "ghost"})
	n.Wait()

	assert.Equal(t, 2, logs.FilterMessage("booking notification failed").Len())
}
