package booking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/auth"
	"github.com/newtechdevloper/FitStack-sub000/internal/lock"
	"github.com/newtechdevloper/FitStack-sub000/internal/schedule"
	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Book(ctx context.Context, tenantID, sessionID, userID string) (*Booking, error) {
	args := m.Called(ctx, tenantID, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Booking), args.Error(1)
}

func (m *MockService) JoinWaitlist(ctx context.Context, tenantID, sessionID, userID string) (*waitlist.Entry, error) {
	args := m.Called(ctx, tenantID, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*waitlist.Entry), args.Error(1)
}

func (m *MockService) Cancel(ctx context.Context, tenantID, userID, bookingID string) (*CancelResult, error) {
	args := m.Called(ctx, tenantID, userID, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CancelResult), args.Error(1)
}

func (m *MockService) ProcessWaitlist(ctx context.Context, tenantID, sessionID string) (*waitlist.Promotion, error) {
	args := m.Called(ctx, tenantID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*waitlist.Promotion), args.Error(1)
}

func (m *MockService) ListForUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]Booking, error) {
	args := m.Called(ctx, tenantID, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Booking), args.Error(1)
}

func (m *MockService) ListForSession(ctx context.Context, tenantID, sessionID string) ([]Booking, error) {
	args := m.Called(ctx, tenantID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Booking), args.Error(1)
}

func newBookingRouter(svc Service, p *auth.Principal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if p != nil {
			auth.SetPrincipal(c, *p)
		}
		c.Next()
	})
	r.POST("/sessions/:sessionID/book", h.Book)
	r.POST("/sessions/:sessionID/waitlist", h.JoinWaitlist)
	r.POST("/bookings/:bookingID/cancel", h.Cancel)
	r.GET("/bookings", h.ListMine)
	r.POST("/staff/sessions/:sessionID/process-waitlist", h.ProcessWaitlist)
	return r
}

var member = &auth.Principal{UserID: "u1", TenantID: "t1", Role: auth.RoleMember}

func TestHandler_BookStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"created", nil, http.StatusCreated},
		{"full", ErrSessionFull, http.StatusConflict},
		{"duplicate", ErrAlreadyBooked, http.StatusConflict},
		{"unknown session", schedule.ErrSessionNotFound, http.StatusNotFound},
		{"started", ErrSessionStarted, http.StatusBadRequest},
		{"lock timeout", &lock.TimeoutError{Resource: "session:t1:s1", Attempts: 21}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			if tt.err == nil {
				svc.On("Book", mock.Anything, "t1", "s1", "u1").Return(&Booking{ID: "b1"}, nil)
			} else {
				svc.On("Book", mock.Anything, "t1", "s1", "u1").Return(nil, tt.err)
			}

			w := httptest.NewRecorder()
			newBookingRouter(svc, member).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/s1/book", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHandler_RequiresPrincipal(t *testing.T) {
	w := httptest.NewRecorder()
	newBookingRouter(new(MockService), nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/s1/book", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	noTenant := &auth.Principal{UserID: "admin", Role: auth.RoleSuperAdmin}
	newBookingRouter(new(MockService), noTenant).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bookings", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_Cancel(t *testing.T) {
	svc := new(MockService)
	svc.On("Cancel", mock.Anything, "t1", "u1", "b1").
		Return(&CancelResult{Booking: &Booking{ID: "b1", Status: StatusCancelled}, Promotion: &waitlist.Promotion{BookingID: "b2"}}, nil)
	svc.On("Cancel", mock.Anything, "t1", "u1", "b9").Return(nil, ErrNotOwner)

	w := httptest.NewRecorder()
	newBookingRouter(svc, member).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bookings/b1/cancel", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"booking_id":"b2"`)

	w = httptest.NewRecorder()
	newBookingRouter(svc, member).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bookings/b9/cancel", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_CancelWithPendingPromotion(t *testing.T) {
	svc := new(MockService)
	svc.On("Cancel", mock.Anything, "t1", "u1", "b1").Return(&CancelResult{
		Booking:          &Booking{ID: "b1", Status: StatusCancelled},
		PromotionPending: true,
		PromotionErr:     &lock.TimeoutError{Resource: "session:t1:s1", Attempts: 21},
	}, nil)

	w := httptest.NewRecorder()
	newBookingRouter(svc, member).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bookings/b1/cancel", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"promotion_pending":true`)
}

func TestHandler_JoinWaitlist(t *testing.T) {
	svc := new(MockService)
	svc.On("JoinWaitlist", mock.Anything, "t1", "s1", "u1").Return(nil, waitlist.ErrSpotAvailable)

	w := httptest.NewRecorder()
	newBookingRouter(svc, member).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/s1/waitlist", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_ListMinePaging(t *testing.T) {
	svc := new(MockService)
	svc.On("ListForUser", mock.Anything, "t1", "u1", 10, 20).Return([]Booking{{ID: "b1"}}, nil)

	w := httptest.NewRecorder()
	newBookingRouter(svc, member).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bookings?limit=10&offset=20", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestHandler_ProcessWaitlistNoPromotion(t *testing.T) {
	svc := new(MockService)
	svc.On("ProcessWaitlist", mock.Anything, "t1", "s1").Return(nil, nil)
	staff := &auth.Principal{UserID: "st", TenantID: "t1", Role: auth.RoleStaff}

	w := httptest.NewRecorder()
	newBookingRouter(svc, staff).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/staff/sessions/s1/process-waitlist", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "no promotion")
}
