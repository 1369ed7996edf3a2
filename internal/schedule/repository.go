package schedule

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

type Repository interface {
	CreateClass(ctx context.Context, tenantID, name, description string, capacity int) (*Class, error)
	ListClasses(ctx context.Context, tenantID string) ([]Class, error)
	GetClass(ctx context.Context, tenantID, classID string) (*Class, error)
	CreateSession(ctx context.Context, tenantID, classID string, startsAt, endsAt time.Time, capacity int) (*Session, error)
	GetSession(ctx context.Context, tenantID, sessionID string) (*Session, error)
	ListSessionsWithAvailability(ctx context.Context, tenantID, classID string, after *time.Time) ([]SessionWithAvailability, error)
}

type repository struct {
	gw *tenancy.Gateway
}

func NewRepository(gw *tenancy.Gateway) Repository {
	return &repository{gw: gw}
}

func (r *repository) CreateClass(ctx context.Context, tenantID, name, description string, capacity int) (*Class, error) {
	h, err := r.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var class Class
	err = h.InsertReturning(ctx, &class, "classes", tenancy.Values{
		"name":        name,
		"description": description,
		"capacity":    capacity,
	})
	if err != nil {
		return nil, err
	}
	return &class, nil
}

func (r *repository) ListClasses(ctx context.Context, tenantID string) ([]Class, error) {
	h, err := r.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	classes := []Class{}
	if err := h.Select(ctx, &classes, "classes", nil, tenancy.OrderBy("name")); err != nil {
		return nil, err
	}
	return classes, nil
}

func (r *repository) GetClass(ctx context.Context, tenantID, classID string) (*Class, error) {
	h, err := r.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var class Class
	err = h.Get(ctx, &class, "classes", tenancy.Where{"id": classID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, err
	}
	return &class, nil
}

func (r *repository) CreateSession(ctx context.Context, tenantID, classID string, startsAt, endsAt time.Time, capacity int) (*Session, error) {
	h, err := r.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var s Session
	err = h.InsertReturning(ctx, &s, "class_sessions", tenancy.Values{
		"class_id":  classID,
		"starts_at": startsAt,
		"ends_at":   endsAt,
		"capacity":  capacity,
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repository) GetSession(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	h, err := r.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var s Session
	err = h.Get(ctx, &s, "class_sessions", tenancy.Where{"id": sessionID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessionsWithAvailability lists the class's sessions, optionally only
// those starting after the given time, with live booking counts.
func (r *repository) ListSessionsWithAvailability(ctx context.Context, tenantID, classID string, after *time.Time) ([]SessionWithAvailability, error) {
	h, err := r.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	where := tenancy.Where{"class_id": classID}
	if after != nil {
		where["starts_at"] = tenancy.Gt(*after)
	}

	sessions := []Session{}
	if err := h.Select(ctx, &sessions, "class_sessions", where, tenancy.OrderBy("starts_at ASC")); err != nil {
		return nil, err
	}

	result := make([]SessionWithAvailability, 0, len(sessions))
	if len(sessions) == 0 {
		return result, nil
	}

	ids := make([]interface{}, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}

	var counts []statusCount
	err = h.Select(ctx, &counts, "bookings",
		tenancy.Where{
			"session_id": tenancy.In(ids...),
			"status":     tenancy.In("CONFIRMED", "WAITLISTED"),
		},
		tenancy.Columns("session_id", "status", "COUNT(*) AS n"),
		tenancy.GroupBy("session_id", "status"),
	)
	if err != nil {
		return nil, err
	}

	confirmed := make(map[string]int)
	waitlisted := make(map[string]int)
	for _, c := range counts {
		if c.Status == "CONFIRMED" {
			confirmed[c.SessionID] = c.N
		} else {
			waitlisted[c.SessionID] = c.N
		}
	}

	for _, s := range sessions {
		available := s.Capacity - confirmed[s.ID]
		if available < 0 {
			available = 0
		}
		result = append(result, SessionWithAvailability{
			Session:    s,
			Confirmed:  confirmed[s.ID],
			Waitlisted: waitlisted[s.ID],
			Available:  available,
			IsFull:     available == 0,
		})
	}
	return result, nil
}
