package schedule

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrClassNotFound   = errors.New("class not found")
	ErrSessionNotFound = errors.New("class session not found")
	ErrSessionInvalid  = errors.New("invalid class session")
	ErrClassInvalid    = errors.New("invalid class")
)

type Service interface {
	CreateClass(ctx context.Context, tenantID string, req CreateClassRequest) (*Class, error)
	ListClasses(ctx context.Context, tenantID string) ([]Class, error)
	CreateSession(ctx context.Context, tenantID, classID string, req CreateSessionRequest) (*Session, error)
	ListSessions(ctx context.Context, tenantID, classID string, onlyFuture bool) ([]SessionWithAvailability, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) Service {
	return &service{repo: repo, now: time.Now}
}

func (s *service) CreateClass(ctx context.Context, tenantID string, req CreateClassRequest) (*Class, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.Capacity <= 0 {
		return nil, ErrClassInvalid
	}
	return s.repo.CreateClass(ctx, tenantID, name, strings.TrimSpace(req.Description), req.Capacity)
}

func (s *service) ListClasses(ctx context.Context, tenantID string) ([]Class, error) {
	return s.repo.ListClasses(ctx, tenantID)
}

func (s *service) CreateSession(ctx context.Context, tenantID, classID string, req CreateSessionRequest) (*Session, error) {
	class, err := s.repo.GetClass(ctx, tenantID, classID)
	if err != nil {
		return nil, err
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	if !endsAt.After(startsAt) {
		return nil, ErrSessionInvalid
	}

	capacity := class.Capacity
	if req.Capacity != nil {
		if *req.Capacity <= 0 {
			return nil, ErrSessionInvalid
		}
		capacity = *req.Capacity
	}

	return s.repo.CreateSession(ctx, tenantID, class.ID, startsAt.UTC(), endsAt.UTC(), capacity)
}

func (s *service) ListSessions(ctx context.Context, tenantID, classID string, onlyFuture bool) ([]SessionWithAvailability, error) {
	if _, err := s.repo.GetClass(ctx, tenantID, classID); err != nil {
		return nil, err
	}

	var after *time.Time
	if onlyFuture {
		now := s.now()
		after = &now
	}
	return s.repo.ListSessionsWithAvailability(ctx, tenantID, classID, after)
}
