package user

import "context"

type Profile struct {
	User     *User     `json:"user"`
	Accounts []Account `json:"accounts"`
}

type Service interface {
	GetByID(ctx context.Context, userID string) (*User, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) GetByID(ctx context.Context, userID string) (*User, error) {
	return s.repo.FindByID(ctx, userID)
}

func (s *service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: u, Accounts: accounts}, nil
}
