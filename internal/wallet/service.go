package wallet

import (
	"context"

	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

type Service interface {
	Credit(ctx context.Context, tenantID, userID string, amount int64, description, referenceID string) (*Transaction, error)
	Debit(ctx context.Context, tenantID, userID string, amount int64, description, referenceID string) (*Transaction, error)
	GetBalance(ctx context.Context, tenantID, userID string) (int64, error)
	ListTransactions(ctx context.Context, tenantID, userID string, limit, offset int) ([]Transaction, error)
}

type service struct {
	gw *tenancy.Gateway
}

func NewService(gw *tenancy.Gateway) Service {
	return &service{gw: gw}
}

func (s *service) Credit(ctx context.Context, tenantID, userID string, amount int64, description, referenceID string) (*Transaction, error) {
	h, err := s.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var entry *Transaction
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		var err error
		entry, err = CreditTx(ctx, tx, userID, amount, description, referenceID)
		return err
	})
	return entry, err
}

func (s *service) Debit(ctx context.Context, tenantID, userID string, amount int64, description, referenceID string) (*Transaction, error) {
	h, err := s.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var entry *Transaction
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		var err error
		entry, err = DebitTx(ctx, tx, userID, amount, description, referenceID)
		return err
	})
	return entry, err
}

func (s *service) GetBalance(ctx context.Context, tenantID, userID string) (int64, error) {
	h, err := s.gw.Scoped(tenantID)
	if err != nil {
		return 0, err
	}
	return Balance(ctx, h, userID)
}

func (s *service) ListTransactions(ctx context.Context, tenantID, userID string, limit, offset int) ([]Transaction, error) {
	h, err := s.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}
	return Transactions(ctx, h, userID, limit, offset)
}
