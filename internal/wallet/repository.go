package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// CreditTx adds amount to the user's wallet, creating it if needed, and
// appends a CREDIT entry. h should be bound to the caller's transaction.
func CreditTx(ctx context.Context, h *tenancy.Handle, userID string, amount int64, description, referenceID string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := h.Insert(ctx, "wallets",
		tenancy.Values{"user_id": userID},
		tenancy.OnConflictDoNothing("tenant_id", "user_id"),
	); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	var row balanceRow
	err := h.UpdateReturning(ctx, &row, "wallets",
		tenancy.Values{
			"balance_cents": tenancy.Inc("balance_cents", amount),
			"updated_at":    tenancy.Now(),
		},
		tenancy.Where{"user_id": userID},
		tenancy.Returning("id", "balance_cents"),
	)
	if err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	return appendEntry(ctx, h, row, userID, TypeCredit, amount, description, referenceID)
}

// DebitTx subtracts amount only if the balance covers it. Nothing is written
// when it does not.
func DebitTx(ctx context.Context, h *tenancy.Handle, userID string, amount int64, description, referenceID string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var row balanceRow
	err := h.UpdateReturning(ctx, &row, "wallets",
		tenancy.Values{
			"balance_cents": tenancy.Dec("balance_cents", amount),
			"updated_at":    tenancy.Now(),
		},
		tenancy.Where{
			"user_id":       userID,
			"balance_cents": tenancy.Gte(amount),
		},
		tenancy.Returning("id", "balance_cents"),
	)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordWalletOperation(TypeDebit, "insufficient_funds")
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("debit wallet: %w", err)
	}

	return appendEntry(ctx, h, row, userID, TypeDebit, amount, description, referenceID)
}

func appendEntry(ctx context.Context, h *tenancy.Handle, row balanceRow, userID, txType string, amount int64, description, referenceID string) (*Transaction, error) {
	var ref interface{}
	if referenceID != "" {
		ref = referenceID
	}

	var entry Transaction
	err := h.InsertReturning(ctx, &entry, "wallet_transactions", tenancy.Values{
		"wallet_id":     row.ID,
		"user_id":       userID,
		"type":          txType,
		"amount_cents":  amount,
		"balance_after": row.BalanceCents,
		"description":   description,
		"reference_id":  ref,
	})
	if err != nil {
		return nil, fmt.Errorf("append %s entry: %w", txType, err)
	}

	metrics.RecordWalletOperation(txType, "ok")
	return &entry, nil
}

// Balance returns 0 for a user without a wallet. No wallet is created.
func Balance(ctx context.Context, h *tenancy.Handle, userID string) (int64, error) {
	var balance int64
	err := h.Get(ctx, &balance, "wallets", tenancy.Where{"user_id": userID}, tenancy.Columns("balance_cents"))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func Transactions(ctx context.Context, h *tenancy.Handle, userID string, limit, offset int) ([]Transaction, error) {
	txs := []Transaction{}
	err := h.Select(ctx, &txs, "wallet_transactions",
		tenancy.Where{"user_id": userID},
		tenancy.OrderBy("created_at DESC", "id DESC"),
		tenancy.Limit(limit),
		tenancy.Offset(offset),
	)
	if err != nil {
		return nil, err
	}
	return txs, nil
}
