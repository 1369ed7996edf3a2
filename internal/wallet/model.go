package wallet

import "time"

const (
	TypeCredit = "CREDIT"
	TypeDebit  = "DEBIT"
)

type Wallet struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	BalanceCents int64     `db:"balance_cents" json:"balance_cents"`
	Currency     string    `db:"currency" json:"currency"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an append-only ledger entry. AmountCents is always positive;
// Type carries the direction.
type Transaction struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	WalletID     string    `db:"wallet_id" json:"wallet_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Type         string    `db:"type" json:"type"`
	AmountCents  int64     `db:"amount_cents" json:"amount_cents"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	Description  string    `db:"description" json:"description"`
	ReferenceID  *string   `db:"reference_id" json:"reference_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type balanceRow struct {
	ID           string `db:"id"`
	BalanceCents int64  `db:"balance_cents"`
}
