package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/outbox"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

const periodLayout = "2006-01"

var ErrInvalidPeriod = errors.New("period must be formatted as YYYY-MM")

type Snapshot struct {
	TenantID      string    `db:"tenant_id" json:"tenant_id"`
	Period        string    `db:"period" json:"period"`
	CreditsCents  int64     `db:"credits_cents" json:"credits_cents"`
	DebitsCents   int64     `db:"debits_cents" json:"debits_cents"`
	ActiveMembers int64     `db:"active_members" json:"active_members"`
	UsageUnits    int64     `db:"usage_units" json:"usage_units"`
	GeneratedAt   time.Time `db:"generated_at" json:"generated_at"`
}

type Generator struct {
	gw  *tenancy.Gateway
	now func() time.Time
}

func NewGenerator(gw *tenancy.Gateway) *Generator {
	return &Generator{gw: gw, now: func() time.Time { return time.Now().UTC() }}
}

// PreviousPeriod is the calendar month before now.
func PreviousPeriod(now time.Time) string {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -1, 0).Format(periodLayout)
}

func parsePeriod(period string) (time.Time, time.Time, error) {
	start, err := time.Parse(periodLayout, period)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidPeriod
	}
	return start, start.AddDate(0, 1, 0), nil
}

// Regenerate recomputes every tenant's snapshot for period. Existing rows for
// the period are overwritten. An empty period means the previous month.
func (g *Generator) Regenerate(ctx context.Context, period string) ([]Snapshot, error) {
	if period == "" {
		period = PreviousPeriod(g.now())
	}
	start, end, err := parsePeriod(period)
	if err != nil {
		return nil, err
	}

	var tenantIDs []string
	if err := g.gw.Global().Select(ctx, &tenantIDs, "tenants", nil, tenancy.Columns("id"), tenancy.OrderBy("id")); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	out := make([]Snapshot, 0, len(tenantIDs))
	var errs []error
	for _, id := range tenantIDs {
		s, err := g.regenerateTenant(ctx, id, period, start, end)
		if err != nil {
			logger.Warn("financial snapshot failed", "tenant_id", id, "period", period, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
			continue
		}
		out = append(out, *s)
	}
	return out, errors.Join(errs...)
}

func (g *Generator) regenerateTenant(ctx context.Context, tenantID, period string, start, end time.Time) (*Snapshot, error) {
	h, err := g.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	err = h.InTx(ctx, func(tx *tenancy.Handle) error {
		window := tenancy.Range(start, end)

		var credits, debits, units int64
		if err := tx.Aggregate(ctx, &credits, "wallet_transactions", "COALESCE(SUM(amount_cents), 0)",
			tenancy.Where{"type": "CREDIT", "created_at": window}); err != nil {
			return err
		}
		if err := tx.Aggregate(ctx, &debits, "wallet_transactions", "COALESCE(SUM(amount_cents), 0)",
			tenancy.Where{"type": "DEBIT", "created_at": window}); err != nil {
			return err
		}
		if err := tx.Aggregate(ctx, &units, "usage_records", "COALESCE(SUM(quantity), 0)",
			tenancy.Where{"recorded_at": window}); err != nil {
			return err
		}
		members, err := tx.Count(ctx, "member_subscriptions", tenancy.Where{"status": "ACTIVE"})
		if err != nil {
			return err
		}

		err = tx.InsertReturning(ctx, &snap, "financial_snapshots",
			tenancy.Values{
				"tenant_id":      tenantID,
				"period":         period,
				"credits_cents":  credits,
				"debits_cents":   debits,
				"active_members": members,
				"usage_units":    units,
				"generated_at":   g.now(),
			},
			tenancy.OnConflictUpdate([]string{"tenant_id", "period"},
				"credits_cents", "debits_cents", "active_members", "usage_units", "generated_at"),
		)
		if err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx, outbox.EventFinancialSnapshotGenerated, tenantID+":"+period, snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (g *Generator) List(ctx context.Context, tenantID string) ([]Snapshot, error) {
	out := []Snapshot{}
	err := g.gw.Global().Select(ctx, &out, "financial_snapshots",
		tenancy.Where{"tenant_id": tenantID},
		tenancy.OrderBy("period DESC"),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}
