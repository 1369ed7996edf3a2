package usage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
)

var (
	ErrInvalidMetric   = errors.New("invalid usage metric")
	ErrInvalidQuantity = errors.New("usage quantity must be positive")
)

var metricRe = regexp.MustCompile(`^[a-z][a-z0-9_.]{0,63}$`)

// syncBatch caps the records claimed per tenant in one SyncPending pass.
const syncBatch = 1000

type Record struct {
	ID         string     `db:"id" json:"id"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	Metric     string     `db:"metric" json:"metric"`
	Quantity   int64      `db:"quantity" json:"quantity"`
	RecordedAt time.Time  `db:"recorded_at" json:"recorded_at"`
	SyncedAt   *time.Time `db:"synced_at" json:"synced_at,omitempty"`
	BatchID    *string    `db:"batch_id" json:"-"`
}

type meteredTenant struct {
	TenantID string `db:"tenant_id"`
	ItemID   string `db:"stripe_usage_item_id"`
}

type SyncResult struct {
	Tenants int   `json:"tenants"`
	Records int   `json:"records"`
	Units   int64 `json:"units"`
}

type Tracker struct {
	gw         *tenancy.Gateway
	meter      Meter
	now        func() time.Time
	newBatchID func() string
}

func NewTracker(gw *tenancy.Gateway, meter Meter) *Tracker {
	if meter == nil {
		meter = LogMeter{}
	}
	return &Tracker{
		gw:         gw,
		meter:      meter,
		now:        func() time.Time { return time.Now().UTC() },
		newBatchID: uuid.NewString,
	}
}

func (t *Tracker) Track(ctx context.Context, tenantID, metric string, quantity int64) (*Record, error) {
	metric = strings.TrimSpace(metric)
	if !metricRe.MatchString(metric) {
		return nil, ErrInvalidMetric
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	h, err := t.gw.Scoped(tenantID)
	if err != nil {
		return nil, err
	}

	var rec Record
	err = h.InsertReturning(ctx, &rec, "usage_records", tenancy.Values{
		"metric":      metric,
		"quantity":    quantity,
		"recorded_at": t.now(),
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SyncPending pushes unsynced usage of every metered tenant to the meter.
// Records are first claimed into per-metric batches in a committed
// transaction; each batch is then reported under a key derived from its
// batch id and stamped synced on its own. A failed push leaves its batch
// claimed, so the retry reports the same records under the same key.
func (t *Tracker) SyncPending(ctx context.Context) (SyncResult, error) {
	var tenants []meteredTenant
	err := t.gw.Global().Select(ctx, &tenants, "tenant_subscriptions",
		tenancy.Where{"stripe_usage_item_id": tenancy.NotNull()},
		tenancy.Columns("tenant_id", "stripe_usage_item_id"),
		tenancy.OrderBy("tenant_id"),
	)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list metered tenants: %w", err)
	}

	var (
		result SyncResult
		errs   []error
	)
	for _, mt := range tenants {
		records, units, err := t.syncTenant(ctx, mt)
		if records > 0 {
			result.Tenants++
			result.Records += records
			result.Units += units
		}
		if err != nil {
			logger.Warn("usage sync failed", "tenant_id", mt.TenantID, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", mt.TenantID, err))
		}
	}
	return result, errors.Join(errs...)
}

func (t *Tracker) syncTenant(ctx context.Context, mt meteredTenant) (int, int64, error) {
	h, err := t.gw.Scoped(mt.TenantID)
	if err != nil {
		return 0, 0, err
	}
	if err := t.claim(ctx, h); err != nil {
		return 0, 0, fmt.Errorf("claim usage: %w", err)
	}

	var claimed []Record
	err = h.Select(ctx, &claimed, "usage_records",
		tenancy.Where{"synced_at": nil, "batch_id": tenancy.NotNull()},
		tenancy.OrderBy("recorded_at", "id"),
		tenancy.Limit(syncBatch),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("load claimed usage: %w", err)
	}

	var (
		count int
		units int64
	)
	for _, b := range groupByBatch(claimed) {
		now := t.now()
		err := t.meter.Report(ctx, Report{
			TenantID:       mt.TenantID,
			ItemID:         mt.ItemID,
			Metric:         b.metric,
			Quantity:       b.quantity,
			Timestamp:      now,
			IdempotencyKey: idempotencyKey(b.batchID),
		})
		if err != nil {
			return count, units, fmt.Errorf("report %s: %w", b.metric, err)
		}

		if _, err := h.Update(ctx, "usage_records",
			tenancy.Values{"synced_at": now},
			tenancy.Where{"batch_id": b.batchID, "synced_at": nil},
		); err != nil {
			return count, units, fmt.Errorf("mark batch %s synced: %w", b.batchID, err)
		}
		count += len(b.ids)
		units += b.quantity
		metrics.RecordUsageSynced(b.metric, b.quantity)
	}
	return count, units, nil
}

// claim assigns a batch id per metric to records not yet in a batch.
func (t *Tracker) claim(ctx context.Context, h *tenancy.Handle) error {
	return h.InTx(ctx, func(tx *tenancy.Handle) error {
		var pending []Record
		err := tx.Select(ctx, &pending, "usage_records",
			tenancy.Where{"synced_at": nil, "batch_id": nil},
			tenancy.OrderBy("recorded_at", "id"),
			tenancy.Limit(syncBatch),
			tenancy.SkipLocked(),
		)
		if err != nil || len(pending) == 0 {
			return err
		}

		for _, b := range groupByMetric(pending) {
			ids := make([]interface{}, len(b.ids))
			for i, id := range b.ids {
				ids[i] = id
			}
			if _, err := tx.Update(ctx, "usage_records",
				tenancy.Values{"batch_id": t.newBatchID()},
				tenancy.Where{"id": tenancy.In(ids...), "batch_id": nil},
			); err != nil {
				return err
			}
		}
		return nil
	})
}

type bucket struct {
	batchID  string
	metric   string
	quantity int64
	ids      []string
}

func groupByMetric(records []Record) []bucket {
	return group(records, func(r Record) string { return r.Metric })
}

func groupByBatch(records []Record) []bucket {
	return group(records, func(r Record) string {
		if r.BatchID == nil {
			return ""
		}
		return *r.BatchID
	})
}

func group(records []Record, keyOf func(Record) string) []bucket {
	idx := map[string]int{}
	var out []bucket
	for _, r := range records {
		k := keyOf(r)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			b := bucket{metric: r.Metric}
			if r.BatchID != nil {
				b.batchID = *r.BatchID
			}
			out = append(out, b)
		}
		out[i].quantity += r.Quantity
		out[i].ids = append(out[i].ids, r.ID)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].metric != out[b].metric {
			return out[a].metric < out[b].metric
		}
		return out[a].batchID < out[b].batchID
	})
	return out
}

// idempotencyKey depends only on the batch, so re-reporting a batch after a
// failed stamp is deduplicated by the provider.
func idempotencyKey(batchID string) string {
	return "usage-" + batchID
}
