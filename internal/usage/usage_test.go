package usage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sqlTrack   = "INSERT INTO usage_records (metric, quantity, recorded_at, tenant_id) VALUES ($1, $2, $3, $4) RETURNING *"
	sqlMetered = "SELECT tenant_id, stripe_usage_item_id FROM tenant_subscriptions WHERE stripe_usage_item_id IS NOT NULL ORDER BY tenant_id"
	sqlPending = "SELECT * FROM usage_records WHERE tenant_id = $1 AND batch_id IS NULL AND synced_at IS NULL ORDER BY recorded_at, id LIMIT 1000 FOR UPDATE SKIP LOCKED"
	sqlClaimed = "SELECT * FROM usage_records WHERE tenant_id = $1 AND batch_id IS NOT NULL AND synced_at IS NULL ORDER BY recorded_at, id LIMIT 1000"
	sqlMarkRun = "UPDATE usage_records SET synced_at = $1 WHERE tenant_id = $2 AND batch_id = $3 AND synced_at IS NULL"
)

var (
	recordColumns = []string{"id", "tenant_id", "metric", "quantity", "recorded_at", "batch_id", "synced_at"}
	fixedNow      = time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)
)

func claimSQL(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+4)
	}
	return "UPDATE usage_records SET batch_id = $1 WHERE tenant_id = $2 AND batch_id IS NULL AND id IN (" + strings.Join(ph, ", ") + ")"
}

type recordingMeter struct {
	mu      sync.Mutex
	reports []Report
	err     error
}

func (m *recordingMeter) Report(_ context.Context, r Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

func setupTracker(t *testing.T, meter Meter) (*Tracker, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tr := NewTracker(tenancy.NewGateway(sqlx.NewDb(db, "sqlmock")), meter)
	tr.now = func() time.Time { return fixedNow }
	seq := 0
	tr.newBatchID = func() string {
		seq++
		return fmt.Sprintf("batch-%d", seq)
	}
	return tr, mock
}

func TestTrack(t *testing.T) {
	tr, mock := setupTracker(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta(sqlTrack)).
		WithArgs("check_in", 3, fixedNow, "t1").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow("r1", "t1", "check_in", 3, fixedNow, nil, nil))

	rec, err := tr.Track(context.Background(), "t1", "check_in", 3)
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.ID)
	assert.Nil(t, rec.SyncedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrack_Validation(t *testing.T) {
	tr, _ := setupTracker(t, nil)

	_, err := tr.Track(context.Background(), "t1", "Check In", 1)
	assert.ErrorIs(t, err, ErrInvalidMetric)

	_, err = tr.Track(context.Background(), "t1", "check_in", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = tr.Track(context.Background(), "", "check_in", 1)
	assert.ErrorIs(t, err, tenancy.ErrUnscopedAccess)
}

func TestSyncPending_AggregatesPerMetric(t *testing.T) {
	meter := &recordingMeter{}
	tr, mock := setupTracker(t, meter)

	mock.ExpectQuery(regexp.QuoteMeta(sqlMetered)).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "stripe_usage_item_id"}).AddRow("t1", "si_1"))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlPending)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("r1", "t1", "check_in", 2, fixedNow, nil, nil).
			AddRow("r2", "t1", "api_call", 10, fixedNow, nil, nil).
			AddRow("r3", "t1", "check_in", 5, fixedNow, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta(claimSQL(1))).
		WithArgs("batch-1", "t1", "r2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(claimSQL(2))).
		WithArgs("batch-2", "t1", "r1", "r3").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(sqlClaimed)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("r1", "t1", "check_in", 2, fixedNow, "batch-2", nil).
			AddRow("r2", "t1", "api_call", 10, fixedNow, "batch-1", nil).
			AddRow("r3", "t1", "check_in", 5, fixedNow, "batch-2", nil))
	mock.ExpectExec(regexp.QuoteMeta(sqlMarkRun)).
		WithArgs(fixedNow, "t1", "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(sqlMarkRun)).
		WithArgs(fixedNow, "t1", "batch-2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	res, err := tr.SyncPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, SyncResult{Tenants: 1, Records: 3, Units: 17}, res)
	require.Len(t, meter.reports, 2)
	assert.Equal(t, "api_call", meter.reports[0].Metric)
	assert.Equal(t, int64(7), meter.reports[1].Quantity)
	assert.Equal(t, "si_1", meter.reports[1].ItemID)
	assert.Equal(t, "usage-batch-2", meter.reports[1].IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// failingMeter fails the report for one metric only.
type failingMeter struct {
	recordingMeter
	failMetric string
}

func (m *failingMeter) Report(ctx context.Context, r Report) error {
	if r.Metric == m.failMetric {
		return errors.New("stripe unavailable")
	}
	return m.recordingMeter.Report(ctx, r)
}

func TestSyncPending_PartialFailureDoesNotReportTwice(t *testing.T) {
	meter := &failingMeter{failMetric: "check_in"}
	tr, mock := setupTracker(t, meter)

	// first run: api_call is reported and stamped, check_in fails
	mock.ExpectQuery(regexp.QuoteMeta(sqlMetered)).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "stripe_usage_item_id"}).AddRow("t1", "si_1"))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlPending)).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("r1", "t1", "api_call", 10, fixedNow, nil, nil).
			AddRow("r2", "t1", "check_in", 2, fixedNow, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta(claimSQL(1))).WithArgs("batch-1", "t1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(claimSQL(1))).WithArgs("batch-2", "t1", "r2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(sqlClaimed)).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("r1", "t1", "api_call", 10, fixedNow, "batch-1", nil).
			AddRow("r2", "t1", "check_in", 2, fixedNow, "batch-2", nil))
	mock.ExpectExec(regexp.QuoteMeta(sqlMarkRun)).WithArgs(fixedNow, "t1", "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := tr.SyncPending(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant t1")
	assert.Equal(t, SyncResult{Tenants: 1, Records: 1, Units: 10}, res)
	require.Len(t, meter.reports, 1)

	// a new api_call record arrives; the retry reports only it, under a new batch
	meter.failMetric = ""
	mock.ExpectQuery(regexp.QuoteMeta(sqlMetered)).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "stripe_usage_item_id"}).AddRow("t1", "si_1"))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlPending)).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("r3", "t1", "api_call", 4, fixedNow, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta(claimSQL(1))).WithArgs("batch-3", "t1", "r3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(sqlClaimed)).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("r2", "t1", "check_in", 2, fixedNow, "batch-2", nil).
			AddRow("r3", "t1", "api_call", 4, fixedNow, "batch-3", nil))
	mock.ExpectExec(regexp.QuoteMeta(sqlMarkRun)).WithArgs(fixedNow, "t1", "batch-3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(sqlMarkRun)).WithArgs(fixedNow, "t1", "batch-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err = tr.SyncPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, SyncResult{Tenants: 1, Records: 2, Units: 6}, res)
	require.Len(t, meter.reports, 3)
	assert.Equal(t, int64(10), meter.reports[0].Quantity)
	assert.Equal(t, Report{TenantID: "t1", ItemID: "si_1", Metric: "api_call", Quantity: 4, Timestamp: fixedNow, IdempotencyKey: "usage-batch-3"}, meter.reports[1])
	assert.Equal(t, "usage-batch-2", meter.reports[2].IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncPending_MeterFailureKeepsRecordsPending(t *testing.T) {
	meter := &recordingMeter{err: errors.New("stripe unavailable")}
	tr, mock := setupTracker(t, meter)

	mock.ExpectQuery(regexp.QuoteMeta(sqlMetered)).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "stripe_usage_item_id"}).AddRow("t1", "si_1").AddRow("t2", "si_2"))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlPending)).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow("r1", "t1", "check_in", 2, fixedNow, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta(claimSQL(1))).WithArgs("batch-1", "t1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(sqlClaimed)).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow("r1", "t1", "check_in", 2, fixedNow, "batch-1", nil))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlPending)).WithArgs("t2").
		WillReturnRows(sqlmock.NewRows(recordColumns))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(sqlClaimed)).WithArgs("t2").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	res, err := tr.SyncPending(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant t1")
	assert.Equal(t, SyncResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyKeyFollowsBatch(t *testing.T) {
	assert.Equal(t, idempotencyKey("b1"), idempotencyKey("b1"))
	assert.NotEqual(t, idempotencyKey("b1"), idempotencyKey("b2"))
}
