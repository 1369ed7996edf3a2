package tenancy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/metrics"
)

// Gateway hands out tenant-bound handles over a single connection pool.
type Gateway struct {
	db *sqlx.DB
}

func NewGateway(db *sqlx.DB) *Gateway {
	return &Gateway{db: db}
}

// Scoped returns a handle bound to tenantID. A blank tenant fails closed.
func (g *Gateway) Scoped(tenantID string) (*Handle, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrUnscopedAccess
	}
	return &Handle{tenantID: tenantID, db: g.db, ext: g.db}, nil
}

// Global returns a handle that may only touch the global tables.
func (g *Gateway) Global() *Handle {
	return &Handle{db: g.db, ext: g.db}
}

// Handle is the only path to tenant-owned rows. Every read, write and delete
// on a tenant-owned table carries the handle's tenant id.
type Handle struct {
	tenantID string
	db       *sqlx.DB
	ext      sqlx.ExtContext
}

func (h *Handle) TenantID() string {
	return h.tenantID
}

func (h *Handle) IsGlobal() bool {
	return h.tenantID == ""
}

// WithTenant returns a handle scoped to tenantID that shares h's executor, so
// a global transaction can also write tenant-owned rows.
func (h *Handle) WithTenant(tenantID string) (*Handle, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrUnscopedAccess
	}
	return &Handle{tenantID: tenantID, db: h.db, ext: h.ext}, nil
}

// InTx runs fn with a handle of the same scope bound to one transaction.
// Nested calls join the outer transaction.
func (h *Handle) InTx(ctx context.Context, fn func(tx *Handle) error) error {
	if h.db == nil {
		return fn(h)
	}

	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Handle{tenantID: h.tenantID, ext: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get scans a single row into dest. sql.ErrNoRows is returned unwrapped.
func (h *Handle) Get(ctx context.Context, dest interface{}, table string, where Where, opts ...Option) error {
	q, args, err := h.buildSelect("find", table, where, opts)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, h.ext, dest, q, args...)
}

func (h *Handle) Select(ctx context.Context, dest interface{}, table string, where Where, opts ...Option) error {
	q, args, err := h.buildSelect("find", table, where, opts)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, h.ext, dest, q, args...)
}

func (h *Handle) Count(ctx context.Context, table string, where Where) (int64, error) {
	q, args, err := h.buildSelect("count", table, where, []Option{Columns("COUNT(*)")})
	if err != nil {
		return 0, err
	}
	var n int64
	if err := sqlx.GetContext(ctx, h.ext, &n, q, args...); err != nil {
		return 0, err
	}
	return n, nil
}

// Aggregate scans a single aggregate expression, e.g.
// "COALESCE(SUM(amount_cents), 0)", into dest.
func (h *Handle) Aggregate(ctx context.Context, dest interface{}, table, expr string, where Where) error {
	q, args, err := h.buildSelect("aggregate", table, where, []Option{Columns(expr)})
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, h.ext, dest, q, args...)
}

// Update applies set to every matching row and returns the affected count.
func (h *Handle) Update(ctx context.Context, table string, set Values, where Where) (int64, error) {
	q, args, err := h.buildUpdate(table, set, where, nil)
	if err != nil {
		return 0, err
	}
	return h.exec(ctx, q, args)
}

// UpdateReturning updates a single row and scans the RETURNING columns into
// dest. No matching row yields sql.ErrNoRows.
func (h *Handle) UpdateReturning(ctx context.Context, dest interface{}, table string, set Values, where Where, opts ...Option) error {
	q, args, err := h.buildUpdate(table, set, where, withDefaultReturning(opts))
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, h.ext, dest, q, args...)
}

func (h *Handle) Delete(ctx context.Context, table string, where Where) (int64, error) {
	if err := validIdent(table); err != nil {
		return 0, err
	}
	scoped, err := h.scopeFilter("delete", table, where)
	if err != nil {
		return 0, err
	}
	if len(scoped) == 0 {
		return 0, ErrUnboundedWrite
	}
	clause, args, err := whereClause(scoped)
	if err != nil {
		return 0, err
	}
	return h.exec(ctx, "DELETE FROM "+table+clause, args)
}

// Insert writes one row. The affected count is 0 when an ON CONFLICT DO
// NOTHING option suppressed it.
func (h *Handle) Insert(ctx context.Context, table string, values Values, opts ...Option) (int64, error) {
	q, args, err := h.buildInsert(table, []Values{values}, opts)
	if err != nil {
		return 0, err
	}
	return h.exec(ctx, q, args)
}

func (h *Handle) InsertReturning(ctx context.Context, dest interface{}, table string, values Values, opts ...Option) error {
	q, args, err := h.buildInsert(table, []Values{values}, withDefaultReturning(opts))
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, h.ext, dest, q, args...)
}

// InsertMany writes rows in one statement. Every row must carry the same
// columns.
func (h *Handle) InsertMany(ctx context.Context, table string, rows []Values, opts ...Option) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args, err := h.buildInsert(table, rows, opts)
	if err != nil {
		return 0, err
	}
	return h.exec(ctx, q, args)
}

func (h *Handle) exec(ctx context.Context, q string, args []interface{}) (int64, error) {
	res, err := h.ext.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// scopeFilter returns where with the tenant predicate forced in, or where
// untouched for a global table.
func (h *Handle) scopeFilter(op, table string, where Where) (Where, error) {
	out := make(Where, len(where)+1)
	for k, v := range where {
		out[k] = v
	}
	if IsGlobal(table) {
		return out, nil
	}
	if h.tenantID == "" {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnscopedAccess, op, table)
	}
	if v, ok := out[TenantColumn]; ok && !sameTenant(v, h.tenantID) {
		h.reportConflict(op, table, v)
	}
	out[TenantColumn] = h.tenantID
	return out, nil
}

func (h *Handle) scopeValues(table string, values Values) (Values, error) {
	out := make(Values, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	if IsGlobal(table) {
		return out, nil
	}
	if h.tenantID == "" {
		return nil, fmt.Errorf("%w: create on %s", ErrUnscopedAccess, table)
	}
	if v, ok := out[TenantColumn]; ok && !sameTenant(v, h.tenantID) {
		h.reportConflict("create", table, v)
	}
	out[TenantColumn] = h.tenantID
	return out, nil
}

func (h *Handle) reportConflict(op, table string, requested interface{}) {
	metrics.RecordTenantScopeConflict(table)
	logger.Security("tenant_scope_conflict", map[string]interface{}{
		"operation":        op,
		"table":            table,
		"tenant_id":        h.tenantID,
		"requested_tenant": fmt.Sprint(requested),
	})
}

func sameTenant(v interface{}, tenantID string) bool {
	if _, ok := v.(Cond); ok {
		return false
	}
	return fmt.Sprint(v) == tenantID
}
