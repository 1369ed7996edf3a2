package tenancy

import (
	"errors"
	"regexp"
)

// TenantColumn is the discriminator column carried by every tenant-owned table.
const TenantColumn = "tenant_id"

var (
	ErrUnscopedAccess     = errors.New("unscoped access attempt")
	ErrTenantReassignment = errors.New("tenant_id cannot be reassigned")
	ErrInvalidIdentifier  = errors.New("invalid sql identifier")
	ErrUnboundedWrite     = errors.New("update or delete without filter")
	ErrMismatchedColumns  = errors.New("bulk insert rows have different columns")
)

// globalTables bypass tenant scoping. Everything else is tenant-owned,
// including tables this list does not know about.
var globalTables = map[string]struct{}{
	"users":                {},
	"accounts":             {},
	"sessions":             {},
	"plans":                {},
	"tenants":              {},
	"tenant_subscriptions": {},
	"financial_snapshots":  {},
	"webhook_events":       {},
}

// IsGlobal reports whether table is in the global exclusion set.
func IsGlobal(table string) bool {
	_, ok := globalTables[table]
	return ok
}

var (
	identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	orderRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*( (ASC|DESC))?$`)

	// A selected or returned column: *, a bare column, or a single-column
	// aggregate, optionally aliased. Subqueries never match.
	columnRe = regexp.MustCompile(`^(\*|[a-z_][a-z0-9_]*|COUNT\(\*\)|(COUNT|SUM|MIN|MAX|AVG)\([a-z_][a-z0-9_]*\)|COALESCE\((COUNT|SUM|MIN|MAX)\([a-z_][a-z0-9_]*\), 0\))( AS [a-z_][a-z0-9_]*)?$`)
)

// Where is an AND-joined filter. A plain value means equality, nil means
// IS NULL, and a Cond selects another operator.
type Where map[string]interface{}

// Values is a column/value set for inserts and updates. An Expr value is
// rendered in place (atomic increments, NOW()).
type Values map[string]interface{}

// Cond is a non-equality predicate on a single column.
type Cond struct {
	op   string
	args []interface{}
}

func Gte(v interface{}) Cond { return Cond{op: ">=", args: []interface{}{v}} }
func Gt(v interface{}) Cond  { return Cond{op: ">", args: []interface{}{v}} }
func Lte(v interface{}) Cond { return Cond{op: "<=", args: []interface{}{v}} }
func Lt(v interface{}) Cond  { return Cond{op: "<", args: []interface{}{v}} }
func Ne(v interface{}) Cond  { return Cond{op: "<>", args: []interface{}{v}} }
func IsNull() Cond           { return Cond{op: "IS NULL"} }
func NotNull() Cond          { return Cond{op: "IS NOT NULL"} }

// In matches any of vals. An empty list matches nothing.
func In(vals ...interface{}) Cond { return Cond{op: "IN", args: vals} }

// Range matches from <= col < to.
func Range(from, to interface{}) Cond { return Cond{op: "RANGE", args: []interface{}{from, to}} }

// Expr is a computed column value. Only Inc, Dec and Now build one, so an
// Expr can reference the row being written and nothing else.
type Expr struct {
	op  string
	col string
	arg interface{}
}

// Inc writes col + delta.
func Inc(col string, delta interface{}) Expr {
	return Expr{op: "+", col: col, arg: delta}
}

// Dec writes col - delta.
func Dec(col string, delta interface{}) Expr {
	return Expr{op: "-", col: col, arg: delta}
}

// Now writes the database clock.
func Now() Expr {
	return Expr{op: "now"}
}
