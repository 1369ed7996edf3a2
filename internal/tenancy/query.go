package tenancy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

type Option func(*options)

type options struct {
	columns       []string
	groupBy       []string
	orderBy       []string
	limit         int
	offset        int
	forUpdate     bool
	skipLocked    bool
	conflict      string
	conflictCols  []string
	conflictWrite []string
	returning     []string
}

// Columns replaces the default "*" select list. Aggregate expressions are
// accepted.
func Columns(cols ...string) Option {
	return func(o *options) { o.columns = cols }
}

func GroupBy(cols ...string) Option {
	return func(o *options) { o.groupBy = cols }
}

// OrderBy takes terms such as "created_at" or "created_at DESC".
func OrderBy(terms ...string) Option {
	return func(o *options) { o.orderBy = append(o.orderBy, terms...) }
}

func Limit(n int) Option {
	return func(o *options) { o.limit = n }
}

func Offset(n int) Option {
	return func(o *options) { o.offset = n }
}

func ForUpdate() Option {
	return func(o *options) { o.forUpdate = true }
}

// SkipLocked implies ForUpdate.
func SkipLocked() Option {
	return func(o *options) {
		o.forUpdate = true
		o.skipLocked = true
	}
}

func OnConflictDoNothing(target ...string) Option {
	return func(o *options) {
		o.conflict = "nothing"
		o.conflictCols = target
	}
}

// OnConflictUpdate overwrites cols from the excluded row when target
// conflicts. On tenant-owned tables the update is restricted to rows of the
// same tenant.
func OnConflictUpdate(target []string, cols ...string) Option {
	return func(o *options) {
		o.conflict = "update"
		o.conflictCols = target
		o.conflictWrite = cols
	}
}

func Returning(cols ...string) Option {
	return func(o *options) { o.returning = cols }
}

func withDefaultReturning(opts []Option) []Option {
	out := make([]Option, 0, len(opts)+1)
	out = append(out, opts...)
	return append(out, func(o *options) {
		if len(o.returning) == 0 {
			o.returning = []string{"*"}
		}
	})
}

func collect(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func validIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func validIdents(names []string) error {
	for _, n := range names {
		if err := validIdent(n); err != nil {
			return err
		}
	}
	return nil
}

func validColumns(cols []string) error {
	for _, c := range cols {
		if !columnRe.MatchString(c) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, c)
		}
	}
	return nil
}

func (e Expr) render() (string, []interface{}, error) {
	switch e.op {
	case "now":
		return "NOW()", nil, nil
	case "+", "-":
		if err := validIdent(e.col); err != nil {
			return "", nil, err
		}
		return e.col + " " + e.op + " ?", []interface{}{e.arg}, nil
	}
	return "", nil, fmt.Errorf("%w: empty expression", ErrInvalidIdentifier)
}

func (h *Handle) buildSelect(op, table string, where Where, opts []Option) (string, []interface{}, error) {
	if err := validIdent(table); err != nil {
		return "", nil, err
	}
	o := collect(opts)
	scoped, err := h.scopeFilter(op, table, where)
	if err != nil {
		return "", nil, err
	}

	cols := "*"
	if len(o.columns) > 0 {
		if err := validColumns(o.columns); err != nil {
			return "", nil, err
		}
		cols = strings.Join(o.columns, ", ")
	}

	clause, args, err := whereClause(scoped)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + cols + " FROM " + table + clause)
	if len(o.groupBy) > 0 {
		if err := validIdents(o.groupBy); err != nil {
			return "", nil, err
		}
		sb.WriteString(" GROUP BY " + strings.Join(o.groupBy, ", "))
	}
	if len(o.orderBy) > 0 {
		for _, term := range o.orderBy {
			if !orderRe.MatchString(term) {
				return "", nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, term)
			}
		}
		sb.WriteString(" ORDER BY " + strings.Join(o.orderBy, ", "))
	}
	if o.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", o.limit)
	}
	if o.offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", o.offset)
	}
	if o.forUpdate {
		sb.WriteString(" FOR UPDATE")
		if o.skipLocked {
			sb.WriteString(" SKIP LOCKED")
		}
	}
	return sqlx.Rebind(sqlx.DOLLAR, sb.String()), args, nil
}

func (h *Handle) buildUpdate(table string, set Values, where Where, opts []Option) (string, []interface{}, error) {
	if err := validIdent(table); err != nil {
		return "", nil, err
	}
	if len(set) == 0 {
		return "", nil, errors.New("update with empty set")
	}
	scoped, err := h.scopeFilter("update", table, where)
	if err != nil {
		return "", nil, err
	}
	if _, ok := set[TenantColumn]; ok && !IsGlobal(table) {
		return "", nil, fmt.Errorf("%w: %s", ErrTenantReassignment, table)
	}
	if len(scoped) == 0 {
		return "", nil, ErrUnboundedWrite
	}

	cols := sortedKeys(set)
	if err := validIdents(cols); err != nil {
		return "", nil, err
	}
	parts := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols)+len(scoped))
	for _, c := range cols {
		if e, ok := set[c].(Expr); ok {
			frag, a, err := e.render()
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, c+" = "+frag)
			args = append(args, a...)
			continue
		}
		parts = append(parts, c+" = ?")
		args = append(args, set[c])
	}

	clause, whereArgs, err := whereClause(scoped)
	if err != nil {
		return "", nil, err
	}
	args = append(args, whereArgs...)

	q := "UPDATE " + table + " SET " + strings.Join(parts, ", ") + clause
	ret, err := returningClause(collect(opts))
	if err != nil {
		return "", nil, err
	}
	return sqlx.Rebind(sqlx.DOLLAR, q+ret), args, nil
}

func (h *Handle) buildInsert(table string, rows []Values, opts []Option) (string, []interface{}, error) {
	if err := validIdent(table); err != nil {
		return "", nil, err
	}
	o := collect(opts)

	scopedRows := make([]Values, len(rows))
	for i, r := range rows {
		s, err := h.scopeValues(table, r)
		if err != nil {
			return "", nil, err
		}
		scopedRows[i] = s
	}

	cols := sortedKeys(scopedRows[0])
	if err := validIdents(cols); err != nil {
		return "", nil, err
	}

	var args []interface{}
	tuples := make([]string, 0, len(scopedRows))
	for _, r := range scopedRows {
		if len(r) != len(cols) {
			return "", nil, ErrMismatchedColumns
		}
		ph := make([]string, len(cols))
		for i, c := range cols {
			v, ok := r[c]
			if !ok {
				return "", nil, ErrMismatchedColumns
			}
			if e, isExpr := v.(Expr); isExpr {
				frag, a, err := e.render()
				if err != nil {
					return "", nil, err
				}
				ph[i] = frag
				args = append(args, a...)
				continue
			}
			ph[i] = "?"
			args = append(args, v)
		}
		tuples = append(tuples, "("+strings.Join(ph, ", ")+")")
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES " + strings.Join(tuples, ", "))

	switch o.conflict {
	case "nothing":
		sb.WriteString(" ON CONFLICT")
		if len(o.conflictCols) > 0 {
			if err := validIdents(o.conflictCols); err != nil {
				return "", nil, err
			}
			sb.WriteString(" (" + strings.Join(o.conflictCols, ", ") + ")")
		}
		sb.WriteString(" DO NOTHING")
	case "update":
		if len(o.conflictCols) == 0 || len(o.conflictWrite) == 0 {
			return "", nil, errors.New("on conflict update needs target and columns")
		}
		if err := validIdents(o.conflictCols); err != nil {
			return "", nil, err
		}
		if err := validIdents(o.conflictWrite); err != nil {
			return "", nil, err
		}
		sets := make([]string, len(o.conflictWrite))
		for i, c := range o.conflictWrite {
			sets[i] = c + " = EXCLUDED." + c
		}
		sb.WriteString(" ON CONFLICT (" + strings.Join(o.conflictCols, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", "))
		if !IsGlobal(table) {
			sb.WriteString(" WHERE " + table + "." + TenantColumn + " = EXCLUDED." + TenantColumn)
		}
	}

	ret, err := returningClause(o)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(ret)
	return sqlx.Rebind(sqlx.DOLLAR, sb.String()), args, nil
}

func returningClause(o *options) (string, error) {
	if len(o.returning) == 0 {
		return "", nil
	}
	if err := validColumns(o.returning); err != nil {
		return "", err
	}
	return " RETURNING " + strings.Join(o.returning, ", "), nil
}

// whereClause renders an AND-joined predicate with ? placeholders. The tenant
// column always comes first, the rest in column order.
func whereClause(where Where) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		if k != TenantColumn {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := where[TenantColumn]; ok {
		keys = append([]string{TenantColumn}, keys...)
	}

	parts := make([]string, 0, len(keys))
	var args []interface{}
	for _, k := range keys {
		if err := validIdent(k); err != nil {
			return "", nil, err
		}
		switch v := where[k].(type) {
		case nil:
			parts = append(parts, k+" IS NULL")
		case Cond:
			p, a := v.render(k)
			parts = append(parts, p)
			args = append(args, a...)
		case Expr:
			frag, a, err := v.render()
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, k+" = "+frag)
			args = append(args, a...)
		default:
			parts = append(parts, k+" = ?")
			args = append(args, v)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func (c Cond) render(col string) (string, []interface{}) {
	switch c.op {
	case "IS NULL", "IS NOT NULL":
		return col + " " + c.op, nil
	case "IN":
		if len(c.args) == 0 {
			return "1 = 0", nil
		}
		ph := strings.TrimSuffix(strings.Repeat("?, ", len(c.args)), ", ")
		return col + " IN (" + ph + ")", c.args
	case "RANGE":
		return col + " >= ? AND " + col + " < ?", c.args
	default:
		return col + " " + c.op + " ?", c.args
	}
}

func sortedKeys[M ~map[string]interface{}](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
