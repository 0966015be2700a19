package filter

import (
	"fmt"
	"strings"
)

// SQLDialect renders attribute comparisons for one database engine.
type SQLDialect interface {
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	// CompareAttr returns a boolean SQL expression comparing the attribute
	// at path inside column with the bound value, false when the attribute
	// is missing or has another type, and the argument to bind.
	CompareAttr(column string, path []string, op Op, value any, placeholder string) (string, any)
}

// SQLCondition is a WHERE clause fragment with its positional parameters.
type SQLCondition struct {
	Clause string
	Params []any
}

// ToSQL translates e into a condition for d. Parameter numbering starts
// after argOffset existing parameters. A nil e yields an empty condition.
func ToSQL(e Expr, d SQLDialect, column string, argOffset int) (SQLCondition, error) {
	if e == nil {
		return SQLCondition{}, nil
	}
	if err := Validate(e); err != nil {
		return SQLCondition{}, err
	}
	t := &translator{d: d, column: column, n: argOffset}
	clause := t.expr(e)
	return SQLCondition{Clause: clause, Params: t.params}, nil
}

type translator struct {
	d      SQLDialect
	column string
	n      int
	params []any
}

func (t *translator) expr(e Expr) string {
	switch x := e.(type) {
	case Compare:
		t.n++
		clause, arg := t.d.CompareAttr(t.column, strings.Split(x.Field, "."), x.Op, normValue(x.Value), t.d.Placeholder(t.n))
		t.params = append(t.params, arg)
		return clause
	case And:
		return t.list(" AND ", x.Exprs)
	case Or:
		return t.list(" OR ", x.Exprs)
	case Not:
		return fmt.Sprintf("NOT (%s)", t.expr(x.Expr))
	}
	return ""
}

func (t *translator) list(sep string, exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = t.expr(e)
	}
	return "(" + strings.Join(parts, sep) + ")"
}
