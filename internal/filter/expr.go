// Package filter provides the predicate language used to scan records: a
// small expression tree over attribute paths, an AIP-160 text parser, an
// in-memory evaluator and a SQL translator.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/homesync/internal/common"
	"golang.org/x/text/unicode/norm"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

func (o Op) valid() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// flip mirrors o so that `v op field` can be rewritten as `field op' v`.
func (o Op) flip() Op {
	switch o {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return o
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Expr is a predicate over a record's attributes.
type Expr interface {
	isExpr()
}

// Compare tests the attribute at Field (a dotted path) against Value. A
// missing attribute or a value of a different type never matches.
type Compare struct {
	Field string
	Op    Op
	Value any
}

type And struct{ Exprs []Expr }

type Or struct{ Exprs []Expr }

type Not struct{ Expr Expr }

func (Compare) isExpr() {}
func (And) isExpr()     {}
func (Or) isExpr()      {}
func (Not) isExpr()     {}

func Eq(field string, v any) Compare { return Compare{Field: field, Op: OpEq, Value: normValue(v)} }
func Ne(field string, v any) Compare { return Compare{Field: field, Op: OpNe, Value: normValue(v)} }
func Lt(field string, v any) Compare { return Compare{Field: field, Op: OpLt, Value: normValue(v)} }
func Le(field string, v any) Compare { return Compare{Field: field, Op: OpLe, Value: normValue(v)} }
func Gt(field string, v any) Compare { return Compare{Field: field, Op: OpGt, Value: normValue(v)} }
func Ge(field string, v any) Compare { return Compare{Field: field, Op: OpGe, Value: normValue(v)} }

func AllOf(exprs ...Expr) And { return And{Exprs: exprs} }
func AnyOf(exprs ...Expr) Or  { return Or{Exprs: exprs} }
func Negate(e Expr) Not       { return Not{Expr: e} }

func normValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case string:
		return norm.NFC.String(x)
	}
	return v
}

// ValidField reports whether name is a usable attribute path.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// Validate checks field paths, operators and value types of the whole tree.
// A nil expression is valid and matches everything.
func Validate(e Expr) error {
	if e == nil {
		return nil
	}
	switch x := e.(type) {
	case Compare:
		if !ValidField(x.Field) {
			return fmt.Errorf("%w: bad field path %q", common.ErrInvalidFilter, x.Field)
		}
		if !x.Op.valid() {
			return fmt.Errorf("%w: unknown operator %q", common.ErrInvalidFilter, x.Op)
		}
		switch normValue(x.Value).(type) {
		case int64, float64, string, bool:
		default:
			return fmt.Errorf("%w: unsupported value %T for %s", common.ErrInvalidFilter, x.Value, x.Field)
		}
	case And:
		return validateAll("AND", x.Exprs)
	case Or:
		return validateAll("OR", x.Exprs)
	case Not:
		if x.Expr == nil {
			return fmt.Errorf("%w: NOT without operand", common.ErrInvalidFilter)
		}
		return Validate(x.Expr)
	default:
		return fmt.Errorf("%w: unsupported expression %T", common.ErrInvalidFilter, e)
	}
	return nil
}

func validateAll(name string, exprs []Expr) error {
	if len(exprs) == 0 {
		return fmt.Errorf("%w: %s without operands", common.ErrInvalidFilter, name)
	}
	for _, e := range exprs {
		if e == nil {
			return fmt.Errorf("%w: nil operand in %s", common.ErrInvalidFilter, name)
		}
		if err := Validate(e); err != nil {
			return err
		}
	}
	return nil
}

// String renders e in AIP-160 syntax, mostly for logs.
func String(e Expr) string {
	switch x := e.(type) {
	case nil:
		return ""
	case Compare:
		if s, ok := x.Value.(string); ok {
			return fmt.Sprintf("%s %s %q", x.Field, x.Op, s)
		}
		return fmt.Sprintf("%s %s %v", x.Field, x.Op, x.Value)
	case And:
		return join(" AND ", x.Exprs)
	case Or:
		return join(" OR ", x.Exprs)
	case Not:
		return "NOT " + String(x.Expr)
	}
	return fmt.Sprintf("%v", e)
}

func join(sep string, exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = String(e)
	}
	return "(" + strings.Join(parts, sep) + ")"
}
