package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Kind is the declared type of a filterable attribute.
type Kind int

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	// KindTimestamp attributes hold RFC 3339 strings kept in
	// TimestampLayout, so their text order is their time order.
	KindTimestamp
)

// TimestampLayout is the stored form of timestamp attributes: UTC with a
// fixed nine digit fraction.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// CanonicalTimestamp parses an RFC 3339 timestamp and renders it in
// TimestampLayout.
func CanonicalTimestamp(s string) (string, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(TimestampLayout), nil
}

// Schema lists the top-level attributes a kind exposes to text filters.
type Schema map[string]Kind

// Declarations returns the AIP declarations for s.
func (s Schema) Declarations() (*filtering.Declarations, error) {
	opts := []filtering.DeclarationOption{filtering.DeclareStandardFunctions()}
	for name, kind := range s {
		if !ValidField(name) || strings.Contains(name, ".") {
			return nil, fmt.Errorf("%w: field %q cannot be declared", common.ErrInvalidFilter, name)
		}
		opts = append(opts, filtering.DeclareIdent(name, kind.aipType()))
	}
	return filtering.NewDeclarations(opts...)
}

func (k Kind) aipType() *expr.Type {
	switch k {
	case KindInt:
		return filtering.TypeInt
	case KindFloat:
		return filtering.TypeFloat
	case KindBool:
		return filtering.TypeBool
	default:
		return filtering.TypeString
	}
}

// Parse turns an AIP-160 filter string into an Expr, type checking it
// against s. Blank input yields a nil Expr.
func Parse(text string, s Schema) (Expr, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	decls, err := s.Declarations()
	if err != nil {
		return nil, err
	}

	f, err := filtering.ParseFilterString(text, decls)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidFilter, err)
	}
	if f.CheckedExpr == nil {
		return nil, nil
	}

	e, err := translateExpr(f.CheckedExpr.GetExpr())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidFilter, err)
	}
	if e, err = s.canonicalTimes(e); err != nil {
		return nil, err
	}
	return e, Validate(e)
}

// canonicalTimes rewrites literals compared with timestamp fields into
// TimestampLayout.
func (s Schema) canonicalTimes(e Expr) (Expr, error) {
	switch x := e.(type) {
	case Compare:
		v, ok := x.Value.(string)
		if !ok || s[x.Field] != KindTimestamp {
			return x, nil
		}
		c, err := CanonicalTimestamp(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", common.ErrInvalidFilter, x.Field, err)
		}
		x.Value = c
		return x, nil
	case And:
		xs, err := s.canonicalAll(x.Exprs)
		return And{Exprs: xs}, err
	case Or:
		xs, err := s.canonicalAll(x.Exprs)
		return Or{Exprs: xs}, err
	case Not:
		inner, err := s.canonicalTimes(x.Expr)
		return Not{Expr: inner}, err
	}
	return e, nil
}

func (s Schema) canonicalAll(xs []Expr) ([]Expr, error) {
	out := make([]Expr, len(xs))
	for i, x := range xs {
		c, err := s.canonicalTimes(x)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func translateExpr(e *expr.Expr) (Expr, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func translateCall(call *expr.Expr_Call) (Expr, error) {
	switch call.Function {
	case "_&&_", "AND", "FUZZY":
		return translateBoolean(call.Args, func(xs []Expr) Expr { return And{Exprs: xs} })
	case "_||_", "OR":
		return translateBoolean(call.Args, func(xs []Expr) Expr { return Or{Exprs: xs} })
	case "_!_", "NOT":
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := translateExpr(call.Args[0])
		if err != nil {
			return nil, err
		}
		return Not{Expr: inner}, nil
	case "_==_", "=":
		return translateComparison(call.Args, OpEq)
	case "_!=_", "!=":
		return translateComparison(call.Args, OpNe)
	case "_<_", "<":
		return translateComparison(call.Args, OpLt)
	case "_<=_", "<=":
		return translateComparison(call.Args, OpLe)
	case "_>_", ">":
		return translateComparison(call.Args, OpGt)
	case "_>=_", ">=":
		return translateComparison(call.Args, OpGe)
	default:
		return nil, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateBoolean(args []*expr.Expr, build func([]Expr) Expr) (Expr, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("boolean operator requires 2 arguments")
	}
	out := make([]Expr, 0, len(args))
	for _, a := range args {
		sub, err := translateExpr(a)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return build(out), nil
}

func translateComparison(args []*expr.Expr, op Op) (Expr, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("comparison requires 2 arguments")
	}

	if field, err := extractFieldName(args[0]); err == nil {
		value, err := extractValue(args[1])
		if err != nil {
			return nil, err
		}
		return Compare{Field: field, Op: op, Value: normValue(value)}, nil
	}

	// constant on the left: `5 < amount`
	field, err := extractFieldName(args[1])
	if err != nil {
		return nil, err
	}
	value, err := extractValue(args[0])
	if err != nil {
		return nil, err
	}
	return Compare{Field: field, Op: op.flip(), Value: normValue(value)}, nil
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		return extractConstValue(kind.ConstExpr)
	default:
		return nil, fmt.Errorf("expected constant, got %T", kind)
	}
}

func extractConstValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}

	switch kind := c.ConstantKind.(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return int64(kind.Uint64Value), nil
	case *expr.Constant_DoubleValue:
		return kind.DoubleValue, nil
	case *expr.Constant_BoolValue:
		return kind.BoolValue, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}
