package filter

import (
	"cmp"
	"strings"

	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/ohler55/ojg/jp"
)

// Match evaluates e against attrs. e must have passed Validate.
func Match(e Expr, attrs models.Attributes) bool {
	switch x := e.(type) {
	case nil:
		return true
	case Compare:
		v, ok := Lookup(attrs, x.Field)
		if !ok {
			return false
		}
		return compare(v, x.Op, normValue(x.Value))
	case And:
		for _, sub := range x.Exprs {
			if !Match(sub, attrs) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range x.Exprs {
			if Match(sub, attrs) {
				return true
			}
		}
		return false
	case Not:
		return !Match(x.Expr, attrs)
	}
	return false
}

// Lookup resolves a dotted attribute path. JSON null counts as missing.
func Lookup(attrs models.Attributes, field string) (any, bool) {
	if attrs == nil {
		return nil, false
	}
	if !strings.Contains(field, ".") {
		v, ok := attrs[field]
		return v, ok && v != nil
	}
	x, err := jp.ParseString("$." + field)
	if err != nil {
		return nil, false
	}
	got := x.Get(map[string]any(attrs))
	if len(got) == 0 || got[0] == nil {
		return nil, false
	}
	return got[0], true
}

func compare(left any, op Op, right any) bool {
	c, ok := Compare3(left, right)
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// Compare3 orders two attribute values of the same type family (numbers,
// strings, booleans). ok is false when the types are not comparable.
func Compare3(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y), true
		case float64:
			return cmp.Compare(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, float64(y)), true
		case float64:
			return cmp.Compare(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmp.Compare(boolRank(x), boolRank(y)), true
		}
	}
	return 0, false
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Rank places values of different types in a fixed order so that sorting
// by an attribute is total: missing < bool < number < string < other.
func Rank(v any, present bool) int {
	if !present || v == nil {
		return 0
	}
	switch v.(type) {
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	}
	return 4
}
