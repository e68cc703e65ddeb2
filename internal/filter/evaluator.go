package filter

import (
	"fmt"
	"strconv"
	"strings"
)

func (l *Literal) Evaluate(Context) (interface{}, error) {
	return l.Value, nil
}

func (i *Ident) Evaluate(ctx Context) (interface{}, error) {
	return ctx[i.Name], nil
}

func (f *Field) Evaluate(ctx Context) (interface{}, error) {
	obj, err := f.Object.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	switch m := obj.(type) {
	case map[string]interface{}:
		return m[f.Name], nil
	case map[string]string:
		return m[f.Name], nil
	case Context:
		return m[f.Name], nil
	default:
		// Reaching into a scalar or missing object yields null.
		return nil, nil
	}
}

func (b *Binary) Evaluate(ctx Context) (interface{}, error) {
	left, err := b.Left.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	right, err := b.Right.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case OpEqual:
		return equal(left, right), nil
	case OpNotEqual:
		return !equal(left, right), nil
	case OpGreaterThan:
		return compare(left, right) > 0, nil
	case OpLessThan:
		return compare(left, right) < 0, nil
	case OpGreaterOrEqual:
		return compare(left, right) >= 0, nil
	case OpLessOrEqual:
		return compare(left, right) <= 0, nil
	case OpContains:
		return strings.Contains(stringify(left), stringify(right)), nil
	case OpAnd:
		return toBool(left) && toBool(right), nil
	case OpOr:
		return toBool(left) || toBool(right), nil
	default:
		return nil, fmt.Errorf("unknown operator %q", b.Op)
	}
}

// asNumber widens any numeric value, including numeric strings such as
// wire offsets, to float64.
func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func equal(a, b interface{}) bool {
	if fa, ok := asNumber(a); ok {
		if fb, ok := asNumber(b); ok {
			return fa == fb
		}
	}
	return stringify(a) == stringify(b)
}

// compare orders numerically when both sides are numbers, so that
// `offset > 9` matches offset 10. Mixed types fall back to string order.
func compare(a, b interface{}) int {
	if fa, ok := asNumber(a); ok {
		if fb, ok := asNumber(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != "" && b != "false" && b != "0"
	default:
		if f, ok := asNumber(v); ok {
			return f != 0
		}
		return true
	}
}
