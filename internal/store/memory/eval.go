package memory

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"shelfwise/internal/spec"
)

type fieldFunc func(field string) []any

func match(e spec.Expr, fields fieldFunc) bool {
	switch x := e.(type) {
	case nil:
		return true
	case spec.All:
		for _, sub := range x {
			if !match(sub, fields) {
				return false
			}
		}
		return true
	case spec.Any:
		for _, sub := range x {
			if match(sub, fields) {
				return true
			}
		}
		return false
	case spec.Not:
		return !match(x.Expr, fields)
	case spec.Cond:
		return matchCond(x, fields(x.Field))
	}
	return false
}

// matchCond is true when any of the field values satisfies the condition.
// Absent optional values only satisfy IsNull.
func matchCond(c spec.Cond, values []any) bool {
	if c.Op == spec.IsNull {
		return len(values) == 0
	}
	for _, v := range values {
		switch c.Op {
		case spec.Contains:
			if strings.Contains(strings.ToLower(toString(v)), strings.ToLower(toString(c.Value))) {
				return true
			}
		case spec.EqFold:
			if strings.EqualFold(toString(v), toString(c.Value)) {
				return true
			}
		case spec.Has, spec.Eq:
			if cmp, ok := compare(v, c.Value); ok && cmp == 0 {
				return true
			}
		case spec.In:
			for _, candidate := range elements(c.Value) {
				if cmp, ok := compare(v, candidate); ok && cmp == 0 {
					return true
				}
			}
		case spec.Ne:
			if cmp, ok := compare(v, c.Value); ok && cmp != 0 {
				return true
			}
		case spec.Gt, spec.Gte, spec.Lt, spec.Lte:
			cmp, ok := compare(v, c.Value)
			if !ok {
				continue
			}
			if (c.Op == spec.Gt && cmp > 0) || (c.Op == spec.Gte && cmp >= 0) ||
				(c.Op == spec.Lt && cmp < 0) || (c.Op == spec.Lte && cmp <= 0) {
				return true
			}
		}
	}
	return false
}

func elements(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case []uuid.UUID:
		out := make([]any, len(list))
		for i, id := range list {
			out[i] = id
		}
		return out
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}
	return nil
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case uuid.UUID:
		return s.String()
	}
	return ""
}

// compare orders two values of the same kind. ok is false when they are not
// comparable.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return strings.Compare(x, y), ok
	case int:
		y, ok := b.(int)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	case uuid.UUID:
		y, ok := b.(uuid.UUID)
		if !ok {
			return 0, false
		}
		return compareUUID(x, y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

// compareStrings is the case-insensitive collation used for ordering.
func compareStrings(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// sortRows orders rows like Postgres does: nulls last ascending and first
// descending.
func sortRows[T any](rows []*T, order []spec.Order, field func(*T, string) []any) {
	if len(order) == 0 {
		return
	}
	slices.SortStableFunc(rows, func(a, b *T) int {
		for _, o := range order {
			av, bv := first(field(a, o.Field)), first(field(b, o.Field))
			var c int
			switch {
			case av == nil && bv == nil:
				c = 0
			case av == nil:
				c = 1
			case bv == nil:
				c = -1
			default:
				as, aok := av.(string)
				bs, bok := bv.(string)
				if aok && bok {
					c = compareStrings(as, bs)
				} else {
					c, _ = compare(av, bv)
				}
			}
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func first(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}
