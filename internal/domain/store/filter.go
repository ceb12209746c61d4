package store

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Op is a comparison operator usable in a filter condition.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

// Condition compares one top-level field against a value.
type Condition struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Condition  { return Condition{Field: field, Op: OpEq, Value: value} }
func Neq(field string, value any) Condition { return Condition{Field: field, Op: OpNeq, Value: value} }
func Gte(field string, value any) Condition { return Condition{Field: field, Op: OpGte, Value: value} }
func Lte(field string, value any) Condition { return Condition{Field: field, Op: OpLte, Value: value} }

// Filter is a conjunction of conditions with optional ordering and limit.
// Sort names a field; a leading "-" sorts descending. Limit <= 0 means no
// limit.
type Filter struct {
	Conditions []Condition
	Sort       string
	Limit      int
}

// Where builds a filter from the given conditions.
func Where(conds ...Condition) Filter {
	return Filter{Conditions: conds}
}

func (f Filter) SortBy(field string) Filter {
	f.Sort = field
	return f
}

func (f Filter) WithLimit(n int) Filter {
	f.Limit = n
	return f
}

// SortField returns the sort field and whether the order is descending.
func (f Filter) SortField() (string, bool) {
	if strings.HasPrefix(f.Sort, "-") {
		return f.Sort[1:], true
	}
	return f.Sort, false
}

// Matches reports whether doc satisfies every condition. A missing field
// never satisfies eq/gte/lte and always satisfies neq. gte and lte compare
// numbers numerically and strings lexically; mixed types never match.
func (f Filter) Matches(doc Document) bool {
	for _, c := range f.Conditions {
		if !c.matches(doc) {
			return false
		}
	}
	return true
}

func (c Condition) matches(doc Document) bool {
	got, present := doc[c.Field]
	want := Normalize(c.Value)

	switch c.Op {
	case OpEq:
		return present && reflect.DeepEqual(got, want)
	case OpNeq:
		return !present || !reflect.DeepEqual(got, want)
	case OpGte, OpLte:
		if !present {
			return false
		}
		cmp, ok := Compare(got, want)
		if !ok {
			return false
		}
		if c.Op == OpGte {
			return cmp >= 0
		}
		return cmp <= 0
	default:
		return false
	}
}

// Compare orders two normalized scalar values. ok is false when the values
// are not both numbers or both strings.
func Compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	default:
		return 0, false
	}
}

// Normalize returns v as encoding/json would decode it, so that typed Go
// values compare equal to stored document values. Times become TimeLayout
// strings, including top-level "*_at" and "*_date" fields of an object.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return v
	case time.Time:
		return FormatTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return FormatTime(*t)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	if m, ok := out.(map[string]any); ok {
		canonicalTimes(m)
	}
	return out
}
