package eventbus

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// ConditionsMatch reports whether every key in conditions is present in data
// with an equal value. Empty conditions always match.
func ConditionsMatch(conditions, data map[string]any) bool {
	for k, want := range conditions {
		got, ok := data[k]
		if !ok {
			return false
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual is strict equality, except that numbers compare by value so a
// condition loaded from JSON (float64) matches an int published in Go.
// Two integers compare exactly; float comparison is only used when one side
// is fractional.
func valuesEqual(a, b any) bool {
	na, ok := toNumber(a)
	if !ok {
		if _, ok := toNumber(b); ok {
			return false
		}
		return reflect.DeepEqual(a, b)
	}
	nb, ok := toNumber(b)
	if !ok {
		return false
	}
	return na.equal(nb)
}

type numberKind int

const (
	kindInt numberKind = iota
	kindUint
	kindFloat
)

type number struct {
	kind numberKind
	i    int64
	u    uint64
	f    float64
}

func (n number) equal(o number) bool {
	switch {
	case n.kind == kindInt && o.kind == kindInt:
		return n.i == o.i
	case n.kind == kindUint && o.kind == kindUint:
		return n.u == o.u
	case n.kind == kindInt && o.kind == kindUint:
		return n.i >= 0 && uint64(n.i) == o.u
	case n.kind == kindUint && o.kind == kindInt:
		return o.i >= 0 && uint64(o.i) == n.u
	}
	return n.float() == o.float()
}

func (n number) float() float64 {
	switch n.kind {
	case kindInt:
		return float64(n.i)
	case kindUint:
		return float64(n.u)
	}
	return n.f
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{kind: kindInt, i: int64(n)}, true
	case int8:
		return number{kind: kindInt, i: int64(n)}, true
	case int16:
		return number{kind: kindInt, i: int64(n)}, true
	case int32:
		return number{kind: kindInt, i: int64(n)}, true
	case int64:
		return number{kind: kindInt, i: n}, true
	case uint:
		return number{kind: kindUint, u: uint64(n)}, true
	case uint8:
		return number{kind: kindUint, u: uint64(n)}, true
	case uint16:
		return number{kind: kindUint, u: uint64(n)}, true
	case uint32:
		return number{kind: kindUint, u: uint64(n)}, true
	case uint64:
		return number{kind: kindUint, u: n}, true
	case float32:
		return fromFloat(float64(n)), true
	case float64:
		return fromFloat(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return number{kind: kindInt, i: i}, true
		}
		if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
			return number{kind: kindUint, u: u}, true
		}
		if f, err := n.Float64(); err == nil {
			return fromFloat(f), true
		}
	}
	return number{}, false
}

// fromFloat keeps whole floats in the exactly representable range as ints so
// 100.0 and 100 compare equal.
func fromFloat(f float64) number {
	const maxExact = 1 << 53
	if f == math.Trunc(f) && f >= -maxExact && f <= maxExact {
		return number{kind: kindInt, i: int64(f)}
	}
	return number{kind: kindFloat, f: f}
}
