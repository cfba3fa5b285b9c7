package condition

import (
	"reflect"
	"strings"
)

// absent is the typed value for paths that resolve nowhere. It compares false
// to everything except another absent value and is falsy.
type absent struct{}

type node interface {
	eval(data map[string]any) any
}

type orNode struct{ left, right node }

func (n *orNode) eval(data map[string]any) any {
	if truthy(n.left.eval(data)) {
		return true
	}
	return truthy(n.right.eval(data))
}

type andNode struct{ left, right node }

func (n *andNode) eval(data map[string]any) any {
	if !truthy(n.left.eval(data)) {
		return false
	}
	return truthy(n.right.eval(data))
}

type notNode struct{ inner node }

func (n *notNode) eval(data map[string]any) any {
	return !truthy(n.inner.eval(data))
}

type literalNode struct{ val any }

func (n *literalNode) eval(map[string]any) any { return n.val }

type pathNode struct{ parts []string }

func (n *pathNode) eval(data map[string]any) any {
	var cur any = data
	for _, part := range n.parts {
		next, ok := resolveField(cur, part)
		if !ok {
			return absent{}
		}
		cur = next
	}
	return cur
}

type cmpNode struct {
	op          string
	left, right node
}

func (n *cmpNode) eval(data map[string]any) any {
	l := n.left.eval(data)
	r := n.right.eval(data)

	switch n.op {
	case "==":
		return equal(l, r)
	case "!=":
		return !equal(l, r)
	}

	// Ordered comparisons: absent never orders against anything.
	if isAbsent(l) || isAbsent(r) {
		return false
	}
	if lf, lok := toFloat(l); lok {
		if rf, rok := toFloat(r); rok {
			return ordered(n.op, lf, rf)
		}
		return false
	}
	if ls, lok := l.(string); lok {
		if rs, rok := r.(string); rok {
			return orderedStrings(n.op, ls, rs)
		}
	}
	return false
}

func isAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

func equal(l, r any) bool {
	if isAbsent(l) || isAbsent(r) {
		return isAbsent(l) && isAbsent(r)
	}
	if lf, lok := toFloat(l); lok {
		if rf, rok := toFloat(r); rok {
			return lf == rf
		}
		return false
	}
	return reflect.DeepEqual(l, r)
}

func ordered(op string, l, r float64) bool {
	switch op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	default:
		return l >= r
	}
}

func orderedStrings(op, l, r string) bool {
	switch op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	default:
		return l >= r
	}
}

// truthy reduces a value to a boolean: absent, nil, false, zero, and empty
// collections are false; everything else is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil, absent:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}

// resolveField steps one path segment into v: map key, struct field (by name
// or json tag), or the pseudo-field "length".
func resolveField(v any, name string) (any, bool) {
	if v == nil {
		return nil, false
	}

	if m, ok := v.(map[string]any); ok {
		if val, exists := m[name]; exists {
			return val, true
		}
		if name == "length" {
			return len(m), true
		}
		return nil, false
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if name == "length" {
			return rv.Len(), true
		}
		return nil, false

	case reflect.String:
		if name == "length" {
			return rv.Len(), true
		}
		return nil, false

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(name))
		if val.IsValid() {
			return val.Interface(), true
		}
		if name == "length" {
			return rv.Len(), true
		}
		return nil, false

	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			if f.Name == name || jsonTagName(f) == name || strings.EqualFold(f.Name, name) {
				return rv.Field(i).Interface(), true
			}
		}
		return nil, false
	}
	return nil, false
}

func jsonTagName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	if idx := strings.IndexByte(tag, ','); idx >= 0 {
		tag = tag[:idx]
	}
	return tag
}
