package expr

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Value is a runtime value: float64, string, bool, nil, []any,
// map[string]any or *Regex. Integer kinds coming from Go callers are
// accepted wherever a number is expected.
type Value = any

func asNumber(v Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeName(v Value) string {
	if _, ok := asNumber(v); ok {
		return "number"
	}
	switch v.(type) {
	case nil:
		return "undefined"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case *Regex:
		return "regexp"
	}
	return "object"
}

// ToNumber applies Number(...) coercion. Strings are trimmed and a trailing
// percent sign is dropped before parsing.
func ToNumber(v Value) float64 {
	if n, ok := asNumber(v); ok {
		return n
	}
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		return parseNumber(x)
	case []any:
		switch len(x) {
		case 0:
			return 0
		case 1:
			return ToNumber(x[0])
		}
	}
	return math.NaN()
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "0x") {
		n, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") || strings.Contains(s, "_") {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// ToString applies String(...) coercion.
func ToString(v Value) string {
	if n, ok := asNumber(v); ok {
		return formatNumber(n)
	}
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			if e != nil {
				parts[i] = ToString(e)
			}
		}
		return strings.Join(parts, ",")
	case *Regex:
		return x.String()
	}
	return "[object Object]"
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		// Go pads the exponent ("1e-07"); JavaScript does not.
		mantissa, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Truthy reports JavaScript truthiness.
func Truthy(v Value) bool {
	if n, ok := asNumber(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	return true
}

func strictEqual(a, b Value) bool {
	an, aNum := asNumber(a)
	bn, bNum := asNumber(b)
	if aNum || bNum {
		return aNum && bNum && an == bn
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case *Regex:
		y, ok := b.(*Regex)
		return ok && x == y
	}
	// Arrays and objects compare by identity; evaluation never shares them.
	return false
}
