package expr

import (
	"math"
)

type builtin struct {
	name             string
	minArgs, maxArgs int
	call             func(args []Value) (Value, error)
}

var builtins = map[string]*builtin{}

func register(name string, minArgs, maxArgs int, call func(args []Value) (Value, error)) {
	builtins[name] = &builtin{name: name, minArgs: minArgs, maxArgs: maxArgs, call: call}
}

func init() {
	register("isNaN", 1, 1, func(a []Value) (Value, error) {
		return math.IsNaN(ToNumber(a[0])), nil
	})
	register("isFinite", 1, 1, func(a []Value) (Value, error) {
		n := ToNumber(a[0])
		return !math.IsNaN(n) && !math.IsInf(n, 0), nil
	})
	register("Boolean", 0, 1, func(a []Value) (Value, error) {
		if len(a) == 0 {
			return false, nil
		}
		return Truthy(a[0]), nil
	})
	register("Number", 0, 1, func(a []Value) (Value, error) {
		if len(a) == 0 {
			return 0.0, nil
		}
		return ToNumber(a[0]), nil
	})
	register("String", 0, 1, func(a []Value) (Value, error) {
		if len(a) == 0 {
			return "", nil
		}
		return ToString(a[0]), nil
	})
	register("regExp", 0, 2, func(a []Value) (Value, error) {
		var pattern, flags string
		if len(a) > 0 {
			pattern = ToString(a[0])
		}
		if len(a) > 1 {
			flags = ToString(a[1])
		}
		return compileRegex(pattern, flags)
	})

	unary := map[string]func(float64) float64{
		"abs":     math.Abs,
		"sqrt":    math.Sqrt,
		"cos":     math.Cos,
		"sin":     math.Sin,
		"tan":     math.Tan,
		"acos":    math.Acos,
		"asin":    math.Asin,
		"atan":    math.Atan,
		"radians": func(x float64) float64 { return x * math.Pi / 180 },
		"degrees": func(x float64) float64 { return x * 180 / math.Pi },
		"sign":    sign,
		"floor":   math.Floor,
		"ceil":    math.Ceil,
		"round":   func(x float64) float64 { return math.Floor(x + 0.5) },
		"exp":     math.Exp,
		"log":     math.Log,
		"exp2":    math.Exp2,
		"log2":    math.Log2,
		"fract":   func(x float64) float64 { return x - math.Floor(x) },
	}
	for name, fn := range unary {
		register(name, 1, 1, numeric(name, func(x []float64) float64 { return fn(x[0]) }))
	}

	binary := map[string]func(float64, float64) float64{
		"atan2": math.Atan2,
		"pow":   math.Pow,
		"min":   math.Min,
		"max":   math.Max,
	}
	for name, fn := range binary {
		register(name, 2, 2, numeric(name, func(x []float64) float64 { return fn(x[0], x[1]) }))
	}

	register("clamp", 3, 3, numeric("clamp", func(x []float64) float64 {
		return math.Min(math.Max(x[0], x[1]), x[2])
	}))
	register("mix", 3, 3, numeric("mix", func(x []float64) float64 {
		return x[0]*(1-x[2]) + x[1]*x[2]
	}))
}

// numeric wraps fn so that every argument must already be a number.
func numeric(name string, fn func([]float64) float64) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		nums := make([]float64, len(args))
		for i, a := range args {
			n, ok := asNumber(a)
			if !ok {
				return nil, typeMismatch(name, "argument %d must be a number, got %s", i+1, typeName(a))
			}
			nums[i] = n
		}
		return fn(nums), nil
	}
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}
