package expr

import (
	"fmt"
	"math"

	"github.com/mazznoer/csscolorparser"
)

// rgba channels are in 0..1.
type rgba struct {
	r, g, b, a float64
}

// Hex renders the color as #rrggbb, or #rrggbbaa when it is not opaque.
func (c rgba) Hex() string {
	r, g, b, a := channel(c.r), channel(c.g), channel(c.b), channel(c.a)
	if a == 255 {
		return fmt.Sprintf("#%02x%02x%02x", r, g, b)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", r, g, b, a)
}

func channel(v float64) uint8 {
	if math.IsNaN(v) {
		return 0
	}
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

func buildColor(ctor string, args []Value) (string, error) {
	switch ctor {
	case "color":
		if len(args) == 0 {
			return "#ffffff", nil
		}
		css, ok := args[0].(string)
		if !ok {
			return "", typeMismatch(ctor, "expected a CSS color string, got %s", typeName(args[0]))
		}
		parsed, err := csscolorparser.Parse(css)
		if err != nil {
			return "", &EvalError{Kind: ErrInvalidColor, Op: ctor, Msg: fmt.Sprintf("%q: %v", css, err)}
		}
		c := rgba{parsed.R, parsed.G, parsed.B, parsed.A}
		if len(args) == 2 {
			alpha, ok := asNumber(args[1])
			if !ok {
				return "", typeMismatch(ctor, "alpha must be a number, got %s", typeName(args[1]))
			}
			c.a = alpha
		}
		return c.Hex(), nil
	}

	nums := make([]float64, len(args))
	for i, a := range args {
		n, ok := asNumber(a)
		if !ok {
			return "", typeMismatch(ctor, "argument %d must be a number, got %s", i+1, typeName(a))
		}
		nums[i] = n
	}
	alpha := 1.0
	if len(nums) == 4 {
		alpha = nums[3]
	}
	switch ctor {
	case "rgb", "rgba":
		return rgba{nums[0] / 255, nums[1] / 255, nums[2] / 255, alpha}.Hex(), nil
	case "hsl", "hsla":
		r, g, b := hslToRGB(nums[0], nums[1], nums[2])
		return rgba{r, g, b, alpha}.Hex(), nil
	}
	return "", &EvalError{Kind: ErrUnknownFunction, Op: ctor, Msg: "not a color constructor"}
}

// hslToRGB converts hue, saturation and lightness, each in 0..1.
func hslToRGB(h, s, l float64) (r, g, b float64) {
	if s == 0 {
		return l, l, l
	}
	h = h - math.Floor(h)
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return hueToRGB(p, q, h+1.0/3), hueToRGB(p, q, h), hueToRGB(p, q, h-1.0/3)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
