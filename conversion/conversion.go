// Package conversion implements the raw-to-physical value rules of MDF
// channel conversion blocks: linear, rational, algebraic, tabular and
// text-table conversions, plus the inverse lookups used by
// conversion-aware filtering.
package conversion

import (
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/INLOpen/nexusmdf/core"
)

// Type enumerates the conversion variants.
type Type uint8

const (
	Identity Type = iota
	Linear
	Rational
	Algebraic
	// TabularInterp is a value->value table with piecewise-linear
	// interpolation between the stored pairs.
	TabularInterp
	// Tabular is a value->value table without interpolation: the
	// closest lower key wins.
	Tabular
	ValueToText
	RangeToText
)

func (t Type) String() string {
	switch t {
	case Identity:
		return "identity"
	case Linear:
		return "linear"
	case Rational:
		return "rational"
	case Algebraic:
		return "algebraic"
	case TabularInterp:
		return "tabular-interpolated"
	case Tabular:
		return "tabular"
	case ValueToText:
		return "value-to-text"
	case RangeToText:
		return "range-to-text"
	default:
		return "unknown"
	}
}

// Conversion is a pure raw -> physical function. It never mutates its
// inputs and is shared by reference between channels.
type Conversion struct {
	Type    Type
	Unit    string
	Comment string

	// Linear: y = raw*Scale + Offset
	Scale  float64
	Offset float64

	// Rational: y = (P1*x^2 + P2*x + P3) / (P4*x^2 + P5*x + P6)
	P [6]float64

	// Algebraic
	Formula  string
	compiled *expr

	// Tabular value->value pairs, sorted by Raw
	RawKeys  []float64
	PhysVals []float64

	// Text tables. ValueToText uses RawKeys as exact keys; RangeToText
	// matches LowerRaw <= x < UpperRaw.
	LowerRaw    []float64
	UpperRaw    []float64
	Texts       []string
	DefaultText string
}

var _ core.ConversionRule = (*Conversion)(nil)

// NewLinear builds y = raw*scale + offset.
func NewLinear(scale, offset float64) *Conversion {
	return &Conversion{Type: Linear, Scale: scale, Offset: offset}
}

// NewRational builds y = (p1*x^2+p2*x+p3)/(p4*x^2+p5*x+p6).
func NewRational(p [6]float64) *Conversion {
	return &Conversion{Type: Rational, P: p}
}

// NewAlgebraic compiles formula once; evaluation failures at convert
// time fall back to raw values with a logged warning, never a crash.
func NewAlgebraic(formula string) *Conversion {
	c := &Conversion{Type: Algebraic, Formula: formula}
	compiled, err := compile(formula)
	if err != nil {
		slog.Default().Warn("algebraic conversion formula failed to compile, raw values will pass through",
			"formula", formula, "error", err)
	} else {
		c.compiled = compiled
	}
	return c
}

// NewTabular builds a value->value table. Pairs are sorted by raw key.
func NewTabular(raw, phys []float64, interpolate bool) *Conversion {
	type pair struct{ r, p float64 }
	pairs := make([]pair, len(raw))
	for i := range raw {
		pairs[i] = pair{raw[i], phys[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].r < pairs[j].r })

	c := &Conversion{Type: Tabular}
	if interpolate {
		c.Type = TabularInterp
	}
	c.RawKeys = make([]float64, len(pairs))
	c.PhysVals = make([]float64, len(pairs))
	for i, p := range pairs {
		c.RawKeys[i] = p.r
		c.PhysVals[i] = p.p
	}
	return c
}

// NewValueToText builds an exact-match key table. An empty defaultText
// makes unmatched values format as their raw numeric value.
func NewValueToText(keys []float64, texts []string, defaultText string) *Conversion {
	return &Conversion{
		Type:        ValueToText,
		RawKeys:     append([]float64(nil), keys...),
		Texts:       append([]string(nil), texts...),
		DefaultText: defaultText,
	}
}

// NewRangeToText builds an interval table: lower[i] <= x < upper[i].
func NewRangeToText(lower, upper []float64, texts []string, defaultText string) *Conversion {
	return &Conversion{
		Type:        RangeToText,
		LowerRaw:    append([]float64(nil), lower...),
		UpperRaw:    append([]float64(nil), upper...),
		Texts:       append([]string(nil), texts...),
		DefaultText: defaultText,
	}
}

// IsNumeric reports whether the conversion produces numeric output.
func (c *Conversion) IsNumeric() bool {
	return c.Type != ValueToText && c.Type != RangeToText
}

// ConvertValue maps one raw value to the physical domain.
func (c *Conversion) ConvertValue(x float64) float64 {
	switch c.Type {
	case Linear:
		return x*c.Scale + c.Offset
	case Rational:
		num := c.P[0]*x*x + c.P[1]*x + c.P[2]
		den := c.P[3]*x*x + c.P[4]*x + c.P[5]
		return num / den
	case Algebraic:
		if c.compiled == nil {
			return x
		}
		v, err := c.compiled.eval(x)
		if err != nil {
			return x
		}
		return v
	case TabularInterp:
		return c.tabularLookup(x, true)
	case Tabular:
		return c.tabularLookup(x, false)
	default:
		return x
	}
}

func (c *Conversion) tabularLookup(x float64, interpolate bool) float64 {
	n := len(c.RawKeys)
	if n == 0 {
		return x
	}
	if x <= c.RawKeys[0] {
		return c.PhysVals[0]
	}
	if x >= c.RawKeys[n-1] {
		return c.PhysVals[n-1]
	}
	j := sort.SearchFloat64s(c.RawKeys, x)
	if c.RawKeys[j] == x {
		return c.PhysVals[j]
	}
	if !interpolate {
		// closest lower key wins
		return c.PhysVals[j-1]
	}
	x0, x1 := c.RawKeys[j-1], c.RawKeys[j]
	y0, y1 := c.PhysVals[j-1], c.PhysVals[j]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// TextFor returns the display text for one raw value; falls back to the
// default text, then to the numeric value formatted as text.
func (c *Conversion) TextFor(x float64) string {
	switch c.Type {
	case ValueToText:
		for i, k := range c.RawKeys {
			if k == x {
				return c.Texts[i]
			}
		}
	case RangeToText:
		for i := range c.LowerRaw {
			if x >= c.LowerRaw[i] && x < c.UpperRaw[i] {
				return c.Texts[i]
			}
		}
	}
	if c.DefaultText != "" {
		return c.DefaultText
	}
	return formatRaw(x)
}

func formatRaw(x float64) string {
	if x == math.Trunc(x) && math.Abs(x) < 1e15 {
		return strconv.FormatInt(int64(x), 10)
	}
	return strconv.FormatFloat(x, 'g', -1, 64)
}

// Convert applies the rule to a whole raw column. Non-numeric columns
// pass through untouched; the on-disk format only attaches value
// conversions to numeric channels.
func (c *Conversion) Convert(s core.Samples) core.Samples {
	if c.Type == Identity {
		return s
	}
	raw, ok := s.Floats64()
	if !ok {
		return s
	}

	if c.Type == ValueToText || c.Type == RangeToText {
		out := make([]string, len(raw))
		for i, x := range raw {
			out[i] = c.TextFor(x)
		}
		return core.StringSamples(out)
	}

	if c.Type == Algebraic && c.compiled == nil {
		// compile failed at construction; keep raw values
		return s
	}

	out := make([]float64, len(raw))
	for i, x := range raw {
		out[i] = c.ConvertValue(x)
	}
	return core.FloatSamples(out)
}

// InverseValue maps a physical value back to the raw domain.
func (c *Conversion) InverseValue(phys float64) (float64, bool) {
	switch c.Type {
	case Identity:
		return phys, true
	case Linear:
		if c.Scale == 0 {
			return 0, false
		}
		return (phys - c.Offset) / c.Scale, true
	case TabularInterp, Tabular:
		return c.inverseTabular(phys)
	default:
		return 0, false
	}
}

func (c *Conversion) inverseTabular(phys float64) (float64, bool) {
	n := len(c.PhysVals)
	if n == 0 {
		return 0, false
	}
	best := 0
	bestDist := math.Abs(c.PhysVals[0] - phys)
	for i := 1; i < n; i++ {
		if d := math.Abs(c.PhysVals[i] - phys); d < bestDist {
			best, bestDist = i, d
		}
	}
	if c.Type == Tabular {
		return c.RawKeys[best], true
	}
	// interpolated table: refine inside the neighboring segment when the
	// physical mapping is locally monotonic
	for _, j := range []int{best - 1, best} {
		if j < 0 || j+1 >= n {
			continue
		}
		y0, y1 := c.PhysVals[j], c.PhysVals[j+1]
		lo, hi := math.Min(y0, y1), math.Max(y0, y1)
		if phys >= lo && phys <= hi && y0 != y1 {
			x0, x1 := c.RawKeys[j], c.RawKeys[j+1]
			return x0 + (x1-x0)*(phys-y0)/(y1-y0), true
		}
	}
	return c.RawKeys[best], true
}

// InverseText maps a display text back to a raw value that produces it.
func (c *Conversion) InverseText(text string) (float64, bool) {
	switch c.Type {
	case ValueToText:
		for i, t := range c.Texts {
			if t == text {
				return c.RawKeys[i], true
			}
		}
	case RangeToText:
		for i, t := range c.Texts {
			if t == text {
				return c.LowerRaw[i], true
			}
		}
	}
	return 0, false
}
