package correction

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Extrapolation selects how an Interpolator answers queries outside its domain.
type Extrapolation string

const (
	ExtrapNearest Extrapolation = "nearest"
	ExtrapLinear  Extrapolation = "linear"
	ExtrapConst   Extrapolation = "const"
	ExtrapAverage Extrapolation = "average"
	ExtrapMax     Extrapolation = "max"
	ExtrapMin     Extrapolation = "min"
)

// ParseExtrapolation accepts the policy names used in configuration files,
// including the "maximum" and "minimum" aliases.
func ParseExtrapolation(s string) (Extrapolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest":
		return ExtrapNearest, nil
	case "linear":
		return ExtrapLinear, nil
	case "const":
		return ExtrapConst, nil
	case "average":
		return ExtrapAverage, nil
	case "max", "maximum":
		return ExtrapMax, nil
	case "min", "minimum":
		return ExtrapMin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidExtrapolation, s)
}

// Interpolator maps a value on the x axis to the y axis of a set of anchors.
//
// The nearest policy returns the y of the closest anchor everywhere. All other
// policies interpolate linearly between anchors and differ only outside the
// anchor range: linear extends the end segments, the rest return a constant.
type Interpolator struct {
	x, y   []float64
	policy Extrapolation
	fill   float64
	mids   []float64
}

// NewInterpolator builds an interpolator from paired anchors. Pairs with a
// NaN on either side are ignored; anchors are ordered by x.
func NewInterpolator(x, y []float64, policy Extrapolation, fill *float64) (*Interpolator, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("interpolator: %w: x=%d y=%d", ErrLengthMismatch, len(x), len(y))
	}
	policy, err := ParseExtrapolation(string(policy))
	if err != nil {
		return nil, err
	}
	if policy == ExtrapConst && fill == nil {
		return nil, ErrMissingFillValue
	}

	type anchor struct{ x, y float64 }
	anchors := make([]anchor, 0, len(x))
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		anchors = append(anchors, anchor{x[i], y[i]})
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("interpolator: %w", ErrEmptySample)
	}
	sort.SliceStable(anchors, func(i, j int) bool { return anchors[i].x < anchors[j].x })

	in := &Interpolator{
		x:      make([]float64, len(anchors)),
		y:      make([]float64, len(anchors)),
		policy: policy,
	}
	for i, a := range anchors {
		in.x[i] = a.x
		in.y[i] = a.y
	}

	switch policy {
	case ExtrapNearest:
		in.mids = make([]float64, len(in.x)-1)
		for i := range in.mids {
			in.mids[i] = (in.x[i] + in.x[i+1]) / 2
		}
	case ExtrapConst:
		in.fill = *fill
	case ExtrapAverage:
		in.fill = stat.Mean(in.y, nil)
	case ExtrapMax:
		in.fill = floats.Max(in.y)
	case ExtrapMin:
		in.fill = floats.Min(in.y)
	}
	return in, nil
}

// At returns the interpolated value for v. A NaN query returns NaN.
func (in *Interpolator) At(v float64) float64 {
	if math.IsNaN(v) {
		return math.NaN()
	}
	n := len(in.x)
	if in.policy == ExtrapNearest {
		// ties on a midpoint resolve to the lower anchor
		return in.y[sort.SearchFloat64s(in.mids, v)]
	}
	if n == 1 {
		if v == in.x[0] || in.policy == ExtrapLinear {
			return in.y[0]
		}
		return in.fill
	}
	if (v < in.x[0] || v > in.x[n-1]) && in.policy != ExtrapLinear {
		return in.fill
	}

	hi := sort.SearchFloat64s(in.x, v)
	if hi < 1 {
		hi = 1
	}
	if hi > n-1 {
		hi = n - 1
	}
	lo := hi - 1
	dx := in.x[hi] - in.x[lo]
	if dx == 0 {
		return in.y[lo]
	}
	return in.y[lo] + (v-in.x[lo])*(in.y[hi]-in.y[lo])/dx
}

func (in *Interpolator) Map(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = in.At(v)
	}
	return out
}
