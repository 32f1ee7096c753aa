package correction

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Closed-form Gumbel Type I moment estimates.
const (
	gumbelScale    = 0.7797
	gumbelLocation = 0.45
)

// Exceedance probabilities are clamped to this margin from 0 and 100 so the
// extreme anchors of an FDC get a finite return period.
const tailMargin = 0.01

// SolveGumbel1 returns the discharge with the given return period for a
// sample with mean xbar and standard deviation std.
func SolveGumbel1(std, xbar, returnPeriod float64) float64 {
	return -math.Log(-math.Log(1-1/returnPeriod))*std*gumbelScale + xbar - gumbelLocation*std
}

// ReturnPeriod converts an exceedance probability in percent to a return
// period: a flow exceeded p percent of the time recurs every 100/p steps.
func ReturnPeriod(pExceed float64) float64 {
	p := math.Min(math.Max(pExceed, tailMargin), 100-tailMargin)
	return 1 / (1 - (100-p)/100)
}

// FitGumbelTails replaces corrected flows whose exceedance probability lies
// outside [lo, hi] with Gumbel estimates fitted to the flows inside it.
// Negative replacements are clamped to zero.
func FitGumbelTails(q, pExceed []float64, lo, hi float64) ([]float64, error) {
	if len(q) != len(pExceed) {
		return nil, fmt.Errorf("gumbel: %w: q=%d p=%d", ErrLengthMismatch, len(q), len(pExceed))
	}

	var trusted []float64
	for i, p := range pExceed {
		if p >= lo && p <= hi && !math.IsNaN(q[i]) && !math.IsInf(q[i], 0) {
			trusted = append(trusted, q[i])
		}
	}
	if len(trusted) < 2 {
		return nil, fmt.Errorf("gumbel: %w [%v, %v]: %d", ErrTooFewTrusted, lo, hi, len(trusted))
	}
	xbar, std := stat.MeanStdDev(trusted, nil)

	out := make([]float64, len(q))
	copy(out, q)
	for i, p := range pExceed {
		if math.IsNaN(p) || (p >= lo && p <= hi) {
			continue
		}
		v := SolveGumbel1(std, xbar, ReturnPeriod(p))
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out, nil
}
