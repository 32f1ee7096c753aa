package correction

import (
	"fmt"
	"math"
	"sort"
)

// DefaultSteps is the number of exceedance probabilities sampled by an FDC.
const DefaultSteps = 201

// FDC is a flow duration curve. Probs runs from 100 down to 0 and Flows[i]
// is the flow equalled or exceeded Probs[i] percent of the time.
type FDC struct {
	Probs []float64
	Flows []float64
}

func (f FDC) Len() int { return len(f.Probs) }

// ExceedanceProbabilities returns steps values evenly spaced from 100 to 0.
func ExceedanceProbabilities(steps int) []float64 {
	if steps <= 0 {
		steps = DefaultSteps
	}
	if steps == 1 {
		return []float64{100}
	}
	probs := make([]float64, steps)
	step := 100 / float64(steps-1)
	for i := range probs {
		probs[i] = 100 - float64(i)*step
	}
	probs[steps-1] = 0
	return probs
}

// CalcFDC computes the flow duration curve of a sample. Missing values (NaN)
// are excluded; the flow at exceedance p is the (100-p)th percentile.
func CalcFDC(flows []float64, steps int) (FDC, error) {
	sorted := make([]float64, 0, len(flows))
	for _, v := range flows {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return FDC{}, fmt.Errorf("fdc: %w", ErrEmptySample)
	}
	sort.Float64s(sorted)

	probs := ExceedanceProbabilities(steps)
	fdc := FDC{Probs: probs, Flows: make([]float64, len(probs))}
	for i, p := range probs {
		fdc.Flows[i] = percentile(sorted, 100-p)
	}
	return fdc, nil
}

// percentile interpolates linearly between the order statistics of a sorted
// sample, matching the default convention of numerical array libraries.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := q / 100 * float64(n-1)
	if rank <= 0 {
		return sorted[0]
	}
	if rank >= float64(n-1) {
		return sorted[n-1]
	}
	lo := int(math.Floor(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// ScalarCurve maps exceedance probability to the ratio of simulated to
// observed flow at that probability.
type ScalarCurve struct {
	Probs   []float64
	Scalars []float64
}

func (c ScalarCurve) Len() int { return len(c.Probs) }

// CalcScalarCurve divides a simulated FDC by an observed FDC sampled at the
// same probabilities. Non-finite ratios are dropped.
func CalcScalarCurve(sim, obs FDC) (ScalarCurve, error) {
	if sim.Len() != obs.Len() {
		return ScalarCurve{}, fmt.Errorf("scalar curve: %w: sim=%d obs=%d", ErrLengthMismatch, sim.Len(), obs.Len())
	}
	var c ScalarCurve
	for i := range sim.Probs {
		if sim.Probs[i] != obs.Probs[i] {
			return ScalarCurve{}, fmt.Errorf("scalar curve: probability axes differ at %d (%v != %v)", i, sim.Probs[i], obs.Probs[i])
		}
		s := sim.Flows[i] / obs.Flows[i]
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		c.Probs = append(c.Probs, sim.Probs[i])
		c.Scalars = append(c.Scalars, s)
	}
	return c, nil
}

// Within keeps only the entries whose probability lies in [lo, hi].
func (c ScalarCurve) Within(lo, hi float64) ScalarCurve {
	var out ScalarCurve
	for i, p := range c.Probs {
		if p >= lo && p <= hi {
			out.Probs = append(out.Probs, p)
			out.Scalars = append(out.Scalars, c.Scalars[i])
		}
	}
	return out
}
