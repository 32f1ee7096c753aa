package correction

import (
	"fmt"
	"math"

	"github.com/lox/flowcorrect/internal/models"
)

// EmptyMonths is the policy for months where the gauge has no observations.
type EmptyMonths string

// SkipEmptyMonths omits such months from the output. It is the only policy.
const SkipEmptyMonths EmptyMonths = "skip"

// Range is an inclusive range of exceedance probabilities in percent.
type Range struct {
	Lo, Hi float64
}

// Options controls SFDCMapping. Start from DefaultOptions.
type Options struct {
	FixSeasonally bool
	EmptyMonths   EmptyMonths

	DropOutliers     bool
	OutlierThreshold float64

	FilterScalar bool
	FilterRange  Range

	Extrapolate Extrapolation
	FillValue   *float64

	FitGumbel bool
	FitRange  Range

	Metadata bool
	Steps    int
}

// DefaultOptions returns the library defaults for SFDCMapping.
func DefaultOptions() Options {
	return Options{
		FixSeasonally:    true,
		EmptyMonths:      SkipEmptyMonths,
		OutlierThreshold: 2.5,
		FilterRange:      Range{20, 100}, // drops the highest fifth of flows
		Extrapolate:      ExtrapNearest,
		FitRange:         Range{10, 90},
		Steps:            DefaultSteps,
	}
}

func (o Options) validate() (Options, error) {
	if o.EmptyMonths == "" {
		o.EmptyMonths = SkipEmptyMonths
	}
	if o.EmptyMonths != SkipEmptyMonths {
		return o, fmt.Errorf("%w: %q", ErrInvalidEmptyMonths, o.EmptyMonths)
	}
	ex, err := ParseExtrapolation(string(o.Extrapolate))
	if err != nil {
		return o, err
	}
	o.Extrapolate = ex
	if o.Extrapolate == ExtrapConst && o.FillValue == nil {
		return o, ErrMissingFillValue
	}
	if o.Steps <= 0 {
		o.Steps = DefaultSteps
	}
	if o.DropOutliers && !(o.OutlierThreshold > 0) {
		return o, fmt.Errorf("%w: %v", ErrInvalidThreshold, o.OutlierThreshold)
	}
	return o, nil
}

// FDCMapping corrects a simulated series against observations at the same
// location. Each calendar month is mapped independently: a simulated flow is
// converted to its exceedance probability on the month's simulated FDC and
// then to the observed flow at that probability. Months without observations
// are skipped.
func FDCMapping(sim, obs models.Series) (*models.CorrectedSeries, error) {
	out := &models.CorrectedSeries{}
	for _, m := range sim.Months() {
		monSim := sim.Month(m).Present()
		monObs := obs.Month(m).Present()
		if len(monSim) == 0 || len(monObs) == 0 {
			continue
		}

		simFDC, err := CalcFDC(monSim.Values(), DefaultSteps)
		if err != nil {
			return nil, fmt.Errorf("%s simulated: %w", m, err)
		}
		obsFDC, err := CalcFDC(monObs.Values(), DefaultSteps)
		if err != nil {
			return nil, fmt.Errorf("%s observed: %w", m, err)
		}

		toProb, err := NewInterpolator(simFDC.Flows, simFDC.Probs, ExtrapNearest, nil)
		if err != nil {
			return nil, fmt.Errorf("%s flow to probability: %w", m, err)
		}
		toFlow, err := NewInterpolator(obsFDC.Probs, obsFDC.Flows, ExtrapNearest, nil)
		if err != nil {
			return nil, fmt.Errorf("%s probability to flow: %w", m, err)
		}

		for _, p := range monSim {
			out.Rows = append(out.Rows, models.CorrectedRow{
				Time:      p.Time,
				Corrected: toFlow.At(toProb.At(p.Flow)),
				Simulated: p.Flow,
			})
		}
	}
	out.SortByTime()
	return out, nil
}

// SFDCMapping removes bias from simB using the scalar flow duration curve
// learned from simA and obsA. When simB is the same series as simA this
// corrects location A against its own gauge; otherwise the relationship is
// transplanted to location B.
//
// With FixSeasonally each month present in simA is corrected as an
// independent sub-problem and the results are merged chronologically.
func SFDCMapping(simA, obsA, simB models.Series, opts Options) (*models.CorrectedSeries, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if simB == nil {
		simB = simA
	}

	if !opts.FixSeasonally {
		return sfdcMap(simA.Present(), obsA.Present(), simB.Present(), opts)
	}

	out := &models.CorrectedSeries{Metadata: opts.Metadata}
	for _, m := range simA.Months() {
		monObs := obsA.Month(m).Present()
		monSimA := simA.Month(m).Present()
		monSimB := simB.Month(m).Present()
		if len(monObs) == 0 || len(monSimA) == 0 || len(monSimB) == 0 {
			// validate() only admits SkipEmptyMonths
			continue
		}
		res, err := sfdcMap(monSimA, monObs, monSimB, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		out.Rows = append(out.Rows, res.Rows...)
	}
	out.SortByTime()
	return out, nil
}

func sfdcMap(simA, obsA, simB models.Series, opts Options) (*models.CorrectedSeries, error) {
	fdcA, fdcObs, fdcB := simA, obsA, simB
	if opts.DropOutliers {
		fdcA = DropOutliers(simA, opts.OutlierThreshold)
		fdcObs = DropOutliers(obsA, opts.OutlierThreshold)
		fdcB = DropOutliers(simB, opts.OutlierThreshold)
	}

	simFDCA, err := CalcFDC(fdcA.Values(), opts.Steps)
	if err != nil {
		return nil, fmt.Errorf("simulated A: %w", err)
	}
	obsFDC, err := CalcFDC(fdcObs.Values(), opts.Steps)
	if err != nil {
		return nil, fmt.Errorf("observed A: %w", err)
	}
	simFDCB, err := CalcFDC(fdcB.Values(), opts.Steps)
	if err != nil {
		return nil, fmt.Errorf("simulated B: %w", err)
	}

	scalars, err := CalcScalarCurve(simFDCA, obsFDC)
	if err != nil {
		return nil, err
	}
	if opts.FilterScalar {
		scalars = scalars.Within(opts.FilterRange.Lo, opts.FilterRange.Hi)
	}
	if scalars.Len() == 0 {
		return nil, ErrEmptyScalarCurve
	}

	flowToPercent, err := NewInterpolator(simFDCB.Flows, simFDCB.Probs, opts.Extrapolate, opts.FillValue)
	if err != nil {
		return nil, fmt.Errorf("flow to probability: %w", err)
	}
	percentToScalar, err := NewInterpolator(scalars.Probs, scalars.Scalars, opts.Extrapolate, opts.FillValue)
	if err != nil {
		return nil, fmt.Errorf("probability to scalar: %w", err)
	}

	qb := simB.Values()
	pExceed := flowToPercent.Map(qb)
	scalar := percentToScalar.Map(pExceed)
	adjusted := make([]float64, len(qb))
	for i := range qb {
		v := qb[i] / scalar[i]
		if math.IsInf(v, 0) {
			v = math.NaN()
		}
		adjusted[i] = v
	}

	if opts.FitGumbel {
		adjusted, err = FitGumbelTails(adjusted, pExceed, opts.FitRange.Lo, opts.FitRange.Hi)
		if err != nil {
			return nil, err
		}
	}

	out := &models.CorrectedSeries{Metadata: opts.Metadata, Rows: make([]models.CorrectedRow, len(simB))}
	for i, p := range simB {
		row := models.CorrectedRow{Time: p.Time, Corrected: adjusted[i], Simulated: qb[i]}
		if opts.Metadata {
			row.Scalar = scalar[i]
			row.PExceed = pExceed[i]
		}
		out.Rows[i] = row
	}
	out.SortByTime()
	return out, nil
}
