package correction

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lox/flowcorrect/internal/models"
)

// dailySeries builds a positive seasonal series with a deterministic wobble.
func dailySeries(start time.Time, days int, scale float64) models.Series {
	s := make(models.Series, days)
	for i := range s {
		day := start.AddDate(0, 0, i)
		season := 5 * math.Sin(2*math.Pi*float64(day.YearDay())/365)
		wobble := float64((i*37)%11) / 2
		s[i] = models.Point{Time: day, Flow: scale * (10 + season + wobble)}
	}
	return s
}

func scaled(s models.Series, k float64) models.Series {
	out := make(models.Series, len(s))
	for i, p := range s {
		out[i] = models.Point{Time: p.Time, Flow: k * p.Flow}
	}
	return out
}

var epoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFDCMappingIdentity(t *testing.T) {
	obs := dailySeries(epoch, 3*365, 1)
	sim := scaled(obs, 1)

	res, err := FDCMapping(sim, obs)
	if err != nil {
		t.Fatalf("FDCMapping: %v", err)
	}
	if len(res.Rows) != len(sim) {
		t.Fatalf("rows = %d, want %d", len(res.Rows), len(sim))
	}

	for _, m := range sim.Months() {
		fdc, err := CalcFDC(sim.Month(m).Values(), DefaultSteps)
		if err != nil {
			t.Fatalf("CalcFDC(%s): %v", m, err)
		}
		var gap float64
		for i := 1; i < fdc.Len(); i++ {
			gap = math.Max(gap, fdc.Flows[i]-fdc.Flows[i-1])
		}
		for _, r := range res.Rows {
			if r.Time.Month() != m {
				continue
			}
			if d := math.Abs(r.Corrected - r.Simulated); d > gap+1e-9 {
				t.Errorf("%s: |q_mod - q_sim| = %v exceeds FDC gap %v", r.Time.Format("2006-01-02"), d, gap)
			}
		}
	}
}

func TestFDCMappingDistinctSeries(t *testing.T) {
	obs := dailySeries(epoch, 3*365, 1)
	sim := make(models.Series, len(obs))
	for i, p := range obs {
		sim[i] = models.Point{Time: p.Time, Flow: 3*p.Flow + 2}
	}

	res, err := FDCMapping(sim, obs)
	if err != nil {
		t.Fatalf("FDCMapping: %v", err)
	}
	if len(res.Rows) != len(sim) {
		t.Fatalf("rows = %d, want %d", len(res.Rows), len(sim))
	}
	for i, r := range res.Rows {
		if !r.Time.Equal(sim[i].Time) {
			t.Fatalf("row %d at %s, want %s", i, r.Time, sim[i].Time)
		}
		if r.Simulated != sim[i].Flow {
			t.Fatalf("row %d q_sim = %v, want %v", i, r.Simulated, sim[i].Flow)
		}
	}

	// a monotone transform keeps every percentile, so each corrected value
	// lands on the gauge's monthly FDC next to the observed value of that day
	for _, m := range obs.Months() {
		fdc, err := CalcFDC(obs.Month(m).Values(), DefaultSteps)
		if err != nil {
			t.Fatalf("CalcFDC(%s): %v", m, err)
		}
		var gap float64
		for i := 1; i < fdc.Len(); i++ {
			gap = math.Max(gap, fdc.Flows[i]-fdc.Flows[i-1])
		}
		for i, r := range res.Rows {
			if r.Time.Month() != m {
				continue
			}
			if d := math.Abs(r.Corrected - obs[i].Flow); d > gap+1e-9 {
				t.Errorf("%s: |q_mod - q_obs| = %v exceeds FDC gap %v", r.Time.Format("2006-01-02"), d, gap)
			}
		}
	}
}

func TestDefaultFilterRangeKeepsLowFlows(t *testing.T) {
	opts := DefaultOptions()
	if opts.FilterRange != (Range{20, 100}) {
		t.Fatalf("FilterRange = %+v, want {20 100}", opts.FilterRange)
	}

	sim, _ := CalcFDC(dailySeries(epoch, 365, 2).Values(), DefaultSteps)
	obs, _ := CalcFDC(dailySeries(epoch, 365, 1).Values(), DefaultSteps)
	curve, err := CalcScalarCurve(sim, obs)
	if err != nil {
		t.Fatal(err)
	}
	sub := curve.Within(opts.FilterRange.Lo, opts.FilterRange.Hi)
	// probabilities run from 100 (lowest flow) down to 0 (highest flow)
	if sub.Probs[0] != 100 || sub.Probs[len(sub.Probs)-1] != 20 {
		t.Errorf("filtered probabilities %v..%v, want 100..20", sub.Probs[0], sub.Probs[len(sub.Probs)-1])
	}
}

func TestFDCMappingSkipsMonthsWithoutObservations(t *testing.T) {
	sim := dailySeries(epoch, 365, 1)
	var obs models.Series
	for _, p := range sim {
		if p.Time.Month() <= time.June {
			obs = append(obs, p)
		}
	}

	res, err := FDCMapping(sim, obs)
	if err != nil {
		t.Fatalf("FDCMapping: %v", err)
	}
	for _, r := range res.Rows {
		if r.Time.Month() > time.June {
			t.Fatalf("row for %s, want months without observations skipped", r.Time.Format("2006-01-02"))
		}
	}
	if len(res.Rows) != len(obs) {
		t.Errorf("rows = %d, want %d", len(res.Rows), len(obs))
	}
}

func TestSFDCMappingRemovesMultiplicativeBias(t *testing.T) {
	obs := dailySeries(epoch, 3*365, 1)
	sim := scaled(obs, 2)

	tests := []struct {
		name string
		opts func(*Options)
	}{
		{"seasonal", func(o *Options) {}},
		{"whole record", func(o *Options) { o.FixSeasonally = false }},
		{"linear extrapolation", func(o *Options) { o.Extrapolate = ExtrapLinear }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.opts(&opts)

			res, err := SFDCMapping(sim, obs, sim, opts)
			if err != nil {
				t.Fatalf("SFDCMapping: %v", err)
			}
			if len(res.Rows) != len(obs) {
				t.Fatalf("rows = %d, want %d", len(res.Rows), len(obs))
			}
			for i, r := range res.Rows {
				if !r.Time.Equal(obs[i].Time) {
					t.Fatalf("row %d time = %v, want %v", i, r.Time, obs[i].Time)
				}
				if math.Abs(r.Corrected-obs[i].Flow) > 1e-9 {
					t.Errorf("row %d corrected = %v, want %v", i, r.Corrected, obs[i].Flow)
				}
			}
		})
	}
}

func TestSFDCMappingTransplant(t *testing.T) {
	obsA := dailySeries(epoch, 2*365, 1)
	simA := scaled(obsA, 2)
	simB := scaled(dailySeries(epoch, 2*365, 1), 3)

	res, err := SFDCMapping(simA, obsA, simB, DefaultOptions())
	if err != nil {
		t.Fatalf("SFDCMapping: %v", err)
	}
	for i, r := range res.Rows {
		if want := simB[i].Flow / 2; math.Abs(r.Corrected-want) > 1e-9 {
			t.Errorf("row %d corrected = %v, want %v", i, r.Corrected, want)
		}
		if r.Simulated != simB[i].Flow {
			t.Errorf("row %d simulated = %v, want %v", i, r.Simulated, simB[i].Flow)
		}
	}
}

func TestSFDCMappingBatchOptions(t *testing.T) {
	obs := dailySeries(epoch, 3*365, 1)
	sim := scaled(obs, 1.7)
	sim[40].Flow = math.NaN()

	opts := DefaultOptions()
	opts.DropOutliers = true
	opts.OutlierThreshold = 3
	opts.FitGumbel = true
	opts.FitRange = Range{5, 95}
	opts.Metadata = true

	res, err := SFDCMapping(sim, obs, sim, opts)
	if err != nil {
		t.Fatalf("SFDCMapping: %v", err)
	}
	if !res.Metadata {
		t.Errorf("Metadata = false, want true")
	}
	if len(res.Rows) != len(sim)-1 {
		t.Fatalf("rows = %d, want %d", len(res.Rows), len(sim)-1)
	}
	for i, r := range res.Rows {
		if i > 0 && r.Time.Before(res.Rows[i-1].Time) {
			t.Fatalf("rows out of order at %d", i)
		}
		if math.IsNaN(r.Corrected) || r.Corrected < 0 {
			t.Errorf("%s corrected = %v, want finite and non-negative", r.Time.Format("2006-01-02"), r.Corrected)
		}
		if r.PExceed < 0 || r.PExceed > 100 {
			t.Errorf("%s p_exceed = %v, want within [0, 100]", r.Time.Format("2006-01-02"), r.PExceed)
		}
		if r.Scalar <= 0 {
			t.Errorf("%s scalar = %v, want positive", r.Time.Format("2006-01-02"), r.Scalar)
		}
	}
}

func TestSFDCMappingSkipsEmptyMonths(t *testing.T) {
	sim := dailySeries(epoch, 365, 2)
	obs := dailySeries(epoch, 365, 1)
	for i := range obs {
		if obs[i].Time.Month() == time.March {
			obs[i].Flow = math.NaN()
		}
	}

	res, err := SFDCMapping(sim, obs, sim, DefaultOptions())
	if err != nil {
		t.Fatalf("SFDCMapping: %v", err)
	}
	for _, r := range res.Rows {
		if r.Time.Month() == time.March {
			t.Fatalf("row for %s, want March skipped", r.Time.Format("2006-01-02"))
		}
	}
	if want := 365 - 31; len(res.Rows) != want {
		t.Errorf("rows = %d, want %d", len(res.Rows), want)
	}
}

func TestSFDCMappingConfigErrors(t *testing.T) {
	sim := dailySeries(epoch, 60, 1)

	tests := []struct {
		name string
		opts func(*Options)
		want error
	}{
		{"unknown empty months policy", func(o *Options) { o.EmptyMonths = "interpolate" }, ErrInvalidEmptyMonths},
		{"const without fill", func(o *Options) { o.Extrapolate = ExtrapConst }, ErrMissingFillValue},
		{"unknown extrapolation", func(o *Options) { o.Extrapolate = "spline" }, ErrInvalidExtrapolation},
		{"zero threshold", func(o *Options) { o.DropOutliers, o.OutlierThreshold = true, 0 }, ErrInvalidThreshold},
		{"negative threshold", func(o *Options) { o.DropOutliers, o.OutlierThreshold = true, -2 }, ErrInvalidThreshold},
		{"NaN threshold", func(o *Options) { o.DropOutliers, o.OutlierThreshold = true, math.NaN() }, ErrInvalidThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.opts(&opts)
			if _, err := SFDCMapping(sim, sim, sim, opts); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSFDCMappingEmptyScalarCurve(t *testing.T) {
	sim := dailySeries(epoch, 60, 1)
	opts := DefaultOptions()
	opts.FixSeasonally = false
	opts.FilterScalar = true
	opts.FilterRange = Range{200, 300}

	if _, err := SFDCMapping(sim, sim, sim, opts); !errors.Is(err, ErrEmptyScalarCurve) {
		t.Errorf("err = %v, want ErrEmptyScalarCurve", err)
	}
}
