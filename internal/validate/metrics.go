package validate

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/flowcorrect/internal/models"
)

// Join pairs a held-out observed record with a corrected series on date.
// Dates where any of the three values is missing are dropped.
func Join(obs models.Series, cs *models.CorrectedSeries) (o, sim, mod []float64) {
	byDay := make(map[time.Time]float64, len(obs))
	for _, p := range obs {
		if !p.Missing() {
			byDay[p.Time] = p.Flow
		}
	}
	rows := append([]models.CorrectedRow(nil), cs.Rows...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	for _, r := range rows {
		v, ok := byDay[r.Time]
		if !ok || math.IsNaN(r.Simulated) || math.IsNaN(r.Corrected) {
			continue
		}
		o = append(o, v)
		sim = append(sim, r.Simulated)
		mod = append(mod, r.Corrected)
	}
	return o, sim, mod
}

// Compute returns goodness-of-fit statistics of the raw simulated and the
// corrected series against observations. All three slices are paired.
func Compute(obs, sim, mod []float64) models.ValidationMetrics {
	return models.ValidationMetrics{
		Samples: len(obs),

		MESim:   ME(sim, obs),
		MAESim:  MAE(sim, obs),
		RMSESim: RMSE(sim, obs),
		NSESim:  NSE(sim, obs),
		KGESim:  KGE2012(sim, obs),

		MECorr:   ME(mod, obs),
		MAECorr:  MAE(mod, obs),
		RMSECorr: RMSE(mod, obs),
		NSECorr:  NSE(mod, obs),
		KGECorr:  KGE2012(mod, obs),
	}
}

func diffs(sim, obs []float64) []float64 {
	d := make([]float64, len(sim))
	floats.SubTo(d, sim, obs)
	return d
}

// ME is the mean error.
func ME(sim, obs []float64) float64 {
	if len(obs) == 0 {
		return math.NaN()
	}
	return stat.Mean(diffs(sim, obs), nil)
}

// MAE is the mean absolute error.
func MAE(sim, obs []float64) float64 {
	if len(obs) == 0 {
		return math.NaN()
	}
	return floats.Norm(diffs(sim, obs), 1) / float64(len(obs))
}

// RMSE is the root mean square error.
func RMSE(sim, obs []float64) float64 {
	if len(obs) == 0 {
		return math.NaN()
	}
	return floats.Norm(diffs(sim, obs), 2) / math.Sqrt(float64(len(obs)))
}

// NSE is the Nash-Sutcliffe efficiency.
func NSE(sim, obs []float64) float64 {
	if len(obs) == 0 {
		return math.NaN()
	}
	mean := stat.Mean(obs, nil)
	var num, den float64
	for i := range obs {
		num += (sim[i] - obs[i]) * (sim[i] - obs[i])
		den += (obs[i] - mean) * (obs[i] - mean)
	}
	return 1 - num/den
}

// KGE2012 is the Kling-Gupta efficiency with the variability ratio taken on
// coefficients of variation (Kling et al., 2012).
func KGE2012(sim, obs []float64) float64 {
	if len(obs) < 2 {
		return math.NaN()
	}
	meanSim, stdSim := stat.PopMeanStdDev(sim, nil)
	meanObs, stdObs := stat.PopMeanStdDev(obs, nil)

	r := stat.Correlation(sim, obs, nil)
	beta := meanSim / meanObs
	gamma := (stdSim / meanSim) / (stdObs / meanObs)

	return 1 - math.Sqrt((r-1)*(r-1)+(beta-1)*(beta-1)+(gamma-1)*(gamma-1))
}
