package models

import (
	"database/sql"
	"math"
	"sort"
	"time"
)

// Point is a single daily discharge value. Missing values are NaN.
type Point struct {
	Time time.Time
	Flow float64
}

// Series is a discharge time series ordered by time.
type Series []Point

// Missing reports whether the point carries no usable value.
func (p Point) Missing() bool {
	return math.IsNaN(p.Flow) || math.IsInf(p.Flow, 0)
}

func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Flow
	}
	return out
}

// Present returns a copy of the series without missing values.
func (s Series) Present() Series {
	out := make(Series, 0, len(s))
	for _, p := range s {
		if !p.Missing() {
			out = append(out, p)
		}
	}
	return out
}

// Month returns the points that fall in the given calendar month.
func (s Series) Month(m time.Month) Series {
	var out Series
	for _, p := range s {
		if p.Time.Month() == m {
			out = append(out, p)
		}
	}
	return out
}

// Months returns the distinct calendar months present in the series, ascending.
func (s Series) Months() []time.Month {
	var seen [13]bool
	for _, p := range s {
		seen[p.Time.Month()] = true
	}
	var months []time.Month
	for m := time.January; m <= time.December; m++ {
		if seen[m] {
			months = append(months, m)
		}
	}
	return months
}

func (s Series) SortByTime() {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
}

// Assignment links a reach to the gauge whose record corrects it.
type Assignment struct {
	ReachID         string
	AssignedReachID string
	GaugeID         sql.NullString // assigned gauge; absent means no correction
	GaugeOfRecord   sql.NullString // gauge physically on this reach, if any
	Cluster         sql.NullInt64
	X               sql.NullFloat64
	Y               sql.NullFloat64
}

// Transplant reports whether the correction is learned at another reach.
func (a Assignment) Transplant() bool {
	return a.AssignedReachID != "" && a.AssignedReachID != a.ReachID
}

// CorrectedRow is one corrected daily value. Scalar and PExceed are only
// populated when the producing call asked for metadata.
type CorrectedRow struct {
	Time      time.Time
	Corrected float64
	Simulated float64
	Scalar    float64
	PExceed   float64
}

// CorrectedSeries is the output of a correction for one reach.
type CorrectedSeries struct {
	ReachID  string
	Metadata bool
	Rows     []CorrectedRow
}

func (c *CorrectedSeries) SortByTime() {
	sort.SliceStable(c.Rows, func(i, j int) bool { return c.Rows[i].Time.Before(c.Rows[j].Time) })
}

// ValidationMetrics holds goodness-of-fit statistics for one held-out gauge.
type ValidationMetrics struct {
	ReachID         string
	GaugeID         string
	AssignedReachID string
	AssignedGaugeID string
	Samples         int

	MESim   float64
	MAESim  float64
	RMSESim float64
	NSESim  float64
	KGESim  float64

	MECorr   float64
	MAECorr  float64
	RMSECorr float64
	NSECorr  float64
	KGECorr  float64
}
