package correction

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lox/flowcorrect/internal/models"
)

func seriesOf(values ...float64) models.Series {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(models.Series, len(values))
	for i, v := range values {
		s[i] = models.Point{Time: start.AddDate(0, 0, i), Flow: v}
	}
	return s
}

func TestDropOutliers(t *testing.T) {
	values := make([]float64, 0, 101)
	for i := 0; i < 100; i++ {
		values = append(values, 10+float64(i%2))
	}
	values = append(values, 1000)

	got := DropOutliers(seriesOf(values...), DefaultOutlierThreshold)
	if len(got) != 100 {
		t.Fatalf("len = %d, want 100", len(got))
	}
	for _, p := range got {
		if p.Flow == 1000 {
			t.Errorf("outlier 1000 survived")
		}
	}
}

func TestDropOutliersEdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   int
	}{
		{"constant sample keeps everything", []float64{5, 5, 5, 5}, 4},
		{"missing values are dropped", []float64{1, math.NaN(), 2, math.NaN(), 3}, 3},
		{"all missing", []float64{math.NaN()}, 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DropOutliers(seriesOf(tt.values...), 3); len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestReturnPeriod(t *testing.T) {
	tests := []struct {
		p    float64
		want float64
	}{
		{50, 2},
		{10, 10},
		{1, 100},
		{100, 100 / 99.99},
	}
	for _, tt := range tests {
		if got := ReturnPeriod(tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ReturnPeriod(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := ReturnPeriod(0); math.IsInf(got, 0) || got <= 100 {
		t.Errorf("ReturnPeriod(0) = %v, want a large finite period", got)
	}
}

func TestFitGumbelTailsUnchangedInsideRange(t *testing.T) {
	q := []float64{1, 2, 3, 4, 5}
	p := []float64{10, 30, 50, 70, 90}

	got, err := FitGumbelTails(q, p, 5, 95)
	if err != nil {
		t.Fatalf("FitGumbelTails: %v", err)
	}
	for i := range q {
		if got[i] != q[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], q[i])
		}
	}
}

func TestFitGumbelTailsReplacesTails(t *testing.T) {
	q := []float64{0.1, 4, 5, 6, 50}
	p := []float64{99, 80, 50, 20, 1}

	got, err := FitGumbelTails(q, p, 5, 95)
	if err != nil {
		t.Fatalf("FitGumbelTails: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if got[i] != q[i] {
			t.Errorf("trusted got[%d] = %v, want %v", i, got[i], q[i])
		}
	}
	// high tail: mean + ~3.14 std
	if got[4] <= 6 || got[4] == 50 {
		t.Errorf("high tail = %v, want a Gumbel estimate above the trusted maximum", got[4])
	}
	if got[0] < 0 || got[0] >= got[2] {
		t.Errorf("low tail = %v, want a non-negative value below the median", got[0])
	}
}

func TestFitGumbelTailsClampsNegative(t *testing.T) {
	q := []float64{0, 10, 3}
	p := []float64{40, 60, 99.9}

	got, err := FitGumbelTails(q, p, 5, 95)
	if err != nil {
		t.Fatalf("FitGumbelTails: %v", err)
	}
	if got[2] != 0 {
		t.Errorf("low tail = %v, want clamp to 0", got[2])
	}
}

func TestFitGumbelTailsErrors(t *testing.T) {
	if _, err := FitGumbelTails([]float64{1, 2}, []float64{50}, 5, 95); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("err = %v, want ErrLengthMismatch", err)
	}
	if _, err := FitGumbelTails([]float64{1, 2, 3}, []float64{1, 50, 99}, 5, 95); !errors.Is(err, ErrTooFewTrusted) {
		t.Errorf("err = %v, want ErrTooFewTrusted", err)
	}
}
