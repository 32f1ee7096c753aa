package correction

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/lox/flowcorrect/internal/models"
)

// DefaultOutlierThreshold is the z-score cutoff used by the batch driver.
const DefaultOutlierThreshold = 3.0

// DropOutliers removes missing values and every point whose z-score, taken
// against the whole sample with the population standard deviation, is at or
// beyond threshold. A sample with no spread has no outliers.
func DropOutliers(s models.Series, threshold float64) models.Series {
	present := s.Present()
	if len(present) == 0 {
		return present
	}
	mean, std := stat.PopMeanStdDev(present.Values(), nil)
	if std == 0 || math.IsNaN(std) {
		return present
	}
	out := make(models.Series, 0, len(present))
	for _, p := range present {
		if math.Abs((p.Flow-mean)/std) < threshold {
			out = append(out, p)
		}
	}
	return out
}
