package validate

import (
	"errors"
	"math"

	"github.com/lox/flowcorrect/internal/models"
)

// ErrNoDonor means no other gauged reach is available to take over a
// held-out reach.
var ErrNoDonor = errors.New("no other gauged reach")

// GaugeOf returns the gauge physically on a reach. Tables without a gauge of
// record column fall back to reaches corrected against their own gauge.
func GaugeOf(a models.Assignment) (string, bool) {
	if a.GaugeOfRecord.Valid {
		return a.GaugeOfRecord.String, true
	}
	if a.GaugeID.Valid && !a.Transplant() {
		return a.GaugeID.String, true
	}
	return "", false
}

// Reassign assigns rows[held] to the closest other gauged reach, as if its
// own gauge did not exist. Reaches in the same cluster are preferred, then
// the shortest x/y distance, then table order.
func Reassign(rows []models.Assignment, held int) (models.Assignment, error) {
	target := rows[held]
	heldGauge, _ := GaugeOf(target)

	best := -1
	bestScore := [2]float64{math.Inf(1), math.Inf(1)}
	for i, a := range rows {
		if i == held {
			continue
		}
		g, ok := GaugeOf(a)
		if !ok || g == heldGauge || a.ReachID == target.ReachID {
			continue
		}

		cluster := 1.0
		if target.Cluster.Valid && a.Cluster.Valid && target.Cluster.Int64 == a.Cluster.Int64 {
			cluster = 0
		}
		dist := math.Inf(1)
		if target.X.Valid && target.Y.Valid && a.X.Valid && a.Y.Valid {
			dist = math.Hypot(target.X.Float64-a.X.Float64, target.Y.Float64-a.Y.Float64)
		}
		score := [2]float64{cluster, dist}
		if best < 0 || score[0] < bestScore[0] || (score[0] == bestScore[0] && score[1] < bestScore[1]) {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return models.Assignment{}, ErrNoDonor
	}

	donor := rows[best]
	gauge, _ := GaugeOf(donor)
	out := target
	out.AssignedReachID = donor.ReachID
	out.GaugeID.String, out.GaugeID.Valid = gauge, true
	return out, nil
}
