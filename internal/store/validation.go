package store

import (
	"database/sql"
	"math"

	"github.com/lox/flowcorrect/internal/models"
)

// NaN is stored as NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) InsertValidationMetrics(batchID string, m models.ValidationMetrics) error {
	_, err := s.db.Exec(`
		INSERT INTO validation_metrics (
			batch_id, reach_id, gauge_id, assigned_reach_id, assigned_gauge_id, samples,
			me_sim, mae_sim, rmse_sim, nse_sim, kge_sim,
			me_corr, mae_corr, rmse_corr, nse_corr, kge_corr
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, reach_id) DO UPDATE SET
			gauge_id = excluded.gauge_id,
			assigned_reach_id = excluded.assigned_reach_id,
			assigned_gauge_id = excluded.assigned_gauge_id,
			samples = excluded.samples,
			me_sim = excluded.me_sim, mae_sim = excluded.mae_sim, rmse_sim = excluded.rmse_sim,
			nse_sim = excluded.nse_sim, kge_sim = excluded.kge_sim,
			me_corr = excluded.me_corr, mae_corr = excluded.mae_corr, rmse_corr = excluded.rmse_corr,
			nse_corr = excluded.nse_corr, kge_corr = excluded.kge_corr
	`, batchID, m.ReachID, m.GaugeID, nullString(m.AssignedReachID), nullString(m.AssignedGaugeID), m.Samples,
		nullFloat(m.MESim), nullFloat(m.MAESim), nullFloat(m.RMSESim), nullFloat(m.NSESim), nullFloat(m.KGESim),
		nullFloat(m.MECorr), nullFloat(m.MAECorr), nullFloat(m.RMSECorr), nullFloat(m.NSECorr), nullFloat(m.KGECorr))
	return err
}

func (s *Store) ListValidationMetrics(batchID string) ([]models.ValidationMetrics, error) {
	rows, err := s.db.Query(`
		SELECT reach_id, gauge_id, assigned_reach_id, assigned_gauge_id, samples,
			   me_sim, mae_sim, rmse_sim, nse_sim, kge_sim,
			   me_corr, mae_corr, rmse_corr, nse_corr, kge_corr
		FROM validation_metrics
		WHERE batch_id = ?
		ORDER BY reach_id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ValidationMetrics
	for rows.Next() {
		var (
			m                  models.ValidationMetrics
			asgnReach, asgnGid sql.NullString
			f                  [10]sql.NullFloat64
		)
		if err := rows.Scan(&m.ReachID, &m.GaugeID, &asgnReach, &asgnGid, &m.Samples,
			&f[0], &f[1], &f[2], &f[3], &f[4], &f[5], &f[6], &f[7], &f[8], &f[9]); err != nil {
			return nil, err
		}
		m.AssignedReachID = asgnReach.String
		m.AssignedGaugeID = asgnGid.String
		m.MESim, m.MAESim, m.RMSESim, m.NSESim, m.KGESim = floatOrNaN(f[0]), floatOrNaN(f[1]), floatOrNaN(f[2]), floatOrNaN(f[3]), floatOrNaN(f[4])
		m.MECorr, m.MAECorr, m.RMSECorr, m.NSECorr, m.KGECorr = floatOrNaN(f[5]), floatOrNaN(f[6]), floatOrNaN(f[7]), floatOrNaN(f[8]), floatOrNaN(f[9])
		results = append(results, m)
	}
	return results, rows.Err()
}
