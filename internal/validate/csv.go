package validate

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lox/flowcorrect/internal/models"
)

var statHeader = []string{
	"samples",
	"me_sim", "mae_sim", "rmse_sim", "nse_sim", "kge_sim",
	"me_corr", "mae_corr", "rmse_corr", "nse_corr", "kge_corr",
}

// metricsHeader names the id columns the same way the assignment table does.
func metricsHeader(cols models.Columns) []string {
	cols = cols.WithDefaults()
	h := []string{cols.ReachID, cols.GaugeOfRecord, cols.AssignedReachID, cols.GaugeID}
	return append(h, statHeader...)
}

func sortMetrics(ms []models.ValidationMetrics) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ReachID < ms[j].ReachID })
}

func statFields(m *models.ValidationMetrics) []*float64 {
	return []*float64{
		&m.MESim, &m.MAESim, &m.RMSESim, &m.NSESim, &m.KGESim,
		&m.MECorr, &m.MAECorr, &m.RMSECorr, &m.NSECorr, &m.KGECorr,
	}
}

func WriteMetricsCSV(w io.Writer, cols models.Columns, ms []models.ValidationMetrics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(metricsHeader(cols)); err != nil {
		return err
	}
	for i := range ms {
		m := ms[i]
		rec := []string{m.ReachID, m.GaugeID, m.AssignedReachID, m.AssignedGaugeID, strconv.Itoa(m.Samples)}
		for _, f := range statFields(&m) {
			if math.IsNaN(*f) || math.IsInf(*f, 0) {
				rec = append(rec, "")
				continue
			}
			rec = append(rec, strconv.FormatFloat(*f, 'g', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMetricsCSV reads a file produced by WriteMetricsCSV.
func ReadMetricsCSV(r io.Reader, cols models.Columns) ([]models.ValidationMetrics, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	want := metricsHeader(cols)
	if strings.Join(header, ",") != strings.Join(want, ",") {
		return nil, fmt.Errorf("unexpected metrics header %v", header)
	}

	var out []models.ValidationMetrics
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		m := models.ValidationMetrics{ReachID: rec[0], GaugeID: rec[1], AssignedReachID: rec[2], AssignedGaugeID: rec[3]}
		if m.Samples, err = strconv.Atoi(rec[4]); err != nil {
			return nil, fmt.Errorf("line %d: samples: %w", line, err)
		}
		for i, f := range statFields(&m) {
			cell := rec[5+i]
			if cell == "" {
				*f = math.NaN()
				continue
			}
			if *f, err = strconv.ParseFloat(cell, 64); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, want[5+i], err)
			}
		}
		out = append(out, m)
	}
	return out, nil
}
