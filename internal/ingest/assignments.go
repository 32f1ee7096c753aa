package ingest

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lox/flowcorrect/internal/models"
)

func isMissingCell(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "na", "null", "none":
		return true
	}
	return false
}

// ReadAssignments reads an assignment table. The reach, assigned reach and
// assigned gauge columns are required; gauge of record, cluster and x/y are
// read when present. A missing assigned gauge means no correction.
func ReadAssignments(r io.Reader, cols models.Columns) ([]models.Assignment, error) {
	cols = cols.WithDefaults()
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, name := range []string{cols.ReachID, cols.AssignedReachID, cols.GaugeID} {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("assignments: missing column %q", name)
		}
	}
	cell := func(rec []string, name string) (string, bool) {
		i, ok := idx[name]
		if !ok || i >= len(rec) || isMissingCell(rec[i]) {
			return "", false
		}
		return strings.TrimSpace(rec[i]), true
	}

	var out []models.Assignment
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		reach, ok := cell(rec, cols.ReachID)
		if !ok {
			return nil, fmt.Errorf("line %d: empty %s", line, cols.ReachID)
		}
		a := models.Assignment{ReachID: NormalizeReachID(reach)}
		if v, ok := cell(rec, cols.AssignedReachID); ok {
			a.AssignedReachID = NormalizeReachID(v)
		}
		if v, ok := cell(rec, cols.GaugeID); ok {
			a.GaugeID = sql.NullString{String: v, Valid: true}
		}
		if v, ok := cell(rec, cols.GaugeOfRecord); ok {
			a.GaugeOfRecord = sql.NullString{String: v, Valid: true}
		}
		if v, ok := cell(rec, cols.Cluster); ok {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, cols.Cluster, err)
			}
			a.Cluster = sql.NullInt64{Int64: int64(n), Valid: true}
		}
		for _, c := range []struct {
			name string
			dst  *sql.NullFloat64
		}{{cols.X, &a.X}, {cols.Y, &a.Y}} {
			if v, ok := cell(rec, c.name); ok {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %s: %w", line, c.name, err)
				}
				*c.dst = sql.NullFloat64{Float64: f, Valid: true}
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// WriteAssignments writes rows with every column of cols that is in use.
func WriteAssignments(w io.Writer, cols models.Columns, rows []models.Assignment) error {
	cols = cols.WithDefaults()
	cw := csv.NewWriter(w)
	header := []string{cols.ReachID, cols.AssignedReachID, cols.GaugeID, cols.GaugeOfRecord, cols.Cluster, cols.X, cols.Y}
	if err := cw.Write(header); err != nil {
		return err
	}

	str := func(v sql.NullString) string {
		if !v.Valid {
			return ""
		}
		return v.String
	}
	num := func(v sql.NullFloat64) string {
		if !v.Valid {
			return ""
		}
		return strconv.FormatFloat(v.Float64, 'g', -1, 64)
	}
	for _, a := range rows {
		cluster := ""
		if a.Cluster.Valid {
			cluster = strconv.FormatInt(a.Cluster.Int64, 10)
		}
		rec := []string{a.ReachID, a.AssignedReachID, str(a.GaugeID), str(a.GaugeOfRecord), cluster, num(a.X), num(a.Y)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
