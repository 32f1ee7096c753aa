package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lox/flowcorrect/internal/models"
)

func formatFlow(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCorrectedCSV writes the date, corrected and simulated columns, plus
// scalar and exceedance probability when the series carries metadata.
func WriteCorrectedCSV(w io.Writer, cols models.Columns, cs *models.CorrectedSeries) error {
	cols = cols.WithDefaults()
	cw := csv.NewWriter(w)
	header := []string{cols.Date, cols.Corrected, cols.Simulated}
	if cs.Metadata {
		header = append(header, cols.Scalar, cols.PExceed)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range cs.Rows {
		rec := []string{r.Time.Format("2006-01-02"), formatFlow(r.Corrected), formatFlow(r.Simulated)}
		if cs.Metadata {
			rec = append(rec, formatFlow(r.Scalar), formatFlow(r.PExceed))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCorrectedCSV reads a file produced by WriteCorrectedCSV.
func ReadCorrectedCSV(r io.Reader, cols models.Columns) (*models.CorrectedSeries, error) {
	cols = cols.WithDefaults()
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, name := range []string{cols.Date, cols.Corrected, cols.Simulated} {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("corrected: missing column %q", name)
		}
	}
	_, hasScalar := idx[cols.Scalar]
	_, hasP := idx[cols.PExceed]
	cs := &models.CorrectedSeries{Metadata: hasScalar && hasP}

	flow := func(rec []string, name string) (float64, error) {
		return parseFlow(rec[idx[name]])
	}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t, err := parseDate(rec[idx[cols.Date]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := models.CorrectedRow{Time: t}
		if row.Corrected, err = flow(rec, cols.Corrected); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if row.Simulated, err = flow(rec, cols.Simulated); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if cs.Metadata {
			if row.Scalar, err = flow(rec, cols.Scalar); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if row.PExceed, err = flow(rec, cols.PExceed); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		cs.Rows = append(cs.Rows, row)
	}
	return cs, nil
}

const parquetRoot = "parquet_go_root"

type parquetField struct {
	Tag    string
	Fields []parquetField `json:",omitempty"`
}

// correctedSchema is the JSON parquet schema of a corrected series, named
// after cols. Flow columns are optional so non-finite values become null.
func correctedSchema(cols models.Columns, metadata bool) (string, error) {
	flows := []string{cols.Corrected, cols.Simulated}
	if metadata {
		flows = append(flows, cols.Scalar, cols.PExceed)
	}
	root := parquetField{Tag: "name=" + parquetRoot}
	root.Fields = append(root.Fields, parquetField{Tag: "name=" + cols.Date + ", type=INT64, convertedtype=TIMESTAMP_MILLIS"})
	for _, name := range flows {
		root.Fields = append(root.Fields, parquetField{Tag: "name=" + name + ", type=DOUBLE, repetitiontype=OPTIONAL"})
	}
	b, err := json.Marshal(root)
	return string(b), err
}

func optionalFlow(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// WriteCorrectedParquet writes a corrected series as a snappy parquet file
// with the same column names as WriteCorrectedCSV.
func WriteCorrectedParquet(w io.Writer, cols models.Columns, cs *models.CorrectedSeries) error {
	cols = cols.WithDefaults()
	schema, err := correctedSchema(cols, cs.Metadata)
	if err != nil {
		return err
	}
	pw, err := writer.NewJSONWriterFromWriter(schema, w, 1)
	if err != nil {
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range cs.Rows {
		rec := map[string]any{
			cols.Date:      r.Time.UnixMilli(),
			cols.Corrected: optionalFlow(r.Corrected),
			cols.Simulated: optionalFlow(r.Simulated),
		}
		if cs.Metadata {
			rec[cols.Scalar] = optionalFlow(r.Scalar)
			rec[cols.PExceed] = optionalFlow(r.PExceed)
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := pw.Write(string(b)); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet: %w", err)
	}
	return nil
}

func columnPath(name string) string {
	return parquetRoot + common.PAR_GO_PATH_DELIMITER + name
}

// ReadCorrectedParquet reads a file produced by WriteCorrectedParquet.
func ReadCorrectedParquet(path string, cols models.Columns) (*models.CorrectedSeries, error) {
	cols = cols.WithDefaults()
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, 1)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer pr.ReadStop()

	num := pr.GetNumRows()
	column := func(name string) ([]any, error) {
		if num == 0 {
			return nil, nil
		}
		vals, _, _, err := pr.ReadColumnByPath(columnPath(name), num)
		if err != nil {
			return nil, fmt.Errorf("%s: column %q: %w", filepath.Base(path), name, err)
		}
		return vals, nil
	}
	has := func(name string) bool {
		_, err := pr.SchemaHandler.ConvertToInPathStr(columnPath(name))
		return err == nil
	}

	cs := &models.CorrectedSeries{Metadata: has(cols.Scalar) && has(cols.PExceed)}
	names := []string{cols.Date, cols.Corrected, cols.Simulated}
	if cs.Metadata {
		names = append(names, cols.Scalar, cols.PExceed)
	}
	data := make([][]any, len(names))
	for i, name := range names {
		if data[i], err = column(name); err != nil {
			return nil, err
		}
	}

	flow := func(v any) float64 {
		if f, ok := v.(float64); ok {
			return f
		}
		return math.NaN()
	}
	cs.Rows = make([]models.CorrectedRow, num)
	for i := range cs.Rows {
		ms, ok := data[0][i].(int64)
		if !ok {
			return nil, fmt.Errorf("%s: row %d: bad %s %v", filepath.Base(path), i, cols.Date, data[0][i])
		}
		row := models.CorrectedRow{
			Time:      time.UnixMilli(ms).UTC(),
			Corrected: flow(data[1][i]),
			Simulated: flow(data[2][i]),
		}
		if cs.Metadata {
			row.Scalar, row.PExceed = flow(data[3][i]), flow(data[4][i])
		}
		cs.Rows[i] = row
	}
	return cs, nil
}

// CorrectedWriter persists corrected series as <Dir>/<reach id>.<Format>.
type CorrectedWriter struct {
	Dir     string
	Format  string // csv or parquet
	Columns models.Columns
}

func (cw CorrectedWriter) Path(reachID string) string {
	ext := "csv"
	if cw.Format == "parquet" {
		ext = "parquet"
	}
	return filepath.Join(cw.Dir, reachID+"."+ext)
}

// Write stores cs atomically and returns the file path.
func (cw CorrectedWriter) Write(cs *models.CorrectedSeries) (string, error) {
	path := cw.Path(cs.ReachID)
	err := WriteFileAtomic(path, func(w io.Writer) error {
		if cw.Format == "parquet" {
			return WriteCorrectedParquet(w, cw.Columns, cs)
		}
		return WriteCorrectedCSV(w, cw.Columns, cs)
	})
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
