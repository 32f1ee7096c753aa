package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lox/flowcorrect/internal/models"
)

// simRecord is one row of a simulated discharge chunk.
type simRecord struct {
	ReachID int64   `parquet:"name=reach_id, type=INT64"`
	Time    int64   `parquet:"name=time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Qout    float64 `parquet:"name=qout, type=DOUBLE"`
}

const readBatch = 10000

// SimulatedDataset is a directory of parquet chunks, each holding the
// simulated discharge of a disjoint set of reaches. It only reads, and every
// read opens its own file handle, so one value can be shared by workers.
type SimulatedDataset struct {
	dir   string
	index map[int64]string
}

// OpenSimulated indexes every *.parquet file in dir by reading only its
// reach_id column.
func OpenSimulated(dir string) (*SimulatedDataset, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no parquet files in %s", dir)
	}

	ds := &SimulatedDataset{dir: dir, index: make(map[int64]string)}
	for _, path := range files {
		ids, err := readReachIDs(path)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", filepath.Base(path), err)
		}
		for _, id := range ids {
			if _, dup := ds.index[id]; !dup {
				ds.index[id] = path
			}
		}
	}
	return ds, nil
}

func readReachIDs(path string) ([]int64, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, 1)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()

	num := pr.GetNumRows()
	if num == 0 {
		return nil, nil
	}
	values, _, _, err := pr.ReadColumnByPath(common.ReformPathStr("parquet_go_root.reach_id"), num)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	var ids []int64
	for _, v := range values {
		id, ok := v.(int64)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *SimulatedDataset) Reaches() []string {
	ids := make([]int64, 0, len(d.index))
	for id := range d.index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

// Series returns the simulated discharge of one reach, sorted by time.
func (d *SimulatedDataset) Series(reachID string) (models.Series, error) {
	id, err := strconv.ParseInt(NormalizeReachID(reachID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a numeric reach id", ErrReachNotFound, reachID)
	}
	path, ok := d.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReachNotFound, reachID)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(simRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer pr.ReadStop()

	var series models.Series
	remaining := int(pr.GetNumRows())
	for remaining > 0 {
		n := min(remaining, readBatch)
		rows := make([]simRecord, n)
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		for _, r := range rows {
			if r.ReachID == id {
				series = append(series, models.Point{Time: time.UnixMilli(r.Time).UTC(), Flow: r.Qout})
			}
		}
		remaining -= n
	}
	series.SortByTime()
	return series, nil
}

// WriteSimulatedParquet writes a chunk holding the given reaches. Reach ids
// must be numeric.
func WriteSimulatedParquet(path string, reaches map[string]models.Series) error {
	ids := make([]string, 0, len(reaches))
	for id := range reaches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var records []simRecord
	for _, id := range ids {
		n, err := strconv.ParseInt(NormalizeReachID(id), 10, 64)
		if err != nil {
			return fmt.Errorf("reach %q: not numeric", id)
		}
		for _, p := range reaches[id] {
			records = append(records, simRecord{ReachID: n, Time: p.Time.UnixMilli(), Qout: p.Flow})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	pw, err := writer.NewParquetWriter(fw, new(simRecord), 1)
	if err != nil {
		fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range records {
		if err := pw.Write(records[i]); err != nil {
			fw.Close()
			return fmt.Errorf("write record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finish parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadSimulatedCSV reads a wide table whose first column is the date and
// whose remaining columns are named by reach id.
func ReadSimulatedCSV(r io.Reader) (map[string]models.Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header: want a date column and at least one reach")
	}
	reaches := make([]string, len(header)-1)
	for i, h := range header[1:] {
		reaches[i] = NormalizeReachID(h)
	}

	out := make(map[string]models.Series, len(reaches))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t, err := parseDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for i, id := range reaches {
			v, err := parseFlow(rec[i+1])
			if err != nil {
				v = math.NaN()
			}
			out[id] = append(out[id], models.Point{Time: t, Flow: v})
		}
	}
	return out, nil
}

// NormalizeReachID strips whitespace and the ".0" suffix that float-typed
// id columns pick up.
func NormalizeReachID(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, ".0")
}
