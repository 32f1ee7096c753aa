package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/lox/flowcorrect/internal/models"
)

func TestValidateFlow(t *testing.T) {
	tests := []struct {
		name      string
		v         float64
		wantFlags []string
	}{
		{"ordinary flow", 12.5, nil},
		{"zero flow", 0, nil},
		{"missing value", math.NaN(), nil},
		{"negative", -1, []string{FlagFlowNegative}},
		{"infinite", math.Inf(1), []string{FlagFlowNonFinite}},
		{"at plausible limit", maxPlausibleFlow, nil},
		{"above plausible limit", maxPlausibleFlow + 1, []string{FlagFlowUnlikely}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateFlow(tt.v)
			if len(got) != len(tt.wantFlags) {
				t.Fatalf("ValidateFlow(%v) = %v, want %v", tt.v, got, tt.wantFlags)
			}
			for i := range got {
				if got[i] != tt.wantFlags[i] {
					t.Errorf("ValidateFlow(%v) = %v, want %v", tt.v, got, tt.wantFlags)
				}
			}
		})
	}
}

func TestQualityFlagsToJSON(t *testing.T) {
	tests := []struct {
		name      string
		flags     []string
		wantEmpty bool
		wantFlags []string
	}{
		{name: "empty flags", flags: []string{}, wantEmpty: true},
		{name: "nil flags", flags: nil, wantEmpty: true},
		{name: "single flag", flags: []string{FlagFlowNegative}, wantFlags: []string{FlagFlowNegative}},
		{
			name:      "multiple flags",
			flags:     []string{FlagFlowUnlikely, FlagFlowUnparseable},
			wantFlags: []string{FlagFlowUnlikely, FlagFlowUnparseable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QualityFlagsToJSON(tt.flags)
			if tt.wantEmpty {
				if got != "" {
					t.Errorf("QualityFlagsToJSON() = %q, want empty", got)
				}
				return
			}
			var parsed []string
			if err := json.Unmarshal([]byte(got), &parsed); err != nil {
				t.Fatalf("failed to unmarshal result: %v", err)
			}
			sort.Strings(parsed)
			want := append([]string(nil), tt.wantFlags...)
			sort.Strings(want)
			if strings.Join(parsed, ",") != strings.Join(want, ",") {
				t.Errorf("QualityFlagsToJSON() parsed = %v, want %v", parsed, want)
			}
		})
	}
}

func TestReadObservedCSV(t *testing.T) {
	in := `datetime,Qobs
2001-01-03,3.5
2001-01-01,1.5
2001-01-02,
2001-01-04,-2
2001-01-05,abc
2001-01-01,99
2001-01-06T00:00:00Z,6
`
	series, flags, err := ReadObservedCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadObservedCSV: %v", err)
	}
	if len(series) != 6 {
		t.Fatalf("len = %d, want 6 (duplicate date dropped)", len(series))
	}
	for i := 1; i < len(series); i++ {
		if !series[i].Time.After(series[i-1].Time) {
			t.Fatalf("series not sorted at %d", i)
		}
	}
	if series[0].Flow != 1.5 {
		t.Errorf("first value = %v, want 1.5 (first duplicate kept)", series[0].Flow)
	}
	for _, i := range []int{1, 3, 4} {
		if !math.IsNaN(series[i].Flow) {
			t.Errorf("series[%d] = %v, want missing", i, series[i].Flow)
		}
	}
	if series[5].Flow != 6 {
		t.Errorf("RFC3339 row = %v, want 6", series[5].Flow)
	}
	if strings.Join(flags, ",") != FlagFlowNegative+","+FlagFlowUnparseable {
		t.Errorf("flags = %v", flags)
	}
}

func TestReadObservedCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"bad date after header", "date,q\n2001-01-01,1\nnot-a-date,2\n"},
		{"single column", "2001-01-01\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ReadObservedCSV(strings.NewReader(tt.in)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestGaugeSourceLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "G1.csv"), []byte("2001-01-01,1\n2001-01-02,2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	src := GaugeSource{Dir: dir}

	series, err := src.Load("G1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(series) != 2 {
		t.Errorf("len = %d, want 2", len(series))
	}
	if _, err := src.Load("G2"); !errors.Is(err, ErrGaugeNotFound) {
		t.Errorf("missing gauge err = %v, want ErrGaugeNotFound", err)
	}
}

func daily(start time.Time, values ...float64) models.Series {
	s := make(models.Series, len(values))
	for i, v := range values {
		s[i] = models.Point{Time: start.AddDate(0, 0, i), Flow: v}
	}
	return s
}

var day0 = time.Date(2010, 6, 1, 0, 0, 0, 0, time.UTC)

func TestSimulatedDatasetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	chunkA := map[string]models.Series{
		"101": daily(day0, 1, 2, 3),
		"102": daily(day0, 10, 20, 30),
	}
	chunkB := map[string]models.Series{
		"201": daily(day0, 7, 8),
	}
	if err := WriteSimulatedParquet(filepath.Join(dir, "a.parquet"), chunkA); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := WriteSimulatedParquet(filepath.Join(dir, "b.parquet"), chunkB); err != nil {
		t.Fatalf("write b: %v", err)
	}

	ds, err := OpenSimulated(dir)
	if err != nil {
		t.Fatalf("OpenSimulated: %v", err)
	}
	if got := strings.Join(ds.Reaches(), ","); got != "101,102,201" {
		t.Errorf("Reaches = %s, want 101,102,201", got)
	}

	got, err := ds.Series("102")
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	want := chunkA["102"]
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Time.Equal(want[i].Time) || got[i].Flow != want[i].Flow {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if _, err := ds.Series("201.0"); err != nil {
		t.Errorf("Series(201.0): %v", err)
	}
	if _, err := ds.Series("999"); !errors.Is(err, ErrReachNotFound) {
		t.Errorf("unknown reach err = %v, want ErrReachNotFound", err)
	}
	if _, err := ds.Series("abc"); !errors.Is(err, ErrReachNotFound) {
		t.Errorf("non-numeric reach err = %v, want ErrReachNotFound", err)
	}
}

func TestOpenSimulatedEmptyDir(t *testing.T) {
	if _, err := OpenSimulated(t.TempDir()); err == nil {
		t.Errorf("expected error for a directory without parquet files")
	}
}

func TestReadSimulatedCSV(t *testing.T) {
	in := "datetime,101.0,102\n2010-06-01,1,10\n2010-06-02,nan,20\n"
	got, err := ReadSimulatedCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadSimulatedCSV: %v", err)
	}
	if len(got) != 2 || len(got["101"]) != 2 || len(got["102"]) != 2 {
		t.Fatalf("got %v", got)
	}
	if !math.IsNaN(got["101"][1].Flow) || got["102"][1].Flow != 20 {
		t.Errorf("values = %v %v", got["101"][1].Flow, got["102"][1].Flow)
	}
}

func TestAssignmentsRoundTrip(t *testing.T) {
	in := `model_id,asgn_mid,asgn_gid,gauge_id,cluster,x,y
101,101,G1,G1,2,10.5,-3
102.0,101,G1,,2,11,-3.5
103,,nan,,,,
`
	cols := models.DefaultColumns()
	rows, err := ReadAssignments(strings.NewReader(in), cols)
	if err != nil {
		t.Fatalf("ReadAssignments: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len = %d, want 3", len(rows))
	}
	if rows[0].Transplant() || !rows[1].Transplant() {
		t.Errorf("Transplant = %v %v, want false true", rows[0].Transplant(), rows[1].Transplant())
	}
	if rows[1].ReachID != "102" {
		t.Errorf("ReachID = %q, want 102", rows[1].ReachID)
	}
	if rows[2].GaugeID.Valid || rows[2].Cluster.Valid || rows[2].X.Valid {
		t.Errorf("row 3 = %+v, want no gauge, cluster or coordinates", rows[2])
	}
	if !rows[0].Cluster.Valid || rows[0].Cluster.Int64 != 2 || rows[0].Y.Float64 != -3 {
		t.Errorf("row 1 = %+v", rows[0])
	}

	var buf bytes.Buffer
	if err := WriteAssignments(&buf, cols, rows); err != nil {
		t.Fatalf("WriteAssignments: %v", err)
	}
	again, err := ReadAssignments(&buf, cols)
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	for i := range rows {
		if again[i] != rows[i] {
			t.Errorf("row %d = %+v, want %+v", i, again[i], rows[i])
		}
	}
}

func TestReadAssignmentsMissingColumn(t *testing.T) {
	_, err := ReadAssignments(strings.NewReader("model_id,asgn_mid\n1,1\n"), models.DefaultColumns())
	if err == nil || !strings.Contains(err.Error(), "asgn_gid") {
		t.Errorf("err = %v, want missing asgn_gid", err)
	}
}

func correctedFixture(metadata bool) *models.CorrectedSeries {
	cs := &models.CorrectedSeries{ReachID: "101", Metadata: metadata}
	for i, q := range []float64{1.25, math.NaN(), 3} {
		row := models.CorrectedRow{Time: day0.AddDate(0, 0, i), Corrected: q, Simulated: 2 * float64(i+1)}
		if metadata {
			row.Scalar = 1.5
			row.PExceed = 50 - float64(i)
		}
		cs.Rows = append(cs.Rows, row)
	}
	return cs
}

func sameFlow(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func TestCorrectedCSVRoundTrip(t *testing.T) {
	for _, metadata := range []bool{false, true} {
		cs := correctedFixture(metadata)
		var buf bytes.Buffer
		if err := WriteCorrectedCSV(&buf, models.DefaultColumns(), cs); err != nil {
			t.Fatalf("WriteCorrectedCSV: %v", err)
		}
		header := strings.SplitN(buf.String(), "\n", 2)[0]
		wantHeader := "datetime,Qmod,Qsim"
		if metadata {
			wantHeader += ",scalars,p_exceed"
		}
		if header != wantHeader {
			t.Errorf("header = %q, want %q", header, wantHeader)
		}

		got, err := ReadCorrectedCSV(&buf, models.DefaultColumns())
		if err != nil {
			t.Fatalf("ReadCorrectedCSV: %v", err)
		}
		if got.Metadata != metadata || len(got.Rows) != len(cs.Rows) {
			t.Fatalf("got metadata=%v rows=%d", got.Metadata, len(got.Rows))
		}
		for i, r := range cs.Rows {
			g := got.Rows[i]
			if !g.Time.Equal(r.Time) || !sameFlow(g.Corrected, r.Corrected) || g.Simulated != r.Simulated || g.PExceed != r.PExceed {
				t.Errorf("row %d = %+v, want %+v", i, g, r)
			}
		}
	}
}

func TestCorrectedWriterParquet(t *testing.T) {
	dir := t.TempDir()
	w := CorrectedWriter{Dir: dir, Format: "parquet", Columns: models.DefaultColumns()}
	cs := correctedFixture(true)

	path, err := w.Write(cs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if path != filepath.Join(dir, "101.parquet") {
		t.Errorf("path = %s", path)
	}
	got, err := ReadCorrectedParquet(path, models.DefaultColumns())
	if err != nil {
		t.Fatalf("ReadCorrectedParquet: %v", err)
	}
	if !got.Metadata || len(got.Rows) != 3 {
		t.Fatalf("got metadata=%v rows=%d", got.Metadata, len(got.Rows))
	}
	for i, r := range cs.Rows {
		g := got.Rows[i]
		if !g.Time.Equal(r.Time) || !sameFlow(g.Corrected, r.Corrected) || g.Scalar != r.Scalar || g.PExceed != r.PExceed {
			t.Errorf("row %d = %+v, want %+v", i, g, r)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the output file", len(entries))
	}
}

func TestCorrectedParquetColumnNames(t *testing.T) {
	cols := models.Columns{Date: "date", Corrected: "q_bc", Simulated: "q_raw"}
	for _, metadata := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "101.parquet")
		err := WriteFileAtomic(path, func(w io.Writer) error {
			return WriteCorrectedParquet(w, cols, correctedFixture(metadata))
		})
		if err != nil {
			t.Fatalf("WriteCorrectedParquet: %v", err)
		}

		if _, err := ReadCorrectedParquet(path, models.DefaultColumns()); err == nil {
			t.Error("reading with the default names should fail")
		}
		got, err := ReadCorrectedParquet(path, cols)
		if err != nil {
			t.Fatalf("ReadCorrectedParquet: %v", err)
		}
		if got.Metadata != metadata || len(got.Rows) != 3 {
			t.Fatalf("metadata=%v rows=%d, want %v and 3", got.Metadata, len(got.Rows), metadata)
		}
		if !math.IsNaN(got.Rows[1].Corrected) || got.Rows[2].Simulated != 6 {
			t.Errorf("rows = %+v", got.Rows)
		}
	}
}

func TestWriteFileAtomicFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	err := WriteFileAtomic(path, func(w io.Writer) error {
		w.Write([]byte("partial"))
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("dir has %d entries, want none", len(entries))
	}
}

func TestFTPFetcherRequiresHost(t *testing.T) {
	f := NewFTPFetcher("", "/gauges", GaugeSource{Dir: t.TempDir()})
	if _, err := f.Fetch(context.Background(), []string{"G1"}); err == nil {
		t.Error("expected error without a host")
	}
}
