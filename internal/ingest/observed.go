package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/flowcorrect/internal/models"
)

var (
	ErrGaugeNotFound = errors.New("gauge not found")
	ErrReachNotFound = errors.New("reach not found")
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05-07:00",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// parseFlow parses a discharge cell. Empty cells and the usual NaN spellings
// are missing values.
func parseFlow(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "na", "null", "none":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ReadObservedCSV reads a gauge record: the first column is the date and the
// second the discharge. A header row is detected by an unparseable first
// date. Values that fail ValidateFlow become missing and their flags are
// returned. Duplicate dates keep the first value.
func ReadObservedCSV(r io.Reader) (models.Series, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		series models.Series
		seen   = make(map[time.Time]bool)
		raised = make(map[string]bool)
		line   int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		line++
		if len(rec) < 2 {
			return nil, nil, fmt.Errorf("line %d: want date and discharge, got %d fields", line, len(rec))
		}

		t, err := parseDate(rec[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		if seen[t] {
			continue
		}
		seen[t] = true

		v, err := parseFlow(rec[1])
		if err != nil {
			raised[FlagFlowUnparseable] = true
			v = math.NaN()
		}
		if flags := ValidateFlow(v); len(flags) > 0 {
			for _, f := range flags {
				raised[f] = true
			}
			v = math.NaN()
		}
		series = append(series, models.Point{Time: t, Flow: v})
	}

	series.SortByTime()
	var flags []string
	for f := range raised {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	return series, flags, nil
}

// GaugeSource loads observed records stored as <Dir>/<gauge id>.csv.
type GaugeSource struct {
	Dir string
}

func (g GaugeSource) Path(gaugeID string) string {
	return filepath.Join(g.Dir, gaugeID+".csv")
}

// Load reads one gauge record. A missing file wraps ErrGaugeNotFound.
func (g GaugeSource) Load(gaugeID string) (models.Series, error) {
	f, err := os.Open(g.Path(gaugeID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrGaugeNotFound, gaugeID)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	series, flags, err := ReadObservedCSV(f)
	if err != nil {
		return nil, fmt.Errorf("gauge %s: %w", gaugeID, err)
	}
	if len(flags) > 0 {
		log.Printf("observed: gauge %s: values dropped for %s", gaugeID, QualityFlagsToJSON(flags))
	}
	return series, nil
}
