package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/lox/flowcorrect/internal/correction"
	"github.com/lox/flowcorrect/internal/ingest"
	"github.com/lox/flowcorrect/internal/metrics"
	"github.com/lox/flowcorrect/internal/models"
	"github.com/lox/flowcorrect/internal/store"
)

// SimulatedSource returns the simulated discharge of a reach.
type SimulatedSource interface {
	Series(reachID string) (models.Series, error)
}

// ObservedSource returns the observed record of a gauge.
type ObservedSource interface {
	Load(gaugeID string) (models.Series, error)
}

// Writer persists a corrected series and returns where it went.
type Writer interface {
	Write(cs *models.CorrectedSeries) (string, error)
}

// ErrNoData marks a reach whose correction produced no rows because no month
// had data on both sides.
var ErrNoData = errors.New("no overlapping data")

// ReachError is the failure of one reach.
type ReachError struct {
	ReachID string
	Err     error
}

func (e *ReachError) Error() string { return fmt.Sprintf("reach %s: %v", e.ReachID, e.Err) }
func (e *ReachError) Unwrap() error { return e.Err }

// Summary counts the outcome of a batch. Err aggregates every failed reach.
type Summary struct {
	BatchID   string
	Corrected int
	Skipped   int
	Failed    int
	Err       *multierror.Error
}

// BatchOptions returns the mapping options used for transplanted reaches.
func BatchOptions() correction.Options {
	opts := correction.DefaultOptions()
	opts.DropOutliers = true
	opts.OutlierThreshold = correction.DefaultOutlierThreshold
	opts.FitGumbel = true
	opts.FitRange = correction.Range{Lo: 5, Hi: 95}
	return opts
}

// Driver corrects every row of an assignment table on a bounded worker pool.
// One reach failing never stops the others.
type Driver struct {
	Simulated SimulatedSource
	Observed  ObservedSource
	Output    Writer       // nil: correct without persisting
	Store     *store.Store // nil: no ledger
	Options   correction.Options
	Workers   int
	Command   string
	Verbose   bool
}

func (d *Driver) command() string {
	if d.Command == "" {
		return "correct"
	}
	return d.Command
}

func (d *Driver) workers() int {
	if d.Workers > 0 {
		return d.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (d *Driver) debugf(format string, args ...any) {
	if d.Verbose {
		log.Printf("batch: "+format, args...)
	}
}

// Correct runs the correction for one assignment without persisting it.
// Reaches assigned to themselves use the monthly FDC mapping; all others use
// the scalar curve learned at the assigned reach.
func (d *Driver) Correct(a models.Assignment) (cs *models.CorrectedSeries, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !a.GaugeID.Valid {
		return nil, errors.New("no assigned gauge")
	}
	obs, err := d.Observed.Load(a.GaugeID.String)
	if err != nil {
		return nil, err
	}
	sim, err := d.Simulated.Series(a.ReachID)
	if err != nil {
		return nil, err
	}

	if a.Transplant() {
		simA, err := d.Simulated.Series(a.AssignedReachID)
		if err != nil {
			return nil, err
		}
		opts := d.Options
		if opts == (correction.Options{}) {
			opts = BatchOptions()
		}
		cs, err = correction.SFDCMapping(simA, obs, sim, opts)
	} else {
		cs, err = correction.FDCMapping(sim, obs)
	}
	if err != nil {
		return nil, err
	}
	if len(cs.Rows) == 0 {
		return nil, ErrNoData
	}
	cs.ReachID = a.ReachID
	return cs, nil
}

func modeOf(a models.Assignment) string {
	switch {
	case !a.GaugeID.Valid:
		return store.ModeSkipped
	case a.Transplant():
		return store.ModeTransplant
	default:
		return store.ModeSelf
	}
}

// unavailable reports errors that mean the inputs for a reach do not exist,
// as opposed to the correction failing.
func unavailable(err error) bool {
	return errors.Is(err, ingest.ErrGaugeNotFound) ||
		errors.Is(err, ingest.ErrReachNotFound) ||
		errors.Is(err, ErrNoData)
}

// Run corrects every assignment. It returns an error only when the batch
// cannot be recorded or ctx is cancelled; per-reach failures are in the
// Summary.
func (d *Driver) Run(ctx context.Context, rows []models.Assignment) (*Summary, error) {
	sum := &Summary{}
	var b *store.Batch
	if d.Store != nil {
		var err error
		if b, err = d.Store.StartBatch(d.command()); err != nil {
			return nil, fmt.Errorf("start batch: %w", err)
		}
		sum.BatchID = b.ID
	}

	log.Printf("batch: %s: %d reaches on %d workers", d.command(), len(rows), d.workers())
	start := time.Now()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.workers())
	for _, a := range rows {
		if ctx.Err() != nil {
			break
		}
		a := a
		g.Go(func() error {
			status, err := d.process(sum.BatchID, a)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case store.StatusOK:
				sum.Corrected++
			case store.StatusSkipped:
				sum.Skipped++
			default:
				sum.Failed++
				sum.Err = multierror.Append(sum.Err, &ReachError{ReachID: a.ReachID, Err: err})
			}
			return nil
		})
	}
	g.Wait()

	log.Printf("batch: %s: corrected=%d skipped=%d failed=%d in %s",
		d.command(), sum.Corrected, sum.Skipped, sum.Failed, time.Since(start).Round(time.Millisecond))

	if b != nil {
		b.Corrected, b.Skipped, b.Failed = sum.Corrected, sum.Skipped, sum.Failed
		if err := d.Store.CompleteBatch(b); err != nil {
			log.Printf("batch: complete batch %s: %v", b.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (d *Driver) process(batchID string, a models.Assignment) (string, error) {
	mode := modeOf(a)
	start := time.Now()

	var run *store.CorrectionRun
	if d.Store != nil {
		var err error
		assigned := sql.NullString{String: a.AssignedReachID, Valid: a.AssignedReachID != ""}
		run, err = d.Store.StartRun(batchID, a.ReachID, mode, assigned, a.GaugeID)
		if err != nil {
			log.Printf("batch: ledger start %s: %v", a.ReachID, err)
		}
	}

	status, rows, path, err := d.correctAndWrite(a, mode)

	switch status {
	case store.StatusOK:
		d.debugf("reach %s: %s correction, %d rows -> %s", a.ReachID, mode, rows, path)
	case store.StatusSkipped:
		if err != nil {
			log.Printf("batch: reach %s skipped: %v", a.ReachID, err)
		} else {
			d.debugf("reach %s skipped: no assigned gauge", a.ReachID)
		}
	default:
		log.Printf("batch: reach %s failed: %v", a.ReachID, err)
	}

	metrics.ReachesTotal.WithLabelValues(d.command(), mode, status).Inc()
	metrics.ReachDuration.WithLabelValues(d.command(), mode).Observe(time.Since(start).Seconds())
	if rows > 0 {
		metrics.RowsWritten.WithLabelValues(d.command()).Add(float64(rows))
	}

	if run != nil {
		run.Status = status
		if rows > 0 {
			run.RowsWritten = sql.NullInt64{Int64: int64(rows), Valid: true}
		}
		if path != "" {
			run.OutputPath = sql.NullString{String: path, Valid: true}
		}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if err := d.Store.CompleteRun(run); err != nil {
			log.Printf("batch: ledger complete %s: %v", a.ReachID, err)
		}
	}
	return status, err
}

func (d *Driver) correctAndWrite(a models.Assignment, mode string) (status string, rows int, path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, rows, path, err = store.StatusFailed, 0, "", fmt.Errorf("panic: %v", r)
		}
	}()
	if mode == store.ModeSkipped {
		return store.StatusSkipped, 0, "", nil
	}
	cs, err := d.Correct(a)
	if err != nil {
		if unavailable(err) {
			return store.StatusSkipped, 0, "", err
		}
		return store.StatusFailed, 0, "", err
	}
	if d.Output != nil {
		if path, err = d.Output.Write(cs); err != nil {
			return store.StatusFailed, 0, "", err
		}
	}
	return store.StatusOK, len(cs.Rows), path, nil
}
