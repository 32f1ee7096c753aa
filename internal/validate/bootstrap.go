package validate

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lox/flowcorrect/internal/batch"
	"github.com/lox/flowcorrect/internal/metrics"
	"github.com/lox/flowcorrect/internal/models"
	"github.com/lox/flowcorrect/internal/store"
)

// Bootstrap runs leave-one-gauge-out validation: each gauged reach is
// corrected from its nearest other gauge and scored against its own record.
type Bootstrap struct {
	Driver  *batch.Driver
	Store   *store.Store
	Workers int
}

// Result is the output of a bootstrap run.
type Result struct {
	BatchID string
	Metrics []models.ValidationMetrics
	Failed  int
}

// Run validates every gauged row. A row that fails is logged and left out.
func (b *Bootstrap) Run(ctx context.Context, rows []models.Assignment) (*Result, error) {
	res := &Result{}
	var bt *store.Batch
	if b.Store != nil {
		var err error
		if bt, err = b.Store.StartBatch("bootstrap"); err != nil {
			return nil, fmt.Errorf("start batch: %w", err)
		}
		res.BatchID = bt.ID
	}

	var gauged []int
	for i, a := range rows {
		if _, ok := GaugeOf(a); ok {
			gauged = append(gauged, i)
		}
	}
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log.Printf("bootstrap: validating %d gauged reaches on %d workers", len(gauged), workers)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)
	for _, idx := range gauged {
		if ctx.Err() != nil {
			break
		}
		idx := idx
		g.Go(func() error {
			m, err := b.validateOne(rows, idx)
			status := store.StatusOK
			if err != nil {
				status = store.StatusFailed
				log.Printf("bootstrap: reach %s: %v", rows[idx].ReachID, err)
			}
			metrics.ReachesTotal.WithLabelValues("bootstrap", store.ModeBootstrap, status).Inc()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				return nil
			}
			res.Metrics = append(res.Metrics, m)
			if b.Store != nil {
				if err := b.Store.InsertValidationMetrics(res.BatchID, m); err != nil {
					log.Printf("bootstrap: store metrics %s: %v", m.ReachID, err)
				}
			}
			return nil
		})
	}
	g.Wait()

	sortMetrics(res.Metrics)
	log.Printf("bootstrap: %d validated, %d failed", len(res.Metrics), res.Failed)

	if bt != nil {
		bt.Corrected, bt.Failed = len(res.Metrics), res.Failed
		bt.Skipped = len(rows) - len(gauged)
		if err := b.Store.CompleteBatch(bt); err != nil {
			log.Printf("bootstrap: complete batch %s: %v", bt.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (b *Bootstrap) validateOne(rows []models.Assignment, idx int) (models.ValidationMetrics, error) {
	heldGauge, _ := GaugeOf(rows[idx])
	asgn, err := Reassign(rows, idx)
	if err != nil {
		return models.ValidationMetrics{}, err
	}

	cs, err := b.Driver.Correct(asgn)
	if err != nil {
		return models.ValidationMetrics{}, err
	}
	obs, err := b.Driver.Observed.Load(heldGauge)
	if err != nil {
		return models.ValidationMetrics{}, err
	}

	o, sim, mod := Join(obs, cs)
	if len(o) < 2 {
		return models.ValidationMetrics{}, fmt.Errorf("only %d overlapping days with gauge %s", len(o), heldGauge)
	}
	m := Compute(o, sim, mod)
	m.ReachID = asgn.ReachID
	m.GaugeID = heldGauge
	m.AssignedReachID = asgn.AssignedReachID
	m.AssignedGaugeID = asgn.GaugeID.String
	return m, nil
}
