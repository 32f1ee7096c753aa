package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/lox/flowcorrect/internal/batch"
	"github.com/lox/flowcorrect/internal/figures"
	"github.com/lox/flowcorrect/internal/ingest"
	"github.com/lox/flowcorrect/internal/metrics"
	"github.com/lox/flowcorrect/internal/models"
	"github.com/lox/flowcorrect/internal/validate"
)

const metricsCSV = "bootstrap_metrics.csv"

func (a *app) driver(command string) (*batch.Driver, error) {
	sim, err := ingest.OpenSimulated(a.cfg.SimulatedDir)
	if err != nil {
		return nil, err
	}
	log.Printf("simulated: %d reaches in %s", len(sim.Reaches()), a.cfg.SimulatedDir)
	opts, err := a.cfg.Correction.Options()
	if err != nil {
		return nil, err
	}
	st, err := a.ledger()
	if err != nil {
		return nil, err
	}
	return &batch.Driver{
		Simulated: sim,
		Observed:  ingest.GaugeSource{Dir: a.cfg.ObservedDir},
		Store:     st,
		Options:   opts,
		Workers:   a.cfg.Workers,
		Command:   command,
		Verbose:   a.verbose,
	}, nil
}

type CorrectCmd struct {
	OutputDir string   `help:"Directory for corrected series, overrides the config." type:"path"`
	Format    string   `help:"Output format (csv or parquet), overrides the config."`
	Reach     []string `help:"Only correct these reach ids." short:"r"`
}

func (c *CorrectCmd) Run(a *app) error {
	rows, err := a.assignments()
	if err != nil {
		return err
	}
	if len(c.Reach) > 0 {
		rows = filterReaches(rows, c.Reach)
	}
	d, err := a.driver("correct")
	if err != nil {
		return err
	}
	out := ingest.CorrectedWriter{Dir: a.cfg.OutputDir, Format: a.cfg.OutputFormat, Columns: a.cfg.Columns}
	if c.OutputDir != "" {
		out.Dir = c.OutputDir
	}
	switch c.Format {
	case "":
	case "csv", "parquet":
		out.Format = c.Format
	default:
		return fmt.Errorf("--format %q: want csv or parquet", c.Format)
	}
	d.Output = out

	sum, err := d.Run(a.ctx, rows)
	if err != nil {
		return err
	}
	fmt.Printf("corrected %d, skipped %d, failed %d -> %s\n", sum.Corrected, sum.Skipped, sum.Failed, out.Dir)
	return sum.Err.ErrorOrNil()
}

func filterReaches(rows []models.Assignment, ids []string) []models.Assignment {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[ingest.NormalizeReachID(id)] = true
	}
	var out []models.Assignment
	for _, r := range rows {
		if want[r.ReachID] {
			out = append(out, r)
		}
	}
	return out
}

type BootstrapCmd struct {
	OutputDir string `help:"Directory for the metrics CSV and figures, overrides the config." type:"path"`
	NoFigures bool   `help:"Skip the histogram figures."`
}

func (c *BootstrapCmd) Run(a *app) error {
	rows, err := a.assignments()
	if err != nil {
		return err
	}
	d, err := a.driver("bootstrap")
	if err != nil {
		return err
	}
	dir := a.cfg.Bootstrap.OutputDir
	if c.OutputDir != "" {
		dir = c.OutputDir
	}

	b := &validate.Bootstrap{Driver: d, Store: d.Store, Workers: a.cfg.Workers}
	res, err := b.Run(a.ctx, rows)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, metricsCSV)
	if err := ingest.WriteFileAtomic(path, func(w io.Writer) error {
		return validate.WriteMetricsCSV(w, a.cfg.Columns, res.Metrics)
	}); err != nil {
		return err
	}
	fmt.Printf("validated %d gauges, %d failed -> %s\n", len(res.Metrics), res.Failed, path)

	if c.NoFigures {
		return nil
	}
	paths, err := figures.WriteAll(dir, res.Metrics)
	for _, p := range paths {
		fmt.Println(p)
	}
	return err
}

type FiguresCmd struct {
	Metrics   string `help:"Bootstrap metrics CSV. Defaults to the one in the bootstrap output directory." type:"path"`
	Batch     string `help:"Read metrics from this ledger batch instead of a CSV."`
	Stat      string `help:"Only render this statistic (me, mae, rmse, nse, kge)."`
	OutputDir string `help:"Directory for the figures, overrides the config." type:"path"`
}

func (c *FiguresCmd) Run(a *app) error {
	ms, err := c.load(a)
	if err != nil {
		return err
	}
	dir := a.cfg.Bootstrap.OutputDir
	if c.OutputDir != "" {
		dir = c.OutputDir
	}
	if c.Stat != "" {
		p, err := figures.WriteFile(dir, ms, c.Stat)
		if err != nil {
			return err
		}
		fmt.Println(p)
		return nil
	}
	paths, err := figures.WriteAll(dir, ms)
	for _, p := range paths {
		fmt.Println(p)
	}
	return err
}

func (c *FiguresCmd) load(a *app) ([]models.ValidationMetrics, error) {
	if c.Batch != "" {
		st, err := a.ledger()
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, fmt.Errorf("--batch needs a ledger database")
		}
		return st.ListValidationMetrics(c.Batch)
	}
	path := c.Metrics
	if path == "" {
		path = filepath.Join(a.cfg.Bootstrap.OutputDir, metricsCSV)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return validate.ReadMetricsCSV(f, a.cfg.Columns)
}

type FetchGaugesCmd struct {
	Gauges []string `arg:"" optional:"" help:"Gauge ids. Defaults to every gauge named in the assignment table."`
	Host   string   `help:"FTP host:port, overrides the config." env:"FLOWCORRECT_FTP_HOST"`
}

func (c *FetchGaugesCmd) Run(a *app) error {
	ids := c.Gauges
	if len(ids) == 0 {
		rows, err := a.assignments()
		if err != nil {
			return err
		}
		ids = gaugeIDs(rows)
	}
	ftpCfg := a.cfg.FTP
	if c.Host != "" {
		ftpCfg.Host = c.Host
	}

	f := ingest.NewFTPFetcher(ftpCfg.Host, ftpCfg.Dir, ingest.GaugeSource{Dir: a.cfg.ObservedDir})
	f.User, f.Password = ftpCfg.User, ftpCfg.Password

	res, err := f.Fetch(a.ctx, ids)
	metrics.GaugesFetched.WithLabelValues("ok").Add(float64(res.Fetched))
	metrics.GaugesFetched.WithLabelValues("missing").Add(float64(len(res.Missing)))
	if err != nil {
		metrics.GaugesFetched.WithLabelValues("error").Inc()
		return err
	}
	fmt.Printf("fetched %d gauges, %d missing\n", res.Fetched, len(res.Missing))
	if len(res.Missing) > 0 {
		fmt.Printf("missing: %s\n", strings.Join(res.Missing, ", "))
	}
	return nil
}

// gaugeIDs lists every distinct gauge named in rows, sorted.
func gaugeIDs(rows []models.Assignment) []string {
	seen := map[string]bool{}
	for _, r := range rows {
		if r.GaugeID.Valid {
			seen[r.GaugeID.String] = true
		}
		if r.GaugeOfRecord.Valid {
			seen[r.GaugeOfRecord.String] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type ImportSimCmd struct {
	Input string `arg:"" help:"Wide CSV: a date column, then one column per reach id." type:"existingfile"`
	Chunk string `help:"Chunk file name inside the simulated directory." default:"simulated.parquet"`
}

func (c *ImportSimCmd) Run(a *app) error {
	f, err := os.Open(c.Input)
	if err != nil {
		return err
	}
	defer f.Close()
	reaches, err := ingest.ReadSimulatedCSV(f)
	if err != nil {
		return err
	}
	path := filepath.Join(a.cfg.SimulatedDir, c.Chunk)
	if err := ingest.WriteSimulatedParquet(path, reaches); err != nil {
		return err
	}
	log.Printf("import-sim: wrote %d reaches to %s", len(reaches), path)
	return nil
}

type RunsCmd struct {
	Limit int    `help:"Number of batches to list." default:"10"`
	Batch string `help:"Show the per-mode summary and failures of one batch."`
}

func (c *RunsCmd) Run(a *app) error {
	st, err := a.ledger()
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("runs needs a ledger database")
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if c.Batch == "" {
		batches, err := st.ListBatches(c.Limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "BATCH\tSTARTED\tCORRECTED\tSKIPPED\tFAILED")
		for _, b := range batches {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", b.ID, b.StartedAt.Format("2006-01-02 15:04:05"), b.Corrected, b.Skipped, b.Failed)
		}
		return nil
	}

	summary, err := st.GetRunSummary(c.Batch)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "MODE\tSTATUS\tRUNS\tROWS")
	for _, s := range summary {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", s.Mode, s.Status, s.Runs, s.RowsWritten)
	}
	failures, err := st.GetBatchFailures(c.Batch, c.Limit)
	if err != nil {
		return err
	}
	for _, f := range failures {
		fmt.Fprintf(tw, "failed\t%s\t%s\t\n", f.ReachID, f.ErrorMessage.String)
	}
	return nil
}
