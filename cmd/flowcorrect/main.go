package main

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/lox/flowcorrect/internal/config"
	"github.com/lox/flowcorrect/internal/ingest"
	"github.com/lox/flowcorrect/internal/metrics"
	"github.com/lox/flowcorrect/internal/models"
	"github.com/lox/flowcorrect/internal/store"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config      string `help:"YAML configuration file." short:"c" type:"path" env:"FLOWCORRECT_CONFIG"`
	DB          string `help:"SQLite run ledger, overrides the config. Use 'none' to disable." type:"path" env:"FLOWCORRECT_DB"`
	Workers     int    `help:"Worker pool size, overrides the config."`
	MetricsFile string `help:"Write Prometheus metrics to this textfile on exit." type:"path" env:"FLOWCORRECT_METRICS_FILE"`
	Verbose     bool   `help:"Log every reach." short:"v"`
}

type CLI struct {
	Globals

	Correct     CorrectCmd     `cmd:"" help:"Bias-correct every reach in the assignment table."`
	Bootstrap   BootstrapCmd   `cmd:"" help:"Leave-one-gauge-out validation of the assignment table."`
	Figures     FiguresCmd     `cmd:"" help:"Render bootstrap histograms from a metrics CSV or ledger batch."`
	FetchGauges FetchGaugesCmd `cmd:"" name:"fetch-gauges" help:"Mirror observed gauge records from FTP."`
	ImportSim   ImportSimCmd   `cmd:"" name:"import-sim" help:"Convert a wide simulated-flow CSV into a parquet chunk."`
	Runs        RunsCmd        `cmd:"" help:"Show recent batches from the run ledger."`
}

// app is the resolved runtime handed to every command.
type app struct {
	ctx     context.Context
	cfg     config.Config
	verbose bool

	db    *sql.DB
	store *store.Store
}

func newApp(ctx context.Context, g Globals) (*app, error) {
	cfg, err := config.LoadFile(g.Config)
	if err != nil {
		return nil, err
	}
	if g.DB != "" {
		cfg.Database = g.DB
	}
	if g.Workers > 0 {
		cfg.Workers = g.Workers
	}
	return &app{ctx: ctx, cfg: cfg, verbose: g.Verbose}, nil
}

// ledger opens the run ledger on first use. It returns nil when the ledger
// is disabled.
func (a *app) ledger() (*store.Store, error) {
	if a.store != nil || a.cfg.Database == "" || a.cfg.Database == "none" {
		return a.store, nil
	}
	st, db, err := store.Open(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.store, a.db = st, db
	return st, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) assignments() ([]models.Assignment, error) {
	f, err := os.Open(a.cfg.Assignments)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ingest.ReadAssignments(f, a.cfg.Columns)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d assignment rows from %s", len(rows), a.cfg.Assignments)
	return rows, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("flowcorrect"),
		kong.Description("Flow duration curve bias correction for simulated river discharge."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cli.Globals)
	kctx.FatalIfErrorf(err)

	err = kctx.Run(a)
	a.close()
	if merr := metrics.WriteTextfile(cli.MetricsFile); merr != nil {
		log.Printf("write metrics: %v", merr)
	}
	kctx.FatalIfErrorf(err)
}
