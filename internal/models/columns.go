package models

// Columns names every column read from or written to tabular files. One
// value is built from configuration and handed to each reader and writer.
type Columns struct {
	ReachID         string `yaml:"reach_id"`
	AssignedReachID string `yaml:"assigned_reach_id"`
	GaugeID         string `yaml:"assigned_gauge_id"`
	GaugeOfRecord   string `yaml:"gauge_id"`
	Cluster         string `yaml:"cluster"`
	X               string `yaml:"x"`
	Y               string `yaml:"y"`

	Date      string `yaml:"date"`
	Simulated string `yaml:"simulated"`
	Observed  string `yaml:"observed"`
	Corrected string `yaml:"corrected"`
	Scalar    string `yaml:"scalar"`
	PExceed   string `yaml:"p_exceed"`
}

// DefaultColumns returns the column names of the standard assignment and
// output tables.
func DefaultColumns() Columns {
	return Columns{
		ReachID:         "model_id",
		AssignedReachID: "asgn_mid",
		GaugeID:         "asgn_gid",
		GaugeOfRecord:   "gauge_id",
		Cluster:         "cluster",
		X:               "x",
		Y:               "y",
		Date:            "datetime",
		Simulated:       "Qsim",
		Observed:        "Qobs",
		Corrected:       "Qmod",
		Scalar:          "scalars",
		PExceed:         "p_exceed",
	}
}

// WithDefaults fills any empty name from DefaultColumns.
func (c Columns) WithDefaults() Columns {
	d := DefaultColumns()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&c.ReachID, d.ReachID)
	fill(&c.AssignedReachID, d.AssignedReachID)
	fill(&c.GaugeID, d.GaugeID)
	fill(&c.GaugeOfRecord, d.GaugeOfRecord)
	fill(&c.Cluster, d.Cluster)
	fill(&c.X, d.X)
	fill(&c.Y, d.Y)
	fill(&c.Date, d.Date)
	fill(&c.Simulated, d.Simulated)
	fill(&c.Observed, d.Observed)
	fill(&c.Corrected, d.Corrected)
	fill(&c.Scalar, d.Scalar)
	fill(&c.PExceed, d.PExceed)
	return c
}
