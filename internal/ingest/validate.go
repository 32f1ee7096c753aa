package ingest

import (
	"encoding/json"
	"math"
)

const (
	FlagFlowNonFinite   = "flow_non_finite"
	FlagFlowNegative    = "flow_negative"
	FlagFlowUnlikely    = "flow_unlikely"
	FlagFlowUnparseable = "flow_unparseable"
)

// Larger than any river on record, in m³/s.
const maxPlausibleFlow = 500000

// ValidateFlow returns the quality flags raised by a discharge value. A NaN
// is a missing value and raises nothing.
func ValidateFlow(v float64) []string {
	var flags []string

	if math.IsNaN(v) {
		return nil
	}
	if math.IsInf(v, 0) {
		return append(flags, FlagFlowNonFinite)
	}
	if v < 0 {
		flags = append(flags, FlagFlowNegative)
	}
	if v > maxPlausibleFlow {
		flags = append(flags, FlagFlowUnlikely)
	}

	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
