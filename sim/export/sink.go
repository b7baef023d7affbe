// Package export persists finalized per-step results. The driver hands each
// completed timestep over as an immutable StepRecord; backends only differ
// in where the rows land (memory, CSV files, SQLite).
package export

import (
	"fmt"
	"sort"
	"time"
)

// Delimiter joins element name and property in flattened column labels,
// e.g. "bus12__voltage_pu".
const Delimiter = "__"

// Value is one exported quantity of one element at one step.
type Value struct {
	Class    string
	Element  string
	Property string
	Value    float64
}

// Label returns the flattened element__property label for the value.
func (v Value) Label() string { return v.Element + Delimiter + v.Property }

// StepRecord is the finalized outcome of one timestep. Converged and
// IterationsUsed carry the convergence annotation so downstream consumers
// can filter non-converged steps.
type StepRecord struct {
	StepIndex      int
	Timestamp      time.Time
	Converged      bool
	IterationsUsed int
	Values         []Value
}

// ReportRecord is one row of a named end-of-run report.
type ReportRecord struct {
	Report  string
	Element string
	Value   float64
}

// Config selects backend behavior. It mirrors the exports settings group
// without depending on the sim package.
type Config struct {
	Mode          string // byClass or byElement value ordering
	Style         string // single or separate CSV files
	Compression   bool   // gzip CSV output
	OutputDir     string
	MaxChunkBytes int // flush threshold for buffered backends
}

// Sink receives finalized results. WriteStep is called once per timestep in
// step order; WriteReport is called at run end; Close flushes and releases
// the backend.
type Sink interface {
	Open() error
	WriteStep(rec StepRecord) error
	WriteReport(rec ReportRecord) error
	Close() error
}

// NewSink builds the backend named by the result-container selector.
func NewSink(container string, cfg Config) (Sink, error) {
	switch container {
	case "memory":
		return NewMemorySink(), nil
	case "csv":
		return NewCSVSink(cfg), nil
	case "sqlite":
		return NewSQLiteSink(cfg), nil
	}
	return nil, fmt.Errorf("unknown result container %q", container)
}

// OrderValues sorts values in place for deterministic export: byClass
// groups by (class, element, property), byElement by (element, class,
// property).
func OrderValues(values []Value, mode string) {
	byElement := mode == "byElement"
	sort.Slice(values, func(i, j int) bool {
		a, b := values[i], values[j]
		if byElement {
			if a.Element != b.Element {
				return a.Element < b.Element
			}
			if a.Class != b.Class {
				return a.Class < b.Class
			}
		} else {
			if a.Class != b.Class {
				return a.Class < b.Class
			}
			if a.Element != b.Element {
				return a.Element < b.Element
			}
		}
		return a.Property < b.Property
	})
}
