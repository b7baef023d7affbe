package sim

import (
	"strings"
)

// SimulationType selects how many timestamps the clock produces and how the
// driver treats them.
type SimulationType string

const (
	Snapshot SimulationType = "Snapshot"
	Static   SimulationType = "Static"
	QSTS     SimulationType = "QSTS"
	Dynamic  SimulationType = "Dynamic"
)

// ControlMode governs whether controller internal state carries across
// timesteps (Time) or is reset between them (Static).
type ControlMode string

const (
	ControlStatic ControlMode = "Static"
	ControlTime   ControlMode = "Time"
)

// ProjectSettings is the project group of the settings file: simulation
// window, convergence budget, control mode, and project/scenario references.
type ProjectSettings struct {
	SimulationType       SimulationType `mapstructure:"simulation_type"`
	StartYear            int            `mapstructure:"start_year"`
	StartDay             int            `mapstructure:"start_day"`
	StartTimeMin         float64        `mapstructure:"start_time_min"`
	EndDay               float64        `mapstructure:"end_day"`
	EndTimeMin           float64        `mapstructure:"end_time_min"`
	DateOffsetDays       int            `mapstructure:"date_offset_days"`
	StepResolutionSec    float64        `mapstructure:"step_resolution_sec"`
	MaxControlIterations int            `mapstructure:"max_control_iterations"`
	ErrorTolerancePU     float64        `mapstructure:"error_tolerance_pu"`
	ControlMode          ControlMode    `mapstructure:"control_mode"`
	DisableControllers   bool           `mapstructure:"disable_controllers"`
	ReturnResults        bool           `mapstructure:"return_results"`
	ProjectPath          string         `mapstructure:"project_path"`
	ActiveScenario       string         `mapstructure:"active_scenario"`
	DSSFile              string         `mapstructure:"dss_file"`
}

// Window returns the simulation window resolved from the project settings.
func (p ProjectSettings) Window() SimulationWindow {
	return SimulationWindow{
		StartYear:         p.StartYear,
		StartDay:          p.StartDay,
		StartTimeMin:      p.StartTimeMin,
		EndDay:            p.EndDay,
		EndTimeMin:        p.EndTimeMin,
		DateOffsetDays:    p.DateOffsetDays,
		StepResolutionSec: p.StepResolutionSec,
	}
}

// Convergence returns the outer-loop budget for the convergence loop.
func (p ProjectSettings) Convergence() ConvergenceConfig {
	return ConvergenceConfig{
		MaxControlIterations: p.MaxControlIterations,
		ErrorTolerancePU:     p.ErrorTolerancePU,
		DisableControllers:   p.DisableControllers,
	}
}

// ConvergenceConfig is the budget the convergence loop runs under.
type ConvergenceConfig struct {
	MaxControlIterations int
	ErrorTolerancePU     float64
	DisableControllers   bool
}

// ExportMode orders exported values by element class or by element name.
type ExportMode string

const (
	ExportByClass   ExportMode = "byClass"
	ExportByElement ExportMode = "byElement"
)

// ExportStyle selects one file for the whole run or one file per class.
type ExportStyle string

const (
	ExportSingleFile    ExportStyle = "single"
	ExportSeparateFiles ExportStyle = "separate"
)

// ExportSettings is the exports group of the settings file.
type ExportSettings struct {
	Mode             ExportMode  `mapstructure:"mode"`
	Style            ExportStyle `mapstructure:"style"`
	Format           string      `mapstructure:"format"` // csv; h5 is recognized but unsupported
	Compression      bool        `mapstructure:"compression"`
	IterationOrder   string      `mapstructure:"iteration_order"`
	ExportElements   bool        `mapstructure:"export_elements"`
	ExportDataTables bool        `mapstructure:"export_data_tables"`
	ExportInMemory   bool        `mapstructure:"export_in_memory"`
	ExportPVProfiles bool        `mapstructure:"export_pv_profiles"`
	MaxChunkBytes    int         `mapstructure:"max_chunk_bytes"`
	EventLog         bool        `mapstructure:"event_log"`
	ResultsLogging   bool        `mapstructure:"results_logging"`
	ResultContainer  string      `mapstructure:"result_container"` // memory, csv, sqlite
	OutputDir        string      `mapstructure:"output_dir"`
}

// FrequencySettings is the frequency group: harmonic sweep bounds. The sweep
// itself runs outside this module; the values are validated and carried so a
// solver service can consume them.
type FrequencySettings struct {
	HarmonicSweep     bool    `mapstructure:"harmonic_sweep"`
	FundamentalHz     float64 `mapstructure:"fundamental_hz"`
	StartMultiplier   float64 `mapstructure:"start_multiplier"`
	EndMultiplier     float64 `mapstructure:"end_multiplier"`
	Increment         float64 `mapstructure:"increment"`
	NeglectShunt      bool    `mapstructure:"neglect_shunt"`
	PercentSeriesLoad float64 `mapstructure:"percent_series_load"`
}

// HelicsSettings is the federation group of the settings file.
type HelicsSettings struct {
	Enabled         bool    `mapstructure:"enabled"`
	IterativeMode   bool    `mapstructure:"iterative_mode"`
	ErrorTolerance  float64 `mapstructure:"error_tolerance"`
	MaxCoIterations int     `mapstructure:"max_co_iterations"`
	Broker          string  `mapstructure:"broker"`
	BrokerPort      int     `mapstructure:"broker_port"`
	FederateName    string  `mapstructure:"federate_name"`
	TimeDeltaSec    float64 `mapstructure:"time_delta_sec"`
	CoreType        string  `mapstructure:"core_type"` // nats, loopback
	Uninterruptible bool    `mapstructure:"uninterruptible"`
	LogLevel        string  `mapstructure:"log_level"`
}

// LoggingSettings is the logging group of the settings file.
type LoggingSettings struct {
	Level         string `mapstructure:"level"`
	ExternalFile  bool   `mapstructure:"external_file"`
	ScreenDisplay bool   `mapstructure:"screen_display"`
	ClearOnStart  bool   `mapstructure:"clear_on_start"`
	Preconfigured bool   `mapstructure:"preconfigured"`
}

// ReportSettings is the reports group: output format plus independently
// enable-able named report types.
type ReportSettings struct {
	Format string          `mapstructure:"format"`
	Types  map[string]bool `mapstructure:"types"`
}

// Recognized report type names.
const (
	ReportCapacitorStateChange = "capacitor_state_change"
	ReportRegulatorTapChange   = "regulator_tap_change"
	ReportPVClipping           = "pv_clipping"
	ReportPVCurtailment        = "pv_curtailment"
)

var knownReports = map[string]bool{
	ReportCapacitorStateChange: true,
	ReportRegulatorTapChange:   true,
	ReportPVClipping:           true,
	ReportPVCurtailment:        true,
}

// Settings is the full, typed configuration surface. It is loaded once at
// startup, validated, and passed explicitly to the driver and its
// collaborators; nothing reads ambient configuration during the loop.
type Settings struct {
	Project   ProjectSettings   `mapstructure:"project"`
	Exports   ExportSettings    `mapstructure:"exports"`
	Frequency FrequencySettings `mapstructure:"frequency"`
	Helics    HelicsSettings    `mapstructure:"helics"`
	Logging   LoggingSettings   `mapstructure:"logging"`
	Reports   ReportSettings    `mapstructure:"reports"`
}

// Validate checks every group and returns the first ConfigurationError. All
// failures here are pre-run by construction: the driver refuses to start on
// an unvalidated Settings.
func (s *Settings) Validate() error {
	p := s.Project
	switch p.SimulationType {
	case Snapshot, Static, QSTS, Dynamic:
	default:
		return NewConfigurationError("project.simulation_type",
			"unknown simulation type %q", p.SimulationType)
	}
	switch p.ControlMode {
	case ControlStatic, ControlTime:
	default:
		return NewConfigurationError("project.control_mode",
			"unknown control mode %q", p.ControlMode)
	}
	if p.StartYear < 1970 || p.StartYear > 3000 {
		return NewConfigurationError("project.start_year", "implausible year %d", p.StartYear)
	}
	if p.StartDay < 1 {
		return NewConfigurationError("project.start_day", "must be >= 1, got %d", p.StartDay)
	}
	if p.StartTimeMin < 0 {
		return NewConfigurationError("project.start_time_min", "must be >= 0, got %g", p.StartTimeMin)
	}
	if p.StepResolutionSec <= 0 {
		return NewConfigurationError("project.step_resolution_sec", "must be > 0, got %g", p.StepResolutionSec)
	}
	if w := p.Window(); w.End().Before(w.Start()) {
		return NewConfigurationError("project", "end instant precedes start instant")
	}
	if p.MaxControlIterations <= 0 {
		return NewConfigurationError("project.max_control_iterations", "must be > 0, got %d", p.MaxControlIterations)
	}
	if p.ErrorTolerancePU <= 0 {
		return NewConfigurationError("project.error_tolerance_pu", "must be > 0, got %g", p.ErrorTolerancePU)
	}
	if p.ProjectPath == "" {
		return NewConfigurationError("project.project_path", "missing project path")
	}
	if p.ActiveScenario == "" {
		return NewConfigurationError("project.active_scenario", "missing active scenario")
	}
	if p.DSSFile == "" {
		return NewConfigurationError("project.dss_file", "missing master DSS file reference")
	}
	if p.ReturnResults && s.Helics.Enabled {
		// The caller-driven single-step API and the federation-driven
		// stepping loop cannot both own the clock.
		return NewConfigurationError("project.return_results",
			"synchronous step mode cannot be combined with co-simulation")
	}

	e := s.Exports
	switch e.Mode {
	case ExportByClass, ExportByElement:
	default:
		return NewConfigurationError("exports.mode", "unknown export mode %q", e.Mode)
	}
	switch e.Style {
	case ExportSingleFile, ExportSeparateFiles:
	default:
		return NewConfigurationError("exports.style", "unknown export style %q", e.Style)
	}
	switch strings.ToLower(e.Format) {
	case "csv":
	case "h5":
		return NewConfigurationError("exports.format", "h5 export is not supported by this build")
	default:
		return NewConfigurationError("exports.format", "unknown export format %q", e.Format)
	}
	switch e.ResultContainer {
	case "memory", "csv", "sqlite":
	default:
		return NewConfigurationError("exports.result_container",
			"unknown result container %q", e.ResultContainer)
	}
	if e.MaxChunkBytes <= 0 {
		return NewConfigurationError("exports.max_chunk_bytes", "must be > 0, got %d", e.MaxChunkBytes)
	}

	f := s.Frequency
	if f.HarmonicSweep {
		if f.FundamentalHz <= 0 {
			return NewConfigurationError("frequency.fundamental_hz", "must be > 0, got %g", f.FundamentalHz)
		}
		if f.StartMultiplier <= 0 || f.EndMultiplier < f.StartMultiplier {
			return NewConfigurationError("frequency", "sweep bounds [%g, %g] are not an increasing range",
				f.StartMultiplier, f.EndMultiplier)
		}
		if f.Increment <= 0 {
			return NewConfigurationError("frequency.increment", "must be > 0, got %g", f.Increment)
		}
		if f.PercentSeriesLoad < 0 || f.PercentSeriesLoad > 100 {
			return NewConfigurationError("frequency.percent_series_load", "must be in [0, 100], got %g", f.PercentSeriesLoad)
		}
	}

	h := s.Helics
	if h.Enabled {
		if h.FederateName == "" {
			return NewConfigurationError("helics.federate_name", "missing federate name")
		}
		if h.TimeDeltaSec <= 0 {
			return NewConfigurationError("helics.time_delta_sec", "must be > 0, got %g", h.TimeDeltaSec)
		}
		if h.IterativeMode {
			if h.MaxCoIterations <= 0 {
				return NewConfigurationError("helics.max_co_iterations", "must be > 0, got %d", h.MaxCoIterations)
			}
			if h.ErrorTolerance <= 0 {
				return NewConfigurationError("helics.error_tolerance", "must be > 0, got %g", h.ErrorTolerance)
			}
		}
		switch h.CoreType {
		case "nats", "loopback":
		default:
			return NewConfigurationError("helics.core_type", "unknown core type %q", h.CoreType)
		}
	}

	for name := range s.Reports.Types {
		if !knownReports[name] {
			return NewConfigurationError("reports.types", "unknown report type %q", name)
		}
	}
	return nil
}
