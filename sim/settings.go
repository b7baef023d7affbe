package sim

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultSettings returns the settings a fresh project starts from. Paths
// and the active scenario are intentionally empty: they are required inputs
// and Validate rejects their absence.
func DefaultSettings() *Settings {
	return &Settings{
		Project: ProjectSettings{
			SimulationType:       QSTS,
			StartYear:            2020,
			StartDay:             1,
			StartTimeMin:         0,
			EndDay:               1,
			EndTimeMin:           1439,
			DateOffsetDays:       0,
			StepResolutionSec:    900,
			MaxControlIterations: 10,
			ErrorTolerancePU:     0.001,
			ControlMode:          ControlStatic,
		},
		Exports: ExportSettings{
			Mode:            ExportByClass,
			Style:           ExportSingleFile,
			Format:          "csv",
			IterationOrder:  "element_property",
			ExportElements:  true,
			MaxChunkBytes:   32 * 1024 * 1024,
			ResultsLogging:  true,
			ResultContainer: "memory",
		},
		Frequency: FrequencySettings{
			FundamentalHz:     60,
			StartMultiplier:   1,
			EndMultiplier:     15,
			Increment:         2,
			PercentSeriesLoad: 100,
		},
		Helics: HelicsSettings{
			ErrorTolerance:  0.0001,
			MaxCoIterations: 15,
			Broker:          "127.0.0.1",
			BrokerPort:      4222,
			TimeDeltaSec:    900,
			CoreType:        "nats",
			LogLevel:        "info",
		},
		Logging: LoggingSettings{
			Level:         "info",
			ScreenDisplay: true,
		},
		Reports: ReportSettings{
			Format: "csv",
			Types: map[string]bool{
				ReportCapacitorStateChange: false,
				ReportRegulatorTapChange:   false,
				ReportPVClipping:           false,
				ReportPVCurtailment:        false,
			},
		},
	}
}

// LoadSettings reads a TOML settings file on top of the defaults and
// validates the result. Any failure is pre-run: the caller gets a
// ConfigurationError before a driver is ever constructed.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, NewConfigurationError("settings", "cannot read %s: %v", path, err)
	}

	settings := DefaultSettings()
	if err := v.Unmarshal(settings); err != nil {
		return nil, NewConfigurationError("settings", "cannot decode %s: %v", path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// WriteDefaultSettings renders the default settings as TOML to path, for
// the `defaults` subcommand.
func WriteDefaultSettings(path string) error {
	v := viper.New()
	v.SetConfigType("toml")
	s := DefaultSettings()

	v.Set("project", map[string]any{
		"simulation_type":        string(s.Project.SimulationType),
		"start_year":             s.Project.StartYear,
		"start_day":              s.Project.StartDay,
		"start_time_min":         s.Project.StartTimeMin,
		"end_day":                s.Project.EndDay,
		"end_time_min":           s.Project.EndTimeMin,
		"date_offset_days":       s.Project.DateOffsetDays,
		"step_resolution_sec":    s.Project.StepResolutionSec,
		"max_control_iterations": s.Project.MaxControlIterations,
		"error_tolerance_pu":     s.Project.ErrorTolerancePU,
		"control_mode":           string(s.Project.ControlMode),
		"disable_controllers":    s.Project.DisableControllers,
		"return_results":         s.Project.ReturnResults,
		"project_path":           s.Project.ProjectPath,
		"active_scenario":        s.Project.ActiveScenario,
		"dss_file":               s.Project.DSSFile,
	})
	v.Set("exports", map[string]any{
		"mode":             string(s.Exports.Mode),
		"style":            string(s.Exports.Style),
		"format":           s.Exports.Format,
		"compression":      s.Exports.Compression,
		"iteration_order":  s.Exports.IterationOrder,
		"export_elements":  s.Exports.ExportElements,
		"max_chunk_bytes":  s.Exports.MaxChunkBytes,
		"results_logging":  s.Exports.ResultsLogging,
		"result_container": s.Exports.ResultContainer,
	})
	v.Set("frequency", map[string]any{
		"harmonic_sweep":      s.Frequency.HarmonicSweep,
		"fundamental_hz":      s.Frequency.FundamentalHz,
		"start_multiplier":    s.Frequency.StartMultiplier,
		"end_multiplier":      s.Frequency.EndMultiplier,
		"increment":           s.Frequency.Increment,
		"neglect_shunt":       s.Frequency.NeglectShunt,
		"percent_series_load": s.Frequency.PercentSeriesLoad,
	})
	v.Set("helics", map[string]any{
		"enabled":           s.Helics.Enabled,
		"iterative_mode":    s.Helics.IterativeMode,
		"error_tolerance":   s.Helics.ErrorTolerance,
		"max_co_iterations": s.Helics.MaxCoIterations,
		"broker":            s.Helics.Broker,
		"broker_port":       s.Helics.BrokerPort,
		"federate_name":     s.Helics.FederateName,
		"time_delta_sec":    s.Helics.TimeDeltaSec,
		"core_type":         s.Helics.CoreType,
		"uninterruptible":   s.Helics.Uninterruptible,
		"log_level":         s.Helics.LogLevel,
	})
	v.Set("logging", map[string]any{
		"level":          s.Logging.Level,
		"external_file":  s.Logging.ExternalFile,
		"screen_display": s.Logging.ScreenDisplay,
		"clear_on_start": s.Logging.ClearOnStart,
		"preconfigured":  s.Logging.Preconfigured,
	})
	v.Set("reports", map[string]any{
		"format": s.Reports.Format,
		"types":  s.Reports.Types,
	})

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write default settings: %w", err)
	}
	return nil
}
