package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/distsim/distsim/sim"
	"github.com/distsim/distsim/sim/export"
	"github.com/distsim/distsim/sim/federate"
	"github.com/distsim/distsim/sim/project"
)

var (
	settingsPath string // path to the TOML settings file
	logLevel     string // overrides logging.level when set
	scenario     string // overrides project.active_scenario when set
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "distsim",
	Short: "Quasi-static time-series simulator for distribution systems",
}

// runCmd executes the active scenario of a project.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the active scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := loadProject()
		if err != nil {
			return err
		}
		settings := proj.Settings

		logFile, err := sim.ConfigureLogging(settings.Logging, proj.Dir)
		if err != nil {
			return err
		}
		if logFile != nil {
			defer logFile.Close()
		}

		driver, err := buildDriver(proj)
		if err != nil {
			return err
		}

		// Stop requests land between timesteps; mid-step work finishes
		// before teardown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		started := time.Now()
		logrus.Infof("running scenario %q (%s, %s steps of %gs)",
			proj.Scenario.Name, settings.Project.SimulationType,
			settings.Project.ControlMode, settings.Project.StepResolutionSec)
		if err := driver.Run(ctx); err != nil {
			return err
		}
		logrus.Infof("run finished in %s with %d convergence warnings",
			time.Since(started).Round(time.Millisecond), len(driver.Warnings()))
		return nil
	},
}

// validateCmd performs the pre-run validation and exits.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate settings and project layout without simulating",
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := loadProject()
		if err != nil {
			return err
		}
		if _, err := proj.BuildNetwork(); err != nil {
			return err
		}
		fmt.Printf("ok: scenario %q, %d controller registrations\n",
			proj.Scenario.Name, len(proj.Scenario.Controllers))
		return nil
	},
}

// defaultsCmd writes a default settings file to work from.
var defaultsCmd = &cobra.Command{
	Use:   "defaults [path]",
	Short: "Write a default simulation.toml",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "simulation.toml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := sim.WriteDefaultSettings(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func loadProject() (*project.Project, error) {
	settings, err := sim.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	if scenario != "" {
		settings.Project.ActiveScenario = scenario
	}
	if logLevel != "" {
		settings.Logging.Level = logLevel
	}
	return project.LoadWithSettings(settings)
}

// buildDriver wires network, controllers, export sink, and (when enabled)
// the federate from a loaded project.
func buildDriver(proj *project.Project) (*sim.SimulationDriver, error) {
	settings := proj.Settings

	state, err := proj.BuildNetwork()
	if err != nil {
		return nil, err
	}
	controllers, err := proj.BuildControllers(state)
	if err != nil {
		return nil, err
	}
	sink, err := export.NewSink(settings.Exports.ResultContainer, export.Config{
		Mode:          string(settings.Exports.Mode),
		Style:         string(settings.Exports.Style),
		Compression:   settings.Exports.Compression,
		OutputDir:     settings.Exports.OutputDir,
		MaxChunkBytes: settings.Exports.MaxChunkBytes,
	})
	if err != nil {
		return nil, err
	}

	var fed *federate.Sync
	if settings.Helics.Enabled {
		fed, err = buildFederate(proj)
		if err != nil {
			return nil, err
		}
	}
	return sim.NewDriver(settings, state, sim.NewRadialFeederAdapter(), controllers, sink, fed)
}

func buildFederate(proj *project.Project) (*federate.Sync, error) {
	h := proj.Settings.Helics
	var core federate.Core
	switch h.CoreType {
	case "nats":
		url := fmt.Sprintf("nats://%s:%d", h.Broker, h.BrokerPort)
		c, err := federate.NewNATSCore(url)
		if err != nil {
			return nil, &federate.FederationError{Op: "connect", Err: err}
		}
		core = c
	case "loopback":
		core = federate.NewLoopbackCore()
	}
	return federate.New(core, federate.Config{
		IterativeMode:   h.IterativeMode,
		ErrorTolerance:  h.ErrorTolerance,
		MaxCoIterations: h.MaxCoIterations,
		FederateName:    h.FederateName,
		TimeDeltaSec:    h.TimeDeltaSec,
		Uninterruptible: h.Uninterruptible,
		Publications:    proj.Scenario.Federation.Publications,
		Subscriptions:   proj.Scenario.Federation.Subscriptions,
	}), nil
}

// Execute runs the CLI root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands.
func init() {
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "simulation.toml", "Path to the TOML settings file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "", "Log level override (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&scenario, "scenario", "", "Active scenario override")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(defaultsCmd)
}
