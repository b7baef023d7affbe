// Package project resolves a simulation project on disk: the settings
// file, the scenario it activates, the feeder definition, and the
// controller registrations. Everything here fails before a driver is
// constructed; a loaded Project is fully validated.
//
// Layout under the project directory:
//
//	DSSfiles/            master DSS file + feeder.yaml
//	Scenarios/<name>/    controllers.yaml, federation.yaml (optional)
//	Exports/<name>/      result files for the scenario
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/distsim/distsim/sim"
)

const (
	dssFilesDir  = "DSSfiles"
	scenariosDir = "Scenarios"
	exportsDir   = "Exports"

	feederFilename      = "feeder.yaml"
	controllersFilename = "controllers.yaml"
	federationFilename  = "federation.yaml"
)

// ControllerSpec registers one controller instance in a scenario.
type ControllerSpec struct {
	Type     string             `yaml:"type"` // capacitor, regulator, pvcontroller
	Device   string             `yaml:"device"`
	Bus      string             `yaml:"bus"` // monitored bus, where applicable
	Settings map[string]float64 `yaml:"settings"`
}

// FederationSpec declares the scenario's published and subscribed topics.
type FederationSpec struct {
	Publications  []string `yaml:"publications"`
	Subscriptions []string `yaml:"subscriptions"`
}

// FeederSpec is the network definition consumed by the built-in adapter.
type FeederSpec struct {
	Buses   []sim.Bus    `yaml:"buses"`
	Lines   []sim.Line   `yaml:"lines"`
	Devices []sim.Device `yaml:"devices"`
}

// Scenario is one named study within a project.
type Scenario struct {
	Name        string
	Controllers []ControllerSpec
	Federation  FederationSpec
}

// Project is a validated on-disk project plus its settings and active
// scenario.
type Project struct {
	Dir      string
	Settings *sim.Settings
	Feeder   FeederSpec
	Scenario Scenario
}

// Load reads the settings file, then resolves and validates the project
// directory it names. Missing required files are ConfigurationErrors, all
// raised here rather than mid-run.
func Load(settingsPath string) (*Project, error) {
	settings, err := sim.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	return LoadWithSettings(settings)
}

// LoadWithSettings resolves the project for already-validated settings.
func LoadWithSettings(settings *sim.Settings) (*Project, error) {
	dir := settings.Project.ProjectPath
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, sim.NewConfigurationError("project.project_path",
			"project directory %s does not exist", dir)
	}

	master := filepath.Join(dir, dssFilesDir, settings.Project.DSSFile)
	if _, err := os.Stat(master); err != nil {
		return nil, sim.NewConfigurationError("project.dss_file",
			"master DSS file %s does not exist", master)
	}

	p := &Project{Dir: dir, Settings: settings}
	if err := p.loadFeeder(); err != nil {
		return nil, err
	}
	if err := p.loadScenario(settings.Project.ActiveScenario); err != nil {
		return nil, err
	}

	if settings.Exports.OutputDir == "" {
		settings.Exports.OutputDir = filepath.Join(dir, exportsDir, p.Scenario.Name)
	}
	return p, nil
}

func (p *Project) loadFeeder() error {
	path := filepath.Join(p.Dir, dssFilesDir, feederFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return sim.NewConfigurationError("project", "cannot read feeder definition %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &p.Feeder); err != nil {
		return sim.NewConfigurationError("project", "malformed feeder definition %s: %v", path, err)
	}
	if len(p.Feeder.Buses) == 0 {
		return sim.NewConfigurationError("project", "feeder definition %s has no buses", path)
	}
	return nil
}

func (p *Project) loadScenario(name string) error {
	scenarioDir := filepath.Join(p.Dir, scenariosDir, name)
	if fi, err := os.Stat(scenarioDir); err != nil || !fi.IsDir() {
		return sim.NewConfigurationError("project.active_scenario",
			"scenario %q does not exist under %s", name, filepath.Join(p.Dir, scenariosDir))
	}
	p.Scenario = Scenario{Name: name}

	ctrlPath := filepath.Join(scenarioDir, controllersFilename)
	if data, err := os.ReadFile(ctrlPath); err == nil {
		if err := yaml.Unmarshal(data, &p.Scenario.Controllers); err != nil {
			return sim.NewConfigurationError("project", "malformed %s: %v", ctrlPath, err)
		}
	} else {
		logrus.Debugf("scenario %s has no controller registrations", name)
	}

	fedPath := filepath.Join(scenarioDir, federationFilename)
	if data, err := os.ReadFile(fedPath); err == nil {
		if err := yaml.Unmarshal(data, &p.Scenario.Federation); err != nil {
			return sim.NewConfigurationError("project", "malformed %s: %v", fedPath, err)
		}
	} else if p.Settings.Helics.Enabled {
		return sim.NewConfigurationError("helics",
			"co-simulation is enabled but scenario %q has no %s", name, federationFilename)
	}
	return nil
}

// BuildNetwork constructs the mutable network state from the feeder
// definition.
func (p *Project) BuildNetwork() (*sim.NetworkState, error) {
	ns, err := sim.NewNetworkState(p.Feeder.Buses, p.Feeder.Lines, p.Feeder.Devices)
	if err != nil {
		return nil, sim.NewConfigurationError("project", "invalid feeder: %v", err)
	}
	return ns, nil
}

// controllerFactory builds one controller from its registration. The
// registry is closed: scenarios can only name types compiled in here.
type controllerFactory func(spec ControllerSpec) (sim.Controller, error)

var controllerTypes = map[string]controllerFactory{
	"capacitor": func(spec ControllerSpec) (sim.Controller, error) {
		if spec.Bus == "" {
			return nil, fmt.Errorf("capacitor controller %q needs a monitored bus", spec.Device)
		}
		c := sim.NewCapacitorController(spec.Device, spec.Bus)
		if v, ok := spec.Settings["on_threshold_pu"]; ok {
			c.OnThresholdPU = v
		}
		if v, ok := spec.Settings["off_threshold_pu"]; ok {
			c.OffThresholdPU = v
		}
		if v, ok := spec.Settings["support_pu"]; ok {
			c.SupportPU = v
		}
		return c, nil
	},
	"regulator": func(spec ControllerSpec) (sim.Controller, error) {
		if spec.Bus == "" {
			return nil, fmt.Errorf("regulator controller %q needs a monitored bus", spec.Device)
		}
		c := sim.NewRegulatorController(spec.Device, spec.Bus)
		if v, ok := spec.Settings["setpoint_pu"]; ok {
			c.SetpointPU = v
		}
		if v, ok := spec.Settings["bandwidth_pu"]; ok {
			c.BandwidthPU = v
		}
		if v, ok := spec.Settings["min_tap"]; ok {
			c.MinTap = v
		}
		if v, ok := spec.Settings["max_tap"]; ok {
			c.MaxTap = v
		}
		return c, nil
	},
	"pvcontroller": func(spec ControllerSpec) (sim.Controller, error) {
		c := sim.NewPVController(spec.Device)
		if v, ok := spec.Settings["threshold_pu"]; ok {
			c.ThresholdPU = v
		}
		if v, ok := spec.Settings["release_pu"]; ok {
			c.ReleasePU = v
		}
		if v, ok := spec.Settings["step_kw"]; ok {
			c.StepKW = v
		}
		if v, ok := spec.Settings["ramp_kw"]; ok {
			c.RampKW = v
		}
		return c, nil
	},
}

// BuildControllers instantiates the scenario's controllers in registration
// order. Unknown types and references to devices missing from the feeder
// are ConfigurationErrors.
func (p *Project) BuildControllers(state *sim.NetworkState) (*sim.ControllerSet, error) {
	set := sim.NewControllerSet()
	for _, spec := range p.Scenario.Controllers {
		factory, ok := controllerTypes[spec.Type]
		if !ok {
			return nil, sim.NewConfigurationError("controllers",
				"unknown controller type %q", spec.Type)
		}
		if _, ok := state.Devices[spec.Device]; !ok {
			return nil, sim.NewConfigurationError("controllers",
				"controller %s targets device %q missing from the feeder", spec.Type, spec.Device)
		}
		c, err := factory(spec)
		if err != nil {
			return nil, sim.NewConfigurationError("controllers", "%v", err)
		}
		set.Register(c)
	}
	return set, nil
}
