package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distsim/distsim/sim"
)

const feederYAML = `buses:
  - name: source
    base_kv: 12.47
  - name: mid
    base_kv: 12.47
    load_kw: 800
  - name: tail
    base_kv: 12.47
    load_kw: 1200
lines:
  - name: l1
    from: source
    to: mid
    rating_kw: 5000
  - name: l2
    from: mid
    to: tail
    rating_kw: 3000
devices:
  - name: cap1
    class: Capacitor
    bus: mid
    rated_kw: 600
  - name: pv1
    class: PVSystem
    bus: tail
    rated_kw: 500
    setting: 500
`

const controllersYAML = `- type: capacitor
  device: cap1
  bus: mid
  settings:
    on_threshold_pu: 0.97
- type: pvcontroller
  device: pv1
  settings:
    step_kw: 10
`

const federationYAML = `publications:
  - voltage.tail
subscriptions:
  - load_kw.mid
`

// writeTestProject lays out a minimal project directory and returns settings
// pointing at it.
func writeTestProject(t *testing.T) *sim.Settings {
	t.Helper()
	dir := t.TempDir()
	dss := filepath.Join(dir, "DSSfiles")
	scenario := filepath.Join(dir, "Scenarios", "base")
	require.NoError(t, os.MkdirAll(dss, 0o755))
	require.NoError(t, os.MkdirAll(scenario, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dss, "master.dss"), []byte("redirect feeder.yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dss, "feeder.yaml"), []byte(feederYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(scenario, "controllers.yaml"), []byte(controllersYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(scenario, "federation.yaml"), []byte(federationYAML), 0o644))

	settings := sim.DefaultSettings()
	settings.Project.ProjectPath = dir
	settings.Project.ActiveScenario = "base"
	settings.Project.DSSFile = "master.dss"
	return settings
}

func TestLoadWithSettings_ResolvesFullProject(t *testing.T) {
	// GIVEN a complete project directory
	settings := writeTestProject(t)

	// WHEN the project is loaded
	p, err := LoadWithSettings(settings)

	// THEN the feeder, scenario, and federation spec are all resolved
	require.NoError(t, err)
	assert.Len(t, p.Feeder.Buses, 3)
	assert.Len(t, p.Feeder.Lines, 2)
	assert.Equal(t, "base", p.Scenario.Name)
	assert.Len(t, p.Scenario.Controllers, 2)
	assert.Equal(t, []string{"voltage.tail"}, p.Scenario.Federation.Publications)
	assert.Equal(t, []string{"load_kw.mid"}, p.Scenario.Federation.Subscriptions)
}

func TestLoadWithSettings_DefaultsExportDirToScenario(t *testing.T) {
	settings := writeTestProject(t)
	settings.Exports.OutputDir = ""

	p, err := LoadWithSettings(settings)

	require.NoError(t, err)
	want := filepath.Join(p.Dir, "Exports", "base")
	assert.Equal(t, want, settings.Exports.OutputDir)
}

func TestLoadWithSettings_KeepsExplicitExportDir(t *testing.T) {
	settings := writeTestProject(t)
	settings.Exports.OutputDir = "/tmp/elsewhere"

	_, err := LoadWithSettings(settings)

	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere", settings.Exports.OutputDir)
}

func TestLoadWithSettings_MissingPieces(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(t *testing.T, settings *sim.Settings)
		wantField string
	}{
		{
			"project directory absent",
			func(t *testing.T, s *sim.Settings) { s.Project.ProjectPath = filepath.Join(s.Project.ProjectPath, "nope") },
			"project.project_path",
		},
		{
			"master dss file absent",
			func(t *testing.T, s *sim.Settings) { s.Project.DSSFile = "missing.dss" },
			"project.dss_file",
		},
		{
			"scenario absent",
			func(t *testing.T, s *sim.Settings) { s.Project.ActiveScenario = "unknown" },
			"project.active_scenario",
		},
		{
			"feeder definition absent",
			func(t *testing.T, s *sim.Settings) {
				require.NoError(t, os.Remove(filepath.Join(s.Project.ProjectPath, "DSSfiles", "feeder.yaml")))
			},
			"project",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := writeTestProject(t)
			tt.mutate(t, settings)

			_, err := LoadWithSettings(settings)

			var cerr *sim.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantField, cerr.Field)
		})
	}
}

func TestLoadWithSettings_FederationRequiredWhenEnabled(t *testing.T) {
	// GIVEN co-simulation is enabled but the scenario has no federation file
	settings := writeTestProject(t)
	settings.Helics.Enabled = true
	require.NoError(t, os.Remove(
		filepath.Join(settings.Project.ProjectPath, "Scenarios", "base", "federation.yaml")))

	_, err := LoadWithSettings(settings)

	var cerr *sim.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "helics", cerr.Field)
}

func TestLoadWithSettings_ScenarioWithoutControllersIsValid(t *testing.T) {
	settings := writeTestProject(t)
	require.NoError(t, os.Remove(
		filepath.Join(settings.Project.ProjectPath, "Scenarios", "base", "controllers.yaml")))

	p, err := LoadWithSettings(settings)

	require.NoError(t, err)
	assert.Empty(t, p.Scenario.Controllers)
}

func TestBuildControllers_AppliesSettingsOverrides(t *testing.T) {
	settings := writeTestProject(t)
	p, err := LoadWithSettings(settings)
	require.NoError(t, err)
	state, err := p.BuildNetwork()
	require.NoError(t, err)

	set, err := p.BuildControllers(state)

	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	controllers := set.Controllers()
	cap, ok := controllers[0].(*sim.CapacitorController)
	require.True(t, ok)
	assert.Equal(t, 0.97, cap.OnThresholdPU)
	pv, ok := controllers[1].(*sim.PVController)
	require.True(t, ok)
	assert.Equal(t, 10.0, pv.StepKW)
}

func TestBuildControllers_RejectsBadRegistrations(t *testing.T) {
	tests := []struct {
		name string
		spec ControllerSpec
	}{
		{"unknown type", ControllerSpec{Type: "statcom", Device: "cap1"}},
		{"missing device", ControllerSpec{Type: "capacitor", Device: "cap9", Bus: "mid"}},
		{"capacitor without bus", ControllerSpec{Type: "capacitor", Device: "cap1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := writeTestProject(t)
			p, err := LoadWithSettings(settings)
			require.NoError(t, err)
			state, err := p.BuildNetwork()
			require.NoError(t, err)
			p.Scenario.Controllers = []ControllerSpec{tt.spec}

			_, err = p.BuildControllers(state)

			var cerr *sim.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "controllers", cerr.Field)
		})
	}
}

func TestBuildNetwork_RejectsDanglingReferences(t *testing.T) {
	settings := writeTestProject(t)
	p, err := LoadWithSettings(settings)
	require.NoError(t, err)
	p.Feeder.Devices = append(p.Feeder.Devices, sim.Device{
		Name: "ghost", Class: sim.ClassPVSystem, Bus: "nowhere",
	})

	_, err = p.BuildNetwork()

	var cerr *sim.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "project", cerr.Field)
}
