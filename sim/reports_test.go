package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distsim/distsim/sim/export"
)

func allReportsOn() ReportSettings {
	return ReportSettings{
		Format: "csv",
		Types: map[string]bool{
			ReportCapacitorStateChange: true,
			ReportRegulatorTapChange:   true,
			ReportPVClipping:           true,
			ReportPVCurtailment:        true,
		},
	}
}

// observedStep snapshots the feeder after applying the given device
// settings, standing in for one finalized timestep.
func observedStep(t *testing.T, state *NetworkState, settings map[string]float64) *SolveResult {
	t.Helper()
	for name, v := range settings {
		dev, ok := state.Devices[name]
		require.True(t, ok, "unknown device %q", name)
		dev.Setting = v
	}
	return snapshot(testStep(), state)
}

func TestReportSet_CountsStateChangesBetweenSteps(t *testing.T) {
	// GIVEN three finalized steps with a capacitor cycle and a tap move
	state := newTestFeeder(t)
	r := NewReportSet(allReportsOn(), 900)

	r.Observe(observedStep(t, state, map[string]float64{"cap1": 0, "reg1": 0}), state)
	r.Observe(observedStep(t, state, map[string]float64{"cap1": 1, "reg1": 2}), state)
	r.Observe(observedStep(t, state, map[string]float64{"cap1": 0, "reg1": 2}), state)

	// THEN each transition counted once, and tap movement accumulated by
	// positions traveled
	assert.Equal(t, 2, r.CapacitorSwitchOps("cap1"))
	assert.Equal(t, 2, r.RegulatorTapChanges("reg1"))
}

func TestReportSet_AccumulatesCurtailedEnergy(t *testing.T) {
	// GIVEN a 500 kW PV system curtailed to 400 kW for two 15-minute steps
	state := newTestFeeder(t)
	r := NewReportSet(allReportsOn(), 900)

	r.Observe(observedStep(t, state, map[string]float64{"pv1": 400}), state)
	r.Observe(observedStep(t, state, map[string]float64{"pv1": 400}), state)

	// THEN curtailment is 100 kW over half an hour
	assert.InDelta(t, 50.0, r.PVCurtailedKWh("pv1"), 1e-9)
}

func TestReportSet_DisabledTypesStayEmpty(t *testing.T) {
	state := newTestFeeder(t)
	cfg := allReportsOn()
	cfg.Types[ReportCapacitorStateChange] = false
	r := NewReportSet(cfg, 900)

	r.Observe(observedStep(t, state, map[string]float64{"cap1": 0}), state)
	r.Observe(observedStep(t, state, map[string]float64{"cap1": 1}), state)

	assert.Equal(t, 0, r.CapacitorSwitchOps("cap1"))
}

func TestReportSet_FlushWritesSortedRows(t *testing.T) {
	// GIVEN accumulated counts across two capacitors
	state, err := NewNetworkState(
		[]Bus{{Name: "b1", BaseKV: 12.47}},
		nil,
		[]Device{
			{Name: "capB", Class: ClassCapacitor, Bus: "b1"},
			{Name: "capA", Class: ClassCapacitor, Bus: "b1"},
		},
	)
	require.NoError(t, err)
	r := NewReportSet(allReportsOn(), 900)
	r.Observe(observedStep(t, state, map[string]float64{"capA": 0, "capB": 0}), state)
	r.Observe(observedStep(t, state, map[string]float64{"capA": 1, "capB": 1}), state)

	// WHEN the reports flush
	sink := export.NewMemorySink()
	require.NoError(t, r.Flush(sink))

	// THEN the rows come out in element order
	rows := sink.Reports()
	require.Len(t, rows, 2)
	assert.Equal(t, "capA", rows[0].Element)
	assert.Equal(t, "capB", rows[1].Element)
	assert.Equal(t, ReportCapacitorStateChange, rows[0].Report)
}
