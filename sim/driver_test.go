package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distsim/distsim/sim/export"
	"github.com/distsim/distsim/sim/federate"
)

// driverFixture wires a standalone (non-federated) driver over the test
// feeder with a memory sink.
func driverFixture(t *testing.T, settings *Settings) (*SimulationDriver, *export.MemorySink) {
	t.Helper()
	state := newTestFeeder(t)
	set := NewControllerSet()
	set.Register(NewCapacitorController("cap1", "tail"))
	set.Register(NewRegulatorController("reg1", "mid"))
	set.Register(NewPVController("pv1"))
	sink := export.NewMemorySink()
	driver, err := NewDriver(settings, state, NewRadialFeederAdapter(), set, sink, nil)
	require.NoError(t, err)
	return driver, sink
}

func TestDriver_NonFederatedRun_ExportsEveryStep(t *testing.T) {
	// GIVEN a one-day QSTS run with federation disabled
	settings := validSettings()
	driver, sink := driverFixture(t, settings)

	// WHEN the horizon runs
	require.NoError(t, driver.Run(context.Background()))

	// THEN all 96 steps landed in the sink, converged and annotated
	steps := sink.Steps()
	require.Len(t, steps, 96)
	for _, rec := range steps {
		assert.True(t, rec.Converged, "step %d not converged", rec.StepIndex)
		assert.Greater(t, rec.IterationsUsed, 0, "step %d has no iteration count", rec.StepIndex)
		assert.NotEmpty(t, rec.Values, "step %d exported no values", rec.StepIndex)
	}
	assert.Empty(t, sink.NonConverged())
	assert.Empty(t, driver.Warnings())
}

func TestDriver_SnapshotRun_SingleStep(t *testing.T) {
	settings := validSettings()
	settings.Project.SimulationType = Snapshot
	driver, sink := driverFixture(t, settings)

	require.NoError(t, driver.Run(context.Background()))
	assert.Len(t, sink.Steps(), 1)
}

func TestDriver_NonConvergence_IsAnnotatedNotFatal(t *testing.T) {
	// GIVEN a run whose controllers can never settle
	settings := validSettings()
	settings.Project.SimulationType = Snapshot
	settings.Project.MaxControlIterations = 5
	state := newTestFeeder(t)
	set := NewControllerSet()
	set.Register(&stubbornController{delta: 0.01})
	sink := export.NewMemorySink()
	driver, err := NewDriver(settings, state, NewRadialFeederAdapter(), set, sink, nil)
	require.NoError(t, err)

	// WHEN the horizon runs
	require.NoError(t, driver.Run(context.Background()))

	// THEN the run completed, with the shortfall flagged on the record
	require.Len(t, sink.NonConverged(), 1)
	rec := sink.NonConverged()[0]
	assert.Equal(t, 5, rec.IterationsUsed)
	require.Len(t, driver.Warnings(), 1)
}

func TestDriver_CancellationBetweenSteps_StopsCleanly(t *testing.T) {
	// GIVEN an already-cancelled context
	settings := validSettings()
	driver, sink := driverFixture(t, settings)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN the run starts
	err := driver.Run(ctx)

	// THEN it reports the cancellation without simulating any step
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.Steps())
}

func TestDriver_ReturnResultsMode_StepsSynchronously(t *testing.T) {
	// GIVEN synchronous step mode over a snapshot window
	settings := validSettings()
	settings.Project.SimulationType = Snapshot
	settings.Project.ReturnResults = true
	driver, sink := driverFixture(t, settings)

	// WHEN the caller drives the stepping
	res, err := driver.Step(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Converged)

	done, err := driver.Step(context.Background())
	require.NoError(t, err)

	// THEN the horizon ends with a nil result and the sink saw the step
	assert.Nil(t, done)
	assert.Len(t, sink.Steps(), 1)
}

func TestDriver_StepAfterHorizon_FlushesReportsOnce(t *testing.T) {
	// GIVEN a synchronous single-step run with curtailment reporting on
	settings := validSettings()
	settings.Project.SimulationType = Snapshot
	settings.Project.ReturnResults = true
	settings.Reports.Types[ReportPVCurtailment] = true
	state := newTestFeeder(t)
	state.Devices["pv1"].Setting = 400
	sink := export.NewMemorySink()
	driver, err := NewDriver(settings, state, NewRadialFeederAdapter(), NewControllerSet(), sink, nil)
	require.NoError(t, err)

	// WHEN the caller steps past the end of the horizon twice
	res, err := driver.Step(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	done, err := driver.Step(context.Background())
	require.NoError(t, err)
	require.Nil(t, done)
	require.Len(t, sink.Reports(), 1)

	again, err := driver.Step(context.Background())
	require.NoError(t, err)
	require.Nil(t, again)

	// THEN the report rows were flushed exactly once
	assert.Len(t, sink.Reports(), 1)
}

func TestDriver_ReturnResultsMode_RejectsRun(t *testing.T) {
	settings := validSettings()
	settings.Project.ReturnResults = true
	driver, _ := driverFixture(t, settings)

	err := driver.Run(context.Background())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDriver_FederateWiringMismatch_IsConfigurationError(t *testing.T) {
	// GIVEN settings with federation enabled but no federate instance
	settings := validSettings()
	settings.Helics.Enabled = true
	settings.Helics.FederateName = "distsim"
	state := newTestFeeder(t)

	_, err := NewDriver(settings, state, NewRadialFeederAdapter(), NewControllerSet(), export.NewMemorySink(), nil)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDriver_FederatedRun_TerminatesFederateOnEveryPath(t *testing.T) {
	// GIVEN a federated snapshot run over a loopback core
	settings := validSettings()
	settings.Project.SimulationType = Snapshot
	settings.Helics.Enabled = true
	settings.Helics.FederateName = "distsim"
	settings.Helics.CoreType = "loopback"

	core := federate.NewLoopbackCore()
	core.SeedInbound("load_kw.mid", 650)
	fed := federate.New(core, federate.Config{
		FederateName: "distsim",
		TimeDeltaSec: settings.Helics.TimeDeltaSec,
	})

	state := newTestFeeder(t)
	set := NewControllerSet()
	set.Register(NewCapacitorController("cap1", "tail"))
	sink := export.NewMemorySink()
	driver, err := NewDriver(settings, state, NewRadialFeederAdapter(), set, sink, fed)
	require.NoError(t, err)

	// WHEN the horizon runs
	require.NoError(t, driver.Run(context.Background()))

	// THEN the inbound load was applied, outputs were published, and the
	// federate ended Terminated
	assert.Equal(t, 650.0, state.Buses["mid"].LoadKW)
	_, published := core.Published("voltage.tail")
	assert.True(t, published)
	assert.Equal(t, federate.Terminated, fed.State())
	assert.True(t, core.Finalized())
	assert.Len(t, sink.Steps(), 1)
}

func TestDriver_TimeModeAdvancesControllerState(t *testing.T) {
	// GIVEN a curtailed PV system under ControlMode=Time
	settings := validSettings()
	settings.Project.ControlMode = ControlTime
	settings.Project.SimulationType = Snapshot
	state := newTestFeeder(t)
	state.Devices["pv1"].Setting = 100
	pv := NewPVController("pv1")
	set := NewControllerSet()
	set.Register(pv)
	sink := export.NewMemorySink()
	driver, err := NewDriver(settings, state, NewRadialFeederAdapter(), set, sink, nil)
	require.NoError(t, err)

	// WHEN the step completes
	require.NoError(t, driver.Run(context.Background()))

	// THEN the controller's boundary hook recorded the finalized limit
	res := solvedResult(t, state, map[string]float64{"tail": 1.0})
	d, err := pv.Update(res, state)
	require.NoError(t, err)
	// The next release is measured against the recorded boundary, so it is
	// capped by the ramp rather than jumping to the step size.
	assert.LessOrEqual(t, d*500.0, pv.RampKW)
}
