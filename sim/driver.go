package sim

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/distsim/distsim/sim/export"
	"github.com/distsim/distsim/sim/federate"
)

// stepAware is implemented by controllers that carry state across timesteps
// under ControlMode=Time.
type stepAware interface {
	StepBoundary(*NetworkState)
}

// SimulationDriver orchestrates the full horizon: it owns the clock cursor
// and the authoritative step sequence, runs the optional federate round and
// the convergence loop at each step, and forwards finalized results to the
// export sink.
type SimulationDriver struct {
	settings    *Settings
	clock       *Clock
	loop        *ConvergenceLoop
	controllers *ControllerSet
	state       *NetworkState
	sink        export.Sink
	reports     *ReportSet
	fed         *federate.Sync // nil when federation is disabled

	warnings []*ConvergenceWarning
	stepped  bool
	finished bool
}

// NewDriver validates the settings and wires the driver. fed must be nil
// exactly when federation is disabled in the settings; with federation off
// the driver never touches a federate and behaves identically to a
// non-federated build.
func NewDriver(settings *Settings, state *NetworkState, adapter PowerFlowAdapter,
	controllers *ControllerSet, sink export.Sink, fed *federate.Sync) (*SimulationDriver, error) {

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.Helics.Enabled != (fed != nil) {
		return nil, NewConfigurationError("helics.enabled",
			"federate wiring disagrees with settings (enabled=%v)", settings.Helics.Enabled)
	}
	clock, err := NewClock(settings.Project.Window(), settings.Project.SimulationType)
	if err != nil {
		return nil, err
	}
	return &SimulationDriver{
		settings:    settings,
		clock:       clock,
		loop:        NewConvergenceLoop(adapter, controllers, settings.Project.Convergence()),
		controllers: controllers,
		state:       state,
		sink:        sink,
		reports:     NewReportSet(settings.Reports, settings.Project.StepResolutionSec),
		fed:         fed,
	}, nil
}

// Warnings returns the per-step convergence warnings collected so far.
func (d *SimulationDriver) Warnings() []*ConvergenceWarning { return d.warnings }

// Run executes the whole horizon. Cancellation is honored between
// timesteps, never mid-iteration, and the federate teardown runs on every
// exit path. Fatal errors (solver, federation, export I/O) abort the run;
// per-step non-convergence does not.
func (d *SimulationDriver) Run(ctx context.Context) error {
	if d.settings.Project.ReturnResults {
		return NewConfigurationError("project.return_results",
			"settings select synchronous step mode; use Step instead of Run")
	}
	if err := d.sink.Open(); err != nil {
		return fmt.Errorf("open export sink: %w", err)
	}
	defer d.teardown()

	if d.fed != nil {
		if err := d.fed.Join(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			logrus.Infof("stop requested; ending run after %d steps", d.clock.cursor)
			return ctx.Err()
		default:
		}
		step, ok := d.clock.Next()
		if !ok {
			break
		}
		if err := d.runStep(ctx, step); err != nil {
			return err
		}
	}

	if d.reports.Enabled() {
		if err := d.reports.Flush(d.sink); err != nil {
			return fmt.Errorf("flush reports: %w", err)
		}
	}
	logrus.Infof("simulation complete: %d steps, %d non-converged",
		d.clock.Steps(), len(d.warnings))
	return nil
}

// Step advances exactly one timestep and returns its result: the
// synchronous call mode behind the return-results flag. The export sink
// still receives the record, so a caller can mix stepping and file export.
// Returns nil, nil once the horizon is exhausted.
func (d *SimulationDriver) Step(ctx context.Context) (*SolveResult, error) {
	if !d.settings.Project.ReturnResults {
		return nil, NewConfigurationError("project.return_results",
			"settings do not select synchronous step mode")
	}
	if d.finished {
		return nil, nil
	}
	if !d.stepped {
		if err := d.sink.Open(); err != nil {
			return nil, fmt.Errorf("open export sink: %w", err)
		}
		d.stepped = true
	}
	step, ok := d.clock.Next()
	if !ok {
		// Flush and teardown exactly once; later calls are plain no-ops.
		d.finished = true
		if d.reports.Enabled() {
			if err := d.reports.Flush(d.sink); err != nil {
				return nil, fmt.Errorf("flush reports: %w", err)
			}
		}
		d.teardown()
		return nil, nil
	}
	res, err := d.executeStep(ctx, step)
	if err != nil {
		d.teardown()
		return nil, err
	}
	return res, nil
}

func (d *SimulationDriver) runStep(ctx context.Context, step TimeStep) error {
	_, err := d.executeStep(ctx, step)
	return err
}

func (d *SimulationDriver) executeStep(ctx context.Context, step TimeStep) (*SolveResult, error) {
	// Federated runs block here until the federation grants the step's
	// instant; the convergence loop runs only after the grant.
	if d.fed != nil {
		if err := d.federateRound(ctx, step); err != nil {
			return nil, err
		}
	}

	res, err := d.loop.RunStep(step, d.state)
	if err != nil {
		return nil, err
	}
	if res.Warning != nil {
		d.warnings = append(d.warnings, res.Warning)
	}

	if d.fed != nil {
		// Publish the settled outputs so peers see the post-convergence
		// values for this instant.
		if err := d.publishOutputs(ctx, step, res); err != nil {
			return nil, err
		}
	}

	rec := d.stepRecord(res)
	if d.settings.Exports.ResultsLogging {
		for _, v := range rec.Values {
			logrus.Debugf("step %d %s = %g", step.Index, v.Label(), v.Value)
		}
	}
	if err := d.sink.WriteStep(rec); err != nil {
		return nil, fmt.Errorf("export step %d: %w", step.Index, err)
	}
	if d.reports.Enabled() {
		d.reports.Observe(res, d.state)
	}
	d.advanceControllerState()
	return res, nil
}

// federateRound performs the grant/exchange for one step. Inbound values
// are applied to the network state before the solve; in iterative mode the
// federate re-solves through the convergence loop until the exchanged
// values settle.
func (d *SimulationDriver) federateRound(ctx context.Context, step TimeStep) error {
	offset := step.Time.Sub(d.settings.Project.Window().Start()).Seconds()
	requested := d.fed.RequiredTime(offset)

	resolve := func(received map[string]float64) (map[string]float64, error) {
		d.applyReceived(received)
		res, err := d.loop.RunStep(step, d.state)
		if err != nil {
			return nil, err
		}
		return d.outputsFor(res), nil
	}

	// Seed the state and pre-solve so the first publish of the round
	// carries this step's operating point rather than the previous one's.
	pre, err := d.loop.RunStep(step, d.state)
	if err != nil {
		return err
	}
	ex, err := d.fed.Step(ctx, requested, d.outputsFor(pre), resolve)
	if err != nil {
		return err
	}
	if ex.Warning != nil {
		logrus.Warnf("step %d: %s", step.Index, ex.Warning)
	}
	d.applyReceived(ex.Received)
	return nil
}

// publishOutputs pushes the finalized values without requesting another
// grant; peers working the same instant read them on their next collect.
func (d *SimulationDriver) publishOutputs(ctx context.Context, step TimeStep, res *SolveResult) error {
	return d.fed.PublishFinal(ctx, d.outputsFor(res))
}

// outputsFor maps a solved step onto the federate's published topics:
// "voltage.<bus>" and "pv_output.<device>".
func (d *SimulationDriver) outputsFor(res *SolveResult) map[string]float64 {
	out := make(map[string]float64)
	for bus, v := range res.BusVoltages {
		out["voltage."+bus] = v
	}
	for _, dev := range d.state.DevicesByClass(ClassPVSystem) {
		out["pv_output."+dev.Name] = res.ControllerSetpoints[dev.Name]
	}
	return out
}

// applyReceived folds inbound federate values into the network state.
// Topics of the form "load_kw.<bus>" replace the bus load; unknown topics
// are ignored with a debug line so a misconfigured federation is visible.
func (d *SimulationDriver) applyReceived(values map[string]float64) {
	for topic, value := range values {
		name, ok := strings.CutPrefix(topic, "load_kw.")
		if !ok {
			logrus.Debugf("ignoring unmapped federate topic %q", topic)
			continue
		}
		if bus, exists := d.state.Buses[name]; exists {
			bus.LoadKW = value
		} else {
			logrus.Debugf("federate topic %q names unknown bus", topic)
		}
	}
}

// stepRecord converts a finalized result into its export form, honoring the
// element-export toggles.
func (d *SimulationDriver) stepRecord(res *SolveResult) export.StepRecord {
	rec := export.StepRecord{
		StepIndex:      res.Step.Index,
		Timestamp:      res.Step.Time,
		Converged:      res.Converged,
		IterationsUsed: res.IterationsUsed,
	}
	for bus, v := range res.BusVoltages {
		rec.Values = append(rec.Values, export.Value{
			Class: "Bus", Element: bus, Property: "voltage_pu", Value: v,
		})
	}
	for line, f := range res.BranchFlows {
		rec.Values = append(rec.Values, export.Value{
			Class: "Line", Element: line, Property: "flow_kw", Value: f,
		})
	}
	for name, setting := range res.ControllerSetpoints {
		dev, ok := d.state.Devices[name]
		if !ok {
			continue
		}
		include := d.settings.Exports.ExportElements ||
			(dev.Class == ClassPVSystem && d.settings.Exports.ExportPVProfiles)
		if !include {
			continue
		}
		rec.Values = append(rec.Values, export.Value{
			Class: string(dev.Class), Element: name, Property: "setting", Value: setting,
		})
	}
	export.OrderValues(rec.Values, string(d.settings.Exports.Mode))
	return rec
}

// advanceControllerState applies the control-mode policy at a step
// boundary: Static resets controller internal state, Time lets it persist
// and gives step-aware controllers their boundary hook.
func (d *SimulationDriver) advanceControllerState() {
	if d.settings.Project.ControlMode == ControlStatic {
		d.controllers.ResetAll()
		return
	}
	for _, c := range d.controllers.Controllers() {
		if sa, ok := c.(stepAware); ok {
			sa.StepBoundary(d.state)
		}
	}
}

// teardown closes the sink and, on every path, terminates the federate.
func (d *SimulationDriver) teardown() {
	if d.fed != nil {
		d.fed.Terminate()
	}
	if err := d.sink.Close(); err != nil {
		logrus.Warnf("close export sink: %v", err)
	}
}
