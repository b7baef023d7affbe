package sim

import (
	"fmt"
	"math"
)

// SolveResult is the immutable outcome of one timestep. It is owned by the
// convergence loop while the step runs and handed by value to the export
// sink and the federate exchange after finalization.
type SolveResult struct {
	Step                TimeStep
	BusVoltages         map[string]float64 // bus name → voltage p.u.
	BranchFlows         map[string]float64 // line name → kW
	ControllerSetpoints map[string]float64 // device name → setting
	Converged           bool
	IterationsUsed      int
	Warning             *ConvergenceWarning // nil when converged
}

// snapshot captures the network state into a fresh SolveResult, so later
// mutations of the state do not leak into an already-finalized result.
func snapshot(step TimeStep, state *NetworkState) *SolveResult {
	res := &SolveResult{
		Step:                step,
		BusVoltages:         make(map[string]float64, len(state.Buses)),
		BranchFlows:         make(map[string]float64, len(state.Lines)),
		ControllerSetpoints: make(map[string]float64, len(state.Devices)),
	}
	for name, b := range state.Buses {
		res.BusVoltages[name] = b.VoltagePU
	}
	for name, l := range state.Lines {
		res.BranchFlows[name] = l.FlowKW
	}
	for name, d := range state.Devices {
		res.ControllerSetpoints[name] = d.Setting
	}
	return res
}

// PowerFlowAdapter executes one power-flow solve for the given network
// state, writing bus voltages and branch flows back into it. The adapter is
// synchronous and non-reentrant from the driver's perspective.
type PowerFlowAdapter interface {
	Solve(state *NetworkState) error
}

// RadialFeederAdapter is the built-in deterministic power-flow model used
// for standalone runs and tests. It approximates a radial feeder: voltage
// drops linearly with accumulated downstream load, switched capacitors and
// regulator taps raise the local bus voltage, and PV injection offsets load.
//
// It is a stand-in for an external solver service, not a numerical method;
// the control loop depends only on the PowerFlowAdapter contract.
type RadialFeederAdapter struct {
	SourcePU   float64 // stiff source voltage
	DropPerKW  float64 // p.u. voltage drop per kW of accumulated load
	TapStepPU  float64 // p.u. boost per regulator tap position
	CapBoostPU float64 // p.u. boost per kvar of switched capacitance
}

// NewRadialFeederAdapter returns an adapter with conventional defaults.
func NewRadialFeederAdapter() *RadialFeederAdapter {
	return &RadialFeederAdapter{
		SourcePU:   1.0,
		DropPerKW:  2e-5,
		TapStepPU:  0.00625, // standard 5/8 percent tap step
		CapBoostPU: 4e-5,
	}
}

// Solve implements PowerFlowAdapter. It fails only on structurally invalid
// input (no buses), which the caller surfaces as a SolverError.
func (a *RadialFeederAdapter) Solve(state *NetworkState) error {
	if len(state.Buses) == 0 {
		return fmt.Errorf("network has no buses")
	}

	// Net load per bus: base load minus PV injection capped at the limit
	// the PV controller set.
	netLoad := make(map[string]float64, len(state.Buses))
	for name, b := range state.Buses {
		netLoad[name] = b.LoadKW
	}
	for _, d := range state.DevicesByClass(ClassPVSystem) {
		netLoad[d.Bus] -= math.Min(d.RatedKW, d.Setting)
	}

	boost := make(map[string]float64, len(state.Buses))
	for _, d := range state.DevicesByClass(ClassCapacitor) {
		if d.Setting >= 1 {
			boost[d.Bus] += a.CapBoostPU * d.RatedKW
		}
	}
	for _, d := range state.DevicesByClass(ClassRegulator) {
		boost[d.Bus] += a.TapStepPU * d.Setting
	}

	// Accumulated load along the sorted bus order stands in for electrical
	// distance from the source on the radial feeder.
	running := 0.0
	for _, name := range state.BusNames() {
		running += netLoad[name]
		bus := state.Buses[name]
		bus.VoltagePU = a.SourcePU - a.DropPerKW*running + boost[name]
	}

	// Line flow is the net load of the receiving bus.
	for _, name := range state.LineNames() {
		line := state.Lines[name]
		line.FlowKW = netLoad[line.To]
	}
	return nil
}
