package sim

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// ConvergenceLoop drives the outer fixed-point iteration between the
// power-flow adapter and the controller set at a single timestep. It owns
// the transient solver state for the duration of the step and always
// returns a SolveResult: non-convergence is annotated on the result, never
// raised as an error. Only adapter failure (SolverError) aborts a step.
type ConvergenceLoop struct {
	Adapter     PowerFlowAdapter
	Controllers *ControllerSet
	Config      ConvergenceConfig

	prevVoltages map[string]float64 // residual baseline when controllers are disabled
}

// NewConvergenceLoop wires the loop to its collaborators.
func NewConvergenceLoop(adapter PowerFlowAdapter, controllers *ControllerSet, cfg ConvergenceConfig) *ConvergenceLoop {
	return &ConvergenceLoop{
		Adapter:     adapter,
		Controllers: controllers,
		Config:      cfg,
	}
}

// RunStep executes the control iteration at one timestep. The network state
// is mutated in place (it was seeded by the driver from the previous step's
// finalized state), and the returned result is an immutable snapshot.
//
// The loop never exceeds MaxControlIterations adapter invocations. With
// DisableControllers set it accepts the first candidate, so exactly one
// solve happens. Two controllers targeting the same device apply in
// registration order within an iteration; the last writer wins.
func (cl *ConvergenceLoop) RunStep(step TimeStep, state *NetworkState) (*SolveResult, error) {
	var (
		iterations int
		metric     = math.Inf(1)
	)

	for iterations < cl.Config.MaxControlIterations {
		if err := cl.Adapter.Solve(state); err != nil {
			return nil, &SolverError{Step: step, Err: err}
		}
		iterations++
		candidate := snapshot(step, state)

		if cl.Config.DisableControllers {
			// No controllers to settle; the residual against the previous
			// accepted solution is informational only.
			metric = cl.voltageResidual(candidate)
			cl.rememberVoltages(candidate)
			candidate.Converged = true
			candidate.IterationsUsed = iterations
			return candidate, nil
		}

		deltas, err := cl.Controllers.UpdateAll(candidate, state)
		if err != nil {
			return nil, &SolverError{Step: step, Err: err}
		}
		metric = maxAbs(deltas)
		logrus.Debugf("step %d control iteration %d: metric %.6g (tolerance %.6g)",
			step.Index, iterations, metric, cl.Config.ErrorTolerancePU)

		if metric <= cl.Config.ErrorTolerancePU {
			candidate.Converged = true
			candidate.IterationsUsed = iterations
			cl.rememberVoltages(candidate)
			return candidate, nil
		}
	}

	// Budget exhausted: accept the last candidate, flagged. No extra solve
	// happens here, so the adapter is never invoked more than
	// MaxControlIterations times for one step.
	final := snapshot(step, state)
	final.Converged = false
	final.IterationsUsed = cl.Config.MaxControlIterations
	final.Warning = &ConvergenceWarning{
		Step:           step,
		IterationsUsed: cl.Config.MaxControlIterations,
		FinalError:     metric,
		Tolerance:      cl.Config.ErrorTolerancePU,
	}
	cl.rememberVoltages(final)
	logrus.Warnf("%s", final.Warning)
	return final, nil
}

// voltageResidual is the convergence metric when controllers are disabled:
// the maximum absolute bus-voltage change against the previous accepted
// solution, or +Inf before one exists.
func (cl *ConvergenceLoop) voltageResidual(res *SolveResult) float64 {
	if cl.prevVoltages == nil {
		return math.Inf(1)
	}
	diffs := make([]float64, 0, len(res.BusVoltages))
	for name, v := range res.BusVoltages {
		diffs = append(diffs, math.Abs(v-cl.prevVoltages[name]))
	}
	return maxAbs(diffs)
}

func (cl *ConvergenceLoop) rememberVoltages(res *SolveResult) {
	cl.prevVoltages = res.BusVoltages
}

func maxAbs(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	abs := make([]float64, len(values))
	for i, v := range values {
		abs[i] = math.Abs(v)
	}
	return floats.Max(abs)
}
