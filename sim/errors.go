package sim

import "fmt"

// ConfigurationError reports a malformed or contradictory setting detected
// before the simulation starts. It is always fatal and always pre-run.
type ConfigurationError struct {
	Field  string // settings key or group, e.g. "project.step_resolution_sec"
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError builds a ConfigurationError for a settings field.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SolverError reports that the power-flow adapter failed to produce any
// candidate solution. It is fatal and identifies the offending timestep.
type SolverError struct {
	Step TimeStep
	Err  error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("power flow solve failed at step %d (%s): %v",
		e.Step.Index, e.Step.Time.Format("2006-01-02 15:04:05"), e.Err)
}

func (e *SolverError) Unwrap() error { return e.Err }

// ConvergenceWarning annotates a step whose outer control loop did not
// converge within the iteration budget. It is recoverable: the simulation
// continues with the last candidate and the exported record carries the flag.
type ConvergenceWarning struct {
	Step           TimeStep
	IterationsUsed int
	FinalError     float64
	Tolerance      float64
}

func (w *ConvergenceWarning) String() string {
	return fmt.Sprintf("control loop did not converge at step %d after %d iterations (error %.6g > tolerance %.6g)",
		w.Step.Index, w.IterationsUsed, w.FinalError, w.Tolerance)
}
