package sim

import (
	"time"
)

// TimeStep is one instant on the simulation horizon. Steps are immutable
// once produced by the Clock and are consumed exactly once by the driver.
type TimeStep struct {
	Index   int       // 0-based position in the sequence
	Time    time.Time // resolved simulation instant
	IsFinal bool      // true on the last step of the horizon
}

// SimulationWindow resolves the configured start/end day, time-of-day,
// date offset and step resolution into concrete instants. Days are 1-based
// days of the start year, times are minutes past midnight.
type SimulationWindow struct {
	StartYear         int
	StartDay          int
	StartTimeMin      float64
	EndDay            float64
	EndTimeMin        float64
	DateOffsetDays    int
	StepResolutionSec float64
}

// Start returns the resolved start instant, including the date offset.
func (w SimulationWindow) Start() time.Time {
	base := time.Date(w.StartYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	base = base.AddDate(0, 0, w.StartDay-1+w.DateOffsetDays)
	return base.Add(time.Duration(w.StartTimeMin * float64(time.Minute)))
}

// End returns the resolved end instant, including the date offset. EndDay
// may be fractional; day 1.5 ends at noon of day 1, before EndTimeMin is
// added.
func (w SimulationWindow) End() time.Time {
	base := time.Date(w.StartYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	base = base.AddDate(0, 0, w.DateOffsetDays)
	return base.
		Add(time.Duration((w.EndDay - 1) * 24 * float64(time.Hour))).
		Add(time.Duration(w.EndTimeMin * float64(time.Minute)))
}

// StepDuration returns the step resolution as a duration.
func (w SimulationWindow) StepDuration() time.Duration {
	return time.Duration(w.StepResolutionSec * float64(time.Second))
}

// Clock produces the deterministic sequence of simulation timestamps for a
// window. It is stateless apart from a monotonic cursor: timestamps are
// start + n*stepResolution for n = 0,1,2,... while they do not pass the end
// instant. A horizon that does not divide evenly simply ends on the last
// full step; the trailing partial interval is truncated at the end instant.
// Snapshot mode short-circuits to a single step at the start instant.
type Clock struct {
	window   SimulationWindow
	snapshot bool
	cursor   int
	done     bool
}

// NewClock validates the window and returns a clock positioned before the
// first step. A non-positive step resolution or an end instant before the
// start instant is a ConfigurationError.
func NewClock(window SimulationWindow, mode SimulationType) (*Clock, error) {
	if window.StepResolutionSec <= 0 {
		return nil, NewConfigurationError("project.step_resolution_sec",
			"must be > 0, got %g", window.StepResolutionSec)
	}
	if window.End().Before(window.Start()) {
		return nil, NewConfigurationError("project",
			"end instant %s precedes start instant %s", window.End(), window.Start())
	}
	return &Clock{
		window:   window,
		snapshot: mode == Snapshot,
	}, nil
}

// Steps returns the total number of timestamps the clock will emit.
func (c *Clock) Steps() int {
	if c.snapshot {
		return 1
	}
	span := c.window.End().Sub(c.window.Start())
	return int(span/c.window.StepDuration()) + 1
}

// Next returns the next TimeStep in the sequence, or ok=false once the
// horizon is exhausted.
func (c *Clock) Next() (TimeStep, bool) {
	if c.done {
		return TimeStep{}, false
	}
	total := c.Steps()
	if c.cursor >= total {
		c.done = true
		return TimeStep{}, false
	}
	step := TimeStep{
		Index:   c.cursor,
		Time:    c.window.Start().Add(time.Duration(c.cursor) * c.window.StepDuration()),
		IsFinal: c.cursor == total-1,
	}
	c.cursor++
	return step, true
}

// Reset rewinds the cursor to the first step.
func (c *Clock) Reset() {
	c.cursor = 0
	c.done = false
}
