package sim

import "testing"

// newTestFeeder builds a small three-bus radial feeder with one device of
// each controllable class.
func newTestFeeder(t *testing.T) *NetworkState {
	t.Helper()
	ns, err := NewNetworkState(
		[]Bus{
			{Name: "source", BaseKV: 12.47, LoadKW: 0},
			{Name: "mid", BaseKV: 12.47, LoadKW: 800},
			{Name: "tail", BaseKV: 12.47, LoadKW: 1200},
		},
		[]Line{
			{Name: "l1", From: "source", To: "mid", RatingKW: 5000},
			{Name: "l2", From: "mid", To: "tail", RatingKW: 3000},
		},
		[]Device{
			{Name: "cap1", Class: ClassCapacitor, Bus: "tail", RatedKW: 600, Setting: 0},
			{Name: "reg1", Class: ClassRegulator, Bus: "mid", Setting: 0},
			{Name: "pv1", Class: ClassPVSystem, Bus: "tail", RatedKW: 500, Setting: 500},
		},
	)
	if err != nil {
		t.Fatalf("NewNetworkState: %v", err)
	}
	return ns
}

// countingAdapter wraps an adapter and counts Solve invocations.
type countingAdapter struct {
	inner  PowerFlowAdapter
	solves int
}

func (a *countingAdapter) Solve(state *NetworkState) error {
	a.solves++
	return a.inner.Solve(state)
}

// stubbornController always reports the same nonzero delta, so the loop can
// never settle.
type stubbornController struct {
	delta float64
}

func (c *stubbornController) Name() string   { return "stubborn" }
func (c *stubbornController) Device() string { return "cap1" }
func (c *stubbornController) Update(*SolveResult, *NetworkState) (float64, error) {
	return c.delta, nil
}
func (c *stubbornController) Reset() {}

// settledController is always satisfied.
type settledController struct{}

func (c *settledController) Name() string   { return "settled" }
func (c *settledController) Device() string { return "cap1" }
func (c *settledController) Update(*SolveResult, *NetworkState) (float64, error) {
	return 0, nil
}
func (c *settledController) Reset() {}

func testStep() TimeStep {
	window := fifteenMinuteDayWindow()
	return TimeStep{Index: 0, Time: window.Start()}
}
