package sim

import "fmt"

// CapacitorController switches a capacitor bank on when the monitored bus
// voltage sags below OnThresholdPU and off when it rises above
// OffThresholdPU. The delta it reports is the per-unit support the switching
// action adds or removes, so the convergence metric sees the change in
// electrical terms rather than as a raw 0/1 state flip.
type CapacitorController struct {
	DeviceName     string
	MonitoredBus   string
	OnThresholdPU  float64
	OffThresholdPU float64
	SupportPU      float64 // p.u. swing attributed to one switching action
}

// NewCapacitorController applies conventional thresholds when unset.
func NewCapacitorController(device, bus string) *CapacitorController {
	return &CapacitorController{
		DeviceName:     device,
		MonitoredBus:   bus,
		OnThresholdPU:  0.98,
		OffThresholdPU: 1.02,
		SupportPU:      0.02,
	}
}

func (c *CapacitorController) Name() string   { return "capacitor:" + c.DeviceName }
func (c *CapacitorController) Device() string { return c.DeviceName }

// Update implements Controller.
func (c *CapacitorController) Update(res *SolveResult, state *NetworkState) (float64, error) {
	dev, ok := state.Devices[c.DeviceName]
	if !ok {
		return 0, fmt.Errorf("no device %q in network", c.DeviceName)
	}
	v, ok := res.BusVoltages[c.MonitoredBus]
	if !ok {
		return 0, fmt.Errorf("no bus %q in solution", c.MonitoredBus)
	}

	want := dev.Setting
	switch {
	case v < c.OnThresholdPU:
		want = 1
	case v > c.OffThresholdPU:
		want = 0
	}
	if want == dev.Setting {
		return 0, nil
	}
	dev.Setting = want
	return c.SupportPU, nil
}

// Reset implements Controller. The capacitor controller is memoryless.
func (c *CapacitorController) Reset() {}
