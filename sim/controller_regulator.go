package sim

import (
	"fmt"
	"math"
)

// RegulatorController moves a voltage regulator's tap one position per
// control iteration toward the band around its voltage setpoint. One tap at
// a time mirrors how mechanical regulators behave and keeps the fixed-point
// iteration stable.
type RegulatorController struct {
	DeviceName   string
	MonitoredBus string
	SetpointPU   float64
	BandwidthPU  float64 // half-width of the dead band
	TapStepPU    float64 // voltage effect of one tap, for the reported delta
	MinTap       float64
	MaxTap       float64
}

// NewRegulatorController applies conventional ±16 tap limits and a 5/8
// percent step when unset.
func NewRegulatorController(device, bus string) *RegulatorController {
	return &RegulatorController{
		DeviceName:   device,
		MonitoredBus: bus,
		SetpointPU:   1.0,
		BandwidthPU:  0.0075,
		TapStepPU:    0.00625,
		MinTap:       -16,
		MaxTap:       16,
	}
}

func (r *RegulatorController) Name() string   { return "regulator:" + r.DeviceName }
func (r *RegulatorController) Device() string { return r.DeviceName }

// Update implements Controller.
func (r *RegulatorController) Update(res *SolveResult, state *NetworkState) (float64, error) {
	dev, ok := state.Devices[r.DeviceName]
	if !ok {
		return 0, fmt.Errorf("no device %q in network", r.DeviceName)
	}
	v, ok := res.BusVoltages[r.MonitoredBus]
	if !ok {
		return 0, fmt.Errorf("no bus %q in solution", r.MonitoredBus)
	}

	err := v - r.SetpointPU
	if math.Abs(err) <= r.BandwidthPU {
		return 0, nil
	}

	tap := dev.Setting
	if err < 0 && tap < r.MaxTap {
		tap++
	} else if err > 0 && tap > r.MinTap {
		tap--
	}
	if tap == dev.Setting {
		// Against a tap limit; nothing more this controller can do.
		return 0, nil
	}
	dev.Setting = tap
	return r.TapStepPU, nil
}

// Reset implements Controller. Tap position lives in the network state, not
// here, so the regulator has no internal state to clear.
func (r *RegulatorController) Reset() {}
