package sim

import "fmt"

// PVController implements volt-watt curtailment: when the PV system's bus
// voltage exceeds the curtailment threshold it steps the inverter's active
// power limit down, and when voltage recovers it releases the limit back
// toward the rated output.
//
// The release direction is rate-limited across timesteps to avoid
// oscillation; the memory of the last limit is the controller-internal
// state that persists under ControlMode=Time and is cleared by Reset under
// Static.
type PVController struct {
	DeviceName  string
	ThresholdPU float64 // curtail above this voltage
	ReleasePU   float64 // release below this voltage
	StepKW      float64 // limit change per control iteration
	RampKW      float64 // max release per timestep (Time mode)

	lastLimit float64
	haveLast  bool
}

// NewPVController applies conventional volt-watt settings when unset.
func NewPVController(device string) *PVController {
	return &PVController{
		DeviceName:  device,
		ThresholdPU: 1.05,
		ReleasePU:   1.03,
		StepKW:      25,
		RampKW:      50,
	}
}

func (p *PVController) Name() string   { return "pvcontroller:" + p.DeviceName }
func (p *PVController) Device() string { return p.DeviceName }

// Update implements Controller. The reported delta is the limit change as a
// fraction of rated output, so it is comparable with the per-unit deltas of
// the voltage controllers.
func (p *PVController) Update(res *SolveResult, state *NetworkState) (float64, error) {
	dev, ok := state.Devices[p.DeviceName]
	if !ok {
		return 0, fmt.Errorf("no device %q in network", p.DeviceName)
	}
	v, ok := res.BusVoltages[dev.Bus]
	if !ok {
		return 0, fmt.Errorf("no bus %q in solution", dev.Bus)
	}
	if dev.RatedKW <= 0 {
		return 0, fmt.Errorf("device %q has no rated output", p.DeviceName)
	}

	limit := dev.Setting
	switch {
	case v > p.ThresholdPU && limit > 0:
		limit -= p.StepKW
		if limit < 0 {
			limit = 0
		}
	case v < p.ReleasePU && limit < dev.RatedKW:
		release := p.StepKW
		if p.haveLast && limit-p.lastLimit+release > p.RampKW {
			release = p.RampKW - (limit - p.lastLimit)
		}
		if release <= 0 {
			return 0, nil
		}
		limit += release
		if limit > dev.RatedKW {
			limit = dev.RatedKW
		}
	}
	if limit == dev.Setting {
		return 0, nil
	}
	changed := limit - dev.Setting
	dev.Setting = limit
	if changed < 0 {
		changed = -changed
	}
	return changed / dev.RatedKW, nil
}

// Reset clears the per-timestep ramp memory. The driver calls StepBoundary
// instead when controller state carries across steps.
func (p *PVController) Reset() {
	p.lastLimit = 0
	p.haveLast = false
}

// StepBoundary records the finalized limit at the end of a timestep so the
// release ramp in the next step is measured against it.
func (p *PVController) StepBoundary(state *NetworkState) {
	if dev, ok := state.Devices[p.DeviceName]; ok {
		p.lastLimit = dev.Setting
		p.haveLast = true
	}
}
