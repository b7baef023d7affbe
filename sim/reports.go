package sim

import (
	"sort"

	"github.com/distsim/distsim/sim/export"
)

// ReportSet accumulates the named end-of-run reports across finalized
// steps. It observes accepted SolveResults only, so control iterations that
// were later superseded within a step do not count.
type ReportSet struct {
	enabled   map[string]bool
	stepHours float64

	capSwitchOps  map[string]int
	tapChanges    map[string]int
	pvClipSteps   map[string]int
	pvCurtailKWh  map[string]float64
	prevSetpoints map[string]float64
}

// NewReportSet builds the accumulators for the enabled report types.
func NewReportSet(cfg ReportSettings, stepResolutionSec float64) *ReportSet {
	enabled := make(map[string]bool, len(cfg.Types))
	for name, on := range cfg.Types {
		enabled[name] = on
	}
	return &ReportSet{
		enabled:      enabled,
		stepHours:    stepResolutionSec / 3600,
		capSwitchOps: make(map[string]int),
		tapChanges:   make(map[string]int),
		pvClipSteps:  make(map[string]int),
		pvCurtailKWh: make(map[string]float64),
	}
}

// Enabled reports whether any report type is switched on.
func (r *ReportSet) Enabled() bool {
	for _, on := range r.enabled {
		if on {
			return true
		}
	}
	return false
}

// Observe folds one finalized step into the accumulators.
func (r *ReportSet) Observe(res *SolveResult, state *NetworkState) {
	for name, setting := range res.ControllerSetpoints {
		dev, ok := state.Devices[name]
		if !ok {
			continue
		}
		prev, havePrev := r.prevSetpoints[name]

		switch dev.Class {
		case ClassCapacitor:
			if r.enabled[ReportCapacitorStateChange] && havePrev && setting != prev {
				r.capSwitchOps[name]++
			}
		case ClassRegulator:
			if r.enabled[ReportRegulatorTapChange] && havePrev && setting != prev {
				r.tapChanges[name] += int(absDiff(setting, prev))
			}
		case ClassPVSystem:
			if setting < dev.RatedKW {
				if r.enabled[ReportPVClipping] {
					r.pvClipSteps[name]++
				}
				if r.enabled[ReportPVCurtailment] {
					r.pvCurtailKWh[name] += (dev.RatedKW - setting) * r.stepHours
				}
			}
		}
	}

	if r.prevSetpoints == nil {
		r.prevSetpoints = make(map[string]float64, len(res.ControllerSetpoints))
	}
	for name, setting := range res.ControllerSetpoints {
		r.prevSetpoints[name] = setting
	}
}

// Flush writes the accumulated rows to the sink, in deterministic element
// order per report.
func (r *ReportSet) Flush(sink export.Sink) error {
	write := func(report string, counts map[string]int) error {
		for _, name := range sortedKeysInt(counts) {
			rec := export.ReportRecord{Report: report, Element: name, Value: float64(counts[name])}
			if err := sink.WriteReport(rec); err != nil {
				return err
			}
		}
		return nil
	}
	if r.enabled[ReportCapacitorStateChange] {
		if err := write(ReportCapacitorStateChange, r.capSwitchOps); err != nil {
			return err
		}
	}
	if r.enabled[ReportRegulatorTapChange] {
		if err := write(ReportRegulatorTapChange, r.tapChanges); err != nil {
			return err
		}
	}
	if r.enabled[ReportPVClipping] {
		if err := write(ReportPVClipping, r.pvClipSteps); err != nil {
			return err
		}
	}
	if r.enabled[ReportPVCurtailment] {
		for _, name := range sortedKeysFloat(r.pvCurtailKWh) {
			rec := export.ReportRecord{Report: ReportPVCurtailment, Element: name, Value: r.pvCurtailKWh[name]}
			if err := sink.WriteReport(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// CapacitorSwitchOps returns the state-change count for a capacitor.
func (r *ReportSet) CapacitorSwitchOps(device string) int { return r.capSwitchOps[device] }

// RegulatorTapChanges returns the accumulated tap movement for a regulator.
func (r *ReportSet) RegulatorTapChanges(device string) int { return r.tapChanges[device] }

// PVCurtailedKWh returns the curtailed energy for a PV system.
func (r *ReportSet) PVCurtailedKWh(device string) float64 { return r.pvCurtailKWh[device] }

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func sortedKeysInt(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysFloat(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
