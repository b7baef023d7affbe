package sim

import (
	"fmt"
	"sort"
)

// DeviceClass identifies the kind of a controllable network element.
type DeviceClass string

const (
	ClassCapacitor DeviceClass = "Capacitor"
	ClassRegulator DeviceClass = "RegControl"
	ClassPVSystem  DeviceClass = "PVSystem"
	ClassLoad      DeviceClass = "Load"
)

// Bus is a node of the distribution network with its solved voltage.
type Bus struct {
	Name      string  `yaml:"name"`
	BaseKV    float64 `yaml:"base_kv"`
	LoadKW    float64 `yaml:"load_kw"`
	VoltagePU float64 `yaml:"-"` // written by the solver
}

// Line connects two buses and carries the solved power flow.
type Line struct {
	Name     string  `yaml:"name"`
	From     string  `yaml:"from"`
	To       string  `yaml:"to"`
	RatingKW float64 `yaml:"rating_kw"`
	FlowKW   float64 `yaml:"-"` // written by the solver
}

// Device is a controllable element attached to a bus. Setting is the single
// controllable quantity: switch state (0/1) for capacitors, tap position for
// regulators, active power limit in kW for PV systems.
type Device struct {
	Name    string      `yaml:"name"`
	Class   DeviceClass `yaml:"class"`
	Bus     string      `yaml:"bus"`
	RatedKW float64     `yaml:"rated_kw"` // kvar for capacitors, kW otherwise
	Setting float64     `yaml:"setting"`
}

// NetworkState is the mutable electrical state the convergence loop and the
// controllers operate on. It is owned by a single step at a time; nothing in
// this package mutates it concurrently.
type NetworkState struct {
	Buses   map[string]*Bus
	Lines   map[string]*Line
	Devices map[string]*Device
}

// NewNetworkState builds a state from element definitions, keyed by name.
// Duplicate names and dangling bus references are rejected.
func NewNetworkState(buses []Bus, lines []Line, devices []Device) (*NetworkState, error) {
	ns := &NetworkState{
		Buses:   make(map[string]*Bus, len(buses)),
		Lines:   make(map[string]*Line, len(lines)),
		Devices: make(map[string]*Device, len(devices)),
	}
	for i := range buses {
		b := buses[i]
		if _, dup := ns.Buses[b.Name]; dup {
			return nil, fmt.Errorf("duplicate bus %q", b.Name)
		}
		if b.VoltagePU == 0 {
			b.VoltagePU = 1.0
		}
		ns.Buses[b.Name] = &b
	}
	for i := range lines {
		l := lines[i]
		if _, ok := ns.Buses[l.From]; !ok {
			return nil, fmt.Errorf("line %q references unknown bus %q", l.Name, l.From)
		}
		if _, ok := ns.Buses[l.To]; !ok {
			return nil, fmt.Errorf("line %q references unknown bus %q", l.Name, l.To)
		}
		ns.Lines[l.Name] = &l
	}
	for i := range devices {
		d := devices[i]
		if _, dup := ns.Devices[d.Name]; dup {
			return nil, fmt.Errorf("duplicate device %q", d.Name)
		}
		if _, ok := ns.Buses[d.Bus]; !ok {
			return nil, fmt.Errorf("device %q references unknown bus %q", d.Name, d.Bus)
		}
		ns.Devices[d.Name] = &d
	}
	return ns, nil
}

// DevicesByClass returns the devices of one class in name order, so that
// iteration over them is deterministic.
func (ns *NetworkState) DevicesByClass(class DeviceClass) []*Device {
	var out []*Device
	for _, d := range ns.Devices {
		if d.Class == class {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BusNames returns all bus names sorted, for deterministic export ordering.
func (ns *NetworkState) BusNames() []string {
	names := make([]string, 0, len(ns.Buses))
	for n := range ns.Buses {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LineNames returns all line names sorted.
func (ns *NetworkState) LineNames() []string {
	names := make([]string, 0, len(ns.Lines))
	for n := range ns.Lines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
