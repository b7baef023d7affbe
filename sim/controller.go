package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Controller reads solved state and proposes network-state mutations for a
// single device. Update returns the magnitude of the change it made this
// control iteration; zero means the controller is satisfied. Controllers
// keep internal state across timesteps only under ControlMode=Time; Reset
// clears it between steps under ControlMode=Static.
type Controller interface {
	Name() string
	Device() string
	Update(res *SolveResult, state *NetworkState) (float64, error)
	Reset()
}

// ControllerSet dispatches controllers in fixed registration order. Two
// controllers targeting the same device apply in that order within one
// iteration; the last writer for the device wins.
type ControllerSet struct {
	controllers []Controller
}

// NewControllerSet returns an empty set.
func NewControllerSet() *ControllerSet {
	return &ControllerSet{}
}

// Register appends a controller. Registration order is dispatch order.
func (cs *ControllerSet) Register(c Controller) {
	cs.controllers = append(cs.controllers, c)
}

// Len returns the number of registered controllers.
func (cs *ControllerSet) Len() int { return len(cs.controllers) }

// Controllers returns the controllers in registration order.
func (cs *ControllerSet) Controllers() []Controller { return cs.controllers }

// UpdateAll runs every controller against the candidate result and returns
// the per-controller delta magnitudes, in registration order.
func (cs *ControllerSet) UpdateAll(res *SolveResult, state *NetworkState) ([]float64, error) {
	deltas := make([]float64, len(cs.controllers))
	for i, c := range cs.controllers {
		d, err := c.Update(res, state)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", c.Name(), err)
		}
		if d != 0 {
			logrus.Debugf("controller %s adjusted %s (delta %.6g)", c.Name(), c.Device(), d)
		}
		deltas[i] = d
	}
	return deltas, nil
}

// ResetAll clears every controller's internal state. The driver calls this
// between timesteps under ControlMode=Static.
func (cs *ControllerSet) ResetAll() {
	for _, c := range cs.controllers {
		c.Reset()
	}
}
