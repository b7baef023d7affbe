// Package federate synchronizes the simulation driver with external
// co-simulation participants. The driver exchanges per-step values with its
// peers through a co-simulation core and may not advance its local time
// until the federation grants it: RequestTime is a blocking rendezvous with
// every other federate's progress.
//
// The package is deliberately structured as an explicit state machine
// (Uninitialized → Joined → {AwaitingGrant ⇄ Exchanging} → Terminated) so
// the suspension points, cancellation, and timeout handling stay in one
// place instead of being scattered through callbacks.
package federate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// State is the federate lifecycle position.
type State int

const (
	Uninitialized State = iota
	Joined
	AwaitingGrant
	Exchanging
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Joined:
		return "Joined"
	case AwaitingGrant:
		return "AwaitingGrant"
	case Exchanging:
		return "Exchanging"
	case Terminated:
		return "Terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config mirrors the helics settings group, resolved for one federate.
type Config struct {
	IterativeMode   bool
	ErrorTolerance  float64 // tolerance on exchanged values, iterative mode only
	MaxCoIterations int
	FederateName    string
	TimeDeltaSec    float64
	Uninterruptible bool
	GrantTimeout    time.Duration // wait ceiling on a time-grant request
	Publications    []string
	Subscriptions   []string
}

// DefaultGrantTimeout bounds a grant request when the config does not.
// Federation time cannot be replayed, so a request that outlives this is
// unrecoverable rather than retried.
const DefaultGrantTimeout = 5 * time.Minute

// FederationError is fatal: registration rejection, grant timeout, or an
// unrecoverable transport failure. The driver tears the federate down and
// propagates it.
type FederationError struct {
	Op  string
	Err error
}

func (e *FederationError) Error() string {
	return fmt.Sprintf("federation failure during %s: %v", e.Op, e.Err)
}

func (e *FederationError) Unwrap() error { return e.Err }

// ConvergenceWarning annotates an iterative exchange that exhausted its
// co-iteration budget. Non-fatal unless the federate is uninterruptible.
type ConvergenceWarning struct {
	GrantedTime float64
	Iterations  int
	FinalError  float64
	Tolerance   float64
}

func (w *ConvergenceWarning) String() string {
	return fmt.Sprintf("co-simulation exchange did not converge at t=%gs after %d iterations (error %.6g > tolerance %.6g)",
		w.GrantedTime, w.Iterations, w.FinalError, w.Tolerance)
}

// Registration is the identity and topic declaration sent to the core.
type Registration struct {
	FederateID    uuid.UUID `json:"federate_id"`
	Name          string    `json:"name"`
	Publications  []string  `json:"publications"`
	Subscriptions []string  `json:"subscriptions"`
}

// Core is the co-simulation coordinator the federate talks to. Times are
// seconds since the federation's simulation start. Implementations: the
// NATS core for real federations and the loopback core for tests and
// single-process runs.
type Core interface {
	// Register declares the federate to the coordinator. A rejected
	// registration (duplicate name, unreachable broker) is an error.
	Register(ctx context.Context, reg Registration) error
	// RequestTime blocks until the federation grants a time >= requested,
	// the context expires, or the transport fails.
	RequestTime(ctx context.Context, requested float64) (float64, error)
	// Publish pushes this federate's outputs for the granted instant.
	Publish(ctx context.Context, values map[string]float64) error
	// Collect returns the pending inbound values for the granted instant.
	Collect(ctx context.Context, granted float64) (map[string]float64, error)
	// Finalize releases the registration. It must be safe to call on every
	// path, including after transport failure.
	Finalize() error
}

// Exchange is the outcome of one federate round, bounded to one timestep.
type Exchange struct {
	GrantedTime float64
	Published   map[string]float64
	Received    map[string]float64
	Warning     *ConvergenceWarning // nil when the exchange settled
}

// ResolveFunc re-solves the local model against newly received values and
// returns the refreshed outputs. The driver supplies it so the iterative
// exchange can loop through the convergence loop without this package
// depending on it.
type ResolveFunc func(received map[string]float64) (map[string]float64, error)

// Sync is the federate-side state machine.
type Sync struct {
	cfg   Config
	core  Core
	id    uuid.UUID
	state State
}

// New builds an unjoined federate over the given core.
func New(core Core, cfg Config) *Sync {
	if cfg.GrantTimeout <= 0 {
		cfg.GrantTimeout = DefaultGrantTimeout
	}
	return &Sync{
		cfg:   cfg,
		core:  core,
		id:    uuid.New(),
		state: Uninitialized,
	}
}

// State reports the current lifecycle position.
func (s *Sync) State() State { return s.state }

// ID returns the federate's registration identity.
func (s *Sync) ID() uuid.UUID { return s.id }

// Join registers the federate with the core: Uninitialized → Joined.
func (s *Sync) Join(ctx context.Context) error {
	if s.state != Uninitialized {
		return &FederationError{Op: "join", Err: fmt.Errorf("cannot join from state %s", s.state)}
	}
	reg := Registration{
		FederateID:    s.id,
		Name:          s.cfg.FederateName,
		Publications:  s.cfg.Publications,
		Subscriptions: s.cfg.Subscriptions,
	}
	if err := s.core.Register(ctx, reg); err != nil {
		s.terminate()
		return &FederationError{Op: "register", Err: err}
	}
	s.state = Joined
	logrus.Infof("federate %s joined (id %s)", s.cfg.FederateName, s.id)
	return nil
}

// RequiredTime maps a step offset (seconds from simulation start) onto the
// federation time grid: the smallest multiple of TimeDeltaSec that is not
// before the offset.
func (s *Sync) RequiredTime(stepOffsetSec float64) float64 {
	if s.cfg.TimeDeltaSec <= 0 {
		return stepOffsetSec
	}
	return math.Ceil(stepOffsetSec/s.cfg.TimeDeltaSec) * s.cfg.TimeDeltaSec
}

// Step runs one grant/exchange round: request advancement to the required
// instant, block for the grant, then publish outputs and pull inbound
// values. In iterative mode the exchange loops publish → collect → resolve
// until the received values settle within the tolerance or the co-iteration
// budget runs out.
//
// A fatal federation error leaves the machine Terminated. A non-fatal
// convergence shortfall is reported on the Exchange.
func (s *Sync) Step(ctx context.Context, requested float64, outputs map[string]float64, resolve ResolveFunc) (*Exchange, error) {
	if s.state != Joined && s.state != Exchanging {
		return nil, &FederationError{Op: "step", Err: fmt.Errorf("cannot request a grant from state %s", s.state)}
	}

	s.state = AwaitingGrant
	grantCtx, cancel := context.WithTimeout(ctx, s.cfg.GrantTimeout)
	granted, err := s.core.RequestTime(grantCtx, requested)
	cancel()
	if err != nil {
		s.terminate()
		return nil, &FederationError{Op: "time grant", Err: err}
	}
	if granted < requested {
		s.terminate()
		return nil, &FederationError{Op: "time grant",
			Err: fmt.Errorf("granted %gs is before requested %gs", granted, requested)}
	}
	s.state = Exchanging
	logrus.Debugf("federate %s granted t=%gs (requested %gs)", s.cfg.FederateName, granted, requested)

	ex := &Exchange{GrantedTime: granted, Published: outputs}
	if err := s.core.Publish(ctx, outputs); err != nil {
		s.terminate()
		return nil, &FederationError{Op: "publish", Err: err}
	}
	received, err := s.core.Collect(ctx, granted)
	if err != nil {
		s.terminate()
		return nil, &FederationError{Op: "collect", Err: err}
	}
	ex.Received = received

	if s.cfg.IterativeMode && resolve != nil {
		if err := s.iterate(ctx, ex, resolve); err != nil {
			return nil, err
		}
	}
	return ex, nil
}

// iterate runs the co-convergence loop on an exchange that already has one
// publish/collect round behind it.
func (s *Sync) iterate(ctx context.Context, ex *Exchange, resolve ResolveFunc) error {
	prev := ex.Received
	residual := math.Inf(1)

	for iter := 1; iter <= s.cfg.MaxCoIterations; iter++ {
		outputs, err := resolve(prev)
		if err != nil {
			s.terminate()
			return &FederationError{Op: "co-iteration resolve", Err: err}
		}
		if err := s.core.Publish(ctx, outputs); err != nil {
			s.terminate()
			return &FederationError{Op: "co-iteration publish", Err: err}
		}
		received, err := s.core.Collect(ctx, ex.GrantedTime)
		if err != nil {
			s.terminate()
			return &FederationError{Op: "co-iteration collect", Err: err}
		}

		residual = valueResidual(prev, received)
		ex.Published = outputs
		ex.Received = received
		logrus.Debugf("federate %s co-iteration %d at t=%gs: residual %.6g",
			s.cfg.FederateName, iter, ex.GrantedTime, residual)
		if residual <= s.cfg.ErrorTolerance {
			return nil
		}
		prev = received
	}

	warning := &ConvergenceWarning{
		GrantedTime: ex.GrantedTime,
		Iterations:  s.cfg.MaxCoIterations,
		FinalError:  residual,
		Tolerance:   s.cfg.ErrorTolerance,
	}
	if s.cfg.Uninterruptible {
		// Partial results are forbidden; escalate.
		s.terminate()
		return &FederationError{Op: "co-iteration", Err: fmt.Errorf("%s", warning)}
	}
	ex.Warning = warning
	logrus.Warnf("%s", warning)
	return nil
}

// PublishFinal pushes the settled post-convergence outputs for the current
// granted instant without requesting another grant. Valid only while
// Exchanging.
func (s *Sync) PublishFinal(ctx context.Context, outputs map[string]float64) error {
	if s.state != Exchanging {
		return &FederationError{Op: "publish", Err: fmt.Errorf("cannot publish from state %s", s.state)}
	}
	if err := s.core.Publish(ctx, outputs); err != nil {
		s.terminate()
		return &FederationError{Op: "publish", Err: err}
	}
	return nil
}

// Terminate releases the federate registration: * → Terminated. It is
// idempotent and runs on every exit path, error paths included.
func (s *Sync) Terminate() {
	s.terminate()
}

func (s *Sync) terminate() {
	if s.state == Terminated {
		return
	}
	if err := s.core.Finalize(); err != nil {
		logrus.Warnf("federate %s: finalize: %v", s.cfg.FederateName, err)
	}
	s.state = Terminated
	logrus.Infof("federate %s terminated", s.cfg.FederateName)
}

// valueResidual is the max absolute difference across the union of topics.
func valueResidual(a, b map[string]float64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	diffs := make([]float64, 0, len(a)+len(b))
	for topic, av := range a {
		diffs = append(diffs, math.Abs(av-b[topic]))
	}
	for topic, bv := range b {
		if _, seen := a[topic]; !seen {
			diffs = append(diffs, math.Abs(bv))
		}
	}
	if len(diffs) == 0 {
		return 0
	}
	return floats.Max(diffs)
}
