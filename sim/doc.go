// Package sim provides the control loop of a quasi-static time-series
// distribution-system simulator.
//
// # Reading Guide
//
// Start with these three files to understand the kernel:
//   - clock.go: the simulation window and the deterministic timestep sequence
//   - convergence.go: the outer solve/adjust fixed-point iteration at one step
//   - driver.go: the per-step orchestration across the full horizon
//
// # Architecture
//
// The sim package owns the engine; collaborators live in sub-packages:
//   - sim/federate/: co-simulation state machine and core transports
//   - sim/export/: result containers (memory, CSV, SQLite)
//   - sim/project/: on-disk project/scenario resolution
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - PowerFlowAdapter: one synchronous power-flow solve over a NetworkState
//   - Controller: read solved state, propose a device mutation, report its delta
//   - export.Sink: receive finalized step records
//   - federate.Core: time grants and value exchange with a co-simulation broker
//
// All configuration is loaded once into a validated Settings value and
// passed explicitly to constructors; the loop reads no ambient state.
package sim
