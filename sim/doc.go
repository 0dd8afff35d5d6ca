// Package sim provides the discrete-event scheduler for a multi-die,
// multi-plane NAND flash array.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - operation.go: Operation, Address and segment layout
//   - event.go: Event types that drive the simulation (AdmissionRefill, PhaseHook, OpStart, OpEnd)
//   - scheduler.go: The event loop and the accept path
//
// # Architecture
//
// A run owns one Managers set; nothing is global:
//   - AddressManager: committed and future block state, plane timelines, the bus, target planning
//   - ExclusionManager: time-windowed "kind X blocks kind Y" rules
//   - LatchManager: read-buffer locks between a READ's end and its DOUT's end
//   - ObligationManager: deadline heap of follow-up requirements
//
// The PolicyEngine proposes at each phase hook, first from urgent obligations
// and then from the phase-conditional distributions, validating every proposal
// through admission, precheck, bus, latch and exclusion gates in that order.
//
// Time is integer ticks. Configuration is in time units and is converted once
// by Config.Compile; see clock.go.
//
// Sub-packages:
//   - sim/trace/: operation records, decision diagnostics and summaries (pure data)
//   - sim/check/: an independent validator that re-derives legality from records
package sim
