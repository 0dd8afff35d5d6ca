package sim

import "github.com/sirupsen/logrus"

// Event defines the interface for all simulation events.
// Each event must have a Timestamp (in ticks) and an Execute method
// that advances simulation state when invoked.
type Event interface {
	Timestamp() int64
	Execute(*Scheduler)
}

// AdmissionRefillEvent is the periodic tick that raises a phase hook on
// every (die, plane), so proposals happen even when nothing completes.
type AdmissionRefillEvent struct {
	time int64
}

// Timestamp returns the scheduled time of the AdmissionRefillEvent.
func (e *AdmissionRefillEvent) Timestamp() int64 { return e.time }

// Execute relieves overdue obligations, prunes stale bookings, proposes on
// every plane and schedules the next refill.
func (e *AdmissionRefillEvent) Execute(s *Scheduler) {
	s.expire(e.time)
	s.prune(e.time)
	for die := 0; die < s.params.Topology.Dies; die++ {
		for plane := 0; plane < s.params.Topology.Planes; plane++ {
			s.propose(e.time, die, plane, s.planeLabel(e.time, die, plane))
		}
	}
	if next := e.time + s.params.RefillPeriod; next <= s.params.Horizon {
		s.Schedule(&AdmissionRefillEvent{time: next})
	}
}

// PhaseHookEvent is a proposal opportunity on one (die, plane), labelled with
// the operation and sub-phase that raised it.
type PhaseHookEvent struct {
	time  int64
	Die   int
	Plane int
	Label HookLabel
}

// Timestamp returns the scheduled time of the PhaseHookEvent.
func (e *PhaseHookEvent) Timestamp() int64 { return e.time }

// Execute asks the policy engine for a proposal.
func (e *PhaseHookEvent) Execute(s *Scheduler) {
	s.propose(e.time, e.Die, e.Plane, e.Label)
}

// OpStartEvent marks an accepted operation as running on its planes.
type OpStartEvent struct {
	time int64
	Op   *Operation
}

// Timestamp returns the scheduled time of the OpStartEvent.
func (e *OpStartEvent) Timestamp() int64 { return e.time }

// Execute records op as the running operation of its planes.
func (e *OpStartEvent) Execute(s *Scheduler) {
	logrus.Debugf("[tick %07d] start %s", e.time, e.Op)
	for _, pl := range s.Address.scopePlanes(e.Op.Scope, e.Op.Planes()) {
		s.running[diePlane{e.Op.Die(), pl}] = e.Op
	}
}

// OpEndEvent commits an operation's effects.
type OpEndEvent struct {
	time int64
	Op   *Operation
}

// Timestamp returns the scheduled time of the OpEndEvent.
func (e *OpEndEvent) Timestamp() int64 { return e.time }

// Execute commits address state, releases latches, fulfils obligations and spawns new ones.
func (e *OpEndEvent) Execute(s *Scheduler) {
	logrus.Debugf("[tick %07d] end %s", e.time, e.Op)
	s.complete(e.time, e.Op)
}
