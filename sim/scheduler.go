package sim

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/nandsim/nandsim/sim/trace"
)

// Managers is the run-scoped set of state owners. Each manager exclusively
// owns its tables; the scheduler and policy engine reference them directly.
type Managers struct {
	Address     *AddressManager
	Exclusion   *ExclusionManager
	Latch       *LatchManager
	Obligations *ObligationManager
}

// Scheduler is the event loop of one simulation run.
// It is single-threaded: every propose, validate and accept step completes
// before the next event is processed.
type Scheduler struct {
	Managers
	Clock   int64
	Trace   *trace.SimulationTrace
	Metrics *Metrics

	params  *Params
	hookRng *rand.Rand
	policy  *PolicyEngine

	queue    EventQueue
	seq      int64
	nextOpID int64
	running  map[diePlane]*Operation
	records  []trace.OperationRecord
	err      error
}

// NewScheduler creates a Scheduler and its managers from compiled params.
func NewScheduler(p *Params) *Scheduler {
	rng := NewPartitionedRNG(NewSimulationKey(p.Seed))
	metrics := NewMetrics()
	m := Managers{
		Address:     NewAddressManager(p, rng.ForSubsystem(SubsystemAddress)),
		Exclusion:   NewExclusionManager(p.ExclusionRules),
		Latch:       NewLatchManager(p.Topology.Planes),
		Obligations: NewObligationManager(p, rng.ForSubsystem(SubsystemObligations), metrics),
	}
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: p.TraceLevel})
	return &Scheduler{
		Managers: m,
		Trace:    st,
		Metrics:  metrics,
		params:   p,
		hookRng:  rng.ForSubsystem(SubsystemHooks),
		policy:   NewPolicyEngine(p, m, rng, st, metrics),
		queue:    make(EventQueue, 0),
		running:  make(map[diePlane]*Operation),
	}
}

// Params returns the compiled parameters of the run.
func (s *Scheduler) Params() *Params { return s.params }

// Schedule pushes an event with the next sequence number.
func (s *Scheduler) Schedule(ev Event) {
	s.seq++
	heap.Push(&s.queue, eventEntry{event: ev, seqID: s.seq})
}

// Run processes events until the horizon is passed, the queue drains, ctx is
// cancelled, or a fatal obligation audit fails.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.params.Bootstrap.Enabled {
		n := Bootstrap(s.Obligations, s.params)
		logrus.Infof("Bootstrap seeded %d obligations", n)
	}
	s.Schedule(&AdmissionRefillEvent{time: 0})
	for len(s.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("simulation interrupted at tick %d: %w", s.Clock, err)
		}
		entry := heap.Pop(&s.queue).(eventEntry)
		if entry.event.Timestamp() > s.params.Horizon {
			break
		}
		s.Clock = entry.event.Timestamp()
		entry.event.Execute(s)
		if s.err != nil {
			return s.err
		}
	}
	stats := s.Obligations.Stats()
	logrus.Infof("[tick %07d] Simulation ended: %d operations, %d obligations created, %d fulfilled, %d pending",
		s.Clock, len(s.records), stats.Created, stats.Fulfilled, len(s.Obligations.Pending()))
	return nil
}

func (s *Scheduler) propose(now int64, die, plane int, label HookLabel) {
	prop := s.policy.Propose(now, die, plane, label)
	if prop == nil {
		return
	}
	s.accept(now, die, plane, label, prop)
}

// accept re-validates the proposal at its final start and then applies every
// side effect in one step. A late conflict drops the op without mutating state;
// an obligation it served goes back on the heap.
func (s *Scheduler) accept(now int64, die, plane int, label HookLabel, prop *Proposal) {
	op, start := prop.Op, prop.Start
	end := start + op.Duration()
	stage := ""
	switch {
	case !s.Address.BusPrecheck(op, start):
		stage = StageBus
	case !s.Latch.Allowed(op, start, end):
		stage = StageLatch
	case !s.Exclusion.Allowed(op, start, end):
		stage = StageExclusion
	}
	if stage != "" {
		logrus.Warnf("[tick %07d] fail-safe dropped %s: %s conflict at start %d", now, op, stage, start)
		s.Metrics.failSafeDrop()
		s.policy.reject(now, die, plane, label, op, Rejection{Stage: StageFailSafe, Reason: stage})
		if prop.Obligation != nil {
			s.Obligations.Requeue(prop.Obligation, s.params.RequeueDelta)
		}
		return
	}

	s.nextOpID++
	op.ID = s.nextOpID
	op.Start, op.End = start, end
	s.Address.ReservePlaneScope(op, start)
	s.Address.BusReserve(op, start)
	s.Exclusion.Register(op, start)
	s.Address.RegisterFuture(op, start)
	if op.Kind == KindRead {
		s.Latch.PlanLockAfterRead(op, end)
	}
	if prop.Obligation != nil {
		s.Obligations.MarkAssigned(prop.Obligation)
	}
	s.records = append(s.records, s.record(op))
	s.Metrics.operationScheduled(op)
	logrus.Debugf("[tick %07d] accept %s at [%d, %d) %s", now, op, start, end, op.Provenance)

	s.Schedule(&OpStartEvent{time: start, Op: op})
	s.Schedule(&OpEndEvent{time: end, Op: op})
	if !s.params.SuppressHooks[op.Kind] {
		tok := op.Token()
		for _, span := range op.Spans(start) {
			s.hook(now, span.Start, op, HookLabel{Token: tok, State: span.Name})
		}
		s.hook(now, end, op, HookLabel{Token: tok, State: "END"})
	}
}

// hook raises a jittered phase hook on each plane of op.
// Boundaries that are not in the future are skipped.
func (s *Scheduler) hook(now, at int64, op *Operation, label HookLabel) {
	if at <= now {
		return
	}
	for _, pl := range op.Planes() {
		t := at
		if s.params.HookJitter > 0 {
			t += s.hookRng.Int63n(s.params.HookJitter + 1)
		}
		s.Schedule(&PhaseHookEvent{time: t, Die: op.Die(), Plane: pl, Label: label})
	}
}

// complete applies an operation's end-of-life effects.
func (s *Scheduler) complete(now int64, op *Operation) {
	s.Address.Commit(op)
	if op.Kind == KindDout {
		s.Latch.ReleaseOnDoutEnd(op, now)
	}
	if op.ObligationID != 0 {
		s.Obligations.MarkFulfilled(op)
	}
	if created := s.Obligations.OnCommit(op, now); len(created) > 0 {
		if _, err := s.Obligations.Audit(s.params.Audit); err != nil {
			s.err = fmt.Errorf("tick %d: %w", now, err)
		}
	}
	for _, pl := range s.Address.scopePlanes(op.Scope, op.Planes()) {
		key := diePlane{op.Die(), pl}
		if s.running[key] == op {
			delete(s.running, key)
		}
	}
	s.Metrics.observe(now, len(s.Obligations.Pending()), s.Latch.Open())
}

// planeLabel describes what is running on a plane at now.
func (s *Scheduler) planeLabel(now int64, die, plane int) HookLabel {
	op := s.running[diePlane{die, plane}]
	if op == nil {
		return DefaultLabel
	}
	for _, span := range op.Spans(op.Start) {
		if span.Start <= now && now < span.End {
			return HookLabel{Token: op.Token(), State: span.Name}
		}
	}
	return DefaultLabel
}

func (s *Scheduler) expire(now int64) {
	n, shift := s.Obligations.ExpireDue(now, s.params.ExpireMargin)
	if n > 0 && s.Trace.Enabled() {
		s.Trace.RecordExpiry(trace.ExpiryRecord{Clock: now, Count: n, Shift: shift})
	}
}

func (s *Scheduler) prune(now int64) {
	before := now - s.params.Addressing.Guard
	s.Address.Prune(now)
	s.Exclusion.Prune(before)
	s.Latch.Prune(before)
}

func (s *Scheduler) record(op *Operation) trace.OperationRecord {
	clock := s.params.Clock
	r := trace.OperationRecord{
		ID:           op.ID,
		Kind:         op.Kind.String(),
		Token:        op.Token().String(),
		Arity:        op.Arity(),
		Scope:        op.Scope.String(),
		Provenance:   op.Provenance,
		Source:       op.Source.String(),
		ObligationID: op.ObligationID,
		IssuerID:     op.IssuerID,
		Start:        clock.Units(op.Start),
		End:          clock.Units(op.End),
		StartTick:    op.Start,
		EndTick:      op.End,
	}
	for _, t := range op.Targets {
		r.Targets = append(r.Targets, trace.TargetRecord{Die: t.Die, Plane: t.Plane, Block: t.Block, Page: t.Page})
	}
	for _, sp := range op.Spans(op.Start) {
		r.Segments = append(r.Segments, trace.SegmentRecord{Name: sp.Name, Bus: sp.Bus, StartTick: sp.Start, EndTick: sp.End})
	}
	return r
}

// Records returns the scheduled operations ordered by (start, id).
func (s *Scheduler) Records() []trace.OperationRecord {
	out := append([]trace.OperationRecord(nil), s.records...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartTick != out[j].StartTick {
			return out[i].StartTick < out[j].StartTick
		}
		return out[i].ID < out[j].ID
	})
	return out
}
