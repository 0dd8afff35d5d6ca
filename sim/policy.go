package sim

import (
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/nandsim/nandsim/sim/trace"
)

// Gate names, in the order proposals are validated.
const (
	StageFanout    = "fanout"
	StagePlan      = "plan"
	StageDeadline  = "deadline"
	StageAdmission = "admission"
	StagePrecheck  = "precheck"
	StageBus       = "bus"
	StageLatch     = "latch"
	StageExclusion = "exclusion"
	StageFailSafe  = "failsafe"
)

// ProvenancePolicy tags operations proposed by the phase-conditional stage.
const ProvenancePolicy = "policy"

// Rejection explains why a proposal was not accepted. It is a value, not an error.
type Rejection struct {
	Stage  string
	Reason string
}

// Proposal is an operation ready for the scheduler to accept at Start.
type Proposal struct {
	Op         *Operation
	Start      int64
	Obligation *Obligation // set when the op serves an obligation
}

// PolicyEngine decides what, if anything, to propose at a phase hook.
type PolicyEngine struct {
	params      *Params
	address     *AddressManager
	exclusion   *ExclusionManager
	latch       *LatchManager
	obligations *ObligationManager

	pickRng     *rand.Rand
	durationRng *rand.Rand

	trace   *trace.SimulationTrace
	metrics *Metrics
}

// NewPolicyEngine wires a PolicyEngine to the run's managers.
func NewPolicyEngine(p *Params, m Managers, rng *PartitionedRNG, st *trace.SimulationTrace, metrics *Metrics) *PolicyEngine {
	return &PolicyEngine{
		params:      p,
		address:     m.Address,
		exclusion:   m.Exclusion,
		latch:       m.Latch,
		obligations: m.Obligations,
		pickRng:     rng.ForSubsystem(SubsystemPolicy),
		durationRng: rng.ForSubsystem(SubsystemDurations),
		trace:       st,
		metrics:     metrics,
	}
}

// Propose runs the obligation stage and then the phase-conditional stage.
// A nil result means nothing is scheduled this attempt.
func (pe *PolicyEngine) Propose(now int64, die, plane int, label HookLabel) *Proposal {
	if prop := pe.proposeObligation(now, die, plane, label); prop != nil {
		return prop
	}
	return pe.proposePhase(now, die, plane, label)
}

func (pe *PolicyEngine) proposeObligation(now int64, die, plane int, label HookLabel) *Proposal {
	earliest := func(ob *Obligation) int64 {
		spec := pe.params.OpSpecs[ob.Require]
		return pe.address.CandidateStartForScope(now, ob.Targets[0].Die, spec.Scope, targetPlanes(ob.Targets))
	}
	ob := pe.obligations.PopUrgent(now, die, plane, pe.params.ObligationHorizon, earliest, pe.params.Easing)
	if ob == nil {
		return nil
	}
	op := pe.build(ob.Require, ob.Targets)
	op.Source = SourceObligation
	op.Provenance = ob.Provenance
	op.ObligationID = ob.ID
	op.IssuerID = ob.IssuerID

	start := pe.address.CandidateStartForScope(now, op.Die(), op.Scope, op.Planes())
	rej := Rejection{Stage: StageDeadline}
	if start <= ob.Deadline {
		rej = pe.validate(op, start, pe.obligationLimit(ob, now))
	}
	if rej.Stage != "" {
		pe.obligations.Requeue(ob, pe.params.RequeueDelta)
		pe.reject(now, die, plane, label, op, rej)
		if pe.trace.Enabled() {
			pe.trace.RecordDefer(trace.DeferRecord{
				Clock:        now,
				ObligationID: ob.ID,
				Require:      ob.Require.String(),
				Stage:        rej.Stage,
				Deadline:     ob.Deadline,
				Requeues:     ob.Requeues,
			})
		}
		return nil
	}
	return &Proposal{Op: op, Start: start, Obligation: ob}
}

// obligationLimit is the latest admissible start for an obligation-driven op.
// Bypassed obligations have no admission window; hard-slot obligations may
// start as late as their deadline; others use the kind's admission delta.
func (pe *PolicyEngine) obligationLimit(ob *Obligation, now int64) int64 {
	switch {
	case pe.params.ObligationBypass || ob.Skip:
		return math.MaxInt64
	case ob.HardSlot:
		return ob.Deadline
	default:
		return now + pe.params.AdmissionDelta(ob.Require)
	}
}

func (pe *PolicyEngine) proposePhase(now int64, die, plane int, label HookLabel) *Proposal {
	if !pe.params.PhaseEnabled || pe.obligations.HasPending(ProvenanceBootstrap) {
		return nil
	}
	dist, _ := pe.params.lookupPhase(label)
	if dist == nil {
		return nil
	}
	tok, ok := dist.Pick(pe.pickRng)
	if !ok {
		return nil
	}
	fp, ok := pe.params.resolveFanout(tok, label)
	if !ok {
		pe.reject(now, die, plane, label, nil, Rejection{Stage: StageFanout, Reason: tok.String()})
		return nil
	}
	targets, ok := pe.address.PlanMultiplane(tok.Kind, die, plane, fp.desired, fp.min, fp.interleave)
	if !ok && pe.params.Easing {
		for i := 1; i <= pe.params.EasingMaxStartPlanes && !ok; i++ {
			start := (plane + i) % pe.params.Topology.Planes
			targets, ok = pe.address.PlanMultiplane(tok.Kind, die, start, fp.desired, fp.min, fp.interleave)
		}
	}
	if !ok {
		pe.reject(now, die, plane, label, nil, Rejection{Stage: StagePlan, Reason: tok.String()})
		return nil
	}
	op := pe.build(tok.Kind, targets)
	op.Source = SourcePolicy
	op.Provenance = ProvenancePolicy
	start := pe.address.CandidateStartForScope(now, die, op.Scope, op.Planes())
	if rej := pe.validate(op, start, now+pe.params.AdmissionDelta(op.Kind)); rej.Stage != "" {
		pe.reject(now, die, plane, label, op, rej)
		return nil
	}
	return &Proposal{Op: op, Start: start}
}

// validate runs the admission, precheck, bus, latch and exclusion gates in order.
// The zero Rejection means every gate passed.
func (pe *PolicyEngine) validate(op *Operation, start, limit int64) Rejection {
	end := start + op.Duration()
	if start > limit {
		return Rejection{Stage: StageAdmission}
	}
	if ok, reason := pe.address.PrecheckPlaneScope(op, start); !ok {
		return Rejection{Stage: StagePrecheck, Reason: reason}
	}
	if !pe.address.BusPrecheck(op, start) {
		return Rejection{Stage: StageBus}
	}
	if !pe.latch.Allowed(op, start, end) {
		return Rejection{Stage: StageLatch}
	}
	if !pe.exclusion.Allowed(op, start, end) {
		return Rejection{Stage: StageExclusion}
	}
	return Rejection{}
}

// build creates an operation with freshly sampled segment durations.
func (pe *PolicyEngine) build(kind OpKind, targets []Address) *Operation {
	spec := pe.params.OpSpecs[kind]
	op := &Operation{
		Kind:    kind,
		Targets: append([]Address(nil), targets...),
		Scope:   spec.Scope,
	}
	for _, st := range spec.States {
		d := max(pe.params.Clock.Ticks(st.Duration.Sample(pe.durationRng)), 0)
		op.Segments = append(op.Segments, Segment{Name: st.Name, Duration: d, Bus: st.Bus})
	}
	return op
}

func (pe *PolicyEngine) reject(now int64, die, plane int, label HookLabel, op *Operation, rej Rejection) {
	pe.metrics.rejected(rej.Stage)
	source, tok := SourcePolicy.String(), ""
	if op != nil {
		source, tok = op.Source.String(), op.Token().String()
	}
	logrus.Debugf("[tick %07d] reject %s at d%d/p%d (%s, %s): %s %s", now, tok, die, plane, label, source, rej.Stage, rej.Reason)
	if pe.trace.Enabled() {
		pe.trace.RecordRejection(trace.RejectionRecord{
			Clock:  now,
			Die:    die,
			Plane:  plane,
			Label:  label.String(),
			Source: source,
			Token:  tok,
			Stage:  rej.Stage,
			Reason: rej.Reason,
		})
	}
}

// targetPlanes returns the sorted distinct planes of targets.
func targetPlanes(targets []Address) []int {
	op := Operation{Targets: targets}
	return op.Planes()
}
