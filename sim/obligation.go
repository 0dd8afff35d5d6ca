package sim

import (
	"container/heap"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"
)

// ProvenanceBootstrap tags obligations seeded before the run starts.
const ProvenanceBootstrap = "bootstrap"

// ObligationRule is "when Issuer commits, Require must follow within Window".
type ObligationRule struct {
	Issuer   OpKind
	Require  OpKind
	Window   DurationSampler
	HardSlot bool
	Skip     bool  // skip the admission window for obligations of this rule
	Stagger  int64 // deadline increment between per-target obligations
}

// AuditMode controls the deadline-inversion audit.
type AuditMode string

const (
	AuditOff   AuditMode = "off"
	AuditWarn  AuditMode = "warn"
	AuditFatal AuditMode = "fatal"
)

// Obligation is a deadline-bound requirement for a follow-up operation.
type Obligation struct {
	ID               int64
	Require          OpKind
	Targets          []Address
	Deadline         int64
	OriginalDeadline int64
	HardSlot         bool
	Skip             bool
	Provenance       string
	IssuerID         int64
	CreatedAt        int64
	Requeues         int
	// Ordered obligations on a block are served strictly by ID: one waits
	// while a lower-ID ordered obligation on any of its blocks is queued or
	// in flight.
	Ordered bool
}

// obligationHeap is a min-heap on (Deadline, ID).
type obligationHeap []*Obligation

func (h obligationHeap) Len() int { return len(h) }
func (h obligationHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	return h[i].ID < h[j].ID
}
func (h obligationHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *obligationHeap) Push(x any) { *h = append(*h, x.(*Obligation)) }

func (h *obligationHeap) Pop() any {
	old := *h
	n := len(old)
	ob := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ob
}

// ObligationStats counts obligation lifecycle transitions.
type ObligationStats struct {
	Created         int
	Assigned        int
	Fulfilled       int
	FulfilledInTime int
	Expired         int
	Requeued        int
}

// ObligationManager owns the deadline heap and in-flight obligations.
// An obligation is in exactly one of: heap, in flight, fulfilled.
type ObligationManager struct {
	rules     []ObligationRule
	clock     Clock
	rng       *rand.Rand
	scanLimit int
	metrics   *Metrics

	heap     obligationHeap
	inFlight map[int64]*Obligation
	ordered  map[dieBlock][]int64 // outstanding ordered obligation IDs, ascending
	nextID   int64
	stats    ObligationStats
}

// NewObligationManager creates an ObligationManager. metrics may be nil.
func NewObligationManager(p *Params, rng *rand.Rand, metrics *Metrics) *ObligationManager {
	return &ObligationManager{
		rules:     p.ObligationRules,
		clock:     p.Clock,
		rng:       rng,
		scanLimit: p.PopScanLimit,
		metrics:   metrics,
		inFlight:  make(map[int64]*Obligation),
		ordered:   make(map[dieBlock][]int64),
	}
}

// Push adds an obligation, assigning its ID.
func (om *ObligationManager) Push(ob *Obligation) {
	om.nextID++
	ob.ID = om.nextID
	ob.OriginalDeadline = ob.Deadline
	heap.Push(&om.heap, ob)
	if ob.Ordered {
		for _, t := range ob.Targets {
			key := dieBlock{t.Die, t.Block}
			if ids := om.ordered[key]; len(ids) == 0 || ids[len(ids)-1] != ob.ID {
				om.ordered[key] = append(ids, ob.ID)
			}
		}
	}
	om.stats.Created++
	om.metrics.obligationEvent("created")
}

// waiting reports whether an ordered obligation still has a predecessor on one of its blocks.
func (om *ObligationManager) waiting(ob *Obligation) bool {
	if !ob.Ordered {
		return false
	}
	for _, t := range ob.Targets {
		if ids := om.ordered[dieBlock{t.Die, t.Block}]; len(ids) > 0 && ids[0] != ob.ID {
			return true
		}
	}
	return false
}

func (om *ObligationManager) releaseOrdered(ob *Obligation) {
	for _, t := range ob.Targets {
		key := dieBlock{t.Die, t.Block}
		ids := om.ordered[key]
		for i, id := range ids {
			if id == ob.ID {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(om.ordered, key)
		} else {
			om.ordered[key] = ids
		}
	}
}

// OnCommit spawns obligations for every rule issued by op's kind.
// Multi-target ops are split into one obligation per target with staggered deadlines.
func (om *ObligationManager) OnCommit(op *Operation, now int64) []*Obligation {
	var created []*Obligation
	for _, r := range om.rules {
		if r.Issuer != op.Kind {
			continue
		}
		offset := om.clock.Ticks(r.Window.Sample(om.rng))
		targets := append([]Address(nil), op.Targets...)
		sort.Slice(targets, func(i, j int) bool { return targets[i].Plane < targets[j].Plane })
		for i, t := range targets {
			ob := &Obligation{
				Require:    r.Require,
				Targets:    []Address{t},
				Deadline:   now + offset + int64(i)*r.Stagger,
				HardSlot:   r.HardSlot,
				Skip:       r.Skip,
				Provenance: op.Provenance,
				IssuerID:   op.ID,
				CreatedAt:  now,
			}
			om.Push(ob)
			created = append(created, ob)
		}
	}
	return created
}

// PopUrgent removes and returns the earliest-deadline obligation that can be
// served from (die, plane) now. An obligation qualifies when its targets are
// on die, its deadline is within horizon of now (or it is hard-slot), its
// earliest start does not pass the deadline, and its plane matches unless
// easing is set. At most the scan limit of items is inspected; skipped items
// go back on the heap. Ordered obligations still waiting on a predecessor
// are passed over without counting against the scan limit.
func (om *ObligationManager) PopUrgent(now int64, die, plane int, horizon int64, earliest func(*Obligation) int64, easing bool) *Obligation {
	var skipped []*Obligation
	var found *Obligation
	for scanned := 0; scanned < om.scanLimit && om.heap.Len() > 0; {
		ob := heap.Pop(&om.heap).(*Obligation)
		if om.waiting(ob) {
			skipped = append(skipped, ob)
			continue
		}
		scanned++
		if om.serves(ob, now, die, plane, horizon, earliest, easing) {
			found = ob
			break
		}
		skipped = append(skipped, ob)
	}
	for _, ob := range skipped {
		heap.Push(&om.heap, ob)
	}
	return found
}

func (om *ObligationManager) serves(ob *Obligation, now int64, die, plane int, horizon int64, earliest func(*Obligation) int64, easing bool) bool {
	for _, t := range ob.Targets {
		if t.Die != die {
			return false
		}
	}
	if ob.Deadline-now > horizon && !ob.HardSlot {
		return false
	}
	if !easing && ob.Targets[0].Plane != plane {
		return false
	}
	return earliest(ob) <= ob.Deadline
}

// Requeue pushes ob back with its deadline shifted forward by delta.
func (om *ObligationManager) Requeue(ob *Obligation, delta int64) {
	ob.Deadline += delta
	ob.Requeues++
	heap.Push(&om.heap, ob)
	om.stats.Requeued++
	om.metrics.obligationEvent("requeued")
}

// ExpireDue shifts every pending deadline forward by the same amount when the
// earliest one has already passed, preserving relative order.
// It returns the number of obligations shifted and the shift.
func (om *ObligationManager) ExpireDue(now, margin int64) (int, int64) {
	if om.heap.Len() == 0 || om.heap[0].Deadline >= now {
		return 0, 0
	}
	shift := now - om.heap[0].Deadline + margin
	for _, ob := range om.heap {
		ob.Deadline += shift
	}
	n := om.heap.Len()
	om.stats.Expired += n
	for i := 0; i < n; i++ {
		om.metrics.obligationEvent("expired")
	}
	logrus.Warnf("[tick %07d] %d obligations past deadline, extended by %d ticks", now, n, shift)
	return n, shift
}

// MarkAssigned moves ob into flight.
func (om *ObligationManager) MarkAssigned(ob *Obligation) {
	om.inFlight[ob.ID] = ob
	om.stats.Assigned++
	om.metrics.obligationEvent("assigned")
}

// MarkFulfilled retires the obligation op was scheduled for.
// It is in time when op started no later than the original deadline.
func (om *ObligationManager) MarkFulfilled(op *Operation) {
	ob, ok := om.inFlight[op.ObligationID]
	if !ok {
		return
	}
	delete(om.inFlight, ob.ID)
	if ob.Ordered {
		om.releaseOrdered(ob)
	}
	om.stats.Fulfilled++
	om.metrics.obligationEvent("fulfilled")
	if op.Start <= ob.OriginalDeadline {
		om.stats.FulfilledInTime++
		om.metrics.obligationEvent("fulfilled_in_time")
	}
}

// HasPending reports whether any queued or in-flight obligation carries provenance.
func (om *ObligationManager) HasPending(provenance string) bool {
	for _, ob := range om.heap {
		if ob.Provenance == provenance {
			return true
		}
	}
	for _, ob := range om.inFlight {
		if ob.Provenance == provenance {
			return true
		}
	}
	return false
}

// Pending returns the queued obligations ordered by (deadline, id).
func (om *ObligationManager) Pending() []*Obligation {
	out := append([]*Obligation(nil), om.heap...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Deadline != out[j].Deadline {
			return out[i].Deadline < out[j].Deadline
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// InFlight returns the number of assigned, not yet fulfilled obligations.
func (om *ObligationManager) InFlight() int { return len(om.inFlight) }

// Stats returns the lifecycle counters.
func (om *ObligationManager) Stats() ObligationStats { return om.stats }

// Inversion is a pair of obligations in one group where the lower page has
// the later deadline.
type Inversion struct {
	Low, High *Obligation
}

func (inv Inversion) String() string {
	return fmt.Sprintf("%s d%d/b%d: page %d deadline %d > page %d deadline %d (%s)",
		inv.Low.Require, inv.Low.Targets[0].Die, inv.Low.Targets[0].Block,
		inv.Low.Targets[0].Page, inv.Low.Deadline, inv.High.Targets[0].Page, inv.High.Deadline, inv.Low.Provenance)
}

type auditKey struct {
	require    OpKind
	die        int
	provenance string
	issuer     int64
	block      int
}

// Audit looks for deadline inversions among never-requeued pending
// obligations grouped by (require, die, provenance, issuer, block).
// In fatal mode any inversion is returned as an error.
func (om *ObligationManager) Audit(mode AuditMode) ([]Inversion, error) {
	if mode == AuditOff {
		return nil, nil
	}
	groups := make(map[auditKey][]*Obligation)
	var keys []auditKey
	for _, ob := range om.Pending() {
		if ob.Requeues > 0 {
			continue
		}
		t := ob.Targets[0]
		k := auditKey{ob.Require, t.Die, ob.Provenance, ob.IssuerID, t.Block}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], ob)
	}
	var inversions []Inversion
	for _, k := range keys {
		g := groups[k]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Targets[0].Page < g[j].Targets[0].Page })
		for i := 1; i < len(g); i++ {
			if g[i-1].Targets[0].Page < g[i].Targets[0].Page && g[i-1].OriginalDeadline > g[i].OriginalDeadline {
				inversions = append(inversions, Inversion{Low: g[i-1], High: g[i]})
			}
		}
	}
	if len(inversions) == 0 {
		return nil, nil
	}
	if mode == AuditFatal {
		return inversions, fmt.Errorf("obligation audit: %d deadline inversions, first: %s", len(inversions), inversions[0])
	}
	for _, inv := range inversions {
		logrus.Warnf("obligation audit: deadline inversion %s", inv)
	}
	return inversions, nil
}
