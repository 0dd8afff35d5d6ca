package sim

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestObligationManager(t *testing.T, mutate ...func(c *Config)) (*ObligationManager, *Metrics) {
	t.Helper()
	m := NewMetrics()
	return NewObligationManager(testParams(t, mutate...), testRng(), m), m
}

// startAt is an earliest-start estimator that always answers tick.
func startAt(tick int64) func(*Obligation) int64 {
	return func(*Obligation) int64 { return tick }
}

// conserved checks that every created obligation is pending, in flight or fulfilled.
func conserved(t *testing.T, om *ObligationManager) {
	t.Helper()
	st := om.Stats()
	assert.Equal(t, st.Created, st.Fulfilled+len(om.Pending())+om.InFlight(),
		"created must equal fulfilled + pending + in flight")
}

func TestOnCommit_SplitsPerTargetWithStagger(t *testing.T) {
	// GIVEN a READ→DOUT rule with a fixed 20-unit window and 0.1-unit stagger
	om, _ := newTestObligationManager(t)
	read := placed(testOp(KindRead, 10, 50, at(2, 2, 3), at(0, 0, 3)), 9, 0)
	read.Provenance = ProvenancePolicy

	// WHEN the two-plane read commits at tick 60
	created := om.OnCommit(read, 60)

	// THEN one DOUT obligation per target is created in plane order
	require.Len(t, created, 2)
	assert.Equal(t, KindDout, created[0].Require)
	assert.Equal(t, []Address{at(0, 0, 3)}, created[0].Targets)
	assert.Equal(t, []Address{at(2, 2, 3)}, created[1].Targets)
	assert.Equal(t, int64(60+2000), created[0].Deadline)
	assert.Equal(t, int64(60+2000+10), created[1].Deadline)
	assert.Equal(t, int64(9), created[0].IssuerID)
	assert.Equal(t, ProvenancePolicy, created[0].Provenance)
	assert.Equal(t, created[0].Deadline, created[0].OriginalDeadline)
	assert.Less(t, created[0].ID, created[1].ID)

	// AND a program commit issues nothing
	assert.Empty(t, om.OnCommit(placed(testOp(KindProgram, 10, 100, at(0, 0, 0)), 10, 0), 110))
	conserved(t, om)
}

func TestPopUrgent_OrderAndFilters(t *testing.T) {
	om, _ := newTestObligationManager(t)
	late := &Obligation{Require: KindDout, Targets: []Address{at(0, 0, 0)}, Deadline: 500}
	early := &Obligation{Require: KindDout, Targets: []Address{at(1, 1, 0)}, Deadline: 100}
	tie := &Obligation{Require: KindDout, Targets: []Address{at(1, 5, 0)}, Deadline: 100}
	om.Push(late)
	om.Push(early)
	om.Push(tie)

	// WHEN popping from plane 0 without easing
	got := om.PopUrgent(0, 0, 0, 1000, startAt(0), false)

	// THEN only the plane-0 obligation qualifies and the rest stay queued
	assert.Same(t, late, got)
	assert.Len(t, om.Pending(), 2)

	// WHEN popping from plane 0 with easing
	got = om.PopUrgent(0, 0, 0, 1000, startAt(0), true)

	// THEN the earliest deadline wins, ties broken by ID
	assert.Same(t, early, got)
	assert.Same(t, tie, om.Pending()[0])
}

func TestPopUrgent_HorizonAndEarliestStart(t *testing.T) {
	om, _ := newTestObligationManager(t)
	far := &Obligation{Require: KindDout, Targets: []Address{at(0, 0, 0)}, Deadline: 5000}
	om.Push(far)

	// THEN an obligation beyond the horizon is not served
	assert.Nil(t, om.PopUrgent(0, 0, 0, 1000, startAt(0), false))

	// AND a hard-slot one is, regardless of horizon
	far.HardSlot = true
	assert.Nil(t, om.PopUrgent(0, 0, 0, 1000, startAt(6000), false),
		"cannot start before its deadline")
	assert.Same(t, far, om.PopUrgent(0, 0, 0, 1000, startAt(0), false))

	// AND another die never matches
	other := &Obligation{Require: KindDout, Targets: []Address{{Die: 1, Plane: 0, Block: 0, Page: 0}}, Deadline: 10}
	om.Push(other)
	assert.Nil(t, om.PopUrgent(0, 0, 0, 1000, startAt(0), true))
}

func TestPopUrgent_ScanLimit(t *testing.T) {
	// GIVEN a scan limit of 2 and a qualifying obligation third in line
	om, _ := newTestObligationManager(t, func(c *Config) { c.Policy.PopScanLimit = 2 })
	for i := 0; i < 2; i++ {
		om.Push(&Obligation{Require: KindDout, Targets: []Address{at(1, 1, 0)}, Deadline: int64(10 + i)})
	}
	target := &Obligation{Require: KindDout, Targets: []Address{at(0, 0, 0)}, Deadline: 20}
	om.Push(target)

	// THEN it is not reached
	assert.Nil(t, om.PopUrgent(0, 0, 0, 1000, startAt(0), false))
	assert.Len(t, om.Pending(), 3)
}

func TestPopUrgent_OrderedWaitsForPredecessorOnBlock(t *testing.T) {
	// GIVEN an ordered erase then program of block 4, and an ordered program of block 1
	om, _ := newTestObligationManager(t)
	ordered := func(kind OpKind, a Address, deadline int64) *Obligation {
		return &Obligation{Require: kind, Targets: []Address{a}, Deadline: deadline, HardSlot: true, Ordered: true, Provenance: ProvenanceBootstrap}
	}
	erase := ordered(KindErase, at(0, 4, NoPage), 100)
	prog := ordered(KindProgram, at(0, 4, 0), 200)
	other := ordered(KindProgram, at(1, 1, 0), 300)
	om.Push(erase)
	om.Push(prog)
	om.Push(other)

	// WHEN the erase cannot start before its deadline
	eraseLate := func(ob *Obligation) int64 {
		if ob.Require == KindErase {
			return 150
		}
		return 0
	}

	// THEN the program of the same block is held back and the other block is served
	got := om.PopUrgent(0, 0, 0, 5000, eraseLate, true)
	assert.Same(t, other, got)
	om.MarkAssigned(got)

	// WHEN the erase becomes reachable it is served first
	got = om.PopUrgent(0, 0, 0, 5000, startAt(0), true)
	require.Same(t, erase, got)
	om.MarkAssigned(got)

	// THEN the program still waits while the erase is in flight
	assert.Nil(t, om.PopUrgent(0, 0, 0, 5000, startAt(0), true))

	// AND is served once the erase completes
	om.MarkFulfilled(&Operation{ObligationID: erase.ID})
	got = om.PopUrgent(0, 0, 0, 5000, startAt(0), true)
	require.Same(t, prog, got)
	om.MarkAssigned(got)
	conserved(t, om)
}

func TestPopUrgent_WaitingObligationsDoNotUseScanLimit(t *testing.T) {
	// GIVEN a scan limit of 2 and three ordered obligations on block 4 whose
	// predecessor was requeued behind them, plus a free obligation on block 1
	om, _ := newTestObligationManager(t, func(c *Config) { c.Policy.PopScanLimit = 2 })
	head := &Obligation{Require: KindErase, Targets: []Address{at(0, 4, NoPage)}, Deadline: 500, HardSlot: true, Ordered: true}
	om.Push(head)
	for pg := 0; pg < 3; pg++ {
		om.Push(&Obligation{Require: KindProgram, Targets: []Address{at(0, 4, pg)}, Deadline: int64(10 * (pg + 1)), HardSlot: true, Ordered: true})
	}
	free := &Obligation{Require: KindDout, Targets: []Address{at(1, 1, 0)}, Deadline: 40}
	om.Push(free)

	// THEN the free obligation is still reached
	assert.Same(t, free, om.PopUrgent(0, 0, 0, 1000, startAt(0), true))

	// AND the predecessor after it
	assert.Same(t, head, om.PopUrgent(0, 0, 0, 1000, startAt(0), true))
	assert.Len(t, om.Pending(), 3)
}

func TestLifecycle_AssignFulfilRequeue(t *testing.T) {
	om, m := newTestObligationManager(t)
	ob := &Obligation{Require: KindDout, Targets: []Address{at(0, 0, 0)}, Deadline: 100}
	om.Push(ob)

	// WHEN it is popped, requeued once, popped again and served late
	got := om.PopUrgent(0, 0, 0, 1000, startAt(0), false)
	om.Requeue(got, 50)
	conserved(t, om)
	assert.Equal(t, int64(150), ob.Deadline)
	assert.Equal(t, int64(100), ob.OriginalDeadline)
	assert.Equal(t, 1, ob.Requeues)

	got = om.PopUrgent(0, 0, 0, 1000, startAt(0), false)
	om.MarkAssigned(got)
	assert.Equal(t, 1, om.InFlight())
	conserved(t, om)

	dout := placed(testDout(5, 20, at(0, 0, 0)), 3, 120)
	dout.ObligationID = ob.ID
	om.MarkFulfilled(dout)

	// THEN it is fulfilled but not in time
	st := om.Stats()
	assert.Equal(t, 1, st.Created)
	assert.Equal(t, 1, st.Assigned)
	assert.Equal(t, 1, st.Fulfilled)
	assert.Equal(t, 0, st.FulfilledInTime)
	assert.Equal(t, 1, st.Requeued)
	assert.Equal(t, 0, om.InFlight())
	conserved(t, om)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.obligations.WithLabelValues("fulfilled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.obligations.WithLabelValues("fulfilled_in_time")))

	// AND an unknown obligation id is ignored
	om.MarkFulfilled(&Operation{ObligationID: 999})
	assert.Equal(t, 1, om.Stats().Fulfilled)
}

func TestExpireDue_ShiftsAllPreservingOrder(t *testing.T) {
	om, _ := newTestObligationManager(t)
	a := &Obligation{Require: KindDout, Targets: []Address{at(0, 0, 0)}, Deadline: 100}
	b := &Obligation{Require: KindDout, Targets: []Address{at(1, 1, 0)}, Deadline: 300}
	om.Push(b)
	om.Push(a)

	// WHEN nothing is overdue
	n, shift := om.ExpireDue(100, 10)
	assert.Zero(t, n)
	assert.Zero(t, shift)

	// WHEN the earliest deadline has passed by 50
	n, shift = om.ExpireDue(150, 10)

	// THEN every deadline moves by 60 and order is unchanged
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(60), shift)
	assert.Equal(t, int64(160), a.Deadline)
	assert.Equal(t, int64(360), b.Deadline)
	assert.Equal(t, []*Obligation{a, b}, om.Pending())
	assert.Equal(t, 2, om.Stats().Expired)
}

func TestHasPending_ByProvenance(t *testing.T) {
	om, _ := newTestObligationManager(t)
	ob := &Obligation{Require: KindProgram, Targets: []Address{at(0, 0, 0)}, Deadline: 0, Provenance: ProvenanceBootstrap}
	om.Push(ob)
	assert.True(t, om.HasPending(ProvenanceBootstrap))
	assert.False(t, om.HasPending(ProvenancePolicy))

	got := om.PopUrgent(0, 0, 0, 1000, startAt(0), false)
	om.MarkAssigned(got)
	assert.True(t, om.HasPending(ProvenanceBootstrap), "in flight counts as pending")

	op := placed(testOp(KindProgram, 10, 100, at(0, 0, 0)), 1, 0)
	op.ObligationID = ob.ID
	om.MarkFulfilled(op)
	assert.False(t, om.HasPending(ProvenanceBootstrap))
	assert.Equal(t, 1, om.Stats().FulfilledInTime)
}

func TestAudit_DetectsInversions(t *testing.T) {
	newOb := func(page int, deadline int64) *Obligation {
		return &Obligation{Require: KindProgram, Targets: []Address{at(0, 0, page)}, Deadline: deadline, Provenance: ProvenanceBootstrap}
	}

	t.Run("ordered deadlines pass", func(t *testing.T) {
		om, _ := newTestObligationManager(t)
		om.Push(newOb(0, 10))
		om.Push(newOb(1, 20))
		inv, err := om.Audit(AuditFatal)
		assert.NoError(t, err)
		assert.Empty(t, inv)
	})

	t.Run("inversion is fatal in fatal mode", func(t *testing.T) {
		om, _ := newTestObligationManager(t)
		om.Push(newOb(0, 30))
		om.Push(newOb(1, 20))
		inv, err := om.Audit(AuditFatal)
		require.Error(t, err)
		require.Len(t, inv, 1)
		assert.Equal(t, 0, inv[0].Low.Targets[0].Page)
		assert.Contains(t, err.Error(), "deadline inversions")
	})

	t.Run("inversion only warns in warn mode", func(t *testing.T) {
		om, _ := newTestObligationManager(t)
		om.Push(newOb(0, 30))
		om.Push(newOb(1, 20))
		inv, err := om.Audit(AuditWarn)
		assert.NoError(t, err)
		assert.Len(t, inv, 1)
	})

	t.Run("requeued obligations are ignored", func(t *testing.T) {
		om, _ := newTestObligationManager(t)
		om.Push(newOb(0, 30))
		om.Push(newOb(1, 20))
		got := om.PopUrgent(0, 0, 0, 1000, startAt(0), false)
		om.Requeue(got, 1)
		_, err := om.Audit(AuditFatal)
		assert.NoError(t, err)
	})

	t.Run("different blocks are separate groups", func(t *testing.T) {
		om, _ := newTestObligationManager(t)
		om.Push(newOb(0, 30))
		other := newOb(1, 20)
		other.Targets = []Address{at(0, 4, 1)}
		om.Push(other)
		_, err := om.Audit(AuditFatal)
		assert.NoError(t, err)
	})

	t.Run("different issuers are separate groups", func(t *testing.T) {
		om, _ := newTestObligationManager(t)
		low := newOb(0, 30)
		low.IssuerID = 1
		high := newOb(1, 20)
		high.IssuerID = 2
		om.Push(low)
		om.Push(high)
		_, err := om.Audit(AuditFatal)
		assert.NoError(t, err)
	})

	t.Run("off skips the audit", func(t *testing.T) {
		om, _ := newTestObligationManager(t)
		om.Push(newOb(0, 30))
		om.Push(newOb(1, 20))
		inv, err := om.Audit(AuditOff)
		assert.NoError(t, err)
		assert.Nil(t, inv)
	})
}

func TestBootstrap_StripeAndPerPlane(t *testing.T) {
	// GIVEN bootstrap of one block per plane, two pages, with read-back
	boot := func(stripe bool) func(c *Config) {
		return func(c *Config) {
			c.Bootstrap = BootstrapConfig{Enabled: true, BlocksPerPlane: 1, Pages: 2, Read: true, Stripe: stripe, Start: 1, Spacing: 5}
		}
	}

	t.Run("per plane", func(t *testing.T) {
		p := testParams(t, boot(false))
		om := NewObligationManager(p, testRng(), nil)

		// WHEN seeded
		n := Bootstrap(om, p)

		// THEN each of erase + 2 programs + 2 reads is pushed for 4 planes
		assert.Equal(t, 20, n)
		pending := om.Pending()
		require.Len(t, pending, 20)
		first := pending[0]
		assert.Equal(t, KindErase, first.Require)
		assert.Equal(t, int64(100), first.Deadline)
		assert.True(t, first.HardSlot)
		assert.True(t, first.Skip)
		assert.Equal(t, ProvenanceBootstrap, first.Provenance)
		assert.Equal(t, at(0, 0, NoPage), first.Targets[0])
		for _, ob := range pending {
			assert.True(t, ob.Ordered, "bootstrap obligations are served in block order")
		}

		last := pending[len(pending)-1]
		assert.Equal(t, KindRead, last.Require)
		assert.Equal(t, int64(100+4*500), last.Deadline)
		assert.Equal(t, at(3, 3, 1), last.Targets[0])
	})

	t.Run("stripe", func(t *testing.T) {
		p := testParams(t, boot(true))
		om := NewObligationManager(p, testRng(), nil)

		n := Bootstrap(om, p)

		assert.Equal(t, 5, n)
		pending := om.Pending()
		assert.Len(t, pending[1].Targets, 4)
		assert.Equal(t, KindProgram, pending[1].Require)
		for pl, a := range pending[1].Targets {
			assert.Equal(t, at(pl, pl, 0), a)
		}
		_, err := om.Audit(AuditFatal)
		assert.NoError(t, err, "bootstrap deadlines follow page order")
	})
}
