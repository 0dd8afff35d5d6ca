package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAddressManager(t *testing.T, mutate ...func(c *Config)) *AddressManager {
	t.Helper()
	return NewAddressManager(testParams(t, mutate...), testRng())
}

// commitProgram books and completes a program the way the scheduler does.
func commitProgram(am *AddressManager, start int64, targets ...Address) *Operation {
	op := placed(testOp(KindProgram, 10, 100, targets...), 0, start)
	am.RegisterFuture(op, start)
	am.Commit(op)
	return op
}

func TestNewAddressManager_InitialState(t *testing.T) {
	// GIVEN an erased topology and a factory-state topology
	erased := newTestAddressManager(t)
	initial := newTestAddressManager(t, func(c *Config) { c.Topology.InitialState = "initial" })

	// THEN blocks start erased or initial, heads point at each plane's first block
	assert.Equal(t, PageErased, erased.CommittedPage(0, 5))
	assert.Equal(t, PageErased, erased.FuturePage(0, 5))
	assert.Equal(t, PageInitial, initial.CommittedPage(0, 5))
	for pl := 0; pl < 4; pl++ {
		assert.Equal(t, pl, erased.Head(0, pl))
		assert.Equal(t, int64(0), erased.PlaneAvailable(0, pl))
	}
	assert.False(t, erased.IsCommitted(at(0, 0, 0)))
}

func TestPlanMultiplane_FreshArray(t *testing.T) {
	am := newTestAddressManager(t)

	// WHEN planning each kind on an empty, erased array
	prog, okProg := am.PlanMultiplane(KindProgram, 0, 1, 1, 1, false)
	_, okRead := am.PlanMultiplane(KindRead, 0, 1, 1, 1, false)
	_, okErase := am.PlanMultiplane(KindErase, 0, 1, 1, 1, false)
	_, okDout := am.PlanMultiplane(KindDout, 0, 1, 1, 1, false)
	sr, okSR := am.PlanMultiplane(KindSR, 0, 2, 1, 1, false)

	// THEN only PROGRAM page 0 on the plane's head block and SR can be planned
	require.True(t, okProg)
	assert.Equal(t, []Address{at(1, 1, 0)}, prog)
	assert.False(t, okRead, "nothing is committed")
	assert.False(t, okErase, "every block is already erased")
	assert.False(t, okDout, "DOUT is obligation-only")
	require.True(t, okSR)
	assert.Equal(t, 2, sr[0].Plane)
}

func TestPlanMultiplane_NonInterleavedWrapsAround(t *testing.T) {
	am := newTestAddressManager(t)

	// WHEN a two-plane program starts on the last plane
	targets, ok := am.PlanMultiplane(KindProgram, 0, 3, 2, 2, false)

	// THEN the window wraps to plane 0 and targets are sorted by plane
	require.True(t, ok)
	assert.Equal(t, []Address{at(0, 0, 0), at(3, 3, 0)}, targets)
}

func TestPlanMultiplane_InterleavedContainsStartPlane(t *testing.T) {
	am := newTestAddressManager(t)
	for i := 0; i < 20; i++ {
		targets, ok := am.PlanMultiplane(KindProgram, 0, 2, 3, 3, true)
		require.True(t, ok)
		require.Len(t, targets, 3)
		planes := map[int]bool{}
		for _, a := range targets {
			planes[a.Plane] = true
			assert.Equal(t, a.Plane, a.Block%4, "block must live on its plane")
		}
		assert.True(t, planes[2])
	}
}

func TestPlanMultiplane_ProgramMajorityPage(t *testing.T) {
	// GIVEN plane 0's head block already holds page 0
	am := newTestAddressManager(t)
	commitProgram(am, 0, at(0, 0, 0))

	// WHEN a three-plane program is planned over planes 0..2
	targets, ok := am.PlanMultiplane(KindProgram, 0, 0, 3, 3, false)

	// THEN the majority page 0 wins and plane 0 moves to its next erased block
	require.True(t, ok)
	assert.Equal(t, []Address{at(0, 4, 0), at(1, 1, 0), at(2, 2, 0)}, targets)
}

func TestPlanMultiplane_DegradesFanout(t *testing.T) {
	// GIVEN only plane 0 has committed data
	am := newTestAddressManager(t)
	commitProgram(am, 0, at(0, 0, 0))

	// WHEN a four-plane read is requested with a minimum of one
	targets, ok := am.PlanMultiplane(KindRead, 0, 0, 4, 1, false)

	// THEN it degrades to the single readable plane
	require.True(t, ok)
	assert.Equal(t, []Address{at(0, 0, 0)}, targets)

	// AND a minimum of two cannot be satisfied
	_, ok = am.PlanMultiplane(KindRead, 0, 0, 4, 2, false)
	assert.False(t, ok)
}

func TestPlanMultiplane_ReadPageCommittedOnAllPlanes(t *testing.T) {
	// GIVEN pages 0..2 committed on plane 0 and page 0 on plane 1
	am := newTestAddressManager(t)
	for pg := 0; pg < 3; pg++ {
		commitProgram(am, int64(pg*200), at(0, 0, pg))
	}
	commitProgram(am, 1000, at(1, 1, 0))

	// WHEN a two-plane read is planned repeatedly
	for i := 0; i < 10; i++ {
		targets, ok := am.PlanMultiplane(KindRead, 0, 0, 2, 2, false)

		// THEN the shared page is always 0
		require.True(t, ok)
		assert.Equal(t, []Address{at(0, 0, 0), at(1, 1, 0)}, targets)
	}
}

func TestPrecheckPlaneScope_ProgramOrderAndCapacity(t *testing.T) {
	am := newTestAddressManager(t)
	am.RegisterFuture(testOp(KindProgram, 10, 100, at(0, 0, 0)), 0)

	tests := []struct {
		name   string
		target Address
		ok     bool
		reason string
	}{
		{"next page", at(0, 0, 1), true, ""},
		{"same page again", at(0, 0, 0), false, "page_order"},
		{"skipped page", at(0, 0, 2), false, "page_order"},
		{"past last page", at(0, 0, 100), false, "capacity"},
		{"wrong plane for block", at(1, 0, 1), false, "plane_block_mismatch"},
		{"block out of range", at(0, 8, 0), false, "plane_block_mismatch"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := am.PrecheckPlaneScope(testOp(KindProgram, 10, 100, tc.target), 500)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestPrecheckPlaneScope_InitialBlockNeedsErase(t *testing.T) {
	// GIVEN a factory-state block
	am := newTestAddressManager(t, func(c *Config) { c.Topology.InitialState = "initial" })

	// WHEN page 0 is programmed before and after an erase
	before, reason := am.PrecheckPlaneScope(testOp(KindProgram, 10, 100, at(0, 0, 0)), 0)
	erase := placed(testOp(KindErase, 10, 100, at(0, 0, NoPage)), 1, 0)
	am.RegisterFuture(erase, 0)
	after, _ := am.PrecheckPlaneScope(testOp(KindProgram, 10, 100, at(0, 0, 0)), 110)

	// THEN only the post-erase program is legal
	assert.False(t, before)
	assert.Equal(t, "page_order", reason)
	assert.True(t, after)
}

func TestPrecheckPlaneScope_EraseOfErasedBlockThenProgram(t *testing.T) {
	// GIVEN an erase of an already-erased block booked over [0, 110)
	am := newTestAddressManager(t)
	erase := placed(testOp(KindErase, 10, 100, at(0, 0, NoPage)), 1, 0)
	am.RegisterFuture(erase, 0)
	assert.Equal(t, PageErased, am.FuturePage(0, 0))

	// WHEN page 0 is prechecked during and after the erase
	during, reason := am.PrecheckPlaneScope(testOp(KindProgram, 10, 100, at(0, 0, 0)), 50)
	afterOK, _ := am.PrecheckPlaneScope(testOp(KindProgram, 10, 100, at(0, 0, 0)), 110)

	// THEN it conflicts while the erase runs and is legal once it ends
	assert.False(t, during)
	assert.Equal(t, "future_erase_conflict", reason)
	assert.True(t, afterOK)

	// AND the commit keeps the block erased with no pending window
	am.Commit(erase)
	assert.Equal(t, PageErased, am.CommittedPage(0, 0))
	assert.Empty(t, am.eraseWindows)
}

func TestPrecheckPlaneScope_ReadRequiresCommit(t *testing.T) {
	am := newTestAddressManager(t)
	prog := placed(testOp(KindProgram, 10, 100, at(0, 0, 0)), 1, 0)
	am.RegisterFuture(prog, 0)

	// WHEN read before the program commits
	ok, reason := am.PrecheckPlaneScope(testOp(KindRead, 10, 50, at(0, 0, 0)), 200)

	// THEN it is uncommitted
	assert.False(t, ok)
	assert.Equal(t, "uncommitted", reason)

	// WHEN the program commits
	am.Commit(prog)
	ok, _ = am.PrecheckPlaneScope(testOp(KindRead, 10, 50, at(0, 0, 0)), 200)

	// THEN the read and its DOUT pass
	assert.True(t, ok)
	assert.True(t, am.IsCommitted(at(0, 0, 0)))
	ok, _ = am.PrecheckPlaneScope(testDout(5, 20, at(0, 0, 0)), 300)
	assert.True(t, ok)
}

func TestPrecheckPlaneScope_AllowFutureRead(t *testing.T) {
	// GIVEN future reads enabled and a program booked over [0, 110)
	am := newTestAddressManager(t, func(c *Config) { c.Addressing.AllowFutureRead = true })
	am.RegisterFuture(testOp(KindProgram, 10, 100, at(0, 0, 0)), 0)

	// THEN a read starting inside the program is rejected, one after it passes
	inside, _ := am.PrecheckPlaneScope(testOp(KindRead, 10, 50, at(0, 0, 0)), 100)
	after, _ := am.PrecheckPlaneScope(testOp(KindRead, 10, 50, at(0, 0, 0)), 110)
	assert.False(t, inside)
	assert.True(t, after)
}

func TestPrecheckPlaneScope_ReadBeforePendingErase(t *testing.T) {
	// GIVEN a committed page whose block has an erase booked at 1000
	am := newTestAddressManager(t)
	commitProgram(am, 0, at(0, 0, 0))
	am.RegisterFuture(testOp(KindErase, 10, 100, at(0, 0, NoPage)), 1000)

	// THEN a read finishing before the erase starts passes, one running into it does not
	ok, _ := am.PrecheckPlaneScope(testOp(KindRead, 10, 50, at(0, 0, 0)), 200)
	assert.True(t, ok)
	ok, reason := am.PrecheckPlaneScope(testOp(KindRead, 10, 50, at(0, 0, 0)), 960)
	assert.False(t, ok)
	assert.Equal(t, "future_erase_conflict", reason)

	// AND the block is no longer offered for new reads
	_, planned := am.PlanMultiplane(KindRead, 0, 0, 1, 1, false)
	assert.False(t, planned)
}

func TestPrecheckPlaneScope_PlaneBusy(t *testing.T) {
	am := newTestAddressManager(t)
	am.ReservePlaneScope(testOp(KindProgram, 10, 100, at(0, 0, 0)), 0)

	ok, reason := am.PrecheckPlaneScope(testOp(KindProgram, 10, 100, at(0, 4, 0)), 50)
	assert.False(t, ok)
	assert.Equal(t, "plane_busy", reason)

	ok, _ = am.PrecheckPlaneScope(testOp(KindProgram, 10, 100, at(0, 4, 0)), 110)
	assert.True(t, ok)
}

func TestScope_Availability(t *testing.T) {
	am := newTestAddressManager(t)
	am.ReservePlaneScope(testOp(KindRead, 10, 100, at(1, 1, 0)), 20)

	assert.Equal(t, int64(130), am.PlaneAvailable(0, 1))
	assert.Equal(t, int64(0), am.PlaneAvailable(0, 0))
	assert.Equal(t, int64(130), am.EarliestStartForScope(0, ScopePlaneSet, []int{0, 1}))
	assert.Equal(t, int64(0), am.EarliestStartForScope(0, ScopePlaneSet, []int{0}))
	assert.Equal(t, int64(130), am.EarliestStartForScope(0, ScopeDieWide, []int{0}))
	assert.Equal(t, int64(0), am.EarliestStartForScope(0, ScopeNone, []int{1}))
	assert.Equal(t, int64(200), am.CandidateStartForScope(200, 0, ScopePlaneSet, []int{1}))
	assert.Equal(t, int64(130), am.CandidateStartForScope(50, 0, ScopePlaneSet, []int{1}))
}

func TestBus_PrecheckAndReserve(t *testing.T) {
	// GIVEN a DOUT holding the bus over [0, 25)
	am := newTestAddressManager(t)
	am.BusReserve(testDout(5, 20, at(0, 0, 0)), 0)

	// THEN a read whose ISSUE overlaps is rejected and one at 25 passes
	assert.False(t, am.BusPrecheck(testOp(KindRead, 10, 50, at(1, 1, 0)), 20))
	assert.True(t, am.BusPrecheck(testOp(KindRead, 10, 50, at(1, 1, 0)), 25))

	// AND a read ending its ISSUE exactly at 0 is adjacent, not overlapping
	assert.True(t, am.BusPrecheck(testOp(KindRead, 10, 50, at(1, 1, 0)), -10))
}

func TestRegisterFuture_HeadPolicies(t *testing.T) {
	t.Run("stay keeps the head on the programmed block", func(t *testing.T) {
		am := newTestAddressManager(t)
		am.RegisterFuture(testOp(KindProgram, 10, 100, at(0, 4, 0)), 0)
		assert.Equal(t, 4, am.Head(0, 0))
	})
	t.Run("round robin advances to the next stripe block", func(t *testing.T) {
		am := newTestAddressManager(t, func(c *Config) { c.Addressing.OnProgram = "round_robin" })
		am.RegisterFuture(testOp(KindProgram, 10, 100, at(0, 4, 0)), 0)
		assert.Equal(t, 0, am.Head(0, 0), "wraps past the last block")
		am.RegisterFuture(testOp(KindProgram, 10, 100, at(1, 1, 0)), 0)
		assert.Equal(t, 5, am.Head(0, 1))
	})
	t.Run("last page advances the head", func(t *testing.T) {
		am := newTestAddressManager(t, func(c *Config) { c.Topology.PagesPerBlock = 1 })
		am.RegisterFuture(testOp(KindProgram, 10, 100, at(2, 2, 0)), 0)
		assert.Equal(t, 6, am.Head(0, 2))
	})
	t.Run("erase moves the head", func(t *testing.T) {
		am := newTestAddressManager(t)
		am.RegisterFuture(testOp(KindErase, 10, 100, at(3, 7, NoPage)), 0)
		assert.Equal(t, 7, am.Head(0, 3))
	})
	t.Run("erase with stay leaves the head", func(t *testing.T) {
		am := newTestAddressManager(t, func(c *Config) { c.Addressing.OnErase = "stay" })
		am.RegisterFuture(testOp(KindErase, 10, 100, at(3, 7, NoPage)), 0)
		assert.Equal(t, 3, am.Head(0, 3))
	})
}

func TestCommit_EraseClearsPages(t *testing.T) {
	// GIVEN two committed pages on block 0
	am := newTestAddressManager(t)
	commitProgram(am, 0, at(0, 0, 0))
	commitProgram(am, 200, at(0, 0, 1))
	assert.Equal(t, 1, am.CommittedPage(0, 0))

	// WHEN the block is erased
	erase := placed(testOp(KindErase, 10, 100, at(0, 0, NoPage)), 3, 400)
	am.RegisterFuture(erase, 400)
	assert.True(t, am.IsCommitted(at(0, 0, 1)), "data survives until the erase completes")
	am.Commit(erase)

	// THEN nothing on it is committed any more
	assert.Equal(t, PageErased, am.CommittedPage(0, 0))
	assert.False(t, am.IsCommitted(at(0, 0, 0)))
	assert.False(t, am.IsCommitted(at(0, 0, 1)))
}

func TestPrune_DropsExpiredBookings(t *testing.T) {
	am := newTestAddressManager(t)
	op := testOp(KindProgram, 10, 100, at(0, 0, 0))
	am.ReservePlaneScope(op, 0)
	am.BusReserve(op, 0)

	am.Prune(500)

	assert.Empty(t, am.planes[0][0].reservations)
	assert.Empty(t, am.bus.reserved)
	assert.Equal(t, int64(110), am.PlaneAvailable(0, 0), "availability is monotonic")
}
