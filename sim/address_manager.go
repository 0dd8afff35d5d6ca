package sim

import (
	"math/rand"
	"sort"
)

type dieBlock struct{ die, block int }

type dieBlockPage struct{ die, block, page int }

// AddressManager owns per-block program state (committed and future),
// per-plane availability timelines, the shared bus, and target planning.
//
// Committed state changes only in Commit, on an operation's completion.
// Future state changes in RegisterFuture, when an operation is accepted,
// so later proposals can be planned against work that is booked but not done.
type AddressManager struct {
	topo  Topology
	addr  AddressingParams
	rng   *rand.Rand
	tries int

	planes [][]planeTimeline // [die][plane]
	bus    busTimeline

	committed      [][]int // [die][block] last committed page
	future         [][]int // [die][block] last page including booked work
	committedPages []map[dieBlockPage]bool
	heads          [][]int // [die][plane] write-head block

	eraseWindows   map[dieBlock][]interval
	programWindows map[dieBlockPage]interval
}

// NewAddressManager creates an AddressManager with every block in its initial state.
func NewAddressManager(p *Params, rng *rand.Rand) *AddressManager {
	t := p.Topology
	am := &AddressManager{
		topo:           t,
		addr:           p.Addressing,
		rng:            rng,
		tries:          p.PlanRetries,
		planes:         make([][]planeTimeline, t.Dies),
		committed:      make([][]int, t.Dies),
		future:         make([][]int, t.Dies),
		committedPages: make([]map[dieBlockPage]bool, t.Dies),
		heads:          make([][]int, t.Dies),
		eraseWindows:   make(map[dieBlock][]interval),
		programWindows: make(map[dieBlockPage]interval),
	}
	initial := PageInitial
	if t.InitialErased {
		initial = PageErased
	}
	for d := 0; d < t.Dies; d++ {
		am.planes[d] = make([]planeTimeline, t.Planes)
		am.committed[d] = make([]int, t.BlocksPerDie)
		am.future[d] = make([]int, t.BlocksPerDie)
		for b := range am.committed[d] {
			am.committed[d][b] = initial
			am.future[d][b] = initial
		}
		am.committedPages[d] = make(map[dieBlockPage]bool)
		am.heads[d] = make([]int, t.Planes)
		for pl := 0; pl < t.Planes; pl++ {
			am.heads[d][pl] = pl
		}
	}
	return am
}

// CommittedPage returns the last committed page of a block (or a sentinel).
func (am *AddressManager) CommittedPage(die, block int) int { return am.committed[die][block] }

// FuturePage returns the last page of a block including booked work.
func (am *AddressManager) FuturePage(die, block int) int { return am.future[die][block] }

// IsCommitted reports whether (die, block, page) holds committed data.
func (am *AddressManager) IsCommitted(a Address) bool {
	return am.committedPages[a.Die][dieBlockPage{a.Die, a.Block, a.Page}]
}

// Head returns the write-head block of a plane.
func (am *AddressManager) Head(die, plane int) int { return am.heads[die][plane] }

// PlaneAvailable returns when a plane is next free.
func (am *AddressManager) PlaneAvailable(die, plane int) int64 { return am.planes[die][plane].avail }

// scopePlanes returns the planes an operation occupies.
func (am *AddressManager) scopePlanes(scope Scope, planes []int) []int {
	switch scope {
	case ScopeNone:
		return nil
	case ScopeDieWide:
		all := make([]int, am.topo.Planes)
		for i := range all {
			all[i] = i
		}
		return all
	default:
		return planes
	}
}

// EarliestStartForScope is the max availability across the scope's planes.
func (am *AddressManager) EarliestStartForScope(die int, scope Scope, planes []int) int64 {
	var earliest int64
	for _, pl := range am.scopePlanes(scope, planes) {
		earliest = max(earliest, am.planes[die][pl].avail)
	}
	return earliest
}

// CandidateStartForScope is max(now, earliest start). Both are already on the tick grid.
func (am *AddressManager) CandidateStartForScope(now int64, die int, scope Scope, planes []int) int64 {
	return max(now, am.EarliestStartForScope(die, scope, planes))
}

// blocksInPlane lists a plane's blocks in the configured search order.
func (am *AddressManager) blocksInPlane(die, plane int) []int {
	var blocks []int
	for b := plane; b < am.topo.BlocksPerDie; b += am.topo.Planes {
		blocks = append(blocks, b)
	}
	if am.addr.SearchAscending {
		return blocks
	}
	head := am.heads[die][plane]
	for i, b := range blocks {
		if b == head {
			return append(blocks[i:], blocks[:i]...)
		}
	}
	return blocks
}

// PlanMultiplane finds targets for kind on die, starting at startPlane.
// It tries up to the retry budget of sampled plane subsets at the desired
// fanout, then degrades one plane at a time down to minFanout.
func (am *AddressManager) PlanMultiplane(kind OpKind, die, startPlane, fanout, minFanout int, interleave bool) ([]Address, bool) {
	switch kind {
	case KindSR:
		return []Address{{Die: die, Plane: startPlane, Block: -1, Page: NoPage}}, true
	case KindDout:
		return nil, false
	}
	for f := min(fanout, am.topo.Planes); f >= max(minFanout, 1); f-- {
		for try := 0; try < am.tries; try++ {
			planes := am.samplePlanes(startPlane, f, interleave)
			if targets, ok := am.resolveTargets(kind, die, planes); ok {
				return targets, true
			}
			if !interleave || f == 1 {
				break // only one candidate subset exists
			}
		}
	}
	return nil, false
}

// samplePlanes returns a sorted plane subset of size f containing start.
// Interleaved subsets are random; otherwise the wrap-around window from start.
func (am *AddressManager) samplePlanes(start, f int, interleave bool) []int {
	n := am.topo.Planes
	planes := []int{start}
	if interleave {
		others := make([]int, 0, n-1)
		for pl := 0; pl < n; pl++ {
			if pl != start {
				others = append(others, pl)
			}
		}
		am.rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })
		planes = append(planes, others[:f-1]...)
	} else {
		for i := 1; i < f; i++ {
			planes = append(planes, (start+i)%n)
		}
	}
	sort.Ints(planes)
	return planes
}

func (am *AddressManager) resolveTargets(kind OpKind, die int, planes []int) ([]Address, bool) {
	switch kind {
	case KindRead:
		return am.resolveRead(die, planes)
	case KindProgram:
		return am.resolveProgram(die, planes)
	case KindErase:
		return am.resolveErase(die, planes)
	}
	return nil, false
}

// readable reports whether a block has committed data and no pending erase.
func (am *AddressManager) readable(die, block int) bool {
	return am.committed[die][block] >= 0 && len(am.eraseWindows[dieBlock{die, block}]) == 0
}

// resolveRead picks a page committed on every plane of the subset.
// Pages are programmed in order, so a plane's committed page set is
// [0, max committed page over its readable blocks] and the intersection
// across planes is [0, min of those maxima].
func (am *AddressManager) resolveRead(die int, planes []int) ([]Address, bool) {
	limit := -1
	for i, pl := range planes {
		best := -1
		for _, b := range am.blocksInPlane(die, pl) {
			if am.readable(die, b) {
				best = max(best, am.committed[die][b])
			}
		}
		if best < 0 {
			return nil, false
		}
		if i == 0 || best < limit {
			limit = best
		}
	}
	page := am.rng.Intn(limit + 1)
	targets := make([]Address, 0, len(planes))
	for _, pl := range planes {
		var candidates []int
		for _, b := range am.blocksInPlane(die, pl) {
			if am.readable(die, b) && am.committed[die][b] >= page {
				candidates = append(candidates, b)
			}
		}
		sort.Ints(candidates)
		b := candidates[am.rng.Intn(len(candidates))]
		targets = append(targets, Address{Die: die, Plane: pl, Block: b, Page: page})
	}
	return targets, true
}

// programmable reports whether a block can take another page.
func (am *AddressManager) programmable(die, block int) bool {
	f := am.future[die][block]
	return f >= PageErased && f < am.topo.PagesPerBlock-1
}

// resolveProgram votes on the next page across the planes' first
// programmable blocks and then finds, per plane, a block at that page.
func (am *AddressManager) resolveProgram(die int, planes []int) ([]Address, bool) {
	votes := make(map[int]int)
	for _, pl := range planes {
		found := false
		for _, b := range am.blocksInPlane(die, pl) {
			if am.programmable(die, b) {
				votes[am.future[die][b]+1]++
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	page, best := -1, 0
	for pg, n := range votes {
		if n > best || (n == best && pg < page) {
			page, best = pg, n
		}
	}
	targets := make([]Address, 0, len(planes))
	for _, pl := range planes {
		block := -1
		for _, b := range am.blocksInPlane(die, pl) {
			if am.programmable(die, b) && am.future[die][b]+1 == page {
				block = b
				break
			}
		}
		if block < 0 {
			return nil, false
		}
		targets = append(targets, Address{Die: die, Plane: pl, Block: block, Page: page})
	}
	return targets, true
}

// resolveErase picks, per plane, a block that is not already (going to be) erased.
func (am *AddressManager) resolveErase(die int, planes []int) ([]Address, bool) {
	targets := make([]Address, 0, len(planes))
	for _, pl := range planes {
		block := -1
		for _, b := range am.blocksInPlane(die, pl) {
			if am.future[die][b] != PageErased {
				block = b
				break
			}
		}
		if block < 0 {
			return nil, false
		}
		targets = append(targets, Address{Die: die, Plane: pl, Block: block, Page: NoPage})
	}
	return targets, true
}

// PrecheckPlaneScope validates targets and address state for a start time.
func (am *AddressManager) PrecheckPlaneScope(op *Operation, start int64) (bool, string) {
	end := start + op.Duration()
	die := op.Die()
	for _, pl := range am.scopePlanes(op.Scope, op.Planes()) {
		if am.planes[die][pl].conflicts(start, end) {
			return false, "plane_busy"
		}
	}
	if op.Kind == KindSR {
		return true, ""
	}
	guard := am.addr.Guard
	for _, t := range op.Targets {
		if t.Die != die || t.Block < 0 || t.Block >= am.topo.BlocksPerDie || t.Plane != t.Block%am.topo.Planes {
			return false, "plane_block_mismatch"
		}
		erases := am.eraseWindows[dieBlock{t.Die, t.Block}]
		switch op.Kind {
		case KindProgram:
			if t.Page >= am.topo.PagesPerBlock {
				return false, "capacity"
			}
			if t.Page != am.future[t.Die][t.Block]+1 {
				return false, "page_order"
			}
			for _, iv := range erases {
				if iv.overlaps(start-guard, end+guard) {
					return false, "future_erase_conflict"
				}
			}
		case KindRead, KindDout:
			if !am.IsCommitted(t) {
				w, ok := am.programWindows[dieBlockPage{t.Die, t.Block, t.Page}]
				if !am.addr.AllowFutureRead || !ok || w.end > start-guard {
					return false, "uncommitted"
				}
			}
			// any pending erase that begins before the read finishes would wipe the page
			for _, iv := range erases {
				if iv.start < end+guard {
					return false, "future_erase_conflict"
				}
			}
		}
	}
	return true, ""
}

// busSpans returns the absolute bus intervals of op started at start.
func busSpans(op *Operation, start int64) []interval {
	var spans []interval
	for _, s := range op.Spans(start) {
		if s.Bus && s.End > s.Start {
			spans = append(spans, interval{s.Start, s.End})
		}
	}
	return spans
}

// BusPrecheck reports whether op's bus segments are free if started at start.
func (am *AddressManager) BusPrecheck(op *Operation, start int64) bool {
	for _, iv := range busSpans(op, start) {
		if !am.bus.free(iv.start, iv.end) {
			return false
		}
	}
	return true
}

// BusReserve books op's bus segments.
func (am *AddressManager) BusReserve(op *Operation, start int64) {
	for _, iv := range busSpans(op, start) {
		am.bus.reserve(iv)
	}
}

// ReservePlaneScope advances availability of every plane in op's scope.
func (am *AddressManager) ReservePlaneScope(op *Operation, start int64) {
	iv := interval{start, start + op.Duration()}
	die := op.Die()
	for _, pl := range am.scopePlanes(op.Scope, op.Planes()) {
		am.planes[die][pl].reserve(iv)
	}
}

// RegisterFuture books op's effect on future address state and records the
// windows later prechecks consult.
func (am *AddressManager) RegisterFuture(op *Operation, start int64) {
	iv := interval{start, start + op.Duration()}
	for _, t := range op.Targets {
		switch op.Kind {
		case KindProgram:
			am.future[t.Die][t.Block] = t.Page
			am.programWindows[dieBlockPage{t.Die, t.Block, t.Page}] = iv
			if am.addr.RoundRobin || t.Page == am.topo.PagesPerBlock-1 {
				am.heads[t.Die][t.Plane] = am.nextStripeBlock(t.Plane, t.Block)
			} else {
				am.heads[t.Die][t.Plane] = t.Block
			}
		case KindErase:
			am.future[t.Die][t.Block] = PageErased
			key := dieBlock{t.Die, t.Block}
			am.eraseWindows[key] = append(am.eraseWindows[key], iv)
			if am.addr.MoveOnErase {
				am.heads[t.Die][t.Plane] = t.Block
			}
		}
	}
}

// nextStripeBlock is the next block of the same plane, wrapping around.
func (am *AddressManager) nextStripeBlock(plane, block int) int {
	next := block + am.topo.Planes
	if next >= am.topo.BlocksPerDie {
		return plane
	}
	return next
}

// Commit merges a completed op into committed state.
func (am *AddressManager) Commit(op *Operation) {
	for _, t := range op.Targets {
		switch op.Kind {
		case KindProgram:
			am.committed[t.Die][t.Block] = max(am.committed[t.Die][t.Block], t.Page)
			key := dieBlockPage{t.Die, t.Block, t.Page}
			am.committedPages[t.Die][key] = true
			delete(am.programWindows, key)
		case KindErase:
			am.committed[t.Die][t.Block] = PageErased
			for pg := 0; pg < am.topo.PagesPerBlock; pg++ {
				delete(am.committedPages[t.Die], dieBlockPage{t.Die, t.Block, pg})
			}
			key := dieBlock{t.Die, t.Block}
			kept := am.eraseWindows[key][:0]
			for _, iv := range am.eraseWindows[key] {
				if iv.start != op.Start || iv.end != op.End {
					kept = append(kept, iv)
				}
			}
			if len(kept) == 0 {
				delete(am.eraseWindows, key)
			} else {
				am.eraseWindows[key] = kept
			}
		}
	}
}

// Prune drops plane and bus bookings that ended before now minus the guard.
func (am *AddressManager) Prune(now int64) {
	before := now - am.addr.Guard
	for d := range am.planes {
		for pl := range am.planes[d] {
			am.planes[d][pl].prune(before)
		}
	}
	am.bus.prune(before)
}
