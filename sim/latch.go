package sim

import "math"

// LatchOpen is the End of a latch whose paired DOUT has not completed.
const LatchOpen = int64(math.MaxInt64)

// Latch models data held in a plane's read buffer from READ end until the
// paired DOUT completes.
type Latch struct {
	Die, Plane int
	Start      int64
	End        int64
	ReadID     int64
}

type diePlane struct{ die, plane int }

// LatchManager tracks read-buffer locks per (die, plane).
type LatchManager struct {
	planes int
	locks  map[diePlane][]*Latch
}

// NewLatchManager creates an empty LatchManager.
func NewLatchManager(planes int) *LatchManager {
	return &LatchManager{planes: planes, locks: make(map[diePlane][]*Latch)}
}

// PlanLockAfterRead opens a lock on every target plane of read, effective at readEnd.
func (lm *LatchManager) PlanLockAfterRead(read *Operation, readEnd int64) {
	for _, t := range read.Targets {
		key := diePlane{t.Die, t.Plane}
		lm.locks[key] = append(lm.locks[key], &Latch{Die: t.Die, Plane: t.Plane, Start: readEnd, End: LatchOpen, ReadID: read.ID})
	}
}

// ReleaseOnDoutEnd closes the lock paired with dout on each of its planes.
// If no lock carries the issuing READ's id, the oldest open lock on the plane is closed.
func (lm *LatchManager) ReleaseOnDoutEnd(dout *Operation, end int64) {
	for _, t := range dout.Targets {
		var oldest *Latch
		for _, l := range lm.locks[diePlane{t.Die, t.Plane}] {
			if l.End != LatchOpen {
				continue
			}
			if l.ReadID == dout.IssuerID {
				oldest = l
				break
			}
			if oldest == nil {
				oldest = l
			}
		}
		if oldest != nil {
			oldest.End = end
		}
	}
}

// Allowed reports whether op may run over [start, end) given the locks.
// DOUT and SR always pass; die-wide ops check every plane of the die.
func (lm *LatchManager) Allowed(op *Operation, start, end int64) bool {
	if !op.Kind.IsArrayOp() {
		return true
	}
	die := op.Die()
	planes := op.Planes()
	if op.Scope == ScopeDieWide {
		planes = planes[:0:0]
		for pl := 0; pl < lm.planes; pl++ {
			planes = append(planes, pl)
		}
	}
	for _, pl := range planes {
		for _, l := range lm.locks[diePlane{die, pl}] {
			if l.Start < end && start < l.End {
				return false
			}
		}
	}
	return true
}

// Open returns the number of locks whose DOUT has not completed.
func (lm *LatchManager) Open() int {
	n := 0
	for _, ls := range lm.locks {
		for _, l := range ls {
			if l.End == LatchOpen {
				n++
			}
		}
	}
	return n
}

// Prune drops closed locks that ended before the given tick.
func (lm *LatchManager) Prune(before int64) {
	for key, ls := range lm.locks {
		kept := ls[:0]
		for _, l := range ls {
			if l.End > before {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(lm.locks, key)
		} else {
			lm.locks[key] = kept
		}
	}
}
