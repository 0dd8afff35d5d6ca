package sim

import (
	"fmt"
	"sort"
)

// Page sentinels for per-block address state.
const (
	PageInitial = -2 // factory state; the block must be erased before it can be programmed
	PageErased  = -1 // erased, no page programmed yet
)

// NoPage marks targets that do not address a page (ERASE, SR).
const NoPage = -1

// Address identifies a NAND location. Plane is always Block mod plane-count.
type Address struct {
	Die   int
	Plane int
	Block int
	Page  int
}

func (a Address) String() string {
	return fmt.Sprintf("d%d/p%d/b%d/pg%d", a.Die, a.Plane, a.Block, a.Page)
}

// Segment is a named sub-phase of an operation.
type Segment struct {
	Name     string
	Duration int64 // ticks
	Bus      bool  // occupies the shared command bus
}

// Source records which policy stage produced an operation.
type Source int

const (
	SourcePolicy Source = iota
	SourceObligation
)

func (s Source) String() string {
	if s == SourceObligation {
		return "obligation"
	}
	return "policy"
}

// Operation is a proposed or scheduled NAND command.
// It is built by the PolicyEngine and lives until its OpEndEvent commits its effects.
type Operation struct {
	ID           int64
	Kind         OpKind
	Targets      []Address
	Segments     []Segment
	Scope        Scope
	Provenance   string
	Source       Source
	ObligationID int64 // obligation this op fulfils; 0 if none
	IssuerID     int64 // op that spawned the obligation; 0 if none
	Start        int64 // set on accept
	End          int64 // set on accept
}

// Arity is the number of targets.
func (op *Operation) Arity() int { return len(op.Targets) }

// Alias returns the single/multi alias implied by the arity.
func (op *Operation) Alias() Alias { return AliasFor(op.Arity()) }

// Token returns the aliased token of the operation (e.g. MUL_READ).
func (op *Operation) Token() Token { return Token{Kind: op.Kind, Alias: op.Alias()} }

// Die returns the die all targets live on.
func (op *Operation) Die() int { return op.Targets[0].Die }

// Planes returns the sorted, de-duplicated target planes.
func (op *Operation) Planes() []int {
	seen := make(map[int]bool, len(op.Targets))
	planes := make([]int, 0, len(op.Targets))
	for _, t := range op.Targets {
		if !seen[t.Plane] {
			seen[t.Plane] = true
			planes = append(planes, t.Plane)
		}
	}
	sort.Ints(planes)
	return planes
}

// Duration is the sum of all segment durations.
func (op *Operation) Duration() int64 {
	var total int64
	for _, s := range op.Segments {
		total += s.Duration
	}
	return total
}

// SegmentSpan is a segment placed at an absolute time.
type SegmentSpan struct {
	Name  string
	Start int64
	End   int64
	Bus   bool
}

// Spans lays the segments out back to back from start.
func (op *Operation) Spans(start int64) []SegmentSpan {
	spans := make([]SegmentSpan, 0, len(op.Segments))
	t := start
	for _, s := range op.Segments {
		spans = append(spans, SegmentSpan{Name: s.Name, Start: t, End: t + s.Duration, Bus: s.Bus})
		t += s.Duration
	}
	return spans
}

func (op *Operation) String() string {
	return fmt.Sprintf("op#%d %s x%d %v", op.ID, op.Token(), op.Arity(), op.Targets)
}
