package sim

// ExclusionRule is "while a When op is in one of States, Blocks are disallowed".
// A state of "*" covers the whole lifetime of the op.
type ExclusionRule struct {
	When   Token
	States []string
	Global bool // all dies instead of the issuing die
	Blocks []Token
}

// ExclusionWindow is a registered interval during which Blocks are disallowed.
type ExclusionWindow struct {
	Start, End int64
	Die        int
	Global     bool
	Blocks     []Token
	OpID       int64
}

func (w ExclusionWindow) covers(die int) bool { return w.Global || w.Die == die }

func (w ExclusionWindow) blocks(kind OpKind, arity int) bool {
	for _, tok := range w.Blocks {
		if tok.Matches(kind, arity) {
			return true
		}
	}
	return false
}

// opInterval is a registered op's lifetime, consulted when a candidate's
// own windows would cover an op that was accepted before it.
type opInterval struct {
	start, end int64
	die        int
	kind       OpKind
	arity      int
	id         int64
}

// ExclusionManager stores exclusion windows of accepted operations.
type ExclusionManager struct {
	rules   []ExclusionRule
	windows []ExclusionWindow
	ops     []opInterval
}

// NewExclusionManager creates an ExclusionManager for the compiled rules.
func NewExclusionManager(rules []ExclusionRule) *ExclusionManager {
	return &ExclusionManager{rules: rules}
}

// windowsFor computes the windows op would open if started at start.
func (em *ExclusionManager) windowsFor(op *Operation, start int64) []ExclusionWindow {
	var out []ExclusionWindow
	spans := op.Spans(start)
	end := start + op.Duration()
	for _, r := range em.rules {
		if !r.When.Matches(op.Kind, op.Arity()) {
			continue
		}
		for _, st := range r.States {
			if st == "*" {
				out = append(out, ExclusionWindow{Start: start, End: end, Die: op.Die(), Global: r.Global, Blocks: r.Blocks, OpID: op.ID})
				continue
			}
			for _, s := range spans {
				if s.Name == st && s.End > s.Start {
					out = append(out, ExclusionWindow{Start: s.Start, End: s.End, Die: op.Die(), Global: r.Global, Blocks: r.Blocks, OpID: op.ID})
				}
			}
		}
	}
	return out
}

// Register stores op's windows and lifetime.
func (em *ExclusionManager) Register(op *Operation, start int64) {
	em.windows = append(em.windows, em.windowsFor(op, start)...)
	em.ops = append(em.ops, opInterval{
		start: start,
		end:   start + op.Duration(),
		die:   op.Die(),
		kind:  op.Kind,
		arity: op.Arity(),
		id:    op.ID,
	})
}

// Allowed reports whether op may run over [start, end). Stored windows are
// checked against op, and op's prospective windows against stored ops.
func (em *ExclusionManager) Allowed(op *Operation, start, end int64) bool {
	die, arity := op.Die(), op.Arity()
	for _, w := range em.windows {
		if w.covers(die) && w.Start < end && start < w.End && w.blocks(op.Kind, arity) {
			return false
		}
	}
	for _, w := range em.windowsFor(op, start) {
		for _, o := range em.ops {
			if w.covers(o.die) && w.Start < o.end && o.start < w.End && w.blocks(o.kind, o.arity) {
				return false
			}
		}
	}
	return true
}

// Windows returns the stored windows.
func (em *ExclusionManager) Windows() []ExclusionWindow { return em.windows }

// Prune drops windows and op lifetimes that ended before the given tick.
func (em *ExclusionManager) Prune(before int64) {
	kept := em.windows[:0]
	for _, w := range em.windows {
		if w.End > before {
			kept = append(kept, w)
		}
	}
	em.windows = kept
	keptOps := em.ops[:0]
	for _, o := range em.ops {
		if o.end > before {
			keptOps = append(keptOps, o)
		}
	}
	em.ops = keptOps
}
