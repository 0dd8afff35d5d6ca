// Package check re-derives the legality of a scheduled timeline from its
// operation records alone. It shares no state with the scheduler: block
// program state, bus occupancy, exclusion windows and read latches are all
// rebuilt from the records and the configured rules.
package check

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nandsim/nandsim/sim/trace"
)

// Check names.
const (
	CheckProgramOrder    = "program_order"
	CheckReadCommitted   = "read_committed"
	CheckBusOverlap      = "bus_overlap"
	CheckPlaneOverlap    = "plane_overlap"
	CheckCoreBusy        = "core_busy"
	CheckReadExclusivity = "read_exclusivity"
	CheckExclusion       = "exclusion"
	CheckDoutOrder       = "dout_order"
	CheckLatchHold       = "latch_hold"
)

// Rule is an exclusion rule in its configuration form.
type Rule struct {
	When   string   // token such as PROGRAM or MUL_READ
	States []string // segment names, or "*" for the whole lifetime
	Global bool
	Blocks []string
}

// Options describe the configuration the timeline was generated from.
type Options struct {
	Planes        int
	InitialErased bool
	CoreBusyState string
	Rules         []Rule
}

// Violation is one broken property.
type Violation struct {
	Check  string
	OpID   int64
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: op %d: %s", v.Check, v.OpID, v.Detail)
}

// Validate runs every check and returns the violations grouped by check.
func Validate(records []trace.OperationRecord, opts Options) []Violation {
	recs := append([]trace.OperationRecord(nil), records...)
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].StartTick != recs[j].StartTick {
			return recs[i].StartTick < recs[j].StartTick
		}
		return recs[i].ID < recs[j].ID
	})
	var out []Violation
	out = append(out, checkBlockState(recs, opts)...)
	out = append(out, checkBus(recs)...)
	out = append(out, checkPlanes(recs, opts)...)
	out = append(out, checkExclusions(recs, opts)...)
	out = append(out, checkLatches(recs, opts)...)
	return out
}

func isArray(kind string) bool {
	return kind == "READ" || kind == "PROGRAM" || kind == "ERASE"
}

// matches reports whether a token like SIN_READ covers a record.
func matches(token string, r trace.OperationRecord) bool {
	switch {
	case strings.HasPrefix(token, "SIN_"):
		return r.Kind == strings.TrimPrefix(token, "SIN_") && r.Arity == 1
	case strings.HasPrefix(token, "MUL_"):
		return r.Kind == strings.TrimPrefix(token, "MUL_") && r.Arity > 1
	default:
		return r.Kind == token
	}
}

func overlaps(aStart, aEnd, bStart, bEnd int64) bool {
	return aStart < bEnd && bStart < aEnd
}

func die(r trace.OperationRecord) int {
	if len(r.Targets) == 0 {
		return -1
	}
	return r.Targets[0].Die
}

type blockKey struct{ die, block int }

type pageKey struct{ die, block, page int }

// checkBlockState replays commits in completion order and verifies program
// order per block and that READ/DOUT targets were committed at their start.
func checkBlockState(recs []trace.OperationRecord, opts Options) []Violation {
	type event struct {
		at     int64
		commit bool // commits sort before starts at the same tick
		rec    trace.OperationRecord
	}
	var events []event
	for _, r := range recs {
		switch r.Kind {
		case "PROGRAM", "ERASE":
			events = append(events, event{at: r.EndTick, commit: true, rec: r})
		case "READ", "DOUT":
			events = append(events, event{at: r.StartTick, rec: r})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		if events[i].commit != events[j].commit {
			return events[i].commit
		}
		return events[i].rec.ID < events[j].rec.ID
	})

	initial := -2
	if opts.InitialErased {
		initial = -1
	}
	last := make(map[blockKey]int)
	lastPage := func(k blockKey) int {
		if p, ok := last[k]; ok {
			return p
		}
		return initial
	}
	committed := make(map[pageKey]bool)
	var out []Violation
	for _, ev := range events {
		r := ev.rec
		for _, t := range r.Targets {
			bk := blockKey{t.Die, t.Block}
			switch r.Kind {
			case "PROGRAM":
				if want := lastPage(bk) + 1; t.Page != want || lastPage(bk) < -1 {
					out = append(out, Violation{CheckProgramOrder, r.ID,
						fmt.Sprintf("d%d/b%d programmed page %d, expected %d", t.Die, t.Block, t.Page, want)})
				}
				last[bk] = t.Page
				committed[pageKey{t.Die, t.Block, t.Page}] = true
			case "ERASE":
				for pk := range committed {
					if pk.die == t.Die && pk.block == t.Block {
						delete(committed, pk)
					}
				}
				last[bk] = -1
			default:
				if !committed[pageKey{t.Die, t.Block, t.Page}] {
					out = append(out, Violation{CheckReadCommitted, r.ID,
						fmt.Sprintf("%s of d%d/b%d/pg%d before it was committed", r.Kind, t.Die, t.Block, t.Page)})
				}
			}
		}
	}
	return out
}

func checkBus(recs []trace.OperationRecord) []Violation {
	type busSeg struct {
		start, end int64
		id         int64
	}
	var segs []busSeg
	for _, r := range recs {
		for _, s := range r.Segments {
			if s.Bus && s.EndTick > s.StartTick {
				segs = append(segs, busSeg{s.StartTick, s.EndTick, r.ID})
			}
		}
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].start < segs[j].start })
	var out []Violation
	var maxEnd int64
	var maxID int64
	for i, s := range segs {
		if i > 0 && s.start < maxEnd {
			out = append(out, Violation{CheckBusOverlap, s.id,
				fmt.Sprintf("bus segment [%d, %d) overlaps op %d", s.start, s.end, maxID)})
		}
		if s.end > maxEnd {
			maxEnd, maxID = s.end, s.id
		}
	}
	return out
}

// occupied lists the planes a record reserves.
func occupied(r trace.OperationRecord, planes int) []int {
	switch r.Scope {
	case "none":
		return nil
	case "die_wide":
		all := make([]int, planes)
		for i := range all {
			all[i] = i
		}
		return all
	}
	var out []int
	for _, t := range r.Targets {
		out = append(out, t.Plane)
	}
	return out
}

func checkPlanes(recs []trace.OperationRecord, opts Options) []Violation {
	type diePlane struct{ die, plane int }
	last := make(map[diePlane]trace.OperationRecord)
	var out []Violation
	for _, r := range recs {
		for _, pl := range occupied(r, opts.Planes) {
			key := diePlane{die(r), pl}
			if prev, ok := last[key]; ok && prev.EndTick > r.StartTick {
				out = append(out, Violation{CheckPlaneOverlap, r.ID,
					fmt.Sprintf("d%d/p%d busy with op %d until %d", key.die, key.plane, prev.ID, prev.EndTick)})
			}
			if prev, ok := last[key]; !ok || r.EndTick > prev.EndTick {
				last[key] = r
			}
		}
	}
	return out
}

// checkExclusions rebuilds every rule window and checks it against the
// lifetimes of all other operations in scope.
func checkExclusions(recs []trace.OperationRecord, opts Options) []Violation {
	var out []Violation
	for _, rule := range opts.Rules {
		name := ruleCheck(rule, opts.CoreBusyState)
		for _, a := range recs {
			if !matches(rule.When, a) {
				continue
			}
			for _, w := range ruleWindows(rule, a) {
				for _, b := range recs {
					if b.ID == a.ID || (!rule.Global && die(b) != die(a)) {
						continue
					}
					if !overlaps(w[0], w[1], b.StartTick, b.EndTick) {
						continue
					}
					for _, tok := range rule.Blocks {
						if matches(tok, b) {
							out = append(out, Violation{name, b.ID,
								fmt.Sprintf("%s overlaps %s window [%d, %d) of op %d", b.Token, a.Token, w[0], w[1], a.ID)})
							break
						}
					}
				}
			}
		}
	}
	return out
}

func ruleCheck(rule Rule, coreBusy string) string {
	if strings.HasSuffix(rule.When, "READ") {
		return CheckReadExclusivity
	}
	for _, st := range rule.States {
		if st == coreBusy {
			return CheckCoreBusy
		}
	}
	return CheckExclusion
}

func ruleWindows(rule Rule, r trace.OperationRecord) [][2]int64 {
	var out [][2]int64
	for _, st := range rule.States {
		if st == "*" {
			out = append(out, [2]int64{r.StartTick, r.EndTick})
			continue
		}
		for _, s := range r.Segments {
			if s.Name == st && s.EndTick > s.StartTick {
				out = append(out, [2]int64{s.StartTick, s.EndTick})
			}
		}
	}
	return out
}

// checkLatches pairs every DOUT with its READ and verifies that no array
// operation used a plane while its read buffer was held.
func checkLatches(recs []trace.OperationRecord, opts Options) []Violation {
	byID := make(map[int64]trace.OperationRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	type holdKey struct {
		read  int64
		die   int
		plane int
	}
	release := make(map[holdKey]int64)
	var out []Violation
	for _, r := range recs {
		if r.Kind != "DOUT" || r.IssuerID == 0 {
			continue
		}
		read, ok := byID[r.IssuerID]
		if !ok {
			continue
		}
		if r.StartTick < read.EndTick {
			out = append(out, Violation{CheckDoutOrder, r.ID,
				fmt.Sprintf("DOUT starts at %d before READ %d ends at %d", r.StartTick, read.ID, read.EndTick)})
		}
		for _, t := range r.Targets {
			release[holdKey{read.ID, t.Die, t.Plane}] = r.EndTick
		}
	}

	const open = int64(1<<63 - 1)
	for _, read := range recs {
		if read.Kind != "READ" {
			continue
		}
		for _, t := range read.Targets {
			end, ok := release[holdKey{read.ID, t.Die, t.Plane}]
			if !ok {
				end = open
			}
			for _, b := range recs {
				if b.ID == read.ID || !isArray(b.Kind) || die(b) != t.Die {
					continue
				}
				if !overlaps(read.EndTick, end, b.StartTick, b.EndTick) {
					continue
				}
				for _, pl := range latchPlanes(b, opts.Planes) {
					if pl == t.Plane {
						out = append(out, Violation{CheckLatchHold, b.ID,
							fmt.Sprintf("%s uses d%d/p%d while READ %d holds its latch", b.Token, t.Die, t.Plane, read.ID)})
						break
					}
				}
			}
		}
	}
	return out
}

// latchPlanes lists the planes whose latches an array op must respect:
// every plane for die-wide ops, otherwise its target planes.
func latchPlanes(r trace.OperationRecord, planes int) []int {
	if r.Scope == "die_wide" {
		return occupied(r, planes)
	}
	var out []int
	for _, t := range r.Targets {
		out = append(out, t.Plane)
	}
	return out
}
