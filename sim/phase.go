package sim

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// HookLabel describes the context of a phase hook: the operation and
// sub-phase running on the hooked plane, or DEFAULT when the plane is idle.
type HookLabel struct {
	Token   Token
	State   string // segment name, "END", or empty for the bare token
	Default bool
}

// DefaultLabel is the label of an idle plane.
var DefaultLabel = HookLabel{Default: true}

func (l HookLabel) String() string {
	if l.Default {
		return "DEFAULT"
	}
	if l.State == "" {
		return l.Token.String()
	}
	return l.Token.String() + "." + l.State
}

// fallbacks lists lookup keys from most to least specific:
// ALIAS.STATE, BASE.STATE, ALIAS, BASE, DEFAULT.
func (l HookLabel) fallbacks() []string {
	if l.Default {
		return []string{"DEFAULT"}
	}
	tok, base := l.Token, l.Token.Base()
	keys := make([]string, 0, 5)
	if l.State != "" {
		keys = append(keys, tok.String()+"."+l.State)
		if base != tok {
			keys = append(keys, base.String()+"."+l.State)
		}
	}
	keys = append(keys, tok.String())
	if base != tok {
		keys = append(keys, base.String())
	}
	return append(keys, "DEFAULT")
}

// parseLabelKey parses "DEFAULT", "TOKEN" or "TOKEN.STATE".
func parseLabelKey(key string) (HookLabel, error) {
	if key == "DEFAULT" {
		return DefaultLabel, nil
	}
	parts := strings.Split(key, ".")
	if len(parts) > 2 || parts[0] == "" || (len(parts) == 2 && parts[1] == "") {
		return HookLabel{}, fmt.Errorf("unsupported label key %q (want DEFAULT, TOKEN or TOKEN.STATE)", key)
	}
	tok, err := ParseToken(parts[0])
	if err != nil {
		return HookLabel{}, fmt.Errorf("label key %q: %w", key, err)
	}
	label := HookLabel{Token: tok}
	if len(parts) == 2 {
		label.State = parts[1]
	}
	return label, nil
}

type phaseChoice struct {
	token Token
	nop   bool
	cum   float64
}

// PhaseDistribution is a weighted choice among tokens and NOP.
type PhaseDistribution struct {
	choices []phaseChoice
}

func newPhaseDistribution(weights map[string]float64) (*PhaseDistribution, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("distribution must not be empty")
	}
	d := &PhaseDistribution{}
	total := 0.0
	for _, name := range sortedKeys(weights) {
		w := weights[name]
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("weight of %q must be a non-negative finite number, got %f", name, w)
		}
		c := phaseChoice{nop: name == "NOP"}
		if !c.nop {
			tok, err := ParseToken(name)
			if err != nil {
				return nil, err
			}
			if tok.Kind == KindDout {
				return nil, fmt.Errorf("%q cannot be proposed freely; DOUT is obligation-only", name)
			}
			c.token = tok
		}
		total += w
		c.cum = total
		if w > 0 {
			d.choices = append(d.choices, c)
		}
	}
	if math.Abs(total-1) > 1e-6 {
		return nil, fmt.Errorf("weights must sum to 1, got %f", total)
	}
	d.choices[len(d.choices)-1].cum = 1
	return d, nil
}

// Pick draws a token. ok is false when NOP was drawn.
func (d *PhaseDistribution) Pick(rng *rand.Rand) (tok Token, ok bool) {
	u := rng.Float64()
	for _, c := range d.choices {
		if u < c.cum {
			return c.token, !c.nop
		}
	}
	last := d.choices[len(d.choices)-1]
	return last.token, !last.nop
}

// lookupPhase returns the most specific distribution for a label.
func (p *Params) lookupPhase(label HookLabel) (*PhaseDistribution, string) {
	for _, key := range label.fallbacks() {
		if d, ok := p.Phases[key]; ok {
			return d, key
		}
	}
	return nil, ""
}

// fanoutPlan is the resolved fanout range for one proposal.
type fanoutPlan struct {
	desired    int
	min        int
	interleave bool
}

// resolveFanout picks the fanout for tok from phase overrides, then kind
// defaults, and intersects it with the alias arity constraint.
// ok is false when the alias cannot be satisfied by the topology.
func (p *Params) resolveFanout(tok Token, label HookLabel) (fanoutPlan, bool) {
	spec, found := FanoutSpec{Fanout: 1}, false
	for _, key := range label.fallbacks() {
		if key == "DEFAULT" {
			break
		}
		if fs, ok := p.FanoutOverrides[key]; ok {
			spec, found = fs, true
			break
		}
	}
	if !found {
		if fs, ok := p.FanoutDefaults[tok.Kind]; ok {
			spec = fs
		}
	}
	planes := p.Topology.Planes
	plan := fanoutPlan{desired: min(spec.Fanout, planes), min: 1, interleave: spec.Interleave}
	switch tok.Alias {
	case AliasSingle:
		plan.desired = 1
	case AliasMulti:
		if planes < 2 {
			return fanoutPlan{}, false
		}
		plan.desired = max(plan.desired, 2)
		plan.min = 2
	}
	return plan, true
}
