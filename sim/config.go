package sim

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nandsim/nandsim/sim/check"
	"github.com/nandsim/nandsim/sim/trace"
)

// ErrInvalidConfig is wrapped by every configuration error so callers can
// distinguish bad input from runtime failures with errors.Is.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the YAML configuration of a simulation run.
// All times are in configuration time units; Compile converts them to ticks.
type Config struct {
	Seed           int64                   `yaml:"seed"`
	TimeResolution float64                 `yaml:"time_resolution"` // time units per tick (default 0.01)
	Horizon        float64                 `yaml:"horizon"`         // simulated time to run (default 1000)
	TraceLevel     string                  `yaml:"trace_level"`     // "none" (default) or "decisions"
	CoreBusyState  string                  `yaml:"core_busy_state"` // state name treated as core-busy by the checker (default CORE_BUSY)
	Topology       TopologyConfig          `yaml:"topology"`
	OpSpecs        map[string]OpSpecConfig `yaml:"op_specs"`
	Exclusions     []ExclusionRuleConfig   `yaml:"exclusions"`
	Obligations    []ObligationRuleConfig  `yaml:"obligations"`
	Policy         PolicyConfig            `yaml:"policy"`
	Addressing     AddressingConfig        `yaml:"addressing"`
	Scheduler      SchedulerConfig         `yaml:"scheduler"`
	Bootstrap      BootstrapConfig         `yaml:"bootstrap"`
}

// TopologyConfig describes the NAND array geometry.
type TopologyConfig struct {
	Dies          int    `yaml:"dies"`
	Planes        int    `yaml:"planes"`
	BlocksPerDie  int    `yaml:"blocks_per_die"`
	PagesPerBlock int    `yaml:"pages_per_block"`
	InitialState  string `yaml:"initial_state"` // "erased" (default) or "initial"
}

// OpSpecConfig describes one operation kind as an ordered list of states.
type OpSpecConfig struct {
	Scope  string        `yaml:"scope"`
	States []StateConfig `yaml:"states"`
}

// StateConfig is one sub-phase of an operation.
type StateConfig struct {
	Name     string   `yaml:"name"`
	Bus      bool     `yaml:"bus"`
	Duration DistSpec `yaml:"duration"`
}

// ExclusionRuleConfig is "while a When op is in States, Blocks are disallowed on Scope".
type ExclusionRuleConfig struct {
	When   string   `yaml:"when"`
	States []string `yaml:"states"` // state names, or "*" for the whole lifetime
	Scope  string   `yaml:"scope"`  // "die" (default) or "global"
	Blocks []string `yaml:"blocks"`
}

// ObligationRuleConfig is "when Issuer commits, Require must follow within Window".
type ObligationRuleConfig struct {
	Issuer        string   `yaml:"issuer"`
	Require       string   `yaml:"require"`
	Window        DistSpec `yaml:"window"`
	HardSlot      bool     `yaml:"hard_slot"`
	SkipAdmission bool     `yaml:"skip_admission"`
	Stagger       float64  `yaml:"stagger"` // deadline increment between split per-plane obligations
}

// PolicyConfig configures the PolicyEngine.
type PolicyConfig struct {
	PhaseConditional  PhaseConditionalConfig `yaml:"phase_conditional"`
	Fanout            FanoutConfig           `yaml:"fanout"`
	Admission         AdmissionConfig        `yaml:"admission"`
	Easing            EasingConfig           `yaml:"easing"`
	PlanRetries       int                    `yaml:"plan_retries"`
	ObligationHorizon float64                `yaml:"obligation_horizon"`
	RequeueDelta      float64                `yaml:"requeue_delta"`
	PopScanLimit      int                    `yaml:"pop_scan_limit"`
	Audit             string                 `yaml:"audit"` // off, warn (default), fatal
}

// PhaseConditionalConfig maps hook labels to weighted proposal choices.
type PhaseConditionalConfig struct {
	Enabled       bool                          `yaml:"enabled"`
	Distributions map[string]map[string]float64 `yaml:"distributions"`
}

// FanoutSpec is a desired plane fanout and interleave mode.
type FanoutSpec struct {
	Fanout     int  `yaml:"fanout"`
	Interleave bool `yaml:"interleave"`
}

// FanoutConfig holds per-kind fanout defaults and per-phase overrides.
type FanoutConfig struct {
	Defaults  map[string]FanoutSpec `yaml:"defaults"`
	Overrides map[string]FanoutSpec `yaml:"overrides"`
}

// AdmissionConfig bounds the slack between now and a candidate's start.
// Nil pointer fields mean "not set in YAML".
type AdmissionConfig struct {
	DefaultDelta     *float64           `yaml:"default_delta"`
	Deltas           map[string]float64 `yaml:"deltas"`
	ObligationBypass *bool              `yaml:"obligation_bypass"`
}

// EasingConfig enables the alternate start-plane scan.
type EasingConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxStartPlanes int  `yaml:"max_start_planes"`
}

// AddressingConfig selects target search and write-head policies.
type AddressingConfig struct {
	SearchOrder     string  `yaml:"search_order"` // ascending or from_head (default)
	OnProgram       string  `yaml:"on_program"`   // stay (default) or round_robin
	OnErase         string  `yaml:"on_erase"`     // move (default) or stay
	Guard           float64 `yaml:"guard"`
	AllowFutureRead bool    `yaml:"allow_future_read"`
}

// SchedulerConfig configures the event loop.
type SchedulerConfig struct {
	RefillPeriod  float64  `yaml:"refill_period"`
	HookJitter    float64  `yaml:"hook_jitter"`
	SuppressHooks []string `yaml:"suppress_hooks"`
	ExpireMargin  float64  `yaml:"expire_margin"`
}

// BootstrapConfig seeds the obligation heap before the run starts.
type BootstrapConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BlocksPerPlane int     `yaml:"blocks_per_plane"`
	Pages          int     `yaml:"pages"`
	Read           bool    `yaml:"read"`
	Stripe         bool    `yaml:"stripe"`
	Start          float64 `yaml:"start"`
	Spacing        float64 `yaml:"spacing"`
}

// Valid value registries.
var (
	validSearchOrders = map[string]bool{"": true, "ascending": true, "from_head": true}
	validOnProgram    = map[string]bool{"": true, "stay": true, "round_robin": true}
	validOnErase      = map[string]bool{"": true, "move": true, "stay": true}
	validAuditModes   = map[string]bool{"": true, "off": true, "warn": true, "fatal": true}
	validRuleScopes   = map[string]bool{"": true, "die": true, "global": true}
	validInitialState = map[string]bool{"": true, "erased": true, "initial": true}
)

// LoadConfig reads and strictly parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig strictly parses YAML configuration bytes. Unknown fields are errors.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the whole configuration eagerly.
func (c *Config) Validate() error {
	_, err := c.Compile()
	return err
}

// Topology is the validated array geometry.
type Topology struct {
	Dies          int
	Planes        int
	BlocksPerDie  int
	PagesPerBlock int
	InitialErased bool
}

// OpSpec is the compiled description of one kind.
type OpSpec struct {
	Kind   OpKind
	Scope  Scope
	States []StateSpec
}

// StateSpec is a compiled state with its duration sampler.
type StateSpec struct {
	Name     string
	Bus      bool
	Duration DurationSampler
}

// AddressingParams are the compiled addressing policies.
type AddressingParams struct {
	SearchAscending bool
	RoundRobin      bool
	MoveOnErase     bool
	Guard           int64
	AllowFutureRead bool
}

// BootstrapParams are the compiled bootstrap population parameters.
type BootstrapParams struct {
	Enabled        bool
	BlocksPerPlane int
	Pages          int
	Read           bool
	Stripe         bool
	Start          int64
	Spacing        int64
}

// Params is the compiled, tick-based form of a Config.
// Rule keys and tokens are parsed once here so the hot path compares enums.
type Params struct {
	Seed       int64
	Clock      Clock
	Horizon    int64
	TraceLevel trace.TraceLevel
	Topology   Topology
	OpSpecs    map[OpKind]OpSpec

	ExclusionRules  []ExclusionRule
	ObligationRules []ObligationRule

	PhaseEnabled    bool
	Phases          map[string]*PhaseDistribution
	FanoutDefaults  map[OpKind]FanoutSpec
	FanoutOverrides map[string]FanoutSpec

	AdmissionDefault int64
	AdmissionDeltas  map[OpKind]int64
	ObligationBypass bool

	Easing               bool
	EasingMaxStartPlanes int
	PlanRetries          int
	ObligationHorizon    int64
	RequeueDelta         int64
	PopScanLimit         int
	Audit                AuditMode

	Addressing    AddressingParams
	RefillPeriod  int64
	HookJitter    int64
	ExpireMargin  int64
	SuppressHooks map[OpKind]bool
	Bootstrap     BootstrapParams
	CoreBusyState string
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// Compile validates the configuration and converts it into Params.
// The receiver is not modified.
func (c *Config) Compile() (*Params, error) {
	res := orDefault(c.TimeResolution, 0.01)
	if res <= 0 || math.IsNaN(res) || math.IsInf(res, 0) {
		return nil, invalid("time_resolution must be positive, got %f", c.TimeResolution)
	}
	clock := NewClock(res)
	p := &Params{
		Seed:          c.Seed,
		Clock:         clock,
		Horizon:       clock.Ticks(orDefault(c.Horizon, 1000)),
		CoreBusyState: c.CoreBusyState,
	}
	if p.Horizon <= 0 {
		return nil, invalid("horizon must be positive, got %f", c.Horizon)
	}
	if p.CoreBusyState == "" {
		p.CoreBusyState = "CORE_BUSY"
	}
	if !trace.IsValidTraceLevel(c.TraceLevel) {
		return nil, invalid("unknown trace_level %q", c.TraceLevel)
	}
	p.TraceLevel = trace.TraceLevel(c.TraceLevel)
	if p.TraceLevel == "" {
		p.TraceLevel = trace.TraceLevelNone
	}

	if err := compileTopology(p, c.Topology); err != nil {
		return nil, err
	}
	if err := compileOpSpecs(p, c.OpSpecs); err != nil {
		return nil, err
	}
	if err := compileExclusions(p, c.Exclusions); err != nil {
		return nil, err
	}
	if err := compileObligations(p, c.Obligations); err != nil {
		return nil, err
	}
	if err := compilePolicy(p, c.Policy); err != nil {
		return nil, err
	}
	if err := compileAddressing(p, c.Addressing); err != nil {
		return nil, err
	}
	if err := compileScheduler(p, c.Scheduler); err != nil {
		return nil, err
	}
	if err := compileBootstrap(p, c.Bootstrap); err != nil {
		return nil, err
	}
	return p, nil
}

func compileTopology(p *Params, t TopologyConfig) error {
	if t.Dies <= 0 || t.Planes <= 0 || t.BlocksPerDie <= 0 || t.PagesPerBlock <= 0 {
		return invalid("topology dies, planes, blocks_per_die and pages_per_block must be positive, got %+v", t)
	}
	if t.BlocksPerDie < t.Planes {
		return invalid("topology.blocks_per_die (%d) must be >= planes (%d)", t.BlocksPerDie, t.Planes)
	}
	if !validInitialState[t.InitialState] {
		return invalid("unknown topology.initial_state %q; valid: erased, initial", t.InitialState)
	}
	p.Topology = Topology{
		Dies:          t.Dies,
		Planes:        t.Planes,
		BlocksPerDie:  t.BlocksPerDie,
		PagesPerBlock: t.PagesPerBlock,
		InitialErased: t.InitialState != "initial",
	}
	return nil
}

var defaultScopes = map[OpKind]Scope{
	KindRead: ScopePlaneSet, KindProgram: ScopePlaneSet, KindErase: ScopePlaneSet,
	KindDout: ScopePlaneSet, KindSR: ScopeNone,
}

func compileOpSpecs(p *Params, specs map[string]OpSpecConfig) error {
	p.OpSpecs = make(map[OpKind]OpSpec, len(AllKinds))
	for _, name := range sortedKeys(specs) {
		kind, err := ParseOpKind(name)
		if err != nil {
			return invalid("op_specs: %v", err)
		}
		sc := specs[name]
		scope := defaultScopes[kind]
		if sc.Scope != "" {
			if scope, err = ParseScope(sc.Scope); err != nil {
				return invalid("op_specs.%s: %v", name, err)
			}
		}
		if len(sc.States) == 0 {
			return invalid("op_specs.%s: at least one state required", name)
		}
		spec := OpSpec{Kind: kind, Scope: scope}
		seen := make(map[string]bool)
		for i, st := range sc.States {
			if st.Name == "" || st.Name == "*" || st.Name == "END" {
				return invalid("op_specs.%s.states[%d]: invalid state name %q", name, i, st.Name)
			}
			if seen[st.Name] {
				return invalid("op_specs.%s: duplicate state %q", name, st.Name)
			}
			seen[st.Name] = true
			sampler, err := NewDurationSampler(st.Duration)
			if err != nil {
				return invalid("op_specs.%s.states[%d].duration: %v", name, i, err)
			}
			spec.States = append(spec.States, StateSpec{Name: st.Name, Bus: st.Bus, Duration: sampler})
		}
		p.OpSpecs[kind] = spec
	}
	for _, kind := range AllKinds {
		if _, ok := p.OpSpecs[kind]; !ok {
			return invalid("op_specs: missing spec for %s", kind)
		}
	}
	return nil
}

// hasState reports whether kind declares the named state.
func (p *Params) hasState(kind OpKind, state string) bool {
	for _, st := range p.OpSpecs[kind].States {
		if st.Name == state {
			return true
		}
	}
	return false
}

func compileExclusions(p *Params, rules []ExclusionRuleConfig) error {
	for i, r := range rules {
		when, err := ParseToken(r.When)
		if err != nil {
			return invalid("exclusions[%d].when: %v", i, err)
		}
		if !validRuleScopes[r.Scope] {
			return invalid("exclusions[%d]: unknown scope %q; valid: die, global", i, r.Scope)
		}
		if len(r.States) == 0 {
			return invalid("exclusions[%d]: states must not be empty", i)
		}
		for _, st := range r.States {
			if st != "*" && !p.hasState(when.Kind, st) {
				return invalid("exclusions[%d]: %s has no state %q", i, when.Kind, st)
			}
		}
		if len(r.Blocks) == 0 {
			return invalid("exclusions[%d]: blocks must not be empty", i)
		}
		rule := ExclusionRule{When: when, States: append([]string(nil), r.States...), Global: r.Scope == "global"}
		for _, b := range r.Blocks {
			tok, err := ParseToken(b)
			if err != nil {
				return invalid("exclusions[%d].blocks: %v", i, err)
			}
			rule.Blocks = append(rule.Blocks, tok)
		}
		p.ExclusionRules = append(p.ExclusionRules, rule)
	}
	return nil
}

func compileObligations(p *Params, rules []ObligationRuleConfig) error {
	for i, r := range rules {
		issuer, err := ParseOpKind(r.Issuer)
		if err != nil {
			return invalid("obligations[%d].issuer: %v", i, err)
		}
		require, err := ParseOpKind(r.Require)
		if err != nil {
			return invalid("obligations[%d].require: %v", i, err)
		}
		window, err := NewDurationSampler(r.Window)
		if err != nil {
			return invalid("obligations[%d].window: %v", i, err)
		}
		if err := validateNonNegative("stagger", r.Stagger); err != nil {
			return invalid("obligations[%d]: %v", i, err)
		}
		p.ObligationRules = append(p.ObligationRules, ObligationRule{
			Issuer:   issuer,
			Require:  require,
			Window:   window,
			HardSlot: r.HardSlot,
			Skip:     r.SkipAdmission,
			Stagger:  p.Clock.Ticks(r.Stagger),
		})
	}
	return nil
}

func compilePolicy(p *Params, pc PolicyConfig) error {
	p.PhaseEnabled = pc.PhaseConditional.Enabled
	p.Phases = make(map[string]*PhaseDistribution, len(pc.PhaseConditional.Distributions))
	for _, key := range sortedKeys(pc.PhaseConditional.Distributions) {
		label, err := parseLabelKey(key)
		if err != nil {
			return invalid("policy.phase_conditional.distributions: %v", err)
		}
		if !label.Default && label.State != "" && label.State != "END" && !p.hasState(label.Token.Kind, label.State) {
			return invalid("policy.phase_conditional.distributions: %s has no state %q", label.Token.Kind, label.State)
		}
		dist, err := newPhaseDistribution(pc.PhaseConditional.Distributions[key])
		if err != nil {
			return invalid("policy.phase_conditional.distributions[%q]: %v", key, err)
		}
		p.Phases[label.String()] = dist
	}
	if p.PhaseEnabled && p.Phases["DEFAULT"] == nil {
		return invalid("policy.phase_conditional: a DEFAULT distribution is required when enabled")
	}

	p.FanoutDefaults = make(map[OpKind]FanoutSpec)
	for _, name := range sortedKeys(pc.Fanout.Defaults) {
		kind, err := ParseOpKind(name)
		if err != nil {
			return invalid("policy.fanout.defaults: %v", err)
		}
		fs := pc.Fanout.Defaults[name]
		if fs.Fanout < 1 {
			return invalid("policy.fanout.defaults.%s: fanout must be >= 1, got %d", name, fs.Fanout)
		}
		p.FanoutDefaults[kind] = fs
	}
	p.FanoutOverrides = make(map[string]FanoutSpec)
	for _, key := range sortedKeys(pc.Fanout.Overrides) {
		label, err := parseLabelKey(key)
		if err != nil {
			return invalid("policy.fanout.overrides: %v", err)
		}
		fs := pc.Fanout.Overrides[key]
		if fs.Fanout < 1 {
			return invalid("policy.fanout.overrides[%q]: fanout must be >= 1, got %d", key, fs.Fanout)
		}
		p.FanoutOverrides[label.String()] = fs
	}

	def := 10.0
	if pc.Admission.DefaultDelta != nil {
		def = *pc.Admission.DefaultDelta
	}
	if err := validateNonNegative("policy.admission.default_delta", def); err != nil {
		return invalid("%v", err)
	}
	p.AdmissionDefault = p.Clock.Ticks(def)
	p.AdmissionDeltas = make(map[OpKind]int64)
	for _, name := range sortedKeys(pc.Admission.Deltas) {
		kind, err := ParseOpKind(name)
		if err != nil {
			return invalid("policy.admission.deltas: %v", err)
		}
		if err := validateNonNegative("policy.admission.deltas."+name, pc.Admission.Deltas[name]); err != nil {
			return invalid("%v", err)
		}
		p.AdmissionDeltas[kind] = p.Clock.Ticks(pc.Admission.Deltas[name])
	}
	p.ObligationBypass = pc.Admission.ObligationBypass == nil || *pc.Admission.ObligationBypass

	p.Easing = pc.Easing.Enabled
	p.EasingMaxStartPlanes = pc.Easing.MaxStartPlanes
	if p.EasingMaxStartPlanes <= 0 || p.EasingMaxStartPlanes >= p.Topology.Planes {
		p.EasingMaxStartPlanes = p.Topology.Planes - 1
	}
	p.PlanRetries = pc.PlanRetries
	if p.PlanRetries <= 0 {
		p.PlanRetries = 8
	}
	p.PopScanLimit = pc.PopScanLimit
	if p.PopScanLimit <= 0 {
		p.PopScanLimit = 64
	}
	if err := validateFields("policy",
		namedValue{"obligation_horizon", pc.ObligationHorizon},
		namedValue{"requeue_delta", pc.RequeueDelta},
	); err != nil {
		return err
	}
	p.ObligationHorizon = p.Clock.Ticks(orDefault(pc.ObligationHorizon, 50))
	p.RequeueDelta = max(p.Clock.Ticks(orDefault(pc.RequeueDelta, 1)), 1)

	if !validAuditModes[pc.Audit] {
		return invalid("unknown policy.audit %q; valid: off, warn, fatal", pc.Audit)
	}
	p.Audit = AuditMode(pc.Audit)
	if p.Audit == "" {
		p.Audit = AuditWarn
	}
	return nil
}

func compileAddressing(p *Params, a AddressingConfig) error {
	if !validSearchOrders[a.SearchOrder] {
		return invalid("unknown addressing.search_order %q; valid: ascending, from_head", a.SearchOrder)
	}
	if !validOnProgram[a.OnProgram] {
		return invalid("unknown addressing.on_program %q; valid: stay, round_robin", a.OnProgram)
	}
	if !validOnErase[a.OnErase] {
		return invalid("unknown addressing.on_erase %q; valid: move, stay", a.OnErase)
	}
	if err := validateNonNegative("addressing.guard", a.Guard); err != nil {
		return invalid("%v", err)
	}
	p.Addressing = AddressingParams{
		SearchAscending: a.SearchOrder == "ascending",
		RoundRobin:      a.OnProgram == "round_robin",
		MoveOnErase:     a.OnErase != "stay",
		Guard:           p.Clock.Ticks(a.Guard),
		AllowFutureRead: a.AllowFutureRead,
	}
	return nil
}

type namedValue struct {
	name string
	val  float64
}

// validateFields checks fields in the order given and reports the first invalid one.
func validateFields(section string, fields ...namedValue) error {
	for _, f := range fields {
		if err := validateNonNegative(section+"."+f.name, f.val); err != nil {
			return invalid("%v", err)
		}
	}
	return nil
}

func compileScheduler(p *Params, s SchedulerConfig) error {
	if err := validateFields("scheduler",
		namedValue{"refill_period", s.RefillPeriod},
		namedValue{"hook_jitter", s.HookJitter},
		namedValue{"expire_margin", s.ExpireMargin},
	); err != nil {
		return err
	}
	p.RefillPeriod = max(p.Clock.Ticks(orDefault(s.RefillPeriod, 1)), 1)
	p.HookJitter = p.Clock.Ticks(s.HookJitter)
	p.ExpireMargin = p.Clock.Ticks(orDefault(s.ExpireMargin, 1))
	p.SuppressHooks = make(map[OpKind]bool)
	for _, name := range s.SuppressHooks {
		kind, err := ParseOpKind(name)
		if err != nil {
			return invalid("scheduler.suppress_hooks: %v", err)
		}
		p.SuppressHooks[kind] = true
	}
	return nil
}

func compileBootstrap(p *Params, b BootstrapConfig) error {
	p.Bootstrap = BootstrapParams{Enabled: b.Enabled}
	if !b.Enabled {
		return nil
	}
	perPlane := p.Topology.BlocksPerDie / p.Topology.Planes
	if b.BlocksPerPlane < 1 || b.BlocksPerPlane > perPlane {
		return invalid("bootstrap.blocks_per_plane must be in [1, %d], got %d", perPlane, b.BlocksPerPlane)
	}
	if b.Pages < 0 || b.Pages > p.Topology.PagesPerBlock {
		return invalid("bootstrap.pages must be in [0, %d], got %d", p.Topology.PagesPerBlock, b.Pages)
	}
	if err := validateNonNegative("bootstrap.start", b.Start); err != nil {
		return invalid("%v", err)
	}
	if err := validateNonNegative("bootstrap.spacing", b.Spacing); err != nil {
		return invalid("%v", err)
	}
	p.Bootstrap = BootstrapParams{
		Enabled:        true,
		BlocksPerPlane: b.BlocksPerPlane,
		Pages:          b.Pages,
		Read:           b.Read,
		Stripe:         b.Stripe,
		Start:          p.Clock.Ticks(b.Start),
		Spacing:        p.Clock.Ticks(orDefault(b.Spacing, 1)),
	}
	return nil
}

// AdmissionDelta returns the admission slack for a kind.
func (p *Params) AdmissionDelta(kind OpKind) int64 {
	if d, ok := p.AdmissionDeltas[kind]; ok {
		return d
	}
	return p.AdmissionDefault
}

// CheckOptions describes the configuration to the timeline validator.
func (p *Params) CheckOptions() check.Options {
	opts := check.Options{
		Planes:        p.Topology.Planes,
		InitialErased: p.Topology.InitialErased,
		CoreBusyState: p.CoreBusyState,
	}
	for _, r := range p.ExclusionRules {
		rule := check.Rule{When: r.When.String(), States: r.States, Global: r.Global}
		for _, b := range r.Blocks {
			rule.Blocks = append(rule.Blocks, b.String())
		}
		opts.Rules = append(opts.Rules, rule)
	}
	return opts
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
