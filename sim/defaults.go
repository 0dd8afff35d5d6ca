package sim

// DefaultConfig returns the reference configuration shipped as examples/nand.yaml:
// one die of four planes with READ→DOUT obligations and the four standard
// exclusion rules.
func DefaultConfig() *Config {
	bypass := true
	delta := 10.0
	return &Config{
		Seed:           42,
		TimeResolution: 0.01,
		Horizon:        2000,
		TraceLevel:     "decisions",
		CoreBusyState:  "CORE_BUSY",
		Topology: TopologyConfig{
			Dies:          1,
			Planes:        4,
			BlocksPerDie:  8,
			PagesPerBlock: 100,
			InitialState:  "erased",
		},
		OpSpecs: map[string]OpSpecConfig{
			"READ": {Scope: "plane_set", States: []StateConfig{
				{Name: "ISSUE", Bus: true, Duration: Fixed(0.4)},
				{Name: "CORE_BUSY", Duration: Normal(8, 0.5, 6)},
			}},
			"PROGRAM": {Scope: "plane_set", States: []StateConfig{
				{Name: "ISSUE", Bus: true, Duration: Fixed(0.6)},
				{Name: "CORE_BUSY", Duration: Normal(40, 2, 30)},
			}},
			"ERASE": {Scope: "plane_set", States: []StateConfig{
				{Name: "ISSUE", Bus: true, Duration: Fixed(0.4)},
				{Name: "CORE_BUSY", Duration: Normal(100, 5, 80)},
			}},
			"DOUT": {Scope: "plane_set", States: []StateConfig{
				{Name: "ISSUE", Bus: true, Duration: Fixed(0.3)},
				{Name: "DATA_OUT", Bus: true, Duration: Fixed(2)},
			}},
			"SR": {Scope: "none", States: []StateConfig{
				{Name: "ISSUE", Bus: true, Duration: Fixed(0.2)},
				{Name: "DATA_OUT", Bus: true, Duration: Exponential(0.1)},
			}},
		},
		Exclusions: []ExclusionRuleConfig{
			{When: "PROGRAM", States: []string{"CORE_BUSY"}, Scope: "die", Blocks: []string{"READ", "PROGRAM", "ERASE"}},
			{When: "ERASE", States: []string{"CORE_BUSY"}, Scope: "die", Blocks: []string{"READ", "PROGRAM", "ERASE"}},
			{When: "MUL_READ", States: []string{"*"}, Scope: "die", Blocks: []string{"READ", "PROGRAM", "ERASE"}},
			{When: "SIN_READ", States: []string{"*"}, Scope: "die", Blocks: []string{"MUL_READ", "PROGRAM", "ERASE"}},
			{When: "DOUT", States: []string{"ISSUE"}, Scope: "die", Blocks: []string{"READ", "PROGRAM", "ERASE"}},
		},
		Obligations: []ObligationRuleConfig{
			{Issuer: "READ", Require: "DOUT", Window: Fixed(20), Stagger: 0.1},
		},
		Policy: PolicyConfig{
			PhaseConditional: PhaseConditionalConfig{
				Enabled: true,
				Distributions: map[string]map[string]float64{
					"DEFAULT": {
						"SIN_READ": 0.25, "MUL_READ": 0.1, "SIN_PROGRAM": 0.25, "MUL_PROGRAM": 0.1,
						"ERASE": 0.05, "SR": 0.05, "NOP": 0.2,
					},
					"PROGRAM.CORE_BUSY": {"SR": 0.3, "NOP": 0.7},
					"ERASE.CORE_BUSY":   {"SR": 0.3, "NOP": 0.7},
					"READ.CORE_BUSY":    {"SIN_READ": 0.4, "SR": 0.1, "NOP": 0.5},
				},
			},
			Fanout: FanoutConfig{
				Defaults: map[string]FanoutSpec{
					"READ":    {Fanout: 2, Interleave: true},
					"PROGRAM": {Fanout: 2, Interleave: false},
					"ERASE":   {Fanout: 1},
					"SR":      {Fanout: 1},
				},
				Overrides: map[string]FanoutSpec{
					"MUL_READ.CORE_BUSY": {Fanout: 4, Interleave: true},
				},
			},
			Admission: AdmissionConfig{
				DefaultDelta:     &delta,
				Deltas:           map[string]float64{"READ": 5, "SR": 2},
				ObligationBypass: &bypass,
			},
			Easing:            EasingConfig{Enabled: true, MaxStartPlanes: 3},
			PlanRetries:       8,
			ObligationHorizon: 50,
			RequeueDelta:      1,
			PopScanLimit:      64,
			Audit:             "warn",
		},
		Addressing: AddressingConfig{
			SearchOrder: "from_head",
			OnProgram:   "stay",
			OnErase:     "move",
		},
		Scheduler: SchedulerConfig{
			RefillPeriod:  1,
			HookJitter:    0.05,
			SuppressHooks: []string{"SR"},
			ExpireMargin:  1,
		},
	}
}
