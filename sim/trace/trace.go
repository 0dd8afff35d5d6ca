package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures rejections, soft-defers and expiries.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records during a run.
type SimulationTrace struct {
	Config     TraceConfig
	Rejections []RejectionRecord
	Defers     []DeferRecord
	Expiries   []ExpiryRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:     config,
		Rejections: make([]RejectionRecord, 0),
		Defers:     make([]DeferRecord, 0),
		Expiries:   make([]ExpiryRecord, 0),
	}
}

// Enabled reports whether decisions are being recorded. Safe on nil.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelDecisions
}

// RecordRejection appends a rejection record.
func (st *SimulationTrace) RecordRejection(record RejectionRecord) {
	st.Rejections = append(st.Rejections, record)
}

// RecordDefer appends a soft-defer record.
func (st *SimulationTrace) RecordDefer(record DeferRecord) {
	st.Defers = append(st.Defers, record)
}

// RecordExpiry appends an expiry record.
func (st *SimulationTrace) RecordExpiry(record ExpiryRecord) {
	st.Expiries = append(st.Expiries, record)
}
