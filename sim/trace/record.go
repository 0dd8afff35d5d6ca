// Package trace provides operation records and decision diagnostics for a run.
// This package has no dependencies on sim/; it stores pure data types, so
// validators and exporters can consume records without the scheduler.
package trace

// TargetRecord is one addressed location of an operation.
// Page is -1 for targets that do not address a page (ERASE, SR).
type TargetRecord struct {
	Die   int `json:"die" yaml:"die"`
	Plane int `json:"plane" yaml:"plane"`
	Block int `json:"block" yaml:"block"`
	Page  int `json:"page" yaml:"page"`
}

// SegmentRecord is one sub-phase of an operation at absolute time.
type SegmentRecord struct {
	Name      string `json:"name" yaml:"name"`
	Bus       bool   `json:"bus" yaml:"bus"`
	StartTick int64  `json:"start_tick" yaml:"start_tick"`
	EndTick   int64  `json:"end_tick" yaml:"end_tick"`
}

// OperationRecord is a scheduled operation as emitted to collaborators.
// Records are ordered by (start, id).
type OperationRecord struct {
	ID           int64           `json:"id" yaml:"id"`
	Kind         string          `json:"kind" yaml:"kind"`
	Token        string          `json:"token" yaml:"token"` // SIN_READ, MUL_PROGRAM, ...
	Arity        int             `json:"arity" yaml:"arity"`
	Scope        string          `json:"scope" yaml:"scope"`
	Provenance   string          `json:"provenance" yaml:"provenance"`
	Source       string          `json:"source" yaml:"source"`
	ObligationID int64           `json:"obligation_id,omitempty" yaml:"obligation_id,omitempty"`
	IssuerID     int64           `json:"issuer_id,omitempty" yaml:"issuer_id,omitempty"`
	Start        float64         `json:"start" yaml:"start"`
	End          float64         `json:"end" yaml:"end"`
	StartTick    int64           `json:"start_tick" yaml:"start_tick"`
	EndTick      int64           `json:"end_tick" yaml:"end_tick"`
	Targets      []TargetRecord  `json:"targets" yaml:"targets"`
	Segments     []SegmentRecord `json:"segments" yaml:"segments"`
}

// RejectionRecord captures a proposal that failed a gate.
type RejectionRecord struct {
	Clock  int64  `json:"clock" yaml:"clock"`
	Die    int    `json:"die" yaml:"die"`
	Plane  int    `json:"plane" yaml:"plane"`
	Label  string `json:"label" yaml:"label"`
	Source string `json:"source" yaml:"source"`
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`
	Stage  string `json:"stage" yaml:"stage"` // fanout, plan, deadline, admission, precheck, bus, latch, exclusion, failsafe
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// DeferRecord captures an obligation pushed back with a later deadline.
type DeferRecord struct {
	Clock        int64  `json:"clock" yaml:"clock"`
	ObligationID int64  `json:"obligation_id" yaml:"obligation_id"`
	Require      string `json:"require" yaml:"require"`
	Stage        string `json:"stage" yaml:"stage"`
	Deadline     int64  `json:"deadline" yaml:"deadline"`
	Requeues     int    `json:"requeues" yaml:"requeues"`
}

// ExpiryRecord captures a uniform deadline extension of all pending obligations.
type ExpiryRecord struct {
	Clock int64 `json:"clock" yaml:"clock"`
	Count int   `json:"count" yaml:"count"`
	Shift int64 `json:"shift" yaml:"shift"`
}
