package trace

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TraceSummary aggregates statistics from operation records and a SimulationTrace.
// Latencies and slacks are in ticks.
type TraceSummary struct {
	TotalOps        int
	OpsByToken      map[string]int
	MultiPlaneOps   int
	ObligationOps   int
	MeanLatency     float64
	P50Latency      float64
	P99Latency      float64
	FollowUps       int     // ops whose issuer appears in the records
	MeanFollowUpGap float64 // start of follow-up minus end of issuer
	MaxFollowUpGap  float64

	TotalRejections    int
	RejectionsByStage  map[string]int
	TotalDefers        int
	TotalExpiries      int
	ExpiredObligations int
}

// Summarize computes aggregate statistics.
// Safe for nil or empty inputs (returns zero-value fields).
func Summarize(records []OperationRecord, st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		OpsByToken:        make(map[string]int),
		RejectionsByStage: make(map[string]int),
	}

	ends := make(map[int64]int64, len(records))
	latencies := make([]float64, 0, len(records))
	for _, r := range records {
		summary.TotalOps++
		summary.OpsByToken[r.Token]++
		if r.Arity > 1 {
			summary.MultiPlaneOps++
		}
		if r.Source == "obligation" {
			summary.ObligationOps++
		}
		latencies = append(latencies, float64(r.EndTick-r.StartTick))
		ends[r.ID] = r.EndTick
	}
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		summary.MeanLatency = stat.Mean(latencies, nil)
		summary.P50Latency = stat.Quantile(0.5, stat.Empirical, latencies, nil)
		summary.P99Latency = stat.Quantile(0.99, stat.Empirical, latencies, nil)
	}

	var gaps []float64
	for _, r := range records {
		if end, ok := ends[r.IssuerID]; ok && r.IssuerID != 0 {
			gap := float64(r.StartTick - end)
			gaps = append(gaps, gap)
			if gap > summary.MaxFollowUpGap {
				summary.MaxFollowUpGap = gap
			}
		}
	}
	summary.FollowUps = len(gaps)
	if len(gaps) > 0 {
		summary.MeanFollowUpGap = stat.Mean(gaps, nil)
	}

	if st == nil {
		return summary
	}
	summary.TotalRejections = len(st.Rejections)
	for _, r := range st.Rejections {
		summary.RejectionsByStage[r.Stage]++
	}
	summary.TotalDefers = len(st.Defers)
	summary.TotalExpiries = len(st.Expiries)
	for _, e := range st.Expiries {
		summary.ExpiredObligations += e.Count
	}
	return summary
}
