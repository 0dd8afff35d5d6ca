package sim

import "math"

// Clock converts between configuration time units and integer ticks.
// Every interval comparison in the scheduler happens on ticks, so sampled
// float durations are rounded exactly once, when they enter the simulation.
type Clock struct {
	Resolution float64 // time units per tick (must be > 0)
}

// NewClock creates a Clock with the given resolution.
func NewClock(resolution float64) Clock {
	return Clock{Resolution: resolution}
}

// Ticks quantizes a duration or timestamp in time units onto the tick grid.
func (c Clock) Ticks(units float64) int64 {
	return int64(math.Round(units / c.Resolution))
}

// Units converts ticks back into time units.
func (c Clock) Units(ticks int64) float64 {
	return float64(ticks) * c.Resolution
}

// Quantize rounds a time-unit value to the nearest representable tick.
func (c Clock) Quantize(units float64) float64 {
	return c.Units(c.Ticks(units))
}
