package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// DistSpec parameterizes a duration distribution in time units.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// DurationSampler draws durations in time units.
type DurationSampler interface {
	// Sample returns a non-negative duration.
	Sample(rng *rand.Rand) float64
}

// FixedSampler always returns the same duration.
type FixedSampler struct {
	value float64
}

func (s *FixedSampler) Sample(_ *rand.Rand) float64 {
	return s.value
}

// NormalSampler draws from a normal distribution clamped below at floor.
type NormalSampler struct {
	mean, stdDev float64
	floor        float64
}

func (s *NormalSampler) Sample(rng *rand.Rand) float64 {
	if s.stdDev == 0 {
		return math.Max(s.floor, s.mean)
	}
	return math.Max(s.floor, rng.NormFloat64()*s.stdDev+s.mean)
}

// ExponentialSampler draws exponentially distributed durations.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) float64 {
	return rng.ExpFloat64() * s.mean
}

var validDistTypes = map[string]bool{"fixed": true, "normal": true, "exponential": true}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

func validateNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val < 0 {
		return fmt.Errorf("%s must be non-negative, got %f", name, val)
	}
	return nil
}

// NewDurationSampler creates a DurationSampler from a DistSpec.
func NewDurationSampler(spec DistSpec) (DurationSampler, error) {
	if !validDistTypes[spec.Type] {
		return nil, fmt.Errorf("unknown distribution type %q; valid: fixed, normal, exponential", spec.Type)
	}
	for name, val := range spec.Params {
		if err := validateNonNegative("params."+name, val); err != nil {
			return nil, err
		}
	}
	switch spec.Type {
	case "fixed":
		if err := requireParam(spec.Params, "value"); err != nil {
			return nil, err
		}
		return &FixedSampler{value: spec.Params["value"]}, nil

	case "normal":
		if err := requireParam(spec.Params, "mean", "std_dev"); err != nil {
			return nil, err
		}
		// "min" is optional; the floor defaults to zero so durations stay non-negative.
		return &NormalSampler{
			mean:   spec.Params["mean"],
			stdDev: spec.Params["std_dev"],
			floor:  spec.Params["min"],
		}, nil

	default: // exponential
		if err := requireParam(spec.Params, "mean"); err != nil {
			return nil, err
		}
		if spec.Params["mean"] == 0 {
			return nil, fmt.Errorf("exponential mean must be positive")
		}
		return &ExponentialSampler{mean: spec.Params["mean"]}, nil
	}
}

// Fixed is shorthand for a fixed-duration DistSpec.
func Fixed(value float64) DistSpec {
	return DistSpec{Type: "fixed", Params: map[string]float64{"value": value}}
}

// Normal is shorthand for a floored normal DistSpec.
func Normal(mean, stdDev, floor float64) DistSpec {
	return DistSpec{Type: "normal", Params: map[string]float64{"mean": mean, "std_dev": stdDev, "min": floor}}
}

// Exponential is shorthand for an exponential DistSpec.
func Exponential(mean float64) DistSpec {
	return DistSpec{Type: "exponential", Params: map[string]float64{"mean": mean}}
}
