// Package deviation bounds how far generated content may drift from the
// source narrative and derives the sampling temperature from that drift.
package deviation

import "math"

// Policy holds the clamp constants of the asymmetric ratchet: drift grows
// slowly but relaxes at full speed once it is high.
type Policy struct {
	Baseline float64 // starting deviation for new sessions

	LowBand  float64 // at or below: near-verbatim regime
	HighBand float64 // above: dampened growth regime

	LowClamp      float64 // max |delta| inside the low band
	MidClamp      float64 // max |delta| between the bands
	GrowthDamping float64 // multiplier on positive deltas above the high band

	MinTemperature float64
	MaxTemperature float64
}

func DefaultPolicy() Policy {
	return Policy{
		Baseline:       0.15,
		LowBand:        0.05,
		HighBand:       0.30,
		LowClamp:       0.02,
		MidClamp:       0.05,
		GrowthDamping:  0.5,
		MinTemperature: 0.3,
		MaxTemperature: 1.1,
	}
}

type Controller struct {
	policy Policy
}

func New(policy Policy) *Controller {
	return &Controller{policy: policy}
}

// Baseline seeds the deviation of a new session.
func (c *Controller) Baseline() float64 {
	return c.policy.Baseline
}

// Next applies the proposed delta to the current deviation after clamping
// it for the current band, and bounds the result to [0, 1].
func (c *Controller) Next(current, proposedDelta float64) float64 {
	applied := c.clampDelta(current, proposedDelta)
	return clamp01(current + applied)
}

// AppliedDelta reports the vetted delta a proposal reduces to at the
// current deviation, before the [0, 1] result bound.
func (c *Controller) AppliedDelta(current, proposedDelta float64) float64 {
	return c.clampDelta(current, proposedDelta)
}

func (c *Controller) clampDelta(current, delta float64) float64 {
	switch {
	case current <= c.policy.LowBand:
		return clampAbs(delta, c.policy.LowClamp)
	case current <= c.policy.HighBand:
		return clampAbs(delta, c.policy.MidClamp)
	default:
		// Above the high band drift may only creep upward, but any pull
		// back toward the source applies at full magnitude.
		if delta > 0 {
			return delta * c.policy.GrowthDamping
		}
		return delta
	}
}

// Temperature maps deviation linearly onto the configured range; it is
// monotonically increasing in deviation.
func (c *Controller) Temperature(deviation float64) float64 {
	d := clamp01(deviation)
	return c.policy.MinTemperature + d*(c.policy.MaxTemperature-c.policy.MinTemperature)
}

func clampAbs(v, limit float64) float64 {
	limit = math.Abs(limit)
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
