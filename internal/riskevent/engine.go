package riskevent

// Default policy thresholds. Scores run 0–100.
const (
	DefaultHoldThreshold = 60.0
	MaxScore             = 100.0
)

// Policy maps a risk score to the initial decision at creation time. It is
// the single source of truth for the engine-driven transition; everything
// after creation is operator-driven.
type Policy struct {
	holdThreshold float64
}

// NewPolicy creates a policy with the default hold threshold.
func NewPolicy() *Policy {
	return &Policy{holdThreshold: DefaultHoldThreshold}
}

// WithHoldThreshold overrides the hold threshold.
func (p *Policy) WithHoldThreshold(t float64) *Policy {
	p.holdThreshold = t
	return p
}

// HoldThreshold returns the configured hold threshold.
func (p *Policy) HoldThreshold() float64 {
	return p.holdThreshold
}

// Decide computes the initial decision for a score. A score at the
// threshold resolves toward hold, the higher-scrutiny outcome.
func (p *Policy) Decide(score float64) Decision {
	if score >= p.holdThreshold {
		return DecisionHold
	}
	return DecisionPosted
}
