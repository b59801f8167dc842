// Package scoring decides whether a submitted answer is correct and how many points it earns.
package scoring

import (
	"strings"

	"multiplayer-quiz-service/internal/domain"
)

const (
	// DefaultFixedPoints is awarded per correct answer under the fixed policy.
	DefaultFixedPoints = 100
	// DefaultTimeMultiplier is the per-remaining-second award under the time-weighted policy.
	DefaultTimeMultiplier = 10
)

// Values are the point constants a session is scored with.
type Values struct {
	Fixed      int
	Multiplier int
}

// DefaultValues returns the stock point values.
func DefaultValues() Values {
	return Values{Fixed: DefaultFixedPoints, Multiplier: DefaultTimeMultiplier}
}

// Evaluate reports whether text answers q. MCQ answers must match the option exactly;
// identification answers ignore case and surrounding whitespace.
func Evaluate(q domain.Question, text string, mode domain.Mode) bool {
	switch mode {
	case domain.ModeIdentification:
		return strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(q.CorrectAnswer))
	default:
		return text == q.CorrectAnswer
	}
}

// Points converts a verdict into a point delta.
func Points(policy domain.ScoringPolicy, correct bool, remainingSeconds, fixedValue, maxValue int) int {
	if !correct {
		return 0
	}
	switch policy {
	case domain.PolicyTimeWeighted:
		if remainingSeconds <= 0 {
			return 0
		}
		return remainingSeconds * maxValue
	default:
		return fixedValue
	}
}

// Verdict is the outcome of scoring one submission.
type Verdict struct {
	Correct   bool
	TimedOut  bool
	Remaining int
	Points    int
}

// Score evaluates a submission end to end. Remaining time is clamped to [0, budget] and an
// answer with no time left counts as a timeout, which is never correct.
func Score(q domain.Question, s domain.Session, text string, remainingSeconds int, values Values) Verdict {
	remaining := clamp(remainingSeconds, 0, s.TimeBudget)
	if remaining == 0 {
		return Verdict{TimedOut: true}
	}
	correct := Evaluate(q, text, s.Mode)
	return Verdict{
		Correct:   correct,
		Remaining: remaining,
		Points:    Points(s.Policy, correct, remaining, values.Fixed, values.Multiplier),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
