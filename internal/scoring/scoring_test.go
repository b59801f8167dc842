package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"multiplayer-quiz-service/internal/domain"
)

func TestEvaluateIdentificationIgnoresCaseAndSpace(t *testing.T) {
	q := domain.Question{CorrectAnswer: "mitochondria", Mode: domain.ModeIdentification}

	for _, answer := range []string{"Mitochondria", " mitochondria ", "MITOCHONDRIA", "\tmitochondria\n"} {
		assert.True(t, Evaluate(q, answer, domain.ModeIdentification), "answer %q", answer)
	}
	assert.False(t, Evaluate(q, "mitochondrion", domain.ModeIdentification))
	assert.False(t, Evaluate(q, "", domain.ModeIdentification))
}

func TestEvaluateMCQIsExact(t *testing.T) {
	q := domain.Question{CorrectAnswer: "Paris", Options: []string{"Paris", "Rome"}, Mode: domain.ModeMCQ}

	assert.True(t, Evaluate(q, "Paris", domain.ModeMCQ))
	assert.False(t, Evaluate(q, "Paris ", domain.ModeMCQ))
	assert.False(t, Evaluate(q, "paris", domain.ModeMCQ))
}

func TestPoints(t *testing.T) {
	tests := []struct {
		name      string
		policy    domain.ScoringPolicy
		correct   bool
		remaining int
		want      int
	}{
		{"fixed correct", domain.PolicyFixed, true, 5, 100},
		{"fixed wrong", domain.PolicyFixed, false, 5, 0},
		{"weighted correct", domain.PolicyTimeWeighted, true, 5, 50},
		{"weighted eight seconds", domain.PolicyTimeWeighted, true, 8, 80},
		{"weighted at deadline", domain.PolicyTimeWeighted, true, 0, 0},
		{"weighted wrong", domain.PolicyTimeWeighted, false, 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Points(tt.policy, tt.correct, tt.remaining, 100, 10))
		})
	}
}

func TestScoreTimeoutAndClamp(t *testing.T) {
	q := domain.Question{CorrectAnswer: "4"}
	session := domain.Session{Mode: domain.ModeMCQ, Policy: domain.PolicyTimeWeighted, TimeBudget: 20}

	v := Score(q, session, "4", 0, DefaultValues())
	assert.True(t, v.TimedOut)
	assert.False(t, v.Correct)
	assert.Zero(t, v.Points)

	v = Score(q, session, "4", 500, DefaultValues())
	assert.True(t, v.Correct)
	assert.Equal(t, 20, v.Remaining)
	assert.Equal(t, 200, v.Points)

	session.Policy = domain.PolicyFixed
	v = Score(q, session, "4", 5, DefaultValues())
	assert.Equal(t, Verdict{Correct: true, Remaining: 5, Points: 100}, v)
}
