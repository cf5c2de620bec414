// Package reliability implements the Reliability Supervisor: the sole
// writer of the reliability score on any outgoing response. Score is a
// single pure function with no fields and no side effects, directly
// testable as a table of (input, expected score) pairs, per spec.md §8.
package reliability

import (
	"strings"

	"github.com/jjgarcianorway/anna/internal/protocol"
)

// baseScores implements spec.md §4.6 step 1.
var baseScores = map[protocol.Outcome]int{
	protocol.OutcomeDeterministic: 85,
	protocol.OutcomeVerified:      80,
	protocol.OutcomeClarification: 60,
	protocol.OutcomeFailed:        30,
	protocol.OutcomeTimeout:       20,
}

// Score computes the deterministic, integer, saturating score defined in
// spec.md §4.6, plus a short human-readable explanation enumerating the
// failing signals. It is a pure function: calling it twice with the same
// arguments always returns the same result.
//
// Per spec.md §7, an empty answer caps the score at 40 and an invention
// flag caps it at 45, regardless of how favorably the other signals read.
func Score(outcome protocol.Outcome, signals protocol.ReliabilitySignals, summary protocol.EvidenceSummary, answer string) (int, string) {
	score := baseScores[outcome]

	var failing []string

	if !signals.NoInvention {
		score -= 40
		failing = append(failing, "answer may contain unverified claims")
	}

	if signals.AnswerGrounded {
		score += 5
	} else if summary.ProbesPlanned >= 1 {
		score -= 10
		failing = append(failing, "answer is not traceable to probe evidence")
	}

	if signals.ProbeCoverage {
		score += 5
	} else {
		failing = append(failing, "not every requested probe succeeded")
	}

	if signals.TranslatorConfident {
		score += 5
	} else {
		failing = append(failing, "translator was not confident")
	}

	if !signals.ClarificationNotNeeded {
		if score > 70 {
			score = 70
		}
		failing = append(failing, "a clarification was needed")
	}

	if answer == "" && score > 40 {
		score = 40
	}
	if !signals.NoInvention && score > 45 {
		score = 45
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	explanation := "all signals nominal"
	if len(failing) > 0 {
		explanation = "degraded: " + strings.Join(failing, "; ")
	}
	return score, explanation
}
