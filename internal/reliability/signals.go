package reliability

import (
	"regexp"
	"strings"

	"github.com/jjgarcianorway/anna/internal/protocol"
)

// numericTokenRE finds tokens containing at least one digit, used to pick
// out the numeric claims in an answer's [DETAILS] section.
var numericTokenRE = regexp.MustCompile(`[A-Za-z0-9/_.%:-]*\d[A-Za-z0-9/_.%:-]*`)

// identifierTokenRE finds tokens shaped like system identifiers: mount
// points and device nodes (/dev/sda1, /), unit names (foo.service),
// IPv4 addresses, and bare process-name-like words.
var identifierTokenRE = regexp.MustCompile(`/[A-Za-z0-9/_.-]*|[A-Za-z0-9_-]+\.service|\b\d{1,3}(?:\.\d{1,3}){3}\b`)

// Signals is the Reliability Supervisor's input for DeriveSignals: the
// translator's own confidence/timeout status plus the probe coverage the
// Dispatcher observed.
type Signals struct {
	TranslatorTimedOut bool
	TranslatorConfidence float64
	ProbesPlanned       int
	ProbesSucceeded     int
	ProbesExecuted      int
	Answer              string
	ClarificationAsked  bool
	Evidence            []protocol.ProbeResult
	HardwareSummary     string
}

// DeriveSignals computes the five-bit signal vector defined in spec.md
// §4.6, the only place any component computes it.
func DeriveSignals(s Signals) protocol.ReliabilitySignals {
	corpus := buildCorpus(s.Evidence, s.HardwareSummary)

	return protocol.ReliabilitySignals{
		TranslatorConfident:    !s.TranslatorTimedOut && s.TranslatorConfidence >= 0.7,
		ProbeCoverage:          s.ProbesPlanned == 0 || s.ProbesSucceeded == s.ProbesPlanned,
		AnswerGrounded:         answerGrounded(s.Answer, corpus),
		NoInvention:            noInvention(s.Answer, corpus),
		ClarificationNotNeeded: s.Answer != "" && !s.ClarificationAsked,
	}
}

func buildCorpus(evidence []protocol.ProbeResult, hardwareSummary string) string {
	var b strings.Builder
	for _, p := range evidence {
		b.WriteString(p.Stdout)
		b.WriteString("\n")
	}
	b.WriteString(hardwareSummary)
	return b.String()
}

// detailsSection extracts the text between [DETAILS] and [COMMANDS] from
// an answer formatted in the canonical three-section shape. If the answer
// does not use that shape, the whole answer is treated as the details
// section.
func detailsSection(answer string) string {
	start := strings.Index(answer, "[DETAILS]")
	if start < 0 {
		return answer
	}
	rest := answer[start+len("[DETAILS]"):]
	if end := strings.Index(rest, "[COMMANDS]"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// answerGrounded implements spec.md §4.6's structural check: every
// numeric claim in [DETAILS] must be string-contained in the evidence
// corpus.
func answerGrounded(answer, corpus string) bool {
	details := detailsSection(answer)
	tokens := numericTokenRE.FindAllString(details, -1)
	if len(tokens) == 0 {
		return true
	}
	for _, tok := range tokens {
		if !strings.Contains(corpus, tok) {
			return false
		}
	}
	return true
}

// noInvention implements spec.md §4.6's "no token that looks like a
// system identifier absent from the evidence" check.
func noInvention(answer, corpus string) bool {
	tokens := identifierTokenRE.FindAllString(answer, -1)
	for _, tok := range tokens {
		if strings.TrimSpace(tok) == "" || tok == "/" {
			continue
		}
		if !strings.Contains(corpus, tok) {
			return false
		}
	}
	return true
}
