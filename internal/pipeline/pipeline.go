// Package pipeline wires the seven Service-Desk Pipeline components
// (Translator, Dispatcher, Specialist Synthesizer, Mutation Engine,
// Reliability Supervisor, Audit Log) into the single entry point
// internal/rpcserver calls for every request, generalizing the teacher's
// per-subprocess request/response loop to an in-process call graph.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jjgarcianorway/anna/internal/audit"
	"github.com/jjgarcianorway/anna/internal/clock"
	"github.com/jjgarcianorway/anna/internal/dispatcher"
	"github.com/jjgarcianorway/anna/internal/mutation"
	"github.com/jjgarcianorway/anna/internal/protocol"
	"github.com/jjgarcianorway/anna/internal/reliability"
	"github.com/jjgarcianorway/anna/internal/specialist"
	"github.com/jjgarcianorway/anna/internal/translator"
)

// DefaultTotalTimeout bounds one request end to end, per spec.md §6
// (total_request_timeout_secs=60).
const DefaultTotalTimeout = 60 * time.Second

// maxRecentScores bounds the ring buffer status() averages over.
const maxRecentScores = 50

// Pipeline orchestrates one request through every pipeline stage.
type Pipeline struct {
	Translator   *translator.Translator
	Dispatcher   *dispatcher.Dispatcher
	Synthesizer  *specialist.Synthesizer
	Mutation     *mutation.Engine
	Audit        *audit.Logs
	Clock        clock.Clock
	TotalTimeout time.Duration

	mu        sync.Mutex
	inFlight  map[string]context.CancelFunc
	startedAt time.Time

	scoresMu sync.Mutex
	scores   []int
}

// New builds a Pipeline from its component dependencies.
func New(t *translator.Translator, d *dispatcher.Dispatcher, s *specialist.Synthesizer, m *mutation.Engine, al *audit.Logs, c clock.Clock) *Pipeline {
	if c == nil {
		c = clock.System{}
	}
	return &Pipeline{
		Translator:   t,
		Dispatcher:   d,
		Synthesizer:  s,
		Mutation:     m,
		Audit:        al,
		Clock:        c,
		TotalTimeout: DefaultTotalTimeout,
		inFlight:     make(map[string]context.CancelFunc),
		startedAt:    c.Now(),
	}
}

// Handle dispatches one decoded Request to the matching method and
// returns a Response ready to be framed back to the caller.
func (p *Pipeline) Handle(ctx context.Context, req protocol.Request) protocol.Response {
	switch req.Method {
	case protocol.MethodAsk:
		return p.handleAsk(ctx, req)
	case protocol.MethodConfirm:
		return p.handleConfirm(ctx, req)
	case protocol.MethodCancel:
		return p.handleCancel(req)
	case protocol.MethodStatus:
		return p.handleStatus(req)
	default:
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidRequest, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (p *Pipeline) handleAsk(ctx context.Context, req protocol.Request) protocol.Response {
	var params protocol.AskParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidRequest, "malformed ask params: "+err.Error())
	}

	result, err := p.Ask(ctx, req.ID, params.Utterance)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return protocol.NewErrorResponse(req.ID, protocol.ErrCodeTimeout, err.Error())
		}
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, err.Error())
	}

	resp, err := protocol.NewResultResponse(req.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, err.Error())
	}
	return resp
}

func (p *Pipeline) handleConfirm(ctx context.Context, req protocol.Request) protocol.Response {
	var params protocol.ConfirmParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidRequest, "malformed confirm params: "+err.Error())
	}

	result, err := p.Confirm(ctx, req.ID, params.PlanID, params.Phrase)
	if err != nil {
		return mapConfirmError(req.ID, err)
	}

	resp, err := protocol.NewResultResponse(req.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, err.Error())
	}
	return resp
}

func (p *Pipeline) handleCancel(req protocol.Request) protocol.Response {
	var params protocol.CancelParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidRequest, "malformed cancel params: "+err.Error())
	}
	cancelled := p.Cancel(params.RequestID)
	resp, err := protocol.NewResultResponse(req.ID, protocol.CancelResult{Cancelled: cancelled})
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, err.Error())
	}
	return resp
}

func (p *Pipeline) handleStatus(req protocol.Request) protocol.Response {
	resp, err := protocol.NewResultResponse(req.ID, p.Status())
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, err.Error())
	}
	return resp
}

func mapConfirmError(id string, err error) protocol.Response {
	switch {
	case errors.Is(err, mutation.ErrPhraseMismatch):
		return protocol.NewErrorResponse(id, protocol.ErrCodePhraseMismatch, err.Error())
	case errors.Is(err, mutation.ErrPlanExpired):
		return protocol.NewErrorResponse(id, protocol.ErrCodePlanExpired, err.Error())
	case errors.Is(err, mutation.ErrPreflightFailed):
		return protocol.NewErrorResponse(id, protocol.ErrCodePreflightFailed, err.Error())
	case errors.Is(err, mutation.ErrVerificationFail):
		return protocol.NewErrorResponse(id, protocol.ErrCodeVerificationFailed, err.Error())
	default:
		return protocol.NewErrorResponse(id, protocol.ErrCodeInternal, err.Error())
	}
}

// Ask runs one utterance through Translate -> Dispatch -> Synthesize ->
// Score, proposing a Change Plan (never executing it) when the
// synthesizer returns one, and records the outcome to the Case File log.
func (p *Pipeline) Ask(ctx context.Context, requestID, utterance string) (protocol.AskResult, error) {
	timeout := p.TotalTimeout
	if timeout <= 0 {
		timeout = DefaultTotalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	p.register(requestID, cancel)
	defer p.unregister(requestID)
	defer cancel()

	ticket := p.Translator.Translate(ctx, utterance)

	var (
		probes      []protocol.ProbeResult
		dispSummary dispatcher.Summary
		answer      string
		plan        *protocol.ChangePlan
		usedHardware, usedLLM bool
		grounding   string
	)

	if !ticket.NeedsClarification() {
		probes, dispSummary = p.Dispatcher.Run(ctx, ticket.NeedsProbes)
		synthResult := p.Synthesizer.Synthesize(ctx, ticket, probes)
		answer = synthResult.Answer
		usedHardware = synthResult.UsedHardware
		usedLLM = synthResult.UsedLLM
		grounding = synthResult.Grounding

		if synthResult.Plan != nil && p.Mutation != nil {
			proposed := p.Mutation.Propose(*synthResult.Plan)
			plan = &proposed
		} else {
			plan = synthResult.Plan
		}
	}

	outcome := classifyOutcome(ctx, ticket, answer, usedLLM)

	signals := reliability.DeriveSignals(reliability.Signals{
		TranslatorConfidence: ticket.Confidence,
		ProbesPlanned:        dispSummary.Planned,
		ProbesSucceeded:      dispSummary.Succeeded,
		ProbesExecuted:       dispSummary.Executed,
		Answer:               answer,
		ClarificationAsked:   ticket.NeedsClarification(),
		Evidence:             probes,
		HardwareSummary:      grounding,
	})

	evSummary := protocol.EvidenceSummary{
		ProbesPlanned:        dispSummary.Planned,
		ProbesSucceeded:      dispSummary.Succeeded,
		HardwareSummaryUsed:  usedHardware,
		TranslatorUsed:       true,
		TranslatorConfidence: ticket.Confidence,
	}

	score, _ := reliability.Score(outcome, signals, evSummary, answer)
	p.recordScore(score)

	if p.Audit != nil {
		_ = p.Audit.WriteCase(protocol.CaseFile{
			RequestID: requestID,
			Utterance: utterance,
			Ticket:    ticket,
			Evidence:  protocol.EvidenceBundle{Ticket: ticket, ProbeResults: probes},
			Answer:    answer,
			Score:     score,
			Outcome:   outcome,
			RecordedAt: p.Clock.Now(),
		})
	}

	return protocol.AskResult{
		Answer:          answer,
		Score:           score,
		Signals:         signals,
		EvidenceSummary: evSummary,
		ProposedPlan:    plan,
	}, ctx.Err()
}

func classifyOutcome(ctx context.Context, ticket protocol.Ticket, answer string, usedLLM bool) protocol.Outcome {
	switch {
	case ctx.Err() != nil:
		return protocol.OutcomeTimeout
	case ticket.NeedsClarification():
		return protocol.OutcomeClarification
	case answer == "":
		return protocol.OutcomeClarification
	case usedLLM:
		return protocol.OutcomeVerified
	default:
		return protocol.OutcomeDeterministic
	}
}

// Confirm drives the Mutation Engine's Confirm for planID and records the
// outcome to the mutations log regardless of success.
func (p *Pipeline) Confirm(ctx context.Context, requestID, planID, phrase string) (protocol.ConfirmResult, error) {
	if p.Mutation == nil {
		return protocol.ConfirmResult{}, errors.New("pipeline: no mutation engine configured")
	}

	final, token, err := p.Mutation.Confirm(ctx, planID, phrase)

	if p.Audit != nil {
		rec := audit.MutationRecord{RequestID: requestID, Plan: final, Token: token, RecordedAt: p.Clock.Now()}
		if err != nil {
			rec.Error = err.Error()
		}
		_ = p.Audit.WriteMutation(rec)
	}

	if err != nil {
		return protocol.ConfirmResult{State: final.State}, err
	}
	return protocol.ConfirmResult{State: final.State, RollbackToken: token}, nil
}

// Cancel cancels an in-flight Ask call by request id, if one is running.
func (p *Pipeline) Cancel(requestID string) bool {
	p.mu.Lock()
	cancel, ok := p.inFlight[requestID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Status reports the daemon's current operating state.
func (p *Pipeline) Status() protocol.StatusResult {
	p.mu.Lock()
	inFlight := len(p.inFlight)
	p.mu.Unlock()

	cacheSize := 0
	if p.Dispatcher != nil && p.Dispatcher.Cache != nil {
		cacheSize = p.Dispatcher.Cache.Len()
	}

	return protocol.StatusResult{
		UptimeS:        p.Clock.Now().Sub(p.startedAt).Seconds(),
		InFlight:       inFlight,
		CacheSize:      cacheSize,
		RecentScoreAvg: p.averageScore(),
	}
}

func (p *Pipeline) register(requestID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight[requestID] = cancel
}

func (p *Pipeline) unregister(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, requestID)
}

func (p *Pipeline) recordScore(score int) {
	p.scoresMu.Lock()
	defer p.scoresMu.Unlock()
	p.scores = append(p.scores, score)
	if len(p.scores) > maxRecentScores {
		p.scores = p.scores[len(p.scores)-maxRecentScores:]
	}
}

func (p *Pipeline) averageScore() float64 {
	p.scoresMu.Lock()
	defer p.scoresMu.Unlock()
	if len(p.scores) == 0 {
		return 0
	}
	total := 0
	for _, s := range p.scores {
		total += s
	}
	return float64(total) / float64(len(p.scores))
}
