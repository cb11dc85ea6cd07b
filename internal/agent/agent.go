// Package agent answers questions about a tenant's finances by alternating
// between asking a decision model what to do and running the tools it picks.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	"github.com/dvloznov/finance-advisor/internal/tools"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const (
	DefaultMaxRounds     = 6
	DefaultDecideTimeout = 60 * time.Second
	DefaultParallelTools = 4

	degradedAnswer = "Sorry, I couldn't work that out in time. Please try again in a moment."
	incompleteHint = "I ran out of steps before finishing. Here is what I found so far:\n"
	maxPartialLen  = 2000
)

// Dispatcher runs tools on behalf of a tenant.
type Dispatcher interface {
	Specs() []tools.Spec
	Invoke(ctx context.Context, owner tenant.ID, name string, args tools.Args) (string, error)
}

type Config struct {
	MaxRounds     int
	DecideTimeout time.Duration
	ParallelTools int
	Dialect       tools.Dialect
}

// Answer is the reply to one message. Turns is the full transcript,
// system turn included, and can be passed back as history.
type Answer struct {
	Text     string
	Rounds   int
	Degraded bool
	Turns    []Turn
}

type Agent struct {
	decider Decider
	tools   Dispatcher
	cfg     Config
}

func New(decider Decider, dispatcher Dispatcher, cfg Config) *Agent {
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.DecideTimeout <= 0 {
		cfg.DecideTimeout = DefaultDecideTimeout
	}
	if cfg.ParallelTools < 1 {
		cfg.ParallelTools = DefaultParallelTools
	}
	return &Agent{decider: decider, tools: dispatcher, cfg: cfg}
}

// Converse answers message for owner. Nothing is remembered between calls;
// earlier turns count only when passed in history. Hitting the round cap
// is not an error: the best answer so far is returned.
func (a *Agent) Converse(ctx context.Context, owner tenant.ID, message string, history ...Turn) (Answer, error) {
	if err := owner.Validate(); err != nil {
		return Answer{}, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Answer{}, finerr.New(finerr.CodeAgentLoopInvalidInput, "message is empty", finerr.FieldUserID(owner.String()))
	}

	ctx = logger.WithTenant(ctx, owner.String())

	turns := make([]Turn, 0, len(history)+2)
	if len(history) == 0 || history[0].Role != RoleSystem {
		turns = append(turns, Turn{Role: RoleSystem, Content: systemPrompt(owner, a.cfg.Dialect)})
	}
	turns = append(turns, history...)
	turns = append(turns, Turn{Role: RoleUser, Content: message})

	m := &machine{agent: a, owner: owner, turns: turns, state: StateDeciding}
	for m.state != StateDone {
		if err := m.step(ctx); err != nil {
			return Answer{}, err
		}
	}

	return Answer{Text: m.answer, Rounds: m.rounds, Degraded: m.degraded, Turns: m.turns}, nil
}

// machine is the state of one Converse call.
type machine struct {
	agent    *Agent
	owner    tenant.ID
	turns    []Turn
	state    State
	rounds   int
	pending  []ToolCall
	answer   string
	degraded bool
}

func (m *machine) step(ctx context.Context) error {
	switch m.state {
	case StateDeciding:
		ev, err := m.decide(ctx)
		if err != nil {
			return err
		}
		m.state = transition(m.state, ev)
	case StateActing:
		m.act(ctx)
		m.state = transition(m.state, eventToolsDone)
	default:
		return fmt.Errorf("agent: step in state %s", m.state)
	}
	return nil
}

func (m *machine) decide(ctx context.Context) (event, error) {
	log := logger.FromContext(ctx)

	if m.rounds >= m.agent.cfg.MaxRounds {
		err := finerr.New(finerr.CodeAgentLoopBoundExceeded, "round cap reached",
			finerr.FieldUserID(m.owner.String()), finerr.Field("rounds", m.rounds))
		log.Warn().Err(err).Int("rounds", m.rounds).Msg("agent stopped at round cap")
		m.answer = m.bestEffort()
		return eventRoundCap, nil
	}
	m.rounds++

	decideCtx, cancel := context.WithTimeout(ctx, m.agent.cfg.DecideTimeout)
	defer cancel()

	start := time.Now()
	decision, err := m.agent.decider.Decide(decideCtx, m.turns, m.agent.tools.Specs())
	if err != nil {
		if finerr.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return 0, finerr.Wrap(ctx.Err(), finerr.CodeAgentDecideTimeout, "conversation cancelled")
			}
			log.Warn().Err(err).Int("round", m.rounds).Dur("elapsed", time.Since(start)).Msg("decision timed out, answering degraded")
			m.answer = degradedAnswer
			m.degraded = true
			return eventTimeout, nil
		}
		return 0, finerr.Wrap(err, finerr.CodeProviderUpstreamFailure, "deciding next step", finerr.Field("round", m.rounds))
	}

	log.Debug().Int("round", m.rounds).Int("tool_calls", len(decision.ToolCalls)).Dur("elapsed", time.Since(start)).Msg("decision made")

	if len(decision.ToolCalls) > 0 {
		m.turns = append(m.turns, Turn{Role: RoleAssistant, Content: decision.Text, ToolCalls: decision.ToolCalls})
		m.pending = decision.ToolCalls
		return eventToolCalls, nil
	}

	m.answer = strings.TrimSpace(decision.Text)
	if m.answer == "" {
		m.answer = m.bestEffort()
	}
	m.turns = append(m.turns, Turn{Role: RoleAssistant, Content: m.answer})
	return eventAnswer, nil
}

// act runs the pending calls concurrently and appends their results in
// call order. Tool failures become result text for the next decision.
func (m *machine) act(ctx context.Context) {
	calls := m.pending
	m.pending = nil
	results := make([]string, len(calls))

	var g errgroup.Group
	g.SetLimit(m.agent.cfg.ParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			out, err := m.agent.tools.Invoke(ctx, m.owner, call.Name, tools.Args(call.Args))
			if err != nil {
				out = "Error: " + err.Error()
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	for i, call := range calls {
		m.turns = append(m.turns, Turn{Role: RoleTool, Content: results[i], CallID: call.ID, ToolName: call.Name})
	}
}

// bestEffort builds a non-empty answer from whatever the conversation
// produced: the latest assistant text, else the latest tool output.
func (m *machine) bestEffort() string {
	for i := len(m.turns) - 1; i >= 0; i-- {
		t := m.turns[i]
		if t.Role == RoleUser {
			break
		}
		if t.Role == RoleAssistant && strings.TrimSpace(t.Content) != "" {
			return strings.TrimSpace(t.Content)
		}
	}
	for i := len(m.turns) - 1; i >= 0; i-- {
		t := m.turns[i]
		if t.Role == RoleUser {
			break
		}
		if t.Role == RoleTool && strings.TrimSpace(t.Content) != "" {
			partial := strings.TrimSpace(t.Content)
			if len(partial) > maxPartialLen {
				partial = partial[:maxPartialLen] + "..."
			}
			return incompleteHint + partial
		}
	}
	return "I couldn't find an answer to that. Try asking in a different way."
}
