package agent_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-advisor/internal/agent"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	"github.com/dvloznov/finance-advisor/internal/tools"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

type MockDecider struct {
	mu         sync.Mutex
	Calls      [][]agent.Turn
	DecideFunc func(ctx context.Context, turns []agent.Turn, specs []tools.Spec) (agent.Decision, error)
}

func (m *MockDecider) Decide(ctx context.Context, turns []agent.Turn, specs []tools.Spec) (agent.Decision, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, append([]agent.Turn(nil), turns...))
	m.mu.Unlock()
	return m.DecideFunc(ctx, turns, specs)
}

// scripted replays decisions in order and answers "done" afterwards.
func scripted(decisions ...agent.Decision) *MockDecider {
	var n int32
	return &MockDecider{DecideFunc: func(ctx context.Context, turns []agent.Turn, specs []tools.Spec) (agent.Decision, error) {
		i := int(atomic.AddInt32(&n, 1)) - 1
		if i < len(decisions) {
			return decisions[i], nil
		}
		return agent.Decision{Text: "done"}, nil
	}}
}

type MockTool struct {
	Name       string
	InvokeFunc func(ctx context.Context, owner tenant.ID, args tools.Args) (string, error)
}

func (m *MockTool) Spec() tools.Spec { return tools.Spec{Name: m.Name} }

func (m *MockTool) Invoke(ctx context.Context, owner tenant.ID, args tools.Args) (string, error) {
	return m.InvokeFunc(ctx, owner, args)
}

func registry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(time.Second, ts...)
	require.NoError(t, err)
	return reg
}

func TestConverse_DirectAnswer(t *testing.T) {
	decider := scripted(agent.Decision{Text: "  You spent 42.00 GBP.  "})
	a := agent.New(decider, registry(t), agent.Config{})

	answer, err := a.Converse(context.Background(), "alice", "How much did I spend on groceries?")
	require.NoError(t, err)
	assert.Equal(t, "You spent 42.00 GBP.", answer.Text)
	assert.Equal(t, 1, answer.Rounds)
	assert.False(t, answer.Degraded)

	require.Len(t, decider.Calls, 1)
	turns := decider.Calls[0]
	require.Len(t, turns, 2)
	assert.Equal(t, agent.RoleSystem, turns[0].Role)
	assert.Contains(t, turns[0].Content, "CURRENT USER ID: alice")
	assert.Contains(t, turns[0].Content, "transactions(")
	assert.Equal(t, agent.RoleUser, turns[1].Role)
}

func TestConverse_ToolRoundTrip(t *testing.T) {
	var gotOwner tenant.ID
	var gotArgs tools.Args
	query := &MockTool{Name: tools.QueryToolName, InvokeFunc: func(ctx context.Context, owner tenant.ID, args tools.Args) (string, error) {
		gotOwner, gotArgs = owner, args
		return `[{"total":42}]`, nil
	}}

	decider := scripted(
		agent.Decision{ToolCalls: []agent.ToolCall{{
			ID:   "call-1",
			Name: tools.QueryToolName,
			Args: map[string]any{"query": "SELECT SUM(amount) AS total FROM transactions WHERE user_id = @user_id AND category = 'Food'", "user_id": "bob"},
		}}},
		agent.Decision{Text: "You spent 42 on food."},
	)
	a := agent.New(decider, registry(t, query), agent.Config{})

	answer, err := a.Converse(context.Background(), "alice", "What did I spend on Food?")
	require.NoError(t, err)
	assert.Equal(t, "You spent 42 on food.", answer.Text)
	assert.Equal(t, 2, answer.Rounds)

	assert.Equal(t, tenant.ID("alice"), gotOwner)
	_, leaked := gotArgs["user_id"]
	assert.False(t, leaked)

	second := decider.Calls[1]
	last := second[len(second)-1]
	assert.Equal(t, agent.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.CallID)
	assert.Equal(t, tools.QueryToolName, last.ToolName)
	assert.Equal(t, `[{"total":42}]`, last.Content)
}

func TestConverse_ToolErrorsBecomeContent(t *testing.T) {
	failing := &MockTool{Name: "query", InvokeFunc: func(ctx context.Context, owner tenant.ID, args tools.Args) (string, error) {
		return "", finerr.New(finerr.CodeToolSecurityDenied, "queries on transactions must filter on user_id = @user_id")
	}}
	decider := scripted(
		agent.Decision{ToolCalls: []agent.ToolCall{{ID: "c1", Name: "query"}, {ID: "c2", Name: "missing_tool"}}},
		agent.Decision{Text: "Sorry."},
	)
	a := agent.New(decider, registry(t, failing), agent.Config{})

	answer, err := a.Converse(context.Background(), "alice", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Sorry.", answer.Text)

	turns := decider.Calls[1]
	results := turns[len(turns)-2:]
	assert.Contains(t, results[0].Content, "Error: ")
	assert.Contains(t, results[0].Content, "user_id = @user_id")
	assert.Contains(t, results[1].Content, "unknown tool")
}

func TestConverse_ParallelToolsKeepCallOrder(t *testing.T) {
	var running, peak int32
	slow := &MockTool{Name: "slow", InvokeFunc: func(ctx context.Context, owner tenant.ID, args tools.Args) (string, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&running, -1)

		delay, _ := args.String("delay")
		d, _ := time.ParseDuration(delay)
		time.Sleep(d)
		id, _ := args.String("id")
		return "result-" + id, nil
	}}

	calls := []agent.ToolCall{
		{ID: "a", Name: "slow", Args: map[string]any{"id": "a", "delay": "60ms"}},
		{ID: "b", Name: "slow", Args: map[string]any{"id": "b", "delay": "10ms"}},
		{ID: "c", Name: "slow", Args: map[string]any{"id": "c", "delay": "30ms"}},
	}
	decider := scripted(agent.Decision{ToolCalls: calls})
	a := agent.New(decider, registry(t, slow), agent.Config{ParallelTools: 2})

	_, err := a.Converse(context.Background(), "alice", "hi")
	require.NoError(t, err)

	turns := decider.Calls[1]
	results := turns[len(turns)-3:]
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, results[i].CallID)
		assert.Equal(t, "result-"+id, results[i].Content)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestConverse_RoundCapReturnsBestEffort(t *testing.T) {
	loop := &MockTool{Name: "search", InvokeFunc: func(ctx context.Context, owner tenant.ID, args tools.Args) (string, error) {
		return "Pret (Dining) on 2024-03-01. Amount: 8.50 GBP", nil
	}}
	decider := &MockDecider{DecideFunc: func(ctx context.Context, turns []agent.Turn, specs []tools.Spec) (agent.Decision, error) {
		return agent.Decision{ToolCalls: []agent.ToolCall{{ID: "x", Name: "search"}}}, nil
	}}
	a := agent.New(decider, registry(t, loop), agent.Config{MaxRounds: 3})

	answer, err := a.Converse(context.Background(), "alice", "where do I eat?")
	require.NoError(t, err)
	assert.Equal(t, 3, answer.Rounds)
	assert.Len(t, decider.Calls, 3)
	assert.Contains(t, answer.Text, "Pret (Dining)")
	assert.NotEmpty(t, answer.Text)
	assert.False(t, answer.Degraded)
}

func TestConverse_DecideTimeoutDegrades(t *testing.T) {
	decider := &MockDecider{DecideFunc: func(ctx context.Context, turns []agent.Turn, specs []tools.Spec) (agent.Decision, error) {
		<-ctx.Done()
		return agent.Decision{}, finerr.Wrap(ctx.Err(), finerr.CodeProviderTimeout, "model request timed out")
	}}
	a := agent.New(decider, registry(t), agent.Config{DecideTimeout: 20 * time.Millisecond})

	answer, err := a.Converse(context.Background(), "alice", "hi")
	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.NotEmpty(t, answer.Text)
}

func TestConverse_ProviderFailure(t *testing.T) {
	decider := &MockDecider{DecideFunc: func(ctx context.Context, turns []agent.Turn, specs []tools.Spec) (agent.Decision, error) {
		return agent.Decision{}, errors.New("503 from upstream")
	}}
	a := agent.New(decider, registry(t), agent.Config{})

	_, err := a.Converse(context.Background(), "alice", "hi")
	require.Error(t, err)
	assert.Equal(t, finerr.CodeProviderUpstreamFailure, finerr.CodeOf(err))
}

func TestConverse_EmptyAnswerFallsBack(t *testing.T) {
	a := agent.New(scripted(agent.Decision{Text: "   "}), registry(t), agent.Config{})

	answer, err := a.Converse(context.Background(), "alice", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Text)
}

func TestConverse_HistoryWithSystemTurnIsKept(t *testing.T) {
	decider := scripted(agent.Decision{Text: "ok"})
	a := agent.New(decider, registry(t), agent.Config{})

	history := []agent.Turn{
		{Role: agent.RoleSystem, Content: "custom system"},
		{Role: agent.RoleUser, Content: "earlier question"},
		{Role: agent.RoleAssistant, Content: "earlier answer"},
	}
	answer, err := a.Converse(context.Background(), "alice", "follow up", history...)
	require.NoError(t, err)

	turns := decider.Calls[0]
	require.Len(t, turns, 4)
	assert.Equal(t, "custom system", turns[0].Content)
	assert.Equal(t, "follow up", turns[3].Content)
	assert.Len(t, answer.Turns, 5)
}

func TestConverse_HistoryWithoutSystemTurnGetsOne(t *testing.T) {
	decider := scripted(agent.Decision{Text: "ok"})
	a := agent.New(decider, registry(t), agent.Config{})

	_, err := a.Converse(context.Background(), "alice", "follow up", agent.Turn{Role: agent.RoleUser, Content: "earlier"})
	require.NoError(t, err)

	turns := decider.Calls[0]
	require.Len(t, turns, 3)
	assert.Equal(t, agent.RoleSystem, turns[0].Role)
}

func TestConverse_IsStateless(t *testing.T) {
	decider := scripted(agent.Decision{Text: "one"}, agent.Decision{Text: "two"})
	a := agent.New(decider, registry(t), agent.Config{})

	_, err := a.Converse(context.Background(), "alice", "first")
	require.NoError(t, err)
	_, err = a.Converse(context.Background(), "alice", "second")
	require.NoError(t, err)

	require.Len(t, decider.Calls, 2)
	assert.Len(t, decider.Calls[1], 2)
}

func TestConverse_InvalidInput(t *testing.T) {
	a := agent.New(scripted(), registry(t), agent.Config{})

	_, err := a.Converse(context.Background(), "alice", "   ")
	require.Error(t, err)
	assert.Equal(t, finerr.CodeAgentLoopInvalidInput, finerr.CodeOf(err))

	_, err = a.Converse(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Equal(t, finerr.CodeServerAuthUnauthorized, finerr.CodeOf(err))
}
