package agent

import (
	"context"

	"github.com/dvloznov/finance-advisor/internal/tools"
)

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the decision model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Turn is one entry of the conversation. Assistant turns may carry tool calls;
// tool turns carry the result of exactly one call, tagged with its id.
type Turn struct {
	Role      Role
	Content   string
	ToolCalls []ToolCall
	CallID    string
	ToolName  string
}

// Decision is what the model chose to do next: call tools or answer.
type Decision struct {
	Text      string
	ToolCalls []ToolCall
}

// Decider picks the next step given the conversation so far.
type Decider interface {
	Decide(ctx context.Context, turns []Turn, specs []tools.Spec) (Decision, error)
}
