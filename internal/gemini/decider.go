package gemini

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/dvloznov/finance-advisor/internal/agent"
	"github.com/dvloznov/finance-advisor/internal/tools"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

var _ agent.Decider = (*Decider)(nil)

// Decider asks a chat model, through function calling, what the agent should do next.
type Decider struct {
	client      Generator
	model       string
	temperature float32
}

func NewDecider(client Generator, model string) *Decider {
	return &Decider{client: client, model: model, temperature: 0.2}
}

func (d *Decider) Decide(ctx context.Context, turns []agent.Turn, specs []tools.Spec) (agent.Decision, error) {
	system, contents, err := toContents(turns)
	if err != nil {
		return agent.Decision{}, err
	}
	if len(contents) == 0 {
		return agent.Decision{}, finerr.New(finerr.CodeProviderRequestInvalid, "conversation has no user turn")
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(d.temperature),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(specs) > 0 {
		cfg.Tools = toTools(specs)
	}

	resp, err := d.client.GenerateContent(ctx, d.model, contents, cfg)
	if err != nil {
		return agent.Decision{}, err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return agent.Decision{}, finerr.New(finerr.CodeProviderResponseInvalid, "model returned no candidates")
	}

	return fromContent(resp.Candidates[0].Content), nil
}

// toContents maps turns onto genai contents. System turns become the system
// instruction; consecutive tool results are grouped into one user content.
func toContents(turns []agent.Turn) (string, []*genai.Content, error) {
	var (
		system   []string
		contents []*genai.Content
	)

	for _, t := range turns {
		switch t.Role {
		case agent.RoleSystem:
			system = append(system, t.Content)
		case agent.RoleUser:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		case agent.RoleAssistant:
			var parts []*genai.Part
			if t.Content != "" {
				parts = append(parts, genai.NewPartFromText(t.Content))
			}
			for _, call := range t.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Args,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case agent.RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       t.CallID,
				Name:     t.ToolName,
				Response: map[string]any{"result": t.Content},
			}}
			if n := len(contents); n > 0 && isToolResults(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		default:
			return "", nil, finerr.Errorf(finerr.CodeProviderRequestInvalid, "unsupported turn role %q", t.Role)
		}
	}

	return strings.Join(system, "\n\n"), contents, nil
}

func isToolResults(c *genai.Content) bool {
	if c.Role != genai.RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func toTools(specs []tools.Spec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 s.Name,
			Description:          s.Description,
			ParametersJsonSchema: s.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func fromContent(c *genai.Content) agent.Decision {
	var (
		text []string
		out  agent.Decision
	)
	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
				ID:   id,
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			})
		case p.Text != "" && !p.Thought:
			text = append(text, p.Text)
		}
	}
	out.Text = strings.TrimSpace(strings.Join(text, ""))
	return out
}
