package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dvloznov/finance-advisor/internal/agent"
	"github.com/dvloznov/finance-advisor/internal/api/middleware"
	"github.com/dvloznov/finance-advisor/internal/tenant"
)

// Conversant answers one chat message.
type Conversant interface {
	Converse(ctx context.Context, owner tenant.ID, message string, history ...agent.Turn) (agent.Answer, error)
}

type ChatHandler struct {
	agent Conversant
}

func NewChatHandler(a Conversant) *ChatHandler {
	return &ChatHandler{agent: a}
}

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Message string     `json:"message"`
	History []chatTurn `json:"history,omitempty"`
}

type chatResponse struct {
	Answer   string `json:"answer"`
	Rounds   int    `json:"rounds"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Chat handles POST /api/chat. Only user and assistant turns are accepted
// as history; the server supplies its own system turn.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	history := make([]agent.Turn, 0, len(req.History))
	for _, t := range req.History {
		role := agent.Role(t.Role)
		if role != agent.RoleUser && role != agent.RoleAssistant {
			middleware.WriteError(w, http.StatusBadRequest, "history roles must be user or assistant")
			return
		}
		history = append(history, agent.Turn{Role: role, Content: t.Content})
	}

	answer, err := h.agent.Converse(r.Context(), owner, req.Message, history...)
	if err != nil {
		middleware.WriteErr(w, r, err, "Failed to answer")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, chatResponse{
		Answer:   answer.Text,
		Rounds:   answer.Rounds,
		Degraded: answer.Degraded,
	})
}
