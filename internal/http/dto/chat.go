package dto

import (
	"lumen.app/relay/internal/chat"
	"lumen.app/relay/internal/model"
)

type ChatRequest struct {
	// TurnID is generated when the client does not pick one.
	TurnID       string              `json:"turn_id,omitempty" binding:"omitempty,max=128"`
	Conversation *model.Conversation `json:"conversation" binding:"required"`
	// Stream defaults to true.
	Stream      *bool    `json:"stream,omitempty"`
	CourseName  string   `json:"course_name,omitempty" binding:"max=255"`
	TokenBudget int      `json:"token_budget,omitempty" binding:"min=0"`
	DocGroups   []string `json:"doc_groups,omitempty"`
	Tools       bool     `json:"tools,omitempty"`
}

func (r *ChatRequest) ToTurnRequest(turnID string) *chat.TurnRequest {
	req := &chat.TurnRequest{
		TurnID:       turnID,
		Conversation: r.Conversation,
		Stream:       r.Stream == nil || *r.Stream,
		Tools:        r.Tools,
	}
	if r.CourseName != "" {
		req.Retrieval = &chat.RetrievalOptions{
			CourseName:  r.CourseName,
			TokenBudget: r.TokenBudget,
			Groups:      r.DocGroups,
		}
	}
	return req
}

// ChatResponse is the finished turn: the assistant text and the contexts its citations
// point into.
type ChatResponse struct {
	TurnID   string             `json:"turn_id"`
	Message  string             `json:"message"`
	Contexts []model.Context    `json:"contexts"`
	Provider model.ProviderName `json:"provider,omitempty"`
	Stopped  bool               `json:"stopped"`
}

func ToChatResponse(turnID string, res *chat.TurnResult) *ChatResponse {
	contexts := res.Contexts
	if contexts == nil {
		contexts = []model.Context{}
	}
	return &ChatResponse{
		TurnID:   turnID,
		Message:  res.Message.Content.PlainText(),
		Contexts: contexts,
		Provider: res.Provider,
		Stopped:  res.Stopped,
	}
}

// TurnStarted is the first event of a streamed turn.
type TurnStarted struct {
	TurnID string `json:"turn_id"`
}

type Fragment struct {
	Text string `json:"text"`
}

type StopResponse struct {
	TurnID         string `json:"turn_id"`
	StoppedLocally bool   `json:"stopped_locally"`
}
