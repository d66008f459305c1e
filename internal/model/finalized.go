package model

import "time"

// FinalizedMessage is an assistant message handed off for persistence once its turn ends.
// Stopped and Error record how the turn ended; the message holds whatever text was
// produced up to that point.
type FinalizedMessage struct {
	TurnID         string    `json:"turn_id"`
	ConversationID string    `json:"conversation_id"`
	ProjectName    string    `json:"project_name"`
	ModelID        string    `json:"model_id"`
	Provider       string    `json:"provider,omitempty"`
	Message        Message   `json:"message"`
	Stopped        bool      `json:"stopped,omitempty"`
	Error          string    `json:"error,omitempty"`
	TraceID        string    `json:"trace_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
