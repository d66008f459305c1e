package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so the turn, conversation and model in play show
// up on every log line without being passed around.
type LogFields struct {
	TurnID         *string // Chat turn id
	ConversationID *string // Conversation the turn belongs to
	Provider       *string // Model backend (e.g., "openai", "azure")
	Model          *string // Model id as selected by the client
	ToolName       *string // Workflow tool being executed
	MessageID      *string // Redis stream message ID
	Component      string  // Component name (OTel semantic convention style, e.g., "relay.chat.service")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.TurnID != nil {
		result.TurnID = new.TurnID
	}
	if new.ConversationID != nil {
		result.ConversationID = new.ConversationID
	}
	if new.Provider != nil {
		result.Provider = new.Provider
	}
	if new.Model != nil {
		result.Model = new.Model
	}
	if new.ToolName != nil {
		result.ToolName = new.ToolName
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{TurnID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
// Useful for logging model output and tool arguments.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
