package provider

import (
	"regexp"
	"strings"

	"lumen.app/relay/internal/model"
)

const (
	thinkingSuffix         = "-thinking"
	defaultReasoningEffort = "medium"
)

var reasoningIDPattern = regexp.MustCompile(`^o\d+(-|$)`)

// IsReasoning reports whether a model takes the reasoning request shape: developer role,
// no temperature and a reasoning-effort parameter.
func IsReasoning(m model.ModelConfig) bool {
	if m.Reasoning {
		return true
	}
	id := strings.ToLower(m.ID)
	return strings.HasSuffix(id, thinkingSuffix) || reasoningIDPattern.MatchString(id)
}

// WireModelID is the model id sent to the backend.
func WireModelID(m model.ModelConfig) string {
	return strings.TrimSuffix(m.ID, thinkingSuffix)
}

func reasoningEffort(req Request) string {
	if req.ReasoningEffort != "" {
		return req.ReasoningEffort
	}
	return defaultReasoningEffort
}
