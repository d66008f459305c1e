package model

// ToolInvocation records one tool the model asked for and what happened when it ran.
// Exactly one of Output and Error is set once execution completes.
type ToolInvocation struct {
	ToolID       string         `json:"tool_id"`
	InvocationID string         `json:"invocation_id"`
	Name         string         `json:"name"`
	ReadableName string         `json:"readable_name,omitempty"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	Output       *ToolOutput    `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ToolOutput is the result of a successful tool execution.
type ToolOutput struct {
	Text      string         `json:"text,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	ImageURLs []string       `json:"image_urls,omitempty"`
}

// Done reports whether the invocation has finished, successfully or not.
func (t ToolInvocation) Done() bool {
	return t.Output != nil || t.Error != ""
}
