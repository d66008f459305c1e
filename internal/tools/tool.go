// Package tools selects workflow tools for a turn and runs them against the workflow engine.
package tools

import (
	"context"
	"regexp"

	"github.com/invopop/jsonschema"

	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/provider"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Kind decides which timeout applies to a tool.
type Kind string

const (
	KindInteractive Kind = "interactive"
	KindWorkflow    Kind = "workflow"
)

// Tool is a workflow the model may ask to run.
type Tool struct {
	ID           string
	Name         string
	ReadableName string
	Description  string
	Kind         Kind
	Parameters   *jsonschema.Schema
}

// WorkflowEngine executes tools. Implementations must honor ctx cancellation.
type WorkflowEngine interface {
	Run(ctx context.Context, tool Tool, args map[string]any) (*model.ToolOutput, error)
}

// Catalog lists the tools available to a project.
type Catalog interface {
	Tools(ctx context.Context) ([]Tool, error)
}

// SanitizeName converts a workflow name to a valid function name.
// The name must match ^[a-zA-Z0-9_-]{1,64}$.
func SanitizeName(name string) string {
	sanitized := nameInvalidChars.ReplaceAllString(name, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}

func (t Tool) definition() provider.Tool {
	params := t.Parameters
	if params == nil {
		params = &jsonschema.Schema{Type: "object", Properties: jsonschema.NewProperties()}
	}
	return provider.Tool{Name: t.Name, Description: t.Description, Parameters: params}
}
