package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"

	"lumen.app/relay/common/httpclient"
	"lumen.app/relay/common/logger"
	"lumen.app/relay/internal/model"
)

const (
	apiKeyHeader     = "X-N8N-API-KEY"
	formTriggerNode  = "n8n-nodes-base.formTrigger"
	interactiveTag   = "interactive"
	maxWorkflowReply = 4 << 20
)

// WorkflowClient talks to an n8n-style workflow engine: workflows are listed through its
// REST API and executed through their webhook.
type WorkflowClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	catalog *retryablehttp.Client
}

func NewWorkflowClient(baseURL, apiKey string) *WorkflowClient {
	return &WorkflowClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Executions are bounded by the per-tool context and are never retried.
		http:    &http.Client{},
		catalog: httpclient.New(httpclient.Options{}),
	}
}

// Run executes the tool's workflow with args as the JSON body.
func (c *WorkflowClient) Run(ctx context.Context, tool Tool, args map[string]any) (*model.ToolOutput, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments: %w", err)
	}

	endpoint := c.baseURL + "/webhook/" + url.PathEscape(tool.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating workflow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, model.NewTransportError("running workflow "+tool.Name, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxWorkflowReply))
	if err != nil {
		return nil, model.NewTransportError("reading workflow "+tool.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("workflow returned %d: %s", resp.StatusCode, logger.Truncate(strings.TrimSpace(string(reply)), 300))
	}
	return decodeOutput(reply), nil
}

// decodeOutput normalizes a workflow reply. n8n answers with an object or with an array
// of items, in which case the first item is the result.
func decodeOutput(reply []byte) *model.ToolOutput {
	if !gjson.ValidBytes(reply) {
		return &model.ToolOutput{Text: strings.TrimSpace(string(reply))}
	}

	result := gjson.ParseBytes(reply)
	if result.IsArray() {
		items := result.Array()
		if len(items) == 0 {
			return &model.ToolOutput{}
		}
		result = items[0]
	}
	if !result.IsObject() {
		return &model.ToolOutput{Text: result.String()}
	}

	out := &model.ToolOutput{}
	if data, ok := result.Value().(map[string]any); ok {
		out.Data = data
	}
	for _, key := range []string{"text", "output", "message"} {
		if v := result.Get(key); v.Type == gjson.String {
			out.Text = v.String()
			break
		}
	}
	for _, key := range []string{"image_urls", "imageUrls"} {
		for _, u := range result.Get(key).Array() {
			out.ImageURLs = append(out.ImageURLs, u.String())
		}
	}
	return out
}

// Tools lists active workflows that expose a form trigger. The form fields become the
// tool's parameters.
func (c *WorkflowClient) Tools(ctx context.Context) ([]Tool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/workflows?active=true", nil)
	if err != nil {
		return nil, fmt.Errorf("creating catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.catalog.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching workflow catalog: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWorkflowReply))
	if err != nil {
		return nil, fmt.Errorf("reading workflow catalog: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workflow catalog returned %d: %s", resp.StatusCode, logger.Truncate(string(body), 300))
	}
	if !gjson.ValidBytes(body) {
		return nil, &model.ParseError{What: "workflow catalog", Err: fmt.Errorf("invalid JSON")}
	}

	var tools []Tool
	for _, wf := range gjson.GetBytes(body, "data").Array() {
		tool, ok := parseWorkflow(wf)
		if !ok {
			slog.DebugContext(ctx, "skipping workflow without form trigger", "workflow", wf.Get("name").String())
			continue
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func parseWorkflow(wf gjson.Result) (Tool, bool) {
	trigger := wf.Get(fmt.Sprintf(`nodes.#(type=="%s")`, formTriggerNode))
	if !trigger.Exists() {
		return Tool{}, false
	}

	name := wf.Get("name").String()
	tool := Tool{
		ID:           wf.Get("id").String(),
		Name:         SanitizeName(name),
		ReadableName: orDefault(trigger.Get("parameters.formTitle").String(), name),
		Description:  trigger.Get("parameters.formDescription").String(),
		Kind:         KindWorkflow,
		Parameters:   &jsonschema.Schema{Type: "object", Properties: jsonschema.NewProperties()},
	}
	for _, tag := range wf.Get("tags.#.name").Array() {
		if strings.EqualFold(tag.String(), interactiveTag) {
			tool.Kind = KindInteractive
		}
	}

	for _, field := range trigger.Get("parameters.formFields.values").Array() {
		label := field.Get("fieldLabel").String()
		if label == "" {
			continue
		}
		prop := &jsonschema.Schema{Type: "string", Description: field.Get("placeholder").String()}
		if field.Get("fieldType").String() == "number" {
			prop.Type = "number"
		}
		tool.Parameters.Properties.Set(label, prop)
		if field.Get("requiredField").Bool() {
			tool.Parameters.Required = append(tool.Parameters.Required, label)
		}
	}
	return tool, true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
