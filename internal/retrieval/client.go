// Package retrieval is the client for the course-material search service.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"lumen.app/relay/common/httpclient"
	"lumen.app/relay/common/logger"
	"lumen.app/relay/internal/model"
)

const (
	defaultTokenBudget = 8000
	maxRetrievalReply  = 8 << 20
)

type Client struct {
	endpoint string
	apiKey   string
	http     *retryablehttp.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/getTopContexts",
		apiKey:   apiKey,
		http:     httpclient.New(httpclient.Options{Timeout: timeout}),
	}
}

type searchRequest struct {
	SearchQuery string   `json:"search_query"`
	CourseName  string   `json:"course_name"`
	TokenLimit  int      `json:"token_limit"`
	DocGroups   []string `json:"doc_groups"`
}

type searchHit struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	ReadableFilename string `json:"readable_filename"`
	URL              string `json:"url"`
	S3Path           string `json:"s3_path"`
	// Page numbers come back as numbers, numeric strings or empty strings.
	PageNumber json.RawMessage `json:"pagenumber"`
}

// Retrieve returns the contexts the search service ranks highest for query, in rank order.
func (c *Client) Retrieve(ctx context.Context, query string, opts model.RetrievalOptions) ([]model.Context, error) {
	budget := opts.TokenBudget
	if budget <= 0 {
		budget = defaultTokenBudget
	}
	groups := opts.Groups
	if groups == nil {
		groups = []string{}
	}

	body, err := json.Marshal(searchRequest{
		SearchQuery: query,
		CourseName:  opts.CourseName,
		TokenLimit:  budget,
		DocGroups:   groups,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding retrieval request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating retrieval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling retrieval service: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxRetrievalReply))
	if err != nil {
		return nil, fmt.Errorf("reading retrieval reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("retrieval service returned %d: %s", resp.StatusCode, logger.Truncate(string(reply), 200))
	}

	var hits []searchHit
	if err := json.Unmarshal(reply, &hits); err != nil {
		return nil, &model.ParseError{What: "retrieval reply", Err: err}
	}

	contexts := make([]model.Context, 0, len(hits))
	for i, h := range hits {
		id := h.ID
		if id == "" {
			id = fmt.Sprintf("%s#%d", opts.CourseName, i+1)
		}
		contexts = append(contexts, model.Context{
			ID:               id,
			Text:             h.Text,
			ReadableFilename: h.ReadableFilename,
			URL:              h.URL,
			S3Path:           h.S3Path,
			PageNumber:       parsePage(h.PageNumber),
		})
	}

	slog.DebugContext(ctx, "retrieval finished",
		"course", opts.CourseName,
		"contexts", len(contexts),
		"duration_ms", time.Since(start).Milliseconds())
	return contexts, nil
}

func parsePage(raw json.RawMessage) *int {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return &n
		}
	}
	return nil
}
