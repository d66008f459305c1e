// Package storage resolves object-storage paths to temporary download URLs through the
// presign service.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"lumen.app/relay/common/httpclient"
	"lumen.app/relay/common/logger"
)

const maxPresignReply = 64 << 10

// PresignClient calls POST {base}/presign with {"s3_path", "project_name"}. The service
// answers {"url": "..."}; an unknown object is a 404 or a null url.
type PresignClient struct {
	endpoint string
	apiKey   string
	http     *retryablehttp.Client
}

func NewPresignClient(baseURL, apiKey string, timeout time.Duration) *PresignClient {
	return &PresignClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/presign",
		apiKey:   apiKey,
		http:     httpclient.New(httpclient.Options{Timeout: timeout}),
	}
}

// Presign returns a temporary URL for path, or "" when the object is unknown.
func (c *PresignClient) Presign(ctx context.Context, path, projectName string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"s3_path":      path,
		"project_name": projectName,
	})
	if err != nil {
		return "", fmt.Errorf("encoding presign request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating presign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling presign service: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxPresignReply))
	if err != nil {
		return "", fmt.Errorf("reading presign reply: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("presign service returned %d: %s", resp.StatusCode, logger.Truncate(string(reply), 200))
	}

	if !gjson.ValidBytes(reply) {
		return "", fmt.Errorf("presign service returned invalid JSON")
	}
	return gjson.GetBytes(reply, "url").String(), nil
}
