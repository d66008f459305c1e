package provider

import (
	"fmt"
	"net/http"
	"net/url"

	"lumen.app/relay/internal/model"
)

const defaultAzureAPIVersion = "2024-10-21"

// newAzure addresses a deployment rather than a model: the deployment id comes from the
// model entry and the endpoint from the provider's base URL.
func newAzure() *chatCompletions {
	return &chatCompletions{
		name: model.ProviderAzure,
		endpoint: func(req Request) (string, error) {
			cfg, m := req.Target.Config, req.Target.Model
			if cfg.BaseURL == "" {
				return "", &model.ValidationError{Field: "azure.base_url", Message: "azure endpoint is not configured"}
			}
			if m.DeploymentID == "" {
				return "", &model.ValidationError{
					Field:   "azure.deployment_id",
					Message: fmt.Sprintf("model %q has no azure deployment", m.ID),
				}
			}
			return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
				joinURL(cfg.BaseURL, ""),
				url.PathEscape(m.DeploymentID),
				url.QueryEscape(orDefault(cfg.APIVersion, defaultAzureAPIVersion)),
			), nil
		},
		auth: func(h http.Header, cfg model.ProviderConfig) {
			h.Set("api-key", cfg.APIKey)
		},
	}
}
