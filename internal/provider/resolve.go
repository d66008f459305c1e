package provider

import (
	"fmt"

	"lumen.app/relay/internal/model"
)

// Resolve finds the provider that owns modelID by scanning the enabled models of enabled
// providers in model.ProviderOrder. The first match wins; there is no fallback model.
func Resolve(registry model.ProviderRegistry, modelID string) (Target, error) {
	for _, name := range model.ProviderOrder {
		cfg, ok := registry[name]
		if !ok {
			continue
		}
		if m, ok := cfg.FindModel(modelID); ok {
			return Target{Provider: name, Config: cfg, Model: m}, nil
		}
	}
	return Target{}, &model.ValidationError{
		Field:   "model",
		Message: fmt.Sprintf("model %q is not supported by any enabled provider", modelID),
		Err:     model.ErrModelNotSupported,
	}
}

// ProviderModels is the public view of one provider's enabled models.
type ProviderModels struct {
	Provider model.ProviderName  `json:"provider"`
	Models   []model.ModelConfig `json:"models"`
}

// Catalog lists enabled models grouped by provider, in scan order.
func Catalog(registry model.ProviderRegistry) []ProviderModels {
	var out []ProviderModels
	for _, name := range model.ProviderOrder {
		models := registry[name].EnabledModels()
		if len(models) == 0 {
			continue
		}
		out = append(out, ProviderModels{Provider: name, Models: models})
	}
	return out
}
