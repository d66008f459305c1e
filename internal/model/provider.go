package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderName identifies a configured backend family.
type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderAzure     ProviderName = "azure"
	ProviderAnthropic ProviderName = "anthropic"
	ProviderGemini    ProviderName = "gemini"
	ProviderOllama    ProviderName = "ollama"
	ProviderVLLM      ProviderName = "vllm"
)

// ProviderOrder is the scan order used when resolving a model id to its provider.
var ProviderOrder = []ProviderName{
	ProviderOpenAI,
	ProviderAzure,
	ProviderAnthropic,
	ProviderGemini,
	ProviderOllama,
	ProviderVLLM,
}

// ProviderRegistry maps provider names to their configuration. Read-only during a turn.
type ProviderRegistry map[ProviderName]ProviderConfig

type ProviderConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	APIKey       string        `yaml:"api_key" json:"-"`
	BaseURL      string        `yaml:"base_url" json:"base_url,omitempty"`
	Organization string        `yaml:"organization" json:"-"`
	Region       string        `yaml:"region" json:"region,omitempty"`
	APIVersion   string        `yaml:"api_version" json:"api_version,omitempty"`
	Models       []ModelConfig `yaml:"models" json:"models"`
}

type ModelConfig struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Default    bool   `yaml:"default" json:"default"`
	TokenLimit int    `yaml:"token_limit" json:"token_limit"`
	Vision     bool   `yaml:"vision" json:"vision"`
	Reasoning  bool   `yaml:"reasoning" json:"reasoning"`
	// DeploymentID is required by deployment-based providers (Azure).
	DeploymentID string `yaml:"deployment_id" json:"-"`
}

// EnabledModels returns the provider's enabled models, or nil when the provider is disabled.
func (p ProviderConfig) EnabledModels() []ModelConfig {
	if !p.Enabled {
		return nil
	}
	var out []ModelConfig
	for _, m := range p.Models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// FindModel returns the enabled model with the given id.
func (p ProviderConfig) FindModel(id string) (ModelConfig, bool) {
	for _, m := range p.EnabledModels() {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// DefaultModel returns the first enabled model flagged default across providers in scan order.
func (r ProviderRegistry) DefaultModel() (ProviderName, ModelConfig, bool) {
	for _, name := range ProviderOrder {
		for _, m := range r[name].EnabledModels() {
			if m.Default {
				return name, m, true
			}
		}
	}
	return "", ModelConfig{}, false
}

// LoadRegistry reads a YAML provider registry. ${VAR} references are expanded from the
// environment so credentials stay out of the file.
func LoadRegistry(path string) (ProviderRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider registry %s: %w", path, err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (ProviderRegistry, error) {
	var raw struct {
		Providers map[ProviderName]ProviderConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("parsing provider registry: %w", err)
	}
	for name := range raw.Providers {
		if !knownProvider(name) {
			return nil, fmt.Errorf("unknown provider %q in registry", name)
		}
	}
	return ProviderRegistry(raw.Providers), nil
}

func knownProvider(name ProviderName) bool {
	for _, p := range ProviderOrder {
		if p == name {
			return true
		}
	}
	return false
}
