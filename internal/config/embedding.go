package config

import "acms/internal/embedding"

// EmbeddingConfig is a YAML-tagged mirror of internal/embedding.Config, so
// the on-disk config format doesn't depend on struct tags living in a
// package that has no other reason to import gopkg.in/yaml.v3.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"-"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

func DefaultEmbeddingConfig() EmbeddingConfig {
	d := embedding.DefaultConfig()
	return EmbeddingConfig{
		Provider: d.Provider, OllamaEndpoint: d.OllamaEndpoint, OllamaModel: d.OllamaModel,
		GenAIModel: d.GenAIModel, TaskType: d.TaskType,
	}
}

// Domain converts to internal/embedding.Config for embedding.NewEngine.
func (e EmbeddingConfig) Domain() embedding.Config {
	return embedding.Config{
		Provider: e.Provider, OllamaEndpoint: e.OllamaEndpoint, OllamaModel: e.OllamaModel,
		GenAIAPIKey: e.GenAIAPIKey, GenAIModel: e.GenAIModel, TaskType: e.TaskType,
	}
}
