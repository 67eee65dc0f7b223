package embedder

import (
	"errors"
	"fmt"

	"github.com/nova-rag/nova-go/internal/retrieval"
)

// ErrUnavailable wraps transport-level failures (connection refused, timeout)
// so callers can distinguish "backend is down" from a rejected request.
var ErrUnavailable = errors.New("embedder: backend unavailable")

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override via Config.Dimensions.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Config holds the resolved embedding settings. Zero-valued fields fall back
// to per-backend defaults in New.
type Config struct {
	// Provider selects the backend: "ollama", "openai", or "azure".
	Provider string
	// Model is the embedding model name.
	Model string
	// Endpoint is the backend base URL.
	Endpoint string
	// APIKey authenticates against openai/azure backends.
	APIKey string
	// APIVersion is the Azure OpenAI API version (azure only).
	APIVersion string
	// Dimensions is the embedding vector length (0 = backend default).
	Dimensions int
}

// VectorSize returns the effective embedding vector size for the config.
// Callers that pre-configure a vector store (e.g. Qdrant collection creation)
// should use this rather than hardcoding a value.
func (c *Config) VectorSize() int {
	if c.Dimensions > 0 {
		return c.Dimensions
	}
	if c.Provider == "" || c.Provider == "ollama" {
		return defaultOllamaDimensions
	}
	return defaultOpenAIDimensions
}

// New constructs a retrieval.Embedder for the configured backend.
func New(cfg *Config) (retrieval.Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		host := cfg.Endpoint
		if host == "" {
			host = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires an API key")
		}
		baseURL := cfg.Endpoint
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.VectorSize(),
		}), nil

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires an API key")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires an endpoint")
		}
		apiVersion := cfg.APIVersion
		if apiVersion == "" {
			apiVersion = "2025-04-01-preview"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai",
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.VectorSize(),
			Azure:      true,
			APIVersion: apiVersion,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure)", cfg.Provider)
	}
}
