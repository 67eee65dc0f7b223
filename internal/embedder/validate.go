package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If the configured model matches
// any of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate checks that the embedding configuration is safe to use. It returns
// an error if the configuration is clearly broken (e.g. azure with no API
// key), and logs a warning if the model looks like a chat model rather than
// an embedding model.
//
// This is a pre-flight check: call it at startup, before constructing the
// embedder or any vector store, so operators get a clear error instead of a
// cryptic failure during the first embed call.
func Validate(cfg *Config, log *slog.Logger) error {
	switch cfg.Provider {
	case "", "ollama":
		// Local backend, no credentials required.

	case "openai":
		if cfg.APIKey == "" {
			return fmt.Errorf("embedder: openai backend configured but no API key set")
		}

	case "azure":
		if cfg.APIKey == "" {
			return fmt.Errorf("embedder: azure backend configured but no API key set")
		}
		if cfg.Endpoint == "" {
			return fmt.Errorf("embedder: azure backend configured but no endpoint set")
		}

	default:
		return fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure)", cfg.Provider)
	}

	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: configured model looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	return nil
}
