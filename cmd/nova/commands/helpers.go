package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nova-rag/nova-go/internal/catalog"
	"github.com/nova-rag/nova-go/internal/embedder"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// retrievalComponents bundles the stores behind the retrieval pipeline so the
// serve, ask, and search commands share one construction path.
type retrievalComponents struct {
	catalog *catalog.Store
	scoped  *retrieval.QdrantStore
	shared  *retrieval.PGIndex
	orch    *retrieval.Orchestrator
	emb     retrieval.Embedder
	embCfg  *embedder.Config

	// close releases every underlying connection in reverse construction order.
	close func()
}

// buildRetrieval constructs the full retrieval stack from environment
// configuration: embedder, SQLite catalog, Qdrant scoped store, and (when
// KNOWLEDGE_PG_DSN is set) the shared pgvector knowledge index. Metrics may
// be nil for one-shot CLI commands.
func buildRetrieval(ctx context.Context, log *slog.Logger, metrics *retrieval.Metrics) (*retrievalComponents, error) {
	embCfg := embedderConfigFromEnv()
	if err := embedder.Validate(embCfg, log); err != nil {
		return nil, err
	}
	emb, err := embedder.New(embCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("provider", embCfg.Provider),
		slog.Int("dimensions", embCfg.VectorSize()),
	)

	cat, err := openCatalog(log)
	if err != nil {
		return nil, err
	}

	scoped, err := buildScopedStore(ctx, emb, embCfg.VectorSize(), cat, log)
	if err != nil {
		cat.Close()
		return nil, err
	}

	shared, err := buildSharedIndex(ctx, emb, embCfg.VectorSize(), log)
	if err != nil {
		scoped.Close()
		cat.Close()
		return nil, err
	}

	orchCfg := &retrieval.OrchestratorConfig{
		Scoped:       scoped,
		Logger:       log,
		Metrics:      metrics,
		QueryTimeout: time.Duration(getEnvInt("RETRIEVAL_TIMEOUT_SECONDS", 0)) * time.Second,
	}
	// A typed nil in the Shared interface field would defeat the
	// orchestrator's nil checks, so only set it when the index exists.
	if shared != nil {
		orchCfg.Shared = shared
	}
	orch, err := retrieval.NewOrchestrator(orchCfg)
	if err != nil {
		if shared != nil {
			shared.Close()
		}
		scoped.Close()
		cat.Close()
		return nil, err
	}

	return &retrievalComponents{
		catalog: cat,
		scoped:  scoped,
		shared:  shared,
		orch:    orch,
		emb:     emb,
		embCfg:  embCfg,
		close: func() {
			if shared != nil {
				_ = shared.Close()
			}
			_ = scoped.Close()
			_ = cat.Close()
		},
	}, nil
}

// embedderConfigFromEnv resolves the embedding backend from EMBEDDING_* env
// vars, falling back to the chat MODEL_PROVIDER and its credentials so a
// single-provider setup needs no duplicate configuration.
func embedderConfigFromEnv() *embedder.Config {
	provider := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))

	endpoint := os.Getenv("EMBEDDING_ENDPOINT")
	if endpoint == "" {
		switch provider {
		case "ollama":
			endpoint = os.Getenv("OLLAMA_HOST")
		case "azure":
			endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
		}
	}

	apiKey := os.Getenv("EMBEDDING_API_KEY")
	if apiKey == "" {
		switch provider {
		case "openai":
			apiKey = os.Getenv("OPENAI_API_KEY")
		case "azure":
			apiKey = os.Getenv("AZURE_OPENAI_API_KEY")
		}
	}

	return &embedder.Config{
		Provider:   provider,
		Model:      os.Getenv("EMBEDDING_MODEL"),
		Endpoint:   endpoint,
		APIKey:     apiKey,
		APIVersion: os.Getenv("AZURE_OPENAI_API_VERSION"),
		Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
	}
}

// openCatalog opens the SQLite artifact and session catalog. NOVA_CATALOG_DB
// overrides the default path (~/.nova/catalog.db).
func openCatalog(log *slog.Logger) (*catalog.Store, error) {
	path := os.Getenv("NOVA_CATALOG_DB")
	if path == "" {
		var err error
		path, err = catalog.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
		}
	}
	cat, err := catalog.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog at %s: %w", path, err)
	}
	log.Info("catalog opened", slog.String("path", path))
	return cat, nil
}

// buildScopedStore connects to the Qdrant scoped store from QDRANT_* env vars.
func buildScopedStore(ctx context.Context, emb retrieval.Embedder, vectorSize int, cat retrieval.Catalog, log *slog.Logger) (*retrieval.QdrantStore, error) {
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "nova-artifacts")

	store, err := retrieval.NewQdrantStore(ctx, &retrieval.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: uint64(vectorSize), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}, emb, cat)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	log.Info("qdrant store ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return store, nil
}

// buildSharedIndex connects to the shared pgvector knowledge index when
// KNOWLEDGE_PG_DSN is set. Returns (nil, nil) when it is not, in which case
// shared-index search is unavailable.
func buildSharedIndex(ctx context.Context, emb retrieval.Embedder, vectorSize int, log *slog.Logger) (*retrieval.PGIndex, error) {
	dsn := os.Getenv("KNOWLEDGE_PG_DSN")
	if dsn == "" {
		log.Info("shared knowledge index disabled", slog.String("reason", "KNOWLEDGE_PG_DSN not set"))
		return nil, nil
	}
	idx, err := retrieval.NewPGIndex(ctx, &retrieval.PGIndexConfig{
		DSN:          dsn,
		VectorSize:   vectorSize,
		MaxOpenConns: getEnvInt("KNOWLEDGE_PG_MAX_CONNS", 0),
	}, emb, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to knowledge index: %w", err)
	}
	log.Info("shared knowledge index ready")
	return idx, nil
}

// parseTargets converts "--target type:id" flag values into retrieval
// targets. Valid types are document, dataset, and web.
func parseTargets(raw []string) ([]retrieval.Target, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	targets := make([]retrieval.Target, 0, len(raw))
	for _, r := range raw {
		kind, id, ok := strings.Cut(r, ":")
		if !ok || kind == "" || id == "" {
			return nil, fmt.Errorf("invalid target %q (expected type:id, e.g. document:3f2a...)", r)
		}
		targets = append(targets, retrieval.Target{
			SourceType: retrieval.SourceType(kind),
			SourceID:   id,
		})
	}
	return targets, nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat64 returns the float64 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat64(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
