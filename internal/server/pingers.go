package server

import (
	"context"
	"fmt"
)

// pingable matches any dependency exposing a context-aware Ping method.
// The Qdrant store, the pgvector index, and the SQLite catalog all satisfy it.
type pingable interface {
	Ping(ctx context.Context) error
}

// DepPinger adapts a pingable dependency to the Pinger interface under a
// fixed readiness label.
type DepPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// dep is the dependency being probed.
	dep pingable
}

// NewDepPinger constructs a DepPinger for the given dependency and label.
func NewDepPinger(name string, dep pingable) *DepPinger {
	return &DepPinger{name: name, dep: dep}
}

// Name returns the dependency label used in readiness responses.
func (p *DepPinger) Name() string { return p.name }

// Ping delegates to the dependency's own Ping method.
func (p *DepPinger) Ping(ctx context.Context) error {
	if err := p.dep.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// EmbedderPinger probes an embedding backend by embedding a single short
// string. Embedding calls are cheap compared to chat completions, so the
// probe runs against the real model path the pipeline uses.
type EmbedderPinger struct {
	// embed is the embedder to probe.
	embed interface {
		Embed(ctx context.Context, texts []string) ([][]float32, error)
	}
}

// NewEmbedderPinger constructs an EmbedderPinger for the given embedder.
func NewEmbedderPinger(e interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}) *EmbedderPinger {
	return &EmbedderPinger{embed: e}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return "embedder" }

// Ping embeds a single token and checks that a vector came back.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vecs, err := p.embed.Embed(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return fmt.Errorf("embed returned no vector")
	}
	return nil
}
