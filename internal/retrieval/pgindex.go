package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PGIndexConfig holds connection parameters for the Postgres-backed shared
// knowledge index.
type PGIndexConfig struct {
	// DSN is the Postgres connection string.
	DSN string

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize int

	// MaxOpenConns caps the connection pool (default: 10).
	MaxOpenConns int
}

// PGIndex implements SharedIndex on Postgres with the pgvector extension.
// The knowledge_chunks table is pre-populated by the platform ingestion jobs;
// the retrieval path only reads from it.
type PGIndex struct {
	db       *sqlx.DB
	embedder Embedder
	log      *slog.Logger
}

// pgChunkRow mirrors one row of the knowledge_chunks table.
type pgChunkRow struct {
	ID         string  `db:"id"`
	Platform   string  `db:"platform"`
	Title      string  `db:"title"`
	URL        string  `db:"url"`
	Chunk      string  `db:"chunk"`
	CreatedAt  int64   `db:"created_at"`
	Similarity float64 `db:"similarity"`
}

// NewPGIndex connects to Postgres, ensures the pgvector extension and the
// knowledge_chunks schema exist, and returns the index.
func NewPGIndex(ctx context.Context, cfg *PGIndexConfig, embedder Embedder, logger *slog.Logger) (*PGIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("pgindex: embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgindex: failed to connect: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	idx := &PGIndex{db: db, embedder: embedder, log: logger}
	if err := idx.ensureSchema(ctx, cfg.VectorSize); err != nil {
		db.Close()
		return nil, err
	}

	return idx, nil
}

// ensureSchema creates the pgvector extension and the knowledge_chunks table
// if they do not already exist.
func (p *PGIndex) ensureSchema(ctx context.Context, vectorSize int) error {
	if _, err := p.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgindex: failed to enable pgvector extension: %w", err)
	}

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS knowledge_chunks (
	id         TEXT PRIMARY KEY,
	platform   TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	url        TEXT NOT NULL DEFAULT '',
	chunk      TEXT NOT NULL,
	embedding  vector(%d) NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_platform ON knowledge_chunks (platform);`, vectorSize)

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("pgindex: failed to ensure schema: %w", err)
	}

	return nil
}

// ScoreKind declares the score direction of query hits. Queries compute
// 1 - cosine_distance, so the native score is already a similarity.
func (p *PGIndex) ScoreKind() ScoreKind { return ScoreSimilarity }

// Query embeds the text once and searches the requested platform, or every
// known platform when platform is PlatformAll. A failing platform in an
// all-platforms search is logged and skipped; the query errors only when no
// platform could be searched at all.
func (p *PGIndex) Query(ctx context.Context, text, platform string, topK int) ([]Hit, error) {
	vectors, err := p.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("pgindex: embedding query failed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("pgindex: embedder returned empty result for query")
	}
	vec := pgvector.NewVector(vectors[0])

	platforms := []string{platform}
	if platform == PlatformAll {
		platforms = Platforms
	}

	var hits []Hit
	var failures []error
	for _, pl := range platforms {
		platformHits, err := p.queryPlatform(ctx, vec, pl, topK)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				p.log.Warn("pgindex: platform query failed",
					slog.String("platform", pl),
					slog.String("pq_code", string(pqErr.Code)),
					slog.Any("error", err),
				)
			} else {
				p.log.Warn("pgindex: platform query failed",
					slog.String("platform", pl),
					slog.Any("error", err),
				)
			}
			failures = append(failures, fmt.Errorf("%s: %w", pl, err))
			continue
		}
		hits = append(hits, platformHits...)
	}

	if len(failures) == len(platforms) {
		return nil, fmt.Errorf("pgindex: every platform query failed: %w", errors.Join(failures...))
	}

	return hits, nil
}

// queryPlatform runs the similarity search for one platform tag.
func (p *PGIndex) queryPlatform(ctx context.Context, vec pgvector.Vector, platform string, topK int) ([]Hit, error) {
	query, args, err := sq.Select("id", "platform", "title", "url", "chunk", "created_at").
		Column(sq.Expr("1 - (embedding <=> ?) AS similarity", vec)).
		From("knowledge_chunks").
		Where(sq.Eq{"platform": platform}).
		OrderBy("similarity DESC").
		Limit(uint64(topK)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgindex: failed to build query: %w", err)
	}

	var rows []pgChunkRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("pgindex: query failed: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, Hit{
			Chunk: Chunk{
				ID:         row.ID,
				Text:       row.Chunk,
				SourceType: SourcePost,
				SourceID:   row.ID,
				Locator:    row.URL,
				Title:      row.Title,
				CreatedAt:  time.Unix(row.CreatedAt, 0),
			},
			Score: row.Similarity,
		})
	}

	return hits, nil
}

// Upsert stores a batch of shared chunks. Used by the offline platform
// ingestion jobs; the retrieval path never writes.
func (p *PGIndex) Upsert(ctx context.Context, platform string, chunks []Chunk) error {
	if !KnownPlatform(platform) || platform == PlatformAll {
		return fmt.Errorf("pgindex: cannot upsert into platform %q", platform)
	}

	builder := sq.Insert("knowledge_chunks").
		Columns("id", "platform", "title", "url", "chunk", "embedding", "created_at").
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			chunk = EXCLUDED.chunk,
			embedding = EXCLUDED.embedding`).
		PlaceholderFormat(sq.Dollar)

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("pgindex: chunk %s has no embedding", c.ID)
		}
		builder = builder.Values(c.ID, platform, c.Title, c.Locator, c.Text,
			pgvector.NewVector(c.Embedding), c.CreatedAt.Unix())
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("pgindex: failed to build upsert: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("pgindex: upsert failed: %w", err)
	}

	return nil
}

// Ping probes the database for readiness checks.
func (p *PGIndex) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pgindex: ping failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *PGIndex) Close() error {
	return p.db.Close()
}
