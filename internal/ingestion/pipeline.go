// Package ingestion implements the artifact ingestion pipeline. It turns
// uploaded documents, tabular datasets, and scraped web pages into embedded
// chunks in the user-scoped vector store, and platform post batches into the
// shared knowledge index. Invoked by the HTTP upload handlers and the
// `nova ingest` CLI command.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nova-rag/nova-go/internal/retrieval"
)

// Chunking geometry. Matching the batch shape the stores were populated with
// keeps old and new chunks comparable in a single ranking.
const (
	// defaultChunkSize is the maximum number of characters per text chunk.
	defaultChunkSize = 1000
	// defaultChunkOverlap is the number of characters shared between
	// consecutive chunks.
	defaultChunkOverlap = 200
	// rowsPerChunk is the number of CSV rows grouped into one dataset chunk.
	rowsPerChunk = 50
)

// artifactCatalog is the subset of the catalog the pipeline needs for the
// processing lifecycle.
type artifactCatalog interface {
	CreateArtifact(ctx context.Context, a *retrieval.Artifact) error
	SetArtifactStatus(ctx context.Context, sourceType retrieval.SourceType, sourceID string, status retrieval.ArtifactStatus) error
}

// sharedWriter is the write side of the shared knowledge index.
type sharedWriter interface {
	Upsert(ctx context.Context, platform string, chunks []retrieval.Chunk) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between consecutive
	// chunks. Defaults to 200 if zero.
	ChunkOverlap int

	// HTTPTimeout is the timeout for each web page fetch.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Pipeline orchestrates the extract, chunk, embed, upsert flow for every
// artifact kind. Scoped artifacts additionally move through the catalog's
// processing lifecycle so retrieval never sees a half-embedded artifact.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder retrieval.Embedder

	// scoped persists user-owned chunks.
	scoped retrieval.ScopedStore

	// shared persists platform post chunks. May be nil when only scoped
	// ingestion is configured.
	shared sharedWriter

	// catalog tracks artifact ownership and processing status.
	catalog artifactCatalog

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient is the HTTP client used for fetching web pages.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder retrieval.Embedder, scoped retrieval.ScopedStore, shared sharedWriter, cat artifactCatalog, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if scoped == nil {
		return nil, fmt.Errorf("ingestion: scoped store must not be nil")
	}
	if cat == nil {
		return nil, fmt.Errorf("ingestion: catalog must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = defaultChunkOverlap
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "nova-go/1.0 (artifact ingestion)"
	}

	return &Pipeline{
		embedder: embedder,
		scoped:   scoped,
		shared:   shared,
		catalog:  cat,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}, nil
}

// IngestDocument ingests one document as a slice of page texts, already
// extracted by the upload handler. Each page is chunked separately so every
// chunk carries a "Page N" locator. Returns the new artifact's source id.
func (p *Pipeline) IngestDocument(ctx context.Context, ownerScope, title string, pages []string) (string, error) {
	sourceID := uuid.NewString()

	var chunks []retrieval.Chunk
	for pageNo, page := range pages {
		locator := fmt.Sprintf("Page %d", pageNo+1)
		for i, text := range p.chunk(page) {
			chunks = append(chunks, retrieval.Chunk{
				ID:         chunkID(sourceID, locator, i),
				Text:       text,
				OwnerScope: ownerScope,
				SourceType: retrieval.SourceDocument,
				SourceID:   sourceID,
				Locator:    locator,
				Title:      title,
			})
		}
	}

	if err := p.ingestScoped(ctx, retrieval.SourceDocument, sourceID, ownerScope, title, chunks); err != nil {
		return "", err
	}
	return sourceID, nil
}

// IngestDataset ingests one CSV dataset. Rows are grouped into fixed-size
// batches and each batch rendered as one chunk with a "Rows A-B" locator, so
// a citation can point back at the exact slice of the file. The header row is
// repeated in every chunk to keep each batch self-describing for the model.
func (p *Pipeline) IngestDataset(ctx context.Context, ownerScope, title string, r io.Reader) (string, error) {
	sourceID := uuid.NewString()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return "", fmt.Errorf("ingestion: dataset %q is empty", title)
	}
	if err != nil {
		return "", fmt.Errorf("ingestion: reading csv header: %w", err)
	}

	var chunks []retrieval.Chunk
	var batch []string
	firstRow := 1
	row := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		locator := fmt.Sprintf("Rows %d-%d", firstRow, firstRow+len(batch)-1)
		text := strings.Join(header, ", ") + "\n" + strings.Join(batch, "\n")
		chunks = append(chunks, retrieval.Chunk{
			ID:         chunkID(sourceID, locator, 0),
			Text:       text,
			OwnerScope: ownerScope,
			SourceType: retrieval.SourceDataset,
			SourceID:   sourceID,
			Locator:    locator,
			Title:      title,
		})
		firstRow += len(batch)
		batch = batch[:0]
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("ingestion: reading csv row %d: %w", row+1, err)
		}
		row++
		batch = append(batch, strings.Join(record, ", "))
		if len(batch) == rowsPerChunk {
			flush()
		}
	}
	flush()

	if err := p.ingestScoped(ctx, retrieval.SourceDataset, sourceID, ownerScope, title, chunks); err != nil {
		return "", err
	}
	return sourceID, nil
}

// IngestWebPage fetches a URL, chunks the page text, and ingests it as a web
// artifact. The URL doubles as the locator so citations link straight back.
func (p *Pipeline) IngestWebPage(ctx context.Context, ownerScope, url string) (string, error) {
	content, err := p.fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("ingestion: fetch failed for %s: %w", url, err)
	}

	sourceID := uuid.NewString()
	title := PageTitle(url)

	var chunks []retrieval.Chunk
	for i, text := range p.chunk(content) {
		chunks = append(chunks, retrieval.Chunk{
			ID:         chunkID(sourceID, url, i),
			Text:       text,
			OwnerScope: ownerScope,
			SourceType: retrieval.SourceWebPage,
			SourceID:   sourceID,
			Locator:    url,
			Title:      title,
		})
	}

	if err := p.ingestScoped(ctx, retrieval.SourceWebPage, sourceID, ownerScope, title, chunks); err != nil {
		return "", err
	}
	return sourceID, nil
}

// Post is one external platform post to be ingested into the shared index.
type Post struct {
	// ID is the platform-native post identifier.
	ID string
	// Title is the post title.
	Title string
	// URL links back to the original post.
	URL string
	// Body is the post text.
	Body string
}

// IngestPosts chunks and embeds a batch of platform posts into the shared
// knowledge index. Shared chunks have no owner and no catalog record; the
// deterministic chunk id keys deduplication across repeated scrape runs.
func (p *Pipeline) IngestPosts(ctx context.Context, platform string, posts []Post) error {
	if p.shared == nil {
		return fmt.Errorf("ingestion: no shared index configured")
	}

	var chunks []retrieval.Chunk
	for _, post := range posts {
		for i, text := range p.chunk(post.Body) {
			chunks = append(chunks, retrieval.Chunk{
				ID:         chunkID(post.ID, platform, i),
				Text:       text,
				SourceType: retrieval.SourcePost,
				SourceID:   post.ID,
				Locator:    post.URL,
				Title:      post.Title,
				CreatedAt:  time.Now(),
			})
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	if err := p.embedChunks(ctx, chunks); err != nil {
		return fmt.Errorf("ingestion: embedding %s posts: %w", platform, err)
	}
	if err := p.shared.Upsert(ctx, platform, chunks); err != nil {
		return fmt.Errorf("ingestion: upserting %s posts: %w", platform, err)
	}
	return nil
}

// ingestScoped runs the catalog lifecycle around embedding and storing one
// user-owned artifact: register as processing, embed and upsert every chunk,
// then flip to ready. Any failure flips the artifact to failed instead so
// retrieval treats it as empty rather than serving a partial embedding.
func (p *Pipeline) ingestScoped(ctx context.Context, sourceType retrieval.SourceType, sourceID, ownerScope, title string, chunks []retrieval.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("ingestion: %s %q produced no chunks", sourceType, title)
	}

	err := p.catalog.CreateArtifact(ctx, &retrieval.Artifact{
		SourceType: sourceType,
		SourceID:   sourceID,
		OwnerScope: ownerScope,
		Title:      title,
		Status:     retrieval.StatusProcessing,
	})
	if err != nil {
		return fmt.Errorf("ingestion: registering artifact: %w", err)
	}

	now := time.Now()
	for i := range chunks {
		chunks[i].CreatedAt = now
	}

	if err := p.embedChunks(ctx, chunks); err != nil {
		p.markFailed(ctx, sourceType, sourceID)
		return fmt.Errorf("ingestion: embedding %s %q: %w", sourceType, title, err)
	}
	if err := p.scoped.Upsert(ctx, chunks); err != nil {
		p.markFailed(ctx, sourceType, sourceID)
		return fmt.Errorf("ingestion: upserting %s %q: %w", sourceType, title, err)
	}

	if err := p.catalog.SetArtifactStatus(ctx, sourceType, sourceID, retrieval.StatusReady); err != nil {
		return fmt.Errorf("ingestion: marking artifact ready: %w", err)
	}
	return nil
}

// embedChunks fills in the Embedding field of every chunk in one batch call.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []retrieval.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(embeddings))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}
	return nil
}

// markFailed flips the artifact to failed, keeping the original error as the
// caller's return value.
func (p *Pipeline) markFailed(ctx context.Context, sourceType retrieval.SourceType, sourceID string) {
	_ = p.catalog.SetArtifactStatus(ctx, sourceType, sourceID, retrieval.StatusFailed)
}

// fetch retrieves the raw text content of a URL.
func (p *Pipeline) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	return string(body), nil
}

// chunk splits text into overlapping chunks of cfg.ChunkSize bytes. Cut
// points back off to the nearest rune boundary so a multi-byte character is
// never split across chunks.
func (p *Pipeline) chunk(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(text); start += size - overlap {
		from := runeStart(text, start)
		end := start + size
		if end > len(text) {
			end = len(text)
		} else {
			end = runeStart(text, end)
		}
		chunks = append(chunks, text[from:end])
		if end == len(text) {
			break
		}
	}

	return chunks
}

// runeStart backs i off to the nearest UTF-8 rune boundary at or before i.
func runeStart(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// chunkID generates a deterministic UUID for a chunk from its source,
// locator, and index. Deterministic ids make repeated ingestion runs
// idempotent.
func chunkID(sourceID, locator string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%s#%d", sourceID, locator, index)))
	u, err := uuid.FromBytes(h[:16])
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}
