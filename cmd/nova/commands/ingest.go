package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nova-rag/nova-go/internal/ingestion"
	"github.com/nova-rag/nova-go/internal/logging"
)

// NewIngestCmd constructs the `nova ingest` command group, which indexes
// local files, web pages, and platform post batches without going through
// the HTTP API.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index documents, datasets, web pages, or post batches",
		Long: `Index content into the vector stores from the command line.

document, dataset, and web index into your private store; the resulting
source id can be used as a chat or search target. posts bulk-loads a scraped
platform batch into the shared knowledge index.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: nova-artifacts)
  EMBEDDING_*          Embedding backend overrides (see README)
  KNOWLEDGE_PG_DSN     Postgres DSN for the shared index (posts only)`,
	}

	cmd.AddCommand(
		newIngestDocumentCmd(),
		newIngestDatasetCmd(),
		newIngestWebCmd(),
		newIngestPostsCmd(),
	)
	return cmd
}

// newIngestDocumentCmd indexes a local text document. Pages are separated by
// form feed characters, matching the extractors' output convention.
func newIngestDocumentCmd() *cobra.Command {
	var title string
	var user string

	cmd := &cobra.Command{
		Use:   "document [file]",
		Short: "Index a local text document",
		Long: `Index the extracted text of a document into your private store.

The file is plain text; form feed characters (\f) mark page boundaries so
citations can point at the right page. Without any, the whole file is
indexed as page 1.

Examples:
  nova ingest document ./report.txt --title "Q3 report"
  pdftotext report.pdf - | nova ingest document /dev/stdin --title report.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if title == "" {
				title = filepath.Base(args[0])
			}

			pipeline, cleanup, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer cleanup()

			pages := strings.Split(string(data), "\f")
			sourceID, err := pipeline.IngestDocument(ctx, user, title, pages)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("document indexed",
				slog.String("source_id", sourceID),
				slog.String("title", title),
				slog.Int("pages", len(pages)),
			)
			fmt.Printf("Indexed %q as document:%s\n", title, sourceID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Display title (default: file name)")
	cmd.Flags().StringVarP(&user, "user", "u", "local", "User scope that owns the artifact")
	return cmd
}

// newIngestDatasetCmd indexes a local CSV dataset.
func newIngestDatasetCmd() *cobra.Command {
	var title string
	var user string

	cmd := &cobra.Command{
		Use:   "dataset [file]",
		Short: "Index a local CSV dataset",
		Long: `Index a CSV file into your private store.

Rows are grouped into chunks that repeat the header, so every retrieved
excerpt is self-describing and citations carry the row range.

Example:
  nova ingest dataset ./sales.csv --title "2025 sales"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer f.Close()
			if title == "" {
				title = filepath.Base(args[0])
			}

			pipeline, cleanup, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer cleanup()

			sourceID, err := pipeline.IngestDataset(ctx, user, title, f)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("dataset indexed", slog.String("source_id", sourceID), slog.String("title", title))
			fmt.Printf("Indexed %q as dataset:%s\n", title, sourceID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Display title (default: file name)")
	cmd.Flags().StringVarP(&user, "user", "u", "local", "User scope that owns the artifact")
	return cmd
}

// newIngestWebCmd fetches and indexes a web page.
func newIngestWebCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "web [url]",
		Short: "Fetch and index a web page",
		Long: `Fetch a web page, strip its markup, and index the text into your
private store. The page URL becomes the citation locator.

Example:
  nova ingest web https://go.dev/blog/pipelines`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			pipeline, cleanup, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer cleanup()

			sourceID, err := pipeline.IngestWebPage(ctx, user, args[0])
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("web page indexed", slog.String("source_id", sourceID), slog.String("url", args[0]))
			fmt.Printf("Indexed %s as web:%s\n", args[0], sourceID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "local", "User scope that owns the artifact")
	return cmd
}

// postFile is the JSON batch format consumed by `nova ingest posts`.
type postFile struct {
	Posts []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		URL   string `json:"url"`
		Body  string `json:"body"`
	} `json:"posts"`
}

// newIngestPostsCmd bulk-loads a scraped post batch into the shared index.
func newIngestPostsCmd() *cobra.Command {
	var platform string

	cmd := &cobra.Command{
		Use:   "posts [file]",
		Short: "Load a scraped post batch into the shared knowledge index",
		Long: `Load a JSON batch of platform posts into the shared pgvector index.

The file holds {"posts": [{"id", "title", "url", "body"}, ...]}. Chunk ids
are derived from the post id, so re-running the same batch overwrites rather
than duplicates. Requires KNOWLEDGE_PG_DSN.

Without --platform the tag is inferred from the first post's URL host
(reddit.com, stackoverflow.com, github.com, dev.to, news.ycombinator.com).

Example:
  nova ingest posts ./reddit-golang.json --platform reddit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			var batch postFile
			if err := json.Unmarshal(data, &batch); err != nil {
				return fmt.Errorf("ingest: invalid post batch: %w", err)
			}
			if len(batch.Posts) == 0 {
				return fmt.Errorf("ingest: post batch is empty")
			}

			if platform == "" {
				platform = ingestion.InferPlatform(batch.Posts[0].URL)
			}
			if platform == "" {
				return fmt.Errorf("ingest: could not infer platform from post URLs, pass --platform")
			}

			pipeline, cleanup, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer cleanup()

			posts := make([]ingestion.Post, len(batch.Posts))
			for i, p := range batch.Posts {
				posts[i] = ingestion.Post{ID: p.ID, Title: p.Title, URL: p.URL, Body: p.Body}
			}

			log.Info("loading post batch", slog.String("platform", platform), slog.Int("posts", len(posts)))
			if err := pipeline.IngestPosts(ctx, platform, posts); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Printf("Loaded %d posts into the %s shared index\n", len(posts), platform)
			return nil
		},
	}

	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform tag for the batch (default: inferred from post URLs)")
	return cmd
}

// buildPipeline constructs an ingestion pipeline over the env-configured
// stores and returns a cleanup func that closes them.
func buildPipeline(ctx context.Context, log *slog.Logger) (*ingestion.Pipeline, func(), error) {
	rc, err := buildRetrieval(ctx, log, nil)
	if err != nil {
		return nil, nil, err
	}

	var pipeline *ingestion.Pipeline
	if rc.shared != nil {
		pipeline, err = ingestion.NewPipeline(rc.emb, rc.scoped, rc.shared, rc.catalog, nil)
	} else {
		pipeline, err = ingestion.NewPipeline(rc.emb, rc.scoped, nil, rc.catalog, nil)
	}
	if err != nil {
		rc.close()
		return nil, nil, err
	}
	return pipeline, rc.close, nil
}
