package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nova-rag/nova-go/internal/answer"
	"github.com/nova-rag/nova-go/internal/ingestion"
	"github.com/nova-rag/nova-go/internal/logging"
	"github.com/nova-rag/nova-go/internal/provider"
	"github.com/nova-rag/nova-go/internal/retrieval"
	"github.com/nova-rag/nova-go/internal/server"
	"github.com/nova-rag/nova-go/internal/tracing"
)

// NewServeCmd constructs the `nova serve` command, which starts the HTTP
// server exposing the chat, search, sources, and ingestion API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Nova HTTP server",
		Long: `Start the Nova HTTP server on localhost.

The server exposes a REST/SSE API: POST /api/chat streams grounded answers
with citations, POST /api/search returns raw retrieval results, and the
/api/sources and /api/ingest endpoints manage the caller's indexed artifacts.

Examples:
  nova serve
  nova serve --port 9090
  MODEL_PROVIDER=azure nova serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing: opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			// Server, retrieval, and chat metrics share the default registry
			// exposed on GET /metrics.
			retrievalMetrics := retrieval.NewMetrics(prometheus.DefaultRegisterer)

			rc, err := buildRetrieval(ctx, log, retrievalMetrics)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rc.close()

			answerSvc, err := answer.NewService(&answer.Config{
				ChatModel: chatModel,
				Retriever: rc.orch,
				History:   rc.catalog,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise answer service: %w", err)
			}

			// The nil branch avoids handing the pipeline a typed-nil
			// interface when the shared index is not configured.
			var pipeline *ingestion.Pipeline
			if rc.shared != nil {
				pipeline, err = ingestion.NewPipeline(rc.emb, rc.scoped, rc.shared, rc.catalog, nil)
			} else {
				pipeline, err = ingestion.NewPipeline(rc.emb, rc.scoped, nil, rc.catalog, nil)
			}
			if err != nil {
				return fmt.Errorf("serve: failed to create ingestion pipeline: %w", err)
			}

			pingers := []server.Pinger{
				server.NewEmbedderPinger(rc.emb),
				server.NewDepPinger("qdrant", rc.scoped),
				server.NewDepPinger("catalog", rc.catalog),
			}
			if rc.shared != nil {
				pingers = append(pingers, server.NewDepPinger("postgres", rc.shared))
			}

			srv, err := server.New(server.Deps{
				Answerer:  answerSvc,
				Searcher:  rc.orch,
				Artifacts: rc.catalog,
				Chunks:    rc.scoped,
				Ingest:    pipeline,
			}, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				APIToken:  os.Getenv("NOVA_API_TOKEN"),
				RateLimit: getEnvFloat64("SERVER_RATE_LIMIT", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("SERVER_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("SERVER_PORT", 8080), "TCP port to listen on")

	return cmd
}
