package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nova-rag/nova-go/internal/answer"
	"github.com/nova-rag/nova-go/internal/logging"
	"github.com/nova-rag/nova-go/internal/provider"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// NewAskCmd constructs the `nova ask` command, which answers a single
// question grounded in the caller's indexed sources and streams the answer
// to stdout.
func NewAskCmd() *cobra.Command {
	var targetFlags []string
	var platform string
	var sessionID string
	var user string
	var topK int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question grounded in your indexed sources",
		Long: `Ask a natural language question and stream a grounded answer to stdout.

With one or more --target flags the question is answered from those indexed
artifacts. Without targets the shared knowledge index is searched instead,
optionally narrowed to one platform with --platform.

Examples:
  nova ask "what did Q3 revenue look like?" --target document:3f2a91c4
  nova ask "how do people debug goroutine leaks?" --platform reddit
  nova ask "follow up: and Q4?" --session 8c1b2f90`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			targets, err := parseTargets(targetFlags)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			rc, err := buildRetrieval(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rc.close()

			svc, err := answer.NewService(&answer.Config{
				ChatModel: chatModel,
				Retriever: rc.orch,
				History:   rc.catalog,
			})
			if err != nil {
				return fmt.Errorf("ask: failed to initialise answer service: %w", err)
			}

			sink := &answer.Sink{
				OnToken: func(token string) error {
					_, err := fmt.Print(token)
					return err
				},
			}

			result, err := svc.Answer(ctx, answer.Request{
				SessionID: sessionID,
				UserScope: user,
				Question:  args[0],
				Targets:   targets,
				Platform:  platform,
				TopK:      topK,
			}, sink)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Println()

			printSources(os.Stdout, result.Sources)
			fmt.Printf("\nSession: %s (continue with --session %[1]s)\n", result.SessionID)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&targetFlags, "target", "t", nil, "Indexed artifact to search, as type:id (repeatable)")
	cmd.Flags().StringVar(&platform, "platform", "", "Limit shared-index search to one platform (e.g. reddit)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to continue a previous conversation")
	cmd.Flags().StringVarP(&user, "user", "u", "local", "User scope owning the targets and session")
	cmd.Flags().IntVarP(&topK, "top-k", "k", getEnvInt("RETRIEVAL_TOP_K", 0), "Per-target result count (0 = default)")

	return cmd
}

// printSources writes the numbered citation list for an answer.
func printSources(w *os.File, sources []retrieval.SourceRef) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for i, src := range sources {
		line := fmt.Sprintf("  %d. [%s] %s", i+1, src.SourceType, src.Title)
		if src.Locator != "" {
			line += ", " + src.Locator
		}
		fmt.Fprintln(w, line)
	}
}
