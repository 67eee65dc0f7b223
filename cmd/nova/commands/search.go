package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nova-rag/nova-go/internal/logging"
	"github.com/nova-rag/nova-go/internal/retrieval"
)

// NewSearchCmd constructs the `nova search` command, which runs the retrieval
// pipeline without the model and prints the assembled context and citations.
func NewSearchCmd() *cobra.Command {
	var targetFlags []string
	var platform string
	var user string
	var topK int
	var budgetChars int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search your indexed sources without invoking the model",
		Long: `Run the retrieval pipeline for a query and print what the model would see.

Useful for debugging relevance: the output is the assembled context followed
by the citation list, ranked highest first. --json prints the raw result
instead.

Examples:
  nova search "quarterly revenue" --target document:3f2a91c4
  nova search "goroutine leaks" --platform reddit --top-k 20
  nova search "error budgets" --json | jq '.sources'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			targets, err := parseTargets(targetFlags)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			rc, err := buildRetrieval(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer rc.close()

			result, err := rc.orch.Retrieve(ctx, retrieval.Request{
				Query:       args[0],
				UserScope:   user,
				Targets:     targets,
				Platform:    platform,
				TopK:        topK,
				BudgetChars: budgetChars,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Context  string                `json:"context"`
					Sources  []retrieval.SourceRef `json:"sources"`
					Included int                   `json:"included"`
				}{result.Text, result.Sources, result.Included})
			}

			if result.Empty() {
				fmt.Println("No relevant content found.")
				return nil
			}
			fmt.Println(result.Text)
			printSources(os.Stdout, result.Sources)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&targetFlags, "target", "t", nil, "Indexed artifact to search, as type:id (repeatable)")
	cmd.Flags().StringVar(&platform, "platform", "", "Limit shared-index search to one platform (e.g. reddit)")
	cmd.Flags().StringVarP(&user, "user", "u", "local", "User scope owning the targets")
	cmd.Flags().IntVarP(&topK, "top-k", "k", getEnvInt("RETRIEVAL_TOP_K", 0), "Per-target result count (0 = default)")
	cmd.Flags().IntVar(&budgetChars, "budget", getEnvInt("RETRIEVAL_BUDGET_CHARS", 0), "Assembled context budget in characters (0 = default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw retrieval result as JSON")

	return cmd
}
