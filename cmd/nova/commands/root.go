// Package commands defines all Cobra CLI commands for the nova binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/nova-rag/nova-go/internal/audit"
	"github.com/nova-rag/nova-go/internal/config"
	"github.com/nova-rag/nova-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nova",
		Short: "Nova — retrieval-augmented chat over your own sources",
		Long: `Nova is a retrieval-augmented chat backend.

It indexes your documents, CSV datasets, and saved web pages into a private
vector store, searches a shared knowledge index of community posts, and
answers questions grounded in the retrieved excerpts with citations back to
the exact page, row range, or URL.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.nova/config.yaml).
See 'nova --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.nova/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewSearchCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
