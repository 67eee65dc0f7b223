// Command nova is the entry point for the Nova retrieval-augmented chat
// backend. It provides a CLI interface (via Cobra) and an HTTP server
// exposing chat, search, and ingestion endpoints.
package main

import (
	"fmt"
	"os"

	"github.com/nova-rag/nova-go/cmd/nova/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
