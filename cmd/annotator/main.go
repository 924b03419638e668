package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "annotator",
		Short:         "Batch statement classification and embeddings",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (.yaml or .toml)")

	root.AddCommand(
		newRunCmd(&configPath),
		newOnceCmd(&configPath),
		newStatsCmd(&configPath),
		newAuditCmd(&configPath),
		newItemsCmd(&configPath),
		newFlagsCmd(&configPath),
		newEmbeddingCmd(&configPath),
		newMCPCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
