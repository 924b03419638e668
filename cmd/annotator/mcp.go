package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/propolis-ai/annotator/pkg/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only annotation data as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var auditor mcp.AuditQuerier
			if a.audit != nil {
				auditor = a.audit
			}
			srv := mcp.New(a.store, a.tracker, auditor, a.cfg.Pricing, version, a.log.Named("mcp"))
			return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
