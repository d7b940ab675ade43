package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	novamcp "github.com/ppiankov/novaledger/internal/mcp"
)

var mcpReadOnly bool

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().BoolVar(&mcpReadOnly, "read-only", false, "Expose only verify and query tools")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs the ledger as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: ledger_append, ledger_verify, ledger_get, ledger_latest, ledger_search.\n" +
		"With --server the tools call a running ledger server instead of the local database.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	srv, err := novamcp.New(novamcp.Config{
		Version:  version,
		ReadOnly: mcpReadOnly,
		Logger:   logger,
	}, b)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(os.Stderr, "novaledger MCP server running on stdio")
	if serverAddr != "" {
		fmt.Fprintf(os.Stderr, "Server: %s\n", serverAddr)
	}
	if mcpReadOnly {
		fmt.Fprintln(os.Stderr, "Mode: read-only")
	}
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}
