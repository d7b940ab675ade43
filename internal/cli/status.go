package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/novaledger/internal/client"
	"github.com/ppiankov/novaledger/internal/ledger"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a server's last scheduled chain verification (requires --server)",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if serverAddr == "" {
		return errors.New("status needs --server")
	}
	c, err := client.New(serverAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Status(context.Background())
	if err != nil {
		return err
	}
	if statusJSON {
		out, err := ledger.FormatJSON(st)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out)
		return nil
	}

	health := "HEALTHY"
	if !st.Healthy {
		health = "UNHEALTHY"
	}
	fmt.Fprintf(stdout, "%-9s %s\n", health, st.Message)
	fmt.Fprintf(stdout, "  checks:     %d\n", st.Checks)
	if st.CheckedAt != "" {
		fmt.Fprintf(stdout, "  checked at: %s\n", st.CheckedAt)
	}
	return nil
}
