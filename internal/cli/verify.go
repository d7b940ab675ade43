package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/novaledger/internal/ledger"
)

var (
	verifyVerbose bool
	verifyLimit   int
	verifyJSON    bool
)

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVarP(&verifyVerbose, "verbose", "v", false, "Also list the most recent entries")
	verifyCmd.Flags().IntVar(&verifyLimit, "limit", 50, "Entries to list with --verbose")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Print the result as JSON")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity of the ledger",
	Long: "Recomputes every entry hash from genesis forward and checks that each entry links\n" +
		"to the one before it. Exits 0 if the chain is intact, 1 if any entry was altered.",
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	start := time.Now()
	res, err := b.VerifyChain(ctx)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if verifyJSON {
		out, err := ledger.FormatJSON(res)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out)
	} else {
		if verifyVerbose {
			entries, err := b.GetLatest(ctx, verifyLimit)
			if err != nil {
				return err
			}
			fmt.Fprint(stdout, ledger.FormatTable(entries))
			fmt.Fprintln(stdout)
		}
		printVerifyResult(res, elapsed)
	}

	if !res.Valid {
		logger.Error("ledger integrity failure",
			"component", "cli",
			"message", res.Message,
		)
		return errChainInvalid
	}
	return nil
}

func printVerifyResult(res ledger.VerifyResult, elapsed time.Duration) {
	if res.Valid {
		fmt.Fprintf(stdout, "VALID    %s (%s)\n", res.Message, elapsed.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(stdout, "INVALID  %s\n", res.Message)
	if f := res.Failure; f != nil {
		fmt.Fprintf(stdout, "  first failing sequence: %d (%s)\n", f.Sequence, f.Kind)
		if f.Stored != "" || f.Computed != "" {
			fmt.Fprintf(stdout, "  stored:   %s\n", f.Stored)
			fmt.Fprintf(stdout, "  computed: %s\n", f.Computed)
		}
	}
	fmt.Fprintf(stdout, "  entries verified before failure: %d\n", res.Verified)
}
