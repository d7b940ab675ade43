package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/novaledger/internal/config"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the config file, the ledger schema and the genesis entry",
	Long: `Writes a default config file if none exists, creates the ledger table and
records the genesis entry (sequence 0). Safe to run again: an existing genesis
entry is left untouched.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := requireLocal("init"); err != nil {
		return err
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	wrote := false
	if _, err := os.Stat(path); os.IsNotExist(err) || initForce {
		if err := config.Write(path, appCfg); err != nil {
			return err
		}
		wrote = true
	}

	store, err := openStore(nil)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Initialize(ctx); err != nil {
		return err
	}
	genesis, err := store.GetBySequence(ctx, 0)
	if err != nil {
		return err
	}
	n, err := store.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, "novaledger init complete.")
	fmt.Fprintln(stdout)
	if wrote {
		fmt.Fprintf(stdout, "Config:   %s (created)\n", path)
	} else {
		fmt.Fprintf(stdout, "Config:   %s\n", path)
	}
	fmt.Fprintf(stdout, "Database: %s\n", appCfg.Database.String())
	fmt.Fprintf(stdout, "Genesis:  %s\n", genesis.EntryHash)
	fmt.Fprintf(stdout, "Entries:  %d\n", n)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Verify:")
	fmt.Fprintln(stdout, "  novaledger verify")
	return nil
}
