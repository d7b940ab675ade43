package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/novaledger/internal/ledger"
)

var (
	showJSON bool

	tailLines int
	tailType  string

	listType   string
	listAuthor string
	listLimit  int
	listOffset int
	listJSON   bool

	searchType  string
	searchLimit int
	searchJSON  bool
)

func init() {
	rootCmd.AddCommand(showCmd, tailCmd, listCmd, searchCmd, countCmd)

	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the entry as JSON")

	tailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	tailCmd.Flags().StringVar(&tailType, "type", "", "Only entries of this type")

	listCmd.Flags().StringVar(&listType, "type", "", "Only entries of this type")
	listCmd.Flags().StringVar(&listAuthor, "author-role", "", "Only entries by this author role")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum entries")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip this many entries (with --type)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print entries as JSON")

	searchCmd.Flags().StringVar(&searchType, "type", "", "Only entries of this type")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum entries")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print entries as JSON")
}

var showCmd = &cobra.Command{
	Use:   "show <id|sequence>",
	Short: "Show one entry by id or sequence number",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent entries",
	RunE:  runTail,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, newest first, filtered by type or author role",
	RunE:  runList,
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Case-insensitive substring search over entry content",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of entries, genesis included",
	RunE:  runCount,
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	var e *ledger.Entry
	if id, perr := uuid.Parse(args[0]); perr == nil {
		e, err = b.GetEntry(ctx, id)
	} else if seq, serr := strconv.ParseInt(args[0], 10, 64); serr == nil {
		e, err = b.GetBySequence(ctx, seq)
	} else {
		return fmt.Errorf("%q is neither an entry id nor a sequence number", args[0])
	}
	if err != nil {
		return err
	}
	if e == nil {
		return errors.New("entry not found")
	}

	if showJSON {
		out, err := ledger.FormatJSON(e)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out)
		return nil
	}
	fmt.Fprint(stdout, ledger.FormatEntry(e))
	return nil
}

func runTail(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	var entries []ledger.Entry
	if tailType != "" {
		entries, err = b.GetByType(ctx, tailType, tailLines, 0)
	} else {
		entries, err = b.GetLatest(ctx, tailLines)
	}
	if err != nil {
		return err
	}
	return printEntries(entries, false)
}

func runList(cmd *cobra.Command, args []string) error {
	if listType != "" && listAuthor != "" {
		return errors.New("--type and --author-role cannot be combined")
	}
	ctx := context.Background()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	var entries []ledger.Entry
	switch {
	case listType != "":
		entries, err = b.GetByType(ctx, listType, listLimit, listOffset)
	case listAuthor != "":
		entries, err = b.GetByAuthor(ctx, listAuthor, listLimit)
	default:
		entries, err = b.GetLatest(ctx, listLimit)
	}
	if err != nil {
		return err
	}
	return printEntries(entries, listJSON)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	entries, err := b.SearchContent(ctx, args[0], searchType, searchLimit)
	if err != nil {
		return err
	}
	return printEntries(entries, searchJSON)
}

func runCount(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	n, err := b.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, n)
	return nil
}

func printEntries(entries []ledger.Entry, asJSON bool) error {
	if asJSON {
		out, err := ledger.FormatJSON(entries)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out)
		return nil
	}
	fmt.Fprint(stdout, ledger.FormatTable(entries))
	return nil
}
