package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/novaledger/internal/ledger"
)

var (
	appendType       string
	appendRole       string
	appendMember     string
	appendContent    string
	appendSupersedes string
	appendEmergency  bool
	appendJSON       bool
)

// stdin feeds --content -. Tests swap it.
var stdin io.Reader = os.Stdin

func init() {
	rootCmd.AddCommand(appendCmd)
	appendCmd.Flags().StringVar(&appendType, "type", "", "Entry type, e.g. vote_record (required)")
	appendCmd.Flags().StringVar(&appendRole, "author-role", "", "Role of the author, e.g. legislative_agent (required)")
	appendCmd.Flags().StringVar(&appendMember, "member", "", "Member identifier of the author")
	appendCmd.Flags().StringVar(&appendContent, "content", "{}", "Entry payload as JSON, or - to read from stdin")
	appendCmd.Flags().StringVar(&appendSupersedes, "supersedes", "", "Id of the entry this one corrects")
	appendCmd.Flags().BoolVar(&appendEmergency, "emergency", false, "Mark as taken under emergency powers")
	appendCmd.Flags().BoolVar(&appendJSON, "json", false, "Print the recorded entry as JSON")
	appendCmd.MarkFlagRequired("type")
	appendCmd.MarkFlagRequired("author-role")
}

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append an entry to the ledger",
	Long: "Records a new entry after the current tip. Sequence number, timestamp and hashes\n" +
		"are assigned by the ledger. Entries are never edited; pass --supersedes to correct one.",
	RunE: runAppend,
}

func runAppend(cmd *cobra.Command, args []string) error {
	raw := []byte(appendContent)
	if appendContent == "-" {
		var err error
		if raw, err = io.ReadAll(stdin); err != nil {
			return fmt.Errorf("read content from stdin: %w", err)
		}
	}
	content, err := ledger.ParseValue(raw)
	if err != nil {
		return fmt.Errorf("invalid --content: %w", err)
	}

	req := ledger.AppendRequest{
		EntryType:      appendType,
		AuthorRole:     appendRole,
		AuthorMemberID: appendMember,
		Content:        content,
		Emergency:      appendEmergency,
	}
	if appendSupersedes != "" {
		id, err := uuid.Parse(appendSupersedes)
		if err != nil {
			return fmt.Errorf("invalid --supersedes %q: %w", appendSupersedes, err)
		}
		req.Supersedes = &id
	}

	ctx := context.Background()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	e, err := b.Append(ctx, req)
	if err != nil {
		return hint(err)
	}
	if appendJSON {
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
