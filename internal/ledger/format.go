package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const separator = "──────────────────────────────────────────────────────────────────────────────────────────"

// FormatTable renders entries as a text listing in the given order.
func FormatTable(entries []Entry) string {
	if len(entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-6s %-26s %-24s %-19s %-19s %s\n",
		"SEQ", "TYPE", "AUTHOR", "HASH", "TIMESTAMP", "EMERGENCY"))
	b.WriteString(separator + "\n")

	for i := range entries {
		e := &entries[i]
		emergency := "-"
		if e.Emergency {
			emergency = "YES"
		}
		tag := ""
		if e.Supersedes != nil {
			tag = "  [supersedes " + ShortID(*e.Supersedes) + "]"
		}
		b.WriteString(fmt.Sprintf("%-6d %-26s %-24s %-19s %-19s %s%s\n",
			e.Sequence,
			truncate(e.EntryType, 26),
			truncate(e.AuthorRole, 24),
			shortHash(e.EntryHash),
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			emergency, tag))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(Summarize(entries)))
	return b.String()
}

// FormatEntry renders a single entry with every field.
func FormatEntry(e *Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sequence:      %d\n", e.Sequence)
	fmt.Fprintf(&b, "ID:            %s\n", e.ID)
	fmt.Fprintf(&b, "Type:          %s\n", e.EntryType)
	fmt.Fprintf(&b, "Author role:   %s\n", e.AuthorRole)
	fmt.Fprintf(&b, "Author member: %s\n", e.AuthorMemberID)
	fmt.Fprintf(&b, "Timestamp:     %s\n", FormatTimestamp(e.Timestamp))
	fmt.Fprintf(&b, "Emergency:     %t\n", e.Emergency)
	if e.Supersedes != nil {
		fmt.Fprintf(&b, "Supersedes:    %s\n", e.Supersedes)
	}
	fmt.Fprintf(&b, "Previous hash: %s\n", e.PreviousHash)
	fmt.Fprintf(&b, "Entry hash:    %s\n", e.EntryHash)

	content, err := json.MarshalIndent(e.Content.Interface(), "", "  ")
	if err != nil {
		content = e.Content.Canonical()
	}
	fmt.Fprintf(&b, "Content:\n%s\n", content)
	return b.String()
}

// FormatJSON renders any result as indented JSON.
func FormatJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

func formatSummary(s Summary) string {
	types := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%d %s", s.ByType[t], t))
	}
	line := fmt.Sprintf("Summary: %d entries (seq %d-%d) | %s",
		s.Total, s.FirstSequence, s.LastSequence, strings.Join(parts, ", "))
	if s.EmergencyCount > 0 {
		line += fmt.Sprintf(" | %d emergency", s.EmergencyCount)
	}
	return line + "\n"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
