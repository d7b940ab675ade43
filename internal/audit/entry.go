package audit

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ppiankov/novaledger/internal/ledger"
)

// Line is one entry in a JSONL ledger export. Field order is fixed and
// content is the canonical JSON document, so an export can be re-hashed
// without the database.
type Line struct {
	ID             string          `json:"id"`
	Sequence       int64           `json:"sequence_number"`
	PreviousHash   string          `json:"previous_hash"`
	EntryHash      string          `json:"entry_hash"`
	Timestamp      string          `json:"timestamp"`
	EntryType      string          `json:"entry_type"`
	AuthorRole     string          `json:"author_role"`
	AuthorMemberID string          `json:"author_member_id"`
	Content        json.RawMessage `json:"content"`
	Supersedes     *string         `json:"supersedes"`
	Emergency      bool            `json:"emergency_designation"`
}

// ToLine converts a ledger entry for export.
func ToLine(e *ledger.Entry) Line {
	l := Line{
		ID:             e.ID.String(),
		Sequence:       e.Sequence,
		PreviousHash:   e.PreviousHash,
		EntryHash:      e.EntryHash,
		Timestamp:      ledger.FormatTimestamp(e.Timestamp),
		EntryType:      e.EntryType,
		AuthorRole:     e.AuthorRole,
		AuthorMemberID: e.AuthorMemberID,
		Content:        json.RawMessage(e.Content.Canonical()),
		Emergency:      e.Emergency,
	}
	if e.Supersedes != nil {
		s := e.Supersedes.String()
		l.Supersedes = &s
	}
	return l
}

// Entry converts an exported line back into a ledger entry. Fields must be
// spelled exactly as ToLine writes them.
func (l Line) Entry() (*ledger.Entry, error) {
	id, err := uuid.Parse(l.ID)
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	ts, err := ledger.ParseTimestamp(l.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	content, err := ledger.ParseValue(l.Content)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	e := &ledger.Entry{
		ID:             id,
		Sequence:       l.Sequence,
		PreviousHash:   l.PreviousHash,
		EntryHash:      l.EntryHash,
		Timestamp:      ts,
		EntryType:      l.EntryType,
		AuthorRole:     l.AuthorRole,
		AuthorMemberID: l.AuthorMemberID,
		Content:        content,
		Emergency:      l.Emergency,
	}
	if l.Supersedes != nil {
		sid, err := uuid.Parse(*l.Supersedes)
		if err != nil {
			return nil, fmt.Errorf("supersedes: %w", err)
		}
		e.Supersedes = &sid
	}
	if err := ledger.CheckStoredForm(e, l.ID, l.Timestamp, l.Content, l.Supersedes); err != nil {
		return nil, err
	}
	return e, nil
}

func decodeLine(raw []byte) (*ledger.Entry, error) {
	var l Line
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return l.Entry()
}
