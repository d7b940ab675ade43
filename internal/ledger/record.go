package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// entryRecord is the persisted row. Timestamps and content are stored as
// their canonical text so every backend returns exactly the bytes that were
// hashed.
type entryRecord struct {
	ID             string  `gorm:"column:id;primaryKey;size:36"`
	Sequence       int64   `gorm:"column:sequence_number;not null;uniqueIndex:ux_ledger_sequence"`
	PreviousHash   string  `gorm:"column:previous_hash;size:64;not null"`
	EntryHash      string  `gorm:"column:entry_hash;size:64;not null;uniqueIndex:ux_ledger_entry_hash"`
	Timestamp      string  `gorm:"column:recorded_at;size:32;not null;index:ix_ledger_entry_type_timestamp,priority:2"`
	EntryType      string  `gorm:"column:entry_type;size:50;not null;index:ix_ledger_entry_type_timestamp,priority:1"`
	AuthorRole     string  `gorm:"column:author_role;size:100;not null;index:ix_ledger_author_role"`
	AuthorMemberID string  `gorm:"column:author_member_id;size:100;not null;index:ix_ledger_author_member"`
	Content        string  `gorm:"column:content;type:text;not null"`
	Supersedes     *string `gorm:"column:supersedes;size:36;index:ix_ledger_supersedes"`
	Emergency      bool    `gorm:"column:emergency_designation;not null;index:ix_ledger_emergency"`
}

func (entryRecord) TableName() string {
	return TableName
}

// TableName is the append-only table holding the chain.
const TableName = "ledger_entries"

func toRecord(e *Entry) *entryRecord {
	rec := &entryRecord{
		ID:             e.ID.String(),
		Sequence:       e.Sequence,
		PreviousHash:   e.PreviousHash,
		EntryHash:      e.EntryHash,
		Timestamp:      FormatTimestamp(e.Timestamp),
		EntryType:      e.EntryType,
		AuthorRole:     e.AuthorRole,
		AuthorMemberID: e.AuthorMemberID,
		Content:        string(e.Content.Canonical()),
		Emergency:      e.Emergency,
	}
	if e.Supersedes != nil {
		s := e.Supersedes.String()
		rec.Supersedes = &s
	}
	return rec
}

func (r *entryRecord) toEntry() (*Entry, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("decode entry %d: id: %w", r.Sequence, err)
	}
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("decode entry %d: timestamp: %w", r.Sequence, err)
	}
	content, err := ParseValue([]byte(r.Content))
	if err != nil {
		return nil, fmt.Errorf("decode entry %d: content: %w", r.Sequence, err)
	}
	e := &Entry{
		ID:             id,
		Sequence:       r.Sequence,
		PreviousHash:   r.PreviousHash,
		EntryHash:      r.EntryHash,
		Timestamp:      ts,
		EntryType:      r.EntryType,
		AuthorRole:     r.AuthorRole,
		AuthorMemberID: r.AuthorMemberID,
		Content:        content,
		Emergency:      r.Emergency,
	}
	if r.Supersedes != nil {
		sid, err := uuid.Parse(*r.Supersedes)
		if err != nil {
			return nil, fmt.Errorf("decode entry %d: supersedes: %w", r.Sequence, err)
		}
		e.Supersedes = &sid
	}
	return e, nil
}

// toStoredEntry decodes r and requires every text column to be exactly what
// Append writes for the decoded entry.
func (r *entryRecord) toStoredEntry() (*Entry, error) {
	e, err := r.toEntry()
	if err != nil {
		return nil, err
	}
	if err := CheckStoredForm(e, r.ID, r.Timestamp, []byte(r.Content), r.Supersedes); err != nil {
		return nil, fmt.Errorf("decode entry %d: %w", r.Sequence, err)
	}
	return e, nil
}

// CheckStoredForm compares stored text against the canonical encoding of e.
// Decoding accepts equivalent spellings (uuid case, JSON spacing, number
// forms) that the entry hash does not see.
func CheckStoredForm(e *Entry, id, timestamp string, content []byte, supersedes *string) error {
	switch {
	case e.ID.String() != id:
		return fmt.Errorf("%w: id %q", ErrNonCanonical, id)
	case FormatTimestamp(e.Timestamp) != timestamp:
		return fmt.Errorf("%w: timestamp %q", ErrNonCanonical, timestamp)
	case !bytes.Equal(e.Content.Canonical(), content):
		return fmt.Errorf("%w: content", ErrNonCanonical)
	}
	switch {
	case (e.Supersedes == nil) != (supersedes == nil):
		return fmt.Errorf("%w: supersedes", ErrNonCanonical)
	case supersedes != nil && e.Supersedes.String() != *supersedes:
		return fmt.Errorf("%w: supersedes %q", ErrNonCanonical, *supersedes)
	}
	return nil
}

func toEntries(recs []entryRecord) ([]Entry, error) {
	out := make([]Entry, 0, len(recs))
	for i := range recs {
		e, err := recs[i].toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// isUniqueViolation recognizes a rejected duplicate across the supported
// drivers, with or without gorm's error translation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// isBusy recognizes SQLite refusing a write because another connection holds
// the lock. The tip may have moved, so it is handled like a conflict.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy")
}
