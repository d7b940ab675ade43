package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Default page sizes when a caller passes limit <= 0.
const (
	DefaultLatestLimit = 50
	DefaultListLimit   = 100
	DefaultSearchLimit = 50
)

// Filter narrows a listing. Zero fields don't filter. Results are ordered by
// sequence number, newest first.
type Filter struct {
	EntryType      string
	AuthorRole     string
	AuthorMemberID string
	Emergency      *bool
	Supersedes     *uuid.UUID
	Contains       string    // substring of the content JSON, case folded like the backend's LOWER()
	From           time.Time // zero value = no lower bound
	To             time.Time // zero value = no upper bound
	Limit          int
	Offset         int
}

// apply adds f to q. fold lower-cases the Contains term the way the
// backend's LOWER() folds stored content.
func (f Filter) apply(q *gorm.DB, fold func(string) string) *gorm.DB {
	if f.EntryType != "" {
		q = q.Where("entry_type = ?", f.EntryType)
	}
	if f.AuthorRole != "" {
		q = q.Where("author_role = ?", f.AuthorRole)
	}
	if f.AuthorMemberID != "" {
		q = q.Where("author_member_id = ?", f.AuthorMemberID)
	}
	if f.Emergency != nil {
		q = q.Where("emergency_designation = ?", *f.Emergency)
	}
	if f.Supersedes != nil {
		q = q.Where("supersedes = ?", f.Supersedes.String())
	}
	if f.Contains != "" {
		q = q.Where(`LOWER(content) LIKE ? ESCAPE '\'`, "%"+escapeLike(fold(f.Contains))+"%")
	}
	// Stored timestamps are fixed-width UTC text, so string order is time order.
	if !f.From.IsZero() {
		q = q.Where("recorded_at >= ?", FormatTimestamp(f.From))
	}
	if !f.To.IsZero() {
		q = q.Where("recorded_at <= ?", FormatTimestamp(f.To))
	}
	return q
}

// lowerFunc returns the case folding matching LOWER() on the store's backend.
// SQLite folds ASCII letters only; PostgreSQL folds per its locale.
func (s *Store) lowerFunc() func(string) string {
	if s.db.Dialector.Name() == "sqlite" {
		return asciiLower
	}
	return strings.ToLower
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Query returns entries matching f.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	var recs []entryRecord
	q := f.apply(s.db.WithContext(ctx).Model(&entryRecord{}), s.lowerFunc()).
		Order("sequence_number DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&recs)
	if q.Error != nil {
		return nil, fmt.Errorf("%w: query entries: %w", ErrStorageUnavailable, q.Error)
	}
	return toEntries(recs)
}

// GetEntry returns the entry with the given id, or nil when absent.
func (s *Store) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.getOne(ctx, "id = ?", id.String())
}

// GetBySequence returns the entry at sequence n, or nil when absent.
func (s *Store) GetBySequence(ctx context.Context, n int64) (*Entry, error) {
	return s.getOne(ctx, "sequence_number = ?", n)
}

// Tip returns the entry with the highest sequence number, or nil when the
// ledger is empty.
func (s *Store) Tip(ctx context.Context) (*Entry, error) {
	var rec entryRecord
	res := s.db.WithContext(ctx).Order("sequence_number DESC").Limit(1).Find(&rec)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: read tip: %w", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return rec.toEntry()
}

// Range returns up to limit entries with sequence numbers greater than after,
// oldest first. Pass after = -1 to start at genesis.
func (s *Store) Range(ctx context.Context, after int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	var recs []entryRecord
	q := s.db.WithContext(ctx).
		Where("sequence_number > ?", after).
		Order("sequence_number ASC").
		Limit(limit).
		Find(&recs)
	if q.Error != nil {
		return nil, fmt.Errorf("%w: read range: %w", ErrStorageUnavailable, q.Error)
	}
	return toEntries(recs)
}

func (s *Store) getOne(ctx context.Context, where string, arg any) (*Entry, error) {
	var rec entryRecord
	res := s.db.WithContext(ctx).Where(where, arg).Limit(1).Find(&rec)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: get entry: %w", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return rec.toEntry()
}

// GetLatest returns the most recent entries.
func (s *Store) GetLatest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	return s.Query(ctx, Filter{Limit: limit})
}

// GetByType returns entries of one type, paginated.
func (s *Store) GetByType(ctx context.Context, entryType string, limit, offset int) ([]Entry, error) {
	return s.Query(ctx, Filter{EntryType: entryType, Limit: limit, Offset: offset})
}

// GetByAuthor returns entries written under one role.
func (s *Store) GetByAuthor(ctx context.Context, role string, limit int) ([]Entry, error) {
	return s.Query(ctx, Filter{AuthorRole: role, Limit: limit})
}

// SearchContent returns entries whose content contains substr, optionally
// restricted to one entry type. Matching ignores case for ASCII letters on
// SQLite and for all letters the locale folds on PostgreSQL.
func (s *Store) SearchContent(ctx context.Context, substr, entryType string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if substr == "" {
		return []Entry{}, nil
	}
	return s.Query(ctx, Filter{Contains: substr, EntryType: entryType, Limit: limit})
}

// Supersessions returns the entries that correct the entry with the given id.
func (s *Store) Supersessions(ctx context.Context, id uuid.UUID) ([]Entry, error) {
	return s.Query(ctx, Filter{Supersedes: &id})
}

// Count returns the total number of entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&entryRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: count entries: %w", ErrStorageUnavailable, err)
	}
	return n, nil
}

// Summary aggregates a listing for display.
type Summary struct {
	Total          int            `json:"total"`
	ByType         map[string]int `json:"by_type"`
	EmergencyCount int            `json:"emergency_count"`
	SupersedeCount int            `json:"supersede_count"`
	FirstSequence  int64          `json:"first_sequence"`
	LastSequence   int64          `json:"last_sequence"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// Summarize counts entries by type and records the covered range. Input order
// does not matter.
func Summarize(entries []Entry) Summary {
	s := Summary{ByType: map[string]int{}}
	for i := range entries {
		e := &entries[i]
		s.Total++
		s.ByType[e.EntryType]++
		if e.Emergency {
			s.EmergencyCount++
		}
		if e.Supersedes != nil {
			s.SupersedeCount++
		}
		ts := FormatTimestamp(e.Timestamp)
		if s.Total == 1 || e.Sequence < s.FirstSequence {
			s.FirstSequence = e.Sequence
			s.FirstTimestamp = ts
		}
		if s.Total == 1 || e.Sequence > s.LastSequence {
			s.LastSequence = e.Sequence
			s.LastTimestamp = ts
		}
	}
	return s
}
