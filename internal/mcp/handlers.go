package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/novaledger/internal/ledger"
)

const defaultLimit = 20

// --- Input/Output types ---

// EntryView is an entry as returned to tools.
type EntryView struct {
	ID             string `json:"id"`
	Sequence       int64  `json:"sequence_number"`
	PreviousHash   string `json:"previous_hash"`
	EntryHash      string `json:"entry_hash"`
	Timestamp      string `json:"timestamp"`
	EntryType      string `json:"entry_type"`
	AuthorRole     string `json:"author_role"`
	AuthorMemberID string `json:"author_member_id"`
	Content        any    `json:"content"`
	Supersedes     string `json:"supersedes,omitempty"`
	Emergency      bool   `json:"emergency_designation"`
}

// AppendInput defines parameters for the ledger_append tool.
type AppendInput struct {
	EntryType      string `json:"entry_type" jsonschema:"entry type, e.g. vote_record or petition"`
	AuthorRole     string `json:"author_role" jsonschema:"role of the author, e.g. legislative_agent"`
	AuthorMemberID string `json:"author_member_id,omitempty" jsonschema:"member identifier of the author"`
	Content        any    `json:"content" jsonschema:"record payload, any JSON value"`
	Supersedes     string `json:"supersedes,omitempty" jsonschema:"id of an earlier entry this one corrects"`
	Emergency      bool   `json:"emergency_designation,omitempty" jsonschema:"mark as taken under emergency powers"`
}

// AppendOutput is the entry as recorded.
type AppendOutput struct {
	Entry EntryView `json:"entry"`
}

// VerifyInput is empty, no parameters needed.
type VerifyInput struct{}

// VerifyOutput reports chain integrity.
type VerifyOutput struct {
	Valid    bool   `json:"valid"`
	Verified int    `json:"entries_verified"`
	Message  string `json:"message"`
	Kind     string `json:"failure_kind,omitempty"`
	Sequence *int64 `json:"failure_sequence,omitempty"`
}

// GetInput selects one entry.
type GetInput struct {
	ID       string `json:"id,omitempty" jsonschema:"entry id"`
	Sequence *int64 `json:"sequence_number,omitempty" jsonschema:"sequence number, used when id is empty"`
}

// GetOutput holds the entry when found.
type GetOutput struct {
	Found bool       `json:"found"`
	Entry *EntryView `json:"entry,omitempty"`
}

// LatestInput defines parameters for the ledger_latest tool.
type LatestInput struct {
	EntryType string `json:"entry_type,omitempty" jsonschema:"only entries of this type"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum entries, default 20"`
}

// SearchInput defines parameters for the ledger_search tool.
type SearchInput struct {
	Query     string `json:"query" jsonschema:"substring to look for in entry content"`
	EntryType string `json:"entry_type,omitempty" jsonschema:"only entries of this type"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum entries, default 20"`
}

// ListOutput is a page of entries, newest first.
type ListOutput struct {
	Entries []EntryView `json:"entries"`
}

// --- Handlers ---

func (s *Server) handleAppend(ctx context.Context, req *mcpsdk.CallToolRequest, input AppendInput) (*mcpsdk.CallToolResult, AppendOutput, error) {
	content, err := ledger.ValueOf(input.Content)
	if err != nil {
		return nil, AppendOutput{}, fmt.Errorf("invalid content: %w", err)
	}
	ar := ledger.AppendRequest{
		EntryType:      input.EntryType,
		AuthorRole:     input.AuthorRole,
		AuthorMemberID: input.AuthorMemberID,
		Content:        content,
		Emergency:      input.Emergency,
	}
	if input.Supersedes != "" {
		id, err := uuid.Parse(input.Supersedes)
		if err != nil {
			return nil, AppendOutput{}, fmt.Errorf("invalid supersedes %q: %w", input.Supersedes, err)
		}
		ar.Supersedes = &id
	}

	e, err := s.ledger.Append(ctx, ar)
	if err != nil {
		return nil, AppendOutput{}, err
	}
	s.logger.Info("mcp append",
		"component", "mcp",
		"seq", e.Sequence,
		"type", e.EntryType,
	)
	return nil, AppendOutput{Entry: toView(e)}, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, _ VerifyInput) (*mcpsdk.CallToolResult, VerifyOutput, error) {
	res, err := s.ledger.VerifyChain(ctx)
	if err != nil {
		return nil, VerifyOutput{}, err
	}
	out := VerifyOutput{
		Valid:    res.Valid,
		Verified: res.Verified,
		Message:  res.Message,
	}
	if f := res.Failure; f != nil {
		seq := f.Sequence
		out.Kind = string(f.Kind)
		out.Sequence = &seq
	}
	if !res.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleGet(ctx context.Context, req *mcpsdk.CallToolRequest, input GetInput) (*mcpsdk.CallToolResult, GetOutput, error) {
	var (
		e   *ledger.Entry
		err error
	)
	switch {
	case input.ID != "":
		id, perr := uuid.Parse(input.ID)
		if perr != nil {
			return nil, GetOutput{}, fmt.Errorf("invalid id %q: %w", input.ID, perr)
		}
		e, err = s.ledger.GetEntry(ctx, id)
	case input.Sequence != nil:
		e, err = s.ledger.GetBySequence(ctx, *input.Sequence)
	default:
		return nil, GetOutput{}, errors.New("either id or sequence_number is required")
	}
	if err != nil {
		return nil, GetOutput{}, err
	}
	if e == nil {
		return nil, GetOutput{Found: false}, nil
	}
	v := toView(e)
	return nil, GetOutput{Found: true, Entry: &v}, nil
}

func (s *Server) handleLatest(ctx context.Context, req *mcpsdk.CallToolRequest, input LatestInput) (*mcpsdk.CallToolResult, ListOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	var (
		entries []ledger.Entry
		err     error
	)
	if input.EntryType != "" {
		entries, err = s.ledger.GetByType(ctx, input.EntryType, limit, 0)
	} else {
		entries, err = s.ledger.GetLatest(ctx, limit)
	}
	if err != nil {
		return nil, ListOutput{}, err
	}
	return nil, ListOutput{Entries: toViews(entries)}, nil
}

func (s *Server) handleSearch(ctx context.Context, req *mcpsdk.CallToolRequest, input SearchInput) (*mcpsdk.CallToolResult, ListOutput, error) {
	if input.Query == "" {
		return nil, ListOutput{}, errors.New("query is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	entries, err := s.ledger.SearchContent(ctx, input.Query, input.EntryType, limit)
	if err != nil {
		return nil, ListOutput{}, err
	}
	return nil, ListOutput{Entries: toViews(entries)}, nil
}

func toView(e *ledger.Entry) EntryView {
	v := EntryView{
		ID:             e.ID.String(),
		Sequence:       e.Sequence,
		PreviousHash:   e.PreviousHash,
		EntryHash:      e.EntryHash,
		Timestamp:      ledger.FormatTimestamp(e.Timestamp),
		EntryType:      e.EntryType,
		AuthorRole:     e.AuthorRole,
		AuthorMemberID: e.AuthorMemberID,
		Content:        e.Content.Interface(),
		Emergency:      e.Emergency,
	}
	if e.Supersedes != nil {
		v.Supersedes = e.Supersedes.String()
	}
	return v
}

func toViews(entries []ledger.Entry) []EntryView {
	out := make([]EntryView, len(entries))
	for i := range entries {
		out[i] = toView(&entries[i])
	}
	return out
}
