package ledgerv1

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/novaledger/internal/ledger"
)

// Content travels as canonical JSON text in content_json so that numbers keep
// their exact form and the receiver can recompute entry hashes.

// EntryToStruct encodes an entry.
func EntryToStruct(e *ledger.Entry) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"id":                    structpb.NewStringValue(e.ID.String()),
		"sequence_number":       structpb.NewNumberValue(float64(e.Sequence)),
		"previous_hash":         structpb.NewStringValue(e.PreviousHash),
		"entry_hash":            structpb.NewStringValue(e.EntryHash),
		"timestamp":             structpb.NewStringValue(ledger.FormatTimestamp(e.Timestamp)),
		"entry_type":            structpb.NewStringValue(e.EntryType),
		"author_role":           structpb.NewStringValue(e.AuthorRole),
		"author_member_id":      structpb.NewStringValue(e.AuthorMemberID),
		"content_json":          structpb.NewStringValue(string(e.Content.Canonical())),
		"emergency_designation": structpb.NewBoolValue(e.Emergency),
		"supersedes":            structpb.NewNullValue(),
	}
	if e.Supersedes != nil {
		fields["supersedes"] = structpb.NewStringValue(e.Supersedes.String())
	}
	return &structpb.Struct{Fields: fields}
}

// EntryFromStruct decodes an entry produced by EntryToStruct.
func EntryFromStruct(s *structpb.Struct) (*ledger.Entry, error) {
	id, err := uuid.Parse(String(s, "id"))
	if err != nil {
		return nil, fmt.Errorf("entry id: %w", err)
	}
	ts, err := ledger.ParseTimestamp(String(s, "timestamp"))
	if err != nil {
		return nil, fmt.Errorf("entry timestamp: %w", err)
	}
	content, err := ledger.ParseValue([]byte(String(s, "content_json")))
	if err != nil {
		return nil, fmt.Errorf("entry content: %w", err)
	}
	seq, err := Int(s, "sequence_number")
	if err != nil {
		return nil, err
	}
	e := &ledger.Entry{
		ID:             id,
		Sequence:       seq,
		PreviousHash:   String(s, "previous_hash"),
		EntryHash:      String(s, "entry_hash"),
		Timestamp:      ts,
		EntryType:      String(s, "entry_type"),
		AuthorRole:     String(s, "author_role"),
		AuthorMemberID: String(s, "author_member_id"),
		Content:        content,
		Emergency:      Bool(s, "emergency_designation"),
	}
	if sup := String(s, "supersedes"); sup != "" {
		sid, err := uuid.Parse(sup)
		if err != nil {
			return nil, fmt.Errorf("entry supersedes: %w", err)
		}
		e.Supersedes = &sid
	}
	return e, nil
}

// EntriesToStruct wraps a listing as {entries: [...]}.
func EntriesToStruct(entries []ledger.Entry) *structpb.Struct {
	list := make([]*structpb.Value, len(entries))
	for i := range entries {
		list[i] = structpb.NewStructValue(EntryToStruct(&entries[i]))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"entries": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}
}

// EntriesFromStruct decodes {entries: [...]}.
func EntriesFromStruct(s *structpb.Struct) ([]ledger.Entry, error) {
	v, ok := s.GetFields()["entries"]
	if !ok {
		return []ledger.Entry{}, nil
	}
	items := v.GetListValue().GetValues()
	out := make([]ledger.Entry, 0, len(items))
	for i, item := range items {
		e, err := EntryFromStruct(item.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}
		out = append(out, *e)
	}
	return out, nil
}

// LookupToStruct wraps a single-entry lookup as {found, entry?}.
func LookupToStruct(e *ledger.Entry) *structpb.Struct {
	fields := map[string]*structpb.Value{"found": structpb.NewBoolValue(e != nil)}
	if e != nil {
		fields["entry"] = structpb.NewStructValue(EntryToStruct(e))
	}
	return &structpb.Struct{Fields: fields}
}

// LookupFromStruct decodes {found, entry?}. A miss is nil, nil.
func LookupFromStruct(s *structpb.Struct) (*ledger.Entry, error) {
	if !Bool(s, "found") {
		return nil, nil
	}
	return EntryFromStruct(s.GetFields()["entry"].GetStructValue())
}

// AppendRequestToStruct encodes an append request.
func AppendRequestToStruct(req ledger.AppendRequest) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"entry_type":            structpb.NewStringValue(req.EntryType),
		"author_role":           structpb.NewStringValue(req.AuthorRole),
		"author_member_id":      structpb.NewStringValue(req.AuthorMemberID),
		"content_json":          structpb.NewStringValue(string(req.Content.Canonical())),
		"emergency_designation": structpb.NewBoolValue(req.Emergency),
	}
	if req.Supersedes != nil {
		fields["supersedes"] = structpb.NewStringValue(req.Supersedes.String())
	}
	return &structpb.Struct{Fields: fields}
}

// AppendRequestFromStruct decodes an append request. Clients that cannot
// produce content_json may send a structured "content" field instead.
func AppendRequestFromStruct(s *structpb.Struct) (ledger.AppendRequest, error) {
	req := ledger.AppendRequest{
		EntryType:      String(s, "entry_type"),
		AuthorRole:     String(s, "author_role"),
		AuthorMemberID: String(s, "author_member_id"),
		Emergency:      Bool(s, "emergency_designation"),
	}
	fields := s.GetFields()
	switch {
	case fields["content_json"] != nil:
		v, err := ledger.ParseValue([]byte(fields["content_json"].GetStringValue()))
		if err != nil {
			return req, fmt.Errorf("%w: content_json: %v", ledger.ErrInvalidEntry, err)
		}
		req.Content = v
	case fields["content"] != nil:
		v, err := ledger.ValueOf(fields["content"].AsInterface())
		if err != nil {
			return req, fmt.Errorf("%w: content: %v", ledger.ErrInvalidEntry, err)
		}
		req.Content = v
	}
	if sup := String(s, "supersedes"); sup != "" {
		sid, err := uuid.Parse(sup)
		if err != nil {
			return req, fmt.Errorf("%w: supersedes: %v", ledger.ErrInvalidEntry, err)
		}
		req.Supersedes = &sid
	}
	return req, nil
}

// VerifyResultToStruct encodes a verification outcome.
func VerifyResultToStruct(r ledger.VerifyResult) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"valid":            structpb.NewBoolValue(r.Valid),
		"entries_verified": structpb.NewNumberValue(float64(r.Verified)),
		"message":          structpb.NewStringValue(r.Message),
	}
	if f := r.Failure; f != nil {
		fields["failure"] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"kind":            structpb.NewStringValue(string(f.Kind)),
			"index":           structpb.NewNumberValue(float64(f.Index)),
			"sequence_number": structpb.NewNumberValue(float64(f.Sequence)),
			"stored":          structpb.NewStringValue(f.Stored),
			"computed":        structpb.NewStringValue(f.Computed),
			"detail":          structpb.NewStringValue(f.Detail),
		}})
	}
	return &structpb.Struct{Fields: fields}
}

// VerifyResultFromStruct decodes a verification outcome.
func VerifyResultFromStruct(s *structpb.Struct) (ledger.VerifyResult, error) {
	n, err := Int(s, "entries_verified")
	if err != nil {
		return ledger.VerifyResult{}, err
	}
	r := ledger.VerifyResult{
		Valid:    Bool(s, "valid"),
		Verified: int(n),
		Message:  String(s, "message"),
	}
	if fv, ok := s.GetFields()["failure"]; ok {
		f := fv.GetStructValue()
		idx, err := Int(f, "index")
		if err != nil {
			return r, err
		}
		seq, err := Int(f, "sequence_number")
		if err != nil {
			return r, err
		}
		r.Failure = &ledger.IntegrityError{
			Kind:     ledger.FailureKind(String(f, "kind")),
			Index:    int(idx),
			Sequence: seq,
			Stored:   String(f, "stored"),
			Computed: String(f, "computed"),
			Detail:   String(f, "detail"),
		}
	}
	return r, nil
}

// String returns a string field, or "" when absent or not a string.
func String(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Bool returns a bool field, or false when absent.
func Bool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// Int returns an integral number field. Absent fields are 0.
func Int(s *structpb.Struct, key string) (int64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, nil
	}
	f := v.GetNumberValue()
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%s: %v is not an integer", key, f)
	}
	return int64(f), nil
}

// Fields builds a request struct from plain values.
func Fields(m map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(m)
	if err != nil {
		// Callers pass only strings, bools and numbers.
		panic(err)
	}
	return s
}
