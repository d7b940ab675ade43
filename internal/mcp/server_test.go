package mcp

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/novaledger/internal/database"
	"github.com/ppiankov/novaledger/internal/ledger"
)

func newTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	}, nil)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	store := ledger.NewStore(db, ledger.WithRetryDelay(time.Millisecond))
	t.Cleanup(func() { store.Close() })
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return store
}

func newTestServer(t *testing.T) (*Server, *ledger.Store) {
	t.Helper()
	store := newTestLedger(t)
	s, err := New(Config{}, store)
	if err != nil {
		t.Fatalf("failed to create MCP server: %v", err)
	}
	return s, store
}

func appendPetition(t *testing.T, s *Server, text string) EntryView {
	t.Helper()
	_, out, err := s.handleAppend(context.Background(), &mcpsdk.CallToolRequest{}, AppendInput{
		EntryType:      ledger.TypePetition,
		AuthorRole:     "citizen",
		AuthorMemberID: "m-9",
		Content:        map[string]any{"text": text, "signatures": float64(12)},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return out.Entry
}

func TestAppendRecordsEntry(t *testing.T) {
	s, store := newTestServer(t)

	v := appendPetition(t, s, "fix the bridge")
	if v.Sequence != 1 || v.EntryType != ledger.TypePetition {
		t.Fatalf("unexpected entry %+v", v)
	}

	e, err := store.GetBySequence(context.Background(), 1)
	if err != nil || e == nil {
		t.Fatalf("entry not stored: %v", err)
	}
	if got := string(e.Content.Canonical()); got != `{"signatures":12,"text":"fix the bridge"}` {
		t.Errorf("unexpected stored content %s", got)
	}
	if e.EntryHash != v.EntryHash {
		t.Error("returned hash differs from stored hash")
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, _, err := s.handleAppend(ctx, &mcpsdk.CallToolRequest{}, AppendInput{AuthorRole: "citizen"})
	if !errors.Is(err, ledger.ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}

	_, _, err = s.handleAppend(ctx, &mcpsdk.CallToolRequest{}, AppendInput{
		EntryType: ledger.TypePetition, AuthorRole: "citizen", Supersedes: "not-a-uuid",
	})
	if err == nil {
		t.Error("expected error for malformed supersedes")
	}

	_, _, err = s.handleAppend(ctx, &mcpsdk.CallToolRequest{}, AppendInput{
		EntryType: ledger.TypePetition, AuthorRole: "citizen", Supersedes: uuid.NewString(),
	})
	if !errors.Is(err, ledger.ErrUnknownSupersedes) {
		t.Errorf("expected ErrUnknownSupersedes, got %v", err)
	}
}

func TestVerifyTool(t *testing.T) {
	s, _ := newTestServer(t)
	appendPetition(t, s, "a")
	appendPetition(t, s, "b")

	result, out, err := s.handleVerify(context.Background(), &mcpsdk.CallToolRequest{}, VerifyInput{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result != nil && result.IsError {
		t.Error("valid chain must not be an error result")
	}
	if !out.Valid || out.Verified != 3 || out.Sequence != nil {
		t.Errorf("unexpected output %+v", out)
	}
}

func TestGetTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	v := appendPetition(t, s, "a")

	_, out, err := s.handleGet(ctx, &mcpsdk.CallToolRequest{}, GetInput{ID: v.ID})
	if err != nil || !out.Found || out.Entry.EntryHash != v.EntryHash {
		t.Errorf("get by id: %+v, %v", out, err)
	}

	seq := int64(0)
	_, out, err = s.handleGet(ctx, &mcpsdk.CallToolRequest{}, GetInput{Sequence: &seq})
	if err != nil || !out.Found || out.Entry.EntryType != ledger.TypeGenesis {
		t.Errorf("get genesis: %+v, %v", out, err)
	}

	seq = 42
	_, out, err = s.handleGet(ctx, &mcpsdk.CallToolRequest{}, GetInput{Sequence: &seq})
	if err != nil || out.Found {
		t.Errorf("expected not found, got %+v, %v", out, err)
	}

	if _, _, err := s.handleGet(ctx, &mcpsdk.CallToolRequest{}, GetInput{}); err == nil {
		t.Error("expected error when neither id nor sequence given")
	}
}

func TestLatestAndSearchTools(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	appendPetition(t, s, "Fix the bridge")
	appendPetition(t, s, "plant trees")
	appendPetition(t, s, "BRIDGE lighting")

	_, out, err := s.handleLatest(ctx, &mcpsdk.CallToolRequest{}, LatestInput{Limit: 2})
	if err != nil || len(out.Entries) != 2 || out.Entries[0].Sequence != 3 {
		t.Errorf("latest: %+v, %v", out, err)
	}

	_, out, err = s.handleLatest(ctx, &mcpsdk.CallToolRequest{}, LatestInput{EntryType: ledger.TypeGenesis})
	if err != nil || len(out.Entries) != 1 {
		t.Errorf("latest genesis: %+v, %v", out, err)
	}

	_, out, err = s.handleSearch(ctx, &mcpsdk.CallToolRequest{}, SearchInput{Query: "bridge"})
	if err != nil || len(out.Entries) != 2 {
		t.Errorf("search: %+v, %v", out, err)
	}

	if _, _, err := s.handleSearch(ctx, &mcpsdk.CallToolRequest{}, SearchInput{}); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestReadOnlyHidesAppend(t *testing.T) {
	store := newTestLedger(t)
	ctx := context.Background()

	s, err := New(Config{ReadOnly: true}, store)
	if err != nil {
		t.Fatal(err)
	}
	ct, st := mcpsdk.NewInMemoryTransports()
	if _, err := s.mcpServer.Connect(ctx, st, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	c := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "0"}, nil)
	session, err := c.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	res, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	if names["ledger_append"] {
		t.Error("ledger_append must be hidden in read-only mode")
	}
	for _, want := range []string{"ledger_verify", "ledger_get", "ledger_latest", "ledger_search"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestNewRejectsNilLedger(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("expected error for nil ledger")
	}
}
