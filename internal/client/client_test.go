package client

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/novaledger/internal/database"
	"github.com/ppiankov/novaledger/internal/ledger"
	"github.com/ppiankov/novaledger/internal/server"
)

// startTestServer creates a server over a fresh ledger and returns its address.
func startTestServer(t *testing.T) string {
	t.Helper()

	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	}, nil)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	store := ledger.NewStore(db, ledger.WithRetryDelay(time.Millisecond))
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	srv, err := server.New(server.Config{}, store)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	t.Cleanup(func() {
		srv.GracefulStop()
		store.Close()
	})
	return lis.Addr().String()
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(startTestServer(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func vote(motion string) ledger.AppendRequest {
	return ledger.AppendRequest{
		EntryType:      ledger.TypeVoteRecord,
		AuthorRole:     "legislative_agent",
		AuthorMemberID: "m-1",
		Content:        ledger.MustValue(map[string]any{"motion": motion, "yes": 7, "no": 2}),
	}
}

func TestClientAppendAndGet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	e, err := c.Append(ctx, vote("budget"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", e.Sequence)
	}

	got, err := c.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got == nil || got.EntryHash != e.EntryHash || !got.Content.Equal(e.Content) {
		t.Errorf("GetEntry returned %v", got)
	}

	miss, err := c.GetEntry(ctx, uuid.New())
	if err != nil || miss != nil {
		t.Errorf("expected nil, nil for unknown id; got %v, %v", miss, err)
	}

	g, err := c.GetBySequence(ctx, 0)
	if err != nil || g == nil || !g.IsGenesis() {
		t.Errorf("expected genesis at 0, got %v, %v", g, err)
	}
}

func TestClientSupersedes(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first, err := c.Append(ctx, vote("budget"))
	if err != nil {
		t.Fatal(err)
	}
	req := vote("budget, corrected")
	req.Supersedes = &first.ID
	second, err := c.Append(ctx, req)
	if err != nil {
		t.Fatalf("Append superseding: %v", err)
	}
	if second.Supersedes == nil || *second.Supersedes != first.ID {
		t.Errorf("supersedes not recorded: %v", second.Supersedes)
	}

	missing := uuid.New()
	req.Supersedes = &missing
	_, err = c.Append(ctx, req)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestClientQueries(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for _, m := range []string{"roads", "schools", "Roads again"} {
		if _, err := c.Append(ctx, vote(m)); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := c.GetLatest(ctx, 2)
	if err != nil || len(latest) != 2 || latest[0].Sequence != 3 {
		t.Errorf("GetLatest: %v, %v", latest, err)
	}
	byType, err := c.GetByType(ctx, ledger.TypeVoteRecord, 10, 0)
	if err != nil || len(byType) != 3 {
		t.Errorf("GetByType: %d entries, %v", len(byType), err)
	}
	byAuthor, err := c.GetByAuthor(ctx, "legislative_agent", 1)
	if err != nil || len(byAuthor) != 1 {
		t.Errorf("GetByAuthor: %d entries, %v", len(byAuthor), err)
	}
	found, err := c.SearchContent(ctx, "roads", "", 10)
	if err != nil || len(found) != 2 {
		t.Errorf("SearchContent: %d entries, %v", len(found), err)
	}
	none, err := c.SearchContent(ctx, "roads", ledger.TypePetition, 10)
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("expected empty result, got %v, %v", none, err)
	}

	n, err := c.Count(ctx)
	if err != nil || n != 4 {
		t.Errorf("Count: %d, %v", n, err)
	}
}

func TestClientVerifyAndStatus(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Append(ctx, vote("roads")); err != nil {
		t.Fatal(err)
	}
	res, err := c.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !res.Valid || res.Verified != 2 {
		t.Errorf("unexpected result %+v", res)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Healthy {
		t.Errorf("server without monitor must not report healthy: %+v", st)
	}
}

func TestClientUnreachable(t *testing.T) {
	c, err := New("127.0.0.1:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	c.timeout = 200 * time.Millisecond

	_, err = c.Count(context.Background())
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
	if code := status.Code(err); code != codes.Unavailable && code != codes.DeadlineExceeded {
		t.Errorf("unexpected code %v", code)
	}
	var ie *ledger.IntegrityError
	if errors.As(err, &ie) {
		t.Error("transport error must not look like an integrity error")
	}
}
