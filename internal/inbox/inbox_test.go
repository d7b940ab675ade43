package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/ppiankov/novaledger/internal/alert"
	"github.com/ppiankov/novaledger/internal/ledger"
)

// fakeLedger appends in memory and can be told to fail.
type fakeLedger struct {
	mu      sync.Mutex
	entries []*ledger.Entry
	err     error
}

func (f *fakeLedger) Append(_ context.Context, req ledger.AppendRequest) (*ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if req.EntryType == "" {
		return nil, fmt.Errorf("%w: entry_type is required", ledger.ErrInvalidEntry)
	}
	e := &ledger.Entry{
		ID:         uuid.New(),
		Sequence:   int64(len(f.entries) + 1),
		EntryType:  req.EntryType,
		AuthorRole: req.AuthorRole,
		Content:    req.Content,
	}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func testDirs(t *testing.T) DirConfig {
	t.Helper()
	root := t.TempDir()
	d := DirConfig{
		Inbox:  filepath.Join(root, "inbox"),
		Outbox: filepath.Join(root, "outbox"),
		State:  filepath.Join(root, "state"),
	}
	if err := EnsureDirs(d); err != nil {
		t.Fatal(err)
	}
	return d
}

func writeJob(t *testing.T, dir, name, body string) string {
	t.Helper()
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func readResult(t *testing.T, d DirConfig, id string) Result {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(d.Outbox, id+".json"))
	if err != nil {
		t.Fatalf("read result %s: %v", id, err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("decode result %s: %v", id, err)
	}
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

const voteJob = `{"entry_type":"vote_record","author_role":"legislative_agent","content":{"motion":"roads","yes":7}}`

func TestProcessAppends(t *testing.T) {
	d := testDirs(t)
	fl := &fakeLedger{}
	p := NewProcessor(d, fl, nil, nil)

	path := writeJob(t, d.Inbox, "vote-1.json", voteJob)
	if err := p.Process(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	r := readResult(t, d, "vote-1")
	if r.Status != StatusAppended || r.Entry == nil || r.Entry.EntryType != ledger.TypeVoteRecord {
		t.Fatalf("unexpected result %+v", r)
	}
	yes, _ := r.Entry.Content.Get("yes")
	if n, ok := yes.AsInt(); !ok || n != 7 {
		t.Errorf("content not carried through: %v", r.Entry.Content)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("job file should leave the inbox")
	}
	left, _ := os.ReadDir(d.ProcessingDir())
	if len(left) != 0 {
		t.Errorf("processing dir not cleaned: %d files", len(left))
	}
}

func TestProcessUsesExplicitID(t *testing.T) {
	d := testDirs(t)
	p := NewProcessor(d, &fakeLedger{}, nil, nil)

	body := `{"id":"petition-9","entry_type":"petition","author_role":"citizen"}`
	if err := p.Process(context.Background(), writeJob(t, d.Inbox, "whatever.json", body)); err != nil {
		t.Fatal(err)
	}
	if r := readResult(t, d, "petition-9"); r.Status != StatusAppended {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestProcessRejects(t *testing.T) {
	tests := map[string]struct {
		file, body, id string
	}{
		"bad json":      {"broken.json", `{`, "broken"},
		"invalid entry": {"empty.json", `{"author_role":"citizen"}`, "empty"},
		"bad id":        {"x.json", `{"id":"../etc","entry_type":"petition","author_role":"citizen"}`, "___etc"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			d := testDirs(t)
			fl := &fakeLedger{}
			p := NewProcessor(d, fl, nil, nil)
			if err := p.Process(context.Background(), writeJob(t, d.Inbox, tt.file, tt.body)); err != nil {
				t.Fatal(err)
			}
			r := readResult(t, d, tt.id)
			if r.Status != StatusRejected || r.Error == "" {
				t.Errorf("expected rejected result, got %+v", r)
			}
			if fl.count() != 0 {
				t.Error("rejected job must not append")
			}
		})
	}
}

func TestProcessStorageFailure(t *testing.T) {
	d := testDirs(t)
	p := NewProcessor(d, &fakeLedger{err: fmt.Errorf("%w: disk full", ledger.ErrStorageWrite)}, nil, nil)

	if err := p.Process(context.Background(), writeJob(t, d.Inbox, "v.json", voteJob)); err != nil {
		t.Fatal(err)
	}
	if r := readResult(t, d, "v"); r.Status != StatusFailed {
		t.Errorf("expected failed result, got %+v", r)
	}
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []alert.AlertEvent
}

func (a *fakeAlerter) Dispatch(event alert.AlertEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func TestProcessFailureAlerts(t *testing.T) {
	d := testDirs(t)
	a := &fakeAlerter{}
	p := NewProcessor(d, &fakeLedger{err: fmt.Errorf("%w: disk full", ledger.ErrStorageWrite)}, nil, nil)
	p.SetAlerter(a, "node-1")

	if err := p.Process(context.Background(), writeJob(t, d.Inbox, "v.json", voteJob)); err != nil {
		t.Fatal(err)
	}
	if len(a.events) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(a.events))
	}
	ev := a.events[0]
	if ev.Type != alert.EventWriteFailure || ev.Source != "node-1" {
		t.Errorf("unexpected event %+v", ev)
	}

	// Rejected input is the caller's problem, not an escalation.
	p = NewProcessor(d, &fakeLedger{}, nil, nil)
	p.SetAlerter(a, "node-1")
	if err := p.Process(context.Background(), writeJob(t, d.Inbox, "bad.json", `{"author_role":"citizen"}`)); err != nil {
		t.Fatal(err)
	}
	if len(a.events) != 1 {
		t.Errorf("rejected job must not alert, got %d events", len(a.events))
	}
}

func TestProcessSkipsDuplicateID(t *testing.T) {
	d := testDirs(t)
	fl := &fakeLedger{}
	p := NewProcessor(d, fl, nil, nil)
	ctx := context.Background()

	if err := p.Process(ctx, writeJob(t, d.Inbox, "dup.json", voteJob)); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, writeJob(t, d.Inbox, "dup.json", voteJob)); err != nil {
		t.Fatal(err)
	}
	if fl.count() != 1 {
		t.Errorf("expected 1 append for a resubmitted id, got %d", fl.count())
	}
}

func TestProcessRejectsSymlink(t *testing.T) {
	d := testDirs(t)
	fl := &fakeLedger{}
	p := NewProcessor(d, fl, nil, nil)

	target := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(target, []byte(voteJob), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(d.Inbox, "link.json")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := p.Process(context.Background(), link); err != nil {
		t.Fatal(err)
	}
	if r := readResult(t, d, "link"); r.Status != StatusRejected {
		t.Errorf("expected rejected symlink, got %+v", r)
	}
	if fl.count() != 0 {
		t.Error("symlinked job must not append")
	}
}

func TestRunHandlesExistingAndNewJobs(t *testing.T) {
	d := testDirs(t)
	fl := &fakeLedger{}
	reg := prometheus.NewRegistry()
	in, err := New(Config{Dirs: d, Registry: reg}, fl)
	if err != nil {
		t.Fatal(err)
	}

	writeJob(t, d.Inbox, "early.json", voteJob)
	orphan := filepath.Join(d.ProcessingDir(), "orphan.json")
	if err := os.WriteFile(orphan, []byte(voteJob), 0600); err != nil {
		t.Fatal(err)
	}

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	waitFor(t, func() bool { return fl.count() == 1 })
	if r := readResult(t, d, "orphan"); r.Status != StatusFailed {
		t.Errorf("expected orphan marked failed, got %+v", r)
	}

	for i := 0; i < 3; i++ {
		writeJob(t, d.Inbox, "late-"+strconv.Itoa(i)+".json", voteJob)
	}
	waitFor(t, func() bool { return fl.count() == 4 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if got := testutil.ToFloat64(in.jobs.WithLabelValues(StatusAppended)); got != 4 {
		t.Errorf("expected 4 appended jobs counted, got %v", got)
	}
	if _, err := os.Stat(filepath.Join(d.State, "inbox.pid")); !os.IsNotExist(err) {
		t.Error("PID file not removed on exit")
	}
}

func TestPollWatcher(t *testing.T) {
	d := testDirs(t)
	fl := &fakeLedger{}
	in, err := New(Config{Dirs: d, Poll: true, PollInterval: 20 * time.Millisecond}, fl)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	writeJob(t, d.Inbox, "polled.json", voteJob)
	waitFor(t, func() bool { return fl.count() == 1 })
	cancel()
	<-done
}

func TestPIDLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.pid")
	if err := acquirePIDLock(path); err != nil {
		t.Fatal(err)
	}
	if err := acquirePIDLock(path); err == nil {
		t.Error("expected lock held by this process")
	}

	// A PID that cannot be running is stale.
	if err := os.WriteFile(path, []byte("999999999"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := acquirePIDLock(path); err != nil {
		t.Errorf("stale lock not replaced: %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}, &fakeLedger{}); err == nil {
		t.Error("expected error without directories")
	}
	if _, err := New(Config{Dirs: testDirs(t)}, nil); err == nil {
		t.Error("expected error without appender")
	}
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"a", "vote_1-B"} {
		if err := ValidateID(id); err != nil {
			t.Errorf("%q: unexpected error %v", id, err)
		}
	}
	for _, id := range []string{"", "a/b", "..", "a b"} {
		if err := ValidateID(id); err == nil {
			t.Errorf("%q: expected error", id)
		}
	}
}
