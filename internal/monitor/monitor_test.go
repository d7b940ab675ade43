package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/ppiankov/novaledger/internal/alert"
	"github.com/ppiankov/novaledger/internal/ledger"
)

// mockVerifier returns queued results, repeating the last one.
type mockVerifier struct {
	mu      sync.Mutex
	results []ledger.VerifyResult
	errs    []error
	calls   int
}

func (v *mockVerifier) VerifyChain(ctx context.Context) (ledger.VerifyResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.calls
	if i >= len(v.results) {
		i = len(v.results) - 1
	}
	v.calls++
	return v.results[i], v.errs[i]
}

func (v *mockVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// mockAlerter records dispatched events.
type mockAlerter struct {
	mu     sync.Mutex
	events []alert.AlertEvent
}

func (a *mockAlerter) Dispatch(event alert.AlertEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *mockAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func valid(n int) ledger.VerifyResult {
	return ledger.VerifyResult{Valid: true, Verified: n, Message: "chain verified"}
}

func broken(seq int64) ledger.VerifyResult {
	return ledger.VerifyResult{
		Verified: int(seq),
		Message:  "hash mismatch",
		Failure:  &ledger.IntegrityError{Kind: ledger.FailureHashMismatch, Sequence: seq, Index: int(seq)},
	}
}

func newTestMonitor(v *mockVerifier, a Alerter) *Monitor {
	return New(Config{
		Interval: 10 * time.Millisecond,
		Source:   "test-node",
		Registry: prometheus.NewRegistry(),
	}, v, a)
}

func TestCheckValidChain(t *testing.T) {
	v := &mockVerifier{results: []ledger.VerifyResult{valid(3)}, errs: []error{nil}}
	a := &mockAlerter{}
	m := newTestMonitor(v, a)

	st := m.Check(context.Background())
	if !st.Healthy() {
		t.Errorf("expected healthy status, got %+v", st)
	}
	if a.count() != 0 {
		t.Errorf("expected no alerts, got %d", a.count())
	}
	if got := testutil.ToFloat64(m.healthy); got != 1 {
		t.Errorf("expected healthy gauge 1, got %v", got)
	}
}

func TestCheckAlertsOnceForSameBreak(t *testing.T) {
	v := &mockVerifier{results: []ledger.VerifyResult{broken(4)}, errs: []error{nil}}
	a := &mockAlerter{}
	m := newTestMonitor(v, a)

	for i := 0; i < 3; i++ {
		m.Check(context.Background())
	}
	if a.count() != 1 {
		t.Fatalf("expected 1 alert for a persistent break, got %d", a.count())
	}
	ev := a.events[0]
	if ev.Type != alert.EventIntegrityFailure || ev.Sequence != 4 || ev.Source != "test-node" {
		t.Errorf("unexpected event %+v", ev)
	}
	if got := testutil.ToFloat64(m.checks.WithLabelValues("invalid")); got != 3 {
		t.Errorf("expected 3 invalid checks, got %v", got)
	}
}

func TestCheckRealertsWhenBreakMoves(t *testing.T) {
	v := &mockVerifier{
		results: []ledger.VerifyResult{broken(4), broken(2), valid(9), broken(2)},
		errs:    []error{nil, nil, nil, nil},
	}
	a := &mockAlerter{}
	m := newTestMonitor(v, a)

	for i := 0; i < 4; i++ {
		m.Check(context.Background())
	}
	if a.count() != 3 {
		t.Errorf("expected 3 alerts (4, moved to 2, broken again after repair), got %d", a.count())
	}
}

func TestCheckStorageError(t *testing.T) {
	v := &mockVerifier{
		results: []ledger.VerifyResult{{}},
		errs:    []error{errors.New("ledger: storage unavailable: connection refused")},
	}
	a := &mockAlerter{}
	m := newTestMonitor(v, a)

	st := m.Check(context.Background())
	if st.Healthy() {
		t.Error("storage error must not be healthy")
	}
	if st.Err == "" {
		t.Error("expected error in status")
	}
	if a.count() != 1 || a.events[0].Type != alert.EventVerifyError {
		t.Errorf("expected one verify_error alert, got %+v", a.events)
	}
}

func TestCheckNilAlerter(t *testing.T) {
	v := &mockVerifier{results: []ledger.VerifyResult{broken(1)}, errs: []error{nil}}
	m := newTestMonitor(v, nil)
	m.Check(context.Background())

	var d *alert.Dispatcher
	m.SetAlerter(d)
	v.results = append(v.results, broken(2))
	v.errs = append(v.errs, nil)
	m.Check(context.Background())
}

func TestObserverSeesEveryCheck(t *testing.T) {
	v := &mockVerifier{
		results: []ledger.VerifyResult{valid(2), broken(1), {}},
		errs:    []error{nil, nil, errors.New("ledger: storage unavailable")},
	}
	m := newTestMonitor(v, nil)
	var seen []bool
	m.SetObserver(func(st Status) { seen = append(seen, st.Healthy()) })

	for i := 0; i < 3; i++ {
		m.Check(context.Background())
	}
	if len(seen) != 3 || !seen[0] || seen[1] || seen[2] {
		t.Errorf("unexpected observed health %v", seen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Check(ctx)
	if len(seen) != 3 {
		t.Error("observer must not run for a cancelled check")
	}
}

func TestRunChecksUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	v := &mockVerifier{results: []ledger.VerifyResult{valid(1)}, errs: []error{nil}}
	m := newTestMonitor(v, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for v.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if v.callCount() < 3 {
		t.Errorf("expected at least 3 checks, got %d", v.callCount())
	}
	if m.Status().Checks < 3 {
		t.Errorf("status did not track checks: %+v", m.Status())
	}
}
