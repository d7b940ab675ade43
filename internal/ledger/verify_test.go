package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func appendN(t *testing.T, s *Store, n int) []*Entry {
	t.Helper()
	out := make([]*Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, mustAppend(t, s, testRequest("step")))
	}
	return out
}

func verify(t *testing.T, s *Store) VerifyResult {
	t.Helper()
	res, err := s.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	return res
}

// rehash rewrites a stored row so its own hash is consistent with the
// tampered fields, leaving only the link to betray it.
func rehash(t *testing.T, s *Store, seq int64, mutate func(e *Entry)) {
	t.Helper()
	e, err := s.GetBySequence(context.Background(), seq)
	if err != nil || e == nil {
		t.Fatalf("load %d: %v", seq, err)
	}
	mutate(e)
	e.EntryHash = ComputeHash(e)
	rec := toRecord(e)
	if err := s.db.Save(rec).Error; err != nil {
		t.Fatalf("rewrite %d: %v", seq, err)
	}
}

func TestVerifyEmptyLedger(t *testing.T) {
	s := openTestDB(t, filepath.Join(t.TempDir(), "ledger.db"))
	if err := s.db.AutoMigrate(&entryRecord{}); err != nil {
		t.Fatal(err)
	}

	res := verify(t, s)
	if res.Valid || res.Verified != 0 {
		t.Fatalf("expected (false, 0), got (%v, %d)", res.Valid, res.Verified)
	}
	if res.Message != "no entries found in ledger" {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestVerifyGenesisOnly(t *testing.T) {
	s := newTestStore(t)
	res := verify(t, s)
	if !res.Valid || res.Verified != 1 {
		t.Fatalf("expected (true, 1), got (%v, %d): %s", res.Valid, res.Verified, res.Message)
	}
	if res.Message != "chain verified: 1 entries, integrity intact" {
		t.Errorf("unexpected message %q", res.Message)
	}
	if res.Err() != nil {
		t.Errorf("valid result returned error %v", res.Err())
	}
}

func TestVerifyAcrossBatches(t *testing.T) {
	s := openTestDB(t, filepath.Join(t.TempDir(), "ledger.db"))
	WithBatchSize(3)(s)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	appendN(t, s, 10)

	res := verify(t, s)
	if !res.Valid || res.Verified != 11 {
		t.Fatalf("expected (true, 11), got (%v, %d): %s", res.Valid, res.Verified, res.Message)
	}
}

func TestVerifyDetectsFirstTamperedEntry(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, 6)

	for _, seq := range []int{5, 3} {
		if err := s.db.Exec(
			"UPDATE ledger_entries SET author_role = ? WHERE sequence_number = ?", "forger", seq,
		).Error; err != nil {
			t.Fatal(err)
		}
	}

	res := verify(t, s)
	if res.Valid {
		t.Fatal("expected failure")
	}
	if res.Verified != 3 {
		t.Errorf("expected first failure at index 3, got %d", res.Verified)
	}
	if res.Failure.Sequence != 3 || res.Failure.Kind != FailureHashMismatch {
		t.Errorf("unexpected failure %+v", res.Failure)
	}
}

func TestVerifyDetectsTamperedGenesis(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, 2)

	if err := s.db.Exec(
		"UPDATE ledger_entries SET content = ? WHERE sequence_number = 0", `{"message":"rewritten"}`,
	).Error; err != nil {
		t.Fatal(err)
	}

	res := verify(t, s)
	if res.Valid || res.Verified != 0 {
		t.Fatalf("expected (false, 0), got (%v, %d)", res.Valid, res.Verified)
	}
}

func TestVerifyDetectsBadGenesisSentinel(t *testing.T) {
	s := newTestStore(t)
	rehash(t, s, 0, func(e *Entry) { e.PreviousHash = strings.Repeat("1", 64) })

	res := verify(t, s)
	if res.Valid || res.Verified != 0 {
		t.Fatalf("expected (false, 0), got (%v, %d)", res.Valid, res.Verified)
	}
	if res.Failure.Kind != FailureGenesis {
		t.Errorf("expected genesis failure, got %s", res.Failure.Kind)
	}
	if res.Message != "genesis block has incorrect previous_hash" {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestVerifyDetectsChainBreak(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, 4)

	// Entry 2 is internally consistent but no longer links to entry 1.
	rehash(t, s, 2, func(e *Entry) { e.PreviousHash = strings.Repeat("e", 64) })

	res := verify(t, s)
	if res.Valid {
		t.Fatal("expected chain break")
	}
	if res.Verified != 2 {
		t.Errorf("expected failure at index 2, got %d", res.Verified)
	}
	if res.Failure.Kind != FailureChainBreak {
		t.Errorf("expected chain break, got %s", res.Failure.Kind)
	}
	if !strings.HasPrefix(res.Message, "chain break at sequence 2") {
		t.Errorf("unexpected message %q", res.Message)
	}

	var ie *IntegrityError
	if !errors.As(res.Err(), &ie) || ie.Sequence != 2 {
		t.Errorf("expected IntegrityError at sequence 2, got %v", res.Err())
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, 4)

	if err := s.db.Exec("DELETE FROM ledger_entries WHERE sequence_number = 2").Error; err != nil {
		t.Fatal(err)
	}

	res := verify(t, s)
	if res.Valid {
		t.Fatal("expected failure after deletion")
	}
	if res.Verified != 2 || res.Failure.Sequence != 3 {
		t.Errorf("expected failure at index 2 / sequence 3, got index %d sequence %d", res.Verified, res.Failure.Sequence)
	}
	if res.Failure.Kind != FailureChainBreak {
		t.Errorf("expected chain break, got %s", res.Failure.Kind)
	}
}

func TestVerifyDetectsUndecodableContent(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, 1)

	if err := s.db.Exec(
		"UPDATE ledger_entries SET content = ? WHERE sequence_number = 1", `{broken`,
	).Error; err != nil {
		t.Fatal(err)
	}

	res := verify(t, s)
	if res.Valid || res.Verified != 1 || res.Failure.Kind != FailureHashMismatch {
		t.Fatalf("expected hash mismatch at 1, got %+v", res)
	}
}

func TestVerifyDoesNotMutate(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, 3)
	before, _ := s.GetLatest(context.Background(), 10)

	verify(t, s)
	verify(t, s)

	after, _ := s.GetLatest(context.Background(), 10)
	if len(before) != len(after) {
		t.Fatalf("entry count changed: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].EntryHash != after[i].EntryHash {
			t.Errorf("entry %d changed", before[i].Sequence)
		}
	}
}

func TestChainOffline(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, 3)
	entries, err := s.Range(context.Background(), -1, 0)
	if err != nil {
		t.Fatal(err)
	}

	var c Chain
	for i := range entries {
		if f := c.Add(&entries[i]); f != nil {
			t.Fatalf("entry %d rejected: %v", i, f)
		}
	}
	if res := c.Result(); !res.Valid || res.Verified != 4 {
		t.Fatalf("expected (true, 4), got %+v", res)
	}

	var broken Chain
	entries[2].PreviousHash = entries[0].EntryHash
	entries[2].EntryHash = ComputeHash(&entries[2])
	for i := range entries {
		broken.Add(&entries[i])
	}
	res := broken.Result()
	if res.Valid || res.Failure == nil || res.Failure.Kind != FailureChainBreak || res.Failure.Sequence != 2 {
		t.Errorf("expected chain break at 2, got %+v", res)
	}
	if broken.Len() != 2 {
		t.Errorf("expected 2 accepted entries, got %d", broken.Len())
	}
}

func TestChainEmpty(t *testing.T) {
	var c Chain
	if res := c.Result(); res.Valid || res.Failure.Kind != FailureEmpty {
		t.Errorf("expected empty failure, got %+v", res)
	}
}

// Edits that decode to the same value must still fail verification.
func TestVerifyDetectsRespelledFields(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"appended content", `UPDATE ledger_entries SET content = content || ' {"action":"forged"}' WHERE sequence_number = 2`},
		{"respaced content", `UPDATE ledger_entries SET content = REPLACE(content, ':', ': ') WHERE sequence_number = 2`},
		{"upper-case id", `UPDATE ledger_entries SET id = UPPER(id) WHERE sequence_number = 2`},
		{"braced id", `UPDATE ledger_entries SET id = '{' || id || '}' WHERE sequence_number = 2`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			appendN(t, s, 3)
			if err := s.db.Exec(tt.sql).Error; err != nil {
				t.Fatal(err)
			}

			res := verify(t, s)
			if res.Valid || res.Verified != 2 {
				t.Fatalf("expected (false, 2), got (%v, %d): %s", res.Valid, res.Verified, res.Message)
			}
			if res.Failure.Kind != FailureHashMismatch || res.Failure.Sequence != 2 {
				t.Errorf("unexpected failure %+v", res.Failure)
			}
		})
	}
}

func TestVerifyDetectsRespelledSupersedes(t *testing.T) {
	s := newTestStore(t)
	original := mustAppend(t, s, testRequest("first"))
	req := testRequest("correction")
	req.Supersedes = &original.ID
	mustAppend(t, s, req)

	if err := s.db.Exec(
		"UPDATE ledger_entries SET supersedes = UPPER(supersedes) WHERE sequence_number = 2",
	).Error; err != nil {
		t.Fatal(err)
	}
	res := verify(t, s)
	if res.Valid || res.Verified != 2 || res.Failure.Kind != FailureHashMismatch {
		t.Fatalf("expected hash mismatch at 2, got %+v", res)
	}
}

func TestCheckStoredForm(t *testing.T) {
	e := appendN(t, newTestStore(t), 1)[0]
	rec := toRecord(e)
	if err := CheckStoredForm(e, rec.ID, rec.Timestamp, []byte(rec.Content), rec.Supersedes); err != nil {
		t.Fatalf("canonical row rejected: %v", err)
	}
	err := CheckStoredForm(e, strings.ToUpper(rec.ID), rec.Timestamp, []byte(rec.Content), nil)
	if !errors.Is(err, ErrNonCanonical) {
		t.Errorf("expected ErrNonCanonical, got %v", err)
	}
}
