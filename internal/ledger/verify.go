package ledger

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// VerifyResult holds the outcome of a hash chain verification.
// On failure Verified is the index of the first bad entry.
type VerifyResult struct {
	Valid    bool            `json:"valid"`
	Verified int             `json:"entries_verified"`
	Message  string          `json:"message"`
	Failure  *IntegrityError `json:"failure,omitempty"`
}

// Err returns the integrity failure as an error, or nil when valid.
func (r VerifyResult) Err() error {
	if r.Valid {
		return nil
	}
	if r.Failure != nil {
		return r.Failure
	}
	return fmt.Errorf("%w: %s", ErrIntegrity, r.Message)
}

func failed(f *IntegrityError) VerifyResult {
	return VerifyResult{Valid: false, Verified: f.Index, Message: f.Detail, Failure: f}
}

// VerifyChain walks every entry from genesis forward, recomputing each hash
// and checking each link. It does not block appends; entries written after
// the walk starts are not included. The error return is reserved for storage
// failures; a broken chain is reported in the result.
func (s *Store) VerifyChain(ctx context.Context) (VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.VerifyChain")
	defer span.End()

	result, err := s.verify(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage")
		return VerifyResult{}, err
	}

	span.SetAttributes(
		attribute.Bool("ledger.valid", result.Valid),
		attribute.Int("ledger.entries_verified", result.Verified),
	)
	s.metrics.verifiedEntries.Set(float64(result.Verified))
	if result.Valid {
		s.metrics.verifications.WithLabelValues("valid").Inc()
		s.logger.Info("ledger chain verified",
			"component", "ledger",
			"entries", result.Verified,
		)
	} else {
		s.metrics.verifications.WithLabelValues("invalid").Inc()
		s.metrics.integrityFailures.Inc()
		span.SetStatus(codes.Error, "integrity failure")
		s.logger.Error("LEDGER INTEGRITY FAILURE",
			"component", "ledger",
			"index", result.Verified,
			"message", result.Message,
		)
	}
	return result, nil
}

func (s *Store) verify(ctx context.Context) (VerifyResult, error) {
	db := s.db.WithContext(ctx)

	// Fix the upper bound so concurrent appends don't extend the walk.
	var tip entryRecord
	res := db.Order("sequence_number DESC").Limit(1).Find(&tip)
	if res.Error != nil {
		return VerifyResult{}, fmt.Errorf("%w: read tip: %w", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return failed(&IntegrityError{Kind: FailureEmpty, Detail: "no entries found in ledger"}), nil
	}
	upTo := tip.Sequence

	var (
		chain Chain
		after int64 = math.MinInt64
	)
	for {
		var batch []entryRecord
		q := db.Where("sequence_number > ? AND sequence_number <= ?", after, upTo).
			Order("sequence_number ASC").
			Limit(s.batchSize).
			Find(&batch)
		if q.Error != nil {
			return VerifyResult{}, fmt.Errorf("%w: read entries: %w", ErrStorageUnavailable, q.Error)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			rec := &batch[i]
			e, err := rec.toStoredEntry()
			if err != nil {
				return failed(chain.Reject(rec.Sequence, rec.PreviousHash, rec.EntryHash, err)), nil
			}
			if f := chain.Add(e); f != nil {
				return failed(f), nil
			}
		}
		after = batch[len(batch)-1].Sequence
		if err := ctx.Err(); err != nil {
			return VerifyResult{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}
	return chain.Result(), nil
}

// Chain checks entries fed to it in sequence order, without a store. It backs
// VerifyChain and the offline verification of exported ledgers.
type Chain struct {
	prev    *Entry
	n       int
	failure *IntegrityError
}

// Add checks e against the previous entry. After the first failure every
// call returns that failure.
func (c *Chain) Add(e *Entry) *IntegrityError {
	if c.failure != nil {
		return c.failure
	}
	if f := c.check(e); f != nil {
		c.failure = f
		return f
	}
	c.prev = e
	c.n++
	return nil
}

// Reject records a hash mismatch for the entry at seq whose stored form could
// not be decoded back to what was hashed. Like Add, the first failure sticks.
func (c *Chain) Reject(seq int64, prevHash, storedHash string, cause error) *IntegrityError {
	if c.failure != nil {
		return c.failure
	}
	f := c.checkAnchor(seq, prevHash)
	if f == nil {
		f = &IntegrityError{
			Kind:     FailureHashMismatch,
			Index:    c.n,
			Sequence: seq,
			Stored:   storedHash,
			Detail:   fmt.Sprintf("hash mismatch at sequence %d: %v", seq, cause),
		}
	}
	c.failure = f
	return f
}

// Len returns the number of entries accepted so far.
func (c *Chain) Len() int { return c.n }

// Result summarizes the chain checked so far.
func (c *Chain) Result() VerifyResult {
	switch {
	case c.failure != nil:
		return failed(c.failure)
	case c.n == 0:
		return failed(&IntegrityError{Kind: FailureEmpty, Detail: "no entries found in ledger"})
	}
	return VerifyResult{
		Valid:    true,
		Verified: c.n,
		Message:  fmt.Sprintf("chain verified: %d entries, integrity intact", c.n),
	}
}

func (c *Chain) checkAnchor(seq int64, prevHash string) *IntegrityError {
	if c.prev != nil {
		return nil
	}
	if seq != 0 {
		return &IntegrityError{
			Kind:     FailureGenesis,
			Index:    0,
			Sequence: seq,
			Detail:   fmt.Sprintf("first entry has sequence %d, expected 0", seq),
		}
	}
	if prevHash != GenesisPrevHash {
		return &IntegrityError{
			Kind:     FailureGenesis,
			Index:    0,
			Sequence: 0,
			Stored:   prevHash,
			Computed: GenesisPrevHash,
			Detail:   "genesis block has incorrect previous_hash",
		}
	}
	return nil
}

func (c *Chain) check(e *Entry) *IntegrityError {
	if f := c.checkAnchor(e.Sequence, e.PreviousHash); f != nil {
		return f
	}

	computed := ComputeHash(e)
	if computed != e.EntryHash {
		return &IntegrityError{
			Kind:     FailureHashMismatch,
			Index:    c.n,
			Sequence: e.Sequence,
			Stored:   e.EntryHash,
			Computed: computed,
			Detail: fmt.Sprintf("hash mismatch at sequence %d: stored=%s computed=%s",
				e.Sequence, shortHash(e.EntryHash), shortHash(computed)),
		}
	}

	prev := c.prev
	if prev == nil {
		return nil
	}
	if e.Sequence != prev.Sequence+1 {
		return &IntegrityError{
			Kind:     FailureChainBreak,
			Index:    c.n,
			Sequence: e.Sequence,
			Detail: fmt.Sprintf("chain break at sequence %d: expected sequence %d after %d",
				e.Sequence, prev.Sequence+1, prev.Sequence),
		}
	}
	if e.PreviousHash != prev.EntryHash {
		return &IntegrityError{
			Kind:     FailureChainBreak,
			Index:    c.n,
			Sequence: e.Sequence,
			Stored:   e.PreviousHash,
			Computed: prev.EntryHash,
			Detail: fmt.Sprintf("chain break at sequence %d: previous_hash=%s does not match prior entry hash %s",
				e.Sequence, shortHash(e.PreviousHash), shortHash(prev.EntryHash)),
		}
	}
	return nil
}
