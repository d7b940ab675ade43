package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrStorageUnavailable = errors.New("ledger: storage unavailable")
	ErrNoGenesisBlock     = errors.New("ledger: no genesis block, call Initialize first")
	ErrSequenceConflict   = errors.New("ledger: sequence conflict")
	ErrStorageWrite       = errors.New("ledger: storage write failure")
	ErrIntegrity          = errors.New("ledger: integrity failure")
	ErrInvalidEntry       = errors.New("ledger: invalid entry")
	ErrUnknownSupersedes  = errors.New("ledger: superseded entry does not exist")
	ErrNonCanonical       = errors.New("ledger: stored field not in canonical form")
)

// FailureKind classifies an integrity failure.
type FailureKind string

const (
	FailureEmpty        FailureKind = "empty"
	FailureGenesis      FailureKind = "genesis"
	FailureHashMismatch FailureKind = "hash_mismatch"
	FailureChainBreak   FailureKind = "chain_break"
)

// IntegrityError describes the first broken link found by VerifyChain.
type IntegrityError struct {
	Kind     FailureKind `json:"kind"`
	Index    int         `json:"index"`
	Sequence int64       `json:"sequence_number"`
	Stored   string      `json:"stored,omitempty"`
	Computed string      `json:"computed,omitempty"`
	Detail   string      `json:"detail"`
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger: integrity failure: %s", e.Detail)
}

// Is makes errors.Is(err, ErrIntegrity) hold.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}
