package server

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/novaledger/internal/ledger"
)

// toStatus maps ledger errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, ledger.ErrInvalidEntry), errors.Is(err, ledger.ErrUnknownSupersedes):
		code = codes.InvalidArgument
	case errors.Is(err, ledger.ErrNoGenesisBlock):
		code = codes.FailedPrecondition
	case errors.Is(err, ledger.ErrSequenceConflict):
		code = codes.Aborted
	case errors.Is(err, ledger.ErrStorageUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// isWriteFailure reports whether an append error is an operational fault
// worth alerting on, as opposed to a rejected request.
func isWriteFailure(err error) bool {
	switch {
	case errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, ledger.ErrUnknownSupersedes),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid id %q: %v", s, err)
	}
	return id, nil
}
