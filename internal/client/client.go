package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	ledgerv1 "github.com/ppiankov/novaledger/api/ledger/v1"
	"github.com/ppiankov/novaledger/internal/ledger"
)

// DefaultTimeout bounds each RPC.
const DefaultTimeout = 5 * time.Second

// Client connects to a novaledger gRPC server.
type Client struct {
	conn    *grpc.ClientConn
	client  *ledgerv1.LedgerServiceClient
	timeout time.Duration
}

// Status is the server's last scheduled verification.
type Status struct {
	Healthy   bool   `json:"healthy"`
	Checks    int64  `json:"checks"`
	CheckedAt string `json:"checked_at,omitempty"`
	Message   string `json:"message"`
}

// New creates a gRPC client connected to the given address.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger server: %w", err)
	}
	return &Client{
		conn:    conn,
		client:  ledgerv1.NewLedgerServiceClient(conn),
		timeout: DefaultTimeout,
	}, nil
}

// Append submits an entry and returns it as recorded. The returned entry's
// hash is recomputed locally; a mismatch is reported as an integrity error.
func (c *Client) Append(ctx context.Context, req ledger.AppendRequest) (*ledger.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Append(ctx, ledgerv1.AppendRequestToStruct(req))
	if err != nil {
		return nil, err
	}
	e, err := ledgerv1.EntryFromStruct(resp)
	if err != nil {
		return nil, err
	}
	if computed := ledger.ComputeHash(e); computed != e.EntryHash {
		return nil, &ledger.IntegrityError{
			Kind:     ledger.FailureHashMismatch,
			Sequence: e.Sequence,
			Stored:   e.EntryHash,
			Computed: computed,
			Detail:   fmt.Sprintf("server returned entry %d with a hash that does not recompute", e.Sequence),
		}
	}
	return e, nil
}

// VerifyChain asks the server to verify the whole chain.
func (c *Client) VerifyChain(ctx context.Context) (ledger.VerifyResult, error) {
	// Full verification can outlast the default timeout on large ledgers.
	resp, err := c.client.VerifyChain(ctx, nil)
	if err != nil {
		return ledger.VerifyResult{}, err
	}
	return ledgerv1.VerifyResultFromStruct(resp)
}

// GetEntry returns the entry with id, or nil when absent.
func (c *Client) GetEntry(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	return c.lookup(ctx, c.client.GetEntry, map[string]any{"id": id.String()})
}

// GetBySequence returns the entry at seq, or nil when absent.
func (c *Client) GetBySequence(ctx context.Context, seq int64) (*ledger.Entry, error) {
	return c.lookup(ctx, c.client.GetBySequence, map[string]any{"sequence_number": seq})
}

// GetLatest returns up to limit entries, newest first.
func (c *Client) GetLatest(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return c.list(ctx, c.client.ListLatest, map[string]any{"limit": limit})
}

// GetByType returns entries of entryType, newest first.
func (c *Client) GetByType(ctx context.Context, entryType string, limit, offset int) ([]ledger.Entry, error) {
	return c.list(ctx, c.client.ListByType, map[string]any{
		"entry_type": entryType,
		"limit":      limit,
		"offset":     offset,
	})
}

// GetByAuthor returns entries written by role, newest first.
func (c *Client) GetByAuthor(ctx context.Context, role string, limit int) ([]ledger.Entry, error) {
	return c.list(ctx, c.client.ListByAuthor, map[string]any{"author_role": role, "limit": limit})
}

// SearchContent returns entries whose content contains query, newest first.
func (c *Client) SearchContent(ctx context.Context, query, entryType string, limit int) ([]ledger.Entry, error) {
	return c.list(ctx, c.client.Search, map[string]any{
		"query":      query,
		"entry_type": entryType,
		"limit":      limit,
	})
}

// Count returns the number of entries including genesis.
func (c *Client) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Count(ctx, nil)
	if err != nil {
		return 0, err
	}
	return ledgerv1.Int(resp, "count")
}

// Status returns the server's last scheduled verification.
func (c *Client) Status(ctx context.Context) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Status(ctx, nil)
	if err != nil {
		return Status{}, err
	}
	checks, err := ledgerv1.Int(resp, "checks")
	if err != nil {
		return Status{}, err
	}
	return Status{
		Healthy:   ledgerv1.Bool(resp, "healthy"),
		Checks:    checks,
		CheckedAt: ledgerv1.String(resp, "checked_at"),
		Message:   ledgerv1.String(resp, "message"),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

type rpc func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

func (c *Client) lookup(ctx context.Context, call rpc, args map[string]any) (*ledger.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := call(ctx, ledgerv1.Fields(args))
	if err != nil {
		return nil, err
	}
	return ledgerv1.LookupFromStruct(resp)
}

func (c *Client) list(ctx context.Context, call rpc, args map[string]any) ([]ledger.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := call(ctx, ledgerv1.Fields(args))
	if err != nil {
		return nil, err
	}
	return ledgerv1.EntriesFromStruct(resp)
}
