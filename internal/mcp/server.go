package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/novaledger/internal/ledger"
)

// Ledger is the subset of ledger operations the tools expose. Both
// *ledger.Store and *client.Client satisfy it.
type Ledger interface {
	Append(ctx context.Context, req ledger.AppendRequest) (*ledger.Entry, error)
	VerifyChain(ctx context.Context) (ledger.VerifyResult, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*ledger.Entry, error)
	GetBySequence(ctx context.Context, seq int64) (*ledger.Entry, error)
	GetLatest(ctx context.Context, limit int) ([]ledger.Entry, error)
	GetByType(ctx context.Context, entryType string, limit, offset int) ([]ledger.Entry, error)
	SearchContent(ctx context.Context, query, entryType string, limit int) ([]ledger.Entry, error)
}

// Config holds MCP server configuration.
type Config struct {
	Version string
	// ReadOnly hides ledger_append.
	ReadOnly bool
	Logger   *slog.Logger
}

// Server wraps the MCP SDK server around a ledger.
type Server struct {
	mcpServer *mcpsdk.Server
	ledger    Ledger
	logger    *slog.Logger
	readOnly  bool
}

// New creates an MCP server exposing ledger tools.
func New(cfg Config, l Ledger) (*Server, error) {
	if l == nil {
		return nil, errors.New("mcp: nil ledger")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		ledger:   l,
		logger:   logger,
		readOnly: cfg.ReadOnly,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "novaledger",
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all ledger tools to the MCP server.
func (s *Server) registerTools() {
	if !s.readOnly {
		mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
			Name:        "ledger_append",
			Description: "Append a record to the National Ledger. The ledger assigns sequence number, timestamp and hashes. Records cannot be edited; use supersedes to correct one.",
		}, s.handleAppend)
	}

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "ledger_verify",
		Description: "Verify the whole hash chain and report the first broken entry, if any.",
	}, s.handleVerify)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "ledger_get",
		Description: "Fetch one entry by id or by sequence number.",
	}, s.handleGet)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "ledger_latest",
		Description: "List the most recent entries, newest first, optionally of one entry type.",
	}, s.handleLatest)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "ledger_search",
		Description: "Case-insensitive substring search over entry content, newest first.",
	}, s.handleSearch)
}
