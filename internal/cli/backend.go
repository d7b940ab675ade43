package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/novaledger/internal/client"
	"github.com/ppiankov/novaledger/internal/database"
	"github.com/ppiankov/novaledger/internal/ledger"
	novamcp "github.com/ppiankov/novaledger/internal/mcp"
)

// backend is a ledger reached either directly or through a server.
type backend interface {
	novamcp.Ledger
	GetByAuthor(ctx context.Context, role string, limit int) ([]ledger.Entry, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

var (
	_ backend = (*ledger.Store)(nil)
	_ backend = (*client.Client)(nil)
)

// openBackend connects to --server when given, otherwise opens the configured
// database. The local schema is created if missing; genesis is not.
func openBackend(ctx context.Context) (backend, error) {
	if serverAddr != "" {
		return client.New(serverAddr)
	}
	store, err := openStore(nil)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// openStore opens the configured database as a ledger store.
func openStore(reg prometheus.Registerer) (*ledger.Store, error) {
	db, err := database.Open(appCfg.Database, logger)
	if err != nil {
		return nil, err
	}
	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithMaxRetries(appCfg.MaxAppendRetries),
	}
	if reg != nil {
		opts = append(opts, ledger.WithMetrics(reg))
	}
	return ledger.NewStore(db, opts...), nil
}

func requireLocal(command string) error {
	if serverAddr != "" {
		return fmt.Errorf("%s operates on the local database and cannot be used with --server", command)
	}
	return nil
}

// hint adds a next step to errors a user can fix.
func hint(err error) error {
	if errors.Is(err, ledger.ErrNoGenesisBlock) {
		return fmt.Errorf("%w (run `novaledger init` first)", err)
	}
	return err
}
