package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ppiankov/novaledger/internal/config"
)

// exitConfig is EX_CONFIG from sysexits.h.
const exitConfig = 78

var (
	configPath string
	debug      bool
	serverAddr string

	appCfg     *config.Config
	configHash string
	logger     = slog.New(slog.NewJSONHandler(io.Discard, nil))

	// stdout receives user-facing output. Tests swap it.
	stdout io.Writer = os.Stdout
)

// configError marks failures that exit with EX_CONFIG.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// errChainInvalid is returned after verify has already reported a broken chain.
var errChainInvalid = errors.New("ledger integrity check failed")

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.novaledger/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "Address of a novaledger server (host:port); commands run remotely")
}

var rootCmd = &cobra.Command{
	Use:   "novaledger",
	Short: "Append-only, hash-chained national ledger",
	Long: "Records every institutional act of the polity as an immutable entry linked by SHA-256\n" +
		"to the one before it. Any change to a stored entry is detectable with `novaledger verify`.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

// setup loads configuration and installs the process logger.
func setup() error {
	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return &configError{err: err}
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return &configError{err: err}
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger = slog.New(h)
	slog.SetDefault(logger)

	// Match GOMAXPROCS to the container CPU quota; the undo func is not needed.
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}

	appCfg = cfg
	configHash = hash
	return nil
}

func slogPrintf(format string, v ...any) {
	logger.Debug(fmt.Sprintf(format, v...), "component", "maxprocs")
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var cerr *configError
	switch {
	case errors.As(err, &cerr):
		fmt.Fprintf(os.Stderr, "FATAL: invalid configuration: %v\n", err)
		os.Exit(exitConfig)
	case errors.Is(err, errChainInvalid):
		// already reported
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
