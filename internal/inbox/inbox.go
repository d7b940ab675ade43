package inbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config holds inbox configuration.
type Config struct {
	Dirs         DirConfig
	Poll         bool          // scan on an interval instead of fsnotify
	PollInterval time.Duration // default 5s
	Logger       *slog.Logger
	Registry     prometheus.Registerer
	Alerter      Alerter // optional, receives write_failure events
	Source       string  // reported in alerts
}

// Inbox watches the inbox directory and appends each job.
type Inbox struct {
	cfg       Config
	logger    *slog.Logger
	processor *Processor
	jobs      *prometheus.CounterVec
}

// New validates cfg and creates an Inbox.
func New(cfg Config, appender Appender) (*Inbox, error) {
	if cfg.Dirs.Inbox == "" || cfg.Dirs.Outbox == "" || cfg.Dirs.State == "" {
		return nil, fmt.Errorf("inbox: inbox, outbox and state directories are required")
	}
	if appender == nil {
		return nil, fmt.Errorf("inbox: nil appender")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	jobs := promauto.With(cfg.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "novaledger_inbox_jobs_total",
		Help: "Inbox jobs handled, by outcome.",
	}, []string{"status"})

	p := NewProcessor(cfg.Dirs, appender, logger, func(status string) {
		jobs.WithLabelValues(status).Inc()
	})
	if cfg.Alerter != nil {
		p.SetAlerter(cfg.Alerter, cfg.Source)
	}
	return &Inbox{
		cfg:       cfg,
		logger:    logger,
		processor: p,
		jobs:      jobs,
	}, nil
}

// Run handles jobs until ctx is cancelled. On startup it fails jobs left in
// processing by a previous run and handles files already in the inbox.
func (in *Inbox) Run(ctx context.Context) error {
	if err := EnsureDirs(in.cfg.Dirs); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	pidPath := filepath.Join(in.cfg.Dirs.State, "inbox.pid")
	if err := acquirePIDLock(pidPath); err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	if err := in.recoverOrphans(); err != nil {
		return fmt.Errorf("recover orphans: %w", err)
	}

	handler := func(path string) {
		if err := in.processor.Process(ctx, path); err != nil {
			in.logger.Error("inbox job failed", "component", "inbox", "file", filepath.Base(path), "error", err)
		}
	}
	if err := ScanExisting(in.cfg.Dirs.Inbox, handler); err != nil {
		return fmt.Errorf("scan existing: %w", err)
	}

	in.logger.Info("inbox watching",
		"component", "inbox",
		"dir", in.cfg.Dirs.Inbox,
		"poll", in.cfg.Poll,
	)
	if in.cfg.Poll {
		return NewPollWatcher(in.cfg.Dirs.Inbox, handler, in.cfg.PollInterval).Run(ctx)
	}
	return NewWatcher(in.cfg.Dirs.Inbox, handler, in.logger).Run(ctx)
}

// recoverOrphans fails jobs that were processing when the last run stopped.
// The append may or may not have landed, so they are not retried.
func (in *Inbox) recoverOrphans() error {
	procDir := in.cfg.Dirs.ProcessingDir()
	entries, err := os.ReadDir(procDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !isJobFile(e.Name()) {
			continue
		}
		id := idFromPath(e.Name())
		result := &Result{
			ID:          id,
			Status:      StatusFailed,
			Error:       "interrupted: job was processing when the server stopped; check the ledger before resubmitting",
			CompletedAt: time.Now().UTC(),
		}
		if err := in.processor.writeResult(result); err != nil {
			in.logger.Error("recover orphan failed", "component", "inbox", "job", id, "error", err)
			continue
		}
		in.processor.observe(StatusFailed)
		_ = os.Remove(filepath.Join(procDir, e.Name()))
	}
	return nil
}

// acquirePIDLock writes the current PID to path unless a live process
// already holds it.
func acquirePIDLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(string(data)); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("another inbox is running (PID %d)", pid)
				}
			}
		}
		// Stale PID file.
		_ = os.Remove(path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}
