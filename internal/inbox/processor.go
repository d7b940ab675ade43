package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/novaledger/internal/alert"
	"github.com/ppiankov/novaledger/internal/ledger"
)

// maxJobSize bounds a job file.
const maxJobSize = 4 << 20

// Appender writes entries. *ledger.Store and *client.Client satisfy it.
type Appender interface {
	Append(ctx context.Context, req ledger.AppendRequest) (*ledger.Entry, error)
}

// Alerter receives escalations. *alert.Dispatcher satisfies it.
type Alerter interface {
	Dispatch(event alert.AlertEvent)
}

// Processor moves a job file through its lifecycle.
type Processor struct {
	dirs     DirConfig
	appender Appender
	logger   *slog.Logger
	observe  func(status string)
	alerter  Alerter
	source   string
}

// NewProcessor creates a processor. observe may be nil.
func NewProcessor(dirs DirConfig, appender Appender, logger *slog.Logger, observe func(status string)) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if observe == nil {
		observe = func(string) {}
	}
	return &Processor{dirs: dirs, appender: appender, logger: logger, observe: observe}
}

// SetAlerter makes failed appends escalate as write_failure events reported
// from source.
func (p *Processor) SetAlerter(a Alerter, source string) {
	p.alerter = a
	p.source = source
}

// Process handles one job file: read, validate, move to processing, append,
// write the result to the outbox. The returned error covers file handling
// only; a rejected or failed append is reported in the result.
func (p *Processor) Process(ctx context.Context, jobPath string) error {
	// Reject symlinks before reading so a job cannot point at arbitrary files.
	fi, err := os.Lstat(jobPath)
	if err != nil {
		return fmt.Errorf("stat job file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		_ = os.Remove(jobPath)
		return p.reject(sanitizeID(idFromPath(jobPath)), "rejected symlink")
	}
	if fi.Size() > maxJobSize {
		_ = os.Remove(jobPath)
		return p.reject(sanitizeID(idFromPath(jobPath)), fmt.Sprintf("job file larger than %d bytes", maxJobSize))
	}

	data, err := os.ReadFile(jobPath)
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		_ = os.Remove(jobPath)
		return p.reject(sanitizeID(idFromPath(jobPath)), fmt.Sprintf("invalid JSON: %v", err))
	}
	if job.ID == "" {
		job.ID = idFromPath(jobPath)
	}
	if err := ValidateID(job.ID); err != nil {
		_ = os.Remove(jobPath)
		return p.reject(sanitizeID(job.ID), err.Error())
	}
	if _, err := os.Stat(p.resultPath(job.ID)); err == nil {
		// A result already exists; appending again would duplicate the entry.
		_ = os.Remove(jobPath)
		p.logger.Warn("duplicate inbox job ignored", "component", "inbox", "job", job.ID)
		p.observe("duplicate")
		return nil
	}

	processingPath := filepath.Join(p.dirs.ProcessingDir(), job.ID+".json")
	if err := moveFile(jobPath, processingPath); err != nil {
		return fmt.Errorf("move to processing: %w", err)
	}

	result := &Result{ID: job.ID, CompletedAt: time.Now().UTC()}
	entry, err := p.appender.Append(ctx, job.AppendRequest)
	switch {
	case err == nil:
		result.Status = StatusAppended
		result.Entry = entry
	case errors.Is(err, ledger.ErrInvalidEntry), errors.Is(err, ledger.ErrUnknownSupersedes):
		result.Status = StatusRejected
		result.Error = err.Error()
	default:
		result.Status = StatusFailed
		result.Error = err.Error()
		if p.alerter != nil {
			p.alerter.Dispatch(alert.WriteFailureEvent(p.source, job.AppendRequest, err))
		}
	}
	result.CompletedAt = time.Now().UTC()

	if err := p.writeResult(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	_ = os.Remove(processingPath)

	p.observe(result.Status)
	level := slog.LevelInfo
	if result.Status != StatusAppended {
		level = slog.LevelWarn
	}
	attrs := []any{"component", "inbox", "job", job.ID, "status", result.Status}
	if entry != nil {
		attrs = append(attrs, "sequence", entry.Sequence)
	}
	if result.Error != "" {
		attrs = append(attrs, "error", result.Error)
	}
	p.logger.Log(ctx, level, "inbox job processed", attrs...)
	return nil
}

func (p *Processor) resultPath(id string) string {
	return filepath.Join(p.dirs.Outbox, id+".json")
}

// writeResult writes atomically so readers never see a partial result.
func (p *Processor) writeResult(r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	finalPath := p.resultPath(r.ID)
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	return os.Rename(tmpPath, finalPath)
}

func (p *Processor) reject(id, msg string) error {
	p.observe(StatusRejected)
	p.logger.Warn("inbox job rejected", "component", "inbox", "job", id, "error", msg)
	return p.writeResult(&Result{
		ID:          id,
		Status:      StatusRejected,
		Error:       msg,
		CompletedAt: time.Now().UTC(),
	})
}
