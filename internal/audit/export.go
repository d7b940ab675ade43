package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/ppiankov/novaledger/internal/ledger"
)

const exportPageSize = 500

// Source pages through a ledger oldest first. *ledger.Store implements it.
type Source interface {
	Range(ctx context.Context, after int64, limit int) ([]ledger.Entry, error)
}

// Writer writes ledger entries as JSON lines and checks the chain as it goes.
type Writer struct {
	mu    sync.Mutex
	file  *os.File // nil when wrapping a caller's writer
	buf   *bufio.Writer
	enc   *json.Encoder
	chain ledger.Chain
	lines int
}

// Create creates (or truncates) an export file.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	w := NewWriter(f)
	w.file = f
	return w, nil
}

// NewWriter writes an export to w. Close flushes but does not close w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Writer{buf: buf, enc: enc}
}

// Write appends one entry. Entries must arrive in sequence order.
func (w *Writer) Write(e *ledger.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(ToLine(e)); err != nil {
		return fmt.Errorf("audit: write entry %d: %w", e.Sequence, err)
	}
	w.chain.Add(e)
	w.lines++
	return nil
}

// Lines returns the number of entries written.
func (w *Writer) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Result reports whether the entries written so far form an intact chain.
func (w *Writer) Result() ledger.VerifyResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chain.Result()
}

// Close flushes buffered lines and, for files, syncs and closes.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("audit: flush: %w", err)
	}
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("audit: sync: %w", err)
	}
	return w.file.Close()
}

// Export copies every entry of src to w, genesis first. A broken chain is
// still exported in full; the returned result reports the first bad link.
func Export(ctx context.Context, src Source, w *Writer) (ledger.VerifyResult, error) {
	after := int64(math.MinInt64)
	for {
		page, err := src.Range(ctx, after, exportPageSize)
		if err != nil {
			return ledger.VerifyResult{}, fmt.Errorf("audit: read ledger: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for i := range page {
			if err := w.Write(&page[i]); err != nil {
				return ledger.VerifyResult{}, err
			}
		}
		after = page[len(page)-1].Sequence
		if err := ctx.Err(); err != nil {
			return ledger.VerifyResult{}, err
		}
	}
	return w.Result(), nil
}
