package inbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault is the default debounce interval for file events.
const debounceDefault = 200 * time.Millisecond

// maxConcurrentJobs limits how many job files are handled at once. Appends
// serialize in the store, so more workers only add contention.
const maxConcurrentJobs = 4

// maxQueueSize buffers bursts between the debounce flush and the workers.
const maxQueueSize = 200

// pollDefault is the default polling interval when fsnotify is unavailable.
const pollDefault = 5 * time.Second

// Watcher watches a directory for new job files using fsnotify.
type Watcher struct {
	dir      string
	handler  func(path string)
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, handler func(path string), logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		handler:  handler,
		logger:   logger,
		debounce: debounceDefault,
	}
}

// Run watches dir for new job files. Blocks until ctx is cancelled, then
// drains queued jobs before returning.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	// Paths that arrived since the last flush. One timer resets on each
	// event; no goroutine is started per file.
	var mu sync.Mutex
	ready := make(map[string]bool)
	queue := make(chan string, maxQueueSize)

	var wg sync.WaitGroup
	for i := 0; i < maxConcurrentJobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range queue {
				w.handle(path)
			}
		}()
	}

	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()

		for _, p := range batch {
			select {
			case queue <- p:
			case <-ctx.Done():
				return
			}
		}
	}

	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()

	defer func() {
		debounceTimer.Stop()
		flush()
		close(queue)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Writers should create name.json.tmp and rename; Rename shows
			// up as Create on the new name.
			if !event.Has(fsnotify.Create) || !isJobFile(event.Name) {
				continue
			}
			mu.Lock()
			ready[event.Name] = true
			mu.Unlock()

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", "component", "inbox", "error", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("inbox job panicked", "component", "inbox", "path", path, "panic", r)
		}
	}()
	w.handler(path)
}

// PollWatcher scans a directory on an interval. Used where fsnotify does
// not work, e.g. NFS.
type PollWatcher struct {
	dir      string
	handler  func(path string)
	interval time.Duration
}

// NewPollWatcher creates a polling watcher.
func NewPollWatcher(dir string, handler func(path string), interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = pollDefault
	}
	return &PollWatcher{dir: dir, handler: handler, interval: interval}
}

// Run polls dir. Blocks until ctx is cancelled. Handled files leave the
// inbox, so a file still present on the next scan is retried.
func (w *PollWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := ScanExisting(w.dir, w.handler); err != nil {
				return err
			}
		}
	}
}

// ScanExisting hands every job file already in dir to handler, e.g. files
// that arrived while the server was down.
func ScanExisting(dir string, handler func(path string)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if isJobFile(path) {
			handler(path)
		}
	}
	return nil
}

// isJobFile reports whether path is a finished .json job (not a .tmp write).
func isJobFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), ".json")
}
