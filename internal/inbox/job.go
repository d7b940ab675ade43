// Package inbox appends ledger entries dropped as JSON files into a
// directory. Agents without a network path to the server write a job file;
// the server appends it and writes the outcome to the outbox under the same
// id.
package inbox

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/novaledger/internal/ledger"
)

// Job is one append request dropped into the inbox. The id defaults to the
// file name without .json.
type Job struct {
	ID string `json:"id"`
	ledger.AppendRequest
}

// Result is written to the outbox after a job is handled.
type Result struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Entry       *ledger.Entry `json:"entry,omitempty"`
	Error       string        `json:"error,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Result status values.
const (
	StatusAppended = "appended"
	StatusRejected = "rejected" // the request itself is bad; resubmitting won't help
	StatusFailed   = "failed"   // storage failed or the server stopped mid-append
)

// validID matches alphanumeric characters, dashes, and underscores only.
var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks that a job id is safe to use as a file name.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("job id longer than 128 characters")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("job id %q contains invalid characters: only alphanumeric, dash, and underscore allowed", id)
	}
	return nil
}

// idFromPath derives a job id from its file name.
func idFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

// sanitizeID maps an arbitrary name onto the id alphabet so a bad job can
// still get a result file.
func sanitizeID(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return fmt.Sprintf("unknown-%d", time.Now().UnixNano())
	}
	if len(s) > 128 {
		s = s[:128]
	}
	return s
}
