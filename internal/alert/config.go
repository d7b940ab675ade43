package alert

import (
	"time"

	"github.com/ppiankov/novaledger/internal/ledger"
)

// Event types a webhook can subscribe to.
const (
	EventIntegrityFailure = "integrity_failure"
	EventWriteFailure     = "write_failure"
	EventVerifyError      = "verify_error"
	EventBinaryTamper     = "binary_tamper"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["integrity_failure", "write_failure"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string `json:"timestamp"`
	Type       string `json:"type"`
	Severity   string `json:"severity"` // "critical", "error", "warning"
	Source     string `json:"source"`
	Message    string `json:"message"`
	Sequence   int64  `json:"sequence_number"`
	Index      int    `json:"index"`
	Kind       string `json:"kind,omitempty"`
	Stored     string `json:"stored_hash,omitempty"`
	Computed   string `json:"computed_hash,omitempty"`
	EntryType  string `json:"entry_type,omitempty"`
	AuthorRole string `json:"author_role,omitempty"`
}

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// IntegrityEvent describes a failed chain verification.
func IntegrityEvent(source string, res ledger.VerifyResult) AlertEvent {
	ev := AlertEvent{
		Timestamp: now(),
		Type:      EventIntegrityFailure,
		Severity:  "critical",
		Source:    source,
		Message:   res.Message,
		Index:     res.Verified,
	}
	if f := res.Failure; f != nil {
		ev.Sequence = f.Sequence
		ev.Kind = string(f.Kind)
		ev.Stored = f.Stored
		ev.Computed = f.Computed
	}
	return ev
}

// WriteFailureEvent describes an append that could not be persisted.
func WriteFailureEvent(source string, req ledger.AppendRequest, err error) AlertEvent {
	return AlertEvent{
		Timestamp:  now(),
		Type:       EventWriteFailure,
		Severity:   "error",
		Source:     source,
		Message:    err.Error(),
		Sequence:   -1,
		Index:      -1,
		EntryType:  req.EntryType,
		AuthorRole: req.AuthorRole,
	}
}

// VerifyErrorEvent describes a verification that could not read storage.
func VerifyErrorEvent(source string, err error) AlertEvent {
	return AlertEvent{
		Timestamp: now(),
		Type:      EventVerifyError,
		Severity:  "warning",
		Source:    source,
		Message:   err.Error(),
		Sequence:  -1,
		Index:     -1,
	}
}

// BinaryTamperEvent describes a server binary whose checksum does not match
// the expected one.
func BinaryTamperEvent(source, binary, expected, actual string) AlertEvent {
	return AlertEvent{
		Timestamp: now(),
		Type:      EventBinaryTamper,
		Severity:  "critical",
		Source:    source,
		Message:   "binary checksum mismatch: " + binary,
		Sequence:  -1,
		Index:     -1,
		Stored:    expected,
		Computed:  actual,
	}
}
