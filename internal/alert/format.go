package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", event.Severity)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", event.Source)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Detail:* %s", event.Message)},
	}
	if event.Sequence >= 0 {
		fields = append(fields,
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Sequence:* %d", event.Sequence)})
	}
	if event.EntryType != "" {
		fields = append(fields,
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Entry:* %s by %s", event.EntryType, event.AuthorRole)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("novaledger: %s", event.Type),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	severity := event.Severity
	switch severity {
	case "critical", "error", "warning", "info":
	default:
		severity = "error"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    fmt.Sprintf("novaledger-%s-%d", event.Type, event.Sequence),
		"payload": map[string]any{
			"summary":  fmt.Sprintf("novaledger %s: %s", event.Type, event.Message),
			"severity": severity,
			"source":   event.Source,
			"custom_details": map[string]any{
				"sequence_number": event.Sequence,
				"index":           event.Index,
				"kind":            event.Kind,
				"stored_hash":     event.Stored,
				"computed_hash":   event.Computed,
				"entry_type":      event.EntryType,
				"author_role":     event.AuthorRole,
			},
		},
	}
	return json.Marshal(payload)
}
