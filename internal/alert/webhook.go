package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3

	// EventHeader carries the event type so receivers can route ledger
	// alerts without parsing the body.
	EventHeader = "X-Novaledger-Event"
)

var (
	httpClient   = &http.Client{Timeout: requestTimeout}
	retryBackoff = time.Second
)

// Send delivers one ledger alert to cfg.URL in cfg.Format. Server errors and
// 429 are retried with linear backoff; other 4xx responses fail at once.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format %s payload: %w", event.Type, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s alert canceled: %w", event.Type, ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		retry, err := post(ctx, cfg, event.Type, body)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s alert failed after %d attempts: %w", event.Type, maxRetries, lastErr)
}

// post makes one delivery attempt and reports whether a failure is worth
// retrying.
func post(ctx context.Context, cfg AlertConfig, eventType string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventType)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return true, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return false, nil
	case code == http.StatusTooManyRequests, code >= 500:
		return true, fmt.Errorf("webhook unavailable: HTTP %d", code)
	default:
		return false, fmt.Errorf("webhook rejected: HTTP %d", code)
	}
}
