package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/novaledger/internal/alert"
	"github.com/ppiankov/novaledger/internal/ledger"
)

// Verifier runs a full chain verification.
type Verifier interface {
	VerifyChain(ctx context.Context) (ledger.VerifyResult, error)
}

// Alerter receives escalations. *alert.Dispatcher satisfies it.
type Alerter interface {
	Dispatch(event alert.AlertEvent)
}

// Config holds monitor configuration.
type Config struct {
	Interval time.Duration
	Source   string // reported in alerts, usually the host name
	Logger   *slog.Logger
	Registry prometheus.Registerer
}

// Status is the outcome of the most recent check.
type Status struct {
	CheckedAt time.Time           `json:"checked_at"`
	Result    ledger.VerifyResult `json:"result"`
	Err       string              `json:"error,omitempty"`
	Checks    int                 `json:"checks"`
}

// Healthy reports whether the last check completed and found an intact chain.
func (s Status) Healthy() bool {
	return s.Checks > 0 && s.Err == "" && s.Result.Valid
}

// Monitor periodically verifies the chain and escalates failures.
// An alert is sent when the chain first breaks, when the first bad sequence
// moves, and when storage cannot be read. A chain that stays broken at the
// same place is not re-alerted on every tick.
type Monitor struct {
	cfg      Config
	verifier Verifier
	logger   *slog.Logger

	mu       sync.RWMutex
	alerter  Alerter
	observer func(Status)
	status   Status
	lastBad *int64

	checks     *prometheus.CounterVec
	healthy    prometheus.Gauge
	lastRunSec prometheus.Gauge
}

// New creates a Monitor. alerter may be nil.
func New(cfg Config, verifier Verifier, alerter Alerter) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	factory := promauto.With(cfg.Registry)
	return &Monitor{
		cfg:      cfg,
		verifier: verifier,
		logger:   logger,
		alerter:  alerter,
		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "novaledger_monitor_checks_total",
			Help: "scheduled chain checks, by result",
		}, []string{"result"}),
		healthy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "novaledger_chain_healthy",
			Help: "1 when the last scheduled check found an intact chain",
		}),
		lastRunSec: factory.NewGauge(prometheus.GaugeOpts{
			Name: "novaledger_monitor_last_check_timestamp_seconds",
			Help: "unix time of the last scheduled check",
		}),
	}
}

// SetAlerter swaps the escalation target. Used on config reload.
func (m *Monitor) SetAlerter(a Alerter) {
	m.mu.Lock()
	m.alerter = a
	m.mu.Unlock()
}

// SetObserver registers fn to receive the status after every completed check.
func (m *Monitor) SetObserver(fn func(Status)) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// Run checks once immediately, then every Interval. Blocks until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one verification and returns the new status.
func (m *Monitor) Check(ctx context.Context) Status {
	res, err := m.verifier.VerifyChain(ctx)
	now := time.Now().UTC()
	m.lastRunSec.Set(float64(now.Unix()))

	m.mu.Lock()
	m.status.Checks++
	m.status.CheckedAt = now
	m.status.Result = res
	m.status.Err = ""
	alerter := m.alerter
	observer := m.observer

	var event *alert.AlertEvent
	switch {
	case err != nil:
		if ctx.Err() != nil {
			// Shutting down, not a storage failure.
			m.status.Err = ctx.Err().Error()
			m.mu.Unlock()
			return m.Status()
		}
		m.status.Err = err.Error()
		m.checks.WithLabelValues("error").Inc()
		m.healthy.Set(0)
		ev := alert.VerifyErrorEvent(m.cfg.Source, err)
		event = &ev
		m.logger.Error("scheduled verification could not read ledger",
			"component", "monitor",
			"error", err,
		)
	case !res.Valid:
		m.checks.WithLabelValues("invalid").Inc()
		m.healthy.Set(0)
		seq := int64(-1)
		if res.Failure != nil {
			seq = res.Failure.Sequence
		}
		if m.lastBad == nil || *m.lastBad != seq {
			ev := alert.IntegrityEvent(m.cfg.Source, res)
			event = &ev
		}
		m.lastBad = &seq
	default:
		m.checks.WithLabelValues("valid").Inc()
		m.healthy.Set(1)
		if m.lastBad != nil {
			m.logger.Info("ledger chain intact again",
				"component", "monitor",
				"entries", res.Verified,
			)
		}
		m.lastBad = nil
	}
	status := m.status
	m.mu.Unlock()

	if event != nil && alerter != nil {
		alerter.Dispatch(*event)
	}
	if observer != nil {
		observer(status)
	}
	return status
}

// Status returns the outcome of the most recent check.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
