package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	// DefaultMaxRetries bounds the re-read-and-recompute loop after a
	// sequence conflict.
	DefaultMaxRetries = 5

	defaultRetryDelay = 10 * time.Millisecond
	defaultBatchSize  = 500
)

// Store is the append-only, hash-chained ledger over a relational table.
// Append is the only write path. A Store serializes its own appends with a
// mutex; the unique index on sequence_number rejects a writer in another
// process that raced against the same tip, and that writer retries.
type Store struct {
	db         *gorm.DB
	logger     *slog.Logger
	metrics    storeMetrics
	tracer     trace.Tracer
	now        func() time.Time
	maxRetries int
	retryDelay time.Duration
	batchSize  int

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics registers the store's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Store) {
		s.metrics.init(reg)
	}
}

// WithMaxRetries bounds conflict retries. Negative values are treated as 0.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n < 0 {
			n = 0
		}
		s.maxRetries = n
	}
}

// WithRetryDelay sets the base backoff between conflict retries.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// WithClock overrides the timestamp source. For testing.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithBatchSize sets how many rows VerifyChain reads per query.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewStore wraps an open database. Call Initialize before appending.
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:         db,
		tracer:     otel.Tracer("github.com/ppiankov/novaledger/internal/ledger"),
		now:        time.Now,
		maxRetries: DefaultMaxRetries,
		retryDelay: defaultRetryDelay,
		batchSize:  defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics.appendsTotal == nil {
		s.metrics.init(nil)
	}
	if s.logger == nil {
		// Throw away logs so callers don't need guards
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return s
}

// Initialize creates the schema if absent and writes the genesis entry if
// sequence 0 does not exist yet. Safe to call repeatedly and concurrently.
func (s *Store) Initialize(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Initialize")
	defer span.End()

	if err := s.Migrate(ctx); err != nil {
		span.SetStatus(codes.Error, "migrate")
		return err
	}
	db := s.db.WithContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	var tip entryRecord
	res := db.Order("sequence_number ASC").Limit(1).Find(&tip)
	if res.Error != nil {
		return fmt.Errorf("%w: read genesis: %w", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected > 0 {
		if tip.Sequence != 0 {
			return &IntegrityError{
				Kind:     FailureGenesis,
				Sequence: tip.Sequence,
				Detail:   fmt.Sprintf("ledger has entries but no genesis block (lowest sequence %d)", tip.Sequence),
			}
		}
		return nil
	}

	genesis := &Entry{
		ID:             uuid.New(),
		Sequence:       0,
		PreviousHash:   GenesisPrevHash,
		Timestamp:      s.timestamp(),
		EntryType:      TypeGenesis,
		AuthorRole:     SystemRole,
		AuthorMemberID: SystemMemberID,
		Content:        genesisContent(),
	}
	genesis.EntryHash = ComputeHash(genesis)

	if err := db.Create(toRecord(genesis)).Error; err != nil {
		if isUniqueViolation(err) {
			// Another process wrote genesis first.
			return nil
		}
		return fmt.Errorf("%w: write genesis: %w", ErrStorageUnavailable, err)
	}
	s.metrics.tipSequence.Set(0)
	s.logger.Info("genesis block created",
		"component", "ledger",
		"hash", shortHash(genesis.EntryHash),
	)
	return nil
}

// Migrate creates or updates the ledger table and its indexes without
// writing any entry.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&entryRecord{}); err != nil {
		return fmt.Errorf("%w: create schema: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Append writes a new entry after the current tip and returns it.
func (s *Store) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Append",
		trace.WithAttributes(
			attribute.String("ledger.entry_type", req.EntryType),
			attribute.String("ledger.author_role", req.AuthorRole),
		),
	)
	defer span.End()

	entry, err := s.appendWithRetry(ctx, req)
	if err != nil {
		s.metrics.appendFailures.WithLabelValues(failureReason(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, failureReason(err))
		s.logger.Error("ledger append failed",
			"component", "ledger",
			"entry_type", req.EntryType,
			"author_role", req.AuthorRole,
			"error", err,
		)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("ledger.sequence_number", entry.Sequence))
	return entry, nil
}

func (s *Store) appendWithRetry(ctx context.Context, req AppendRequest) (*Entry, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.metrics.appendRetries.Inc()
			s.logger.Warn("sequence conflict, re-reading tip",
				"component", "ledger",
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrStorageWrite, ctx.Err())
			case <-time.After(time.Duration(attempt) * s.retryDelay):
			}
		}

		entry, err := s.appendOnce(ctx, req)
		if err == nil {
			s.metrics.appendsTotal.WithLabelValues(entry.EntryType).Inc()
			s.metrics.appendLatency.Observe(time.Since(start).Seconds())
			s.metrics.tipSequence.Set(float64(entry.Sequence))
			s.logger.Info("ledger entry appended",
				"component", "ledger",
				"seq", entry.Sequence,
				"type", entry.EntryType,
				"hash", shortHash(entry.EntryHash),
			)
			return entry, nil
		}
		if !errors.Is(err, ErrSequenceConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("append gave up after %d attempts: %w", s.maxRetries+1, lastErr)
}

// appendOnce runs read tip, compute, insert in one transaction.
func (s *Store) appendOnce(ctx context.Context, req AppendRequest) (*Entry, error) {
	var entry *Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tip entryRecord
		res := tx.Order("sequence_number DESC").Limit(1).Find(&tip)
		if res.Error != nil {
			if isBusy(res.Error) {
				return fmt.Errorf("%w: %w", ErrSequenceConflict, res.Error)
			}
			return fmt.Errorf("%w: read tip: %w", ErrStorageUnavailable, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNoGenesisBlock
		}

		if req.Supersedes != nil {
			var n int64
			if err := tx.Model(&entryRecord{}).Where("id = ?", req.Supersedes.String()).Count(&n).Error; err != nil {
				return fmt.Errorf("%w: look up superseded entry: %w", ErrStorageUnavailable, err)
			}
			if n == 0 {
				return fmt.Errorf("%w: %s", ErrUnknownSupersedes, req.Supersedes)
			}
		}

		ts := s.timestamp()
		if tipTime, err := ParseTimestamp(tip.Timestamp); err == nil && ts.Before(tipTime) {
			// Keep timestamps non-decreasing when the clock steps back.
			ts = tipTime
		}

		e := &Entry{
			ID:             uuid.New(),
			Sequence:       tip.Sequence + 1,
			PreviousHash:   tip.EntryHash,
			Timestamp:      ts,
			EntryType:      req.EntryType,
			AuthorRole:     req.AuthorRole,
			AuthorMemberID: req.AuthorMemberID,
			Content:        req.Content,
			Emergency:      req.Emergency,
		}
		if req.Supersedes != nil {
			sid := *req.Supersedes
			e.Supersedes = &sid
		}
		e.EntryHash = ComputeHash(e)

		if err := tx.Create(toRecord(e)).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: sequence %d already taken: %w", ErrSequenceConflict, e.Sequence, err)
			}
			if isBusy(err) {
				return fmt.Errorf("%w: %w", ErrSequenceConflict, err)
			}
			return fmt.Errorf("%w: %w", ErrStorageWrite, err)
		}
		entry = e
		return nil
	})
	if err != nil {
		if isLedgerError(err) {
			return nil, err
		}
		// Commit failed.
		if isUniqueViolation(err) || isBusy(err) {
			return nil, fmt.Errorf("%w: %w", ErrSequenceConflict, err)
		}
		return nil, fmt.Errorf("%w: commit: %w", ErrStorageWrite, err)
	}
	return entry, nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func isLedgerError(err error) bool {
	for _, target := range []error{
		ErrStorageUnavailable, ErrNoGenesisBlock, ErrSequenceConflict,
		ErrStorageWrite, ErrInvalidEntry, ErrUnknownSupersedes,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
