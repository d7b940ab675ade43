package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	ledgerv1 "github.com/ppiankov/novaledger/api/ledger/v1"
	"github.com/ppiankov/novaledger/internal/alert"
	"github.com/ppiankov/novaledger/internal/config"
	"github.com/ppiankov/novaledger/internal/ledger"
	"github.com/ppiankov/novaledger/internal/monitor"
	"github.com/ppiankov/novaledger/internal/ratelimit"
)

// Config holds gRPC server configuration.
type Config struct {
	Port       int
	ConfigPath string // reloaded for alert destinations
	ConfigHash string // hash of the config the server started with
	Source     string // reported in alerts
	Alerts     []alert.AlertConfig
	RateLimits ratelimit.Config // per author role, reloadable
	Monitor    *monitor.Monitor // optional
	Logger     *slog.Logger
}

// Server implements the LedgerService gRPC server over a ledger store.
type Server struct {
	ledgerv1.UnimplementedLedgerServiceServer

	store   *ledger.Store
	monitor *monitor.Monitor
	logger  *slog.Logger
	cfg     Config

	mu         sync.RWMutex
	dispatcher *alert.Dispatcher
	limiter    *ratelimit.Limiter
	configHash string

	health     *health.Server
	grpcServer *grpc.Server
}

// New creates a gRPC server for store. The store must already be initialized.
func New(cfg Config, store *ledger.Store) (*Server, error) {
	if store == nil {
		return nil, errors.New("server: nil store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	s := &Server{
		store:      store,
		monitor:    cfg.Monitor,
		logger:     logger,
		cfg:        cfg,
		dispatcher: alert.NewDispatcher(cfg.Alerts, logger),
		limiter:    ratelimit.New(cfg.RateLimits),
		configHash: cfg.ConfigHash,
		health:     health.NewServer(),
	}
	s.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(s.logUnary),
	)

	ledgerv1.RegisterLedgerServiceServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ledgerv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if s.monitor != nil {
		s.monitor.SetAlerter(s.dispatcher)
		s.monitor.SetObserver(func(st monitor.Status) { s.SetHealth(st.Healthy()) })
	}
	return s, nil
}

// Serve starts the gRPC server on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop stops accepting RPCs, waits for in-flight ones and for
// pending alert deliveries.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.currentDispatcher().Wait()
}

// SetHealth marks the ledger service serving or not. Every verification,
// scheduled or on demand, reports its outcome here.
func (s *Server) SetHealth(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ledgerv1.ServiceName, st)
}

// ReloadConfig re-reads the config file and swaps the alert destinations
// and rate limits.
// Storage and listener settings need a restart. Called by the hot-reloader.
func (s *Server) ReloadConfig() (bool, error) {
	cfg, hash, err := config.LoadWithHash(s.cfg.ConfigPath)
	if err != nil {
		return false, fmt.Errorf("failed to reload config: %w", err)
	}

	s.mu.Lock()
	if hash == s.configHash {
		s.mu.Unlock()
		return false, nil
	}
	s.configHash = hash
	d := alert.NewDispatcher(cfg.Alerts, s.logger)
	s.dispatcher = d
	s.limiter = ratelimit.New(cfg.RateLimits)
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.SetAlerter(d)
	}
	s.logger.Info("config reloaded",
		"component", "server",
		"hash", hash,
		"alerts", len(cfg.Alerts),
		"rate_limits", len(cfg.RateLimits),
	)
	return true, nil
}

func (s *Server) currentDispatcher() *alert.Dispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatcher
}

// Dispatch sends event to the alert destinations of the current config.
func (s *Server) Dispatch(event alert.AlertEvent) {
	s.currentDispatcher().Dispatch(event)
}

func (s *Server) currentLimiter() *ratelimit.Limiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limiter
}

// Append implements the Append RPC.
func (s *Server) Append(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := ledgerv1.AppendRequestFromStruct(in)
	if err != nil {
		return nil, toStatus(err)
	}
	if res := s.currentLimiter().Allow(req.AuthorRole); res.Exceeded {
		s.logger.Warn("append rate limited",
			"component", "server",
			"author_role", res.Role,
			"current", res.Current,
			"limit", res.Limit,
		)
		return nil, status.Error(codes.ResourceExhausted, res.Reason)
	}
	entry, err := s.store.Append(ctx, req)
	if err != nil {
		if isWriteFailure(err) {
			s.currentDispatcher().Dispatch(alert.WriteFailureEvent(s.cfg.Source, req, err))
		}
		return nil, toStatus(err)
	}
	return ledgerv1.EntryToStruct(entry), nil
}

// VerifyChain implements the VerifyChain RPC.
func (s *Server) VerifyChain(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.store.VerifyChain(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if !res.Valid {
		s.currentDispatcher().Dispatch(alert.IntegrityEvent(s.cfg.Source, res))
	}
	s.SetHealth(res.Valid)
	return ledgerv1.VerifyResultToStruct(res), nil
}

// GetEntry implements the GetEntry RPC.
func (s *Server) GetEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := parseID(ledgerv1.String(in, "id"))
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return ledgerv1.LookupToStruct(e), nil
}

// GetBySequence implements the GetBySequence RPC.
func (s *Server) GetBySequence(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	seq, err := ledgerv1.Int(in, "sequence_number")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	e, err := s.store.GetBySequence(ctx, seq)
	if err != nil {
		return nil, toStatus(err)
	}
	return ledgerv1.LookupToStruct(e), nil
}

// ListLatest implements the ListLatest RPC.
func (s *Server) ListLatest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit, err := intArg(in, "limit")
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetLatest(ctx, limit)
	return listResponse(entries, err)
}

// ListByType implements the ListByType RPC.
func (s *Server) ListByType(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	entryType := ledgerv1.String(in, "entry_type")
	if entryType == "" {
		return nil, status.Error(codes.InvalidArgument, "entry_type is required")
	}
	limit, err := intArg(in, "limit")
	if err != nil {
		return nil, err
	}
	offset, err := intArg(in, "offset")
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetByType(ctx, entryType, limit, offset)
	return listResponse(entries, err)
}

// ListByAuthor implements the ListByAuthor RPC.
func (s *Server) ListByAuthor(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	role := ledgerv1.String(in, "author_role")
	if role == "" {
		return nil, status.Error(codes.InvalidArgument, "author_role is required")
	}
	limit, err := intArg(in, "limit")
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetByAuthor(ctx, role, limit)
	return listResponse(entries, err)
}

// Search implements the Search RPC.
func (s *Server) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit, err := intArg(in, "limit")
	if err != nil {
		return nil, err
	}
	entries, err := s.store.SearchContent(ctx, ledgerv1.String(in, "query"), ledgerv1.String(in, "entry_type"), limit)
	return listResponse(entries, err)
}

// Count implements the Count RPC.
func (s *Server) Count(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"count": structpb.NewNumberValue(float64(n)),
	}}, nil
}

// Status implements the Status RPC: the last scheduled verification.
func (s *Server) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{
		"healthy": structpb.NewBoolValue(false),
		"checks":  structpb.NewNumberValue(0),
		"message": structpb.NewStringValue("scheduled verification disabled"),
	}
	if s.monitor != nil {
		st := s.monitor.Status()
		fields["healthy"] = structpb.NewBoolValue(st.Healthy())
		fields["checks"] = structpb.NewNumberValue(float64(st.Checks))
		msg := st.Result.Message
		if st.Err != "" {
			msg = st.Err
		}
		if st.Checks == 0 {
			msg = "no check has run yet"
		} else {
			fields["checked_at"] = structpb.NewStringValue(st.CheckedAt.Format(time.RFC3339))
		}
		fields["message"] = structpb.NewStringValue(msg)
	}
	return &structpb.Struct{Fields: fields}, nil
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "rpc",
		"component", "server",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
	return resp, err
}

func listResponse(entries []ledger.Entry, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return ledgerv1.EntriesToStruct(entries), nil
}

func intArg(in *structpb.Struct, key string) (int, error) {
	n, err := ledgerv1.Int(in, key)
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, err.Error())
	}
	return int(n), nil
}
