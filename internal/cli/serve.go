package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ppiankov/novaledger/internal/alert"
	"github.com/ppiankov/novaledger/internal/config"
	"github.com/ppiankov/novaledger/internal/inbox"
	"github.com/ppiankov/novaledger/internal/integrity"
	"github.com/ppiankov/novaledger/internal/monitor"
	"github.com/ppiankov/novaledger/internal/server"
	"github.com/ppiankov/novaledger/internal/systemd"
	"github.com/ppiankov/novaledger/internal/telemetry"
)

var (
	servePort        int
	serveMetricsAddr string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gRPC listen port (default from config)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Prometheus listen address, e.g. :9090 (default from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC ledger server",
	Long: "Runs the ledger as a gRPC service so agents and other processes share one chain.\n" +
		"Verifies the chain on a schedule, alerts on integrity failures and hot-reloads\n" +
		"alert destinations when the config file changes.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := requireLocal("serve"); err != nil {
		return err
	}
	port := appCfg.GRPCPort
	if servePort != 0 {
		port = servePort
	}
	metricsAddr := appCfg.MetricsAddr
	if serveMetricsAddr != "" {
		metricsAddr = serveMetricsAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, appCfg.Tracing, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := openStore(reg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Initialize(ctx); err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	if err := verifyBinary(hostname); err != nil {
		return err
	}
	if msg := systemd.CheckUnitFileIntegrity(unitPath); msg != "" {
		logger.Warn(msg, "component", "cli")
	}

	var mon *monitor.Monitor
	if appCfg.VerifyInterval > 0 {
		mon = monitor.New(monitor.Config{
			Interval: appCfg.VerifyInterval,
			Source:   hostname,
			Logger:   logger,
			Registry: reg,
		}, store, nil)
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	srv, err := server.New(server.Config{
		Port:       port,
		ConfigPath: path,
		ConfigHash: configHash,
		Source:     hostname,
		Alerts:     appCfg.Alerts,
		RateLimits: appCfg.RateLimits,
		Monitor:    mon,
		Logger:     logger,
	}, store)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if mon != nil {
		go func() {
			if err := mon.Run(ctx); err != nil {
				logger.Error("monitor stopped", "error", err)
			}
		}()
	}

	reloader, err := server.NewReloader(srv, []string{path})
	if err != nil {
		logger.Warn("hot-reload disabled", "error", err)
	} else {
		go reloader.Run(ctx)
	}

	if appCfg.Inbox.Enabled() {
		ib, err := inbox.New(inbox.Config{
			Dirs: inbox.DirConfig{
				Inbox:  appCfg.Inbox.Dir,
				Outbox: appCfg.Inbox.OutboxDir(),
				State:  appCfg.Inbox.StateDir(),
			},
			Poll:         appCfg.Inbox.Poll,
			PollInterval: appCfg.Inbox.PollInterval,
			Logger:       logger,
			Registry:     reg,
			Alerter:      srv,
			Source:       hostname,
		}, store)
		if err != nil {
			return err
		}
		go func() {
			if err := ib.Run(ctx); err != nil {
				logger.Error("inbox stopped", "component", "inbox", "error", err)
			}
		}()
	}

	var metricsSrv *http.Server
	if metricsAddr != "" {
		metricsSrv = server.NewMetricsServer(metricsAddr, reg)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", metricsAddr, "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "\nShutting down ledger server...")
		cancel()
		if metricsSrv != nil {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsSrv.Shutdown(sctx)
			scancel()
		}
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "novaledger server listening on :%d\n", port)
	fmt.Fprintf(os.Stderr, "Database: %s\n", appCfg.Database.String())
	if metricsAddr != "" {
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", metricsAddr)
	}
	if mon != nil {
		fmt.Fprintf(os.Stderr, "Chain verification every %s\n", appCfg.VerifyInterval)
	}
	if appCfg.Inbox.Enabled() {
		fmt.Fprintf(os.Stderr, "Inbox: %s (results in %s)\n", appCfg.Inbox.Dir, appCfg.Inbox.OutboxDir())
	}
	fmt.Fprintln(os.Stderr)

	return srv.Serve()
}

// verifyBinary refuses to serve from a modified binary and alerts
// synchronously, since the process exits right after.
func verifyBinary(source string) error {
	ok, err := integrity.Verify()
	var mm *integrity.Mismatch
	switch {
	case errors.As(err, &mm):
		logger.Error("BINARY TAMPER DETECTED",
			"component", "integrity",
			"binary", mm.Binary,
			"expected", mm.Expected,
			"actual", mm.Actual,
		)
		d := alert.NewDispatcher(appCfg.Alerts, logger)
		d.Dispatch(alert.BinaryTamperEvent(source, mm.Binary, mm.Expected, mm.Actual))
		d.Wait()
		return err
	case err != nil:
		return err
	case ok:
		logger.Info("binary checksum verified", "component", "integrity")
	default:
		logger.Warn("no build-time hash or checksum file, binary integrity check skipped", "component", "integrity")
	}
	return nil
}
