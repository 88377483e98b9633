package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/oshokin/alarm-monitor/internal/api/grpc/station"
	"github.com/oshokin/alarm-monitor/internal/api/rest"
	"github.com/oshokin/alarm-monitor/internal/broadcast"
	"github.com/oshokin/alarm-monitor/internal/config"
	"github.com/oshokin/alarm-monitor/internal/engine"
	"github.com/oshokin/alarm-monitor/internal/ingest"
	"github.com/oshokin/alarm-monitor/internal/logger"
	"github.com/oshokin/alarm-monitor/internal/metrics"
	"github.com/oshokin/alarm-monitor/internal/repository/baseline"
	"github.com/oshokin/alarm-monitor/internal/repository/history"
)

const readHeaderTimeout = 10 * time.Second

// Options controls the alarm-monitor process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the HTTP listen address from the configuration.
	ListenAddress string
	// GRPCAddress overrides the gRPC listen address from the configuration.
	GRPCAddress string
	// LogLevelSet reports that the log level was given on the command line
	// and must not be replaced by the configuration.
	LogLevelSet bool
}

// Run starts the monitor and blocks until ctx is cancelled or a component fails.
//
//nolint:funlen,cyclop // Linear start-up and shutdown sequence.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarm-monitor")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	applyOverrides(settings, opts)

	if err = configureLogger(&settings.Log, opts.LogLevelSet); err != nil {
		return err
	}

	var (
		registry = metrics.NewRegistry()
		recorder = metrics.NewRecorder(registry)
	)

	store, err := history.Open(ctx, &settings.Storage)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}

	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.ErrorKV(ctx, "Failed to close history store", "error", closeErr)
		}
	}()

	writer := history.NewWriter(ctx, store,
		history.WithQueueSize(settings.Storage.QueueSize),
		history.WithWriterRecorder(recorder))

	hub := broadcast.NewHub(ctx,
		broadcast.WithBuffer(settings.HTTP.ObserverBuffer),
		broadcast.WithRecorder(recorder))

	eng := engine.New(writer, hub,
		engine.WithRecorder(recorder),
		engine.WithDefaultStation(settings.Station))

	var baselines baseline.Repository
	if settings.BaselineFile != "" {
		baselines = baseline.NewFileRepository(settings.BaselineFile)
	}

	if err = restoreBaselines(ctx, eng, baselines); err != nil {
		return err
	}

	handler := ingest.NewHandler(eng, settings.Station, recorder)

	source, err := ingest.NewSource(&settings.Transport, handler)
	if err != nil {
		return fmt.Errorf("create ingestion source: %w", err)
	}

	lc := net.ListenConfig{}

	httpListener, err := lc.Listen(ctx, "tcp", settings.HTTP.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.HTTP.ListenAddress, err)
	}

	httpServer := &http.Server{
		Handler: rest.NewRouter(ctx, rest.Options{
			History:        writer,
			State:          eng,
			Hub:            hub,
			Metrics:        metrics.Handler(registry),
			StaticDir:      settings.HTTP.StaticDir,
			AllowedOrigins: settings.HTTP.AllowedOrigins,
			KeepAlive:      settings.HTTP.KeepAliveInterval,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var (
		grpcServer   *grpc.Server
		grpcListener net.Listener
	)

	if settings.GRPC.ListenAddress != "" {
		grpcListener, err = lc.Listen(ctx, "tcp", settings.GRPC.ListenAddress)
		if err != nil {
			_ = httpListener.Close()

			return fmt.Errorf("listen on %s: %w", settings.GRPC.ListenAddress, err)
		}

		grpcServer = grpc.NewServer()
		station.RegisterStationServiceServer(grpcServer, station.NewServer(eng, writer, hub))
	}

	var retention *history.Retention
	if settings.Storage.Retention > 0 {
		retention, err = history.NewRetention(ctx, store, settings.Storage.Retention, settings.Storage.RetentionInterval)
		if err != nil {
			_ = httpListener.Close()

			if grpcListener != nil {
				_ = grpcListener.Close()
			}

			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		failed     = make(chan error, 3)
		sourceDone = make(chan struct{})
	)

	go func() {
		defer close(sourceDone)

		if err := source.Run(runCtx); err != nil {
			failed <- fmt.Errorf("run ingestion source: %w", err)
		}
	}()

	wg.Go(func() {
		logger.InfoKV(ctx, "HTTP server listening", "listen_address", httpListener.Addr().String())

		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("serve HTTP: %w", err)
		}
	})

	if grpcServer != nil {
		wg.Go(func() {
			logger.InfoKV(ctx, "gRPC server listening", "listen_address", grpcListener.Addr().String())

			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				failed <- fmt.Errorf("serve gRPC: %w", err)
			}
		})
	}

	if retention != nil {
		retention.Start()
	}

	logger.InfoKV(ctx, "Alarm monitor started",
		"station", settings.Station,
		"transport", settings.Transport.Kind,
		"storage", settings.Storage.Driver)

	var runErr error

	select {
	case <-ctx.Done():
	case runErr = <-failed:
		logger.ErrorKV(ctx, "Component failed, shutting down", "error", runErr)
	}

	// Transitions of the last words must reach the writer before it closes.
	stopIngestion(ctx, cancel, sourceDone, handler, settings.HTTP.ShutdownTimeout)

	shutdown(ctx, &shutdownSteps{
		timeout:    settings.HTTP.ShutdownTimeout,
		hub:        hub,
		httpServer: httpServer,
		grpcServer: grpcServer,
		retention:  retention,
		writer:     writer,
	})

	wg.Wait()

	if err = saveBaselines(context.WithoutCancel(ctx), eng, baselines); err != nil {
		logger.ErrorKV(ctx, "Failed to save baselines", "error", err)
	}

	logger.Info(ctx, "Alarm monitor stopped")

	return runErr
}

// stopIngestion cancels the source, waits at most timeout for it to return and
// closes handler, so no word reaches the engine afterwards.
func stopIngestion(
	ctx context.Context,
	cancel context.CancelFunc,
	sourceDone <-chan struct{},
	handler *ingest.Handler,
	timeout time.Duration,
) {
	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sourceDone:
	case <-timer.C:
		logger.WarnKV(ctx, "Ingestion source did not stop in time", "timeout", timeout)
	}

	handler.Close()
}

// shutdownSteps lists the components stopped on exit.
type shutdownSteps struct {
	// timeout bounds the whole shutdown.
	timeout time.Duration
	// hub is closed first so observer streams end.
	hub *broadcast.Hub
	// httpServer is shut down gracefully.
	httpServer *http.Server
	// grpcServer is stopped gracefully, may be nil.
	grpcServer *grpc.Server
	// retention is stopped, may be nil.
	retention *history.Retention
	// writer is drained last.
	writer *history.Writer
}

// shutdown stops the components in dependency order.
func shutdown(ctx context.Context, steps *shutdownSteps) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), steps.timeout)
	defer cancel()

	// Long-lived observer streams only return once the hub is closed.
	steps.hub.Close()

	if err := steps.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorKV(ctx, "Failed to shut down HTTP server", "error", err)
	}

	if steps.grpcServer != nil {
		logger.Info(ctx, "Shutting down gRPC server")
		steps.grpcServer.GracefulStop()
	}

	if steps.retention != nil {
		if err := steps.retention.Stop(); err != nil {
			logger.ErrorKV(ctx, "Failed to stop retention", "error", err)
		}
	}

	if err := steps.writer.Close(shutdownCtx); err != nil {
		logger.ErrorKV(ctx, "Failed to drain history writer", "error", err)
	}
}

// applyOverrides replaces configured listen addresses with command line values.
func applyOverrides(settings *config.Config, opts *Options) {
	if opts.ListenAddress != "" {
		settings.HTTP.ListenAddress = opts.ListenAddress
	}

	if opts.GRPCAddress != "" {
		settings.GRPC.ListenAddress = opts.GRPCAddress
	}
}

// configureLogger applies the configured format and, unless set on the command line, level.
func configureLogger(cfg *config.LogConfig, levelSet bool) error {
	if cfg.Level != "" && !levelSet {
		level, ok := logger.ParseLogLevel(cfg.Level)
		if !ok {
			return fmt.Errorf("%w: %q", errInvalidLogLevel, cfg.Level)
		}

		logger.SetLevel(level)
	}

	if cfg.Format == "" || cfg.Format == logger.FormatConsole {
		return nil
	}

	l, err := logger.NewWithFormat(cfg.Format, logger.AtomicLevel())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	logger.SetLogger(l)

	return nil
}

var errInvalidLogLevel = errors.New("invalid log level")
