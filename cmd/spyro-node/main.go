// Command spyro-node ingests compute-provider feeds into the configured sink
// and serves health, metrics and entity lookups over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/DexterZero/Spyro-API/internal/adapters/http/api"
	"github.com/DexterZero/Spyro-API/internal/adapters/http/swagger"
	app "github.com/DexterZero/Spyro-API/internal/app"
	"github.com/DexterZero/Spyro-API/internal/config"
	"github.com/DexterZero/Spyro-API/pkg/logger"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Stderr.WriteString("spyro-node: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// nodeFlags are the command-line overrides.
type nodeFlags struct {
	configPath  string
	verbosity   int
	httpAddr    string
	postgresURL string
	jsonLogs    bool
}

func parseFlags(args []string) (nodeFlags, error) {
	var f nodeFlags
	fs := pflag.NewFlagSet("spyro-node", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "config file (YAML, or JSON with comments); defaults to $SPYRO_CONFIG")
	fs.CountVarP(&f.verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	fs.StringVar(&f.httpAddr, "http-addr", "", "listen address for health, metrics and stats")
	fs.StringVar(&f.postgresURL, "postgres-url", "", "write to Postgres at this URL instead of the configured sink")
	fs.BoolVar(&f.jsonLogs, "json-logs", false, "log JSON to the console")
	if err := fs.Parse(args); err != nil {
		return nodeFlags{}, err
	}
	return f, nil
}

// loadConfig layers the flags over the loaded configuration.
func loadConfig(ctx context.Context, f nodeFlags) (*config.Config, error) {
	cfg, err := config.Load(ctx, f.configPath)
	if err != nil {
		return nil, err
	}
	if f.httpAddr != "" {
		cfg.Addr = f.httpAddr
	}
	if f.postgresURL != "" {
		cfg.Sink.Kind = "postgres"
		cfg.Sink.URL = f.postgresURL
	}
	if f.verbosity > 0 {
		cfg.LogLevel = logger.LevelFromVerbosity(f.verbosity)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newMux registers every HTTP route.
func newMux(ctx context.Context, svc *app.Service, m *metrics.Manager, docs ...swagger.Option) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux, docs...)
	api.NewServer(svc, m).Register(ctx, mux)
	return mux
}

func run(ctx context.Context, args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	// Load configuration (defaults -> optional file -> env -> flags)
	cfg, err := loadConfig(ctx, flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logger.Option{}
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logger.WithFile(cfg.LogFile))
	}
	if flags.jsonLogs {
		logOpts = append(logOpts, logger.WithJSON())
	}
	if err := logger.Init(logOpts...); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}

	log := logger.Get()

	m := metrics.New()
	defer func() { _ = m.Close() }()

	svc := app.New(
		app.WithConfig(cfg),
		app.WithLogger(log),
		app.WithMetrics(m),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx, m)

	var docs []swagger.Option
	if cfg.RedocFile != "" {
		docs = append(docs, swagger.WithRedocFile(cfg.RedocFile))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc, m, docs...),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Without providers there is nothing to wait for besides a signal.
	var pipelinesDone <-chan struct{}
	if len(cfg.Providers) > 0 {
		pipelinesDone = svc.Done()
	} else {
		log.Warn(ctx, "no providers configured")
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down...")
	case <-pipelinesDone:
		log.Warn(ctx, "every provider pipeline has stopped")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
		runErr = errors.Join(runErr, err)
	}
	if err := svc.Wait(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	log.Info(ctx, "node stopped")
	return runErr
}

// startSystemMetricsUpdater refreshes runtime gauges until ctx ends.
func startSystemMetricsUpdater(ctx context.Context, m *metrics.Manager) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics(m)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics(m *metrics.Manager) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var avgPauseMs float64
	if ms.NumGC > 0 {
		avgPauseMs = float64(ms.PauseTotalNs) / float64(ms.NumGC) / nanosecondsPerMillisecond
	}
	m.UpdateSystem(ms.Alloc, runtime.NumGoroutine(), avgPauseMs)
}
