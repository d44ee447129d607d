package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/gxo-labs/statesync/pkg/statesync/v1"
	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"

	"github.com/gxo-labs/statesync/internal/client"
	"github.com/gxo-labs/statesync/internal/config"
	"github.com/gxo-labs/statesync/internal/events"
	"github.com/gxo-labs/statesync/internal/logger"
	"github.com/gxo-labs/statesync/internal/metrics"
	"github.com/gxo-labs/statesync/internal/module"
	"github.com/gxo-labs/statesync/internal/tracing"
	"github.com/gxo-labs/statesync/internal/transport"

	_ "github.com/gxo-labs/statesync/modules/counter"
	_ "github.com/gxo-labs/statesync/modules/reset"
	_ "github.com/gxo-labs/statesync/modules/todos"
)

const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitUsageError      = 2
	ExitSigIntBase      = 128
	ExitSigInt          = ExitSigIntBase + int(syscall.SIGINT)
	DemoWorkerPath      = "demo/counter"
	DefaultReadyTimeout = 5 * time.Second
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "validate" {
		os.Exit(runValidateCommand(os.Args[2:]))
	}
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		printVersion()
		os.Exit(ExitSuccess)
	}
	os.Exit(runDemoCommand(os.Args[1:]))
}

func printVersion() {
	fmt.Printf("statesync version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
	fmt.Printf("go version: %s\n", runtime.Version())
	fmt.Printf("os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runValidateCommand(args []string) int {
	validateFlags := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := validateFlags.String("config", "", "Path to the configuration YAML file to validate (required)")
	logLevel := validateFlags.String("log-level", "info", "Log level for validation output (debug, info, warn, error)")

	validateFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s validate -config <path> [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Validates a statesync runtime configuration file.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		validateFlags.PrintDefaults()
	}

	if err := validateFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config flag is required for validation")
		validateFlags.Usage()
		return ExitUsageError
	}

	log := logger.NewLogger(*logLevel, config.LogFormatText, os.Stderr)
	log.Infof("Validating configuration: %s", *configPath)

	if _, err := config.LoadFromFile(*configPath); err != nil {
		logLoadError(log, err)
		return ExitFailure
	}
	log.Infof("Configuration validation successful: %s", *configPath)
	return ExitSuccess
}

func logLoadError(log synclog.Logger, err error) {
	var validationErr *syncerrors.ValidationError
	var configErr *syncerrors.ConfigError
	switch {
	case errors.As(err, &validationErr):
		log.Errorf("Configuration validation failed:\n%s", validationErr.Error())
	case errors.As(err, &configErr):
		log.Errorf("Configuration error:\n%s", configErr.Error())
	default:
		log.Errorf("Failed to load configuration: %v", err)
	}
}

func runDemoCommand(args []string) int {
	demoFlags := flag.NewFlagSet("statesync", flag.ContinueOnError)
	configPath := demoFlags.String("config", "", "Path to a runtime configuration YAML file (defaults are used when empty)")
	logLevel := demoFlags.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	versionFlag := demoFlags.Bool("version", false, "Print version information and exit")

	demoFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Spawns the demo worker, drives its stores through a client and prints a summary.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		demoFlags.PrintDefaults()
	}

	if err := demoFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if *versionFlag {
		printVersion()
		return ExitSuccess
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			logLoadError(logger.NewDefaultLogger("info"), err)
			return ExitFailure
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr).With("statesync_version", version)
	log.Infof("statesync v%s starting (config: %s)", version, displayPath(cfg.FilePath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider := tracing.NewProviderFromEnv(ctx, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Error shutting down tracer provider: %v", err)
		}
	}()

	metricsProvider := metrics.NewProcessRegistryProvider()
	diagnostics := events.NewChannelSink(cfg.Diagnostics.BufferSize, log)
	defer diagnostics.Close()
	diagnosticsCounter, err := metrics.Register(metricsProvider.Registry(), events.NewDiagnosticsCounter())
	if err != nil {
		log.Errorf("Failed to register diagnostics counter: %v", err)
		return ExitFailure
	}
	listener := events.NewMetricsListener(diagnostics, diagnosticsCounter, events.NewLogSink(log), log)
	go listener.Start(ctx)

	if cfg.Metrics.Enabled {
		server := serveMetrics(cfg.Metrics.Listen, metricsProvider, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	codec, err := transport.ParseCodec(cfg.Transport.Codec)
	if err != nil {
		log.Errorf("Invalid transport codec: %v", err)
		return ExitFailure
	}
	spawner := transport.NewLocalSpawner(transport.PipeOptions{
		Codec:     codec,
		WarnDepth: cfg.Transport.MailboxWarnDepth,
		Log:       log,
	})
	workerMain := module.NewWorkerMain(module.WorkerSpec{
		Options: []v1.RouterOption{
			v1.WithDiagnosticSink(diagnostics),
			v1.WithMetricsRegistryProvider(metricsProvider),
			v1.WithTracerProvider(tracerProvider),
		},
	}, log.With("component", "worker"))
	if err := spawner.Register(DemoWorkerPath, workerMain); err != nil {
		log.Errorf("Failed to register demo worker: %v", err)
		return ExitFailure
	}

	policy, err := cfg.SpawnRetryPolicy()
	if err != nil {
		log.Errorf("Invalid spawn retry policy: %v", err)
		return ExitFailure
	}
	c, err := client.New(log.With("component", "client"),
		v1.WithSpawnRetry(policy),
		v1.WithClientDiagnosticSink(diagnostics),
	)
	if err != nil {
		log.Errorf("Failed to create client: %v", err)
		return ExitFailure
	}
	defer c.Close()

	if err := c.Install(spawner, DemoWorkerPath); err != nil {
		log.Errorf("Failed to install worker '%s': %v", DemoWorkerPath, err)
		return ExitFailure
	}
	readyCtx, cancelReady := context.WithTimeout(ctx, DefaultReadyTimeout)
	defer cancelReady()
	if err := c.Ready(readyCtx); err != nil {
		log.Errorf("Worker '%s' did not announce its stores: %v", DemoWorkerPath, err)
		return ExitFailure
	}

	summary, err := runScenario(ctx, c, log)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warnf("Demo interrupted.")
			return ExitSigInt
		}
		log.Errorf("Demo failed: %v", err)
		return ExitFailure
	}
	summary.Print(os.Stdout)
	return ExitSuccess
}

func serveMetrics(addr string, provider *metrics.PrometheusRegistryProvider, log synclog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(provider.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("Serving metrics on http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server stopped: %v", err)
		}
	}()
	return server
}

func displayPath(p string) string {
	if p == "" {
		return "defaults"
	}
	return p
}
