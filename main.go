package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"payments-e2e/builders"
	"payments-e2e/config"
	"payments-e2e/logging"
	"payments-e2e/monitoring"
	"payments-e2e/resources"
	"payments-e2e/sandbox"
	"payments-e2e/scenario"
)

const targetLocal = "local"

const usage = `usage:
  payments-e2e run [-config dir] [-tags expr] [-strict] [-target principal|sandbox|local] [-format f] [-debug]
  payments-e2e sandbox [-config dir] [-port p] [-db path] [-debug]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCommand(os.Args[2:]))
	case "sandbox":
		os.Exit(sandboxCommand(os.Args[2:]))
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

// runCommand executes the scenario features and returns the exit code.
func runCommand(args []string) int {
	fset := flag.NewFlagSet("run", flag.ExitOnError)
	configDir := fset.String("config", "", "directory holding config.properties, testdata.properties and features/")
	tags := fset.String("tags", "", "tag expression selecting scenarios (default scenario.tags)")
	strict := fset.Bool("strict", false, "disable simulated responses (default scenario.strict)")
	target := fset.String("target", "", "principal, sandbox or local (default scenario.target)")
	format := fset.String("format", "pretty", "godog formatter: pretty, progress, cucumber or junit")
	debug := fset.Bool("debug", false, "enable debug logging")
	fset.Parse(args)

	initLogger(*debug)
	fsys, cfg, data := loadConfig(*configDir)

	shutdown := initTelemetry(cfg, monitoring.ExporterOTLP)
	defer shutdown()

	if err := applyConfigDefaults(fset, cfg); err != nil {
		logging.Fatal("Invalid run configuration", zap.Error(err))
	}

	var builderOpts []builders.Option
	if key, err := cfg.IntegrityKey(); err == nil && key != "" {
		builderOpts = append(builderOpts, builders.WithIntegrityKey(key))
	}
	builder := builders.New(data, builderOpts...)

	opts := scenario.Options{Strict: *strict}
	baseURL := ""
	if *target == targetLocal {
		url, stop, err := startLocalSandbox(cfg)
		if err != nil {
			logging.Error("Failed to start local sandbox", zap.Error(err))
			return 1
		}
		defer stop()
		opts.BaseURL = url
		baseURL = url
	} else {
		url, err := scenario.ResolveBaseURL(cfg, *target)
		if err != nil {
			logging.Error("Invalid target", zap.String("target", *target), zap.Error(err))
			return 2
		}
		opts.Target = *target
		baseURL = url
	}

	features, err := scenario.LoadFeatures(fsys)
	if errors.Is(err, scenario.ErrNoFeatures) {
		features, err = scenario.LoadFeatures(resources.FS)
	}
	if err != nil {
		logging.Error("Failed to load features", zap.Error(err))
		return 2
	}

	logging.Info("Running scenarios",
		zap.Int("features", len(features)),
		zap.String("tags", *tags),
		zap.String("target", *target),
		zap.String("base_url", baseURL),
		zap.Bool("strict", *strict),
	)

	rn := scenario.NewRunner(cfg, builder, opts,
		scenario.WithFeatures(features),
		scenario.WithOutput(os.Stdout, *format),
	)
	report, err := rn.Run(context.Background(), *tags)
	if err != nil {
		logging.Error("Invalid tag expression", zap.String("tags", *tags), zap.Error(err))
		return 2
	}
	printReport(report)
	if report.Status != 0 || report.Failed() > 0 {
		return 1
	}
	return 0
}

// sandboxCommand serves the sandbox API until interrupted.
func sandboxCommand(args []string) int {
	fset := flag.NewFlagSet("sandbox", flag.ExitOnError)
	configDir := fset.String("config", "", "directory holding config.properties and testdata.properties")
	port := fset.String("port", "", "listen port (default sandbox.port)")
	dbPath := fset.String("db", "", "BoltDB file (default sandbox.db)")
	debug := fset.Bool("debug", false, "enable debug logging")
	fset.Parse(args)

	initLogger(*debug)
	_, cfg, _ := loadConfig(*configDir)

	shutdown := initTelemetry(cfg, monitoring.ExporterPrometheus)
	defer shutdown()

	if !*debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if *port == "" {
		*port = cfg.GetOrDefault("sandbox.port", "8089")
	}
	if *dbPath == "" {
		*dbPath = cfg.GetOrDefault("sandbox.db", "sandbox.db")
	}

	store, err := sandbox.OpenStore(*dbPath)
	if err != nil {
		logging.Error("Failed to open sandbox store", zap.String("path", *dbPath), zap.Error(err))
		return 1
	}
	defer store.Close()

	srv := &http.Server{
		Addr:    ":" + *port,
		Handler: sandbox.NewRouter(config.ServiceName+"-sandbox", sandbox.NewHandler(store, sandboxOptions(cfg))),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("Error shutting down sandbox", zap.Error(err))
		}
	}()

	// Start server
	logging.Info("Sandbox API starting", zap.String("port", *port), zap.String("db", *dbPath))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("Failed to start server", zap.Error(err))
		return 1
	}
	return 0
}

// initLogger builds the process logger. OTLP export is added later by
// initTelemetry once the configuration is known.
func initLogger(debug bool) {
	if err := logging.InitLogger(logging.Options{ServiceName: config.ServiceName, Debug: debug}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
}

// loadConfig loads both resources, from dir when set and from the embedded
// defaults otherwise, and returns the filesystem they came from.
func loadConfig(dir string) (fsys fs.FS, cfg, data *config.Config) {
	fsys = resources.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	}

	var err error
	if cfg, err = config.NewProvider(fsys, config.ConfigFile).Config(); err != nil {
		logging.Fatal("Failed to load configuration", zap.Error(err))
	}
	if data, err = config.NewProvider(fsys, config.TestDataFile).Config(); err != nil {
		logging.Fatal("Failed to load test data", zap.Error(err))
	}
	return fsys, cfg, data
}

// initTelemetry adds OTLP log export and tracing when otel.enabled, and
// metrics when otel.enabled or the exporter is Prometheus. The returned
// function flushes and shuts everything down.
func initTelemetry(cfg *config.Config, exporter monitoring.Exporter) func() {
	otelEnabled := mustBool(cfg, "otel.enabled")
	endpoint := cfg.OTELEndpoint()

	var closers []func(context.Context) error
	if otelEnabled {
		if err := logging.InitOTLP(endpoint); err != nil {
			logging.Fatal("Failed to initialize OTLP logging", zap.Error(err))
		}
		tp, _, err := monitoring.InitTracer(config.ServiceName, endpoint)
		if err != nil {
			logging.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		closers = append(closers, tp.Shutdown)
	}
	if otelEnabled || exporter == monitoring.ExporterPrometheus {
		mp, _, err := monitoring.InitMeter(config.ServiceName, endpoint, exporter)
		if err != nil {
			logging.Fatal("Failed to initialize meter", zap.Error(err))
		}
		closers = append(closers, mp.Shutdown)
	}

	return func() {
		ctx := context.Background()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil {
				logging.Error("Error shutting down telemetry provider", zap.Error(err))
			}
		}
		if err := logging.Shutdown(ctx); err != nil {
			logging.Error("Error shutting down logger provider", zap.Error(err))
		}
		logging.Sync()
	}
}

// applyConfigDefaults sets every run flag missing from the command line to
// its scenario.* configuration value. An explicit -strict=false wins over
// scenario.strict=true.
func applyConfigDefaults(fset *flag.FlagSet, cfg *config.Config) error {
	strict, err := cfg.Bool("scenario.strict", false)
	if err != nil {
		return err
	}
	defaults := map[string]string{
		"tags":   cfg.GetOrDefault("scenario.tags", ""),
		"strict": strconv.FormatBool(strict),
		"target": cfg.GetOrDefault("scenario.target", scenario.TargetPrincipal),
	}
	for name, value := range defaults {
		if flagSet(fset, name) {
			continue
		}
		if err := fset.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// flagSet reports whether name was given on the command line.
func flagSet(fset *flag.FlagSet, name string) bool {
	found := false
	fset.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// mustBool reads a boolean setting, defaulting to false, and exits on a
// malformed value.
func mustBool(cfg *config.Config, key string) bool {
	b, err := cfg.Bool(key, false)
	if err != nil {
		logging.Fatal("Invalid boolean configuration", zap.String("key", key), zap.Error(err))
	}
	return b
}

// sandboxOptions derives sandbox behavior from the configuration. A PENDING
// transaction expires after half the authentication timeout, so the timeout
// scenario sees it expired once its wait is over.
func sandboxOptions(cfg *config.Config) sandbox.Options {
	opts := sandbox.Options{
		APIKey: mustGet(cfg.PrivateKey),
	}
	if key, err := cfg.IntegrityKey(); err == nil {
		opts.IntegrityKey = key
	}
	if above, err := cfg.Int("sandbox.insufficient.above"); err == nil {
		opts.InsufficientAbove = above
	}
	if timeout, err := cfg.TransactionTimeout(); err == nil {
		opts.ExpireAfter = timeout / 2
	}
	return opts
}

// startLocalSandbox serves the sandbox on a loopback port backed by a
// temporary store and returns its base URL.
func startLocalSandbox(cfg *config.Config) (string, func(), error) {
	gin.SetMode(gin.ReleaseMode)

	dir, err := os.MkdirTemp("", "payments-e2e-sandbox")
	if err != nil {
		return "", nil, err
	}
	store, err := sandbox.OpenStore(filepath.Join(dir, "sandbox.db"))
	if err != nil {
		os.RemoveAll(dir)
		return "", nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		store.Close()
		os.RemoveAll(dir)
		return "", nil, err
	}

	srv := &http.Server{
		Handler: sandbox.NewRouter(config.ServiceName+"-sandbox", sandbox.NewHandler(store, sandboxOptions(cfg))),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Local sandbox stopped", zap.Error(err))
		}
	}()

	url := "http://" + ln.Addr().String()
	logging.Info("Local sandbox started", zap.String("url", url))

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		store.Close()
		os.RemoveAll(dir)
	}
	return url, stop, nil
}

func printReport(report scenario.Report) {
	for _, res := range report.Results {
		status := "PASS"
		if !res.Passed() {
			status = "FAIL"
		}
		line := fmt.Sprintf("%s  %s (%s", status, res.Name, res.Duration.Round(time.Millisecond))
		if res.Simulated > 0 {
			line += ", " + strconv.Itoa(res.Simulated) + " simulated"
		}
		fmt.Println(line + ")")
		if !res.Passed() {
			fmt.Printf("      at %q: %v\n", res.FailedStep, res.Err)
		}
	}
	fmt.Printf("\n%d scenarios, %d failed, %d simulated responses\n",
		len(report.Results), report.Failed(), report.Simulated())
}

func mustGet(get func() (string, error)) string {
	v, err := get()
	if err != nil {
		logging.Fatal("Missing required configuration", zap.Error(err))
	}
	return v
}
