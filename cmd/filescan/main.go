// Filescan - static file risk scoring and sandbox verdicts
//
// Usage:
//
//	filescan [global flags] assess [-json] FILE...
//	filescan [global flags] sandbox [-json] FILE
//	filescan [global flags] lookup [-json] HASH
//	filescan [global flags] resume [-json] [-watch INTERVAL]
//
// Exit codes:
//
//	assess:          0 clean/low/medium, 1 suspicious, 2 infected
//	sandbox, lookup: 0 clean, 1 scan error, 2 malicious
//	any command:     3 usage, configuration or unreadable input
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/exploopio/filescan/pkg/config"
	"github.com/exploopio/filescan/pkg/errors"
	"github.com/exploopio/filescan/pkg/health"
	"github.com/exploopio/filescan/pkg/logging"
	"github.com/exploopio/filescan/pkg/metrics"
	"github.com/exploopio/filescan/pkg/pending"
	"github.com/exploopio/filescan/pkg/sandbox"
	"github.com/exploopio/filescan/pkg/signals"
)

const (
	appName    = "filescan"
	appVersion = "1.0.0"
)

const exitFailure = 3

// minFreeDisk is the free space below which the pending store is reported
// unhealthy.
const minFreeDisk = 64 << 20

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries what every command needs.
type app struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics metrics.Collector
	health  *health.Handler
	stdout  io.Writer
	stderr  io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	apiKey := fs.String("api-key", "", "Sandbox API key (or set FILESCAN_API_KEY)")
	verbose := fs.Bool("verbose", false, "Verbose output")
	logFormat := fs.String("log-format", "", "Log format: plain, text or json")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	showVersion := fs.Bool("version", false, "Show version and exit")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return exitFailure
	}
	if *showVersion {
		fmt.Fprintf(stdout, "%s version %s\n", appName, appVersion)
		return 0
	}
	if fs.NArg() == 0 {
		usage(fs)
		return exitFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitFailure
	}
	if *apiKey != "" {
		cfg.Sandbox.APIKey = *apiKey
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	a := &app{
		cfg:     cfg,
		logger:  logging.New(stderr, cfg.LogLevel(), cfg.Logging.Format),
		metrics: metrics.NopCollector{},
		stdout:  stdout,
		stderr:  stderr,
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	needsKey := command == "sandbox" || command == "lookup" || command == "resume"
	if err := cfg.Validate(needsKey); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.IsAuthenticationError(err) {
			fmt.Fprintf(stderr, "Use -api-key, set %s, or set sandbox.api_key in the config file.\n", config.EnvAPIKey)
		}
		return exitFailure
	}

	if cfg.Metrics.Addr != "" {
		shutdown, err := a.serveMetrics(cfg.Metrics.Addr)
		if err != nil {
			fmt.Fprintf(stderr, "Error starting metrics server: %v\n", err)
			return exitFailure
		}
		defer shutdown()
	}

	switch command {
	case "assess":
		return a.runAssess(rest)
	case "sandbox":
		return a.runSandbox(ctx, rest)
	case "lookup":
		return a.runLookup(ctx, rest)
	case "resume":
		return a.runResume(ctx, rest)
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n", command)
		usage(fs)
		return exitFailure
	}
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "Usage: %s [flags] <command> [args]\n\n", appName)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintf(w, "  %-10s %s\n", "assess", "Score files with static signals")
	fmt.Fprintf(w, "  %-10s %s\n", "sandbox", "Scan a file with the remote sandbox")
	fmt.Fprintf(w, "  %-10s %s\n", "lookup", "Look up a hash in the sandbox cache")
	fmt.Fprintf(w, "  %-10s %s\n", "resume", "Re-poll analysis jobs that timed out")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

// serveMetrics replaces the collector with a Prometheus one and serves it
// next to the health probes.
func (a *app) serveMetrics(addr string) (func(), error) {
	collector, err := metrics.NewPrometheusCollector(nil)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	a.health = health.NewHandler(health.WithVersion(appVersion))
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	health.RegisterRoutes(mux, a.health)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server: %v", err)
		}
	}()
	a.metrics = collector
	a.logger.Info("serving metrics on %s/metrics", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// =============================================================================
// assess
// =============================================================================

func (a *app) runAssess(args []string) int {
	fs := flag.NewFlagSet("assess", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	outputJSON := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(a.stderr, "Usage: filescan assess [-json] FILE...")
		return exitFailure
	}

	scorer := signals.NewScorer(signals.WithLogger(a.logger), signals.WithMetrics(a.metrics))
	code := 0
	for _, path := range fs.Args() {
		result := scorer.Assess(path)
		if *outputJSON {
			data, err := signals.MarshalReport(result)
			if err != nil {
				fmt.Fprintf(a.stderr, "Error: %v\n", err)
				return exitFailure
			}
			fmt.Fprintln(a.stdout, string(data))
		} else {
			fmt.Fprint(a.stdout, signals.FormatText(result))
		}

		if result.Classification == signals.ClassError {
			code = exitFailure
			continue
		}
		code = max(code, signals.ExitCode(result.Classification))
	}
	return code
}

// =============================================================================
// sandbox and lookup
// =============================================================================

func (a *app) newClient(store *pending.Store) (*sandbox.Client, error) {
	opts := []sandbox.Option{
		sandbox.WithLogger(a.logger),
		sandbox.WithMetrics(a.metrics),
	}
	if store != nil {
		opts = append(opts, sandbox.WithPendingStore(store))
	}
	return sandbox.New(a.cfg.SandboxConfig(), opts...)
}

func (a *app) openStore() (*pending.Store, error) {
	if !a.cfg.Pending.Enabled {
		return nil, nil
	}
	return pending.Open(a.cfg.StoreConfig())
}

func (a *app) runSandbox(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("sandbox", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	outputJSON := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.stderr, "Usage: filescan sandbox [-json] FILE")
		return exitFailure
	}

	store, err := a.openStore()
	if err != nil {
		// Scanning still works; only timed-out jobs go unrecorded.
		a.logger.Warn("pending store unavailable: %v", err)
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	client, err := a.newClient(store)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}

	_, verdict, err := client.Scan(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}
	if err := a.printVerdict(verdict, *outputJSON); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}
	return sandbox.ExitCode(verdict)
}

func (a *app) runLookup(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	outputJSON := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.stderr, "Usage: filescan lookup [-json] HASH")
		return exitFailure
	}

	client, err := a.newClient(nil)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}

	verdict, err := client.CheckHash(ctx, fs.Arg(0))
	switch {
	case errors.IsNotFoundError(err):
		fmt.Fprintf(a.stdout, "%s: not known to the sandbox service\n", fs.Arg(0))
		return 0
	case errors.GetKind(err) == errors.KindInvalidInput:
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	case err != nil:
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 1
	}
	if err := a.printVerdict(verdict, *outputJSON); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}
	return sandbox.ExitCode(verdict)
}

func (a *app) printVerdict(v *sandbox.Verdict, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprint(a.stdout, sandbox.FormatText(v))
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(data))
	return err
}

// =============================================================================
// resume
// =============================================================================

func (a *app) runResume(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	outputJSON := fs.Bool("json", false, "Output JSON")
	watch := fs.Duration("watch", 0, "Keep running and check for due jobs at this interval")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *watch < 0 {
		fmt.Fprintln(a.stderr, "Error: -watch must not be negative")
		return exitFailure
	}

	store, err := pending.Open(a.cfg.StoreConfig())
	if err != nil {
		fmt.Fprintf(a.stderr, "Error opening pending store: %v\n", err)
		return exitFailure
	}
	defer store.Close()

	client, err := a.newClient(nil)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}

	if a.health != nil {
		a.health.Register("pending_store", &health.DatabaseCheck{Ping: store.Ping})
		a.health.Register("disk", &health.DiskCheck{
			Path:         filepath.Dir(a.cfg.Pending.DatabasePath),
			MinFreeBytes: minFreeDisk,
		})
		a.health.SetReady(true)
		defer a.health.SetReady(false)
	}

	if *watch == 0 {
		code, err := a.resumeDue(ctx, store, client, *outputJSON)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitFailure
		}
		return code
	}

	a.logger.Info("watching for due jobs every %s", *watch)
	ticker := time.NewTicker(*watch)
	defer ticker.Stop()
	for {
		if _, err := a.resumeDue(ctx, store, client, *outputJSON); err != nil {
			a.logger.Error("resume: %v", err)
		}
		select {
		case <-ctx.Done():
			a.logger.Info("stopping resume watcher")
			return 0
		case <-ticker.C:
		}
	}
}

// resumeDue re-polls every due job once. Jobs that finish are removed;
// jobs that are still pending get their next attempt scheduled. The code
// is the worst exit code among finished jobs.
func (a *app) resumeDue(ctx context.Context, store *pending.Store, client *sandbox.Client, outputJSON bool) (int, error) {
	jobs, err := store.Due(ctx, time.Now())
	if err != nil {
		return exitFailure, fmt.Errorf("list pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		a.logger.Debug("no pending jobs are due")
		return 0, nil
	}
	a.logger.Info("resuming %d pending job(s)", len(jobs))

	// Bookkeeping must land even if the run is interrupted mid-poll.
	storeCtx := context.WithoutCancel(ctx)
	code := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		verdict := client.Resume(ctx, job.JobID, job.ContentHash, job.FileSize)
		verdict.FilePath = job.FilePath

		if verdict.Failed() && stillPending(verdict) {
			if err := store.RecordAttempt(storeCtx, job.ID, errors.New(verdict.Error)); err != nil {
				a.logger.Error("job %s: record attempt: %v", job.JobID, err)
			}
			a.logger.Info("job %s still pending: %s", job.JobID, verdict.Error)
			continue
		}
		if err := store.Delete(storeCtx, job.ID); err != nil {
			a.logger.Error("job %s: delete: %v", job.JobID, err)
		}
		if err := a.printVerdict(verdict, outputJSON); err != nil {
			return exitFailure, err
		}
		code = max(code, sandbox.ExitCode(verdict))
	}
	return code, nil
}

// stillPending reports whether a failed resume is worth another attempt.
func stillPending(v *sandbox.Verdict) bool {
	switch v.ErrorKind {
	case errors.KindTimeout.String(), errors.KindNetwork.String(),
		errors.KindRateLimit.String(), errors.KindServer.String():
		return true
	default:
		return false
	}
}
