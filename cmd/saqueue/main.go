// Package main implements the saqueue binary, an operator tool for the
// on-device event buffer. It can inspect and drive the queue and session
// store directly, or run the flush loop until interrupted.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bovink/sa-sdk-android/internal/app"
	"github.com/bovink/sa-sdk-android/internal/config"
	"github.com/bovink/sa-sdk-android/internal/observability"
	"github.com/bovink/sa-sdk-android/internal/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

// maxLineSize bounds one event read by the enqueue command.
const maxLineSize = 4 * 1024 * 1024

type globalFlags struct {
	configFile   string
	envFile      string
	dataDir      string
	maxCacheSize int64
	logLevel     string
	logFormat    string
	showVersion  bool
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app.App, args []string) error
}

var commands = map[string]command{
	"stats":    {"stats                  show queue depth, capacity and counters", runStats},
	"enqueue":  {"enqueue [-single]      enqueue JSON objects read from stdin, one per line", runEnqueue},
	"extract":  {"extract [-limit N]     print the oldest window without trimming it", runExtract},
	"trim":     {"trim <id>              delete every event with id <= id", runTrim},
	"clear":    {"clear                  delete every queued event", runClear},
	"flush":    {"flush                  archive and trim the whole queue", runFlush},
	"session":  {"session                show the session state", runSession},
	"login":    {"login <id>             store the login id", runLogin},
	"interval": {"interval <duration>    store the session interval", runInterval},
	"archive":  {"archive [-concurrency N] list archived batches and their event counts", runArchive},
	"run":      {"run                    run the flush loop until SIGINT or SIGTERM", runServe},
}

func main() {
	var g globalFlags
	flag.StringVar(&g.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&g.envFile, "env-file", ".env", "Path to a .env file with SA_* variables")
	flag.StringVar(&g.dataDir, "data-dir", "", "Base directory for all data files")
	flag.Int64Var(&g.maxCacheSize, "max-cache-size", 0, "Queue budget in bytes")
	flag.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&g.logFormat, "log-format", "", "Log format: console, text, json")
	flag.BoolVar(&g.showVersion, "version", false, "Show version information")

	flag.Usage = usage
	flag.Parse()

	if g.showVersion {
		fmt.Printf("saqueue version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(g)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(logger)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	runErr := cmd.run(ctx, application, args[1:])

	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := application.Stop(stopCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	if runErr != nil {
		logger.Error("command failed", append([]any{"command", args[0]}, observability.ErrorAttrs(runErr)...)...)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "saqueue - persistent event buffer tool\n\n")
	fmt.Fprintf(os.Stderr, "Usage: saqueue [options] <command> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	for _, name := range []string{"stats", "enqueue", "extract", "trim", "clear", "flush", "session", "login", "interval", "archive", "run"} {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  SA_DATA_DIR              Base directory for data files\n")
	fmt.Fprintf(os.Stderr, "  SA_QUEUE_MAX_CACHE_SIZE  Queue budget in bytes\n")
	fmt.Fprintf(os.Stderr, "  SA_FLUSH_INTERVAL        Time between flushes\n")
	fmt.Fprintf(os.Stderr, "  SA_LOG_LEVEL             Log level\n")
}

// loadConfig layers defaults, the config file, the environment and flags,
// in increasing priority.
func loadConfig(g globalFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if g.configFile != "" {
		cfg, err = config.LoadFromFile(g.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if g.envFile != "" {
		if err := config.LoadDotEnv(g.envFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.maxCacheSize > 0 {
		cfg.Queue.MaxCacheSize = g.maxCacheSize
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}

	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStats(ctx context.Context, a *app.App, _ []string) error {
	st, err := a.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runEnqueue(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	single := fs.Bool("single", false, "enqueue each line on its own instead of one batch")
	fs.Parse(args)

	payloads, err := readLines(os.Stdin)
	if err != nil {
		return err
	}

	var queued int
	if *single {
		for _, p := range payloads {
			if queued, err = a.Queue().Enqueue(ctx, p); err != nil {
				return err
			}
		}
	} else {
		if queued, err = a.Queue().EnqueueBatch(ctx, payloads); err != nil {
			return err
		}
	}
	return printJSON(map[string]int{"enqueued": len(payloads), "queued": queued})
}

func readLines(r io.Reader) ([][]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var lines [][]byte
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return lines, nil
}

func runExtract(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	limit := fs.Int("limit", a.Config().Queue.FlushBatchSize, "maximum rows to read")
	fs.Parse(args)

	batch, err := a.Queue().Extract(ctx, *limit)
	if err != nil {
		return err
	}
	if batch == nil {
		return printJSON(map[string]any{"count": 0})
	}
	return printJSON(map[string]any{
		"boundary_id": batch.BoundaryID,
		"count":       batch.Count,
		"corrupted":   batch.Corrupted,
		"malformed":   batch.Malformed,
		"flush_time":  batch.FlushTime,
		"data":        json.RawMessage(batch.Data),
	})
}

func runTrim(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("trim takes exactly one id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[0], err)
	}
	remaining, err := a.Queue().Trim(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"remaining": remaining})
}

func runClear(ctx context.Context, a *app.App, _ []string) error {
	if err := a.Queue().Clear(ctx); err != nil {
		return err
	}
	return printJSON(map[string]int{"remaining": 0})
}

func runFlush(ctx context.Context, a *app.App, _ []string) error {
	res, err := a.Flusher().FlushAll(ctx)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runSession(ctx context.Context, a *app.App, _ []string) error {
	return printJSON(a.Session().Snapshot(ctx))
}

func runLogin(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("login takes exactly one id")
	}
	if err := a.Session().SetLoginID(ctx, args[0]); err != nil {
		return err
	}
	return printJSON(map[string]string{"login_id": a.Session().LoginID(ctx)})
}

func runInterval(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("interval takes exactly one duration")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid interval %q", args[0])
	}
	if err := a.Session().SetSessionInterval(ctx, d); err != nil {
		return err
	}
	return printJSON(map[string]string{"session_interval": a.Session().SessionInterval(ctx).String()})
}

func runArchive(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	concurrency := fs.Int("concurrency", 4, "batches decoded in parallel")
	fs.Parse(args)

	names, err := a.Archive().List(ctx)
	if err != nil {
		return err
	}
	res := storage.NewBatchReader(a.Archive(), *concurrency).Read(ctx, names, nil)

	type entry struct {
		Name   string `json:"name"`
		Events int    `json:"events"`
		Error  string `json:"error,omitempty"`
	}
	out := struct {
		Batches []entry `json:"batches"`
		Total   int     `json:"total"`
		Bytes   int64   `json:"bytes"`
	}{Total: res.Total(), Bytes: res.Bytes}
	for _, name := range names {
		e := entry{Name: name, Events: res.Events[name]}
		if err := res.Errors[name]; err != nil {
			e.Error = err.Error()
		}
		out.Batches = append(out.Batches, e)
	}
	return printJSON(out)
}

func runServe(ctx context.Context, a *app.App, _ []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	slog.Info("received shutdown signal")
	return nil
}
