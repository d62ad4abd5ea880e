// Command mymeta runs the personal assistant agent, either as an HTTP
// service or for a single task on the command line.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mymeta/agent/examples"
	"github.com/mymeta/agent/internal/agent"
	"github.com/mymeta/agent/internal/buildinfo"
	"github.com/mymeta/agent/internal/calendar"
	"github.com/mymeta/agent/internal/config"
	"github.com/mymeta/agent/internal/email"
	"github.com/mymeta/agent/internal/fetch"
	"github.com/mymeta/agent/internal/forge"
	"github.com/mymeta/agent/internal/history"
	"github.com/mymeta/agent/internal/llm"
	"github.com/mymeta/agent/internal/mcp"
	"github.com/mymeta/agent/internal/recall"
	"github.com/mymeta/agent/internal/search"
	"github.com/mymeta/agent/internal/tools"
	"github.com/mymeta/agent/internal/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "mymeta: %v\n", err)
		os.Exit(1)
	}
}

func usage(stderr io.Writer) {
	fmt.Fprintf(stderr, `Usage: mymeta <command> [flags]

Commands:
  serve     start the HTTP API server
  run       execute a single task and print the result as JSON
  init      write an example config.yaml to the current directory
  version   print version information

Run "mymeta <command> -h" for command flags.
`)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:], stderr)
	case "run":
		return runTask(ctx, args[1:], stdout, stderr)
	case "init":
		return runInit(stdout)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "-h", "--help", "help":
		usage(stderr)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runInit(stdout io.Writer) error {
	const path = "config.yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", path)
	}
	if err := os.WriteFile(path, examples.ConfigYAML, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "wrote %s, fill in the credentials before starting\n", path)
	return nil
}

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	server := web.NewServer(app.agent, app.store, logger)
	addr := net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port))
	return server.Serve(ctx, addr)
}

func runTask(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	contextText := fs.String("context", "", "extra context appended to the task")
	contextFile := fs.String("context-file", "", "file whose contents are appended as context")
	workingDir := fs.String("working-dir", "", "working directory reported to the model")
	maxIterations := fs.Int("max-iterations", 0, "override the reasoning iteration budget")
	temperature := fs.Float64("temperature", 0, "override the model sampling temperature")
	stopOnToolError := fs.Bool("stop-on-tool-error", false, "treat any tool failure as fatal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("run: missing task argument")
	}
	task := fs.Arg(0)

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *workingDir != "" {
		cfg.Agent.WorkingDir = *workingDir
	}
	if *maxIterations > 0 {
		cfg.Agent.MaxIterations = *maxIterations
	}
	if *temperature > 0 {
		cfg.Agent.Temperature = *temperature
	}
	if *stopOnToolError {
		cfg.Agent.StopOnToolError = true
	}

	extra := *contextText
	if *contextFile != "" {
		data, err := os.ReadFile(*contextFile)
		if err != nil {
			return fmt.Errorf("read context file: %w", err)
		}
		if extra != "" {
			extra += "\n"
		}
		extra += string(data)
	}

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	result := app.agent.Run(ctx, task, agent.RunOptions{Context: extra})

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if result.Error != "" {
		return fmt.Errorf("task failed: %s", result.Error)
	}
	return nil
}

func loadConfig(explicit string) (*config.Config, *slog.Logger, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, err = config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Debug("configuration loaded", "path", path, "provider", cfg.Provider)
	return cfg, logger, nil
}

// app bundles everything a command needs and knows how to shut it down.
type app struct {
	agent    *agent.Agent
	store    *history.Store
	db       *sql.DB
	services []*mcp.Service
	logger   *slog.Logger
}

func (a *app) close() {
	for _, svc := range a.services {
		if err := svc.Close(); err != nil {
			a.logger.Warn("service shutdown failed", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	client, err := buildClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger}

	if err := a.openHistory(cfg, logger); err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(logger)
	if err := a.registerNativeTools(registry, cfg, logger); err != nil {
		a.close()
		return nil, err
	}

	for _, svcCfg := range cfg.Services {
		svc := mcp.NewService(svcCfg, logger)
		a.services = append(a.services, svc)
		registry.AddProvider(svc)
	}

	// Warm the tool snapshot so unreachable services show up in the
	// logs at startup instead of first use.
	discovered := registry.List(ctx, true)
	logger.Info("tools discovered", "count", len(discovered))

	a.agent = agent.New(client, registry, agent.Config{
		MaxIterations:   cfg.Agent.MaxIterations,
		WorkingDir:      cfg.Agent.WorkingDir,
		StopOnToolError: cfg.Agent.StopOnToolError,
	}, logger)
	return a, nil
}

func (a *app) openHistory(cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	dbPath := filepath.Join(cfg.DataDir, "mymeta.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	a.db = db

	a.store = history.New(db, logger)
	migrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.store.Migrate(migrateCtx); err != nil {
		return err
	}
	return nil
}

func (a *app) registerNativeTools(registry *tools.Registry, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Search.TavilyAPIKey != "" {
		registry.MustRegister(search.Tool(search.NewClient(cfg.Search.TavilyAPIKey, logger)))
	}

	registry.MustRegister(fetch.Tool(fetch.NewClient(nil, logger)))

	if cfg.GitHub.Token != "" {
		gh, err := forge.NewClient(cfg.GitHub.Token, cfg.GitHub.APIBase, nil, logger)
		if err != nil {
			return fmt.Errorf("github client: %w", err)
		}
		for _, t := range forge.Tools(gh) {
			registry.MustRegister(t)
		}
	}

	for _, t := range email.NewManager(cfg.Email, logger).Tools() {
		registry.MustRegister(t)
	}

	registry.MustRegister(calendar.NewManager(cfg.Calendar, logger).Tool())

	var embedder recall.Embedder
	if cfg.Embeddings.Enabled {
		baseURL := cfg.Embeddings.BaseURL
		if baseURL == "" {
			baseURL = cfg.Ollama.URL
		}
		embedder = recall.NewOllamaEmbedder(baseURL, cfg.Embeddings.Model, logger)
	}
	registry.MustRegister(recall.Tool(recall.NewRecaller(a.store, embedder, logger)))

	return nil
}

func buildClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	switch cfg.Provider {
	case "ark":
		return llm.NewArkClient(llm.ArkOptions{
			APIKey:          cfg.Ark.APIKey,
			Model:           cfg.Ark.Model,
			BaseURL:         cfg.Ark.APIBase,
			Timeout:         time.Duration(cfg.Ark.TimeoutSec * float64(time.Second)),
			Temperature:     cfg.Agent.Temperature,
			MaxOutputTokens: cfg.Ark.MaxOutputTokens,
			Logger:          logger,
		}), nil
	case "ollama":
		return llm.NewOllamaClient(llm.OllamaOptions{
			BaseURL:     cfg.Ollama.URL,
			Model:       cfg.Ollama.Model,
			Temperature: cfg.Agent.Temperature,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
