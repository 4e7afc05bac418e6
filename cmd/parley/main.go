// Parley is a conversational agent backend.
//
// It exposes an HTTP API for chat with TTL-bounded sessions, pluggable
// conversation memory, and a tool-calling reasoning loop backed by
// Ollama or Anthropic models. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	parley serve              Start the API server
//	parley init [dir]         Initialize a working directory with defaults
//	parley ask <question>     Ask a single question (for testing)
//	parley keygen             Issue an API key
//	parley version            Print version and build information
//	parley -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/parley-agent/parley/internal/agent"
	"github.com/parley-agent/parley/internal/api"
	"github.com/parley-agent/parley/internal/auth"
	"github.com/parley-agent/parley/internal/buildinfo"
	"github.com/parley-agent/parley/internal/calendar"
	"github.com/parley-agent/parley/internal/config"
	"github.com/parley-agent/parley/internal/events"
	"github.com/parley-agent/parley/internal/fetch"
	"github.com/parley-agent/parley/internal/llm"
	"github.com/parley-agent/parley/internal/mail"
	"github.com/parley-agent/parley/internal/media"
	"github.com/parley-agent/parley/internal/memory"
	"github.com/parley-agent/parley/internal/notify"
	"github.com/parley-agent/parley/internal/session"
	"github.com/parley-agent/parley/internal/storage"
	"github.com/parley-agent/parley/internal/tools"
	"github.com/parley-agent/parley/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the parley command. All OS-level
// dependencies are injected as parameters; arguments are parsed by
// hand because the flag package's global state interferes with
// parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: parley ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "keygen":
		return runKeygen(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Parley - Conversational Agent Backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: parley [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  keygen       Issue an API key (flags: -scopes chat,sessions -days 30 -limit 100)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runAsk boots a minimal agent (in-memory sessions, date tools only)
// and processes a single question, printing the reply to stdout.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	engine := buildEngine(cfg, logger)

	registry := tools.NewRegistry(logger)
	if err := tools.RegisterDateTools(registry, nil); err != nil {
		return err
	}

	sessions := session.NewStore(session.StoreConfig{
		TTL:      cfg.Session.TTL.Std(),
		Defaults: defaultSessionConfig(cfg, registry),
		MemoryOpts: memory.Options{
			MaxTurns:    cfg.Memory.MaxTurns,
			SummaryTail: cfg.Memory.SummaryTail,
			Condenser:   engine,
			Model:       cfg.Agent.Model,
		},
	}, logger)

	loop := agent.New(agent.Config{
		Sessions:      sessions,
		Registry:      registry,
		Engine:        engine,
		MaxIterations: cfg.Agent.MaxIterations,
	}, logger)

	result, err := loop.Run(ctx, &agent.Request{Message: strings.Join(args, " ")})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, result.Reply)
	return nil
}

// runKeygen issues an API key from the command line. This is how the
// first key is minted before the HTTP key endpoints are reachable.
func runKeygen(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	scopes := []string{auth.ScopeChat, auth.ScopeSessions}
	days := 0
	limit := 0
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-scopes" && i+1 < len(args):
			scopes = strings.Split(args[i+1], ",")
			i++
		case args[i] == "-days" && i+1 < len(args):
			if _, err := fmt.Sscanf(args[i+1], "%d", &days); err != nil {
				return fmt.Errorf("invalid -days value %q", args[i+1])
			}
			i++
		case args[i] == "-limit" && i+1 < len(args):
			if _, err := fmt.Sscanf(args[i+1], "%d", &limit); err != nil {
				return fmt.Errorf("invalid -limit value %q", args[i+1])
			}
			i++
		default:
			return fmt.Errorf("unknown keygen flag: %s", args[i])
		}
	}

	db, err := storage.Open(authDBPath(cfg))
	if err != nil {
		return fmt.Errorf("open auth database: %w", err)
	}
	defer db.Close()

	keys, err := auth.NewStore(db)
	if err != nil {
		return err
	}

	apiKey, key, err := keys.Create(ctx, scopes, time.Duration(days)*24*time.Hour, limit)
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	fmt.Fprintf(stdout, "API key (shown once): %s\n", apiKey)
	fmt.Fprintf(stdout, "  key_id:  %s\n", key.ID)
	fmt.Fprintf(stdout, "  scopes:  %s\n", strings.Join(key.Scopes, ","))
	fmt.Fprintf(stdout, "  expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Parley", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Agent.Model,
		"ollama_url", cfg.Ollama.URL,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	bus := events.New()

	// --- Persistent stores ---
	db, err := storage.Open(filepath.Join(cfg.DataDir, "parley.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	usageStore, err := usage.NewStore(db)
	if err != nil {
		return fmt.Errorf("usage store: %w", err)
	}

	fetcher := fetch.New(cfg.Media.MaxBytes)
	mediaStore, err := media.NewStore(db, fetcher)
	if err != nil {
		return fmt.Errorf("media store: %w", err)
	}

	var keys *auth.Store
	if cfg.Auth.Enabled {
		authDB, err := storage.Open(authDBPath(cfg))
		if err != nil {
			return fmt.Errorf("open auth database: %w", err)
		}
		defer authDB.Close()
		keys, err = auth.NewStore(authDB)
		if err != nil {
			return fmt.Errorf("auth store: %w", err)
		}
	} else {
		logger.Warn("API key auth is disabled")
	}

	// --- Reasoning engine ---
	engine := buildEngine(cfg, logger)
	if err := engine.Ping(ctx); err != nil {
		logger.Warn("reasoning engine not reachable at startup", "error", err)
	}

	// --- Tool registry ---
	registry := tools.NewRegistry(logger)
	if err := tools.RegisterDateTools(registry, nil); err != nil {
		return err
	}
	if err := tools.RegisterMediaTools(registry, mediaStore); err != nil {
		return err
	}

	var notifier *notify.Publisher
	if cfg.MQTT.Enabled {
		notifier = notify.New(notify.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err := notifier.Start(ctx); err != nil {
			logger.Warn("MQTT broker not reachable at startup", "error", err)
		}
		if err := tools.RegisterNotifyTools(registry, notifier); err != nil {
			return err
		}
	}

	if cfg.SMTP.Enabled {
		mailCfg := mail.Config{
			Host:              cfg.SMTP.Host,
			Port:              cfg.SMTP.Port,
			Username:          cfg.SMTP.Username,
			Password:          cfg.SMTP.Password,
			StartTLS:          cfg.SMTP.StartTLS,
			From:              cfg.SMTP.From,
			AllowedRecipients: cfg.SMTP.AllowedRecipients,
		}
		if !mailCfg.Enabled() {
			return fmt.Errorf("smtp enabled but host or from address missing")
		}
		if err := tools.RegisterEmailTools(registry, mailCfg); err != nil {
			return err
		}
	}

	if cfg.CalDAV.Enabled {
		cal, err := calendar.NewClient(calendar.Config{
			URL:      cfg.CalDAV.URL,
			Username: cfg.CalDAV.Username,
			Password: cfg.CalDAV.Password,
			Calendar: cfg.CalDAV.Calendar,
		})
		if err != nil {
			return fmt.Errorf("caldav client: %w", err)
		}
		if err := tools.RegisterCalendarTools(registry, cal, nil); err != nil {
			return err
		}
	}
	logger.Info("tools registered", "tools", registry.Names())

	// --- Session store ---
	sessions := session.NewStore(session.StoreConfig{
		TTL:           cfg.Session.TTL.Std(),
		SweepInterval: cfg.Session.SweepInterval.Std(),
		Defaults:      defaultSessionConfig(cfg, registry),
		MemoryOpts: memory.Options{
			MaxTurns:    cfg.Memory.MaxTurns,
			SummaryTail: cfg.Memory.SummaryTail,
			Condenser:   engine,
			Model:       cfg.Agent.Model,
		},
		OnEvict: func(id string) {
			bus.Publish(events.Event{
				Source: events.SourceSession,
				Kind:   events.KindSessionEvicted,
				Data:   map[string]any{"session_id": id},
			})
		},
	}, logger)
	go sessions.Run(ctx)

	// --- Agent loop ---
	loop := agent.New(agent.Config{
		Sessions:      sessions,
		Registry:      registry,
		Engine:        engine,
		Bus:           bus,
		Usage:         usageStore,
		MaxIterations: cfg.Agent.MaxIterations,
	}, logger)

	// --- HTTP server ---
	srv := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, sessions, logger, api.Options{
		Keys:        keys,
		UsageStore:  usageStore,
		MediaStore:  mediaStore,
		Bus:         bus,
		AdminKey:    cfg.Auth.AdminKey,
		DisableAuth: !cfg.Auth.Enabled,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if notifier != nil {
		if err := notifier.Stop(shutdownCtx); err != nil {
			logger.Warn("MQTT disconnect failed", "error", err)
		}
	}
	return nil
}

// buildEngine assembles the provider-routing client wrapped in the
// retry layer. Models named claude-* go to Anthropic when an API key
// is configured; everything else goes to Ollama.
func buildEngine(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollama := llm.NewOllamaClient(cfg.Ollama.URL, logger)

	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)
	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		multi.AddPrefix("claude-", "anthropic")
		logger.Info("Anthropic provider configured")
	}

	return llm.NewRetryClient(multi, cfg.Agent.EngineRetries, cfg.Agent.EngineBackoff.Std(), cfg.Agent.EngineTimeout.Std(), logger)
}

// defaultSessionConfig derives the configuration new sessions start
// with. An empty tools list in config means every registered tool.
func defaultSessionConfig(cfg *config.Config, registry *tools.Registry) session.Config {
	kind, err := memory.ParseKind(cfg.Memory.Kind)
	if err != nil {
		kind = memory.KindBuffer
	}
	enabled := cfg.Tools.Enabled
	if len(enabled) == 0 {
		enabled = registry.Names()
	}
	return session.Config{
		Model:       cfg.Agent.Model,
		Temperature: cfg.Agent.Temperature,
		Tools:       enabled,
		MemoryKind:  kind,
	}
}

func authDBPath(cfg *config.Config) string {
	if cfg.Auth.DBPath != "" {
		return cfg.Auth.DBPath
	}
	return filepath.Join(cfg.DataDir, "auth.db")
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty that exact path is used; otherwise
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
