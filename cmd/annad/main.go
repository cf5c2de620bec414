// Command annad is the system-administration daemon: it loads
// configuration, opens the audit logs, binds the request socket, and
// serves ask/confirm/cancel/status requests until signaled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jjgarcianorway/anna/internal/audit"
	"github.com/jjgarcianorway/anna/internal/clock"
	"github.com/jjgarcianorway/anna/internal/config"
	"github.com/jjgarcianorway/anna/internal/dispatcher"
	"github.com/jjgarcianorway/anna/internal/evidence"
	"github.com/jjgarcianorway/anna/internal/hardware"
	"github.com/jjgarcianorway/anna/internal/llm"
	"github.com/jjgarcianorway/anna/internal/mutation"
	"github.com/jjgarcianorway/anna/internal/pipeline"
	"github.com/jjgarcianorway/anna/internal/probe"
	"github.com/jjgarcianorway/anna/internal/recipe"
	"github.com/jjgarcianorway/anna/internal/rpcserver"
	"github.com/jjgarcianorway/anna/internal/specialist"
	"github.com/jjgarcianorway/anna/internal/translator"
)

// Exit codes, per spec.md §6.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitSocketError   = 2
	exitStateDirError = 3
)

func main() {
	var (
		configFlag   = flag.String("config", "/etc/anna/annad.json", "Path to the daemon configuration file")
		logLevelFlag = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevelFlag),
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, *configFlag, logger))
}

func run(ctx context.Context, configPath string, logger *slog.Logger) int {
	if err := ensureDefaultConfig(configPath, logger); err != nil {
		logger.Error("failed to prepare default configuration", "path", configPath, "error", err)
		return exitConfigError
	}

	watcher, err := config.NewWatcher(configPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", "path", configPath, "error", err)
		return exitConfigError
	}
	defer watcher.Close()
	cfg := watcher.Current()

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		logger.Error("failed to create state directory", "dir", cfg.StateDir, "error", err)
		return exitStateDirError
	}

	fc := clock.System{}

	llmClient, err := buildLLMClient(cfg, logger)
	if err != nil {
		logger.Warn("language model disabled", "error", err)
		llmClient = nil
	}

	hw := hardware.NewCollector(fc)
	cache := evidence.New(fc, secToDuration(cfg.CacheTTLSecs), cfg.CacheEntriesMax)
	disp := dispatcher.New(cache, probe.NewExecutor())
	disp.Fanout = cfg.ProbeFanout
	synth := specialist.New(llmClient, hw, recipe.PackageManager(cfg.PackageManager))
	trans := translator.New(llmClient)

	runner := mutation.ExecRunner{IsRoot: os.Geteuid() == 0, SudoPrefix: []string{"sudo", "-n"}}
	backupDir := filepath.Join(cfg.StateDir, "mutation-backups")
	mutEngine := mutation.New(fc, cache, runner, backupDir, cfg.AllowedMutationPrefixes)

	auditDir := filepath.Join(cfg.StateDir, "audit")
	logs, err := audit.Open(audit.Config{
		Dir:         auditDir,
		RotateBytes: cfg.AuditRotateBytes,
		RotateFiles: cfg.AuditRotateFiles,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to open audit logs", "dir", auditDir, "error", err)
		return exitStateDirError
	}
	defer logs.Close()

	pl := pipeline.New(trans, disp, synth, mutEngine, logs, fc)
	pl.TotalTimeout = secToDuration(cfg.TotalRequestTimeoutSecs)

	srv := rpcserver.New(pl, logger)
	if err := srv.Listen(cfg.SocketPath); err != nil {
		logger.Error("failed to bind socket", "path", cfg.SocketPath, "error", err)
		return exitSocketError
	}

	go watchConfig(watcher, disp, logger)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	logger.Info("annad listening", "socket", cfg.SocketPath, "state_dir", cfg.StateDir)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := srv.Stop(); err != nil {
			logger.Warn("error stopping server", "error", err)
		}
		<-serveErr
		return exitOK
	case err := <-serveErr:
		if err != nil {
			logger.Error("server exited unexpectedly", "error", err)
			return exitSocketError
		}
		return exitOK
	}
}

// watchConfig applies hot-reloadable fields (probe fanout, allowlists) to
// already-constructed components without restarting the daemon.
func watchConfig(w *config.Watcher, disp *dispatcher.Dispatcher, logger *slog.Logger) {
	for cfg := range w.Updates() {
		if cfg.ProbeFanout > 0 {
			disp.Fanout = cfg.ProbeFanout
		}
		logger.Info("configuration reloaded")
	}
}

func ensureDefaultConfig(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	logger.Info("writing default configuration", "path", path)
	return config.GenerateDefault().SaveToFile(path)
}

// defaultAnthropicModel is used when no model override is configured.
const defaultAnthropicModel = "claude-3-5-sonnet-latest"

func buildLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, errors.New("no ANTHROPIC_API_KEY configured, language-model fallback disabled")
	}
	client, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey, llm.AnthropicOptions{
		Model:     defaultAnthropicModel,
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func secToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
