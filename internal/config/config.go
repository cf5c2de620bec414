// Package config loads, validates, and hot-reloads the daemon's
// configuration file, carrying forward the teacher's
// Validate()-with-actionable-hint style.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config is the daemon's full configuration; defaults are those named in
// spec.md §6.
type Config struct {
	SocketPath     string `json:"socket_path"`
	StateDir       string `json:"state_dir"`
	PackageManager string `json:"package_manager"`

	ProbeTimeoutSecs        int   `json:"probe_timeout_secs"`
	CacheTTLSecs            int   `json:"cache_ttl_secs"`
	CacheEntriesMax         int   `json:"cache_entries_max"`
	TranslatorTimeoutSecs   int   `json:"translator_timeout_secs"`
	SynthesizerTimeoutSecs  int   `json:"synthesizer_timeout_secs"`
	TotalRequestTimeoutSecs int   `json:"total_request_timeout_secs"`
	ProbeFanout             int   `json:"probe_fanout"`
	AuditRotateBytes        int64 `json:"audit_rotate_bytes"`
	AuditRotateFiles        int   `json:"audit_rotate_files"`

	AllowedProbePrefixes    []string `json:"allowed_probe_prefixes"`
	AllowedMutationPrefixes []string `json:"allowed_mutation_prefixes"`

	AnthropicAPIKey string `json:"-"`
}

// GenerateDefault returns the configuration spec.md §6 names as defaults.
func GenerateDefault() *Config {
	return &Config{
		SocketPath:     "/run/annad/annad.sock",
		StateDir:       "/var/lib/annad",
		PackageManager: "pacman",

		ProbeTimeoutSecs:        5,
		CacheTTLSecs:            60,
		CacheEntriesMax:         256,
		TranslatorTimeoutSecs:   8,
		SynthesizerTimeoutSecs:  30,
		TotalRequestTimeoutSecs: 60,
		ProbeFanout:             4,
		AuditRotateBytes:        5 * 1024 * 1024,
		AuditRotateFiles:        5,

		AllowedProbePrefixes: []string{
			"lscpu", "free", "df", "lsblk", "lspci", "ip", "ps",
			"systemctl", "journalctl", "pacman", "uname", "systemd-analyze",
		},
		AllowedMutationPrefixes: []string{"/etc", "$HOME"},
	}
}

// Validate checks the configuration for errors and returns user-friendly
// error messages with actionable hints.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("configuration error: missing required field 'socket_path'\n\nHint: Add a socket path like:\n  \"socket_path\": \"/run/annad/annad.sock\"")
	}
	if c.StateDir == "" {
		return fmt.Errorf("configuration error: missing required field 'state_dir'\n\nHint: Add a state directory like:\n  \"state_dir\": \"/var/lib/annad\"")
	}
	if c.ProbeTimeoutSecs <= 0 {
		return fmt.Errorf("configuration error: invalid 'probe_timeout_secs' value: %d\n\nHint: probe_timeout_secs must be positive. Update your config:\n  \"probe_timeout_secs\": 5", c.ProbeTimeoutSecs)
	}
	if c.ProbeFanout <= 0 {
		return fmt.Errorf("configuration error: invalid 'probe_fanout' value: %d\n\nHint: probe_fanout must be positive. Update your config:\n  \"probe_fanout\": 4", c.ProbeFanout)
	}
	if c.CacheTTLSecs < 0 {
		return fmt.Errorf("configuration error: invalid 'cache_ttl_secs' value: %d\n\nHint: cache_ttl_secs cannot be negative", c.CacheTTLSecs)
	}
	if c.CacheEntriesMax <= 0 {
		return fmt.Errorf("configuration error: invalid 'cache_entries_max' value: %d\n\nHint: cache_entries_max must be positive. Update your config:\n  \"cache_entries_max\": 256", c.CacheEntriesMax)
	}
	if c.TotalRequestTimeoutSecs <= 0 {
		return fmt.Errorf("configuration error: invalid 'total_request_timeout_secs' value: %d\n\nHint: total_request_timeout_secs must be positive", c.TotalRequestTimeoutSecs)
	}
	if len(c.AllowedProbePrefixes) == 0 {
		return fmt.Errorf("configuration error: 'allowed_probe_prefixes' is empty\n\nHint: the daemon cannot run any probe without at least one allowed binary. Add entries like:\n  \"allowed_probe_prefixes\": [\"lscpu\", \"free\", \"df\"]")
	}
	if len(c.AllowedMutationPrefixes) == 0 {
		return fmt.Errorf("configuration error: 'allowed_mutation_prefixes' is empty\n\nHint: the Mutation Engine refuses every file-modifying plan without at least one allowed prefix. Add entries like:\n  \"allowed_mutation_prefixes\": [\"/etc\", \"$HOME\"]")
	}
	switch c.PackageManager {
	case "pacman", "apt", "dnf":
	default:
		return fmt.Errorf("configuration error: invalid 'package_manager' value: %q\n\nHint: package_manager must be one of pacman, apt, dnf", c.PackageManager)
	}
	return nil
}

// LoadFromFile loads a configuration from a JSON file over top of
// GenerateDefault, applies ANNAD_*-prefixed environment variable
// overrides, and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := GenerateDefault()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides lets deployment environments override a handful of
// operationally significant keys without editing the JSON file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANNAD_SOCKET_PATH"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("ANNAD_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("ANNAD_PROBE_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProbeTimeoutSecs = n
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
}

// SaveToFile writes the configuration to a JSON file with 0600 permissions.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Watcher hot-reloads allowed_probe_prefixes, allowed_mutation_prefixes,
// and timeouts from the same file it loaded, without a daemon restart,
// per spec.md §6's expansion. Consumers read Current() after a value
// arrives on Updates(); a failed reload is logged and the previous
// configuration stays in effect.
type Watcher struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current *Config

	updates chan *Config
	done    chan struct{}
}

// NewWatcher loads path once, validates it, and begins watching it for
// subsequent writes.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config file %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		logger:  logger,
		watcher: fsw,
		current: cfg,
		updates: make(chan *Config, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded, validated configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Updates delivers each successfully-reloaded configuration. The channel
// is buffered by one; a consumer that falls behind simply reads the
// latest value the next time it calls Current.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	const settle = 100 * time.Millisecond
	var pending *time.Timer

	reload := func() {
		cfg, err := LoadFromFile(w.path)
		if err != nil {
			w.logger.Error("config hot-reload failed, keeping previous configuration", "path", w.path, "error", err)
			return
		}
		w.mu.Lock()
		w.current = cfg
		w.mu.Unlock()
		select {
		case w.updates <- cfg:
		default:
			<-w.updates
			w.updates <- cfg
		}
		w.logger.Info("config reloaded", "path", w.path)
	}

	for {
		select {
		case <-w.done:
			if pending != nil {
				pending.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(settle, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
