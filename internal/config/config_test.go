package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateDefault(t *testing.T) {
	cfg := GenerateDefault()

	assert.Equal(t, "/run/annad/annad.sock", cfg.SocketPath)
	assert.Equal(t, "/var/lib/annad", cfg.StateDir)
	assert.Equal(t, "pacman", cfg.PackageManager)

	assert.Equal(t, 5, cfg.ProbeTimeoutSecs)
	assert.Equal(t, 60, cfg.CacheTTLSecs)
	assert.Equal(t, 256, cfg.CacheEntriesMax)
	assert.Equal(t, 8, cfg.TranslatorTimeoutSecs)
	assert.Equal(t, 30, cfg.SynthesizerTimeoutSecs)
	assert.Equal(t, 60, cfg.TotalRequestTimeoutSecs)
	assert.Equal(t, 4, cfg.ProbeFanout)
	assert.Equal(t, int64(5*1024*1024), cfg.AuditRotateBytes)
	assert.Equal(t, 5, cfg.AuditRotateFiles)

	assert.NotEmpty(t, cfg.AllowedProbePrefixes)
	assert.NotEmpty(t, cfg.AllowedMutationPrefixes)
}

func TestValidateValidConfig(t *testing.T) {
	cfg := GenerateDefault()
	assert.NoError(t, cfg.Validate())
}

func TestValidateMissingSocketPath(t *testing.T) {
	cfg := GenerateDefault()
	cfg.SocketPath = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "socket_path")
}

func TestValidateInvalidProbeTimeout(t *testing.T) {
	cfg := GenerateDefault()
	cfg.ProbeTimeoutSecs = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "probe_timeout_secs")
}

func TestValidateEmptyAllowedProbePrefixes(t *testing.T) {
	cfg := GenerateDefault()
	cfg.AllowedProbePrefixes = nil
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "allowed_probe_prefixes")
}

func TestValidateEmptyAllowedMutationPrefixes(t *testing.T) {
	cfg := GenerateDefault()
	cfg.AllowedMutationPrefixes = nil
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "allowed_mutation_prefixes")
}

func TestValidateUnknownPackageManager(t *testing.T) {
	cfg := GenerateDefault()
	cfg.PackageManager = "yum"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "package_manager")
}

func TestLoadFromFileValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annad.json")
	require.NoError(t, GenerateDefault().SaveToFile(path))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/run/annad/annad.sock", cfg.SocketPath)
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg, err := LoadFromFile("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadFromFileInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	invalidFile := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalidFile, []byte("{invalid json"), 0o600))

	cfg, err := LoadFromFile(invalidFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadFromFileAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annad.json")
	require.NoError(t, GenerateDefault().SaveToFile(path))

	t.Setenv("ANNAD_SOCKET_PATH", "/tmp/override.sock")
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.sock", cfg.SocketPath)
}

func TestSaveToFile(t *testing.T) {
	cfg := GenerateDefault()
	dir := t.TempDir()
	path := filepath.Join(dir, "annad.json")

	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.SocketPath, loaded.SocketPath)
	assert.Equal(t, cfg.ProbeFanout, loaded.ProbeFanout)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annad.json")
	require.NoError(t, GenerateDefault().SaveToFile(path))

	w, err := NewWatcher(path, testLogger())
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 4, w.Current().ProbeFanout)

	updated := GenerateDefault()
	updated.ProbeFanout = 8
	require.NoError(t, updated.SaveToFile(path))

	select {
	case cfg := <-w.Updates():
		assert.Equal(t, 8, cfg.ProbeFanout)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
	assert.Equal(t, 8, w.Current().ProbeFanout)
}

func TestWatcherKeepsPreviousConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annad.json")
	require.NoError(t, GenerateDefault().SaveToFile(path))

	w, err := NewWatcher(path, testLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o600))

	// Give the watcher a moment to process and reject the bad write; it
	// should never publish an update for it.
	select {
	case cfg := <-w.Updates():
		t.Fatalf("unexpected reload with invalid config: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, 4, w.Current().ProbeFanout)
}
