// Package fsutil implements the atomic-write primitive the Mutation
// Engine's WriteFile operation and backup/rollback paths both build on:
// write-to-temp, fsync, rename, fsync-directory, so a crash mid-write
// never leaves a half-written target file or backup on disk.
package fsutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite writes data to path without ever exposing a partial write:
// it writes to a sibling temp file, fsyncs it, renames it over path, then
// fsyncs the containing directory so the rename itself is durable. The
// temp file is created 0600 (owner-only) and cleaned up on any failure
// before the rename.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("fsutil: create directory: %w", err)
	}

	tmpPath, err := generateTempPath(path)
	if err != nil {
		return fmt.Errorf("fsutil: generate temp path: %w", err)
	}

	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("fsutil: create temp file: %w", err)
	}

	success := false
	defer func() {
		tmpFile.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("fsutil: write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("fsutil: sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("fsutil: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("fsutil: rename temp file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("fsutil: sync directory: %w", err)
	}

	success = true
	return nil
}

// generateTempPath builds a sibling temp filename: .<basename>.tmp.<pid>.<rand>.
func generateTempPath(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	pid := os.Getpid()

	randBytes := make([]byte, 4)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("generate random suffix: %w", err)
	}
	randSuffix := hex.EncodeToString(randBytes)

	tmpName := fmt.Sprintf(".%s.tmp.%d.%s", base, pid, randSuffix)
	return filepath.Join(dir, tmpName), nil
}

// syncDir fsyncs a directory so a prior rename within it is durable.
func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
