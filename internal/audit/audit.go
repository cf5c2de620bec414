// Package audit implements the Audit Log / Case File: two append-only,
// fsync-before-response NDJSON logs (cases.jsonl, mutations.jsonl),
// generalized from the teacher's internal/eventlog single-writer,
// *os.File-backed NDJSON ledger into two independent log handles.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jjgarcianorway/anna/internal/protocol"
)

// DefaultRotateBytes and DefaultRotateFiles match spec.md's
// audit_rotate_bytes/audit_rotate_files defaults.
const (
	DefaultRotateBytes = 5 * 1024 * 1024
	DefaultRotateFiles = 5
)

// MutationRecord is one entry in mutations.jsonl: a completed Confirm
// call's plan, its rollback token (if any), and the outcome.
type MutationRecord struct {
	RequestID  string                  `json:"request_id"`
	Plan       protocol.ChangePlan     `json:"plan"`
	Token      *protocol.RollbackToken `json:"rollback_token,omitempty"`
	Error      string                  `json:"error,omitempty"`
	RecordedAt time.Time               `json:"recorded_at"`
}

// Config controls where the two logs live and how they rotate.
type Config struct {
	Dir         string
	RotateBytes int64
	RotateFiles int
	Logger      *slog.Logger
}

// Logs is the daemon's two audit journals.
type Logs struct {
	Cases     *journal
	Mutations *journal
}

// Open creates (or reopens, appending) both journals under cfg.Dir.
func Open(cfg Config) (*Logs, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RotateBytes <= 0 {
		cfg.RotateBytes = DefaultRotateBytes
	}
	if cfg.RotateFiles <= 0 {
		cfg.RotateFiles = DefaultRotateFiles
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	cases, err := openJournal(filepath.Join(cfg.Dir, "cases.jsonl"), cfg.RotateBytes, cfg.RotateFiles, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("open cases log: %w", err)
	}
	mutations, err := openJournal(filepath.Join(cfg.Dir, "mutations.jsonl"), cfg.RotateBytes, cfg.RotateFiles, cfg.Logger)
	if err != nil {
		cases.close()
		return nil, fmt.Errorf("open mutations log: %w", err)
	}

	return &Logs{Cases: cases, Mutations: mutations}, nil
}

// WriteCase appends one Case File record, fsyncing before returning.
func (l *Logs) WriteCase(cf protocol.CaseFile) error {
	return l.Cases.append(cf)
}

// WriteMutation appends one mutation record, fsyncing before returning.
func (l *Logs) WriteMutation(rec MutationRecord) error {
	return l.Mutations.append(rec)
}

// Close closes both journals, returning the first error encountered.
func (l *Logs) Close() error {
	err1 := l.Cases.close()
	err2 := l.Mutations.close()
	if err1 != nil {
		return err1
	}
	return err2
}

// journal is a single append-only, fsync-before-response NDJSON file with
// size-triggered rotation. Writes go directly through file.Write and
// file.Sync — never through a buffering writer, since durability before
// the response is the entire point.
type journal struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	size        int64
	rotateBytes int64
	rotateFiles int
	logger      *slog.Logger
}

func openJournal(path string, rotateBytes int64, rotateFiles int, logger *slog.Logger) (*journal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &journal{
		file:        file,
		path:        path,
		size:        info.Size(),
		rotateBytes: rotateBytes,
		rotateFiles: rotateFiles,
		logger:      logger,
	}, nil
}

// append marshals v as one JSON line, writes it, and fsyncs before
// returning. Rotation, if the file has crossed rotateBytes, is kicked off
// in a separate goroutine so it never blocks the caller's response path;
// rotation errors are logged and swallowed, per spec.md §4.8.
func (j *journal) append(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	n, writeErr := j.file.Write(data)
	if writeErr == nil {
		writeErr = j.file.Sync()
	}
	if writeErr == nil {
		j.size += int64(n)
	}
	needsRotation := writeErr == nil && j.rotateBytes > 0 && j.size >= j.rotateBytes
	j.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("write audit record: %w", writeErr)
	}
	if needsRotation {
		go j.rotate()
	}
	return nil
}

func (j *journal) rotate() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.rotateFiles < 1 || j.rotateBytes <= 0 || j.size < j.rotateBytes {
		return
	}

	if err := j.file.Close(); err != nil {
		j.logger.Error("audit rotate: close current file", "path", j.path, "error", err)
	}

	oldest := rotatedPath(j.path, j.rotateFiles)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		j.logger.Error("audit rotate: remove oldest", "path", oldest, "error", err)
	}
	for i := j.rotateFiles - 1; i >= 1; i-- {
		src := rotatedPath(j.path, i)
		dst := rotatedPath(j.path, i+1)
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			j.logger.Error("audit rotate: shift", "src", src, "dst", dst, "error", err)
		}
	}
	if err := os.Rename(j.path, rotatedPath(j.path, 1)); err != nil && !os.IsNotExist(err) {
		j.logger.Error("audit rotate: archive current", "path", j.path, "error", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		j.logger.Error("audit rotate: reopen", "path", j.path, "error", err)
		return
	}
	j.file = f
	j.size = 0
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	return j.file.Close()
}

func rotatedPath(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
