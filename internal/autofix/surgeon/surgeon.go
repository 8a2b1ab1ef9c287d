// internal/autofix/surgeon/surgeon.go
package surgeon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/internal/autofix"
)

// DefaultBackupSuffix is appended to a file's path to name its backup.
const DefaultBackupSuffix = ".backup"

// Surgeon applies single-line fixes to source files. Every precondition is
// checked against the file as it is on disk at the moment of the edit, and a
// backup is written before the file is touched.
type Surgeon struct {
	logger       *zap.Logger
	backupSuffix string
	root         string
}

// Option configures a Surgeon.
type Option func(*Surgeon)

// WithBackupSuffix overrides DefaultBackupSuffix.
func WithBackupSuffix(suffix string) Option {
	return func(s *Surgeon) {
		if suffix != "" {
			s.backupSuffix = suffix
		}
	}
}

// WithRoot resolves relative fix paths against root instead of the working directory.
func WithRoot(root string) Option {
	return func(s *Surgeon) { s.root = root }
}

// New creates a Surgeon.
func New(logger *zap.Logger, opts ...Option) *Surgeon {
	s := &Surgeon{
		logger:       logger.Named("surgeon"),
		backupSuffix: DefaultBackupSuffix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve maps a fix path onto the filesystem.
func (s *Surgeon) Resolve(path string) string {
	if s.root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}

// BackupPath names the backup for path.
func (s *Surgeon) BackupPath(path string) string {
	return s.Resolve(path) + s.backupSuffix
}

// target is a file loaded and checked against a fix.
type target struct {
	path  string
	data  []byte
	mode  os.FileMode
	lines []string
}

// inspect loads the fix target and runs the three preconditions in order.
func (s *Surgeon) inspect(fix autofix.FixRecord) (*target, error) {
	path := s.Resolve(fix.File)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &autofix.FileNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to stat target file '%s': %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, &autofix.FileNotFoundError{Path: path}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target file '%s': %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	if fix.Line < 1 || fix.Line > len(lines) {
		return nil, &autofix.LineOutOfRangeError{Path: path, Line: fix.Line, LineCount: len(lines)}
	}

	current := lines[fix.Line-1]
	if !strings.Contains(current, fix.OldCode) {
		return nil, &autofix.CodeMismatchError{Path: path, Line: fix.Line, OldCode: fix.OldCode, LineText: current}
	}

	return &target{path: path, data: data, mode: info.Mode().Perm(), lines: lines}, nil
}

// Check reports whether fix could be applied right now, without touching anything.
func (s *Surgeon) Check(fix autofix.FixRecord) error {
	_, err := s.inspect(fix)
	return err
}

// Apply edits the target line of fix.File, replacing the first occurrence of
// OldCode with NewCode. All other bytes of the file are preserved.
func (s *Surgeon) Apply(fix autofix.FixRecord) (*autofix.ApplyResult, *autofix.BackupRecord, error) {
	s.logger.Info("Applying fix.",
		zap.String("file", fix.File),
		zap.Int("line", fix.Line),
		zap.Int("column", fix.Column),
		zap.String("reason", fix.Reason))

	t, err := s.inspect(fix)
	if err != nil {
		return nil, nil, err
	}

	backup, err := s.Backup(fix.File)
	if err != nil {
		return nil, nil, err
	}

	idx := fix.Line - 1
	oldLine := t.lines[idx]
	newLine := strings.Replace(oldLine, fix.OldCode, fix.NewCode, 1)
	t.lines[idx] = newLine

	if err := os.WriteFile(t.path, []byte(strings.Join(t.lines, "\n")), t.mode); err != nil {
		// A failed write may have truncated the file; put the original bytes back.
		if restoreErr := os.WriteFile(t.path, t.data, t.mode); restoreErr != nil {
			s.logger.Error("CRITICAL: failed to restore file after write error. Restore it from the backup.",
				zap.String("file", t.path),
				zap.String("backup", backup.BackupPath),
				zap.Error(restoreErr))
		}
		return nil, backup, fmt.Errorf("failed to write updated file '%s': %w", t.path, err)
	}

	s.logger.Info("Fix applied.",
		zap.String("old", strings.TrimSpace(oldLine)),
		zap.String("new", strings.TrimSpace(newLine)))

	return &autofix.ApplyResult{
		File:    fix.File,
		Line:    fix.Line,
		OldLine: oldLine,
		NewLine: newLine,
		Success: true,
	}, backup, nil
}

// Backup copies path to its backup location, replacing any earlier backup.
func (s *Surgeon) Backup(path string) (*autofix.BackupRecord, error) {
	resolved := s.Resolve(path)
	backupPath := s.BackupPath(path)

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, &autofix.BackupFailureError{Path: resolved, BackupPath: backupPath, Err: err}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, &autofix.BackupFailureError{Path: resolved, BackupPath: backupPath, Err: err}
	}
	if err := os.WriteFile(backupPath, data, info.Mode().Perm()); err != nil {
		return nil, &autofix.BackupFailureError{Path: resolved, BackupPath: backupPath, Err: err}
	}

	s.logger.Info("Backup created.", zap.String("backup", backupPath))
	return &autofix.BackupRecord{OriginalPath: resolved, BackupPath: backupPath}, nil
}

// Revert restores path from its most recent backup. A missing backup is
// reported by returning false; callers decide whether that is fatal.
func (s *Surgeon) Revert(path string) bool {
	resolved := s.Resolve(path)
	backupPath := s.BackupPath(path)

	info, err := os.Stat(backupPath)
	if err != nil {
		s.logger.Warn("No backup found.", zap.String("file", resolved), zap.String("backup", backupPath))
		return false
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		s.logger.Error("Failed to read backup.", zap.String("backup", backupPath), zap.Error(err))
		return false
	}
	if err := os.WriteFile(resolved, data, info.Mode().Perm()); err != nil {
		s.logger.Error("Failed to restore file from backup.", zap.String("file", resolved), zap.Error(err))
		return false
	}

	s.logger.Info("Reverted fix using backup.", zap.String("file", resolved), zap.String("backup", backupPath))
	return true
}
