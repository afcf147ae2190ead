// Package store persists JSON documents to flat files with atomic-replace
// semantics and numbered backup rotation. Readers recover transparently from
// a corrupted primary file by falling back through the backups.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// DefaultBackupCount is how many rotated snapshots WriteJSON keeps per file.
const DefaultBackupCount = 3

// Store reads and writes JSON documents. The zero value is not usable; use New.
type Store struct {
	backupCount int
	logger      zerolog.Logger
}

func New(logger zerolog.Logger) *Store {
	return &Store{
		backupCount: DefaultBackupCount,
		logger:      logger.With().Str("component", "store").Logger(),
	}
}

// SetBackupCount overrides the number of rotated backups kept per document.
func (s *Store) SetBackupCount(n int) {
	if n < 0 {
		n = 0
	}
	s.backupCount = n
}

func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.bak.%d", path, n)
}

// ReadJSON reads the document at path into v. It tries the primary file
// first; on a parse failure it falls back through the numbered backups,
// newest first. The returned source names the file that actually parsed
// ("primary" or a backup path) and recovered is true when a backup served
// the read. A missing primary with no usable backup returns os.ErrNotExist.
func (s *Store) ReadJSON(path string, v any) (recovered bool, source string, err error) {
	data, readErr := os.ReadFile(path)
	if readErr == nil {
		if err := json.Unmarshal(data, v); err == nil {
			return false, "primary", nil
		}
		s.logger.Warn().Str("path", path).Msg("Primary file is corrupted, trying backups")
	} else if !os.IsNotExist(readErr) {
		return false, "", fmt.Errorf("failed to read %s: %w", path, readErr)
	}

	for n := 1; n <= s.backupCount; n++ {
		bp := backupPath(path, n)
		data, err := os.ReadFile(bp)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, v); err != nil {
			s.logger.Warn().Str("path", bp).Msg("Backup is also corrupted, trying next")
			continue
		}
		s.logger.Warn().Str("path", path).Str("source", bp).Msg("Recovered document from backup")
		return true, bp, nil
	}

	if readErr != nil {
		// Primary absent and no backups: plain not-found.
		return false, "", readErr
	}
	return false, "", fmt.Errorf("document at %s is corrupted and no backup is readable", path)
}

// WriteJSON atomically replaces the document at path with the JSON encoding
// of v. The previous contents are rotated into numbered backups before the
// rename so that a write that lands mid-crash never destroys the last good
// snapshot.
func (s *Store) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	s.rotateBackups(path)

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	tmpName = ""
	return nil
}

// rotateBackups shifts path.bak.N-1 -> path.bak.N and then snapshots the
// current primary into path.bak.1. Rotation failures are logged and ignored;
// losing a backup must not fail the write itself.
func (s *Store) rotateBackups(path string) {
	if s.backupCount <= 0 {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	for n := s.backupCount - 1; n >= 1; n-- {
		from := backupPath(path, n)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, backupPath(path, n+1)); err != nil {
			s.logger.Warn().Err(err).Str("path", from).Msg("Failed to rotate backup")
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to snapshot primary into backup")
		return
	}
	if err := os.WriteFile(backupPath(path, 1), data, 0644); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to write backup")
	}
}
