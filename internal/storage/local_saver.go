package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/TheMichaelB/obseal/internal/events"
)

// LocalSaver writes artifacts into a base directory.
type LocalSaver struct {
	baseDir          string
	conflictStrategy ConflictStrategy
	logger           *events.Logger

	maxPathLength int
	fileMode      os.FileMode
}

// NewLocalSaver creates a saver rooted at baseDir.
func NewLocalSaver(baseDir string, logger *events.Logger) (*LocalSaver, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalSaver{
		baseDir:          absPath,
		conflictStrategy: ConflictRename,
		logger:           logger.WithField("component", "local_saver"),
		maxPathLength:    260, // Windows compatibility
		fileMode:         0600,
	}, nil
}

// SetConflictStrategy sets the conflict resolution strategy.
func (s *LocalSaver) SetConflictStrategy(strategy ConflictStrategy) {
	s.conflictStrategy = strategy
}

// BaseDir returns the absolute output directory.
func (s *LocalSaver) BaseDir() string {
	return s.baseDir
}

// Save writes data atomically and returns the absolute path written.
func (s *LocalSaver) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	safePath, err := s.sanitizePath(name)
	if err != nil {
		return "", fmt.Errorf("sanitize path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(safePath), 0755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}

	if _, err := os.Stat(safePath); err == nil {
		switch s.conflictStrategy {
		case ConflictError:
			return "", fmt.Errorf("%w: %s", ErrExists, name)
		case ConflictRename:
			safePath = s.generateConflictPath(safePath)
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"path": safePath,
		"size": len(data),
	}).Debug("Writing artifact")

	tempPath := fmt.Sprintf("%s.tmp.%d", safePath, time.Now().UnixNano())
	if err := writeSynced(tempPath, data, s.fileMode); err != nil {
		_ = os.Remove(tempPath)
		return "", err
	}

	if err := os.Rename(tempPath, safePath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	return safePath, nil
}

func writeSynced(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	return f.Close()
}

// sanitizePath validates a name and resolves it under the base directory.
func (s *LocalSaver) sanitizePath(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("path contains null bytes")
	}

	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("empty file name")
	}

	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("invalid path: contains '..'")
		}
	}

	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	fullPath := filepath.Join(s.baseDir, cleaned)

	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory")
	}

	if len(fullPath) > s.maxPathLength {
		return "", fmt.Errorf("path too long: %d characters (max: %d)", len(fullPath), s.maxPathLength)
	}

	if err := validatePlatformPath(cleaned); err != nil {
		return "", err
	}

	return fullPath, nil
}

// validatePlatformPath checks platform-specific path restrictions.
func validatePlatformPath(path string) error {
	if runtime.GOOS != "windows" {
		return nil
	}

	reserved := []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4",
		"COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3",
		"LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}

	for _, part := range strings.Split(path, string(filepath.Separator)) {
		upperName := strings.ToUpper(strings.TrimSuffix(part, filepath.Ext(part)))
		for _, r := range reserved {
			if upperName == r {
				return fmt.Errorf("invalid path: contains reserved name '%s'", part)
			}
		}

		if i := strings.IndexAny(part, `<>:"|?*`); i >= 0 {
			return fmt.Errorf("invalid path: contains character '%c'", part[i])
		}
	}

	return nil
}

// generateConflictPath picks "name (n).ext", the first one that is free.
func (s *LocalSaver) generateConflictPath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
