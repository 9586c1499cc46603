package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/obseal/internal/crypto"
	"github.com/TheMichaelB/obseal/internal/events"
)

// Spill runs the obfuscation pass through a temporary file so the full
// buffer and its transformed copy are never resident together.
type Spill struct {
	dir       string
	chunkSize int
	logger    *events.Logger
}

// NewSpill creates the stage. An empty dir selects os.TempDir().
func NewSpill(dir string, chunkSize int, logger *events.Logger) *Spill {
	if dir == "" {
		dir = os.TempDir()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Spill{
		dir:       dir,
		chunkSize: chunkSize,
		logger:    logger.WithField("component", "spill"),
	}
}

// TempPath is where the spill file for a job lives.
func (s *Spill) TempPath(jobID string) string {
	return filepath.Join(s.dir, jobID+".tmp")
}

// XOR consumes buf: it is written to <dir>/<jobID>.tmp and zeroed, then
// re-read chunk by chunk with every byte XORed with key. The temp file is
// removed on every path. Failures wrap ErrTempStorage.
func (s *Spill) XOR(ctx context.Context, jobID string, buf []byte, key byte, progress ProgressFunc) ([]byte, error) {
	if progress == nil {
		progress = nopProgress
	}

	path := s.TempPath(jobID)
	size := int64(len(buf))

	err := writeSpill(path, buf)
	clear(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempStorage, err)
	}
	defer s.remove(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempStorage, err)
	}
	defer f.Close()

	out, err := readChunks(ctx, f, size, s.chunkSize, progress, func(chunk []byte) {
		crypto.XOR(chunk, key)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTempStorage, err)
	}

	if int64(len(out)) != size {
		clear(out)
		return nil, fmt.Errorf("%w: spill file holds %d bytes, expected %d", ErrTempStorage, len(out), size)
	}

	return out, nil
}

func writeSpill(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create spill file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write spill file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close spill file: %w", err)
	}
	return nil
}

func (s *Spill) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.WithError(err).WithField("path", path).Warn("Failed to remove spill file")
	}
}
