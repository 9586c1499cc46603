package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultChunkSize is the read granularity of the reader and the spill stage.
const DefaultChunkSize = 256 * 1024

// Errors
var (
	ErrFileAccess  = errors.New("file access failed")
	ErrTempStorage = errors.New("temp storage failed")
)

// ProgressFunc receives cumulative byte progress. current never decreases and
// the last call of a stage has current == total.
type ProgressFunc func(total, current int64)

func nopProgress(int64, int64) {}

// ChunkedReader loads a whole file while reporting per-chunk progress.
type ChunkedReader struct {
	chunkSize int
}

// NewChunkedReader creates a reader. Non-positive sizes select DefaultChunkSize.
func NewChunkedReader(chunkSize int) *ChunkedReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkedReader{chunkSize: chunkSize}
}

// ChunkSize returns the read granularity.
func (r *ChunkedReader) ChunkSize() int {
	return r.chunkSize
}

// Read returns the file contents. It reports (size, 0) once the file is open
// and the running total after every chunk. Any failure wraps ErrFileAccess and
// no partial data is returned.
func (r *ChunkedReader) Read(ctx context.Context, path string, progress ProgressFunc) ([]byte, error) {
	if progress == nil {
		progress = nopProgress
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileAccess, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileAccess, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrFileAccess, path)
	}

	data, err := readChunks(ctx, f, info.Size(), r.chunkSize, progress, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFileAccess, err)
	}

	return data, nil
}

// readChunks drains src in chunkSize pieces, applying transform to each chunk
// before it is appended. total is a size hint; progress is kept consistent
// even if the source turns out shorter or longer.
func readChunks(ctx context.Context, src io.Reader, total int64, chunkSize int,
	progress ProgressFunc, transform func([]byte)) ([]byte, error) {

	out := make([]byte, 0, total)
	chunk := make([]byte, chunkSize)
	defer clear(chunk)

	progress(total, 0)

	var loaded int64
	for {
		if err := ctx.Err(); err != nil {
			clear(out)
			return nil, err
		}

		n, err := io.ReadFull(src, chunk)
		if n > 0 {
			if transform != nil {
				transform(chunk[:n])
			}
			out = append(out, chunk[:n]...)
			loaded += int64(n)
			if loaded > total {
				total = loaded
			}
			progress(total, loaded)
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			clear(out)
			return nil, err
		}
	}

	if loaded != total {
		progress(loaded, loaded)
	}

	return out, nil
}
