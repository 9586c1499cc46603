// Package compress implements the whole-buffer compression stage.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ErrCorrupt is returned when the input is not a zlib stream produced by Deflate.
var ErrCorrupt = errors.New("corrupt compressed payload")

// Level is the zlib level used for sealing. Matches zlib's own default.
const Level = zlib.DefaultCompression

// Deflate compresses data into a zlib container.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 64)

	w, err := zlib.NewWriterLevel(&buf, Level)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}

	return buf.Bytes(), nil
}

// Inflate reverses Deflate. Any header, stream or checksum problem is
// reported as ErrCorrupt.
func Inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return out, nil
}
