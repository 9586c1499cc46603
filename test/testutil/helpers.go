package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/obseal/internal/events"
)

// NewTestLogger creates a debug JSON logger writing to a discarded buffer.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// NewCapturingLogger returns a JSON logger and the buffer it writes to.
func NewCapturingLogger() (*events.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf), &buf
}

// LogEntries parses JSON log lines from buf.
func LogEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry), "log line: %s", line)
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

// WriteFile writes data to name inside a fresh temp dir and returns the path.
func WriteFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

// TempDirs returns a fresh (spill, output) directory pair.
func TempDirs(t *testing.T) (spillDir, outDir string) {
	t.Helper()
	root := t.TempDir()
	spillDir = filepath.Join(root, "spill")
	outDir = filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(spillDir, 0700))
	require.NoError(t, os.MkdirAll(outDir, 0700))
	return spillDir, outDir
}

// AssertNoSpillFiles fails if dir still holds *.tmp files.
func AssertNoSpillFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, matches, "spill files left behind")
}
