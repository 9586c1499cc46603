package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/TheMichaelB/obseal/internal/pipeline"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed, color.Bold)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)

	printer = message.NewPrinter(language.English)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warnColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("encode output: %v", err)
	}
}

// formatBytes renders a byte count with thousands separators and a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return printer.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return printer.Sprintf("%.1f %ciB (%d bytes)", float64(n)/float64(div), "KMGTPE"[exp], n)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return printer.Sprintf("%d ms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

// ProgressDisplay renders job events as a single status line per event on
// stderr.
type ProgressDisplay struct {
	mu    sync.Mutex
	names map[string]string
	last  map[string]string
}

// NewProgressDisplay creates an empty display.
func NewProgressDisplay() *ProgressDisplay {
	return &ProgressDisplay{
		names: make(map[string]string),
		last:  make(map[string]string),
	}
}

// Track labels a job's lines with a short name.
func (p *ProgressDisplay) Track(jobID, path string) {
	p.mu.Lock()
	p.names[jobID] = filepath.Base(path)
	p.mu.Unlock()
}

// Emit implements pipeline.Sink.
func (p *ProgressDisplay) Emit(e pipeline.Event) {
	if e.Type != pipeline.EventProgress || e.Progress == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("%-24s %-10s %s", p.name(e.JobID), e.Stage, percent(*e.Progress))
	if p.last[e.JobID] == line {
		return
	}
	p.last[e.JobID] = line

	fmt.Fprintf(os.Stderr, "\r%s", strings.TrimRight(line, " "))
	if e.Progress.Done() {
		fmt.Fprintln(os.Stderr)
	}
}

func (p *ProgressDisplay) name(jobID string) string {
	if n, ok := p.names[jobID]; ok {
		return n
	}
	if len(jobID) > 8 {
		return jobID[:8]
	}
	return jobID
}

func percent(pr pipeline.Progress) string {
	switch {
	case pr.Total == pipeline.Indeterminate:
		return "working"
	case pr.Total <= 0:
		return "100%"
	default:
		return fmt.Sprintf("%3d%%", pr.Current*100/pr.Total)
	}
}
