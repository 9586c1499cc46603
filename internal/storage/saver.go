package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Saver persists a finished artifact. An empty path with a nil error means
// the user declined to save; the job then ends silently.
type Saver interface {
	Save(ctx context.Context, suggestedName string, data []byte) (path string, err error)
}

// ErrExists is returned by savers using ConflictError.
var ErrExists = errors.New("destination already exists")

// ConflictStrategy defines how to handle an existing destination.
type ConflictStrategy int

const (
	// ConflictOverwrite replaces existing files.
	ConflictOverwrite ConflictStrategy = iota

	// ConflictRename creates a new file with suffix.
	ConflictRename

	// ConflictError returns an error on conflict.
	ConflictError
)

// ParseConflictStrategy maps a config value to a strategy.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch strings.ToLower(s) {
	case "overwrite":
		return ConflictOverwrite, nil
	case "", "rename":
		return ConflictRename, nil
	case "error":
		return ConflictError, nil
	default:
		return 0, fmt.Errorf("unknown conflict strategy: %s", s)
	}
}

func (c ConflictStrategy) String() string {
	switch c {
	case ConflictOverwrite:
		return "overwrite"
	case ConflictRename:
		return "rename"
	case ConflictError:
		return "error"
	default:
		return "unknown"
	}
}

// ChooseFunc asks where to save. Returning ok=false cancels the save.
type ChooseFunc func(ctx context.Context, suggestedName string) (name string, ok bool, err error)

// DialogSaver puts a save prompt in front of another saver.
type DialogSaver struct {
	next   Saver
	choose ChooseFunc
}

// NewDialogSaver wraps next with choose.
func NewDialogSaver(next Saver, choose ChooseFunc) *DialogSaver {
	return &DialogSaver{next: next, choose: choose}
}

// Save implements Saver.
func (d *DialogSaver) Save(ctx context.Context, suggestedName string, data []byte) (string, error) {
	name, ok, err := d.choose(ctx, suggestedName)
	if err != nil {
		return "", fmt.Errorf("choose destination: %w", err)
	}
	if !ok {
		return "", nil
	}
	if name == "" {
		name = suggestedName
	}
	return d.next.Save(ctx, name, data)
}
