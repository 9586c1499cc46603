package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/obseal/internal/pipeline"
)

// RecordingSink keeps every event it receives.
type RecordingSink struct {
	mu     sync.Mutex
	events []pipeline.Event
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Emit implements pipeline.Sink.
func (s *RecordingSink) Emit(e pipeline.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of everything recorded.
func (s *RecordingSink) Events() []pipeline.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.Event(nil), s.events...)
}

// ForJob returns the events of one job.
func (s *RecordingSink) ForJob(id string) []pipeline.Event {
	var out []pipeline.Event
	for _, e := range s.Events() {
		if e.JobID == id {
			out = append(out, e)
		}
	}
	return out
}

// Terminal returns the job's error and completed events.
func (s *RecordingSink) Terminal(id string) []pipeline.Event {
	var out []pipeline.Event
	for _, e := range s.ForJob(id) {
		if e.Type.IsTerminal() {
			out = append(out, e)
		}
	}
	return out
}

// Progress returns the job's progress values for one stage.
func (s *RecordingSink) Progress(id string, stage pipeline.Stage) []pipeline.Progress {
	var out []pipeline.Progress
	for _, e := range s.ForJob(id) {
		if e.Type == pipeline.EventProgress && e.Stage == stage && e.Progress != nil {
			out = append(out, *e.Progress)
		}
	}
	return out
}

// Stages returns the distinct stages the job reported progress for, in order.
func (s *RecordingSink) Stages(id string) []pipeline.Stage {
	var out []pipeline.Stage
	for _, e := range s.ForJob(id) {
		if e.Type != pipeline.EventProgress {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != e.Stage {
			out = append(out, e.Stage)
		}
	}
	return out
}

// MockSaver is a testify mock of storage.Saver.
type MockSaver struct {
	mock.Mock
}

// Save implements storage.Saver.
func (m *MockSaver) Save(ctx context.Context, name string, data []byte) (string, error) {
	args := m.Called(ctx, name, data)
	return args.String(0), args.Error(1)
}
