package pipeline

import (
	"sync"

	"github.com/TheMichaelB/obseal/internal/events"
)

// Sink receives pipeline events. Emit is called from the job's own goroutine
// in stage order; implementations must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// FanOut delivers each event to every sink in order.
type FanOut []Sink

// Emit implements Sink.
func (f FanOut) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

// ChannelSink buffers events on a channel. Progress events are dropped when
// the buffer is full; started and terminal events wait for room until Close.
type ChannelSink struct {
	mu       sync.RWMutex
	ch       chan Event
	done     chan struct{}
	doneOnce sync.Once
	closed   bool
	logger   *events.Logger
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(size int, logger *events.Logger) *ChannelSink {
	return &ChannelSink{
		ch:     make(chan Event, size),
		done:   make(chan struct{}),
		logger: logger.WithField("component", "channel_sink"),
	}
}

// Events returns the receive side.
func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}

// Emit implements Sink.
func (c *ChannelSink) Emit(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}

	if e.Type != EventProgress {
		select {
		case c.ch <- e:
		case <-c.done:
			c.logger.WithField("job_id", e.JobID).Debug("Sink closed, dropping event")
		}
		return
	}

	select {
	case c.ch <- e:
	default:
		c.logger.WithField("job_id", e.JobID).Debug("Event channel full, dropping progress event")
	}
}

// Close closes the channel. A blocked Emit is released and its event
// discarded, as are later events.
func (c *ChannelSink) Close() {
	// Wake blocked senders before waiting on their read locks.
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// LogSink writes every event to a logger.
type LogSink struct {
	logger *events.Logger
}

// NewLogSink creates a sink that logs events.
func NewLogSink(logger *events.Logger) *LogSink {
	return &LogSink{logger: logger.WithField("component", "pipeline")}
}

// Emit implements Sink.
func (l *LogSink) Emit(e Event) {
	log := l.logger.WithFields(map[string]interface{}{
		"job_id": e.JobID,
		"event":  string(e.Type),
	})
	if e.Stage != "" {
		log = log.WithField("stage", string(e.Stage))
	}

	switch e.Type {
	case EventProgress:
		if e.Progress != nil {
			log = log.WithFields(map[string]interface{}{
				"total":   e.Progress.Total,
				"current": e.Progress.Current,
			})
		}
		log.Debug("Stage progress")
	case EventError:
		log.WithFields(map[string]interface{}{
			"kind":   string(e.Kind),
			"code":   e.Code,
			"detail": e.Detail,
		}).Error(e.Message)
	case EventCompleted:
		if e.Result != nil {
			log = log.WithFields(map[string]interface{}{
				"path":        e.Result.Path,
				"size_before": e.Result.Size.Before,
				"size_after":  e.Result.Size.After,
			})
		}
		log.Info("Job completed")
	default:
		log.Info("Job started")
	}
}
