package pipeline

import (
	"encoding/json"
	"sort"
	"time"
)

// Stage names used in events and the timing table.
type Stage string

const (
	StageLoad      Stage = "load"
	StageDigest    Stage = "digest"
	StageCompress  Stage = "compress"
	StageCipher    Stage = "cipher"
	StageObfuscate Stage = "obfuscate"
	StageVerify    Stage = "verify"
	StagePersist   Stage = "persist"
)

// Span is the wall-clock interval of one stage.
type Span struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start, or zero for an unfinished span.
func (s Span) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// MarshalJSON encodes the span as millisecond epochs.
func (s Span) MarshalJSON() ([]byte, error) {
	out := struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	}{Start: s.Start.UnixMilli()}
	if !s.End.IsZero() {
		out.End = s.End.UnixMilli()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes millisecond epochs.
func (s *Span) UnmarshalJSON(data []byte) error {
	var in struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.Start = time.UnixMilli(in.Start)
	s.End = time.Time{}
	if in.End != 0 {
		s.End = time.UnixMilli(in.End)
	}
	return nil
}

// Timings is the per-job stage timing table.
type Timings map[Stage]Span

// Stages returns the recorded stages ordered by start time.
func (t Timings) Stages() []Stage {
	stages := make([]Stage, 0, len(t))
	for s := range t {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool {
		a, b := t[stages[i]], t[stages[j]]
		if a.Start.Equal(b.Start) {
			return stages[i] < stages[j]
		}
		return a.Start.Before(b.Start)
	})
	return stages
}

// Total sums every stage duration.
func (t Timings) Total() time.Duration {
	var d time.Duration
	for _, s := range t {
		d += s.Duration()
	}
	return d
}

// timer accumulates a Timings table for one run. The verify step is
// recorded under the digest key.
type timer struct {
	now     func() time.Time
	timings Timings
}

func newTimer(now func() time.Time) *timer {
	return &timer{now: now, timings: Timings{}}
}

func timingKey(s Stage) Stage {
	if s == StageVerify {
		return StageDigest
	}
	return s
}

func (t *timer) start(s Stage) {
	t.timings[timingKey(s)] = Span{Start: t.now()}
}

func (t *timer) stop(s Stage) {
	key := timingKey(s)
	span := t.timings[key]
	span.End = t.now()
	t.timings[key] = span
}

func (t *timer) snapshot() Timings {
	out := make(Timings, len(t.timings))
	for k, v := range t.timings {
		out[k] = v
	}
	return out
}
