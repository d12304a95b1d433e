package common

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Timer measures a single named interval.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewNamedTimer starts a timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the timer name.
func (t *Timer) Name() string {
	return t.name
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// StageTimings accumulates per-stage durations for one run.
type StageTimings struct {
	mu     sync.Mutex
	stages map[string]time.Duration
}

// NewStageTimings returns an empty timing record.
func NewStageTimings() *StageTimings {
	return &StageTimings{stages: make(map[string]time.Duration)}
}

// Record adds the stopped timer's duration under its name.
func (s *StageTimings) Record(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[t.Name()] += t.Duration()
}

// Snapshot returns a copy of the recorded durations.
func (s *StageTimings) Snapshot() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Duration, len(s.stages))
	for k, v := range s.stages {
		out[k] = v
	}
	return out
}

// Total returns the sum of all stage durations.
func (s *StageTimings) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, v := range s.stages {
		total += v
	}
	return total
}

func (s *StageTimings) String() string {
	snap := s.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%v", n, snap[n])
	}
	return strings.Join(parts, " ")
}
