package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Stage names used for progress reporting and timings.
const (
	StagePropose  = "propose"
	StageClassify = "classify"
	StageNMS      = "nms"
	StageVerify   = "verify"
)

// Observer receives run progress. Calls may come from worker goroutines.
type Observer interface {
	// OnStateChange is called on every state transition.
	OnStateChange(state State)

	// OnProgress is called as items of a stage complete.
	OnProgress(stage string, done, total int)
}

// NoOpObserver implements Observer but does nothing.
type NoOpObserver struct{}

func (NoOpObserver) OnStateChange(State)         {}
func (NoOpObserver) OnProgress(string, int, int) {}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StateChange func(State)
	Progress    func(stage string, done, total int)
}

func (o ObserverFuncs) OnStateChange(s State) {
	if o.StateChange != nil {
		o.StateChange(s)
	}
}

func (o ObserverFuncs) OnProgress(stage string, done, total int) {
	if o.Progress != nil {
		o.Progress(stage, done, total)
	}
}

// ConsoleObserver displays a progress bar for the classification stage.
type ConsoleObserver struct {
	writer         io.Writer
	width          int
	lastUpdate     time.Time
	updateInterval time.Duration
	mutex          sync.Mutex
	startTime      time.Time
}

// NewConsoleObserver creates a console progress reporter.
func NewConsoleObserver(writer io.Writer) *ConsoleObserver {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleObserver{
		writer:         writer,
		width:          40,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithWidth sets the progress bar width.
func (c *ConsoleObserver) WithWidth(width int) *ConsoleObserver {
	c.width = width
	return c
}

func (c *ConsoleObserver) OnStateChange(state State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch state {
	case StateProposing:
		c.startTime = time.Now()
	case StateDone, StateFailed:
		_, _ = fmt.Fprintf(c.writer, "\n%s in %v\n", state, time.Since(c.startTime).Round(time.Millisecond))
		return
	}
	_, _ = fmt.Fprintf(c.writer, "\n%s\n", state)
}

func (c *ConsoleObserver) OnProgress(stage string, done, total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && done < total {
		return
	}
	c.lastUpdate = now
	c.drawProgressBar(stage, done, total)
}

func (c *ConsoleObserver) drawProgressBar(stage string, done, total int) {
	if total <= 0 {
		return
	}
	percent := float64(done) / float64(total) * 100.0
	filled := int(float64(c.width) * float64(done) / float64(total))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	_, _ = fmt.Fprintf(c.writer, "\r%s [%s] %d/%d (%.1f%%)", stage, bar, done, total, percent)
}

// LogObserver logs state changes and coarse progress using slog.
type LogObserver struct {
	logger   *slog.Logger
	level    slog.Level
	interval int // Log every N items
	mu       sync.Mutex
	lastLog  map[string]int
}

// NewLogObserver creates a log-based observer.
func NewLogObserver(logger *slog.Logger, level slog.Level) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger, level: level, interval: 50, lastLog: make(map[string]int)}
}

// WithInterval sets how frequently to log progress (every N items).
func (l *LogObserver) WithInterval(interval int) *LogObserver {
	l.interval = interval
	return l
}

func (l *LogObserver) OnStateChange(state State) {
	l.logger.Log(context.Background(), l.level, "pipeline state", "state", state.String())
}

func (l *LogObserver) OnProgress(stage string, done, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if done-l.lastLog[stage] < l.interval && done != total {
		return
	}
	l.lastLog[stage] = done
	l.logger.Log(context.Background(), l.level, "pipeline progress", "stage", stage, "done", done, "total", total)
}

// MultiObserver fans out to several observers.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates an observer that reports to all given observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

// Add adds another observer.
func (m *MultiObserver) Add(o Observer) {
	m.observers = append(m.observers, o)
}

func (m *MultiObserver) OnStateChange(state State) {
	for _, o := range m.observers {
		o.OnStateChange(state)
	}
}

func (m *MultiObserver) OnProgress(stage string, done, total int) {
	for _, o := range m.observers {
		o.OnProgress(stage, done, total)
	}
}
