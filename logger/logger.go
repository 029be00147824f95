// Package logger is the leveled logging facility of jobq.
//
// A Logger formats a message and fans it out to one or more Sinks,
// so the same log line can reach stdout, a file and a database.
package logger

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of log messages.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelSevere
)

// String represents Level as string.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARNING"
	case LevelSevere:
		return "SEVERE"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel parses a level name. Both "warn" and "warning" are accepted.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "severe", "error":
		return LevelSevere, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// Entry is a single log line before it is formatted by a sink.
type Entry struct {
	Time    time.Time
	Level   Level
	Job     string
	Task    string
	Message string
}

// String formats the entry the way StdSink and FileSink write it.
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Level.String())
	b.WriteString("]")
	if e.Job != "" {
		b.WriteString(" job=")
		b.WriteString(e.Job)
	}
	if e.Task != "" {
		b.WriteString(" task=")
		b.WriteString(e.Task)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	return b.String()
}

// Logger is what the engine logs through.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Severe(msg string, args ...interface{})

	// WithJob returns a Logger that tags every entry with the job id.
	WithJob(id string) Logger
	// WithTask returns a Logger that tags every entry with the task id.
	WithTask(id string) Logger
}

// Sink receives formatted entries.
type Sink interface {
	Write(e Entry) error
}

// core is shared by a Logger and all of its With* children.
type core struct {
	mu    sync.Mutex
	level Level
	sinks []Sink
}

type leveled struct {
	*core
	job  string
	task string
}

var _ Logger = (*leveled)(nil)

// New creates a Logger that writes entries at or above level to sinks.
func New(level Level, sinks ...Sink) Logger {
	return &leveled{core: &core{level: level, sinks: sinks}}
}

func (l *leveled) log(lv Level, msg string, args []interface{}) {
	if lv < l.level {
		return
	}
	if len(args) != 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	e := Entry{
		Time:    time.Now(),
		Level:   lv,
		Job:     l.job,
		Task:    l.task,
		Message: msg,
	}
	l.mu.Lock()
	sinks := l.sinks
	l.mu.Unlock()
	for _, s := range sinks {
		// a broken sink must not take the engine down with it.
		if err := s.Write(e); err != nil {
			fallback.Printf("log sink %T: %v", s, err)
		}
	}
}

func (l *leveled) Debug(msg string, args ...interface{})  { l.log(LevelDebug, msg, args) }
func (l *leveled) Info(msg string, args ...interface{})   { l.log(LevelInfo, msg, args) }
func (l *leveled) Warn(msg string, args ...interface{})   { l.log(LevelWarn, msg, args) }
func (l *leveled) Severe(msg string, args ...interface{}) { l.log(LevelSevere, msg, args) }

func (l *leveled) WithJob(id string) Logger {
	return &leveled{core: l.core, job: id, task: l.task}
}

func (l *leveled) WithTask(id string) Logger {
	return &leveled{core: l.core, job: l.job, task: id}
}

// nop discards everything.
type nop struct{}

// Nop returns a Logger which does nothing.
// We need this for testing.
func Nop() Logger {
	return nop{}
}

func (nop) Debug(string, ...interface{})  {}
func (nop) Info(string, ...interface{})   {}
func (nop) Warn(string, ...interface{})   {}
func (nop) Severe(string, ...interface{}) {}
func (n nop) WithJob(string) Logger       { return n }
func (n nop) WithTask(string) Logger      { return n }
