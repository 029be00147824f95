package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/imagvfx/jobq/service"
)

// fallback reports sink failures. It must not go through a Sink.
var fallback = log.New(os.Stderr, "jobq: ", log.LstdFlags)

// StdSink writes entries through a standard library logger.
type StdSink struct {
	l *log.Logger
}

// NewStdSink creates a StdSink writing to w with the standard flags.
func NewStdSink(w io.Writer) *StdSink {
	return &StdSink{l: log.New(w, "", log.LstdFlags)}
}

// Write implements Sink.
func (s *StdSink) Write(e Entry) error {
	return s.l.Output(2, e.String())
}

// FileSink appends entries to a file.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
	l  *log.Logger
}

// OpenFileSink opens (or creates) path for appending.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileSink{f: f, l: log.New(f, "", log.LstdFlags|log.Lmicroseconds)}, nil
}

// Write implements Sink.
func (s *FileSink) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("log file closed")
	}
	return s.l.Output(2, e.String())
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ServiceSink stores entries through a service.LogService,
// which is usually backed by a database.
type ServiceSink struct {
	svc service.LogService
}

// NewServiceSink creates a ServiceSink.
func NewServiceSink(svc service.LogService) *ServiceSink {
	return &ServiceSink{svc: svc}
}

// Write implements Sink.
func (s *ServiceSink) Write(e Entry) error {
	return s.svc.AddLog(&service.Log{
		Time:    e.Time,
		Level:   e.Level.String(),
		Job:     e.Job,
		Task:    e.Task,
		Message: e.Message,
	})
}

// MemorySink keeps entries in memory. It is handy for tests.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// Write implements Sink.
func (s *MemorySink) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of the stored entries.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}
