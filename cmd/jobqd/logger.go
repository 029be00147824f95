package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/imagvfx/jobq/config"
	"github.com/imagvfx/jobq/logger"
	"github.com/imagvfx/jobq/service"
	"github.com/imagvfx/jobq/service/nop"
	"github.com/imagvfx/jobq/sqlite"
)

// daemonLogger is the daemon's logger, with what it writes to.
type daemonLogger struct {
	logger.Logger

	// Store finds stored log lines.
	// It is a nop.LogService when log.db isn't set.
	Store service.LogService

	file *logger.FileSink
	db   *sql.DB
}

// openLogger creates a logger writing to the destinations of s.
func openLogger(s config.Settings) (*daemonLogger, error) {
	level, err := logger.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	dl := &daemonLogger{Store: &nop.LogService{}}
	sinks := make([]logger.Sink, 0)
	if s.LogStdout {
		sinks = append(sinks, logger.NewStdSink(os.Stdout))
	}
	if s.LogFile != "" {
		dl.file, err = logger.OpenFileSink(s.LogFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %v", err)
		}
		sinks = append(sinks, dl.file)
	}
	if s.LogDB != "" {
		dl.db, err = sqlite.Create(s.LogDB)
		if err != nil {
			dl.Close()
			return nil, fmt.Errorf("open log db: %v", err)
		}
		store := sqlite.NewLogService(dl.db)
		dl.Store = store
		sinks = append(sinks, logger.NewServiceSink(store))
	}
	dl.Logger = logger.New(level, sinks...)
	return dl, nil
}

// Close closes the log file and the db.
func (dl *daemonLogger) Close() {
	if dl.file != nil {
		dl.file.Close()
	}
	if dl.db != nil {
		dl.db.Close()
	}
}
