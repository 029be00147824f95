// Package service declares the storage services jobq can log to.
// Implementations live in their own packages, such as sqlite.
package service

import "time"

// LogService stores and finds log lines of jobs and tasks.
type LogService interface {
	AddLog(*Log) error
	FindLogs(LogFilter) ([]*Log, error)
}

// Log is a log line for database service.
type Log struct {
	Time    time.Time
	Level   string
	Job     string
	Task    string
	Message string
}

// LogFilter is a filter for searching logs.
// Empty fields match everything.
type LogFilter struct {
	Job   string
	Task  string
	Level string
	// Limit caps number of returned logs when it is positive.
	Limit int
}
