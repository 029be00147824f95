package nop

import "github.com/imagvfx/jobq/service"

// LogService is a LogService which does nothing.
// We need this for testing.
type LogService struct{}

var _ service.LogService = (*LogService)(nil)

// AddLog returns nil always.
func (s *LogService) AddLog(l *service.Log) error {
	return nil
}

// FindLogs returns (nil, nil).
func (s *LogService) FindLogs(f service.LogFilter) ([]*service.Log, error) {
	return nil, nil
}
