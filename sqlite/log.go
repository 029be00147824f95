package sqlite

import (
	"database/sql"
	"time"

	"github.com/imagvfx/jobq/service"
)

// CreateLogsTable creates logs table to a database if not exists.
// It is ok to call it multiple times.
func CreateLogsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time INTEGER NOT NULL,
			level TEXT NOT NULL,
			job TEXT NOT NULL,
			task TEXT NOT NULL,
			message TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS logs_job ON logs (job);
	`)
	return err
}

// LogService interacts with a database for job logs.
type LogService struct {
	db *sql.DB
}

var _ service.LogService = (*LogService)(nil)

// NewLogService creates a new LogService.
func NewLogService(db *sql.DB) *LogService {
	return &LogService{db: db}
}

// AddLog adds a log line into a database.
func (s *LogService) AddLog(l *service.Log) error {
	_, err := s.db.Exec(`
		INSERT INTO logs (
			time,
			level,
			job,
			task,
			message
		)
		VALUES (?, ?, ?, ?, ?)
	`,
		l.Time.UnixNano(),
		l.Level,
		l.Job,
		l.Task,
		l.Message,
	)
	return err
}

// FindLogs finds log lines matching the filter, oldest first.
func (s *LogService) FindLogs(f service.LogFilter) ([]*service.Log, error) {
	where := NewWhere()
	where.AddIfNotEmpty("job", f.Job)
	where.AddIfNotEmpty("task", f.Task)
	where.AddIfNotEmpty("level", f.Level)
	stmt := `
		SELECT
			time,
			level,
			job,
			task,
			message
		FROM logs
	` + where.Stmt() + ` ORDER BY id`
	vals := where.Vals()
	if f.Limit > 0 {
		stmt += ` LIMIT ?`
		vals = append(vals, f.Limit)
	}
	rows, err := s.db.Query(stmt, vals...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := make([]*service.Log, 0)
	for rows.Next() {
		l := &service.Log{}
		var t int64
		err := rows.Scan(
			&t,
			&l.Level,
			&l.Job,
			&l.Task,
			&l.Message,
		)
		if err != nil {
			return nil, err
		}
		l.Time = time.Unix(0, t)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
