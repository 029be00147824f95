package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imagvfx/jobq/service"
)

func TestLogService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobq.db")
	db, err := Create(path)
	require.NoError(t, err)
	defer db.Close()

	svc := NewLogService(db)
	now := time.Now()
	logs := []*service.Log{
		{Time: now, Level: "INFO", Job: "render-a", Task: "t1", Message: "started"},
		{Time: now, Level: "WARNING", Job: "render-a", Task: "t2", Message: "slow"},
		{Time: now, Level: "INFO", Job: "comp-b", Task: "t3", Message: "started"},
	}
	for _, l := range logs {
		require.NoError(t, svc.AddLog(l))
	}

	got, err := svc.FindLogs(service.LogFilter{Job: "render-a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "started", got[0].Message)
	require.Equal(t, "slow", got[1].Message)
	require.Equal(t, now.UnixNano(), got[0].Time.UnixNano())

	got, err = svc.FindLogs(service.LogFilter{Level: "INFO", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "render-a", got[0].Job)

	got, err = svc.FindLogs(service.LogFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	_, err = Open("")
	require.Error(t, err)
}

func TestWhere(t *testing.T) {
	w := NewWhere()
	require.Equal(t, "", w.Stmt())
	w.Add("job", "a")
	w.AddIfNotEmpty("task", "")
	w.AddIfNotEmpty("level", "INFO")
	require.Equal(t, " WHERE job = ? AND level = ?", w.Stmt())
	require.Equal(t, []interface{}{"a", "INFO"}, w.Vals())
}
