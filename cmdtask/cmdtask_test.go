package cmdtask

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/imagvfx/jobq"
	"github.com/stretchr/testify/require"
)

func waitTask(t *testing.T, tk *jobq.Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tk.Wait(ctx))
}

func TestWorkDone(t *testing.T) {
	var mu sync.Mutex
	outs := []string{}
	r := &Runner{
		Env: []string{"JOBQ_SHOT=sh010"},
		Output: func(cmd []string, out []byte) {
			mu.Lock()
			defer mu.Unlock()
			outs = append(outs, strings.TrimSpace(string(out)))
		},
	}
	tk := jobq.NewTask("cmd", 0, r.Work([][]string{
		{"echo", "hello"},
		{"sh", "-c", "echo $JOBQ_SHOT"},
	}))
	require.NoError(t, tk.Start())
	waitTask(t, tk)
	require.Equal(t, jobq.TaskDone, tk.Status())
	require.Equal(t, 2, tk.Result())
	require.Equal(t, 1.0, tk.Progress())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"hello", "sh010"}, outs)
}

func TestWorkFailed(t *testing.T) {
	ran := false
	r := &Runner{
		Output: func(cmd []string, out []byte) {
			if cmd[0] == "echo" {
				ran = true
			}
		},
	}
	tk := jobq.NewTask("cmd", 0, r.Work([][]string{
		{"sh", "-c", "echo broken >&2; exit 3"},
		{"echo", "never"},
	}))
	tk.Start()
	waitTask(t, tk)
	require.Equal(t, jobq.TaskErrored, tk.Status())
	var cerr *CommandError
	require.True(t, errors.As(tk.Err(), &cerr))
	require.Equal(t, "broken", cerr.Output)
	require.Contains(t, cerr.Error(), "exit status 3")
	require.False(t, ran, "commands after a failed one shouldn't run")
}

func TestWorkInterrupted(t *testing.T) {
	tk := jobq.NewTask("cmd", 0, Work([]string{"sleep", "10"}, []string{"echo", "never"}))
	tk.Start()
	deadline := time.Now().Add(5 * time.Second)
	for tk.Message() == "" {
		require.True(t, time.Now().Before(deadline), "command didn't start")
		time.Sleep(time.Millisecond)
	}
	start := time.Now()
	tk.Interrupt()
	waitTask(t, tk)
	require.Equal(t, jobq.TaskInterrupted, tk.Status())
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestWorkInJob(t *testing.T) {
	j := jobq.NewJob("cmd", 2)
	a := jobq.NewTask("cmd", 0, Work([]string{"true"}))
	b := jobq.NewTask("cmd", 0, Work([]string{"true"}, []string{"true"}))
	require.NoError(t, j.AddTask(a))
	require.NoError(t, j.AddTask(b))
	require.NoError(t, j.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, j.Wait(ctx))
	require.Equal(t, jobq.JobDone, j.Status())
	require.NoError(t, jobq.ShouldHaveTaskStatus([]*jobq.Task{a, b}, []jobq.TaskStatus{jobq.TaskDone, jobq.TaskDone}))
}

func TestParse(t *testing.T) {
	cases := []struct {
		line string
		want []string
		err  bool
	}{
		{line: "echo hello", want: []string{"echo", "hello"}},
		{line: "  nuke -x  'shot 010.nk' ", want: []string{"nuke", "-x", "shot 010.nk"}},
		{line: `sh -c "echo a b"`, want: []string{"sh", "-c", "echo a b"}},
		{line: `touch shot\ 010.exr`, want: []string{"touch", "shot 010.exr"}},
		{line: `echo "say \"hi\""`, want: []string{"echo", `say "hi"`}},
		{line: "", err: true},
		{line: "   ", err: true},
		{line: "echo 'open", err: true},
	}
	for _, c := range cases {
		got, err := Parse(c.line)
		if c.err {
			require.Error(t, err, c.line)
			continue
		}
		require.NoError(t, err, c.line)
		require.Equal(t, c.want, got, c.line)
	}
}
