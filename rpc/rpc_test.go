package rpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/imagvfx/jobq"
	"github.com/imagvfx/jobq/config"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func setup(t *testing.T) (*jobq.Engine, *Client) {
	t.Helper()
	s := config.Defaults()
	s.QueueStagger = 0
	s.StopGrace = time.Second
	s.SlavePollMin = 20 * time.Millisecond
	e := jobq.NewEngine(s, nil)
	srv := NewServer(e, nil)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		srv.Serve(ctx, lis)
	}()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithInsecure(),
	)
	require.NoError(t, err)
	c := NewClient(conn)
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-served
		e.Queue.CancelAllJobs()
	})
	return e, c
}

func waitStatus(t *testing.T, c *Client, id string, want string) JobInfo {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := c.Status(context.Background(), id)
		require.NoError(t, err)
		if info.Status == want {
			return info
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: got %v, want %v", id, info.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitAndRun(t *testing.T) {
	_, c := setup(t)
	ctx := context.Background()
	id, err := c.Submit(ctx, Submission{
		ID:       "sh010",
		Threads:  2,
		Priority: 10,
		Alias:    "comp",
		Tasks: []TaskSpec{
			{Kind: "comp", Estimate: 1, Cmds: [][]string{{"true"}}},
			{Kind: "comp", Estimate: 3, Cmds: [][]string{{"echo", "frame 2"}, {"true"}}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "sh010", id)

	info, err := c.Status(ctx, "comp")
	require.NoError(t, err)
	require.Equal(t, "queued", info.Status)
	require.NotEmpty(t, info.Message)

	jobs, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 10.0, jobs[0].Priority)

	require.NoError(t, c.Run(ctx))
	info = waitStatus(t, c, id, "done")
	require.Equal(t, 1.0, info.Progress)
	require.Equal(t, 0.0, info.Remaining)

	log, err := c.Log(ctx, id)
	require.NoError(t, err)
	require.Contains(t, log, "running: echo frame 2")

	require.NoError(t, c.Remove(ctx, "comp"))
	_, err = c.Status(ctx, id)
	require.True(t, errors.Is(err, jobq.ErrNotFound), "%v", err)
}

func TestErrors(t *testing.T) {
	e, c := setup(t)
	ctx := context.Background()
	sub := Submission{ID: "a", Tasks: []TaskSpec{{Cmds: [][]string{{"sleep", "10"}}}}}
	_, err := c.Submit(ctx, sub)
	require.NoError(t, err)

	_, err = c.Submit(ctx, sub)
	require.True(t, errors.Is(err, jobq.ErrDuplicateID), "%v", err)

	_, err = c.Submit(ctx, Submission{ID: "b"})
	require.True(t, errors.Is(err, jobq.ErrEmptyJob), "%v", err)

	_, err = c.Submit(ctx, Submission{ID: "c", Tasks: []TaskSpec{{}}})
	require.Error(t, err)

	_, err = c.Submit(ctx, Submission{ID: "d", Masters: []string{"missing"}, Tasks: sub.Tasks})
	require.True(t, errors.Is(err, jobq.ErrNotFound), "%v", err)

	_, err = c.Log(ctx, "missing")
	require.True(t, errors.Is(err, jobq.ErrNotFound), "%v", err)

	require.NoError(t, c.Run(ctx))
	waitStatus(t, c, "a", "running")
	err = c.Remove(ctx, "a")
	require.True(t, errors.Is(err, jobq.ErrJobNotFinished), "%v", err)

	require.NoError(t, c.Cancel(ctx, "a"))
	waitStatus(t, c, "a", "stopped")
	j, err := e.Queue.Job("a")
	require.NoError(t, err)
	require.Equal(t, jobq.TaskInterrupted, j.Tasks()[0].Status())
}

func TestProcessAndMasters(t *testing.T) {
	_, c := setup(t)
	ctx := context.Background()
	work := []TaskSpec{{Cmds: [][]string{{"true"}}}}
	_, err := c.Submit(ctx, Submission{ID: "sim", Priority: 2, Tasks: work})
	require.NoError(t, err)
	_, err = c.Submit(ctx, Submission{
		ID:         "render",
		Priority:   1,
		Masters:    []string{"sim"},
		MustFinish: true,
		Tasks:      work,
	})
	require.NoError(t, err)
	require.NoError(t, c.RegisterProcess(ctx, "shot", "sim", "render"))
	require.NoError(t, c.Alias(ctx, "sh010", "shot"))
	err = c.Alias(ctx, "sim", "shot")
	require.True(t, errors.Is(err, jobq.ErrDuplicateID), "%v", err)

	info, err := c.Status(ctx, "sh010")
	require.NoError(t, err)
	require.Equal(t, "queued", info.Status)

	require.NoError(t, c.Run(ctx))
	info = waitStatus(t, c, "sh010", "done")
	require.Equal(t, 1.0, info.Progress)

	log, err := c.Log(ctx, "shot")
	require.NoError(t, err)
	require.True(t, strings.Contains(log, "== sim ==") && strings.Contains(log, "== render =="))
}

func TestCancelAll(t *testing.T) {
	_, c := setup(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := c.Submit(ctx, Submission{ID: id, Tasks: []TaskSpec{{Cmds: [][]string{{"sleep", "10"}}}}})
		require.NoError(t, err)
	}
	require.NoError(t, c.CancelAll(ctx))
	waitStatus(t, c, "a", "stopped")
	waitStatus(t, c, "b", "stopped")
}

func TestSubmitAliasTaken(t *testing.T) {
	e, c := setup(t)
	ctx := context.Background()
	work := []TaskSpec{{Cmds: [][]string{{"true"}}}}
	_, err := c.Submit(ctx, Submission{ID: "a", Alias: "shot", Tasks: work})
	require.NoError(t, err)

	for _, alias := range []string{"shot", "a"} {
		_, err = c.Submit(ctx, Submission{ID: "b", Alias: alias, Tasks: work})
		require.True(t, errors.Is(err, jobq.ErrDuplicateID), "%v", err)
		_, err = e.Queue.Job("b")
		require.True(t, errors.Is(err, jobq.ErrNotFound), "b shouldn't be queued: %v", err)
	}
	_, err = c.Submit(ctx, Submission{ID: "b", Alias: "b", Tasks: work})
	require.Error(t, err)

	// the id is free again.
	_, err = c.Submit(ctx, Submission{ID: "b", Alias: "shot2", Tasks: work})
	require.NoError(t, err)
}

func TestWithdraw(t *testing.T) {
	s := config.Defaults()
	s.StopGrace = time.Second
	e := jobq.NewEngine(s, nil)
	srv := NewServer(e, nil)
	j := e.NewJobWithID("a", 1)
	require.NoError(t, j.AddTask(e.NewTask("", 0, jobq.StepWork(1, time.Millisecond))))
	require.NoError(t, e.Queue.QueueJob(j, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.withdraw(ctx, j)
	require.Equal(t, jobq.JobStopped, j.Status())
	_, err := e.Queue.Job("a")
	require.True(t, errors.Is(err, jobq.ErrNotFound), "%v", err)
}
