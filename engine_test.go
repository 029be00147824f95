package jobq

import (
	"context"
	"testing"
	"time"

	"github.com/imagvfx/jobq/config"
)

func TestEngineConfiguresJobs(t *testing.T) {
	s := config.Defaults()
	s.StopGrace = 2 * time.Second
	s.SlavePollMin = 30 * time.Millisecond
	e := NewEngine(s, nil)
	old := e.NewJobWithID("sh010", 1)
	if old.stopGrace != 2*time.Second || old.slavePollMin != 30*time.Millisecond {
		t.Fatalf("job isn't configured: %v %v", old.stopGrace, old.slavePollMin)
	}
	if old.limiter != e.Limiter || old.monitor != e.Monitor {
		t.Fatalf("job should use the engine's limiter and monitor")
	}

	s.StopGrace = time.Second
	s.QueueStagger = 10 * time.Millisecond
	s.MaxThreadRuntime = time.Minute
	e.Apply(s)
	if e.Settings() != s {
		t.Fatalf("settings are not applied")
	}
	if got := e.NewJob("sh", 1).stopGrace; got != time.Second {
		t.Fatalf("new job stop grace: got %v, want %v", got, time.Second)
	}
	if old.stopGrace != 2*time.Second {
		t.Fatalf("existing job shouldn't be retuned: %v", old.stopGrace)
	}
	e.Queue.groupsMu.Lock()
	stagger := e.Queue.stagger
	e.Queue.groupsMu.Unlock()
	if stagger != 10*time.Millisecond {
		t.Fatalf("stagger: got %v", stagger)
	}
	e.Monitor.Lock()
	maxRuntime := e.Monitor.maxRuntime
	e.Monitor.Unlock()
	if maxRuntime != time.Minute {
		t.Fatalf("max runtime: got %v", maxRuntime)
	}
}

func TestEngineNewTask(t *testing.T) {
	e := NewEngine(config.Defaults(), nil)
	e.Limiter.SetLimit("render", 1, false)
	tk := e.NewTask("render", time.Second, BlockWork())
	started := make(chan struct{})
	tk.AddListener(&TaskListenerFuncs{OnProgress: func(string, float64) { close(started) }})
	if err := tk.Start(); err != nil {
		t.Fatal(err)
	}
	<-started
	if n := e.Limiter.Info("render").ActiveCount(); n != 1 {
		t.Fatalf("task should hold a slot of its kind, got %v", n)
	}
	if n := len(e.Monitor.Threads()); n != 1 {
		t.Fatalf("task should run through the monitor, got %v threads", n)
	}
	tk.Interrupt()
	waitTask(t, tk)
}

func TestEngineRun(t *testing.T) {
	s := config.Defaults()
	s.StopGrace = time.Second
	e := NewEngine(s, nil)
	sub := e.Events.Subscribe(16)

	j := e.NewJobWithID("sh010", 1)
	if err := j.AddTask(e.NewTask("render", 0, BlockWork())); err != nil {
		t.Fatal(err)
	}
	if err := e.Queue.QueueJob(j, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.Queue.RunJobs(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for j.Status() != JobRunning {
		if time.Now().After(deadline) {
			t.Fatalf("job should run, got %v", j.Status())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	if err := j.Wait(wctx); err != nil {
		t.Fatal(err)
	}
	if j.Status() != JobStopped {
		t.Fatalf("got %v, want %v", j.Status(), JobStopped)
	}
	for range sub.C {
	}
}
