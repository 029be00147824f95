package jobq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunLimiterResolve(t *testing.T) {
	l := NewRunLimiter()
	l.Register("render", "")
	l.Register("render.gpu", "render")
	l.Register("render.gpu.denoise", "render.gpu")
	l.Register("sim", "")
	l.SetLimit("render", 4, false)
	l.SetLimit("render.gpu", 1, true)

	cases := []struct {
		kind string
		want string
	}{
		{kind: "render", want: "render"},
		// exact kind uses its own exclusive limit.
		{kind: "render.gpu", want: "render.gpu"},
		// exclusive limit of the parent is passed over.
		{kind: "render.gpu.denoise", want: "render"},
		{kind: "sim", want: ""},
		{kind: "unregistered", want: ""},
	}
	for _, c := range cases {
		ri := l.Resolve(c.kind)
		got := ""
		if ri != nil {
			got = ri.Kind()
		}
		if got != c.want {
			t.Fatalf("%s: got %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestRunLimiterRegisterCycle(t *testing.T) {
	l := NewRunLimiter()
	if err := l.Register("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := l.Register("b", "a"); err == nil {
		t.Fatalf("cycle should be refused")
	}
	if err := l.Register("", "a"); err == nil {
		t.Fatalf("empty kind should be refused")
	}
}

func TestTaskRunInfoLimit(t *testing.T) {
	l := NewRunLimiter()
	l.SetLimit("encode", 2, false)

	var active, peak int64
	var mu sync.Mutex
	sampled := []int{}
	work := func(ctx context.Context, r Reporter) (interface{}, error) {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return nil, nil
	}
	tasks := make([]*Task, 10)
	for i := range tasks {
		tasks[i] = NewTask("encode", 0, work)
		l.Bind(tasks[i])
	}
	ri := l.Info("encode")
	stop := make(chan struct{})
	sampler := make(chan struct{})
	go func() {
		defer close(sampler)
		for {
			select {
			case <-stop:
				return
			default:
			}
			mu.Lock()
			sampled = append(sampled, ri.ActiveCount())
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}
	}()
	for _, tk := range tasks {
		if err := tk.Start(); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, tk := range tasks {
		if err := tk.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	<-sampler

	if err := ShouldHaveTaskStatus(tasks, []TaskStatus{
		TaskDone, TaskDone, TaskDone, TaskDone, TaskDone,
		TaskDone, TaskDone, TaskDone, TaskDone, TaskDone,
	}); err != nil {
		t.Fatal(err)
	}
	if p := atomic.LoadInt64(&peak); p > 2 {
		t.Fatalf("peak active: got %v, want <= 2", p)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, n := range sampled {
		if n > 2 {
			t.Fatalf("sampled active count %v exceeds the limit", n)
		}
	}
	if ri.ActiveCount() != 0 {
		t.Fatalf("active count after all done: %v", ri.ActiveCount())
	}
}

func TestTaskRunInfoWaitInterrupted(t *testing.T) {
	l := NewRunLimiter()
	l.SetLimit("io", 1, false)
	first := NewTask("io", 0, BlockWork())
	second := NewTask("io", 0, StepWork(1, time.Millisecond))
	l.Bind(first)
	l.Bind(second)
	started := make(chan struct{})
	first.AddListener(&TaskListenerFuncs{
		OnProgress: func(string, float64) { close(started) },
	})
	first.Start()
	<-started
	second.Start()

	deadline := time.Now().Add(2 * time.Second)
	for second.Status() != TaskWaiting {
		if time.Now().After(deadline) {
			t.Fatalf("second task should wait for a slot, got %v", second.Status())
		}
		time.Sleep(time.Millisecond)
	}
	if got := l.Info("io").Active(); len(got) != 1 || got[0] != first.ID() {
		t.Fatalf("active: got %v, want [%v]", got, first.ID())
	}
	second.Interrupt()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := second.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if second.Status() != TaskInterrupted {
		t.Fatalf("got %v, want %v", second.Status(), TaskInterrupted)
	}
	first.Interrupt()
	first.Wait(ctx)
	if n := l.Info("io").ActiveCount(); n != 0 {
		t.Fatalf("active count: got %v, want 0", n)
	}
}

func TestTaskRunInfoRaiseLimit(t *testing.T) {
	l := NewRunLimiter()
	l.SetLimit("io", 1, false)
	a := NewTask("io", 0, BlockWork())
	b := NewTask("io", 0, StepWork(1, time.Millisecond))
	l.Bind(a)
	l.Bind(b)
	started := make(chan struct{})
	a.AddListener(&TaskListenerFuncs{
		OnProgress: func(string, float64) { close(started) },
	})
	a.Start()
	<-started
	b.Start()
	deadline := time.Now().Add(2 * time.Second)
	for b.Status() != TaskWaiting {
		if time.Now().After(deadline) {
			t.Fatalf("b should wait, got %v", b.Status())
		}
		time.Sleep(time.Millisecond)
	}
	// raising the limit should let the waiting task run.
	l.SetLimit("io", 2, false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Status() != TaskDone {
		t.Fatalf("got %v, want %v", b.Status(), TaskDone)
	}
	a.Interrupt()
}

func TestRunLimiterSetLimitWhileRead(t *testing.T) {
	l := NewRunLimiter()
	l.Register("render", "")
	l.Register("render.gpu", "render")
	l.SetLimit("render", 2, false)
	ri := l.Info("render")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			l.SetLimit("render", 2, i%2 == 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			ri.Exclusive()
			ri.Max()
			l.Resolve("render.gpu")
		}
	}()
	wg.Wait()

	l.SetLimit("render", 3, true)
	if !ri.Exclusive() || ri.Max() != 3 {
		t.Fatalf("got exclusive %v max %v, want true 3", ri.Exclusive(), ri.Max())
	}
	if got := l.Resolve("render.gpu"); got != nil {
		t.Fatalf("exclusive parent limit shouldn't apply to render.gpu, got %v", got.Kind())
	}
}
