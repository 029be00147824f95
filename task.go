package jobq

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/imagvfx/jobq/logger"
	"github.com/rs/xid"
)

// TaskStatus is a task status.
type TaskStatus int

const (
	TaskNotRunning = TaskStatus(iota)
	TaskWaiting
	TaskRunning
	TaskDone
	TaskErrored
	TaskInterrupted
)

// String represents TaskStatus as string.
func (s TaskStatus) String() string {
	return map[TaskStatus]string{
		TaskNotRunning:  "not running",
		TaskWaiting:     "waiting",
		TaskRunning:     "running",
		TaskDone:        "done",
		TaskErrored:     "errored",
		TaskInterrupted: "interrupted",
	}[s]
}

// Finished reports whether the status is a terminal one.
func (s TaskStatus) Finished() bool {
	return s == TaskDone || s == TaskErrored || s == TaskInterrupted
}

// Reporter is handed to a WorkFunc to report how the work goes.
type Reporter interface {
	// ReportProgress reports fractional completion of the work.
	// It is clamped to [0.01, 1], so a running task never reports 0.
	ReportProgress(fraction float64)

	// ReportStatus reports a human readable status.
	ReportStatus(msg string)

	// ReportRuntime reports a revised estimate of the remaining runtime.
	ReportRuntime(remaining time.Duration)
}

// WorkFunc is the work of a task. It should return soon after ctx is done.
type WorkFunc func(ctx context.Context, r Reporter) (interface{}, error)

// TaskListener listens events of tasks.
//
// Methods are called synchronously from the goroutine that produced the event,
// without holding the task's lock. They should not block.
type TaskListener interface {
	TaskDone(t *Task)
	// TaskInterrupted is called for both errored and interrupted tasks.
	// Check t.Errored to tell them apart.
	TaskInterrupted(t *Task)
	ProgressUpdate(taskID string, fraction float64)
	StatusUpdate(taskID string, msg string)
	RuntimeUpdate(taskID string, remaining time.Duration)
}

// TaskListenerFuncs is a TaskListener made of optional functions.
type TaskListenerFuncs struct {
	OnDone        func(t *Task)
	OnInterrupted func(t *Task)
	OnProgress    func(taskID string, fraction float64)
	OnStatus      func(taskID string, msg string)
	OnRuntime     func(taskID string, remaining time.Duration)
}

func (f *TaskListenerFuncs) TaskDone(t *Task) {
	if f.OnDone != nil {
		f.OnDone(t)
	}
}

func (f *TaskListenerFuncs) TaskInterrupted(t *Task) {
	if f.OnInterrupted != nil {
		f.OnInterrupted(t)
	}
}

func (f *TaskListenerFuncs) ProgressUpdate(id string, fraction float64) {
	if f.OnProgress != nil {
		f.OnProgress(id, fraction)
	}
}

func (f *TaskListenerFuncs) StatusUpdate(id string, msg string) {
	if f.OnStatus != nil {
		f.OnStatus(id, msg)
	}
}

func (f *TaskListenerFuncs) RuntimeUpdate(id string, remaining time.Duration) {
	if f.OnRuntime != nil {
		f.OnRuntime(id, remaining)
	}
}

// Task is a unit of work that runs on its own goroutine.
//
// A Task moves only forward through its statuses.
// Once it is finished, it cannot be started again.
type Task struct {
	sync.Mutex

	// NOTE: id, kind and work are read-only after NewTask.
	id   string
	kind string
	work WorkFunc

	// estimate is the estimated processing time of the task.
	// It could be changed while the task is running.
	estimate time.Duration

	status    TaskStatus
	result    interface{}
	err       error
	progress  float64
	message   string
	remaining time.Duration
	startTime time.Time
	endTime   time.Time

	// next is started when the task is done.
	next *Task

	listeners []TaskListener

	// runInfo is the admission gate bound by a RunLimiter. nil means no limit.
	runInfo *TaskRunInfo
	monitor *Monitor
	thread  *ThreadVar
	log     logger.Logger

	started  bool
	notified bool
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewTask creates a new task of kind.
// The task's id is the kind followed by a unique suffix.
func NewTask(kind string, estimate time.Duration, work WorkFunc) *Task {
	if kind == "" {
		kind = "task"
	}
	id := kind + "-" + xid.New().String()
	return &Task{
		id:        id,
		kind:      kind,
		work:      work,
		estimate:  estimate,
		remaining: estimate,
		log:       logger.Nop().WithTask(id),
		finished:  make(chan struct{}),
	}
}

// ID returns the task's id.
func (t *Task) ID() string {
	return t.id
}

// Kind returns the kind tag of the task, used to find its run limit.
func (t *Task) Kind() string {
	return t.kind
}

// SetMonitor makes the task start its goroutine through m.
func (t *Task) SetMonitor(m *Monitor) {
	t.Lock()
	defer t.Unlock()
	t.monitor = m
}

// SetLogger sets the logger of the task. It should be called before Start.
func (t *Task) SetLogger(l logger.Logger) {
	t.Lock()
	defer t.Unlock()
	t.log = l.WithTask(t.id)
}

// Status returns the task's status.
func (t *Task) Status() TaskStatus {
	t.Lock()
	defer t.Unlock()
	return t.status
}

// Errored reports whether the task ended with a fault.
func (t *Task) Errored() bool {
	return t.Status() == TaskErrored
}

// Interrupted reports whether the task ended by cancellation.
func (t *Task) Interrupted() bool {
	return t.Status() == TaskInterrupted
}

// Err returns the fault of the task. It is a *TaskError, or nil.
func (t *Task) Err() error {
	t.Lock()
	defer t.Unlock()
	return t.err
}

// Result returns what the work function returned, when the task is done.
func (t *Task) Result() interface{} {
	t.Lock()
	defer t.Unlock()
	return t.result
}

// Estimate returns the estimated processing time.
func (t *Task) Estimate() time.Duration {
	t.Lock()
	defer t.Unlock()
	return t.estimate
}

// SetEstimate changes the estimated processing time.
func (t *Task) SetEstimate(d time.Duration) {
	t.Lock()
	defer t.Unlock()
	t.estimate = d
}

// Progress returns the last reported fraction of completion.
func (t *Task) Progress() float64 {
	t.Lock()
	defer t.Unlock()
	return t.progress
}

// Message returns the last reported status message.
func (t *Task) Message() string {
	t.Lock()
	defer t.Unlock()
	return t.message
}

// Remaining returns the last reported remaining runtime.
// It is the estimate until the work reports one.
func (t *Task) Remaining() time.Duration {
	t.Lock()
	defer t.Unlock()
	return t.remaining
}

// Elapsed returns how long the work function has been running.
func (t *Task) Elapsed() time.Duration {
	t.Lock()
	defer t.Unlock()
	if t.startTime.IsZero() {
		return 0
	}
	if t.endTime.IsZero() {
		return time.Since(t.startTime)
	}
	return t.endTime.Sub(t.startTime)
}

// Finished returns a channel that is closed when the task's goroutine
// has exited, or when the task is interrupted before it started.
func (t *Task) Finished() <-chan struct{} {
	return t.finished
}

// Wait waits until the task is finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.finished:
		return nil
	default:
	}
	select {
	case <-t.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the successor of the task.
func (t *Task) Next() *Task {
	t.Lock()
	defer t.Unlock()
	return t.next
}

// SetNext sets the successor of the task, which starts when the task is done.
// Listeners of the task are also added to the successor.
func (t *Task) SetNext(n *Task) {
	t.Lock()
	t.next = n
	listeners := append([]TaskListener(nil), t.listeners...)
	t.Unlock()
	if n == nil {
		return
	}
	for _, l := range listeners {
		n.AddListener(l)
	}
}

// AddListener adds a listener to the task and its successors.
// A listener is added only once.
func (t *Task) AddListener(l TaskListener) {
	for c := t; c != nil; c = c.Next() {
		c.Lock()
		has := false
		for _, old := range c.listeners {
			if old == l {
				has = true
				break
			}
		}
		if !has {
			c.listeners = append(c.listeners, l)
		}
		c.Unlock()
	}
}

// RemoveListener removes a listener from the task and its successors.
func (t *Task) RemoveListener(l TaskListener) {
	for c := t; c != nil; c = c.Next() {
		c.Lock()
		for i, old := range c.listeners {
			if old == l {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				break
			}
		}
		c.Unlock()
	}
}

func (t *Task) listenersCopy() []TaskListener {
	t.Lock()
	defer t.Unlock()
	return append([]TaskListener(nil), t.listeners...)
}

// ReportProgress implements Reporter.
func (t *Task) ReportProgress(fraction float64) {
	if fraction < 0.01 {
		fraction = 0.01
	}
	if fraction > 1 {
		fraction = 1
	}
	t.Lock()
	t.progress = fraction
	t.Unlock()
	for _, l := range t.listenersCopy() {
		l.ProgressUpdate(t.id, fraction)
	}
}

// ReportStatus implements Reporter.
func (t *Task) ReportStatus(msg string) {
	t.Lock()
	t.message = msg
	t.Unlock()
	for _, l := range t.listenersCopy() {
		l.StatusUpdate(t.id, msg)
	}
}

// ReportRuntime implements Reporter.
func (t *Task) ReportRuntime(remaining time.Duration) {
	if remaining < 0 {
		remaining = 0
	}
	t.Lock()
	t.remaining = remaining
	t.Unlock()
	for _, l := range t.listenersCopy() {
		l.RuntimeUpdate(t.id, remaining)
	}
}

// Start starts the task on a new goroutine.
// The goroutine waits for a slot of the task's run limit, if there is one,
// then calls the work function once.
func (t *Task) Start() error {
	t.Lock()
	if t.status.Finished() {
		t.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskFinished, t.id)
	}
	if t.started {
		t.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskStarted, t.id)
	}
	t.started = true
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	m := t.monitor
	ri := t.runInfo
	t.Unlock()

	if m != nil {
		tv := m.Go("task "+t.id, cancel, func() { t.run(ctx, ri) })
		t.Lock()
		t.thread = tv
		t.Unlock()
		return nil
	}
	go t.run(ctx, ri)
	return nil
}

// run is the body of the task's goroutine.
func (t *Task) run(ctx context.Context, ri *TaskRunInfo) {
	defer close(t.finished)

	if ri != nil {
		err := ri.activate(ctx, t, func() {
			t.Lock()
			if t.status == TaskNotRunning {
				t.status = TaskWaiting
			}
			t.Unlock()
			t.log.Debug("waiting for a slot of %s", ri.Kind())
		})
		if err != nil {
			t.finish(nil, err, ctx)
			return
		}
	}

	t.Lock()
	if t.status.Finished() {
		t.Unlock()
		if ri != nil {
			ri.deactivate(t)
		}
		t.finish(nil, nil, ctx)
		return
	}
	t.status = TaskRunning
	t.startTime = time.Now()
	t.Unlock()
	t.log.Debug("running")

	res, err := t.call(ctx)
	if ri != nil {
		ri.deactivate(t)
	}
	t.finish(res, err, ctx)
}

// call calls the work function and recovers it from a panic.
func (t *Task) call(ctx context.Context) (res interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{
				TaskID: t.id,
				Kind:   t.kind,
				Err:    fmt.Errorf("panic: %v", r),
				Stack:  debug.Stack(),
			}
		}
	}()
	if t.work == nil {
		return nil, nil
	}
	return t.work(ctx, t)
}

// finish sets the final status of a started task, and notifies listeners.
func (t *Task) finish(res interface{}, err error, ctx context.Context) {
	t.Lock()
	t.endTime = time.Now()
	switch {
	case t.status == TaskInterrupted:
	case err != nil && ctx.Err() != nil:
		t.status = TaskInterrupted
	case err != nil:
		t.status = TaskErrored
		terr, ok := err.(*TaskError)
		if !ok {
			terr = &TaskError{TaskID: t.id, Kind: t.kind, Err: err}
		}
		t.err = terr
	default:
		t.status = TaskDone
		t.result = res
		t.progress = 1
		t.remaining = 0
	}
	status := t.status
	next := t.next
	cancel := t.cancel
	t.Unlock()
	// release the context, the task is over.
	cancel()

	switch status {
	case TaskDone:
		t.log.Debug("done")
	case TaskErrored:
		t.log.Warn("errored: %v", t.Err())
	default:
		t.log.Debug("interrupted")
	}
	t.notifyFinished()
	if status == TaskDone && next != nil {
		if err := next.Start(); err != nil {
			t.log.Debug("next task not started: %v", err)
		}
	}
}

// notifyFinished calls TaskDone or TaskInterrupted on listeners, only once.
func (t *Task) notifyFinished() {
	t.Lock()
	if t.notified {
		t.Unlock()
		return
	}
	t.notified = true
	done := t.status == TaskDone
	t.Unlock()
	for _, l := range t.listenersCopy() {
		if done {
			l.TaskDone(t)
		} else {
			l.TaskInterrupted(t)
		}
	}
}

// Interrupt requests cancellation of the task.
// The task is Interrupted right away unless it is already finished.
// A running work function should return soon after its context is done.
// Interrupt is idempotent.
func (t *Task) Interrupt() {
	t.Lock()
	if t.status.Finished() {
		t.Unlock()
		return
	}
	t.status = TaskInterrupted
	started := t.started
	cancel := t.cancel
	tv := t.thread
	t.Unlock()
	t.log.Debug("interrupt requested")
	if tv != nil {
		tv.MarkInterrupted()
	}
	if cancel != nil {
		cancel()
	}
	if !started {
		// nothing will run, so it finishes here.
		t.Lock()
		t.started = true
		t.Unlock()
		close(t.finished)
		t.notifyFinished()
	}
}
