package jobq

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// TaskRunInfo is the admission gate of a task kind.
// It caps how many tasks of the kind could be active at the same time.
type TaskRunInfo struct {
	kind string

	// max is the maximum number of active tasks. Unlimited when <= 0.
	max int64

	// exclusive makes the limit apply only to tasks of exactly this kind,
	// not to tasks of its descendant kinds.
	// It is changed holding both the limiter's lock and ri's lock,
	// so either of them is enough to read it.
	exclusive bool

	// active is number of tasks currently holding a slot.
	// It should only be changed with atomic operations.
	active int64

	sync.Mutex
	// freed is closed and replaced whenever a slot is released,
	// so every waiter can check again.
	freed chan struct{}
	// tasks are the active tasks, for diagnostics.
	tasks map[*Task]bool
}

func newTaskRunInfo(kind string, max int, exclusive bool) *TaskRunInfo {
	return &TaskRunInfo{
		kind:      kind,
		max:       int64(max),
		exclusive: exclusive,
		freed:     make(chan struct{}),
		tasks:     make(map[*Task]bool),
	}
}

// Kind returns the task kind the limit is configured for.
func (ri *TaskRunInfo) Kind() string {
	return ri.kind
}

// Max returns the configured limit. It is unlimited when <= 0.
func (ri *TaskRunInfo) Max() int {
	return int(atomic.LoadInt64(&ri.max))
}

// Exclusive reports whether the limit applies to the exact kind only.
func (ri *TaskRunInfo) Exclusive() bool {
	ri.Lock()
	defer ri.Unlock()
	return ri.exclusive
}

// ActiveCount returns number of tasks holding a slot.
func (ri *TaskRunInfo) ActiveCount() int {
	return int(atomic.LoadInt64(&ri.active))
}

// Active returns ids of tasks holding a slot, sorted.
func (ri *TaskRunInfo) Active() []string {
	ri.Lock()
	defer ri.Unlock()
	ids := make([]string, 0, len(ri.tasks))
	for t := range ri.tasks {
		ids = append(ids, t.ID())
	}
	sort.Strings(ids)
	return ids
}

// tryActivate claims a slot if one is free.
func (ri *TaskRunInfo) tryActivate() bool {
	for {
		n := atomic.LoadInt64(&ri.active)
		max := atomic.LoadInt64(&ri.max)
		if max > 0 && n >= max {
			return false
		}
		if atomic.CompareAndSwapInt64(&ri.active, n, n+1) {
			return true
		}
	}
}

// activate waits until it claims a slot for t, or ctx is done.
// It calls onWait once, before it starts to wait.
func (ri *TaskRunInfo) activate(ctx context.Context, t *Task, onWait func()) error {
	waited := false
	for {
		// get the channel before checking the count,
		// or a release between the two could be missed.
		ri.Lock()
		freed := ri.freed
		ri.Unlock()
		if ri.tryActivate() {
			ri.Lock()
			ri.tasks[t] = true
			ri.Unlock()
			return nil
		}
		if !waited {
			waited = true
			if onWait != nil {
				onWait()
			}
		}
		select {
		case <-freed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// deactivate releases the slot held by t.
func (ri *TaskRunInfo) deactivate(t *Task) {
	ri.Lock()
	if !ri.tasks[t] {
		ri.Unlock()
		return
	}
	delete(ri.tasks, t)
	atomic.AddInt64(&ri.active, -1)
	close(ri.freed)
	ri.freed = make(chan struct{})
	ri.Unlock()
}

// setMax changes the limit. Waiters are woken up to check the new limit.
func (ri *TaskRunInfo) setMax(max int) {
	atomic.StoreInt64(&ri.max, int64(max))
	ri.Lock()
	close(ri.freed)
	ri.freed = make(chan struct{})
	ri.Unlock()
}

// RunLimiter is a policy table of task kinds.
//
// Kinds form a hierarchy with Register. A limit set with SetLimit applies
// to the kind and, unless it is exclusive, to all of its descendants.
// A task without any limit in its ancestry runs immediately.
type RunLimiter struct {
	sync.Mutex
	parent map[string]string
	info   map[string]*TaskRunInfo
}

// NewRunLimiter creates a new RunLimiter.
func NewRunLimiter() *RunLimiter {
	return &RunLimiter{
		parent: make(map[string]string),
		info:   make(map[string]*TaskRunInfo),
	}
}

// Register declares kind as a child of parent.
// An empty parent makes kind a root kind.
func (l *RunLimiter) Register(kind, parent string) error {
	if kind == "" {
		return fmt.Errorf("empty task kind")
	}
	l.Lock()
	defer l.Unlock()
	// prevent cycles, they would make resolve loop forever.
	for p := parent; p != ""; p = l.parent[p] {
		if p == kind {
			return fmt.Errorf("task kind %q cannot be a descendant of itself", kind)
		}
	}
	if parent == "" {
		delete(l.parent, kind)
		return nil
	}
	l.parent[kind] = parent
	return nil
}

// SetLimit sets maximum number of active tasks of kind.
// max <= 0 means unlimited. When exclusive is true, the limit applies
// only to tasks of exactly the kind.
func (l *RunLimiter) SetLimit(kind string, max int, exclusive bool) {
	l.Lock()
	defer l.Unlock()
	ri, ok := l.info[kind]
	if !ok {
		l.info[kind] = newTaskRunInfo(kind, max, exclusive)
		return
	}
	ri.Lock()
	ri.exclusive = exclusive
	ri.Unlock()
	ri.setMax(max)
}

// Info returns the TaskRunInfo configured for exactly kind, or nil.
func (l *RunLimiter) Info(kind string) *TaskRunInfo {
	l.Lock()
	defer l.Unlock()
	return l.info[kind]
}

// Resolve finds the TaskRunInfo that applies to tasks of kind.
// It walks from kind up through its ancestors, and takes the first one
// that has a limit. An exclusive limit of an ancestor is passed over.
// It returns nil when no limit applies.
func (l *RunLimiter) Resolve(kind string) *TaskRunInfo {
	l.Lock()
	defer l.Unlock()
	for k := kind; k != ""; k = l.parent[k] {
		ri, ok := l.info[k]
		if !ok {
			continue
		}
		if ri.exclusive && k != kind {
			continue
		}
		return ri
	}
	return nil
}

// Bind resolves the limit for t's kind and attaches it to t.
// It should be called before the task starts.
func (l *RunLimiter) Bind(t *Task) {
	ri := l.Resolve(t.Kind())
	t.Lock()
	t.runInfo = ri
	t.Unlock()
}
