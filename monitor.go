package jobq

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/imagvfx/jobq/lib/gstack"
	"github.com/imagvfx/jobq/logger"
	"golang.org/x/time/rate"
)

// ThreadStatus is a derived status of a goroutine started by the engine.
type ThreadStatus int

const (
	ThreadUnknown = ThreadStatus(iota)
	ThreadAlive
	ThreadDying
	ThreadZombie
	ThreadDead
)

// String represents ThreadStatus as string.
func (s ThreadStatus) String() string {
	return map[ThreadStatus]string{
		ThreadUnknown: "UNKNOWN",
		ThreadAlive:   "ALIVE",
		ThreadDying:   "DYING",
		ThreadZombie:  "ZOMBIE",
		ThreadDead:    "DEAD",
	}[s]
}

// ThreadVar is a goroutine started through a Monitor.
type ThreadVar struct {
	sync.Mutex

	name  string
	gid   uint64
	start time.Time
	// grace is how long an interrupted goroutine is DYING before it is a ZOMBIE.
	grace         time.Duration
	interruptedAt time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

// Name returns the name given to Monitor.Go.
func (tv *ThreadVar) Name() string {
	return tv.name
}

// ID returns the goroutine id, or 0 when the goroutine hasn't started yet.
func (tv *ThreadVar) ID() uint64 {
	tv.Lock()
	defer tv.Unlock()
	return tv.gid
}

// Runtime returns how long the goroutine has been running.
func (tv *ThreadVar) Runtime() time.Duration {
	tv.Lock()
	defer tv.Unlock()
	if tv.start.IsZero() {
		return 0
	}
	return time.Since(tv.start)
}

// Done returns a channel that is closed when the goroutine exits.
func (tv *ThreadVar) Done() <-chan struct{} {
	return tv.done
}

// MarkInterrupted records that the goroutine was asked to stop.
func (tv *ThreadVar) MarkInterrupted() {
	tv.Lock()
	defer tv.Unlock()
	if tv.interruptedAt.IsZero() {
		tv.interruptedAt = time.Now()
	}
}

// Interrupt marks the goroutine interrupted and cancels its context.
func (tv *ThreadVar) Interrupt() {
	tv.MarkInterrupted()
	if tv.cancel != nil {
		tv.cancel()
	}
}

// Status returns the derived status of the goroutine.
func (tv *ThreadVar) Status() ThreadStatus {
	select {
	case <-tv.done:
		return ThreadDead
	default:
	}
	tv.Lock()
	defer tv.Unlock()
	if tv.gid == 0 {
		return ThreadUnknown
	}
	if tv.interruptedAt.IsZero() {
		return ThreadAlive
	}
	if time.Since(tv.interruptedAt) <= tv.grace {
		return ThreadDying
	}
	return ThreadZombie
}

// BlockedThread is a tracked goroutine found waiting for a lock.
type BlockedThread struct {
	Thread *ThreadVar
	// WaitFunc is the function that waits for the lock.
	WaitFunc string
	// Blocker is the goroutine presumed to hold the lock, or nil.
	Blocker *ThreadVar
	Stack   string
	// BlockerStack is empty when Blocker is nil.
	BlockerStack string
}

// ScanReport is the result of one monitor pass.
type ScanReport struct {
	Evicted     int
	Blocked     []BlockedThread
	Cycles      [][]uint64
	Interrupted []*ThreadVar
}

// Monitor keeps track of every goroutine the engine starts.
// It periodically looks for goroutines blocked on a lock, guesses which
// goroutine blocks them, and searches for deadlock cycles.
// It only logs what it finds, unless interrupting blockers is enabled.
type Monitor struct {
	sync.Mutex

	interval time.Duration
	// maxRuntime is the runtime ceiling of a presumed blocker.
	// Zero means no ceiling, which also disables interruption.
	maxRuntime        time.Duration
	interruptBlockers bool

	threads map[*ThreadVar]bool
	log     logger.Logger

	// stackLog limits how often full stacks are logged.
	stackLog *rate.Limiter
	// retune wakes up Run when the interval is changed.
	retune chan struct{}
	// dump is replaced in tests.
	dump func() []byte
}

// NewMonitor creates a new Monitor that scans every interval.
func NewMonitor(log logger.Logger, interval time.Duration) *Monitor {
	if log == nil {
		log = logger.Nop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		interval: interval,
		threads:  make(map[*ThreadVar]bool),
		log:      log,
		stackLog: rate.NewLimiter(rate.Every(time.Minute), 4),
		retune:   make(chan struct{}, 1),
		dump:     gstack.Dump,
	}
}

// SetInterval changes the scan interval.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.Lock()
	m.interval = d
	m.Unlock()
	select {
	case m.retune <- struct{}{}:
	default:
	}
}

// SetMaxRuntime sets the runtime ceiling of presumed blockers.
func (m *Monitor) SetMaxRuntime(d time.Duration) {
	m.Lock()
	defer m.Unlock()
	m.maxRuntime = d
}

// SetInterruptBlockers enables interrupting presumed blockers that ran
// longer than the runtime ceiling. It has no effect without a ceiling.
func (m *Monitor) SetInterruptBlockers(b bool) {
	m.Lock()
	defer m.Unlock()
	m.interruptBlockers = b
}

// Go starts fn on a new goroutine and tracks it.
// cancel is called when the goroutine is interrupted, it could be nil.
func (m *Monitor) Go(name string, cancel context.CancelFunc, fn func()) *ThreadVar {
	m.Lock()
	tv := &ThreadVar{
		name:   name,
		grace:  m.interval,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.threads[tv] = true
	m.Unlock()
	go func() {
		defer close(tv.done)
		tv.Lock()
		tv.gid = gstack.CurrentID()
		tv.start = time.Now()
		tv.Unlock()
		fn()
	}()
	return tv
}

// Threads returns tracked goroutines ordered by goroutine id.
func (m *Monitor) Threads() []*ThreadVar {
	m.Lock()
	tvs := make([]*ThreadVar, 0, len(m.threads))
	for tv := range m.threads {
		tvs = append(tvs, tv)
	}
	m.Unlock()
	sort.Slice(tvs, func(i, j int) bool {
		return tvs[i].ID() < tvs[j].ID()
	})
	return tvs
}

// Run scans every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	for {
		m.Lock()
		d := m.interval
		m.Unlock()
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.retune:
			timer.Stop()
			continue
		case <-timer.C:
		}
		m.Scan()
	}
}

// Scan makes a single pass over tracked goroutines.
func (m *Monitor) Scan() ScanReport {
	m.Lock()
	maxRuntime := m.maxRuntime
	escalate := m.interruptBlockers && maxRuntime > 0
	m.Unlock()

	gs := gstack.Parse(m.dump())
	report := analyze(m.Threads(), gs, maxRuntime)

	m.Lock()
	for tv := range m.threads {
		if tv.Status() == ThreadDead {
			delete(m.threads, tv)
		}
	}
	m.Unlock()

	for _, b := range report.Blocked {
		if b.Blocker == nil {
			m.log.Warn("%s (goroutine %d) is blocked in %s, blocker not found", b.Thread.Name(), b.Thread.ID(), b.WaitFunc)
		} else {
			m.log.Warn("%s (goroutine %d) is blocked in %s, presumably by %s (goroutine %d, running %v)",
				b.Thread.Name(), b.Thread.ID(), b.WaitFunc, b.Blocker.Name(), b.Blocker.ID(), b.Blocker.Runtime().Round(time.Second))
		}
		if m.stackLog.Allow() {
			m.log.Info("blocked stack:\n%s", b.Stack)
			if b.BlockerStack != "" {
				m.log.Info("blocking stack:\n%s", b.BlockerStack)
			}
		}
		if escalate && b.Blocker != nil && b.Blocker.Status() == ThreadAlive {
			m.log.Warn("interrupting %s (goroutine %d), it ran longer than %v while blocking others", b.Blocker.Name(), b.Blocker.ID(), maxRuntime)
			b.Blocker.Interrupt()
			report.Interrupted = append(report.Interrupted, b.Blocker)
		}
	}
	for _, c := range report.Cycles {
		funcs := make([]string, 0, len(c))
		for _, id := range c {
			if g := gs[id]; g != nil {
				funcs = append(funcs, g.WaitFunc())
			}
		}
		m.log.Severe("deadlock detected: goroutines %v waiting on each other in %s", c, strings.Join(funcs, " -> "))
	}
	return report
}

// analyze finds dead, blocked and deadlocked goroutines.
// It doesn't change anything.
func analyze(threads []*ThreadVar, gs map[uint64]*gstack.Goroutine, maxRuntime time.Duration) ScanReport {
	var report ScanReport
	tracked := make(map[uint64]*ThreadVar)
	for _, tv := range threads {
		if tv.Status() == ThreadDead {
			report.Evicted++
			continue
		}
		id := tv.ID()
		if id == 0 {
			continue
		}
		tracked[id] = tv
	}
	ids := make([]uint64, 0, len(tracked))
	for id := range tracked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		g := gs[id]
		if g == nil || !g.Blocked() {
			continue
		}
		b := BlockedThread{
			Thread:   tracked[id],
			WaitFunc: g.WaitFunc(),
			Stack:    g.Raw,
		}
		if b.WaitFunc != "" {
			for _, oid := range ids {
				if oid == id {
					continue
				}
				o := gs[oid]
				if o == nil || o.Blocked() || !o.HasFunc(b.WaitFunc) {
					continue
				}
				if tracked[oid].Runtime() <= maxRuntime {
					continue
				}
				b.Blocker = tracked[oid]
				b.BlockerStack = o.Raw
				break
			}
		}
		report.Blocked = append(report.Blocked, b)
	}
	report.Cycles = findCycles(gs)
	return report
}

// findCycles finds cycles in the wait-for graph of blocked goroutines.
// A waits for B, when B is also blocked and B's stack has the function A waits in.
// Each cycle is reported once, starting from its smallest id.
func findCycles(gs map[uint64]*gstack.Goroutine) [][]uint64 {
	blocked := make([]uint64, 0)
	for id, g := range gs {
		if g.Blocked() && g.WaitFunc() != "" {
			blocked = append(blocked, id)
		}
	}
	sort.Slice(blocked, func(i, j int) bool { return blocked[i] < blocked[j] })
	edges := make(map[uint64][]uint64)
	for _, a := range blocked {
		fn := gs[a].WaitFunc()
		for _, b := range blocked {
			if a == b {
				continue
			}
			if gs[b].HasFunc(fn) && gs[b].WaitFunc() != fn {
				edges[a] = append(edges[a], b)
			}
		}
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[uint64]int)
	cycles := make([][]uint64, 0)
	seen := make(map[string]bool)
	var path []uint64
	var visit func(id uint64)
	visit = func(id uint64) {
		color[id] = gray
		path = append(path, id)
		for _, next := range edges[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				i := len(path) - 1
				for path[i] != next {
					i--
				}
				c := normalizeCycle(path[i:])
				key := cycleKey(c)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, c)
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
	}
	for _, id := range blocked {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// normalizeCycle rotates c to start from its smallest id.
func normalizeCycle(c []uint64) []uint64 {
	min := 0
	for i := range c {
		if c[i] < c[min] {
			min = i
		}
	}
	n := make([]uint64, 0, len(c))
	n = append(n, c[min:]...)
	n = append(n, c[:min]...)
	return n
}

func cycleKey(c []uint64) string {
	var b strings.Builder
	for _, id := range c {
		b.WriteString(strconv.FormatUint(id, 10))
		b.WriteByte(',')
	}
	return b.String()
}
