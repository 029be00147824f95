package jobq

import (
	"context"
	"sync"
	"time"

	"github.com/imagvfx/jobq/config"
	"github.com/imagvfx/jobq/events"
	"github.com/imagvfx/jobq/logger"
)

// Engine bundles what jobs need to run: the run limiter, the monitor,
// the queue and the event bus.
type Engine struct {
	Limiter *RunLimiter
	Monitor *Monitor
	Queue   *JobQueue
	Events  *events.Bus

	log logger.Logger

	mu       sync.Mutex
	settings config.Settings
}

// NewEngine creates a new Engine.
func NewEngine(s config.Settings, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		Limiter: NewRunLimiter(),
		Monitor: NewMonitor(log, s.MonitorInterval),
		Queue:   NewJobQueue(log, s.QueueStagger),
		Events:  events.NewBus(),
		log:     log,
	}
	e.Queue.SetEventBus(e.Events)
	e.Apply(s)
	return e
}

// Settings returns the settings the engine currently uses.
func (e *Engine) Settings() config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Apply retunes the engine with s.
// Jobs created before keep their stop grace and poll interval.
func (e *Engine) Apply(s config.Settings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	e.Monitor.SetInterval(s.MonitorInterval)
	e.Monitor.SetMaxRuntime(s.MaxThreadRuntime)
	e.Monitor.SetInterruptBlockers(s.InterruptBlockers)
	e.Queue.SetStagger(s.QueueStagger)
	if s.InterruptBlockers && s.MaxThreadRuntime > 0 {
		e.log.Warn("monitor will interrupt goroutines blocking others longer than %v", s.MaxThreadRuntime)
	}
}

// NewTask creates a task that runs through the engine's monitor.
func (e *Engine) NewTask(kind string, estimate time.Duration, work WorkFunc) *Task {
	t := NewTask(kind, estimate, work)
	t.SetMonitor(e.Monitor)
	t.SetLogger(e.log)
	e.Limiter.Bind(t)
	return t
}

// NewJob creates a job configured to run in the engine.
func (e *Engine) NewJob(prefix string, threads int) *Job {
	j := NewJob(prefix, threads)
	e.configure(j)
	return j
}

// NewJobWithID creates a job with id, configured to run in the engine.
func (e *Engine) NewJobWithID(id string, threads int) *Job {
	j := NewJobWithID(id, threads)
	e.configure(j)
	return j
}

func (e *Engine) configure(j *Job) {
	s := e.Settings()
	// a new job isn't started, so it cannot fail.
	j.Configure(JobConfig{
		Limiter:      e.Limiter,
		Monitor:      e.Monitor,
		Logger:       e.log,
		StopGrace:    s.StopGrace,
		SlavePollMin: s.SlavePollMin,
	})
}

// Run runs the monitor until ctx is done, then stops every unfinished job.
func (e *Engine) Run(ctx context.Context) {
	e.Monitor.Run(ctx)
	e.Queue.CancelAllJobs()
	e.Events.Close()
}
