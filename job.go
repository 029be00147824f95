package jobq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/imagvfx/jobq/lib/container"
	"github.com/imagvfx/jobq/logger"
	"github.com/rs/xid"
)

// JobStatus is a job status.
type JobStatus int

const (
	JobUnknown = JobStatus(iota)
	JobQueued
	JobWaiting
	JobRunning
	JobDone
	JobStopped
	JobErrored
)

// String represents JobStatus as string.
func (s JobStatus) String() string {
	return map[JobStatus]string{
		JobUnknown: "unknown",
		JobQueued:  "queued",
		JobWaiting: "waiting",
		JobRunning: "running",
		JobDone:    "done",
		JobStopped: "stopped",
		JobErrored: "errored",
	}[s]
}

// Finished reports whether the status is a terminal one.
func (s JobStatus) Finished() bool {
	return s == JobDone || s == JobStopped || s == JobErrored
}

// InFlight reports whether a job of the status could be stopped.
func (s JobStatus) InFlight() bool {
	return s == JobQueued || s == JobWaiting || s == JobRunning
}

// rank orders statuses, so a job only moves forward.
// Terminal statuses share the last rank.
func (s JobStatus) rank() int {
	if s.Finished() {
		return 4
	}
	return int(s)
}

// ParseJobStatus parses the string form of a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	for st := JobUnknown; st <= JobErrored; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return JobUnknown, fmt.Errorf("unknown job status: %q", s)
}

// JobStatusListener listens status changes of jobs.
//
// It is called without holding the job's lock.
// A listener should be comparable, as it is found with == when removed.
type JobStatusListener interface {
	StatusChanged(jobID string, old, new JobStatus)
}

// JobTaskInfo is the bookkeeping of a task inside a job.
type JobTaskInfo struct {
	task *Task

	// estimate overrides the task's estimate when hasEstimate is true.
	estimate    time.Duration
	hasEstimate bool

	// weight is the share of the task in the job's progress.
	// It is computed when the job starts.
	weight float64

	// fraction is the last reported completion of the task.
	fraction float64

	// remaining is the last reported remaining runtime of the task.
	remaining    time.Duration
	hasRemaining bool

	// launched is true when a parallel job started the task.
	launched bool
	done     bool
}

// Task returns the task.
func (ti *JobTaskInfo) Task() *Task {
	return ti.task
}

// Estimate returns the estimated runtime of the task.
func (ti *JobTaskInfo) Estimate() time.Duration {
	if ti.hasEstimate {
		return ti.estimate
	}
	return ti.task.Estimate()
}

// Weight returns the share of the task in the job's progress.
func (ti *JobTaskInfo) Weight() float64 {
	return ti.weight
}

// Fraction returns the last known completion of the task.
func (ti *JobTaskInfo) Fraction() float64 {
	return ti.fraction
}

// JobConfig is what a job needs from the engine it runs in.
type JobConfig struct {
	Limiter *RunLimiter
	Monitor *Monitor
	Logger  logger.Logger

	// StopGrace is how long Stop waits for each interrupted task.
	StopGrace time.Duration

	// SlavePollMin is the minimum sleep between polls of master jobs.
	SlavePollMin time.Duration
}

// maxJobLogLines is the number of lines a job keeps in its log.
const maxJobLogLines = 1000

// Job is a group of tasks that run serially or in parallel,
// and are tracked as one.
//
// A job with masters is a slave job. It waits for its masters to finish
// before it runs its own tasks.
type Job struct {
	// NOTE: id is read-only after the job is created.
	// Other fields should be accessed with the lock held.
	sync.Mutex

	id string

	status     JobStatus
	statusTime time.Time

	// infos are keyed by task id, order keeps the insertion order.
	infos map[string]*JobTaskInfo
	order []string

	// threads is number of tasks run at the same time.
	// 1 or less makes the job serial.
	threads int
	// pending holds a parallel job's tasks that are not started yet.
	pending *container.UniqueQueue[*Task]
	// last is the last task of a serial job's chain.
	last *Task
	// running is number of started tasks of a parallel job, not finished yet.
	running int

	amount   float64
	estimate time.Duration
	// estimated is true once estimate has been computed in Running status.
	estimated bool
	message   string
	nDone     int

	started  bool
	stopping bool
	cleaned  bool

	masters    []*Job
	mustFinish bool
	// mastersFinishedOK is true when all the masters are done.
	mastersFinishedOK bool
	// mastersPartiallyOK is true when at least one master is done.
	mastersPartiallyOK bool
	masterWatch        *masterWatch
	// wake wakes up the slave supervisor, when all masters are finished.
	wake chan struct{}
	// release is closed to release the slave supervisor.
	release     chan struct{}
	releaseOnce sync.Once

	taskListener *jobTaskListener
	listeners    []JobStatusListener

	logLines []string

	limiter      *RunLimiter
	monitor      *Monitor
	log          logger.Logger
	stopGrace    time.Duration
	slavePollMin time.Duration

	finished chan struct{}
}

// NewJob creates a new job with a generated id.
// threads of 1 or less makes a serial job.
func NewJob(prefix string, threads int) *Job {
	id := xid.New().String()
	if prefix != "" {
		id = prefix + "-" + id
	}
	return NewJobWithID(id, threads)
}

// NewJobWithID creates a new job with the given id.
func NewJobWithID(id string, threads int) *Job {
	if threads < 1 {
		threads = 1
	}
	j := &Job{
		id:           id,
		statusTime:   time.Now(),
		infos:        make(map[string]*JobTaskInfo),
		threads:      threads,
		pending:      container.NewUniqueQueue[*Task](),
		wake:         make(chan struct{}, 1),
		release:      make(chan struct{}),
		log:          logger.Nop().WithJob(id),
		stopGrace:    5 * time.Second,
		slavePollMin: 5 * time.Second,
		finished:     make(chan struct{}),
	}
	j.taskListener = &jobTaskListener{job: j}
	j.masterWatch = &masterWatch{job: j}
	return j
}

// Configure sets what the job needs from the engine.
// Zero fields of c are left as they are.
func (j *Job) Configure(c JobConfig) error {
	j.Lock()
	defer j.Unlock()
	if j.started {
		return fmt.Errorf("%w: %s", ErrJobStarted, j.id)
	}
	if c.Limiter != nil {
		j.limiter = c.Limiter
	}
	if c.Monitor != nil {
		j.monitor = c.Monitor
	}
	if c.Logger != nil {
		j.log = c.Logger.WithJob(j.id)
	}
	if c.StopGrace > 0 {
		j.stopGrace = c.StopGrace
	}
	if c.SlavePollMin > 0 {
		j.slavePollMin = c.SlavePollMin
	}
	return nil
}

// ID returns the job's id.
func (j *Job) ID() string {
	return j.id
}

// Status returns the job's status.
func (j *Job) Status() JobStatus {
	j.Lock()
	defer j.Unlock()
	return j.status
}

// StatusTime returns when the status was changed last.
func (j *Job) StatusTime() time.Time {
	j.Lock()
	defer j.Unlock()
	return j.statusTime
}

// Serial reports whether the job runs its tasks one by one.
func (j *Job) Serial() bool {
	return j.threads <= 1
}

// Threads returns number of tasks the job runs at the same time.
func (j *Job) Threads() int {
	j.Lock()
	defer j.Unlock()
	return j.nThreads()
}

func (j *Job) nThreads() int {
	n := j.threads
	if n > len(j.order) {
		n = len(j.order)
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Tasks returns the job's tasks in the order they were added.
func (j *Job) Tasks() []*Task {
	j.Lock()
	defer j.Unlock()
	tasks := make([]*Task, 0, len(j.order))
	for _, id := range j.order {
		tasks = append(tasks, j.infos[id].task)
	}
	return tasks
}

// TaskInfo returns the bookkeeping of a task, or nil.
func (j *Job) TaskInfo(taskID string) *JobTaskInfo {
	j.Lock()
	defer j.Unlock()
	ti := j.infos[taskID]
	if ti == nil {
		return nil
	}
	c := *ti
	return &c
}

// AddTask adds a task to the job.
// Tasks of a serial job run in the order they were added.
func (j *Job) AddTask(t *Task) error {
	return j.addTask(t, 0, false)
}

// AddTaskWithEstimate adds a task to the job, with an estimate that
// overrides the task's own.
func (j *Job) AddTaskWithEstimate(t *Task, estimate time.Duration) error {
	return j.addTask(t, estimate, true)
}

func (j *Job) addTask(t *Task, estimate time.Duration, override bool) error {
	if t == nil {
		return fmt.Errorf("nil task cannot be added")
	}
	j.Lock()
	if j.started {
		j.Unlock()
		return fmt.Errorf("%w: %s", ErrJobStarted, j.id)
	}
	if _, ok := j.infos[t.ID()]; ok {
		j.Unlock()
		return fmt.Errorf("%w: task %s in job %s", ErrDuplicateID, t.ID(), j.id)
	}
	j.infos[t.ID()] = &JobTaskInfo{
		task:        t,
		estimate:    estimate,
		hasEstimate: override,
	}
	j.order = append(j.order, t.ID())
	prev := j.last
	serial := j.threads <= 1
	if serial {
		j.last = t
	} else {
		j.pending.Push(t)
	}
	j.Unlock()

	t.AddListener(j.taskListener)
	if serial && prev != nil {
		prev.SetNext(t)
	}
	return nil
}

// SetMasters makes the job a slave of masters.
// When mustFinish is true, the job runs only if all of the masters are done.
// Otherwise it runs if at least one of them is done.
func (j *Job) SetMasters(mustFinish bool, masters ...*Job) error {
	for _, m := range masters {
		if m == nil || m == j {
			return fmt.Errorf("%w: for job %s", ErrInvalidMaster, j.id)
		}
	}
	j.Lock()
	if j.started {
		j.Unlock()
		return fmt.Errorf("%w: %s", ErrJobStarted, j.id)
	}
	old := j.masters
	j.masters = append([]*Job(nil), masters...)
	j.mustFinish = mustFinish
	j.Unlock()
	for _, m := range old {
		m.RemoveStatusListener(j.masterWatch)
	}
	for _, m := range masters {
		m.AddStatusListener(j.masterWatch)
	}
	return nil
}

// Masters returns master jobs of the job.
func (j *Job) Masters() []*Job {
	j.Lock()
	defer j.Unlock()
	return append([]*Job(nil), j.masters...)
}

// IsSlave reports whether the job has masters.
func (j *Job) IsSlave() bool {
	j.Lock()
	defer j.Unlock()
	return len(j.masters) != 0
}

// MastersFinishedOK reports whether all the masters were done.
// It is meaningful once the masters are finished.
func (j *Job) MastersFinishedOK() bool {
	j.Lock()
	defer j.Unlock()
	return j.mastersFinishedOK
}

// MastersPartiallyOK reports whether at least one master was done.
func (j *Job) MastersPartiallyOK() bool {
	j.Lock()
	defer j.Unlock()
	return j.mastersPartiallyOK
}

// AddStatusListener adds a listener of the job's status changes.
func (j *Job) AddStatusListener(l JobStatusListener) {
	j.Lock()
	defer j.Unlock()
	for _, old := range j.listeners {
		if old == l {
			return
		}
	}
	j.listeners = append(j.listeners, l)
}

// RemoveStatusListener removes a listener of the job's status changes.
func (j *Job) RemoveStatusListener(l JobStatusListener) {
	j.Lock()
	defer j.Unlock()
	for i, old := range j.listeners {
		if old == l {
			j.listeners = append(j.listeners[:i], j.listeners[i+1:]...)
			return
		}
	}
}

// setStatus moves the job to a new status and notifies listeners.
// It refuses to move backward or out of a terminal status.
func (j *Job) setStatus(to JobStatus) bool {
	j.Lock()
	from := j.status
	if from.Finished() || to.rank() <= from.rank() {
		j.Unlock()
		return false
	}
	j.status = to
	j.statusTime = time.Now()
	if to == JobDone {
		j.amount = 1
		j.estimate = 0
	}
	j.appendLog("status: %v -> %v", from, to)
	listeners := append([]JobStatusListener(nil), j.listeners...)
	slave := len(j.masters) != 0
	j.Unlock()

	if to.Finished() {
		close(j.finished)
		if slave {
			j.releaseSupervisor()
		}
	}
	for _, l := range listeners {
		l.StatusChanged(j.id, from, to)
	}
	return true
}

// markQueued is called by the queue the job is put in.
func (j *Job) markQueued() bool {
	return j.setStatus(JobQueued)
}

// appendLog adds a line to the job's log. j should be locked.
func (j *Job) appendLog(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	j.logLines = append(j.logLines, time.Now().Format("2006-01-02 15:04:05")+" "+msg)
	if len(j.logLines) > maxJobLogLines {
		j.logLines = j.logLines[len(j.logLines)-maxJobLogLines:]
	}
	j.log.Info(msg)
}

// Log returns the job's log text.
func (j *Job) Log() string {
	j.Lock()
	defer j.Unlock()
	return strings.Join(j.logLines, "\n")
}

// Progress returns the weighted completion of the job in [0, 1].
func (j *Job) Progress() float64 {
	j.Lock()
	defer j.Unlock()
	return j.amount
}

// StatusMessage returns the last message reported by a task, or an
// explanation of the job's status when there isn't one. It is never empty.
func (j *Job) StatusMessage() string {
	j.Lock()
	defer j.Unlock()
	if j.message != "" {
		return j.message
	}
	switch j.status {
	case JobQueued:
		return "queued, waiting to run..."
	case JobWaiting:
		return "waiting for dependent jobs to finish..."
	case JobRunning:
		return "running..."
	case JobDone:
		return "done"
	case JobStopped:
		if len(j.masters) != 0 && !j.mastersPartiallyOK {
			return "stopped, dependent jobs didn't finish successfully..."
		}
		return "stopped..."
	case JobErrored:
		return "errored, see the job log..."
	}
	if len(j.masters) != 0 {
		return "waiting for dependent jobs..."
	}
	return "not queued yet..."
}

// EstimatedRuntime returns the estimated remaining runtime of the job.
// Once the job is running, it never increases. It is 0 when the job is done.
func (j *Job) EstimatedRuntime() time.Duration {
	j.Lock()
	defer j.Unlock()
	return j.estimatedRuntime()
}

func (j *Job) estimatedRuntime() time.Duration {
	if j.status == JobDone {
		return 0
	}
	if j.status.Finished() {
		return j.estimate
	}
	var sum time.Duration
	left := 0
	for _, id := range j.order {
		ti := j.infos[id]
		if ti.done {
			continue
		}
		left++
		if ti.hasRemaining {
			sum += ti.remaining
			continue
		}
		sum += time.Duration(float64(ti.Estimate()) * (1 - ti.fraction))
	}
	if left > 1 && j.threads > 1 {
		n := j.threads
		if n > left {
			n = left
		}
		sum /= time.Duration(n)
	}
	if j.status != JobRunning {
		return sum
	}
	if j.estimated && sum > j.estimate {
		sum = j.estimate
	}
	j.estimate = sum
	j.estimated = true
	return sum
}

// computeWeights sets weights of tasks. j should be locked.
// Weights are shares of the total estimated runtime.
// When no task has an estimate, every task gets the same weight.
func (j *Job) computeWeights() {
	var total time.Duration
	for _, id := range j.order {
		total += j.infos[id].Estimate()
	}
	n := len(j.order)
	for _, id := range j.order {
		ti := j.infos[id]
		if total > 0 {
			ti.weight = float64(ti.Estimate()) / float64(total)
		} else {
			ti.weight = 1 / float64(n)
		}
	}
}

// Start starts the job.
// A slave job waits for its masters on a new goroutine.
func (j *Job) Start() error {
	j.Lock()
	if j.started {
		j.Unlock()
		return fmt.Errorf("%w: %s", ErrJobStarted, j.id)
	}
	if len(j.order) == 0 {
		j.Unlock()
		return fmt.Errorf("%w: %s", ErrEmptyJob, j.id)
	}
	if j.status.Finished() {
		j.Unlock()
		return fmt.Errorf("job %s is already %v", j.id, j.status)
	}
	j.started = true
	j.computeWeights()
	tasks := make([]*Task, 0, len(j.order))
	for _, id := range j.order {
		tasks = append(tasks, j.infos[id].task)
	}
	slave := len(j.masters) != 0
	limiter := j.limiter
	monitor := j.monitor
	log := j.log
	j.Unlock()

	for _, t := range tasks {
		if limiter != nil {
			limiter.Bind(t)
		}
		if monitor != nil {
			t.SetMonitor(monitor)
		}
		t.SetLogger(log)
	}

	if slave {
		if !j.setStatus(JobWaiting) {
			return nil
		}
		j.spawn("slave "+j.id, func() { j.Stop() }, j.supervise)
		return nil
	}
	j.run()
	return nil
}

// spawn starts fn on a new goroutine, through the monitor if there is one.
func (j *Job) spawn(name string, cancel context.CancelFunc, fn func()) {
	j.Lock()
	m := j.monitor
	j.Unlock()
	if m != nil {
		m.Go(name, cancel, fn)
		return
	}
	go fn()
}

// run starts the job's tasks.
func (j *Job) run() {
	if !j.setStatus(JobRunning) {
		return
	}
	j.Lock()
	serial := j.threads <= 1
	var root *Task
	if serial {
		root = j.infos[j.order[0]].task
	}
	n := j.nThreads()
	// a task started by someone else before the job ran won't be run by the job.
	var stale *Task
	for _, id := range j.order {
		if t := j.infos[id].task; t.Status() != TaskNotRunning {
			stale = t
			break
		}
	}
	j.Unlock()

	if stale != nil {
		j.log.Warn("task %s is already %v, stopping", stale.ID(), stale.Status())
		j.Stop()
		return
	}
	if serial {
		if err := root.Start(); err != nil {
			j.log.Warn("root task not started: %v", err)
			j.Stop()
		}
		return
	}
	for i := 0; i < n; i++ {
		// a task could have stopped the job already.
		if j.Status() != JobRunning {
			return
		}
		j.startPending()
	}
}

// startPending starts the next pending task of a parallel job,
// unless the job already runs as many tasks as its threads.
func (j *Job) startPending() {
	j.Lock()
	if j.running >= j.nThreads() {
		j.Unlock()
		return
	}
	t, ok := j.pending.Pop()
	if !ok {
		j.Unlock()
		return
	}
	ti := j.infos[t.ID()]
	ti.launched = true
	j.running++
	j.Unlock()
	if err := t.Start(); err != nil {
		j.log.Warn("task not started: %v", err)
		j.Lock()
		j.landed(ti)
		j.Unlock()
		j.Stop()
	}
}

// landed marks a launched task as not running anymore. j should be locked.
func (j *Job) landed(ti *JobTaskInfo) {
	if ti.launched {
		ti.launched = false
		j.running--
	}
}

// supervise waits for the masters of a slave job to finish.
// It wakes up before the masters are expected to finish, to refresh the estimate.
func (j *Job) supervise() {
	for !j.mastersFinished() {
		d := j.pollInterval()
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-j.wake:
			timer.Stop()
		case <-j.release:
			timer.Stop()
			return
		}
	}

	j.Lock()
	masters := j.masters
	mustFinish := j.mustFinish
	j.Unlock()
	nDone := 0
	for _, m := range masters {
		if m.Status() == JobDone {
			nDone++
		}
	}
	allOK := nDone == len(masters)
	partOK := nDone > 0
	j.Lock()
	j.mastersFinishedOK = allOK
	j.mastersPartiallyOK = partOK
	j.appendLog("masters finished: %d of %d done", nDone, len(masters))
	j.Unlock()

	if (mustFinish && !allOK) || (!mustFinish && !partOK) {
		j.Stop()
		return
	}
	j.run()
}

// mastersFinished reports whether all masters are in a terminal status.
func (j *Job) mastersFinished() bool {
	for _, m := range j.Masters() {
		if !m.Status().Finished() {
			return false
		}
	}
	return true
}

// pollInterval is 80% of the remaining runtime of unfinished masters,
// but not shorter than the minimum poll interval.
func (j *Job) pollInterval() time.Duration {
	var remain time.Duration
	for _, m := range j.Masters() {
		if m.Status().Finished() {
			continue
		}
		remain += m.EstimatedRuntime()
	}
	d := remain * 8 / 10
	j.Lock()
	min := j.slavePollMin
	j.Unlock()
	if d < min {
		d = min
	}
	return d
}

func (j *Job) releaseSupervisor() {
	j.releaseOnce.Do(func() {
		close(j.release)
	})
}

// Stop stops the job asynchronously.
// It interrupts tasks not started yet first, then running tasks.
// It does nothing unless the job is queued, waiting or running.
func (j *Job) Stop() {
	j.Lock()
	if j.stopping || !j.status.InFlight() {
		j.Unlock()
		return
	}
	j.stopping = true
	j.appendLog("stop requested")
	j.Unlock()
	j.spawn("stop "+j.id, nil, j.cancel)
}

// cancel is the body of Stop's goroutine.
func (j *Job) cancel() {
	j.releaseSupervisor()
	tasks := j.Tasks()
	for _, t := range tasks {
		s := t.Status()
		if s == TaskNotRunning || s == TaskWaiting {
			t.Interrupt()
		}
	}
	for _, t := range tasks {
		if !t.Status().Finished() {
			t.Interrupt()
		}
	}
	j.Lock()
	grace := j.stopGrace
	j.Unlock()
	// every task shares the grace period.
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			j.log.Warn("task %s is still running %v after it was interrupted", t.ID(), grace)
		}
	}
	j.setStatus(JobStopped)
}

// Wait waits until the job is finished or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finished returns a channel that is closed when the job is finished.
func (j *Job) Finished() <-chan struct{} {
	return j.finished
}

// Cleanup releases what the job holds.
// Tasks still running are interrupted, and the job stops listening
// its tasks and masters.
func (j *Job) Cleanup() {
	j.Lock()
	if j.cleaned {
		j.Unlock()
		return
	}
	j.cleaned = true
	masters := j.masters
	j.Unlock()

	j.releaseSupervisor()
	for _, t := range j.Tasks() {
		t.RemoveListener(j.taskListener)
		t.Interrupt()
	}
	for _, m := range masters {
		m.RemoveStatusListener(j.masterWatch)
	}
	j.Lock()
	j.pending = container.NewUniqueQueue[*Task]()
	j.last = nil
	j.Unlock()
}

// updateAmountCompleted recomputes the job's progress,
// only when a task's completion increased.
func (j *Job) updateAmountCompleted(taskID string, fraction float64) {
	j.Lock()
	defer j.Unlock()
	ti := j.infos[taskID]
	if ti == nil || fraction <= ti.fraction {
		return
	}
	ti.fraction = fraction
	j.recomputeAmount()
}

// recomputeAmount sums weighted completion of tasks. j should be locked.
// A done task always counts its full weight.
func (j *Job) recomputeAmount() {
	amount := 0.0
	for _, id := range j.order {
		ti := j.infos[id]
		if ti.done {
			amount += ti.weight
			continue
		}
		amount += ti.weight * ti.fraction
	}
	if amount > 1 {
		amount = 1
	}
	if amount > j.amount {
		j.amount = amount
	}
}

// taskDone is called when a task of the job is done.
func (j *Job) taskDone(t *Task) {
	j.Lock()
	ti := j.infos[t.ID()]
	if ti == nil || ti.done {
		j.Unlock()
		return
	}
	j.landed(ti)
	ti.done = true
	ti.fraction = 1
	ti.remaining = 0
	ti.hasRemaining = true
	j.nDone++
	all := j.nDone == len(j.order)
	serial := j.threads <= 1
	j.recomputeAmount()
	j.estimatedRuntime()
	j.Unlock()

	if all {
		j.setStatus(JobDone)
		return
	}
	if !serial && j.Status() == JobRunning {
		j.startPending()
	}
}

// taskInterrupted is called when a task of the job is errored or interrupted.
func (j *Job) taskInterrupted(t *Task) {
	j.Lock()
	if ti := j.infos[t.ID()]; ti != nil {
		j.landed(ti)
	}
	j.Unlock()
	if j.Status().Finished() {
		return
	}
	if !t.Errored() {
		j.Stop()
		return
	}
	detail := t.Err().Error()
	if terr, ok := t.Err().(*TaskError); ok {
		detail = terr.Detail()
	}
	j.Lock()
	j.appendLog("task %s errored: %s", t.ID(), detail)
	j.Unlock()
	j.log.Severe("task %s errored: %v", t.ID(), t.Err())
	if !j.setStatus(JobErrored) {
		return
	}
	for _, o := range j.Tasks() {
		if !o.Status().Finished() {
			o.Interrupt()
		}
	}
}

// jobTaskListener connects tasks to their job.
type jobTaskListener struct {
	job *Job
}

func (l *jobTaskListener) TaskDone(t *Task) {
	l.job.taskDone(t)
}

func (l *jobTaskListener) TaskInterrupted(t *Task) {
	l.job.taskInterrupted(t)
}

func (l *jobTaskListener) ProgressUpdate(id string, fraction float64) {
	l.job.updateAmountCompleted(id, fraction)
}

func (l *jobTaskListener) StatusUpdate(id string, msg string) {
	j := l.job
	j.Lock()
	defer j.Unlock()
	j.message = msg
	j.appendLog("%s: %s", id, msg)
}

func (l *jobTaskListener) RuntimeUpdate(id string, remaining time.Duration) {
	j := l.job
	j.Lock()
	defer j.Unlock()
	ti := j.infos[id]
	if ti == nil {
		return
	}
	ti.remaining = remaining
	ti.hasRemaining = true
}

// masterWatch wakes up a slave job when all of its masters are finished.
type masterWatch struct {
	job *Job
}

func (w *masterWatch) StatusChanged(jobID string, old, new JobStatus) {
	if !new.Finished() {
		return
	}
	if !w.job.mastersFinished() {
		return
	}
	select {
	case w.job.wake <- struct{}{}:
	default:
	}
}
