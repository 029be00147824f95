package jobq

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imagvfx/jobq/events"
	"github.com/imagvfx/jobq/lib/container"
	"github.com/imagvfx/jobq/logger"
)

// QueuedJob is a job with the priority it was queued at.
type QueuedJob struct {
	Job      *Job
	Priority float64
}

// Group is a summary of the jobs queued at a priority.
type Group struct {
	Priority float64
	JobIDs   []string
	Status   JobStatus
}

// JobQueue runs jobs in priority order, and lets callers address them
// by job id, process id or alias.
//
// Each of its tables has its own lock. When more than one is needed,
// they are taken in the order of jobs, groups, procs and aliases.
type JobQueue struct {
	jobsMu sync.Mutex
	// jobs are queued jobs by their id.
	jobs map[string]*QueuedJob

	groupsMu sync.Mutex
	// groups are jobs by priority, in the order they were queued.
	groups map[float64][]*Job
	// priorities orders groups, the highest priority first.
	priorities *container.UniqueHeap[float64]

	procsMu sync.Mutex
	// procs are member jobs by process id.
	procs map[string][]*Job

	aliasMu sync.Mutex
	// aliases are real ids by virtual id.
	aliases map[string]string

	// registering is positive while jobs and processes are being registered.
	// Processes could have members not queued yet in the meantime.
	registering int32

	stagger time.Duration
	log     logger.Logger
	bus     *events.Bus
}

// NewJobQueue creates a new JobQueue.
// RunJobs waits stagger between priority groups.
func NewJobQueue(log logger.Logger, stagger time.Duration) *JobQueue {
	if log == nil {
		log = logger.Nop()
	}
	return &JobQueue{
		jobs:       make(map[string]*QueuedJob),
		groups:     make(map[float64][]*Job),
		priorities: container.NewUniqueHeap(func(a, b float64) bool { return a > b }),
		procs:      make(map[string][]*Job),
		aliases:    make(map[string]string),
		stagger:    stagger,
		log:        log,
	}
}

// SetEventBus makes the queue publish status changes of its jobs to b.
func (q *JobQueue) SetEventBus(b *events.Bus) {
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()
	q.bus = b
}

// SetStagger changes the delay between priority groups of RunJobs.
func (q *JobQueue) SetStagger(d time.Duration) {
	q.groupsMu.Lock()
	defer q.groupsMu.Unlock()
	q.stagger = d
}

// Registering marks the queue as registering jobs and processes,
// until the returned function is called.
func (q *JobQueue) Registering() (done func()) {
	atomic.AddInt32(&q.registering, 1)
	var once sync.Once
	return func() {
		once.Do(func() { atomic.AddInt32(&q.registering, -1) })
	}
}

func (q *JobQueue) isRegistering() bool {
	return atomic.LoadInt32(&q.registering) > 0
}

// QueueJob queues a job at priority.
func (q *JobQueue) QueueJob(j *Job, priority float64) error {
	return q.QueueJobs([]*Job{j}, priority)
}

// QueueJobs queues a group of jobs at priority.
// Either all of the jobs are queued, or none of them.
func (q *JobQueue) QueueJobs(jobs []*Job, priority float64) error {
	if len(jobs) == 0 {
		return fmt.Errorf("no job to queue")
	}
	if math.IsNaN(priority) {
		return fmt.Errorf("%w: %v", ErrInvalidPriority, priority)
	}
	seen := make(map[string]bool)
	for _, j := range jobs {
		if j == nil {
			return fmt.Errorf("nil job cannot be queued")
		}
		if seen[j.ID()] {
			return fmt.Errorf("%w: %s appears twice", ErrDuplicateID, j.ID())
		}
		seen[j.ID()] = true
	}

	q.jobsMu.Lock()
	q.procsMu.Lock()
	q.aliasMu.Lock()
	var err error
	for _, j := range jobs {
		id := j.ID()
		if qj, ok := q.jobs[id]; ok {
			if qj.Job == j {
				err = fmt.Errorf("%w: %s at priority %v", ErrAlreadyQueued, id, qj.Priority)
			} else {
				err = fmt.Errorf("%w: job %s", ErrDuplicateID, id)
			}
			break
		}
		if _, ok := q.procs[id]; ok {
			err = fmt.Errorf("%w: %s is a process", ErrDuplicateID, id)
			break
		}
		if _, ok := q.aliases[id]; ok {
			err = fmt.Errorf("%w: %s is an alias", ErrDuplicateID, id)
			break
		}
		if s := j.Status(); s != JobUnknown {
			err = fmt.Errorf("%w: %s is %v", ErrJobStarted, id, s)
			break
		}
	}
	q.aliasMu.Unlock()
	q.procsMu.Unlock()
	if err != nil {
		q.jobsMu.Unlock()
		return err
	}
	for _, j := range jobs {
		q.jobs[j.ID()] = &QueuedJob{Job: j, Priority: priority}
	}
	q.groupsMu.Lock()
	q.groups[priority] = append(q.groups[priority], jobs...)
	q.priorities.Push(priority)
	q.groupsMu.Unlock()
	q.jobsMu.Unlock()

	for _, j := range jobs {
		j.AddStatusListener(q)
		j.markQueued()
		q.log.WithJob(j.ID()).Info("queued at priority %v", priority)
	}
	return nil
}

// sortedPriorities returns priorities of groups, the highest first.
func (q *JobQueue) sortedPriorities() []float64 {
	q.groupsMu.Lock()
	h := q.priorities.Clone()
	q.groupsMu.Unlock()
	prios := make([]float64, 0, h.Len())
	for {
		p, ok := h.Pop()
		if !ok {
			return prios
		}
		prios = append(prios, p)
	}
}

func (q *JobQueue) group(priority float64) []*Job {
	q.groupsMu.Lock()
	defer q.groupsMu.Unlock()
	return append([]*Job(nil), q.groups[priority]...)
}

// RunJobs starts queued jobs from the highest priority group to the lowest.
// After it started a group, it waits a moment before it moves to the next.
func (q *JobQueue) RunJobs(ctx context.Context) error {
	q.groupsMu.Lock()
	stagger := q.stagger
	q.groupsMu.Unlock()
	started := 0
	for _, p := range q.sortedPriorities() {
		if started != 0 && stagger > 0 {
			timer := time.NewTimer(stagger)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		started = 0
		for _, j := range q.group(p) {
			if j.Status() != JobQueued {
				continue
			}
			if err := j.Start(); err != nil {
				q.log.WithJob(j.ID()).Warn("couldn't start: %v", err)
				continue
			}
			started++
		}
	}
	return nil
}

// resolve returns the real id of an alias, or id itself.
func (q *JobQueue) resolve(id string) string {
	q.aliasMu.Lock()
	defer q.aliasMu.Unlock()
	if real, ok := q.aliases[id]; ok {
		return real
	}
	return id
}

// lookup finds a job or the members of a process by id or alias.
// Exactly one of the return values is non-nil, unless it returns an error.
func (q *JobQueue) lookup(id string) (*QueuedJob, []*Job, error) {
	real := q.resolve(id)
	q.jobsMu.Lock()
	qj, ok := q.jobs[real]
	q.jobsMu.Unlock()
	if ok {
		return qj, nil, nil
	}
	q.procsMu.Lock()
	members, ok := q.procs[real]
	q.procsMu.Unlock()
	if ok {
		return nil, append([]*Job(nil), members...), nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Job returns a queued job by its id or alias.
func (q *JobQueue) Job(id string) (*Job, error) {
	qj, _, err := q.lookup(id)
	if err != nil {
		return nil, err
	}
	if qj == nil {
		return nil, fmt.Errorf("%w: %s is a process, not a job", ErrNotFound, id)
	}
	return qj.Job, nil
}

// Process returns member jobs of a process by its id or alias.
func (q *JobQueue) Process(id string) ([]*Job, error) {
	_, members, err := q.lookup(id)
	if err != nil {
		return nil, err
	}
	if members == nil {
		return nil, fmt.Errorf("%w: %s is a job, not a process", ErrNotFound, id)
	}
	return members, nil
}

// CancelJob stops a job, or every job of a process.
// Finished jobs are left as they are.
func (q *JobQueue) CancelJob(id string) error {
	qj, members, err := q.lookup(id)
	if err != nil {
		return err
	}
	if qj != nil {
		members = []*Job{qj.Job}
	}
	for _, j := range members {
		q.cancel(j)
	}
	return nil
}

// CancelAllJobs stops every queued job that isn't finished.
func (q *JobQueue) CancelAllJobs() {
	for _, qj := range q.Jobs() {
		q.cancel(qj.Job)
	}
}

func (q *JobQueue) cancel(j *Job) {
	s := j.Status()
	if !s.InFlight() {
		q.log.WithJob(j.ID()).Info("not canceled, already %v", s)
		return
	}
	q.log.WithJob(j.ID()).Info("canceling")
	j.Stop()
}

// RemoveJob removes a finished job, or a process whose jobs are all finished.
// Removed jobs are cleaned up.
func (q *JobQueue) RemoveJob(id string) error {
	real := q.resolve(id)
	qj, members, err := q.lookup(real)
	if err != nil {
		return err
	}
	if qj != nil {
		members = []*Job{qj.Job}
	}
	for _, j := range members {
		if s := j.Status(); !s.Finished() {
			return fmt.Errorf("%w: %s is %v", ErrJobNotFinished, j.ID(), s)
		}
	}

	removed := make(map[string]bool)
	q.jobsMu.Lock()
	q.groupsMu.Lock()
	for _, j := range members {
		qj, ok := q.jobs[j.ID()]
		if !ok || qj.Job != j {
			continue
		}
		delete(q.jobs, j.ID())
		removed[j.ID()] = true
		g := q.groups[qj.Priority]
		for i, gj := range g {
			if gj == j {
				g = append(g[:i], g[i+1:]...)
				break
			}
		}
		if len(g) == 0 {
			delete(q.groups, qj.Priority)
			q.priorities.Remove(qj.Priority)
		} else {
			q.groups[qj.Priority] = g
		}
	}
	q.groupsMu.Unlock()
	q.procsMu.Lock()
	if qj == nil {
		delete(q.procs, real)
		removed[real] = true
	}
	q.procsMu.Unlock()
	q.aliasMu.Lock()
	for v, r := range q.aliases {
		if removed[r] {
			delete(q.aliases, v)
		}
	}
	q.aliasMu.Unlock()
	q.jobsMu.Unlock()

	for _, j := range members {
		if !removed[j.ID()] {
			continue
		}
		j.RemoveStatusListener(q)
		j.Cleanup()
		q.log.WithJob(j.ID()).Info("removed")
	}
	return nil
}

// RegisterProcess registers jobs as a process, addressed by id.
// The jobs don't have to be queued yet.
func (q *JobQueue) RegisterProcess(id string, jobs ...*Job) error {
	if id == "" {
		return fmt.Errorf("empty process id")
	}
	if len(jobs) == 0 {
		return fmt.Errorf("process %s has no job", id)
	}
	for _, j := range jobs {
		if j == nil {
			return fmt.Errorf("process %s has a nil job", id)
		}
	}
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()
	q.procsMu.Lock()
	defer q.procsMu.Unlock()
	q.aliasMu.Lock()
	defer q.aliasMu.Unlock()
	if _, ok := q.jobs[id]; ok {
		return fmt.Errorf("%w: %s is a job", ErrDuplicateID, id)
	}
	if _, ok := q.procs[id]; ok {
		return fmt.Errorf("%w: process %s", ErrDuplicateID, id)
	}
	if _, ok := q.aliases[id]; ok {
		return fmt.Errorf("%w: %s is an alias", ErrDuplicateID, id)
	}
	q.procs[id] = append([]*Job(nil), jobs...)
	q.log.Info("process %s registered with %d jobs", id, len(jobs))
	return nil
}

// RegisterProcessIDs registers queued jobs, found by their ids or aliases,
// as a process.
func (q *JobQueue) RegisterProcessIDs(id string, jobIDs ...string) error {
	jobs := make([]*Job, 0, len(jobIDs))
	for _, jid := range jobIDs {
		j, err := q.Job(jid)
		if err != nil {
			return err
		}
		jobs = append(jobs, j)
	}
	return q.RegisterProcess(id, jobs...)
}

// CheckAlias reports whether virtual could become a new alias.
func (q *JobQueue) CheckAlias(virtual string) error {
	if virtual == "" {
		return fmt.Errorf("invalid alias %q", virtual)
	}
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()
	q.procsMu.Lock()
	defer q.procsMu.Unlock()
	q.aliasMu.Lock()
	defer q.aliasMu.Unlock()
	if _, ok := q.jobs[virtual]; ok {
		return fmt.Errorf("%w: %s is a job", ErrDuplicateID, virtual)
	}
	if _, ok := q.procs[virtual]; ok {
		return fmt.Errorf("%w: %s is a process", ErrDuplicateID, virtual)
	}
	if old, ok := q.aliases[virtual]; ok {
		return fmt.Errorf("%w: %s is an alias of %s", ErrDuplicateID, virtual, old)
	}
	return nil
}

// Alias lets a job or a process be addressed by virtual as well.
func (q *JobQueue) Alias(virtual, real string) error {
	if virtual == "" || virtual == real {
		return fmt.Errorf("invalid alias %q for %q", virtual, real)
	}
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()
	q.procsMu.Lock()
	defer q.procsMu.Unlock()
	q.aliasMu.Lock()
	defer q.aliasMu.Unlock()
	_, isJob := q.jobs[real]
	_, isProc := q.procs[real]
	if !isJob && !isProc {
		return fmt.Errorf("%w: %s", ErrNotFound, real)
	}
	if _, ok := q.jobs[virtual]; ok {
		return fmt.Errorf("%w: %s is a job", ErrDuplicateID, virtual)
	}
	if _, ok := q.procs[virtual]; ok {
		return fmt.Errorf("%w: %s is a process", ErrDuplicateID, virtual)
	}
	if old, ok := q.aliases[virtual]; ok && old != real {
		return fmt.Errorf("%w: %s is an alias of %s", ErrDuplicateID, virtual, old)
	}
	q.aliases[virtual] = real
	return nil
}

// fold computes the status of a set of jobs as one.
//
//	all done          => done
//	all stopped       => stopped
//	any errored       => errored
//	any running       => running (waiting counts as running)
//	any queued        => queued
//	any stopped       => stopped
//	any unknown       => unknown, only while registering
func (q *JobQueue) fold(id string, jobs []*Job) (JobStatus, error) {
	if len(jobs) == 0 {
		return JobUnknown, nil
	}
	counts := make(map[JobStatus]int)
	for _, j := range jobs {
		s := j.Status()
		if s < JobUnknown || s > JobErrored {
			continue
		}
		counts[s]++
	}
	sum := 0
	for _, n := range counts {
		sum += n
	}
	n := len(jobs)
	if sum != n || (counts[JobUnknown] != 0 && !q.isRegistering()) {
		err := &ConsistencyError{ID: id, Total: n, Counts: counts}
		q.log.Severe("%v", err)
		return JobUnknown, err
	}
	switch {
	case counts[JobDone] == n:
		return JobDone, nil
	case counts[JobStopped] == n:
		return JobStopped, nil
	case counts[JobErrored] != 0:
		return JobErrored, nil
	case counts[JobRunning]+counts[JobWaiting] != 0:
		return JobRunning, nil
	case counts[JobQueued] != 0:
		return JobQueued, nil
	case counts[JobStopped] != 0:
		return JobStopped, nil
	}
	return JobUnknown, nil
}

// Status returns the status of a job or a process.
func (q *JobQueue) Status(id string) (JobStatus, error) {
	qj, members, err := q.lookup(id)
	if err != nil {
		return JobUnknown, err
	}
	if qj != nil {
		return qj.Job.Status(), nil
	}
	return q.fold(q.resolve(id), members)
}

// Progress returns the completion of a job, or the mean completion of
// a process's jobs.
func (q *JobQueue) Progress(id string) (float64, error) {
	qj, members, err := q.lookup(id)
	if err != nil {
		return 0, err
	}
	if qj != nil {
		return qj.Job.Progress(), nil
	}
	sum := 0.0
	for _, j := range members {
		sum += j.Progress()
	}
	return sum / float64(len(members)), nil
}

// EstimatedRuntime returns the estimated remaining runtime of a job,
// or the sum of them for a process.
func (q *JobQueue) EstimatedRuntime(id string) (time.Duration, error) {
	qj, members, err := q.lookup(id)
	if err != nil {
		return 0, err
	}
	if qj != nil {
		return qj.Job.EstimatedRuntime(), nil
	}
	var sum time.Duration
	for _, j := range members {
		sum += j.EstimatedRuntime()
	}
	return sum, nil
}

// StatusMessage returns the status message of a job.
// For a process, it is the message of the first unfinished job,
// or how many of the jobs are done.
func (q *JobQueue) StatusMessage(id string) (string, error) {
	qj, members, err := q.lookup(id)
	if err != nil {
		return "", err
	}
	if qj != nil {
		return qj.Job.StatusMessage(), nil
	}
	nDone := 0
	for _, j := range members {
		s := j.Status()
		if s == JobDone {
			nDone++
			continue
		}
		if !s.Finished() {
			return j.StatusMessage(), nil
		}
	}
	return fmt.Sprintf("%d of %d jobs done", nDone, len(members)), nil
}

// Log returns the log of a job, or the logs of a process's jobs one after another.
func (q *JobQueue) Log(id string) (string, error) {
	qj, members, err := q.lookup(id)
	if err != nil {
		return "", err
	}
	if qj != nil {
		return qj.Job.Log(), nil
	}
	var b strings.Builder
	for i, j := range members {
		if i != 0 {
			b.WriteString("\n")
		}
		b.WriteString("== " + j.ID() + " ==\n")
		b.WriteString(j.Log())
	}
	return b.String(), nil
}

// Jobs returns queued jobs, from the highest priority to the lowest.
// Jobs with the same priority are in the order they were queued.
func (q *JobQueue) Jobs() []*QueuedJob {
	jobs := make([]*QueuedJob, 0)
	for _, p := range q.sortedPriorities() {
		for _, j := range q.group(p) {
			jobs = append(jobs, &QueuedJob{Job: j, Priority: p})
		}
	}
	return jobs
}

// Groups returns summaries of priority groups, the highest priority first.
func (q *JobQueue) Groups() ([]Group, error) {
	groups := make([]Group, 0)
	for _, p := range q.sortedPriorities() {
		jobs := q.group(p)
		ids := make([]string, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID())
		}
		s, err := q.fold(strconv.FormatFloat(p, 'g', -1, 64), jobs)
		if err != nil {
			return nil, err
		}
		groups = append(groups, Group{Priority: p, JobIDs: ids, Status: s})
	}
	return groups, nil
}

// Processes returns registered process ids, sorted.
func (q *JobQueue) Processes() []string {
	q.procsMu.Lock()
	defer q.procsMu.Unlock()
	ids := make([]string, 0, len(q.procs))
	for id := range q.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StatusChanged implements JobStatusListener.
func (q *JobQueue) StatusChanged(jobID string, old, new JobStatus) {
	q.log.WithJob(jobID).Info("%v -> %v", old, new)
	q.jobsMu.Lock()
	bus := q.bus
	qj := q.jobs[jobID]
	q.jobsMu.Unlock()
	if bus == nil {
		return
	}
	e := events.Event{
		JobID: jobID,
		Old:   old.String(),
		New:   new.String(),
	}
	if qj != nil {
		e.Progress = qj.Job.Progress()
		e.Message = qj.Job.StatusMessage()
	}
	bus.Publish(e)
}
