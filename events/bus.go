// Package events delivers job status changes to whoever is interested,
// in process through a Bus or remotely through a websocket Handler.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a status change of a job.
type Event struct {
	Time     time.Time `json:"time"`
	JobID    string    `json:"job"`
	Old      string    `json:"old"`
	New      string    `json:"new"`
	Progress float64   `json:"progress"`
	Message  string    `json:"message,omitempty"`
}

// Bus fans events out to subscribers.
//
// Publish never blocks. A subscriber that doesn't keep up loses events
// instead of stalling the job that published them.
type Bus struct {
	sync.Mutex
	subs   map[*Subscription]bool
	closed bool
}

// NewBus creates a new Bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]bool),
	}
}

// Subscription receives events of a Bus from C.
type Subscription struct {
	C <-chan Event

	c       chan Event
	bus     *Bus
	dropped uint64
	once    sync.Once
}

// Subscribe creates a subscription that buffers up to buf events.
func (b *Bus) Subscribe(buf int) *Subscription {
	if buf < 1 {
		buf = 1
	}
	c := make(chan Event, buf)
	s := &Subscription{C: c, c: c, bus: b}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		close(c)
		return s
	}
	b.subs[s] = true
	return s
}

// Publish sends e to every subscriber that has room for it.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.c <- e:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
}

// Len returns number of subscribers.
func (b *Bus) Len() int {
	b.Lock()
	defer b.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later Publish calls do nothing.
func (b *Bus) Close() {
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.once.Do(func() { close(s.c) })
	}
}

// Close stops the subscription and closes C.
func (s *Subscription) Close() {
	b := s.bus
	b.Lock()
	defer b.Unlock()
	delete(b.subs, s)
	s.once.Do(func() { close(s.c) })
}

// Dropped returns number of events the subscription missed.
func (s *Subscription) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}
