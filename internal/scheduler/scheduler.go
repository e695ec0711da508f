package scheduler

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// idleWait bounds how long the loop sleeps when nothing is scheduled.
const idleWait = time.Hour

// Run describes one firing handed to the callback.
type Run struct {
	Name      string
	Scheduled time.Time
	// Missed counts occurrences dropped since the previous firing, either
	// because they were too late or because the previous firing was still
	// in progress.
	Missed int
}

type entry struct {
	name     string
	schedule cron.Schedule
	next     time.Time
	missed   int
	index    int
}

type queue []*entry

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].next.Before(q[j].next) }
func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *queue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *queue) Pop() any {
	old := *q
	e := old[len(old)-1]
	*q = old[:len(old)-1]
	e.index = -1
	return e
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMaxDelay drops occurrences that are found due more than d after their
// scheduled time, e.g. after the host was suspended. Zero fires every late
// occurrence once.
func WithMaxDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.maxDelay = d }
}

// Scheduler fires named entries on cron schedules. Each firing runs on its
// own goroutine; an entry never overlaps with itself.
type Scheduler struct {
	fire     func(Run)
	now      func() time.Time
	maxDelay time.Duration

	mu      sync.Mutex
	byName  map[string]*entry
	queue   queue
	running map[string]bool
	wake    chan struct{}

	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// New creates a Scheduler that calls fire for every due entry.
func New(fire func(Run), opts ...Option) *Scheduler {
	s := &Scheduler{
		fire:    fire,
		now:     time.Now,
		byName:  make(map[string]*entry),
		running: make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add schedules name, replacing an existing entry of the same name.
func (s *Scheduler) Add(name string, schedule cron.Schedule) {
	s.mu.Lock()
	if e, ok := s.byName[name]; ok {
		heap.Remove(&s.queue, e.index)
	}
	e := &entry{name: name, schedule: schedule, next: NextTime(schedule, s.now())}
	s.byName[name] = e
	heap.Push(&s.queue, e)
	s.mu.Unlock()
	s.poke()
}

// Remove unschedules name. A firing already in progress completes.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	if e, ok := s.byName[name]; ok {
		heap.Remove(&s.queue, e.index)
		delete(s.byName, name)
	}
	s.mu.Unlock()
	s.poke()
}

// NextRun returns the next scheduled time of name.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byName[name]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// Names returns the scheduled names in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs the scheduling loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()
	go s.loop(ctx)
}

// Stop ends the loop and waits for firings in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.inflight.Wait()
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	timer := time.NewTimer(idleWait)
	defer timer.Stop()
	for {
		now := s.now()
		s.mu.Lock()
		due := s.collectDueLocked(now)
		wait := idleWait
		if len(s.queue) > 0 {
			wait = max(s.queue[0].next.Sub(now), 0)
		}
		s.mu.Unlock()

		for _, r := range due {
			s.dispatch(r)
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// collectDueLocked advances every entry due at now and returns the runs to
// fire. Caller must hold s.mu.
func (s *Scheduler) collectDueLocked(now time.Time) []Run {
	var due []Run
	for len(s.queue) > 0 && !s.queue[0].next.After(now) {
		e := s.queue[0]
		scheduled := e.next
		e.next = NextTime(e.schedule, now)
		heap.Fix(&s.queue, 0)

		if (s.maxDelay > 0 && now.Sub(scheduled) > s.maxDelay) || s.running[e.name] {
			e.missed++
			continue
		}
		due = append(due, Run{Name: e.name, Scheduled: scheduled, Missed: e.missed})
		e.missed = 0
		s.running[e.name] = true
	}
	return due
}

func (s *Scheduler) dispatch(r Run) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, r.Name)
			s.mu.Unlock()
		}()
		s.fire(r)
	}()
}
