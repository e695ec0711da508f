package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryJournal is an in-process journal for single-process deployments. It
// keeps the latest record per class in memory and wakes subscribed
// dispatchers on every publish.
type MemoryJournal struct {
	mu      sync.RWMutex
	records map[Class]Record
	now     func() time.Time

	nextCh int64
	subs   map[int64]chan struct{}
}

// NewMemoryJournal creates a MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		records: make(map[Class]Record),
		subs:    make(map[int64]chan struct{}),
		now:     time.Now,
	}
}

// Publish stores the record and wakes all subscribers.
// Subscribers that have not consumed a previous wake-up are not blocked on;
// one pending wake-up is enough for them to poll every class.
func (j *MemoryJournal) Publish(_ context.Context, class Class, p Payload) error {
	if err := checkClass(class); err != nil {
		return err
	}

	j.mu.Lock()
	prev := j.records[class]
	j.records[class] = Record{Time: nextTime(j.now(), prev.Time), Payload: p}
	j.mu.Unlock()

	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, ch := range j.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Poll returns the record of class if it is newer than since.
func (j *MemoryJournal) Poll(_ context.Context, class Class, since int64) (Record, bool, error) {
	if err := checkClass(class); err != nil {
		return Record{}, false, err
	}
	j.mu.RLock()
	rec, ok := j.records[class]
	j.mu.RUnlock()
	rec, fired := pollRecord(rec, ok, since)
	return rec, fired, nil
}

// Subscribe registers a wake-up channel and returns it with a cancel func.
func (j *MemoryJournal) Subscribe() (<-chan struct{}, func()) {
	id := atomic.AddInt64(&j.nextCh, 1)
	ch := make(chan struct{}, 1)

	j.mu.Lock()
	j.subs[id] = ch
	j.mu.Unlock()

	cancel := func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if c, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Subscribers returns the number of registered wake-up channels.
func (j *MemoryJournal) Subscribers() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.subs)
}

// Close is a no-op.
func (j *MemoryJournal) Close() error {
	return nil
}
