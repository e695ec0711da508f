package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// soon fires a fixed delay after every reference time.
type soon time.Duration

func (d soon) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"*/5 * * * *", "0 9 * * 1-5", "@hourly", "@every 30s", " @daily "} {
		_, err := ParseSchedule(expr)
		require.NoError(t, err, expr)
	}
	for _, expr := range []string{"", "* * *", "61 * * * *", "@sometimes"} {
		_, err := ParseSchedule(expr)
		require.Error(t, err, expr)
	}
}

func TestSchedulerFiresAndReschedules(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		fired = map[string]int{}
	)
	s := New(func(r Run) {
		mu.Lock()
		fired[r.Name]++
		mu.Unlock()
	})
	s.Add("fast", soon(10*time.Millisecond))
	s.Add("slow", soon(time.Hour))
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired["fast"] >= 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Zero(t, fired["slow"])
	mu.Unlock()
}

func TestSchedulerAddReplacesAndRemove(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	s := New(func(Run) {}, WithClock(clock.now))
	s.Add("a", soon(time.Hour))
	s.Add("b", soon(time.Minute))
	s.Add("a", soon(time.Second))
	require.Equal(t, []string{"a", "b"}, s.Names())

	next, ok := s.NextRun("a")
	require.True(t, ok)
	require.Equal(t, clock.now().Add(time.Second), next)

	s.Remove("a")
	_, ok = s.NextRun("a")
	require.False(t, ok)
	require.Equal(t, []string{"b"}, s.Names())

	// Removing an unknown name is a no-op.
	s.Remove("zzz")
	require.Equal(t, []string{"b"}, s.Names())
}

func TestCollectDueDropsLateOccurrences(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	s := New(func(Run) {}, WithClock(clock.now), WithMaxDelay(time.Minute))
	s.Add("standup", soon(10*time.Minute))

	// Host asleep well past the scheduled time.
	clock.advance(time.Hour)
	s.mu.Lock()
	due := s.collectDueLocked(clock.now())
	s.mu.Unlock()
	require.Empty(t, due)

	next, _ := s.NextRun("standup")
	require.Equal(t, clock.now().Add(10*time.Minute), next)

	clock.advance(10*time.Minute + time.Second)
	s.mu.Lock()
	due = s.collectDueLocked(clock.now())
	s.mu.Unlock()
	require.Len(t, due, 1)
	require.Equal(t, "standup", due[0].Name)
	require.Equal(t, 1, due[0].Missed)
	require.Equal(t, next, due[0].Scheduled)
}

func TestCollectDueSkipsEntryStillRunning(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	s := New(func(Run) {}, WithClock(clock.now))
	s.Add("slow", soon(time.Second))

	clock.advance(time.Second)
	s.mu.Lock()
	require.Len(t, s.collectDueLocked(clock.now()), 1)
	s.mu.Unlock()

	clock.advance(time.Second)
	s.mu.Lock()
	require.Empty(t, s.collectDueLocked(clock.now()))
	delete(s.running, "slow")
	s.mu.Unlock()

	clock.advance(time.Second)
	s.mu.Lock()
	due := s.collectDueLocked(clock.now())
	s.mu.Unlock()
	require.Len(t, due, 1)
	require.Equal(t, 1, due[0].Missed)
}

func TestStopWaitsForFiringInProgress(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished bool
	s := New(func(Run) {
		close(started)
		<-release
		finished = true
	})
	s.Add("once", soon(time.Millisecond))
	s.Start(context.Background())

	<-started
	s.Remove("once")
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	s.Stop()
	require.True(t, finished)
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	s := New(func(Run) {})
	s.Stop()
}
