package realtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patrickspencer/chatbat/internal/store"
)

type journalFactory func(t *testing.T) Journal

func journalBackends() map[string]journalFactory {
	backends := map[string]journalFactory{
		"memory": func(t *testing.T) Journal { return NewMemoryJournal() },
		"file": func(t *testing.T) Journal {
			j, err := NewFileJournal(t.TempDir(), time.Second)
			require.NoError(t, err)
			return j
		},
		"sqlite": func(t *testing.T) Journal {
			db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "chatbat.db"), time.Second)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			j, err := NewSQLiteJournal(db)
			require.NoError(t, err)
			return j
		},
	}
	if url := os.Getenv("CHATBAT_TEST_REDIS_URL"); url != "" {
		backends["redis"] = func(t *testing.T) Journal {
			key := "chatbat:test:" + t.Name()
			j, err := NewRedisJournal(context.Background(), url, key)
			require.NoError(t, err)
			t.Cleanup(func() {
				j.client.Del(context.Background(), key)
				_ = j.Close()
			})
			return j
		}
	}
	return backends
}

func TestJournalContract(t *testing.T) {
	for name, factory := range journalBackends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			t.Run("empty journal never fires", func(t *testing.T) {
				j := factory(t)
				_, fired, err := j.Poll(context.Background(), ClassRefresh, 0)
				require.NoError(t, err)
				require.False(t, fired)
			})

			t.Run("record is consumed once per watermark", func(t *testing.T) {
				ctx := context.Background()
				j := factory(t)
				require.NoError(t, j.Publish(ctx, ClassNewMessage, Payload{MessageID: "m1", ExcludeTabID: "t1"}))

				rec, fired, err := j.Poll(ctx, ClassNewMessage, 0)
				require.NoError(t, err)
				require.True(t, fired)
				require.Equal(t, "m1", rec.MessageID)
				require.True(t, rec.Excludes("t1"))
				require.False(t, rec.Excludes("t2"))

				_, fired, err = j.Poll(ctx, ClassNewMessage, rec.Time)
				require.NoError(t, err)
				require.False(t, fired)
			})

			t.Run("last write wins and time increases", func(t *testing.T) {
				ctx := context.Background()
				j := factory(t)
				require.NoError(t, j.Publish(ctx, ClassNewMessage, Payload{MessageID: "m1"}))
				first, _, err := j.Poll(ctx, ClassNewMessage, 0)
				require.NoError(t, err)

				require.NoError(t, j.Publish(ctx, ClassNewMessage, Payload{MessageID: "m2"}))
				require.NoError(t, j.Publish(ctx, ClassNewMessage, Payload{MessageID: "m3"}))

				rec, fired, err := j.Poll(ctx, ClassNewMessage, first.Time)
				require.NoError(t, err)
				require.True(t, fired)
				require.Equal(t, "m3", rec.MessageID)
				require.Greater(t, rec.Time, first.Time)
			})

			t.Run("classes are independent", func(t *testing.T) {
				ctx := context.Background()
				j := factory(t)
				require.NoError(t, j.Publish(ctx, ClassRefresh, Payload{}))

				_, fired, err := j.Poll(ctx, ClassNewMessage, 0)
				require.NoError(t, err)
				require.False(t, fired)

				rec, fired, err := j.Poll(ctx, ClassRefresh, 0)
				require.NoError(t, err)
				require.True(t, fired)
				require.Empty(t, rec.MessageID)
			})

			t.Run("unknown class is rejected", func(t *testing.T) {
				j := factory(t)
				require.Error(t, j.Publish(context.Background(), Class("bogus"), Payload{}))
			})
		})
	}
}

func TestFileJournalSharedAcrossInstances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	writer, err := NewFileJournal(dir, time.Second)
	require.NoError(t, err)
	reader, err := NewFileJournal(dir, time.Second)
	require.NoError(t, err)

	require.NoError(t, writer.Publish(ctx, ClassNewMessage, Payload{MessageID: "m1"}))
	require.NoError(t, writer.Publish(ctx, ClassRefresh, Payload{}))

	rec, fired, err := reader.Poll(ctx, ClassNewMessage, 0)
	require.NoError(t, err)
	require.True(t, fired)
	require.Equal(t, "m1", rec.MessageID)

	_, fired, err = reader.Poll(ctx, ClassRefresh, 0)
	require.NoError(t, err)
	require.True(t, fired)
}

func TestFileJournalCorruptFileReadsEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	j, err := NewFileJournal(dir, time.Second)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFileName), []byte("[]garbage"), 0644))
	_, fired, err := j.Poll(ctx, ClassRefresh, 0)
	require.NoError(t, err)
	require.False(t, fired)

	require.NoError(t, j.Publish(ctx, ClassRefresh, Payload{}))
	_, fired, err = j.Poll(ctx, ClassRefresh, 0)
	require.NoError(t, err)
	require.True(t, fired)
}

func TestNextTimeIsStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0)
	require.Equal(t, now.UnixNano(), nextTime(now, 0))
	require.Equal(t, now.UnixNano()+1, nextTime(now, now.UnixNano()))
	require.Equal(t, now.UnixNano()+6, nextTime(now, now.UnixNano()+5))
}

func TestMemoryJournalWakesSubscribers(t *testing.T) {
	t.Parallel()

	j := NewMemoryJournal()
	wake, cancel := j.Subscribe()
	require.Equal(t, 1, j.Subscribers())

	require.NoError(t, j.Publish(context.Background(), ClassRefresh, Payload{}))
	require.NoError(t, j.Publish(context.Background(), ClassNewMessage, Payload{MessageID: "m1"}))

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("expected wake-up after publish")
	}

	cancel()
	require.Equal(t, 0, j.Subscribers())
	_, ok := <-wake
	require.False(t, ok)
}
