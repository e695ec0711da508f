package chat

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/patrickspencer/chatbat/internal/realtime"
	"github.com/patrickspencer/chatbat/internal/store"
)

// countingLog wraps a MessageLog and counts mutations.
type countingLog struct {
	store.MessageLog
	mu        sync.Mutex
	mutations int
	appendErr error
}

func (c *countingLog) Append(ctx context.Context, msg store.Message) error {
	if c.appendErr != nil {
		return c.appendErr
	}
	c.mu.Lock()
	c.mutations++
	c.mu.Unlock()
	return c.MessageLog.Append(ctx, msg)
}

func (c *countingLog) RewriteSenderName(ctx context.Context, oldName, newName string) (bool, error) {
	c.mu.Lock()
	c.mutations++
	c.mu.Unlock()
	return c.MessageLog.RewriteSenderName(ctx, oldName, newName)
}

// recordingJournal wraps a Journal and records publishes.
type recordingJournal struct {
	realtime.Journal
	mu        sync.Mutex
	published []realtime.Class
	payloads  []realtime.Payload
	err       error
}

func (r *recordingJournal) Publish(ctx context.Context, class realtime.Class, p realtime.Payload) error {
	r.mu.Lock()
	r.published = append(r.published, class)
	r.payloads = append(r.payloads, p)
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return r.Journal.Publish(ctx, class, p)
}

type fixture struct {
	svc     *Service
	log     *countingLog
	journal *recordingJournal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fl, err := store.NewFileLog(store.FileLogOptions{Dir: t.TempDir(), Capacity: 100, LockTimeout: time.Second})
	require.NoError(t, err)
	log := &countingLog{MessageLog: fl}
	journal := &recordingJournal{Journal: realtime.NewMemoryJournal()}
	return &fixture{
		svc:     NewService(log, journal, zerolog.Nop()),
		log:     log,
		journal: journal,
	}
}

func values(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

var testLimits = Limits{MaxMessageLength: 100, MaxNameLength: 20}

func TestParseRequestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      url.Values
		want    Request
		wantErr error
	}{
		{
			name:    "empty body",
			in:      values("tabId", "t1", "senderName", "alice"),
			wantErr: ErrEmptyPayload,
		},
		{
			name: "rename wins over presence",
			in:   values("d", NameChangeSentinel, "tabId", "t1", "senderName", "bob", "nameChange", "true", "oldName", "alice", "presence", "true"),
			want: RenameRequest{TabID: "t1", OldName: "alice", NewName: "bob"},
		},
		{
			name:    "rename without old name",
			in:      values("d", NameChangeSentinel, "tabId", "t1", "senderName", "bob", "nameChange", "true"),
			wantErr: ErrOldNameRequired,
		},
		{
			name: "presence flag",
			in:   values("d", "hi", "tabId", "t1", "senderName", "alice", "presence", "true"),
			want: PresenceRequest{TabID: "t1", SenderName: "alice"},
		},
		{
			name: "join sentinel",
			in:   values("d", JoinSentinel, "tabId", "t1", "senderName", "alice"),
			want: PresenceRequest{TabID: "t1", SenderName: "alice"},
		},
		{
			name: "ordinary message with default sender",
			in:   values("d", "hello", "tabId", "t1"),
			want: MessageRequest{TabID: "t1", SenderName: "Anonymous", Content: "hello"},
		},
		{
			name: "sender name is sanitized",
			in:   values("d", "hello", "tabId", "t1", "senderName", "  ali\x00ce  "),
			want: MessageRequest{TabID: "t1", SenderName: "alice", Content: "hello"},
		},
		{
			name:    "message too long",
			in:      values("d", strings.Repeat("x", 101), "tabId", "t1"),
			wantErr: ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.in, testLimits)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseRequestGivesEachAnonymousPeerItsOwnTab(t *testing.T) {
	t.Parallel()

	first, err := ParseRequest(values("d", "hello"), testLimits)
	require.NoError(t, err)
	second, err := ParseRequest(values("d", "hello", "tabId", "   "), testLimits)
	require.NoError(t, err)

	a := first.(MessageRequest).TabID
	b := second.(MessageRequest).TabID
	require.True(t, strings.HasPrefix(a, anonymousTabPrefix), a)
	require.True(t, strings.HasPrefix(b, anonymousTabPrefix), b)
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, AnonymousTabID())
}

func TestHandleMessageAppendsAndPublishes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Handle(ctx, MessageRequest{TabID: "t1", SenderName: "alice", Content: "hello"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.Message)
	require.Equal(t, "hello", res.Message.Content)
	require.Equal(t, "t1", res.Message.TabID)

	require.Equal(t, 1, f.log.mutations)
	require.Equal(t, []realtime.Class{realtime.ClassNewMessage}, f.journal.published)
	require.Equal(t, realtime.Payload{MessageID: res.Message.ID, ExcludeTabID: "t1"}, f.journal.payloads[0])

	snap, err := f.log.ReadAll(ctx)
	require.NoError(t, err)
	require.NotEqual(t, -1, snap.IndexOf(res.Message.ID))
}

func TestHandlePresencePublishesRefreshOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.svc.Handle(context.Background(), PresenceRequest{TabID: "t1", SenderName: "alice"})
	require.NoError(t, err)
	require.Equal(t, "presence", res.Type)
	require.Equal(t, "alice", res.SenderName)
	require.True(t, res.Refresh)

	require.Equal(t, 0, f.log.mutations)
	require.Equal(t, []realtime.Class{realtime.ClassRefresh}, f.journal.published)
}

func TestHandleRenameRewritesAndAlwaysRefreshes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Handle(ctx, MessageRequest{TabID: "t1", SenderName: "alice", Content: "one"})
	require.NoError(t, err)
	_, err = f.svc.Handle(ctx, MessageRequest{TabID: "t2", SenderName: "bob", Content: "two"})
	require.NoError(t, err)

	res, err := f.svc.Handle(ctx, RenameRequest{TabID: "t1", OldName: "alice", NewName: "carol"})
	require.NoError(t, err)
	require.True(t, res.Updated)
	require.Equal(t, "nameChange", res.Type)

	snap, err := f.log.ReadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, "carol", snap.Messages[0].SenderName)
	require.Equal(t, "bob", snap.Messages[1].SenderName)

	res, err = f.svc.Handle(ctx, RenameRequest{TabID: "t3", OldName: "nobody", NewName: "dave"})
	require.NoError(t, err)
	require.False(t, res.Updated)

	require.Equal(t, 4, f.log.mutations)
	require.Equal(t, []realtime.Class{
		realtime.ClassNewMessage,
		realtime.ClassNewMessage,
		realtime.ClassRefresh,
		realtime.ClassRefresh,
	}, f.journal.published)
}

func TestHandleAppendFailureSkipsPublish(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.log.appendErr = store.ErrLockTimeout

	_, err := f.svc.Handle(context.Background(), MessageRequest{TabID: "t1", SenderName: "alice", Content: "hello"})
	require.ErrorIs(t, err, store.ErrLockTimeout)
	require.Empty(t, f.journal.published)
}

func TestHandlePublishFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.journal.err = errors.New("disk full")

	res, err := f.svc.Handle(ctx, MessageRequest{TabID: "t1", SenderName: "alice", Content: "hello"})
	require.NoError(t, err)
	require.True(t, res.Success)

	snap, err := f.log.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
}
