package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patrickspencer/chatbat/internal/chat"
	"github.com/patrickspencer/chatbat/internal/store"
	"github.com/patrickspencer/chatbat/internal/stream"
)

func msg(id, sender string) store.Message {
	return store.Message{ID: id, Content: "c-" + id, TabID: "t", SenderName: sender}
}

func TestReconcilerDeduplicatesByID(t *testing.T) {
	t.Parallel()

	r := NewReconciler("alice")
	m := msg("m1", "bob")

	require.Len(t, r.Apply(stream.Event{Type: stream.TypeNewMessage, Message: &m}), 1)
	require.Empty(t, r.Apply(stream.Event{Type: stream.TypeNewMessage, Message: &m}))
	require.Len(t, r.Messages(), 1)
}

func TestReconcilerReplaceOnRefresh(t *testing.T) {
	t.Parallel()

	r := NewReconciler("alice")
	r.Apply(stream.Event{Type: stream.TypeHistory, Messages: []store.Message{msg("m1", "bob"), msg("m2", "alice")}})
	require.Len(t, r.Messages(), 2)

	r.Apply(stream.Event{Type: stream.TypeRefresh, Messages: []store.Message{msg("m2", "carol")}})
	got := r.Messages()
	require.Len(t, got, 1)
	require.Equal(t, "carol", got[0].SenderName)

	// m1 was dropped by the refresh, so it is new again.
	require.True(t, r.Add(msg("m1", "bob")))
}

func TestReconcilerParticipants(t *testing.T) {
	t.Parallel()

	r := NewReconciler("alice")
	r.Replace([]store.Message{msg("1", "dave"), msg("2", "alice"), msg("3", "bob"), msg("4", "dave")})
	require.Equal(t, []string{"bob", "dave"}, r.Participants())

	r.SetSelf("bob")
	require.Equal(t, []string{"alice", "dave"}, r.Participants())
}

func TestDecoderSkipsCommentsAndRetry(t *testing.T) {
	t.Parallel()

	body := "retry: 2000\n\n" +
		"event: history\ndata: {\"type\":\"history\",\"messages\":[]}\n\n" +
		": keepalive\n\n" +
		"event: connected\ndata: {\"type\":\"connected\",\"message\":\"Connection established\"}\n\n" +
		"event: newMessage\ndata: {\"type\":\"newMessage\",\n" +
		"data: \"message\":{\"id\":\"m1\",\"content\":\"hi\"}}\n\n"

	dec := NewDecoder(strings.NewReader(body))

	evt, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, stream.TypeHistory, evt.Type)
	require.Empty(t, evt.Messages)

	evt, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, stream.TypeConnected, evt.Type)
	require.Equal(t, "Connection established", evt.Text)

	evt, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, stream.TypeNewMessage, evt.Type)
	require.Equal(t, "m1", evt.Message.ID)

	_, err = dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoderRejectsBadJSON(t *testing.T) {
	t.Parallel()

	dec := NewDecoder(strings.NewReader("event: history\ndata: {not json\n\n"))
	_, err := dec.Next()
	require.Error(t, err)
}

func TestClientSubmitForms(t *testing.T) {
	t.Parallel()

	var forms []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f := map[string]string{}
		for k := range r.PostForm {
			f[k] = r.PostForm.Get(k)
		}
		forms = append(forms, f)
		if f["d"] == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "lock timeout"})
			return
		}
		_ = json.NewEncoder(w).Encode(chat.Result{Success: true})
	}))
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL, "alice")
	require.NotEmpty(t, c.TabID)

	_, err := c.Join(ctx)
	require.NoError(t, err)
	_, err = c.Send(ctx, "hello")
	require.NoError(t, err)
	_, err = c.Rename(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, "carol", c.Name)

	_, err = c.Send(ctx, "fail")
	require.ErrorContains(t, err, "lock timeout")

	require.Len(t, forms, 4)
	require.Equal(t, chat.JoinSentinel, forms[0]["d"])
	require.Equal(t, "true", forms[0]["presence"])
	require.Equal(t, "hello", forms[1]["d"])
	require.Equal(t, c.TabID, forms[1]["tabId"])
	require.Equal(t, "alice", forms[1]["senderName"])
	require.Equal(t, "alice", forms[2]["oldName"])
	require.Equal(t, "carol", forms[2]["senderName"])
	require.Equal(t, "true", forms[2]["nameChange"])
}

func TestClientFollowReportsNewMessagesOnce(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tabId") == "" {
			http.Error(w, "missing tabId", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w,
			"event: history\ndata: {\"type\":\"history\",\"messages\":[{\"id\":\"m1\",\"content\":\"a\"}]}\n\n"+
				"event: newMessage\ndata: {\"type\":\"newMessage\",\"message\":{\"id\":\"m2\",\"content\":\"b\"}}\n\n"+
				"event: newMessage\ndata: {\"type\":\"newMessage\",\"message\":{\"id\":\"m2\",\"content\":\"b\"}}\n\n"+
				"event: refresh\ndata: {\"type\":\"refresh\",\"messages\":[{\"id\":\"m1\",\"content\":\"a\"},{\"id\":\"m2\",\"content\":\"b\"},{\"id\":\"m3\",\"content\":\"c\"}]}\n\n")
	}))
	defer srv.Close()

	c := New(srv.URL, "alice")
	rec := NewReconciler(c.Name)
	var seen []string
	require.NoError(t, c.Follow(context.Background(), rec, func(m store.Message) {
		seen = append(seen, m.ID)
	}))

	require.Equal(t, []string{"m1", "m2", "m3"}, seen)
	require.Len(t, rec.Messages(), 3)
}
