package uiws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ws "nhooyr.io/websocket"

	"speakloop/agent/internal/auth"
	"speakloop/agent/internal/store"
)

func setup(t *testing.T) (*Server, *httptest.Server, string) {
	t.Helper()
	st := store.New(0)
	require.NoError(t, st.CreateSession(&store.Session{ID: "s1", CreatedAt: time.Now()}))
	signer := auth.NewSigner("secret", time.Minute, 0)
	srv := NewServer(st, NewRegistry(), signer, zerolog.Nop())
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.Serve(w, r, r.URL.Query().Get("session_id"))
	}))
	t.Cleanup(hs.Close)
	tok, _, err := signer.Issue("s1")
	require.NoError(t, err)
	return srv, hs, tok
}

func wsURL(hs *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/?" + query
}

func TestRejectsBadRequests(t *testing.T) {
	_, hs, tok := setup(t)
	ctx := context.Background()

	_, resp, err := ws.Dial(ctx, wsURL(hs, "session_id=s1"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = ws.Dial(ctx, wsURL(hs, "session_id=other&token="+tok), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoundTrip(t *testing.T) {
	srv, hs, tok := setup(t)
	got := make(chan Message, 4)
	connected := make(chan string, 1)
	srv.OnConnect = func(id string) { connected <- id }
	srv.OnMessage = func(_ string, m Message) { got <- m }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := ws.Dial(ctx, wsURL(hs, "session_id=s1&token="+tok), nil)
	require.NoError(t, err)
	defer c.Close(ws.StatusNormalClosure, "")

	assert.Equal(t, "s1", <-connected)
	require.True(t, srv.Reg.Connected("s1"))

	require.NoError(t, c.Write(ctx, ws.MessageText, []byte(`{"type":"speak_done","command_id":"c1","payload":{"x":1}}`)))
	require.NoError(t, c.Write(ctx, ws.MessageText, []byte(`not json`)))
	m := <-got
	assert.Equal(t, "speak_done", m.Type)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, "c1", m.CommandID)
	assert.InDelta(t, 1.0, m.Float("x"), 1e-9)

	require.NoError(t, srv.Reg.Send(ctx, "s1", Message{Type: "speak", CommandID: "c2", Payload: map[string]any{"text": "hi"}}))
	require.NoError(t, srv.Reg.Send(ctx, "s1", Message{Type: "cleanup"}))
	var out Message
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "speak", out.Type)
	assert.Equal(t, "hi", out.Str("text"))
	assert.Equal(t, int64(1), out.Seq)
	_, data, err = c.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, int64(2), out.Seq)

	require.Eventually(t, func() bool {
		for _, ev := range srv.Store.ListEvents("s1") {
			if ev.Type == "ui_msg_invalid" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	c.Close(ws.StatusNormalClosure, "bye")
	require.Eventually(t, func() bool { return !srv.Reg.Connected("s1") }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, srv.Reg.Send(ctx, "s1", Message{Type: "x"}), ErrNotConnected)
}
