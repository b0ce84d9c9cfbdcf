package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/app/recording"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/core/coretest"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

type testServer struct {
	orch *orch.Orchestrator
	url  string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	engine := coretest.NewEngine()
	rec := recording.NewRecorder(engine, &coretest.Launcher{}, t.TempDir(), time.Second)
	o := orch.New(app.NewRegistry(ctx), engine, rec, &coretest.Store{}, app.SimplePolicy{}, config.MainVideoConfig{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  5,
	})
	ctl := NewSignalWSController(o, opts)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
		o.Wait()
	})
	return &testServer{orch: o, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	// events seen while waiting for responses
	events []message
}

func (s *testServer) dial(t *testing.T) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) read() message {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m message
	require.NoError(c.t, c.ws.ReadJSON(&m))
	return m
}

func (c *client) call(id, typ string, data any) message {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(map[string]any{"type": typ, "id": id, "data": data}))
	for {
		m := c.read()
		if m.Type == "response" && m.ID == id {
			return m
		}
		c.events = append(c.events, m)
	}
}

func (c *client) waitEvent(typ string) message {
	c.t.Helper()
	for i, m := range c.events {
		if m.Type == typ {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return m
		}
	}
	for {
		m := c.read()
		if m.Type == typ {
			return m
		}
		c.events = append(c.events, m)
	}
}

func defaultOptions() Options {
	return Options{PingPeriod: time.Minute, SendBuffer: 16}
}

func TestJoinAndPing(t *testing.T) {
	srv := newTestServer(t, defaultOptions())
	alice := srv.dial(t)

	resp := alice.call("1", "joinRoom", map[string]string{"roomName": "daily", "userId": "alice"})
	require.True(t, resp.OK, "%+v", resp.Error)
	var joined orch.JoinResult
	require.NoError(t, json.Unmarshal(resp.Data, &joined))
	assert.True(t, joined.Joined)
	assert.True(t, joined.IsModerator)

	resp = alice.call("2", "ping", nil)
	assert.True(t, resp.OK)

	resp = alice.call("3", "getParticipants", nil)
	require.True(t, resp.OK)
	var parts struct {
		Participants []domain.Member `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &parts))
	require.Len(t, parts.Participants, 1)
	assert.Equal(t, domain.UserID("alice"), parts.Participants[0].UserID)
}

func TestSecondPeerAnnounced(t *testing.T) {
	srv := newTestServer(t, defaultOptions())
	alice := srv.dial(t)
	bob := srv.dial(t)

	require.True(t, alice.call("1", "joinRoom", map[string]string{"roomName": "daily", "userId": "alice"}).OK)
	resp := bob.call("1", "joinRoom", map[string]string{"roomName": "daily", "userId": "bob"})
	require.True(t, resp.OK)
	var joined orch.JoinResult
	require.NoError(t, json.Unmarshal(resp.Data, &joined))
	assert.False(t, joined.IsModerator)

	ev := alice.waitEvent(string(domain.EventParticipantJoined))
	var data domain.UserData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, domain.UserID("bob"), data.UserID)

	// Only the moderator may mute everyone.
	resp = bob.call("2", "muteAll", nil)
	require.False(t, resp.OK)
	assert.Equal(t, domain.CodeNotAuthorized, resp.Error.Code)
}

func TestInvalidRequests(t *testing.T) {
	srv := newTestServer(t, defaultOptions())
	c := srv.dial(t)

	resp := c.call("1", "joinRoom", map[string]string{"roomName": "daily"})
	require.False(t, resp.OK)
	assert.Equal(t, domain.CodeInvalidRequest, resp.Error.Code)

	resp = c.call("2", "joinRoom", map[string]string{"roomName": strings.Repeat("r", 65), "userId": "u"})
	require.False(t, resp.OK)
	assert.Equal(t, domain.CodeInvalidRequest, resp.Error.Code)

	resp = c.call("3", "noSuchThing", nil)
	require.False(t, resp.OK)
	assert.Equal(t, domain.CodeInvalidRequest, resp.Error.Code)

	resp = c.call("4", "setStreamQuality", map[string]string{"consumerId": "c1", "quality": "ultra"})
	require.False(t, resp.OK)
	assert.Equal(t, domain.CodeInvalidRequest, resp.Error.Code)

	resp = c.call("5", "createTransport", nil)
	require.False(t, resp.OK)
	assert.Equal(t, domain.CodeNotFound, resp.Error.Code)

	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	m := c.read()
	assert.Equal(t, "response", m.Type)
	assert.False(t, m.OK)
	assert.Equal(t, domain.CodeInvalidRequest, m.Error.Code)
}

func TestRateLimited(t *testing.T) {
	opts := defaultOptions()
	opts.RateLimit = 2
	opts.RateInterval = time.Minute
	srv := newTestServer(t, opts)
	c := srv.dial(t)

	assert.True(t, c.call("1", "ping", nil).OK)
	assert.True(t, c.call("2", "ping", nil).OK)
	resp := c.call("3", "ping", nil)
	require.False(t, resp.OK)
	assert.Equal(t, domain.CodeRateLimited, resp.Error.Code)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	srv := newTestServer(t, defaultOptions())
	c := srv.dial(t)
	require.True(t, c.call("1", "joinRoom", map[string]string{"roomName": "daily", "userId": "alice"}).OK)

	_, ok := srv.orch.Registry.Get("daily")
	require.True(t, ok)

	require.NoError(t, c.ws.Close())
	assert.Eventually(t, func() bool {
		_, ok := srv.orch.Registry.Get("daily")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestKickClosesConnection(t *testing.T) {
	srv := newTestServer(t, defaultOptions())
	alice := srv.dial(t)
	bob := srv.dial(t)
	require.True(t, alice.call("1", "joinRoom", map[string]string{"roomName": "daily", "userId": "alice"}).OK)
	require.True(t, bob.call("1", "joinRoom", map[string]string{"roomName": "daily", "userId": "bob"}).OK)

	require.True(t, alice.call("2", "kickParticipant", map[string]string{"userId": "bob"}).OK)

	ev := bob.waitEvent(string(domain.EventKicked))
	var data domain.KickedData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, domain.UserID("alice"), data.By)

	require.NoError(t, bob.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := bob.ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestConnBackpressure(t *testing.T) {
	c := newWsSignalConn(nil, 1)
	require.NoError(t, c.TrySend([]byte("a")))
	assert.ErrorIs(t, c.TrySend([]byte("b")), ErrBackpressure)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.TrySend([]byte("c")), ErrConnClosed)
}
