package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puyokura/nchat/logger"
	"github.com/puyokura/nchat/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type monitorFixture struct {
	conn   *fakeConn
	engine *Engine
	server *httptest.Server
}

func newMonitorFixture(t *testing.T, password string) *monitorFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(logger.Nop())
	conn := newFakeConn()
	engine := NewEngine(conn, NewState(), logger.Nop(), hub)
	go hub.Run(ctx)
	go engine.Run(ctx)

	monitor, err := NewMonitor(hub, engine, password, logger.Nop())
	require.NoError(t, err)
	server := httptest.NewServer(monitor.Handler())
	t.Cleanup(server.Close)

	return &monitorFixture{conn: conn, engine: engine, server: server}
}

func readEvent(t *testing.T, ws *websocket.Conn) FeedEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev FeedEvent
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

func waitForMember(t *testing.T, e *Engine, addr netip.AddrPort) {
	t.Helper()
	require.Eventually(t, func() bool {
		var ok bool
		if err := e.Do(context.Background(), func(e *Engine) { ok = e.State().IsMember(addr) }); err != nil {
			return false
		}
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitorFeedStreamsRelayedMessages(t *testing.T) {
	f := newMonitorFixture(t, "")

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, "welcome", readEvent(t, ws).Type)

	f.conn.deliver(datagram(t, model.JoinGroup, "alice", alice, model.DefaultGroup, model.DefaultGroup), alice)
	f.conn.deliver(datagram(t, model.SendMessage, "alice", alice, model.DefaultGroup, "hi"), alice)

	joined := readEvent(t, ws)
	assert.Equal(t, "join", joined.Type)
	require.NotNil(t, joined.Member)
	assert.Equal(t, alice, joined.Member.Address)

	announce := readEvent(t, ws)
	assert.Equal(t, "relay", announce.Type)
	require.NotNil(t, announce.Message)
	assert.Equal(t, model.JoinGroup, announce.Message.Code)
	assert.Equal(t, 1, announce.Recipients)

	chat := readEvent(t, ws)
	assert.Equal(t, "relay", chat.Type)
	require.NotNil(t, chat.Message)
	assert.Equal(t, "hi", chat.Message.Text)
	assert.Equal(t, alice, chat.Message.Sender.Address)
}

func TestMonitorMembersAPI(t *testing.T) {
	f := newMonitorFixture(t, "")
	f.conn.deliver(datagram(t, model.JoinGroup, "bob", bob, model.DefaultGroup, model.DefaultGroup), bob)

	require.Eventually(t, func() bool {
		resp, err := http.Get(f.server.URL + "/api/members")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var list memberList
		if json.NewDecoder(resp.Body).Decode(&list) != nil {
			return false
		}
		return len(list.Members) == 1 && list.Members[0].Address == bob && list.Groups[0] == model.DefaultGroup
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMonitorBroadcastRequiresPassword(t *testing.T) {
	f := newMonitorFixture(t, "hunter2")
	f.conn.deliver(datagram(t, model.JoinGroup, "bob", bob, model.DefaultGroup, model.DefaultGroup), bob)
	waitForMember(t, f.engine, bob)

	post := func(user, pass string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/broadcast", strings.NewReader("server restarting"))
		require.NoError(t, err)
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, post("", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, post(adminUser, "wrong").StatusCode)

	resp := post(adminUser, "hunter2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result broadcastResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.Recipients)

	var last delivery
	for _, d := range f.conn.sent() {
		last = d
	}
	assert.Equal(t, bob, last.to)
	assert.Equal(t, "server restarting", last.msg.Text)
	assert.Equal(t, serverNickname, last.msg.Sender.Nickname)
}

func TestMonitorBroadcastDisabledWithoutPassword(t *testing.T) {
	f := newMonitorFixture(t, "")

	resp, err := http.Post(f.server.URL+"/api/broadcast", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	get, err := http.Get(f.server.URL + "/api/broadcast")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}
