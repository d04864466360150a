package server_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/auth"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/database"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/relay"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/server"
)

type testEnv struct {
	relay *relay.Relay
	srv   *server.Server
	http  *httptest.Server
	store *database.MemorySessionStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	r := relay.New(relay.Options{ScreenshotDir: t.TempDir()})
	t.Cleanup(r.Close)

	store := database.NewMemorySessionStore()
	authenticator := auth.NewAuthenticator("secret", nil)
	s := server.NewServer(server.Options{
		HealthCheckInterval: time.Minute,
		InactiveTimeout:     2 * time.Minute,
	}, authenticator, r, store)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{relay: r, srv: s, http: ts, store: store}
}

func (e *testEnv) dial(t *testing.T, sessionID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") +
		"/ws/client?session_id=" + sessionID + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, v any) error {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn.ReadJSON(v)
}

func TestConnectionAcceptedWithValidToken(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "desktop-1", "secret")

	var status protocol.ConnectionStatusFrame
	require.NoError(t, readFrame(t, conn, &status))
	assert.Equal(t, protocol.TypeConnectionStatus, status.Type)
	assert.Equal(t, "connected", status.Status)
	assert.Equal(t, "desktop-1", status.SessionID)
	assert.Greater(t, status.InactiveTimeout, 0.0)

	require.Eventually(t, func() bool {
		return len(env.relay.ListConnectedSessions()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"desktop-1"}, env.relay.ListConnectedSessions())

	record, err := env.store.Get("desktop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.AttachCount)
}

func TestConnectionRejectedWithBadToken(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "desktop-1", "wrong")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, protocol.CauseAuthRejected, closeErr.Text)

	assert.Empty(t, env.relay.ListConnectedSessions())
}

func TestConnectionRejectedOnUnknownPath(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/other?session_id=d1&token=secret"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestHeartbeatAck(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "desktop-1", "secret")

	var status protocol.ConnectionStatusFrame
	require.NoError(t, readFrame(t, conn, &status))

	for i := 1; i <= 2; i++ {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": protocol.TypeHeartbeat}))

		var ack protocol.HeartbeatAckFrame
		require.NoError(t, readFrame(t, conn, &ack))
		assert.Equal(t, protocol.TypeHeartbeatAck, ack.Type)
		assert.Equal(t, i, ack.HeartbeatCount)
	}
}

func TestScreenshotRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "desktop-1", "secret")

	var status protocol.ConnectionStatusFrame
	require.NoError(t, readFrame(t, conn, &status))

	// 模拟桌面客户端：收到命令后回一个成功的截图响应
	go func() {
		var cmd protocol.CommandFrame
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"type": protocol.TypeScreenshotResponse,
			"data": protocol.ScreenshotReply{
				RequestID: cmd.RequestID,
				Success:   true,
				Width:     800,
				Height:    600,
			},
		})
	}()

	require.Eventually(t, func() bool {
		return len(env.relay.ListConnectedSessions()) == 1
	}, time.Second, 10*time.Millisecond)

	result := env.relay.RequestScreenshot("desktop-1", 2*time.Second)
	require.True(t, result.Success, "expected success, got %+v", result)
	assert.Equal(t, 800, result.Width)
	assert.Equal(t, 600, result.Height)
}

func TestMalformedMessageKeepsConnectionAlive(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "desktop-1", "secret")

	var status protocol.ConnectionStatusFrame
	require.NoError(t, readFrame(t, conn, &status))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": protocol.TypeHeartbeat}))

	var ack protocol.HeartbeatAckFrame
	require.NoError(t, readFrame(t, conn, &ack))
	assert.Equal(t, protocol.TypeHeartbeatAck, ack.Type)
}

func TestSupersededConnectionIsClosed(t *testing.T) {
	env := newTestEnv(t)
	first := env.dial(t, "desktop-1", "secret")

	var status protocol.ConnectionStatusFrame
	require.NoError(t, readFrame(t, first, &status))

	second := env.dial(t, "desktop-1", "secret")
	require.NoError(t, readFrame(t, second, &status))

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, protocol.CloseSuperseded, closeErr.Code)

	// 新连接仍然在线
	assert.Equal(t, []string{"desktop-1"}, env.relay.ListConnectedSessions())

	require.NoError(t, second.WriteJSON(map[string]string{"type": protocol.TypeHeartbeat}))
	var ack protocol.HeartbeatAckFrame
	require.NoError(t, readFrame(t, second, &ack))
}

func TestStatsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "desktop-1", "secret")

	var status protocol.ConnectionStatusFrame
	require.NoError(t, readFrame(t, conn, &status))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": protocol.TypeHeartbeat}))
	var ack protocol.HeartbeatAckFrame
	require.NoError(t, readFrame(t, conn, &ack))

	stats := env.srv.Stats()
	assert.Equal(t, 1, stats.ActiveConnections)
	assert.Equal(t, int64(1), stats.TotalConnections)
	require.Contains(t, stats.Connections, "desktop-1")
	assert.Equal(t, 1, stats.Connections["desktop-1"].HeartbeatCount)
}
