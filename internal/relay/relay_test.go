package relay_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/relay"
)

// fakeTransport 模拟一条已连接的桌面客户端传输
type fakeTransport struct {
	mu        sync.Mutex
	sent      []protocol.CommandFrame
	onCommand func(frame protocol.CommandFrame)
	sendErr   error
	closed    bool
	code      int
}

func (f *fakeTransport) SendJSON(v any) error {
	frame, ok := v.(protocol.CommandFrame)
	if !ok {
		return nil
	}
	f.mu.Lock()
	sendErr := f.sendErr
	if sendErr == nil {
		f.sent = append(f.sent, frame)
	}
	cb := f.onCommand
	f.mu.Unlock()
	if sendErr != nil {
		return sendErr
	}
	if cb != nil {
		go cb(frame)
	}
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "test:0" }

func (f *fakeTransport) commands() []protocol.CommandFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.CommandFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestRelay(t *testing.T, opts relay.Options) *relay.Relay {
	t.Helper()
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = t.TempDir()
	}
	r := relay.New(opts)
	t.Cleanup(r.Close)
	return r
}

func replyEnvelope(t *testing.T, reply protocol.ScreenshotReply) *protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	return &protocol.Envelope{Type: protocol.TypeScreenshotResponse, Data: data}
}

func TestRequestScreenshotNoClientsConnected(t *testing.T) {
	r := newTestRelay(t, relay.Options{})

	assert.Empty(t, r.ListConnectedSessions())

	start := time.Now()
	result := r.RequestScreenshot("", 5*time.Second)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Equal(t, protocol.CauseNoClientsConnected, result.ErrorMessage)
	assert.Less(t, elapsed, 500*time.Millisecond, "empty registry must fail without waiting")
}

func TestRequestScreenshotNoSuchSession(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	r.Registry().Attach("s1", &fakeTransport{})

	result := r.RequestScreenshot("s2", time.Second)

	assert.False(t, result.Success)
	assert.Equal(t, protocol.CauseNoSuchSession, result.ErrorMessage)
	assert.Equal(t, 0, r.PendingCount())
}

func TestRequestScreenshotTimeout(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	r.Registry().Attach("s1", &fakeTransport{}) // client never replies

	start := time.Now()
	result := r.RequestScreenshot("s1", 200*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Equal(t, protocol.CauseTimeout, result.ErrorMessage)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 0, r.PendingCount())
}

func TestRequestScreenshotSuccessMirrorsPayload(t *testing.T) {
	dir := t.TempDir()
	r := newTestRelay(t, relay.Options{ScreenshotDir: dir})

	image := []byte("fake png bytes")
	tr := &fakeTransport{}
	tr.onCommand = func(frame protocol.CommandFrame) {
		env := replyEnvelope(t, protocol.ScreenshotReply{
			RequestID:   frame.RequestID,
			Success:     true,
			ImageBase64: base64.StdEncoding.EncodeToString(image),
			Width:       1920,
			Height:      1080,
		})
		r.HandleMessage("s1", env, tr)
	}
	r.Registry().Attach("s1", tr)

	result := r.RequestScreenshot("s1", 2*time.Second)

	require.True(t, result.Success, "expected success, got %+v", result)
	assert.Equal(t, 1920, result.Width)
	assert.Equal(t, 1080, result.Height)
	assert.Empty(t, result.ErrorMessage)
	require.NotEmpty(t, result.Location)

	saved, err := os.ReadFile(result.Location)
	require.NoError(t, err)
	assert.Equal(t, image, saved)
}

func TestCaptureFailedReply(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	tr := &fakeTransport{}
	tr.onCommand = func(frame protocol.CommandFrame) {
		env := replyEnvelope(t, protocol.ScreenshotReply{
			RequestID: frame.RequestID,
			Success:   false,
		})
		r.HandleMessage("s1", env, tr)
	}
	r.Registry().Attach("s1", tr)

	result := r.RequestScreenshot("s1", 2*time.Second)

	assert.False(t, result.Success)
	assert.Equal(t, protocol.CauseCaptureFailed, result.ErrorMessage)
}

func TestSendFailureReportsConnectionLost(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	tr := &fakeTransport{sendErr: errors.New("write: broken pipe")}
	r.Registry().Attach("s1", tr)

	start := time.Now()
	result := r.RequestScreenshot("s1", 5*time.Second)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Equal(t, protocol.CauseConnectionLost, result.ErrorMessage,
		"a live session with a failing transport is a lost connection, not a missing session")
	assert.Equal(t, 0, r.PendingCount())
	assert.Less(t, elapsed, time.Second)
}

func TestConnectionLostFailsPendingBeforeTimeout(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	tr := &fakeTransport{}
	r.Registry().Attach("s1", tr)

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Registry().Detach("s1", tr)
	}()

	start := time.Now()
	result := r.RequestScreenshot("s1", 5*time.Second)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Equal(t, protocol.CauseConnectionLost, result.ErrorMessage)
	assert.Less(t, elapsed, time.Second, "disconnect must fail pending requests immediately")
}

func TestSupersededConnectionFailsPending(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	old := &fakeTransport{}
	r.Registry().Attach("s1", old)

	done := make(chan protocol.CommandResult, 1)
	go func() {
		done <- r.RequestScreenshot("s1", 5*time.Second)
	}()

	// 等请求登记后再用同一会话 ID 附着新连接
	require.Eventually(t, func() bool { return len(old.commands()) == 1 }, time.Second, 10*time.Millisecond)
	r.Registry().Attach("s1", &fakeTransport{})

	select {
	case result := <-done:
		assert.False(t, result.Success)
		assert.Equal(t, protocol.CauseConnectionSuperseded, result.ErrorMessage)
		assert.True(t, old.closed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not failed by supersession")
	}
}

func TestOutOfOrderRepliesResolveIndependently(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	tr := &fakeTransport{}
	r.Registry().Attach("s1", tr)

	results := make(chan protocol.CommandResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- r.RequestScreenshot("s1", 5*time.Second)
		}()
	}

	require.Eventually(t, func() bool { return len(tr.commands()) == 2 }, time.Second, 10*time.Millisecond)

	// 按提交的相反顺序应答，宽度编码了响应归属
	frames := tr.commands()
	widthByRequest := map[string]int{
		frames[0].RequestID: 100,
		frames[1].RequestID: 200,
	}
	for i := len(frames) - 1; i >= 0; i-- {
		env := replyEnvelope(t, protocol.ScreenshotReply{
			RequestID: frames[i].RequestID,
			Success:   true,
			Width:     widthByRequest[frames[i].RequestID],
		})
		r.HandleMessage("s1", env, tr)
	}

	for i := 0; i < 2; i++ {
		select {
		case result := <-results:
			require.True(t, result.Success)
			assert.Equal(t, widthByRequest[result.RequestID], result.Width,
				"each request must resolve with its own matching payload")
		case <-time.After(2 * time.Second):
			t.Fatal("request did not resolve")
		}
	}
}

func TestDuplicateReplyIsNoOp(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	tr := &fakeTransport{}
	tr.onCommand = func(frame protocol.CommandFrame) {
		env := replyEnvelope(t, protocol.ScreenshotReply{
			RequestID: frame.RequestID,
			Success:   true,
			Width:     640,
		})
		r.HandleMessage("s1", env, tr)
		// 注入重复响应
		dup := replyEnvelope(t, protocol.ScreenshotReply{
			RequestID: frame.RequestID,
			Success:   false,
		})
		r.HandleMessage("s1", dup, tr)
	}
	r.Registry().Attach("s1", tr)

	result := r.RequestScreenshot("s1", 2*time.Second)

	assert.True(t, result.Success)
	assert.Equal(t, 640, result.Width)
	assert.Equal(t, 0, r.PendingCount())
}

func TestMalformedReplyDropped(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	tr := &fakeTransport{}
	tr.onCommand = func(frame protocol.CommandFrame) {
		// 先注入一条缺 request_id 的响应，再注入正确的
		r.HandleMessage("s1", &protocol.Envelope{
			Type: protocol.TypeScreenshotResponse,
			Data: json.RawMessage(`{"success":true}`),
		}, tr)
		env := replyEnvelope(t, protocol.ScreenshotReply{
			RequestID: frame.RequestID,
			Success:   true,
		})
		r.HandleMessage("s1", env, tr)
	}
	r.Registry().Attach("s1", tr)

	result := r.RequestScreenshot("s1", 2*time.Second)
	assert.True(t, result.Success, "one bad frame must not corrupt the channel")
}

func TestDefaultTargetSelection(t *testing.T) {
	newResponder := func(r *relay.Relay, sessionID string) *fakeTransport {
		tr := &fakeTransport{}
		tr.onCommand = func(frame protocol.CommandFrame) {
			env := replyEnvelope(t, protocol.ScreenshotReply{RequestID: frame.RequestID, Success: true})
			r.HandleMessage(sessionID, env, tr)
		}
		return tr
	}

	t.Run("lexicographic without configured default", func(t *testing.T) {
		r := newTestRelay(t, relay.Options{})
		r.Registry().Attach("beta", newResponder(r, "beta"))
		r.Registry().Attach("alpha", newResponder(r, "alpha"))

		result := r.RequestScreenshot("", 2*time.Second)
		require.True(t, result.Success)
		assert.Equal(t, "alpha", result.SessionID)
	})

	t.Run("configured default wins when live", func(t *testing.T) {
		r := newTestRelay(t, relay.Options{DefaultSession: "beta"})
		r.Registry().Attach("beta", newResponder(r, "beta"))
		r.Registry().Attach("alpha", newResponder(r, "alpha"))

		result := r.RequestScreenshot("", 2*time.Second)
		require.True(t, result.Success)
		assert.Equal(t, "beta", result.SessionID)
	})

	t.Run("offline default falls back", func(t *testing.T) {
		r := newTestRelay(t, relay.Options{DefaultSession: "gone"})
		r.Registry().Attach("alpha", newResponder(r, "alpha"))

		result := r.RequestScreenshot("", 2*time.Second)
		require.True(t, result.Success)
		assert.Equal(t, "alpha", result.SessionID)
	})
}

func TestDesktopStateCache(t *testing.T) {
	r := newTestRelay(t, relay.Options{})
	tr := &fakeTransport{}
	r.Registry().Attach("s1", tr)

	data, err := json.Marshal(protocol.DesktopState{
		Timestamp:         "2026-08-23T10:00:00",
		ActiveWindowTitle: "editor",
	})
	require.NoError(t, err)
	r.HandleMessage("s1", &protocol.Envelope{Type: protocol.TypeDesktopState, Data: data}, tr)

	state, ok := r.DesktopState("s1")
	require.True(t, ok)
	assert.Equal(t, "editor", state.ActiveWindowTitle)

	// 断开后状态被清除
	r.Registry().Detach("s1", tr)
	_, ok = r.DesktopState("s1")
	assert.False(t, ok)
}
