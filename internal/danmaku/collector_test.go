package danmaku

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/douyu"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCollector(url string, heartbeat time.Duration) *Collector {
	return NewCollector(config.DanmakuConfig{WSURL: url, HeartbeatInterval: heartbeat}, testLogger())
}

// newChatServer runs handler on each upgraded connection. Handlers run
// on the server goroutine, so failures are reported with t.Errorf.
func newChatServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chatWSURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// drainJoin consumes the loginreq and joingroup frames every collector
// sends on connect.
func drainJoin(t *testing.T, conn *websocket.Conn) bool {
	t.Helper()
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Errorf("reading join frame %d: %v", i, err)
			return false
		}
	}
	return true
}

func sendClose(conn *websocket.Conn) {
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func TestCollector_WritesChatMessages(t *testing.T) {
	joined := make(chan string, 2)
	srv := newChatServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 2; i++ {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				t.Errorf("reading join frame: %v", err)
				return
			}
			if msgType != websocket.BinaryMessage {
				t.Errorf("join frame type = %d, want binary", msgType)
				return
			}
			payloads := douyu.Payloads(data)
			if len(payloads) != 1 {
				t.Errorf("join frame carried %d payloads, want 1", len(payloads))
				return
			}
			joined <- payloads[0]
		}
		conn.WriteMessage(websocket.BinaryMessage, douyu.Pack("type@=chatmsg/nn@=u1/txt@=hello/"))
		sendClose(conn)
	})

	path := filepath.Join(t.TempDir(), "chat.xml.part")
	collector := newTestCollector(chatWSURL(srv), time.Minute)

	count, err := collector.Collect(context.Background(), "251783", path, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, "type@=loginreq/roomid@=251783/", <-joined)
	assert.Equal(t, "type@=joingroup/rid@=251783/gid@=-9999/", <-joined)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, ">hello</d>")
	assert.Equal(t, 1, strings.Count(content, "<d "))
	assert.True(t, strings.HasSuffix(content, "</i>\n"), "transcript closed cleanly")
}

func TestCollector_IgnoresNonChatFrames(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn) {
		if !drainJoin(t, conn) {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("not an stt frame"))
		conn.WriteMessage(websocket.BinaryMessage, douyu.Pack("type@=uenter/nn@=u2/"))
		conn.WriteMessage(websocket.BinaryMessage, douyu.Pack("type@=chatmsg/txt@=/"))
		conn.WriteMessage(websocket.BinaryMessage, douyu.Pack("type@=chatmsg/txt@=kept/"))
		sendClose(conn)
	})

	path := filepath.Join(t.TempDir(), "chat.xml.part")
	collector := newTestCollector(chatWSURL(srv), time.Minute)

	count, err := collector.Collect(context.Background(), "251783", path, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ">kept</d>")
	assert.Equal(t, 1, strings.Count(string(data), "<d "))
}

func TestCollector_StopsAtDuration(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn) {
		if !drainJoin(t, conn) {
			return
		}
		// Hold the socket open without sending; the collection duration
		// bounds the read.
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		conn.ReadMessage()
	})

	path := filepath.Join(t.TempDir(), "chat.xml.part")
	collector := newTestCollector(chatWSURL(srv), time.Minute)

	start := time.Now()
	count, err := collector.Collect(context.Background(), "251783", path, 300*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "</i>\n"))
}

func TestCollector_ContextCancelStopsEarly(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn) {
		if !drainJoin(t, conn) {
			return
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		conn.ReadMessage()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	path := filepath.Join(t.TempDir(), "chat.xml.part")
	collector := newTestCollector(chatWSURL(srv), time.Minute)

	start := time.Now()
	count, err := collector.Collect(ctx, "251783", path, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCollector_SendsHeartbeats(t *testing.T) {
	heartbeats := make(chan string, 16)
	srv := newChatServer(t, func(conn *websocket.Conn) {
		if !drainJoin(t, conn) {
			return
		}
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			for _, p := range douyu.Payloads(data) {
				select {
				case heartbeats <- p:
				default:
				}
			}
		}
	})

	path := filepath.Join(t.TempDir(), "chat.xml.part")
	collector := newTestCollector(chatWSURL(srv), 50*time.Millisecond)

	_, err := collector.Collect(context.Background(), "251783", path, 400*time.Millisecond)
	require.NoError(t, err)

	select {
	case p := <-heartbeats:
		assert.Equal(t, "type@=mrkl/", p)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat frame received")
	}
}

func TestCollector_ConnectFailureIsNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.xml.part")
	collector := newTestCollector("ws://127.0.0.1:1/", time.Minute)

	count, err := collector.Collect(context.Background(), "251783", path, time.Second)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The transcript exists and is well-formed even without a socket.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<i>\n</i>\n", string(data))
}

func TestCollector_TranscriptCreateFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	collector := newTestCollector("ws://127.0.0.1:1/", time.Minute)
	_, err := collector.Collect(context.Background(), "251783", filepath.Join(blocker, "chat.xml.part"), time.Second)
	assert.Error(t, err)
}
