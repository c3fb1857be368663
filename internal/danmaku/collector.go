package danmaku

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/douyu"
	"github.com/livarr/livarr/internal/observability"
)

const dialTimeout = 10 * time.Second

// Collector records a room's chat into a transcript for a bounded
// duration. A connection failure is not an error: the stream recording
// it runs alongside must proceed with an empty transcript.
type Collector struct {
	wsURL     string
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewCollector returns a collector for the configured chat endpoint.
func NewCollector(cfg config.DanmakuConfig, logger *slog.Logger) *Collector {
	return &Collector{
		wsURL:     cfg.WSURL,
		heartbeat: cfg.HeartbeatInterval,
		logger:    observability.WithComponent(logger, "danmaku.collector"),
	}
}

// Collect joins roomID's chat group and writes chat messages to a
// transcript at outputPath until duration elapses, the peer closes the
// socket, or ctx is canceled. It returns the number of entries written.
// The transcript is created and closed even when the socket never
// connects; only filesystem failures are errors.
func (c *Collector) Collect(ctx context.Context, roomID, outputPath string, duration time.Duration) (count int, err error) {
	transcript, terr := CreateTranscript(outputPath)
	if terr != nil {
		return 0, terr
	}
	defer func() {
		if cerr := transcript.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	conn, derr := c.dial(ctx)
	if derr != nil {
		c.logger.Warn("chat socket connect failed",
			slog.String("room_id", roomID),
			slog.String("error", derr.Error()))
		return 0, nil
	}
	defer conn.Close()

	if jerr := c.join(conn, roomID); jerr != nil {
		c.logger.Warn("chat room join failed",
			slog.String("room_id", roomID),
			slog.String("error", jerr.Error()))
		return 0, nil
	}

	start := time.Now()
	deadline := start.Add(duration)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		c.heartbeatLoop(heartbeatCtx, conn)
	}()
	defer func() {
		cancelHeartbeat()
		<-heartbeatDone
	}()

	// A canceled context must unblock a pending read; an expired read
	// deadline is how gorilla reads are interrupted.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		<-watchCtx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			break
		}
		if derr := conn.SetReadDeadline(time.Now().Add(remaining)); derr != nil {
			break
		}
		msgType, data, rerr := conn.ReadMessage()
		if rerr != nil {
			// Deadline expiry, a close frame, and transport errors all
			// end collection with whatever was written so far.
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		for _, payload := range douyu.Payloads(data) {
			fields := douyu.ParseKV(payload)
			if fields["type"] != douyu.TypeChatMessage {
				continue
			}
			text := fields["txt"]
			if text == "" {
				continue
			}
			if werr := transcript.WriteChat(time.Since(start).Seconds(), text); werr != nil {
				return count, werr
			}
			count++
		}
	}

	// Best-effort goodbye; a peer that already went away is fine.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	c.logger.Info("chat collection finished",
		slog.String("room_id", roomID),
		slog.Int("messages", count))
	return count, nil
}

// dial connects to the chat endpoint. The endpoint's TLS stack rejects
// some modern handshake defaults; on a handshake failure it retries
// once pinned to TLS 1.2.
func (c *Collector) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err == nil {
		return conn, nil
	}
	if !strings.Contains(strings.ToLower(err.Error()), "handshake failure") {
		return nil, err
	}
	c.logger.Warn("tls handshake rejected, retrying pinned to tls 1.2",
		slog.String("error", err.Error()))
	dialer.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS12,
	}
	conn, _, err = dialer.DialContext(ctx, c.wsURL, nil)
	return conn, err
}

// join announces the client to the room and subscribes to the full
// message group.
func (c *Collector) join(conn *websocket.Conn, roomID string) error {
	for _, payload := range []string{douyu.LoginPayload(roomID), douyu.JoinGroupPayload(roomID)} {
		if err := conn.WriteMessage(websocket.BinaryMessage, douyu.Pack(payload)); err != nil {
			return fmt.Errorf("sending %q: %w", payload, err)
		}
	}
	return nil
}

// heartbeatLoop keeps the server from dropping the connection. It exits
// on cancellation or the first failed write.
func (c *Collector) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	frame := douyu.Pack(douyu.HeartbeatPayload())
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}
