package douyu

import (
	"context"
	"log/slog"
	"sync"
)

// LiveStatus is the result of one room-status probe.
type LiveStatus int

const (
	// StatusUnknown means the probe failed; callers must not treat it as an
	// edge in either direction.
	StatusUnknown LiveStatus = iota
	StatusOffline
	StatusLive
)

func (s LiveStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusLive:
		return "live"
	default:
		return "unknown"
	}
}

// StatusChange is an observed live-state edge.
type StatusChange struct {
	WasLive bool
	IsLive  bool
}

// Monitor polls one room's live status and reports edges. A room is live
// only when it is actually broadcasting; replay loops (videoLoop) do not
// count.
type Monitor struct {
	client   *Client
	streamer string
	roomID   string
	logger   *slog.Logger

	mu          sync.Mutex
	initialized bool
	lastLive    bool
}

// NewMonitor builds a Monitor for one (streamer, room) pair.
func NewMonitor(client *Client, streamer, roomID string) *Monitor {
	return &Monitor{
		client:   client,
		streamer: streamer,
		roomID:   roomID,
		logger: client.logger.With(
			slog.String("component", "douyu.monitor"),
			slog.String("streamer", streamer),
			slog.String("room_id", roomID),
		),
	}
}

// Streamer returns the streamer name this monitor tracks.
func (m *Monitor) Streamer() string {
	return m.streamer
}

// RoomID returns the room this monitor polls.
func (m *Monitor) RoomID() string {
	return m.roomID
}

// IsLive returns the cached status. Before initialization it reports false.
func (m *Monitor) IsLive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && m.lastLive
}

type roomInfoResponse struct {
	Room *roomInfo `json:"room"`
}

type roomInfo struct {
	ShowStatus flexInt `json:"show_status"`
	VideoLoop  flexInt `json:"videoLoop"`
	RoomName   string  `json:"room_name"`
	Nickname   string  `json:"nickname"`
}

// CheckIsStreaming probes the room-status endpoint once. Network and parse
// failures return StatusUnknown so a flaky poll never produces a false edge.
func (m *Monitor) CheckIsStreaming(ctx context.Context) LiveStatus {
	url := m.client.BaseURL() + "/betard/" + m.roomID

	var body roomInfoResponse
	if err := m.client.getJSON(ctx, url, &body); err != nil {
		m.logger.Error("room status request failed", slog.String("error", err.Error()))
		return StatusUnknown
	}
	if body.Room == nil {
		m.logger.Error("room status response missing room object")
		return StatusUnknown
	}

	if body.Room.ShowStatus == 1 && body.Room.VideoLoop == 0 {
		return StatusLive
	}
	return StatusOffline
}

// Initialize fills the cached status with one probe. On failure the cache
// defaults to offline so the first successful live probe produces an edge.
func (m *Monitor) Initialize(ctx context.Context) {
	status := m.CheckIsStreaming(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true

	if status == StatusUnknown {
		m.lastLive = false
		m.logger.Warn("initial status probe failed, defaulting to offline")
		return
	}

	m.lastLive = status == StatusLive
	m.logger.Info("initialized live status", slog.String("status", status.String()))
}

// DetectChange probes once and compares with the cached status. It returns
// nil when the probe failed, when the cache was empty (first call without
// Initialize; the result is cached silently), or when nothing changed.
func (m *Monitor) DetectChange(ctx context.Context) *StatusChange {
	status := m.CheckIsStreaming(ctx)
	if status == StatusUnknown {
		return nil
	}
	live := status == StatusLive

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		m.initialized = true
		m.lastLive = live
		return nil
	}

	if live == m.lastLive {
		return nil
	}

	change := &StatusChange{WasLive: m.lastLive, IsLive: live}
	m.lastLive = live
	return change
}
