package douyu

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roomServer serves /betard/{room} with a settable response.
type roomServer struct {
	mu     sync.Mutex
	status int    // HTTP status; 0 means 200
	body   string // JSON body
}

func (s *roomServer) set(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

func (s *roomServer) start(t *testing.T) (*httptest.Server, *Monitor) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, body := s.status, s.body
		s.mu.Unlock()

		assert.Equal(t, "/betard/251783", r.URL.Path)
		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	monitor := NewMonitor(testClient(t, server.URL), "洞主", "251783")
	return server, monitor
}

const (
	liveBody    = `{"room":{"show_status":1,"videoLoop":0,"room_name":"盲僧教学","nickname":"洞主"}}`
	offlineBody = `{"room":{"show_status":2,"videoLoop":0}}`
	loopBody    = `{"room":{"show_status":1,"videoLoop":1}}`
)

func TestMonitor_CheckIsStreaming(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected LiveStatus
	}{
		{"live", 0, liveBody, StatusLive},
		{"offline", 0, offlineBody, StatusOffline},
		{"replay loop is not live", 0, loopBody, StatusOffline},
		{"string-typed fields", 0, `{"room":{"show_status":"1","videoLoop":"0"}}`, StatusLive},
		{"http error", http.StatusInternalServerError, "", StatusUnknown},
		{"invalid json", 0, "not json", StatusUnknown},
		{"missing room object", 0, `{"foo":1}`, StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &roomServer{}
			srv.set(tt.status, tt.body)
			_, monitor := srv.start(t)

			assert.Equal(t, tt.expected, monitor.CheckIsStreaming(context.Background()))
		})
	}
}

func TestMonitor_Initialize(t *testing.T) {
	t.Run("caches probed status", func(t *testing.T) {
		srv := &roomServer{}
		srv.set(0, liveBody)
		_, monitor := srv.start(t)

		monitor.Initialize(context.Background())
		assert.True(t, monitor.IsLive())
	})

	t.Run("probe failure defaults to offline", func(t *testing.T) {
		srv := &roomServer{}
		srv.set(http.StatusInternalServerError, "")
		_, monitor := srv.start(t)

		monitor.Initialize(context.Background())
		assert.False(t, monitor.IsLive())
	})

	t.Run("uninitialized reports offline", func(t *testing.T) {
		srv := &roomServer{}
		srv.set(0, liveBody)
		_, monitor := srv.start(t)

		assert.False(t, monitor.IsLive())
	})
}

func TestMonitor_DetectChange(t *testing.T) {
	ctx := context.Background()

	t.Run("offline to live edge", func(t *testing.T) {
		srv := &roomServer{}
		srv.set(0, offlineBody)
		_, monitor := srv.start(t)
		monitor.Initialize(ctx)

		srv.set(0, liveBody)
		change := monitor.DetectChange(ctx)
		require.NotNil(t, change)
		assert.False(t, change.WasLive)
		assert.True(t, change.IsLive)
		assert.True(t, monitor.IsLive())
	})

	t.Run("live to offline edge", func(t *testing.T) {
		srv := &roomServer{}
		srv.set(0, liveBody)
		_, monitor := srv.start(t)
		monitor.Initialize(ctx)

		srv.set(0, offlineBody)
		change := monitor.DetectChange(ctx)
		require.NotNil(t, change)
		assert.True(t, change.WasLive)
		assert.False(t, change.IsLive)
	})

	t.Run("no change returns nil", func(t *testing.T) {
		srv := &roomServer{}
		srv.set(0, liveBody)
		_, monitor := srv.start(t)
		monitor.Initialize(ctx)

		assert.Nil(t, monitor.DetectChange(ctx))
		assert.True(t, monitor.IsLive())
	})

	t.Run("probe failure returns nil and keeps cache", func(t *testing.T) {
		srv := &roomServer{}
		srv.set(0, liveBody)
		_, monitor := srv.start(t)
		monitor.Initialize(ctx)

		srv.set(http.StatusInternalServerError, "")
		assert.Nil(t, monitor.DetectChange(ctx))
		assert.True(t, monitor.IsLive(), "unknown probe must not flip the cached status")

		// Next successful probe produces the edge.
		srv.set(0, offlineBody)
		change := monitor.DetectChange(ctx)
		require.NotNil(t, change)
		assert.True(t, change.WasLive)
	})

	t.Run("first call without initialize caches silently", func(t *testing.T) {
		srv := &roomServer{}
		srv.set(0, liveBody)
		_, monitor := srv.start(t)

		assert.Nil(t, monitor.DetectChange(ctx))
		assert.True(t, monitor.IsLive())

		srv.set(0, offlineBody)
		change := monitor.DetectChange(ctx)
		require.NotNil(t, change)
		assert.True(t, change.WasLive)
		assert.False(t, change.IsLive)
	})
}

func TestLiveStatus_String(t *testing.T) {
	assert.Equal(t, "live", StatusLive.String())
	assert.Equal(t, "offline", StatusOffline.String())
	assert.Equal(t, "unknown", StatusUnknown.String())
}
