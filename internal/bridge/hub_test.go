package bridge

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitWithoutClients(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, 0, hub.Emit("device.haptic", gin.H{"pattern": "light"}))
}

func TestEmitSkipsFullClients(t *testing.T) {
	hub := NewHub()
	client, ok := hub.register()
	require.True(t, ok)

	for i := 0; i < clientBuffer; i++ {
		require.Equal(t, 1, hub.Emit("tick", i))
	}
	assert.Equal(t, 0, hub.Emit("tick", "overflow"))

	hub.unregister(client)
	assert.Equal(t, 0, hub.Clients())
}

func TestClosedHubRefusesStreams(t *testing.T) {
	hub := NewHub()
	client, ok := hub.register()
	require.True(t, ok)

	hub.Close()
	_, open := <-client.send
	assert.False(t, open)

	_, ok = hub.register()
	assert.False(t, ok)
	hub.Close()
}

func readEvent(t *testing.T, r *bufio.Reader, name string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) != "event:"+name {
			continue
		}
		data, err := r.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimPrefix(strings.TrimSpace(data), "data:")
	}
}

func TestServeEventsStreamsToShell(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	router := gin.New()
	router.GET("/events", hub.ServeEvents)

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"), resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent(t, reader, "ready")
	require.Equal(t, 1, hub.Clients())

	require.Equal(t, 1, hub.Emit("trip.changed", gin.H{"version": 7}))
	assert.JSONEq(t, `{"version":7}`, readEvent(t, reader, "trip.changed"))

	cancel()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
