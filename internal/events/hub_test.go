package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scrum/internal/models"
)

func dial(t *testing.T, h *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_BroadcastsEvents(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)

	conn := dial(t, h, "")
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Publish(models.Event{Type: models.EventStoryApproved, ProjectID: "p1", StoryID: "s1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "story.approved", got["type"])
	assert.Equal(t, "s1", got["story_id"])
}

func TestHub_ProjectFilter(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)

	conn := dial(t, h, "?project=p2")
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Publish(models.Event{Type: models.EventStoryChanged, ProjectID: "p1", StoryID: "skip"})
	h.Publish(models.Event{Type: models.EventStoryChanged, ProjectID: "p2", StoryID: "keep"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "keep", got["story_id"])
}

func TestHub_DropsClosedClients(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)

	conn := dial(t, h, "")
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	h := NewHub()
	h.Close()
	h.Close()
	assert.Zero(t, h.Subscribers())
}
