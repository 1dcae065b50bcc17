package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treemirror/internal/mirror"
)

func dialEvents(t *testing.T, f fixture, query string, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readChange(t *testing.T, conn *websocket.Conn) changePayload {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var payload changePayload
	require.NoError(t, conn.ReadJSON(&payload))
	return payload
}

func TestEventsStreamChanges(t *testing.T) {
	f := newFixture(t, "")
	conn := dialEvents(t, f, "?kinds=created", nil)

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "fresh.txt"), nil, 0o644))
	payload := readChange(t, conn)
	assert.Equal(t, "change", payload.Type)
	assert.Equal(t, f.root.ID, payload.RootID)
	assert.Equal(t, mirror.ChangeCreated, payload.Kind)
	assert.Equal(t, "fresh.txt", payload.Path)
}

func TestEventsSubscribeMessageNarrowsKinds(t *testing.T) {
	f := newFixture(t, "")
	conn := dialEvents(t, f, "", nil)
	require.NoError(t, conn.WriteJSON(subscribeMessage{Type: "subscribe", Kinds: []string{"deleted"}}))

	path := filepath.Join(f.dir, "probe.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.Eventually(t, func() bool {
		_, ok := f.root.Node.FindDescendant("probe.txt")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, os.Remove(path))

	// A creation may slip through before the server reads the subscribe message.
	payload := readChange(t, conn)
	for payload.Kind != mirror.ChangeDeleted {
		payload = readChange(t, conn)
	}
	assert.Equal(t, mirror.ChangeDeleted, payload.Kind)
}

func TestEventsReplay(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.root.Node.SetFilters([]string{"go"}, nil, nil, true))

	conn := dialEvents(t, f, "?replay=5&kinds=deleted", nil)
	payload := readChange(t, conn)
	assert.Equal(t, mirror.ChangeDeleted, payload.Kind)
	assert.Equal(t, "notes.log", payload.Path)
}

func TestEventsRequireToken(t *testing.T) {
	f := newFixture(t, "secret")
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events"
	_, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, response)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)

	conn := dialEvents(t, f, "?token=secret", nil)
	assert.NotNil(t, conn)
}

func TestChangeFilter(t *testing.T) {
	filter := newChangeFilter("root-a", []string{"created", " "})
	assert.True(t, filter.allows("root-a", mirror.Change{Kind: mirror.ChangeCreated}))
	assert.False(t, filter.allows("root-a", mirror.Change{Kind: mirror.ChangeDeleted}))
	assert.False(t, filter.allows("root-b", mirror.Change{Kind: mirror.ChangeCreated}))

	open := newChangeFilter("", nil)
	assert.True(t, open.allows("any", mirror.Change{Kind: mirror.ChangeRenamed}))
}
