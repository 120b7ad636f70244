package autosave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	var frame Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "failed to read frame")
	require.NoError(t, json.Unmarshal(p, &frame))
	return frame
}

func TestHubSchedulesUpdatesAndBroadcastsSaved(t *testing.T) {
	saver := &recordingSaver{}
	d := NewDebouncer(saver, 30*time.Millisecond, nil)
	hub := NewHub(d, nil, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "doc-1", Editor{UserID: r.URL.Query().Get("user"), Email: "ada@example.com"})
	}))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	writer, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=u1", nil)
	require.NoError(t, err)
	defer writer.Close()
	watcher, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=u1", nil)
	require.NoError(t, err)
	defer watcher.Close()

	require.Eventually(t, func() bool { return hub.Connections("doc-1") == 2 }, time.Second, 5*time.Millisecond)

	title := "Essay"
	for _, content := range []string{"<p>a</p>", "<p>ab</p>"} {
		msg, _ := json.Marshal(Frame{Type: FrameUpdate, DocumentID: "spoofed", Title: &title, Content: content})
		require.NoError(t, writer.WriteMessage(websocket.TextMessage, msg))
	}

	for _, conn := range []*websocket.Conn{writer, watcher} {
		frame := readFrame(t, conn)
		assert.Equal(t, FrameSaved, frame.Type)
		assert.Equal(t, "doc-1", frame.DocumentID)
		assert.NotEmpty(t, frame.UpdatedAt)
	}

	saves := saver.all()
	require.Len(t, saves, 1)
	assert.Equal(t, "doc-1", saves[0].DocumentID)
	assert.Equal(t, Editor{UserID: "u1", Email: "ada@example.com"}, saves[0].Editor)
	assert.Equal(t, "<p>ab</p>", saves[0].Content)
	require.NotNil(t, saves[0].Title)
	assert.Equal(t, "Essay", *saves[0].Title)
}

func TestHubCloseDocumentDisconnects(t *testing.T) {
	d := NewDebouncer(&recordingSaver{}, time.Second, nil)
	hub := NewHub(d, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "doc-2", Editor{UserID: "u1"})
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Connections("doc-2") == 1 }, time.Second, 5*time.Millisecond)

	hub.CloseDocument("doc-2")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.Connections("doc-2") == 0 }, time.Second, 5*time.Millisecond)
}

func dialHub(t *testing.T, hub *Hub, docID string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, docID, Editor{UserID: "u1"})
	}))
	t.Cleanup(server.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return hub.Connections(docID) == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestContentOnlyFrameLeavesTitleUnset(t *testing.T) {
	saver := &recordingSaver{}
	d := NewDebouncer(saver, 20*time.Millisecond, nil)
	hub := NewHub(d, nil, nil)
	conn := dialHub(t, hub, "doc-3")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"update","content":"<p>ab</p>"}`)))
	assert.Equal(t, FrameSaved, readFrame(t, conn).Type)

	saves := saver.all()
	require.Len(t, saves, 1)
	assert.Nil(t, saves[0].Title)
	assert.Equal(t, "<p>ab</p>", saves[0].Content)
}

func TestCloseAllStopsEditsBeforeFlush(t *testing.T) {
	saver := &recordingSaver{}
	d := NewDebouncer(saver, time.Hour, nil)
	hub := NewHub(d, nil, nil)
	conn := dialHub(t, hub, "doc-4")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"update","content":"<p>last</p>"}`)))
	require.Eventually(t, func() bool { return d.Pending("doc-4") }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.CloseAll(ctx))
	assert.Zero(t, hub.Connections("doc-4"))

	d.Flush(context.Background())
	saves := saver.all()
	require.Len(t, saves, 1)
	assert.Equal(t, "<p>last</p>", saves[0].Content)
}
