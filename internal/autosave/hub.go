package autosave

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lexwrite/api/internal/metrics"
)

const (
	FrameUpdate = "update"
	FrameSaved  = "saved"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameBytes  = 8 << 20
	sendBufferSize = 16
)

// Frame is the JSON message exchanged with the editor.
type Frame struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId,omitempty"`
	Title      *string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	docID  string
	editor Editor
	send   chan []byte
}

// Hub tracks the open editor connections per document. Update frames go to
// the debouncer; saved frames come back from it.
type Hub struct {
	debouncer *Debouncer
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

// NewHub wires itself as the debouncer's save callback. checkOrigin may be
// nil to accept any origin.
func NewHub(debouncer *Debouncer, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	h := &Hub{
		debouncer: debouncer,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		rooms: make(map[string]map[*client]struct{}),
	}
	debouncer.OnSaved(h.NotifySaved)
	return h
}

// ServeWS upgrades the request. The caller has already authorised editor
// for docID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, docID string, editor Editor) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		hub:    h,
		conn:   conn,
		docID:  docID,
		editor: editor,
		send:   make(chan []byte, sendBufferSize),
	}
	h.register(c)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.docID]
	if room == nil {
		room = make(map[*client]struct{})
		h.rooms[c.docID] = room
	}
	room[c] = struct{}{}
	metrics.LiveConnections.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.docID]
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.docID)
	}
	metrics.LiveConnections.Dec()
}

// NotifySaved pushes a saved frame to every connection on the document.
func (h *Hub) NotifySaved(documentID string, updatedAt time.Time) {
	payload, err := json.Marshal(Frame{
		Type:       FrameSaved,
		DocumentID: documentID,
		UpdatedAt:  updatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[documentID] {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("editor send buffer full, dropping saved frame",
				zap.String("document_id", documentID),
				zap.String("user_id", c.editor.UserID))
		}
	}
}

// CloseDocument disconnects every editor on the document.
func (h *Hub) CloseDocument(documentID string) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[documentID]))
	for c := range h.rooms[documentID] {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// CloseAll disconnects every editor and waits until their read loops have
// stopped, so no further edits reach the debouncer.
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	var conns []*websocket.Conn
	for _, room := range h.rooms {
		for c := range room {
			conns = append(conns, c.conn)
		}
	}
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		h.mu.Lock()
		open := len(h.rooms)
		h.mu.Unlock()
		if open == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Connections reports how many editors have documentID open.
func (h *Hub) Connections(documentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[documentID])
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("editor connection closed", zap.String("document_id", c.docID), zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.hub.logger.Debug("ignoring malformed editor frame", zap.Error(err))
			continue
		}
		if frame.Type != FrameUpdate {
			continue
		}
		// Document and user come from the authorised connection, never the frame.
		c.hub.debouncer.Schedule(Edit{
			DocumentID: c.docID,
			Editor:     c.editor,
			Title:      frame.Title,
			Content:    frame.Content,
		})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
