// Package server exposes HTTP handlers: the WebSocket upgrade endpoint and
// the static page.
package server

import (
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
)

// pageErrorBody is the fixed response body when the static page cannot be read.
const pageErrorBody = "Error loading page"

// Upgrades are accepted from any origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketHandler upgrades the request to a WebSocket, admits the new
// connection to hub and starts its read/write pumps. A failed handshake is
// answered by the upgrader itself.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Debug("WebSocket upgrade failed", "addr", r.RemoteAddr, "err", err)
			return
		}

		c := NewConnection(conn, hub, r.RemoteAddr)
		if err := hub.serve(c); err != nil {
			hub.log.Warn("Rejected connection", "addr", r.RemoteAddr, "err", err)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			_ = conn.Close()
		}
	}
}

// PageHandler serves a single HTML document from disk. The file is read on
// every request so edits show up without a restart.
type PageHandler struct {
	mu   sync.RWMutex
	path string
	log  *slog.Logger
}

// NewPageHandler returns a handler for the document at path.
func NewPageHandler(path string, logger *slog.Logger) *PageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageHandler{path: path, log: logger}
}

// Path returns the document currently served.
func (p *PageHandler) Path() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.path
}

// SetPath switches the handler to a different document.
func (p *PageHandler) SetPath(path string) {
	p.mu.Lock()
	p.path = path
	p.mu.Unlock()
}

// ServeHTTP responds with the document as text/html, or with 500 and a fixed
// body when it cannot be read.
func (p *PageHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	path := p.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		p.log.Error("Error loading page", "path", path, "err", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(pageErrorBody))
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		p.log.Debug("Error writing page response", "err", err)
	}
}
