package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/validation"
)

// Live reload endpoints.
const (
	LiveReloadPath       = "/_modserve/livereload"
	LiveReloadScriptPath = "/_modserve/livereload.js"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// ReloadMessage is sent to browsers when a served file changes.
type ReloadMessage struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// ClientGauge tracks the number of connected reload clients.
type ClientGauge interface {
	Set(float64)
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// LiveReloadHub fans reload notifications out to connected browsers.
type LiveReloadHub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex
	origins []string
	logger  logging.Logger
	gauge   ClientGauge
}

// NewLiveReloadHub creates a hub. allowedOrigins lists the origins (or
// host:port values) browsers may connect from. gauge may be nil.
func NewLiveReloadHub(allowedOrigins []string, logger logging.Logger, gauge ClientGauge) *LiveReloadHub {
	if logger == nil {
		logger = logging.Nop()
	}

	return &LiveReloadHub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		origins:    allowedOrigins,
		logger:     logger.WithComponent("livereload"),
		gauge:      gauge,
	}
}

// Run processes hub events until ctx is done.
func (h *LiveReloadHub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.updateGauge()

			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.updateGauge()
			h.logger.Debug(ctx, "Client connected", "clients", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.updateGauge()
			h.logger.Debug(ctx, "Client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// slow client
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a reload notification for every client. It never
// blocks; notifications are dropped while the queue is full.
func (h *LiveReloadHub) Broadcast(path string) {
	data, err := json.Marshal(ReloadMessage{Type: "reload", Path: path})
	if err != nil {
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(context.Background(), nil, "Reload queue full, dropping notification", "path", path)
	}
}

// Clients returns the number of connected clients.
func (h *LiveReloadHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

func (h *LiveReloadHub) updateGauge() {
	if h.gauge != nil {
		h.gauge.Set(float64(h.Clients()))
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *LiveReloadHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := validation.ValidateOrigin(r.Header.Get("Origin"), h.allowedOrigins(r)); err != nil {
		h.logger.Warn(r.Context(), err, "Rejected live reload connection")
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{conn: conn, send: make(chan []byte, 16)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// allowedOrigins always admits the host the page was served from.
func (h *LiveReloadHub) allowedOrigins(r *http.Request) []string {
	return append([]string{r.Host}, h.origins...)
}

// readPump discards client messages and unregisters on close.
func (h *LiveReloadHub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
	for {
		readCtx, cancel := context.WithTimeout(ctx, pongWait)
		_, _, err := c.conn.Read(readCtx)
		cancel()

		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				h.logger.Debug(ctx, "WebSocket read ended", "error", err)
			}
			return
		}
	}
}

func (h *LiveReloadHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(ctx, "WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// liveReloadClient connects to the hub and reloads the page on change.
const liveReloadClient = `(function () {
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  var delay = 500;
  function connect() {
    var ws = new WebSocket(proto + "//" + location.host + "` + LiveReloadPath + `");
    ws.onmessage = function (ev) {
      var msg = JSON.parse(ev.data);
      if (msg.type === "reload") location.reload();
    };
    ws.onopen = function () { delay = 500; };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 10000);
    };
  }
  connect();
})();
`

// LiveReloadScriptHandler serves the browser side of live reload.
func LiveReloadScriptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write([]byte(liveReloadClient))
	})
}

// InjectScript inserts a script tag loading src before the last </body> of
// page, or appends it when the page has no body end tag.
func InjectScript(page []byte, src string) []byte {
	tag := []byte(`<script type="module" src="` + html.EscapeString(src) + `"></script>`)

	insertAt := -1
	offset := 0
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := len(z.Raw())
		if tt == html.EndTagToken {
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Body {
				insertAt = offset
			}
		}
		offset += raw
	}

	if insertAt < 0 {
		insertAt = len(page)
	}

	out := make([]byte, 0, len(page)+len(tag))
	out = append(out, page[:insertAt]...)
	out = append(out, tag...)

	return append(out, page[insertAt:]...)
}
