package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tabdeck/internal/workerutil"
)

// writeDeadline bounds a single WebSocket write. A WebView frozen longer
// than this is treated as dead.
const writeDeadline = 5 * time.Second

// readDeadline is extended by every pong; 3 missed pings drop the client.
const readDeadline = 90 * time.Second

const pingInterval = 30 * time.Second

// maxReadMessageSize limits incoming frames. Commands are well under 1 KiB.
const maxReadMessageSize = 32 * 1024

// CheckOrigin is permissive because the server binds to 127.0.0.1 only.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
}

// ErrNoCommandHandler is returned in replies when no handler is installed.
var ErrNoCommandHandler = errors.New("wsserver: no command handler")

// CommandHandler executes a frontend command and returns its reply data.
// It runs on its own goroutine per command.
type CommandHandler func(ctx context.Context, command string, args json.RawMessage) (any, error)

// HubOptions configures the WebSocket server.
type HubOptions struct {
	// Addr is the listen address. "127.0.0.1:0" picks a free port.
	Addr     string
	Commands CommandHandler
}

// Hub serves a single WebSocket client (the shell's WebView). A new
// connection replaces the existing one so page reloads just work.
//
// Lock ordering (never acquire in reverse):
//
//	writeMu -> mu
//
// mu protects the connection and its topic subscriptions. writeMu
// serializes gorilla/websocket writes, which are not concurrency-safe.
//
// Any write failure disconnects the client; it must reconnect.
type Hub struct {
	opts HubOptions

	mu     sync.RWMutex
	conn   *websocket.Conn
	topics map[string]bool

	writeMu sync.Mutex

	ctx      context.Context
	listener net.Listener
	server   *http.Server
	url      string
	commands sync.WaitGroup

	closeOnce sync.Once
}

// NewHub creates a Hub. It does not listen until Start.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	return &Hub{
		opts:   opts,
		topics: make(map[string]bool),
	}
}

// Start listens on the configured address and serves /ws. ctx becomes the
// base context of handlers and commands; the server stops only via Stop.
// Start must be called once, before concurrent use.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("wsserver: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen: %w", err)
	}
	h.listener = ln
	h.ctx = ctx
	h.url = fmt.Sprintf("ws://127.0.0.1:%d/ws", ln.Addr().(*net.TCPAddr).Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("[DEBUG-WS] server error", "error", serveErr)
		}
	}()

	slog.Info("[DEBUG-WS] server started", "url", h.url)
	return nil
}

// Stop shuts the server down, drops the client and waits for in-flight
// commands. Idempotent; a stopped Hub cannot be restarted.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		conn := h.conn
		h.conn = nil
		h.topics = make(map[string]bool)
		h.mu.Unlock()

		if conn != nil {
			h.closeConn(conn, "stop")
		}
		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("wsserver: shutdown: %w", err)
			}
		}
		h.commands.Wait()
		slog.Info("[DEBUG-WS] server stopped")
	})
	return stopErr
}

// URL returns the client URL (e.g. "ws://127.0.0.1:54321/ws"), or "" before
// Start.
func (h *Hub) URL() string {
	return h.url
}

// HasActiveConnection reports whether a client is connected.
func (h *Hub) HasActiveConnection() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// Subscribed reports whether the current client subscribed to topic.
func (h *Hub) Subscribed(topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil && h.topics[topic]
}

// Publish pushes data on topic to the client if it subscribed. It is a
// no-op without a client.
func (h *Hub) Publish(topic string, data any) {
	h.mu.RLock()
	conn := h.conn
	subscribed := h.topics[topic]
	h.mu.RUnlock()

	// The connection may be replaced before the write; clearIfCurrent
	// compares identity so a stale failure never drops the new client.
	if conn == nil || !subscribed {
		return
	}
	frame, err := EncodePush(topic, data)
	if err != nil {
		slog.Warn("[DEBUG-WS] failed to encode push", "topic", topic, "error", err)
		return
	}
	h.write(conn, frame, "publish "+topic)
}

// clearIfCurrent forgets conn if it is still the current client.
// Caller must NOT hold h.mu.
func (h *Hub) clearIfCurrent(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != conn {
		return false
	}
	h.conn = nil
	h.topics = make(map[string]bool)
	return true
}

// closeConn tolerates double close; the read pump, Stop and write failures
// may all close the same connection.
func (h *Hub) closeConn(conn *websocket.Conn, reason string) {
	if err := conn.Close(); err != nil {
		slog.Debug("[DEBUG-WS] connection close", "reason", reason, "error", err)
	}
}

// write sends one text frame, dropping the client on failure.
func (h *Hub) write(conn *websocket.Conn, frame []byte, what string) bool {
	h.writeMu.Lock()
	err := conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, frame)
		if clearErr := conn.SetWriteDeadline(time.Time{}); clearErr != nil {
			slog.Debug("[DEBUG-WS] clear write deadline failed (non-fatal)", "error", clearErr)
		}
	}
	h.writeMu.Unlock()

	if err != nil {
		slog.Warn("[DEBUG-WS] write failed, closing connection", "what", what, "error", err)
		h.clearIfCurrent(conn)
		h.closeConn(conn, "write error")
		return false
	}
	return true
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-WS] upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[DEBUG-WS] SetReadDeadline failed on new connection", "error", err)
		h.closeConn(conn, "initial SetReadDeadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	h.mu.Lock()
	oldConn := h.conn
	h.conn = conn
	h.topics = make(map[string]bool)
	h.mu.Unlock()
	if oldConn != nil {
		h.closeConn(oldConn, "replaced by new connection")
	}
	slog.Info("[DEBUG-WS] client connected", "remoteAddr", conn.RemoteAddr())

	pingDone := make(chan struct{})
	go h.pingLoop(conn, pingDone)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] wsserver handleWS recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		close(pingDone)
		h.clearIfCurrent(conn)
		h.closeConn(conn, "read pump exit")
		slog.Info("[DEBUG-WS] client disconnected")
	}()

	for {
		msgType, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[DEBUG-WS] read error", "error", readErr)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, decodeErr := DecodeClientMessage(raw)
		if decodeErr != nil {
			slog.Debug("[DEBUG-WS] rejected client message", "error", decodeErr)
			h.sendError(conn, decodeErr.Error())
			continue
		}
		switch msg.Action {
		case ActionSubscribe, ActionUnsubscribe:
			h.handleSubscription(conn, msg)
		case ActionCommand:
			h.dispatchCommand(conn, msg)
		}
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] wsserver pingLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			h.clearIfCurrent(conn)
			h.closeConn(conn, "pingLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			pingErr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
			h.writeMu.Unlock()
			if pingErr != nil {
				slog.Debug("[DEBUG-WS] ping failed, connection likely dead", "error", pingErr)
				h.clearIfCurrent(conn)
				h.closeConn(conn, "ping failure")
				return
			}
		}
	}
}

func (h *Hub) handleSubscription(conn *websocket.Conn, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Messages from a replaced connection are stale.
	if h.conn != conn {
		slog.Debug("[DEBUG-WS] subscription from stale connection, skipping")
		return
	}
	for _, topic := range msg.Topics {
		if msg.Action == ActionSubscribe {
			h.topics[topic] = true
		} else {
			delete(h.topics, topic)
		}
	}
	slog.Debug("[DEBUG-WS] subscriptions updated", "action", msg.Action, "topics", msg.Topics)
}

// dispatchCommand runs the command off the read pump so slow tab creation
// does not stall pong handling. Replies go to the connection that asked.
// Holding mu orders the WaitGroup Add before Stop's Wait.
func (h *Hub) dispatchCommand(conn *websocket.Conn, msg ClientMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.conn != conn {
		slog.Debug("[DEBUG-WS] command from stale connection, skipping", "command", msg.Command)
		return
	}
	workerutil.RunOnce("ws-command-"+msg.Command, &h.commands, func() {
		var data any
		err := ErrNoCommandHandler
		if h.opts.Commands != nil {
			data, err = h.opts.Commands(h.ctx, msg.Command, msg.Args)
		}
		frame, encErr := EncodeReply(msg.ID, data, err)
		if encErr != nil {
			slog.Warn("[DEBUG-WS] failed to encode reply", "command", msg.Command, "error", encErr)
			frame, _ = EncodeReply(msg.ID, nil, encErr)
		}
		h.write(conn, frame, "reply "+msg.Command)
	}, func(any) {
		frame, _ := EncodeReply(msg.ID, nil, fmt.Errorf("command %q panicked", msg.Command))
		h.write(conn, frame, "reply "+msg.Command)
	})
}

func (h *Hub) sendError(conn *websocket.Conn, message string) {
	frame, err := encodeError(message)
	if err != nil {
		slog.Debug("[DEBUG-WS] failed to marshal error message", "error", err)
		return
	}
	h.write(conn, frame, "error")
}
