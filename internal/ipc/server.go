package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	defaultConnTimeout          = 35 * time.Second
	maxRequestBytes             = 16 * 1024
	defaultMaxConcurrentClients = 16
	connSlotAcquireTimeout      = 5 * time.Second
	maxConsecutiveAcceptErrors  = 10
)

// Server accepts one request per connection and answers it with the
// Executor's Response.
type Server struct {
	endpoint string
	exec     Executor

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listener  net.Listener
	started   bool
	wg        sync.WaitGroup
	connSlots chan struct{}
}

// NewServer constructs a Server. An empty endpoint uses DefaultEndpoint.
func NewServer(endpoint string, exec Executor) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if endpoint == "" {
		endpoint = DefaultEndpoint()
	}
	return &Server{
		endpoint:  endpoint,
		exec:      exec,
		ctx:       ctx,
		cancel:    cancel,
		connSlots: make(chan struct{}, defaultMaxConcurrentClients),
	}
}

// Endpoint returns the listen address.
func (s *Server) Endpoint() string {
	return s.endpoint
}

// Start begins listening.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("ipc server already started")
	}
	if s.exec == nil {
		return errors.New("ipc server requires an executor")
	}
	listener, err := listen(s.endpoint)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.endpoint, err)
	}
	s.listener = listener
	s.started = true
	s.wg.Go(s.acceptLoop)
	slog.Info("[DEBUG-IPC] server listening", "endpoint", s.endpoint)
	return nil
}

// Stop closes the listener and waits for in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			slog.Warn("[DEBUG-IPC] failed to close listener during shutdown", "error", err)
		}
	}
	s.wg.Wait()
	cleanupEndpoint(s.endpoint)
	return nil
}

func (s *Server) acceptLoop() {
	consecutiveErrors := 0
	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			consecutiveErrors++
			if consecutiveErrors > maxConsecutiveAcceptErrors {
				slog.Warn("[DEBUG-IPC] accept loop: repeated failures", "error", err, "count", consecutiveErrors)
				time.Sleep(500 * time.Millisecond)
			} else {
				slog.Debug("[DEBUG-IPC] accept error", "error", err)
			}
			continue
		}
		consecutiveErrors = 0

		if !s.acquireConnectionSlot() {
			s.writeResponse(conn, Response{Error: "server busy, try again later"})
			if closeErr := conn.Close(); closeErr != nil {
				slog.Debug("[DEBUG-IPC] failed to close rejected connection", "error", closeErr)
			}
			continue
		}
		s.wg.Go(func() {
			defer s.releaseConnectionSlot()
			s.handleConnection(conn)
		})
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		slog.Warn("[DEBUG-IPC] failed to set connection deadline", "error", err)
		return
	}

	raw, err := readDelimitedFrame(bufio.NewReaderSize(conn, maxRequestBytes+1), maxRequestBytes)
	if errors.Is(err, io.EOF) {
		slog.Debug("[DEBUG-IPC] client disconnected without sending data")
		return
	}
	if err != nil {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	req, err := decodeRequest(raw)
	if err != nil {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	slog.Debug("[DEBUG-IPC] request received", "command", req.Command, "tabID", req.TabID)
	s.writeResponse(conn, s.exec.Execute(req))
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	frame, err := encodeFrame(resp)
	if err != nil {
		slog.Warn("[DEBUG-IPC] failed to encode response", "error", err)
		frame = []byte(`{"ok":false,"error":"internal encode error"}` + "\n")
	}
	if _, err := conn.Write(frame); err != nil {
		slog.Debug("[DEBUG-IPC] failed to write response", "error", err)
	}
}

func (s *Server) acquireConnectionSlot() bool {
	timer := time.NewTimer(connSlotAcquireTimeout)
	defer timer.Stop()
	select {
	case s.connSlots <- struct{}{}:
		return true
	case <-timer.C:
		slog.Warn("[DEBUG-IPC] connection slots exhausted, rejecting client")
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) releaseConnectionSlot() {
	select {
	case <-s.connSlots:
	default:
		slog.Warn("[DEBUG-IPC] releaseConnectionSlot: no slot to release (possible double-release)")
	}
}
