package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	defaultDialTimeout = 3 * time.Second
	// Opening a tab may wait on engine startup.
	defaultRWTimeout = 35 * time.Second
	maxResponseBytes = 256 * 1024
)

// ErrServerUnavailable is returned by Send when no shell is listening.
var ErrServerUnavailable = errors.New("ipc: no running shell")

// Send delivers req to the shell at endpoint and waits for its Response.
// An empty endpoint uses DefaultEndpoint.
func Send(ctx context.Context, endpoint string, req Request) (Response, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint()
	}
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	conn, err := dial(dialCtx, endpoint)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(defaultRWTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}

	frame, err := encodeFrame(req)
	if err != nil {
		return Response{}, err
	}
	if _, err := conn.Write(frame); err != nil {
		return Response{}, err
	}

	raw, err := readDelimitedFrame(bufio.NewReaderSize(conn, maxResponseBytes+1), maxResponseBytes)
	if err != nil {
		return Response{}, err
	}
	resp, err := decodeResponse(raw)
	if err != nil {
		return Response{}, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}

// readDelimitedFrame reads one newline-terminated frame. A final frame
// without the newline is accepted at EOF.
func readDelimitedFrame(reader *bufio.Reader, maxBytes int) ([]byte, error) {
	raw, err := reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("frame exceeds %d bytes", maxBytes)
	}
	if errors.Is(err, io.EOF) {
		if len(raw) == 0 {
			return nil, io.EOF
		}
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// IsConnectionError reports whether err means no server was reachable.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServerUnavailable) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "open"
	}
	return false
}
